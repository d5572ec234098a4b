// Copyright 2025 Ziya Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/smithy-go"

	"github.com/ziya-ai/ziya/pkg/httpclient"
)

// Kind is the stable error tag of the closed taxonomy. Kinds map 1:1 onto
// the HTTP status and `error` field of the SSE error envelope.
type Kind string

const (
	KindValidation   Kind = "validation_error"
	KindAuth         Kind = "auth_error"
	KindAccessDenied Kind = "access_denied"
	KindThrottling   Kind = "throttling_error"
	KindQuota        Kind = "quota_exceeded"
	KindContextSize  Kind = "context_size_error"
	KindNotFound     Kind = "model_not_found"
	KindServer       Kind = "server_error"

	// kindTransientStream is internal: a stream that broke before any
	// content flowed. Retried like throttling, surfaced as server_error
	// when attempts run out.
	kindTransientStream Kind = "transient_stream"
)

// Status returns the HTTP status code for a kind.
func (k Kind) Status() int {
	switch k {
	case KindValidation:
		return 400
	case KindAuth:
		return 401
	case KindAccessDenied:
		return 403
	case KindThrottling, KindQuota:
		return 429
	case KindContextSize:
		return 413
	case KindNotFound:
		return 404
	default:
		return 500
	}
}

// Retryable reports whether the retry wrapper may re-attempt on this kind.
func (k Kind) Retryable() bool {
	return k == KindThrottling || k == kindTransientStream
}

// Error is a classified provider failure.
type Error struct {
	Kind    Kind
	Status  int
	Message string

	// RetryAfter is a provider-suggested wait, when one was reported.
	RetryAfter time.Duration

	// Exhausted marks a retryable error whose retry budget ran out.
	Exhausted bool

	Err error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match on kind: errors.Is(err, &model.Error{Kind: KindAuth}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// NewError builds a classified error with the kind's default status.
func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Status: kind.Status(), Message: fmt.Sprintf(format, args...)}
}

// ProviderError carries a raw backend failure out of a driver so that
// Classify sees a reliable status code alongside the provider's text.
type ProviderError struct {
	Provider string
	Status   int
	Raw      string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s returned %d: %s", e.Provider, e.Status, e.Raw)
}

// Substring table over provider error text. First match wins; order is
// therefore significant (e.g. "too many requests" before generic "request").
var substringKinds = []struct {
	needle string
	kind   Kind
}{
	{"prompt is too long", KindContextSize},
	{"input is too long", KindContextSize},
	{"context length", KindContextSize},
	{"context window", KindContextSize},
	{"maximum context", KindContextSize},
	{"too many tokens", KindContextSize},
	{"input length and `max_tokens` exceed", KindContextSize},
	{"throttl", KindThrottling},
	{"too many requests", KindThrottling},
	{"rate limit", KindThrottling},
	{"rate_limit", KindThrottling},
	{"overloaded", KindThrottling},
	{"slow down", KindThrottling},
	{"service quota", KindQuota},
	{"quota exceeded", KindQuota},
	{"insufficient_quota", KindQuota},
	{"monthly limit", KindQuota},
	{"expiredtoken", KindAuth},
	{"token has expired", KindAuth},
	{"credentials", KindAuth},
	{"api key", KindAuth},
	{"api_key", KindAuth},
	{"unauthorized", KindAuth},
	{"authentication", KindAuth},
	{"access denied", KindAccessDenied},
	{"accessdenied", KindAccessDenied},
	{"forbidden", KindAccessDenied},
	{"not authorized to", KindAccessDenied},
	{"model not found", KindNotFound},
	{"model identifier is invalid", KindNotFound},
	{"resourcenotfound", KindNotFound},
	{"does not exist", KindNotFound},
	{"validationexception", KindValidation},
	{"invalid request", KindValidation},
	{"invalid_request", KindValidation},
	{"malformed", KindValidation},
}

// AWS smithy error codes that the substring table cannot see reliably.
var smithyKinds = map[string]Kind{
	"ThrottlingException":           KindThrottling,
	"TooManyRequestsException":      KindThrottling,
	"ServiceQuotaExceededException": KindQuota,
	"ExpiredTokenException":         KindAuth,
	"UnrecognizedClientException":   KindAuth,
	"AccessDeniedException":         KindAccessDenied,
	"ResourceNotFoundException":     KindNotFound,
	"ValidationException":           KindValidation,
	"ModelTimeoutException":         kindTransientStream,
	"ModelStreamErrorException":     kindTransientStream,
	"InternalServerException":       KindServer,
	"ServiceUnavailableException":   kindTransientStream,
}

// Classify maps any failure onto the closed taxonomy. Already-classified
// errors pass through unchanged. Context cancellation is never reclassified.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindServer, Status: 500, Message: "request cancelled", Err: err}
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if kind, ok := smithyKinds[apiErr.ErrorCode()]; ok {
			return &Error{Kind: kind, Status: kind.Status(), Message: apiErr.ErrorMessage(), Err: err}
		}
	}

	status := 0
	retryAfter := time.Duration(0)
	var retryable *httpclient.RetryableError
	if errors.As(err, &retryable) {
		status = retryable.StatusCode
		retryAfter = retryable.RetryAfter
	}
	var provider *ProviderError
	if errors.As(err, &provider) {
		status = provider.Status
	}

	text := strings.ToLower(err.Error())
	for _, entry := range substringKinds {
		if strings.Contains(text, entry.needle) {
			e := &Error{Kind: entry.kind, Status: entry.kind.Status(), Message: err.Error(), Err: err}
			if entry.kind == KindThrottling {
				e.RetryAfter = retryAfter
			}
			return e
		}
	}

	if kind, ok := statusKind(status); ok {
		e := &Error{Kind: kind, Status: status, Message: err.Error(), Err: err}
		if kind == KindThrottling {
			e.RetryAfter = retryAfter
		}
		return e
	}

	return &Error{Kind: KindServer, Status: 500, Message: err.Error(), Err: err}
}

func statusKind(status int) (Kind, bool) {
	switch status {
	case 400:
		return KindValidation, true
	case 401:
		return KindAuth, true
	case 403:
		return KindAccessDenied, true
	case 404:
		return KindNotFound, true
	case 413:
		return KindContextSize, true
	case 429:
		return KindThrottling, true
	case 500, 502, 503, 504:
		return kindTransientStream, true
	}
	return "", false
}

// PublicKind maps internal kinds onto what clients may see.
func PublicKind(k Kind) Kind {
	if k == kindTransientStream {
		return KindServer
	}
	return k
}
