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
	"iter"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/ziya-ai/ziya/pkg/logger"
)

const (
	// DefaultMaxRetries bounds throttling retries. Config clamps to 3-4.
	DefaultMaxRetries = 4

	// DefaultBaseDelay seeds the exponential backoff.
	DefaultBaseDelay = 1 * time.Second

	// backoffFloor is added to every backoff sleep so even the first
	// retry gives a throttled backend room to recover.
	backoffFloor = 4 * time.Second

	// maxJitter bounds the uniform jitter added to each sleep.
	maxJitter = 250 * time.Millisecond
)

// Sleeper waits for d or until ctx is done. Injected so tests can observe
// sleeps instead of taking them.
type Sleeper func(ctx context.Context, d time.Duration) error

func defaultSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Retrier decorates a driver with backoff retries, parameter filtering,
// and the one-shot extended-context re-issue. It implements LLM.
//
// Request.Params passed to a Retrier is the raw caller bag; the retrier
// filters it against the descriptor on every attempt before the driver
// sees it.
type Retrier struct {
	driver     LLM
	desc       *Descriptor
	maxRetries int
	baseDelay  time.Duration
	sleep      Sleeper
	jitter     func() time.Duration
	log        *slog.Logger
}

var _ LLM = (*Retrier)(nil)

// RetryOption customizes a Retrier.
type RetryOption func(*Retrier)

func WithMaxRetries(n int) RetryOption {
	return func(r *Retrier) { r.maxRetries = n }
}

func WithBaseDelay(d time.Duration) RetryOption {
	return func(r *Retrier) { r.baseDelay = d }
}

func WithSleeper(s Sleeper) RetryOption {
	return func(r *Retrier) { r.sleep = s }
}

// WithJitter overrides the jitter source. Tests pass a zero function.
func WithJitter(f func() time.Duration) RetryOption {
	return func(r *Retrier) { r.jitter = f }
}

// NewRetrier wraps a driver.
func NewRetrier(driver LLM, desc *Descriptor, opts ...RetryOption) *Retrier {
	r := &Retrier{
		driver:     driver,
		desc:       desc,
		maxRetries: DefaultMaxRetries,
		baseDelay:  DefaultBaseDelay,
		sleep:      defaultSleep,
		jitter:     func() time.Duration { return rand.N(maxJitter) },
		log:        logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Retrier) Name() string   { return r.driver.Name() }
func (r *Retrier) Family() Family { return r.driver.Family() }
func (r *Retrier) Close() error   { return r.driver.Close() }

// Descriptor returns the descriptor the retrier filters against.
func (r *Retrier) Descriptor() *Descriptor { return r.desc }

func (r *Retrier) backoff(attempt int) time.Duration {
	return r.baseDelay*(1<<attempt) + backoffFloor + r.jitter()
}

// prepare builds the per-attempt request: cloned, parameters filtered.
func (r *Retrier) prepare(req *Request, extended bool) *Request {
	attempt := req.Clone()
	attempt.Params = FilterParams(req.Params, r.desc)
	attempt.ExtendedContext = extended
	return attempt
}

// Invoke runs the non-streaming call under the retry policy.
func (r *Retrier) Invoke(ctx context.Context, req *Request) (*Message, error) {
	extended := req.ExtendedContext
	attempt := 0
	for {
		msg, err := r.driver.Invoke(ctx, r.prepare(req, extended))
		if err == nil {
			return msg, nil
		}
		next, retryErr := r.nextAttempt(ctx, Classify(err), attempt, &extended)
		if retryErr != nil {
			return nil, retryErr
		}
		attempt = next
	}
}

// Stream runs the streaming call under the retry policy. Attempts are
// retryable only until the first chunk has been yielded; once content has
// flowed, failures surface to the caller, which preserves partials.
func (r *Retrier) Stream(ctx context.Context, req *Request) iter.Seq2[*Chunk, error] {
	return func(yield func(*Chunk, error) bool) {
		extended := req.ExtendedContext
		attempt := 0
		for {
			delivered := false
			var failure *Error
			for chunk, err := range r.driver.Stream(ctx, r.prepare(req, extended)) {
				if err != nil {
					failure = Classify(err)
					break
				}
				delivered = true
				if !yield(chunk, nil) {
					return
				}
			}
			if failure == nil {
				return
			}
			if delivered {
				// Content already reached the caller; no silent retry.
				yield(nil, failure)
				return
			}
			next, retryErr := r.nextAttempt(ctx, failure, attempt, &extended)
			if retryErr != nil {
				yield(nil, retryErr)
				return
			}
			attempt = next
		}
	}
}

// nextAttempt decides whether a classified failure earns another attempt.
// It returns the next attempt counter, or the terminal error.
func (r *Retrier) nextAttempt(ctx context.Context, failure *Error, attempt int, extended *bool) (int, error) {
	switch {
	case failure.Kind.Retryable():
		if attempt >= r.maxRetries {
			out := *failure
			out.Kind = PublicKind(failure.Kind)
			out.Status = out.Kind.Status()
			out.Exhausted = true
			return 0, &out
		}
		delay := r.backoff(attempt)
		if failure.RetryAfter > delay {
			delay = failure.RetryAfter
		}
		r.log.Warn("model call throttled, backing off",
			"model", r.driver.Name(), "attempt", attempt+1, "delay", delay)
		if err := r.sleep(ctx, delay); err != nil {
			return 0, Classify(err)
		}
		return attempt + 1, nil

	case failure.Kind == KindContextSize && r.desc.SupportsExtendedContext() && !*extended:
		// One re-issue with the larger window; a second failure is final.
		r.log.Info("context limit hit, retrying with extended context",
			"model", r.driver.Name(), "header", r.desc.ExtendedContextHeader)
		*extended = true
		return attempt, nil

	default:
		return 0, failure
	}
}
