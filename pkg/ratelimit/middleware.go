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

package ratelimit

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
)

// maxPeekBytes caps how much request body the middleware reads to find
// the conversation id.
const maxPeekBytes = 1 << 20

// conversationPeek is the subset of the chat request the limiter keys on.
type conversationPeek struct {
	ConversationID string `json:"conversation_id"`
}

// Middleware admits or rejects requests per conversation before they
// reach the chat handler. The body is re-attached for the handler.
// Requests without a parseable conversation id fall back to the remote
// address, so anonymous clients still share a bucket.
func Middleware(l *Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost || r.Body == nil {
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxPeekBytes))
			if err != nil {
				http.Error(w, "failed to read request body", http.StatusBadRequest)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			var peek conversationPeek
			_ = json.Unmarshal(body, &peek)
			identifier := peek.ConversationID
			if identifier == "" {
				identifier = r.RemoteAddr
			}

			decision, err := l.Allow(r.Context(), identifier, 0)
			if err != nil {
				// A broken limiter must not take the API down.
				next.ServeHTTP(w, r)
				return
			}
			if !decision.Allowed {
				writeLimitError(w, decision)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// writeLimitError emits the 429 envelope with retry_after in seconds.
func writeLimitError(w http.ResponseWriter, decision *Decision) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	payload := map[string]any{
		"error":       "throttling_error",
		"detail":      decision.Reason,
		"status_code": http.StatusTooManyRequests,
	}
	if decision.RetryAfter > 0 {
		payload["retry_after"] = int(decision.RetryAfter.Seconds())
	}
	_ = json.NewEncoder(w).Encode(payload)
}
