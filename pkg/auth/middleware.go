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

package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ziya-ai/ziya/pkg/config"
)

type contextKey string

const claimsContextKey contextKey = "claims"

// ClaimsFromContext returns the validated claims of the request, or nil
// when the request was not authenticated.
func ClaimsFromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(claimsContextKey).(*Claims)
	return claims
}

// Middleware returns the bearer-token check configured by cfg. Excluded
// paths always pass; when auth is optional, requests without a token pass
// through with no claims attached.
func Middleware(v *Validator, cfg *config.AuthConfig) func(http.Handler) http.Handler {
	excluded := make(map[string]bool, len(cfg.ExcludedPaths))
	for _, p := range cfg.ExcludedPaths {
		excluded[p] = true
	}
	required := cfg.IsRequireAuth()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if excluded[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			if header == "" {
				if required {
					writeAuthError(w, "missing Authorization header")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			token := strings.TrimPrefix(header, "Bearer ")
			if token == header {
				writeAuthError(w, "invalid Authorization format, expected: Bearer <token>")
				return
			}

			claims, err := v.Validate(r.Context(), token)
			if err != nil {
				writeAuthError(w, err.Error())
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// writeAuthError emits the envelope shape the rest of the API uses.
func writeAuthError(w http.ResponseWriter, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":       "auth_error",
		"detail":      detail,
		"status_code": http.StatusUnauthorized,
	})
}
