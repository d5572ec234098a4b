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
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ziya-ai/ziya/pkg/config"
)

type authFixture struct {
	validator *Validator
	cfg       *config.AuthConfig
	key       *rsa.PrivateKey
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	public, err := jwk.FromRaw(&key.PublicKey)
	require.NoError(t, err)
	require.NoError(t, public.Set(jwk.KeyIDKey, "test-key"))
	require.NoError(t, public.Set(jwk.AlgorithmKey, jwa.RS256))
	keyset := jwk.NewSet()
	require.NoError(t, keyset.AddKey(public))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(keyset)
	}))
	t.Cleanup(server.Close)

	cfg := &config.AuthConfig{
		Enabled:  true,
		JWKSURL:  server.URL,
		Issuer:   "https://issuer.test",
		Audience: "ziya-api",
	}
	cfg.SetDefaults()

	validator, err := NewValidator(context.Background(), cfg)
	require.NoError(t, err)

	return &authFixture{validator: validator, cfg: cfg, key: key}
}

func (f *authFixture) sign(t *testing.T, mutate func(jwt.Token)) string {
	t.Helper()

	token := jwt.New()
	require.NoError(t, token.Set(jwt.IssuerKey, f.cfg.Issuer))
	require.NoError(t, token.Set(jwt.AudienceKey, f.cfg.Audience))
	require.NoError(t, token.Set(jwt.SubjectKey, "user-1"))
	require.NoError(t, token.Set(jwt.IssuedAtKey, time.Now()))
	require.NoError(t, token.Set(jwt.ExpirationKey, time.Now().Add(time.Hour)))
	if mutate != nil {
		mutate(token)
	}

	signKey, err := jwk.FromRaw(f.key)
	require.NoError(t, err)
	require.NoError(t, signKey.Set(jwk.KeyIDKey, "test-key"))

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.RS256, signKey))
	require.NoError(t, err)
	return string(signed)
}

func TestValidateToken(t *testing.T) {
	f := newAuthFixture(t)
	token := f.sign(t, func(tok jwt.Token) {
		_ = tok.Set("email", "dev@example.com")
		_ = tok.Set("team", "platform")
	})

	claims, err := f.validator.Validate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "dev@example.com", claims.Email)
	assert.Equal(t, "platform", claims.Custom["team"])
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	f := newAuthFixture(t)
	token := f.sign(t, func(tok jwt.Token) {
		_ = tok.Set(jwt.ExpirationKey, time.Now().Add(-time.Hour))
	})

	_, err := f.validator.Validate(context.Background(), token)
	assert.Error(t, err)
}

func TestValidateTokenRejectsWrongAudience(t *testing.T) {
	f := newAuthFixture(t)
	token := f.sign(t, func(tok jwt.Token) {
		_ = tok.Set(jwt.AudienceKey, "someone-else")
	})

	_, err := f.validator.Validate(context.Background(), token)
	assert.Error(t, err)
}

func TestMiddlewareRequiresToken(t *testing.T) {
	f := newAuthFixture(t)
	handler := Middleware(f.validator, f.cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "auth_error", body["error"])
}

func TestMiddlewarePassesValidToken(t *testing.T) {
	f := newAuthFixture(t)
	var seen *Claims
	handler := Middleware(f.validator, f.cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
	req.Header.Set("Authorization", "Bearer "+f.sign(t, nil))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "user-1", seen.Subject)
}

func TestMiddlewareExcludedPath(t *testing.T) {
	f := newAuthFixture(t)
	handler := Middleware(f.validator, f.cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddlewareOptionalAuth(t *testing.T) {
	f := newAuthFixture(t)
	f.cfg.RequireAuth = config.BoolPtr(false)
	handler := Middleware(f.validator, f.cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Nil(t, ClaimsFromContext(r.Context()))
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
