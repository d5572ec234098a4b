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

// Package auth validates JWT bearer tokens against a provider's JWKS
// endpoint. It is optional: the server only mounts the middleware when
// auth is enabled in the config.
package auth

import (
	"context"
	"fmt"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/ziya-ai/ziya/pkg/config"
)

// Claims are the token claims the server cares about.
type Claims struct {
	Subject string
	Email   string

	// Custom holds every non-standard claim.
	Custom map[string]any
}

// Validator checks bearer tokens against a cached, auto-refreshed JWKS.
type Validator struct {
	jwksURL  string
	issuer   string
	audience string
	cache    *jwk.Cache
}

// NewValidator fetches the JWKS once to fail fast on misconfiguration,
// then keeps it refreshed at the configured interval to survive key
// rotation.
func NewValidator(ctx context.Context, cfg *config.AuthConfig) (*Validator, error) {
	cache := jwk.NewCache(ctx)
	if err := cache.Register(cfg.JWKSURL, jwk.WithMinRefreshInterval(cfg.RefreshInterval)); err != nil {
		return nil, fmt.Errorf("register jwks url: %w", err)
	}
	if _, err := cache.Refresh(ctx, cfg.JWKSURL); err != nil {
		return nil, fmt.Errorf("fetch jwks from %s: %w", cfg.JWKSURL, err)
	}
	return &Validator{
		jwksURL:  cfg.JWKSURL,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		cache:    cache,
	}, nil
}

// Validate verifies signature, expiry, issuer, and audience, and returns
// the extracted claims.
func (v *Validator) Validate(ctx context.Context, tokenString string) (*Claims, error) {
	keyset, err := v.cache.Get(ctx, v.jwksURL)
	if err != nil {
		return nil, fmt.Errorf("get jwks: %w", err)
	}

	token, err := jwt.Parse(
		[]byte(tokenString),
		jwt.WithKeySet(keyset),
		jwt.WithValidate(true),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims := &Claims{
		Subject: token.Subject(),
		Custom:  make(map[string]any),
	}
	if email, ok := token.Get("email"); ok {
		if s, ok := email.(string); ok {
			claims.Email = s
		}
	}
	standard := map[string]bool{
		"sub": true, "email": true, "iss": true, "aud": true,
		"exp": true, "iat": true, "nbf": true, "jti": true,
	}
	for it := token.Iterate(ctx); it.Next(ctx); {
		pair := it.Pair()
		key, ok := pair.Key.(string)
		if !ok || standard[key] {
			continue
		}
		claims.Custom[key] = pair.Value
	}
	return claims, nil
}
