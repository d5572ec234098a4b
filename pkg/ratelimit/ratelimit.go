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

// Package ratelimit enforces per-conversation request and token budgets
// over fixed time windows. A breach answers 429 with the same envelope
// shape the streaming path uses, including retry_after.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ziya-ai/ziya/pkg/config"
)

// Window is a fixed rate-limit accounting period.
type Window string

const (
	WindowMinute Window = "minute"
	WindowHour   Window = "hour"
	WindowDay    Window = "day"
	WindowWeek   Window = "week"
	WindowMonth  Window = "month"
)

// Duration returns the window length. Months are approximated at 30 days.
func (w Window) Duration() time.Duration {
	switch w {
	case WindowMinute:
		return time.Minute
	case WindowHour:
		return time.Hour
	case WindowDay:
		return 24 * time.Hour
	case WindowWeek:
		return 7 * 24 * time.Hour
	case WindowMonth:
		return 30 * 24 * time.Hour
	default:
		return time.Hour
	}
}

// LimitType selects what a rule counts.
type LimitType string

const (
	LimitTypeToken LimitType = "token"
	LimitTypeCount LimitType = "count"
)

// Key identifies one usage bucket.
type Key struct {
	Scope      string
	Identifier string
	Type       LimitType
	Window     Window
}

// Store persists usage buckets. Implementations reset a bucket whose
// window has passed before applying the increment.
type Store interface {
	// Usage returns the current count and window end for a key. A key
	// never seen returns (0, zero time, nil).
	Usage(ctx context.Context, key Key) (int64, time.Time, error)

	// Increment adds amount to the key's bucket, starting a fresh window
	// of the key's length when the stored one has expired, and returns
	// the new count and window end.
	Increment(ctx context.Context, key Key, amount int64) (int64, time.Time, error)

	// Reset drops all buckets for an identifier.
	Reset(ctx context.Context, scope, identifier string) error

	Close() error
}

// Decision is the outcome of a limit check.
type Decision struct {
	Allowed    bool
	Reason     string
	RetryAfter time.Duration
}

// Limiter applies the configured rules on top of a Store.
type Limiter struct {
	cfg   *config.RateLimitConfig
	store Store

	// mu makes check-then-record atomic across concurrent requests.
	mu sync.Mutex
}

// NewLimiter validates the config and binds it to a store.
func NewLimiter(cfg *config.RateLimitConfig, store Store) (*Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rate limit config: %w", err)
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	return &Limiter{cfg: cfg, store: store}, nil
}

// NewStore builds the store selected by the config, resolving a SQL
// backend through the shared pool.
func NewStore(cfg *config.Config, pool *config.DBPool) (Store, error) {
	rl := cfg.Server.RateLimit
	if rl == nil || rl.Backend != "sql" {
		return NewMemoryStore(), nil
	}
	dbCfg, ok := cfg.GetDatabase(rl.SQLDatabase)
	if !ok {
		return nil, fmt.Errorf("rate_limit: database %q not configured", rl.SQLDatabase)
	}
	db, err := pool.Get(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("rate_limit: %w", err)
	}
	return NewSQLStore(db, dbCfg.Dialect())
}

// Allow checks every rule and, when all pass, records one request plus
// the given token usage. A denied request records nothing.
func (l *Limiter) Allow(ctx context.Context, identifier string, tokens int64) (*Decision, error) {
	if !l.cfg.IsEnabled() {
		return &Decision{Allowed: true}, nil
	}
	if identifier == "" {
		return nil, fmt.Errorf("identifier is required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for _, rule := range l.cfg.Limits {
		key := l.key(identifier, rule)
		current, windowEnd, err := l.store.Usage(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("rate limit usage %s/%s: %w", rule.Type, rule.Window, err)
		}
		if windowEnd.Before(now) {
			current = 0
		}
		if current >= rule.Limit {
			retry := time.Until(windowEnd)
			if retry < 0 {
				retry = 0
			}
			return &Decision{
				Allowed: false,
				Reason: fmt.Sprintf("%s limit exceeded for %s window (%d/%d)",
					rule.Type, rule.Window, current, rule.Limit),
				RetryAfter: retry,
			}, nil
		}
	}

	for _, rule := range l.cfg.Limits {
		amount := int64(1)
		if LimitType(rule.Type) == LimitTypeToken {
			amount = tokens
		}
		if amount <= 0 {
			continue
		}
		if _, _, err := l.store.Increment(ctx, l.key(identifier, rule), amount); err != nil {
			return nil, fmt.Errorf("rate limit record %s/%s: %w", rule.Type, rule.Window, err)
		}
	}
	return &Decision{Allowed: true}, nil
}

// RecordTokens adds token usage observed after the request was admitted,
// e.g. from the provider's usage report at message stop.
func (l *Limiter) RecordTokens(ctx context.Context, identifier string, tokens int64) error {
	if !l.cfg.IsEnabled() || tokens <= 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, rule := range l.cfg.Limits {
		if LimitType(rule.Type) != LimitTypeToken {
			continue
		}
		if _, _, err := l.store.Increment(ctx, l.key(identifier, rule), tokens); err != nil {
			return fmt.Errorf("rate limit record tokens: %w", err)
		}
	}
	return nil
}

// Reset drops all usage for an identifier.
func (l *Limiter) Reset(ctx context.Context, identifier string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.Reset(ctx, l.cfg.Scope, identifier)
}

func (l *Limiter) key(identifier string, rule config.RateLimitRule) Key {
	return Key{
		Scope:      l.cfg.Scope,
		Identifier: identifier,
		Type:       LimitType(rule.Type),
		Window:     Window(rule.Window),
	}
}
