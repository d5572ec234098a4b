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
	"context"
	"database/sql"
	"fmt"
	"time"
)

// sqlStore persists usage buckets so limits survive server restarts and
// apply across replicas sharing a database.
type sqlStore struct {
	db      *sql.DB
	dialect string
}

// NewSQLStore wraps an open database handle.
func NewSQLStore(db *sql.DB, dialect string) (Store, error) {
	s := &sqlStore{db: db, dialect: dialect}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("rate limit store migration: %w", err)
	}
	return s, nil
}

func (s *sqlStore) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS rate_limit_usage (
		scope VARCHAR(32) NOT NULL,
		identifier VARCHAR(128) NOT NULL,
		limit_type VARCHAR(16) NOT NULL,
		win VARCHAR(16) NOT NULL,
		count BIGINT NOT NULL,
		window_end TIMESTAMP NOT NULL,
		PRIMARY KEY (scope, identifier, limit_type, win)
	)`)
	return err
}

func (s *sqlStore) placeholder(n int) string {
	if s.dialect == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (s *sqlStore) Usage(ctx context.Context, key Key) (int64, time.Time, error) {
	query := fmt.Sprintf(`SELECT count, window_end FROM rate_limit_usage
		WHERE scope = %s AND identifier = %s AND limit_type = %s AND win = %s`,
		s.placeholder(1), s.placeholder(2), s.placeholder(3), s.placeholder(4))

	var count int64
	var windowEnd time.Time
	err := s.db.QueryRowContext(ctx, query,
		key.Scope, key.Identifier, string(key.Type), string(key.Window)).
		Scan(&count, &windowEnd)
	if err == sql.ErrNoRows {
		return 0, time.Time{}, nil
	}
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("load usage: %w", err)
	}
	return count, windowEnd, nil
}

func (s *sqlStore) Increment(ctx context.Context, key Key, amount int64) (int64, time.Time, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("begin increment: %w", err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`SELECT count, window_end FROM rate_limit_usage
		WHERE scope = %s AND identifier = %s AND limit_type = %s AND win = %s`,
		s.placeholder(1), s.placeholder(2), s.placeholder(3), s.placeholder(4))

	now := time.Now().UTC()
	var count int64
	var windowEnd time.Time
	err = tx.QueryRowContext(ctx, query,
		key.Scope, key.Identifier, string(key.Type), string(key.Window)).
		Scan(&count, &windowEnd)

	switch {
	case err == sql.ErrNoRows:
		count = amount
		windowEnd = now.Add(key.Window.Duration())
		insert := fmt.Sprintf(`INSERT INTO rate_limit_usage
			(scope, identifier, limit_type, win, count, window_end)
			VALUES (%s, %s, %s, %s, %s, %s)`,
			s.placeholder(1), s.placeholder(2), s.placeholder(3),
			s.placeholder(4), s.placeholder(5), s.placeholder(6))
		if _, err := tx.ExecContext(ctx, insert,
			key.Scope, key.Identifier, string(key.Type), string(key.Window),
			count, windowEnd); err != nil {
			return 0, time.Time{}, fmt.Errorf("insert usage: %w", err)
		}
	case err != nil:
		return 0, time.Time{}, fmt.Errorf("load usage: %w", err)
	default:
		if windowEnd.Before(now) {
			count = amount
			windowEnd = now.Add(key.Window.Duration())
		} else {
			count += amount
		}
		update := fmt.Sprintf(`UPDATE rate_limit_usage SET count = %s, window_end = %s
			WHERE scope = %s AND identifier = %s AND limit_type = %s AND win = %s`,
			s.placeholder(1), s.placeholder(2), s.placeholder(3),
			s.placeholder(4), s.placeholder(5), s.placeholder(6))
		if _, err := tx.ExecContext(ctx, update,
			count, windowEnd,
			key.Scope, key.Identifier, string(key.Type), string(key.Window)); err != nil {
			return 0, time.Time{}, fmt.Errorf("update usage: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, time.Time{}, fmt.Errorf("commit increment: %w", err)
	}
	return count, windowEnd, nil
}

func (s *sqlStore) Reset(ctx context.Context, scope, identifier string) error {
	query := fmt.Sprintf("DELETE FROM rate_limit_usage WHERE scope = %s AND identifier = %s",
		s.placeholder(1), s.placeholder(2))
	if _, err := s.db.ExecContext(ctx, query, scope, identifier); err != nil {
		return fmt.Errorf("reset usage: %w", err)
	}
	return nil
}

// Close is a no-op: the handle belongs to the shared pool.
func (s *sqlStore) Close() error { return nil }

var _ Store = (*sqlStore)(nil)
