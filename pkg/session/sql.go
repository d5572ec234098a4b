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

package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ziya-ai/ziya/pkg/model"
)

// sqlStore persists conversation messages one row per message, ordered by
// sequence number. Message bodies are stored as JSON so schema changes in
// the block model never require a migration.
type sqlStore struct {
	db      *sql.DB
	dialect string
}

// NewSQLStore wraps an open database handle. dialect is "sqlite",
// "postgres", or "mysql" and only affects placeholder style.
func NewSQLStore(db *sql.DB, dialect string) (Store, error) {
	s := &sqlStore{db: db, dialect: dialect}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("session store migration: %w", err)
	}
	return s, nil
}

func (s *sqlStore) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	serial := "INTEGER PRIMARY KEY AUTOINCREMENT"
	switch s.dialect {
	case "postgres":
		serial = "BIGSERIAL PRIMARY KEY"
	case "mysql":
		serial = "BIGINT AUTO_INCREMENT PRIMARY KEY"
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id VARCHAR(64) PRIMARY KEY,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS conversation_messages (
			seq %s,
			conversation_id VARCHAR(64) NOT NULL,
			body TEXT NOT NULL
		)`, serial),
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON conversation_messages (conversation_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// placeholder renders the n-th (1-based) bind parameter for the dialect.
func (s *sqlStore) placeholder(n int) string {
	if s.dialect == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (s *sqlStore) Get(ctx context.Context, conversationID string) (*Conversation, error) {
	conv := &Conversation{ID: conversationID}

	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT created_at, updated_at FROM conversations WHERE id = %s", s.placeholder(1)),
		conversationID)
	if err := row.Scan(&conv.CreatedAt, &conv.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT body FROM conversation_messages WHERE conversation_id = %s ORDER BY seq", s.placeholder(1)),
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		var msg model.Message
		if err := json.Unmarshal(body, &msg); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		conv.Messages = append(conv.Messages, &msg)
	}
	return conv, rows.Err()
}

func (s *sqlStore) Append(ctx context.Context, conversationID string, messages ...*model.Message) error {
	if conversationID == "" {
		return fmt.Errorf("conversation id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	upsert := fmt.Sprintf(`INSERT INTO conversations (id, created_at, updated_at)
		VALUES (%s, %s, %s)`, s.placeholder(1), s.placeholder(2), s.placeholder(3))
	switch s.dialect {
	case "mysql":
		upsert += " ON DUPLICATE KEY UPDATE updated_at = VALUES(updated_at)"
	default:
		upsert += " ON CONFLICT (id) DO UPDATE SET updated_at = excluded.updated_at"
	}
	if _, err := tx.ExecContext(ctx, upsert, conversationID, now, now); err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}

	insert := fmt.Sprintf("INSERT INTO conversation_messages (conversation_id, body) VALUES (%s, %s)",
		s.placeholder(1), s.placeholder(2))
	for _, msg := range messages {
		body, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("encode message: %w", err)
		}
		if _, err := tx.ExecContext(ctx, insert, conversationID, body); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}
	return tx.Commit()
}

func (s *sqlStore) List(ctx context.Context) ([]Info, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.updated_at, COUNT(m.seq)
		FROM conversations c
		LEFT JOIN conversation_messages m ON m.conversation_id = c.id
		GROUP BY c.id, c.updated_at
		ORDER BY c.updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var infos []Info
	for rows.Next() {
		var info Info
		if err := rows.Scan(&info.ID, &info.UpdatedAt, &info.Turns); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

func (s *sqlStore) Delete(ctx context.Context, conversationID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM conversation_messages WHERE conversation_id = %s", s.placeholder(1)),
		conversationID); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM conversations WHERE id = %s", s.placeholder(1)),
		conversationID); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return tx.Commit()
}

// Close is a no-op: the handle belongs to the shared pool.
func (s *sqlStore) Close() error { return nil }

var _ Store = (*sqlStore)(nil)
