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

// Package session persists conversation history per conversation id. The
// server uses it to serve history-less clients; nothing in the streaming
// path depends on it, so a broken store degrades to stateless operation.
package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ziya-ai/ziya/pkg/config"
	"github.com/ziya-ai/ziya/pkg/model"
)

// ErrNotFound is returned when a conversation does not exist.
var ErrNotFound = errors.New("conversation not found")

// Conversation is one stored exchange history.
type Conversation struct {
	ID        string
	Messages  []*model.Message
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Info is a conversation listing entry without the message bodies.
type Info struct {
	ID        string
	Turns     int
	UpdatedAt time.Time
}

// Store is the conversation persistence contract.
type Store interface {
	// Get returns a conversation, or ErrNotFound.
	Get(ctx context.Context, conversationID string) (*Conversation, error)

	// Append adds messages to a conversation, creating it on first use.
	Append(ctx context.Context, conversationID string, messages ...*model.Message) error

	// List returns conversation summaries, most recently updated first.
	List(ctx context.Context) ([]Info, error)

	// Delete removes a conversation. Deleting a missing conversation is
	// not an error.
	Delete(ctx context.Context, conversationID string) error

	Close() error
}

// NewStore builds the store selected by the server config. cfg.Sessions
// may be nil; the in-memory store is the default.
func NewStore(cfg *config.Config, pool *config.DBPool) (Store, error) {
	sessions := cfg.Server.Sessions
	if !sessions.IsSQL() {
		return NewMemoryStore(), nil
	}
	dbCfg, ok := cfg.GetDatabase(sessions.Database)
	if !ok {
		if sessions.Database != "" {
			return nil, fmt.Errorf("sessions: database %q not configured", sessions.Database)
		}
		// Zero-config SQL persistence: a SQLite file next to the other
		// per-user state under the cache dir.
		dbCfg = &config.DatabaseConfig{
			Driver:   "sqlite",
			Database: filepath.Join(cfg.Codebase.CacheDir, "sessions.db"),
		}
	}
	db, err := pool.Get(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("sessions: %w", err)
	}
	return NewSQLStore(db, dbCfg.Dialect())
}

// NewID returns a fresh conversation identifier.
func NewID() string { return uuid.NewString() }

// memoryStore keeps conversations in process memory.
type memoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
}

// NewMemoryStore returns the in-memory store.
func NewMemoryStore() Store {
	return &memoryStore{conversations: make(map[string]*Conversation)}
}

func (s *memoryStore) Get(ctx context.Context, conversationID string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	out := &Conversation{
		ID:        conv.ID,
		Messages:  append([]*model.Message(nil), conv.Messages...),
		CreatedAt: conv.CreatedAt,
		UpdatedAt: conv.UpdatedAt,
	}
	return out, nil
}

func (s *memoryStore) Append(ctx context.Context, conversationID string, messages ...*model.Message) error {
	if conversationID == "" {
		return fmt.Errorf("conversation id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	conv, ok := s.conversations[conversationID]
	if !ok {
		conv = &Conversation{ID: conversationID, CreatedAt: now}
		s.conversations[conversationID] = conv
	}
	conv.Messages = append(conv.Messages, messages...)
	conv.UpdatedAt = now
	return nil
}

func (s *memoryStore) List(ctx context.Context) ([]Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]Info, 0, len(s.conversations))
	for _, conv := range s.conversations {
		infos = append(infos, Info{
			ID:        conv.ID,
			Turns:     len(conv.Messages),
			UpdatedAt: conv.UpdatedAt,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].UpdatedAt.After(infos[j].UpdatedAt) })
	return infos, nil
}

func (s *memoryStore) Delete(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, conversationID)
	return nil
}

func (s *memoryStore) Close() error { return nil }

var _ Store = (*memoryStore)(nil)
