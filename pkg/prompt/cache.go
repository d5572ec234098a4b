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

package prompt

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultCacheTTL is the prompt cache entry lifetime.
	DefaultCacheTTL = 15 * time.Minute

	// DefaultCacheCap bounds the entry count; insertion above it evicts
	// oldest-first.
	DefaultCacheCap = 100

	cacheFileName = "prompt_cache.json"
)

// CacheEntry is one cached prompt assembly.
type CacheEntry struct {
	StructureHash   string        `json:"structure_hash"`
	FileContentHash string        `json:"file_content_hash"`
	ConversationID  string        `json:"conversation_id"`
	FilePaths       []string      `json:"file_paths"`
	CreatedAt       time.Time     `json:"created_at"`
	TTL             time.Duration `json:"ttl"`
	TokenCount      int           `json:"token_count"`
	ASTContextHash  string        `json:"ast_context_hash,omitempty"`

	Split *ContextSplit `json:"split,omitempty"`
}

func (e *CacheEntry) expired(now time.Time) bool {
	return now.After(e.CreatedAt.Add(e.TTL))
}

// Cache is the process-wide prompt cache: TTL expiry, capacity-bounded
// with oldest-first eviction, bulk invalidation by conversation or file
// path, and best-effort JSON persistence under the state directory.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*CacheEntry
	ttl     time.Duration
	cap     int
	path    string

	hits   int64
	misses int64
}

// CacheOption customizes a Cache.
type CacheOption func(*Cache)

func WithTTL(ttl time.Duration) CacheOption {
	return func(c *Cache) { c.ttl = ttl }
}

func WithCapacity(n int) CacheOption {
	return func(c *Cache) { c.cap = n }
}

// WithPersistence enables best-effort JSON persistence in dir. The cache
// never depends on it for correctness.
func WithPersistence(dir string) CacheOption {
	return func(c *Cache) { c.path = filepath.Join(dir, cacheFileName) }
}

func NewCache(opts ...CacheOption) *Cache {
	c := &Cache{
		entries: make(map[string]*CacheEntry),
		ttl:     DefaultCacheTTL,
		cap:     DefaultCacheCap,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.path != "" {
		c.load()
	}
	return c
}

// Key derives the cache key from the conversation and content hashes.
func Key(conversationID, structureHash, contentHash string) string {
	return conversationID + ":" + structureHash + ":" + contentHash
}

// HashContent returns the SHA-256 hex digest used for cache keys.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return fmt.Sprintf("%x", sum)
}

// HashStructure hashes the ordered file path list.
func HashStructure(paths []string) string {
	return HashContent(strings.Join(paths, "\n"))
}

// Get returns a live entry, counting hits and misses.
func (c *Cache) Get(key string) (*CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if entry.expired(time.Now()) {
		delete(c.entries, key)
		c.misses++
		return nil, false
	}
	c.hits++
	return entry, true
}

// Set inserts an entry, evicting oldest-first above the capacity cap.
func (c *Cache) Set(key string, entry *CacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry.TTL == 0 {
		entry.TTL = c.ttl
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	c.entries[key] = entry

	c.evictLocked()
	c.persistLocked()
}

func (c *Cache) evictLocked() {
	if len(c.entries) <= c.cap {
		return
	}
	type aged struct {
		key string
		at  time.Time
	}
	all := make([]aged, 0, len(c.entries))
	for key, entry := range c.entries {
		all = append(all, aged{key, entry.CreatedAt})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].at.Before(all[j].at) })
	for _, victim := range all[:len(c.entries)-c.cap] {
		delete(c.entries, victim.key)
	}
}

// InvalidateConversation drops every entry for a conversation.
func (c *Cache) InvalidateConversation(conversationID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	dropped := 0
	for key, entry := range c.entries {
		if entry.ConversationID == conversationID {
			delete(c.entries, key)
			dropped++
		}
	}
	if dropped > 0 {
		c.persistLocked()
	}
	return dropped
}

// InvalidateFile drops every entry whose file list contains the path.
func (c *Cache) InvalidateFile(path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	dropped := 0
	for key, entry := range c.entries {
		for _, p := range entry.FilePaths {
			if p == path {
				delete(c.entries, key)
				dropped++
				break
			}
		}
	}
	if dropped > 0 {
		c.persistLocked()
	}
	return dropped
}

// Stats returns the hit/miss counters and live entry count.
func (c *Cache) Stats() (hits, misses int64, size int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, len(c.entries)
}

// persistLocked writes the cache to disk, best effort.
func (c *Cache) persistLocked() {
	if c.path == "" {
		return
	}
	data, err := json.Marshal(c.entries)
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return
	}
	_ = os.WriteFile(c.path, data, 0o644)
}

// load restores persisted entries, dropping anything expired.
func (c *Cache) load() {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return
	}
	var stored map[string]*CacheEntry
	if err := json.Unmarshal(data, &stored); err != nil {
		return
	}
	now := time.Now()
	for key, entry := range stored {
		if !entry.expired(now) {
			c.entries[key] = entry
		}
	}
}
