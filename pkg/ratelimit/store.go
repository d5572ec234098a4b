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
	"sync"
	"time"
)

type bucket struct {
	count     int64
	windowEnd time.Time
}

// memoryStore keeps usage buckets in process memory.
type memoryStore struct {
	mu      sync.Mutex
	buckets map[Key]*bucket
}

// NewMemoryStore returns the in-memory usage store.
func NewMemoryStore() Store {
	return &memoryStore{buckets: make(map[Key]*bucket)}
}

func (s *memoryStore) Usage(ctx context.Context, key Key) (int64, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key]
	if !ok {
		return 0, time.Time{}, nil
	}
	return b.count, b.windowEnd, nil
}

func (s *memoryStore) Increment(ctx context.Context, key Key, amount int64) (int64, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	b, ok := s.buckets[key]
	if !ok || b.windowEnd.Before(now) {
		b = &bucket{windowEnd: now.Add(key.Window.Duration())}
		s.buckets[key] = b
	}
	b.count += amount
	return b.count, b.windowEnd, nil
}

func (s *memoryStore) Reset(ctx context.Context, scope, identifier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range s.buckets {
		if key.Scope == scope && key.Identifier == identifier {
			delete(s.buckets, key)
		}
	}
	return nil
}

func (s *memoryStore) Close() error { return nil }

var _ Store = (*memoryStore)(nil)
