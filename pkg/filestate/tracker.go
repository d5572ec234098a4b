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

package filestate

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Tracker is the reference Oracle: SHA-256 content hashes per
// (conversation, path), promoted from pending to submitted by
// MarkContextSubmission.
type Tracker struct {
	root string

	mu            sync.Mutex
	conversations map[string]*conversationState
}

var _ Oracle = (*Tracker)(nil)

type fileStamp struct {
	hash        string
	submittedAt time.Time
}

type conversationState struct {
	// submitted holds the hash the model last saw, per path.
	submitted map[string]fileStamp

	// pending holds the hash read during the current turn's assembly.
	pending map[string]string

	// everChanged accumulates paths that changed at any point in the
	// conversation, for the overall-changes note.
	everChanged map[string]bool
}

// NewTracker builds a tracker rooted at the codebase directory. All paths
// given to the oracle are resolved relative to it.
func NewTracker(root string) *Tracker {
	return &Tracker{
		root:          root,
		conversations: make(map[string]*conversationState),
	}
}

func (t *Tracker) state(conversationID string) *conversationState {
	st, ok := t.conversations[conversationID]
	if !ok {
		st = &conversationState{
			submitted:   make(map[string]fileStamp),
			pending:     make(map[string]string),
			everChanged: make(map[string]bool),
		}
		t.conversations[conversationID] = st
	}
	return st
}

// resolve joins a path against the root, rejecting escapes.
func (t *Tracker) resolve(path string) (string, error) {
	if filepath.IsAbs(path) {
		path = strings.TrimPrefix(path, t.root)
	}
	full := filepath.Join(t.root, path)
	rel, err := filepath.Rel(t.root, full)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("path %q escapes the codebase root", path)
	}
	return full, nil
}

func hashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return fmt.Sprintf("%x", sum)
}

// AnnotatedContent reads the files in selection order, recording their
// hashes as pending for the conversation and summarizing changes.
func (t *Tracker) AnnotatedContent(conversationID string, paths []string) (*ContextReport, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.state(conversationID)
	report := &ContextReport{}
	var recent []string

	for _, path := range paths {
		full, err := t.resolve(path)
		if err != nil {
			return nil, err
		}
		content, err := os.ReadFile(full)
		if err != nil {
			return nil, fmt.Errorf("reading %q: %w", path, err)
		}

		hash := hashContent(content)
		st.pending[path] = hash

		stamp, seen := st.submitted[path]
		changed := !seen || stamp.hash != hash
		if changed {
			st.everChanged[path] = true
			if seen {
				recent = append(recent, path)
			}
		}

		report.Files = append(report.Files, FileContent{
			Path:    path,
			Content: string(content),
			Changed: changed,
		})
	}

	if len(recent) > 0 {
		report.RecentChanges = "Files changed since the last context submission: " + strings.Join(recent, ", ")
	}
	if overall := sortedKeys(st.everChanged); len(overall) > 0 && len(st.submitted) > 0 {
		report.OverallChanges = "Files changed during this conversation: " + strings.Join(overall, ", ")
	}
	return report, nil
}

// Changed answers from the recorded state only; it never touches the
// filesystem so the splitter stays deterministic within a turn.
func (t *Tracker) Changed(conversationID, path string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.state(conversationID)
	pending, ok := st.pending[path]
	if !ok {
		// Never read this turn: treat as changed, forcing it dynamic.
		return true
	}
	stamp, seen := st.submitted[path]
	return !seen || stamp.hash != pending
}

// MarkContextSubmission promotes pending hashes to submitted state.
// Idempotent: a second call with no new reads is a no-op. The pending
// map is kept, so Changed keeps answering false for the promoted paths
// until the next assembly re-reads them.
func (t *Tracker) MarkContextSubmission(conversationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.state(conversationID)
	now := time.Now()
	for path, hash := range st.pending {
		st.submitted[path] = fileStamp{hash: hash, submittedAt: now}
	}
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
