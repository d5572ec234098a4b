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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ziya-ai/ziya/pkg/config"
)

func writeFile(t *testing.T, root, path, content string) {
	t.Helper()
	full := filepath.Join(root, path)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func TestTrackerChangeLifecycle(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main\n")
	writeFile(t, root, "util.go", "package main\n\nfunc util() {}\n")

	tracker := NewTracker(root)
	const conv = "conv-1"
	paths := []string{"main.go", "util.go"}

	// First read: everything counts as changed (never submitted).
	report, err := tracker.AnnotatedContent(conv, paths)
	require.NoError(t, err)
	require.Len(t, report.Files, 2)
	assert.True(t, tracker.Changed(conv, "main.go"))
	assert.True(t, tracker.Changed(conv, "util.go"))

	tracker.MarkContextSubmission(conv)

	// Second read with no edits: both stable.
	_, err = tracker.AnnotatedContent(conv, paths)
	require.NoError(t, err)
	assert.False(t, tracker.Changed(conv, "main.go"))
	assert.False(t, tracker.Changed(conv, "util.go"))

	// Edit one file: only it flips to changed.
	writeFile(t, root, "util.go", "package main\n\nfunc util() { println() }\n")
	report, err = tracker.AnnotatedContent(conv, paths)
	require.NoError(t, err)
	assert.False(t, tracker.Changed(conv, "main.go"))
	assert.True(t, tracker.Changed(conv, "util.go"))
	assert.Contains(t, report.RecentChanges, "util.go")
	assert.NotContains(t, report.RecentChanges, "main.go")
}

func TestTrackerConversationsAreIndependent(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "hello")

	tracker := NewTracker(root)
	_, err := tracker.AnnotatedContent("conv-a", []string{"a.txt"})
	require.NoError(t, err)
	tracker.MarkContextSubmission("conv-a")

	_, err = tracker.AnnotatedContent("conv-b", []string{"a.txt"})
	require.NoError(t, err)

	assert.False(t, tracker.Changed("conv-a", "a.txt"))
	assert.True(t, tracker.Changed("conv-b", "a.txt"))
}

func TestTrackerChangedStableAfterSubmission(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "hello")

	tracker := NewTracker(root)
	_, err := tracker.AnnotatedContent("c", []string{"a.txt"})
	require.NoError(t, err)
	tracker.MarkContextSubmission("c")

	// No re-read between submission and the query: the promoted hash
	// must still answer.
	assert.False(t, tracker.Changed("c", "a.txt"))

	writeFile(t, root, "a.txt", "hello, edited")
	_, err = tracker.AnnotatedContent("c", []string{"a.txt"})
	require.NoError(t, err)
	assert.True(t, tracker.Changed("c", "a.txt"))
}

func TestTrackerMarkIsIdempotent(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "hello")

	tracker := NewTracker(root)
	_, err := tracker.AnnotatedContent("c", []string{"a.txt"})
	require.NoError(t, err)

	tracker.MarkContextSubmission("c")
	tracker.MarkContextSubmission("c")

	_, err = tracker.AnnotatedContent("c", []string{"a.txt"})
	require.NoError(t, err)
	assert.False(t, tracker.Changed("c", "a.txt"))
}

func TestTrackerRejectsEscapingPaths(t *testing.T) {
	tracker := NewTracker(t.TempDir())
	_, err := tracker.AnnotatedContent("c", []string{"../../etc/passwd"})
	assert.Error(t, err)
}

func TestWalkRespectsDepthAndExclusions(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "top.go", "x")
	writeFile(t, root, "pkg/mid.go", "x")
	writeFile(t, root, "pkg/sub/deep.go", "x")
	writeFile(t, root, "pkg/sub/lower/toodeep.go", "x")
	writeFile(t, root, "node_modules/dep/index.js", "x")
	writeFile(t, root, ".hidden", "x")

	cfg := &config.CodebaseConfig{Dir: root}
	cfg.SetDefaults()

	paths, err := Walk(cfg)
	require.NoError(t, err)

	assert.Contains(t, paths, "top.go")
	assert.Contains(t, paths, filepath.Join("pkg", "mid.go"))
	assert.Contains(t, paths, filepath.Join("pkg", "sub", "deep.go"))
	assert.NotContains(t, paths, filepath.Join("pkg", "sub", "lower", "toodeep.go"))
	for _, p := range paths {
		assert.NotContains(t, p, "node_modules")
		assert.NotContains(t, p, ".hidden")
	}
}

func TestWalkSkipsOversizedFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "small.txt", "ok")
	writeFile(t, root, "big.txt", string(make([]byte, 2048)))

	cfg := &config.CodebaseConfig{Dir: root, MaxFileSize: 1024}
	cfg.SetDefaults()

	paths, err := Walk(cfg)
	require.NoError(t, err)
	assert.Contains(t, paths, "small.txt")
	assert.NotContains(t, paths, "big.txt")
}
