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
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ziya-ai/ziya/pkg/filestate"
)

// stubOracle answers Changed from a fixed set and serves canned file
// contents.
type stubOracle struct {
	changed  map[string]bool
	contents map[string]string
}

func (s *stubOracle) Changed(conversationID, path string) bool {
	return s.changed[path]
}

func (s *stubOracle) AnnotatedContent(conversationID string, paths []string) (*filestate.ContextReport, error) {
	report := &filestate.ContextReport{}
	for _, path := range paths {
		report.Files = append(report.Files, filestate.FileContent{
			Path:    path,
			Content: s.contents[path],
			Changed: s.changed[path],
		})
	}
	return report, nil
}

func (s *stubOracle) MarkContextSubmission(conversationID string) {}

func bigBody(path string, size int) string {
	filler := strings.Repeat("x", size)
	return FileDelimiter + path + "\n" + filler + "\n"
}

func buildPrompt(bodies ...string) string {
	return "system template here\n\n" + Preamble + "\n" + strings.Join(bodies, "")
}

func TestSplitStableAndDynamic(t *testing.T) {
	prompt := buildPrompt(
		bigBody("stable_a.go", 4000),
		bigBody("changed.go", 500),
		bigBody("stable_b.go", 4000),
	)
	oracle := &stubOracle{changed: map[string]bool{"changed.go": true}}

	split := Split(prompt, "conv", oracle)
	require.False(t, split.IsZero())

	assert.Equal(t, []string{"stable_a.go", "stable_b.go"}, split.StableFiles)
	assert.Equal(t, []string{"changed.go"}, split.DynamicFiles)
	assert.True(t, strings.HasPrefix(split.StableContent, Preamble))
	assert.Contains(t, split.DynamicContent, "system template here")
	assert.Contains(t, split.DynamicContent, "File: changed.go")
	assert.NotContains(t, split.StableContent, "changed.go")
}

func TestSplitStablePrefixIsDeterministic(t *testing.T) {
	prompt := buildPrompt(bigBody("a.go", 3000), bigBody("b.go", 3000))
	oracle := &stubOracle{changed: map[string]bool{}}

	first := Split(prompt, "conv", oracle)
	second := Split(prompt, "conv", oracle)
	require.False(t, first.IsZero())
	assert.Equal(t, first.StableContent, second.StableContent)
}

func TestSplitBelowFloorReturnsEmpty(t *testing.T) {
	prompt := buildPrompt(bigBody("tiny.go", 100))
	oracle := &stubOracle{changed: map[string]bool{}}

	split := Split(prompt, "conv", oracle)
	assert.True(t, split.IsZero())
	assert.Equal(t, prompt, split.DynamicContent)
}

func TestSplitWithoutPreamble(t *testing.T) {
	prompt := "just a system prompt with no codebase section"
	split := Split(prompt, "conv", &stubOracle{})
	assert.True(t, split.IsZero())
	assert.Equal(t, prompt, split.DynamicContent)
}

func TestSplitExcludesTemplateExamples(t *testing.T) {
	example := "<!-- TEMPLATE EXAMPLE START -->\n" +
		FileDelimiter + "fake/example.go\n" +
		"example body that must not become a chunk\n" +
		"<!-- TEMPLATE EXAMPLE END -->\n"
	prompt := buildPrompt(bigBody("real.go", 6000), example)
	oracle := &stubOracle{changed: map[string]bool{}}

	split := Split(prompt, "conv", oracle)
	require.False(t, split.IsZero())
	assert.Equal(t, []string{"real.go"}, split.StableFiles)
	assert.NotContains(t, split.StableFiles, "fake/example.go")
	assert.NotContains(t, split.DynamicFiles, "fake/example.go")
}

func TestSplitReshufflesAfterFileChange(t *testing.T) {
	prompt := buildPrompt(bigBody("a.go", 6000), bigBody("b.go", 6000))

	before := Split(prompt, "conv", &stubOracle{changed: map[string]bool{}})
	require.Equal(t, []string{"a.go", "b.go"}, before.StableFiles)

	after := Split(prompt, "conv", &stubOracle{changed: map[string]bool{"b.go": true}})
	assert.Equal(t, []string{"a.go"}, after.StableFiles)
	assert.Equal(t, []string{"b.go"}, after.DynamicFiles)
	assert.NotEqual(t, before.StableContent, after.StableContent)
}

func TestSplitPreservesFileOrder(t *testing.T) {
	var bodies []string
	var want []string
	for i := 0; i < 5; i++ {
		path := fmt.Sprintf("file_%d.go", i)
		bodies = append(bodies, bigBody(path, 1500))
		want = append(want, path)
	}
	split := Split(buildPrompt(bodies...), "conv", &stubOracle{changed: map[string]bool{}})
	require.False(t, split.IsZero())
	assert.Equal(t, want, split.StableFiles)
}
