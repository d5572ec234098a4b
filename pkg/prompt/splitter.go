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

// Package prompt assembles deterministic system prompts from the codebase,
// splits them into cacheable stable and per-turn dynamic portions, and
// caches the result keyed by content hashes.
package prompt

import (
	"strings"

	"github.com/ziya-ai/ziya/pkg/filestate"
)

const (
	// Preamble marks the start of the codebase section inside a system
	// prompt. The splitter keys on it verbatim.
	Preamble = "Below is the current codebase of the user:"

	// FileDelimiter prefixes each per-file chunk inside the codebase
	// section.
	FileDelimiter = "File: "

	// MinStableChars is the minimum stable-content size worth splitting
	// for. Below it the provider-side cache saves nothing.
	MinStableChars = 5000

	templateExampleStart = "<!-- TEMPLATE EXAMPLE START -->"
	templateExampleEnd   = "<!-- TEMPLATE EXAMPLE END -->"
)

// ContextSplit is the outcome of splitting one system prompt.
// An empty StableContent means "do not split".
type ContextSplit struct {
	StableContent  string
	StableFiles    []string
	DynamicContent string
	DynamicFiles   []string
}

// IsZero reports whether the split carries no stable portion.
func (s *ContextSplit) IsZero() bool {
	return s.StableContent == ""
}

// fileChunk is one parsed per-file section, original order preserved.
type fileChunk struct {
	path string
	text string
}

// Split partitions a system prompt into a stable portion (files unchanged
// since the last context submission for this conversation) and a dynamic
// remainder. The oracle is the only change signal; the splitter never
// hashes file contents itself.
func Split(systemPrompt, conversationID string, oracle filestate.Oracle) *ContextSplit {
	idx := strings.Index(systemPrompt, Preamble)
	if idx < 0 {
		return &ContextSplit{DynamicContent: systemPrompt}
	}

	head := systemPrompt[:idx]
	body := systemPrompt[idx+len(Preamble):]

	prefix, chunks := parseChunks(body)

	var stable, dynamic strings.Builder
	var stableFiles, dynamicFiles []string
	for _, chunk := range chunks {
		if oracle.Changed(conversationID, chunk.path) {
			dynamic.WriteString(chunk.text)
			dynamicFiles = append(dynamicFiles, chunk.path)
		} else {
			stable.WriteString(chunk.text)
			stableFiles = append(stableFiles, chunk.path)
		}
	}

	if stable.Len() < MinStableChars {
		return &ContextSplit{DynamicContent: systemPrompt}
	}

	return &ContextSplit{
		StableContent:  Preamble + "\n" + stable.String(),
		StableFiles:    stableFiles,
		DynamicContent: head + prefix + dynamic.String(),
		DynamicFiles:   dynamicFiles,
	}
}

// parseChunks scans the codebase section line by line. "File: <path>"
// lines open a new chunk; lines inside template-example markers never
// open or close chunks and stay with the enclosing region.
func parseChunks(body string) (prefix string, chunks []fileChunk) {
	var prefixBuilder strings.Builder
	var current *fileChunk
	inExample := false

	lines := strings.SplitAfter(body, "\n")
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)

		if strings.Contains(trimmed, templateExampleStart) {
			inExample = true
		}

		if !inExample && strings.HasPrefix(trimmed, FileDelimiter) {
			if current != nil {
				chunks = append(chunks, *current)
			}
			current = &fileChunk{
				path: strings.TrimSpace(strings.TrimPrefix(trimmed, FileDelimiter)),
			}
		}

		if current != nil {
			current.text += line
		} else {
			prefixBuilder.WriteString(line)
		}

		if strings.Contains(trimmed, templateExampleEnd) {
			inExample = false
		}
	}
	if current != nil {
		chunks = append(chunks, *current)
	}
	return prefixBuilder.String(), chunks
}
