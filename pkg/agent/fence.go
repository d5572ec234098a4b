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

package agent

import "strings"

// maxContinuations bounds how many times the loop asks the model to finish
// an unclosed code block.
const maxContinuations = 10

// fenceTracker follows fenced code blocks in emitted text line by line. A
// non-empty stack at message stop means the model was cut off inside a
// block and the loop should request a continuation.
type fenceTracker struct {
	stack   []string
	partial string
}

// Feed consumes streamed text, processing complete lines.
func (t *fenceTracker) Feed(s string) {
	t.partial += s
	for {
		nl := strings.Index(t.partial, "\n")
		if nl < 0 {
			return
		}
		t.processLine(t.partial[:nl])
		t.partial = t.partial[nl+1:]
	}
}

// FinishMessage folds the trailing partial line in at message stop.
func (t *fenceTracker) FinishMessage() {
	if t.partial != "" {
		t.processLine(t.partial)
		t.partial = ""
	}
}

func (t *fenceTracker) processLine(line string) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "```") {
		return
	}
	tag := strings.TrimSpace(strings.TrimPrefix(trimmed, "```"))
	if tag == "" && len(t.stack) > 0 {
		t.stack = t.stack[:len(t.stack)-1]
		return
	}
	if tag == "" {
		tag = "code"
	}
	t.stack = append(t.stack, tag)
}

// Open reports whether any fenced block is still unclosed.
func (t *fenceTracker) Open() bool {
	return len(t.stack) > 0
}

// Top returns the tag of the innermost open block.
func (t *fenceTracker) Top() string {
	if len(t.stack) == 0 {
		return ""
	}
	return t.stack[len(t.stack)-1]
}

// Reset clears tracker state for a fresh model turn. Continuation turns
// keep the stack: the block is still open from the client's perspective.
func (t *fenceTracker) Reset() {
	t.stack = nil
	t.partial = ""
}

// trimPartialLine drops an unfinished trailing line from text, so a
// continuation turn restarts at a clean line boundary.
func trimPartialLine(text string) string {
	if strings.HasSuffix(text, "\n") {
		return text
	}
	idx := strings.LastIndex(text, "\n")
	if idx < 0 {
		return text
	}
	return text[:idx+1]
}
