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

package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/term"
)

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// PipedStdin returns the content piped into the process, or "" when
// stdin is a terminal. Piped content is prepended to the question so
// `git diff | ziya ask "review this"` works.
func PipedStdin() (string, error) {
	return pipedInput(os.Stdin)
}

func pipedInput(f *os.File) (string, error) {
	if IsTerminal(f) {
		return "", nil
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return "", fmt.Errorf("reading piped stdin: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// PrependContext combines piped input and the question into one prompt.
func PrependContext(piped, question string) string {
	if piped == "" {
		return question
	}
	return piped + "\n\n" + question
}

// History appends asked questions to the per-user history file.
// All operations are best effort; a read-only home directory never
// breaks the chat.
type History struct {
	path string
}

// NewHistory uses <dir>/history, creating dir if needed.
func NewHistory(dir string) *History {
	if dir == "" {
		return &History{}
	}
	_ = os.MkdirAll(dir, 0o755)
	return &History{path: filepath.Join(dir, "history")}
}

// Append records one question with a timestamp.
func (h *History) Append(line string) {
	if h == nil || h.path == "" {
		return
	}
	f, err := os.OpenFile(h.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "%s\t%s\n", time.Now().Format(time.RFC3339), line)
}
