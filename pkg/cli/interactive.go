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
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// Interactive runs the chat REPL until EOF, "/exit", or context
// cancellation. Slash commands:
//
//	/exit            leave the chat
//	/new             start a fresh conversation
//	/files a b c     set the files sent as context with each question
type Interactive struct {
	session *Session
	history *History
	files   []string
}

// NewInteractive wraps a session for REPL use. history may be nil.
func NewInteractive(session *Session, history *History) *Interactive {
	return &Interactive{session: session, history: history}
}

// SetFiles sets the initial context file selection.
func (i *Interactive) SetFiles(files []string) { i.files = files }

// Run reads questions from in until the chat ends. Errors from
// individual questions are printed, not fatal; only I/O failures and
// cancellation end the loop with an error.
func (i *Interactive) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, "ziya chat. /exit to leave, /new for a fresh conversation, /files to set context")

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 1<<20), 1<<20)

	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return err
			}
			fmt.Fprintln(out)
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if done := i.command(out, line); done {
				return nil
			}
			continue
		}

		i.history.Append(line)
		if _, err := i.session.Ask(ctx, line, i.files); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
}

// command handles a slash command, returning true when the REPL should
// exit.
func (i *Interactive) command(out io.Writer, line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/exit", "/quit":
		return true
	case "/new":
		i.session.Reset()
		fmt.Fprintln(out, "started a new conversation")
	case "/files":
		i.files = fields[1:]
		if len(i.files) == 0 {
			fmt.Fprintln(out, "cleared context files")
		} else {
			fmt.Fprintf(out, "context files: %s\n", strings.Join(i.files, ", "))
		}
	default:
		fmt.Fprintf(out, "unknown command %s\n", fields[0])
	}
	return false
}
