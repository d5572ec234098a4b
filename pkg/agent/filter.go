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

// fakeToolFilter suppresses Markdown pseudo-tool-calls from outbound text.
// Models sometimes narrate a tool call instead of making one; those
// sequences must never reach the client (and are never executed):
//
//   - fenced blocks opened with ```tool:<name>
//   - a bare "run_shell_command" line followed by a "$ ..." line
type fakeToolFilter struct {
	buf string

	// passThrough marks a line whose head was already emitted; the rest
	// flows out uninspected.
	passThrough bool

	// inFake is true inside a ```tool: fence being dropped.
	inFake bool

	// held is a bare run_shell_command line awaiting its follow-up.
	held string
}

// Push filters streamed text, returning the part safe to forward.
func (f *fakeToolFilter) Push(s string) string {
	f.buf += s
	var out strings.Builder

	for f.buf != "" {
		nl := strings.Index(f.buf, "\n")
		if nl < 0 {
			if f.inFake || f.held != "" {
				return out.String()
			}
			if f.passThrough {
				out.WriteString(f.buf)
				f.buf = ""
				return out.String()
			}
			if couldBeFakeTool(f.buf) {
				return out.String()
			}
			out.WriteString(f.buf)
			f.buf = ""
			f.passThrough = true
			return out.String()
		}

		line := f.buf[:nl+1]
		f.buf = f.buf[nl+1:]
		if f.passThrough {
			out.WriteString(line)
			f.passThrough = false
			continue
		}
		out.WriteString(f.processLine(line))
	}
	return out.String()
}

// Flush releases held text at message stop. A dangling fake fence stays
// suppressed.
func (f *fakeToolFilter) Flush() string {
	var out strings.Builder
	if f.held != "" {
		out.WriteString(f.held)
		f.held = ""
	}
	if !f.inFake {
		out.WriteString(f.buf)
	}
	f.buf = ""
	f.inFake = false
	f.passThrough = false
	return out.String()
}

func (f *fakeToolFilter) processLine(line string) string {
	trimmed := strings.TrimSpace(line)

	if f.inFake {
		if strings.HasPrefix(trimmed, "```") {
			f.inFake = false
		}
		return ""
	}

	if f.held != "" {
		held := f.held
		f.held = ""
		if strings.HasPrefix(trimmed, "$") {
			// run_shell_command + "$ cmd": the whole pair is fake.
			return ""
		}
		return held + f.processLine(line)
	}

	if strings.HasPrefix(trimmed, "```tool:") {
		f.inFake = true
		return ""
	}
	if trimmed == "run_shell_command" {
		f.held = line
		return ""
	}
	return line
}

// couldBeFakeTool reports whether a partial line might still grow into a
// suppressed pattern, so the filter must keep holding it.
func couldBeFakeTool(partial string) bool {
	t := strings.TrimLeft(partial, " \t")
	if t == "" {
		return true
	}
	if strings.HasPrefix("run_shell_command", t) {
		return true
	}
	if strings.HasPrefix(t, "```tool:") || strings.HasPrefix("```tool:", t) {
		return true
	}
	return false
}
