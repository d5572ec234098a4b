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

// maxHoldback caps how much trailing unterminated content the optimizer
// withholds while waiting for a word boundary.
const maxHoldback = 500

// diagramTags name the fenced-block types that must be emitted atomically:
// a half-delivered diagram renders as garbage on the client.
var diagramTags = map[string]bool{
	"mermaid":   true,
	"vega-lite": true,
	"graphviz":  true,
	"d3":        true,
}

// optimizer smooths streamed text: it never splits a word across events,
// and it buffers diagram blocks until their closing fence so they emit in
// one piece.
type optimizer struct {
	buf       string
	inDiagram bool
}

// Push appends streamed text and returns the portion that is safe to emit.
func (o *optimizer) Push(s string) string {
	o.buf += s
	var out strings.Builder

	for {
		if o.inDiagram {
			end := closeFenceEnd(o.buf)
			if end < 0 {
				return out.String()
			}
			out.WriteString(o.buf[:end])
			o.buf = o.buf[end:]
			o.inDiagram = false
			continue
		}

		idx := strings.Index(o.buf, "```")
		if idx < 0 {
			out.WriteString(o.emitWithHoldback())
			return out.String()
		}

		// Everything before the fence is ordinary text.
		out.WriteString(o.buf[:idx])
		o.buf = o.buf[idx:]

		nl := strings.Index(o.buf, "\n")
		if nl < 0 {
			// Fence line still streaming; the tag is not known yet.
			return out.String()
		}
		tag := strings.TrimSpace(o.buf[3:nl])
		if diagramTags[tag] {
			o.inDiagram = true
			continue
		}
		// Non-diagram fence lines pass through unbuffered.
		out.WriteString(o.buf[:nl+1])
		o.buf = o.buf[nl+1:]
	}
}

// Flush returns everything still held, including an unterminated diagram.
func (o *optimizer) Flush() string {
	out := o.buf
	o.buf = ""
	o.inDiagram = false
	return out
}

// emitWithHoldback releases the buffer up to the last whitespace boundary,
// keeping the trailing partial word. A boundary-free run longer than the
// holdback cap is released whole.
func (o *optimizer) emitWithHoldback() string {
	if o.buf == "" {
		return ""
	}
	cut := strings.LastIndexAny(o.buf, " \t\n")
	if cut < 0 {
		if len(o.buf) <= maxHoldback {
			return ""
		}
		out := o.buf
		o.buf = ""
		return out
	}
	if len(o.buf)-(cut+1) > maxHoldback {
		out := o.buf
		o.buf = ""
		return out
	}
	out := o.buf[:cut+1]
	o.buf = o.buf[cut+1:]
	return out
}

// closeFenceEnd finds the end offset of the closing fence line of a
// diagram block (the first line after the opening fence whose content is
// exactly ```). Returns -1 while the block is still open.
func closeFenceEnd(buf string) int {
	// Skip the opening fence line.
	first := strings.Index(buf, "\n")
	if first < 0 {
		return -1
	}
	offset := first + 1
	for {
		nl := strings.Index(buf[offset:], "\n")
		if nl < 0 {
			return -1
		}
		line := buf[offset : offset+nl]
		if strings.TrimSpace(line) == "```" {
			return offset + nl + 1
		}
		offset += nl + 1
	}
}
