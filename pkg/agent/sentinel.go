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

// Backends without native tool calling carry calls inline as
//
//	<TOOL_SENTINEL>tool_name
//	{"arg": "value"}
//	</TOOL_SENTINEL>
//
// The loop registers the closing tag as a stop sequence, so a call
// usually arrives with the closing tag cut off; Flush treats an open
// block at end of stream as complete.
const (
	sentinelOpen = "<TOOL_SENTINEL>"

	// SentinelStopSequence is supplied as the stop parameter when the
	// descriptor has no native tool support.
	SentinelStopSequence = "</TOOL_SENTINEL>"
)

// sentinelCall is one inline tool call extracted from the text stream.
type sentinelCall struct {
	Name  string
	Input string
}

// sentinelParser splits a text stream into visible text and sentinel
// tool calls. Marker fragments spanning chunk boundaries are held back
// until they resolve either way.
type sentinelParser struct {
	held       string
	inSentinel bool
	body       strings.Builder
}

// Push consumes a text fragment and returns the text safe to show plus
// any calls completed by this fragment.
func (p *sentinelParser) Push(text string) (string, []sentinelCall) {
	var out strings.Builder
	var calls []sentinelCall

	data := p.held + text
	p.held = ""

	for data != "" {
		if p.inSentinel {
			p.body.WriteString(data)
			data = ""
			full := p.body.String()
			idx := strings.Index(full, SentinelStopSequence)
			if idx < 0 {
				break
			}
			p.body.Reset()
			p.inSentinel = false
			if call, ok := parseSentinelBody(full[:idx]); ok {
				calls = append(calls, call)
			} else {
				// Malformed block: give the text back rather than drop it.
				out.WriteString(full[:idx])
			}
			data = full[idx+len(SentinelStopSequence):]
			continue
		}

		idx := strings.Index(data, sentinelOpen)
		if idx >= 0 {
			out.WriteString(data[:idx])
			data = data[idx+len(sentinelOpen):]
			p.inSentinel = true
			continue
		}
		keep := markerPrefixLen(data)
		out.WriteString(data[:len(data)-keep])
		p.held = data[len(data)-keep:]
		data = ""
	}

	return out.String(), calls
}

// Flush drains held state at end of stream. An unterminated sentinel
// block is a complete call whose closing tag was eaten by the stop
// sequence.
func (p *sentinelParser) Flush() (string, []sentinelCall) {
	out := p.held
	p.held = ""

	if !p.inSentinel {
		return out, nil
	}
	body := p.body.String()
	p.body.Reset()
	p.inSentinel = false

	if call, ok := parseSentinelBody(body); ok {
		return out, []sentinelCall{call}
	}
	return out + body, nil
}

// parseSentinelBody reads "name\n<json>"; a missing input becomes {}.
func parseSentinelBody(body string) (sentinelCall, bool) {
	name, input, _ := strings.Cut(strings.TrimSpace(body), "\n")
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, " \t{") {
		return sentinelCall{}, false
	}
	input = strings.TrimSpace(input)
	if input == "" {
		input = "{}"
	}
	return sentinelCall{Name: name, Input: input}, true
}

// markerPrefixLen is the length of the longest suffix of s that could
// still grow into the opening marker.
func markerPrefixLen(s string) int {
	max := len(sentinelOpen) - 1
	if len(s) < max {
		max = len(s)
	}
	for n := max; n > 0; n-- {
		if strings.HasPrefix(sentinelOpen, s[len(s)-n:]) {
			return n
		}
	}
	return 0
}
