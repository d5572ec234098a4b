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

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ziya-ai/ziya/pkg/model"
	"github.com/ziya-ai/ziya/pkg/tool"
)

func TestSentinelParserExtractsCall(t *testing.T) {
	p := &sentinelParser{}

	var visible strings.Builder
	var calls []sentinelCall
	for _, frag := range []string{
		"Checking the file. <TOOL_SEN",
		"TINEL>mcp_read_file\n{\"path\": ",
		"\"main.go\"}</TOOL_SENTINEL> Done.",
	} {
		out, cs := p.Push(frag)
		visible.WriteString(out)
		calls = append(calls, cs...)
	}
	out, cs := p.Flush()
	visible.WriteString(out)
	calls = append(calls, cs...)

	assert.Equal(t, "Checking the file.  Done.", visible.String())
	require.Len(t, calls, 1)
	assert.Equal(t, "mcp_read_file", calls[0].Name)
	assert.JSONEq(t, `{"path": "main.go"}`, calls[0].Input)
}

func TestSentinelParserFlushOpenBlock(t *testing.T) {
	// The closing tag is registered as a stop sequence, so the block is
	// normally still open when the stream ends.
	p := &sentinelParser{}

	out, calls := p.Push("<TOOL_SENTINEL>mcp_run_shell_command\n{\"command\": \"ls\"}")
	assert.Empty(t, out)
	assert.Empty(t, calls)

	out, calls = p.Flush()
	assert.Empty(t, out)
	require.Len(t, calls, 1)
	assert.Equal(t, "mcp_run_shell_command", calls[0].Name)
	assert.JSONEq(t, `{"command": "ls"}`, calls[0].Input)
}

func TestSentinelParserMissingInputDefaultsToEmptyObject(t *testing.T) {
	p := &sentinelParser{}
	p.Push("<TOOL_SENTINEL>mcp_list_files")
	_, calls := p.Flush()
	require.Len(t, calls, 1)
	assert.Equal(t, "{}", calls[0].Input)
}

func TestSentinelParserMalformedBlockReturnsText(t *testing.T) {
	p := &sentinelParser{}
	out, calls := p.Push("<TOOL_SENTINEL>{\"not\": \"a name\"}</TOOL_SENTINEL>")
	assert.Empty(t, calls)
	assert.Equal(t, "{\"not\": \"a name\"}", out)
}

func TestSentinelParserHoldsMarkerPrefix(t *testing.T) {
	p := &sentinelParser{}

	out, _ := p.Push("a < b and <TOOL_")
	assert.Equal(t, "a < b and ", out)

	// The held fragment turns out to be plain text.
	out, _ = p.Push("SHED> c")
	assert.Equal(t, "<TOOL_SHED> c", out)
}

func TestRunSentinelToolCall(t *testing.T) {
	mgr := readFileManager()
	llm := &scriptedLLM{turns: []scriptedTurn{
		{chunks: []*model.Chunk{
			model.TextDelta("Let me check.\n<TOOL_SENTINEL>mcp_read_file\n"),
			model.TextDelta(`{"path": "main.go"}`),
			model.MessageStop("stop_sequence", nil),
		}},
		{chunks: []*model.Chunk{
			model.TextDelta("The file declares package main. "),
			model.MessageStop("end_turn", nil),
		}},
	}}
	loop := NewLoop(llm, tool.NewRegistry(mgr), nil, WithSentinelTools())

	events := collect(loop.Run(context.Background(), &Request{
		ConversationID: "conv-sentinel",
		Messages:       userQuestion("what package is main.go?"),
	}))

	assert.Equal(t, 1, mgr.callCount())
	text := joinText(events)
	assert.NotContains(t, text, "TOOL_SENTINEL")
	assert.Contains(t, text, "package main")

	types := eventTypes(withoutHeartbeats(events))
	assert.Contains(t, types, EventToolStart)
	assert.Contains(t, types, EventToolDisplay)
	assert.Equal(t, EventStreamEnd, types[len(types)-1])

	// The loop supplies the closing tag as its own stop sequence.
	reqs := llm.recorded()
	require.NotEmpty(t, reqs)
	assert.Equal(t, []string{SentinelStopSequence}, reqs[0].Params["stop"])

	// The executed call is reconciled as structured blocks.
	second := reqs[1].Messages
	var sawToolUse, sawToolResult bool
	for _, msg := range second {
		for _, b := range msg.Blocks {
			switch b.Type {
			case model.BlockToolUse:
				sawToolUse = true
			case model.BlockToolResult:
				sawToolResult = true
			}
		}
	}
	assert.True(t, sawToolUse)
	assert.True(t, sawToolResult)
}

func TestRunSentinelDuplicateCallSkipped(t *testing.T) {
	mgr := readFileManager()
	block := "<TOOL_SENTINEL>mcp_read_file\n{\"path\": \"main.go\"}</TOOL_SENTINEL>"
	llm := &scriptedLLM{turns: []scriptedTurn{
		{chunks: []*model.Chunk{
			model.TextDelta(block + "\n" + block),
			model.MessageStop("stop_sequence", nil),
		}},
		{chunks: []*model.Chunk{
			model.TextDelta("Done. "),
			model.MessageStop("end_turn", nil),
		}},
	}}
	loop := NewLoop(llm, tool.NewRegistry(mgr), nil, WithSentinelTools())

	collect(loop.Run(context.Background(), &Request{
		ConversationID: "conv-sentinel-dup",
		Messages:       userQuestion("read it twice"),
	}))

	assert.Equal(t, 1, mgr.callCount())
}
