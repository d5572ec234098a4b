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
	"time"

	"github.com/ziya-ai/ziya/pkg/model"
	"github.com/ziya-ai/ziya/pkg/tool"
)

// EventType discriminates the events the loop hands to the SSE framer.
type EventType string

const (
	EventText              EventType = "text"
	EventThinking          EventType = "thinking"
	EventToolStart         EventType = "tool_start"
	EventToolDisplay       EventType = "tool_display"
	EventHeartbeat         EventType = "heartbeat"
	EventIterationContinue EventType = "iteration_continue"
	EventStreamEnd         EventType = "stream_end"
	EventError             EventType = "error"
)

// ToolSummary is one tool outcome reported inside an error envelope.
type ToolSummary struct {
	ToolUseID string `json:"tool_use_id"`
	ToolName  string `json:"tool_name"`
	Result    string `json:"result"`
}

// ExecutionSummary aggregates tool activity for an error envelope.
type ExecutionSummary struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
}

// Event is one frame handed to the SSE framer. The Type field selects
// which other fields are meaningful; error envelopes carry Type "error"
// plus the envelope fields.
type Event struct {
	Type        EventType `json:"type,omitempty"`
	TimestampMS int64     `json:"timestamp_ms,omitempty"`

	// Content for text and thinking events.
	Content string `json:"content,omitempty"`

	// Tool fields for tool_start and tool_display.
	ToolID   string         `json:"tool_id,omitempty"`
	ToolName string         `json:"tool_name,omitempty"`
	Args     map[string]any `json:"args,omitempty"`
	Result   string         `json:"result,omitempty"`

	// Iteration for iteration_continue.
	Iteration int `json:"iteration,omitempty"`

	// Code-block continuation markers on text events.
	CodeBlockContinuation bool   `json:"code_block_continuation,omitempty"`
	BlockType             string `json:"block_type,omitempty"`
	RewindComment         string `json:"rewind_comment,omitempty"`

	// Error envelope.
	Error                 string            `json:"error,omitempty"`
	Detail                string            `json:"detail,omitempty"`
	StatusCode            int               `json:"status_code,omitempty"`
	RetryAfterSeconds     int               `json:"retry_after,omitempty"`
	PreservedContent      string            `json:"preserved_content,omitempty"`
	PreservedText         string            `json:"preserved_text,omitempty"`
	SuccessfulToolResults []ToolSummary     `json:"successful_tool_results,omitempty"`
	PreStreamingWork      bool              `json:"pre_streaming_work,omitempty"`
	ToolExecutionSummary  *ExecutionSummary `json:"tool_execution_summary,omitempty"`
	StreamID              string            `json:"stream_id,omitempty"`
}

func now() int64 { return time.Now().UnixMilli() }

func textEvent(content string) *Event {
	return &Event{Type: EventText, Content: content, TimestampMS: now()}
}

func thinkingEvent(content string) *Event {
	return &Event{Type: EventThinking, Content: content, TimestampMS: now()}
}

func toolStartEvent(call *tool.ToolCall) *Event {
	return &Event{
		Type:        EventToolStart,
		ToolID:      call.ID,
		ToolName:    call.Name,
		TimestampMS: now(),
	}
}

func toolDisplayEvent(call *tool.ToolCall, args map[string]any, result string) *Event {
	return &Event{
		Type:        EventToolDisplay,
		ToolID:      call.ID,
		ToolName:    call.Name,
		Args:        args,
		Result:      result,
		TimestampMS: now(),
	}
}

func heartbeatEvent() *Event {
	return &Event{Type: EventHeartbeat, TimestampMS: now()}
}

func iterationContinueEvent(iteration int) *Event {
	return &Event{Type: EventIterationContinue, Iteration: iteration, TimestampMS: now()}
}

func streamEndEvent() *Event {
	return &Event{Type: EventStreamEnd, TimestampMS: now()}
}

// errorEnvelope renders a classified failure for the client, preserving
// whatever the stream produced before it died.
func (l *Loop) errorEnvelope(err *model.Error, preservedContent, preservedText string, results []tool.ToolResult, streamedAnything bool) *Event {
	ev := &Event{
		Type:             EventError,
		Error:            string(model.PublicKind(err.Kind)),
		Detail:           err.Message,
		StatusCode:       err.Status,
		PreservedContent: preservedContent,
		PreservedText:    preservedText,
		PreStreamingWork: !streamedAnything,
		StreamID:         l.streamID,
		TimestampMS:      now(),
	}
	if err.RetryAfter > 0 {
		ev.RetryAfterSeconds = int(err.RetryAfter.Seconds())
	}
	summary := &ExecutionSummary{}
	for _, r := range results {
		summary.Attempted++
		if !r.IsError {
			summary.Succeeded++
			ev.SuccessfulToolResults = append(ev.SuccessfulToolResults, ToolSummary{
				ToolUseID: r.ToolUseID,
				ToolName:  r.ToolName,
				Result:    r.Content,
			})
		}
	}
	if summary.Attempted > 0 {
		ev.ToolExecutionSummary = summary
	}
	return ev
}
