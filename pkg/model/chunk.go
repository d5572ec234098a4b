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

package model

// ChunkType discriminates the streaming chunk variants every driver
// normalizes its provider's wire format into.
type ChunkType string

const (
	// ChunkTextDelta carries a fragment of assistant text.
	ChunkTextDelta ChunkType = "text_delta"

	// ChunkThinkingDelta carries a fragment of model reasoning. It is
	// surfaced to the UI only and never enters the transcript.
	ChunkThinkingDelta ChunkType = "thinking_delta"

	// ChunkToolUseStart opens a tool call at a content-block index.
	ChunkToolUseStart ChunkType = "tool_use_start"

	// ChunkToolInputDelta carries a fragment of the JSON input for the
	// tool call open at Index.
	ChunkToolInputDelta ChunkType = "tool_input_delta"

	// ChunkContentBlockStop closes the content block at Index. For tool
	// calls this means the input JSON is complete.
	ChunkContentBlockStop ChunkType = "content_block_stop"

	// ChunkMessageStop ends the model turn, carrying the stop reason and
	// token usage when the provider reports them.
	ChunkMessageStop ChunkType = "message_stop"
)

// Usage is the token accounting a provider reports at message stop.
type Usage struct {
	InputTokens         int `json:"input_tokens,omitempty"`
	OutputTokens        int `json:"output_tokens,omitempty"`
	CacheReadTokens     int `json:"cache_read_input_tokens,omitempty"`
	CacheCreationTokens int `json:"cache_creation_input_tokens,omitempty"`
}

// Chunk is one streaming event from a driver. Exactly the fields for its
// Type are set.
type Chunk struct {
	Type ChunkType

	// Text for ChunkTextDelta and ChunkThinkingDelta.
	Text string

	// Index identifies the content block for ChunkToolUseStart,
	// ChunkToolInputDelta, and ChunkContentBlockStop.
	Index int

	// ID and Name for ChunkToolUseStart.
	ID   string
	Name string

	// Fragment for ChunkToolInputDelta.
	Fragment string

	// StopReason and Usage for ChunkMessageStop.
	StopReason string
	Usage      *Usage
}

func TextDelta(text string) *Chunk {
	return &Chunk{Type: ChunkTextDelta, Text: text}
}

func ThinkingDelta(text string) *Chunk {
	return &Chunk{Type: ChunkThinkingDelta, Text: text}
}

func ToolUseStart(id, name string, index int) *Chunk {
	return &Chunk{Type: ChunkToolUseStart, ID: id, Name: name, Index: index}
}

func ToolInputDelta(index int, fragment string) *Chunk {
	return &Chunk{Type: ChunkToolInputDelta, Index: index, Fragment: fragment}
}

func ContentBlockStop(index int) *Chunk {
	return &Chunk{Type: ChunkContentBlockStop, Index: index}
}

func MessageStop(stopReason string, usage *Usage) *Chunk {
	return &Chunk{Type: ChunkMessageStop, StopReason: stopReason, Usage: usage}
}
