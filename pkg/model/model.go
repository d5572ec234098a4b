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

// Package model defines the uniform language-model abstraction: the LLM
// interface, the Message/Block conversation data model, the streaming Chunk
// variants, the descriptor registry, parameter filtering, the error
// taxonomy, and the retry wrapper. Concrete drivers live in subpackages.
package model

import (
	"context"
	"iter"

	"github.com/ziya-ai/ziya/pkg/tool"
)

// Family tags the provider wire dialect a descriptor speaks.
type Family string

const (
	FamilyAnthropic Family = "anthropic"
	FamilyNova      Family = "nova"
	FamilyOpenAI    Family = "openai"
	FamilyGemini    Family = "gemini"
)

// Request is a single model invocation. Params must already be filtered
// against the descriptor; drivers pass them through verbatim.
type Request struct {
	Messages []*Message
	Tools    []tool.Definition
	Params   map[string]any

	// ExtendedContext asks the driver to inject the descriptor's
	// extended-context header. Set by the retry wrapper on a
	// context-limit re-issue.
	ExtendedContext bool
}

// Clone returns a shallow copy with its own Params map, so a retry attempt
// can adjust parameters without mutating the caller's request.
func (r *Request) Clone() *Request {
	params := make(map[string]any, len(r.Params))
	for k, v := range r.Params {
		params[k] = v
	}
	return &Request{
		Messages:        r.Messages,
		Tools:           r.Tools,
		Params:          params,
		ExtendedContext: r.ExtendedContext,
	}
}

// LLM is the uniform driver interface. Stream yields normalized chunks;
// provider failures travel on the error side of the iterator as classified
// *Error values. Drivers never add filler text and never synthesize tool
// calls the model did not make.
type LLM interface {
	// Name returns the canonical model identifier.
	Name() string

	// Family returns the wire dialect the driver speaks.
	Family() Family

	// Invoke runs one non-streaming call and returns the complete
	// assistant message.
	Invoke(ctx context.Context, req *Request) (*Message, error)

	// Stream runs one streaming call, yielding normalized chunks until
	// message stop or failure.
	Stream(ctx context.Context, req *Request) iter.Seq2[*Chunk, error]

	// Close releases any resources held by the driver.
	Close() error
}

// Collect drains a stream into a single assistant message, assembling tool
// call input fragments by content-block index. Drivers that only speak
// streaming derive Invoke from it.
func Collect(seq iter.Seq2[*Chunk, error]) (*Message, error) {
	type pending struct {
		id    string
		name  string
		input string
	}

	var text string
	open := make(map[int]*pending)
	var done []*pending

	for chunk, err := range seq {
		if err != nil {
			return nil, err
		}
		switch chunk.Type {
		case ChunkTextDelta:
			text += chunk.Text
		case ChunkToolUseStart:
			open[chunk.Index] = &pending{id: chunk.ID, name: chunk.Name}
		case ChunkToolInputDelta:
			if p, ok := open[chunk.Index]; ok {
				p.input += chunk.Fragment
			}
		case ChunkContentBlockStop:
			if p, ok := open[chunk.Index]; ok {
				done = append(done, p)
				delete(open, chunk.Index)
			}
		}
	}
	// Providers occasionally stop without closing open blocks.
	for _, p := range open {
		done = append(done, p)
	}

	msg := &Message{Role: RoleAssistant}
	if text != "" {
		msg.Blocks = append(msg.Blocks, TextBlock(text))
	}
	for _, p := range done {
		input, err := ParseToolInput(p.input)
		if err != nil {
			return nil, err
		}
		msg.Blocks = append(msg.Blocks, ToolUseBlock(p.id, p.name, input))
	}
	return msg, nil
}
