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

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Role identifies the sender of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// BlockType tags a content block. Only the three block types below are
// ever submitted to a model; everything else is frontend-only and is
// stripped by Sanitize before submission.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// CacheControl marks a message (or its final block on the wire) as a
// provider-side cache boundary.
type CacheControl struct {
	Type string `json:"type"`
}

// CacheEphemeral is the only cache control type providers currently accept.
func CacheEphemeral() *CacheControl {
	return &CacheControl{Type: "ephemeral"}
}

// Block is one typed content block inside a message.
type Block struct {
	Type BlockType

	// Text for BlockText.
	Text string

	// ID, Name, Input for BlockToolUse. Name is also set on
	// BlockToolResult, for backends that key results by function name.
	ID    string
	Name  string
	Input map[string]any

	// ToolUseID, Content, IsError for BlockToolResult.
	ToolUseID string
	Content   string
	IsError   bool
}

// TextBlock builds a text content block.
func TextBlock(text string) Block {
	return Block{Type: BlockText, Text: text}
}

// ToolUseBlock builds a tool_use content block.
func ToolUseBlock(id, name string, input map[string]any) Block {
	return Block{Type: BlockToolUse, ID: id, Name: name, Input: input}
}

// ToolResultBlock builds a tool_result content block. name is the tool
// that produced the result.
func ToolResultBlock(toolUseID, name, content string, isError bool) Block {
	return Block{Type: BlockToolResult, ToolUseID: toolUseID, Name: name, Content: content, IsError: isError}
}

// Message is one conversation entry: a role plus ordered content blocks.
type Message struct {
	Role   Role
	Blocks []Block

	// CacheControl marks this message as a cache boundary. Drivers attach
	// it to the last content block on the wire.
	CacheControl *CacheControl
}

// NewTextMessage builds a message holding a single text block.
func NewTextMessage(role Role, text string) *Message {
	return &Message{Role: role, Blocks: []Block{TextBlock(text)}}
}

// NewSystemMessage builds a system message.
func NewSystemMessage(text string) *Message {
	return NewTextMessage(RoleSystem, text)
}

// Text returns the concatenated text blocks of the message.
func (m *Message) Text() string {
	var sb strings.Builder
	for _, b := range m.Blocks {
		if b.Type == BlockText {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// HasToolUse reports whether the message contains any tool_use block.
func (m *Message) HasToolUse() bool {
	for _, b := range m.Blocks {
		if b.Type == BlockToolUse {
			return true
		}
	}
	return false
}

// ToolUseIDs returns the tool_use ids in block order.
func (m *Message) ToolUseIDs() []string {
	var ids []string
	for _, b := range m.Blocks {
		if b.Type == BlockToolUse {
			ids = append(ids, b.ID)
		}
	}
	return ids
}

// ToolResultIDs returns the tool_use ids referenced by tool_result blocks,
// in block order.
func (m *Message) ToolResultIDs() []string {
	var ids []string
	for _, b := range m.Blocks {
		if b.Type == BlockToolResult {
			ids = append(ids, b.ToolUseID)
		}
	}
	return ids
}

// MergeSystem normalizes the head of a conversation: system messages are
// moved to the front in order, consecutive system messages beyond two are
// merged with blank-line separators, and cache control markers survive the
// merge by staying attached to the message whose content they covered.
//
// At most two system messages remain: an optional cache-marked stable one
// followed by an optional plain one. Two unmarked (or two marked) system
// messages collapse into one.
func MergeSystem(messages []*Message) []*Message {
	var system []*Message
	var rest []*Message
	for _, m := range messages {
		if m == nil {
			continue
		}
		if m.Role == RoleSystem {
			system = append(system, m)
		} else {
			rest = append(rest, m)
		}
	}

	if len(system) <= 1 {
		return append(system, rest...)
	}

	// Group by cache control: adjacent system messages with the same
	// marker state concatenate.
	var merged []*Message
	for _, m := range system {
		last := len(merged) - 1
		if last >= 0 && sameCacheControl(merged[last].CacheControl, m.CacheControl) {
			merged[last] = concatSystem(merged[last], m)
			continue
		}
		merged = append(merged, &Message{
			Role:         RoleSystem,
			Blocks:       append([]Block(nil), m.Blocks...),
			CacheControl: m.CacheControl,
		})
	}

	return append(merged, rest...)
}

func sameCacheControl(a, b *CacheControl) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	return a == nil || a.Type == b.Type
}

func concatSystem(a, b *Message) *Message {
	return &Message{
		Role:         RoleSystem,
		Blocks:       []Block{TextBlock(a.Text() + "\n\n" + b.Text())},
		CacheControl: a.CacheControl,
	}
}

// ConcatSystemText flattens consecutive system messages into one string
// with blank-line separators, for backends that require a single system
// string. A cache control marker on any input survives on the result.
func ConcatSystemText(messages []*Message) (string, *CacheControl) {
	var parts []string
	var cc *CacheControl
	for _, m := range messages {
		if m.Role != RoleSystem {
			continue
		}
		if t := m.Text(); t != "" {
			parts = append(parts, t)
		}
		if m.CacheControl != nil {
			cc = m.CacheControl
		}
	}
	return strings.Join(parts, "\n\n"), cc
}

// Sanitize strips every block whose type is not a model-facing type and
// drops messages left empty. Frontend-only event types must never reach a
// provider.
func Sanitize(messages []*Message) []*Message {
	out := make([]*Message, 0, len(messages))
	for _, m := range messages {
		if m == nil {
			continue
		}
		blocks := make([]Block, 0, len(m.Blocks))
		for _, b := range m.Blocks {
			switch b.Type {
			case BlockText, BlockToolUse, BlockToolResult:
				blocks = append(blocks, b)
			}
		}
		if len(blocks) == 0 {
			continue
		}
		out = append(out, &Message{Role: m.Role, Blocks: blocks, CacheControl: m.CacheControl})
	}
	return out
}

// ParseToolInput decodes accumulated tool input JSON. Empty or
// whitespace-only input means the model called the tool with no arguments.
func ParseToolInput(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}, nil
	}
	var input map[string]any
	if err := json.Unmarshal([]byte(raw), &input); err != nil {
		return nil, fmt.Errorf("malformed tool input %q: %w", truncate(raw, 200), err)
	}
	return input, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// ValidateConversation checks the submission invariants:
//
//  1. System messages appear only at the head, at most two.
//  2. Every assistant message containing tool_use blocks is immediately
//     followed by a user message carrying one tool_result per tool_use,
//     in the same order, with matching ids.
func ValidateConversation(messages []*Message) error {
	inHead := true
	systemCount := 0
	for i, m := range messages {
		if m.Role == RoleSystem {
			if !inHead {
				return fmt.Errorf("system message at position %d after non-system content", i)
			}
			systemCount++
			if systemCount > 2 {
				return fmt.Errorf("more than two system messages at head")
			}
			continue
		}
		inHead = false

		if m.Role != RoleAssistant || !m.HasToolUse() {
			continue
		}

		if i+1 >= len(messages) {
			return fmt.Errorf("assistant tool_use at position %d has no following tool_result message", i)
		}
		next := messages[i+1]
		if next.Role != RoleUser {
			return fmt.Errorf("assistant tool_use at position %d followed by %s message", i, next.Role)
		}
		useIDs := m.ToolUseIDs()
		resultIDs := next.ToolResultIDs()
		if len(useIDs) != len(resultIDs) {
			return fmt.Errorf("position %d: %d tool_use blocks but %d tool_result blocks", i, len(useIDs), len(resultIDs))
		}
		for j := range useIDs {
			if useIDs[j] != resultIDs[j] {
				return fmt.Errorf("position %d: tool_result order mismatch: %q != %q", i, useIDs[j], resultIDs[j])
			}
		}
	}
	return nil
}
