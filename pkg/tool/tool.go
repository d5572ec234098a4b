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

// Package tool defines the tool surface the model sees: definitions with
// JSON-schema inputs, streaming call bookkeeping, the registry that merges
// tool sources under the mcp_ prefix, and the built-in shell toolset.
package tool

import "context"

// Prefix qualifies every tool name surfaced to the model.
const Prefix = "mcp_"

// Definition is one tool as advertised to a model backend.
type Definition struct {
	Name        string
	Description string

	// Parameters is the JSON-schema input spec in map form.
	Parameters map[string]any
}

// ToolCall tracks one in-flight tool invocation during streaming:
// identity arrives first, input JSON accumulates fragment by fragment.
type ToolCall struct {
	ID   string
	Name string

	// PartialInput is the concatenation of input fragments so far.
	PartialInput string

	// Index is the provider content-block index the call streams at.
	Index int
}

// ToolResult is the outcome of one invocation, fed back to the model as a
// tool_result block.
type ToolResult struct {
	ToolUseID string
	ToolName  string
	Content   string
	IsError   bool
}

// Manager is a source of tools: the MCP manager, the shell toolset, or a
// test fake. Names here are unprefixed; the registry adds the prefix.
type Manager interface {
	// ListTools returns the currently available tools.
	ListTools(ctx context.Context) ([]Definition, error)

	// CallTool invokes a tool by its unprefixed name. The result is the
	// provider-shaped payload; callers normalize it with NormalizeResult.
	CallTool(ctx context.Context, name string, args map[string]any) (any, error)
}

// FallbackSchema is substituted when a tool's schema cannot be converted
// to the backend shape.
func FallbackSchema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}
