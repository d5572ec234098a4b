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

// Package openai implements the model driver for OpenAI-compatible
// chat/completions backends: raw HTTP with SSE, tool_calls delta assembly.
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/ziya-ai/ziya/pkg/httpclient"
	"github.com/ziya-ai/ziya/pkg/model"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Config holds driver construction parameters.
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// Driver speaks the chat/completions wire format.
type Driver struct {
	desc   *model.Descriptor
	cfg    Config
	client *httpclient.Client
}

var _ model.LLM = (*Driver)(nil)

// New builds a driver. Transport retries are disabled; the retry budget
// lives in model.Retrier.
func New(desc *model.Descriptor, cfg Config) (*Driver, error) {
	if cfg.APIKey == "" {
		return nil, model.NewError(model.KindAuth, "openai: no API key configured")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	client := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		httpclient.WithRetryStrategy(func(int) httpclient.RetryStrategy { return httpclient.NoRetry }),
		httpclient.WithHeaderParser(httpclient.ParseOpenAIHeaders),
	)
	return &Driver{desc: desc, cfg: cfg, client: client}, nil
}

func (d *Driver) Name() string         { return d.desc.ModelID }
func (d *Driver) Family() model.Family { return model.FamilyOpenAI }
func (d *Driver) Close() error         { return nil }

func (d *Driver) Invoke(ctx context.Context, req *model.Request) (*model.Message, error) {
	return model.Collect(d.Stream(ctx, req))
}

// Wire structures.

type apiRequest struct {
	Model       string       `json:"model"`
	Messages    []apiMessage `json:"messages"`
	Tools       []apiTool    `json:"tools,omitempty"`
	ToolChoice  string       `json:"tool_choice,omitempty"`
	Stream      bool         `json:"stream"`
	MaxTokens   *int         `json:"max_tokens,omitempty"`
	Temperature *float64     `json:"temperature,omitempty"`
	TopP        *float64     `json:"top_p,omitempty"`
	Stop        []string     `json:"stop,omitempty"`
}

type apiMessage struct {
	Role       string        `json:"role"`
	Content    string        `json:"content,omitempty"`
	ToolCalls  []apiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
}

type apiToolCall struct {
	ID       string      `json:"id"`
	Type     string      `json:"type"`
	Function apiFunction `json:"function"`
}

type apiFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type apiTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description,omitempty"`
		Parameters  map[string]any `json:"parameters"`
	} `json:"function"`
}

func (d *Driver) buildBody(req *model.Request) (*apiRequest, error) {
	body := &apiRequest{
		Model:  d.desc.ModelID,
		Stream: true,
	}

	if v, ok := req.Params["max_tokens"]; ok {
		if n, ok := asInt(v); ok {
			body.MaxTokens = &n
		}
	}
	if v, ok := req.Params["temperature"]; ok {
		if f, ok := asFloat(v); ok {
			body.Temperature = &f
		}
	}
	if v, ok := req.Params["top_p"]; ok {
		if f, ok := asFloat(v); ok {
			body.TopP = &f
		}
	}
	if v, ok := req.Params["stop"]; ok {
		body.Stop = asStrings(v)
	}

	for _, msg := range req.Messages {
		encoded, err := encodeMessage(msg)
		if err != nil {
			return nil, err
		}
		body.Messages = append(body.Messages, encoded...)
	}

	for _, t := range req.Tools {
		var at apiTool
		at.Type = "function"
		at.Function.Name = t.Name
		at.Function.Description = t.Description
		at.Function.Parameters = t.Parameters
		body.Tools = append(body.Tools, at)
	}
	if len(body.Tools) > 0 {
		body.ToolChoice = "auto"
	}
	return body, nil
}

// encodeMessage maps one message onto the chat/completions shape. A user
// message made of tool results becomes one "tool" role message per result.
func encodeMessage(msg *model.Message) ([]apiMessage, error) {
	switch msg.Role {
	case model.RoleSystem:
		return []apiMessage{{Role: "system", Content: msg.Text()}}, nil

	case model.RoleAssistant:
		out := apiMessage{Role: "assistant", Content: msg.Text()}
		for _, b := range msg.Blocks {
			if b.Type != model.BlockToolUse {
				continue
			}
			args, err := json.Marshal(b.Input)
			if err != nil {
				return nil, fmt.Errorf("openai: encoding tool input: %w", err)
			}
			out.ToolCalls = append(out.ToolCalls, apiToolCall{
				ID:       b.ID,
				Type:     "function",
				Function: apiFunction{Name: b.Name, Arguments: string(args)},
			})
		}
		return []apiMessage{out}, nil

	case model.RoleUser:
		var results []apiMessage
		var text string
		for _, b := range msg.Blocks {
			switch b.Type {
			case model.BlockText:
				text += b.Text
			case model.BlockToolResult:
				results = append(results, apiMessage{
					Role:       "tool",
					Content:    b.Content,
					ToolCallID: b.ToolUseID,
				})
			}
		}
		if len(results) > 0 {
			return results, nil
		}
		return []apiMessage{{Role: "user", Content: text}}, nil
	}
	return nil, fmt.Errorf("openai: unsupported role %q", msg.Role)
}

// SSE delta payloads.

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (d *Driver) Stream(ctx context.Context, req *model.Request) iter.Seq2[*model.Chunk, error] {
	return func(yield func(*model.Chunk, error) bool) {
		body, err := d.buildBody(req)
		if err != nil {
			yield(nil, err)
			return
		}
		payload, err := json.Marshal(body)
		if err != nil {
			yield(nil, fmt.Errorf("openai: encoding request: %w", err))
			return
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
		if err != nil {
			yield(nil, err)
			return
		}
		httpReq.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(payload)), nil
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+d.cfg.APIKey)
		httpReq.Header.Set("Accept", "text/event-stream")

		// With retries disabled the client hands back the response
		// alongside the error on a bad status; the body carries the
		// provider's message, so prefer it over the bare error.
		resp, err := d.client.Do(httpReq)
		if resp == nil {
			yield(nil, fmt.Errorf("openai: request failed: %w", err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
			yield(nil, &model.ProviderError{Provider: "openai", Status: resp.StatusCode, Raw: string(raw)})
			return
		}

		d.readStream(resp.Body, yield)
	}
}

// readStream assembles delta frames. Tool calls stream at content-block
// index j+1 (text occupies index 0); finish_reason closes open tool
// indexes in order before the final message stop.
func (d *Driver) readStream(body io.Reader, yield func(*model.Chunk, error) bool) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 10*1024*1024)

	started := make(map[int]bool)
	var finishReason string
	usage := &model.Usage{}

	closeOpenTools := func() bool {
		indexes := make([]int, 0, len(started))
		for idx := range started {
			indexes = append(indexes, idx)
		}
		sort.Ints(indexes)
		for _, idx := range indexes {
			if !yield(model.ContentBlockStop(idx), nil) {
				return false
			}
			delete(started, idx)
		}
		return true
	}

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			break
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}
		if chunk.Usage != nil {
			usage.InputTokens = chunk.Usage.PromptTokens
			usage.OutputTokens = chunk.Usage.CompletionTokens
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		if choice.Delta.Content != "" {
			if !yield(model.TextDelta(choice.Delta.Content), nil) {
				return
			}
		}

		for _, tc := range choice.Delta.ToolCalls {
			index := tc.Index + 1
			if tc.ID != "" && !started[index] {
				started[index] = true
				if !yield(model.ToolUseStart(tc.ID, tc.Function.Name, index), nil) {
					return
				}
			}
			if tc.Function.Arguments != "" {
				if !yield(model.ToolInputDelta(index, tc.Function.Arguments), nil) {
					return
				}
			}
		}

		if choice.FinishReason != "" {
			finishReason = choice.FinishReason
			if !closeOpenTools() {
				return
			}
		}
	}

	if err := scanner.Err(); err != nil {
		yield(nil, fmt.Errorf("openai: reading stream: %w", err))
		return
	}
	if !closeOpenTools() {
		return
	}
	yield(model.MessageStop(normalizeStopReason(finishReason), usage), nil)
}

// normalizeStopReason maps chat/completions finish reasons onto the
// anthropic-shaped vocabulary the loop keys on.
func normalizeStopReason(reason string) string {
	switch reason {
	case "tool_calls":
		return "tool_use"
	case "stop":
		return "end_turn"
	case "length":
		return "max_tokens"
	}
	return reason
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch f := v.(type) {
	case float64:
		return f, true
	case float32:
		return float64(f), true
	case int:
		return float64(f), true
	}
	return 0, false
}

func asStrings(v any) []string {
	switch s := v.(type) {
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	case string:
		return []string{s}
	}
	return nil
}
