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

// Package anthropic implements the model driver for the Anthropic Messages
// API: raw HTTP with server-sent events, prompt cache markers, and the
// extended-context beta header.
package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/ziya-ai/ziya/pkg/httpclient"
	"github.com/ziya-ai/ziya/pkg/model"
)

const (
	defaultBaseURL = "https://api.anthropic.com"
	apiVersion     = "2023-06-01"
)

// Config holds driver construction parameters.
type Config struct {
	APIKey  string
	BaseURL string

	// Timeout bounds the whole request. Zero means no client timeout,
	// which is what streaming wants; the loop has its own watchdog.
	Timeout time.Duration
}

// Driver speaks the Anthropic Messages API.
type Driver struct {
	desc   *model.Descriptor
	cfg    Config
	client *httpclient.Client
}

var _ model.LLM = (*Driver)(nil)

// New builds a driver for the descriptor. Transport retries are disabled:
// the retry budget lives in model.Retrier.
func New(desc *model.Descriptor, cfg Config) (*Driver, error) {
	if cfg.APIKey == "" {
		return nil, model.NewError(model.KindAuth, "anthropic: no API key configured")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	client := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		httpclient.WithRetryStrategy(func(int) httpclient.RetryStrategy { return httpclient.NoRetry }),
		httpclient.WithHeaderParser(httpclient.ParseAnthropicHeaders),
	)
	return &Driver{desc: desc, cfg: cfg, client: client}, nil
}

func (d *Driver) Name() string         { return d.desc.ModelID }
func (d *Driver) Family() model.Family { return model.FamilyAnthropic }
func (d *Driver) Close() error         { return nil }

func (d *Driver) Invoke(ctx context.Context, req *model.Request) (*model.Message, error) {
	return model.Collect(d.Stream(ctx, req))
}

// Wire structures for the Messages API.

type apiRequest struct {
	Model         string          `json:"model"`
	MaxTokens     int             `json:"max_tokens"`
	System        []systemBlock   `json:"system,omitempty"`
	Messages      []apiMessage    `json:"messages"`
	Tools         []apiTool       `json:"tools,omitempty"`
	ToolChoice    *apiToolChoice  `json:"tool_choice,omitempty"`
	Stream        bool            `json:"stream"`
	Temperature   *float64        `json:"temperature,omitempty"`
	TopK          *int            `json:"top_k,omitempty"`
	TopP          *float64        `json:"top_p,omitempty"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
	Thinking      *thinkingConfig `json:"thinking,omitempty"`
}

type systemBlock struct {
	Type         string              `json:"type"`
	Text         string              `json:"text"`
	CacheControl *model.CacheControl `json:"cache_control,omitempty"`
}

type apiMessage struct {
	Role    string     `json:"role"`
	Content []apiBlock `json:"content"`
}

type apiBlock struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`

	CacheControl *model.CacheControl `json:"cache_control,omitempty"`
}

type apiTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

type apiToolChoice struct {
	Type string `json:"type"`
}

type thinkingConfig struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens,omitempty"`
}

func (d *Driver) buildBody(req *model.Request) (*apiRequest, error) {
	body := &apiRequest{
		Model:     d.desc.ModelID,
		MaxTokens: d.desc.MaxOutputTokens,
		Stream:    true,
	}

	if v, ok := req.Params["max_tokens"]; ok {
		if n, ok := asInt(v); ok {
			body.MaxTokens = n
		}
	}
	if v, ok := req.Params["temperature"]; ok {
		if f, ok := asFloat(v); ok {
			body.Temperature = &f
		}
	}
	if v, ok := req.Params["top_k"]; ok {
		if n, ok := asInt(v); ok {
			body.TopK = &n
		}
	}
	if v, ok := req.Params["top_p"]; ok {
		if f, ok := asFloat(v); ok {
			body.TopP = &f
		}
	}
	if v, ok := req.Params["thinking_mode"]; ok && d.desc.SupportsThinking {
		if enabled, ok := v.(bool); ok && enabled {
			body.Thinking = &thinkingConfig{Type: "enabled", BudgetTokens: 4096}
		}
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case model.RoleSystem:
			text := msg.Text()
			if text == "" {
				continue
			}
			body.System = append(body.System, systemBlock{
				Type:         "text",
				Text:         text,
				CacheControl: msg.CacheControl,
			})
		default:
			encoded, err := encodeMessage(msg)
			if err != nil {
				return nil, err
			}
			body.Messages = append(body.Messages, encoded)
		}
	}

	for _, t := range req.Tools {
		body.Tools = append(body.Tools, apiTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Parameters,
		})
	}
	if len(body.Tools) > 0 {
		body.ToolChoice = &apiToolChoice{Type: "auto"}
	}

	return body, nil
}

func encodeMessage(msg *model.Message) (apiMessage, error) {
	out := apiMessage{Role: string(msg.Role)}
	for _, b := range msg.Blocks {
		switch b.Type {
		case model.BlockText:
			out.Content = append(out.Content, apiBlock{Type: "text", Text: b.Text})
		case model.BlockToolUse:
			input := b.Input
			if input == nil {
				input = map[string]any{}
			}
			out.Content = append(out.Content, apiBlock{Type: "tool_use", ID: b.ID, Name: b.Name, Input: input})
		case model.BlockToolResult:
			out.Content = append(out.Content, apiBlock{
				Type:      "tool_result",
				ToolUseID: b.ToolUseID,
				Content:   b.Content,
				IsError:   b.IsError,
			})
		default:
			return apiMessage{}, fmt.Errorf("anthropic: unsupported block type %q", b.Type)
		}
	}
	// The cache marker rides on the final content block.
	if msg.CacheControl != nil && len(out.Content) > 0 {
		out.Content[len(out.Content)-1].CacheControl = msg.CacheControl
	}
	return out, nil
}

func (d *Driver) newRequest(ctx context.Context, req *model.Request) (*http.Request, error) {
	body, err := d.buildBody(req)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("anthropic: encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.BaseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(payload)), nil
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", d.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", apiVersion)
	httpReq.Header.Set("Accept", "text/event-stream")
	if req.ExtendedContext && d.desc.ExtendedContextHeader != "" {
		httpReq.Header.Set("anthropic-beta", d.desc.ExtendedContextHeader)
	}
	return httpReq, nil
}

// SSE event payloads.

type streamEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index"`

	ContentBlock *struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`

	Delta *struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
		Thinking    string `json:"thinking"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta"`

	Usage *struct {
		InputTokens              int `json:"input_tokens"`
		OutputTokens             int `json:"output_tokens"`
		CacheReadInputTokens     int `json:"cache_read_input_tokens"`
		CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	} `json:"usage"`

	Message *struct {
		Usage *struct {
			InputTokens              int `json:"input_tokens"`
			CacheReadInputTokens     int `json:"cache_read_input_tokens"`
			CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
		} `json:"usage"`
	} `json:"message"`

	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (d *Driver) Stream(ctx context.Context, req *model.Request) iter.Seq2[*model.Chunk, error] {
	return func(yield func(*model.Chunk, error) bool) {
		httpReq, err := d.newRequest(ctx, req)
		if err != nil {
			yield(nil, err)
			return
		}

		// With retries disabled the client hands back the response
		// alongside the error on a bad status; the body carries the
		// provider's message, so prefer it over the bare error.
		resp, err := d.client.Do(httpReq)
		if resp == nil {
			yield(nil, fmt.Errorf("anthropic: request failed: %w", err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
			yield(nil, &model.ProviderError{Provider: "anthropic", Status: resp.StatusCode, Raw: string(raw)})
			return
		}

		d.readStream(resp.Body, yield)
	}
}

// readStream parses the SSE body, mapping wire events 1:1 onto chunks.
func (d *Driver) readStream(body io.Reader, yield func(*model.Chunk, error) bool) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 10*1024*1024)

	var stopReason string
	usage := &model.Usage{}

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")

		var event streamEvent
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			// Skip malformed keep-alive frames rather than killing the stream.
			continue
		}

		switch event.Type {
		case "message_start":
			if event.Message != nil && event.Message.Usage != nil {
				usage.InputTokens = event.Message.Usage.InputTokens
				usage.CacheReadTokens = event.Message.Usage.CacheReadInputTokens
				usage.CacheCreationTokens = event.Message.Usage.CacheCreationInputTokens
			}

		case "content_block_start":
			if event.ContentBlock == nil {
				continue
			}
			if event.ContentBlock.Type == "tool_use" {
				if !yield(model.ToolUseStart(event.ContentBlock.ID, event.ContentBlock.Name, event.Index), nil) {
					return
				}
			}

		case "content_block_delta":
			if event.Delta == nil {
				continue
			}
			switch event.Delta.Type {
			case "text_delta":
				if event.Delta.Text != "" && !yield(model.TextDelta(event.Delta.Text), nil) {
					return
				}
			case "thinking_delta":
				if event.Delta.Thinking != "" && !yield(model.ThinkingDelta(event.Delta.Thinking), nil) {
					return
				}
			case "input_json_delta":
				if !yield(model.ToolInputDelta(event.Index, event.Delta.PartialJSON), nil) {
					return
				}
			}

		case "content_block_stop":
			if !yield(model.ContentBlockStop(event.Index), nil) {
				return
			}

		case "message_delta":
			if event.Delta != nil && event.Delta.StopReason != "" {
				stopReason = event.Delta.StopReason
			}
			if event.Usage != nil {
				usage.OutputTokens = event.Usage.OutputTokens
			}

		case "message_stop":
			yield(model.MessageStop(stopReason, usage), nil)
			return

		case "error":
			msg := "stream error"
			if event.Error != nil {
				msg = event.Error.Message
			}
			yield(nil, &model.ProviderError{Provider: "anthropic", Status: 0, Raw: msg})
			return
		}
	}

	if err := scanner.Err(); err != nil {
		yield(nil, fmt.Errorf("anthropic: reading stream: %w", err))
		return
	}
	// Connection closed without message_stop.
	yield(model.MessageStop(stopReason, usage), nil)
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
