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

package anthropic

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ziya-ai/ziya/pkg/model"
	"github.com/ziya-ai/ziya/pkg/tool"
)

func testDescriptor() *model.Descriptor {
	return &model.Descriptor{
		Name:                  "claude-sonnet",
		Endpoint:              model.EndpointAnthropic,
		Family:                model.FamilyAnthropic,
		ModelID:               "claude-sonnet-4-5",
		TokenLimit:            200_000,
		MaxOutputTokens:       64_000,
		SupportedParameters:   []string{"temperature", "top_k", "top_p", "max_tokens", "stop", "thinking_mode"},
		ExtendedContextHeader: "context-1m-2025-08-07",
		SupportsCaching:       true,
		SupportsThinking:      true,
		NativeTools:           true,
	}
}

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := New(testDescriptor(), Config{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, &model.Error{Kind: model.KindAuth}))
}

func TestBuildBodyMapsParamsAndTools(t *testing.T) {
	d, err := New(testDescriptor(), Config{APIKey: "test-key"})
	require.NoError(t, err)

	req := &model.Request{
		Messages: []*model.Message{
			model.NewTextMessage(model.RoleUser, "hello"),
		},
		Tools: []tool.Definition{
			{
				Name:        "read_file",
				Description: "Read a file from the workspace.",
				Parameters:  map[string]any{"type": "object"},
			},
		},
		Params: map[string]any{
			"max_tokens":    1024,
			"temperature":   0.2,
			"top_k":         40,
			"thinking_mode": true,
		},
	}

	body, err := d.buildBody(req)
	require.NoError(t, err)

	assert.Equal(t, "claude-sonnet-4-5", body.Model)
	assert.Equal(t, 1024, body.MaxTokens)
	require.NotNil(t, body.Temperature)
	assert.Equal(t, 0.2, *body.Temperature)
	require.NotNil(t, body.TopK)
	assert.Equal(t, 40, *body.TopK)
	assert.Nil(t, body.TopP)
	require.NotNil(t, body.Thinking)
	assert.Equal(t, "enabled", body.Thinking.Type)

	require.Len(t, body.Tools, 1)
	assert.Equal(t, "read_file", body.Tools[0].Name)
	require.NotNil(t, body.ToolChoice)
	assert.Equal(t, "auto", body.ToolChoice.Type)
}

func TestBuildBodyDefaultsWithoutParams(t *testing.T) {
	d, err := New(testDescriptor(), Config{APIKey: "test-key"})
	require.NoError(t, err)

	body, err := d.buildBody(&model.Request{
		Messages: []*model.Message{model.NewTextMessage(model.RoleUser, "hi")},
	})
	require.NoError(t, err)

	assert.Equal(t, 64_000, body.MaxTokens)
	assert.Nil(t, body.Temperature)
	assert.Nil(t, body.Thinking)
	assert.Nil(t, body.ToolChoice)
	assert.True(t, body.Stream)
}

func TestBuildBodySystemCacheControl(t *testing.T) {
	d, err := New(testDescriptor(), Config{APIKey: "test-key"})
	require.NoError(t, err)

	sys := model.NewSystemMessage("you are helpful")
	sys.CacheControl = model.CacheEphemeral()

	body, err := d.buildBody(&model.Request{
		Messages: []*model.Message{
			sys,
			model.NewTextMessage(model.RoleUser, "hello"),
		},
	})
	require.NoError(t, err)

	require.Len(t, body.System, 1)
	assert.Equal(t, "you are helpful", body.System[0].Text)
	require.NotNil(t, body.System[0].CacheControl)
	assert.Equal(t, "ephemeral", body.System[0].CacheControl.Type)

	require.Len(t, body.Messages, 1)
	assert.Nil(t, body.Messages[0].Content[0].CacheControl)
}

func TestEncodeMessageCacheControlOnFinalBlock(t *testing.T) {
	msg := &model.Message{
		Role: model.RoleUser,
		Blocks: []model.Block{
			model.TextBlock("first"),
			model.TextBlock("second"),
		},
		CacheControl: model.CacheEphemeral(),
	}

	encoded, err := encodeMessage(msg)
	require.NoError(t, err)
	require.Len(t, encoded.Content, 2)
	assert.Nil(t, encoded.Content[0].CacheControl)
	require.NotNil(t, encoded.Content[1].CacheControl)
}

func TestEncodeMessageToolUseNilInput(t *testing.T) {
	msg := &model.Message{
		Role:   model.RoleAssistant,
		Blocks: []model.Block{model.ToolUseBlock("toolu_1", "list_files", nil)},
	}

	encoded, err := encodeMessage(msg)
	require.NoError(t, err)
	require.Len(t, encoded.Content, 1)
	assert.Equal(t, "tool_use", encoded.Content[0].Type)
	assert.NotNil(t, encoded.Content[0].Input)
}

func TestNewRequestHeaders(t *testing.T) {
	d, err := New(testDescriptor(), Config{APIKey: "test-key"})
	require.NoError(t, err)

	req := &model.Request{
		Messages: []*model.Message{model.NewTextMessage(model.RoleUser, "hi")},
	}

	httpReq, err := d.newRequest(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "test-key", httpReq.Header.Get("x-api-key"))
	assert.Equal(t, "2023-06-01", httpReq.Header.Get("anthropic-version"))
	assert.Empty(t, httpReq.Header.Get("anthropic-beta"))

	req.ExtendedContext = true
	httpReq, err = d.newRequest(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "context-1m-2025-08-07", httpReq.Header.Get("anthropic-beta"))
}

const streamTranscript = `event: message_start
data: {"type":"message_start","message":{"usage":{"input_tokens":50,"cache_read_input_tokens":30}}}

event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Let me check."}}

event: content_block_start
data: {"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_1","name":"read_file"}}

event: content_block_delta
data: {"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"path\":\"main.go\"}"}}

event: content_block_stop
data: {"type":"content_block_stop","index":1}

event: message_delta
data: {"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":12}}

event: message_stop
data: {"type":"message_stop"}
`

func TestStreamMapsEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(streamTranscript))
	}))
	defer srv.Close()

	d, err := New(testDescriptor(), Config{APIKey: "test-key", BaseURL: srv.URL})
	require.NoError(t, err)

	var chunks []*model.Chunk
	for chunk, err := range d.Stream(context.Background(), &model.Request{
		Messages: []*model.Message{model.NewTextMessage(model.RoleUser, "hi")},
	}) {
		require.NoError(t, err)
		chunks = append(chunks, chunk)
	}

	require.Len(t, chunks, 5)

	assert.Equal(t, model.ChunkTextDelta, chunks[0].Type)
	assert.Equal(t, "Let me check.", chunks[0].Text)

	assert.Equal(t, model.ChunkToolUseStart, chunks[1].Type)
	assert.Equal(t, "toolu_1", chunks[1].ID)
	assert.Equal(t, "read_file", chunks[1].Name)
	assert.Equal(t, 1, chunks[1].Index)

	assert.Equal(t, model.ChunkToolInputDelta, chunks[2].Type)
	assert.Equal(t, `{"path":"main.go"}`, chunks[2].Fragment)

	assert.Equal(t, model.ChunkContentBlockStop, chunks[3].Type)

	assert.Equal(t, model.ChunkMessageStop, chunks[4].Type)
	assert.Equal(t, "tool_use", chunks[4].StopReason)
	require.NotNil(t, chunks[4].Usage)
	assert.Equal(t, 50, chunks[4].Usage.InputTokens)
	assert.Equal(t, 30, chunks[4].Usage.CacheReadTokens)
	assert.Equal(t, 12, chunks[4].Usage.OutputTokens)
}

func TestStreamNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"type":"rate_limit_error","message":"rate limit exceeded"}}`))
	}))
	defer srv.Close()

	d, err := New(testDescriptor(), Config{APIKey: "test-key", BaseURL: srv.URL})
	require.NoError(t, err)

	var streamErr error
	for _, err := range d.Stream(context.Background(), &model.Request{
		Messages: []*model.Message{model.NewTextMessage(model.RoleUser, "hi")},
	}) {
		if err != nil {
			streamErr = err
			break
		}
	}

	require.Error(t, streamErr)
	var provider *model.ProviderError
	require.True(t, errors.As(streamErr, &provider))
	assert.Equal(t, http.StatusTooManyRequests, provider.Status)
	assert.Equal(t, model.KindThrottling, model.Classify(streamErr).Kind)
}

func TestReadStreamFallbackStopOnClose(t *testing.T) {
	d, err := New(testDescriptor(), Config{APIKey: "test-key"})
	require.NoError(t, err)

	// Connection closed without a message_stop event.
	body := "data: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"partial\"}}\n"

	var chunks []*model.Chunk
	d.readStream(strings.NewReader(body), func(c *model.Chunk, err error) bool {
		require.NoError(t, err)
		chunks = append(chunks, c)
		return true
	})

	require.Len(t, chunks, 2)
	assert.Equal(t, model.ChunkTextDelta, chunks[0].Type)
	assert.Equal(t, model.ChunkMessageStop, chunks[1].Type)
}
