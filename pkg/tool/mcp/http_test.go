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

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ziya-ai/ziya/pkg/config"
	"github.com/ziya-ai/ziya/pkg/tool"
)

// fakeMCPServer answers initialize, tools/list and tools/call over
// JSON-RPC. When sse is set, responses are framed as one-shot SSE events.
type fakeMCPServer struct {
	sse      bool
	sessions []string
}

func (f *fakeMCPServer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.sessions = append(f.sessions, r.Header.Get("mcp-session-id"))

		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		var result any
		switch req.Method {
		case "initialize":
			w.Header().Set("mcp-session-id", "session-123")
			result = map[string]any{"protocolVersion": protocolVersion}
		case "tools/list":
			result = map[string]any{
				"tools": []any{
					map[string]any{
						"name":        "read_file",
						"description": "Read a file",
						"inputSchema": map[string]any{
							"type":       "object",
							"properties": map[string]any{"path": map[string]any{"type": "string"}},
						},
					},
				},
			}
		case "tools/call":
			params := req.Params.(map[string]any)
			result = map[string]any{
				"content": []any{
					map[string]any{"type": "text", "text": "called " + params["name"].(string)},
				},
			}
		default:
			http.Error(w, "unknown method", http.StatusBadRequest)
			return
		}

		resp, _ := json.Marshal(rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: result})
		if f.sse {
			w.Header().Set("Content-Type", "text/event-stream")
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", resp)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(resp)
	}
}

func newHTTPTestConn(t *testing.T, url string) *httpConn {
	t.Helper()
	conn, err := newHTTPConn(config.MCPServerConfig{
		Name:      "test",
		Transport: "streamable-http",
		URL:       url,
	})
	require.NoError(t, err)
	return conn
}

func TestHTTPConnJSONRoundTrip(t *testing.T) {
	fake := &fakeMCPServer{}
	ts := httptest.NewServer(fake.handler())
	defer ts.Close()

	conn := newHTTPTestConn(t, ts.URL)
	defs, err := conn.connect(context.Background())
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "read_file", defs[0].Name)
	assert.Equal(t, "object", defs[0].Parameters["type"])

	result, err := conn.call(context.Background(), "read_file", map[string]any{"path": "a.go"})
	require.NoError(t, err)
	text, isError := tool.NormalizeResult(result)
	assert.False(t, isError)
	assert.Equal(t, "called read_file", text)
}

func TestHTTPConnSSEResponse(t *testing.T) {
	fake := &fakeMCPServer{sse: true}
	ts := httptest.NewServer(fake.handler())
	defer ts.Close()

	conn := newHTTPTestConn(t, ts.URL)
	defs, err := conn.connect(context.Background())
	require.NoError(t, err)
	require.Len(t, defs, 1)
}

func TestHTTPConnEchoesSessionID(t *testing.T) {
	fake := &fakeMCPServer{}
	ts := httptest.NewServer(fake.handler())
	defer ts.Close()

	conn := newHTTPTestConn(t, ts.URL)
	_, err := conn.connect(context.Background())
	require.NoError(t, err)

	_, err = conn.call(context.Background(), "read_file", nil)
	require.NoError(t, err)

	// initialize carries no session; every later request echoes the one
	// the server assigned.
	require.GreaterOrEqual(t, len(fake.sessions), 3)
	assert.Equal(t, "", fake.sessions[0])
	for _, got := range fake.sessions[1:] {
		assert.Equal(t, "session-123", got)
	}
}

func TestHTTPConnServerToolError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)
		resp, _ := json.Marshal(rpcResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &rpcError{Code: -32000, Message: "tool exploded"},
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(resp)
	}))
	defer ts.Close()

	conn := newHTTPTestConn(t, ts.URL)
	result, err := conn.call(context.Background(), "anything", nil)
	require.NoError(t, err)

	text, isError := tool.NormalizeResult(result)
	assert.True(t, isError)
	assert.Equal(t, "tool exploded", text)
}

func TestReadSSEResponseMultiLineData(t *testing.T) {
	payload := `{"jsonrpc":"2.0","id":1,"result":"ok"}`
	body := "event: message\n" +
		"data: " + payload[:10] + "\n" +
		"data: " + payload[10:] + "\n" +
		"\n"

	resp, err := readSSEResponse(strings.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Result)
}

func TestReadSSEResponseIncompleteStream(t *testing.T) {
	_, err := readSSEResponse(strings.NewReader("event: message\n"))
	assert.Error(t, err)
}
