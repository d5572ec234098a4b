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
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ziya-ai/ziya/pkg/config"
	"github.com/ziya-ai/ziya/pkg/httpclient"
	"github.com/ziya-ai/ziya/pkg/tool"
)

// sseResponseTimeout bounds reading one JSON-RPC response delivered as an
// SSE stream. Generous to accommodate long-running tools.
const sseResponseTimeout = 5 * time.Minute

// httpConn speaks JSON-RPC 2.0 over POST for the sse and streamable-http
// transports. Servers may answer a POST with either a plain JSON body or a
// one-shot SSE stream; both are handled.
type httpConn struct {
	url     string
	headers map[string]string
	client  *httpclient.Client

	nextID atomic.Int64

	// sessionID is assigned by streamable-http servers on initialize and
	// echoed on every subsequent request.
	sessionMu sync.RWMutex
	sessionID string
}

func newHTTPConn(sc config.MCPServerConfig) (*httpConn, error) {
	transport, err := buildTransport(sc)
	if err != nil {
		return nil, err
	}
	return &httpConn{
		url:     sc.URL,
		headers: sc.Headers,
		client: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{
				Timeout:   sseResponseTimeout,
				Transport: transport,
			}),
			httpclient.WithMaxRetries(3),
			httpclient.WithBaseDelay(2*time.Second),
		),
	}, nil
}

func buildTransport(sc config.MCPServerConfig) (http.RoundTripper, error) {
	if sc.CACertificate == "" && !sc.InsecureSkipVerify {
		return nil, nil
	}

	tlsCfg := &tls.Config{InsecureSkipVerify: sc.InsecureSkipVerify}
	if sc.CACertificate != "" {
		pem, err := os.ReadFile(sc.CACertificate)
		if err != nil {
			return nil, fmt.Errorf("reading ca certificate: %w", err)
		}
		pool, err := x509.SystemCertPool()
		if err != nil {
			pool = x509.NewCertPool()
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates parsed from %s", sc.CACertificate)
		}
		tlsCfg.RootCAs = pool
	}
	return &http.Transport{TLSClientConfig: tlsCfg}, nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      int64     `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *httpConn) connect(ctx context.Context) ([]tool.Definition, error) {
	initResp, err := c.rpc(ctx, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"clientInfo": map[string]any{
			"name":    clientInfo.Name,
			"version": clientInfo.Version,
		},
		"capabilities": map[string]any{},
	})
	if err != nil {
		return nil, fmt.Errorf("initializing mcp session: %w", err)
	}
	if initResp.Error != nil {
		return nil, fmt.Errorf("mcp initialize error: %s", initResp.Error.Message)
	}

	listResp, err := c.rpc(ctx, "tools/list", nil)
	if err != nil {
		return nil, fmt.Errorf("listing tools: %w", err)
	}
	if listResp.Error != nil {
		return nil, fmt.Errorf("mcp tools/list error: %s", listResp.Error.Message)
	}

	resultMap, ok := listResp.Result.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("unexpected tools/list result type %T", listResp.Result)
	}
	rawTools, ok := resultMap["tools"].([]any)
	if !ok {
		return nil, fmt.Errorf("tools missing from tools/list response")
	}

	var defs []tool.Definition
	for _, raw := range rawTools {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		name, _ := entry["name"].(string)
		if name == "" {
			continue
		}
		desc, _ := entry["description"].(string)
		schema, _ := entry["inputSchema"].(map[string]any)
		defs = append(defs, tool.Definition{
			Name:        name,
			Description: desc,
			Parameters:  schema,
		})
	}
	return defs, nil
}

func (c *httpConn) call(ctx context.Context, name string, args map[string]any) (any, error) {
	resp, err := c.rpc(ctx, "tools/call", map[string]any{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		return nil, fmt.Errorf("mcp call failed: %w", err)
	}
	if resp.Error != nil {
		// Server-side tool failure travels back as an error payload, not a
		// Go error, so the model sees it as a tool_result.
		return map[string]any{
			"error":   resp.Error.Code,
			"message": resp.Error.Message,
		}, nil
	}
	return resp.Result, nil
}

func (c *httpConn) close() error { return nil }

// rpc POSTs one JSON-RPC request and decodes the response, following the
// SSE framing when the server answers with text/event-stream.
func (c *httpConn) rpc(ctx context.Context, method string, params any) (*rpcResponse, error) {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	c.sessionMu.RLock()
	sessionID := c.sessionID
	c.sessionMu.RUnlock()
	if sessionID != "" {
		req.Header.Set("mcp-session-id", sessionID)
	}

	httpResp, err := c.client.Do(req)
	if err != nil {
		// The client returns the final response alongside the error
		// once the retry budget runs out.
		if httpResp != nil {
			httpResp.Body.Close()
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if newSession := httpResp.Header.Get("mcp-session-id"); newSession != "" {
		c.sessionMu.Lock()
		c.sessionID = newSession
		c.sessionMu.Unlock()
	}

	if httpResp.StatusCode != http.StatusOK && httpResp.StatusCode != http.StatusAccepted {
		snippet, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return nil, fmt.Errorf("http %d from mcp server: %s", httpResp.StatusCode, string(snippet))
	}

	if strings.Contains(httpResp.Header.Get("Content-Type"), "text/event-stream") {
		return readSSEResponse(httpResp.Body)
	}

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	var resp rpcResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &resp, nil
}

// readSSEResponse extracts the first complete JSON-RPC message from a
// one-shot SSE body. Data lines accumulate until a blank line ends the
// event.
func readSSEResponse(body io.Reader) (*rpcResponse, error) {
	type outcome struct {
		resp *rpcResponse
		err  error
	}
	done := make(chan outcome, 1)

	go func() {
		reader := bufio.NewReader(body)
		var data strings.Builder

		tryParse := func() *rpcResponse {
			if data.Len() == 0 {
				return nil
			}
			var resp rpcResponse
			if err := json.Unmarshal([]byte(data.String()), &resp); err != nil {
				data.Reset()
				return nil
			}
			return &resp
		}

		for {
			line, err := reader.ReadString('\n')
			trimmed := strings.TrimSpace(line)

			if trimmed == "" {
				if resp := tryParse(); resp != nil {
					done <- outcome{resp: resp}
					return
				}
			} else if rest, ok := strings.CutPrefix(trimmed, "data:"); ok {
				data.WriteString(strings.TrimSpace(rest))
			}

			if err != nil {
				if resp := tryParse(); resp != nil {
					done <- outcome{resp: resp}
					return
				}
				done <- outcome{err: fmt.Errorf("sse stream ended without a complete message")}
				return
			}
		}
	}()

	select {
	case out := <-done:
		return out.resp, out.err
	case <-time.After(sseResponseTimeout):
		return nil, fmt.Errorf("timed out reading sse response after %v", sseResponseTimeout)
	}
}
