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
	"sync"

	"github.com/mark3labs/mcp-go/client"
	mcpproto "github.com/mark3labs/mcp-go/mcp"

	"github.com/ziya-ai/ziya/pkg/config"
	"github.com/ziya-ai/ziya/pkg/tool"
)

// stdioConn talks to a subprocess MCP server via the mcp-go library.
type stdioConn struct {
	command string
	args    []string
	env     []string

	mu     sync.Mutex
	client *client.Client
}

func newStdioConn(sc config.MCPServerConfig) *stdioConn {
	env := make([]string, 0, len(sc.Env))
	for k, v := range sc.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return &stdioConn{
		command: sc.Command,
		args:    sc.Args,
		env:     env,
	}
}

func (c *stdioConn) connect(ctx context.Context) ([]tool.Definition, error) {
	mcpClient, err := client.NewStdioMCPClient(c.command, c.env, c.args...)
	if err != nil {
		return nil, fmt.Errorf("spawning mcp server: %w", err)
	}

	if err := mcpClient.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting mcp client: %w", err)
	}

	initReq := mcpproto.InitializeRequest{}
	initReq.Params.ProtocolVersion = protocolVersion
	initReq.Params.ClientInfo = mcpproto.Implementation{
		Name:    clientInfo.Name,
		Version: clientInfo.Version,
	}
	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		mcpClient.Close()
		return nil, fmt.Errorf("initializing mcp session: %w", err)
	}

	listResp, err := mcpClient.ListTools(ctx, mcpproto.ListToolsRequest{})
	if err != nil {
		mcpClient.Close()
		return nil, fmt.Errorf("listing tools: %w", err)
	}

	defs := make([]tool.Definition, 0, len(listResp.Tools))
	for _, t := range listResp.Tools {
		defs = append(defs, tool.Definition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  schemaToMap(t.InputSchema),
		})
	}

	c.mu.Lock()
	c.client = mcpClient
	c.mu.Unlock()
	return defs, nil
}

func (c *stdioConn) call(ctx context.Context, name string, args map[string]any) (any, error) {
	c.mu.Lock()
	mcpClient := c.client
	c.mu.Unlock()
	if mcpClient == nil {
		return nil, fmt.Errorf("mcp client not connected")
	}

	req := mcpproto.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	resp, err := mcpClient.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("mcp call failed: %w", err)
	}

	// Round-trip through JSON to get the wire shape ({content, isError})
	// that NormalizeResult understands.
	data, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("encoding mcp result: %w", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decoding mcp result: %w", err)
	}
	return payload, nil
}

func (c *stdioConn) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}

// schemaToMap converts the typed MCP schema to the map form the model
// backends consume.
func schemaToMap(schema mcpproto.ToolInputSchema) map[string]any {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}
