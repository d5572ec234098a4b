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

// Package mcp connects to MCP (Model Context Protocol) tool servers and
// exposes their tools as a tool.Manager.
//
// Connections are lazy: nothing is dialed until the first ListTools or
// CallTool. All configured servers initialize concurrently; a server that
// fails to connect is logged and skipped so one dead server never takes
// the whole tool surface down.
//
// Transport support:
//   - stdio: subprocess communication via the mcp-go library
//   - sse, streamable-http: JSON-RPC 2.0 over HTTP via pkg/httpclient
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ziya-ai/ziya/pkg/config"
	"github.com/ziya-ai/ziya/pkg/logger"
	"github.com/ziya-ai/ziya/pkg/tool"
)

// protocolVersion is the MCP protocol revision spoken during initialize.
const protocolVersion = "2024-11-05"

// clientInfo identifies this process to MCP servers.
var clientInfo = struct {
	Name    string
	Version string
}{Name: "ziya", Version: "1.0.0"}

// conn is one live transport to an MCP server.
type conn interface {
	// connect dials, runs the initialize handshake, and lists tools.
	connect(ctx context.Context) ([]tool.Definition, error)

	// call invokes one tool. The returned payload keeps the provider
	// shape; callers normalize it with tool.NormalizeResult.
	call(ctx context.Context, name string, args map[string]any) (any, error)

	close() error
}

// server is one configured MCP server plus its connection state.
type server struct {
	name    string
	timeout time.Duration
	conn    conn

	tools []tool.Definition
	err   error
}

// Manager aggregates every configured MCP server behind the tool.Manager
// interface. Tool names are unprefixed here; the registry adds the prefix.
type Manager struct {
	log *slog.Logger

	mu      sync.Mutex
	started bool
	servers []*server
	routes  map[string]*server
}

var _ tool.Manager = (*Manager)(nil)

// NewManager builds a manager from configuration. No connection is made
// until first use.
func NewManager(cfg *config.MCPConfig) (*Manager, error) {
	m := &Manager{
		log:    logger.GetLogger(),
		routes: make(map[string]*server),
	}
	if cfg == nil {
		return m, nil
	}

	for _, sc := range cfg.Servers {
		c, err := newConn(sc)
		if err != nil {
			return nil, fmt.Errorf("mcp server %q: %w", sc.Name, err)
		}
		m.servers = append(m.servers, &server{
			name:    sc.Name,
			timeout: sc.Timeout,
			conn:    c,
		})
	}
	return m, nil
}

func newConn(sc config.MCPServerConfig) (conn, error) {
	switch sc.Transport {
	case "stdio":
		return newStdioConn(sc), nil
	case "sse", "streamable-http":
		return newHTTPConn(sc)
	default:
		return nil, fmt.Errorf("unsupported transport %q", sc.Transport)
	}
}

// ensureStarted connects every server exactly once, concurrently. Connect
// failures are recorded per server and logged, never returned.
func (m *Manager) ensureStarted(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range m.servers {
		s := s
		g.Go(func() error {
			cctx := gctx
			if s.timeout > 0 {
				var cancel context.CancelFunc
				cctx, cancel = context.WithTimeout(gctx, s.timeout)
				defer cancel()
			}
			s.tools, s.err = s.conn.connect(cctx)
			if s.err != nil {
				m.log.Warn("mcp server connect failed", "server", s.name, "error", s.err)
				return nil
			}
			m.log.Info("mcp server connected", "server", s.name, "tools", len(s.tools))
			return nil
		})
	}
	_ = g.Wait()

	// First server to claim a name wins, in configuration order.
	for _, s := range m.servers {
		if s.err != nil {
			continue
		}
		for _, def := range s.tools {
			if _, taken := m.routes[def.Name]; taken {
				m.log.Warn("duplicate mcp tool name, keeping first",
					"tool", def.Name, "server", s.name)
				continue
			}
			m.routes[def.Name] = s
		}
	}
}

// ListTools returns the merged tool list of every reachable server.
func (m *Manager) ListTools(ctx context.Context) ([]tool.Definition, error) {
	m.ensureStarted(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	var defs []tool.Definition
	seen := make(map[string]bool)
	for _, s := range m.servers {
		if s.err != nil {
			continue
		}
		for _, def := range s.tools {
			if seen[def.Name] {
				continue
			}
			seen[def.Name] = true
			defs = append(defs, def)
		}
	}
	return defs, nil
}

// CallTool routes a tool call to the server that advertised it, bounded by
// that server's per-call timeout.
func (m *Manager) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	m.ensureStarted(ctx)

	m.mu.Lock()
	s, ok := m.routes[name]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown mcp tool %q", name)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	return s.conn.call(ctx, name, args)
}

// Close shuts down every connection.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for _, s := range m.servers {
		if err := s.conn.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	m.started = false
	m.routes = make(map[string]*server)
	return firstErr
}
