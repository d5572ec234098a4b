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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ziya-ai/ziya/pkg/tool"
)

// fakeConn is an in-memory conn for manager tests.
type fakeConn struct {
	tools      []tool.Definition
	connectErr error
	lastCall   string
	result     any
}

func (f *fakeConn) connect(ctx context.Context) ([]tool.Definition, error) {
	return f.tools, f.connectErr
}

func (f *fakeConn) call(ctx context.Context, name string, args map[string]any) (any, error) {
	f.lastCall = name
	return f.result, nil
}

func (f *fakeConn) close() error { return nil }

func newTestManager(t *testing.T, servers ...*server) *Manager {
	t.Helper()
	m, err := NewManager(nil)
	require.NoError(t, err)
	m.servers = servers
	return m
}

func TestManagerMergesServers(t *testing.T) {
	m := newTestManager(t,
		&server{name: "a", conn: &fakeConn{tools: []tool.Definition{{Name: "read_file"}}}},
		&server{name: "b", conn: &fakeConn{tools: []tool.Definition{{Name: "search"}}}},
	)

	defs, err := m.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, defs, 2)
}

func TestManagerSkipsFailedServer(t *testing.T) {
	m := newTestManager(t,
		&server{name: "dead", conn: &fakeConn{connectErr: errors.New("refused")}},
		&server{name: "alive", conn: &fakeConn{tools: []tool.Definition{{Name: "ok"}}}},
	)

	defs, err := m.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "ok", defs[0].Name)
}

func TestManagerRoutesCallToOwningServer(t *testing.T) {
	first := &fakeConn{tools: []tool.Definition{{Name: "shared"}}, result: "from first"}
	second := &fakeConn{tools: []tool.Definition{{Name: "shared"}}, result: "from second"}
	m := newTestManager(t,
		&server{name: "first", conn: first},
		&server{name: "second", conn: second},
	)

	result, err := m.CallTool(context.Background(), "shared", nil)
	require.NoError(t, err)
	assert.Equal(t, "from first", result)
	assert.Equal(t, "shared", first.lastCall)
	assert.Empty(t, second.lastCall)
}

func TestManagerUnknownTool(t *testing.T) {
	m := newTestManager(t, &server{name: "a", conn: &fakeConn{}})

	_, err := m.CallTool(context.Background(), "missing", nil)
	assert.Error(t, err)
}

func TestManagerConnectsOnce(t *testing.T) {
	conn := &fakeConn{tools: []tool.Definition{{Name: "t"}}}
	m := newTestManager(t, &server{name: "a", conn: conn})

	_, err := m.ListTools(context.Background())
	require.NoError(t, err)
	_, err = m.ListTools(context.Background())
	require.NoError(t, err)
	assert.True(t, m.started)
}

func TestManagerAppliesCallTimeout(t *testing.T) {
	conn := &deadlineConn{}
	m := newTestManager(t, &server{name: "a", timeout: time.Second, conn: conn})

	_, err := m.ListTools(context.Background())
	require.NoError(t, err)
	_, err = m.CallTool(context.Background(), "slow", nil)
	require.NoError(t, err)
	assert.True(t, conn.hadDeadline)
}

type deadlineConn struct {
	hadDeadline bool
}

func (d *deadlineConn) connect(ctx context.Context) ([]tool.Definition, error) {
	return []tool.Definition{{Name: "slow"}}, nil
}

func (d *deadlineConn) call(ctx context.Context, name string, args map[string]any) (any, error) {
	_, d.hadDeadline = ctx.Deadline()
	return "done", nil
}

func (d *deadlineConn) close() error { return nil }
