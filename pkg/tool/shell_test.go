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

package tool

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ziya-ai/ziya/pkg/config"
)

func shellConfig() *config.ShellConfig {
	cfg := &config.ShellConfig{}
	cfg.SetDefaults()
	return cfg
}

func TestShellListToolsDisabled(t *testing.T) {
	cfg := shellConfig()
	cfg.Enabled = config.BoolPtr(false)
	s := NewShellToolset(cfg, t.TempDir())

	tools, err := s.ListTools(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tools)
}

func TestShellListToolsSchema(t *testing.T) {
	s := NewShellToolset(shellConfig(), t.TempDir())

	tools, err := s.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, ShellCommandName, tools[0].Name)
	assert.Equal(t, []any{"command"}, tools[0].Parameters["required"])
}

func TestShellExecutesAllowedCommand(t *testing.T) {
	s := NewShellToolset(shellConfig(), t.TempDir())

	result, err := s.CallTool(context.Background(), ShellCommandName,
		map[string]any{"command": "echo hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello\n", result)
}

func TestShellEmptyCommandIsAnError(t *testing.T) {
	s := NewShellToolset(shellConfig(), t.TempDir())

	_, err := s.CallTool(context.Background(), ShellCommandName,
		map[string]any{"command": "   "})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "command")
}

func TestShellDenyListWins(t *testing.T) {
	cfg := shellConfig()
	cfg.AllowedCommands = append(cfg.AllowedCommands, "rm")
	s := NewShellToolset(cfg, t.TempDir())

	result, err := s.CallTool(context.Background(), ShellCommandName,
		map[string]any{"command": "rm -rf /tmp/x"})
	require.NoError(t, err)

	payload, ok := result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "command_rejected", payload["error"])
}

func TestShellRejectsUnlistedPipelineSegment(t *testing.T) {
	s := NewShellToolset(shellConfig(), t.TempDir())

	// echo is allowed, curl is not: every segment must pass.
	result, err := s.CallTool(context.Background(), ShellCommandName,
		map[string]any{"command": "echo hi | curl example.com"})
	require.NoError(t, err)

	payload, ok := result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "command_rejected", payload["error"])
}

func TestShellRejectsPathQualifiedDeniedCommand(t *testing.T) {
	s := NewShellToolset(shellConfig(), t.TempDir())

	result, err := s.CallTool(context.Background(), ShellCommandName,
		map[string]any{"command": "/bin/rm file"})
	require.NoError(t, err)

	payload, ok := result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "command_rejected", payload["error"])
}

func TestShellTimeout(t *testing.T) {
	cfg := shellConfig()
	cfg.AllowedCommands = append(cfg.AllowedCommands, "sleep")
	cfg.Timeout = 50 * time.Millisecond
	s := NewShellToolset(cfg, t.TempDir())

	result, err := s.CallTool(context.Background(), ShellCommandName,
		map[string]any{"command": "sleep 5"})
	require.NoError(t, err)

	payload, ok := result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "timeout", payload["error"])
}

func TestShellExitErrorBecomesPayload(t *testing.T) {
	cfg := shellConfig()
	cfg.AllowedCommands = append(cfg.AllowedCommands, "false")
	s := NewShellToolset(cfg, t.TempDir())

	result, err := s.CallTool(context.Background(), ShellCommandName,
		map[string]any{"command": "false"})
	require.NoError(t, err)

	payload, ok := result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "exit_error", payload["error"])
}

func TestShellTruncatesOutput(t *testing.T) {
	cfg := shellConfig()
	cfg.MaxOutputBytes = 10
	s := NewShellToolset(cfg, t.TempDir())

	result, err := s.CallTool(context.Background(), ShellCommandName,
		map[string]any{"command": "echo aaaaaaaaaaaaaaaaaaaaaaaa"})
	require.NoError(t, err)

	out, ok := result.(string)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(out, "aaaaaaaaaa"))
	assert.Contains(t, out, "bytes truncated")
}

func TestShellRunsInConfiguredWorkingDir(t *testing.T) {
	dir := t.TempDir()
	s := NewShellToolset(shellConfig(), dir)

	result, err := s.CallTool(context.Background(), ShellCommandName,
		map[string]any{"command": "pwd"})
	require.NoError(t, err)

	out, ok := result.(string)
	require.True(t, ok)
	assert.Contains(t, strings.TrimSpace(out), dir)
}
