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
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/ziya-ai/ziya/pkg/config"
	"github.com/ziya-ai/ziya/pkg/logger"
)

// ShellCommandName is the unprefixed name of the built-in shell tool; the
// registry surfaces it as "mcp_run_shell_command".
const ShellCommandName = "run_shell_command"

// ShellToolset exposes run_shell_command as an in-process tool source.
// Commands run under the configured timeout with their working directory
// pinned to the codebase root, and the base command must pass the
// allow/deny lists.
type ShellToolset struct {
	cfg     *config.ShellConfig
	rootDir string
	log     *slog.Logger
}

var _ Manager = (*ShellToolset)(nil)

func NewShellToolset(cfg *config.ShellConfig, rootDir string) *ShellToolset {
	return &ShellToolset{cfg: cfg, rootDir: rootDir, log: logger.GetLogger()}
}

func (s *ShellToolset) ListTools(ctx context.Context) ([]Definition, error) {
	if !s.cfg.IsEnabled() {
		return nil, nil
	}
	return []Definition{{
		Name:        ShellCommandName,
		Description: "Execute a shell command in the user's codebase directory and return its combined output. Only read-only commands are permitted.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{
					"type":        "string",
					"description": "The shell command to execute",
				},
			},
			"required": []any{"command"},
		},
	}}, nil
}

func (s *ShellToolset) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	if name != ShellCommandName {
		return nil, fmt.Errorf("unknown tool %q", name)
	}
	command, _ := args["command"].(string)
	command = strings.TrimSpace(command)
	if command == "" {
		return nil, fmt.Errorf("run_shell_command requires a non-empty 'command' argument")
	}
	if err := s.checkAllowed(command); err != nil {
		return map[string]any{"error": "command_rejected", "message": err.Error()}, nil
	}

	timeout := s.cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dir := s.cfg.WorkingDir
	if dir == "" {
		dir = s.rootDir
	}

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	output = s.truncate(output)

	s.log.Debug("shell command executed", "command", command, "bytes", len(output), "error", err)

	if runCtx.Err() == context.DeadlineExceeded {
		return map[string]any{
			"error":   "timeout",
			"message": fmt.Sprintf("command timed out after %s; partial output:\n%s", timeout, output),
		}, nil
	}
	if err != nil {
		return map[string]any{
			"error":   "exit_error",
			"message": fmt.Sprintf("%v\n%s", err, output),
		}, nil
	}
	return string(output), nil
}

// checkAllowed validates the base word of every pipeline segment against
// the allow/deny lists. The deny list wins.
func (s *ShellToolset) checkAllowed(command string) error {
	for _, segment := range splitPipeline(command) {
		fields := strings.Fields(segment)
		if len(fields) == 0 {
			continue
		}
		base := fields[0]
		if idx := strings.LastIndex(base, "/"); idx >= 0 {
			base = base[idx+1:]
		}
		for _, denied := range s.cfg.DeniedCommands {
			if base == denied {
				return fmt.Errorf("command %q is denied", base)
			}
		}
		allowed := false
		for _, a := range s.cfg.AllowedCommands {
			if base == a {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("command %q is not in the allowed list", base)
		}
	}
	return nil
}

func splitPipeline(command string) []string {
	return strings.FieldsFunc(command, func(r rune) bool {
		return r == '|' || r == ';' || r == '&'
	})
}

func (s *ShellToolset) truncate(output []byte) []byte {
	max := s.cfg.MaxOutputBytes
	if max <= 0 || len(output) <= max {
		return output
	}
	truncated := append([]byte(nil), output[:max]...)
	return append(truncated, []byte(fmt.Sprintf("\n... (%d bytes truncated)", len(output)-max))...)
}
