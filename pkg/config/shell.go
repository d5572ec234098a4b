package config

import (
	"fmt"
	"time"
)

// ShellConfig configures the run_shell_command tool.
//
// The tool is enabled by default but restricted to read-only commands
// unless an explicit allowlist widens it.
type ShellConfig struct {
	// Enabled controls whether the shell tool is registered at all.
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty" jsonschema:"title=Enabled,description=Register the run_shell_command tool,default=true"`

	// AllowedCommands is a whitelist of allowed base commands.
	// Empty means the built-in read-only set.
	AllowedCommands []string `yaml:"allowed_commands,omitempty" json:"allowed_commands,omitempty" jsonschema:"title=Allowed Commands,description=Whitelist of allowed base commands"`

	// DeniedCommands is a blacklist applied after the whitelist.
	DeniedCommands []string `yaml:"denied_commands,omitempty" json:"denied_commands,omitempty" jsonschema:"title=Denied Commands,description=Blacklist of denied base commands"`

	// Timeout bounds a single command execution.
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty" jsonschema:"title=Timeout,description=Per-command execution timeout"`

	// WorkingDir overrides the execution directory. Default: codebase dir.
	WorkingDir string `yaml:"working_dir,omitempty" json:"working_dir,omitempty" jsonschema:"title=Working Directory,description=Command execution directory"`

	// MaxOutputBytes truncates combined stdout/stderr beyond this size.
	MaxOutputBytes int `yaml:"max_output_bytes,omitempty" json:"max_output_bytes,omitempty" jsonschema:"title=Max Output Bytes,description=Truncate command output beyond this size,minimum=1"`
}

// DefaultAllowedCommands is the built-in read-only command set.
var DefaultAllowedCommands = []string{
	"ls", "cat", "head", "tail", "wc", "pwd", "find", "grep",
	"echo", "date", "whoami", "uname", "df", "du", "which", "file",
	"git", "diff", "sort", "uniq", "tr", "cut", "env",
}

// DefaultDeniedCommands are never executed regardless of allowlist.
var DefaultDeniedCommands = []string{
	"rm", "rmdir", "mv", "dd", "mkfs", "shutdown", "reboot",
	"sudo", "su", "chmod", "chown", "kill", "killall",
}

// SetDefaults applies default values.
func (c *ShellConfig) SetDefaults() {
	if c.Enabled == nil {
		c.Enabled = BoolPtr(true)
	}

	if len(c.AllowedCommands) == 0 {
		c.AllowedCommands = append([]string(nil), DefaultAllowedCommands...)
	}

	if len(c.DeniedCommands) == 0 {
		c.DeniedCommands = append([]string(nil), DefaultDeniedCommands...)
	}

	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}

	if c.MaxOutputBytes == 0 {
		c.MaxOutputBytes = 64 * 1024
	}
}

// Validate checks the shell configuration.
func (c *ShellConfig) Validate() error {
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must be non-negative")
	}

	if c.MaxOutputBytes < 1 {
		return fmt.Errorf("max_output_bytes must be positive")
	}

	return nil
}

// IsEnabled reports whether the shell tool should be registered.
func (c *ShellConfig) IsEnabled() bool {
	return c != nil && BoolValue(c.Enabled, true)
}
