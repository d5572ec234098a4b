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

package config

import (
	"fmt"
	"time"
)

// MCPConfig lists external MCP tool servers.
type MCPConfig struct {
	// Servers are the configured MCP servers, connected lazily on first use.
	Servers []MCPServerConfig `yaml:"servers,omitempty" json:"servers,omitempty" jsonschema:"title=Servers,description=MCP tool servers"`
}

// MCPServerConfig configures one MCP server connection.
type MCPServerConfig struct {
	// Name identifies the server in logs and tool prefixes.
	Name string `yaml:"name" json:"name" jsonschema:"title=Name,description=Server name"`

	// Transport specifies the MCP transport (stdio, sse, streamable-http).
	Transport string `yaml:"transport,omitempty" json:"transport,omitempty" jsonschema:"title=Transport,description=MCP transport type,enum=stdio,enum=sse,enum=streamable-http"`

	// Command to execute for stdio transport.
	Command string `yaml:"command,omitempty" json:"command,omitempty" jsonschema:"title=Command,description=Command to execute MCP server (stdio)"`

	// Args for the stdio command.
	Args []string `yaml:"args,omitempty" json:"args,omitempty" jsonschema:"title=Args,description=Arguments for stdio transport"`

	// Env for the stdio command.
	Env map[string]string `yaml:"env,omitempty" json:"env,omitempty" jsonschema:"title=Environment,description=Environment variables for stdio transport"`

	// URL of the server for sse/streamable-http transports.
	URL string `yaml:"url,omitempty" json:"url,omitempty" jsonschema:"title=URL,description=Server URL for HTTP transports"`

	// Headers sent with every HTTP request.
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty" jsonschema:"title=Headers,description=HTTP headers"`

	// CACertificate is a path to a custom CA bundle for HTTPS servers.
	CACertificate string `yaml:"ca_certificate,omitempty" json:"ca_certificate,omitempty" jsonschema:"title=CA Certificate,description=Custom CA certificate path"`

	// InsecureSkipVerify disables TLS verification. Dev/test only.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify,omitempty" json:"insecure_skip_verify,omitempty" jsonschema:"title=Insecure Skip Verify,description=Disable TLS certificate verification"`

	// Timeout bounds a single tool call round trip.
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty" jsonschema:"title=Timeout,description=Per-call timeout"`
}

// SetDefaults applies default values.
func (c *MCPConfig) SetDefaults() {
	for i := range c.Servers {
		c.Servers[i].SetDefaults()
	}
}

// Validate checks all server entries.
func (c *MCPConfig) Validate() error {
	seen := make(map[string]bool, len(c.Servers))
	for i, s := range c.Servers {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("servers[%d]: %w", i, err)
		}
		if seen[s.Name] {
			return fmt.Errorf("servers[%d]: duplicate server name %q", i, s.Name)
		}
		seen[s.Name] = true
	}
	return nil
}

// SetDefaults applies default values to a single server entry.
func (c *MCPServerConfig) SetDefaults() {
	if c.Transport == "" {
		if c.URL != "" {
			c.Transport = "streamable-http"
		} else if c.Command != "" {
			c.Transport = "stdio"
		}
	}

	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
}

// Validate checks a single server entry.
func (c *MCPServerConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}

	switch c.Transport {
	case "stdio":
		if c.Command == "" {
			return fmt.Errorf("command is required for stdio transport")
		}
	case "sse", "streamable-http":
		if c.URL == "" {
			return fmt.Errorf("url is required for %s transport", c.Transport)
		}
	default:
		return fmt.Errorf("invalid transport %q (valid: stdio, sse, streamable-http)", c.Transport)
	}

	if c.Timeout < 0 {
		return fmt.Errorf("timeout must be non-negative")
	}

	return nil
}
