package config

import (
	"fmt"
)

// Config is the root configuration for the ziya server and CLI.
//
// Most fields have working defaults; the only hard requirement is the
// codebase root directory (codebase.dir or USER_CODEBASE_DIR).
type Config struct {
	Version string `yaml:"version,omitempty"`
	Name    string `yaml:"name,omitempty"`

	// Model selects the backend endpoint and generation parameters.
	Model ModelConfig `yaml:"model,omitempty"`

	// AWS holds credential selection for Bedrock-backed endpoints.
	AWS AWSConfig `yaml:"aws,omitempty"`

	// Google holds credentials for the Gemini endpoint.
	Google GoogleConfig `yaml:"google,omitempty"`

	// Codebase controls which files are swept into the context.
	Codebase CodebaseConfig `yaml:"codebase,omitempty"`

	// Shell configures the run_shell_command tool.
	Shell ShellConfig `yaml:"shell,omitempty"`

	// MCP lists external tool servers.
	MCP MCPConfig `yaml:"mcp,omitempty"`

	// Server configures the HTTP/SSE frontend.
	Server ServerConfig `yaml:"server,omitempty"`

	// Logging configures log level, format, and destination.
	Logging LoggingConfig `yaml:"logging,omitempty"`

	// Databases holds named SQL databases referenced by other sections.
	Databases map[string]*DatabaseConfig `yaml:"databases,omitempty"`
}

// ProcessPipeline runs the full preparation pipeline on a raw config:
// defaults, env overrides, validation. Returned config is ready for use.
func ProcessPipeline(cfg *Config) (*Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("ProcessPipeline: config cannot be nil")
	}

	cfg.SetDefaults()

	if err := ApplyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("ProcessPipeline: env overrides failed: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("ProcessPipeline: validation failed: %w", err)
	}

	return cfg, nil
}

// SetDefaults applies default values to all sections.
func (c *Config) SetDefaults() {
	if c.Databases == nil {
		c.Databases = make(map[string]*DatabaseConfig)
	}

	c.Model.SetDefaults()
	c.Codebase.SetDefaults()
	c.Shell.SetDefaults()
	c.MCP.SetDefaults()
	c.Server.SetDefaults()
	c.Logging.SetDefaults()

	for name := range c.Databases {
		if c.Databases[name] != nil {
			c.Databases[name].SetDefaults()
		}
	}
}

// Validate checks the whole configuration tree.
func (c *Config) Validate() error {
	if err := c.Model.Validate(); err != nil {
		return fmt.Errorf("model validation failed: %w", err)
	}

	if err := c.Codebase.Validate(); err != nil {
		return fmt.Errorf("codebase validation failed: %w", err)
	}

	if err := c.Shell.Validate(); err != nil {
		return fmt.Errorf("shell validation failed: %w", err)
	}

	if err := c.MCP.Validate(); err != nil {
		return fmt.Errorf("mcp validation failed: %w", err)
	}

	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server validation failed: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging validation failed: %w", err)
	}

	for name, db := range c.Databases {
		if db != nil {
			if err := db.Validate(); err != nil {
				return fmt.Errorf("database '%s' validation failed: %w", name, err)
			}
		}
	}

	if err := c.validateReferences(); err != nil {
		return fmt.Errorf("reference validation failed: %w", err)
	}

	return nil
}

// validateReferences checks that all database references resolve.
func (c *Config) validateReferences() error {
	if c.Server.Sessions != nil && c.Server.Sessions.Database != "" {
		if _, exists := c.Databases[c.Server.Sessions.Database]; !exists {
			return fmt.Errorf("sessions: database '%s' not found (available: %v)",
				c.Server.Sessions.Database, mapKeys(c.Databases))
		}
	}

	if c.Server.RateLimit != nil && c.Server.RateLimit.SQLDatabase != "" {
		if _, exists := c.Databases[c.Server.RateLimit.SQLDatabase]; !exists {
			return fmt.Errorf("rate_limit: database '%s' not found (available: %v)",
				c.Server.RateLimit.SQLDatabase, mapKeys(c.Databases))
		}
	}

	return nil
}

// GetDatabase returns a named database config.
func (c *Config) GetDatabase(name string) (*DatabaseConfig, bool) {
	db, exists := c.Databases[name]
	return db, exists
}

func mapKeys[K comparable, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

// Default returns a Config with defaults applied and no file loaded.
// Env overrides still apply through ProcessPipeline.
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}
