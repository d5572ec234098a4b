package config

import (
	"testing"
	"time"
)

func TestProcessPipeline_Defaults(t *testing.T) {
	cfg := &Config{}
	cfg.Codebase.Dir = t.TempDir()

	got, err := ProcessPipeline(cfg)
	if err != nil {
		t.Fatalf("ProcessPipeline failed: %v", err)
	}

	if got.Model.Endpoint != EndpointBedrock {
		t.Errorf("expected default endpoint bedrock, got %s", got.Model.Endpoint)
	}
	if got.Model.MaxRetries != 4 {
		t.Errorf("expected default max_retries 4, got %d", got.Model.MaxRetries)
	}
	if got.Model.CommandTimeout != 60*time.Second {
		t.Errorf("expected default command_timeout 60s, got %s", got.Model.CommandTimeout)
	}
	if got.Codebase.MaxDepth != 3 {
		t.Errorf("expected default max_depth 3, got %d", got.Codebase.MaxDepth)
	}
	if got.Server.Port != 6969 {
		t.Errorf("expected default port 6969, got %d", got.Server.Port)
	}
	if !got.Shell.IsEnabled() {
		t.Error("expected shell tool enabled by default")
	}
}

func TestProcessPipeline_NilConfig(t *testing.T) {
	if _, err := ProcessPipeline(nil); err == nil {
		t.Fatal("expected error for nil config")
	}
}

func TestConfig_RequiresCodebaseDir(t *testing.T) {
	cfg := &Config{}
	if _, err := ProcessPipeline(cfg); err == nil {
		t.Fatal("expected validation error when codebase dir is missing")
	}
}

func TestConfig_CodebaseDirMustExist(t *testing.T) {
	cfg := &Config{}
	cfg.Codebase.Dir = "/nonexistent/ziya-test-dir"
	if _, err := ProcessPipeline(cfg); err == nil {
		t.Fatal("expected validation error for missing directory")
	}
}

func TestModelConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ModelConfig)
		wantErr bool
	}{
		{"valid defaults", func(c *ModelConfig) {}, false},
		{"bad endpoint", func(c *ModelConfig) { c.Endpoint = "azure" }, true},
		{"negative temperature", func(c *ModelConfig) { c.Temperature = Float64Ptr(-0.1) }, true},
		{"temperature too high", func(c *ModelConfig) { c.Temperature = Float64Ptr(2.5) }, true},
		{"zero top_k", func(c *ModelConfig) { c.TopK = IntPtr(0) }, true},
		{"valid top_p", func(c *ModelConfig) { c.TopP = Float64Ptr(0.9) }, false},
		{"top_p out of range", func(c *ModelConfig) { c.TopP = Float64Ptr(1.5) }, true},
		{"negative retries", func(c *ModelConfig) { c.MaxRetries = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &ModelConfig{}
			c.SetDefaults()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestConfig_DatabaseReferences(t *testing.T) {
	cfg := &Config{}
	cfg.Codebase.Dir = t.TempDir()
	cfg.Server.Sessions = &SessionsConfig{
		Backend:  StorageBackendSQL,
		Database: "main",
	}

	if _, err := ProcessPipeline(cfg); err == nil {
		t.Fatal("expected error for dangling database reference")
	}

	cfg.Databases = map[string]*DatabaseConfig{
		"main": {Driver: "sqlite", Database: "./test.db"},
	}
	if _, err := ProcessPipeline(cfg); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	pg := &DatabaseConfig{
		Driver:   "postgres",
		Host:     "db.example.com",
		Port:     5432,
		Database: "ziya",
		Username: "app",
		Password: "secret",
		SSLMode:  "require",
	}
	want := "host=db.example.com port=5432 dbname=ziya user=app password=secret sslmode=require"
	if got := pg.DSN(); got != want {
		t.Errorf("postgres DSN mismatch:\n got %s\nwant %s", got, want)
	}

	my := &DatabaseConfig{
		Driver:   "mysql",
		Host:     "localhost",
		Port:     3306,
		Database: "ziya",
		Username: "app",
		Password: "pw",
	}
	if got, want := my.DSN(), "app:pw@tcp(localhost:3306)/ziya"; got != want {
		t.Errorf("mysql DSN mismatch: got %s want %s", got, want)
	}

	lite := &DatabaseConfig{Driver: "sqlite", Database: "/tmp/z.db"}
	if got := lite.DSN(); got != "/tmp/z.db" {
		t.Errorf("sqlite DSN should be the file path, got %s", got)
	}
	if lite.DriverName() != "sqlite3" {
		t.Errorf("expected driver name sqlite3, got %s", lite.DriverName())
	}
	if (&DatabaseConfig{Driver: "sqlite3"}).Dialect() != "sqlite" {
		t.Error("expected dialect sqlite for sqlite3 driver")
	}
}

func TestShellConfig_Defaults(t *testing.T) {
	c := &ShellConfig{}
	c.SetDefaults()

	if c.Timeout != 30*time.Second {
		t.Errorf("expected 30s timeout, got %s", c.Timeout)
	}
	found := false
	for _, cmd := range c.AllowedCommands {
		if cmd == "pwd" {
			found = true
		}
	}
	if !found {
		t.Error("expected pwd in default allowed commands")
	}
	for _, cmd := range c.DeniedCommands {
		if cmd == "rm" {
			return
		}
	}
	t.Error("expected rm in default denied commands")
}

func TestMCPServerConfig_Validate(t *testing.T) {
	stdio := &MCPServerConfig{Name: "files", Command: "mcp-files"}
	stdio.SetDefaults()
	if stdio.Transport != "stdio" {
		t.Errorf("expected inferred stdio transport, got %s", stdio.Transport)
	}
	if err := stdio.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	httpSrv := &MCPServerConfig{Name: "search", URL: "http://localhost:9000/mcp"}
	httpSrv.SetDefaults()
	if httpSrv.Transport != "streamable-http" {
		t.Errorf("expected inferred streamable-http transport, got %s", httpSrv.Transport)
	}

	bad := &MCPServerConfig{Name: "broken", Transport: "stdio"}
	if err := bad.Validate(); err == nil {
		t.Error("expected error for stdio transport without command")
	}

	mcp := &MCPConfig{Servers: []MCPServerConfig{
		{Name: "a", Command: "x", Transport: "stdio"},
		{Name: "a", Command: "y", Transport: "stdio"},
	}}
	if err := mcp.Validate(); err == nil {
		t.Error("expected error for duplicate server names")
	}
}
