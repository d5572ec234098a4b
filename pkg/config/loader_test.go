package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ziya-ai/ziya/pkg/config/provider"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ziya.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	configYAML := `
version: "1.0"
name: "test"
model:
  endpoint: bedrock
  model: sonnet4.0
  max_output_tokens: 4096
codebase:
  dir: ` + dir + `
  max_depth: 2
server:
  port: 7070
`
	path := writeConfigFile(t, configYAML)

	cfg, loader, err := LoadConfigFile(context.Background(), path)
	if err != nil {
		t.Fatalf("LoadConfigFile failed: %v", err)
	}
	defer loader.Close()

	if cfg.Model.Model != "sonnet4.0" {
		t.Errorf("model: got %s", cfg.Model.Model)
	}
	if cfg.Model.MaxOutputTokens != 4096 {
		t.Errorf("max_output_tokens: got %d", cfg.Model.MaxOutputTokens)
	}
	if cfg.Codebase.MaxDepth != 2 {
		t.Errorf("max_depth: got %d", cfg.Codebase.MaxDepth)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("port: got %d", cfg.Server.Port)
	}
	// Defaults still applied to untouched sections
	if cfg.Model.MaxRetries != 4 {
		t.Errorf("max_retries default: got %d", cfg.Model.MaxRetries)
	}
}

func TestLoadConfigFile_EnvExpansion(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ZIYA_TEST_MODEL", "haiku")
	configYAML := `
model:
  model: ${ZIYA_TEST_MODEL}
  endpoint: ${ZIYA_TEST_ENDPOINT:-bedrock}
codebase:
  dir: ` + dir + `
`
	path := writeConfigFile(t, configYAML)

	cfg, loader, err := LoadConfigFile(context.Background(), path)
	if err != nil {
		t.Fatalf("LoadConfigFile failed: %v", err)
	}
	defer loader.Close()

	if cfg.Model.Model != "haiku" {
		t.Errorf("expected ${ZIYA_TEST_MODEL} expansion, got %s", cfg.Model.Model)
	}
	if cfg.Model.Endpoint != EndpointBedrock {
		t.Errorf("expected default expansion to bedrock, got %s", cfg.Model.Endpoint)
	}
}

func TestLoadConfigFile_NotFound(t *testing.T) {
	_, _, err := LoadConfigFile(context.Background(), "/nonexistent/ziya.yaml")
	if err == nil {
		t.Fatal("expected error for nonexistent file")
	}
}

func TestLoadConfigFile_InvalidYAML(t *testing.T) {
	path := writeConfigFile(t, "model: [unclosed\n")
	_, _, err := LoadConfigFile(context.Background(), path)
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestFileProvider_Load(t *testing.T) {
	path := writeConfigFile(t, "name: test\n")
	p, err := provider.NewFileProvider(path)
	if err != nil {
		t.Fatalf("NewFileProvider failed: %v", err)
	}
	defer p.Close()

	data, err := p.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if string(data) != "name: test\n" {
		t.Errorf("unexpected content: %s", data)
	}
	if p.Type() != provider.TypeFile {
		t.Errorf("unexpected type: %s", p.Type())
	}
}

func TestExpandEnvString(t *testing.T) {
	t.Setenv("ZIYA_X", "value")

	tests := []struct {
		in, want string
	}{
		{"${ZIYA_X}", "value"},
		{"$ZIYA_X", "value"},
		{"${ZIYA_UNSET:-fallback}", "fallback"},
		{"${ZIYA_X:-fallback}", "value"},
		{"prefix-${ZIYA_X}-suffix", "prefix-value-suffix"},
		{"no vars here", "no vars here"},
	}

	for _, tt := range tests {
		if got := expandEnvString(tt.in); got != tt.want {
			t.Errorf("expandEnvString(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
