package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// LoadEnvFiles loads .env.local and .env into the process environment.
// Missing files are not an error.
func LoadEnvFiles() error {
	envFiles := []string{".env.local", ".env"}

	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}

	return nil
}

// ApplyEnvOverrides overlays recognized environment variables onto cfg.
// Env values win over file values; flags are applied later by the CLI and
// win over both.
func ApplyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("ENDPOINT"); v != "" {
		cfg.Model.Endpoint = Endpoint(v)
	}

	if v := os.Getenv("MODEL"); v != "" {
		cfg.Model.Model = v
	}

	if v := os.Getenv("AWS_PROFILE"); v != "" {
		cfg.AWS.Profile = v
	}

	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.AWS.Region = v
	}

	if v := os.Getenv("GOOGLE_API_KEY"); v != "" {
		cfg.Google.APIKey = v
	}

	if v := os.Getenv("MAX_OUTPUT_TOKENS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid MAX_OUTPUT_TOKENS %q: %w", v, err)
		}
		cfg.Model.MaxOutputTokens = n
	}

	if v := os.Getenv("TEMPERATURE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid TEMPERATURE %q: %w", v, err)
		}
		cfg.Model.Temperature = &f
	}

	if v := os.Getenv("TOP_K"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid TOP_K %q: %w", v, err)
		}
		cfg.Model.TopK = &n
	}

	if v := os.Getenv("THINKING_MODE"); v == "1" || v == "true" {
		cfg.Model.ThinkingMode = true
	}

	if v := os.Getenv("USER_CODEBASE_DIR"); v != "" {
		cfg.Codebase.Dir = v
	}

	if v := os.Getenv("MAX_DEPTH"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid MAX_DEPTH %q: %w", v, err)
		}
		cfg.Codebase.MaxDepth = n
	}

	if v := os.Getenv("COMMAND_TIMEOUT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid COMMAND_TIMEOUT %q: %w", v, err)
		}
		cfg.Model.CommandTimeout = time.Duration(n) * time.Second
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	return nil
}
