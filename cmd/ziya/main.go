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

// Command ziya is the agent CLI and server.
//
// Usage:
//
//	ziya serve --config ziya.yaml
//	ziya chat --root .
//	ziya ask "why does the build fail?"
//	git diff | ziya ask "review this change"
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/ziya-ai/ziya/pkg/config"
	"github.com/ziya-ai/ziya/pkg/logger"
)

// CLI defines the command tree.
type CLI struct {
	Version VersionCmd `cmd:"" help:"Show version information."`
	Serve   ServeCmd   `cmd:"" help:"Start the HTTP/SSE server."`
	Chat    ChatCmd    `cmd:"" help:"Interactive chat."`
	Ask     AskCmd     `cmd:"" help:"Ask a single question."`
	Review  ReviewCmd  `cmd:"" help:"Review code."`
	Explain ExplainCmd `cmd:"" help:"Explain a file."`

	Config  string `short:"c" help:"Path to config file." type:"path"`
	Root    string `help:"Codebase root directory (overrides USER_CODEBASE_DIR)." type:"path"`
	Profile string `help:"AWS profile for Bedrock."`
	Region  string `help:"AWS region for Bedrock."`
	Model   string `short:"m" help:"Model alias or identifier."`
	Debug   bool   `help:"Enable debug logging and verbose output."`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("ziya version %s\n", version)
	return nil
}

// loadConfig resolves the effective configuration: .env files, optional
// YAML file, environment, then flags (which win). It also initializes
// the global logger.
func (cli *CLI) loadConfig(ctx context.Context) (*config.Config, *config.Loader, error) {
	if err := config.LoadEnvFiles(); err != nil {
		return nil, nil, err
	}

	// Flags override file and environment; route them through the env
	// keys the pipeline already honors.
	setIf := func(key, value string) {
		if value != "" {
			os.Setenv(key, value)
		}
	}
	setIf("USER_CODEBASE_DIR", cli.Root)
	setIf("AWS_PROFILE", cli.Profile)
	setIf("AWS_REGION", cli.Region)
	setIf("MODEL", cli.Model)
	if cli.Debug {
		os.Setenv("LOG_LEVEL", "debug")
	}

	var cfg *config.Config
	var loader *config.Loader
	var err error
	if cli.Config != "" {
		cfg, loader, err = config.LoadConfigFile(ctx, cli.Config)
	} else {
		cfg, err = config.ProcessPipeline(&config.Config{})
	}
	if err != nil {
		return nil, nil, err
	}

	level, err := logger.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, nil, err
	}
	output := os.Stderr
	if cfg.Logging.File != "" {
		f, cleanup, err := logger.OpenLogFile(cfg.Logging.File)
		if err != nil {
			return nil, nil, err
		}
		_ = cleanup // held for process lifetime
		output = f
	}
	logger.Init(level, output, cfg.Logging.Format)

	return cfg, loader, nil
}

// signalContext cancels on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func main() {
	cli := &CLI{}
	kctx := kong.Parse(cli,
		kong.Name("ziya"),
		kong.Description("Streaming codebase agent over Anthropic, Bedrock, OpenAI, and Gemini."),
		kong.UsageOnError(),
	)

	if err := kctx.Run(cli); err != nil {
		if errors.Is(err, context.Canceled) {
			// Interrupted; conventional 128+SIGINT.
			os.Exit(130)
		}
		fmt.Fprintf(os.Stderr, "ziya: %v\n", err)
		os.Exit(1)
	}
}
