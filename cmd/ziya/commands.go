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

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/ziya-ai/ziya/pkg/cli"
	"github.com/ziya-ai/ziya/pkg/runtime"
	"github.com/ziya-ai/ziya/pkg/server"
)

// ServeCmd starts the HTTP/SSE server.
type ServeCmd struct {
	Listen string `help:"Listen address (host:port), overrides config." placeholder:"HOST:PORT"`
	Watch  bool   `help:"Watch the config file for changes."`
}

func (c *ServeCmd) Run(root *CLI) error {
	ctx, stop := signalContext()
	defer stop()

	cfg, loader, err := root.loadConfig(ctx)
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Close()
	}

	if c.Listen != "" {
		host, portStr, err := net.SplitHostPort(c.Listen)
		if err != nil {
			return fmt.Errorf("invalid --listen %q: %w", c.Listen, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return fmt.Errorf("invalid --listen port %q: %w", portStr, err)
		}
		cfg.Server.Host = host
		cfg.Server.Port = port
	}

	if c.Watch && loader != nil {
		go func() {
			if err := loader.Watch(ctx); err != nil && ctx.Err() == nil {
				slog.Error("config watch failed", "error", err)
			}
		}()
	}

	rt, err := runtime.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	srv := server.New(cfg, rt.ServerDeps())
	fmt.Printf("ziya server listening on http://%s\n", cfg.Server.Address())
	fmt.Printf("  chat:    POST http://%s/api/chat\n", cfg.Server.Address())
	fmt.Printf("  models:  GET  http://%s/api/models\n", cfg.Server.Address())
	fmt.Printf("  health:  GET  http://%s/health\n", cfg.Server.Address())

	return srv.Start(ctx)
}

// ChatCmd runs the interactive terminal chat.
type ChatCmd struct {
	Files []string `short:"f" help:"Files to send as context with each question." type:"path"`
}

func (c *ChatCmd) Run(root *CLI) error {
	ctx, stop := signalContext()
	defer stop()

	cfg, loader, err := root.loadConfig(ctx)
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Close()
	}

	rt, err := runtime.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	session := cli.NewSession(rt, os.Stdout, cli.WithDebug(root.Debug))
	repl := cli.NewInteractive(session, cli.NewHistory(cfg.Codebase.CacheDir))
	repl.SetFiles(c.Files)
	return repl.Run(ctx, os.Stdin, os.Stdout)
}

// AskCmd answers a single question and exits.
type AskCmd struct {
	Question []string `arg:"" required:"" help:"The question to ask."`
	Files    []string `short:"f" help:"Files to send as context." type:"path"`
}

func (c *AskCmd) Run(root *CLI) error {
	return oneShot(root, strings.Join(c.Question, " "), c.Files)
}

// ReviewCmd asks for a code review of the given paths.
type ReviewCmd struct {
	Paths []string `arg:"" optional:"" help:"Files to review." type:"path"`
}

func (c *ReviewCmd) Run(root *CLI) error {
	return oneShot(root, cli.ReviewQuestion(c.Paths), c.Paths)
}

// ExplainCmd asks for an explanation of one file.
type ExplainCmd struct {
	Path string `arg:"" required:"" help:"File to explain." type:"path"`
}

func (c *ExplainCmd) Run(root *CLI) error {
	return oneShot(root, cli.ExplainQuestion(c.Path), []string{c.Path})
}

// oneShot runs a single question through a fresh session. Piped stdin
// is prepended to the question.
func oneShot(root *CLI, question string, files []string) error {
	ctx, stop := signalContext()
	defer stop()

	cfg, loader, err := root.loadConfig(ctx)
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Close()
	}

	piped, err := cli.PipedStdin()
	if err != nil {
		return err
	}
	question = cli.PrependContext(piped, question)

	rt, err := runtime.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	cli.NewHistory(cfg.Codebase.CacheDir).Append(question)

	session := cli.NewSession(rt, os.Stdout, cli.WithDebug(root.Debug))
	if _, err := session.Ask(ctx, question, files); err != nil {
		if ctx.Err() != nil {
			return context.Canceled
		}
		return err
	}
	return nil
}
