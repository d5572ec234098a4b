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

// Package runtime assembles the full component graph from a validated
// configuration: model factory, prompt assembler, file-state oracle, tool
// registry, session store, rate limiter, auth, and observability. The
// server and the CLI both start here.
package runtime

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ziya-ai/ziya/pkg/auth"
	"github.com/ziya-ai/ziya/pkg/config"
	"github.com/ziya-ai/ziya/pkg/filestate"
	"github.com/ziya-ai/ziya/pkg/logger"
	"github.com/ziya-ai/ziya/pkg/model"
	"github.com/ziya-ai/ziya/pkg/model/factory"
	"github.com/ziya-ai/ziya/pkg/observability"
	"github.com/ziya-ai/ziya/pkg/prompt"
	"github.com/ziya-ai/ziya/pkg/ratelimit"
	"github.com/ziya-ai/ziya/pkg/server"
	"github.com/ziya-ai/ziya/pkg/session"
	"github.com/ziya-ai/ziya/pkg/tool"
	"github.com/ziya-ai/ziya/pkg/tool/mcp"
)

// Runtime holds every long-lived component of one ziya process.
type Runtime struct {
	cfg *config.Config

	Factory   *factory.Factory
	Assembler *prompt.Assembler
	Oracle    filestate.Oracle
	Tools     *tool.Registry
	Store     session.Store
	Limiter   *ratelimit.Limiter
	Metrics   *observability.StreamMetrics

	authMiddleware func(http.Handler) http.Handler

	pool           *config.DBPool
	mcpManager     *mcp.Manager
	tracerShutdown func(context.Context) error
}

// New builds the component graph. The config must already have passed
// ProcessPipeline.
func New(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	r := &Runtime{
		cfg:  cfg,
		pool: config.NewDBPool(),
	}

	r.Factory = factory.New(model.DefaultRegistry(), cfg)
	r.Oracle = filestate.NewTracker(cfg.Codebase.AbsDir())

	cache := prompt.NewCache(
		prompt.WithPersistence(cfg.Codebase.CacheDir),
		prompt.WithTTL(time.Duration(cfg.Codebase.CacheTTL)*time.Second),
	)
	r.Assembler = prompt.NewAssembler(r.Oracle, cache, prompt.NewTokenCounter(),
		prompt.WithThinkingMode(cfg.Model.ThinkingMode))

	r.Tools = tool.NewRegistry(tool.NewShellToolset(&cfg.Shell, cfg.Codebase.AbsDir()))
	if len(cfg.MCP.Servers) > 0 {
		mgr, err := mcp.NewManager(&cfg.MCP)
		if err != nil {
			r.close()
			return nil, fmt.Errorf("mcp: %w", err)
		}
		r.mcpManager = mgr
		r.Tools.AddSource(mgr)
	}

	store, err := session.NewStore(cfg, r.pool)
	if err != nil {
		r.close()
		return nil, err
	}
	r.Store = store

	if rl := cfg.Server.RateLimit; rl != nil && rl.IsEnabled() {
		rlStore, err := ratelimit.NewStore(cfg, r.pool)
		if err != nil {
			r.close()
			return nil, err
		}
		limiter, err := ratelimit.NewLimiter(rl, rlStore)
		if err != nil {
			r.close()
			return nil, err
		}
		r.Limiter = limiter
	}

	if obs := cfg.Server.Observability; obs != nil {
		metrics, err := observability.InitMetrics(obs.MetricsEnabled)
		if err != nil {
			r.close()
			return nil, err
		}
		r.Metrics = metrics

		shutdown, err := observability.InitTracer(ctx, obs.Tracing)
		if err != nil {
			r.close()
			return nil, err
		}
		r.tracerShutdown = shutdown
	}

	if ac := cfg.Server.Auth; ac != nil && ac.IsEnabled() {
		validator, err := auth.NewValidator(ctx, ac)
		if err != nil {
			r.close()
			return nil, fmt.Errorf("auth: %w", err)
		}
		r.authMiddleware = auth.Middleware(validator, ac)
	}

	return r, nil
}

// Config returns the configuration the runtime was built from.
func (r *Runtime) Config() *config.Config { return r.cfg }

// ServerDeps packages the graph for the HTTP frontend.
func (r *Runtime) ServerDeps() server.Deps {
	return server.Deps{
		Factory:   r.Factory,
		Assembler: r.Assembler,
		Oracle:    r.Oracle,
		Tools:     r.Tools,
		Store:     r.Store,
		Limiter:   r.Limiter,
		Metrics:   r.Metrics,
		Auth:      r.authMiddleware,
	}
}

// Close releases every component, tolerating partial construction.
func (r *Runtime) Close() error {
	return r.close()
}

func (r *Runtime) close() error {
	log := logger.GetLogger()
	if r.mcpManager != nil {
		if err := r.mcpManager.Close(); err != nil {
			log.Warn("closing mcp manager", "error", err)
		}
	}
	if r.Store != nil {
		if err := r.Store.Close(); err != nil {
			log.Warn("closing session store", "error", err)
		}
	}
	if r.tracerShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.tracerShutdown(ctx); err != nil {
			log.Warn("shutting down tracer", "error", err)
		}
	}
	if r.pool != nil {
		if err := r.pool.Close(); err != nil {
			log.Warn("closing database pool", "error", err)
		}
	}
	return nil
}
