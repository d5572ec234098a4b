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

// Package server is the HTTP/SSE frontend: it turns POST /api/chat
// requests into agent loop runs and frames the resulting events for the
// client, plus health, model discovery, config schema, and metrics
// endpoints.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/ziya-ai/ziya/pkg/config"
	"github.com/ziya-ai/ziya/pkg/filestate"
	"github.com/ziya-ai/ziya/pkg/logger"
	"github.com/ziya-ai/ziya/pkg/model"
	"github.com/ziya-ai/ziya/pkg/model/factory"
	"github.com/ziya-ai/ziya/pkg/observability"
	"github.com/ziya-ai/ziya/pkg/prompt"
	"github.com/ziya-ai/ziya/pkg/ratelimit"
	"github.com/ziya-ai/ziya/pkg/session"
	"github.com/ziya-ai/ziya/pkg/tool"
)

// Deps are the wired components the server serves. Optional fields may
// be nil; the corresponding feature is simply not mounted.
type Deps struct {
	Factory   *factory.Factory
	Assembler *prompt.Assembler
	Oracle    filestate.Oracle
	Tools     *tool.Registry
	Store     session.Store
	Limiter   *ratelimit.Limiter
	Metrics   *observability.StreamMetrics

	// Auth, when non-nil, is mounted into the middleware chain.
	Auth func(http.Handler) http.Handler
}

// Server is the HTTP frontend.
type Server struct {
	cfg       *config.Config
	assembler *prompt.Assembler
	oracle    filestate.Oracle
	tools     *tool.Registry
	store     session.Store
	limiter   *ratelimit.Limiter
	metrics   *observability.StreamMetrics
	registry  *model.Registry
	auth      func(http.Handler) http.Handler
	log       *slog.Logger

	// prepare resolves the driver for one request. Tests substitute a
	// scripted driver here.
	prepare func(ctx context.Context) (model.LLM, *model.Descriptor, map[string]any, error)
}

// New wires a server from its dependencies.
func New(cfg *config.Config, deps Deps) *Server {
	s := &Server{
		cfg:       cfg,
		assembler: deps.Assembler,
		oracle:    deps.Oracle,
		tools:     deps.Tools,
		store:     deps.Store,
		limiter:   deps.Limiter,
		metrics:   deps.Metrics,
		auth:      deps.Auth,
		log:       logger.GetLogger(),
	}
	if deps.Factory != nil {
		s.registry = deps.Factory.Registry()
		s.prepare = func(ctx context.Context) (model.LLM, *model.Descriptor, map[string]any, error) {
			alias := deps.Factory.DefaultAlias()
			desc, err := deps.Factory.Registry().Get(alias)
			if err != nil {
				return nil, nil, nil, err
			}
			llm, err := deps.Factory.NewFromDescriptor(ctx, alias)
			if err != nil {
				return nil, nil, nil, err
			}
			return llm, desc, deps.Factory.Params(), nil
		}
	}
	return s
}

// Router builds the chi router with the full middleware chain. Order
// matters: observability first, then logging, CORS, auth, rate limit.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(observability.Middleware)
	r.Use(s.logging)
	if s.cfg.Server.CORS != nil {
		r.Use(s.cors(s.cfg.Server.CORS))
	}
	if s.auth != nil {
		r.Use(s.auth)
	}
	if s.limiter != nil {
		r.Use(ratelimit.Middleware(s.limiter))
	}

	r.Get("/health", s.handleHealth)
	r.Get("/api/models", s.handleModels)
	r.Get("/api/schema", s.handleSchema)
	r.Post("/api/chat", s.handleChat)

	if s.cfg.Server.Observability != nil && s.cfg.Server.Observability.MetricsEnabled {
		r.Handle("/metrics", metricsHandler())
	}
	return r
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Server.Address(),
		Handler:           s.Router(),
		ReadHeaderTimeout: s.cfg.Server.ReadHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("server listening", "addr", srv.Addr)
		var err error
		if tls := s.cfg.Server.TLS; tls != nil && config.BoolValue(tls.Enabled, false) {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// logging records each request without wrapping the ResponseWriter:
// wrapping would hide http.Flusher from the SSE path.
func (s *Server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) cors(cfg *config.CORSConfig) func(http.Handler) http.Handler {
	origins := strings.Join(cfg.AllowedOrigins, ", ")
	methods := strings.Join(cfg.AllowedMethods, ", ")
	headers := strings.Join(cfg.AllowedHeaders, ", ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origins != "" {
				w.Header().Set("Access-Control-Allow-Origin", origins)
			}
			if methods != "" {
				w.Header().Set("Access-Control-Allow-Methods", methods)
			}
			if headers != "" {
				w.Header().Set("Access-Control-Allow-Headers", headers)
			}
			if config.BoolValue(cfg.AllowCredentials, false) {
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
