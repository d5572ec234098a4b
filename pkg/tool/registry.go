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

package tool

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/ziya-ai/ziya/pkg/logger"
)

// Registry merges tool sources into the per-request list a model sees.
// Names are prefixed with "mcp_" when missing, schemas fall back to an
// empty object spec when unusable, and duplicates keep the first
// occurrence.
type Registry struct {
	sources []Manager
	log     *slog.Logger

	mu     sync.Mutex
	routes map[string]route
}

type route struct {
	source Manager
	name   string
}

func NewRegistry(sources ...Manager) *Registry {
	return &Registry{
		sources: sources,
		log:     logger.GetLogger(),
		routes:  make(map[string]route),
	}
}

// AddSource appends a tool source. Later sources lose naming conflicts.
func (r *Registry) AddSource(m Manager) {
	r.sources = append(r.sources, m)
}

// Definitions builds the deduplicated, prefixed tool list for one request
// and records the routing table used by Call.
func (r *Registry) Definitions(ctx context.Context) []Definition {
	routes := make(map[string]route)
	var defs []Definition

	for _, source := range r.sources {
		tools, err := source.ListTools(ctx)
		if err != nil {
			// A dead source must not take the whole request down.
			r.log.Warn("tool source listing failed", "error", err)
			continue
		}
		for _, t := range tools {
			name := t.Name
			if !strings.HasPrefix(name, Prefix) {
				name = Prefix + name
			}
			if _, taken := routes[name]; taken {
				continue
			}
			routes[name] = route{source: source, name: t.Name}
			defs = append(defs, Definition{
				Name:        name,
				Description: t.Description,
				Parameters:  usableSchema(t.Parameters),
			})
		}
	}

	r.mu.Lock()
	r.routes = routes
	r.mu.Unlock()
	return defs
}

// Call routes a prefixed tool name back to its source.
func (r *Registry) Call(ctx context.Context, name string, args map[string]any) (any, error) {
	r.mu.Lock()
	rt, ok := r.routes[name]
	r.mu.Unlock()

	if !ok {
		// The model may call before Definitions ran (or with a stale
		// list); fall back to stripping the prefix and asking everyone.
		bare := strings.TrimPrefix(name, Prefix)
		for _, source := range r.sources {
			result, err := source.CallTool(ctx, bare, args)
			if err == nil {
				return result, nil
			}
		}
		return nil, fmt.Errorf("unknown tool %q", name)
	}
	return rt.source.CallTool(ctx, rt.name, args)
}

// usableSchema validates that a schema is an object spec the backends
// accept, substituting the fallback otherwise.
func usableSchema(schema map[string]any) map[string]any {
	if schema == nil {
		return FallbackSchema()
	}
	typ, ok := schema["type"].(string)
	if !ok || typ != "object" {
		return FallbackSchema()
	}
	if _, ok := schema["properties"]; !ok {
		// Anthropic and Bedrock reject object schemas without properties.
		withProps := make(map[string]any, len(schema)+1)
		for k, v := range schema {
			withProps[k] = v
		}
		withProps["properties"] = map[string]any{}
		return withProps
	}
	return schema
}
