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

// Package factory constructs retry-wrapped model drivers from descriptor
// aliases. Each request builds its own driver from the sealed registry;
// there is no process-wide model singleton.
package factory

import (
	"context"
	"os"

	"github.com/ziya-ai/ziya/pkg/config"
	"github.com/ziya-ai/ziya/pkg/model"
	"github.com/ziya-ai/ziya/pkg/model/anthropic"
	"github.com/ziya-ai/ziya/pkg/model/bedrock"
	"github.com/ziya-ai/ziya/pkg/model/gemini"
	"github.com/ziya-ai/ziya/pkg/model/openai"
)

// Factory builds drivers from a sealed descriptor registry.
type Factory struct {
	registry *model.Registry
	cfg      *config.Config
}

func New(registry *model.Registry, cfg *config.Config) *Factory {
	return &Factory{registry: registry, cfg: cfg}
}

// Registry exposes the descriptor registry (read-only after startup).
func (f *Factory) Registry() *model.Registry { return f.registry }

// DefaultAlias resolves the configured model alias, falling back to the
// endpoint's default when the config names none.
func (f *Factory) DefaultAlias() string {
	if f.cfg.Model.Model != "" {
		return f.cfg.Model.Model
	}
	switch f.cfg.Model.Endpoint {
	case config.EndpointGoogle:
		return "gemini-pro"
	case config.EndpointOpenAI:
		return "gpt-4o"
	case config.EndpointAnthropic:
		return "claude-sonnet"
	default:
		return "sonnet4.5"
	}
}

// NewFromDescriptor builds the driver for an alias and wraps it in the
// retry decorator. An empty alias selects the configured default.
func (f *Factory) NewFromDescriptor(ctx context.Context, alias string) (*model.Retrier, error) {
	if alias == "" {
		alias = f.DefaultAlias()
	}
	desc, err := f.registry.Get(alias)
	if err != nil {
		return nil, err
	}
	if override := f.cfg.Model.ModelIDOverride; override != "" {
		copied := *desc
		copied.ModelID = override
		copied.RegionPrefixes = nil
		desc = &copied
	}

	driver, err := f.newDriver(ctx, desc)
	if err != nil {
		return nil, err
	}

	return model.NewRetrier(driver, desc,
		model.WithMaxRetries(f.cfg.Model.MaxRetries),
	), nil
}

func (f *Factory) newDriver(ctx context.Context, desc *model.Descriptor) (model.LLM, error) {
	switch desc.Endpoint {
	case model.EndpointBedrock:
		return bedrock.New(ctx, desc, bedrock.Config{
			Profile: f.cfg.AWS.Profile,
			Region:  f.cfg.AWS.Region,
		})
	case model.EndpointAnthropic:
		return anthropic.New(desc, anthropic.Config{
			APIKey: firstEnv("ANTHROPIC_API_KEY", "ZIYA_ANTHROPIC_API_KEY"),
		})
	case model.EndpointOpenAI:
		return openai.New(desc, openai.Config{
			APIKey:  firstEnv("OPENAI_API_KEY", "ZIYA_OPENAI_API_KEY"),
			BaseURL: os.Getenv("OPENAI_BASE_URL"),
		})
	case model.EndpointGoogle:
		apiKey := f.cfg.Google.APIKey
		if apiKey == "" {
			apiKey = firstEnv("GOOGLE_API_KEY", "GEMINI_API_KEY")
		}
		return gemini.New(ctx, desc, gemini.Config{APIKey: apiKey})
	}
	return nil, model.NewError(model.KindNotFound, "no driver for endpoint %q", desc.Endpoint)
}

// Params builds the raw parameter bag from config; the retry wrapper
// filters it per attempt.
func (f *Factory) Params() map[string]any {
	params := map[string]any{}
	if f.cfg.Model.MaxOutputTokens > 0 {
		params["max_tokens"] = f.cfg.Model.MaxOutputTokens
	}
	if f.cfg.Model.Temperature != nil {
		params["temperature"] = *f.cfg.Model.Temperature
	}
	if f.cfg.Model.TopK != nil {
		params["top_k"] = *f.cfg.Model.TopK
	}
	if f.cfg.Model.TopP != nil {
		params["top_p"] = *f.cfg.Model.TopP
	}
	if f.cfg.Model.ThinkingMode {
		params["thinking_mode"] = true
	}
	return params
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return ""
}
