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

package config

import (
	"fmt"
	"time"
)

// Endpoint identifies the backend family a model is served through.
type Endpoint string

const (
	EndpointBedrock   Endpoint = "bedrock"
	EndpointGoogle    Endpoint = "google"
	EndpointOpenAI    Endpoint = "openai"
	EndpointAnthropic Endpoint = "anthropic"
)

// ModelConfig selects the backend endpoint, the model alias within it,
// and the generation parameters requested for every turn.
//
// Parameters listed here are requests, not guarantees: each model
// descriptor declares which parameters it supports and unsupported ones
// are dropped before the provider call.
type ModelConfig struct {
	// Endpoint selects the backend family (bedrock, google, openai, anthropic).
	Endpoint Endpoint `yaml:"endpoint,omitempty" json:"endpoint,omitempty" jsonschema:"title=Endpoint,description=Backend family,enum=bedrock,enum=google,enum=openai,enum=anthropic,default=bedrock"`

	// Model is the alias or full identifier within the endpoint
	// (e.g. "sonnet4.0", "haiku", "gemini-2.0-flash").
	Model string `yaml:"model,omitempty" json:"model,omitempty" jsonschema:"title=Model,description=Model alias within the endpoint"`

	// ModelIDOverride bypasses alias resolution with a raw provider model id.
	ModelIDOverride string `yaml:"model_id_override,omitempty" json:"model_id_override,omitempty" jsonschema:"title=Model ID Override,description=Raw provider model id bypassing alias resolution"`

	// MaxOutputTokens caps the response length per turn.
	MaxOutputTokens int `yaml:"max_output_tokens,omitempty" json:"max_output_tokens,omitempty" jsonschema:"title=Max Output Tokens,description=Per-request output token cap,minimum=1"`

	// Temperature for sampling. Nil means the model default.
	Temperature *float64 `yaml:"temperature,omitempty" json:"temperature,omitempty" jsonschema:"title=Temperature,description=Sampling temperature,minimum=0,maximum=2"`

	// TopK sampling parameter. Dropped for models that do not support it.
	TopK *int `yaml:"top_k,omitempty" json:"top_k,omitempty" jsonschema:"title=Top K,description=Top-K sampling parameter,minimum=1"`

	// TopP sampling parameter. Dropped for models that do not support it.
	TopP *float64 `yaml:"top_p,omitempty" json:"top_p,omitempty" jsonschema:"title=Top P,description=Top-P sampling parameter,minimum=0,maximum=1"`

	// MaxRetries bounds transparent retries on throttling errors.
	MaxRetries int `yaml:"max_retries,omitempty" json:"max_retries,omitempty" jsonschema:"title=Max Retries,description=Retry budget for throttled calls,minimum=0,default=4"`

	// ThinkingMode prepends a step-by-step instruction to the system message.
	ThinkingMode bool `yaml:"thinking_mode,omitempty" json:"thinking_mode,omitempty" jsonschema:"title=Thinking Mode,description=Prepend a think-step-by-step instruction"`

	// CommandTimeout is the per-turn inactivity timeout: the turn is aborted
	// when no stream event arrives for this long.
	CommandTimeout time.Duration `yaml:"command_timeout,omitempty" json:"command_timeout,omitempty" jsonschema:"title=Command Timeout,description=Per-turn stream inactivity timeout"`
}

// AWSConfig holds credential selection for Bedrock-backed endpoints.
// Empty values defer to the standard AWS credential chain.
type AWSConfig struct {
	// Profile is the shared-config profile name.
	Profile string `yaml:"profile,omitempty" json:"profile,omitempty" jsonschema:"title=Profile,description=AWS shared config profile"`

	// Region overrides the default region.
	Region string `yaml:"region,omitempty" json:"region,omitempty" jsonschema:"title=Region,description=AWS region"`
}

// GoogleConfig holds credentials for the Gemini endpoint.
type GoogleConfig struct {
	// APIKey for the Gemini API. Supports ${VAR} expansion.
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty" jsonschema:"title=API Key,description=Google API key (use ${GOOGLE_API_KEY})"`
}

// SetDefaults applies default values.
func (c *ModelConfig) SetDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = EndpointBedrock
	}

	// Model alias defaults are endpoint-specific and resolved by the
	// model registry; an empty Model means "endpoint default".

	if c.MaxRetries == 0 {
		c.MaxRetries = 4
	}

	if c.CommandTimeout == 0 {
		c.CommandTimeout = 60 * time.Second
	}
}

// Validate checks the model configuration.
func (c *ModelConfig) Validate() error {
	switch c.Endpoint {
	case EndpointBedrock, EndpointGoogle, EndpointOpenAI, EndpointAnthropic:
	default:
		return fmt.Errorf("invalid endpoint %q (valid: bedrock, google, openai, anthropic)", c.Endpoint)
	}

	if c.MaxOutputTokens < 0 {
		return fmt.Errorf("max_output_tokens must be non-negative")
	}

	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		return fmt.Errorf("temperature must be between 0 and 2")
	}

	if c.TopK != nil && *c.TopK < 1 {
		return fmt.Errorf("top_k must be at least 1")
	}

	if c.TopP != nil && (*c.TopP < 0 || *c.TopP > 1) {
		return fmt.Errorf("top_p must be between 0 and 1")
	}

	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative")
	}

	if c.CommandTimeout < 0 {
		return fmt.Errorf("command_timeout must be non-negative")
	}

	return nil
}
