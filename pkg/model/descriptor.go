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

package model

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Endpoint tags the hosting backend a descriptor is served from.
type Endpoint string

const (
	EndpointAnthropic Endpoint = "anthropic"
	EndpointBedrock   Endpoint = "bedrock"
	EndpointOpenAI    Endpoint = "openai"
	EndpointGoogle    Endpoint = "google"
)

// Descriptor captures everything the runtime knows about one model: how to
// address it, its token budgets, which generation parameters the backend
// accepts, and its optional capabilities.
type Descriptor struct {
	// Name is the alias users select the model by (e.g. "sonnet4.5").
	Name string

	Endpoint Endpoint
	Family   Family

	// ModelID is the canonical identifier sent to the backend. For
	// Bedrock it may be region-dependent; RegionPrefixes then maps a
	// region prefix ("us", "eu", "ap") to the full id and ModelID is the
	// fallback.
	ModelID        string
	RegionPrefixes map[string]string

	// TokenLimit is the context window; MaxOutputTokens caps generation.
	TokenLimit      int
	MaxOutputTokens int

	// SupportedParameters is the exact key set the backend accepts.
	SupportedParameters []string

	// ExtendedContextHeader, when non-empty, names the beta header value
	// that unlocks the extended context window.
	ExtendedContextHeader string
	ExtendedTokenLimit    int

	SupportsCaching  bool
	SupportsThinking bool

	// NativeTools reports whether the backend has first-class tool
	// calling. Descriptors without it fall back to sentinel parsing.
	NativeTools bool
}

// ResolveModelID returns the backend identifier for the given AWS region,
// applying the region-prefix mapping when one exists.
func (d *Descriptor) ResolveModelID(region string) string {
	if len(d.RegionPrefixes) == 0 {
		return d.ModelID
	}
	prefix := regionPrefix(region)
	if id, ok := d.RegionPrefixes[prefix]; ok {
		return id
	}
	if id, ok := d.RegionPrefixes["us"]; ok {
		return id
	}
	return d.ModelID
}

func regionPrefix(region string) string {
	switch {
	case strings.HasPrefix(region, "eu-"):
		return "eu"
	case strings.HasPrefix(region, "ap-"):
		return "ap"
	default:
		return "us"
	}
}

// Supports reports whether the backend accepts the named parameter.
func (d *Descriptor) Supports(param string) bool {
	for _, p := range d.SupportedParameters {
		if p == param {
			return true
		}
	}
	return false
}

// SupportsExtendedContext reports whether the descriptor can retry a
// context-limit failure with a larger window.
func (d *Descriptor) SupportsExtendedContext() bool {
	return d.ExtendedContextHeader != ""
}

// Registry maps model aliases to descriptors. It is populated once at
// startup (built-ins plus config) and read-only afterwards.
type Registry struct {
	mu     sync.RWMutex
	sealed bool
	byName map[string]*Descriptor
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Descriptor)}
}

// Register adds a descriptor. It fails after Seal.
func (r *Registry) Register(d *Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return fmt.Errorf("registry is sealed; cannot register %q", d.Name)
	}
	if d.Name == "" {
		return fmt.Errorf("descriptor has no name")
	}
	if _, exists := r.byName[d.Name]; exists {
		return fmt.Errorf("descriptor %q already registered", d.Name)
	}
	r.byName[d.Name] = d
	return nil
}

// Seal makes the registry read-only.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
}

// Get returns the descriptor for an alias.
func (r *Registry) Get(name string) (*Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byName[name]
	if !ok {
		return nil, &Error{
			Kind:    KindNotFound,
			Status:  404,
			Message: fmt.Sprintf("unknown model %q (available: %s)", name, strings.Join(r.namesLocked(), ", ")),
		}
	}
	return d, nil
}

// Names returns the registered aliases, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry returns a registry holding the built-in descriptors.
// Callers may add config-defined models before sealing.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, d := range builtinDescriptors() {
		// Built-ins are internally consistent; a clash is a programmer error.
		if err := r.Register(d); err != nil {
			panic(err)
		}
	}
	return r
}

var anthropicParams = []string{"temperature", "top_k", "top_p", "max_tokens", "stop", "thinking_mode"}

func builtinDescriptors() []*Descriptor {
	return []*Descriptor{
		{
			Name:     "sonnet4.5",
			Endpoint: EndpointBedrock,
			Family:   FamilyAnthropic,
			ModelID:  "anthropic.claude-sonnet-4-5-20250929-v1:0",
			RegionPrefixes: map[string]string{
				"us": "us.anthropic.claude-sonnet-4-5-20250929-v1:0",
				"eu": "eu.anthropic.claude-sonnet-4-5-20250929-v1:0",
				"ap": "apac.anthropic.claude-sonnet-4-5-20250929-v1:0",
			},
			TokenLimit:            200_000,
			MaxOutputTokens:       64_000,
			SupportedParameters:   anthropicParams,
			ExtendedContextHeader: "context-1m-2025-08-07",
			ExtendedTokenLimit:    1_000_000,
			SupportsCaching:       true,
			SupportsThinking:      true,
			NativeTools:           true,
		},
		{
			Name:     "sonnet4.0",
			Endpoint: EndpointBedrock,
			Family:   FamilyAnthropic,
			ModelID:  "anthropic.claude-sonnet-4-20250514-v1:0",
			RegionPrefixes: map[string]string{
				"us": "us.anthropic.claude-sonnet-4-20250514-v1:0",
				"eu": "eu.anthropic.claude-sonnet-4-20250514-v1:0",
				"ap": "apac.anthropic.claude-sonnet-4-20250514-v1:0",
			},
			TokenLimit:          200_000,
			MaxOutputTokens:     64_000,
			SupportedParameters: anthropicParams,
			SupportsCaching:     true,
			SupportsThinking:    true,
			NativeTools:         true,
		},
		{
			Name:     "opus4.1",
			Endpoint: EndpointBedrock,
			Family:   FamilyAnthropic,
			ModelID:  "anthropic.claude-opus-4-1-20250805-v1:0",
			RegionPrefixes: map[string]string{
				"us": "us.anthropic.claude-opus-4-1-20250805-v1:0",
			},
			TokenLimit:          200_000,
			MaxOutputTokens:     32_000,
			SupportedParameters: anthropicParams,
			SupportsCaching:     true,
			SupportsThinking:    true,
			NativeTools:         true,
		},
		{
			Name:     "haiku3.5",
			Endpoint: EndpointBedrock,
			Family:   FamilyAnthropic,
			ModelID:  "anthropic.claude-3-5-haiku-20241022-v1:0",
			RegionPrefixes: map[string]string{
				"us": "us.anthropic.claude-3-5-haiku-20241022-v1:0",
			},
			TokenLimit:          200_000,
			MaxOutputTokens:     8_192,
			SupportedParameters: anthropicParams,
			SupportsCaching:     true,
			NativeTools:         true,
		},
		{
			Name:                "nova-pro",
			Endpoint:            EndpointBedrock,
			Family:              FamilyNova,
			ModelID:             "amazon.nova-pro-v1:0",
			RegionPrefixes:      map[string]string{"us": "us.amazon.nova-pro-v1:0", "eu": "eu.amazon.nova-pro-v1:0"},
			TokenLimit:          300_000,
			MaxOutputTokens:     5_120,
			SupportedParameters: []string{"temperature", "top_p", "max_tokens", "stop"},
			NativeTools:         true,
		},
		{
			Name:                "nova-lite",
			Endpoint:            EndpointBedrock,
			Family:              FamilyNova,
			ModelID:             "amazon.nova-lite-v1:0",
			RegionPrefixes:      map[string]string{"us": "us.amazon.nova-lite-v1:0", "eu": "eu.amazon.nova-lite-v1:0"},
			TokenLimit:          300_000,
			MaxOutputTokens:     5_120,
			SupportedParameters: []string{"temperature", "top_p", "max_tokens", "stop"},
			NativeTools:         true,
		},
		{
			Name:                  "claude-sonnet",
			Endpoint:              EndpointAnthropic,
			Family:                FamilyAnthropic,
			ModelID:               "claude-sonnet-4-5",
			TokenLimit:            200_000,
			MaxOutputTokens:       64_000,
			SupportedParameters:   anthropicParams,
			ExtendedContextHeader: "context-1m-2025-08-07",
			ExtendedTokenLimit:    1_000_000,
			SupportsCaching:       true,
			SupportsThinking:      true,
			NativeTools:           true,
		},
		{
			Name:                "gpt-4o",
			Endpoint:            EndpointOpenAI,
			Family:              FamilyOpenAI,
			ModelID:             "gpt-4o",
			TokenLimit:          128_000,
			MaxOutputTokens:     16_384,
			SupportedParameters: []string{"temperature", "top_p", "max_tokens", "stop"},
			NativeTools:         true,
		},
		{
			Name:                "gpt-4o-mini",
			Endpoint:            EndpointOpenAI,
			Family:              FamilyOpenAI,
			ModelID:             "gpt-4o-mini",
			TokenLimit:          128_000,
			MaxOutputTokens:     16_384,
			SupportedParameters: []string{"temperature", "top_p", "max_tokens", "stop"},
			NativeTools:         true,
		},
		{
			Name:                "gemini-pro",
			Endpoint:            EndpointGoogle,
			Family:              FamilyGemini,
			ModelID:             "gemini-2.5-pro",
			TokenLimit:          1_048_576,
			MaxOutputTokens:     65_536,
			SupportedParameters: []string{"temperature", "top_k", "top_p", "max_tokens", "stop", "thinking_mode"},
			SupportsThinking:    true,
			NativeTools:         true,
		},
		{
			Name:                "gemini-flash",
			Endpoint:            EndpointGoogle,
			Family:              FamilyGemini,
			ModelID:             "gemini-2.5-flash",
			TokenLimit:          1_048_576,
			MaxOutputTokens:     65_536,
			SupportedParameters: []string{"temperature", "top_k", "top_p", "max_tokens", "stop"},
			NativeTools:         true,
		},
	}
}
