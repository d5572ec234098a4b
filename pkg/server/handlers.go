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

package server

import (
	"encoding/json"
	"net/http"

	"github.com/invopop/jsonschema"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ziya-ai/ziya/pkg/config"
	"github.com/ziya-ai/ziya/pkg/model"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// modelEntry is one row of the /api/models listing.
type modelEntry struct {
	Alias           string `json:"alias"`
	Endpoint        string `json:"endpoint"`
	Family          string `json:"family"`
	TokenLimit      int    `json:"token_limit"`
	MaxOutputTokens int    `json:"max_output_tokens,omitempty"`
	SupportsCaching bool   `json:"supports_caching"`
	Default         bool   `json:"default,omitempty"`
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	registry := s.registry
	if registry == nil {
		registry = model.DefaultRegistry()
	}

	defaultAlias := s.cfg.Model.Model

	var entries []modelEntry
	for _, name := range registry.Names() {
		desc, err := registry.Get(name)
		if err != nil {
			continue
		}
		entries = append(entries, modelEntry{
			Alias:           name,
			Endpoint:        string(desc.Endpoint),
			Family:          string(desc.Family),
			TokenLimit:      desc.TokenLimit,
			MaxOutputTokens: desc.MaxOutputTokens,
			SupportsCaching: desc.SupportsCaching,
			Default:         name == defaultAlias,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": entries})
}

// handleSchema serves the JSON Schema of the configuration file, for
// editor completion and frontend settings forms.
func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	reflector := &jsonschema.Reflector{
		ExpandedStruct: true,
		DoNotReference: false,
	}
	schema := reflector.Reflect(&config.Config{})
	writeJSON(w, http.StatusOK, schema)
}

func metricsHandler() http.Handler {
	return promhttp.Handler()
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeErrorEnvelope emits the shared error envelope shape on plain
// HTTP responses, mirroring the in-stream error event.
func writeErrorEnvelope(w http.ResponseWriter, kind model.Kind, detail string, status int) {
	writeJSON(w, status, map[string]any{
		"error":       string(model.PublicKind(kind)),
		"detail":      detail,
		"status_code": status,
	})
}
