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

// Package gemini implements the model driver for the Gemini API via
// google.golang.org/genai. Gemini delivers whole function calls rather
// than streamed input deltas, so each call is synthesized into the start /
// input / stop chunk triple at a monotonically assigned index.
package gemini

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"iter"

	"google.golang.org/genai"

	"github.com/ziya-ai/ziya/pkg/model"
)

// Config holds driver construction parameters.
type Config struct {
	APIKey string

	// Client overrides the genai client, for tests.
	Client *genai.Client
}

// Driver speaks the Gemini generateContent API.
type Driver struct {
	desc   *model.Descriptor
	client *genai.Client
}

var _ model.LLM = (*Driver)(nil)

func New(ctx context.Context, desc *model.Descriptor, cfg Config) (*Driver, error) {
	client := cfg.Client
	if client == nil {
		if cfg.APIKey == "" {
			return nil, model.NewError(model.KindAuth, "gemini: no API key configured")
		}
		var err error
		client, err = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  cfg.APIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("gemini: creating client: %w", err)
		}
	}
	return &Driver{desc: desc, client: client}, nil
}

func (d *Driver) Name() string         { return d.desc.ModelID }
func (d *Driver) Family() model.Family { return model.FamilyGemini }
func (d *Driver) Close() error         { return nil }

func (d *Driver) Invoke(ctx context.Context, req *model.Request) (*model.Message, error) {
	return model.Collect(d.Stream(ctx, req))
}

func (d *Driver) buildConfig(req *model.Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}

	system, _ := model.ConcatSystemText(req.Messages)
	if system != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: system}},
		}
	}

	cfg.MaxOutputTokens = int32(d.desc.MaxOutputTokens)
	if v, ok := req.Params["max_tokens"]; ok {
		if n, ok := asInt(v); ok {
			cfg.MaxOutputTokens = int32(n)
		}
	}
	if v, ok := req.Params["temperature"]; ok {
		if f, ok := asFloat(v); ok {
			cfg.Temperature = genai.Ptr(float32(f))
		}
	}
	if v, ok := req.Params["top_p"]; ok {
		if f, ok := asFloat(v); ok {
			cfg.TopP = genai.Ptr(float32(f))
		}
	}
	if v, ok := req.Params["top_k"]; ok {
		if n, ok := asInt(v); ok {
			cfg.TopK = genai.Ptr(float32(n))
		}
	}
	if v, ok := req.Params["stop"]; ok {
		cfg.StopSequences = asStrings(v)
	}

	if len(req.Tools) > 0 {
		t := &genai.Tool{}
		for _, def := range req.Tools {
			t.FunctionDeclarations = append(t.FunctionDeclarations, &genai.FunctionDeclaration{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  toGenaiSchema(def.Parameters),
			})
		}
		cfg.Tools = []*genai.Tool{t}
	}
	return cfg
}

func (d *Driver) buildContents(req *model.Request) ([]*genai.Content, error) {
	var contents []*genai.Content
	for _, msg := range req.Messages {
		if msg.Role == model.RoleSystem {
			continue
		}
		content, err := encodeMessage(msg)
		if err != nil {
			return nil, err
		}
		if len(content.Parts) > 0 {
			contents = append(contents, content)
		}
	}
	return contents, nil
}

func encodeMessage(msg *model.Message) (*genai.Content, error) {
	content := &genai.Content{}
	switch msg.Role {
	case model.RoleUser:
		content.Role = genai.RoleUser
	case model.RoleAssistant:
		content.Role = genai.RoleModel
	default:
		return nil, fmt.Errorf("gemini: unsupported role %q", msg.Role)
	}

	for _, b := range msg.Blocks {
		switch b.Type {
		case model.BlockText:
			if b.Text != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: b.Text})
			}
		case model.BlockToolUse:
			args := b.Input
			if args == nil {
				args = map[string]any{}
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{ID: b.ID, Name: b.Name, Args: args},
			})
		case model.BlockToolResult:
			name := b.Name
			if name == "" {
				name = b.ToolUseID
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					ID:       b.ToolUseID,
					Name:     name,
					Response: map[string]any{"output": b.Content},
				},
			})
		default:
			return nil, fmt.Errorf("gemini: unsupported block type %q", b.Type)
		}
	}
	return content, nil
}

func (d *Driver) Stream(ctx context.Context, req *model.Request) iter.Seq2[*model.Chunk, error] {
	return func(yield func(*model.Chunk, error) bool) {
		contents, err := d.buildContents(req)
		if err != nil {
			yield(nil, err)
			return
		}
		cfg := d.buildConfig(req)

		// Text occupies index 0; synthesized function calls follow.
		nextIndex := 1
		var finishReason string
		usage := &model.Usage{}

		for resp, err := range d.client.Models.GenerateContentStream(ctx, d.desc.ModelID, contents, cfg) {
			if err != nil {
				yield(nil, fmt.Errorf("gemini: stream failed: %w", err))
				return
			}
			if resp.UsageMetadata != nil {
				usage.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
				usage.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
			}
			if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
				continue
			}
			candidate := resp.Candidates[0]
			if candidate.FinishReason != "" {
				finishReason = string(candidate.FinishReason)
			}

			for _, part := range candidate.Content.Parts {
				if part.Text != "" {
					chunk := model.TextDelta(part.Text)
					if part.Thought {
						chunk = model.ThinkingDelta(part.Text)
					}
					if !yield(chunk, nil) {
						return
					}
					continue
				}
				if part.FunctionCall != nil {
					if !d.yieldFunctionCall(part.FunctionCall, nextIndex, yield) {
						return
					}
					nextIndex++
				}
			}
		}

		stopReason := "end_turn"
		if nextIndex > 1 {
			stopReason = "tool_use"
		} else if finishReason == string(genai.FinishReasonMaxTokens) {
			stopReason = "max_tokens"
		}
		yield(model.MessageStop(stopReason, usage), nil)
	}
}

// yieldFunctionCall synthesizes the start / input / stop triple for one
// complete function call.
func (d *Driver) yieldFunctionCall(fc *genai.FunctionCall, index int, yield func(*model.Chunk, error) bool) bool {
	args, err := json.Marshal(fc.Args)
	if err != nil {
		yield(nil, fmt.Errorf("gemini: encoding function call args: %w", err))
		return false
	}
	id := fc.ID
	if id == "" {
		id = stableCallID(fc.Name, args, index)
	}
	if !yield(model.ToolUseStart(id, fc.Name, index), nil) {
		return false
	}
	if !yield(model.ToolInputDelta(index, string(args)), nil) {
		return false
	}
	return yield(model.ContentBlockStop(index), nil)
}

// stableCallID derives a deterministic id for calls Gemini leaves
// unidentified, so dedup across iterations still works.
func stableCallID(name string, args []byte, index int) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s:%d:%s", name, index, args))
	return fmt.Sprintf("call_%x", sum[:8])
}

// toGenaiSchema converts a JSON-schema map to the genai schema type.
// Unconvertible schemas degrade to an empty object spec.
func toGenaiSchema(schema map[string]any) *genai.Schema {
	out := &genai.Schema{Type: genai.TypeObject}
	if schema == nil {
		return out
	}

	if typ, ok := schema["type"].(string); ok {
		switch typ {
		case "object":
			out.Type = genai.TypeObject
		case "string":
			out.Type = genai.TypeString
		case "number":
			out.Type = genai.TypeNumber
		case "integer":
			out.Type = genai.TypeInteger
		case "boolean":
			out.Type = genai.TypeBoolean
		case "array":
			out.Type = genai.TypeArray
		}
	}
	if desc, ok := schema["description"].(string); ok {
		out.Description = desc
	}
	if props, ok := schema["properties"].(map[string]any); ok {
		out.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			if sub, ok := raw.(map[string]any); ok {
				out.Properties[name] = toGenaiSchema(sub)
			}
		}
	}
	if required, ok := schema["required"].([]any); ok {
		for _, item := range required {
			if name, ok := item.(string); ok {
				out.Required = append(out.Required, name)
			}
		}
	}
	if items, ok := schema["items"].(map[string]any); ok {
		out.Items = toGenaiSchema(items)
	}
	return out
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch f := v.(type) {
	case float64:
		return f, true
	case float32:
		return float64(f), true
	case int:
		return float64(f), true
	}
	return 0, false
}

func asStrings(v any) []string {
	switch s := v.(type) {
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	case string:
		return []string{s}
	}
	return nil
}
