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

// Package bedrock implements the model driver for AWS Bedrock's
// ConverseStream API. Claude-on-Bedrock and Nova share this driver; the
// descriptor resolves region-prefixed model ids and capability flags.
package bedrock

import (
	"context"
	"fmt"
	"iter"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/ziya-ai/ziya/pkg/model"
)

// RuntimeClient is the slice of the Bedrock runtime client the driver
// uses. Tests substitute a scripted implementation.
type RuntimeClient interface {
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// Config holds driver construction parameters.
type Config struct {
	Profile string
	Region  string

	// Client overrides the AWS client, for tests.
	Client RuntimeClient
}

// Driver speaks ConverseStream.
type Driver struct {
	desc    *model.Descriptor
	modelID string
	client  RuntimeClient
}

var _ model.LLM = (*Driver)(nil)

// New builds a driver, loading AWS credentials from the profile/region
// chain unless a client is injected.
func New(ctx context.Context, desc *model.Descriptor, cfg Config) (*Driver, error) {
	client := cfg.Client
	if client == nil {
		var loadOpts []func(*awsconfig.LoadOptions) error
		if cfg.Region != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
		}
		if cfg.Profile != "" {
			loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(cfg.Profile))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, model.NewError(model.KindAuth, "bedrock: loading AWS config: %v", err)
		}
		client = bedrockruntime.NewFromConfig(awsCfg)
	}
	return &Driver{
		desc:    desc,
		modelID: desc.ResolveModelID(cfg.Region),
		client:  client,
	}, nil
}

func (d *Driver) Name() string         { return d.modelID }
func (d *Driver) Family() model.Family { return d.desc.Family }
func (d *Driver) Close() error         { return nil }

func (d *Driver) Invoke(ctx context.Context, req *model.Request) (*model.Message, error) {
	return model.Collect(d.Stream(ctx, req))
}

func (d *Driver) buildInput(req *model.Request) (*bedrockruntime.ConverseStreamInput, error) {
	input := &bedrockruntime.ConverseStreamInput{
		ModelId: aws.String(d.modelID),
	}

	for _, msg := range req.Messages {
		if msg.Role != model.RoleSystem {
			continue
		}
		text := msg.Text()
		if text == "" {
			continue
		}
		input.System = append(input.System, &types.SystemContentBlockMemberText{Value: text})
		if msg.CacheControl != nil && d.desc.SupportsCaching {
			input.System = append(input.System, &types.SystemContentBlockMemberCachePoint{
				Value: types.CachePointBlock{Type: types.CachePointTypeDefault},
			})
		}
	}

	for _, msg := range req.Messages {
		if msg.Role == model.RoleSystem {
			continue
		}
		encoded, err := encodeMessage(msg, d.desc.SupportsCaching)
		if err != nil {
			return nil, err
		}
		input.Messages = append(input.Messages, encoded)
	}

	input.InferenceConfig = d.inferenceConfig(req.Params)

	if len(req.Tools) > 0 {
		toolConfig := &types.ToolConfiguration{
			ToolChoice: &types.ToolChoiceMemberAuto{Value: types.AutoToolChoice{}},
		}
		for _, t := range req.Tools {
			toolConfig.Tools = append(toolConfig.Tools, &types.ToolMemberToolSpec{
				Value: types.ToolSpecification{
					Name:        aws.String(t.Name),
					Description: aws.String(t.Description),
					InputSchema: &types.ToolInputSchemaMemberJson{
						Value: document.NewLazyDocument(t.Parameters),
					},
				},
			})
		}
		input.ToolConfig = toolConfig
	}

	if req.ExtendedContext && d.desc.ExtendedContextHeader != "" {
		input.AdditionalModelRequestFields = document.NewLazyDocument(map[string]any{
			"anthropic_beta": []string{d.desc.ExtendedContextHeader},
		})
	}

	return input, nil
}

func (d *Driver) inferenceConfig(params map[string]any) *types.InferenceConfiguration {
	cfg := &types.InferenceConfiguration{
		MaxTokens: aws.Int32(int32(d.desc.MaxOutputTokens)),
	}
	if v, ok := params["max_tokens"]; ok {
		if n, ok := asInt(v); ok {
			cfg.MaxTokens = aws.Int32(int32(n))
		}
	}
	if v, ok := params["temperature"]; ok {
		if f, ok := asFloat(v); ok {
			cfg.Temperature = aws.Float32(float32(f))
		}
	}
	if v, ok := params["top_p"]; ok {
		if f, ok := asFloat(v); ok {
			cfg.TopP = aws.Float32(float32(f))
		}
	}
	if v, ok := params["stop"]; ok {
		cfg.StopSequences = asStrings(v)
	}
	return cfg
}

func encodeMessage(msg *model.Message, caching bool) (types.Message, error) {
	out := types.Message{}
	switch msg.Role {
	case model.RoleUser:
		out.Role = types.ConversationRoleUser
	case model.RoleAssistant:
		out.Role = types.ConversationRoleAssistant
	default:
		return out, fmt.Errorf("bedrock: unsupported role %q", msg.Role)
	}

	for _, b := range msg.Blocks {
		switch b.Type {
		case model.BlockText:
			out.Content = append(out.Content, &types.ContentBlockMemberText{Value: b.Text})
		case model.BlockToolUse:
			input := b.Input
			if input == nil {
				input = map[string]any{}
			}
			out.Content = append(out.Content, &types.ContentBlockMemberToolUse{
				Value: types.ToolUseBlock{
					ToolUseId: aws.String(b.ID),
					Name:      aws.String(b.Name),
					Input:     document.NewLazyDocument(input),
				},
			})
		case model.BlockToolResult:
			result := types.ToolResultBlock{
				ToolUseId: aws.String(b.ToolUseID),
				Content: []types.ToolResultContentBlock{
					&types.ToolResultContentBlockMemberText{Value: b.Content},
				},
			}
			if b.IsError {
				result.Status = types.ToolResultStatusError
			}
			out.Content = append(out.Content, &types.ContentBlockMemberToolResult{Value: result})
		default:
			return out, fmt.Errorf("bedrock: unsupported block type %q", b.Type)
		}
	}

	if msg.CacheControl != nil && caching {
		out.Content = append(out.Content, &types.ContentBlockMemberCachePoint{
			Value: types.CachePointBlock{Type: types.CachePointTypeDefault},
		})
	}
	return out, nil
}

func (d *Driver) Stream(ctx context.Context, req *model.Request) iter.Seq2[*model.Chunk, error] {
	return func(yield func(*model.Chunk, error) bool) {
		input, err := d.buildInput(req)
		if err != nil {
			yield(nil, err)
			return
		}

		output, err := d.client.ConverseStream(ctx, input)
		if err != nil {
			yield(nil, fmt.Errorf("bedrock: converse stream: %w", err))
			return
		}
		stream := output.GetStream()
		defer stream.Close()

		var stopReason string
		usage := &model.Usage{}

		for event := range stream.Events() {
			select {
			case <-ctx.Done():
				yield(nil, ctx.Err())
				return
			default:
			}

			switch e := event.(type) {
			case *types.ConverseStreamOutputMemberContentBlockStart:
				index := int(aws.ToInt32(e.Value.ContentBlockIndex))
				if start, ok := e.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
					chunk := model.ToolUseStart(
						aws.ToString(start.Value.ToolUseId),
						aws.ToString(start.Value.Name),
						index,
					)
					if !yield(chunk, nil) {
						return
					}
				}

			case *types.ConverseStreamOutputMemberContentBlockDelta:
				index := int(aws.ToInt32(e.Value.ContentBlockIndex))
				switch delta := e.Value.Delta.(type) {
				case *types.ContentBlockDeltaMemberText:
					if delta.Value != "" && !yield(model.TextDelta(delta.Value), nil) {
						return
					}
				case *types.ContentBlockDeltaMemberToolUse:
					if !yield(model.ToolInputDelta(index, aws.ToString(delta.Value.Input)), nil) {
						return
					}
				case *types.ContentBlockDeltaMemberReasoningContent:
					if text, ok := delta.Value.(*types.ReasoningContentBlockDeltaMemberText); ok {
						if text.Value != "" && !yield(model.ThinkingDelta(text.Value), nil) {
							return
						}
					}
				}

			case *types.ConverseStreamOutputMemberContentBlockStop:
				index := int(aws.ToInt32(e.Value.ContentBlockIndex))
				if !yield(model.ContentBlockStop(index), nil) {
					return
				}

			case *types.ConverseStreamOutputMemberMessageStop:
				stopReason = string(e.Value.StopReason)

			case *types.ConverseStreamOutputMemberMetadata:
				// Metadata arrives after messageStop; hold the final
				// chunk until the channel drains so usage is complete.
				if e.Value.Usage != nil {
					usage.InputTokens = int(aws.ToInt32(e.Value.Usage.InputTokens))
					usage.OutputTokens = int(aws.ToInt32(e.Value.Usage.OutputTokens))
				}
			}
		}

		if err := stream.Err(); err != nil {
			yield(nil, fmt.Errorf("bedrock: stream failed: %w", err))
			return
		}
		yield(model.MessageStop(stopReason, usage), nil)
	}
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
