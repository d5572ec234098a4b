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

package prompt

import (
	"fmt"
	"strings"

	"github.com/ziya-ai/ziya/pkg/filestate"
	"github.com/ziya-ai/ziya/pkg/model"
)

// DefaultTemplate is the model-facing system instruction prepended to
// every assembled prompt.
const DefaultTemplate = `You are Ziya, an AI assistant that helps engineers understand and modify their codebase. Answer from the provided files; when you are not sure, say so. Prefer small, reviewable changes and explain their effect.`

// thinkingInstruction is prepended when thinking mode is on.
const thinkingInstruction = "Think step by step before answering. Work through the relevant code paths explicitly.\n\n"

// Exchange is one prior human/assistant turn.
type Exchange struct {
	Human     string
	Assistant string
}

// NormalizeHistory accepts the wire shapes clients send: two-element
// [human, ai] arrays and {type, content} records. Pairs left empty after
// trimming are dropped.
func NormalizeHistory(raw []any) []Exchange {
	var out []Exchange
	var pendingHuman *string

	flush := func(human, assistant string) {
		human = strings.TrimSpace(human)
		assistant = strings.TrimSpace(assistant)
		if human == "" || assistant == "" {
			return
		}
		out = append(out, Exchange{Human: human, Assistant: assistant})
	}

	for _, item := range raw {
		switch v := item.(type) {
		case []any:
			if len(v) != 2 {
				continue
			}
			human, _ := v[0].(string)
			assistant, _ := v[1].(string)
			flush(human, assistant)
		case []string:
			if len(v) != 2 {
				continue
			}
			flush(v[0], v[1])
		case map[string]any:
			typ, _ := v["type"].(string)
			content, _ := v["content"].(string)
			switch typ {
			case "human", "user":
				content := content
				pendingHuman = &content
			case "ai", "assistant":
				if pendingHuman != nil {
					flush(*pendingHuman, content)
					pendingHuman = nil
				}
			}
		}
	}
	return out
}

// Assembler builds the ordered message list for one turn.
type Assembler struct {
	oracle   filestate.Oracle
	cache    *Cache
	counter  *TokenCounter
	template string
	thinking bool
}

// AssemblerOption customizes an Assembler.
type AssemblerOption func(*Assembler)

func WithTemplate(template string) AssemblerOption {
	return func(a *Assembler) { a.template = template }
}

// WithThinkingMode prepends a think-step-by-step instruction.
func WithThinkingMode(on bool) AssemblerOption {
	return func(a *Assembler) { a.thinking = on }
}

func NewAssembler(oracle filestate.Oracle, cache *Cache, counter *TokenCounter, opts ...AssemblerOption) *Assembler {
	a := &Assembler{
		oracle:   oracle,
		cache:    cache,
		counter:  counter,
		template: DefaultTemplate,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Input is everything one assembly needs.
type Input struct {
	ConversationID string
	Question       string
	History        []Exchange
	Files          []string

	// AuxNotes carries AST-style auxiliary context, appended after the
	// codebase section.
	AuxNotes string

	Descriptor *model.Descriptor
}

// Assemble produces the ordered message list: one or two system messages
// (stable portion cache-marked when the descriptor supports caching),
// history, then the question.
func (a *Assembler) Assemble(in Input) ([]*model.Message, error) {
	if strings.TrimSpace(in.Question) == "" {
		return nil, model.NewError(model.KindValidation, "question must not be empty")
	}

	systemPrompt, err := a.composeSystem(in)
	if err != nil {
		return nil, err
	}

	var messages []*model.Message
	split := a.split(systemPrompt, in)
	if !split.IsZero() && in.Descriptor != nil && in.Descriptor.SupportsCaching {
		stable := model.NewSystemMessage(split.StableContent)
		stable.CacheControl = model.CacheEphemeral()
		messages = append(messages, stable)
		if strings.TrimSpace(split.DynamicContent) != "" {
			messages = append(messages, model.NewSystemMessage(split.DynamicContent))
		}
	} else {
		messages = append(messages, model.NewSystemMessage(systemPrompt))
	}

	for _, exchange := range in.History {
		messages = append(messages,
			model.NewTextMessage(model.RoleUser, exchange.Human),
			model.NewTextMessage(model.RoleAssistant, exchange.Assistant),
		)
	}
	messages = append(messages, model.NewTextMessage(model.RoleUser, in.Question))

	return model.MergeSystem(messages), nil
}

// composeSystem builds the full system prompt: template, codebase
// section, auxiliary notes.
func (a *Assembler) composeSystem(in Input) (string, error) {
	var sb strings.Builder
	if a.thinking {
		sb.WriteString(thinkingInstruction)
	}
	sb.WriteString(a.template)

	if len(in.Files) > 0 {
		report, err := a.oracle.AnnotatedContent(in.ConversationID, in.Files)
		if err != nil {
			return "", fmt.Errorf("reading codebase files: %w", err)
		}
		sb.WriteString("\n\n")
		sb.WriteString(Preamble)
		sb.WriteString("\n")
		if report.OverallChanges != "" {
			sb.WriteString(report.OverallChanges)
			sb.WriteString("\n")
		}
		if report.RecentChanges != "" {
			sb.WriteString(report.RecentChanges)
			sb.WriteString("\n")
		}
		for _, file := range report.Files {
			sb.WriteString(FileDelimiter)
			sb.WriteString(file.Path)
			sb.WriteString("\n")
			sb.WriteString(file.Content)
			if !strings.HasSuffix(file.Content, "\n") {
				sb.WriteString("\n")
			}
		}
	}

	if in.AuxNotes != "" {
		sb.WriteString("\n")
		sb.WriteString(in.AuxNotes)
	}
	return sb.String(), nil
}

// split runs the context splitter, consulting and populating the cache.
func (a *Assembler) split(systemPrompt string, in Input) *ContextSplit {
	structureHash := HashStructure(in.Files)
	contentHash := HashContent(systemPrompt)
	key := Key(in.ConversationID, structureHash, contentHash)

	if a.cache != nil {
		if entry, ok := a.cache.Get(key); ok && entry.Split != nil {
			return entry.Split
		}
	}

	split := Split(systemPrompt, in.ConversationID, a.oracle)

	if a.cache != nil {
		a.cache.Set(key, &CacheEntry{
			StructureHash:   structureHash,
			FileContentHash: contentHash,
			ConversationID:  in.ConversationID,
			FilePaths:       in.Files,
			TokenCount:      a.counter.Count(systemPrompt),
			Split:           split,
		})
	}
	return split
}

// CountMessages estimates the total input token count of a message list.
func (a *Assembler) CountMessages(messages []*model.Message) int {
	total := 0
	for _, msg := range messages {
		total += a.counter.Count(msg.Text())
	}
	return total
}
