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

// Package cli runs the agent loop against a local terminal: the
// interactive chat, the one-shot ask/review/explain commands, history
// recording, and piped-stdin handling.
package cli

import (
	"context"
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/ziya-ai/ziya/pkg/agent"
	"github.com/ziya-ai/ziya/pkg/model"
	"github.com/ziya-ai/ziya/pkg/prompt"
	"github.com/ziya-ai/ziya/pkg/runtime"
	"github.com/ziya-ai/ziya/pkg/session"
)

// Session is one CLI conversation. The same session carries history
// across questions in interactive mode; one-shot commands use a fresh
// session per invocation.
type Session struct {
	rt    *runtime.Runtime
	out   io.Writer
	debug bool

	conversationID string
	history        []prompt.Exchange

	// prepare resolves the driver per question. Tests substitute a
	// scripted driver.
	prepare func(ctx context.Context) (model.LLM, *model.Descriptor, map[string]any, error)
}

// SessionOption customizes a Session.
type SessionOption func(*Session)

// WithDebug also renders thinking and tool traffic.
func WithDebug(on bool) SessionOption {
	return func(s *Session) { s.debug = on }
}

// NewSession binds a runtime to an output stream.
func NewSession(rt *runtime.Runtime, out io.Writer, opts ...SessionOption) *Session {
	s := &Session{
		rt:             rt,
		out:            out,
		conversationID: session.NewID(),
	}
	s.prepare = func(ctx context.Context) (model.LLM, *model.Descriptor, map[string]any, error) {
		alias := rt.Factory.DefaultAlias()
		desc, err := rt.Factory.Registry().Get(alias)
		if err != nil {
			return nil, nil, nil, err
		}
		llm, err := rt.Factory.NewFromDescriptor(ctx, alias)
		if err != nil {
			return nil, nil, nil, err
		}
		return llm, desc, rt.Factory.Params(), nil
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ConversationID identifies this session in the file-state oracle and
// the session store.
func (s *Session) ConversationID() string { return s.conversationID }

// Reset drops the conversation history and starts a new conversation id.
func (s *Session) Reset() {
	s.history = nil
	s.conversationID = session.NewID()
}

// Ask streams one answer to the output writer and returns the full
// text. The exchange is added to the session history on success.
func (s *Session) Ask(ctx context.Context, question string, files []string) (string, error) {
	llm, desc, params, err := s.prepare(ctx)
	if err != nil {
		return "", err
	}
	defer llm.Close()

	messages, err := s.rt.Assembler.Assemble(prompt.Input{
		ConversationID: s.conversationID,
		Question:       question,
		History:        s.history,
		Files:          files,
		Descriptor:     desc,
	})
	if err != nil {
		return "", err
	}

	opts := []agent.Option{agent.WithMetrics(s.rt.Metrics)}
	if desc != nil && !desc.NativeTools {
		opts = append(opts, agent.WithSentinelTools())
	}
	loop := agent.NewLoop(llm, s.rt.Tools, s.rt.Oracle, opts...)
	answer, err := s.render(ctx, loop.Run(ctx, &agent.Request{
		ConversationID: s.conversationID,
		Messages:       messages,
		Params:         params,
	}))
	if err != nil {
		return answer, err
	}

	s.history = append(s.history, prompt.Exchange{Human: question, Assistant: answer})
	s.persist(ctx, question, answer)
	return answer, nil
}

// render consumes loop events, writing text to the terminal as it
// arrives. An error event terminates the question with a failure.
func (s *Session) render(ctx context.Context, events iter.Seq[*agent.Event]) (string, error) {
	var answer strings.Builder
	var failure *agent.Event

	for ev := range events {
		switch ev.Type {
		case agent.EventText:
			answer.WriteString(ev.Content)
			fmt.Fprint(s.out, ev.Content)
		case agent.EventThinking:
			if s.debug {
				fmt.Fprint(s.out, ev.Content)
			}
		case agent.EventToolStart:
			fmt.Fprintf(s.out, "\n[%s]\n", ev.ToolName)
		case agent.EventToolDisplay:
			if s.debug {
				fmt.Fprintf(s.out, "%s\n", truncate(ev.Result, 2000))
			}
		case agent.EventError:
			failure = ev
		}
		if ctx.Err() != nil {
			break
		}
	}
	fmt.Fprintln(s.out)

	if failure != nil {
		detail := failure.Detail
		if detail == "" {
			detail = failure.Error
		}
		return answer.String(), fmt.Errorf("%s: %s", failure.Error, detail)
	}
	if err := ctx.Err(); err != nil {
		return answer.String(), err
	}
	return answer.String(), nil
}

// persist appends the exchange to the session store, best effort.
func (s *Session) persist(ctx context.Context, question, answer string) {
	if s.rt.Store == nil || strings.TrimSpace(answer) == "" {
		return
	}
	_ = s.rt.Store.Append(ctx, s.conversationID,
		model.NewTextMessage(model.RoleUser, question),
		model.NewTextMessage(model.RoleAssistant, answer),
	)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

// ReviewQuestion phrases a code review request over the given paths.
// Empty paths means the whole selected context.
func ReviewQuestion(paths []string) string {
	if len(paths) == 0 {
		return "Review the provided code. Point out bugs, risky edge cases, and concrete improvements, referencing files and lines."
	}
	return fmt.Sprintf(
		"Review the following files: %s. Point out bugs, risky edge cases, and concrete improvements, referencing files and lines.",
		strings.Join(paths, ", "))
}

// ExplainQuestion phrases an explanation request for one path.
func ExplainQuestion(path string) string {
	return fmt.Sprintf(
		"Explain what %s does: its purpose, the main flow, and anything surprising a new reader should know.", path)
}
