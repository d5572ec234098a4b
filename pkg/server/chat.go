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
	"iter"
	"net/http"
	"strings"

	"github.com/ziya-ai/ziya/pkg/agent"
	"github.com/ziya-ai/ziya/pkg/model"
	"github.com/ziya-ai/ziya/pkg/prompt"
	"github.com/ziya-ai/ziya/pkg/session"
)

// chatRequest is the POST /api/chat body. ChatHistory entries arrive in
// whatever shape the frontend produced; NormalizeHistory sorts them out.
type chatRequest struct {
	Question       string `json:"question"`
	ChatHistory    []any  `json:"chat_history,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`

	Config struct {
		Files []string `json:"files,omitempty"`
	} `json:"config"`
}

// handleChat runs one question through the agent loop. Validation
// failures are rejected with a plain JSON envelope before any model
// call; once streaming starts, failures travel inside the stream.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorEnvelope(w, model.KindValidation, "request body is not valid JSON", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeErrorEnvelope(w, model.KindValidation, "question must not be empty", http.StatusBadRequest)
		return
	}

	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = session.NewID()
	}

	if s.prepare == nil {
		writeErrorEnvelope(w, model.KindServer, "no model backend configured", http.StatusInternalServerError)
		return
	}
	llm, desc, params, err := s.prepare(r.Context())
	if err != nil {
		merr := model.Classify(err)
		writeErrorEnvelope(w, merr.Kind, merr.Message, merr.Status)
		return
	}
	defer llm.Close()

	messages, err := s.assembler.Assemble(prompt.Input{
		ConversationID: conversationID,
		Question:       req.Question,
		History:        prompt.NormalizeHistory(req.ChatHistory),
		Files:          req.Config.Files,
		Descriptor:     desc,
	})
	if err != nil {
		merr := model.Classify(err)
		writeErrorEnvelope(w, merr.Kind, merr.Message, merr.Status)
		return
	}

	if desc.TokenLimit > 0 {
		if count := s.assembler.CountMessages(messages); count > desc.TokenLimit {
			writeErrorEnvelope(w, model.KindContextSize,
				"conversation exceeds the model context window", http.StatusRequestEntityTooLarge)
			return
		}
	}

	opts := []agent.Option{agent.WithMetrics(s.metrics)}
	if desc != nil && !desc.NativeTools {
		opts = append(opts, agent.WithSentinelTools())
	}
	loop := agent.NewLoop(llm, s.tools, s.oracle, opts...)
	events := loop.Run(r.Context(), &agent.Request{
		ConversationID: conversationID,
		Messages:       messages,
		Params:         params,
	})

	if wantsSSE(r) {
		s.streamChat(w, r, conversationID, req.Question, events)
		return
	}
	s.aggregateChat(w, r, conversationID, req.Question, events)
}

func wantsSSE(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

// streamChat frames loop events as SSE. The terminal [DONE] sentinel is
// written on every exit path.
func (s *Server) streamChat(w http.ResponseWriter, r *http.Request, conversationID, question string, events iter.Seq[*agent.Event]) {
	framer, err := newFramer(w)
	if err != nil {
		writeErrorEnvelope(w, model.KindServer, err.Error(), http.StatusInternalServerError)
		return
	}
	defer framer.done()

	// Initial heartbeat confirms the stream is live before the first
	// model token arrives.
	if !framer.heartbeat() {
		return
	}

	var answer strings.Builder
	failed := false
	for ev := range events {
		if ev.Type == agent.EventText {
			answer.WriteString(ev.Content)
		}
		if ev.Type == agent.EventError {
			failed = true
		}
		if !framer.send(ev) {
			return
		}
	}

	if !failed {
		s.persistExchange(r, conversationID, question, answer.String())
	}
}

// aggregateChat drains the loop and replies with a single JSON body for
// clients that did not ask for a stream.
func (s *Server) aggregateChat(w http.ResponseWriter, r *http.Request, conversationID, question string, events iter.Seq[*agent.Event]) {
	var answer strings.Builder
	var failure *agent.Event
	for ev := range events {
		switch ev.Type {
		case agent.EventText:
			answer.WriteString(ev.Content)
		case agent.EventError:
			failure = ev
		}
	}

	if failure != nil {
		status := failure.StatusCode
		if status == 0 {
			status = http.StatusInternalServerError
		}
		writeJSON(w, status, failure)
		return
	}

	s.persistExchange(r, conversationID, question, answer.String())
	writeJSON(w, http.StatusOK, map[string]any{
		"answer":          answer.String(),
		"conversation_id": conversationID,
	})
}

// persistExchange appends the question/answer pair to the session store.
// Persistence is best effort; a dead store never fails the request.
func (s *Server) persistExchange(r *http.Request, conversationID, question, answer string) {
	if s.store == nil || strings.TrimSpace(answer) == "" {
		return
	}
	err := s.store.Append(r.Context(), conversationID,
		model.NewTextMessage(model.RoleUser, question),
		model.NewTextMessage(model.RoleAssistant, answer),
	)
	if err != nil {
		s.log.Warn("session persistence failed", "conversation_id", conversationID, "error", err)
	}
}
