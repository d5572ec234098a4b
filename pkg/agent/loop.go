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

// Package agent runs the streaming tool-call loop: it streams model turns,
// executes the tool calls the model makes, feeds results back, and repeats
// until the model finishes or a safety bound trips. Its output is a flat
// event sequence the SSE framer writes to the client.
package agent

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ziya-ai/ziya/pkg/filestate"
	"github.com/ziya-ai/ziya/pkg/logger"
	"github.com/ziya-ai/ziya/pkg/model"
	"github.com/ziya-ai/ziya/pkg/observability"
	"github.com/ziya-ai/ziya/pkg/tool"
)

const (
	// MaxIterations bounds the number of model turns per request.
	MaxIterations = 50

	// DefaultInactivityTimeout is the per-turn chunk watchdog. It ends
	// the current turn, never the request.
	DefaultInactivityTimeout = 60 * time.Second

	// softInstructionThreshold is the consecutive-empty-call count at
	// which the loop adds a usage reminder to the next submission.
	softInstructionThreshold = 3

	// omitToolsThreshold is the consecutive-empty-call count at which
	// the loop tells the model to answer without tools and stops
	// offering them.
	omitToolsThreshold = 5

	// maxBlockedCalls is the per-iteration cap on skipped duplicate
	// calls before the loop gives up on the turn.
	maxBlockedCalls = 3
)

// missingCommandInstruction is fed back when the model calls the shell
// tool without the required command field. Machine-readable so the model
// can self-correct.
const missingCommandInstruction = `{"error": "missing_required_field", "field": "command", "instruction": "Call mcp_run_shell_command again with JSON input {\"command\": \"<shell command>\"}, or answer directly without tools."}`

const answerWithoutToolsInstruction = "You have made several tool calls without usable arguments. Stop calling tools and answer the question directly with the information you already have."

const toolUsageReminder = "Reminder: tool calls must carry a complete JSON argument object. If you cannot form one, answer without tools."

// convLocks serializes context-submission bookkeeping per conversation.
var convLocks sync.Map

func lockFor(conversationID string) *sync.Mutex {
	mu, _ := convLocks.LoadOrStore(conversationID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Request is one client question, already assembled into a conversation.
type Request struct {
	ConversationID string
	Messages       []*model.Message

	// Params is the raw generation parameter bag; the retry wrapper
	// filters it per attempt.
	Params map[string]any
}

// Loop drives the tool-call conversation for one request at a time.
type Loop struct {
	llm     model.LLM
	tools   *tool.Registry
	oracle  filestate.Oracle
	log     *slog.Logger
	metrics *observability.StreamMetrics
	tracer  trace.Tracer

	maxIterations     int
	inactivityTimeout time.Duration
	sentinelTools     bool
	streamID          string
}

// Option customizes a Loop.
type Option func(*Loop)

func WithMaxIterations(n int) Option {
	return func(l *Loop) { l.maxIterations = n }
}

func WithInactivityTimeout(d time.Duration) Option {
	return func(l *Loop) { l.inactivityTimeout = d }
}

func WithMetrics(m *observability.StreamMetrics) Option {
	return func(l *Loop) { l.metrics = m }
}

// WithSentinelTools parses inline <TOOL_SENTINEL> blocks out of the
// text stream and supplies the closing tag as a stop sequence, for
// backends without native tool calling.
func WithSentinelTools() Option {
	return func(l *Loop) { l.sentinelTools = true }
}

// NewLoop builds a loop over a (retry-wrapped) driver, a tool registry,
// and the file-state oracle. oracle may be nil when no codebase context is
// in play.
func NewLoop(llm model.LLM, tools *tool.Registry, oracle filestate.Oracle, opts ...Option) *Loop {
	l := &Loop{
		llm:               llm,
		tools:             tools,
		oracle:            oracle,
		log:               logger.GetLogger(),
		tracer:            observability.Tracer("ziya/agent"),
		maxIterations:     MaxIterations,
		inactivityTimeout: DefaultInactivityTimeout,
		streamID:          uuid.NewString(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// StreamID identifies this request in error envelopes and logs.
func (l *Loop) StreamID() string { return l.streamID }

// executedTool is one finalized tool call of the current iteration.
type executedTool struct {
	call tool.ToolCall
	args map[string]any
}

// iterationState is reset every model turn; request-wide counters live in
// Run's locals.
type iterationState struct {
	opt      optimizer
	filter   fakeToolFilter
	sentinel *sentinelParser

	assistantText strings.Builder
	active        map[int]*tool.ToolCall
	skipped       map[int]bool
	toolUses      []executedTool
	results       []tool.ToolResult
	blocked       int
	emptyCalls    int
	synthIndex    int
}

func newIterationState() *iterationState {
	return &iterationState{
		active:  make(map[int]*tool.ToolCall),
		skipped: make(map[int]bool),
	}
}

type iterOutcome int

const (
	outcomeStop iterOutcome = iota
	outcomeTimeout
	outcomeCancelled
	outcomeClientGone
	outcomeError
)

type streamItem struct {
	chunk *model.Chunk
	err   error
}

// Run executes the loop and yields events until stream_end or an error
// envelope. The caller appends the terminal [DONE] frame.
func (l *Loop) Run(ctx context.Context, req *Request) iter.Seq[*Event] {
	return func(yield func(*Event) bool) {
		messages := append([]*model.Message(nil), req.Messages...)
		executedSignatures := make(map[string]bool)
		tracker := &fenceTracker{}

		params := req.Params
		if l.sentinelTools {
			params = make(map[string]any, len(req.Params)+1)
			for k, v := range req.Params {
				params[k] = v
			}
			params["stop"] = []string{SentinelStopSequence}
		}

		consecutiveEmpty := 0
		continuations := 0
		omitTools := false
		inContinuation := false
		contBlockType := ""
		pendingRewind := ""

		var emittedText strings.Builder
		var allResults []tool.ToolResult

		emit := func(ev *Event) bool {
			if ev.Type == EventText {
				if inContinuation {
					ev.CodeBlockContinuation = true
					ev.BlockType = contBlockType
					if pendingRewind != "" {
						ev.RewindComment = pendingRewind
						pendingRewind = ""
					}
				}
				emittedText.WriteString(ev.Content)
			}
			l.metrics.RecordEvent(ctx, string(ev.Type), len(ev.Content)+len(ev.Result))
			return yield(ev)
		}

		finish := func() {
			if emit(streamEndEvent()) {
				l.markSubmission(req.ConversationID)
			}
		}

		for iteration := 1; iteration <= l.maxIterations; iteration++ {
			l.metrics.RecordIteration(ctx)

			mreq := &model.Request{
				Messages: model.Sanitize(messages),
				Params:   params,
			}
			if !omitTools {
				mreq.Tools = l.tools.Definitions(ctx)
			}

			st := newIterationState()
			if l.sentinelTools {
				st.sentinel = &sentinelParser{}
			}
			ictx, span := l.tracer.Start(ctx, "agent.iteration",
				trace.WithAttributes(attribute.Int("iteration", iteration)))
			outcome, failure := l.runIteration(ictx, mreq, st, executedSignatures, tracker, emit)
			span.End()
			allResults = append(allResults, st.results...)

			switch outcome {
			case outcomeClientGone:
				return
			case outcomeCancelled:
				// Aborted turn: no context submission.
				emit(streamEndEvent())
				return
			case outcomeError:
				pending := st.filter.Push(st.opt.Flush()) + st.filter.Flush()
				emit(l.errorEnvelope(failure, emittedText.String(), pending, allResults, emittedText.Len() > 0))
				return
			case outcomeTimeout:
				l.log.Warn("turn inactivity timeout", "stream", l.streamID, "iteration", iteration)
				messages = append(messages,
					model.NewTextMessage(model.RoleAssistant,
						fmt.Sprintf("[no response activity for %s; the turn was abandoned]", l.inactivityTimeout)),
					model.NewTextMessage(model.RoleUser, "Please continue answering the original question."),
				)
				continue
			}

			// Message stop: reconcile this turn into the transcript.
			text := st.assistantText.String()
			executedAny := len(st.toolUses) > 0

			if st.blocked > maxBlockedCalls {
				l.log.Warn("too many blocked tool calls", "stream", l.streamID, "blocked", st.blocked)
				l.appendTurn(&messages, text, st)
				finish()
				return
			}

			if executedAny {
				extra := ""
				if st.emptyCalls == 0 {
					consecutiveEmpty = 0
				} else {
					consecutiveEmpty += st.emptyCalls
				}
				if consecutiveEmpty >= omitToolsThreshold {
					extra = answerWithoutToolsInstruction
					omitTools = true
				} else if consecutiveEmpty >= softInstructionThreshold {
					extra = toolUsageReminder
				}
				l.appendTurnWithInstruction(&messages, text, st, extra)
				if !emit(iterationContinueEvent(iteration)) {
					return
				}
				continue
			}

			// No tools this turn. An open fence takes precedence: ask the
			// model to finish the block.
			if tracker.Open() {
				if inContinuation && strings.TrimSpace(text) == "" {
					finish()
					return
				}
				if continuations < maxContinuations {
					continuations++
					trimmed := trimPartialLine(text)
					pendingRewind = strings.TrimPrefix(text, trimmed)
					inContinuation = true
					contBlockType = tracker.Top()
					if trimmed != "" {
						messages = append(messages, model.NewTextMessage(model.RoleAssistant, trimmed))
					}
					messages = append(messages, model.NewTextMessage(model.RoleUser,
						fmt.Sprintf("Continue the unfinished %s code block exactly where it stopped, then close it with ```.", contBlockType)))
					continue
				}
				finish()
				return
			}
			inContinuation = false

			if shouldContinueText(text) && iteration < l.maxIterations {
				if strings.TrimSpace(text) != "" {
					messages = append(messages, model.NewTextMessage(model.RoleAssistant, text))
				}
				messages = append(messages, model.NewTextMessage(model.RoleUser,
					"Please continue your previous answer."))
				continue
			}

			finish()
			return
		}

		// Iteration cap.
		finish()
	}
}

// runIteration streams one model turn, driving the chunk state machine.
func (l *Loop) runIteration(
	ctx context.Context,
	mreq *model.Request,
	st *iterationState,
	executedSignatures map[string]bool,
	tracker *fenceTracker,
	emit func(*Event) bool,
) (iterOutcome, *model.Error) {
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch := make(chan streamItem)
	go func() {
		defer close(ch)
		for chunk, err := range l.llm.Stream(sctx, mreq) {
			select {
			case ch <- streamItem{chunk, err}:
			case <-sctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	timer := time.NewTimer(l.inactivityTimeout)
	defer timer.Stop()

	flushText := func() bool {
		if st.sentinel != nil {
			// An open sentinel block at end of stream is a finished
			// call whose closing tag the stop sequence ate.
			text, calls := st.sentinel.Flush()
			if !l.pushText(text, st, tracker, emit) {
				return false
			}
			if !l.runSentinelCalls(ctx, calls, st, executedSignatures, emit) {
				return false
			}
		}
		out := st.filter.Push(st.opt.Flush()) + st.filter.Flush()
		if out == "" {
			return true
		}
		return emit(textEvent(out))
	}

	for {
		select {
		case <-ctx.Done():
			return outcomeCancelled, nil
		case <-timer.C:
			return outcomeTimeout, nil
		case item, ok := <-ch:
			if !ok {
				// Stream ended without an explicit stop.
				if !flushText() {
					return outcomeClientGone, nil
				}
				tracker.FinishMessage()
				return outcomeStop, nil
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(l.inactivityTimeout)

			if item.err != nil {
				return outcomeError, model.Classify(item.err)
			}
			if ctx.Err() != nil {
				return outcomeCancelled, nil
			}

			done, ok := l.handleChunk(ctx, item.chunk, st, executedSignatures, tracker, emit)
			if !ok {
				return outcomeClientGone, nil
			}
			if done {
				if !flushText() {
					return outcomeClientGone, nil
				}
				tracker.FinishMessage()
				return outcomeStop, nil
			}
		}
	}
}

// handleChunk advances the per-turn state machine. The first return is
// true at message stop; the second is false once the client went away.
func (l *Loop) handleChunk(
	ctx context.Context,
	chunk *model.Chunk,
	st *iterationState,
	executedSignatures map[string]bool,
	tracker *fenceTracker,
	emit func(*Event) bool,
) (bool, bool) {
	switch chunk.Type {
	case model.ChunkTextDelta:
		text := chunk.Text
		var calls []sentinelCall
		if st.sentinel != nil {
			text, calls = st.sentinel.Push(chunk.Text)
		}
		if !l.pushText(text, st, tracker, emit) {
			return false, false
		}
		if !l.runSentinelCalls(ctx, calls, st, executedSignatures, emit) {
			return false, false
		}

	case model.ChunkThinkingDelta:
		// UI only; never enters the transcript.
		if !emit(thinkingEvent(chunk.Text)) {
			return false, false
		}

	case model.ChunkToolUseStart:
		sig := chunk.Name + "\x00" + chunk.ID
		if executedSignatures[sig] {
			st.skipped[chunk.Index] = true
			st.blocked++
			l.log.Warn("duplicate tool call skipped", "tool", chunk.Name, "id", chunk.ID)
			return false, true
		}
		executedSignatures[sig] = true
		call := &tool.ToolCall{ID: chunk.ID, Name: chunk.Name, Index: chunk.Index}
		st.active[chunk.Index] = call
		if !emit(toolStartEvent(call)) {
			return false, false
		}

	case model.ChunkToolInputDelta:
		if call, ok := st.active[chunk.Index]; ok {
			call.PartialInput += chunk.Fragment
		}

	case model.ChunkContentBlockStop:
		if st.skipped[chunk.Index] {
			return false, true
		}
		call, ok := st.active[chunk.Index]
		if !ok {
			return false, true
		}
		delete(st.active, chunk.Index)
		if !l.finalizeToolCall(ctx, call, st, emit) {
			return false, false
		}

	case model.ChunkMessageStop:
		return true, true
	}
	return false, true
}

// pushText routes assistant text through the fence tracker and the
// outbound filters, emitting whatever clears them.
func (l *Loop) pushText(text string, st *iterationState, tracker *fenceTracker, emit func(*Event) bool) bool {
	if text == "" {
		return true
	}
	st.assistantText.WriteString(text)
	tracker.Feed(text)
	if out := st.filter.Push(st.opt.Push(text)); out != "" {
		return emit(textEvent(out))
	}
	return true
}

// runSentinelCalls executes tool calls extracted from inline sentinel
// blocks. Sentinel ids are synthetic, so the duplication guard keys on
// name plus input instead.
func (l *Loop) runSentinelCalls(ctx context.Context, calls []sentinelCall, st *iterationState, executedSignatures map[string]bool, emit func(*Event) bool) bool {
	for _, c := range calls {
		sig := c.Name + "\x00" + c.Input
		if executedSignatures[sig] {
			st.blocked++
			l.log.Warn("duplicate tool call skipped", "tool", c.Name)
			continue
		}
		executedSignatures[sig] = true

		call := &tool.ToolCall{
			ID:           "sentinel-" + uuid.NewString(),
			Name:         c.Name,
			Index:        st.synthIndex,
			PartialInput: c.Input,
		}
		st.synthIndex++
		if !emit(toolStartEvent(call)) {
			return false
		}
		if !l.finalizeToolCall(ctx, call, st, emit) {
			return false
		}
	}
	return true
}

// finalizeToolCall parses the accumulated input and executes the tool,
// feeding the normalized result into the iteration state. Returns false
// when the client went away.
func (l *Loop) finalizeToolCall(ctx context.Context, call *tool.ToolCall, st *iterationState, emit func(*Event) bool) bool {
	args, err := model.ParseToolInput(call.PartialInput)
	if err != nil {
		result := tool.ToolResult{
			ToolUseID: call.ID,
			ToolName:  call.Name,
			Content:   fmt.Sprintf("ERROR: %v. Re-issue the call with a single valid JSON object as input.", err),
			IsError:   true,
		}
		st.toolUses = append(st.toolUses, executedTool{call: *call, args: map[string]any{}})
		st.results = append(st.results, result)
		return emit(toolDisplayEvent(call, nil, result.Content))
	}

	if isShellTool(call.Name) && !hasCommand(args) {
		st.emptyCalls++
		l.metrics.RecordEmptyToolCall(ctx)
		result := tool.ToolResult{
			ToolUseID: call.ID,
			ToolName:  call.Name,
			Content:   missingCommandInstruction,
			IsError:   true,
		}
		st.toolUses = append(st.toolUses, executedTool{call: *call, args: args})
		st.results = append(st.results, result)
		return emit(toolDisplayEvent(call, args, result.Content))
	}

	// Tool execution can block; keep the client connection warm.
	if !emit(heartbeatEvent()) {
		return false
	}

	cctx, span := l.tracer.Start(ctx, "agent.tool",
		trace.WithAttributes(attribute.String("tool", call.Name)))
	raw, callErr := l.tools.Call(cctx, call.Name, args)
	span.End()
	var content string
	var isError bool
	if callErr != nil {
		content = fmt.Sprintf("ERROR: %v. Verify the tool name and arguments, or answer without this tool.", callErr)
		isError = true
	} else {
		content, isError = tool.NormalizeResult(raw)
	}
	l.metrics.RecordToolExecution(ctx, call.Name, !isError)

	st.toolUses = append(st.toolUses, executedTool{call: *call, args: args})
	st.results = append(st.results, tool.ToolResult{
		ToolUseID: call.ID,
		ToolName:  call.Name,
		Content:   content,
		IsError:   isError,
	})
	return emit(toolDisplayEvent(call, args, content))
}

// appendTurn reconciles one finished turn into the transcript: one
// assistant message (text + tool_use blocks in index order) and one user
// message carrying the tool results in matching order.
func (l *Loop) appendTurn(messages *[]*model.Message, text string, st *iterationState) {
	l.appendTurnWithInstruction(messages, text, st, "")
}

func (l *Loop) appendTurnWithInstruction(messages *[]*model.Message, text string, st *iterationState, instruction string) {
	uses := append([]executedTool(nil), st.toolUses...)
	sort.SliceStable(uses, func(i, j int) bool { return uses[i].call.Index < uses[j].call.Index })

	assistant := &model.Message{Role: model.RoleAssistant}
	if strings.TrimSpace(text) != "" {
		assistant.Blocks = append(assistant.Blocks, model.TextBlock(text))
	}
	for _, u := range uses {
		assistant.Blocks = append(assistant.Blocks, model.ToolUseBlock(u.call.ID, u.call.Name, u.args))
	}
	if len(assistant.Blocks) == 0 {
		return
	}
	*messages = append(*messages, assistant)

	if len(uses) == 0 {
		return
	}
	// Results ordered to match the tool_use blocks.
	byID := make(map[string]tool.ToolResult, len(st.results))
	for _, r := range st.results {
		byID[r.ToolUseID] = r
	}
	user := &model.Message{Role: model.RoleUser}
	for _, u := range uses {
		r, ok := byID[u.call.ID]
		if !ok {
			r = tool.ToolResult{
				ToolUseID: u.call.ID,
				ToolName:  u.call.Name,
				Content:   "ERROR: tool produced no result",
				IsError:   true,
			}
		}
		user.Blocks = append(user.Blocks, model.ToolResultBlock(r.ToolUseID, r.ToolName, r.Content, r.IsError))
	}
	if instruction != "" {
		user.Blocks = append(user.Blocks, model.TextBlock(instruction))
	}
	*messages = append(*messages, user)
}

// markSubmission records a fully successful stream with the file-state
// oracle, once, under the per-conversation lock.
func (l *Loop) markSubmission(conversationID string) {
	if l.oracle == nil || conversationID == "" {
		return
	}
	mu := lockFor(conversationID)
	mu.Lock()
	defer mu.Unlock()
	l.oracle.MarkContextSubmission(conversationID)
}

func isShellTool(name string) bool {
	return name == tool.ShellCommandName || name == tool.Prefix+tool.ShellCommandName
}

func hasCommand(args map[string]any) bool {
	cmd, ok := args["command"].(string)
	return ok && strings.TrimSpace(cmd) != ""
}

// shouldContinueText decides whether a toolless turn looks cut off. The
// tail after the last fenced block is the signal: a long tail ending in
// terminal punctuation is a finished answer; a colon or a short dangling
// tail after code suggests the model meant to keep going.
func shouldContinueText(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	if strings.HasSuffix(trimmed, ":") {
		return true
	}

	tail := trimmed
	hadFence := false
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		hadFence = true
		tail = trimmed[idx+3:]
		if nl := strings.Index(tail, "\n"); nl >= 0 {
			tail = tail[nl+1:]
		} else {
			tail = ""
		}
		tail = strings.TrimSpace(tail)
	}

	words := len(strings.Fields(tail))
	terminal := strings.HasSuffix(tail, ".") || strings.HasSuffix(tail, "!") || strings.HasSuffix(tail, "?")

	if words >= 20 && terminal {
		return false
	}
	if hadFence && tail != "" && words < 20 && !terminal {
		return true
	}
	return false
}
