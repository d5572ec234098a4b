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

package cli

import (
	"context"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ziya-ai/ziya/pkg/config"
	"github.com/ziya-ai/ziya/pkg/model"
	"github.com/ziya-ai/ziya/pkg/runtime"
)

type scriptedLLM struct {
	chunks []*model.Chunk
	err    error
}

func (s *scriptedLLM) Name() string         { return "scripted" }
func (s *scriptedLLM) Family() model.Family { return model.FamilyAnthropic }
func (s *scriptedLLM) Close() error         { return nil }

func (s *scriptedLLM) Invoke(ctx context.Context, req *model.Request) (*model.Message, error) {
	return nil, model.NewError(model.KindServer, "invoke not scripted")
}

func (s *scriptedLLM) Stream(ctx context.Context, req *model.Request) iter.Seq2[*model.Chunk, error] {
	return func(yield func(*model.Chunk, error) bool) {
		for _, c := range s.chunks {
			if !yield(c, nil) {
				return
			}
		}
		if s.err != nil {
			yield(nil, s.err)
		}
	}
}

var _ model.LLM = (*scriptedLLM)(nil)

func testSession(t *testing.T, llm model.LLM) (*Session, *strings.Builder) {
	t.Helper()

	cfg := &config.Config{}
	cfg.Codebase.Dir = t.TempDir()
	cfg.Codebase.CacheDir = t.TempDir()
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())

	rt, err := runtime.New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	var out strings.Builder
	s := NewSession(rt, &out)
	desc := &model.Descriptor{Name: "scripted", TokenLimit: 200000, NativeTools: true}
	s.prepare = func(ctx context.Context) (model.LLM, *model.Descriptor, map[string]any, error) {
		return llm, desc, nil, nil
	}
	return s, &out
}

func TestAskStreamsAnswer(t *testing.T) {
	s, out := testSession(t, &scriptedLLM{chunks: []*model.Chunk{
		model.TextDelta("Hello "),
		model.TextDelta("world."),
		model.MessageStop("end_turn", nil),
	}})

	answer, err := s.Ask(context.Background(), "greet me", nil)
	require.NoError(t, err)
	assert.Equal(t, "Hello world.", answer)
	assert.Contains(t, out.String(), "Hello world.")

	// The exchange joins the session history for follow-ups.
	require.Len(t, s.history, 1)
	assert.Equal(t, "greet me", s.history[0].Human)
}

func TestAskSurfacesErrorEnvelope(t *testing.T) {
	s, _ := testSession(t, &scriptedLLM{
		err: model.NewError(model.KindThrottling, "slow down"),
	})

	_, err := s.Ask(context.Background(), "hi", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttling_error")
}

func TestResetStartsNewConversation(t *testing.T) {
	s, _ := testSession(t, &scriptedLLM{chunks: []*model.Chunk{
		model.TextDelta("ok"),
		model.MessageStop("end_turn", nil),
	}})

	_, err := s.Ask(context.Background(), "first", nil)
	require.NoError(t, err)
	before := s.ConversationID()

	s.Reset()
	assert.NotEqual(t, before, s.ConversationID())
	assert.Empty(t, s.history)
}

func TestInteractiveExit(t *testing.T) {
	s, out := testSession(t, &scriptedLLM{})
	i := NewInteractive(s, nil)

	err := i.Run(context.Background(), strings.NewReader("/exit\n"), out)
	require.NoError(t, err)
}

func TestInteractiveAsksAndContinues(t *testing.T) {
	s, out := testSession(t, &scriptedLLM{chunks: []*model.Chunk{
		model.TextDelta("the answer"),
		model.MessageStop("end_turn", nil),
	}})
	i := NewInteractive(s, nil)

	err := i.Run(context.Background(), strings.NewReader("what is it?\n/exit\n"), out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "the answer")
}

func TestInteractiveFilesCommand(t *testing.T) {
	s, out := testSession(t, &scriptedLLM{})
	i := NewInteractive(s, nil)

	err := i.Run(context.Background(), strings.NewReader("/files a.go b.go\n/exit\n"), out)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.go", "b.go"}, i.files)
}

func TestPrependContext(t *testing.T) {
	assert.Equal(t, "question", PrependContext("", "question"))
	assert.Equal(t, "diff\n\nquestion", PrependContext("diff", "question"))
}

func TestReviewQuestion(t *testing.T) {
	q := ReviewQuestion([]string{"a.go", "b.go"})
	assert.Contains(t, q, "a.go, b.go")
	assert.Contains(t, ReviewQuestion(nil), "Review the provided code")
}

func TestHistoryAppend(t *testing.T) {
	dir := t.TempDir()
	h := NewHistory(dir)
	h.Append("first question")
	h.Append("second question")

	data, err := os.ReadFile(filepath.Join(dir, "history"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "first question")
	assert.Contains(t, lines[1], "second question")
}

func TestHistoryNilSafe(t *testing.T) {
	var h *History
	h.Append("ignored")

	h = NewHistory("")
	h.Append("also ignored")
}
