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

package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFenceTrackerBalancedBlock(t *testing.T) {
	tr := &fenceTracker{}
	tr.Feed("intro\n```go\nfunc f() {}\n```\noutro\n")
	tr.FinishMessage()
	assert.False(t, tr.Open())
}

func TestFenceTrackerOpenBlock(t *testing.T) {
	tr := &fenceTracker{}
	tr.Feed("```python\ndef f():\n")
	tr.FinishMessage()
	assert.True(t, tr.Open())
	assert.Equal(t, "python", tr.Top())
}

func TestFenceTrackerBareFenceOpensAsCode(t *testing.T) {
	tr := &fenceTracker{}
	tr.Feed("```\nsomething\n")
	tr.FinishMessage()
	assert.True(t, tr.Open())
	assert.Equal(t, "code", tr.Top())
}

func TestFenceTrackerPartialFenceLineCounts(t *testing.T) {
	tr := &fenceTracker{}
	// The fence line arrives without a trailing newline; FinishMessage
	// still folds it in.
	tr.Feed("text\n```merm")
	tr.FinishMessage()
	assert.True(t, tr.Open())
	assert.Equal(t, "merm", tr.Top())
}

func TestFenceTrackerSplitAcrossFeeds(t *testing.T) {
	tr := &fenceTracker{}
	tr.Feed("``")
	tr.Feed("`go\nfun")
	tr.Feed("c f() {}\n``")
	tr.Feed("`\n")
	tr.FinishMessage()
	assert.False(t, tr.Open())
}

func TestFenceTrackerNested(t *testing.T) {
	tr := &fenceTracker{}
	tr.Feed("```markdown\nexample:\n```go\nf()\n```\n")
	tr.FinishMessage()
	assert.True(t, tr.Open())
	assert.Equal(t, "markdown", tr.Top())
}

func TestFenceTrackerReset(t *testing.T) {
	tr := &fenceTracker{}
	tr.Feed("```go\n")
	tr.Reset()
	assert.False(t, tr.Open())
}

func TestTrimPartialLine(t *testing.T) {
	assert.Equal(t, "a\nb\n", trimPartialLine("a\nb\n"))
	assert.Equal(t, "a\n", trimPartialLine("a\nhalf a li"))
	assert.Equal(t, "no newline at all", trimPartialLine("no newline at all"))
}
