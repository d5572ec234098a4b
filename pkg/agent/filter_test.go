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

func filterAll(f *fakeToolFilter, parts ...string) string {
	var out string
	for _, p := range parts {
		out += f.Push(p)
	}
	return out + f.Flush()
}

func TestFilterPassesOrdinaryText(t *testing.T) {
	f := &fakeToolFilter{}
	out := filterAll(f, "Hello ", "world.\nSecond line.\n")
	assert.Equal(t, "Hello world.\nSecond line.\n", out)
}

func TestFilterDropsFakeToolFence(t *testing.T) {
	f := &fakeToolFilter{}
	out := filterAll(f, "Before.\n```tool:read_file\n{\"path\": \"a.go\"}\n```\nAfter.\n")
	assert.Equal(t, "Before.\nAfter.\n", out)
}

func TestFilterDropsShellNarration(t *testing.T) {
	f := &fakeToolFilter{}
	out := filterAll(f, "Running:\nrun_shell_command\n$ ls -la\ndone\n")
	assert.Equal(t, "Running:\ndone\n", out)
}

func TestFilterReleasesShellLineWithoutDollar(t *testing.T) {
	f := &fakeToolFilter{}
	out := filterAll(f, "run_shell_command\nis the tool name.\n")
	assert.Equal(t, "run_shell_command\nis the tool name.\n", out)
}

func TestFilterHoldsPrefixAcrossPushes(t *testing.T) {
	f := &fakeToolFilter{}
	var out string
	out += f.Push("``")
	assert.Equal(t, "", out)
	out += f.Push("`tool:run\n{}\n``")
	out += f.Push("`\nvisible\n")
	out += f.Flush()
	assert.Equal(t, "visible\n", out)
}

func TestFilterOrdinaryFenceUntouched(t *testing.T) {
	f := &fakeToolFilter{}
	out := filterAll(f, "```go\nfunc f() {}\n```\n")
	assert.Equal(t, "```go\nfunc f() {}\n```\n", out)
}

func TestFilterDanglingFakeFenceStaysSuppressed(t *testing.T) {
	f := &fakeToolFilter{}
	out := filterAll(f, "```tool:read_file\n{\"path\": \"a\"}")
	assert.Equal(t, "", out)
}

func TestCouldBeFakeTool(t *testing.T) {
	assert.True(t, couldBeFakeTool(""))
	assert.True(t, couldBeFakeTool("   "))
	assert.True(t, couldBeFakeTool("run_shell"))
	assert.True(t, couldBeFakeTool("``"))
	assert.True(t, couldBeFakeTool("```tool:anything"))
	assert.False(t, couldBeFakeTool("running fast"))
	assert.False(t, couldBeFakeTool("```go"))
}
