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

package tool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeResult(t *testing.T) {
	tests := []struct {
		name      string
		input     any
		want      string
		wantError bool
	}{
		{
			name:  "nil",
			input: nil,
			want:  "",
		},
		{
			name:  "plain string",
			input: "ls output",
			want:  "ls output",
		},
		{
			name: "mcp content list",
			input: map[string]any{
				"content": []any{
					map[string]any{"type": "text", "text": "line one"},
					map[string]any{"type": "text", "text": "line two"},
				},
			},
			want: "line one\nline two",
		},
		{
			name: "mcp content list with error flag",
			input: map[string]any{
				"content": []any{map[string]any{"type": "text", "text": "boom"}},
				"isError": true,
			},
			want:      "boom",
			wantError: true,
		},
		{
			name:      "error object with message",
			input:     map[string]any{"error": "timeout", "message": "command timed out"},
			want:      "command timed out",
			wantError: true,
		},
		{
			name:      "error object without message",
			input:     map[string]any{"error": "command_rejected"},
			want:      "command_rejected",
			wantError: true,
		},
		{
			name:  "opaque map is json encoded",
			input: map[string]any{"rows": float64(3)},
			want:  `{"rows":3}`,
		},
		{
			name:  "opaque slice is json encoded",
			input: []int{1, 2},
			want:  "[1,2]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, isError := NormalizeResult(tt.input)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantError, isError)
		})
	}
}
