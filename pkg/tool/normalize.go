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
	"encoding/json"
	"fmt"
	"strings"
)

// NormalizeResult flattens the payload shapes tool servers return into the
// single string fed back to the model:
//
//   - MCP content lists: {"content": [{"type": "text", "text": ...}, ...]}
//   - error objects: {"error": ..., "message": ...}
//   - plain strings pass through
//   - anything else is JSON-encoded
//
// The second return reports whether the payload was an error shape.
func NormalizeResult(result any) (string, bool) {
	switch v := result.(type) {
	case nil:
		return "", false
	case string:
		return v, false
	case map[string]any:
		if content, ok := v["content"].([]any); ok {
			return flattenContentList(content), contentIsError(v)
		}
		if errVal, ok := v["error"]; ok {
			msg, _ := v["message"].(string)
			if msg == "" {
				msg = fmt.Sprintf("%v", errVal)
			}
			return msg, true
		}
		return encodeOpaque(v), false
	default:
		return encodeOpaque(v), false
	}
}

func flattenContentList(content []any) string {
	var parts []string
	for _, item := range content {
		entry, ok := item.(map[string]any)
		if !ok {
			parts = append(parts, fmt.Sprintf("%v", item))
			continue
		}
		if text, ok := entry["text"].(string); ok {
			parts = append(parts, text)
			continue
		}
		parts = append(parts, encodeOpaque(entry))
	}
	return strings.Join(parts, "\n")
}

func contentIsError(payload map[string]any) bool {
	isErr, _ := payload["isError"].(bool)
	return isErr
}

func encodeOpaque(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
