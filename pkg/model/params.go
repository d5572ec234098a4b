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

package model

// FilterParams reduces a caller-supplied parameter bag to exactly the keys
// the descriptor's backend accepts. Nil values are dropped. `stop` is
// dropped for Anthropic-family descriptors even when listed: the tool loop
// supplies its own sentinel stop sequence there.
//
// The filter is pure; callers invoke it immediately before every driver
// call so per-attempt adjustments still pass through it.
func FilterParams(bag map[string]any, d *Descriptor) map[string]any {
	out := make(map[string]any, len(bag))
	for key, value := range bag {
		if value == nil {
			continue
		}
		if !d.Supports(key) {
			continue
		}
		if key == "stop" && d.Family == FamilyAnthropic {
			continue
		}
		out[key] = value
	}
	return out
}
