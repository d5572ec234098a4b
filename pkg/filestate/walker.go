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

package filestate

import (
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/ziya-ai/ziya/pkg/config"
)

// Walk enumerates the codebase files eligible for context inclusion:
// depth-bounded, exclusion-filtered, size-capped, binary files skipped.
// Paths are returned relative to the root, in lexical walk order.
func Walk(cfg *config.CodebaseConfig) ([]string, error) {
	root := cfg.AbsDir()
	excluded := make(map[string]bool, len(cfg.Exclusions))
	for _, name := range cfg.Exclusions {
		excluded[name] = true
	}

	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable entries are skipped, not fatal.
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if path == root {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		depth := strings.Count(rel, string(filepath.Separator)) + 1

		if d.IsDir() {
			if excluded[d.Name()] || strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			if depth >= cfg.MaxDepth {
				return filepath.SkipDir
			}
			return nil
		}

		if excluded[d.Name()] || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		if depth > cfg.MaxDepth {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if cfg.MaxFileSize > 0 && info.Size() > cfg.MaxFileSize {
			return nil
		}
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paths, nil
}
