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

package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// CodebaseConfig controls which files are swept into the model context.
type CodebaseConfig struct {
	// Dir is the root for all file path resolution. Required.
	Dir string `yaml:"dir,omitempty" json:"dir,omitempty" jsonschema:"title=Directory,description=Codebase root directory"`

	// MaxDepth bounds folder enumeration depth.
	MaxDepth int `yaml:"max_depth,omitempty" json:"max_depth,omitempty" jsonschema:"title=Max Depth,description=Folder enumeration depth,minimum=1,default=3"`

	// Exclusions are directory or file names skipped during enumeration.
	Exclusions []string `yaml:"exclusions,omitempty" json:"exclusions,omitempty" jsonschema:"title=Exclusions,description=Names skipped during enumeration"`

	// MaxFileSize skips files larger than this many bytes.
	MaxFileSize int64 `yaml:"max_file_size,omitempty" json:"max_file_size,omitempty" jsonschema:"title=Max File Size,description=Skip files larger than this (bytes),minimum=1"`

	// CacheDir holds the prompt cache file and command history.
	// Default: ~/.ziya
	CacheDir string `yaml:"cache_dir,omitempty" json:"cache_dir,omitempty" jsonschema:"title=Cache Directory,description=Per-user state directory"`

	// CacheTTL is the prompt cache entry lifetime in seconds.
	CacheTTL int `yaml:"cache_ttl,omitempty" json:"cache_ttl,omitempty" jsonschema:"title=Cache TTL,description=Prompt cache entry lifetime in seconds,minimum=1"`
}

// DefaultExclusions are directory names never swept into the context.
var DefaultExclusions = []string{
	".git",
	".hg",
	".svn",
	"node_modules",
	"__pycache__",
	".venv",
	"venv",
	".idea",
	".vscode",
	"dist",
	"build",
	"target",
	".ziya",
}

// SetDefaults applies default values.
func (c *CodebaseConfig) SetDefaults() {
	if c.MaxDepth == 0 {
		c.MaxDepth = 3
	}

	if len(c.Exclusions) == 0 {
		c.Exclusions = append([]string(nil), DefaultExclusions...)
	}

	if c.MaxFileSize == 0 {
		c.MaxFileSize = 1 << 20 // 1 MiB
	}

	if c.CacheDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.CacheDir = filepath.Join(home, ".ziya")
		} else {
			c.CacheDir = ".ziya"
		}
	}

	if c.CacheTTL == 0 {
		c.CacheTTL = 3600
	}
}

// Validate checks the codebase configuration.
func (c *CodebaseConfig) Validate() error {
	if c.Dir == "" {
		return fmt.Errorf("dir is required (set codebase.dir or USER_CODEBASE_DIR)")
	}

	info, err := os.Stat(c.Dir)
	if err != nil {
		return fmt.Errorf("dir %q is not accessible: %w", c.Dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("dir %q is not a directory", c.Dir)
	}

	if c.MaxDepth < 1 {
		return fmt.Errorf("max_depth must be at least 1")
	}

	if c.MaxFileSize < 1 {
		return fmt.Errorf("max_file_size must be positive")
	}

	if c.CacheTTL < 1 {
		return fmt.Errorf("cache_ttl must be positive")
	}

	return nil
}

// AbsDir returns the codebase root as an absolute path.
func (c *CodebaseConfig) AbsDir() string {
	abs, err := filepath.Abs(c.Dir)
	if err != nil {
		return c.Dir
	}
	return abs
}
