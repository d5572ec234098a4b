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

package runtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ziya-ai/ziya/pkg/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := &config.Config{}
	cfg.Codebase.Dir = t.TempDir()
	cfg.Codebase.CacheDir = t.TempDir()
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestNewBuildsComponentGraph(t *testing.T) {
	r, err := New(context.Background(), testConfig(t))
	require.NoError(t, err)
	defer r.Close()

	assert.NotNil(t, r.Factory)
	assert.NotNil(t, r.Assembler)
	assert.NotNil(t, r.Oracle)
	assert.NotNil(t, r.Tools)
	assert.NotNil(t, r.Store)

	// No rate limit configured, no limiter built.
	assert.Nil(t, r.Limiter)
}

func TestNewWithRateLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.RateLimit = &config.RateLimitConfig{
		Enabled: config.BoolPtr(true),
		Limits: []config.RateLimitRule{
			{Type: "count", Window: "minute", Limit: 10},
		},
	}
	cfg.Server.RateLimit.SetDefaults()

	r, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer r.Close()

	require.NotNil(t, r.Limiter)
	d, err := r.Limiter.Allow(context.Background(), "conv-1", 0)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestServerDepsCarriesGraph(t *testing.T) {
	r, err := New(context.Background(), testConfig(t))
	require.NoError(t, err)
	defer r.Close()

	deps := r.ServerDeps()
	assert.Equal(t, r.Factory, deps.Factory)
	assert.Equal(t, r.Assembler, deps.Assembler)
	assert.Equal(t, r.Store, deps.Store)
}

func TestCloseIsIdempotent(t *testing.T) {
	r, err := New(context.Background(), testConfig(t))
	require.NoError(t, err)

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
}
