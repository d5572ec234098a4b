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

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryGetUnknownAlias(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Descriptor{Name: "sonnet"}))

	_, err := r.Get("no-such-model")
	require.Error(t, err)

	var me *Error
	require.True(t, errors.As(err, &me))
	assert.Equal(t, KindNotFound, me.Kind)
	assert.Equal(t, 404, me.Status)
	assert.Contains(t, me.Message, "no-such-model")
	// The message lists what is available, for operator-facing errors.
	assert.Contains(t, me.Message, "sonnet")
}

func TestRegistryGetKnownAlias(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Descriptor{Name: "sonnet", TokenLimit: 200000}))

	d, err := r.Get("sonnet")
	require.NoError(t, err)
	assert.Equal(t, 200000, d.TokenLimit)
}

func TestRegistrySealRejectsRegistration(t *testing.T) {
	r := NewRegistry()
	r.Seal()
	err := r.Register(&Descriptor{Name: "late"})
	require.Error(t, err)
}

func TestDefaultRegistryHasBuiltins(t *testing.T) {
	r := DefaultRegistry()
	d, err := r.Get("sonnet4.5")
	require.NoError(t, err)
	assert.True(t, d.NativeTools)
}
