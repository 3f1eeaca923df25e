// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-keypredist.
//
// go-keypredist is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package storage

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ Backend = (*MemoryBackend)(nil)

func TestMemoryBackend_PutGet(t *testing.T) {
	m := NewMemory()

	value := []byte(`{"config":{}}`)
	require.NoError(t, m.Put("state/kps_state.json", value, DefaultOptions()))

	got, err := m.Get("state/kps_state.json")
	require.NoError(t, err)
	assert.Equal(t, value, got)

	// stored and returned values are copies
	value[0] = 'X'
	got[1] = 'Y'
	again, err := m.Get("state/kps_state.json")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"config":{}}`), again)
}

func TestMemoryBackend_NotFound(t *testing.T) {
	m := NewMemory()

	_, err := m.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.Delete("missing"), ErrNotFound)

	ok, err := m.Exists("missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryBackend_InvalidKey(t *testing.T) {
	assert.ErrorIs(t, NewMemory().Put("", []byte("x"), nil), ErrInvalidKey)
}

func TestMemoryBackend_ListAndDelete(t *testing.T) {
	m := NewMemory()
	for _, key := range []string{"state/pool.json", "state/matrix.json", "other/x"} {
		require.NoError(t, m.Put(key, []byte(key), nil))
	}

	keys, err := m.List("state/")
	require.NoError(t, err)
	assert.Equal(t, []string{"state/matrix.json", "state/pool.json"}, keys)

	all, err := m.List("")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	require.NoError(t, m.Delete("state/pool.json"))
	ok, err := m.Exists("state/pool.json")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryBackend_Close(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Put("k", []byte("v"), nil))
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	_, err := m.Get("k")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, m.Put("k", nil, nil), ErrClosed)
	assert.ErrorIs(t, m.Delete("k"), ErrClosed)
	_, err = m.List("")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = m.Exists("k")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMemoryBackend_Concurrent(t *testing.T) {
	m := NewMemory()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k/%d", i)
			assert.NoError(t, m.Put(key, []byte{byte(i)}, nil))
			v, err := m.Get(key)
			assert.NoError(t, err)
			assert.Equal(t, []byte{byte(i)}, v)
		}(i)
	}
	wg.Wait()

	keys, err := m.List("k/")
	require.NoError(t, err)
	assert.Len(t, keys, 20)
}
