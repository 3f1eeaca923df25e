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

package validation

import (
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jeremyhahn/go-keypredist/pkg/types"
)

func TestValidateUserID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"simple", "alice", false},
		{"email", "bob@example.com", false},
		{"dotted", "node-01.rack_2", false},
		{"empty", "", true},
		{"too long", strings.Repeat("a", 256), true},
		{"max length", strings.Repeat("a", 255), false},
		{"space", "alice smith", true},
		{"slash", "alice/bob", true},
		{"newline", "alice\nlevel=error", true},
		{"null byte", "alice\x00", true},
		{"unicode", "älice", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUserID(tt.id)
			if tt.wantErr {
				assert.ErrorIs(t, err, types.ErrInvalidParameters)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateUserPair(t *testing.T) {
	assert.NoError(t, ValidateUserPair("alice", "bob"))
	assert.Error(t, ValidateUserPair("", "bob"))
	assert.Error(t, ValidateUserPair("alice", "b b"))
}

func TestValidateStateKey(t *testing.T) {
	tests := []struct {
		key     string
		wantErr bool
	}{
		{"kps_state.json", false},
		{"state/pool.yaml", false},
		{"", true},
		{"/etc/passwd", true},
		{"../escape.json", true},
		{"a/../../b", true},
		{"a/..", true},
		{"..", true},
		{"tab\tkey", true},
		{"semi;colon", true},
		{strings.Repeat("k", 256), true},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			err := ValidateStateKey(tt.key)
			if tt.wantErr {
				assert.ErrorIs(t, err, types.ErrInvalidParameters)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidatePoolParameters(t *testing.T) {
	tests := []struct {
		name      string
		size, kpu int
		wantErr   bool
	}{
		{"empty pool", 0, 0, false},
		{"defaults", 100, 10, false},
		{"max size", MaxPoolSize, MaxPoolSize, false},
		{"negative size", -1, 0, true},
		{"oversized", MaxPoolSize + 1, 1, true},
		{"huge", 1 << 30, 1, true},
		{"negative kpu", 10, -1, true},
		{"kpu exceeds size", 10, 11, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePoolParameters(tt.size, tt.kpu)
			if tt.wantErr {
				assert.ErrorIs(t, err, types.ErrInvalidParameters)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidateMatrixParameters(t *testing.T) {
	big4096 := new(big.Int).Lsh(big.NewInt(1), MaxPrimeBits-1)
	big4097 := new(big.Int).Lsh(big.NewInt(1), MaxPrimeBits)

	assert.NoError(t, ValidateMatrixParameters(nil, 4))
	assert.NoError(t, ValidateMatrixParameters(big.NewInt(7919), MaxDimension))
	assert.NoError(t, ValidateMatrixParameters(big4096, 1))

	assert.ErrorIs(t, ValidateMatrixParameters(nil, 0), types.ErrInvalidParameters)
	assert.ErrorIs(t, ValidateMatrixParameters(nil, MaxDimension+1), types.ErrInvalidParameters)
	assert.ErrorIs(t, ValidateMatrixParameters(big4097, 4), types.ErrInvalidParameters)
}

func TestSanitizeForLog(t *testing.T) {
	assert.Equal(t, "alicelevel=error", SanitizeForLog("alice\nlevel=error"))
	assert.Equal(t, "plain", SanitizeForLog("plain"))

	long := SanitizeForLog(strings.Repeat("x", 1200))
	assert.True(t, strings.HasSuffix(long, "...[truncated]"))
	assert.Len(t, long, 1000+len("...[truncated]"))
}
