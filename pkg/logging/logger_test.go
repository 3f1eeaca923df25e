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

package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name    string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"", slog.LevelInfo, false},
		{"INFO", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"trace", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLevel(tt.name)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&Config{Level: "info", Format: "json", Output: &buf})
	require.NoError(t, err)

	logger.Info("registered user", "scheme", "pool", "user", "alice")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "registered user", record["msg"])
	assert.Equal(t, "pool", record["scheme"])
	assert.Equal(t, "alice", record["user"])
}

func TestNew_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&Config{Level: "warn", Output: &buf})
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Debugf("hidden %d", 1)
	assert.Empty(t, buf.String())

	logger.Warnf("visible %d", 2)
	logger.Error(errors.New("boom"))
	logger.MaybeError(nil)
	assert.Contains(t, buf.String(), "visible 2")
	assert.Contains(t, buf.String(), "boom")
}

func TestNew_Debug(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&Config{Level: "debug", Output: &buf})
	require.NoError(t, err)

	logger.With("component", "registry").Debug("drawn", "keys", 10)
	assert.Contains(t, buf.String(), "component=registry")
	assert.Contains(t, buf.String(), "keys=10")
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(&Config{Format: "xml"})
	assert.Error(t, err)

	_, err = New(&Config{Level: "loud"})
	assert.Error(t, err)
}

func TestDefaults(t *testing.T) {
	assert.NotNil(t, DefaultLogger())
	assert.NotNil(t, NewLogger(true))
	assert.NotNil(t, Discard().Slog())

	logger, err := New(nil)
	require.NoError(t, err)
	assert.NotNil(t, logger)
}
