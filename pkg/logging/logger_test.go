// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]Level{
		"debug": LevelDebug,
		"INFO":  LevelInfo,
		"":      LevelInfo,
		"warn":  LevelWarn,
		"error": LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "ERROR", LevelError.String())
	assert.Equal(t, "UNKNOWN", Level(42).String())
}

func TestConsoleFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelWarn, Service: "prepare", Console: &buf})

	logger.Info("chunk written", "rows", 10)
	logger.Warn("sample skipped", "index", 3)

	out := buf.String()
	assert.NotContains(t, out, "chunk written")
	assert.Contains(t, out, "sample skipped")
	assert.Contains(t, out, "service=prepare")
	assert.Contains(t, out, "index=3")
}

func TestJSONConsole(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelDebug, JSON: true, Console: &buf})
	logger.With("split", "train").Slog().Debug("chunk decoded")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "chunk decoded", rec["msg"])
	assert.Equal(t, "train", rec["split"])
}

func TestFileLogging(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	var buf bytes.Buffer
	logger := New(Config{Level: LevelInfo, LogDir: dir, Service: "index", Console: &buf})

	logger.Info("node types indexed", "num_ast_node_types", 42)
	require.NoError(t, logger.Close())
	require.NoError(t, logger.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "index_"))

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"num_ast_node_types":42`)
	assert.Contains(t, buf.String(), "node types indexed")
}

func TestQuietWithoutFile(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Quiet: true, Console: &buf})
	logger.Error("dropped")
	assert.Empty(t, buf.String())
	assert.NoError(t, logger.Close())
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "logs"), expandPath("~/logs"))
	assert.Equal(t, "/var/log", expandPath("/var/log"))
}
