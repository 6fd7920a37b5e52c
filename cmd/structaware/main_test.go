// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/structaware/services/structaware/config"
	"github.com/AleutianAI/structaware/services/structaware/publish"
)

func TestSplitsArg(t *testing.T) {
	cfg := config.DefaultConfig()
	assert.Equal(t, []string{"train", "valid", "test"}, splitsArg(&cfg, nil))
	assert.Equal(t, []string{"valid"}, splitsArg(&cfg, []string{"valid"}))
}

func TestNewPublisher(t *testing.T) {
	pub, err := newPublisher(publishCmd, config.PublishConfig{Target: "dir", Dir: "/tmp/out"})
	require.NoError(t, err)
	assert.Equal(t, publish.Dir{Root: "/tmp/out"}, pub)

	_, err = newPublisher(publishCmd, config.PublishConfig{Target: "dir"})
	assert.Error(t, err)

	pub, err = newPublisher(publishCmd, config.PublishConfig{
		Target: "s3", S3Endpoint: "localhost:9000", S3AccessKey: "a", S3SecretKey: "b", Bucket: "data",
	})
	require.NoError(t, err)
	assert.Equal(t, "s3://data", pub.Name())

	_, err = newPublisher(publishCmd, config.PublishConfig{Target: "ftp"})
	assert.Error(t, err)
}

func TestRunInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "structaware.yaml")
	require.NoError(t, runInit(initCmd, []string{path}))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig().Features, cfg.Features)
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"prepare", "index", "reduce", "inspect", "publish", "init"} {
		assert.True(t, names[want], want)
	}
}

func TestJSONConsole(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "log"))
	require.NoError(t, err)
	defer f.Close()

	assert.True(t, jsonConsole(false, f.Fd()), "regular files are not terminals")
	assert.True(t, jsonConsole(true, f.Fd()))
}

// TestOpenSourceSubsample verifies max_samples takes the head of the split
// unless subsampling is enabled.
func TestOpenSourceSubsample(t *testing.T) {
	dir := t.TempDir()
	var lines strings.Builder
	for i := range 200 {
		fmt.Fprintf(&lines, `{"func_documentation_string":"d%d","func_code_string":"x = %d"}`+"\n", i, i)
	}
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "train"), 0750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "train", "a.jsonl"), []byte(lines.String()), 0640))

	read := func(cfg *config.Config) []int {
		r, err := openSource(cfg, "train")
		require.NoError(t, err)
		defer r.Close()
		var idx []int
		for {
			s, ok, err := r.Next()
			require.NoError(t, err)
			if !ok {
				return idx
			}
			idx = append(idx, s.Index)
		}
	}

	cfg := config.DefaultConfig()
	cfg.Source.Dir = dir
	cfg.Source.MaxSamples = 5
	assert.Equal(t, []int{0, 1, 2, 3, 4}, read(&cfg))

	cfg.Source.Subsample = true
	picked := read(&cfg)
	require.Len(t, picked, 5)
	assert.NotEqual(t, []int{0, 1, 2, 3, 4}, picked)
	assert.Equal(t, picked, read(&cfg))
}
