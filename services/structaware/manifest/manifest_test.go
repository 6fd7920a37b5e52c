// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package manifest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPutGetChunk verifies a recorded chunk reads back unchanged.
func TestPutGetChunk(t *testing.T) {
	s, err := OpenInMemory()
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	info := ChunkInfo{
		Split:          "train",
		Start:          1000,
		File:           "from_1000.parquet",
		Rows:           998,
		Samples:        1000,
		SkippedParse:   2,
		NodeTypes:      []string{"identifier", "module"},
		MaxRelDistance: 127,
		RunID:          "run-1",
		CompletedAt:    time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.PutChunk(ctx, info))

	got, ok, err := s.GetChunk(ctx, "train", 1000)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, info, got)

	_, ok, err = s.GetChunk(ctx, "train", 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestListChunksOrder verifies chunks list per split in numeric start order.
func TestListChunksOrder(t *testing.T) {
	s, err := OpenInMemory()
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	for _, start := range []int{2000, 0, 1000} {
		require.NoError(t, s.PutChunk(ctx, ChunkInfo{Split: "train", Start: start}))
	}
	require.NoError(t, s.PutChunk(ctx, ChunkInfo{Split: "train_extra", Start: 5}))
	require.NoError(t, s.PutChunk(ctx, ChunkInfo{Split: "test", Start: 0}))

	chunks, err := s.ListChunks(ctx, "train")
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, 0, chunks[0].Start)
	assert.Equal(t, 1000, chunks[1].Start)
	assert.Equal(t, 2000, chunks[2].Start)
}

// TestUpdateChunk verifies in-place record updates.
func TestUpdateChunk(t *testing.T) {
	s, err := OpenInMemory()
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.PutChunk(ctx, ChunkInfo{Split: "valid", Start: 0, Rows: 3}))
	require.NoError(t, s.Update(ctx, "valid", 0, func(c *ChunkInfo) { c.TypesIndexed = true }))

	got, ok, err := s.GetChunk(ctx, "valid", 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.TypesIndexed)
	assert.Equal(t, 3, got.Rows)

	assert.Error(t, s.Update(ctx, "valid", 99, func(*ChunkInfo) {}))
}

// TestDeleteSplit verifies a split can be cleared without touching others.
func TestDeleteSplit(t *testing.T) {
	s, err := OpenInMemory()
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.PutChunk(ctx, ChunkInfo{Split: "train", Start: 0}))
	require.NoError(t, s.PutChunk(ctx, ChunkInfo{Split: "test", Start: 0}))
	require.NoError(t, s.DeleteSplit(ctx, "train"))

	train, err := s.ListChunks(ctx, "train")
	require.NoError(t, err)
	assert.Empty(t, train)

	test, err := s.ListChunks(ctx, "test")
	require.NoError(t, err)
	assert.Len(t, test, 1)
}

// TestDeleteChunk verifies one record can be dropped and a missing one is
// ignored.
func TestDeleteChunk(t *testing.T) {
	s, err := OpenInMemory()
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	for _, start := range []int{0, 2} {
		require.NoError(t, s.PutChunk(ctx, ChunkInfo{Split: "train", Start: start}))
	}
	require.NoError(t, s.DeleteChunk(ctx, "train", 0))
	require.NoError(t, s.DeleteChunk(ctx, "train", 42))

	chunks, err := s.ListChunks(ctx, "train")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, 2, chunks[0].Start)
}

// TestPersistentReopen verifies records survive a close and reopen.
func TestPersistentReopen(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Path = t.TempDir()
	ctx := context.Background()

	s, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, s.PutChunk(ctx, ChunkInfo{Split: "train", Start: 42, Rows: 7}))
	require.NoError(t, s.Close())

	s2, err := Open(cfg)
	require.NoError(t, err)
	defer s2.Close()

	got, ok, err := s2.GetChunk(ctx, "train", 42)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 7, got.Rows)
}

// TestOpenRequiresPath verifies that persistent mode requires a path.
func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path is required")

	_, err = Open(Config{Path: t.TempDir(), GCInterval: time.Minute})
	assert.Error(t, err)
}

// TestCanceledContext verifies operations honor cancellation.
func TestCanceledContext(t *testing.T) {
	s, err := OpenInMemory()
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, s.PutChunk(ctx, ChunkInfo{Split: "train"}), context.Canceled)
	_, _, err = s.GetChunk(ctx, "train", 0)
	assert.ErrorIs(t, err, context.Canceled)
}
