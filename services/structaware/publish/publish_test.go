// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package publish

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu   sync.Mutex
	keys []string
	fail string
}

func (r *recorder) Name() string { return "mem://test" }

func (r *recorder) Upload(_ context.Context, _, key string) error {
	if key == r.fail {
		return errors.New("quota exceeded")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, key)
	return nil
}

func writeTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"metadata.json":               "{}",
		"train/from_0.parquet":        "chunk",
		"train/from_1000.parquet":     "chunk",
		"train/from_2000.parquet.tmp": "partial",
		"valid/from_0.parquet":        "chunk",
		".manifest/000001.vlog":       "badger",
	}
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0750))
		require.NoError(t, os.WriteFile(p, []byte(content), 0640))
	}
	return dir
}

func TestPublishDir(t *testing.T) {
	dir := writeTree(t)
	rec := &recorder{}

	s, err := PublishDir(context.Background(), rec, dir, Options{Prefix: "runs/abc"})
	require.NoError(t, err)
	assert.Equal(t, 4, s.Files)
	assert.Equal(t, int64(2+5*3), s.Bytes)

	sort.Strings(rec.keys)
	assert.Equal(t, []string{
		"runs/abc/metadata.json",
		"runs/abc/train/from_0.parquet",
		"runs/abc/train/from_1000.parquet",
		"runs/abc/valid/from_0.parquet",
	}, rec.keys)
}

func TestPublishDirUploadError(t *testing.T) {
	dir := writeTree(t)
	rec := &recorder{fail: "metadata.json"}

	_, err := PublishDir(context.Background(), rec, dir, Options{Concurrency: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestPublishDirRateLimited(t *testing.T) {
	dir := writeTree(t)
	rec := &recorder{}

	start := time.Now()
	s, err := PublishDir(context.Background(), rec, dir, Options{FilesPerSecond: 100})
	require.NoError(t, err)
	assert.Equal(t, 4, s.Files)
	assert.Len(t, rec.keys, 4)
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}

func TestPublishDirRateLimitedCanceled(t *testing.T) {
	dir := writeTree(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := PublishDir(ctx, &recorder{}, dir, Options{FilesPerSecond: 1})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPublishDirMissing(t *testing.T) {
	_, err := PublishDir(context.Background(), &recorder{}, filepath.Join(t.TempDir(), "nope"), Options{})
	assert.Error(t, err)
}

func TestDirPublisher(t *testing.T) {
	dir := writeTree(t)
	dst := t.TempDir()

	_, err := PublishDir(context.Background(), Dir{Root: dst}, dir, Options{Prefix: "out"})
	require.NoError(t, err)

	b, err := os.ReadFile(filepath.Join(dst, "out", "train", "from_1000.parquet"))
	require.NoError(t, err)
	assert.Equal(t, "chunk", string(b))
	_, err = os.Stat(filepath.Join(dst, "out", "train", "from_2000.parquet.tmp"))
	assert.True(t, os.IsNotExist(err))
}

func TestNewGCSMissingKey(t *testing.T) {
	_, err := NewGCS(context.Background(), "bucket", "/nonexistent/path/to/key.json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "service account key not found")

	_, err = NewGCS(context.Background(), "", "key.json")
	assert.Error(t, err)
}

func TestNewGCSInvalidCredentials(t *testing.T) {
	key := filepath.Join(t.TempDir(), "invalid_key.json")
	require.NoError(t, os.WriteFile(key, []byte("not valid json"), 0600))

	_, err := NewGCS(context.Background(), "bucket", key)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create GCS storage client")
}

func TestNewS3Validation(t *testing.T) {
	valid := S3Config{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "b", Bucket: "data"}

	s, err := NewS3(valid)
	require.NoError(t, err)
	assert.Equal(t, "s3://data", s.Name())
	assert.Equal(t, "us-east-1", s.region)

	for name, mutate := range map[string]func(*S3Config){
		"endpoint": func(c *S3Config) { c.Endpoint = " " },
		"keys":     func(c *S3Config) { c.SecretKey = "" },
		"bucket":   func(c *S3Config) { c.Bucket = "" },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := valid
			mutate(&cfg)
			_, err := NewS3(cfg)
			assert.Error(t, err)
		})
	}
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/json", contentType("a/metadata.json"))
	assert.Equal(t, "application/vnd.apache.parquet", contentType("train/from_0.parquet"))
	assert.Equal(t, "application/octet-stream", contentType("README"))
}
