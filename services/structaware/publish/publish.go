// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package publish uploads a prepared output directory to object storage.
package publish

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// DefaultConcurrency is the number of files uploaded at once.
const DefaultConcurrency = 4

// Publisher stores local files under object keys.
type Publisher interface {
	// Name identifies the destination in logs, e.g. "gs://bucket".
	Name() string

	Upload(ctx context.Context, localPath, key string) error
}

// Summary describes a finished PublishDir call.
type Summary struct {
	Files int
	Bytes int64
}

// Options configures PublishDir.
type Options struct {
	// Prefix is prepended to every object key.
	Prefix string

	// Concurrency bounds parallel uploads. Default 4.
	Concurrency int

	// FilesPerSecond caps the upload start rate. Zero means unlimited.
	FilesPerSecond float64

	Logger *slog.Logger
}

// PublishDir uploads every regular file below dir. Keys are the slash
// separated paths relative to dir, joined to opts.Prefix. Hidden
// directories such as the run manifest and unfinished chunk files (".tmp")
// are skipped.
//
// Outputs:
//
//	Summary - Files and bytes uploaded.
//	error   - The first upload or walk error. Other uploads are canceled.
func PublishDir(ctx context.Context, pub Publisher, dir string, opts Options) (Summary, error) {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("destination", pub.Name()))

	var files []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && p != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if d.Type().IsRegular() && !strings.HasSuffix(p, ".tmp") {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return Summary{}, fmt.Errorf("walk %s: %w", dir, err)
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.FilesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.FilesPerSecond), 1)
	}

	var bytes atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for _, p := range files {
		g.Go(func() error {
			rel, err := filepath.Rel(dir, p)
			if err != nil {
				return err
			}
			key := path.Join(opts.Prefix, filepath.ToSlash(rel))
			if err := limiter.Wait(gctx); err != nil {
				return err
			}
			if err := pub.Upload(gctx, p, key); err != nil {
				return fmt.Errorf("upload %s: %w", rel, err)
			}
			if st, err := os.Stat(p); err == nil {
				bytes.Add(st.Size())
			}
			logger.Debug("file uploaded", slog.String("key", key))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Summary{}, err
	}

	s := Summary{Files: len(files), Bytes: bytes.Load()}
	logger.Info("output published", slog.Int("files", s.Files), slog.Int64("bytes", s.Bytes))
	return s, nil
}
