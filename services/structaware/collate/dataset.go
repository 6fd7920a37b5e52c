// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package collate

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/AleutianAI/structaware/services/structaware/chunkstore"
	"github.com/AleutianAI/structaware/services/structaware/pipeline"
)

// DefaultCacheChunks is the number of decoded chunks kept in memory.
const DefaultCacheChunks = 8

// Options configures a Dataset.
type Options struct {
	// ExpandSimilarities rebuilds full similarity matrices from splits that
	// went through the reduce pass.
	ExpandSimilarities bool

	// CacheChunks bounds the decoded chunk cache. Default 8.
	CacheChunks int

	Logger *slog.Logger
}

type chunkRef struct {
	path  string
	first int // global index of the chunk's first row
	rows  int
}

// Dataset gives indexed access to the rows of one prepared split.
//
// Description:
//
//	Chunk files are listed and their row counts read once on Open. Rows are
//	decoded a whole chunk at a time; decoded chunks are kept in an LRU cache
//	so sequential access decodes each chunk once.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Dataset struct {
	split  string
	md     *pipeline.Metadata
	chunks []chunkRef
	total  int
	opts   Options
	cache  *lru.Cache[string, []*Example]
	logger *slog.Logger
}

// Open loads the metadata of dir and indexes the chunks of split.
//
// Outputs:
//
//	*Dataset - The split. It may hold zero rows.
//	error    - *chunkstore.StorageError when metadata or chunks cannot be
//	           read.
func Open(dir, split string, opts Options) (*Dataset, error) {
	md, err := pipeline.ReadMetadata(dir)
	if err != nil {
		return nil, err
	}
	if opts.CacheChunks <= 0 {
		opts.CacheChunks = DefaultCacheChunks
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cache, err := lru.New[string, []*Example](opts.CacheChunks)
	if err != nil {
		return nil, fmt.Errorf("create chunk cache: %w", err)
	}

	paths, err := chunkstore.List(filepath.Join(dir, split))
	if err != nil {
		return nil, err
	}
	d := &Dataset{
		split:  split,
		md:     md,
		opts:   opts,
		cache:  cache,
		logger: logger.With(slog.String("split", split)),
	}
	for _, path := range paths {
		n, err := chunkstore.Count(path)
		if err != nil {
			return nil, err
		}
		d.chunks = append(d.chunks, chunkRef{path: path, first: d.total, rows: n})
		d.total += n
	}
	d.logger.Info("dataset opened", slog.Int("chunks", len(d.chunks)), slog.Int("rows", d.total))
	return d, nil
}

// Metadata returns the metadata of the prepared output.
func (d *Dataset) Metadata() *pipeline.Metadata { return d.md }

// Len returns the number of rows in the split.
func (d *Dataset) Len() int { return d.total }

// Get returns row i of the split.
func (d *Dataset) Get(i int) (*Example, error) {
	if i < 0 || i >= d.total {
		return nil, fmt.Errorf("row %d out of range [0,%d)", i, d.total)
	}
	c := sort.Search(len(d.chunks), func(k int) bool {
		return d.chunks[k].first+d.chunks[k].rows > i
	})
	ref := d.chunks[c]

	examples, err := d.load(ref)
	if err != nil {
		return nil, err
	}
	return examples[i-ref.first], nil
}

// Batches calls fn with consecutive examples of at most size rows, in
// storage order. It stops at the first error from fn or ctx.
func (d *Dataset) Batches(ctx context.Context, size int, fn func([]*Example) error) error {
	if size <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", size)
	}
	batch := make([]*Example, 0, size)
	for i := 0; i < d.total; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		e, err := d.Get(i)
		if err != nil {
			return err
		}
		batch = append(batch, e)
		if len(batch) == size {
			if err := fn(batch); err != nil {
				return err
			}
			batch = make([]*Example, 0, size)
		}
	}
	if len(batch) > 0 {
		return fn(batch)
	}
	return nil
}

// Collator returns a collator configured from the split's metadata.
func (d *Dataset) Collator(padTokenID int) *Collator {
	return NewCollator(d.md.NumASTNodeTypes, padTokenID)
}

func (d *Dataset) load(ref chunkRef) ([]*Example, error) {
	if examples, ok := d.cache.Get(ref.path); ok {
		return examples, nil
	}

	rows, err := chunkstore.Read(ref.path)
	if err != nil {
		return nil, err
	}
	if len(rows) != ref.rows {
		return nil, fmt.Errorf("%s: %d rows, indexed %d", ref.path, len(rows), ref.rows)
	}

	opts := decodeOptions{maxLeaves: d.md.MaxLeaves, expandSimilarities: d.opts.ExpandSimilarities}
	examples := make([]*Example, len(rows))
	for i, row := range rows {
		if examples[i], err = decodeRow(row, opts); err != nil {
			return nil, fmt.Errorf("%s row %d: %w", ref.path, i, err)
		}
	}
	d.cache.Add(ref.path, examples)
	d.logger.Debug("chunk decoded", slog.String("file", ref.path), slog.Int("rows", len(rows)))
	return examples, nil
}
