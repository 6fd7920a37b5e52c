// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline turns doc/code samples into stored feature chunks.
//
// A run reads a split in fixed-size chunks. Each chunk is cleaned, parsed,
// tokenized and featurized independently, then written as one parquet file.
// Chunks report their node types and maximum relative distance; the results
// are folded after the last chunk, and post passes (IndexNodeTypes,
// ReduceSimilarities) rewrite the stored chunks against the global state.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/structaware/services/structaware/ast"
	"github.com/AleutianAI/structaware/services/structaware/attnmask"
	"github.com/AleutianAI/structaware/services/structaware/chunkstore"
	"github.com/AleutianAI/structaware/services/structaware/manifest"
	"github.com/AleutianAI/structaware/services/structaware/pathsim"
	"github.com/AleutianAI/structaware/services/structaware/source"
	"github.com/AleutianAI/structaware/services/structaware/tokenizer"
)

// DefaultChunkRows is the number of samples per chunk file.
const DefaultChunkRows = 1000

// Options configures a Pipeline.
type Options struct {
	// OutputDir receives <split>/from_<start>.parquet and metadata.json.
	OutputDir string

	// ChunkRows is the number of input samples per chunk. Default 1000.
	ChunkRows int

	// Workers bounds how many chunks are featurized at once. Default 1.
	Workers int

	// MaxLeaves caps the similarity matrix. Default pathsim.DefaultMaxLeaves.
	MaxLeaves int

	// MaxRelDistance clips relative distances. Default 127.
	MaxRelDistance int

	// DropEmptyDFG skips samples whose data-flow graph has no edges.
	DropEmptyDFG bool

	// SkipCharFilter disables dropping characters the tokenizer cannot emit.
	SkipCharFilter bool

	// Resume reuses chunks the manifest records as complete.
	Resume bool

	// RunID tags manifest records. Default: a random UUID.
	RunID string
}

// Deps are the collaborators of a Pipeline.
type Deps struct {
	Frontend  ast.Frontend
	Tokenizer tokenizer.Tokenizer
	Assembler attnmask.Assembler

	// Manifest is optional. Without it Resume has no effect.
	Manifest *manifest.Store

	Logger *slog.Logger
}

// Report summarizes one Run.
type Report struct {
	Split         string
	Chunks        int
	ChunksResumed int
	Result        ChunkResult
	Duration      time.Duration
}

// Pipeline prepares feature chunks.
//
// Thread Safety: Run and the passes may be called from one goroutine at a
// time; Run itself processes chunks concurrently up to Options.Workers.
type Pipeline struct {
	opts     Options
	pre      *Preprocessor
	deriver  *Deriver
	columns  []string
	asmName  string
	manifest *manifest.Store
	logger   *slog.Logger
}

// New validates options and collaborators and builds a Pipeline.
//
// Building the tokenizer charset decodes every token id once, which takes
// a moment for large vocabularies.
func New(opts Options, deps Deps) (*Pipeline, error) {
	if opts.OutputDir == "" {
		return nil, errors.New("output directory is required")
	}
	if deps.Frontend == nil || deps.Tokenizer == nil || deps.Assembler == nil {
		return nil, errors.New("frontend, tokenizer and assembler are required")
	}
	if opts.ChunkRows <= 0 {
		opts.ChunkRows = DefaultChunkRows
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.MaxLeaves <= 0 {
		opts.MaxLeaves = pathsim.DefaultMaxLeaves
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var charset map[rune]struct{}
	if !opts.SkipCharFilter {
		charset = tokenizer.Charset(deps.Tokenizer)
	}

	return &Pipeline{
		opts:     opts,
		pre:      NewPreprocessor(charset, deps.Frontend),
		deriver:  NewDeriver(deps.Frontend, deps.Tokenizer, deps.Assembler, opts.MaxLeaves, opts.MaxRelDistance),
		columns:  deps.Assembler.Columns(),
		asmName:  deps.Assembler.Name(),
		manifest: deps.Manifest,
		logger:   logger.With(slog.String("run_id", opts.RunID)),
	}, nil
}

// RunID returns the identifier tagging this pipeline's manifest records.
func (p *Pipeline) RunID() string {
	return p.opts.RunID
}

// SplitDir returns the directory holding a split's chunk files.
func (p *Pipeline) SplitDir(split string) string {
	return filepath.Join(p.opts.OutputDir, split)
}

// Run featurizes every sample of r into chunk files of split.
//
// Description:
//
//	Samples are read sequentially and grouped into chunks of ChunkRows.
//	Chunks are processed by up to Workers goroutines; each returns its own
//	ChunkResult and nothing is shared until the final Fold. Bad samples are
//	skipped and counted. A storage failure cancels the remaining chunks and
//	is returned. Without Resume the split is Reset first; either way, chunks
//	of earlier runs that this run did not produce are removed at the end.
//
// Inputs:
//
//	ctx   - Context for cancellation.
//	split - Split name, used as the output subdirectory.
//	r     - Sample source. Not closed by Run.
//
// Outputs:
//
//	*Report - Counts and the folded result. Non-nil only on success.
//	error   - *StorageError, a source error or a context error.
func (p *Pipeline) Run(ctx context.Context, split string, r source.Reader) (*Report, error) {
	start := time.Now()
	dir := p.SplitDir(split)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, &StorageError{Op: "mkdir", Path: dir, Err: err}
	}
	if !p.opts.Resume {
		if err := p.Reset(ctx, split); err != nil {
			return nil, err
		}
	}

	var (
		mu      sync.Mutex
		results []ChunkResult
		resumed int
	)
	collect := func(res ChunkResult, fromManifest bool) {
		mu.Lock()
		defer mu.Unlock()
		results = append(results, res)
		if fromManifest {
			resumed++
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Workers)

	chunks := 0
	starts := make(map[int]bool)
	readErr := func() error {
		for first := 0; ; first += p.opts.ChunkRows {
			batch, err := readBatch(gctx, r, p.opts.ChunkRows)
			if err != nil {
				return err
			}
			if len(batch) == 0 {
				return nil
			}
			chunks++
			starts[first] = true

			if res, ok := p.resumable(gctx, split, first, len(batch)); ok {
				chunksTotal.WithLabelValues(split, "resumed").Inc()
				p.logger.Info("chunk resumed from manifest", slog.String("split", split), slog.Int("start", first))
				collect(res, true)
				continue
			}

			g.Go(func() error {
				res, err := p.processChunk(gctx, split, first, batch)
				if err != nil {
					return err
				}
				collect(res, false)
				return nil
			})
		}
	}()

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if readErr != nil {
		return nil, fmt.Errorf("read split %s: %w", split, readErr)
	}
	if err := p.prune(ctx, split, starts); err != nil {
		return nil, err
	}

	report := &Report{
		Split:         split,
		Chunks:        chunks,
		ChunksResumed: resumed,
		Result:        Fold(results...),
		Duration:      time.Since(start),
	}
	p.logger.Info("split prepared",
		slog.String("split", split),
		slog.Int("chunks", report.Chunks),
		slog.Int("resumed", report.ChunksResumed),
		slog.Int("rows", report.Result.Rows),
		slog.Int("skipped", report.Result.Skipped()),
		slog.Int("skipped_parse", report.Result.SkippedParse),
		slog.Int("skipped_structural", report.Result.SkippedStructural),
		slog.Duration("duration", report.Duration),
	)
	return report, nil
}

// readBatch reads up to n samples.
func readBatch(ctx context.Context, r source.Reader, n int) ([]source.Sample, error) {
	batch := make([]source.Sample, 0, n)
	for len(batch) < n {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s, ok, err := r.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		batch = append(batch, s)
	}
	return batch, nil
}

// Reset removes every chunk file and manifest record of split. Run calls
// it unless Options.Resume is set, so a fresh run never mixes with an
// earlier one.
func (p *Pipeline) Reset(ctx context.Context, split string) error {
	removed, err := chunkstore.Prune(p.SplitDir(split), nil)
	if err != nil {
		return err
	}
	if p.manifest != nil {
		if err := p.manifest.DeleteSplit(ctx, split); err != nil {
			return &StorageError{Op: "reset", Path: split, Err: err}
		}
	}
	if len(removed) > 0 {
		p.logger.Info("previous chunks removed", slog.String("split", split), slog.Int("chunks", len(removed)))
	}
	return nil
}

// prune drops chunk files and manifest records whose start row is not one
// of this run's chunks, e.g. after a resume with a different ChunkRows.
func (p *Pipeline) prune(ctx context.Context, split string, starts map[int]bool) error {
	keep := func(start int) bool { return starts[start] }
	removed, err := chunkstore.Prune(p.SplitDir(split), keep)
	if err != nil {
		return err
	}
	if p.manifest != nil {
		infos, err := p.manifest.ListChunks(ctx, split)
		if err != nil {
			return &StorageError{Op: "prune", Path: split, Err: err}
		}
		for _, info := range infos {
			if keep(info.Start) {
				continue
			}
			if err := p.manifest.DeleteChunk(ctx, split, info.Start); err != nil {
				return &StorageError{Op: "prune", Path: info.File, Err: err}
			}
		}
	}
	if len(removed) > 0 {
		p.logger.Warn("stale chunks removed", slog.String("split", split), slog.Any("starts", removed))
	}
	return nil
}

// resumable returns the recorded result of a complete chunk that covers
// the same input span as the chunk starting at first.
func (p *Pipeline) resumable(ctx context.Context, split string, first, samples int) (ChunkResult, bool) {
	if !p.opts.Resume || p.manifest == nil {
		return ChunkResult{}, false
	}
	info, ok, err := p.manifest.GetChunk(ctx, split, first)
	if err != nil || !ok || info.Samples != samples || info.TypesIndexed || info.Reduced {
		return ChunkResult{}, false
	}
	if _, err := os.Stat(filepath.Join(p.SplitDir(split), info.File)); err != nil {
		return ChunkResult{}, false
	}

	types := make(map[string]struct{}, len(info.NodeTypes))
	for _, t := range info.NodeTypes {
		types[t] = struct{}{}
	}
	return ChunkResult{
		Types:             types,
		MaxRelDistance:    info.MaxRelDistance,
		Rows:              info.Rows,
		SkippedParse:      info.SkippedParse,
		SkippedStructural: info.SkippedStructural,
		SkippedEmptyDFG:   info.SkippedEmptyDFG,
	}, true
}

// processChunk featurizes one chunk and writes its file.
func (p *Pipeline) processChunk(ctx context.Context, split string, first int, samples []source.Sample) (ChunkResult, error) {
	started := time.Now()
	res := ChunkResult{Types: make(map[string]struct{})}
	rows := make([]chunkstore.Row, 0, len(samples))

	for _, s := range samples {
		if err := ctx.Err(); err != nil {
			return ChunkResult{}, err
		}

		row, f, outcome, err := p.processSample(ctx, s)
		if err != nil {
			return ChunkResult{}, err
		}
		samplesTotal.WithLabelValues(split, outcome).Inc()

		switch outcome {
		case outcomeParse:
			res.SkippedParse++
			continue
		case outcomeStructural:
			res.SkippedStructural++
			continue
		case outcomeEmptyDFG:
			res.SkippedEmptyDFG++
			continue
		}

		rows = append(rows, row)
		for t := range f.NodeTypes {
			res.Types[t] = struct{}{}
		}
		res.MaxRelDistance = max(res.MaxRelDistance, f.MaxRelDistance())
	}
	res.Rows = len(rows)

	name := chunkstore.FileName(first)
	if err := chunkstore.Write(filepath.Join(p.SplitDir(split), name), rows); err != nil {
		return ChunkResult{}, err
	}
	if p.manifest != nil {
		info := manifest.ChunkInfo{
			Split:             split,
			Start:             first,
			File:              name,
			Rows:              res.Rows,
			Samples:           len(samples),
			SkippedParse:      res.SkippedParse,
			SkippedStructural: res.SkippedStructural,
			SkippedEmptyDFG:   res.SkippedEmptyDFG,
			NodeTypes:         res.Vocabulary(),
			MaxRelDistance:    res.MaxRelDistance,
			RunID:             p.opts.RunID,
			CompletedAt:       time.Now().UTC(),
		}
		if err := p.manifest.PutChunk(ctx, info); err != nil {
			return ChunkResult{}, &StorageError{Op: "record", Path: name, Err: err}
		}
	}

	chunksTotal.WithLabelValues(split, "written").Inc()
	chunkDuration.WithLabelValues(split).Observe(time.Since(started).Seconds())
	p.logger.Info("chunk written",
		slog.String("split", split),
		slog.String("file", name),
		slog.Int("rows", res.Rows),
		slog.Int("skipped", res.Skipped()),
		slog.Duration("duration", time.Since(started)),
	)
	return res, nil
}

// processSample returns the encoded row and the sample outcome. A non-nil
// error aborts the chunk.
func (p *Pipeline) processSample(ctx context.Context, s source.Sample) (chunkstore.Row, *Features, string, error) {
	doc, code, err := p.pre.Clean(ctx, s.Doc, s.Code)
	if err != nil {
		return p.skip(ctx, s, err)
	}

	f, st, err := p.deriver.Derive(ctx, doc, code)
	if err != nil {
		return p.skip(ctx, s, err)
	}
	leavesPerSample.Observe(float64(len(st.Leaves)))
	if p.opts.DropEmptyDFG && len(st.Edges) == 0 {
		return chunkstore.Row{}, nil, outcomeEmptyDFG, nil
	}

	row, err := f.Row(p.columns)
	if err != nil {
		return chunkstore.Row{}, nil, "", fmt.Errorf("sample %d: %w", s.Index, err)
	}
	return row, f, outcomeOK, nil
}

// skip classifies a per-sample error, or returns it when it must abort.
func (p *Pipeline) skip(ctx context.Context, s source.Sample, err error) (chunkstore.Row, *Features, string, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return chunkstore.Row{}, nil, "", ctxErr
	}

	reason := skipReason(err)
	switch reason {
	case outcomeParse:
		p.logger.Debug("sample skipped", slog.Int("index", s.Index), slog.String("reason", reason), slog.String("error", err.Error()))
	case outcomeStructural:
		p.logger.Warn("sample skipped", slog.Int("index", s.Index), slog.String("reason", reason), slog.String("error", err.Error()))
	default:
		return chunkstore.Row{}, nil, "", fmt.Errorf("sample %d: %w", s.Index, err)
	}
	return chunkstore.Row{}, nil, reason, nil
}
