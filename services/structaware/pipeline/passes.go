// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"time"

	"github.com/AleutianAI/structaware/services/structaware/chunkstore"
	"github.com/AleutianAI/structaware/services/structaware/codec"
	"github.com/AleutianAI/structaware/services/structaware/manifest"
)

// ScanResult rebuilds the folded ChunkResult of splits from the stored
// chunk files. Only row-derived fields are recovered; skip counts are zero.
//
// Returns ErrAlreadyIndexed if a chunk no longer holds node type names.
func (p *Pipeline) ScanResult(ctx context.Context, splits ...string) (ChunkResult, error) {
	var results []ChunkResult
	err := p.eachChunk(ctx, splits, nil, func(split, path string, rows []chunkstore.Row) (bool, error) {
		res := ChunkResult{Types: make(map[string]struct{}), Rows: len(rows)}
		for i, row := range rows {
			if !codec.IsTypePathJSON(row.LRPathsTypes) {
				return false, fmt.Errorf("%s row %d: %w", path, i, ErrAlreadyIndexed)
			}
			paths, err := codec.DecodeTypePaths(row.LRPathsTypes)
			if err != nil {
				return false, fmt.Errorf("%s row %d: %w", path, i, err)
			}
			for _, types := range paths {
				for _, t := range types {
					res.Types[t] = struct{}{}
				}
			}
			rel, err := codec.DecodeIntMatrix(row.CodeTokensRelPosIDs)
			if err != nil {
				return false, fmt.Errorf("%s row %d: %w", path, i, err)
			}
			for _, r := range rel {
				for _, v := range r {
					res.MaxRelDistance = max(res.MaxRelDistance, v)
				}
			}
		}
		results = append(results, res)
		return false, nil
	})
	if err != nil {
		return ChunkResult{}, err
	}
	return Fold(results...), nil
}

// IndexNodeTypes replaces node type names with vocabulary indices in every
// chunk of splits and writes metadata.json.
//
// Description:
//
//	The vocabulary is acc's type set sorted, so the same set always yields
//	the same indices. Rows already holding indices are left as they are and
//	only contribute to the depth, provided the stored metadata.json carries
//	the same vocabulary; otherwise they are stale and ErrStaleIndex is
//	returned. The maximum AST depth is the longest stored path over all
//	rows of all splits.
//
// Inputs:
//
//	ctx    - Context for cancellation.
//	acc    - The fold of every chunk result of splits.
//	splits - Splits sharing the vocabulary.
//
// Outputs:
//
//	*Metadata - What was written to metadata.json.
//	error     - ErrVocabularyIncomplete, ErrStaleIndex, *StorageError or a
//	            decode error.
func (p *Pipeline) IndexNodeTypes(ctx context.Context, acc ChunkResult, splits ...string) (*Metadata, error) {
	started := time.Now()
	vocab := acc.Vocabulary()
	index := make(map[string]int, len(vocab))
	for i, t := range vocab {
		index[t] = i
	}

	// Indexed rows are only valid against the vocabulary they were built with.
	var prevChecked bool
	var prevErr error
	checkIndexed := func(path string) error {
		if !prevChecked {
			prevChecked = true
			prev, err := ReadMetadata(p.opts.OutputDir)
			switch {
			case err != nil:
				prevErr = fmt.Errorf("%w: no metadata: %v", ErrStaleIndex, err)
			case !slices.Equal(prev.ASTNodeTypes, vocab):
				prevErr = fmt.Errorf("%w: stored vocabulary has %d types, want %d",
					ErrStaleIndex, len(prev.ASTNodeTypes), len(vocab))
			}
		}
		if prevErr != nil {
			return fmt.Errorf("%s: %w", path, prevErr)
		}
		return nil
	}

	maxDepth := 0
	markIndexed := func(c *manifest.ChunkInfo) { c.TypesIndexed = true }
	err := p.eachChunk(ctx, splits, markIndexed, func(split, path string, rows []chunkstore.Row) (bool, error) {
		changed := false
		for i := range rows {
			if !codec.IsTypePathJSON(rows[i].LRPathsTypes) {
				if err := checkIndexed(path); err != nil {
					return false, err
				}
				indexed, err := codec.DecodeIntMatrix(rows[i].LRPathsTypes)
				if err != nil {
					return false, fmt.Errorf("%s row %d: %w", path, i, err)
				}
				for _, pth := range indexed {
					maxDepth = max(maxDepth, len(pth))
				}
				continue
			}

			paths, err := codec.DecodeTypePaths(rows[i].LRPathsTypes)
			if err != nil {
				return false, fmt.Errorf("%s row %d: %w", path, i, err)
			}
			indexed := make([][]int, len(paths))
			for j, types := range paths {
				indexed[j] = make([]int, len(types))
				for k, t := range types {
					id, ok := index[t]
					if !ok {
						return false, fmt.Errorf("%s row %d: %w: %q", path, i, ErrVocabularyIncomplete, t)
					}
					indexed[j][k] = id
				}
				maxDepth = max(maxDepth, len(types))
			}
			rows[i].LRPathsTypes = codec.EncodeIntMatrix(indexed)
			changed = true
		}
		return changed, nil
	})
	if err != nil {
		return nil, err
	}

	md := &Metadata{
		NumASTNodeTypes: len(vocab),
		ASTNodeTypes:    vocab,
		MaxRelDistance:  acc.MaxRelDistance,
		MaxASTDepth:     maxDepth,
		MaxLeaves:       p.opts.MaxLeaves,
		EncodingVersion: codec.Version,
		Assembler:       p.asmName,
		Splits:          slices.Clone(splits),
		RunID:           p.opts.RunID,
	}
	if err := WriteMetadata(p.opts.OutputDir, md); err != nil {
		return nil, err
	}

	passDuration.WithLabelValues("index_node_types").Observe(time.Since(started).Seconds())
	p.logger.Info("node types indexed",
		slog.Int("num_ast_node_types", md.NumASTNodeTypes),
		slog.Int("max_ast_depth", md.MaxASTDepth),
		slog.Int("max_rel_distance", md.MaxRelDistance),
	)
	return md, nil
}

// ReduceSimilarities rewrites every ll_sims value of splits as its strict
// upper triangle. Already reduced rows are left unchanged.
//
// The matrix side is taken from the MaxLeaves in metadata.json, the cap
// the chunks were built with, so IndexNodeTypes must have run first.
func (p *Pipeline) ReduceSimilarities(ctx context.Context, splits ...string) error {
	started := time.Now()
	md, err := ReadMetadata(p.opts.OutputDir)
	if err != nil {
		return fmt.Errorf("reduce similarities: %w", err)
	}
	maxLeaves := md.MaxLeaves
	if maxLeaves <= 0 {
		maxLeaves = p.opts.MaxLeaves
	}

	reduced := 0
	markReduced := func(c *manifest.ChunkInfo) { c.Reduced = true }
	err = p.eachChunk(ctx, splits, markReduced, func(split, path string, rows []chunkstore.Row) (bool, error) {
		changed := false
		for i := range rows {
			lengths, err := codec.DecodeInts(rows[i].LRPathsLen)
			if err != nil {
				return false, fmt.Errorf("%s row %d: %w", path, i, err)
			}
			sims, err := codec.DecodeFloatMatrix(rows[i].LLSims)
			if err != nil {
				return false, fmt.Errorf("%s row %d: %w", path, i, err)
			}

			n := min(len(lengths), maxLeaves)
			if codec.IsReduced(sims, n) {
				continue
			}
			if len(sims) != n {
				return false, fmt.Errorf("%s row %d: %w: %d similarity rows for %d leaves",
					path, i, ErrStructuralMismatch, len(sims), n)
			}
			rows[i].LLSims = codec.EncodeFloatMatrix(codec.UpperTriangle(sims))
			changed = true
			reduced++
		}
		return changed, nil
	})
	if err != nil {
		return err
	}

	passDuration.WithLabelValues("reduce_similarities").Observe(time.Since(started).Seconds())
	p.logger.Info("similarities reduced", slog.Int("rows", reduced))
	return nil
}

// eachChunk reads every chunk of splits, calls fn, and writes the rows back
// when fn reports a change. After a chunk is done, mark (if non-nil) is
// applied to its manifest record.
func (p *Pipeline) eachChunk(ctx context.Context, splits []string, mark func(*manifest.ChunkInfo), fn func(split, path string, rows []chunkstore.Row) (bool, error)) error {
	for _, split := range splits {
		paths, err := chunkstore.List(p.SplitDir(split))
		if err != nil {
			return err
		}
		for _, path := range paths {
			if err := ctx.Err(); err != nil {
				return err
			}
			rows, err := chunkstore.Read(path)
			if err != nil {
				return err
			}
			changed, err := fn(split, path, rows)
			if err != nil {
				return err
			}
			if changed {
				if err := chunkstore.Write(path, rows); err != nil {
					return err
				}
			}
			if mark != nil {
				if err := p.markChunk(ctx, split, path, mark); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// markChunk updates the manifest record of a chunk file, if there is one.
func (p *Pipeline) markChunk(ctx context.Context, split, path string, fn func(*manifest.ChunkInfo)) error {
	if p.manifest == nil {
		return nil
	}
	start, ok := chunkstore.ParseStart(path)
	if !ok {
		return nil
	}
	if _, found, err := p.manifest.GetChunk(ctx, split, start); err != nil || !found {
		return err
	}
	if err := p.manifest.Update(ctx, split, start, fn); err != nil {
		return &StorageError{Op: "record", Path: filepath.Base(path), Err: err}
	}
	return nil
}
