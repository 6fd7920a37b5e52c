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
	"errors"
	"fmt"

	"github.com/AleutianAI/structaware/services/structaware/attnmask"
	"github.com/AleutianAI/structaware/services/structaware/chunkstore"
	"github.com/AleutianAI/structaware/services/structaware/codec"
)

// ErrNotIndexed indicates a row whose node types are still names. Run the
// index pass before loading a split.
var ErrNotIndexed = errors.New("node types not indexed")

// Example is one decoded sample ready for collation.
//
// Blocks keep the shapes produced by the assembler: T×T, L×L, D×D, T×L and
// T×D, where T = len(CodeTokenIDs), L = len(LRPathsLen) and
// D = len(DFGNodeMask).
type Example struct {
	CodeTokenIDs       []int
	CodeTokenPosIDs    []int
	CodeTokenRelPosIDs [][]int
	TextTokenIDs       []int
	TextTokenRelPosIDs [][]int

	// LLSims is either the full matrix or the upper triangle, depending on
	// how the split was stored and loaded.
	LLSims [][]float64

	LRPathsTypes [][]int
	LRPathsLen   []int
	DFGNodeMask  []int

	Masks *attnmask.Blocks

	// Labels are the code tokens; LossMask is all ones.
	Labels   []int
	LossMask []int
}

// NumTokens returns T.
func (e *Example) NumTokens() int { return len(e.CodeTokenIDs) }

// NumLeaves returns L, sentinels included.
func (e *Example) NumLeaves() int { return len(e.LRPathsLen) }

// NumNodes returns D, DFG sentinels included.
func (e *Example) NumNodes() int { return len(e.DFGNodeMask) }

// decodeOptions controls how stored rows are turned into examples.
type decodeOptions struct {
	maxLeaves          int
	expandSimilarities bool
}

// decodeRow decodes one stored row.
func decodeRow(row chunkstore.Row, opts decodeOptions) (*Example, error) {
	if codec.IsTypePathJSON(row.LRPathsTypes) {
		return nil, ErrNotIndexed
	}

	e := &Example{}
	var err error
	ints := []struct {
		name string
		src  string
		dst  *[]int
	}{
		{"code_tokens", row.CodeTokens, &e.CodeTokenIDs},
		{"code_tokens_pos_ids", row.CodeTokensPosIDs, &e.CodeTokenPosIDs},
		{"text_tokens", row.TextTokens, &e.TextTokenIDs},
		{"lr_paths_len", row.LRPathsLen, &e.LRPathsLen},
		{"dfg_node_mask", row.DFGNodeMask, &e.DFGNodeMask},
	}
	for _, f := range ints {
		if *f.dst, err = codec.DecodeInts(f.src); err != nil {
			return nil, fmt.Errorf("%s: %w", f.name, err)
		}
	}

	matrices := []struct {
		name string
		src  string
		dst  *[][]int
	}{
		{"code_tokens_rel_pos_ids", row.CodeTokensRelPosIDs, &e.CodeTokenRelPosIDs},
		{"text_tokens_rel_pos_ids", row.TextTokensRelPosIDs, &e.TextTokenRelPosIDs},
		{"lr_paths_types", row.LRPathsTypes, &e.LRPathsTypes},
	}
	for _, f := range matrices {
		if *f.dst, err = codec.DecodeIntMatrix(f.src); err != nil {
			return nil, fmt.Errorf("%s: %w", f.name, err)
		}
	}

	if e.LLSims, err = codec.DecodeFloatMatrix(row.LLSims); err != nil {
		return nil, fmt.Errorf("ll_sims: %w", err)
	}
	if opts.expandSimilarities {
		n := len(e.LRPathsLen)
		if opts.maxLeaves > 0 {
			n = min(n, opts.maxLeaves)
		}
		if codec.IsReduced(e.LLSims, n) {
			if e.LLSims, err = codec.FromUpperTriangle(e.LLSims, n); err != nil {
				return nil, fmt.Errorf("ll_sims: %w", err)
			}
		}
	}

	cols := make(map[string][][]int, len(attnmask.Columns()))
	for _, col := range attnmask.Columns() {
		s, err := row.Mask(col)
		if err != nil {
			return nil, err
		}
		if cols[col], err = codec.DecodeIntMatrix(s); err != nil {
			return nil, fmt.Errorf("%s: %w", col, err)
		}
	}
	if e.Masks, err = attnmask.FromColumns(cols); err != nil {
		return nil, err
	}

	e.Labels = append([]int(nil), e.CodeTokenIDs...)
	e.LossMask = make([]int, len(e.CodeTokenIDs))
	for i := range e.LossMask {
		e.LossMask[i] = 1
	}
	return e, nil
}
