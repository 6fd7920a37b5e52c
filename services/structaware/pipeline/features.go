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

	"github.com/AleutianAI/structaware/services/structaware/ast"
	"github.com/AleutianAI/structaware/services/structaware/attnmask"
	"github.com/AleutianAI/structaware/services/structaware/chunkstore"
	"github.com/AleutianAI/structaware/services/structaware/codec"
	"github.com/AleutianAI/structaware/services/structaware/dfgmap"
	"github.com/AleutianAI/structaware/services/structaware/pathsim"
	"github.com/AleutianAI/structaware/services/structaware/reldist"
	"github.com/AleutianAI/structaware/services/structaware/tokenizer"
)

// Features holds every derived column of one sample in native form.
//
// Token sequences include BOS and EOS. Spans and DFG edges are shifted so
// that slot 0 is free for the begin-of-sequence position.
type Features struct {
	CodeTokens          []int
	CodeTokensPosIDs    []int
	CodeTokensRelPosIDs [][]int
	TextTokens          []int
	TextTokensRelPosIDs [][]int

	// LRPathsTypes and LRPathsLen cover every leaf plus both sentinels.
	LRPathsTypes [][]string
	LRPathsLen   []int

	// LLSims is square over at most MaxLeaves paths.
	LLSims [][]float64

	DFGNodeMask          []int
	DFGEdges             []ast.Edge
	DFGNodeCodeTokenIdxs [][]int

	// LeafCodeTokenIdxs are the shifted token spans of the real leaves.
	LeafCodeTokenIdxs [][]int

	Masks *attnmask.Blocks

	// NodeTypes is the sample-local node type set.
	NodeTypes map[string]struct{}
}

// MaxRelDistance returns the largest code-token relative distance.
func (f *Features) MaxRelDistance() int {
	return reldist.Max(f.CodeTokensRelPosIDs)
}

// Row encodes the features for storage.
//
// Only the columns in columns are filled from Masks; every canonical
// column is always written.
func (f *Features) Row(columns []string) (chunkstore.Row, error) {
	types, err := codec.EncodeTypePaths(f.LRPathsTypes)
	if err != nil {
		return chunkstore.Row{}, err
	}

	row := chunkstore.Row{
		CodeTokens:           codec.EncodeInts(f.CodeTokens),
		CodeTokensPosIDs:     codec.EncodeInts(f.CodeTokensPosIDs),
		CodeTokensRelPosIDs:  codec.EncodeIntMatrix(f.CodeTokensRelPosIDs),
		TextTokens:           codec.EncodeInts(f.TextTokens),
		TextTokensRelPosIDs:  codec.EncodeIntMatrix(f.TextTokensRelPosIDs),
		LRPathsTypes:         types,
		LRPathsLen:           codec.EncodeInts(f.LRPathsLen),
		LLSims:               codec.EncodeFloatMatrix(f.LLSims),
		DFGNodeMask:          codec.EncodeInts(f.DFGNodeMask),
		DFGEdges:             codec.EncodeEdges(f.DFGEdges),
		DFGNodeCodeTokenIdxs: codec.EncodeIntMatrix(f.DFGNodeCodeTokenIdxs),
	}

	blocks := f.Masks.ByColumn()
	for _, col := range columns {
		block, ok := blocks[col]
		if !ok {
			return chunkstore.Row{}, fmt.Errorf("assembler declared unknown column %q", col)
		}
		if err := row.SetMask(col, codec.EncodeIntMatrix(block)); err != nil {
			return chunkstore.Row{}, err
		}
	}
	return row, nil
}

// Deriver computes Features from cleaned samples.
//
// Thread Safety: safe for concurrent use when its collaborators are.
type Deriver struct {
	builder        ast.Builder
	tok            tokenizer.Tokenizer
	assembler      attnmask.Assembler
	maxLeaves      int
	maxRelDistance int
}

// NewDeriver creates a Deriver. Non-positive limits select the package
// defaults of pathsim and reldist.
func NewDeriver(builder ast.Builder, tok tokenizer.Tokenizer, assembler attnmask.Assembler, maxLeaves, maxRelDistance int) *Deriver {
	if maxLeaves <= 0 {
		maxLeaves = pathsim.DefaultMaxLeaves
	}
	if maxRelDistance <= 0 {
		maxRelDistance = reldist.DefaultMaxDistance
	}
	return &Deriver{
		builder:        builder,
		tok:            tok,
		assembler:      assembler,
		maxLeaves:      maxLeaves,
		maxRelDistance: maxRelDistance,
	}
}

// Derive runs parsing, tokenization, path similarity, DFG mapping, special
// tokens, mask assembly and relative distances for one cleaned sample.
//
// Outputs:
//
//	*Features - All columns of the sample.
//	*ast.Structure - The parsed structure, for callers that filter on it.
//	error     - *ast.ParseError, ErrStructuralMismatch or a context error.
func (d *Deriver) Derive(ctx context.Context, doc, code string) (*Features, *ast.Structure, error) {
	s, err := d.builder.Build(ctx, code)
	if err != nil {
		return nil, nil, err
	}

	tokens, spans, err := tokenizer.EncodeLeaves(d.tok, code, s.Leaves)
	if err != nil {
		return nil, nil, err
	}

	paths, err := pathsim.Compute(s.Tree, s.Leaves, pathsim.Options{MaxLeaves: d.maxLeaves})
	if err != nil {
		return nil, nil, err
	}
	if want := min(len(paths.Lengths), d.maxLeaves); len(paths.Sims) != want || len(paths.Lengths) != len(s.Leaves)+2 {
		return nil, nil, fmt.Errorf("%w: %d similarity rows for %d paths", ErrStructuralMismatch, len(paths.Sims), len(paths.Lengths))
	}

	mapping, err := dfgmap.Map(s.Edges, spans)
	if err != nil {
		return nil, nil, err
	}
	shifted := mapping.Shift(1)
	leafSpans := dfgmap.ShiftSpans(spans, 1)

	codeTokens := d.withSpecialTokens(tokens)
	textTokens := d.withSpecialTokens(d.tok.Encode(doc))
	codePos := reldist.PositionIDs(len(codeTokens))

	blocks, err := d.assembler.Assemble(attnmask.Input{
		NumTokens: len(codeTokens),
		LeafSpans: leafSpans,
		NodeSpans: shifted.NodeTokenSpans,
		Edges:     shifted.Edges,
	})
	if err != nil {
		return nil, nil, err
	}

	f := &Features{
		CodeTokens:           codeTokens,
		CodeTokensPosIDs:     codePos,
		CodeTokensRelPosIDs:  reldist.Encode(codePos, d.maxRelDistance),
		TextTokens:           textTokens,
		TextTokensRelPosIDs:  reldist.Encode(reldist.PositionIDs(len(textTokens)), d.maxRelDistance),
		LRPathsTypes:         paths.Types,
		LRPathsLen:           paths.Lengths,
		LLSims:               paths.Sims,
		DFGNodeMask:          shifted.Mask,
		DFGEdges:             shifted.Edges,
		DFGNodeCodeTokenIdxs: shifted.NodeTokenSpans,
		LeafCodeTokenIdxs:    leafSpans,
		Masks:                blocks,
		NodeTypes:            paths.NodeTypes,
	}
	return f, s, nil
}

func (d *Deriver) withSpecialTokens(ids []int) []int {
	out := make([]int, 0, len(ids)+2)
	out = append(out, d.tok.BOSID())
	out = append(out, ids...)
	return append(out, d.tok.EOSID())
}
