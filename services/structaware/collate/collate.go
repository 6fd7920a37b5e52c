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

	"github.com/AleutianAI/structaware/services/structaware/ast"
	"github.com/AleutianAI/structaware/services/structaware/attnmask"
	"github.com/AleutianAI/structaware/services/structaware/dfgmap"
	"github.com/AleutianAI/structaware/services/structaware/reldist"
)

// Canonical batch field names.
const (
	FieldCodeTokenIDs       = "code_token_ids"
	FieldCodeTokenPosIDs    = "code_token_pos_ids"
	FieldCodeTokenRelPosIDs = "code_token_rel_pos_ids"
	FieldTextTokenIDs       = "text_token_ids"
	FieldTextTokenRelPosIDs = "text_token_rel_pos_ids"
	FieldLLSims             = "ll_sims"
	FieldLRPathsTypes       = "lr_paths_types"
	FieldLRPathsLen         = "lr_paths_len"
	FieldDFGNodeMask        = "dfg_node_mask"
	FieldAttentionMask      = "attention_mask"
	FieldLabels             = "labels"
	FieldLossMask           = "loss_mask"
)

// ErrEmptyBatch is returned when Collate receives no examples.
var ErrEmptyBatch = errors.New("empty batch")

// Dims are the padded batch dimensions.
type Dims struct {
	B int // examples
	T int // code tokens
	L int // AST leaves, sentinels included
	D int // DFG slots, sentinels included
}

// N returns the side of the composed attention matrix.
func (d Dims) N() int { return d.T + d.L + d.D }

// Batch is a padded batch. Every slice has B as its leading dimension.
type Batch struct {
	Dims Dims

	CodeTokenIDs       [][]int
	CodeTokenPosIDs    [][]int
	CodeTokenRelPosIDs [][][]int
	TextTokenIDs       [][]int
	TextTokenRelPosIDs [][][]int
	LLSims             [][][]float64
	LRPathsTypes       [][][]int
	LRPathsLen         [][]int
	DFGNodeMask        [][]int

	// Masks are the padded per-block attention matrices.
	Masks []*attnmask.Blocks

	// AttentionMask is [B][1][N][N] with rows and columns ordered as code
	// tokens, AST leaves, DFG slots.
	AttentionMask [][][][]int

	// Labels and LossMask have length T+L+D. Positions past the code tokens
	// are 0.
	Labels   [][]int
	LossMask [][]int
}

// Fields returns the batch keyed by canonical field name, plus one entry
// per attention column.
func (b *Batch) Fields() map[string]any {
	fields := map[string]any{
		FieldCodeTokenIDs:       b.CodeTokenIDs,
		FieldCodeTokenPosIDs:    b.CodeTokenPosIDs,
		FieldCodeTokenRelPosIDs: b.CodeTokenRelPosIDs,
		FieldTextTokenIDs:       b.TextTokenIDs,
		FieldTextTokenRelPosIDs: b.TextTokenRelPosIDs,
		FieldLLSims:             b.LLSims,
		FieldLRPathsTypes:       b.LRPathsTypes,
		FieldLRPathsLen:         b.LRPathsLen,
		FieldDFGNodeMask:        b.DFGNodeMask,
		FieldAttentionMask:      b.AttentionMask,
		FieldLabels:             b.Labels,
		FieldLossMask:           b.LossMask,
	}
	for _, col := range attnmask.Columns() {
		blocks := make([][][]int, len(b.Masks))
		for i, m := range b.Masks {
			blocks[i] = m.ByColumn()[col]
		}
		fields[col] = blocks
	}
	return fields
}

// Collator pads examples into a Batch.
//
// Padding values:
//
//	code/text token ids, position ids, lr_paths_len, labels - PadTokenID
//	dfg_node_mask                                          - dfgmap.PadNodeID
//	lr_paths_types                                         - NumASTNodeTypes
//	relative positions, attention blocks, loss_mask         - 0
//	ll_sims                                                - SimilarityPad
//
// The collator never looks at which assembler built the blocks.
type Collator struct {
	PadTokenID      int
	NumASTNodeTypes int
	SimilarityPad   float64
}

// NewCollator creates a collator. numASTNodeTypes is the vocabulary size
// from the split metadata; its value is the reserved node type pad id.
func NewCollator(numASTNodeTypes, padTokenID int) *Collator {
	return &Collator{PadTokenID: padTokenID, NumASTNodeTypes: numASTNodeTypes}
}

// Collate pads and composes examples into one batch.
//
// Outputs:
//
//	*Batch - The padded batch.
//	error  - ErrEmptyBatch, or ast.ErrStructuralMismatch when an example's
//	         blocks disagree with its own sequence lengths.
func (c *Collator) Collate(examples []*Example) (*Batch, error) {
	if len(examples) == 0 {
		return nil, ErrEmptyBatch
	}
	for i, e := range examples {
		if err := checkShapes(e); err != nil {
			return nil, fmt.Errorf("example %d: %w", i, err)
		}
	}

	dims := Dims{B: len(examples)}
	for _, e := range examples {
		dims.T = max(dims.T, e.NumTokens())
		dims.L = max(dims.L, e.NumLeaves())
		dims.D = max(dims.D, e.NumNodes())
	}

	b := &Batch{
		Dims:               dims,
		CodeTokenIDs:       pad1D(examples, func(e *Example) []int { return e.CodeTokenIDs }, c.PadTokenID),
		CodeTokenPosIDs:    pad1D(examples, func(e *Example) []int { return e.CodeTokenPosIDs }, c.PadTokenID),
		TextTokenIDs:       pad1D(examples, func(e *Example) []int { return e.TextTokenIDs }, c.PadTokenID),
		LRPathsLen:         pad1D(examples, func(e *Example) []int { return e.LRPathsLen }, c.PadTokenID),
		DFGNodeMask:        pad1D(examples, func(e *Example) []int { return e.DFGNodeMask }, dfgmap.PadNodeID),
		CodeTokenRelPosIDs: pad2D(examples, func(e *Example) [][]int { return e.CodeTokenRelPosIDs }, reldist.PadDistance),
		TextTokenRelPosIDs: pad2D(examples, func(e *Example) [][]int { return e.TextTokenRelPosIDs }, reldist.PadDistance),
		LRPathsTypes: pad2D(examples, func(e *Example) [][]int {
			return padRows(e.LRPathsTypes, c.NumASTNodeTypes, false)
		}, c.NumASTNodeTypes),
		LLSims: pad2D(examples, func(e *Example) [][]float64 {
			return padRows(e.LLSims, c.SimilarityPad, true)
		}, c.SimilarityPad),
	}

	b.Masks = make([]*attnmask.Blocks, len(examples))
	b.AttentionMask = make([][][][]int, len(examples))
	b.Labels = make([][]int, len(examples))
	b.LossMask = make([][]int, len(examples))
	for i, e := range examples {
		m := &attnmask.Blocks{
			CodeTokens: padMatrix(e.Masks.CodeTokens, dims.T, dims.T, 0),
			AstLeaves:  padMatrix(e.Masks.AstLeaves, dims.L, dims.L, 0),
			DfgEdges:   padMatrix(e.Masks.DfgEdges, dims.D, dims.D, 0),
			CodeAst:    padMatrix(e.Masks.CodeAst, dims.T, dims.L, 0),
			CodeDfg:    padMatrix(e.Masks.CodeDfg, dims.T, dims.D, 0),
		}
		b.Masks[i] = m
		b.AttentionMask[i] = [][][]int{compose(m, dims)}

		b.Labels[i] = padTo(padTo(e.Labels, dims.T, c.PadTokenID), dims.N(), 0)
		b.LossMask[i] = padTo(e.LossMask, dims.N(), 0)
	}
	return b, nil
}

// compose lays the padded blocks out as
//
//	| tokens    code_ast  code_dfg |
//	| code_ast' leaves    0        |
//	| code_dfg' 0         dfg      |
func compose(m *attnmask.Blocks, d Dims) [][]int {
	n := d.N()
	out := make([][]int, n)
	for i := range out {
		out[i] = make([]int, n)
	}
	leaf, node := d.T, d.T+d.L
	for i := 0; i < d.T; i++ {
		copy(out[i][:d.T], m.CodeTokens[i])
		copy(out[i][leaf:leaf+d.L], m.CodeAst[i])
		copy(out[i][node:node+d.D], m.CodeDfg[i])
		for j := 0; j < d.L; j++ {
			out[leaf+j][i] = m.CodeAst[i][j]
		}
		for j := 0; j < d.D; j++ {
			out[node+j][i] = m.CodeDfg[i][j]
		}
	}
	for i := 0; i < d.L; i++ {
		copy(out[leaf+i][leaf:leaf+d.L], m.AstLeaves[i])
	}
	for i := 0; i < d.D; i++ {
		copy(out[node+i][node:node+d.D], m.DfgEdges[i])
	}
	return out
}

func checkShapes(e *Example) error {
	if e.Masks == nil {
		return fmt.Errorf("%w: no attention blocks", ast.ErrStructuralMismatch)
	}
	t, l, d := e.NumTokens(), e.NumLeaves(), e.NumNodes()
	checks := []struct {
		name       string
		m          [][]int
		rows, cols int
	}{
		{attnmask.ColCodeTokens, e.Masks.CodeTokens, t, t},
		{attnmask.ColAstLeaves, e.Masks.AstLeaves, l, l},
		{attnmask.ColDfgEdges, e.Masks.DfgEdges, d, d},
		{attnmask.ColCodeAst, e.Masks.CodeAst, t, l},
		{attnmask.ColCodeDfg, e.Masks.CodeDfg, t, d},
	}
	for _, c := range checks {
		if len(c.m) != c.rows {
			return fmt.Errorf("%w: %s has %d rows, want %d", ast.ErrStructuralMismatch, c.name, len(c.m), c.rows)
		}
		for i, row := range c.m {
			if len(row) != c.cols {
				return fmt.Errorf("%w: %s row %d has %d columns, want %d", ast.ErrStructuralMismatch, c.name, i, len(row), c.cols)
			}
		}
	}
	if len(e.Labels) != t || len(e.LossMask) != t {
		return fmt.Errorf("%w: labels/loss mask do not match %d code tokens", ast.ErrStructuralMismatch, t)
	}
	return nil
}
