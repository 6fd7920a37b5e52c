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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/structaware/services/structaware/ast"
	"github.com/AleutianAI/structaware/services/structaware/attnmask"
	"github.com/AleutianAI/structaware/services/structaware/codec"
)

// byteTokenizer encodes every byte as its own id; 1 and 2 mark BOS and EOS.
type byteTokenizer struct{}

func (byteTokenizer) Encode(text string) []int {
	ids := make([]int, len(text))
	for i := 0; i < len(text); i++ {
		ids[i] = int(text[i])
	}
	return ids
}

func (byteTokenizer) Decode(id int) string { return string([]byte{byte(id)}) }
func (byteTokenizer) BOSID() int           { return 1 }
func (byteTokenizer) EOSID() int           { return 2 }
func (byteTokenizer) VocabSize() int       { return 256 }

// flatBuilder makes every space separated word a child of one root and
// returns fixed edges.
type flatBuilder struct {
	edges []ast.Edge
}

func (b flatBuilder) Language() string { return "flat" }

func (b flatBuilder) Build(_ context.Context, code string) (*ast.Structure, error) {
	s := &ast.Structure{Tree: &ast.Tree{}, Edges: b.edges}
	root := s.Tree.Add(ast.Node{Type: "module", Parent: ast.NoParent, EndByte: len(code)})
	at := 0
	for _, w := range strings.Fields(code) {
		start := strings.Index(code[at:], w) + at
		n := s.Tree.Add(ast.Node{Type: "identifier", Parent: root, StartByte: start, EndByte: start + len(w)})
		s.Leaves = append(s.Leaves, ast.Leaf{Node: n, Text: w, StartByte: start, EndByte: start + len(w)})
		at = start + len(w)
	}
	return s, nil
}

// TestDeriveThreeLeafExample verifies the three-leaf, one-edge sample.
func TestDeriveThreeLeafExample(t *testing.T) {
	d := NewDeriver(flatBuilder{edges: []ast.Edge{{Source: 0, Targets: []int{2}}}}, byteTokenizer{}, attnmask.Completion{}, 0, 0)

	f, s, err := d.Derive(context.Background(), "Sum.", "a b c")
	require.NoError(t, err)
	require.Len(t, s.Leaves, 3)

	// Sentinels, then three depth-2 leaves sharing only the root.
	require.Len(t, f.LLSims, 5)
	for i := 1; i <= 3; i++ {
		for j := 1; j <= 3; j++ {
			want := 0.25
			if i == j {
				want = 1
			}
			assert.Equal(t, want, f.LLSims[i][j])
		}
	}
	assert.Equal(t, []int{1, 2, 2, 2, 1}, f.LRPathsLen)

	assert.Equal(t, []int{0, 1, 1, 2}, f.DFGNodeMask)
	assert.Equal(t, "0,1,1,2", codec.EncodeInts(f.DFGNodeMask))
	// Remapped edge (0,[1]) after the +1 slot shift.
	assert.Equal(t, []ast.Edge{{Source: 1, Targets: []int{2}}}, f.DFGEdges)

	// "a", " b", " c" shifted past BOS.
	assert.Equal(t, [][]int{{1}, {2, 3}, {4, 5}}, f.LeafCodeTokenIdxs)
	assert.Equal(t, [][]int{{1}, {4, 5}}, f.DFGNodeCodeTokenIdxs)

	assert.Equal(t, []int{1, 'a', ' ', 'b', ' ', 'c', 2}, f.CodeTokens)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6}, f.CodeTokensPosIDs)
	assert.Equal(t, []int{1, 'S', 'u', 'm', '.', 2}, f.TextTokens)
	assert.Len(t, f.TextTokensRelPosIDs, 6)
	assert.Equal(t, 7, f.MaxRelDistance())

	assert.Len(t, f.Masks.CodeTokens, 7)
	assert.Len(t, f.Masks.AstLeaves, 5)
	assert.Len(t, f.Masks.DfgEdges, 4)
}

// TestDeriveRowRoundTrip verifies every stored column decodes to the
// in-memory value.
func TestDeriveRowRoundTrip(t *testing.T) {
	d := NewDeriver(flatBuilder{edges: []ast.Edge{{Source: 0, Targets: []int{1, 2}}}}, byteTokenizer{}, attnmask.Bidirectional{}, 0, 0)
	f, _, err := d.Derive(context.Background(), "doc", "x y x")
	require.NoError(t, err)

	row, err := f.Row(attnmask.Columns())
	require.NoError(t, err)

	ids, err := codec.DecodeInts(row.CodeTokens)
	require.NoError(t, err)
	assert.Equal(t, f.CodeTokens, ids)

	rel, err := codec.DecodeIntMatrix(row.CodeTokensRelPosIDs)
	require.NoError(t, err)
	assert.Equal(t, f.CodeTokensRelPosIDs, rel)

	types, err := codec.DecodeTypePaths(row.LRPathsTypes)
	require.NoError(t, err)
	assert.Equal(t, f.LRPathsTypes, types)

	sims, err := codec.DecodeFloatMatrix(row.LLSims)
	require.NoError(t, err)
	assert.Equal(t, f.LLSims, sims)

	edges, err := codec.DecodeEdges(row.DFGEdges)
	require.NoError(t, err)
	assert.Equal(t, f.DFGEdges, edges)

	spans, err := codec.DecodeIntMatrix(row.DFGNodeCodeTokenIdxs)
	require.NoError(t, err)
	assert.Equal(t, f.DFGNodeCodeTokenIdxs, spans)

	cols := make(map[string][][]int)
	for _, col := range attnmask.Columns() {
		v, err := row.Mask(col)
		require.NoError(t, err)
		cols[col], err = codec.DecodeIntMatrix(v)
		require.NoError(t, err)
	}
	blocks, err := attnmask.FromColumns(cols)
	require.NoError(t, err)
	assert.Equal(t, f.Masks, blocks)

	_, err = f.Row([]string{"attn_text"})
	assert.Error(t, err)
}

// TestDeriveStructuralMismatch verifies dangling edges are structural errors.
func TestDeriveStructuralMismatch(t *testing.T) {
	d := NewDeriver(flatBuilder{edges: []ast.Edge{{Source: 0, Targets: []int{7}}}}, byteTokenizer{}, attnmask.Completion{}, 0, 0)

	_, _, err := d.Derive(context.Background(), "", "a b")
	assert.ErrorIs(t, err, ErrStructuralMismatch)
	assert.Equal(t, outcomeStructural, skipReason(err))
}

// TestDeriveTruncatesSimilarities verifies the leaf cap applies to the
// matrix only.
func TestDeriveTruncatesSimilarities(t *testing.T) {
	d := NewDeriver(flatBuilder{}, byteTokenizer{}, attnmask.Completion{}, 3, 0)

	f, _, err := d.Derive(context.Background(), "", "a b c d e")
	require.NoError(t, err)
	assert.Len(t, f.LLSims, 3)
	assert.Len(t, f.LRPathsLen, 7)
}

// TestPreprocessorClean verifies normalization before stripping.
func TestPreprocessorClean(t *testing.T) {
	charset := map[rune]struct{}{}
	for _, r := range "defx=1_\n :()ab#not" {
		charset[r] = struct{}{}
	}
	p := NewPreprocessor(charset, ast.NewPythonFrontend())

	doc, code, err := p.Clean(context.Background(), "  Doc.  ", "  x▁a = 1é\r\nb = x▁a  # note\r\n")
	require.NoError(t, err)
	assert.Equal(t, "Doc.", doc)
	assert.Equal(t, "x_a = 1\nb = x_a", code)

	_, _, err = p.Clean(context.Background(), "", "def (:")
	require.Error(t, err)
	assert.True(t, ast.IsParseError(err))
	assert.Equal(t, outcomeParse, skipReason(err))
}

// TestFold verifies merging is order independent and leaves inputs untouched.
func TestFold(t *testing.T) {
	a := ChunkResult{Types: map[string]struct{}{"b": {}, "a": {}}, MaxRelDistance: 9, Rows: 3, SkippedParse: 1}
	b := ChunkResult{Types: map[string]struct{}{"c": {}}, MaxRelDistance: 127, Rows: 2, SkippedStructural: 2}
	c := ChunkResult{}

	ab := Fold(a, b, c)
	ba := Fold(c, b, a)
	assert.Equal(t, ab, ba)
	assert.Equal(t, Fold(Fold(a, b), c), Fold(a, Fold(b, c)))

	assert.Equal(t, []string{"a", "b", "c"}, ab.Vocabulary())
	assert.Equal(t, 127, ab.MaxRelDistance)
	assert.Equal(t, 5, ab.Rows)
	assert.Equal(t, 3, ab.Skipped())
	assert.Len(t, a.Types, 2)
}
