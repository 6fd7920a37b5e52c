// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pathsim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/structaware/services/structaware/ast"
)

// flatTree returns a root with n direct leaf children.
func flatTree(n int) (*ast.Tree, []ast.Leaf) {
	t := &ast.Tree{}
	root := t.Add(ast.Node{Type: "module", Parent: ast.NoParent})
	leaves := make([]ast.Leaf, n)
	for i := range leaves {
		leaves[i] = ast.Leaf{Node: t.Add(ast.Node{Type: "identifier", Parent: root})}
	}
	return t, leaves
}

// nestedTree builds:
//
//	module
//	├── stmt A ── expr ── {x, y}
//	└── stmt B ── z
//
// If swapped, stmt B is added to the arena before stmt A.
func nestedTree(swapped bool) (*ast.Tree, map[string]ast.Leaf) {
	t := &ast.Tree{}
	root := t.Add(ast.Node{Type: "module", Parent: ast.NoParent})
	leaves := make(map[string]ast.Leaf)

	addA := func() {
		a := t.Add(ast.Node{Type: "stmt", Parent: root})
		e := t.Add(ast.Node{Type: "expr", Parent: a})
		leaves["x"] = ast.Leaf{Node: t.Add(ast.Node{Type: "identifier", Parent: e})}
		leaves["y"] = ast.Leaf{Node: t.Add(ast.Node{Type: "identifier", Parent: e})}
	}
	addB := func() {
		b := t.Add(ast.Node{Type: "stmt", Parent: root})
		leaves["z"] = ast.Leaf{Node: t.Add(ast.Node{Type: "identifier", Parent: b})}
	}
	if swapped {
		addB()
		addA()
	} else {
		addA()
		addB()
	}
	return t, leaves
}

// TestComputeThreeLeaves verifies shared-root scores for three sibling leaves.
func TestComputeThreeLeaves(t *testing.T) {
	tree, leaves := flatTree(3)

	r, err := Compute(tree, leaves, Options{})
	require.NoError(t, err)

	require.Len(t, r.Sims, 5)
	assert.Equal(t, []int{1, 2, 2, 2, 1}, r.Lengths)
	assert.Equal(t, []string{ast.StartASTType}, r.Types[0])
	assert.Equal(t, []string{"identifier", "module"}, r.Types[1])
	assert.Equal(t, 2, r.MaxDepth())

	for i := 1; i <= 3; i++ {
		for j := 1; j <= 3; j++ {
			if i == j {
				assert.Equal(t, 1.0, r.Sims[i][j])
			} else {
				assert.Equal(t, 0.25, r.Sims[i][j], "pair %d,%d", i, j)
			}
		}
	}
	assert.Contains(t, r.NodeTypes, ast.StartASTType)
	assert.Contains(t, r.NodeTypes, "module")
	assert.Len(t, r.NodeTypes, 4)
}

// TestComputeMatrixProperties verifies symmetry, unit diagonal and range.
func TestComputeMatrixProperties(t *testing.T) {
	tree, leaves := nestedTree(false)
	ordered := []ast.Leaf{leaves["x"], leaves["y"], leaves["z"]}

	r, err := Compute(tree, ordered, Options{})
	require.NoError(t, err)

	n := len(r.Sims)
	last := n - 1
	for i := 0; i < n; i++ {
		assert.Equal(t, 1.0, r.Sims[i][i])
		for j := 0; j < n; j++ {
			assert.Equal(t, r.Sims[i][j], r.Sims[j][i])
			if i == j {
				continue
			}
			if i == 0 || j == 0 || i == last || j == last {
				assert.Zero(t, r.Sims[i][j])
			} else {
				assert.Greater(t, r.Sims[i][j], 0.0)
				assert.LessOrEqual(t, r.Sims[i][j], 1.0)
			}
		}
	}

	// x and y share module, stmt A and expr: 3²/(4·4).
	assert.InDelta(t, 9.0/16.0, r.Sims[1][2], 1e-12)
	// x and z share only module: 1/(4·3).
	assert.InDelta(t, 1.0/12.0, r.Sims[1][3], 1e-12)
}

// TestSimilaritySubtreeReorder verifies arena order of unrelated subtrees
// does not change scores.
func TestSimilaritySubtreeReorder(t *testing.T) {
	score := func(swapped bool, a, b string) float64 {
		tree, leaves := nestedTree(swapped)
		pa, err := tree.LeafRootPath(leaves[a].Node)
		require.NoError(t, err)
		pb, err := tree.LeafRootPath(leaves[b].Node)
		require.NoError(t, err)
		return Similarity(pa, pb)
	}

	for _, pair := range [][2]string{{"x", "y"}, {"x", "z"}, {"y", "z"}} {
		assert.Equal(t, score(false, pair[0], pair[1]), score(true, pair[0], pair[1]), "pair %v", pair)
	}
}

// TestSimilarityIdentityNotType verifies same-typed but distinct ancestors do
// not count as shared.
func TestSimilarityIdentityNotType(t *testing.T) {
	tree := &ast.Tree{}
	root := tree.Add(ast.Node{Type: "module", Parent: ast.NoParent})
	s1 := tree.Add(ast.Node{Type: "stmt", Parent: root})
	s2 := tree.Add(ast.Node{Type: "stmt", Parent: root})
	a := tree.Add(ast.Node{Type: "identifier", Parent: s1})
	b := tree.Add(ast.Node{Type: "identifier", Parent: s2})

	pa, err := tree.LeafRootPath(a)
	require.NoError(t, err)
	pb, err := tree.LeafRootPath(b)
	require.NoError(t, err)

	assert.InDelta(t, 1.0/9.0, Similarity(pa, pb), 1e-12)

	// Without node indices only types are compared, so the paths look equal.
	typesOnly := func(p ast.Path) ast.Path { return ast.Path{Types: p.Types} }
	assert.Equal(t, 1.0, Similarity(typesOnly(pa), typesOnly(pb)))
}

// TestSimilaritySentinel verifies sentinel paths always score 0.
func TestSimilaritySentinel(t *testing.T) {
	tree, leaves := flatTree(1)
	p, err := tree.LeafRootPath(leaves[0].Node)
	require.NoError(t, err)

	start := ast.SentinelPath(ast.StartASTType)
	end := ast.SentinelPath(ast.EndASTType)
	assert.Zero(t, Similarity(start, p))
	assert.Zero(t, Similarity(p, end))
	assert.Zero(t, Similarity(start, end))
}

// TestComputeTruncation verifies the matrix cap keeps full path data.
func TestComputeTruncation(t *testing.T) {
	tree, leaves := flatTree(10)

	r, err := Compute(tree, leaves, Options{MaxLeaves: 4})
	require.NoError(t, err)

	assert.Len(t, r.Types, 12)
	assert.Len(t, r.Lengths, 12)
	require.Len(t, r.Sims, 4)
	for _, row := range r.Sims {
		assert.Len(t, row, 4)
	}
}

// TestComputeEmpty verifies an empty sample yields a 2x2 sentinel matrix.
func TestComputeEmpty(t *testing.T) {
	r, err := Compute(&ast.Tree{}, nil, Options{})
	require.NoError(t, err)

	assert.Equal(t, [][]float64{{1, 0}, {0, 1}}, r.Sims)
	assert.Equal(t, []int{1, 1}, r.Lengths)
}

// TestComputeBadLeaf verifies a dangling leaf reference is a structural error.
func TestComputeBadLeaf(t *testing.T) {
	tree, _ := flatTree(1)

	_, err := Compute(tree, []ast.Leaf{{Node: 42}}, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ast.ErrStructuralMismatch)
}
