// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pathsim scores how much two AST leaves share of their path to the
// root.
//
// For leaves i and j the score is common²/(|path_i|·|path_j|), where common
// counts the ancestors the two paths share walking inward from the root (the
// root itself always counts). Sentinel leaves score 0 against everything
// except themselves.
package pathsim

import (
	"fmt"

	"github.com/AleutianAI/structaware/services/structaware/ast"
)

// DefaultMaxLeaves caps the similarity matrix, sentinels included.
//
// Samples with more leaves keep type and length data for every leaf but
// pairwise scores only for the first DefaultMaxLeaves. This bounds the
// quadratic cost; it is not needed for correctness.
const DefaultMaxLeaves = 512

// Options configures Compute.
type Options struct {
	// MaxLeaves caps the matrix size. Non-positive means DefaultMaxLeaves.
	MaxLeaves int
}

// Result holds the per-sample path features.
//
// Types, Lengths and Paths cover [<START_AST>] + leaves + [<END_AST>].
// Sims is square over the first min(len(Paths), MaxLeaves) of them.
type Result struct {
	Paths   []ast.Path
	Types   [][]string
	Lengths []int
	Sims    [][]float64

	// NodeTypes is every distinct type seen on any path, sentinels included.
	NodeTypes map[string]struct{}
}

// MaxDepth returns the longest path length in the result.
func (r *Result) MaxDepth() int {
	depth := 0
	for _, l := range r.Lengths {
		depth = max(depth, l)
	}
	return depth
}

// Compute derives leaf-root paths and the pairwise similarity matrix.
//
// Description:
//
//	Paths are built for the sentinel-bracketed leaf sequence. The diagonal
//	is set to 1 without comparing a path to itself; every off-diagonal pair
//	is scored once and mirrored.
//
// Inputs:
//
//	tree   - Arena the leaves point into.
//	leaves - Leaves in source order.
//	opts   - Matrix size limit.
//
// Outputs:
//
//	*Result - Paths, types, lengths, similarities and the observed type set.
//	error   - Wraps ast.ErrStructuralMismatch when a leaf is not in the arena.
func Compute(tree *ast.Tree, leaves []ast.Leaf, opts Options) (*Result, error) {
	limit := opts.MaxLeaves
	if limit <= 0 {
		limit = DefaultMaxLeaves
	}

	paths := make([]ast.Path, 0, len(leaves)+2)
	paths = append(paths, ast.SentinelPath(ast.StartASTType))
	for i, leaf := range leaves {
		p, err := tree.LeafRootPath(leaf.Node)
		if err != nil {
			return nil, fmt.Errorf("leaf %d: %w", i, err)
		}
		paths = append(paths, p)
	}
	paths = append(paths, ast.SentinelPath(ast.EndASTType))

	r := &Result{
		Paths:     paths,
		Types:     make([][]string, len(paths)),
		Lengths:   make([]int, len(paths)),
		NodeTypes: make(map[string]struct{}),
	}
	for i, p := range paths {
		r.Types[i] = p.Types
		r.Lengths[i] = p.Len()
		for _, t := range p.Types {
			r.NodeTypes[t] = struct{}{}
		}
	}

	n := min(len(paths), limit)
	r.Sims = make([][]float64, n)
	for i := range r.Sims {
		r.Sims[i] = make([]float64, n)
		r.Sims[i][i] = 1
	}
	for i := 0; i < n-1; i++ {
		for j := i + 1; j < n; j++ {
			s := Similarity(paths[i], paths[j])
			r.Sims[i][j] = s
			r.Sims[j][i] = s
		}
	}
	return r, nil
}

// Similarity scores two leaf-root paths.
//
// Returns 0 if either path carries a sentinel type. Otherwise the score lies
// in (0, 1] and is symmetric in its arguments.
func Similarity(a, b ast.Path) float64 {
	if a.IsSentinel() || b.IsSentinel() || a.Len() == 0 || b.Len() == 0 {
		return 0
	}

	common := 1 // the root is always shared
	for i := 2; i <= min(a.Len(), b.Len()); i++ {
		if !sameAncestor(a, b, a.Len()-i, b.Len()-i) {
			break
		}
		common++
	}
	return float64(common*common) / float64(a.Len()*b.Len())
}

// sameAncestor compares by arena identity when both paths carry node indices
// and falls back to the type label otherwise.
func sameAncestor(a, b ast.Path, i, j int) bool {
	if len(a.Nodes) == a.Len() && len(b.Nodes) == b.Len() {
		return a.Nodes[i] == b.Nodes[j]
	}
	return a.Types[i] == b.Types[j]
}
