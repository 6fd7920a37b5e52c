// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ast derives the structural view of a code sample that the feature
// pipeline consumes: an arena of syntax nodes, the ordered terminal leaves of
// that arena, and a data-flow graph expressed over leaf indices.
//
// Nodes never hold pointers to each other. Every node records the index of its
// parent inside Tree.Nodes, so leaf-to-root traversal is a bounded loop over
// integers and a Tree can be discarded as soon as its features are computed.
package ast

import "fmt"

// NoParent marks the root node of a Tree and the sentinel leaves.
const NoParent = -1

// Sentinel leaf types bracketing every leaf sequence.
const (
	StartASTType = "<START_AST>"
	EndASTType   = "<END_AST>"
)

// Node is a single syntax node stored in a Tree arena.
type Node struct {
	// Type is the grammar type of the node (e.g. "identifier", "=", "module").
	Type string

	// Parent is the arena index of the enclosing node, or NoParent for the root.
	Parent int

	// Field is the field name the node occupies in its parent ("left", "name").
	// Empty when the grammar assigns no field.
	Field string

	// StartByte and EndByte delimit the node in the source.
	StartByte int
	EndByte   int
}

// Tree is an arena of syntax nodes addressed by index.
//
// Thread Safety: a Tree is immutable once built and safe for concurrent reads.
type Tree struct {
	Nodes []Node
}

// Add appends a node and returns its arena index.
func (t *Tree) Add(n Node) int {
	t.Nodes = append(t.Nodes, n)
	return len(t.Nodes) - 1
}

// Len returns the number of nodes in the arena.
func (t *Tree) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Nodes)
}

// Leaf is a terminal node of the tree together with its source text.
type Leaf struct {
	// Node is the arena index of the terminal node.
	Node int

	// Text is the source text covered by the leaf.
	Text string

	// StartByte and EndByte delimit the leaf in the source.
	StartByte int
	EndByte   int
}

// Edge is one data-flow edge: a defining leaf and the leaves that use it.
type Edge struct {
	Source  int
	Targets []int
}

// String renders the edge as "source:[t1 t2]" for diagnostics.
func (e Edge) String() string {
	return fmt.Sprintf("%d:%v", e.Source, e.Targets)
}

// Structure is everything a Builder extracts from one code sample.
type Structure struct {
	Tree   *Tree
	Leaves []Leaf

	// Edges is the data-flow graph over indices into Leaves.
	Edges []Edge
}
