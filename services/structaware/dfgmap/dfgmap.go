// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dfgmap moves a data-flow graph from leaf indices into a dense node
// index space and attaches the code-token span of every node.
package dfgmap

import (
	"fmt"
	"slices"

	"github.com/AleutianAI/structaware/services/structaware/ast"
)

// Values of the DFG validity mask.
const (
	// StartNodeID marks the leading begin-of-sequence slot.
	StartNodeID = 0

	// RealNodeID marks a slot holding an actual DFG node.
	RealNodeID = 1

	// PadNodeID marks the trailing slot and every batch padding position.
	PadNodeID = 2
)

// Mapping is the dense view of one sample's data-flow graph.
type Mapping struct {
	// Nodes lists the referenced leaf indices, sorted and deduplicated.
	// Node i of the dense space is leaf Nodes[i].
	Nodes []int

	// Remap is the inverse of Nodes: leaf index to dense index.
	Remap map[int]int

	// Edges are the input edges rewritten into dense indices.
	Edges []ast.Edge

	// NodeTokenSpans[i] is the token span of leaf Nodes[i].
	NodeTokenSpans [][]int

	// Mask is StartNodeID, one RealNodeID per node, then PadNodeID.
	Mask []int
}

// Len returns the number of DFG nodes, sentinels excluded.
func (m *Mapping) Len() int {
	return len(m.Nodes)
}

// Map builds the dense DFG mapping.
//
// Description:
//
//	Every leaf that appears as a source or a target of an edge becomes a
//	node. Nodes are ordered by leaf index, so the remap is monotonic and
//	edges keep their relative order.
//
// Inputs:
//
//	edges     - Edges over leaf indices, as produced by an ast.Builder.
//	leafSpans - Token span of every leaf, indexed by leaf.
//
// Outputs:
//
//	*Mapping - Never nil on success. Zero edges give zero nodes and the mask
//	           [StartNodeID, PadNodeID].
//	error    - Wraps ast.ErrStructuralMismatch when an edge references a
//	           leaf outside leafSpans.
func Map(edges []ast.Edge, leafSpans [][]int) (*Mapping, error) {
	seen := make(map[int]struct{})
	for _, e := range edges {
		for _, leaf := range append([]int{e.Source}, e.Targets...) {
			if leaf < 0 || leaf >= len(leafSpans) {
				return nil, fmt.Errorf("%w: edge references leaf %d of %d", ast.ErrStructuralMismatch, leaf, len(leafSpans))
			}
			seen[leaf] = struct{}{}
		}
	}

	nodes := make([]int, 0, len(seen))
	for leaf := range seen {
		nodes = append(nodes, leaf)
	}
	slices.Sort(nodes)

	m := &Mapping{
		Nodes:          nodes,
		Remap:          make(map[int]int, len(nodes)),
		Edges:          make([]ast.Edge, len(edges)),
		NodeTokenSpans: make([][]int, len(nodes)),
		Mask:           make([]int, 0, len(nodes)+2),
	}
	for i, leaf := range nodes {
		m.Remap[leaf] = i
		m.NodeTokenSpans[i] = slices.Clone(leafSpans[leaf])
	}
	for i, e := range edges {
		targets := make([]int, len(e.Targets))
		for j, t := range e.Targets {
			targets[j] = m.Remap[t]
		}
		m.Edges[i] = ast.Edge{Source: m.Remap[e.Source], Targets: targets}
	}

	m.Mask = append(m.Mask, StartNodeID)
	for range nodes {
		m.Mask = append(m.Mask, RealNodeID)
	}
	m.Mask = append(m.Mask, PadNodeID)
	return m, nil
}

// Shift returns a copy of the mapping with every edge index and every token
// position moved by delta.
//
// Passing 1 reserves slot 0 for the begin-of-sequence token in the code
// token sequence and in the DFG slot sequence. Nodes, Remap and Mask are
// shared with the receiver.
func (m *Mapping) Shift(delta int) *Mapping {
	out := &Mapping{
		Nodes:          m.Nodes,
		Remap:          m.Remap,
		Mask:           m.Mask,
		Edges:          ShiftEdges(m.Edges, delta),
		NodeTokenSpans: ShiftSpans(m.NodeTokenSpans, delta),
	}
	return out
}

// ShiftSpans returns a copy of spans with every position moved by delta.
func ShiftSpans(spans [][]int, delta int) [][]int {
	out := make([][]int, len(spans))
	for i, span := range spans {
		out[i] = make([]int, len(span))
		for j, p := range span {
			out[i][j] = p + delta
		}
	}
	return out
}

// ShiftEdges returns a copy of edges with every index moved by delta.
func ShiftEdges(edges []ast.Edge, delta int) []ast.Edge {
	out := make([]ast.Edge, len(edges))
	for i, e := range edges {
		targets := make([]int, len(e.Targets))
		for j, t := range e.Targets {
			targets[j] = t + delta
		}
		out[i] = ast.Edge{Source: e.Source + delta, Targets: targets}
	}
	return out
}
