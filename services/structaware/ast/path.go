// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"fmt"
	"slices"
)

// Path is the chain of nodes from a leaf up to the tree root, leaf first.
//
// Nodes holds arena indices and Types the matching node types. Sentinel paths
// have a single element whose node index is NoParent.
type Path struct {
	Nodes []int
	Types []string
}

// Len returns the number of nodes on the path.
func (p Path) Len() int {
	return len(p.Types)
}

// IsSentinel reports whether the path carries a start or end sentinel type.
func (p Path) IsSentinel() bool {
	return slices.Contains(p.Types, StartASTType) || slices.Contains(p.Types, EndASTType)
}

// SentinelPath returns the single-element path of a sentinel leaf.
func SentinelPath(sentinel string) Path {
	return Path{Nodes: []int{NoParent}, Types: []string{sentinel}}
}

// LeafRootPath follows parent indices from node up to the root.
//
// Description:
//
//	The walk is bounded by the arena size: a well-formed tree can never need
//	more steps than it has nodes, so exceeding that bound means the parent
//	links form a cycle and ErrStructuralMismatch is returned.
//
// Inputs:
//
//	node - Arena index of the starting leaf. Must be within [0, Len()).
//
// Outputs:
//
//	Path  - Leaf-first path; length >= 1.
//	error - Non-nil when node is out of range or a parent link is invalid.
func (t *Tree) LeafRootPath(node int) (Path, error) {
	if node < 0 || node >= t.Len() {
		return Path{}, fmt.Errorf("%w: node %d outside arena of %d", ErrStructuralMismatch, node, t.Len())
	}

	var p Path
	for cur, steps := node, 0; cur != NoParent; steps++ {
		if steps >= len(t.Nodes) {
			return Path{}, fmt.Errorf("%w: parent cycle at node %d", ErrStructuralMismatch, node)
		}
		if cur < 0 || cur >= len(t.Nodes) {
			return Path{}, fmt.Errorf("%w: parent index %d outside arena", ErrStructuralMismatch, cur)
		}
		p.Nodes = append(p.Nodes, cur)
		p.Types = append(p.Types, t.Nodes[cur].Type)
		cur = t.Nodes[cur].Parent
	}
	return p, nil
}
