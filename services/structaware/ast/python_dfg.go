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

import "sort"

type identRole int

const (
	roleNone identRole = iota
	roleUse
	roleDef
	roleUpdate // read then redefined, as in augmented assignment
)

// pythonDataFlow links identifier uses to their most recent visible definition.
//
// A definition made by an assignment becomes visible only after the whole
// assignment, so "x = x + 1" links the right-hand x to the previous x.
// Edges are grouped by defining leaf and returned sorted by source.
func pythonDataFlow(s *Structure) []Edge {
	type pending struct {
		name string
		leaf int
		at   int
	}

	t := s.Tree
	lastDef := make(map[string]int)
	uses := make(map[int][]int)
	var waiting []pending

	for i, leaf := range s.Leaves {
		// Activate definitions whose owning statement ended before this leaf.
		rest := waiting[:0]
		for _, w := range waiting {
			if w.at <= leaf.StartByte {
				lastDef[w.name] = w.leaf
			} else {
				rest = append(rest, w)
			}
		}
		waiting = rest

		if t.Nodes[leaf.Node].Type != "identifier" {
			continue
		}

		role, owner := pythonRole(t, leaf.Node)
		switch role {
		case roleUse:
			if d, ok := lastDef[leaf.Text]; ok {
				uses[d] = append(uses[d], i)
			}
		case roleUpdate:
			if d, ok := lastDef[leaf.Text]; ok {
				uses[d] = append(uses[d], i)
			}
			waiting = append(waiting, pending{name: leaf.Text, leaf: i, at: t.Nodes[owner].EndByte})
		case roleDef:
			if owner == NoParent {
				lastDef[leaf.Text] = i
			} else {
				waiting = append(waiting, pending{name: leaf.Text, leaf: i, at: t.Nodes[owner].EndByte})
			}
		}
	}

	edges := make([]Edge, 0, len(uses))
	for src, targets := range uses {
		edges = append(edges, Edge{Source: src, Targets: targets})
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].Source < edges[j].Source })
	return edges
}

// pythonRole classifies an identifier node.
//
// For assignments the owning statement node is returned so the definition
// can be deferred until the statement ends; other definitions return
// NoParent and take effect immediately.
func pythonRole(t *Tree, node int) (identRole, int) {
	cur := node
	for {
		n := t.Nodes[cur]
		if n.Parent == NoParent {
			return roleUse, NoParent
		}
		parent := t.Nodes[n.Parent]

		switch parent.Type {
		case "pattern_list", "tuple_pattern", "list_pattern", "list_splat_pattern", "dictionary_splat_pattern":
			cur = n.Parent
			continue
		case "assignment":
			if n.Field == "left" {
				return roleDef, n.Parent
			}
			return roleUse, NoParent
		case "augmented_assignment":
			if n.Field == "left" {
				return roleUpdate, n.Parent
			}
			return roleUse, NoParent
		case "for_statement", "for_in_clause":
			if n.Field == "left" {
				return roleDef, NoParent
			}
			return roleUse, NoParent
		case "parameters", "lambda_parameters":
			return roleDef, NoParent
		case "typed_parameter":
			if n.Field == "type" {
				return roleUse, NoParent
			}
			return roleDef, NoParent
		case "default_parameter", "typed_default_parameter":
			if n.Field == "name" {
				return roleDef, NoParent
			}
			return roleUse, NoParent
		case "function_definition", "class_definition":
			if n.Field == "name" {
				return roleDef, NoParent
			}
			return roleUse, NoParent
		case "aliased_import":
			if n.Field == "alias" {
				return roleDef, NoParent
			}
			return roleNone, NoParent
		case "dotted_name":
			cur = n.Parent
			continue
		case "import_statement", "import_from_statement":
			if n.Field == "name" {
				return roleDef, NoParent
			}
			return roleNone, NoParent
		case "keyword_argument":
			if n.Field == "name" {
				return roleNone, NoParent
			}
			return roleUse, NoParent
		case "attribute":
			if n.Field == "attribute" {
				return roleNone, NoParent
			}
			return roleUse, NoParent
		default:
			return roleUse, NoParent
		}
	}
}
