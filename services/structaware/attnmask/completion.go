// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package attnmask

// CompletionName is the registry name of the code-completion variant.
const CompletionName = "completion"

// Completion is the variant for left-to-right code completion.
//
// Code tokens and AST leaves attend causally (a position sees itself and
// everything before it). A DFG slot sees itself, the start slot, and every
// earlier slot that defines a value it uses. Cross blocks link a token to
// the leaf and DFG slots whose span contains it.
type Completion struct{}

// Name returns CompletionName.
func (Completion) Name() string { return CompletionName }

// Columns returns the canonical column names.
func (Completion) Columns() []string { return Columns() }

// Assemble builds the completion blocks.
func (Completion) Assemble(in Input) (*Blocks, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	d := in.NumNodeSlots()
	dfg := zeros(d, d)
	for i := range dfg {
		dfg[i][i] = 1
		dfg[i][0] = 1
	}
	for _, e := range in.Edges {
		for _, use := range e.Targets {
			if e.Source < use {
				dfg[use][e.Source] = 1
			}
		}
	}

	return &Blocks{
		CodeTokens: lowerTriangle(in.NumTokens),
		AstLeaves:  lowerTriangle(in.NumLeafSlots()),
		DfgEdges:   dfg,
		CodeAst:    membership(in.NumTokens, in.LeafSpans),
		CodeDfg:    membership(in.NumTokens, in.NodeSpans),
	}, nil
}
