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

// BidirectionalName is the registry name of the encoder variant.
const BidirectionalName = "bidirectional"

// Bidirectional is the variant for encoders (summarization, code search).
//
// Code tokens and AST leaves attend to each other freely. DFG slots see
// themselves, the start slot, and both ends of every edge they take part
// in. Cross blocks are the same span membership as Completion.
type Bidirectional struct{}

// Name returns BidirectionalName.
func (Bidirectional) Name() string { return BidirectionalName }

// Columns returns the canonical column names.
func (Bidirectional) Columns() []string { return Columns() }

// Assemble builds the bidirectional blocks.
func (Bidirectional) Assemble(in Input) (*Blocks, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	d := in.NumNodeSlots()
	dfg := zeros(d, d)
	for i := range dfg {
		dfg[i][i] = 1
		dfg[i][0] = 1
		dfg[0][i] = 1
	}
	for _, e := range in.Edges {
		for _, use := range e.Targets {
			dfg[use][e.Source] = 1
			dfg[e.Source][use] = 1
		}
	}

	return &Blocks{
		CodeTokens: ones(in.NumTokens, in.NumTokens),
		AstLeaves:  ones(in.NumLeafSlots(), in.NumLeafSlots()),
		DfgEdges:   dfg,
		CodeAst:    membership(in.NumTokens, in.LeafSpans),
		CodeDfg:    membership(in.NumTokens, in.NodeSpans),
	}, nil
}
