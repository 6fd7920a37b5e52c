// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package attnmask builds the per-sample attention blocks that the batch
// collator later composes into one square mask over
// [code tokens, AST leaves, DFG slots].
//
// Every variant produces the same five blocks; only the policy inside each
// block differs. Callers select a variant by name and never inspect it.
package attnmask

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/AleutianAI/structaware/services/structaware/ast"
)

// Storage column names of the five blocks, in canonical order.
const (
	ColCodeTokens = "attn_code_tokens"
	ColAstLeaves  = "attn_ast_leaves"
	ColDfgEdges   = "attn_dfg_edges"
	ColCodeAst    = "attn_code_ast"
	ColCodeDfg    = "attn_code_dfg"
)

// ErrUnknownAssembler indicates that no variant is registered under a name.
var ErrUnknownAssembler = errors.New("unknown attention mask assembler")

// Input describes one sample after special tokens were added.
//
// All indices are already shifted: token 0 is BOS, token NumTokens-1 is EOS,
// leaf slot 0 is <START_AST>, DFG slot 0 is the start sentinel.
type Input struct {
	// NumTokens counts code tokens including BOS and EOS.
	NumTokens int

	// LeafSpans holds the token positions of every real leaf, in order.
	// Real leaf i occupies leaf slot i+1.
	LeafSpans [][]int

	// NodeSpans holds the token positions of every DFG node.
	// Node i occupies DFG slot i+1.
	NodeSpans [][]int

	// Edges are DFG edges over slots, so every index is in [1, len(NodeSpans)].
	Edges []ast.Edge
}

// NumLeafSlots returns the leaf axis length, sentinels included.
func (in Input) NumLeafSlots() int { return len(in.LeafSpans) + 2 }

// NumNodeSlots returns the DFG axis length, sentinels included.
func (in Input) NumNodeSlots() int { return len(in.NodeSpans) + 2 }

// Validate checks that every span and edge index lands inside its axis.
func (in Input) Validate() error {
	if in.NumTokens < 2 {
		return fmt.Errorf("%w: %d code tokens, need at least BOS and EOS", ast.ErrStructuralMismatch, in.NumTokens)
	}
	check := func(kind string, spans [][]int) error {
		for i, span := range spans {
			for _, p := range span {
				if p < 1 || p > in.NumTokens-2 {
					return fmt.Errorf("%w: %s %d spans token %d of %d", ast.ErrStructuralMismatch, kind, i, p, in.NumTokens)
				}
			}
		}
		return nil
	}
	if err := check("leaf", in.LeafSpans); err != nil {
		return err
	}
	if err := check("dfg node", in.NodeSpans); err != nil {
		return err
	}
	for _, e := range in.Edges {
		for _, slot := range append([]int{e.Source}, e.Targets...) {
			if slot < 1 || slot > len(in.NodeSpans) {
				return fmt.Errorf("%w: dfg edge slot %d of %d", ast.ErrStructuralMismatch, slot, len(in.NodeSpans))
			}
		}
	}
	return nil
}

// Blocks are the five 0/1 matrices of one sample.
//
// With T = Input.NumTokens, L = Input.NumLeafSlots() and
// D = Input.NumNodeSlots():
//
//	CodeTokens T×T, AstLeaves L×L, DfgEdges D×D, CodeAst T×L, CodeDfg T×D.
type Blocks struct {
	CodeTokens [][]int
	AstLeaves  [][]int
	DfgEdges   [][]int
	CodeAst    [][]int
	CodeDfg    [][]int
}

// ByColumn returns the blocks keyed by storage column name.
func (b *Blocks) ByColumn() map[string][][]int {
	return map[string][][]int{
		ColCodeTokens: b.CodeTokens,
		ColAstLeaves:  b.AstLeaves,
		ColDfgEdges:   b.DfgEdges,
		ColCodeAst:    b.CodeAst,
		ColCodeDfg:    b.CodeDfg,
	}
}

// FromColumns rebuilds Blocks from decoded storage columns.
func FromColumns(cols map[string][][]int) (*Blocks, error) {
	b := &Blocks{
		CodeTokens: cols[ColCodeTokens],
		AstLeaves:  cols[ColAstLeaves],
		DfgEdges:   cols[ColDfgEdges],
		CodeAst:    cols[ColCodeAst],
		CodeDfg:    cols[ColCodeDfg],
	}
	for _, name := range Columns() {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("missing attention column %q", name)
		}
	}
	return b, nil
}

// Columns returns the canonical column names every variant produces.
func Columns() []string {
	return []string{ColCodeTokens, ColAstLeaves, ColDfgEdges, ColCodeAst, ColCodeDfg}
}

// Assembler builds the attention blocks of a sample for one task.
//
// Description:
//
//	Implementations choose the policy inside each block (causal or full
//	token attention, how DFG slots see each other) but must return all five
//	blocks with the shapes documented on Blocks.
//
// Thread Safety:
//
//	Implementations must be stateless or otherwise safe for concurrent use.
type Assembler interface {
	// Name returns the registry name of the variant.
	Name() string

	// Columns returns the storage columns the variant fills.
	Columns() []string

	// Assemble validates in and returns its blocks.
	Assemble(in Input) (*Blocks, error)
}

var (
	registryMu sync.RWMutex
	registry   = map[string]func() Assembler{}
)

// Register makes a variant available to Lookup. A later registration under
// the same name replaces the earlier one.
func Register(name string, factory func() Assembler) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// Lookup returns a new instance of the named variant.
func Lookup(name string) (Assembler, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %v)", ErrUnknownAssembler, name, Names())
	}
	return factory(), nil
}

// Names returns the registered variant names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func init() {
	Register(CompletionName, func() Assembler { return Completion{} })
	Register(BidirectionalName, func() Assembler { return Bidirectional{} })
}

func zeros(rows, cols int) [][]int {
	m := make([][]int, rows)
	for i := range m {
		m[i] = make([]int, cols)
	}
	return m
}

func ones(rows, cols int) [][]int {
	m := zeros(rows, cols)
	for i := range m {
		for j := range m[i] {
			m[i][j] = 1
		}
	}
	return m
}

func lowerTriangle(n int) [][]int {
	m := zeros(n, n)
	for i := range m {
		for j := 0; j <= i; j++ {
			m[i][j] = 1
		}
	}
	return m
}

// membership returns the T×(len(spans)+2) block where token t sees slot s+1
// when t is in spans[s]. BOS sees the start slot and EOS the end slot.
func membership(numTokens int, spans [][]int) [][]int {
	slots := len(spans) + 2
	m := zeros(numTokens, slots)
	m[0][0] = 1
	m[numTokens-1][slots-1] = 1
	for s, span := range spans {
		for _, t := range span {
			m[t][s+1] = 1
		}
	}
	return m
}
