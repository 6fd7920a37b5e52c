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
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// PythonFrontendOption configures a PythonFrontend instance.
type PythonFrontendOption func(*PythonFrontend)

// WithPythonMaxContentSize sets the maximum sample size the frontend accepts.
//
// Parameters:
//   - bytes: Maximum size in bytes. Non-positive values are ignored.
func WithPythonMaxContentSize(bytes int) PythonFrontendOption {
	return func(p *PythonFrontend) {
		if bytes > 0 {
			p.maxContentSize = bytes
		}
	}
}

// WithPythonLogger sets the logger used for diagnostics.
func WithPythonLogger(logger *slog.Logger) PythonFrontendOption {
	return func(p *PythonFrontend) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// PythonFrontend strips and parses Python samples with tree-sitter.
//
// Description:
//
//	Build flattens the tree-sitter syntax tree into a Tree arena. Terminal
//	nodes become leaves, except that string literals are kept whole and
//	comments and zero-width (missing) nodes are dropped. The data-flow graph
//	links every identifier use to the most recent visible definition of the
//	same name.
//
// Thread Safety:
//
//	PythonFrontend is safe for concurrent use. Each call creates its own
//	tree-sitter parser.
type PythonFrontend struct {
	maxContentSize int
	logger         *slog.Logger
}

// NewPythonFrontend creates a PythonFrontend with the given options.
func NewPythonFrontend(opts ...PythonFrontendOption) *PythonFrontend {
	p := &PythonFrontend{
		maxContentSize: DefaultMaxContentSize,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Language returns "python".
func (p *PythonFrontend) Language() string {
	return "python"
}

// Build parses code and returns its arena, leaves and data-flow edges.
//
// Description:
//
//	Build expects code that already went through Strip, but comments are
//	skipped regardless. A tree containing syntax errors is rejected with a
//	*ParseError pointing at the first error node, because leaves recovered
//	from an error tree do not line up with the source tokens.
//
// Inputs:
//
//	ctx  - Context for cancellation.
//	code - Python source of a single sample.
//
// Outputs:
//
//	*Structure - Never nil on success. Leaves may be empty for empty input.
//	error      - *ParseError, ErrInvalidContent or a context error.
func (p *PythonFrontend) Build(ctx context.Context, code string) (*Structure, error) {
	ctx, span := startBuildSpan(ctx, "PythonFrontend.Build", p.Language(), len(code))
	defer span.End()

	start := time.Now()
	content := []byte(code)

	tree, err := p.parse(ctx, content)
	if err != nil {
		recordBuildMetrics(ctx, p.Language(), time.Since(start), 0, 0, false)
		return nil, err
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		recordBuildMetrics(ctx, p.Language(), time.Since(start), 0, 0, false)
		return nil, firstSyntaxError(root)
	}

	s := &Structure{Tree: &Tree{}}
	p.flatten(root, NoParent, "", content, s)
	s.Edges = pythonDataFlow(s)

	if err := ctx.Err(); err != nil {
		recordBuildMetrics(ctx, p.Language(), time.Since(start), len(s.Leaves), len(s.Edges), false)
		return nil, fmt.Errorf("build canceled after extraction: %w", err)
	}

	setBuildSpanResult(span, len(s.Leaves), len(s.Edges))
	recordBuildMetrics(ctx, p.Language(), time.Since(start), len(s.Leaves), len(s.Edges), true)
	return s, nil
}

// Strip removes comments and string-only statements (docstrings) from code,
// then drops lines that became blank and trailing whitespace.
//
// Outputs:
//
//	string - Cleaned code.
//	error  - *ParseError when the code has syntax errors or is not valid UTF-8.
func (p *PythonFrontend) Strip(ctx context.Context, code string) (string, error) {
	ctx, span := startBuildSpan(ctx, "PythonFrontend.Strip", p.Language(), len(code))
	defer span.End()

	content := []byte(code)
	tree, err := p.parse(ctx, content)
	if err != nil {
		recordStripFailure(ctx, p.Language())
		return "", WrapParseError(err, "")
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		recordStripFailure(ctx, p.Language())
		perr := firstSyntaxError(root)
		p.logger.Debug("strip rejected sample", slog.Int("line", perr.Line), slog.String("reason", perr.Message))
		return "", perr
	}

	var cuts []stripCut
	collectStripRanges(root, &cuts)
	sort.SliceStable(cuts, func(i, j int) bool { return cuts[i].start < cuts[j].start })

	var b strings.Builder
	b.Grow(len(content))
	pos := 0
	for _, c := range cuts {
		if c.start < pos {
			continue
		}
		b.Write(content[pos:c.start])
		b.WriteString(c.repl)
		pos = c.end
	}
	b.Write(content[pos:])

	lines := strings.Split(b.String(), "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = strings.TrimRight(line, " \t\r")
		if strings.TrimSpace(line) != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n"), nil
}

// parse validates content and runs tree-sitter on it.
func (p *PythonFrontend) parse(ctx context.Context, content []byte) (*sitter.Tree, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("parse canceled before start: %w", err)
	}
	if len(content) > p.maxContentSize {
		return nil, fmt.Errorf("%w: size %d exceeds limit %d", ErrInvalidContent, len(content), p.maxContentSize)
	}
	if !utf8.Valid(content) {
		return nil, fmt.Errorf("%w: content is not valid UTF-8", ErrInvalidContent)
	}

	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter parse failed: %w", err)
	}
	if tree.RootNode() == nil {
		tree.Close()
		return nil, NewParseError("", 0, 0, "tree-sitter returned nil root node")
	}
	return tree, nil
}

// flatten copies the tree-sitter subtree rooted at n into the arena.
func (p *PythonFrontend) flatten(n *sitter.Node, parent int, field string, content []byte, s *Structure) {
	if n.Type() == "comment" {
		return
	}

	idx := s.Tree.Add(Node{
		Type:      n.Type(),
		Parent:    parent,
		Field:     field,
		StartByte: int(n.StartByte()),
		EndByte:   int(n.EndByte()),
	})

	if n.ChildCount() == 0 || n.Type() == "string" {
		if n.EndByte() > n.StartByte() {
			s.Leaves = append(s.Leaves, Leaf{
				Node:      idx,
				Text:      n.Content(content),
				StartByte: int(n.StartByte()),
				EndByte:   int(n.EndByte()),
			})
		}
		return
	}

	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		if child == nil {
			continue
		}
		p.flatten(child, idx, n.FieldNameForChild(i), content, s)
	}
}

// collectStripRanges gathers byte ranges of comments and string-only statements.
// stripCut replaces content[start:end] with repl.
type stripCut struct {
	start, end int
	repl       string
}

func cutNode(n *sitter.Node, repl string) stripCut {
	return stripCut{start: int(n.StartByte()), end: int(n.EndByte()), repl: repl}
}

// isStringStatement reports whether n is a statement holding only a string.
func isStringStatement(n *sitter.Node) bool {
	if n.Type() != "expression_statement" || n.NamedChildCount() != 1 {
		return false
	}
	t := n.NamedChild(0).Type()
	return t == "string" || t == "concatenated_string"
}

func collectStripRanges(n *sitter.Node, cuts *[]stripCut) {
	switch n.Type() {
	case "comment":
		*cuts = append(*cuts, cutNode(n, ""))
		return
	case "expression_statement":
		if isStringStatement(n) {
			*cuts = append(*cuts, cutNode(n, ""))
			return
		}
	case "block":
		// A body of docstrings only keeps a pass so the code still parses.
		var first *sitter.Node
		only := true
		for i := 0; i < int(n.NamedChildCount()); i++ {
			child := n.NamedChild(i)
			if child.Type() == "comment" {
				continue
			}
			if !isStringStatement(child) {
				only = false
				break
			}
			if first == nil {
				first = child
			}
		}
		if only && first != nil {
			*cuts = append(*cuts, cutNode(first, "pass"))
		}
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		if child := n.Child(i); child != nil {
			collectStripRanges(child, cuts)
		}
	}
}

// firstSyntaxError locates the first ERROR or missing node under root.
func firstSyntaxError(root *sitter.Node) *ParseError {
	var found *sitter.Node
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if found != nil || n == nil {
			return
		}
		if n.Type() == "ERROR" || n.IsMissing() {
			found = n
			return
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(root)

	if found == nil {
		return NewParseError("", 0, 0, "source contains syntax errors")
	}
	pt := found.StartPoint()
	msg := "syntax error"
	if found.IsMissing() {
		msg = fmt.Sprintf("missing %q", found.Type())
	}
	return NewParseError("", int(pt.Row)+1, int(pt.Column), msg)
}
