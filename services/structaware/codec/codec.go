// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package codec is the versioned text encoding used at the chunk storage
// boundary. In-memory code works on slices; only chunk rows hold strings.
//
// Version 1 delimiters:
//
//	","  between values of one row        1,2,3
//	";"  between rows of a matrix         1,2;3,4
//	":"  between an edge source and its targets, edges joined by ";"
//	                                      0:1,2;3:4
//
// The empty string is the empty list (or the matrix with no rows). A matrix
// row may be empty: "1;;2" has three rows, the middle one empty.
//
// Node type paths are stored as JSON arrays of strings before indexing,
// because grammar type names may contain the delimiters above.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/AleutianAI/structaware/services/structaware/ast"
)

// Version identifies this encoding in metadata.json.
const Version = 1

const (
	valueSep = ","
	rowSep   = ";"
	edgeSep  = ":"
)

// ErrMalformed indicates a stored value that does not parse under Version.
var ErrMalformed = errors.New("malformed encoded value")

// EncodeInts joins values with ",".
func EncodeInts(values []int) string {
	var b strings.Builder
	for i, v := range values {
		if i > 0 {
			b.WriteString(valueSep)
		}
		b.WriteString(strconv.Itoa(v))
	}
	return b.String()
}

// DecodeInts parses a "," separated list. The empty string yields an empty
// slice.
func DecodeInts(s string) ([]int, error) {
	if s == "" {
		return []int{}, nil
	}
	parts := strings.Split(s, valueSep)
	out := make([]int, len(parts))
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("%w: int %q: %v", ErrMalformed, p, err)
		}
		out[i] = v
	}
	return out, nil
}

// EncodeIntMatrix joins rows with ";" and values with ",". Rows may differ
// in length.
func EncodeIntMatrix(m [][]int) string {
	rows := make([]string, len(m))
	for i, row := range m {
		rows[i] = EncodeInts(row)
	}
	return strings.Join(rows, rowSep)
}

// DecodeIntMatrix reverses EncodeIntMatrix.
func DecodeIntMatrix(s string) ([][]int, error) {
	if s == "" {
		return [][]int{}, nil
	}
	parts := strings.Split(s, rowSep)
	out := make([][]int, len(parts))
	for i, p := range parts {
		row, err := DecodeInts(p)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = row
	}
	return out, nil
}

// EncodeFloats joins values with "," using the shortest exact form.
func EncodeFloats(values []float64) string {
	var b strings.Builder
	for i, v := range values {
		if i > 0 {
			b.WriteString(valueSep)
		}
		b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	}
	return b.String()
}

// DecodeFloats parses a "," separated list of floats.
func DecodeFloats(s string) ([]float64, error) {
	if s == "" {
		return []float64{}, nil
	}
	parts := strings.Split(s, valueSep)
	out := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: float %q: %v", ErrMalformed, p, err)
		}
		out[i] = v
	}
	return out, nil
}

// EncodeFloatMatrix joins rows with ";" and values with ",".
func EncodeFloatMatrix(m [][]float64) string {
	rows := make([]string, len(m))
	for i, row := range m {
		rows[i] = EncodeFloats(row)
	}
	return strings.Join(rows, rowSep)
}

// DecodeFloatMatrix reverses EncodeFloatMatrix.
func DecodeFloatMatrix(s string) ([][]float64, error) {
	if s == "" {
		return [][]float64{}, nil
	}
	parts := strings.Split(s, rowSep)
	out := make([][]float64, len(parts))
	for i, p := range parts {
		row, err := DecodeFloats(p)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = row
	}
	return out, nil
}

// EncodeEdges writes edges as "source:t1,t2" joined by ";".
func EncodeEdges(edges []ast.Edge) string {
	parts := make([]string, len(edges))
	for i, e := range edges {
		parts[i] = strconv.Itoa(e.Source) + edgeSep + EncodeInts(e.Targets)
	}
	return strings.Join(parts, rowSep)
}

// DecodeEdges reverses EncodeEdges. Targets are never nil.
func DecodeEdges(s string) ([]ast.Edge, error) {
	if s == "" {
		return []ast.Edge{}, nil
	}
	parts := strings.Split(s, rowSep)
	out := make([]ast.Edge, len(parts))
	for i, p := range parts {
		src, targets, ok := strings.Cut(p, edgeSep)
		if !ok {
			return nil, fmt.Errorf("%w: edge %q has no %q", ErrMalformed, p, edgeSep)
		}
		source, err := strconv.Atoi(src)
		if err != nil {
			return nil, fmt.Errorf("%w: edge source %q: %v", ErrMalformed, src, err)
		}
		ts, err := DecodeInts(targets)
		if err != nil {
			return nil, fmt.Errorf("edge %d: %w", i, err)
		}
		out[i] = ast.Edge{Source: source, Targets: ts}
	}
	return out, nil
}

// EncodeTypePaths stores node type paths as a JSON array of string arrays.
func EncodeTypePaths(paths [][]string) (string, error) {
	if paths == nil {
		paths = [][]string{}
	}
	b, err := json.Marshal(paths)
	if err != nil {
		return "", fmt.Errorf("encode type paths: %w", err)
	}
	return string(b), nil
}

// DecodeTypePaths reverses EncodeTypePaths.
func DecodeTypePaths(s string) ([][]string, error) {
	var paths [][]string
	if err := json.Unmarshal([]byte(s), &paths); err != nil {
		return nil, fmt.Errorf("%w: type paths: %v", ErrMalformed, err)
	}
	return paths, nil
}

// IsTypePathJSON reports whether an lr_paths_types value still holds type
// names rather than vocabulary indices.
func IsTypePathJSON(s string) bool {
	return strings.HasPrefix(s, "[")
}
