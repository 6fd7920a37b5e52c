// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package collate

// padTo returns s extended on the right with pad up to n values.
func padTo[T any](s []T, n int, pad T) []T {
	out := make([]T, max(n, len(s)))
	copy(out, s)
	for i := len(s); i < len(out); i++ {
		out[i] = pad
	}
	return out
}

// padLeft returns s extended on the left with pad up to n values.
func padLeft[T any](s []T, n int, pad T) []T {
	if len(s) >= n {
		return append([]T(nil), s...)
	}
	out := make([]T, n)
	k := n - len(s)
	for i := 0; i < k; i++ {
		out[i] = pad
	}
	copy(out[k:], s)
	return out
}

// padRows pads the rows of m to its longest row, on the left when left is
// set and on the right otherwise.
func padRows[T any](m [][]T, pad T, left bool) [][]T {
	width := 0
	for _, row := range m {
		width = max(width, len(row))
	}
	out := make([][]T, len(m))
	for i, row := range m {
		if left {
			out[i] = padLeft(row, width, pad)
		} else {
			out[i] = padTo(row, width, pad)
		}
	}
	return out
}

// padMatrix pads m right and bottom to rows×cols.
func padMatrix[T any](m [][]T, rows, cols int, pad T) [][]T {
	out := make([][]T, rows)
	for i := range out {
		var row []T
		if i < len(m) {
			row = m[i]
		}
		out[i] = padTo(row, cols, pad)
	}
	return out
}

// pad1D pads one field of every example to the batch maximum.
func pad1D[T any](examples []*Example, field func(*Example) []T, pad T) [][]T {
	n := 0
	for _, e := range examples {
		n = max(n, len(field(e)))
	}
	out := make([][]T, len(examples))
	for i, e := range examples {
		out[i] = padTo(field(e), n, pad)
	}
	return out
}

// pad2D pads one matrix field of every example to the batch maximum rows
// and columns.
func pad2D[T any](examples []*Example, field func(*Example) [][]T, pad T) [][][]T {
	ms := make([][][]T, len(examples))
	rows, cols := 0, 0
	for i, e := range examples {
		ms[i] = field(e)
		rows = max(rows, len(ms[i]))
		for _, row := range ms[i] {
			cols = max(cols, len(row))
		}
	}
	out := make([][][]T, len(examples))
	for i, m := range ms {
		out[i] = padMatrix(m, rows, cols, pad)
	}
	return out
}
