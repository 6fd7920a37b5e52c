// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package codec

import (
	"fmt"

	"github.com/AleutianAI/structaware/services/structaware/ast"
)

// UpperTriangle keeps, for every row but the last, the entries right of the
// diagonal. An n×n matrix becomes n-1 rows of lengths n-1, n-2, ..., 1.
//
// The diagonal (always 1) and the lower half (mirror of the upper) carry no
// information for a similarity matrix.
func UpperTriangle(m [][]float64) [][]float64 {
	if len(m) == 0 {
		return [][]float64{}
	}
	out := make([][]float64, len(m)-1)
	for i := range out {
		out[i] = append([]float64(nil), m[i][i+1:]...)
	}
	return out
}

// FromUpperTriangle rebuilds the symmetric n×n unit-diagonal matrix.
//
// Inputs:
//
//	u - Rows as produced by UpperTriangle.
//	n - Side of the original matrix. Needed because n=0 and n=1 both reduce
//	    to zero rows.
//
// Outputs:
//
//	[][]float64 - The full matrix.
//	error       - Wraps ast.ErrStructuralMismatch when u does not have the
//	              triangular shape for n.
func FromUpperTriangle(u [][]float64, n int) ([][]float64, error) {
	if n < 0 || len(u) != max(n-1, 0) {
		return nil, fmt.Errorf("%w: %d triangle rows for side %d", ast.ErrStructuralMismatch, len(u), n)
	}
	m := make([][]float64, n)
	for i := range m {
		m[i] = make([]float64, n)
		m[i][i] = 1
	}
	for i, row := range u {
		if len(row) != n-1-i {
			return nil, fmt.Errorf("%w: triangle row %d has %d values, want %d", ast.ErrStructuralMismatch, i, len(row), n-1-i)
		}
		for k, v := range row {
			j := i + 1 + k
			m[i][j] = v
			m[j][i] = v
		}
	}
	return m, nil
}

// IsReduced reports whether a decoded similarity matrix is in upper-triangle
// form for a matrix side of n.
func IsReduced(m [][]float64, n int) bool {
	if n <= 1 {
		return len(m) == 0 && n == 1
	}
	return len(m) == n-1 && len(m[0]) == n-1 && len(m[len(m)-1]) == 1
}
