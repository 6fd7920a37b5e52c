// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package reldist turns absolute position ids into clipped pairwise distance
// matrices.
package reldist

// DefaultMaxDistance is the clip applied when no other maximum is given.
const DefaultMaxDistance = 127

// PadDistance is the value batch padding uses. No real pair encodes to it.
const PadDistance = 0

// Encode returns the n×n matrix min(|pos[i]-pos[j]|+1, maxDistance).
//
// The +1 offset keeps every real entry at 1 or above so PadDistance stays
// unambiguous. A non-positive maxDistance selects DefaultMaxDistance.
func Encode(pos []int, maxDistance int) [][]int {
	if maxDistance <= 0 {
		maxDistance = DefaultMaxDistance
	}

	out := make([][]int, len(pos))
	for i := range pos {
		out[i] = make([]int, len(pos))
		for j := range pos {
			d := pos[i] - pos[j]
			if d < 0 {
				d = -d
			}
			out[i][j] = min(d+1, maxDistance)
		}
	}
	return out
}

// PositionIDs returns 0, 1, ..., n-1.
func PositionIDs(n int) []int {
	ids := make([]int, n)
	for i := range ids {
		ids[i] = i
	}
	return ids
}

// Max returns the largest entry of m, or 0 for an empty matrix.
func Max(m [][]int) int {
	best := 0
	for _, row := range m {
		for _, v := range row {
			best = max(best, v)
		}
	}
	return best
}
