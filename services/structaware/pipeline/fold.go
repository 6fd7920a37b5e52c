// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"maps"
	"slices"
)

// ChunkResult is what one chunk contributes to the global state.
//
// Chunks never read each other's results; Fold merges them once all chunks
// are done.
type ChunkResult struct {
	// Types is the set of node types seen in the chunk.
	Types map[string]struct{}

	// MaxRelDistance is the largest code-token relative distance.
	MaxRelDistance int

	Rows              int
	SkippedParse      int
	SkippedStructural int
	SkippedEmptyDFG   int
}

// Skipped returns the number of samples dropped for any reason.
func (r ChunkResult) Skipped() int {
	return r.SkippedParse + r.SkippedStructural + r.SkippedEmptyDFG
}

// Vocabulary returns the node types sorted, which fixes their indices.
func (r ChunkResult) Vocabulary() []string {
	return slices.Sorted(maps.Keys(r.Types))
}

// Fold merges chunk results. It is commutative and associative, and the
// inputs are not modified.
func Fold(results ...ChunkResult) ChunkResult {
	out := ChunkResult{Types: make(map[string]struct{})}
	for _, r := range results {
		for t := range r.Types {
			out.Types[t] = struct{}{}
		}
		out.MaxRelDistance = max(out.MaxRelDistance, r.MaxRelDistance)
		out.Rows += r.Rows
		out.SkippedParse += r.SkippedParse
		out.SkippedStructural += r.SkippedStructural
		out.SkippedEmptyDFG += r.SkippedEmptyDFG
	}
	return out
}
