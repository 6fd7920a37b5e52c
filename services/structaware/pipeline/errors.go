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
	"errors"

	"github.com/AleutianAI/structaware/services/structaware/ast"
	"github.com/AleutianAI/structaware/services/structaware/chunkstore"
)

// Failure taxonomy of a pipeline run.
//
// A *ast.ParseError while stripping or parsing skips the sample and counts
// it. ErrStructuralMismatch skips the sample with a diagnostic log. A
// *StorageError aborts the run.
var (
	// ErrStructuralMismatch indicates derived structures that disagree, such
	// as an edge naming a leaf that does not exist.
	ErrStructuralMismatch = ast.ErrStructuralMismatch

	// ErrVocabularyIncomplete indicates a stored node type missing from the
	// vocabulary passed to IndexNodeTypes.
	ErrVocabularyIncomplete = errors.New("node type missing from vocabulary")

	// ErrAlreadyIndexed indicates a chunk whose node types were already
	// replaced by indices, so its type names cannot be recovered.
	ErrAlreadyIndexed = errors.New("chunk node types already indexed")

	// ErrStaleIndex is returned when a chunk holds node type indices from a
	// vocabulary other than the one being written.
	ErrStaleIndex = errors.New("chunk indexed against a different vocabulary")
)

// StorageError reports a failed chunk or metadata read or write.
type StorageError = chunkstore.StorageError

// IsStorageError checks if an error is or wraps a StorageError.
func IsStorageError(err error) bool {
	return chunkstore.IsStorageError(err)
}

// skipReason classifies a per-sample error. The empty string means the
// error is not a per-sample failure and must abort the run.
func skipReason(err error) string {
	switch {
	case ast.IsParseError(err), errors.Is(err, ast.ErrInvalidContent):
		return outcomeParse
	case errors.Is(err, ErrStructuralMismatch):
		return outcomeStructural
	}
	return ""
}
