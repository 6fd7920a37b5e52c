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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// MetadataFile is the name of the global metadata artifact in OutputDir.
const MetadataFile = "metadata.json"

// Metadata is the global state every consumer of the chunks needs.
type Metadata struct {
	// NumASTNodeTypes is len(ASTNodeTypes). It is also the reserved id used
	// to pad node type paths in a batch.
	NumASTNodeTypes int `json:"num_ast_node_types"`

	// ASTNodeTypes is the sorted vocabulary; a type's index is its position.
	ASTNodeTypes []string `json:"ast_node_types"`

	MaxRelDistance int `json:"max_rel_distance"`
	MaxASTDepth    int `json:"max_ast_depth"`

	// MaxLeaves is the similarity matrix cap the chunks were built with.
	MaxLeaves int `json:"max_leaves"`

	EncodingVersion int      `json:"encoding_version"`
	Assembler       string   `json:"assembler"`
	Splits          []string `json:"splits"`
	RunID           string   `json:"run_id"`
}

// WriteMetadata stores md as dir/metadata.json.
func WriteMetadata(dir string, md *Metadata) error {
	path := filepath.Join(dir, MetadataFile)
	b, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if err := os.WriteFile(path, append(b, '\n'), 0640); err != nil {
		return &StorageError{Op: "write", Path: path, Err: err}
	}
	return nil
}

// ReadMetadata loads dir/metadata.json.
func ReadMetadata(dir string) (*Metadata, error) {
	path := filepath.Join(dir, MetadataFile)
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, &StorageError{Op: "read", Path: path, Err: err}
	}
	var md Metadata
	if err := json.Unmarshal(b, &md); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &md, nil
}
