// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package chunkstore persists feature rows as one parquet file per chunk.
//
// Files are named from_<start>.parquet, where start is the index of the
// first row of the chunk in the split. A file is written under a temporary
// name and renamed when complete, so a crashed write never leaves a file
// with the final name.
package chunkstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/parquet-go/parquet-go"

	"github.com/AleutianAI/structaware/services/structaware/attnmask"
)

// File naming.
const (
	FilePrefix = "from_"
	FileExt    = ".parquet"
)

// RowsPerRowGroup bounds parquet row groups so readers can stream large chunks.
const RowsPerRowGroup = 100

// ErrUnknownColumn indicates a mask column name Row has no field for.
var ErrUnknownColumn = errors.New("unknown chunk column")

// Row is one sample as stored. Every field holds the codec text form.
type Row struct {
	CodeTokens           string `parquet:"code_tokens"`
	CodeTokensPosIDs     string `parquet:"code_tokens_pos_ids"`
	CodeTokensRelPosIDs  string `parquet:"code_tokens_rel_pos_ids"`
	TextTokens           string `parquet:"text_tokens"`
	TextTokensRelPosIDs  string `parquet:"text_tokens_rel_pos_ids"`
	LRPathsTypes         string `parquet:"lr_paths_types"`
	LRPathsLen           string `parquet:"lr_paths_len"`
	LLSims               string `parquet:"ll_sims"`
	DFGNodeMask          string `parquet:"dfg_node_mask"`
	DFGEdges             string `parquet:"dfg_edges"`
	DFGNodeCodeTokenIdxs string `parquet:"dfg_node_code_token_idxs"`

	AttnCodeTokens string `parquet:"attn_code_tokens"`
	AttnAstLeaves  string `parquet:"attn_ast_leaves"`
	AttnDfgEdges   string `parquet:"attn_dfg_edges"`
	AttnCodeAst    string `parquet:"attn_code_ast"`
	AttnCodeDfg    string `parquet:"attn_code_dfg"`
}

// maskField returns the field holding the named attention column.
func (r *Row) maskField(column string) (*string, error) {
	switch column {
	case attnmask.ColCodeTokens:
		return &r.AttnCodeTokens, nil
	case attnmask.ColAstLeaves:
		return &r.AttnAstLeaves, nil
	case attnmask.ColDfgEdges:
		return &r.AttnDfgEdges, nil
	case attnmask.ColCodeAst:
		return &r.AttnCodeAst, nil
	case attnmask.ColCodeDfg:
		return &r.AttnCodeDfg, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownColumn, column)
}

// SetMask stores an encoded attention column by name.
func (r *Row) SetMask(column, value string) error {
	f, err := r.maskField(column)
	if err != nil {
		return err
	}
	*f = value
	return nil
}

// Mask returns an encoded attention column by name.
func (r *Row) Mask(column string) (string, error) {
	f, err := r.maskField(column)
	if err != nil {
		return "", err
	}
	return *f, nil
}

// StorageError reports a failed chunk read or write.
//
// The pipeline treats it as fatal for the whole run.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsStorageError checks if an error is or wraps a StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// FileName returns the chunk file name for a chunk starting at row start.
func FileName(start int) string {
	return FilePrefix + strconv.Itoa(start) + FileExt
}

// ParseStart extracts the start row from a chunk file name.
func ParseStart(name string) (int, bool) {
	name = filepath.Base(name)
	if !strings.HasPrefix(name, FilePrefix) || !strings.HasSuffix(name, FileExt) {
		return 0, false
	}
	start, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, FilePrefix), FileExt))
	if err != nil || start < 0 {
		return 0, false
	}
	return start, true
}

// Write stores rows at path, replacing any existing file.
//
// Outputs:
//
//	error - *StorageError on any failure. The final path is untouched then.
func Write(path string, rows []Row) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return &StorageError{Op: "mkdir", Path: filepath.Dir(path), Err: err}
	}

	tmp := path + ".tmp"
	if err := parquet.WriteFile(tmp, rows, parquet.MaxRowsPerRowGroup(RowsPerRowGroup)); err != nil {
		_ = os.Remove(tmp)
		return &StorageError{Op: "write", Path: path, Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return &StorageError{Op: "rename", Path: path, Err: err}
	}
	return nil
}

// Read loads every row of the chunk at path.
func Read(path string) ([]Row, error) {
	rows, err := parquet.ReadFile[Row](path)
	if err != nil {
		return nil, &StorageError{Op: "read", Path: path, Err: err}
	}
	return rows, nil
}

// List returns the chunk files in dir ordered by start row.
//
// A missing directory yields no files and no error.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &StorageError{Op: "list", Path: dir, Err: err}
	}

	type chunk struct {
		start int
		path  string
	}
	var chunks []chunk
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if start, ok := ParseStart(e.Name()); ok {
			chunks = append(chunks, chunk{start: start, path: filepath.Join(dir, e.Name())})
		}
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].start < chunks[j].start })

	paths := make([]string, len(chunks))
	for i, c := range chunks {
		paths[i] = c.path
	}
	return paths, nil
}

// Count returns the number of rows in the chunk at path without decoding
// them.
func Count(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, &StorageError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return 0, &StorageError{Op: "stat", Path: path, Err: err}
	}
	pf, err := parquet.OpenFile(f, st.Size())
	if err != nil {
		return 0, &StorageError{Op: "open", Path: path, Err: err}
	}
	return int(pf.NumRows()), nil
}

// Prune removes the chunk files in dir whose start row keep rejects, and
// every leftover ".tmp" file. A nil keep removes all chunks.
//
// Outputs:
//
//	[]int - Start rows of the removed chunk files, ascending.
//	error - *StorageError on the first failure.
func Prune(dir string, keep func(start int) bool) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &StorageError{Op: "list", Path: dir, Err: err}
	}

	var removed []int
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if strings.HasSuffix(e.Name(), ".tmp") {
			if err := os.Remove(path); err != nil {
				return nil, &StorageError{Op: "remove", Path: path, Err: err}
			}
			continue
		}
		start, ok := ParseStart(e.Name())
		if !ok || (keep != nil && keep(start)) {
			continue
		}
		if err := os.Remove(path); err != nil {
			return nil, &StorageError{Op: "remove", Path: path, Err: err}
		}
		removed = append(removed, start)
	}
	sort.Ints(removed)
	return removed, nil
}
