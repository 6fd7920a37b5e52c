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
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/structaware/services/structaware/ast"
	"github.com/AleutianAI/structaware/services/structaware/attnmask"
	"github.com/AleutianAI/structaware/services/structaware/chunkstore"
	"github.com/AleutianAI/structaware/services/structaware/codec"
	"github.com/AleutianAI/structaware/services/structaware/manifest"
	"github.com/AleutianAI/structaware/services/structaware/source"
)

func testSamples() []source.Sample {
	return []source.Sample{
		{Doc: "Add two numbers.", Code: "def add(a, b):\n    \"\"\"Add.\"\"\"\n    return a + b\n"},
		{Doc: "Copy.", Code: "x = 1\ny = x\n"},
		{Doc: "Broken.", Code: "def broken(:\n"},
		{Doc: "Nothing.", Code: "pass\n"},
		{Doc: "Loop.", Code: "for i in range(3):\n    print(i)\n"},
	}
}

func newTestPipeline(t *testing.T, opts Options, store *manifest.Store) *Pipeline {
	t.Helper()
	if opts.OutputDir == "" {
		opts.OutputDir = t.TempDir()
	}
	p, err := New(opts, Deps{
		Frontend:  ast.NewPythonFrontend(),
		Tokenizer: byteTokenizer{},
		Assembler: attnmask.Completion{},
		Manifest:  store,
	})
	require.NoError(t, err)
	return p
}

func readRows(t *testing.T, p *Pipeline, split string) []chunkstore.Row {
	t.Helper()
	paths, err := chunkstore.List(p.SplitDir(split))
	require.NoError(t, err)
	var rows []chunkstore.Row
	for _, path := range paths {
		r, err := chunkstore.Read(path)
		require.NoError(t, err)
		rows = append(rows, r...)
	}
	return rows
}

// TestRunWritesChunks verifies chunking, skip counting and stored columns.
func TestRunWritesChunks(t *testing.T) {
	p := newTestPipeline(t, Options{ChunkRows: 2, Workers: 2}, nil)

	report, err := p.Run(context.Background(), "train", source.NewSliceReader(testSamples()))
	require.NoError(t, err)

	assert.Equal(t, 3, report.Chunks)
	assert.Equal(t, 4, report.Result.Rows)
	assert.Equal(t, 1, report.Result.SkippedParse)
	assert.Equal(t, 0, report.Result.SkippedStructural)
	assert.Contains(t, report.Result.Types, "module")
	assert.Contains(t, report.Result.Types, ast.StartASTType)
	assert.Greater(t, report.Result.MaxRelDistance, 1)

	paths, err := chunkstore.List(p.SplitDir("train"))
	require.NoError(t, err)
	require.Len(t, paths, 3)
	assert.Equal(t, "from_4.parquet", filepath.Base(paths[2]))

	rows := readRows(t, p, "train")
	require.Len(t, rows, 4)

	// "x = 1\ny = x": one edge from the first x to the last.
	copyRow := rows[1]
	assert.Equal(t, "0,1,1,2", copyRow.DFGNodeMask)
	assert.Equal(t, "1:2", copyRow.DFGEdges)

	tokens, err := codec.DecodeInts(copyRow.CodeTokens)
	require.NoError(t, err)
	assert.Equal(t, 1, tokens[0])
	assert.Equal(t, 2, tokens[len(tokens)-1])

	// "pass" has no data flow.
	assert.Equal(t, "0,2", rows[2].DFGNodeMask)
	assert.Equal(t, "", rows[2].DFGEdges)

	for _, row := range rows {
		assert.True(t, codec.IsTypePathJSON(row.LRPathsTypes))
		for _, col := range attnmask.Columns() {
			v, err := row.Mask(col)
			require.NoError(t, err)
			assert.NotEmpty(t, v, col)
		}
	}
}

// TestRunDropEmptyDFG verifies samples without edges can be dropped.
func TestRunDropEmptyDFG(t *testing.T) {
	p := newTestPipeline(t, Options{DropEmptyDFG: true}, nil)

	report, err := p.Run(context.Background(), "train", source.NewSliceReader(testSamples()))
	require.NoError(t, err)

	assert.Equal(t, 1, report.Chunks)
	assert.Equal(t, 1, report.Result.SkippedEmptyDFG)
	assert.Equal(t, 3, report.Result.Rows)
}

// brokenFrontend adds an edge to a leaf that does not exist.
type brokenFrontend struct {
	*ast.PythonFrontend
}

func (b brokenFrontend) Build(ctx context.Context, code string) (*ast.Structure, error) {
	s, err := b.PythonFrontend.Build(ctx, code)
	if err != nil {
		return nil, err
	}
	s.Edges = append(s.Edges, ast.Edge{Source: 0, Targets: []int{len(s.Leaves) + 3}})
	return s, nil
}

// TestRunSkipsStructuralMismatch verifies dangling edges skip the sample.
func TestRunSkipsStructuralMismatch(t *testing.T) {
	p, err := New(Options{OutputDir: t.TempDir()}, Deps{
		Frontend:  brokenFrontend{ast.NewPythonFrontend()},
		Tokenizer: byteTokenizer{},
		Assembler: attnmask.Completion{},
	})
	require.NoError(t, err)

	report, err := p.Run(context.Background(), "train", source.NewSliceReader(testSamples()))
	require.NoError(t, err)

	assert.Equal(t, 0, report.Result.Rows)
	assert.Equal(t, 1, report.Result.SkippedParse)
	assert.Equal(t, 4, report.Result.SkippedStructural)
}

// failingReader returns an error after its samples run out.
type failingReader struct {
	inner source.Reader
}

func (f failingReader) Next() (source.Sample, bool, error) {
	s, ok, err := f.inner.Next()
	if !ok && err == nil {
		return source.Sample{}, false, errors.New("disk on fire")
	}
	return s, ok, err
}

func (f failingReader) Close() error { return nil }

// TestRunSourceError verifies a source failure fails the run.
func TestRunSourceError(t *testing.T) {
	p := newTestPipeline(t, Options{ChunkRows: 2}, nil)

	_, err := p.Run(context.Background(), "train", failingReader{inner: source.NewSliceReader(testSamples()[:1])})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk on fire")
}

// TestRunCanceled verifies cancellation aborts the run.
func TestRunCanceled(t *testing.T) {
	p := newTestPipeline(t, Options{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Run(ctx, "train", source.NewSliceReader(testSamples()))
	assert.ErrorIs(t, err, context.Canceled)
}

// TestRunResume verifies recorded chunks are reused instead of rebuilt.
func TestRunResume(t *testing.T) {
	store, err := manifest.OpenInMemory()
	require.NoError(t, err)
	defer store.Close()

	dir := t.TempDir()
	first := newTestPipeline(t, Options{OutputDir: dir, ChunkRows: 2}, store)
	want, err := first.Run(context.Background(), "train", source.NewSliceReader(testSamples()))
	require.NoError(t, err)

	chunks, err := store.ListChunks(context.Background(), "train")
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, first.RunID(), chunks[0].RunID)

	second := newTestPipeline(t, Options{OutputDir: dir, ChunkRows: 2, Resume: true}, store)
	got, err := second.Run(context.Background(), "train", source.NewSliceReader(testSamples()))
	require.NoError(t, err)

	assert.Equal(t, 3, got.ChunksResumed)
	assert.Equal(t, want.Result, got.Result)
}

// TestRunReplacesPreviousOutput verifies a fresh run into a used output
// directory drops the earlier chunks and manifest records, so indexing sees
// only the new rows.
func TestRunReplacesPreviousOutput(t *testing.T) {
	store, err := manifest.OpenInMemory()
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	dir := t.TempDir()
	first := newTestPipeline(t, Options{OutputDir: dir, ChunkRows: 2}, store)
	report, err := first.Run(ctx, "train", source.NewSliceReader(testSamples()))
	require.NoError(t, err)
	_, err = first.IndexNodeTypes(ctx, report.Result, "train")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(first.SplitDir("train"), chunkstore.FileName(6)+".tmp"), []byte("partial"), 0640))

	second := newTestPipeline(t, Options{OutputDir: dir, ChunkRows: 2}, store)
	report, err = second.Run(ctx, "train", source.NewSliceReader(testSamples()[1:2]))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Result.Rows)

	paths, err := chunkstore.List(second.SplitDir("train"))
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(second.SplitDir("train"), chunkstore.FileName(0))}, paths)
	assert.NoFileExists(t, filepath.Join(second.SplitDir("train"), chunkstore.FileName(6)+".tmp"))

	chunks, err := store.ListChunks(ctx, "train")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, second.RunID(), chunks[0].RunID)

	md, err := second.IndexNodeTypes(ctx, report.Result, "train")
	require.NoError(t, err)
	rows := readRows(t, second, "train")
	require.Len(t, rows, 1)
	ids, err := codec.DecodeIntMatrix(rows[0].LRPathsTypes)
	require.NoError(t, err)
	for _, path := range ids {
		for _, id := range path {
			assert.Less(t, id, md.NumASTNodeTypes)
		}
	}
}

// TestRunResumeWithDifferentChunkRows verifies a resumed run never stores a
// sample twice when the chunk size changed since the recorded run.
func TestRunResumeWithDifferentChunkRows(t *testing.T) {
	cases := []struct {
		name        string
		before      int
		after       int
		wantResumed int
		wantStarts  []int
		wantSamples []int
	}{
		{name: "smaller", before: 4, after: 2, wantResumed: 1, wantStarts: []int{0, 2, 4}, wantSamples: []int{2, 2, 1}},
		{name: "larger", before: 2, after: 4, wantResumed: 1, wantStarts: []int{0, 4}, wantSamples: []int{4, 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store, err := manifest.OpenInMemory()
			require.NoError(t, err)
			defer store.Close()
			ctx := context.Background()

			dir := t.TempDir()
			first := newTestPipeline(t, Options{OutputDir: dir, ChunkRows: tc.before}, store)
			_, err = first.Run(ctx, "train", source.NewSliceReader(testSamples()))
			require.NoError(t, err)

			second := newTestPipeline(t, Options{OutputDir: dir, ChunkRows: tc.after, Resume: true}, store)
			report, err := second.Run(ctx, "train", source.NewSliceReader(testSamples()))
			require.NoError(t, err)

			assert.Equal(t, tc.wantResumed, report.ChunksResumed)
			assert.Equal(t, 4, report.Result.Rows)
			assert.Equal(t, 1, report.Result.SkippedParse)
			assert.Len(t, readRows(t, second, "train"), 4)

			paths, err := chunkstore.List(second.SplitDir("train"))
			require.NoError(t, err)
			var starts []int
			for _, path := range paths {
				start, ok := chunkstore.ParseStart(path)
				require.True(t, ok)
				starts = append(starts, start)
			}
			assert.Equal(t, tc.wantStarts, starts)

			chunks, err := store.ListChunks(ctx, "train")
			require.NoError(t, err)
			require.Len(t, chunks, len(tc.wantStarts))
			for i, c := range chunks {
				assert.Equal(t, tc.wantStarts[i], c.Start)
				assert.Equal(t, tc.wantSamples[i], c.Samples)
			}
		})
	}
}

// TestIndexAndReduce verifies the post passes over stored chunks.
func TestIndexAndReduce(t *testing.T) {
	store, err := manifest.OpenInMemory()
	require.NoError(t, err)
	defer store.Close()

	p := newTestPipeline(t, Options{ChunkRows: 2}, store)
	ctx := context.Background()

	report, err := p.Run(ctx, "train", source.NewSliceReader(testSamples()))
	require.NoError(t, err)
	before := readRows(t, p, "train")

	scanned, err := p.ScanResult(ctx, "train")
	require.NoError(t, err)
	assert.Equal(t, report.Result.Vocabulary(), scanned.Vocabulary())
	assert.Equal(t, report.Result.MaxRelDistance, scanned.MaxRelDistance)

	md, err := p.IndexNodeTypes(ctx, report.Result, "train")
	require.NoError(t, err)
	assert.Equal(t, report.Result.Vocabulary(), md.ASTNodeTypes)
	assert.Equal(t, len(md.ASTNodeTypes), md.NumASTNodeTypes)
	assert.Equal(t, codec.Version, md.EncodingVersion)
	assert.Equal(t, attnmask.CompletionName, md.Assembler)

	stored, err := ReadMetadata(p.opts.OutputDir)
	require.NoError(t, err)
	assert.Equal(t, md, stored)

	after := readRows(t, p, "train")
	maxDepth := 0
	for i, row := range after {
		assert.False(t, codec.IsTypePathJSON(row.LRPathsTypes))
		ids, err := codec.DecodeIntMatrix(row.LRPathsTypes)
		require.NoError(t, err)
		names, err := codec.DecodeTypePaths(before[i].LRPathsTypes)
		require.NoError(t, err)
		require.Len(t, ids, len(names))
		for j := range ids {
			for k := range ids[j] {
				assert.Equal(t, names[j][k], md.ASTNodeTypes[ids[j][k]])
			}
			maxDepth = max(maxDepth, len(ids[j]))
		}
	}
	assert.Equal(t, maxDepth, md.MaxASTDepth)

	_, err = p.ScanResult(ctx, "train")
	assert.ErrorIs(t, err, ErrAlreadyIndexed)

	// Indexing twice keeps the indices.
	_, err = p.IndexNodeTypes(ctx, report.Result, "train")
	require.NoError(t, err)
	assert.Equal(t, after, readRows(t, p, "train"))

	require.NoError(t, p.ReduceSimilarities(ctx, "train"))
	reduced := readRows(t, p, "train")
	for i, row := range reduced {
		lengths, err := codec.DecodeInts(row.LRPathsLen)
		require.NoError(t, err)
		tri, err := codec.DecodeFloatMatrix(row.LLSims)
		require.NoError(t, err)
		full, err := codec.FromUpperTriangle(tri, len(lengths))
		require.NoError(t, err)
		orig, err := codec.DecodeFloatMatrix(before[i].LLSims)
		require.NoError(t, err)
		assert.Equal(t, orig, full)
	}

	require.NoError(t, p.ReduceSimilarities(ctx, "train"))
	assert.Equal(t, reduced, readRows(t, p, "train"))

	chunks, err := store.ListChunks(ctx, "train")
	require.NoError(t, err)
	for _, c := range chunks {
		assert.True(t, c.TypesIndexed)
		assert.True(t, c.Reduced)
	}
}

// TestIndexNodeTypesIncompleteVocabulary verifies unknown types are reported.
func TestIndexNodeTypesIncompleteVocabulary(t *testing.T) {
	p := newTestPipeline(t, Options{}, nil)
	ctx := context.Background()

	_, err := p.Run(ctx, "train", source.NewSliceReader(testSamples()))
	require.NoError(t, err)

	partial := ChunkResult{Types: map[string]struct{}{"module": {}}}
	_, err = p.IndexNodeTypes(ctx, partial, "train")
	assert.ErrorIs(t, err, ErrVocabularyIncomplete)
}

// TestIndexNodeTypesStaleIndex verifies rows indexed against another
// vocabulary are reported instead of kept.
func TestIndexNodeTypesStaleIndex(t *testing.T) {
	p := newTestPipeline(t, Options{}, nil)
	ctx := context.Background()

	report, err := p.Run(ctx, "train", source.NewSliceReader(testSamples()))
	require.NoError(t, err)
	_, err = p.IndexNodeTypes(ctx, report.Result, "train")
	require.NoError(t, err)

	grown := Fold(report.Result, ChunkResult{Types: map[string]struct{}{"zz_new_type": {}}})
	_, err = p.IndexNodeTypes(ctx, grown, "train")
	assert.ErrorIs(t, err, ErrStaleIndex)

	require.NoError(t, os.Remove(filepath.Join(p.opts.OutputDir, MetadataFile)))
	_, err = p.IndexNodeTypes(ctx, report.Result, "train")
	assert.ErrorIs(t, err, ErrStaleIndex)
}

// TestReduceUsesStoredMaxLeaves verifies the reduction follows the cap the
// chunks were built with, not the current options.
func TestReduceUsesStoredMaxLeaves(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	built := newTestPipeline(t, Options{OutputDir: dir, MaxLeaves: 3}, nil)
	report, err := built.Run(ctx, "train", source.NewSliceReader(testSamples()))
	require.NoError(t, err)
	_, err = built.IndexNodeTypes(ctx, report.Result, "train")
	require.NoError(t, err)
	before := readRows(t, built, "train")

	later := newTestPipeline(t, Options{OutputDir: dir}, nil)
	require.NoError(t, later.ReduceSimilarities(ctx, "train"))

	for i, row := range readRows(t, later, "train") {
		lengths, err := codec.DecodeInts(row.LRPathsLen)
		require.NoError(t, err)
		tri, err := codec.DecodeFloatMatrix(row.LLSims)
		require.NoError(t, err)
		full, err := codec.FromUpperTriangle(tri, min(len(lengths), 3))
		require.NoError(t, err)
		orig, err := codec.DecodeFloatMatrix(before[i].LLSims)
		require.NoError(t, err)
		assert.Equal(t, orig, full)
	}
}

// TestReduceRequiresMetadata verifies reduction refuses unindexed output.
func TestReduceRequiresMetadata(t *testing.T) {
	p := newTestPipeline(t, Options{}, nil)
	ctx := context.Background()

	_, err := p.Run(ctx, "train", source.NewSliceReader(testSamples()))
	require.NoError(t, err)
	err = p.ReduceSimilarities(ctx, "train")
	require.Error(t, err)
	assert.True(t, IsStorageError(err))
}

// TestNewValidates verifies required options and collaborators.
func TestNewValidates(t *testing.T) {
	_, err := New(Options{}, Deps{})
	assert.Error(t, err)

	_, err = New(Options{OutputDir: t.TempDir()}, Deps{Tokenizer: byteTokenizer{}})
	assert.Error(t, err)

	p := newTestPipeline(t, Options{}, nil)
	assert.NotEmpty(t, p.RunID())
	assert.Equal(t, DefaultChunkRows, p.opts.ChunkRows)
	assert.Equal(t, 1, p.opts.Workers)
}
