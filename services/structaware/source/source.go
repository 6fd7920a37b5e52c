// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package source streams doc/code samples of a dataset split.
//
// A split is a directory <dir>/<split>/ holding JSON Lines files, plain
// (.jsonl) or gzip compressed (.jsonl.gz), as in the CodeSearchNet dumps.
// Files are read in name order, lines in file order.
package source

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Default field names of the CodeSearchNet layout.
const (
	DefaultDocField  = "func_documentation_string"
	DefaultCodeField = "func_code_string"
)

// ErrNoFiles indicates a split directory without any JSON Lines file.
var ErrNoFiles = errors.New("no jsonl files in split")

// Sample is one doc/code pair.
type Sample struct {
	// Index is the position of the sample in the split, counting from 0.
	Index int
	Doc   string
	Code  string
}

// Reader streams samples.
type Reader interface {
	// Next returns the next sample. ok=false means the split is exhausted.
	Next() (sample Sample, ok bool, err error)

	// Close releases open files.
	Close() error
}

// Options configures Open.
type Options struct {
	// Dir is the dataset root; splits are its subdirectories.
	Dir string

	// DocField and CodeField name the JSON fields. Empty means the defaults.
	DocField  string
	CodeField string

	// MaxSamples stops the reader after that many samples. 0 means no limit.
	// See Subsample for a random subset instead of the first N.
	MaxSamples int
}

// JSONLReader reads the JSON Lines files of one split in sequence.
//
// Thread Safety: not safe for concurrent use.
type JSONLReader struct {
	files     []string
	next      int
	rc        io.ReadCloser
	br        *bufio.Reader
	docField  string
	codeField string
	limit     int
	count     int
	file      string
	lineNo    int
}

// Open lists the files of split and returns a reader positioned before the
// first sample.
func Open(opts Options, split string) (*JSONLReader, error) {
	dir := filepath.Join(opts.Dir, split)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read split %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		name := strings.ToLower(e.Name())
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(name, ".jsonl") || strings.HasSuffix(name, ".jsonl.gz") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoFiles, dir)
	}
	sort.Strings(files)

	r := &JSONLReader{
		files:     files,
		docField:  opts.DocField,
		codeField: opts.CodeField,
		limit:     opts.MaxSamples,
	}
	if r.docField == "" {
		r.docField = DefaultDocField
	}
	if r.codeField == "" {
		r.codeField = DefaultCodeField
	}
	return r, nil
}

// Next returns the next sample across all files of the split.
func (r *JSONLReader) Next() (Sample, bool, error) {
	if r.limit > 0 && r.count >= r.limit {
		return Sample{}, false, nil
	}

	for {
		if r.br == nil {
			if r.next >= len(r.files) {
				return Sample{}, false, nil
			}
			if err := r.openNext(); err != nil {
				return Sample{}, false, err
			}
		}

		line, err := r.readLine()
		if errors.Is(err, io.EOF) {
			if cerr := r.closeCurrent(); cerr != nil {
				return Sample{}, false, cerr
			}
			continue
		}
		if err != nil {
			return Sample{}, false, fmt.Errorf("%s:%d: %w", r.file, r.lineNo, err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		s, err := r.decode(line)
		if err != nil {
			return Sample{}, false, fmt.Errorf("%s:%d: %w", r.file, r.lineNo, err)
		}
		s.Index = r.count
		r.count++
		return s, true, nil
	}
}

// ReadAll loads every remaining sample into memory.
func (r *JSONLReader) ReadAll() ([]Sample, error) {
	var out []Sample
	for {
		s, ok, err := r.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, s)
	}
}

// Close releases the file currently open, if any.
func (r *JSONLReader) Close() error {
	return r.closeCurrent()
}

func (r *JSONLReader) decode(line string) (Sample, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(line), &fields); err != nil {
		return Sample{}, fmt.Errorf("decode sample: %w", err)
	}
	var s Sample
	if err := stringField(fields, r.docField, &s.Doc); err != nil {
		return Sample{}, err
	}
	if err := stringField(fields, r.codeField, &s.Code); err != nil {
		return Sample{}, err
	}
	return s, nil
}

func stringField(fields map[string]json.RawMessage, name string, dst *string) error {
	raw, ok := fields[name]
	if !ok {
		return fmt.Errorf("missing field %q", name)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("field %q: %w", name, err)
	}
	return nil
}

func (r *JSONLReader) openNext() error {
	path := r.files[r.next]
	r.next++

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	var rc io.ReadCloser = f
	if strings.EqualFold(filepath.Ext(path), ".gz") {
		gzr, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return fmt.Errorf("gzip %s: %w", path, err)
		}
		rc = compositeCloser{r: gzr, c: f}
	}

	r.rc = rc
	r.br = bufio.NewReader(rc)
	r.file = path
	r.lineNo = 0
	return nil
}

func (r *JSONLReader) closeCurrent() error {
	if r.rc == nil {
		return nil
	}
	err := r.rc.Close()
	r.rc = nil
	r.br = nil
	return err
}

func (r *JSONLReader) readLine() (string, error) {
	var b []byte
	for {
		chunk, isPrefix, err := r.br.ReadLine()
		if err != nil {
			return "", err
		}
		b = append(b, chunk...)
		if !isPrefix {
			break
		}
	}
	r.lineNo++
	return string(b), nil
}

type compositeCloser struct {
	r io.ReadCloser
	c io.Closer
}

func (cc compositeCloser) Read(p []byte) (int, error) { return cc.r.Read(p) }
func (cc compositeCloser) Close() error {
	_ = cc.r.Close()
	return cc.c.Close()
}

// SliceReader serves samples from memory.
type SliceReader struct {
	samples []Sample
	pos     int
}

// NewSliceReader returns a Reader over samples, renumbering their Index.
func NewSliceReader(samples []Sample) *SliceReader {
	out := make([]Sample, len(samples))
	for i, s := range samples {
		s.Index = i
		out[i] = s
	}
	return &SliceReader{samples: out}
}

// Next returns the next sample.
func (r *SliceReader) Next() (Sample, bool, error) {
	if r.pos >= len(r.samples) {
		return Sample{}, false, nil
	}
	s := r.samples[r.pos]
	r.pos++
	return s, true, nil
}

// Close is a no-op.
func (r *SliceReader) Close() error { return nil }

// Subsample reads r to the end and keeps a uniform random subset of n
// samples, drawn by reservoir sampling from seed. The subset is served in
// split order with the original Index values. n <= 0 keeps every sample.
//
// Only n samples are held in memory at a time.
func Subsample(r Reader, n int, seed uint64) (*SliceReader, error) {
	rng := rand.New(rand.NewPCG(seed, seed))
	var picked []Sample
	seen := 0
	for {
		s, ok, err := r.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		seen++
		switch {
		case n <= 0 || len(picked) < n:
			picked = append(picked, s)
		default:
			if j := rng.IntN(seen); j < n {
				picked[j] = s
			}
		}
	}
	sort.Slice(picked, func(i, j int) bool { return picked[i].Index < picked[j].Index })
	return &SliceReader{samples: picked}, nil
}
