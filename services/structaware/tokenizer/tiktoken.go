// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tokenizer

import (
	"fmt"
	"sort"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the BPE encoding used when none is configured.
const DefaultEncoding = "cl100k_base"

// encodingInfo holds the ordinary vocabulary size and end-of-text id.
type encodingInfo struct {
	vocabSize int
	endOfText int
}

var encodings = map[string]encodingInfo{
	"cl100k_base": {vocabSize: 100256, endOfText: 100257},
	"o200k_base":  {vocabSize: 199998, endOfText: 199999},
	"p50k_base":   {vocabSize: 50280, endOfText: 50256},
	"r50k_base":   {vocabSize: 50257, endOfText: 50256},
}

// Encodings returns the supported encoding names, sorted.
func Encodings() []string {
	names := make([]string, 0, len(encodings))
	for name := range encodings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TiktokenOptions configures NewTiktoken.
type TiktokenOptions struct {
	// Encoding is the tiktoken encoding name. Empty means DefaultEncoding.
	Encoding string

	// BOSID and EOSID override the sequence markers. Nil means the
	// encoding's end-of-text id.
	BOSID *int
	EOSID *int
}

// Tiktoken adapts a tiktoken-go encoding to Tokenizer.
//
// Thread Safety: safe for concurrent use; the encoding is read-only.
type Tiktoken struct {
	enc   *tiktoken.Tiktoken
	info  encodingInfo
	name  string
	bosID int
	eosID int
}

// NewTiktoken loads a BPE encoding.
//
// The first load of an encoding may download its rank file; tiktoken-go
// caches it under TIKTOKEN_CACHE_DIR when that variable is set.
func NewTiktoken(opts TiktokenOptions) (*Tiktoken, error) {
	name := opts.Encoding
	if name == "" {
		name = DefaultEncoding
	}
	info, ok := encodings[name]
	if !ok {
		return nil, fmt.Errorf("unsupported encoding %q (supported: %v)", name, Encodings())
	}

	enc, err := tiktoken.GetEncoding(name)
	if err != nil {
		return nil, fmt.Errorf("load encoding %s: %w", name, err)
	}

	t := &Tiktoken{enc: enc, info: info, name: name, bosID: info.endOfText, eosID: info.endOfText}
	if opts.BOSID != nil {
		t.bosID = *opts.BOSID
	}
	if opts.EOSID != nil {
		t.eosID = *opts.EOSID
	}
	return t, nil
}

// Name returns the encoding name.
func (t *Tiktoken) Name() string { return t.name }

// Encode returns the token ids of text.
func (t *Tiktoken) Encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}

// Decode returns the text of a single token id.
func (t *Tiktoken) Decode(id int) string {
	return t.enc.Decode([]int{id})
}

// BOSID returns the begin-of-sequence id.
func (t *Tiktoken) BOSID() int { return t.bosID }

// EOSID returns the end-of-sequence id.
func (t *Tiktoken) EOSID() int { return t.eosID }

// VocabSize returns the number of ordinary token ids.
func (t *Tiktoken) VocabSize() int { return t.info.vocabSize }
