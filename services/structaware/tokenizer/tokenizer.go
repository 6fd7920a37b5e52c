// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tokenizer wraps the sub-word tokenizer used for code and doc text.
package tokenizer

import (
	"fmt"
	"unicode/utf8"

	"github.com/AleutianAI/structaware/services/structaware/ast"
)

// Tokenizer is the sub-word tokenizer contract the pipeline consumes.
//
// Thread Safety: implementations must be safe for concurrent use.
type Tokenizer interface {
	// Encode returns the token ids of text. Special-token markup in text is
	// treated as ordinary characters.
	Encode(text string) []int

	// Decode returns the text of a single token id.
	Decode(id int) string

	// BOSID and EOSID are the ids prepended and appended to every sequence.
	BOSID() int
	EOSID() int

	// VocabSize is the number of ordinary token ids, [0, VocabSize).
	VocabSize() int
}

// Charset returns every character that some token decodes to on its own.
//
// Tokens that decode to an invalid byte sequence are skipped, so the set
// never contains utf8.RuneError. The pipeline drops code characters outside
// this set before parsing.
func Charset(t Tokenizer) map[rune]struct{} {
	chars := make(map[rune]struct{})
	for id := 0; id < t.VocabSize(); id++ {
		s := t.Decode(id)
		if utf8.RuneCountInString(s) != 1 {
			continue
		}
		r, _ := utf8.DecodeRuneInString(s)
		if r == utf8.RuneError {
			continue
		}
		chars[r] = struct{}{}
	}
	return chars
}

// EncodeLeaves tokenizes code leaf by leaf and records each leaf's span.
//
// Description:
//
//	The text between the end of the previous leaf and the end of the current
//	leaf (leading whitespace included) is encoded on its own, so every token
//	belongs to exactly one leaf. Text after the last leaf is dropped.
//
// Inputs:
//
//	t      - Tokenizer.
//	code   - The source the leaves were parsed from.
//	leaves - Leaves in source order with byte offsets into code.
//
// Outputs:
//
//	[]int   - Code token ids, without BOS/EOS.
//	[][]int - Token positions of every leaf, starting at 0.
//	error   - Wraps ast.ErrStructuralMismatch when leaf offsets are out of
//	          order or outside code.
func EncodeLeaves(t Tokenizer, code string, leaves []ast.Leaf) ([]int, [][]int, error) {
	tokens := make([]int, 0, len(leaves))
	spans := make([][]int, len(leaves))

	prev := 0
	for i, leaf := range leaves {
		if leaf.StartByte < prev || leaf.EndByte < leaf.StartByte || leaf.EndByte > len(code) {
			return nil, nil, fmt.Errorf("%w: leaf %d bytes [%d,%d) after %d in %d-byte code",
				ast.ErrStructuralMismatch, i, leaf.StartByte, leaf.EndByte, prev, len(code))
		}
		ids := t.Encode(code[prev:leaf.EndByte])
		span := make([]int, len(ids))
		for j := range ids {
			span[j] = len(tokens) + j
		}
		tokens = append(tokens, ids...)
		spans[i] = span
		prev = leaf.EndByte
	}
	return tokens, spans, nil
}
