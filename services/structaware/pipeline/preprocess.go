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
	"strings"

	"github.com/AleutianAI/structaware/services/structaware/ast"
)

// Preprocessor normalizes a raw sample before parsing.
//
// Code is trimmed, "▁" becomes "_", CRLF becomes LF, characters the
// tokenizer cannot emit on their own are dropped, then comments and
// docstrings are stripped. Doc text is only trimmed.
//
// Thread Safety: safe for concurrent use when the Stripper is.
type Preprocessor struct {
	charset  map[rune]struct{}
	stripper ast.Stripper
}

// NewPreprocessor creates a Preprocessor. A nil charset disables the
// character filter.
func NewPreprocessor(charset map[rune]struct{}, stripper ast.Stripper) *Preprocessor {
	return &Preprocessor{charset: charset, stripper: stripper}
}

// Clean returns the normalized doc and code.
//
// Outputs:
//
//	error - *ast.ParseError when stripping fails; the sample must be skipped.
func (p *Preprocessor) Clean(ctx context.Context, doc, code string) (string, string, error) {
	code = strings.TrimSpace(code)
	code = strings.ReplaceAll(code, "▁", "_")
	code = strings.ReplaceAll(code, "\r\n", "\n")
	code = p.filter(code)

	stripped, err := p.stripper.Strip(ctx, code)
	if err != nil {
		return "", "", err
	}
	return strings.TrimSpace(doc), stripped, nil
}

func (p *Preprocessor) filter(s string) string {
	if p.charset == nil {
		return s
	}
	return strings.Map(func(r rune) rune {
		if _, ok := p.charset[r]; ok {
			return r
		}
		return -1
	}, s)
}
