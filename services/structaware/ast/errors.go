// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"errors"
	"fmt"
)

// Sentinel errors for structural extraction failures.
//
// These errors can be checked using errors.Is() to determine the
// category of failure without inspecting error messages.
var (
	// ErrUnsupportedLanguage indicates that no builder is registered for the
	// requested language.
	ErrUnsupportedLanguage = errors.New("unsupported language")

	// ErrParseFailed indicates that the source could not be parsed at all.
	//
	// Stripping and building wrap it in a *ParseError carrying the location
	// of the first syntax error.
	ErrParseFailed = errors.New("parse failed")

	// ErrInvalidContent indicates that the provided content is not valid UTF-8
	// or exceeds the configured size limit.
	ErrInvalidContent = errors.New("invalid content")

	// ErrStructuralMismatch indicates that derived structures disagree with
	// each other: an edge referencing a leaf that does not exist, a broken
	// parent chain, or a span list that does not cover every leaf.
	//
	// Continuing with such a sample would silently corrupt index alignment, so
	// callers skip the sample.
	ErrStructuralMismatch = errors.New("structural mismatch")
)

// ParseError provides detailed information about a parse failure.
//
// ParseError wraps an underlying error with the position of the failure
// inside the sample. It can be unwrapped to access the cause.
//
// Example:
//
//	cleaned, err := stripper.Strip(ctx, code)
//	if err != nil {
//	    var parseErr *ParseError
//	    if errors.As(err, &parseErr) {
//	        log.Warn("skipping sample", "line", parseErr.Line, "error", parseErr.Message)
//	    }
//	}
type ParseError struct {
	// Source labels the sample (e.g. "train:1042"). May be empty.
	Source string

	// Line is the 1-indexed line number where the error occurred.
	// May be 0 if the error is not associated with a specific line.
	Line int

	// Column is the 0-indexed column where the error occurred.
	Column int

	// Message describes the error in human-readable form.
	Message string

	// Cause is the underlying error. Defaults to ErrParseFailed.
	Cause error
}

// Error returns a formatted error message including the location.
//
// Format depends on available location information:
//   - With line and column: "train:3:10:5: unexpected token"
//   - With line only:       "train:3:10: unexpected token"
//   - Without location:     "train:3: unexpected token"
func (e *ParseError) Error() string {
	src := e.Source
	if src == "" {
		src = "<sample>"
	}
	if e.Line > 0 && e.Column > 0 {
		return fmt.Sprintf("%s:%d:%d: %s", src, e.Line, e.Column, e.Message)
	}
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", src, e.Line, e.Message)
	}
	return fmt.Sprintf("%s: %s", src, e.Message)
}

// Unwrap returns the underlying cause error.
func (e *ParseError) Unwrap() error {
	if e.Cause == nil {
		return ErrParseFailed
	}
	return e.Cause
}

// NewParseError creates a ParseError whose cause is ErrParseFailed.
//
// Parameters:
//   - source: Sample label (may be empty).
//   - line: 1-indexed line number (0 if unknown).
//   - column: 0-indexed column number (0 if unknown).
//   - message: Human-readable error description.
func NewParseError(source string, line, column int, message string) *ParseError {
	return &ParseError{
		Source:  source,
		Line:    line,
		Column:  column,
		Message: message,
		Cause:   ErrParseFailed,
	}
}

// WrapParseError wraps an error with sample context.
//
// If the error is already a ParseError, it returns it unchanged.
// Returns nil if err is nil.
func WrapParseError(err error, source string) error {
	if err == nil {
		return nil
	}

	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		return err
	}

	return &ParseError{
		Source:  source,
		Message: err.Error(),
		Cause:   err,
	}
}

// IsParseError checks if an error is or wraps a ParseError.
func IsParseError(err error) bool {
	var parseErr *ParseError
	return errors.As(err, &parseErr)
}

// IsStructuralMismatch checks if an error is or wraps ErrStructuralMismatch.
func IsStructuralMismatch(err error) bool {
	return errors.Is(err, ErrStructuralMismatch)
}
