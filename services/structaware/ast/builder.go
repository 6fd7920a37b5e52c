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
	"context"
	"sort"
	"sync"
)

// DefaultMaxContentSize bounds the size of a single code sample (1MB).
const DefaultMaxContentSize = 1 << 20

// Builder defines the contract for language-specific structure extraction.
//
// Description:
//
//	A Builder parses one code sample and returns the arena of syntax nodes,
//	the ordered terminal leaves and the data-flow edges between those leaves.
//	The feature pipeline only consumes these outputs; how edges are found is
//	the Builder's concern.
//
// Inputs:
//
//	ctx  - Context for cancellation. Checked before and after parsing.
//	code - Source code of one sample, already stripped of comments.
//
// Outputs:
//
//	*Structure - Tree, leaves in source order and edges over leaf indices.
//	error      - *ParseError for syntax errors, ErrInvalidContent for bad input.
//
// Thread Safety:
//
//	Implementations must be safe for concurrent use; the pipeline may process
//	several chunks at once with a shared Builder.
type Builder interface {
	Build(ctx context.Context, code string) (*Structure, error)

	// Language returns the lowercase language name (e.g. "python").
	Language() string
}

// Stripper removes comments and docstrings from a code sample.
//
// Strip fails with a *ParseError when the code is malformed; the pipeline
// counts such samples and skips them.
type Stripper interface {
	Strip(ctx context.Context, code string) (string, error)
}

// Frontend bundles the stripper and builder of one language.
type Frontend interface {
	Builder
	Stripper
}

// Registry manages language frontends by name.
//
// Thread Safety:
//
//	Registry is fully thread-safe. Registration uses write locks, lookups use
//	read locks.
type Registry struct {
	mu         sync.RWMutex
	byLanguage map[string]Frontend
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byLanguage: make(map[string]Frontend)}
}

// DefaultRegistry returns a Registry with every built-in frontend registered.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NewPythonFrontend())
	return r
}

// Register adds a frontend under its Language() name, replacing any previous
// registration. Nil frontends are ignored.
func (r *Registry) Register(f Frontend) {
	if f == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byLanguage[f.Language()] = f
}

// Get returns the frontend registered for language.
func (r *Registry) Get(language string) (Frontend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.byLanguage[language]
	return f, ok
}

// Languages returns the registered language names, sorted.
func (r *Registry) Languages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	languages := make([]string, 0, len(r.byLanguage))
	for lang := range r.byLanguage {
		languages = append(languages, lang)
	}
	sort.Strings(languages)
	return languages
}
