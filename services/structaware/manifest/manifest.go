// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package manifest records which chunks of a split are complete.
//
// The manifest is a BadgerDB keyed by split and chunk start. A chunk is
// recorded only after its file was renamed into place, so a resumed run
// re-processes any chunk whose write was interrupted. Post passes update
// the record of every chunk they rewrite.
package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const chunkKeyPrefix = "chunk/"

// ChunkInfo is the manifest record of one chunk file.
type ChunkInfo struct {
	Split string `json:"split"`
	Start int    `json:"start"`
	File  string `json:"file"`
	Rows  int    `json:"rows"`

	// Samples is the number of input samples the chunk covers, skipped ones
	// included. A chunk only resumes when the new run covers the same span.
	Samples int `json:"samples"`

	SkippedParse      int `json:"skipped_parse"`
	SkippedStructural int `json:"skipped_structural"`
	SkippedEmptyDFG   int `json:"skipped_empty_dfg"`

	// NodeTypes is the chunk-local node type set, sorted.
	NodeTypes []string `json:"node_types"`

	// MaxRelDistance is the largest code-token relative distance in the chunk.
	MaxRelDistance int `json:"max_rel_distance"`

	// TypesIndexed is set once lr_paths_types holds vocabulary indices.
	TypesIndexed bool `json:"types_indexed"`

	// Reduced is set once ll_sims holds only the upper triangle.
	Reduced bool `json:"reduced"`

	RunID       string    `json:"run_id"`
	CompletedAt time.Time `json:"completed_at"`
}

// Store is the chunk manifest.
//
// Thread Safety: Store is safe for concurrent use.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
	stop   chan struct{}
	done   chan struct{}
}

// Open opens the manifest with the given configuration.
//
// Description:
//
//	Opens the BadgerDB at cfg.Path, or in memory, and starts periodic value
//	log GC when cfg.GCInterval is positive for a persistent manifest.
//
// Outputs:
//
//	*Store - The manifest. Call Close() when done.
//	error  - Non-nil if the database cannot be opened.
func Open(cfg Config) (*Store, error) {
	db, err := openBadger(cfg)
	if err != nil {
		return nil, err
	}

	s := &Store{db: db, logger: cfg.Logger}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		if cfg.GCDiscardRatio <= 0 || cfg.GCDiscardRatio > 1 {
			db.Close()
			return nil, errors.New("gc discard ratio must be in (0, 1]")
		}
		s.stop = make(chan struct{})
		s.done = make(chan struct{})
		go gcLoop(db, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger, s.stop, s.done)
	}
	return s, nil
}

// OpenInMemory opens a manifest that is lost on Close.
func OpenInMemory() (*Store, error) {
	return Open(InMemoryConfig())
}

// Close stops GC and closes the database.
func (s *Store) Close() error {
	if s.stop != nil {
		close(s.stop)
		<-s.done
		s.stop = nil
	}
	return s.db.Close()
}

func chunkKey(split string, start int) []byte {
	// Zero padding keeps badger's byte order equal to numeric order.
	return []byte(fmt.Sprintf("%s%s/%012d", chunkKeyPrefix, split, start))
}

func splitPrefix(split string) []byte {
	return []byte(chunkKeyPrefix + split + "/")
}

// PutChunk records or replaces a chunk.
func (s *Store) PutChunk(ctx context.Context, info ChunkInfo) error {
	if info.Split == "" {
		return errors.New("chunk info requires a split")
	}
	value, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal chunk info: %w", err)
	}
	return withTxn(ctx, s.db, func(txn *badger.Txn) error {
		return txn.Set(chunkKey(info.Split, info.Start), value)
	})
}

// GetChunk returns the record of one chunk. The bool is false when the chunk
// was never recorded.
func (s *Store) GetChunk(ctx context.Context, split string, start int) (ChunkInfo, bool, error) {
	var info ChunkInfo
	found := false
	err := withReadTxn(ctx, s.db, func(txn *badger.Txn) error {
		item, err := txn.Get(chunkKey(split, start))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &info)
		})
	})
	if err != nil {
		return ChunkInfo{}, false, fmt.Errorf("get chunk %s/%d: %w", split, start, err)
	}
	return info, found, nil
}

// ListChunks returns every recorded chunk of a split ordered by start.
func (s *Store) ListChunks(ctx context.Context, split string) ([]ChunkInfo, error) {
	var out []ChunkInfo
	err := withReadTxn(ctx, s.db, func(txn *badger.Txn) error {
		prefix := splitPrefix(split)
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, Prefix: prefix})
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var info ChunkInfo
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &info)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			out = append(out, info)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list chunks of %s: %w", split, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out, nil
}

// Update applies fn to a recorded chunk inside one transaction.
//
// Returns an error if the chunk was never recorded.
func (s *Store) Update(ctx context.Context, split string, start int, fn func(*ChunkInfo)) error {
	return withTxn(ctx, s.db, func(txn *badger.Txn) error {
		key := chunkKey(split, start)
		item, err := txn.Get(key)
		if err != nil {
			return fmt.Errorf("update chunk %s/%d: %w", split, start, err)
		}
		var info ChunkInfo
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &info)
		}); err != nil {
			return err
		}
		fn(&info)
		value, err := json.Marshal(info)
		if err != nil {
			return err
		}
		return txn.Set(key, value)
	})
}

// DeleteChunk removes the record of one chunk. Deleting a chunk that was
// never recorded is not an error.
func (s *Store) DeleteChunk(ctx context.Context, split string, start int) error {
	return withTxn(ctx, s.db, func(txn *badger.Txn) error {
		return txn.Delete(chunkKey(split, start))
	})
}

// DeleteSplit removes every record of a split. Used when a run starts over.
func (s *Store) DeleteSplit(ctx context.Context, split string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	return s.db.DropPrefix(splitPrefix(split))
}
