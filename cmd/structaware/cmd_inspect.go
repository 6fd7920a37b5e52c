// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/structaware/services/structaware/collate"
	"github.com/AleutianAI/structaware/services/structaware/manifest"
)

func runInspect(cmd *cobra.Command, args []string) error {
	cfg := current.cfg
	split := cfg.Source.Splits[0]
	if len(args) > 0 {
		split = args[0]
	}
	row := 0
	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("row must be an integer: %w", err)
		}
		row = n
	}

	ds, err := collate.Open(cfg.Output.Dir, split, collate.Options{
		ExpandSimilarities: true,
		Logger:             current.logger.Slog(),
	})
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(ds.Metadata()); err != nil {
		return err
	}

	mcfg := manifest.DefaultConfig()
	mcfg.Path = cfg.ManifestPath()
	store, err := manifest.Open(mcfg)
	if err != nil {
		return fmt.Errorf("open manifest: %w", err)
	}
	defer store.Close()
	chunks, err := store.ListChunks(cmd.Context(), split)
	if err != nil {
		return err
	}
	for _, c := range chunks {
		fmt.Printf("%s rows=%d skipped=%d indexed=%t reduced=%t run=%s at=%s\n",
			c.File, c.Rows, c.SkippedParse+c.SkippedStructural+c.SkippedEmptyDFG,
			c.TypesIndexed, c.Reduced, c.RunID, c.CompletedAt.Format("2006-01-02T15:04:05Z"))
	}

	fmt.Printf("%s: %d rows\n", split, ds.Len())
	if ds.Len() == 0 {
		return nil
	}
	e, err := ds.Get(row)
	if err != nil {
		return err
	}
	tok, err := newTokenizer(cfg)
	if err != nil {
		return err
	}
	batch, err := ds.Collator(tok.EOSID()).Collate([]*collate.Example{e})
	if err != nil {
		return err
	}
	d := batch.Dims
	fmt.Printf("row %d: tokens=%d leaves=%d dfg_slots=%d attention=[1,1,%d,%d]\n", row, d.T, d.L, d.D, d.N(), d.N())
	return nil
}
