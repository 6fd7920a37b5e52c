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
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/structaware/services/structaware/config"
	"github.com/AleutianAI/structaware/services/structaware/pipeline"
	"github.com/AleutianAI/structaware/services/structaware/source"
)

func runPrepare(cmd *cobra.Command, args []string) error {
	cfg := current.cfg
	ctx := cmd.Context()

	resume, _ := cmd.Flags().GetBool("resume")
	resume = resume || cfg.Output.Resume
	if n, _ := cmd.Flags().GetInt("max-samples"); n > 0 {
		cfg.Source.MaxSamples = n
	}

	p, closeManifest, err := newPipeline(cfg, "", resume)
	if err != nil {
		return err
	}
	defer closeManifest()

	splits := splitsArg(cfg, args)
	var prepared []string
	var results []pipeline.ChunkResult
	for _, split := range splits {
		r, err := openSource(cfg, split)
		if errors.Is(err, source.ErrNoFiles) {
			current.logger.Warn("split has no input files", slog.String("split", split))
			if !resume {
				if err := p.Reset(ctx, split); err != nil {
					return err
				}
			}
			continue
		}
		if err != nil {
			return err
		}

		report, err := p.Run(ctx, split, r)
		_ = r.Close()
		if err != nil {
			return fmt.Errorf("prepare %s: %w", split, err)
		}
		fmt.Printf("%-6s chunks=%d resumed=%d rows=%d skipped_parse=%d skipped_structural=%d skipped_empty_dfg=%d (%s)\n",
			split, report.Chunks, report.ChunksResumed, report.Result.Rows,
			report.Result.SkippedParse, report.Result.SkippedStructural, report.Result.SkippedEmptyDFG,
			report.Duration.Round(time.Millisecond))
		prepared = append(prepared, split)
		results = append(results, report.Result)
	}
	if len(prepared) == 0 {
		return fmt.Errorf("no input files under %s for splits %v", cfg.Source.Dir, splits)
	}

	md, err := p.IndexNodeTypes(ctx, pipeline.Fold(results...), prepared...)
	if err != nil {
		return err
	}
	fmt.Printf("node types=%d max_ast_depth=%d max_rel_distance=%d run_id=%s\n",
		md.NumASTNodeTypes, md.MaxASTDepth, md.MaxRelDistance, md.RunID)

	if cfg.Features.ReduceSimilarities {
		return p.ReduceSimilarities(ctx, prepared...)
	}
	return nil
}

// openSource opens the samples of split, subsampling them when configured.
func openSource(cfg *config.Config, split string) (source.Reader, error) {
	opts := source.Options{
		Dir:        cfg.Source.Dir,
		DocField:   cfg.Source.DocField,
		CodeField:  cfg.Source.CodeField,
		MaxSamples: cfg.Source.MaxSamples,
	}
	if !cfg.Source.Subsample || cfg.Source.MaxSamples <= 0 {
		return source.Open(opts, split)
	}

	opts.MaxSamples = 0
	r, err := source.Open(opts, split)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return source.Subsample(r, cfg.Source.MaxSamples, cfg.Source.Seed)
}

func runInit(_ *cobra.Command, args []string) error {
	path := "structaware.yaml"
	if len(args) == 1 {
		path = args[0]
	}
	if err := config.WriteDefault(path); err != nil {
		return err
	}
	fmt.Printf("Wrote default configuration to %s\n", path)
	return nil
}
