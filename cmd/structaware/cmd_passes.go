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
	"fmt"

	"github.com/spf13/cobra"
)

func runIndex(cmd *cobra.Command, args []string) error {
	p, closeManifest, err := newPipeline(current.cfg, "", false)
	if err != nil {
		return err
	}
	defer closeManifest()

	splits := splitsArg(current.cfg, args)
	acc, err := p.ScanResult(cmd.Context(), splits...)
	if err != nil {
		return err
	}
	md, err := p.IndexNodeTypes(cmd.Context(), acc, splits...)
	if err != nil {
		return err
	}
	fmt.Printf("indexed %d rows: node types=%d max_ast_depth=%d max_rel_distance=%d\n",
		acc.Rows, md.NumASTNodeTypes, md.MaxASTDepth, md.MaxRelDistance)
	return nil
}

func runReduce(cmd *cobra.Command, args []string) error {
	p, closeManifest, err := newPipeline(current.cfg, "", false)
	if err != nil {
		return err
	}
	defer closeManifest()

	return p.ReduceSimilarities(cmd.Context(), splitsArg(current.cfg, args)...)
}
