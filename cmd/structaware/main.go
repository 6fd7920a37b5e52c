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
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string

	rootCmd = &cobra.Command{
		Use:   "structaware",
		Short: "Prepare structure-aware code/docstring training data",
		Long: `structaware parses code samples, derives AST leaf paths, data-flow
graphs and attention masks, and stores them as chunked parquet files
ready for batching.`,
		SilenceUsage:      true,
		PersistentPreRunE: setup,
	}

	prepareCmd = &cobra.Command{
		Use:   "prepare [split...]",
		Short: "Featurize the configured splits, index node types and optionally reduce similarities",
		RunE:  runPrepare, // Defined in cmd_prepare.go
	}

	indexCmd = &cobra.Command{
		Use:   "index [split...]",
		Short: "Rebuild the node type vocabulary from stored chunks and index it",
		RunE:  runIndex, // Defined in cmd_passes.go
	}

	reduceCmd = &cobra.Command{
		Use:   "reduce [split...]",
		Short: "Keep only the upper triangle of stored similarity matrices",
		RunE:  runReduce, // Defined in cmd_passes.go
	}

	inspectCmd = &cobra.Command{
		Use:   "inspect [split] [row]",
		Short: "Show metadata, chunk records and the shapes of one collated row",
		Args:  cobra.MaximumNArgs(2),
		RunE:  runInspect, // Defined in cmd_inspect.go
	}

	publishCmd = &cobra.Command{
		Use:   "publish",
		Short: "Upload the prepared output to GCS, S3 or a directory",
		RunE:  runPublish, // Defined in cmd_publish.go
	}

	initCmd = &cobra.Command{
		Use:   "init [path]",
		Short: "Write a default configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runInit, // Defined in cmd_prepare.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to structaware.yaml")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level")

	prepareCmd.Flags().Bool("resume", false, "reuse chunks recorded complete by an earlier run")
	prepareCmd.Flags().Int("max-samples", 0, "read at most this many samples per split")
	publishCmd.Flags().String("prefix", "", "object key prefix (default: the run id)")

	rootCmd.AddCommand(prepareCmd, indexCmd, reduceCmd, inspectCmd, publishCmd, initCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	teardown()
	stop()
	if err != nil {
		os.Exit(1)
	}
}
