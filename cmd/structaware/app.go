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
	"fmt"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/structaware/pkg/logging"
	"github.com/AleutianAI/structaware/services/structaware/ast"
	"github.com/AleutianAI/structaware/services/structaware/attnmask"
	"github.com/AleutianAI/structaware/services/structaware/config"
	"github.com/AleutianAI/structaware/services/structaware/manifest"
	"github.com/AleutianAI/structaware/services/structaware/pipeline"
	"github.com/AleutianAI/structaware/services/structaware/telemetry"
	"github.com/AleutianAI/structaware/services/structaware/tokenizer"
)

// app holds what every command shares after setup.
type app struct {
	cfg      *config.Config
	logger   *logging.Logger
	shutdown func(context.Context) error
	cancel   context.CancelFunc
}

var current app

func setup(cmd *cobra.Command, _ []string) error {
	if cmd == initCmd {
		return nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}

	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: cmd.Name(),
		JSON:    jsonConsole(cfg.Logging.JSON, os.Stderr.Fd()),
		Quiet:   cfg.Logging.Quiet,
	})
	slog.SetDefault(logger.Slog())

	shutdown, err := telemetry.Init(cmd.Context(), cfg.Telemetry)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	cmd.SetContext(ctx)
	if cfg.Metrics.Addr != "" {
		if _, err := telemetry.Serve(ctx, cfg.Metrics.Addr, logger.Slog()); err != nil {
			cancel()
			return err
		}
	}

	current = app{cfg: cfg, logger: logger, shutdown: shutdown, cancel: cancel}
	return nil
}

// jsonConsole reports whether console logs should be JSON: when forced by
// the config, or when fd is not an interactive terminal (CI, log shippers).
func jsonConsole(forced bool, fd uintptr) bool {
	if forced {
		return true
	}
	return !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd)
}

// teardown stops telemetry and closes the log file. It runs after every
// command, including failed ones.
func teardown() {
	if current.cfg == nil {
		return
	}
	current.cancel()
	if err := current.shutdown(context.Background()); err != nil {
		current.logger.Warn("telemetry shutdown failed", "error", err)
	}
	_ = current.logger.Close()
}

// newPipeline builds a pipeline and its collaborators from the config.
// The returned close function releases the manifest.
func newPipeline(cfg *config.Config, runID string, resume bool) (*pipeline.Pipeline, func() error, error) {
	reg := ast.DefaultRegistry()
	reg.Register(ast.NewPythonFrontend(ast.WithPythonLogger(current.logger.Slog())))
	frontend, ok := reg.Get(cfg.Features.Language)
	if !ok {
		return nil, nil, fmt.Errorf("no parser frontend for language %q", cfg.Features.Language)
	}
	tok, err := newTokenizer(cfg)
	if err != nil {
		return nil, nil, err
	}
	asm, err := attnmask.Lookup(cfg.Features.Assembler)
	if err != nil {
		return nil, nil, err
	}

	mcfg := manifest.DefaultConfig()
	mcfg.Path = cfg.ManifestPath()
	mcfg.Logger = current.logger.Slog()
	store, err := manifest.Open(mcfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open manifest: %w", err)
	}

	p, err := pipeline.New(pipeline.Options{
		OutputDir:      cfg.Output.Dir,
		ChunkRows:      cfg.Output.ChunkRows,
		Workers:        cfg.Output.Workers,
		MaxLeaves:      cfg.Features.MaxLeaves,
		MaxRelDistance: cfg.Features.MaxRelDistance,
		DropEmptyDFG:   cfg.Features.DropEmptyDFG,
		SkipCharFilter: cfg.Features.SkipCharFilter,
		Resume:         resume,
		RunID:          runID,
	}, pipeline.Deps{
		Frontend:  frontend,
		Tokenizer: tok,
		Assembler: asm,
		Manifest:  store,
		Logger:    current.logger.Slog(),
	})
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	return p, store.Close, nil
}

func newTokenizer(cfg *config.Config) (*tokenizer.Tiktoken, error) {
	return tokenizer.NewTiktoken(tokenizer.TiktokenOptions{
		Encoding: cfg.Tokenizer.Encoding,
		BOSID:    cfg.Tokenizer.BOSID,
		EOSID:    cfg.Tokenizer.EOSID,
	})
}

// splitsArg returns args, or the configured splits when none are given.
func splitsArg(cfg *config.Config, args []string) []string {
	if len(args) > 0 {
		return args
	}
	return cfg.Source.Splits
}
