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
	"io"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/structaware/services/structaware/config"
	"github.com/AleutianAI/structaware/services/structaware/pipeline"
	"github.com/AleutianAI/structaware/services/structaware/publish"
)

func runPublish(cmd *cobra.Command, _ []string) error {
	cfg := current.cfg
	ctx := cmd.Context()

	md, err := pipeline.ReadMetadata(cfg.Output.Dir)
	if err != nil {
		return fmt.Errorf("output is not indexed yet: %w", err)
	}
	prefix, _ := cmd.Flags().GetString("prefix")
	if prefix == "" {
		prefix = cfg.Publish.Prefix
	}
	if prefix == "" {
		prefix = md.RunID
	}

	pub, err := newPublisher(cmd, cfg.Publish)
	if err != nil {
		return err
	}
	if c, ok := pub.(io.Closer); ok {
		defer c.Close()
	}

	s, err := publish.PublishDir(ctx, pub, cfg.Output.Dir, publish.Options{
		Prefix:         prefix,
		Concurrency:    cfg.Publish.Concurrency,
		FilesPerSecond: cfg.Publish.FilesPerSecond,
		Logger:         current.logger.Slog(),
	})
	if err != nil {
		return err
	}
	fmt.Printf("Published %d files (%d bytes) to %s/%s\n", s.Files, s.Bytes, pub.Name(), prefix)
	return nil
}

func newPublisher(cmd *cobra.Command, cfg config.PublishConfig) (publish.Publisher, error) {
	switch cfg.Target {
	case "gcs":
		return publish.NewGCS(cmd.Context(), cfg.Bucket, cfg.GCSKeyPath)
	case "s3":
		return publish.NewS3(publish.S3Config{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.Bucket,
			UseSSL:    cfg.S3UseSSL,
		})
	case "dir":
		if cfg.Dir == "" {
			return nil, fmt.Errorf("publish.dir is required for the dir target")
		}
		return publish.Dir{Root: cfg.Dir}, nil
	}
	return nil, fmt.Errorf("unknown publish target %q", cfg.Target)
}
