// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package publish

import (
	"context"
	"fmt"
	"io"
	"os"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCS uploads to a Google Cloud Storage bucket.
type GCS struct {
	client *storage.Client
	bucket string
}

// NewGCS creates a GCS publisher authenticated with a service account key.
func NewGCS(ctx context.Context, bucket, saKeyPath string) (*GCS, error) {
	if bucket == "" {
		return nil, fmt.Errorf("gcs bucket is required")
	}
	if _, err := os.Stat(saKeyPath); err != nil {
		return nil, fmt.Errorf("service account key not found at path: %s: %w", saKeyPath, err)
	}

	client, err := storage.NewClient(ctx, option.WithCredentialsFile(saKeyPath))
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	return &GCS{client: client, bucket: bucket}, nil
}

// Name returns the gs:// URL of the bucket.
func (g *GCS) Name() string { return "gs://" + g.bucket }

// Upload copies localPath to the object key.
func (g *GCS) Upload(ctx context.Context, localPath, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open the local file: %s: %w", localPath, err)
	}
	defer f.Close()

	w := g.client.Bucket(g.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType(key)
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to copy %s to GCS object %s: %w", localPath, key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer for %s: %w", key, err)
	}
	return nil
}

// Close releases the storage client.
func (g *GCS) Close() error {
	return g.client.Close()
}
