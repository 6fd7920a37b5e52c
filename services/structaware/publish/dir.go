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
	"path/filepath"
)

// Dir copies files into a local directory, e.g. a mounted share.
type Dir struct {
	Root string
}

// Name returns the target directory.
func (d Dir) Name() string { return "file://" + d.Root }

// Upload copies localPath to Root/key.
func (d Dir) Upload(ctx context.Context, localPath, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dst := filepath.Join(d.Root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0750); err != nil {
		return err
	}

	src, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer src.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy %s: %w", localPath, err)
	}
	return out.Close()
}
