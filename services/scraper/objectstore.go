// Copyright (C) 2025 Seya AI (dev@seya.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package scraper

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
)

// ObjectStore archives page bodies. Implementations must be safe for
// concurrent use.
type ObjectStore interface {
	// Put writes one object; bodies are gzip-compressed HTML.
	Put(ctx context.Context, key string, data []byte) error
	// Bucket names the backing location for metadata and events.
	Bucket() string
}

// =============================================================================
// Google Cloud Storage
// =============================================================================

// GCSStore archives pages in a Cloud Storage bucket.
type GCSStore struct {
	bucket *storage.BucketHandle
	name   string
}

var _ ObjectStore = (*GCSStore)(nil)

func NewGCSStore(ctx context.Context, bucket string) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create the storage client: %w", err)
	}
	return &GCSStore{bucket: client.Bucket(bucket), name: bucket}, nil
}

func (s *GCSStore) Put(ctx context.Context, key string, data []byte) error {
	w := s.bucket.Object(key).NewWriter(ctx)
	w.ContentType = "text/html"
	w.ContentEncoding = "gzip"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write object %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize object %s: %w", key, err)
	}
	return nil
}

func (s *GCSStore) Bucket() string { return s.name }

// =============================================================================
// Local filesystem
// =============================================================================

// FileStore archives pages under a local directory. Meant for development
// and tests; the key's slashes become directories.
type FileStore struct {
	root string
}

var _ ObjectStore = (*FileStore)(nil)

func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create the archive directory: %w", err)
	}
	return &FileStore{root: root}, nil
}

func (s *FileStore) Put(_ context.Context, key string, data []byte) error {
	if strings.Contains(key, "..") {
		return fmt.Errorf("refusing key %q", key)
	}
	path := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create the object directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write object %s: %w", key, err)
	}
	return nil
}

func (s *FileStore) Bucket() string { return s.root }
