// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

var _ Adapter = (*FileAdapter)(nil)

// FileAdapter stores each payload as one file in a directory shared by
// every agent on the host (or on a shared mount).
type FileAdapter struct {
	directory string
}

// NewFileAdapter returns a FileAdapter rooted at directory, creating it
// if needed.
func NewFileAdapter(directory string) (*FileAdapter, error) {
	if directory == "" {
		return nil, fmt.Errorf("adapter: file directory is required")
	}
	if err := os.MkdirAll(directory, 0755); err != nil {
		return nil, fmt.Errorf("adapter: creating %s: %w", directory, err)
	}
	return &FileAdapter{directory: directory}, nil
}

func (f *FileAdapter) Publish(ctx context.Context, namespace, owner string, payload []byte) (uint64, error) {
	return publishNext(ctx, f, namespace, owner, payload)
}

// PublishAt writes payload to a temporary file, syncs it, and hard-links
// it to the final name. link(2) fails if the name exists, which makes
// the claim atomic, and readers never observe a partially written file.
func (f *FileAdapter) PublishAt(_ context.Context, namespace, owner string, index uint64, payload []byte) error {
	address := Address{Namespace: namespace, Owner: owner, Index: index}
	finalPath := filepath.Join(f.directory, address.FileName())

	temporary, err := os.CreateTemp(f.directory, ".publish-*")
	if err != nil {
		return unavailable("file publish", address, err)
	}
	temporaryPath := temporary.Name()
	defer os.Remove(temporaryPath)

	if _, err := temporary.Write(payload); err != nil {
		temporary.Close()
		return unavailable("file publish", address, err)
	}
	if err := temporary.Sync(); err != nil {
		temporary.Close()
		return unavailable("file publish", address, err)
	}
	if err := temporary.Close(); err != nil {
		return unavailable("file publish", address, err)
	}

	if err := os.Link(temporaryPath, finalPath); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("file publish %s: %w", address, ErrIndexTaken)
		}
		return unavailable("file publish", address, err)
	}

	// Make the new directory entry durable.
	if directory, err := os.Open(f.directory); err == nil {
		directory.Sync()
		directory.Close()
	}
	return nil
}

func (f *FileAdapter) FetchAt(_ context.Context, namespace, owner string, index uint64) ([]byte, bool, error) {
	address := Address{Namespace: namespace, Owner: owner, Index: index}
	data, err := os.ReadFile(filepath.Join(f.directory, address.FileName()))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, unavailable("file fetch", address, err)
	}
	return data, true, nil
}
