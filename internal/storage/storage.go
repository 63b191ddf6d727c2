package storage

import (
	"context"
	"errors"
	"io"
)

// ErrInvalidKey is returned for keys that escape the base directory
var ErrInvalidKey = errors.New("invalid key: path traversal detected")

// ErrNotFound is returned when no artifact exists at a key
var ErrNotFound = errors.New("artifact not found")

// Reader provides read access to stored artifacts
type Reader interface {
	// GetReader returns a reader for the artifact at the given key
	GetReader(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists checks if an artifact exists at the given key
	Exists(ctx context.Context, key string) (bool, error)
}

// Writer saves artifacts
type Writer interface {
	// Put stores r under key and returns the local path written
	Put(ctx context.Context, key string, r io.Reader) (string, error)
}

// Store reads, writes and describes artifacts
type Store interface {
	Reader
	Writer

	// GetMetadata returns metadata for the artifact at the given key
	GetMetadata(ctx context.Context, key string) (*Metadata, error)
}

// Metadata contains storage object metadata
type Metadata struct {
	Size int64
	Path string
}
