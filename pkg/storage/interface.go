package storage

import (
	"context"
	"io"
	"time"
)

// FileInfo represents metadata about a stored object.
type FileInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Storage is the blob store used for finished recording segments.
// Implementations must be write-then-read-own-write consistent: GetURL
// immediately after a successful Write returns a working URL.
type Storage interface {
	// Write stores content from the reader under the given key.
	// size is the expected content size (-1 if unknown).
	Write(ctx context.Context, key string, r io.Reader, size int64, contentType string) error

	// Read retrieves content for the given key.
	// The caller is responsible for closing the returned ReadCloser.
	Read(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the content with the given key.
	Delete(ctx context.Context, key string) error

	// List returns metadata for all objects whose keys start with prefix.
	List(ctx context.Context, prefix string) ([]FileInfo, error)

	// Exists checks whether an object with the given key exists.
	Exists(ctx context.Context, key string) (bool, error)

	// GetURL returns a URL for accessing the content. For local storage
	// this is a serving path; for S3 a presigned or public URL.
	GetURL(ctx context.Context, key string, expires time.Duration) (string, error)
}
