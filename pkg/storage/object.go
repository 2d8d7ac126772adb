// Package storage provides the object stores that hold staging artifacts.
package storage

import (
	"context"
	"io"
	"time"
)

// ObjectInfo holds object metadata.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// ObjectStore is the staging location abstraction. Implementations cover
// the local filesystem, memory (tests), and S3.
type ObjectStore interface {
	// Scheme identifies the backend ("file", "memory", "s3").
	Scheme() string

	// Put writes an object, replacing any existing object at key.
	Put(ctx context.Context, key string, data io.Reader) error

	// Get returns a reader for the object.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error

	// Exists checks whether an object is present.
	Exists(ctx context.Context, key string) (bool, error)

	// List returns objects under a prefix, sorted by key.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}
