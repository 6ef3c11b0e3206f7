// Package storage defines the remote object store interface backup archives
// are written to, with S3 and GCS providers.
package storage

import (
	"context"
	"errors"
	"time"
)

// Store is the remote object store surface. All keys are relative to the
// configured remote root path.
type Store interface {
	// Put writes one object. Callers never reuse a key for different
	// content; every upload derives a fresh timestamped key.
	Put(ctx context.Context, key string, data []byte, metadata map[string]string) error

	// Get reads one object in full.
	Get(ctx context.Context, key string) ([]byte, error)

	// Stat returns size and metadata without fetching the body.
	Stat(ctx context.Context, key string) (ObjectInfo, error)

	// List returns all objects under the prefix.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Delete removes one object.
	Delete(ctx context.Context, key string) error
}

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	Checksum     string // provider checksum when exposed, else empty
	Metadata     map[string]string
}

// ErrNotFound is returned by Get and Stat for absent keys.
var ErrNotFound = errors.New("remote store: object not found")

// IsTransient reports whether a store error is worth retrying. Absent
// objects are a definitive answer; everything else (network, throttling,
// server errors) is treated as transient.
func IsTransient(err error) bool {
	return err != nil && !errors.Is(err, ErrNotFound)
}
