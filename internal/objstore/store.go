// Package objstore abstracts the blob store that holds every durable byte of
// the lake: staging records, compacted artifacts, the transaction log, and the
// schema document.
package objstore

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotExist is returned by Get and Head when no object is stored at the key.
	ErrNotExist = errors.New("object does not exist")

	// ErrPreconditionFailed is returned by Put when IfNotExist was requested
	// and the key already holds an object.
	ErrPreconditionFailed = errors.New("object already exists")
)

// PutOptions carries preconditions for a Put.
type PutOptions struct {
	// IfNotExist makes the write succeed only if the key is currently absent.
	IfNotExist bool
}

// ObjectInfo contains metadata about a stored object.
type ObjectInfo struct {
	Key     string
	Size    int64
	ETag    string
	ModTime time.Time
}

// Store is the object-store capability the lake requires: blob CRUD with a
// conditional-put on key absence. Every key falls into exactly one of the
// schema/, data/, parquet/, _log/ namespaces.
type Store interface {
	// Get returns the full content of the object at key, or ErrNotExist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put writes data to key. With opts.IfNotExist set it fails with
	// ErrPreconditionFailed when the key already exists.
	Put(ctx context.Context, key string, data []byte, opts *PutOptions) error

	// Delete removes the object at key. Deleting an absent key returns
	// ErrNotExist; callers for whom deletion is idempotent ignore it.
	Delete(ctx context.Context, key string) error

	// List returns all keys with the given prefix, lexically ordered.
	List(ctx context.Context, prefix string) ([]string, error)

	// Head returns metadata about the object at key, or ErrNotExist.
	Head(ctx context.Context, key string) (*ObjectInfo, error)

	// Close releases any resources.
	Close() error
}

// Config configures the store backend.
type Config struct {
	Backend string `yaml:"backend"` // "memory" | "local" | "s3" | "gcs"

	// Local filesystem
	LocalDir string `yaml:"local_dir"`

	// S3 (also works for B2, R2, MinIO) and GCS
	Bucket   string `yaml:"bucket"`
	Endpoint string `yaml:"endpoint"` // custom endpoint for B2/MinIO/R2
	Region   string `yaml:"region"`

	// Common
	Prefix string `yaml:"prefix"` // path prefix within bucket or local dir
}

// New creates a store backend based on configuration.
func New(cfg Config) (Store, error) {
	switch cfg.Backend {
	case "memory":
		return NewMemory(), nil
	case "local":
		if cfg.LocalDir == "" {
			return nil, fmt.Errorf("local_dir required for local backend")
		}
		return NewBucketLocal(cfg.LocalDir, cfg.Prefix)
	case "s3":
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("bucket required for s3 backend")
		}
		return NewBucketS3(cfg.Bucket, cfg.Prefix, cfg.Endpoint, cfg.Region)
	case "gcs":
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("bucket required for gcs backend")
		}
		return NewBucketGCS(cfg.Bucket, cfg.Prefix)
	default:
		return nil, fmt.Errorf("unknown store backend: %s", cfg.Backend)
	}
}
