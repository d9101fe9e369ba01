package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrNotFound is returned when a requested object does not exist.
var ErrNotFound = errors.New("object not found")

// Store abstracts the durable blob storage used for workunits, collection
// inputs, summaries and format archives.
type Store interface {
	// Get reads the whole object stored under key.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put writes data under key, replacing any existing object.
	Put(ctx context.Context, key string, data []byte) error

	// PutFile uploads a local file under key.
	PutFile(ctx context.Context, key, localPath string) error

	// Exists checks if an object exists.
	Exists(ctx context.Context, key string) (bool, error)

	// List returns all keys with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// URI returns the canonical URI for the given key.
	// For local: file:///path, GCS: gs://bucket/path, S3: s3://bucket/path
	URI(key string) string

	// Close releases any resources.
	Close() error
}

// Config configures one storage backend.
type Config struct {
	Backend string // "local" | "gcs" | "s3"

	// Local filesystem (sharedfs)
	LocalDir string

	// Object stores
	Bucket   string
	Endpoint string // custom endpoint for MinIO/R2
	Region   string

	// MaxAttempts bounds the SDK-level retries for S3 requests.
	MaxAttempts int

	// Common
	Prefix string // path prefix within bucket or local dir
}

// New creates a storage backend based on configuration.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "local", "sharedfs":
		if cfg.LocalDir == "" {
			return nil, fmt.Errorf("LocalDir required for local backend")
		}
		return NewLocalStore(cfg.LocalDir, cfg.Prefix)
	case "gcs":
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("bucket required for gcs backend")
		}
		return NewGCSStore(ctx, cfg.Bucket, cfg.Prefix)
	case "s3":
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("bucket required for s3 backend")
		}
		return NewS3Store(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}

// joinKey prefixes key, keeping forward slashes regardless of platform.
func joinKey(prefix, key string) string {
	if prefix == "" {
		return strings.TrimPrefix(key, "/")
	}
	return path.Join(prefix, key)
}
