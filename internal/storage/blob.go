package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// BlobStore implements Store over a gocloud bucket. It backs both the s3 and
// gcs modes.
type BlobStore struct {
	bucket *blob.Bucket
	scheme string // "s3" | "gs"
	name   string
	prefix string
}

func newBlobStore(bucket *blob.Bucket, scheme, name, prefix string) *BlobStore {
	return &BlobStore{bucket: bucket, scheme: scheme, name: name, prefix: prefix}
}

// Get reads an object from the bucket.
func (s *BlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	path := joinKey(s.prefix, key)
	data, err := s.bucket.ReadAll(ctx, path)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, fmt.Errorf("%s: %w", s.URI(key), ErrNotFound)
		}
		return nil, fmt.Errorf("read %s: %w", s.URI(key), err)
	}
	return data, nil
}

// Put writes bytes to the bucket.
func (s *BlobStore) Put(ctx context.Context, key string, data []byte) error {
	path := joinKey(s.prefix, key)

	w, err := s.bucket.NewWriter(ctx, path, nil)
	if err != nil {
		return fmt.Errorf("create writer for %s: %w", path, err)
	}

	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("write data to %s: %w", path, err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("close writer for %s: %w", path, err)
	}

	return nil
}

// PutFile streams a local file into the bucket.
func (s *BlobStore) PutFile(ctx context.Context, key, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	path := joinKey(s.prefix, key)
	w, err := s.bucket.NewWriter(ctx, path, nil)
	if err != nil {
		return fmt.Errorf("create writer for %s: %w", path, err)
	}

	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return fmt.Errorf("upload %s to %s: %w", localPath, path, err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("close writer for %s: %w", path, err)
	}
	return nil
}

// Exists checks if an object exists in the bucket.
func (s *BlobStore) Exists(ctx context.Context, key string) (bool, error) {
	return s.bucket.Exists(ctx, joinKey(s.prefix, key))
}

// List returns all keys with the given prefix, relative to the store prefix.
func (s *BlobStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := s.bucket.List(&blob.ListOptions{Prefix: joinKey(s.prefix, prefix)})
	for {
		obj, err := iter.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		key := obj.Key
		if s.prefix != "" {
			key = strings.TrimPrefix(key, strings.TrimSuffix(s.prefix, "/")+"/")
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// URI returns the scheme://bucket/key URI.
func (s *BlobStore) URI(key string) string {
	return fmt.Sprintf("%s://%s/%s", s.scheme, s.name, joinKey(s.prefix, key))
}

// Close releases the bucket connection.
func (s *BlobStore) Close() error {
	if s.bucket != nil {
		return s.bucket.Close()
	}
	return nil
}

var _ Store = (*BlobStore)(nil)
