package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/withObsrvr/vflp-ligand-prep/internal/logging"
	"github.com/withObsrvr/vflp-ligand-prep/internal/metrics"
)

// RetryStore retries failed operations of an underlying store with
// exponential backoff. ErrNotFound is returned immediately.
type RetryStore struct {
	Store
	backend   string
	attempts  int
	backoffMs int
	log       *slog.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewRetryStore wraps store. attempts < 1 defaults to 5, backoffMs < 1 to 500.
func NewRetryStore(store Store, backend string, attempts, backoffMs int) *RetryStore {
	if attempts < 1 {
		attempts = 5
	}
	if backoffMs < 1 {
		backoffMs = 500
	}
	return &RetryStore{
		Store:     store,
		backend:   backend,
		attempts:  attempts,
		backoffMs: backoffMs,
		log:       logging.Component("storage").With("backend", backend),
		sleep:     sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *RetryStore) do(ctx context.Context, op, key string, fn func() error) error {
	var err error
	for attempt := 0; attempt < s.attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if errors.Is(err, ErrNotFound) {
			return err
		}

		if m := metrics.Get(); m != nil {
			m.IncStorageErrors(s.backend, op)
		}
		if attempt == s.attempts-1 {
			break
		}

		if m := metrics.Get(); m != nil {
			m.IncRetryAttempts("storage_" + op)
		}
		backoff := time.Duration(s.backoffMs*(1<<attempt)) * time.Millisecond
		s.log.Warn("storage operation failed, retrying",
			"operation", op, "key", key, "attempt", attempt+1, "backoff", backoff, "error", err,
			"run_id", logging.CorrelationID(ctx))
		if serr := s.sleep(ctx, backoff); serr != nil {
			return serr
		}
	}
	return fmt.Errorf("%s %s failed after %d attempts: %w", op, key, s.attempts, err)
}

// Get reads an object, retrying transient failures.
func (s *RetryStore) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.do(ctx, "get", key, func() error {
		var err error
		data, err = s.Store.Get(ctx, key)
		return err
	})
	return data, err
}

// Put writes an object, retrying transient failures.
func (s *RetryStore) Put(ctx context.Context, key string, data []byte) error {
	return s.do(ctx, "put", key, func() error {
		return s.Store.Put(ctx, key, data)
	})
}

// PutFile uploads a file, retrying transient failures.
func (s *RetryStore) PutFile(ctx context.Context, key, localPath string) error {
	return s.do(ctx, "put", key, func() error {
		return s.Store.PutFile(ctx, key, localPath)
	})
}

// Exists checks for an object, retrying transient failures.
func (s *RetryStore) Exists(ctx context.Context, key string) (bool, error) {
	var ok bool
	err := s.do(ctx, "exists", key, func() error {
		var err error
		ok, err = s.Store.Exists(ctx, key)
		return err
	})
	return ok, err
}

// List lists keys, retrying transient failures.
func (s *RetryStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.do(ctx, "list", prefix, func() error {
		var err error
		keys, err = s.Store.List(ctx, prefix)
		return err
	})
	return keys, err
}
