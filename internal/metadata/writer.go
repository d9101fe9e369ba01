// Package metadata records collection runs in an optional catalog.
package metadata

import (
	"context"
	"time"
)

// CatalogConfig configures the catalog connection.
type CatalogConfig struct {
	PostgresDSN string
}

// Writer records collection outcomes.
type Writer interface {
	// RecordCollection upserts the outcome of one collection run.
	RecordCollection(ctx context.Context, rec CollectionRecord) error

	// CollectionCompleted reports whether a collection of a job already
	// finished successfully.
	CollectionCompleted(ctx context.Context, job, collectionKey string) (bool, error)

	Close() error
}

// CollectionRecord is one processed collection.
type CollectionRecord struct {
	Job              string
	RunID            string
	Workunit         string
	Subjob           string
	CollectionKey    string
	Ligands          int
	LigandsFailed    int
	Tautomers        int
	TautomersSuccess int
	Seconds          float64
	StatusKey        string
	Checksums        map[string]string
	Versions         map[string]string
	FinishedAt       time.Time
}

// NewWriter returns a Postgres writer when a DSN is configured and a no-op
// writer otherwise.
func NewWriter(ctx context.Context, cfg CatalogConfig) (Writer, error) {
	if cfg.PostgresDSN == "" {
		return NewNoopWriter(), nil
	}
	w, err := NewPostgresWriter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return w, nil
}

type noopWriter struct{}

// NewNoopWriter returns a writer that records nothing.
func NewNoopWriter() Writer {
	return noopWriter{}
}

func (noopWriter) RecordCollection(context.Context, CollectionRecord) error { return nil }

func (noopWriter) CollectionCompleted(context.Context, string, string) (bool, error) {
	return false, nil
}

func (noopWriter) Close() error { return nil }
