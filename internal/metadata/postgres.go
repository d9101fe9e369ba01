package metadata

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// PostgresWriter implements Writer using PostgreSQL.
type PostgresWriter struct {
	pool *pgxpool.Pool
}

var _ Writer = (*PostgresWriter)(nil)

// NewPostgresWriter connects to the catalog and creates its tables.
func NewPostgresWriter(ctx context.Context, cfg CatalogConfig) (*PostgresWriter, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}

	poolCfg.MaxConns = 2
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	log.Println("[metadata] connected to PostgreSQL catalog")
	return &PostgresWriter{pool: pool}, nil
}

// RecordCollection upserts the outcome of one collection run.
func (w *PostgresWriter) RecordCollection(ctx context.Context, rec CollectionRecord) error {
	args, err := rec.args()
	if err != nil {
		return err
	}

	query := `
		INSERT INTO _vflp_collections (
			job, collection_key, run_id, workunit, subjob,
			ligands, ligands_failed, tautomers, tautomers_success,
			seconds, status_key, checksums, versions, finished_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (job, collection_key)
		DO UPDATE SET
			run_id = EXCLUDED.run_id,
			workunit = EXCLUDED.workunit,
			subjob = EXCLUDED.subjob,
			ligands = EXCLUDED.ligands,
			ligands_failed = EXCLUDED.ligands_failed,
			tautomers = EXCLUDED.tautomers,
			tautomers_success = EXCLUDED.tautomers_success,
			seconds = EXCLUDED.seconds,
			status_key = EXCLUDED.status_key,
			checksums = EXCLUDED.checksums,
			versions = EXCLUDED.versions,
			finished_at = EXCLUDED.finished_at,
			created_at = NOW()
	`
	if _, err := w.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("record collection: %w", err)
	}

	log.Printf("[metadata] recorded collection %s (%d ligands)", rec.CollectionKey, rec.Ligands)
	return nil
}

// args renders rec as the query arguments of RecordCollection.
func (rec CollectionRecord) args() ([]any, error) {
	checksums, err := json.Marshal(nonNil(rec.Checksums))
	if err != nil {
		return nil, fmt.Errorf("encode checksums: %w", err)
	}
	versions, err := json.Marshal(nonNil(rec.Versions))
	if err != nil {
		return nil, fmt.Errorf("encode versions: %w", err)
	}
	finished := rec.FinishedAt
	if finished.IsZero() {
		finished = time.Now().UTC()
	}
	return []any{
		rec.Job, rec.CollectionKey, rec.RunID, rec.Workunit, rec.Subjob,
		rec.Ligands, rec.LigandsFailed, rec.Tautomers, rec.TautomersSuccess,
		rec.Seconds, rec.StatusKey, string(checksums), string(versions), finished,
	}, nil
}

func nonNil(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

// CollectionCompleted reports whether the collection has a catalog entry.
func (w *PostgresWriter) CollectionCompleted(ctx context.Context, job, collectionKey string) (bool, error) {
	query := `
		SELECT run_id FROM _vflp_collections
		WHERE job = $1 AND collection_key = $2
	`
	var runID string
	err := w.pool.QueryRow(ctx, query, job, collectionKey).Scan(&runID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check collection: %w", err)
	}
	return true, nil
}

// Close releases database connections.
func (w *PostgresWriter) Close() error {
	w.pool.Close()
	return nil
}
