// Package collection loads one ligand collection, runs its ligands through
// the pipeline and packages the results.
package collection

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/withObsrvr/vflp-ligand-prep/internal/archive"
	"github.com/withObsrvr/vflp-ligand-prep/internal/pipeline"
	"github.com/withObsrvr/vflp-ligand-prep/internal/storage"
)

// Required columns of a collection file.
const (
	FieldLigandName = "ligand-name"
	FieldSMI        = "smi"
)

// ErrMissingField is returned when the configured field names lack a
// required column.
var ErrMissingField = errors.New("collection field names lack a required column")

// Load fetches a collection file from store and parses it. The file is
// decompressed according to its suffix.
func Load(ctx context.Context, store storage.Store, key string, fieldnames []string, dec *archive.Decoder, logger *slog.Logger) ([]pipeline.Input, error) {
	data, err := store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("download collection %s: %w", key, err)
	}
	plain, err := dec.Decompress(key, data)
	if err != nil {
		return nil, fmt.Errorf("decompress collection %s: %w", key, err)
	}
	return Parse(bytes.NewReader(plain), fieldnames, logger)
}

// Parse reads tab-separated records named by fieldnames. Rows that lack a
// ligand name or structure, or repeat a ligand name, are logged and skipped.
func Parse(r io.Reader, fieldnames []string, logger *slog.Logger) ([]pipeline.Input, error) {
	nameCol, smiCol := -1, -1
	for i, f := range fieldnames {
		switch f {
		case FieldLigandName:
			nameCol = i
		case FieldSMI:
			smiCol = i
		}
	}
	if nameCol < 0 || smiCol < 0 {
		return nil, fmt.Errorf("%w: have %s", ErrMissingField, strings.Join(fieldnames, ":"))
	}

	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = false

	var out []pipeline.Input
	seen := map[string]bool{}
	row := 0
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		row++
		if err != nil {
			logger.Warn("skipping malformed collection row", "row", row, "error", err)
			continue
		}
		if len(rec) <= nameCol || len(rec) <= smiCol || rec[nameCol] == "" {
			logger.Warn("skipping collection row without ligand name or structure", "row", row, "fields", len(rec))
			continue
		}
		key := rec[nameCol]
		if seen[key] {
			logger.Warn("skipping duplicate ligand", "row", row, "ligand", key)
			continue
		}
		seen[key] = true

		data := make(map[string]string, len(fieldnames))
		for i, f := range fieldnames {
			if i < len(rec) {
				data[f] = rec[i]
			}
		}
		out = append(out, pipeline.Input{Key: key, SMI: rec[smiCol], FileData: data})
	}
	return out, nil
}
