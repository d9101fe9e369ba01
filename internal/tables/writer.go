package tables

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"
)

// RowWriter streams tautomer rows into a parquet file, cutting a row group
// every RowGroupSize rows.
type RowWriter struct {
	w       *parquet.GenericWriter[TautomerRow]
	size    int
	pending int
	total   int
}

// NewRowWriter creates a writer on out.
func NewRowWriter(out io.Writer, cfg ParquetConfig) (*RowWriter, error) {
	codec, err := compressionOption(cfg.Compression)
	if err != nil {
		return nil, err
	}
	size := cfg.RowGroupSize
	if size <= 0 {
		size = DefaultParquetConfig().RowGroupSize
	}
	return &RowWriter{
		w:    parquet.NewGenericWriter[TautomerRow](out, codec,
			parquet.KeyValueMetadata("schema_version", SchemaVersion)),
		size: size,
	}, nil
}

func compressionOption(name string) (parquet.WriterOption, error) {
	switch name {
	case "", "zstd":
		return parquet.Compression(&parquet.Zstd), nil
	case "snappy":
		return parquet.Compression(&parquet.Snappy), nil
	case "gzip":
		return parquet.Compression(&parquet.Gzip), nil
	case "none":
		return parquet.Compression(&parquet.Uncompressed), nil
	}
	return nil, fmt.Errorf("unsupported parquet compression %q", name)
}

// Write appends rows.
func (r *RowWriter) Write(rows []TautomerRow) error {
	for len(rows) > 0 {
		n := r.size - r.pending
		if n > len(rows) {
			n = len(rows)
		}
		if _, err := r.w.Write(rows[:n]); err != nil {
			return fmt.Errorf("write rows: %w", err)
		}
		r.pending += n
		r.total += n
		rows = rows[n:]
		if r.pending >= r.size {
			if err := r.w.Flush(); err != nil {
				return fmt.Errorf("flush row group: %w", err)
			}
			r.pending = 0
		}
	}
	return nil
}

// Rows returns the number of rows written so far.
func (r *RowWriter) Rows() int {
	return r.total
}

// Close writes the footer.
func (r *RowWriter) Close() error {
	return r.w.Close()
}

// WriteFile writes rows to path atomically using temp file + rename.
func WriteFile(path string, rows []TautomerRow, cfg ParquetConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tempPath := path + ".tmp"
	f, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", tempPath, err)
	}

	w, err := NewRowWriter(f, cfg)
	if err == nil {
		err = w.Write(rows)
	}
	if err == nil {
		err = w.Close()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tempPath)
		return err
	}
	return os.Rename(tempPath, path)
}

// ReadFile reads back a tautomers table.
func ReadFile(path string) ([]TautomerRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return parquet.Read[TautomerRow](f, st.Size())
}
