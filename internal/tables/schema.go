// Package tables defines the tautomers table exported from collection
// summaries and writes it as parquet.
package tables

import (
	"time"
)

// TautomerRow is one row of the tautomers table: the outcome of a single
// tautomer with the identity of the ligand and collection it came from.
type TautomerRow struct {
	// Placement
	Workunit      string `parquet:"workunit"`
	Subjob        string `parquet:"subjob"`
	CollectionKey string `parquet:"collection_key"`
	Metatranche   string `parquet:"metatranche"`
	Tranche       string `parquet:"tranche"`

	// Identity
	LigandKey   string `parquet:"ligand_key"`
	TautomerKey string `parquet:"tautomer_key"`

	// Outcome
	LigandStatus string `parquet:"ligand_status"`
	Status       string `parquet:"status"`
	FailedStage  string `parquet:"failed_stage"` // first failed stage, empty on success
	FailedReason string `parquet:"failed_reason"`

	// Structures
	SMI           string `parquet:"smi"`
	SMIProtomer   string `parquet:"smi_protomer"`
	TrancheString string `parquet:"tranche_string"`
	Attributes    string `parquet:"attributes"` // JSON object

	Seconds float64 `parquet:"seconds"`

	ExportedAt time.Time `parquet:"exported_at,timestamp(millisecond)"`
}

// TableName returns the canonical table name.
func (TautomerRow) TableName() string {
	return "tautomers"
}

// ParquetConfig configures parquet output generation.
type ParquetConfig struct {
	Compression  string // "snappy" | "zstd" | "gzip" | "none"
	RowGroupSize int
}

// DefaultParquetConfig returns sensible defaults.
func DefaultParquetConfig() ParquetConfig {
	return ParquetConfig{
		Compression:  "zstd",
		RowGroupSize: 10000,
	}
}

// SchemaVersion is stored in the parquet footer.
// Increment this when making breaking changes.
const SchemaVersion = "1.0.0"
