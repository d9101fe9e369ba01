package pipeline

import (
	"context"

	"github.com/withObsrvr/vflp-ligand-prep/internal/attributes"
)

// Scratch is where an engine call may place input files and, when KeepLogs
// is set, its captured output.
type Scratch struct {
	Dir      string
	KeepLogs bool
}

// Toolkit is the set of chemistry engines the pipeline drives. Each method
// that takes an engine name serves one fallback candidate.
type Toolkit interface {
	Neutralize(ctx context.Context, engine, smi string, s Scratch) (string, error)
	Stereoisomers(ctx context.Context, engine, smi string, s Scratch) ([]string, error)
	Tautomers(ctx context.Context, engine, smi string, s Scratch) ([]string, error)
	Protonate(ctx context.Context, engine, smi string, s Scratch) (string, error)

	// Conformation writes an unprocessed 3-D PDB to out.
	Conformation(ctx context.Context, engine, smi, out string, s Scratch) error

	// GeneratePDB writes a PDB without conformation search to out.
	GeneratePDB(ctx context.Context, smi, out string, s Scratch) error

	// Energy returns the potential energy of a PDB file in kJ/mol together
	// with the raw engine output.
	Energy(ctx context.Context, pdb string, s Scratch) (float64, []string, error)

	// Convert writes pdb converted to format into out.
	Convert(ctx context.Context, pdb, format, out string, s Scratch) error

	// AttributeBackends returns the remote descriptor engines.
	AttributeBackends() map[string]attributes.Backend

	Versions() Versions
}
