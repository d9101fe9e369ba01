package tables

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/withObsrvr/vflp-ligand-prep/internal/collection"
	"github.com/withObsrvr/vflp-ligand-prep/internal/pipeline"
	"github.com/withObsrvr/vflp-ligand-prep/internal/workunit"
)

// Extractor converts collection summaries into table rows.
type Extractor struct {
	now func() time.Time
}

// NewExtractor creates a new row extractor.
func NewExtractor() *Extractor {
	return &Extractor{now: time.Now}
}

// Placement identifies where a collection was processed.
type Placement struct {
	Workunit   string
	Subjob     string
	Collection workunit.Collection
}

// ExtractTautomers returns one row per tautomer of the summary, ordered by
// ligand then tautomer key.
func (e *Extractor) ExtractTautomers(p Placement, s *collection.Summary) []TautomerRow {
	exported := e.now().UTC()

	ligands := make([]string, 0, len(s.Ligands))
	for k := range s.Ligands {
		ligands = append(ligands, k)
	}
	sort.Strings(ligands)

	var rows []TautomerRow
	for _, lk := range ligands {
		lig := s.Ligands[lk]
		keys := make([]string, 0, len(lig.Tautomers))
		for k := range lig.Tautomers {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, tk := range keys {
			t := lig.Tautomers[tk]
			row := TautomerRow{
				Workunit:      p.Workunit,
				Subjob:        p.Subjob,
				CollectionKey: p.Collection.Key(),
				Metatranche:   p.Collection.Metatranche,
				Tranche:       p.Collection.Tranche,
				LigandKey:     lk,
				TautomerKey:   tk,
				LigandStatus:  lig.Status,
				Status:        t.Status,
				SMI:           t.SMI,
				SMIProtomer:   t.SMIProtomer,
				TrancheString: t.TrancheString,
				Attributes:    attributesJSON(t.Attr),
				Seconds:       t.Seconds,
				ExportedAt:    exported,
			}
			if stage, reason, ok := firstFailure(t.StatusSub); ok {
				row.FailedStage = stage
				row.FailedReason = reason
			}
			rows = append(rows, row)
		}
	}
	return rows
}

func firstFailure(entries []pipeline.StatusEntry) (string, string, bool) {
	for _, e := range entries {
		if e.State != pipeline.StatusSuccess {
			return e.Stage, e.Text, true
		}
	}
	return "", "", false
}

func attributesJSON(attr map[string]string) string {
	if len(attr) == 0 {
		return "{}"
	}
	data, err := json.Marshal(attr)
	if err != nil {
		return "{}"
	}
	return string(data)
}
