package collection

import (
	"os"
	"path/filepath"

	"github.com/withObsrvr/vflp-ligand-prep/internal/archive"
	"github.com/withObsrvr/vflp-ligand-prep/internal/pipeline"
)

// Summary is the per-collection status document.
type Summary struct {
	Ligands map[string]*LigandSummary `json:"ligands"`
	Seconds float64                   `json:"seconds"`
}

// LigandSummary is the status of one ligand with its whole tree.
type LigandSummary struct {
	Timers        []pipeline.Timer                  `json:"timers"`
	Status        string                            `json:"status"`
	StatusSub     []pipeline.StatusEntry            `json:"status_sub"`
	Tautomers     map[string]*pipeline.Tautomer     `json:"tautomers"`
	Stereoisomers map[string]*pipeline.Stereoisomer `json:"stereoisomers"`
	Seconds       float64                           `json:"seconds"`
}

// Counts tallies ligands and tautomers by status.
type Counts struct {
	Ligands          int
	LigandsFailed    int
	Tautomers        int
	TautomersSuccess int
}

// Summarize builds the summary of processed ligands.
func Summarize(ligands []*pipeline.Ligand, seconds float64) *Summary {
	s := &Summary{Ligands: make(map[string]*LigandSummary, len(ligands)), Seconds: seconds}
	for _, lig := range ligands {
		ls := &LigandSummary{
			Timers:        lig.Timers,
			Status:        lig.Status,
			StatusSub:     lig.StatusSub,
			Tautomers:     make(map[string]*pipeline.Tautomer, len(lig.Tautomers)),
			Stereoisomers: make(map[string]*pipeline.Stereoisomer, len(lig.Stereoisomers)),
			Seconds:       lig.Seconds,
		}
		for _, t := range lig.Tautomers {
			ls.Tautomers[t.Key] = t
		}
		for _, st := range lig.Stereoisomers {
			ls.Stereoisomers[st.Key] = st
		}
		s.Ligands[lig.Key] = ls
	}
	return s
}

// Counts returns the status tallies of the summary.
func (s *Summary) Counts() Counts {
	var c Counts
	for _, l := range s.Ligands {
		c.Ligands++
		if l.Status != pipeline.StatusSuccess {
			c.LigandsFailed++
		}
		for _, t := range l.Tautomers {
			c.Tautomers++
			if t.Status == pipeline.StatusSuccess {
				c.TautomersSuccess++
			}
		}
	}
	return c
}

// WriteFile writes the summary as gzip-compressed JSON.
func (s *Summary) WriteFile(path string) error {
	data, err := archive.MarshalGzipJSON(s)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// DecodeSummary parses a gzip-compressed summary.
func DecodeSummary(data []byte) (*Summary, error) {
	var s Summary
	if err := archive.UnmarshalGzipJSON(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
