// Package pipeline implements the per-ligand transformation: desalting,
// neutralization, stereoisomer and tautomer enumeration, and for every
// tautomer protonation, tranche assignment, 3-D generation, energy check and
// output serialization.
package pipeline

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/withObsrvr/vflp-ligand-prep/internal/metrics"
)

// Status values of a ligand, stereoisomer or tautomer.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// StatusEntry is one audit record, serialised as [stage, {state, text}].
type StatusEntry struct {
	Stage string
	State string
	Text  string
}

type statusDetail struct {
	State string `json:"state"`
	Text  string `json:"text"`
}

func (e StatusEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{e.Stage, statusDetail{State: e.State, Text: e.Text}})
}

func (e *StatusEntry) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 2 {
		return fmt.Errorf("status entry: expected 2 elements, got %d", len(raw))
	}
	var d statusDetail
	if err := json.Unmarshal(raw[0], &e.Stage); err != nil {
		return err
	}
	if err := json.Unmarshal(raw[1], &d); err != nil {
		return err
	}
	e.State, e.Text = d.State, d.Text
	return nil
}

// Timer is one timing record, serialised as [name, seconds].
type Timer struct {
	Name    string
	Seconds float64
}

func (t Timer) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{t.Name, t.Seconds})
}

func (t *Timer) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 2 {
		return fmt.Errorf("timer: expected 2 elements, got %d", len(raw))
	}
	if err := json.Unmarshal(raw[0], &t.Name); err != nil {
		return err
	}
	return json.Unmarshal(raw[1], &t.Seconds)
}

// Trail is the append-only audit trail shared by every tree node.
type Trail struct {
	Status    string        `json:"status"`
	StatusSub []StatusEntry `json:"status_sub"`
	Timers    []Timer       `json:"timers"`
}

func (t *Trail) succeed(stage, text string) {
	t.StatusSub = append(t.StatusSub, StatusEntry{Stage: stage, State: StatusSuccess, Text: text})
}

func (t *Trail) fail(stage, text string) {
	t.StatusSub = append(t.StatusSub, StatusEntry{Stage: stage, State: StatusFailed, Text: text})
}

func (t *Trail) record(name string, seconds float64) {
	t.Timers = append(t.Timers, Timer{Name: name, Seconds: seconds})
}

// since records the time elapsed from start under name and reports it as a
// stage duration.
func (t *Trail) since(name string, start time.Time) {
	s := time.Since(start).Seconds()
	t.record(name, s)
	if m := metrics.Get(); m != nil {
		m.ObserveStage(name, s)
	}
}

// Ligand is the root of one molecule's processing tree. It owns its
// stereoisomers and tautomers.
type Ligand struct {
	Key                string            `json:"key"`
	SMI                string            `json:"smi"`
	FileData           map[string]string `json:"file_data"`
	SMIDesalted        string            `json:"smi_desalted,omitempty"`
	SMINeutralized     string            `json:"smi_neutralized,omitempty"`
	Fragments          int               `json:"number_of_fragments"`
	NeutralizationType string            `json:"neutralization_type,omitempty"`
	Remarks            *Remarks          `json:"remarks"`
	StereoisomerSMILES []string          `json:"stereoisomer_smiles,omitempty"`
	Trail
	Seconds float64 `json:"seconds"`

	Stereoisomers []*Stereoisomer `json:"-"`
	Tautomers     []*Tautomer     `json:"-"`
}

// Stereoisomer is one enumerated stereoisomer of a ligand.
type Stereoisomer struct {
	Key            string   `json:"key"`
	Index          int      `json:"index"`
	SMI            string   `json:"smi"`
	Remarks        *Remarks `json:"remarks"`
	TautomerSMILES []string `json:"tautomer_smiles,omitempty"`
	Trail
	Seconds float64 `json:"seconds"`
}

// Tautomer is one leaf of the processing tree.
type Tautomer struct {
	Key             string            `json:"key"`
	Index           int               `json:"index"`
	SMI             string            `json:"smi"`
	SMIStereoisomer string            `json:"smi_stereoisomer"`
	SMIOriginal     string            `json:"smi_original"`
	SMIProtomer     string            `json:"smi_protomer,omitempty"`
	Attr            map[string]string `json:"attr,omitempty"`
	TrancheString   string            `json:"tranche_string,omitempty"`
	Remarks         *Remarks          `json:"remarks"`
	Trail
	Seconds float64 `json:"seconds"`

	intermediateDir string
	pdbFile         string
}

// Versions holds the engine versions discovered once per worker.
type Versions struct {
	CxCalc       string `json:"cxcalc"`
	Molconvert   string `json:"molconvert"`
	Standardizer string `json:"standardizer"`
	Obabel       string `json:"obabel"`
}

// UnknownVersion is reported for engines that were not queried.
const UnknownVersion = "INVALID"
