package pipeline

import (
	"encoding/json"
	"strings"
)

// Remark keys.
const (
	RemarkBasic             = "basic"
	RemarkCompound          = "compound"
	RemarkSmiles            = "smiles"
	RemarkDesalting         = "desalting"
	RemarkNeutralization    = "neutralization"
	RemarkStereoisomer      = "stereoisomer"
	RemarkTautomerization   = "tautomerization"
	RemarkProtonation       = "protonation"
	RemarkGeneration        = "generation"
	RemarkConformation      = "conformation"
	RemarkTargetFormat      = "targetformat"
	RemarkTrancheAssignment = "trancheassignment"
	RemarkTrancheAttr       = "trancheassignment_attr"
	RemarkTrancheString     = "tranche_str"
	RemarkDate              = "date"
	RemarkCollectionKey     = "collection_key"
)

// DefaultRemarkOrder is the order remarks are written into output files.
var DefaultRemarkOrder = []string{
	RemarkBasic, RemarkCompound, RemarkSmiles,
	RemarkDesalting, RemarkNeutralization, RemarkTautomerization,
	RemarkProtonation, RemarkGeneration, RemarkConformation,
	RemarkTargetFormat, RemarkTrancheAssignment, RemarkTrancheAttr,
	RemarkTrancheString, RemarkDate, RemarkCollectionKey,
}

// Remarks are the provenance lines carried into output files. Each tree
// node holds its own copy.
type Remarks struct {
	lines map[string]string
	attrs []string
}

// NewRemarks returns an empty remark set.
func NewRemarks() *Remarks {
	return &Remarks{lines: map[string]string{}}
}

// Set stores a remark line. An empty value hides the remark.
func (r *Remarks) Set(key, value string) {
	r.lines[key] = value
}

// Get returns a remark line.
func (r *Remarks) Get(key string) string {
	return r.lines[key]
}

// SetAttrs replaces the descriptor lines of the tranche assignment.
func (r *Remarks) SetAttrs(attrs []string) {
	r.attrs = append([]string(nil), attrs...)
}

// Attrs returns the descriptor lines.
func (r *Remarks) Attrs() []string {
	return r.attrs
}

// Clone returns an independent copy.
func (r *Remarks) Clone() *Remarks {
	c := &Remarks{lines: make(map[string]string, len(r.lines))}
	for k, v := range r.lines {
		c.lines[k] = v
	}
	c.attrs = append([]string(nil), r.attrs...)
	return c
}

// Render writes the remarks in order, one per line, each prefixed. List
// entries become " * " bullet lines.
func (r *Remarks) Render(order []string, prefix string) string {
	var parts []string
	for _, key := range order {
		if key == RemarkTrancheAttr {
			for _, a := range r.attrs {
				if a != "" {
					parts = append(parts, prefix+" * "+a)
				}
			}
			continue
		}
		if v := r.lines[key]; v != "" {
			parts = append(parts, prefix+v)
		}
	}
	return strings.Join(parts, "\n")
}

func (r *Remarks) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.lines)+1)
	for k, v := range r.lines {
		out[k] = v
	}
	if r.attrs != nil {
		out[RemarkTrancheAttr] = r.attrs
	}
	return json.Marshal(out)
}

func (r *Remarks) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.lines = make(map[string]string, len(raw))
	r.attrs = nil
	for k, v := range raw {
		if k == RemarkTrancheAttr {
			if err := json.Unmarshal(v, &r.attrs); err != nil {
				return err
			}
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return err
		}
		r.lines[k] = s
	}
	return nil
}
