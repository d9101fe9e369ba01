package partition

import (
	"encoding/json"
	"time"
)

// Status is the status.json document written after a partitioning pass.
type Status struct {
	Overall     Overall                      `json:"overall"`
	Workunits   map[string]PublishedWorkunit `json:"workunits"`
	Collections map[string]int               `json:"collections"`
}

// Overall holds totals of a pass.
type Overall struct {
	Collections int       `json:"collections"`
	Ligands     int       `json:"ligands"`
	Workunits   int       `json:"workunits"`
	Subjobs     int       `json:"subjobs"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewStatus returns an empty status document.
func NewStatus() *Status {
	return &Status{
		Workunits:   map[string]PublishedWorkunit{},
		Collections: map[string]int{},
	}
}

func (s *Status) addCollection(e Entry) {
	s.Collections[e.Key] = e.LigandCount
	s.Overall.Collections++
	s.Overall.Ligands += e.LigandCount
}

func (s *Status) finish() {
	s.Overall.Workunits = len(s.Workunits)
	s.Overall.Subjobs = 0
	for _, w := range s.Workunits {
		s.Overall.Subjobs += len(w.Subjobs)
	}
	s.Overall.CreatedAt = time.Now().UTC()
}

// Marshal renders the document as indented JSON.
func (s *Status) Marshal() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// ParseStatus decodes a status.json document.
func ParseStatus(data []byte) (*Status, error) {
	s := NewStatus()
	if err := json.Unmarshal(data, s); err != nil {
		return nil, err
	}
	return s, nil
}
