// Package tranche converts descriptor values into a fixed-length bucket code,
// one letter per configured descriptor.
package tranche

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/withObsrvr/vflp-ligand-prep/internal/config"
)

// Letters is the ordered letter alphabet.
const Letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// MaxBoundaries is the largest boundary list that still leaves a letter for
// values above the last boundary.
const MaxBoundaries = len(Letters) - 1

// Unmapped is the letter for discrete values without a mapping.
const Unmapped = "X"

var (
	// ErrNonNumeric is returned when a numeric descriptor has a non-numeric value.
	ErrNonNumeric = errors.New("non-numeric tranche value")

	// ErrMissingValue is returned when no value was computed for a descriptor.
	ErrMissingValue = errors.New("missing tranche value")
)

var numericValue = regexp.MustCompile(`^[0-9+\-eE.]+$`)

// Scheme is the validated tranche configuration.
type Scheme struct {
	Types      []string
	Partitions map[string][]float64
	Mappings   map[string]map[string]string
}

// NewScheme validates the tranche settings of a job.
func NewScheme(j *config.Job) (*Scheme, error) {
	s := &Scheme{
		Types:      append([]string(nil), j.TrancheTypes...),
		Partitions: map[string][]float64{},
		Mappings:   map[string]map[string]string{},
	}
	for _, t := range j.TrancheTypes {
		if m, ok := j.TrancheMappings[t]; ok && len(m) > 0 {
			s.Mappings[t] = m
			continue
		}
		raw, ok := j.TranchePartitions[t]
		if !ok || len(raw) == 0 {
			return nil, fmt.Errorf("%w: tranche type %s has neither a partition nor a mapping", config.ErrInvalidConfig, t)
		}
		if len(raw) > MaxBoundaries {
			return nil, fmt.Errorf("%w: tranche type %s has %d boundaries, at most %d are supported",
				config.ErrInvalidConfig, t, len(raw), MaxBoundaries)
		}
		bounds := make([]float64, len(raw))
		for i, v := range raw {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: tranche type %s boundary %q: %v", config.ErrInvalidConfig, t, v, err)
			}
			if i > 0 && f < bounds[i-1] {
				return nil, fmt.Errorf("%w: tranche type %s boundaries are not ascending", config.ErrInvalidConfig, t)
			}
			bounds[i] = f
		}
		s.Partitions[t] = bounds
	}
	return s, nil
}

// Letter buckets value against ascending boundaries: A for value <= b0,
// then one letter further for every boundary value exceeds.
func Letter(boundaries []float64, value float64) byte {
	idx := 0
	for _, b := range boundaries {
		if value > b {
			idx++
		} else {
			break
		}
	}
	return Letters[idx]
}

// Assignment is the outcome of Assign.
type Assignment struct {
	Tranche string
	// Remarks holds one "<type>: <value>" line per type, in order.
	Remarks []string
}

// Assign computes the tranche string from the descriptor values. Any invalid
// numeric value fails the whole assignment.
func (s *Scheme) Assign(values map[string]string) (Assignment, error) {
	out := make([]byte, 0, len(s.Types))
	var remarks []string
	for _, t := range s.Types {
		v, ok := values[t]
		if !ok {
			return Assignment{}, fmt.Errorf("%w for tranche_type:%s", ErrMissingValue, t)
		}
		if m, mapped := s.Mappings[t]; mapped {
			letter, ok := m[v]
			if !ok || letter == "" {
				letter = Unmapped
			}
			out = append(out, letter[0])
			remarks = append(remarks, fmt.Sprintf("%s: %s", t, v))
			continue
		}
		if !numericValue.MatchString(v) {
			return Assignment{}, fmt.Errorf("%w from tranche_type:%s, value was: '%s'", ErrNonNumeric, t, v)
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return Assignment{}, fmt.Errorf("%w from tranche_type:%s, value was: '%s'", ErrNonNumeric, t, v)
		}
		out = append(out, Letter(s.Partitions[t], f))
		remarks = append(remarks, fmt.Sprintf("%s: %s", t, v))
	}
	return Assignment{Tranche: string(out), Remarks: remarks}, nil
}
