// Package report aggregates the collection summaries of finished subjobs.
package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"

	"github.com/withObsrvr/vflp-ligand-prep/internal/collection"
	"github.com/withObsrvr/vflp-ligand-prep/internal/partition"
	"github.com/withObsrvr/vflp-ligand-prep/internal/pipeline"
	"github.com/withObsrvr/vflp-ligand-prep/internal/storage"
	"github.com/withObsrvr/vflp-ligand-prep/internal/tables"
)

// ErrUnknownWorkunit is returned when the first requested workunit is not in
// status.json.
var ErrUnknownWorkunit = errors.New("workunit not found")

// SubjobDetail counts the ligands of one subjob.
type SubjobDetail struct {
	Workunit   string
	Subjob     string
	Original   int // input ligands
	Expanded   int // tautomers
	Successful int // successful tautomers
	Missing    int // collections without a summary
}

// CategoryCount counts stage outcomes across tautomers.
type CategoryCount struct {
	Success int
	Failed  int
}

// Details is the aggregate over a range of workunits.
type Details struct {
	Subjobs    []SubjobDetail
	Categories map[string]*CategoryCount
	Rows       []tables.TautomerRow
}

// Options selects what Collect reads.
type Options struct {
	Prefix string // job output prefix in the store
	First  int
	Last   int  // 0 means First only
	Rows   bool // extract per-tautomer rows
}

// Collect reads the summaries of every collection of the selected
// workunits. Missing summaries are logged and counted; other read errors
// are returned.
func Collect(ctx context.Context, store storage.Store, status *partition.Status, opts Options, logger *slog.Logger) (*Details, error) {
	log := logger.With("component", "report")

	first := strconv.Itoa(opts.First)
	if _, ok := status.Workunits[first]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorkunit, first)
	}
	last := opts.Last
	if last < opts.First {
		last = opts.First
	}

	d := &Details{Categories: map[string]*CategoryCount{}}
	ex := tables.NewExtractor()

	for i := opts.First; i <= last; i++ {
		wuKey := strconv.Itoa(i)
		wu, ok := status.Workunits[wuKey]
		if !ok {
			log.Warn("workunit not found", "workunit", wuKey)
			continue
		}

		for _, sjKey := range sortedKeys(wu.Subjobs) {
			sd := SubjobDetail{Workunit: wuKey, Subjob: sjKey}
			for _, c := range wu.Subjobs[sjKey].Ordered() {
				key := collection.RemoteKey(opts.Prefix, collection.OutputStatus, c.Metatranche, c.Tranche, c.CollectionName, "json.gz")
				data, err := store.Get(ctx, key)
				if err != nil {
					if errors.Is(err, storage.ErrNotFound) {
						log.Warn("no summary for collection", "collection", c.Key(), "key", key)
						sd.Missing++
						continue
					}
					return nil, err
				}
				s, err := collection.DecodeSummary(data)
				if err != nil {
					return nil, fmt.Errorf("decode %s: %w", key, err)
				}
				d.add(&sd, s)
				if opts.Rows {
					d.Rows = append(d.Rows, ex.ExtractTautomers(tables.Placement{
						Workunit: wuKey, Subjob: sjKey, Collection: c,
					}, s)...)
				}
			}
			d.Subjobs = append(d.Subjobs, sd)
		}
	}
	return d, nil
}

func (d *Details) add(sd *SubjobDetail, s *collection.Summary) {
	for _, lig := range s.Ligands {
		sd.Original++
		for _, t := range lig.Tautomers {
			sd.Expanded++
			if t.Status == pipeline.StatusSuccess {
				sd.Successful++
			}
			for _, e := range t.StatusSub {
				c, ok := d.Categories[e.Stage]
				if !ok {
					c = &CategoryCount{}
					d.Categories[e.Stage] = c
				}
				if e.State == pipeline.StatusSuccess {
					c.Success++
				} else {
					c.Failed++
				}
			}
		}
	}
}

// Print writes one line per subjob followed by the per-category counts.
func (d *Details) Print(w io.Writer) {
	for _, s := range d.Subjobs {
		fmt.Fprintf(w, "%s:%s: original: %d, expanded: %d, successful: %d", s.Workunit, s.Subjob, s.Original, s.Expanded, s.Successful)
		if s.Missing > 0 {
			fmt.Fprintf(w, ", missing collections: %d", s.Missing)
		}
		fmt.Fprintln(w)
	}
	for _, name := range sortedKeys(d.Categories) {
		c := d.Categories[name]
		fmt.Fprintf(w, "%s: %d, failed: %d\n", name, c.Success, c.Failed)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, errA := strconv.Atoi(keys[i])
		b, errB := strconv.Atoi(keys[j])
		if errA == nil && errB == nil {
			return a < b
		}
		return keys[i] < keys[j]
	})
	return keys
}
