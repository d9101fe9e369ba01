package partition

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/withObsrvr/vflp-ligand-prep/internal/metrics"
	"github.com/withObsrvr/vflp-ligand-prep/internal/workunit"
)

// CollectionFunc fills the storage location of a collection reference.
type CollectionFunc func(e Entry) workunit.Collection

// Partitioner packs todo entries into subjobs in a single forward pass.
// Collections with at least Floor ligands become subjobs of their own;
// smaller ones accumulate in a leftover subjob that is sealed once it
// reaches the floor. A workunit is published as soon as it holds MaxSubjobs
// subjobs.
type Partitioner struct {
	floor      int
	maxSubjobs int
	publisher  Publisher
	collection CollectionFunc
	log        *slog.Logger

	index    int
	current  map[string]workunit.Subjob
	leftover workunit.Subjob
	leftN    int

	status *Status
}

// New creates a partitioner. floor and maxSubjobs must be positive.
func New(floor, maxSubjobs int, publisher Publisher, collection CollectionFunc, logger *slog.Logger) (*Partitioner, error) {
	if floor < 1 {
		return nil, fmt.Errorf("ligands per subjob must be positive, got %d", floor)
	}
	if maxSubjobs < 1 {
		return nil, fmt.Errorf("array job size must be positive, got %d", maxSubjobs)
	}
	return &Partitioner{
		floor:      floor,
		maxSubjobs: maxSubjobs,
		publisher:  publisher,
		collection: collection,
		log:        logger.With("component", "partition"),
		index:      1,
		current:    map[string]workunit.Subjob{},
		leftover:   workunit.NewSubjob(),
		status:     NewStatus(),
	}, nil
}

func (p *Partitioner) seal(s workunit.Subjob) {
	p.current[workunit.Key(len(p.current))] = s
	if m := metrics.Get(); m != nil {
		m.IncSubjobsSealed()
	}
}

// Add places one entry.
func (p *Partitioner) Add(ctx context.Context, e Entry) error {
	c := p.collection(e)
	p.status.addCollection(e)

	if e.LigandCount >= p.floor {
		s := workunit.NewSubjob()
		s.Collections[e.Key] = c
		p.seal(s)
	} else {
		p.leftover.Collections[e.Key] = c
		p.leftN += e.LigandCount
		if p.leftN >= p.floor {
			p.seal(p.leftover)
			p.leftover = workunit.NewSubjob()
			p.leftN = 0
		}
	}

	if len(p.current) == p.maxSubjobs {
		return p.publish(ctx)
	}
	return nil
}

// Finish seals the leftover subjob and publishes the last workunit. It
// returns the status document of the whole pass.
func (p *Partitioner) Finish(ctx context.Context) (*Status, error) {
	if len(p.leftover.Collections) > 0 {
		p.seal(p.leftover)
		p.leftover = workunit.NewSubjob()
		p.leftN = 0
	}
	if len(p.current) > 0 {
		if err := p.publish(ctx); err != nil {
			return nil, err
		}
	}
	p.status.finish()
	return p.status, nil
}

func (p *Partitioner) publish(ctx context.Context) error {
	subjobs := p.current
	pub, err := p.publisher.Publish(ctx, p.index, subjobs)
	if err != nil {
		return fmt.Errorf("publish workunit %d: %w", p.index, err)
	}
	p.status.Workunits[workunit.Key(p.index)] = pub
	p.log.Info("workunit published", "workunit", p.index, "subjobs", len(subjobs))

	p.index++
	p.current = map[string]workunit.Subjob{}
	return nil
}
