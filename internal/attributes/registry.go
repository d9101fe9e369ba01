package attributes

import (
	"context"
	"fmt"
)

// Molecule is the input of one resolution.
type Molecule struct {
	Key      string
	SMI      string
	FileData map[string]string
	// Dir is a scratch directory for engine input files.
	Dir string
}

// Timer receives per-call timings from backends.
type Timer func(name string, seconds float64)

// Backend computes engine-native attribute names for one molecule in a
// single round trip. Every requested name must be present in the result.
type Backend interface {
	Compute(ctx context.Context, mol Molecule, names []string, timer Timer) map[string]Result
}

// Registry maps descriptors to backends.
type Registry struct {
	backends map[string]Backend
}

// NewRegistry creates a registry. The local and file engines are always
// available; remote engines come from backends.
func NewRegistry(backends map[string]Backend) *Registry {
	r := &Registry{backends: map[string]Backend{
		EngineLocal: LocalBackend{},
		EngineFile:  FileBackend{},
	}}
	for name, b := range backends {
		r.backends[name] = b
	}
	return r
}

// Validate checks that every descriptor is known and its primary source has
// a backend.
func (r *Registry) Validate(descriptors []string) error {
	for _, d := range descriptors {
		sources, err := Sources(d)
		if err != nil {
			return err
		}
		if _, ok := r.backends[sources[0].Engine]; !ok {
			return fmt.Errorf("descriptor '%s' needs engine %s, which is not configured", d, sources[0].Engine)
		}
	}
	return nil
}

type pending struct {
	descriptor string
	sources    []Source
	next       int
}

// Resolve computes each distinct descriptor exactly once. Sources are
// grouped by engine so that every backend is called at most once per round;
// a descriptor whose source is unsupported moves on to its next source in
// the following round.
func (r *Registry) Resolve(ctx context.Context, descriptors []string, mol Molecule, timer Timer) map[string]Result {
	results := make(map[string]Result, len(descriptors))
	cache := map[Source]Result{}

	var work []*pending
	seen := map[string]bool{}
	for _, d := range descriptors {
		if seen[d] {
			continue
		}
		seen[d] = true
		sources, err := Sources(d)
		if err != nil {
			results[d] = Failed(err)
			continue
		}
		work = append(work, &pending{descriptor: d, sources: sources})
	}

	for len(work) > 0 {
		var engines []string
		batch := map[string][]string{}
		queued := map[Source]bool{}
		for _, p := range work {
			src := p.sources[p.next]
			if _, done := cache[src]; done || queued[src] {
				continue
			}
			if _, ok := batch[src.Engine]; !ok {
				engines = append(engines, src.Engine)
			}
			batch[src.Engine] = append(batch[src.Engine], src.Name)
			queued[src] = true
		}

		for _, engine := range engines {
			names := batch[engine]
			backend, ok := r.backends[engine]
			var out map[string]Result
			if ok {
				out = backend.Compute(ctx, mol, names, timer)
			}
			for _, name := range names {
				res, found := out[name]
				switch {
				case !ok:
					res = Failedf("engine %s is not configured", engine)
				case !found:
					res = Failedf("engine %s returned no value for %s", engine, name)
				}
				cache[Source{engine, name}] = res
			}
		}

		var next []*pending
		for _, p := range work {
			res := cache[p.sources[p.next]]
			if res.State == StateUnsupported && p.next+1 < len(p.sources) {
				p.next++
				next = append(next, p)
				continue
			}
			results[p.descriptor] = res
		}
		work = next
	}
	return results
}
