package collection

import (
	"context"
	"log/slog"
	"sync"

	"github.com/withObsrvr/vflp-ligand-prep/internal/logging"
	"github.com/withObsrvr/vflp-ligand-prep/internal/pipeline"
)

// LigandProcessor runs the transformation of one ligand.
type LigandProcessor interface {
	ProcessLigand(ctx context.Context, layout pipeline.Layout, in pipeline.Input) *pipeline.Ligand
}

// Executor fans the ligands of one collection out over a fixed pool of
// workers. Ligands share no mutable state, so results only need to be put
// back into input order.
type Executor struct {
	proc       LigandProcessor
	workers    int
	sequential bool
	log        *slog.Logger
}

// NewExecutor creates an executor. workers < 1 means one worker.
func NewExecutor(proc LigandProcessor, workers int, sequential bool, logger *slog.Logger) *Executor {
	if workers < 1 {
		workers = 1
	}
	return &Executor{
		proc:       proc,
		workers:    workers,
		sequential: sequential,
		log:        logger.With("component", "executor"),
	}
}

type task struct {
	index int
	in    pipeline.Input
}

// Run processes every input and returns the ligands in input order.
func (e *Executor) Run(ctx context.Context, layout pipeline.Layout, inputs []pipeline.Input) []*pipeline.Ligand {
	out := make([]*pipeline.Ligand, len(inputs))
	if e.sequential || e.workers == 1 || len(inputs) < 2 {
		for i, in := range inputs {
			out[i] = e.proc.ProcessLigand(ctx, layout, in)
		}
		return out
	}

	workers := e.workers
	if workers > len(inputs) {
		workers = len(inputs)
	}
	e.log.Debug("starting ligand pool", "workers", workers, "ligands", len(inputs))

	queue := make(chan task, workers*2)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			wlog := logging.WorkerLogger(e.log, id)
			n := 0
			for t := range queue {
				// Each worker writes only its own slots.
				out[t.index] = e.proc.ProcessLigand(ctx, layout, t.in)
				n++
			}
			wlog.Debug("worker finished", "ligands", n)
		}(w)
	}

	for i, in := range inputs {
		queue <- task{index: i, in: in}
	}
	close(queue)
	wg.Wait()
	return out
}
