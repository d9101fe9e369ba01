// Package worker runs one subjob: it fetches the workunit, starts the engine
// session and processes the subjob's collections one after another.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/withObsrvr/vflp-ligand-prep/internal/archive"
	"github.com/withObsrvr/vflp-ligand-prep/internal/audit"
	"github.com/withObsrvr/vflp-ligand-prep/internal/checkpoint"
	"github.com/withObsrvr/vflp-ligand-prep/internal/collection"
	"github.com/withObsrvr/vflp-ligand-prep/internal/config"
	"github.com/withObsrvr/vflp-ligand-prep/internal/engine"
	"github.com/withObsrvr/vflp-ligand-prep/internal/logging"
	"github.com/withObsrvr/vflp-ligand-prep/internal/metadata"
	"github.com/withObsrvr/vflp-ligand-prep/internal/metrics"
	"github.com/withObsrvr/vflp-ligand-prep/internal/pipeline"
	"github.com/withObsrvr/vflp-ligand-prep/internal/storage"
	"github.com/withObsrvr/vflp-ligand-prep/internal/workunit"
)

// Version information (set via ldflags)
var (
	Version = "v0.1.0"
	GitSHA  = "unknown"
)

// ProducerName is recorded in every collection manifest.
const ProducerName = "vflp-ligand-prep"

// ErrSkipSubjob is returned when subjob "1" is absent from its workunit.
// Array jobs need at least two elements, so the extra element exits cleanly.
var ErrSkipSubjob = errors.New("subjob not part of workunit")

// Options wires a Worker. Nil fields get production defaults.
type Options struct {
	Config config.Config

	Runner       engine.Runner
	StartNailgun NailgunStarter
	OpenStore    StoreOpener
	Checkpoints  checkpoint.Manager
	Catalog      metadata.Writer
	Audit        audit.Emitter

	RunID string
}

// Worker processes one subjob.
type Worker struct {
	cfg    config.Config
	opts   Options
	stores *stores
	runID  string
	log    *slog.Logger
}

// New creates a worker.
func New(opts Options, logger *slog.Logger) *Worker {
	if opts.Runner == nil {
		opts.Runner = engine.NewExecRunner(logger)
	}
	if opts.StartNailgun == nil {
		opts.StartNailgun = StartNailgunServer
	}
	if opts.OpenStore == nil {
		opts.OpenStore = storage.New
	}
	if opts.Checkpoints == nil {
		opts.Checkpoints = checkpoint.NewNoopManager()
	}
	if opts.Catalog == nil {
		opts.Catalog = metadata.NewNoopWriter()
	}
	if opts.Audit == nil {
		opts.Audit = audit.NewEmitter(audit.Config{})
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}

	return &Worker{
		cfg:    opts.Config,
		opts:   opts,
		stores: newStores(opts.Config.Storage, opts.OpenStore),
		runID:  opts.RunID,
		log:    logger.With("component", "worker"),
	}
}

// Run processes every collection of the subjob. The engine session is torn
// down on every return path.
func (w *Worker) Run(ctx context.Context) error {
	defer w.stores.Close()
	ctx = logging.WithCorrelationID(ctx, w.runID)

	wu, err := w.stores.fetchWorkunit(ctx)
	if err != nil {
		return err
	}
	sj, err := wu.Subjob(w.cfg.Subjob.Subjob)
	if err != nil {
		if errors.Is(err, workunit.ErrSubjobNotFound) && w.cfg.Subjob.Subjob == "1" {
			w.log.Info("subjob 1 not present in workunit, nothing to do")
			return ErrSkipSubjob
		}
		return err
	}
	job := wu.Config

	out, prefix, err := w.stores.output(ctx, job)
	if err != nil {
		return fmt.Errorf("open output store: %w", err)
	}

	session, err := OpenSession(ctx, job, w.opts.Runner, w.opts.StartNailgun, w.cfg.Engines.NailgunHost, w.log)
	if err != nil {
		return fmt.Errorf("start engine session: %w", err)
	}
	defer session.Close()

	proc, err := pipeline.NewProcessor(job, session.Toolkit, w.log)
	if err != nil {
		return err
	}
	dec, err := archive.NewDecoder()
	if err != nil {
		return err
	}
	defer dec.Close()

	cp, err := w.opts.Checkpoints.Load(ctx, w.cfg.Subjob.Workunit, w.cfg.Subjob.Subjob)
	if err != nil {
		if !errors.Is(err, checkpoint.ErrNoCheckpoint) {
			return fmt.Errorf("load checkpoint: %w", err)
		}
		cp = checkpoint.New(w.runID, w.cfg.Subjob.Workunit, w.cfg.Subjob.Subjob)
	} else {
		w.log.Info("resuming from checkpoint", "completed", len(cp.Completed))
	}

	r := &subjobRun{
		w:    w,
		job:  job,
		proc: proc,
		exec: collection.NewExecutor(proc, w.cfg.Perf.VCPUs, w.cfg.Perf.RunSequential, w.log),
		pack: collection.NewPackager(out, collection.PackagerConfig{
			Prefix:           prefix,
			Formats:          job.TargetFormats,
			KeepIntermediate: bool(job.StoreAllIntermediateLogs),
			Workunit:         w.cfg.Subjob.Workunit,
			Subjob:           w.cfg.Subjob.Subjob,
			Producer:         storage.ProducerInfo{Name: ProducerName, Version: Version, RunID: w.runID},
		}, w.log),
		dec:      dec,
		cp:       cp,
		versions: session.Toolkit.Versions(),
	}

	collections := sj.Ordered()
	w.log.Info("processing subjob",
		"collections", len(collections),
		"ligands", sj.LigandCount(),
		"vcpus", w.cfg.Perf.VCPUs,
		"sequential", w.cfg.Perf.RunSequential,
	)

	start := time.Now()
	processed, skipped := 0, 0
	for _, c := range collections {
		if err := ctx.Err(); err != nil {
			return err
		}
		done, err := r.collection(ctx, c)
		if err != nil {
			return fmt.Errorf("collection %s: %w", c.Key(), err)
		}
		if done {
			processed++
		} else {
			skipped++
		}
	}

	w.log.Info("subjob complete",
		"processed", processed,
		"skipped", skipped,
		"duration", time.Since(start).String(),
	)
	return nil
}

// subjobRun holds the state shared by the collections of one subjob.
type subjobRun struct {
	w        *Worker
	job      *config.Job
	proc     *pipeline.Processor
	exec     *collection.Executor
	pack     *collection.Packager
	dec      *archive.Decoder
	cp       *checkpoint.Checkpoint
	versions pipeline.Versions
}

// collection processes one collection. It reports false when the collection
// was already complete.
func (r *subjobRun) collection(ctx context.Context, c workunit.Collection) (bool, error) {
	w := r.w
	key := c.Key()
	log := logging.CollectionLogger(w.log, key, c.LigandCount)

	if r.cp.Done(key) {
		log.Info("collection already checkpointed, skipping")
		if m := metrics.Get(); m != nil {
			m.IncCollectionsSkipped()
		}
		return false, nil
	}
	completed, err := w.opts.Catalog.CollectionCompleted(ctx, r.job.JobName, key)
	if err != nil {
		log.Warn("catalog lookup failed", "error", err)
		if m := metrics.Get(); m != nil {
			m.IncCatalogErrors()
		}
	} else if completed {
		log.Info("collection already in catalog, skipping")
		if m := metrics.Get(); m != nil {
			m.IncCollectionsSkipped()
		}
		return false, nil
	}

	start := time.Now()

	src, srcKey, err := w.stores.library(ctx, r.job, c)
	if err != nil {
		return false, fmt.Errorf("open library: %w", err)
	}
	fieldnames := c.Fieldnames
	if len(fieldnames) == 0 {
		fieldnames = r.job.FileFieldnames
	}
	inputs, err := collection.Load(ctx, src, srcKey, fieldnames, r.dec, log)
	if err != nil {
		return false, err
	}

	root, err := os.MkdirTemp(w.cfg.Perf.TmpPath, "vflp-"+key+"-")
	if err != nil {
		return false, fmt.Errorf("create working directory: %w", err)
	}
	defer os.RemoveAll(root)

	tmp := filepath.Join(root, "tmp")
	if err := os.MkdirAll(tmp, 0755); err != nil {
		return false, fmt.Errorf("create scratch directory: %w", err)
	}

	layout := pipeline.Layout{
		Root:        root,
		Temp:        tmp,
		Metatranche: c.Metatranche,
		Tranche:     c.Tranche,
		Collection:  c.CollectionName,
	}

	log.Info("collection started", "inputs", len(inputs))
	ligands := r.exec.Run(ctx, layout, inputs)
	summary := collection.Summarize(ligands, time.Since(start).Seconds())

	manifest, err := r.pack.Package(ctx, layout, summary)
	if err != nil {
		if m := metrics.Get(); m != nil {
			m.IncCollection("failed")
		}
		return false, err
	}

	elapsed := time.Since(start).Seconds()
	counts := summary.Counts()
	if m := metrics.Get(); m != nil {
		m.IncCollection("success")
		m.ObserveCollectionDuration(elapsed)
	}
	log.Info("collection complete",
		"ligands_failed", counts.LigandsFailed,
		"tautomers", counts.Tautomers,
		"tautomers_success", counts.TautomersSuccess,
		"seconds", fmt.Sprintf("%.2f", elapsed),
	)

	r.cp.MarkDone(key)
	if err := w.opts.Checkpoints.Save(ctx, r.cp); err != nil {
		log.Warn("failed to save checkpoint", "error", err)
	}

	rec := metadata.CollectionRecord{
		Job:              r.job.JobName,
		RunID:            w.runID,
		Workunit:         w.cfg.Subjob.Workunit,
		Subjob:           w.cfg.Subjob.Subjob,
		CollectionKey:    key,
		Ligands:          counts.Ligands,
		LigandsFailed:    counts.LigandsFailed,
		Tautomers:        counts.Tautomers,
		TautomersSuccess: counts.TautomersSuccess,
		Seconds:          elapsed,
		StatusKey:        manifest.Artifacts[collection.OutputStatus].Key,
		Checksums:        map[string]string{},
		Versions: map[string]string{
			"cxcalc":       r.versions.CxCalc,
			"molconvert":   r.versions.Molconvert,
			"standardizer": r.versions.Standardizer,
			"obabel":       r.versions.Obabel,
		},
		FinishedAt: time.Now().UTC(),
	}
	for name, a := range manifest.Artifacts {
		rec.Checksums[name] = a.Checksum
	}
	if err := w.opts.Catalog.RecordCollection(ctx, rec); err != nil {
		log.Warn("failed to record collection in catalog", "error", err)
		if m := metrics.Get(); m != nil {
			m.IncCatalogErrors()
		}
	}

	if err := w.opts.Audit.EmitCollection(ctx, r.auditEvent(rec, manifest)); err != nil {
		log.Warn("failed to emit audit event", "error", err)
	}
	return true, nil
}

func (r *subjobRun) auditEvent(rec metadata.CollectionRecord, manifest *storage.Manifest) audit.Event {
	evt := audit.Event{
		Collection: audit.CollectionInfo{
			Job:              rec.Job,
			Workunit:         rec.Workunit,
			Subjob:           rec.Subjob,
			Key:              rec.CollectionKey,
			Ligands:          rec.Ligands,
			LigandsFailed:    rec.LigandsFailed,
			Tautomers:        rec.Tautomers,
			TautomersSuccess: rec.TautomersSuccess,
		},
		Artifacts: make(map[string]audit.ArtifactInfo, len(manifest.Artifacts)),
		Engines:   rec.Versions,
		Producer: audit.ProducerInfo{
			Name:    ProducerName,
			Version: Version,
			GitSHA:  GitSHA,
			RunID:   rec.RunID,
		},
	}
	for name, a := range manifest.Artifacts {
		evt.Artifacts[name] = audit.ArtifactInfo{Checksum: a.Checksum, StoragePath: a.Key, ByteSize: a.ByteSize}
	}
	return evt
}
