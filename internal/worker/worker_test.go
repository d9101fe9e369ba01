package worker

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/withObsrvr/vflp-ligand-prep/internal/archive"
	"github.com/withObsrvr/vflp-ligand-prep/internal/audit"
	"github.com/withObsrvr/vflp-ligand-prep/internal/checkpoint"
	"github.com/withObsrvr/vflp-ligand-prep/internal/collection"
	"github.com/withObsrvr/vflp-ligand-prep/internal/config"
	"github.com/withObsrvr/vflp-ligand-prep/internal/engine"
	"github.com/withObsrvr/vflp-ligand-prep/internal/logging"
	"github.com/withObsrvr/vflp-ligand-prep/internal/metadata"
	"github.com/withObsrvr/vflp-ligand-prep/internal/workunit"
)

const testPDB = `COMPND    UNNAMED
HETATM    1  C   UNL     1       1.000   0.000   0.000  1.00  0.00           C
HETATM    2  O   UNL     1       0.000   1.200   0.000  1.00  0.00           O
END
`

func testLogger() *slog.Logger {
	return logging.Discard()
}

func argAfter(args []string, flag string) string {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

// obabelOnly answers the Open Babel calls of a job that needs no ChemAxon
// program.
func obabelOnly(cmd engine.Command) (*engine.Result, error) {
	if cmd.Path != "obabel" {
		return nil, engine.Failure(cmd, engine.ErrExitCode, "unexpected program")
	}
	if len(cmd.Args) == 1 && cmd.Args[0] == "-V" {
		return &engine.Result{Stdout: "Open Babel 3.1.0 -- Oct 20 2020\n"}, nil
	}
	out := argAfter(cmd.Args, "-O")
	if out == "" {
		return &engine.Result{}, nil
	}
	content := testPDB
	if strings.HasSuffix(out, ".smi") {
		content = "CCO\n"
	}
	if err := os.WriteFile(out, []byte(content), 0644); err != nil {
		return nil, err
	}
	return &engine.Result{Stdout: "1 molecule converted\n"}, nil
}

func testJob(root string) *config.Job {
	return &config.Job{
		JobName:                    "job1",
		ThreadsToUse:               1,
		JobStorageMode:             config.StorageSharedFS,
		SharedFSWorkflowPath:       filepath.Join(root, "workflow"),
		SharedFSCollectionPath:     filepath.Join(root, "library"),
		FileFieldnames:             []string{"smi", "ligand-name"},
		Desalting:                  true,
		ProtonationStateGeneration: true,
		ProtonationProgram1:        "obabel",
		ConformationGeneration:     true,
		ConformationProgram1:       "obabel",
		TargetFormats:              []string{"pdb", "smi"},
	}
}

// writeFixture lays out a workunit with one subjob holding one collection.
func writeFixture(t *testing.T, root string, subjobs ...string) string {
	t.Helper()
	job := testJob(root)

	gz, err := archive.Gzip([]byte("CCO\tL1\nCC(=O)O.[Na+]\tL2\n"))
	if err != nil {
		t.Fatal(err)
	}
	lib := filepath.Join(job.SharedFSCollectionPath, workunit.LibraryPath("AA", "AAAA", "coll1"))
	if err := os.MkdirAll(filepath.Dir(lib), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(lib, gz, 0644); err != nil {
		t.Fatal(err)
	}

	wu := &workunit.Workunit{Config: job, Subjobs: map[string]workunit.Subjob{}}
	for _, idx := range subjobs {
		sj := workunit.NewSubjob()
		c := workunit.Collection{Metatranche: "AA", Tranche: "AAAA", CollectionName: "coll1", LigandCount: 2}
		sj.Collections[c.Key()] = c
		wu.Subjobs[idx] = sj
	}
	data, err := workunit.Encode(wu)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(root, "workunits", "1.json.gz")
	os.MkdirAll(filepath.Dir(path), 0755)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func workerConfig(t *testing.T, workunitJSON, subjob string) config.Config {
	return config.Config{
		Subjob:  config.SubjobConfig{Workunit: "1", Subjob: subjob},
		Storage: config.StorageConfig{Mode: config.StorageSharedFS, WorkunitJSON: workunitJSON},
		Engines: config.EngineConfig{NailgunHost: "localhost"},
		Perf:    config.PerfConfig{VCPUs: 2, TmpPath: t.TempDir()},
	}
}

type memCheckpoints struct {
	mu    sync.Mutex
	saved map[string]*checkpoint.Checkpoint
}

func (m *memCheckpoints) Load(ctx context.Context, workunit, subjob string) (*checkpoint.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.saved[workunit+"/"+subjob]
	if !ok {
		return nil, checkpoint.ErrNoCheckpoint
	}
	return cp, nil
}

func (m *memCheckpoints) Save(ctx context.Context, cp *checkpoint.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saved == nil {
		m.saved = map[string]*checkpoint.Checkpoint{}
	}
	m.saved[cp.Workunit+"/"+cp.Subjob] = cp
	return nil
}

type memCatalog struct {
	mu      sync.Mutex
	records []metadata.CollectionRecord
}

func (c *memCatalog) RecordCollection(ctx context.Context, rec metadata.CollectionRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, rec)
	return nil
}

func (c *memCatalog) CollectionCompleted(ctx context.Context, job, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.records {
		if r.Job == job && r.CollectionKey == key {
			return true, nil
		}
	}
	return false, nil
}

func (c *memCatalog) Close() error { return nil }

type memAudit struct {
	mu     sync.Mutex
	events []audit.Event
}

func (a *memAudit) EmitCollection(ctx context.Context, evt audit.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, evt)
	return nil
}

func (a *memAudit) Close() error { return nil }

func noNailgun(t *testing.T) NailgunStarter {
	return func(context.Context, engine.ServerOptions, *slog.Logger) (engine.Nailgun, func(), error) {
		t.Error("nailgun should not be started")
		return engine.Nailgun{}, func() {}, nil
	}
}

func TestRunSharedFS(t *testing.T) {
	root := t.TempDir()
	wuPath := writeFixture(t, root, "1", "2")

	runner := &engine.FakeRunner{Handler: obabelOnly}
	cps := &memCheckpoints{}
	cat := &memCatalog{}
	aud := &memAudit{}
	w := New(Options{
		Config:       workerConfig(t, wuPath, "1"),
		Runner:       runner,
		StartNailgun: noNailgun(t),
		Checkpoints:  cps,
		Catalog:      cat,
		Audit:        aud,
		RunID:        "run-1",
	}, testLogger())

	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	workflow := filepath.Join(root, "workflow")
	for _, key := range []string{
		collection.RemoteKey("", "status", "AA", "AAAA", "coll1", "json.gz"),
		collection.RemoteKey("", "pdb", "AA", "AAAA", "coll1", "tar.gz"),
		collection.RemoteKey("", "smi", "AA", "AAAA", "coll1", "tar.gz"),
		collection.ManifestKey("", "AA", "AAAA", "coll1"),
	} {
		if _, err := os.Stat(filepath.Join(workflow, key)); err != nil {
			t.Errorf("missing output %s: %v", key, err)
		}
	}

	data, err := os.ReadFile(filepath.Join(workflow, collection.RemoteKey("", "status", "AA", "AAAA", "coll1", "json.gz")))
	if err != nil {
		t.Fatal(err)
	}
	summary, err := collection.DecodeSummary(data)
	if err != nil {
		t.Fatalf("DecodeSummary: %v", err)
	}
	if len(summary.Ligands) != 2 {
		t.Fatalf("summary ligands = %d", len(summary.Ligands))
	}
	for key, l := range summary.Ligands {
		if l.Status != "success" {
			t.Errorf("ligand %s status = %s", key, l.Status)
		}
	}

	cp := cps.saved["1/1"]
	if cp == nil || !cp.Done("AA_AAAA_coll1") {
		t.Errorf("checkpoint = %+v", cp)
	}
	if len(cat.records) != 1 {
		t.Fatalf("catalog records = %d", len(cat.records))
	}
	rec := cat.records[0]
	if rec.RunID != "run-1" || rec.Ligands != 2 || rec.Versions["obabel"] != "3.1.0" {
		t.Errorf("record = %+v", rec)
	}
	if rec.Checksums["status"] == "" {
		t.Errorf("record checksums = %v", rec.Checksums)
	}
	if len(runner.CallsMatching("-osmi")) != 2 {
		t.Errorf("protonation calls = %d", len(runner.CallsMatching("-osmi")))
	}

	if len(aud.events) != 1 {
		t.Fatalf("audit events = %d", len(aud.events))
	}
	evt := aud.events[0]
	if evt.Collection.ChainKey() != "job1/1/1" || evt.Producer.RunID != "run-1" {
		t.Errorf("audit event = %+v", evt)
	}
	if evt.Artifacts["pdb"].Checksum != rec.Checksums["pdb"] {
		t.Errorf("audit pdb checksum = %q, want %q", evt.Artifacts["pdb"].Checksum, rec.Checksums["pdb"])
	}
}

func TestRunResumesFromCheckpoint(t *testing.T) {
	root := t.TempDir()
	wuPath := writeFixture(t, root, "1", "2")

	cp := checkpoint.New("old", "1", "1")
	cp.MarkDone("AA_AAAA_coll1")
	cps := &memCheckpoints{saved: map[string]*checkpoint.Checkpoint{"1/1": cp}}
	cat := &memCatalog{}
	runner := &engine.FakeRunner{Handler: obabelOnly}

	w := New(Options{
		Config:       workerConfig(t, wuPath, "1"),
		Runner:       runner,
		StartNailgun: noNailgun(t),
		Checkpoints:  cps,
		Catalog:      cat,
	}, testLogger())
	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(runner.CallsMatching("-O")) != 0 {
		t.Errorf("checkpointed collection was processed again: %v", runner.Calls)
	}
	if len(cat.records) != 0 {
		t.Errorf("catalog records = %d", len(cat.records))
	}
}

func TestRunSkipsCatalogedCollection(t *testing.T) {
	root := t.TempDir()
	wuPath := writeFixture(t, root, "1", "2")
	cat := &memCatalog{records: []metadata.CollectionRecord{{Job: "job1", CollectionKey: "AA_AAAA_coll1"}}}
	runner := &engine.FakeRunner{Handler: obabelOnly}

	w := New(Options{
		Config:       workerConfig(t, wuPath, "1"),
		Runner:       runner,
		StartNailgun: noNailgun(t),
		Checkpoints:  &memCheckpoints{},
		Catalog:      cat,
	}, testLogger())
	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(runner.CallsMatching("-O")) != 0 {
		t.Errorf("cataloged collection was processed again")
	}
}

func TestRunMissingSubjob(t *testing.T) {
	root := t.TempDir()
	wuPath := writeFixture(t, root, "0")

	w := New(Options{
		Config:       workerConfig(t, wuPath, "1"),
		Runner:       &engine.FakeRunner{Handler: obabelOnly},
		StartNailgun: noNailgun(t),
	}, testLogger())
	if err := w.Run(context.Background()); !errors.Is(err, ErrSkipSubjob) {
		t.Errorf("subjob 1: expected ErrSkipSubjob, got %v", err)
	}

	w = New(Options{
		Config:       workerConfig(t, wuPath, "3"),
		Runner:       &engine.FakeRunner{Handler: obabelOnly},
		StartNailgun: noNailgun(t),
	}, testLogger())
	err := w.Run(context.Background())
	if !errors.Is(err, workunit.ErrSubjobNotFound) || errors.Is(err, ErrSkipSubjob) {
		t.Errorf("subjob 3: expected ErrSubjobNotFound, got %v", err)
	}
}

func TestRunMissingLibraryFails(t *testing.T) {
	root := t.TempDir()
	wuPath := writeFixture(t, root, "1", "2")
	os.RemoveAll(filepath.Join(root, "library"))

	w := New(Options{
		Config:       workerConfig(t, wuPath, "1"),
		Runner:       &engine.FakeRunner{Handler: obabelOnly},
		StartNailgun: noNailgun(t),
		Checkpoints:  &memCheckpoints{},
	}, testLogger())
	if err := w.Run(context.Background()); err == nil {
		t.Error("expected error for a missing collection file")
	}
}

func TestSessionStartsNailgunForChemAxon(t *testing.T) {
	job := testJob(t.TempDir())
	job.ProtonationProgram1 = "cxcalc"
	job.JavaMaxHeapSize = 2

	starts, stops := 0, 0
	var got engine.ServerOptions
	start := func(_ context.Context, opts engine.ServerOptions, _ *slog.Logger) (engine.Nailgun, func(), error) {
		starts++
		got = opts
		return engine.Nailgun{Host: opts.Host, Port: 2113}, func() { stops++ }, nil
	}

	s, err := OpenSession(context.Background(), job, &engine.FakeRunner{}, start, "nghost", testLogger())
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	s.Close()
	s.Close()

	if starts != 1 || stops != 1 {
		t.Errorf("starts = %d, stops = %d", starts, stops)
	}
	if got.Host != "nghost" || got.HeapGB != 2 {
		t.Errorf("server options = %+v", got)
	}
	if !s.Usage.CxCalc || s.Usage.Standardizer {
		t.Errorf("usage = %+v", s.Usage)
	}
}

func TestSessionStartFailure(t *testing.T) {
	job := testJob(t.TempDir())
	job.ConformationProgram1 = "molconvert"
	start := func(context.Context, engine.ServerOptions, *slog.Logger) (engine.Nailgun, func(), error) {
		return engine.Nailgun{}, nil, errors.New("java not found")
	}
	if _, err := OpenSession(context.Background(), job, &engine.FakeRunner{}, start, "localhost", testLogger()); err == nil {
		t.Error("expected start error")
	}
}

func TestNewDefaultsToNoopBackends(t *testing.T) {
	w := New(Options{Config: workerConfig(t, "", "0")}, testLogger())
	if w.opts.Checkpoints == nil || w.opts.Catalog == nil || w.opts.Audit == nil {
		t.Fatalf("options = %+v", w.opts)
	}
	ctx := context.Background()
	if _, err := w.opts.Checkpoints.Load(ctx, "1", "0"); !errors.Is(err, checkpoint.ErrNoCheckpoint) {
		t.Errorf("checkpoint Load = %v, want ErrNoCheckpoint", err)
	}
	if done, err := w.opts.Catalog.CollectionCompleted(ctx, "job1", "AA_AAAA_coll1"); done || err != nil {
		t.Errorf("catalog CollectionCompleted = %v, %v", done, err)
	}
}
