package collection

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/withObsrvr/vflp-ligand-prep/internal/archive"
	"github.com/withObsrvr/vflp-ligand-prep/internal/attributes"
	"github.com/withObsrvr/vflp-ligand-prep/internal/config"
	"github.com/withObsrvr/vflp-ligand-prep/internal/pipeline"
	"github.com/withObsrvr/vflp-ligand-prep/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var fields = []string{"smi", "ligand-name", "positivecharge", "mw"}

func TestParse(t *testing.T) {
	in := strings.Join([]string{
		"CCO\tL1\t0\t46",
		"CC(=O)O\tL2\t1",
		"C",
		"CCN\tL1\t0\t45",
		"c1ccccc1\tL3\t0\t78\textra",
	}, "\n")
	got, err := Parse(strings.NewReader(in), fields, testLogger())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("inputs = %+v", got)
	}
	if got[0].Key != "L1" || got[0].SMI != "CCO" || got[0].FileData["mw"] != "46" {
		t.Errorf("first = %+v", got[0])
	}
	if _, ok := got[1].FileData["mw"]; ok {
		t.Errorf("short row should not carry mw: %+v", got[1].FileData)
	}
	if got[2].Key != "L3" || len(got[2].FileData) != 4 {
		t.Errorf("third = %+v", got[2])
	}
}

func TestParseRequiresColumns(t *testing.T) {
	_, err := Parse(strings.NewReader("CCO\n"), []string{"smi"}, testLogger())
	if !errors.Is(err, ErrMissingField) {
		t.Errorf("expected ErrMissingField, got %v", err)
	}
}

func TestLoadGzip(t *testing.T) {
	store, err := storage.NewLocalStore(t.TempDir(), "")
	if err != nil {
		t.Fatal(err)
	}
	gz, err := archive.Gzip([]byte("CCO\tL1\t0\t46\n"))
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Put(context.Background(), "AA/AAAA/0001.txt.gz", gz); err != nil {
		t.Fatal(err)
	}
	dec, err := archive.NewDecoder()
	if err != nil {
		t.Fatal(err)
	}
	defer dec.Close()

	got, err := Load(context.Background(), store, "AA/AAAA/0001.txt.gz", fields, dec, testLogger())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 1 || got[0].Key != "L1" {
		t.Errorf("inputs = %+v", got)
	}
	if _, err := Load(context.Background(), store, "missing.txt.gz", fields, dec, testLogger()); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

type slowProcessor struct {
	active  atomic.Int32
	maxSeen atomic.Int32
}

func (p *slowProcessor) ProcessLigand(ctx context.Context, layout pipeline.Layout, in pipeline.Input) *pipeline.Ligand {
	n := p.active.Add(1)
	defer p.active.Add(-1)
	for {
		m := p.maxSeen.Load()
		if n <= m || p.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	lig := &pipeline.Ligand{Key: in.Key, SMI: in.SMI}
	lig.Status = pipeline.StatusSuccess
	return lig
}

func inputs(n int) []pipeline.Input {
	var out []pipeline.Input
	for i := 0; i < n; i++ {
		out = append(out, pipeline.Input{Key: "L" + string(rune('a'+i)), SMI: "C"})
	}
	return out
}

func TestExecutorKeepsOrderAndBoundsPool(t *testing.T) {
	proc := &slowProcessor{}
	e := NewExecutor(proc, 3, false, testLogger())
	in := inputs(12)
	got := e.Run(context.Background(), pipeline.Layout{}, in)
	for i := range in {
		if got[i] == nil || got[i].Key != in[i].Key {
			t.Fatalf("result %d = %+v, want %s", i, got[i], in[i].Key)
		}
	}
	if m := proc.maxSeen.Load(); m > 3 || m < 2 {
		t.Errorf("max concurrency = %d, want 2..3", m)
	}
}

func TestExecutorSequential(t *testing.T) {
	proc := &slowProcessor{}
	e := NewExecutor(proc, 8, true, testLogger())
	got := e.Run(context.Background(), pipeline.Layout{}, inputs(4))
	if len(got) != 4 {
		t.Fatalf("results = %d", len(got))
	}
	if m := proc.maxSeen.Load(); m != 1 {
		t.Errorf("sequential run used %d workers", m)
	}
}

func sampleLigands() []*pipeline.Ligand {
	ok := &pipeline.Ligand{Key: "L1", Remarks: pipeline.NewRemarks()}
	ok.Status = pipeline.StatusSuccess
	ok.Timers = []pipeline.Timer{{Name: "desalt", Seconds: 0.1}}
	st := &pipeline.Stereoisomer{Key: "L1_S0", SMI: "CCO", Remarks: pipeline.NewRemarks()}
	st.Status = pipeline.StatusSuccess
	ok.Stereoisomers = []*pipeline.Stereoisomer{st}
	for _, k := range []string{"L1_S0_T0", "L1_S0_T1"} {
		ta := &pipeline.Tautomer{Key: k, SMI: "CCO", TrancheString: "AB", Remarks: pipeline.NewRemarks()}
		ta.Status = pipeline.StatusSuccess
		ta.StatusSub = []pipeline.StatusEntry{{Stage: "protonation", State: pipeline.StatusSuccess, Text: "ok"}}
		ok.Tautomers = append(ok.Tautomers, ta)
	}
	ok.Tautomers[1].Status = pipeline.StatusFailed

	bad := &pipeline.Ligand{Key: "L2", Remarks: pipeline.NewRemarks()}
	bad.Status = pipeline.StatusFailed
	bad.StatusSub = []pipeline.StatusEntry{{Stage: "desalt", State: pipeline.StatusFailed, Text: "empty"}}
	return []*pipeline.Ligand{ok, bad}
}

func TestSummaryRoundTrip(t *testing.T) {
	s := Summarize(sampleLigands(), 3)
	path := filepath.Join(t.TempDir(), "s.json.gz")
	if err := s.WriteFile(path); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	back, err := DecodeSummary(data)
	if err != nil {
		t.Fatalf("DecodeSummary: %v", err)
	}
	if back.Seconds != 3 || len(back.Ligands) != 2 {
		t.Fatalf("summary = %+v", back)
	}
	l1 := back.Ligands["L1"]
	if l1.Status != pipeline.StatusSuccess || len(l1.Tautomers) != 2 || len(l1.Stereoisomers) != 1 {
		t.Errorf("L1 = %+v", l1)
	}
	if l1.Tautomers["L1_S0_T1"].Status != pipeline.StatusFailed || l1.Tautomers["L1_S0_T0"].StatusSub[0].Stage != "protonation" {
		t.Errorf("tautomers = %+v", l1.Tautomers)
	}
	if back.Ligands["L2"].StatusSub[0].Text != "empty" {
		t.Errorf("L2 = %+v", back.Ligands["L2"])
	}

	c := back.Counts()
	if c != (Counts{Ligands: 2, LigandsFailed: 1, Tautomers: 2, TautomersSuccess: 1}) {
		t.Errorf("counts = %+v", c)
	}
}

func TestSummaryJSONShape(t *testing.T) {
	raw, err := json.Marshal(Summarize(sampleLigands(), 1))
	if err != nil {
		t.Fatal(err)
	}
	for _, field := range []string{`"timers":[["desalt",0.1]]`, `"status_sub":[["desalt",{"state":"failed","text":"empty"}]]`, `"tautomers":{`, `"stereoisomers":{`} {
		if !strings.Contains(string(raw), field) {
			t.Errorf("summary JSON lacks %s", field)
		}
	}
}

type recordingStore struct {
	storage.Store
	mu   sync.Mutex
	puts []string
}

func (s *recordingStore) PutFile(ctx context.Context, key, localPath string) error {
	s.mu.Lock()
	s.puts = append(s.puts, key)
	s.mu.Unlock()
	return s.Store.PutFile(ctx, key, localPath)
}

func TestPackage(t *testing.T) {
	root := t.TempDir()
	layout := pipeline.Layout{Root: filepath.Join(root, "work"), Metatranche: "AA", Tranche: "AAAA", Collection: "0001"}
	pdbqt := layout.CompleteDir("pdbqt")
	if err := os.MkdirAll(pdbqt, 0755); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(pdbqt, "AB_L1_S0_T0.pdbqt"), []byte("ATOM"), 0644)

	local, err := storage.NewLocalStore(filepath.Join(root, "out"), "")
	if err != nil {
		t.Fatal(err)
	}
	store := &recordingStore{Store: local}
	p := NewPackager(store, PackagerConfig{Prefix: "job", Formats: []string{"pdbqt", "smi"}, Workunit: "1", Subjob: "0"}, testLogger())

	m, err := p.Package(context.Background(), layout, Summarize(sampleLigands(), 1))
	if err != nil {
		t.Fatalf("Package: %v", err)
	}

	want := []string{"job/complete/status/AA/AAAA/0001.json.gz", "job/complete/pdbqt/AA/AAAA/0001.tar.gz"}
	if len(store.puts) != len(want) {
		t.Fatalf("uploads = %v, want %v", store.puts, want)
	}
	for i := range want {
		if store.puts[i] != want[i] {
			t.Errorf("upload %d = %s, want %s", i, store.puts[i], want[i])
		}
	}
	if _, ok := m.Artifacts["smi"]; ok {
		t.Error("empty format should not be uploaded")
	}
	if a := m.Artifacts["pdbqt"]; !strings.HasPrefix(a.Checksum, "sha256:") || a.ByteSize == 0 {
		t.Errorf("pdbqt artifact = %+v", a)
	}
	if m.Collection.Ligands != 2 || m.Collection.Subjob != "0" {
		t.Errorf("manifest collection = %+v", m.Collection)
	}

	if ok, _ := local.Exists(context.Background(), ManifestKey("job", "AA", "AAAA", "0001")); !ok {
		t.Error("manifest not uploaded")
	}
	data, err := local.Get(context.Background(), want[0])
	if err != nil {
		t.Fatal(err)
	}
	back, err := DecodeSummary(data)
	if err != nil || len(back.Ligands) != 2 {
		t.Errorf("uploaded summary = %+v, %v", back, err)
	}
}

type failingStore struct{ storage.Store }

func (failingStore) PutFile(ctx context.Context, key, localPath string) error {
	return errors.New("bucket unavailable")
}

func TestPackageUploadFailure(t *testing.T) {
	root := t.TempDir()
	layout := pipeline.Layout{Root: root, Metatranche: "AA", Tranche: "AAAA", Collection: "0001"}
	local, _ := storage.NewLocalStore(filepath.Join(root, "out"), "")
	p := NewPackager(failingStore{local}, PackagerConfig{Prefix: "job"}, testLogger())
	if _, err := p.Package(context.Background(), layout, Summarize(nil, 0)); err == nil {
		t.Error("expected upload error")
	}
}

// brokenGenerator is a toolkit whose plain PDB generation always fails.
type brokenGenerator struct{}

func (brokenGenerator) Neutralize(context.Context, string, string, pipeline.Scratch) (string, error) {
	return "", errors.New("not configured")
}

func (brokenGenerator) Stereoisomers(context.Context, string, string, pipeline.Scratch) ([]string, error) {
	return nil, errors.New("not configured")
}

func (brokenGenerator) Tautomers(context.Context, string, string, pipeline.Scratch) ([]string, error) {
	return nil, errors.New("not configured")
}

func (brokenGenerator) Protonate(context.Context, string, string, pipeline.Scratch) (string, error) {
	return "", errors.New("not configured")
}

func (brokenGenerator) Conformation(context.Context, string, string, string, pipeline.Scratch) error {
	return errors.New("not configured")
}

func (brokenGenerator) GeneratePDB(context.Context, string, string, pipeline.Scratch) error {
	return errors.New("obabel exited with status 1")
}

func (brokenGenerator) Energy(context.Context, string, pipeline.Scratch) (float64, []string, error) {
	return 0, nil, errors.New("not configured")
}

func (brokenGenerator) Convert(context.Context, string, string, string, pipeline.Scratch) error {
	return errors.New("not configured")
}

func (brokenGenerator) AttributeBackends() map[string]attributes.Backend { return nil }

func (brokenGenerator) Versions() pipeline.Versions { return pipeline.Versions{Obabel: "3.1.0"} }

func TestPackageAllTautomersFailed(t *testing.T) {
	root := t.TempDir()
	job := &config.Job{
		JobName:        "job1",
		Desalting:      true,
		TargetFormats:  []string{"pdbqt", "smi"},
		FileFieldnames: []string{"smi", "ligand-name"},
	}
	proc, err := pipeline.NewProcessor(job, brokenGenerator{}, testLogger())
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}

	layout := pipeline.Layout{
		Root:        filepath.Join(root, "work"),
		Temp:        filepath.Join(root, "work", "tmp"),
		Metatranche: "AA",
		Tranche:     "AAAA",
		Collection:  "0001",
	}
	in := []pipeline.Input{{Key: "L1", SMI: "CCO"}, {Key: "L2", SMI: "CC(=O)O.[Na+]"}}
	ligands := NewExecutor(proc, 2, false, testLogger()).Run(context.Background(), layout, in)

	local, err := storage.NewLocalStore(filepath.Join(root, "out"), "")
	if err != nil {
		t.Fatal(err)
	}
	store := &recordingStore{Store: local}
	p := NewPackager(store, PackagerConfig{Prefix: "job", Formats: job.TargetFormats}, testLogger())

	m, err := p.Package(context.Background(), layout, Summarize(ligands, 1))
	if err != nil {
		t.Fatalf("Package: %v", err)
	}

	for _, key := range store.puts {
		if strings.HasSuffix(key, ".tar.gz") {
			t.Errorf("unexpected archive upload %s", key)
		}
	}
	if len(m.Artifacts) != 1 {
		t.Errorf("artifacts = %v, want status only", m.Artifacts)
	}

	data, err := local.Get(context.Background(), "job/complete/status/AA/AAAA/0001.json.gz")
	if err != nil {
		t.Fatalf("status not uploaded: %v", err)
	}
	back, err := DecodeSummary(data)
	if err != nil {
		t.Fatalf("DecodeSummary: %v", err)
	}
	if len(back.Ligands) != 2 {
		t.Fatalf("ligands = %d, want 2", len(back.Ligands))
	}
	for key, lig := range back.Ligands {
		if len(lig.Tautomers) == 0 {
			t.Errorf("ligand %s has no tautomers", key)
		}
		for tk, ta := range lig.Tautomers {
			if ta.Status != pipeline.StatusFailed {
				t.Errorf("tautomer %s status = %s", tk, ta.Status)
			}
			last := ta.StatusSub[len(ta.StatusSub)-1]
			if last.Stage != "pdb-generation" || last.State != pipeline.StatusFailed {
				t.Errorf("tautomer %s last stage = %+v", tk, last)
			}
		}
	}
	if c := back.Counts(); c.TautomersSuccess != 0 || c.Tautomers != 2 {
		t.Errorf("counts = %+v", c)
	}
}
