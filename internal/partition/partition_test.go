package partition

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"testing"

	"github.com/withObsrvr/vflp-ligand-prep/internal/config"
	"github.com/withObsrvr/vflp-ligand-prep/internal/storage"
	"github.com/withObsrvr/vflp-ligand-prep/internal/workunit"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memPublisher struct {
	published map[int]map[string]workunit.Subjob
	fail      error
}

func (p *memPublisher) Publish(ctx context.Context, index int, subjobs map[string]workunit.Subjob) (PublishedWorkunit, error) {
	if p.fail != nil {
		return PublishedWorkunit{}, p.fail
	}
	if p.published == nil {
		p.published = map[int]map[string]workunit.Subjob{}
	}
	p.published[index] = subjobs
	return PublishedWorkunit{Subjobs: subjobs}, nil
}

func plainCollection(e Entry) workunit.Collection {
	return workunit.Collection{Metatranche: e.Metatranche, Tranche: e.Tranche,
		CollectionName: e.CollectionName, LigandCount: e.LigandCount}
}

func entries(counts ...int) []Entry {
	var out []Entry
	for i, n := range counts {
		name := string(rune('a' + i))
		out = append(out, Entry{Key: "M_T_" + name, Metatranche: "M", Tranche: "T", CollectionName: name, LigandCount: n})
	}
	return out
}

func run(t *testing.T, floor, max int, counts ...int) (*memPublisher, *Status) {
	t.Helper()
	pub := &memPublisher{}
	p, err := New(floor, max, pub, plainCollection, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries(counts...) {
		if err := p.Add(context.Background(), e); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	status, err := p.Finish(context.Background())
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	return pub, status
}

func subjobSizes(w map[string]workunit.Subjob) []int {
	var out []int
	for i := 0; i < len(w); i++ {
		out = append(out, w[workunit.Key(i)].LigandCount())
	}
	return out
}

func TestPartitionLeftoverExample(t *testing.T) {
	pub, status := run(t, 100, 10, 50, 60, 200, 10)
	if len(pub.published) != 1 {
		t.Fatalf("workunits = %d, want 1", len(pub.published))
	}
	got := subjobSizes(pub.published[1])
	want := []int{110, 200, 10}
	if len(got) != len(want) {
		t.Fatalf("subjobs = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("subjob %d = %d, want %d", i, got[i], want[i])
		}
	}
	if len(pub.published[1]["0"].Collections) != 2 {
		t.Errorf("leftover subjob should hold two collections: %+v", pub.published[1]["0"])
	}
	if status.Overall.Ligands != 320 || status.Overall.Subjobs != 3 || status.Overall.Workunits != 1 {
		t.Errorf("overall = %+v", status.Overall)
	}
}

func TestPartitionCeiling(t *testing.T) {
	pub, status := run(t, 10, 2, 10, 10, 10, 10, 10)
	if len(pub.published) != 3 {
		t.Fatalf("workunits = %d, want 3", len(pub.published))
	}
	for i := 1; i <= 2; i++ {
		if len(pub.published[i]) != 2 {
			t.Errorf("workunit %d has %d subjobs, want 2", i, len(pub.published[i]))
		}
	}
	if len(pub.published[3]) != 1 {
		t.Errorf("last workunit has %d subjobs, want 1", len(pub.published[3]))
	}
	if _, ok := status.Workunits["3"]; !ok {
		t.Errorf("status workunits = %v", status.Workunits)
	}
}

func TestPartitionNoEmptyTrailingWorkunit(t *testing.T) {
	pub, _ := run(t, 10, 2, 10, 10)
	if len(pub.published) != 1 {
		t.Errorf("workunits = %d, want 1", len(pub.published))
	}
}

func TestPartitionTieCountsAsLarge(t *testing.T) {
	pub, _ := run(t, 100, 5, 100, 99)
	got := subjobSizes(pub.published[1])
	if len(got) != 2 || got[0] != 100 || got[1] != 99 {
		t.Errorf("subjobs = %v", got)
	}
}

func TestPartitionNeverSplitsCollections(t *testing.T) {
	counts := []int{500, 3, 7, 120, 1, 99, 2, 2, 64, 300, 5}
	pub, status := run(t, 100, 3, counts...)
	seen := map[string]int{}
	for _, w := range pub.published {
		if len(w) > 3 {
			t.Errorf("workunit exceeds ceiling: %d", len(w))
		}
		for _, s := range w {
			for k := range s.Collections {
				seen[k]++
			}
		}
	}
	if len(seen) != len(counts) {
		t.Errorf("collections placed = %d, want %d", len(seen), len(counts))
	}
	for k, n := range seen {
		if n != 1 {
			t.Errorf("%s placed %d times", k, n)
		}
	}
	if status.Overall.Collections != len(counts) {
		t.Errorf("overall = %+v", status.Overall)
	}
}

func TestPartitionPublishError(t *testing.T) {
	boom := errors.New("boom")
	p, _ := New(1, 1, &memPublisher{fail: boom}, plainCollection, testLogger())
	if err := p.Add(context.Background(), entries(5)[0]); !errors.Is(err, boom) {
		t.Errorf("expected publish error, got %v", err)
	}
}

func TestNewRejectsBadParameters(t *testing.T) {
	if _, err := New(0, 1, &memPublisher{}, plainCollection, testLogger()); err == nil {
		t.Error("expected error for zero floor")
	}
	if _, err := New(1, 0, &memPublisher{}, plainCollection, testLogger()); err == nil {
		t.Error("expected error for zero array size")
	}
}

func TestParseTodo(t *testing.T) {
	in := strings.Join([]string{
		"AA_AAAA_0001 120",
		"",
		"AA_AAAA_0002 abc",
		"AA_AAAA 5",
		"AA_AAAB_0003 0",
		"AB_AAAA_0004 7",
	}, "\n")
	got, rejected, err := ParseTodo(strings.NewReader(in), testLogger())
	if err != nil {
		t.Fatalf("ParseTodo: %v", err)
	}
	if len(got) != 2 || got[0].Key != "AA_AAAA_0001" || got[1].CollectionName != "0004" || got[1].LigandCount != 7 {
		t.Errorf("entries = %+v", got)
	}
	if len(rejected) != 3 {
		t.Fatalf("rejected = %+v", rejected)
	}
	if rejected[0].Line != 3 {
		t.Errorf("first rejected line = %d, want 3", rejected[0].Line)
	}
}

func TestSortAndWriteTodo(t *testing.T) {
	e := entries(5, 20, 5, 10)
	SortTodo(e)
	var buf bytes.Buffer
	if err := WriteTodo(&buf, e); err != nil {
		t.Fatal(err)
	}
	want := "M_T_b 20\nM_T_d 10\nM_T_a 5\nM_T_c 5\n"
	if buf.String() != want {
		t.Errorf("todo = %q, want %q", buf.String(), want)
	}
}

func TestStorePublisherSharedFS(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewLocalStore(dir, "")
	if err != nil {
		t.Fatal(err)
	}
	job := &config.Job{JobName: "j", JobStorageMode: config.StorageSharedFS, SharedFSCollectionPath: "/lib",
		FileFieldnames: []string{"smi", "ligand-name"}}
	p, err := New(10, 5, &StorePublisher{Store: store, Job: job}, LibraryLocator(job), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries(20, 3) {
		if err := p.Add(context.Background(), e); err != nil {
			t.Fatal(err)
		}
	}
	status, err := p.Finish(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if status.Workunits["1"].DownloadPath == "" {
		t.Errorf("download path missing: %+v", status.Workunits["1"])
	}

	data, err := store.Get(context.Background(), "1.json.gz")
	if err != nil {
		t.Fatalf("workunit not stored: %v", err)
	}
	w, err := workunit.Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	c := w.Subjobs["0"].Collections["M_T_a"]
	if c.SharedFSPath != "/lib/M/T/a.txt.gz" || len(c.Fieldnames) != 2 {
		t.Errorf("collection = %+v", c)
	}

	raw, err := status.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	back, err := ParseStatus(raw)
	if err != nil {
		t.Fatal(err)
	}
	keys := make([]string, 0, len(back.Collections))
	for k := range back.Collections {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if strings.Join(keys, ",") != "M_T_a,M_T_b" {
		t.Errorf("status collections = %v", keys)
	}
}

func TestLibraryLocatorObjectStore(t *testing.T) {
	job := &config.Job{JobStorageMode: config.StorageS3, ObjectStoreLigandLibraryBucket: "lib",
		ObjectStoreLigandLibraryPrefix: "enamine"}
	c := LibraryLocator(job)(entries(4)[0])
	if c.S3Bucket != "lib" || c.S3DownloadPath != "enamine/M/T/a.txt.gz" {
		t.Errorf("collection = %+v", c)
	}
}
