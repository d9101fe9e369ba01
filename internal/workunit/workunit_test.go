package workunit

import (
	"errors"
	"testing"

	"github.com/withObsrvr/vflp-ligand-prep/internal/config"
)

func TestEncodeDecode(t *testing.T) {
	w := &Workunit{
		Config: &config.Job{JobName: "job", Batchsystem: "slurm", TargetFormats: []string{"pdbqt"}},
		Subjobs: map[string]Subjob{
			"0": {Collections: map[string]Collection{
				"AA_AAAA_0001": {Metatranche: "AA", Tranche: "AAAA", CollectionName: "0001", LigandCount: 7,
					Fieldnames: []string{"smi", "ligand-name"}, SharedFSPath: "/lib/AA/AAAA/0001.txt.gz"},
			}},
		},
	}
	data, err := Encode(w)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	sj, err := got.Subjob("0")
	if err != nil {
		t.Fatal(err)
	}
	c := sj.Collections["AA_AAAA_0001"]
	if c.Key() != "AA_AAAA_0001" || c.LigandCount != 7 || c.SharedFSPath != "/lib/AA/AAAA/0001.txt.gz" {
		t.Errorf("collection = %+v", c)
	}
	if got.Config.JobName != "job" || got.Config.ProtonationPHValue != 7.4 {
		t.Errorf("config defaults not applied: %+v", got.Config)
	}
	if _, err := got.Subjob("1"); !errors.Is(err, ErrSubjobNotFound) {
		t.Errorf("expected ErrSubjobNotFound, got %v", err)
	}
}

func TestDecodePlainJSON(t *testing.T) {
	w, err := Decode([]byte(`{"config": {"job_name": "x"}, "subjobs": {"0": {"collections": {}}}}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(w.Subjobs) != 1 {
		t.Errorf("subjobs = %v", w.Subjobs)
	}
	if _, err := Decode([]byte(`{"subjobs": {}}`)); !errors.Is(err, config.ErrInvalidConfig) {
		t.Errorf("missing config: %v", err)
	}
}

func TestOrderedAndCounts(t *testing.T) {
	s := NewSubjob()
	s.Collections["B_B_2"] = Collection{CollectionName: "2", LigandCount: 3}
	s.Collections["A_A_1"] = Collection{CollectionName: "1", LigandCount: 4}
	got := s.Ordered()
	if got[0].CollectionName != "1" || got[1].CollectionName != "2" {
		t.Errorf("Ordered = %+v", got)
	}
	if s.LigandCount() != 7 {
		t.Errorf("LigandCount = %d", s.LigandCount())
	}
}

func TestPaths(t *testing.T) {
	if got := ObjectKey("jobs/run1", 3); got != "jobs/run1/input/tasks/3.json.gz" {
		t.Errorf("ObjectKey = %q", got)
	}
	if got := ObjectKey("", 1); got != "input/tasks/1.json.gz" {
		t.Errorf("ObjectKey without prefix = %q", got)
	}
	if got := LibraryPath("AA", "AAAA", "0001"); got != "AA/AAAA/0001.txt.gz" {
		t.Errorf("LibraryPath = %q", got)
	}
}
