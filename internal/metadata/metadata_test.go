package metadata

import (
	"context"
	"testing"
	"time"
)

func TestNewWriterWithoutDSN(t *testing.T) {
	w, err := NewWriter(context.Background(), CatalogConfig{})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer w.Close()
	if err := w.RecordCollection(context.Background(), CollectionRecord{CollectionKey: "A_B_C"}); err != nil {
		t.Errorf("RecordCollection: %v", err)
	}
	done, err := w.CollectionCompleted(context.Background(), "job", "A_B_C")
	if err != nil || done {
		t.Errorf("CollectionCompleted = %v, %v", done, err)
	}
}

func TestCollectionRecordArgs(t *testing.T) {
	finished := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rec := CollectionRecord{
		Job: "job", CollectionKey: "AA_AAAA_0001", Ligands: 3,
		Checksums:  map[string]string{"pdbqt": "sha256:ab"},
		FinishedAt: finished,
	}
	args, err := rec.args()
	if err != nil {
		t.Fatal(err)
	}
	if len(args) != 14 {
		t.Fatalf("args = %d, want 14", len(args))
	}
	if args[11] != `{"pdbqt":"sha256:ab"}` || args[12] != `{}` {
		t.Errorf("json args = %v, %v", args[11], args[12])
	}
	if args[13] != finished {
		t.Errorf("finished_at = %v", args[13])
	}
}
