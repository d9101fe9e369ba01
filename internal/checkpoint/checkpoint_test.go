package checkpoint

import (
	"context"
	"errors"
	"testing"
)

func TestFileManagerRoundTrip(t *testing.T) {
	m, err := NewManager(Config{Enabled: true, Dir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if _, err := m.Load(ctx, "3", "0"); !errors.Is(err, ErrNoCheckpoint) {
		t.Fatalf("expected ErrNoCheckpoint, got %v", err)
	}

	cp := New("run-1", "3", "0")
	cp.MarkDone("AA_AAAB_0002")
	cp.MarkDone("AA_AAAA_0001")
	cp.MarkDone("AA_AAAB_0002")
	if err := m.Save(ctx, cp); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := m.Load(ctx, "3", "0")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got.Completed) != 2 || !got.Done("AA_AAAA_0001") || got.Done("AA_AAAC_0003") {
		t.Errorf("checkpoint = %+v", got)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not set")
	}
	if _, err := m.Load(ctx, "3", "1"); !errors.Is(err, ErrNoCheckpoint) {
		t.Errorf("other subjob: %v", err)
	}
}

func TestNoopManager(t *testing.T) {
	m, err := NewManager(Config{})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Save(context.Background(), New("r", "1", "0")); err != nil {
		t.Errorf("Save: %v", err)
	}
	if _, err := m.Load(context.Background(), "1", "0"); !errors.Is(err, ErrNoCheckpoint) {
		t.Errorf("Load: %v", err)
	}
}
