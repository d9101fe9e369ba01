// Package checkpoint records which collections of a subjob are complete so
// that a re-run skips them.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

var (
	// ErrNoCheckpoint is returned when no checkpoint exists.
	ErrNoCheckpoint = errors.New("no checkpoint found")
)

// Checkpoint is the progress of one subjob.
type Checkpoint struct {
	RunID     string    `json:"run_id"`
	Workunit  string    `json:"workunit"`
	Subjob    string    `json:"subjob"`
	Completed []string  `json:"completed_collections"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New returns an empty checkpoint for a subjob.
func New(runID, workunit, subjob string) *Checkpoint {
	return &Checkpoint{RunID: runID, Workunit: workunit, Subjob: subjob}
}

// Done reports whether the collection was completed.
func (c *Checkpoint) Done(collectionKey string) bool {
	i := sort.SearchStrings(c.Completed, collectionKey)
	return i < len(c.Completed) && c.Completed[i] == collectionKey
}

// MarkDone records a completed collection.
func (c *Checkpoint) MarkDone(collectionKey string) {
	if c.Done(collectionKey) {
		return
	}
	c.Completed = append(c.Completed, collectionKey)
	sort.Strings(c.Completed)
}

// Manager handles checkpoint persistence and retrieval.
type Manager interface {
	// Load reads the checkpoint of a subjob.
	Load(ctx context.Context, workunit, subjob string) (*Checkpoint, error)

	// Save persists the checkpoint.
	Save(ctx context.Context, cp *Checkpoint) error
}

// Config configures the checkpoint manager.
type Config struct {
	Enabled bool
	Dir     string // Directory for checkpoint files
}

// NewManager creates a checkpoint manager based on configuration.
func NewManager(cfg Config) (Manager, error) {
	if !cfg.Enabled {
		return NewNoopManager(), nil
	}

	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create checkpoint directory %s: %w", cfg.Dir, err)
	}

	return &fileManager{dir: cfg.Dir}, nil
}

// fileManager persists checkpoints to local files.
type fileManager struct {
	dir string
}

func (m *fileManager) checkpointPath(workunit, subjob string) string {
	return filepath.Join(m.dir, fmt.Sprintf("checkpoint_%s_%s.json", workunit, subjob))
}

// Load reads the checkpoint from file.
func (m *fileManager) Load(ctx context.Context, workunit, subjob string) (*Checkpoint, error) {
	data, err := os.ReadFile(m.checkpointPath(workunit, subjob))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCheckpoint
		}
		return nil, fmt.Errorf("read checkpoint file: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parse checkpoint file: %w", err)
	}
	sort.Strings(cp.Completed)
	return &cp, nil
}

// Save persists the checkpoint to file.
func (m *fileManager) Save(ctx context.Context, cp *Checkpoint) error {
	path := m.checkpointPath(cp.Workunit, cp.Subjob)
	cp.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	// Write atomically
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write checkpoint temp file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename checkpoint file: %w", err)
	}

	return nil
}

// noopManager is used when checkpointing is disabled.
type noopManager struct{}

// NewNoopManager returns a manager that never persists anything.
func NewNoopManager() Manager {
	return &noopManager{}
}

func (m *noopManager) Load(ctx context.Context, workunit, subjob string) (*Checkpoint, error) {
	return nil, ErrNoCheckpoint
}

func (m *noopManager) Save(ctx context.Context, cp *Checkpoint) error {
	return nil
}
