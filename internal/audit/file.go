package audit

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
)

// FileBackup saves events to local files.
type FileBackup struct {
	dir string
}

// NewFileBackup creates a new file backup handler.
func NewFileBackup(dir string) (*FileBackup, error) {
	if dir == "" {
		dir = "./audit"
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}

	return &FileBackup{dir: dir}, nil
}

// Path returns the file an event is saved to:
// {job}_{workunit}_{subjob}_{collection}.json
func (f *FileBackup) Path(evt *Event) string {
	c := evt.Collection
	return filepath.Join(f.dir, sanitize(fmt.Sprintf("%s_%s_%s_%s.json", c.Job, c.Workunit, c.Subjob, c.Key)))
}

// Save writes an event to a local JSON file.
func (f *FileBackup) Save(evt *Event) error {
	path := f.Path(evt)

	data, err := json.MarshalIndent(evt, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}

	log.Printf("[audit] backed up to %s", path)
	return nil
}

// FileOnlyEmitter writes events to files only.
type FileOnlyEmitter struct {
	heads  *Heads
	backup *FileBackup
}

// NewFileOnlyEmitter creates an emitter that only writes to local files.
// chain names the heads file of this emitter.
func NewFileOnlyEmitter(dir, chain string) (*FileOnlyEmitter, error) {
	heads, err := OpenHeads(dir, chain)
	if err != nil {
		return nil, err
	}

	backup, err := NewFileBackup(dir)
	if err != nil {
		return nil, fmt.Errorf("create file backup: %w", err)
	}

	return &FileOnlyEmitter{heads: heads, backup: backup}, nil
}

// Emit writes an event to a local file and advances the chain.
func (e *FileOnlyEmitter) Emit(evt *Event) error {
	e.heads.Link(evt)
	log.Printf("[audit] file-only emit for %s seq=%d collection=%s event_hash=%s",
		evt.Collection.ChainKey(), evt.Chain.Seq, evt.Collection.Key, evt.Chain.EventHash)

	if err := e.backup.Save(evt); err != nil {
		return err
	}

	if err := e.heads.Advance(evt); err != nil {
		log.Printf("[audit] warning: failed to update chain head: %v", err)
	}

	return nil
}

// Close releases resources.
func (e *FileOnlyEmitter) Close() error {
	return nil
}
