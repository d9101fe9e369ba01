// Package audit emits a tamper-evident provenance stream: one hash-chained
// event per packaged collection.
package audit

import (
	"time"
)

// Event versions and types.
const (
	EventVersion            = "1.0"
	EventCollectionPackaged = "collection_packaged"
)

// Event records the artifacts of one packaged collection.
type Event struct {
	Version   string    `json:"version"`
	EventType string    `json:"event_type"`
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`

	Collection CollectionInfo          `json:"collection"`
	Artifacts  map[string]ArtifactInfo `json:"artifacts"`
	Engines    map[string]string       `json:"engines"`
	Producer   ProducerInfo            `json:"producer"`
	Chain      ChainInfo               `json:"chain"`
}

// CollectionInfo identifies the collection and its outcome counts.
type CollectionInfo struct {
	Job              string `json:"job"`
	Workunit         string `json:"workunit"`
	Subjob           string `json:"subjob"`
	Key              string `json:"key"`
	Ligands          int    `json:"ligands"`
	LigandsFailed    int    `json:"ligands_failed"`
	Tautomers        int    `json:"tautomers"`
	TautomersSuccess int    `json:"tautomers_success"`
}

// ArtifactInfo contains checksum and location of one uploaded artifact.
type ArtifactInfo struct {
	Checksum    string `json:"checksum"`
	StoragePath string `json:"storage_path"`
	ByteSize    int64  `json:"byte_size"`
}

// ProducerInfo identifies the software run that produced the data.
type ProducerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	GitSHA  string `json:"git_sha"`
	RunID   string `json:"run_id"`
}

// ChainInfo links an event to its predecessor.
type ChainInfo struct {
	PrevEventHash string `json:"prev_event_hash"`
	EventHash     string `json:"event_hash"`
	Seq           int    `json:"seq"` // 1 for the first event of a subjob
}

// ChainKey returns the chain the event belongs to. Every subjob keeps its
// own chain so concurrent workers never share a head.
func (c CollectionInfo) ChainKey() string {
	return c.Job + "/" + c.Workunit + "/" + c.Subjob
}
