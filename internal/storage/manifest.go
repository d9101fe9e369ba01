package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// Manifest describes the artifacts uploaded for one collection.
type Manifest struct {
	Collection CollectionInfo          `json:"collection"`
	Artifacts  map[string]ArtifactInfo `json:"artifacts"`
	Producer   ProducerInfo            `json:"producer"`
	CreatedAt  time.Time               `json:"created_at"`
}

// CollectionInfo identifies the collection the manifest belongs to.
type CollectionInfo struct {
	Metatranche string `json:"metatranche"`
	Tranche     string `json:"tranche"`
	Name        string `json:"collection_name"`
	Ligands     int    `json:"ligand_count"`
	Workunit    string `json:"workunit"`
	Subjob      string `json:"subjob"`
}

// ArtifactInfo describes a single uploaded object.
type ArtifactInfo struct {
	Key      string `json:"key"`
	Checksum string `json:"checksum"`
	ByteSize int64  `json:"byte_size"`
}

// ProducerInfo describes the software that produced the artifacts.
type ProducerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	RunID   string `json:"run_id,omitempty"`
}

// MarshalJSON returns the manifest as indented JSON bytes.
func (m *Manifest) MarshalJSON() ([]byte, error) {
	type Alias Manifest
	return json.MarshalIndent((*Alias)(m), "", "  ")
}

// ComputeChecksum computes a SHA256 checksum for the given data.
func ComputeChecksum(data []byte) string {
	hash := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(hash[:])
}

// VerifyChecksum verifies that data matches the expected checksum.
func VerifyChecksum(data []byte, expected string) bool {
	return ComputeChecksum(data) == expected
}

// ChecksumFile computes the checksum and size of a local file.
func ChecksumFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	hash := sha256.New()
	n, err := io.Copy(hash, f)
	if err != nil {
		return "", 0, fmt.Errorf("hash %s: %w", path, err)
	}
	return "sha256:" + hex.EncodeToString(hash.Sum(nil)), n, nil
}
