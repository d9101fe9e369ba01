// Package workunit defines the documents that carry subjobs from the
// partitioner to the workers.
package workunit

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/withObsrvr/vflp-ligand-prep/internal/archive"
	"github.com/withObsrvr/vflp-ligand-prep/internal/config"
)

// ErrSubjobNotFound is returned when a workunit has no subjob at the requested index.
var ErrSubjobNotFound = errors.New("subjob not found in workunit")

// Collection references one input collection file.
type Collection struct {
	Metatranche    string   `json:"metatranche"`
	Tranche        string   `json:"tranche"`
	CollectionName string   `json:"collection_name"`
	LigandCount    int      `json:"ligand_count"`
	Fieldnames     []string `json:"fieldnames"`

	// Object store location (s3 and gcs modes).
	S3Bucket       string `json:"s3_bucket,omitempty"`
	S3DownloadPath string `json:"s3_download_path,omitempty"`

	// Shared filesystem location.
	SharedFSPath string `json:"sharedfs_path,omitempty"`
}

// Key returns "<metatranche>_<tranche>_<collection>".
func (c Collection) Key() string {
	return c.Metatranche + "_" + c.Tranche + "_" + c.CollectionName
}

// LibraryPath returns the relative path of the collection file within a
// ligand library.
func LibraryPath(metatranche, tranche, name string) string {
	return path.Join(metatranche, tranche, name+".txt.gz")
}

// Subjob is the unit of work of one array-job element.
type Subjob struct {
	Collections map[string]Collection `json:"collections"`
}

// NewSubjob returns an empty subjob.
func NewSubjob() Subjob {
	return Subjob{Collections: map[string]Collection{}}
}

// LigandCount sums the ligand counts of all collections.
func (s Subjob) LigandCount() int {
	n := 0
	for _, c := range s.Collections {
		n += c.LigandCount
	}
	return n
}

// Ordered returns the collections sorted by key, the order in which a
// worker processes them.
func (s Subjob) Ordered() []Collection {
	keys := make([]string, 0, len(s.Collections))
	for k := range s.Collections {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Collection, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.Collections[k])
	}
	return out
}

// Workunit is one published array job: the job configuration plus its
// subjobs keyed by decimal index.
type Workunit struct {
	Config  *config.Job       `json:"config"`
	Subjobs map[string]Subjob `json:"subjobs"`
}

// Subjob returns the subjob at index.
func (w *Workunit) Subjob(index string) (Subjob, error) {
	s, ok := w.Subjobs[index]
	if !ok {
		return Subjob{}, fmt.Errorf("%w: %s", ErrSubjobNotFound, index)
	}
	return s, nil
}

// Key returns the decimal key of subjob index i.
func Key(i int) string {
	return strconv.Itoa(i)
}

// Encode renders the workunit as gzip-compressed JSON.
func Encode(w *Workunit) ([]byte, error) {
	return archive.MarshalGzipJSON(w)
}

// Decode parses a workunit document. Gzip input is detected by its magic
// bytes so plain JSON files work too.
func Decode(data []byte) (*Workunit, error) {
	var w Workunit
	var err error
	if len(data) > 1 && data[0] == 0x1f && data[1] == 0x8b {
		err = archive.UnmarshalGzipJSON(data, &w)
	} else {
		err = json.Unmarshal(data, &w)
	}
	if err != nil {
		return nil, fmt.Errorf("decode workunit: %w", err)
	}
	if w.Config == nil {
		return nil, fmt.Errorf("decode workunit: %w: missing config", config.ErrInvalidConfig)
	}
	w.Config.ApplyDefaults()
	return &w, nil
}

// ObjectKey returns the object-store key of workunit index under the job
// output prefix.
func ObjectKey(prefix string, index int) string {
	return strings.TrimPrefix(path.Join(prefix, "input", "tasks", strconv.Itoa(index)+".json.gz"), "/")
}

// FileName returns the file name of workunit index in sharedfs mode.
func FileName(index int) string {
	return strconv.Itoa(index) + ".json.gz"
}
