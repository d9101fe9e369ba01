package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/withObsrvr/vflp-ligand-prep/internal/config"
	"github.com/withObsrvr/vflp-ligand-prep/internal/storage"
	"github.com/withObsrvr/vflp-ligand-prep/internal/workunit"
)

// StoreOpener opens a storage backend.
type StoreOpener func(ctx context.Context, cfg storage.Config) (storage.Store, error)

// stores opens and caches the backends a subjob touches.
type stores struct {
	env  config.StorageConfig
	open StoreOpener

	mu      sync.Mutex
	buckets map[string]storage.Store
}

func newStores(env config.StorageConfig, open StoreOpener) *stores {
	return &stores{env: env, open: open, buckets: map[string]storage.Store{}}
}

func (s *stores) bucket(ctx context.Context, name string) (storage.Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.buckets[name]; ok {
		return st, nil
	}
	st, err := s.open(ctx, storage.Config{
		Backend:  s.env.Mode,
		Bucket:   name,
		Region:   s.env.Region,
		Endpoint: s.env.Endpoint,
	})
	if err != nil {
		return nil, err
	}
	st = storage.NewRetryStore(st, s.env.Mode, 0, 0)
	s.buckets[name] = st
	return st, nil
}

func (s *stores) local(dir string) (storage.Store, error) {
	st, err := storage.NewLocalStore(dir, "")
	if err != nil {
		return nil, err
	}
	return storage.NewRetryStore(st, config.StorageSharedFS, 0, 0), nil
}

func (s *stores) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.buckets {
		st.Close()
	}
}

// fetchWorkunit reads the workunit document. In sharedfs mode an explicit
// job configuration file replaces the embedded one.
func (s *stores) fetchWorkunit(ctx context.Context) (*workunit.Workunit, error) {
	var data []byte
	var err error
	switch s.env.Mode {
	case config.StorageS3, config.StorageGCS:
		var st storage.Store
		st, err = s.bucket(ctx, s.env.ConfigJobBucket)
		if err != nil {
			return nil, err
		}
		data, err = st.Get(ctx, s.env.ConfigJobObject)
	default:
		data, err = os.ReadFile(s.env.WorkunitJSON)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch workunit: %w", err)
	}

	w, err := workunit.Decode(data)
	if err != nil {
		return nil, err
	}
	if s.env.Mode == config.StorageSharedFS && s.env.ConfigJSON != "" {
		raw, err := os.ReadFile(s.env.ConfigJSON)
		if err != nil {
			return nil, fmt.Errorf("read job config: %w", err)
		}
		job, err := config.ParseJob(raw)
		if err != nil {
			return nil, err
		}
		w.Config = job
	}
	return w, nil
}

// output returns the store for completed collections and the key prefix
// within it.
func (s *stores) output(ctx context.Context, job *config.Job) (storage.Store, string, error) {
	if s.env.Mode == config.StorageSharedFS {
		if job.SharedFSWorkflowPath == "" {
			return nil, "", fmt.Errorf("%w: sharedfs_workflow_path must be set", config.ErrInvalidConfig)
		}
		st, err := s.local(job.SharedFSWorkflowPath)
		return st, "", err
	}
	name := job.ObjectStoreJobOutputDataBucket
	if name == "" {
		name = s.env.ConfigJobBucket
	}
	st, err := s.bucket(ctx, name)
	return st, job.ObjectStoreJobOutputDataPrefixFull, err
}

// library returns the store and key of a collection file.
func (s *stores) library(ctx context.Context, job *config.Job, c workunit.Collection) (storage.Store, string, error) {
	if s.env.Mode == config.StorageSharedFS {
		p := c.SharedFSPath
		if p == "" {
			p = filepath.Join(job.SharedFSCollectionPath, workunit.LibraryPath(c.Metatranche, c.Tranche, c.CollectionName))
		}
		st, err := s.local(filepath.Dir(p))
		return st, filepath.Base(p), err
	}
	name := c.S3Bucket
	if name == "" {
		name = job.ObjectStoreLigandLibraryBucket
	}
	st, err := s.bucket(ctx, name)
	return st, c.S3DownloadPath, err
}
