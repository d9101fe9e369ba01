package partition

import (
	"context"
	"fmt"
	"path"

	"github.com/withObsrvr/vflp-ligand-prep/internal/config"
	"github.com/withObsrvr/vflp-ligand-prep/internal/metrics"
	"github.com/withObsrvr/vflp-ligand-prep/internal/storage"
	"github.com/withObsrvr/vflp-ligand-prep/internal/workunit"
)

// PublishedWorkunit is the status entry of one published workunit.
type PublishedWorkunit struct {
	Subjobs        map[string]workunit.Subjob `json:"subjobs"`
	S3DownloadPath string                     `json:"s3_download_path,omitempty"`
	DownloadPath   string                     `json:"download_path,omitempty"`
}

// Publisher persists sealed workunits.
type Publisher interface {
	Publish(ctx context.Context, index int, subjobs map[string]workunit.Subjob) (PublishedWorkunit, error)
}

// StorePublisher writes gzip-JSON workunits through a storage backend. In
// object-store modes the key is <prefix>/input/tasks/<index>.json.gz; in
// sharedfs mode the store is rooted at the workunit directory.
type StorePublisher struct {
	Store storage.Store
	Job   *config.Job
}

var _ Publisher = (*StorePublisher)(nil)

// Publish implements Publisher.
func (p *StorePublisher) Publish(ctx context.Context, index int, subjobs map[string]workunit.Subjob) (PublishedWorkunit, error) {
	data, err := workunit.Encode(&workunit.Workunit{Config: p.Job, Subjobs: subjobs})
	if err != nil {
		return PublishedWorkunit{}, err
	}

	pub := PublishedWorkunit{Subjobs: subjobs}
	var key string
	switch p.Job.JobStorageMode {
	case config.StorageSharedFS:
		key = workunit.FileName(index)
		pub.DownloadPath = path.Join(p.Job.SharedFSWorkunitPath, key)
	case config.StorageS3, config.StorageGCS:
		key = workunit.ObjectKey(p.Job.ObjectStoreJobOutputDataPrefixFull, index)
		pub.S3DownloadPath = key
	default:
		return PublishedWorkunit{}, fmt.Errorf("%w: job_storage_mode %q", config.ErrInvalidConfig, p.Job.JobStorageMode)
	}

	if err := p.Store.Put(ctx, key, data); err != nil {
		return PublishedWorkunit{}, err
	}
	if m := metrics.Get(); m != nil {
		m.IncWorkunitsPublished()
	}
	return pub, nil
}

// LibraryLocator returns the CollectionFunc that points collections at the
// ligand library of job.
func LibraryLocator(job *config.Job) CollectionFunc {
	return func(e Entry) workunit.Collection {
		c := workunit.Collection{
			Metatranche:    e.Metatranche,
			Tranche:        e.Tranche,
			CollectionName: e.CollectionName,
			LigandCount:    e.LigandCount,
			Fieldnames:     job.FileFieldnames,
		}
		rel := workunit.LibraryPath(e.Metatranche, e.Tranche, e.CollectionName)
		switch job.JobStorageMode {
		case config.StorageSharedFS:
			c.SharedFSPath = job.SharedFSCollectionPath + "/" + rel
		default:
			c.S3Bucket = job.ObjectStoreLigandLibraryBucket
			if job.ObjectStoreLigandLibraryPrefix != "" {
				rel = job.ObjectStoreLigandLibraryPrefix + "/" + rel
			}
			c.S3DownloadPath = rel
		}
		return c
	}
}
