package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/withObsrvr/vflp-ligand-prep/internal/config"
	"github.com/withObsrvr/vflp-ligand-prep/internal/storage"
)

// openStore is replaced in tests.
var openStore = storage.New

func readJob(workflow string) (*config.Job, error) {
	data, err := os.ReadFile(filepath.Join(workflow, ConfigFile))
	if err != nil {
		return nil, fmt.Errorf("read job config: %w", err)
	}
	return config.ParseJob(data)
}

// jobStore opens the job output store. In sharedfs mode it is rooted at dir;
// in object-store modes it is the job output bucket and the returned prefix
// is the job's full output prefix.
func jobStore(ctx context.Context, job *config.Job, dir string) (storage.Store, string, error) {
	switch job.JobStorageMode {
	case config.StorageSharedFS:
		st, err := openStore(ctx, storage.Config{Backend: config.StorageSharedFS, LocalDir: dir})
		if err != nil {
			return nil, "", err
		}
		return storage.NewRetryStore(st, config.StorageSharedFS, 0, 0), "", nil
	case config.StorageS3, config.StorageGCS:
		if job.ObjectStoreJobOutputDataBucket == "" {
			return nil, "", fmt.Errorf("%w: object_store_job_output_data_bucket must be set", config.ErrInvalidConfig)
		}
		st, err := openStore(ctx, storage.Config{
			Backend:  job.JobStorageMode,
			Bucket:   job.ObjectStoreJobOutputDataBucket,
			Region:   job.AWSRegion,
			Endpoint: job.ObjectStoreEndpoint,
		})
		if err != nil {
			return nil, "", err
		}
		return storage.NewRetryStore(st, job.JobStorageMode, 0, 0), job.ObjectStoreJobOutputDataPrefixFull, nil
	}
	return nil, "", fmt.Errorf("%w: job_storage_mode %q", config.ErrInvalidConfig, job.JobStorageMode)
}
