package config

import (
	"fmt"
	"strings"
)

// ValidationError lists every problem found in a job configuration.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

// Unwrap lets errors.Is match ErrInvalidConfig.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidConfig
}

// Validate checks the job configuration. job_letter and job_name are expected
// to be checked on the raw control values before defaults merge them, see
// ValidateControl.
func (j *Job) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}
	required := func(value, key, when string) {
		if value == "" {
			add("'%s' must be set if %s", key, when)
		}
	}

	if j.JobName == "" {
		add("'job_name' must be set")
	}
	if j.ThreadsToUse <= 0 {
		add("'threads_to_use' must be set in all.ctrl")
	}

	switch j.JobStorageMode {
	case StorageS3, StorageGCS:
		when := "job_storage_mode is '" + j.JobStorageMode + "'"
		required(j.ObjectStoreJobOutputDataBucket, "object_store_job_output_data_bucket", when)
		required(j.ObjectStoreJobOutputDataPrefix, "object_store_job_output_data_prefix", when)
		required(j.ObjectStoreLigandLibraryBucket, "object_store_ligand_library_bucket", when)
		required(j.ObjectStoreLigandLibraryPrefix, "object_store_ligand_library_prefix", when)
	case StorageSharedFS:
		if j.CollectionFolder == "" && j.SharedFSCollectionPath == "" {
			add("'collection_folder' must be set if job_storage_mode is 'sharedfs'")
		}
	default:
		add("'job_storage_mode' must be set to 's3', 'gcs' or 'sharedfs'")
	}

	switch j.Batchsystem {
	case "":
		add("'batchsystem' must be set in all.ctrl")
	case "awsbatch":
		when := "batchsystem is 'awsbatch'"
		required(j.AWSBatchPrefix, "aws_batch_prefix", when)
		if j.AWSBatchNumberOfQueues <= 0 {
			add("'aws_batch_number_of_queues' must be set if %s", when)
		}
		if j.AWSBatchArrayJobSize <= 0 {
			add("'aws_batch_array_job_size' must be set if %s", when)
		}
		required(j.AWSECRRepositoryName, "aws_ecr_repository_name", when)
		required(j.AWSRegion, "aws_region", when)
		if j.AWSBatchSubjobVCPUs <= 0 {
			add("'aws_batch_subjob_vcpus' must be set if %s", when)
		}
		if j.AWSBatchSubjobMemory <= 0 {
			add("'aws_batch_subjob_memory' must be set if %s", when)
		}
		if j.AWSBatchSubjobTimeout <= 0 {
			add("'aws_batch_subjob_timeout' must be set if %s", when)
		}
		if j.TempdirDefault != "/dev/shm" {
			add("RECOMMENDED that 'tempdir_default' be '/dev/shm' if awsbatch is used")
		}
		if j.JobStorageMode != StorageS3 {
			add("'job_storage_mode' must be set to 's3' if %s", when)
		}
	case "slurm":
		when := "batchsystem is 'slurm'"
		required(j.SlurmTemplate, "slurm_template", when)
		if j.JobStorageMode != StorageSharedFS {
			add("'job_storage_mode' must be set to 'sharedfs' if %s", when)
		}
	default:
		add("batchsystem '%s' is not supported. Only awsbatch and slurm are supported", j.Batchsystem)
	}

	if j.LigandsTodoPerQueue <= 0 {
		add("'ligands_todo_per_queue' must be a positive integer")
	}
	if len(j.TargetFormats) == 0 {
		add("'targetformats' must list at least one format")
	}
	if !containsString(j.FileFieldnames, "ligand-name") || !containsString(j.FileFieldnames, "smi") {
		add("'file_fieldnames' must include 'ligand-name' and 'smi'")
	}

	switch j.NeutralizationMode {
	case NeutralizeAlways, NeutralizeOnlyGenuineDesalting, NeutralizeOnlyGenuineDesaltingCharge:
	default:
		add("'neutralization_mode' %q is not valid", j.NeutralizationMode)
	}

	if j.EnergyCheck && j.EnergyMax <= 0 {
		add("'energy_max' must be positive if energy_check is enabled")
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// ValidateControl checks rules that only make sense on raw control values.
func (c *Control) ValidateControl() []string {
	var problems []string
	if c.Values["job_letter"] != "" && c.Values["job_name"] != "" {
		problems = append(problems, "Define either job_letter or job_name (job_letter is being deprecated)")
	}
	return problems
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
