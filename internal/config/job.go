package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidConfig marks configuration errors. They are fatal at startup.
var ErrInvalidConfig = errors.New("invalid configuration")

// Switch is a boolean that accepts the "true"/"false" strings used by control
// files as well as JSON booleans.
type Switch bool

// UnmarshalJSON implements json.Unmarshaler.
func (s *Switch) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*s = Switch(b)
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("switch value %s: %w", data, err)
	}
	v, err := parseSwitch(str)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// MarshalJSON implements json.Marshaler.
func (s Switch) MarshalJSON() ([]byte, error) {
	if s {
		return []byte(`"true"`), nil
	}
	return []byte(`"false"`), nil
}

func parseSwitch(v string) (Switch, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes":
		return true, nil
	case "false", "0", "no", "":
		return false, nil
	default:
		return false, fmt.Errorf("%w: %q is not a boolean", ErrInvalidConfig, v)
	}
}

// Neutralization modes.
const (
	NeutralizeAlways                     = "always"
	NeutralizeOnlyGenuineDesalting       = "only_genuine_desalting"
	NeutralizeOnlyGenuineDesaltingCharge = "only_genuine_desalting_and_if_charged"
)

// Storage modes.
const (
	StorageS3       = "s3"
	StorageGCS      = "gcs"
	StorageSharedFS = "sharedfs"
)

// Job is the run configuration shared by every subjob of a workflow. It is
// produced by prepare-folders and embedded in each published workunit.
type Job struct {
	JobName      string `json:"job_name"`
	JobLetter    string `json:"job_letter,omitempty"`
	ThreadsToUse int    `json:"threads_to_use,string"`

	// Storage
	JobStorageMode                     string `json:"job_storage_mode"`
	ObjectStoreEndpoint                string `json:"object_store_endpoint,omitempty"`
	ObjectStoreJobOutputDataBucket     string `json:"object_store_job_output_data_bucket,omitempty"`
	ObjectStoreJobOutputDataPrefix     string `json:"object_store_job_output_data_prefix,omitempty"`
	ObjectStoreJobOutputDataPrefixFull string `json:"object_store_job_output_data_prefix_full,omitempty"`
	ObjectStoreLigandLibraryBucket     string `json:"object_store_ligand_library_bucket,omitempty"`
	ObjectStoreLigandLibraryPrefix     string `json:"object_store_ligand_library_prefix,omitempty"`
	CollectionFolder                   string `json:"collection_folder,omitempty"`
	SharedFSWorkflowPath               string `json:"sharedfs_workflow_path,omitempty"`
	SharedFSWorkunitPath               string `json:"sharedfs_workunit_path,omitempty"`
	SharedFSCollectionPath             string `json:"sharedfs_collection_path,omitempty"`

	// Batch system
	Batchsystem            string `json:"batchsystem"`
	AWSRegion              string `json:"aws_region,omitempty"`
	AWSBatchPrefix         string `json:"aws_batch_prefix,omitempty"`
	AWSBatchNumberOfQueues int    `json:"aws_batch_number_of_queues,string,omitempty"`
	AWSBatchArrayJobSize   int    `json:"aws_batch_array_job_size,string,omitempty"`
	AWSECRRepositoryName   string `json:"aws_ecr_repository_name,omitempty"`
	AWSBatchSubjobVCPUs    int    `json:"aws_batch_subjob_vcpus,string,omitempty"`
	AWSBatchSubjobMemory   int    `json:"aws_batch_subjob_memory,string,omitempty"`
	AWSBatchSubjobTimeout  int    `json:"aws_batch_subjob_timeout,string,omitempty"`
	SlurmTemplate          string `json:"slurm_template,omitempty"`
	SlurmArrayJobSize      int    `json:"slurm_array_job_size,string,omitempty"`
	TempdirDefault         string `json:"tempdir_default,omitempty"`
	LigandsTodoPerQueue    int    `json:"ligands_todo_per_queue,string"`

	// Input
	FileFieldnames []string `json:"file_fieldnames"`

	// Desalting
	Desalting           Switch `json:"desalting"`
	DesaltingObligatory Switch `json:"desalting_obligatory"`

	// Neutralization
	Neutralization           Switch `json:"neutralization"`
	NeutralizationMode       string `json:"neutralization_mode"`
	NeutralizationObligatory Switch `json:"neutralization_obligatory"`
	NeutralizationProgram1   string `json:"neutralization_program_1,omitempty"`
	NeutralizationProgram2   string `json:"neutralization_program_2,omitempty"`

	// Stereoisomers
	StereoisomerGeneration              Switch `json:"stereoisomer_generation"`
	StereoisomerObligatory              Switch `json:"stereoisomer_obligatory"`
	CxcalcStereoisomerGenerationOptions string `json:"cxcalc_stereoisomer_generation_options,omitempty"`

	// Tautomers
	Tautomerization              Switch `json:"tautomerization"`
	TautomerizationObligatory    Switch `json:"tautomerization_obligatory"`
	CxcalcTautomerizationOptions string `json:"cxcalc_tautomerization_options,omitempty"`

	// Protonation
	ProtonationStateGeneration Switch  `json:"protonation_state_generation"`
	ProtonationObligatory      Switch  `json:"protonation_obligatory"`
	ProtonationProgram1        string  `json:"protonation_program_1,omitempty"`
	ProtonationProgram2        string  `json:"protonation_program_2,omitempty"`
	ProtonationPHValue         float64 `json:"protonation_pH_value,string"`

	// Tranches and attributes
	TrancheAssignments           Switch                       `json:"tranche_assignments"`
	TrancheAssignmentsObligatory *Switch                      `json:"tranche_assignments_obligatory,omitempty"`
	TrancheTypes                 []string                     `json:"tranche_types"`
	TranchePartitions            map[string][]string          `json:"tranche_partitions"`
	TrancheMappings              map[string]map[string]string `json:"tranche_mappings"`
	AttributesToGenerate         []string                     `json:"attributes_to_generate,omitempty"`

	// 3-D conformation
	ConformationGeneration Switch `json:"conformation_generation"`
	ConformationObligatory Switch `json:"conformation_obligatory"`
	ConformationProgram1   string `json:"conformation_program_1,omitempty"`
	ConformationProgram2   string `json:"conformation_program_2,omitempty"`
	Molconvert3DOptions    string `json:"molconvert_3D_options,omitempty"`

	// Energy check
	EnergyCheck Switch  `json:"energy_check"`
	EnergyMax   float64 `json:"energy_max,string,omitempty"`

	// Output
	TargetFormats            []string `json:"target_formats"`
	StoreAllIntermediateLogs Switch   `json:"store_all_intermediate_logs"`

	// Engine servers
	JavaMaxHeapSize int `json:"java_max_heap_size,string,omitempty"`

	// Per-engine timeouts in seconds
	ChemaxonNeutralizationTimeout int `json:"chemaxon_neutralization_timeout,string"`
	CxcalcStereoisomerTimeout     int `json:"cxcalc_stereoisomer_timeout,string"`
	CxcalcTautomerizationTimeout  int `json:"cxcalc_tautomerization_timeout,string"`
	CxcalcProtonationTimeout      int `json:"cxcalc_protonation_timeout,string"`
	ObabelProtonationTimeout      int `json:"obabel_protonation_timeout,string"`
	MolconvertConformationTimeout int `json:"molconvert_conformation_timeout,string"`
	ObabelConformationTimeout     int `json:"obabel_conformation_timeout,string"`
}

// DefaultTimeout is applied to every engine timeout that is unset or invalid.
const DefaultTimeout = 30

type timeoutField struct {
	key string
	ptr *int
}

// timeoutFields lists the engine timeouts by their control-file key.
func (j *Job) timeoutFields() []timeoutField {
	return []timeoutField{
		{"chemaxon_neutralization_timeout", &j.ChemaxonNeutralizationTimeout},
		{"cxcalc_stereoisomer_timeout", &j.CxcalcStereoisomerTimeout},
		{"cxcalc_tautomerization_timeout", &j.CxcalcTautomerizationTimeout},
		{"cxcalc_protonation_timeout", &j.CxcalcProtonationTimeout},
		{"obabel_protonation_timeout", &j.ObabelProtonationTimeout},
		{"molconvert_conformation_timeout", &j.MolconvertConformationTimeout},
		{"obabel_conformation_timeout", &j.ObabelConformationTimeout},
	}
}

// ApplyDefaults fills derived fields and defaults that the control file may omit.
// It returns one note per defaulted timeout.
func (j *Job) ApplyDefaults() []string {
	var notes []string
	for _, f := range j.timeoutFields() {
		if *f.ptr <= 0 {
			*f.ptr = DefaultTimeout
			notes = append(notes, fmt.Sprintf("'%s' not set, so setting to default of %d", f.key, DefaultTimeout))
		}
	}

	if j.JobName == "" && j.JobLetter != "" {
		j.JobName = j.JobLetter
	}
	j.ObjectStoreJobOutputDataPrefix = strings.TrimRight(j.ObjectStoreJobOutputDataPrefix, "/")
	j.ObjectStoreLigandLibraryPrefix = strings.TrimRight(j.ObjectStoreLigandLibraryPrefix, "/")
	if j.ObjectStoreJobOutputDataPrefixFull == "" && j.JobName != "" {
		j.ObjectStoreJobOutputDataPrefixFull = j.ObjectStoreJobOutputDataPrefix + "/" + j.JobName
	}

	if j.NeutralizationMode == "" {
		j.NeutralizationMode = NeutralizeAlways
	}
	if j.NeutralizationProgram1 == "" {
		j.NeutralizationProgram1 = "standardizer"
	}
	if j.ProtonationProgram1 == "" {
		j.ProtonationProgram1 = "cxcalc"
	}
	if j.ConformationProgram1 == "" {
		j.ConformationProgram1 = "molconvert"
	}
	if j.ProtonationPHValue == 0 {
		j.ProtonationPHValue = 7.4
	}
	if j.JavaMaxHeapSize <= 0 {
		j.JavaMaxHeapSize = 1
	}
	if j.TranchePartitions == nil {
		j.TranchePartitions = map[string][]string{}
	}
	if j.TrancheMappings == nil {
		j.TrancheMappings = map[string]map[string]string{}
	}
	return notes
}

// TrancheObligatory reports whether a tranche assignment failure fails the tautomer.
// Unset means obligatory.
func (j *Job) TrancheObligatory() bool {
	if j.TrancheAssignmentsObligatory == nil {
		return true
	}
	return bool(*j.TrancheAssignmentsObligatory)
}

// MaxArrayJobSize returns the subjob ceiling per workunit for the batch system.
func (j *Job) MaxArrayJobSize() (int, error) {
	switch j.Batchsystem {
	case "awsbatch":
		if j.AWSBatchArrayJobSize <= 0 {
			return 0, fmt.Errorf("%w: aws_batch_array_job_size must be positive", ErrInvalidConfig)
		}
		return j.AWSBatchArrayJobSize, nil
	case "slurm":
		if j.SlurmArrayJobSize <= 0 {
			return 0, fmt.Errorf("%w: slurm_array_job_size must be positive", ErrInvalidConfig)
		}
		return j.SlurmArrayJobSize, nil
	default:
		return 0, fmt.Errorf("%w: batchsystem %q is not supported", ErrInvalidConfig, j.Batchsystem)
	}
}

// Timeout returns the configured timeout in seconds for an engine-qualified
// stage such as "cxcalc_protonation".
func (j *Job) Timeout(name string) int {
	for _, f := range j.timeoutFields() {
		if f.key == name+"_timeout" && *f.ptr > 0 {
			return *f.ptr
		}
	}
	return DefaultTimeout
}

// ParseJob decodes a JSON job configuration and applies defaults.
func ParseJob(data []byte) (*Job, error) {
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("%w: decode job config: %v", ErrInvalidConfig, err)
	}
	j.ApplyDefaults()
	return &j, nil
}
