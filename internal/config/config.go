package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
)

// Config is the per-process worker configuration read from the environment.
type Config struct {
	Subjob   SubjobConfig
	Storage  StorageConfig
	Engines  EngineConfig
	Perf     PerfConfig
	Logging  LoggingConfig
	Catalog  CatalogConfig
	Metrics  MetricsConfig
	Progress ProgressConfig
	Audit    AuditConfig
}

type SubjobConfig struct {
	Workunit string
	Subjob   string
}

type StorageConfig struct {
	Mode string // "s3" | "gcs" | "sharedfs"

	// Location of the workunit document.
	ConfigJobBucket string
	ConfigJobObject string
	ConfigJSON      string
	WorkunitJSON    string

	Region   string
	Endpoint string
}

type EngineConfig struct {
	NailgunHost string
}

type PerfConfig struct {
	VCPUs         int
	RunSequential bool
	TmpPath       string
}

type LoggingConfig struct {
	Format string
	Level  string
}

type CatalogConfig struct {
	PostgresDSN string
}

type MetricsConfig struct {
	Address string
}

type ProgressConfig struct {
	CheckpointDir string
}

// AuditConfig locates the provenance event stream. Empty disables it.
type AuditConfig struct {
	Dir      string
	Endpoint string
}

// LoadWorker reads the worker configuration from the environment.
func LoadWorker() (Config, error) {
	log.Println("[config] loading")

	vcpus := 1
	if v := os.Getenv("VFLP_VCPUS"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			return Config{}, fmt.Errorf("%w: VFLP_VCPUS=%q must be a positive integer", ErrInvalidConfig, v)
		}
		vcpus = parsed
	}

	cfg := Config{
		Subjob: SubjobConfig{
			Workunit: os.Getenv("VFLP_WORKUNIT"),
			Subjob:   os.Getenv("VFLP_WORKUNIT_SUBJOB"),
		},
		Storage: StorageConfig{
			Mode:            os.Getenv("VFLP_JOB_STORAGE_MODE"),
			ConfigJobBucket: os.Getenv("VFLP_CONFIG_JOB_BUCKET"),
			ConfigJobObject: os.Getenv("VFLP_CONFIG_JOB_OBJECT"),
			ConfigJSON:      os.Getenv("VFLP_CONFIG_JSON"),
			WorkunitJSON:    os.Getenv("VFLP_WORKUNIT_JSON"),
			Region:          getenvDefault("VFLP_REGION", "us-east-1"),
			Endpoint:        os.Getenv("VFLP_S3_ENDPOINT"),
		},
		Engines: EngineConfig{
			NailgunHost: getenvDefault("VFLP_HOST", "localhost"),
		},
		Perf: PerfConfig{
			VCPUs:         vcpus,
			RunSequential: os.Getenv("VFLP_RUN_SEQUENTIAL") == "1",
			TmpPath:       getenvDefault("VFLP_TMP_PATH", "/tmp"),
		},
		Logging: LoggingConfig{
			Format: getenvDefault("VFLP_LOG_FORMAT", "text"),
			Level:  getenvDefault("VFLP_LOG_LEVEL", "info"),
		},
		Catalog: CatalogConfig{
			PostgresDSN: os.Getenv("VFLP_CATALOG_DSN"),
		},
		Metrics: MetricsConfig{
			Address: os.Getenv("VFLP_METRICS_ADDR"),
		},
		Progress: ProgressConfig{
			CheckpointDir: os.Getenv("VFLP_CHECKPOINT_DIR"),
		},
		Audit: AuditConfig{
			Dir:      os.Getenv("VFLP_AUDIT_DIR"),
			Endpoint: os.Getenv("VFLP_AUDIT_ENDPOINT"),
		},
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Subjob.Workunit == "" {
		return fmt.Errorf("%w: VFLP_WORKUNIT must be set", ErrInvalidConfig)
	}
	if c.Subjob.Subjob == "" {
		return fmt.Errorf("%w: VFLP_WORKUNIT_SUBJOB must be set", ErrInvalidConfig)
	}

	switch c.Storage.Mode {
	case StorageS3, StorageGCS:
		if c.Storage.ConfigJobBucket == "" || c.Storage.ConfigJobObject == "" {
			return fmt.Errorf("%w: VFLP_CONFIG_JOB_BUCKET and VFLP_CONFIG_JOB_OBJECT must be set in %s mode",
				ErrInvalidConfig, c.Storage.Mode)
		}
	case StorageSharedFS:
		if c.Storage.WorkunitJSON == "" {
			return fmt.Errorf("%w: VFLP_WORKUNIT_JSON must be set in sharedfs mode", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: VFLP_JOB_STORAGE_MODE must be s3, gcs or sharedfs (got %q)",
			ErrInvalidConfig, c.Storage.Mode)
	}
	return nil
}

func getenvDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}
