// Package toolkit drives the ChemAxon (through nailgun) and Open Babel
// command-line programs that serve the pipeline stages.
package toolkit

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/withObsrvr/vflp-ligand-prep/internal/attributes"
	"github.com/withObsrvr/vflp-ligand-prep/internal/config"
	"github.com/withObsrvr/vflp-ligand-prep/internal/engine"
	"github.com/withObsrvr/vflp-ligand-prep/internal/fallback"
	"github.com/withObsrvr/vflp-ligand-prep/internal/pipeline"
)

// ErrUnparsable is returned when engine output has an unexpected shape.
var ErrUnparsable = errors.New("unable to parse engine output")

// Programs names the executables. Empty fields use the defaults.
type Programs struct {
	Obabel   string
	Obprop   string
	Obenergy string
}

// Toolkit implements pipeline.Toolkit.
type Toolkit struct {
	runner   engine.Runner
	ng       engine.Nailgun
	job      *config.Job
	progs    Programs
	versions pipeline.Versions
	log      *slog.Logger
}

var _ pipeline.Toolkit = (*Toolkit)(nil)

// New creates a toolkit. ng addresses the nailgun server used for ChemAxon
// programs; it is ignored when no ChemAxon program is configured.
func New(runner engine.Runner, job *config.Job, ng engine.Nailgun, progs Programs, logger *slog.Logger) *Toolkit {
	if progs.Obabel == "" {
		progs.Obabel = "obabel"
	}
	if progs.Obprop == "" {
		progs.Obprop = "obprop"
	}
	if progs.Obenergy == "" {
		progs.Obenergy = "obenergy"
	}
	return &Toolkit{
		runner: runner,
		ng:     ng,
		job:    job,
		progs:  progs,
		versions: pipeline.Versions{
			CxCalc:       pipeline.UnknownVersion,
			Molconvert:   pipeline.UnknownVersion,
			Standardizer: pipeline.UnknownVersion,
			Obabel:       pipeline.UnknownVersion,
		},
		log: logger.With("component", "toolkit"),
	}
}

// Versions returns the versions found by DiscoverVersions.
func (t *Toolkit) Versions() pipeline.Versions {
	return t.versions
}

// AttributeBackends returns the descriptor engines backed by this toolkit.
func (t *Toolkit) AttributeBackends() map[string]attributes.Backend {
	return map[string]attributes.Backend{
		attributes.EngineCxCalc: &cxcalcBackend{t: t},
		attributes.EngineObprop: &obpropBackend{t: t},
		attributes.EngineObabel: &obabelBackend{t: t},
	}
}

// Usage reports which nailgun-hosted programs a job needs.
type Usage struct {
	CxCalc       bool
	Molconvert   bool
	Standardizer bool
}

// Nailgun reports whether a nailgun server is required.
func (u Usage) Nailgun() bool {
	return u.CxCalc || u.Molconvert || u.Standardizer
}

// UsageFor derives the program usage of a job, including descriptors that
// are computed by cxcalc.
func UsageFor(job *config.Job) Usage {
	p := fallback.ProvidersFromJob(job)
	descriptors := append([]string(nil), job.AttributesToGenerate...)
	if job.TrancheAssignments {
		descriptors = append(descriptors, job.TrancheTypes...)
	}
	return Usage{
		CxCalc:       p.Uses("cxcalc") || attributes.Engines(descriptors)[attributes.EngineCxCalc],
		Molconvert:   p.Uses("molconvert"),
		Standardizer: p.Uses("standardizer"),
	}
}

func (t *Toolkit) timeout(name string) time.Duration {
	return time.Duration(t.job.Timeout(name)) * time.Second
}

func writeInput(dir, name, smi string) (string, error) {
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(smi), 0644); err != nil {
		return "", fmt.Errorf("write engine input: %w", err)
	}
	return path, nil
}

// saveOutput keeps the captured output of an engine call in the scratch
// directory when intermediate logs are requested.
func saveOutput(s pipeline.Scratch, name string, res *engine.Result) {
	if !s.KeepLogs || res == nil {
		return
	}
	content := "STDOUT ---------\n" + res.Stdout + "\nSTDERR ---------\n" + res.Stderr
	os.WriteFile(filepath.Join(s.Dir, name), []byte(content), 0644)
}

func splitOptions(opts string) []string {
	return strings.Fields(opts)
}

// chemaxon runs a Java class on the nailgun server.
func (t *Toolkit) chemaxon(timeoutKey string, mustHaveOutput bool, args ...string) engine.Command {
	cmd := t.ng.Command(args...)
	cmd.Timeout = t.timeout(timeoutKey)
	cmd.MustHaveOutput = mustHaveOutput
	cmd.CheckSignatures = true
	return cmd
}

func (t *Toolkit) obabel(timeout time.Duration, args ...string) engine.Command {
	return engine.Command{
		Path:            t.progs.Obabel,
		Args:            args,
		Timeout:         timeout,
		CheckSignatures: true,
	}
}

func unsupportedEngine(stage, engine string) error {
	return fmt.Errorf("%s program '%s' is not valid", stage, engine)
}
