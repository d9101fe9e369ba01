package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/withObsrvr/vflp-ligand-prep/internal/attributes"
	"github.com/withObsrvr/vflp-ligand-prep/internal/config"
	"github.com/withObsrvr/vflp-ligand-prep/internal/fallback"
	"github.com/withObsrvr/vflp-ligand-prep/internal/logging"
	"github.com/withObsrvr/vflp-ligand-prep/internal/metrics"
	"github.com/withObsrvr/vflp-ligand-prep/internal/tranche"
)

var (
	// ErrEmptyStructure is returned for records without a structure string.
	ErrEmptyStructure = errors.New("empty structure string")

	// ErrNoEnumeration is returned when an enumeration engine produced nothing.
	ErrNoEnumeration = errors.New("no structures enumerated")

	// ErrEnergyTooHigh is returned when a structure fails the energy check.
	ErrEnergyTooHigh = errors.New("failed energy check")
)

// Stage names used in status entries.
const (
	stageDesalt          = "desalt"
	stageNeutralization  = "neutralization"
	stageStereoisomer    = "stereoisomer"
	stageTautomerization = "tautomerization"
	stageProtonation     = "protonation"
	stageAttributes      = "attributes"
	stageTranche         = "tranche-assignment"
	stageConformation    = "conformation"
	stagePDBGeneration   = "pdb-generation"
	stageEnergy          = "energy-check"
	stageSetup           = "setup"
)

var chargeMarker = regexp.MustCompile(`(\-\]|\+\])`)

// Input is one record of a collection.
type Input struct {
	Key      string
	SMI      string
	FileData map[string]string
}

// Processor runs the transformation for single ligands. It holds no
// per-ligand state and is safe for concurrent use.
type Processor struct {
	job         *config.Job
	tk          Toolkit
	providers   fallback.Providers
	registry    *attributes.Registry
	scheme      *tranche.Scheme
	descriptors []string
	versions    Versions
	log         *slog.Logger
	now         func() time.Time
}

// NewProcessor validates the stage configuration of job against the toolkit.
func NewProcessor(job *config.Job, tk Toolkit, logger *slog.Logger) (*Processor, error) {
	p := &Processor{
		job:       job,
		tk:        tk,
		providers: fallback.ProvidersFromJob(job),
		registry:  attributes.NewRegistry(tk.AttributeBackends()),
		versions:  tk.Versions(),
		log:       logger.With("component", "pipeline"),
		now:       time.Now,
	}
	if job.TrancheAssignments {
		scheme, err := tranche.NewScheme(job)
		if err != nil {
			return nil, err
		}
		p.scheme = scheme
		p.descriptors = append(p.descriptors, job.TrancheTypes...)
	}
	p.descriptors = append(p.descriptors, job.AttributesToGenerate...)
	if err := p.registry.Validate(p.descriptors); err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}
	return p, nil
}

func firstToken(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// ProcessLigand runs every stage for one record. The returned ligand is
// always complete: failures are recorded in its audit trail.
func (p *Processor) ProcessLigand(ctx context.Context, layout Layout, in Input) *Ligand {
	start := time.Now()
	lig := &Ligand{
		Key:       in.Key,
		SMI:       in.SMI,
		FileData:  in.FileData,
		Fragments: 1,
		Remarks:   NewRemarks(),
	}
	lig.Status = StatusFailed
	lig.Remarks.Set(RemarkCollectionKey, "Original Collection: "+layout.CollectionKey())

	m := metrics.Get()
	if m != nil {
		m.AddInFlightLigands(1)
		defer m.AddInFlightLigands(-1)
	}
	defer func() {
		lig.Seconds = time.Since(start).Seconds()
		if m != nil {
			m.IncLigand(lig.Status)
		}
	}()

	log := logging.LigandLogger(p.log, layout.Collection, in.Key)
	log.Debug("processing ligand")

	scratch, cleanup, err := p.ligandScratch(layout, in.Key)
	if err != nil {
		lig.fail(stageSetup, err.Error())
		log.Error("cannot prepare scratch directory", "error", err)
		return lig
	}
	defer cleanup()

	if !p.desalt(lig, log) {
		return lig
	}
	if !p.neutralize(ctx, lig, scratch, log) {
		return lig
	}
	if !p.enumerateStereoisomers(ctx, lig, scratch, log) {
		return lig
	}

	for i, smi := range lig.StereoisomerSMILES {
		p.processStereoisomer(ctx, layout, lig, i, smi, scratch)
	}
	lig.Status = StatusSuccess
	return lig
}

func (p *Processor) ligandScratch(layout Layout, key string) (Scratch, func(), error) {
	if p.job.StoreAllIntermediateLogs {
		dir := filepath.Join(layout.IntermediateDir(), key)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return Scratch{}, nil, err
		}
		return Scratch{Dir: dir, KeepLogs: true}, func() {}, nil
	}

	if err := os.MkdirAll(layout.Temp, 0755); err != nil {
		return Scratch{}, nil, err
	}
	base, err := os.MkdirTemp(layout.Temp, "vflp-ligand-")
	if err != nil {
		return Scratch{}, nil, err
	}
	dir := filepath.Join(intermediateDir(base, layout), key)
	if err := os.MkdirAll(dir, 0755); err != nil {
		os.RemoveAll(base)
		return Scratch{}, nil, err
	}
	return Scratch{Dir: dir}, func() { os.RemoveAll(base) }, nil
}

func (p *Processor) desalt(lig *Ligand, log *slog.Logger) bool {
	start := time.Now()
	smi := firstToken(lig.SMI)
	if smi == "" {
		lig.fail(stageDesalt, "desalting failed: "+ErrEmptyStructure.Error())
		log.Warn("ligand has no structure string")
		return false
	}

	if !p.job.Desalting {
		lig.SMIDesalted = smi
		lig.since(stageDesalt, start)
		return true
	}

	fragments := strings.Split(smi, ".")
	if len(fragments) == 1 {
		lig.SMIDesalted = smi
		lig.succeed(stageDesalt, "untouched")
		lig.Remarks.Set(RemarkDesalting, "The ligand was originally not a salt, therefore no desalting was carried out.")
	} else {
		largest := fragments[0]
		for _, f := range fragments[1:] {
			if len(f) > len(largest) {
				largest = f
			}
		}
		lig.SMIDesalted = largest
		lig.Fragments = len(fragments)
		lig.succeed(stageDesalt, "genuine")
		lig.Remarks.Set(RemarkDesalting, fmt.Sprintf(
			"The ligand was desalted by extracting the largest organic fragment (out of %d) from the original structure.",
			len(fragments)))
	}
	lig.since(stageDesalt, start)
	return true
}

func (p *Processor) needsNeutralization(lig *Ligand) bool {
	switch p.job.NeutralizationMode {
	case config.NeutralizeOnlyGenuineDesalting:
		return lig.Fragments > 1
	case config.NeutralizeOnlyGenuineDesaltingCharge:
		return lig.Fragments > 1 && chargeMarker.MatchString(lig.SMIDesalted)
	default:
		return true
	}
}

func (p *Processor) neutralize(ctx context.Context, lig *Ligand, scratch Scratch, log *slog.Logger) bool {
	start := time.Now()
	switch {
	case !bool(p.job.Neutralization):
		lig.SMINeutralized = lig.SMIDesalted
	case !p.needsNeutralization(lig):
		lig.SMINeutralized = lig.SMIDesalted
		lig.succeed(stageNeutralization, "untouched")
	default:
		var out string
		_, err := fallback.Run(ctx, fallback.Neutralization, p.providers.Chain(fallback.Neutralization), lig.record,
			func(ctx context.Context, engine string) error {
				smi, err := p.tk.Neutralize(ctx, engine, lig.SMIDesalted, scratch)
				if err != nil {
					return err
				}
				if smi == "" {
					return ErrEmptyStructure
				}
				out = smi
				return nil
			})
		if err != nil {
			lig.fail(stageNeutralization, "Failed "+err.Error())
			if p.job.NeutralizationObligatory {
				log.Warn("ligand skipped, neutralization is obligatory", "error", err)
				return false
			}
			log.Warn("continuing without neutralization", "error", err)
			lig.SMINeutralized = lig.SMIDesalted
			break
		}
		lig.SMINeutralized = out
		lig.NeutralizationType = "genuine"
		lig.succeed(stageNeutralization, "genuine")
		lig.Remarks.Set(RemarkNeutralization, fmt.Sprintf(
			"The compound was neutralized by Standardizer version %s of ChemAxons JChem Suite.", p.versions.Standardizer))
	}
	lig.since(stageNeutralization, start)
	return true
}

func (p *Processor) enumerateStereoisomers(ctx context.Context, lig *Ligand, scratch Scratch, log *slog.Logger) bool {
	start := time.Now()
	if !p.job.StereoisomerGeneration {
		lig.StereoisomerSMILES = []string{lig.SMINeutralized}
		lig.since(stageStereoisomer, start)
		return true
	}

	var out []string
	_, err := fallback.Run(ctx, fallback.Stereoisomer, p.providers.Chain(fallback.Stereoisomer), lig.record,
		func(ctx context.Context, engine string) error {
			smiles, err := p.tk.Stereoisomers(ctx, engine, lig.SMINeutralized, scratch)
			if err != nil {
				return err
			}
			if len(smiles) == 0 {
				return ErrNoEnumeration
			}
			out = smiles
			return nil
		})
	if err != nil {
		lig.fail(stageStereoisomer, "Failed "+err.Error())
		if p.job.StereoisomerObligatory {
			log.Warn("ligand skipped, stereoisomer generation is obligatory", "error", err)
			return false
		}
		out = []string{lig.SMINeutralized}
	} else {
		lig.succeed(stageStereoisomer, "")
		lig.Remarks.Set(RemarkStereoisomer, fmt.Sprintf(
			"The stereoisomers were generated by cxcalc version %s of ChemAxons JChem Suite.", p.versions.CxCalc))
	}
	lig.StereoisomerSMILES = out
	lig.since(stageStereoisomer, start)
	return true
}

func (p *Processor) processStereoisomer(ctx context.Context, layout Layout, lig *Ligand, index int, smi string, scratch Scratch) {
	start := time.Now()
	st := &Stereoisomer{
		Key:     fmt.Sprintf("%s_S%d", lig.Key, index),
		Index:   index,
		SMI:     firstToken(smi),
		Remarks: lig.Remarks.Clone(),
	}
	st.Status = StatusFailed
	lig.Stereoisomers = append(lig.Stereoisomers, st)
	defer func() { st.Seconds = time.Since(start).Seconds() }()

	log := p.log.With("ligand", lig.Key, "stereoisomer", st.Key)

	tstart := time.Now()
	if !p.job.Tautomerization {
		st.TautomerSMILES = []string{st.SMI}
	} else {
		var out []string
		_, err := fallback.Run(ctx, fallback.Tautomer, p.providers.Chain(fallback.Tautomer), st.record,
			func(ctx context.Context, engine string) error {
				smiles, err := p.tk.Tautomers(ctx, engine, st.SMI, scratch)
				if err != nil {
					return err
				}
				if len(smiles) == 0 {
					return ErrNoEnumeration
				}
				out = smiles
				return nil
			})
		if err != nil {
			st.fail(stageTautomerization, "Failed "+err.Error())
			if p.job.TautomerizationObligatory {
				log.Warn("stereoisomer skipped, tautomerization is obligatory", "error", err)
				st.since(stageTautomerization, tstart)
				return
			}
			out = []string{st.SMI}
		} else {
			st.succeed(stageTautomerization, "")
			st.Remarks.Set(RemarkTautomerization, fmt.Sprintf(
				"The tautomeric state was generated by cxcalc version %s of ChemAxons JChem Suite.", p.versions.CxCalc))
		}
		st.TautomerSMILES = out
	}
	st.since(stageTautomerization, tstart)

	for j, tsmi := range st.TautomerSMILES {
		p.processTautomer(ctx, layout, lig, st, j, tsmi, scratch)
	}
	st.Status = StatusSuccess
}
