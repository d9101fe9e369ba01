package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/withObsrvr/vflp-ligand-prep/internal/attributes"
	"github.com/withObsrvr/vflp-ligand-prep/internal/fallback"
	"github.com/withObsrvr/vflp-ligand-prep/internal/metrics"
)

func (p *Processor) processTautomer(ctx context.Context, layout Layout, lig *Ligand, st *Stereoisomer, index int, smi string, ligScratch Scratch) {
	start := time.Now()
	t := &Tautomer{
		Key:             fmt.Sprintf("%s_T%d", st.Key, index),
		Index:           index,
		SMI:             firstToken(smi),
		SMIStereoisomer: st.SMI,
		SMIOriginal:     lig.SMI,
		Remarks:         st.Remarks.Clone(),
	}
	t.Status = StatusFailed
	lig.Tautomers = append(lig.Tautomers, t)
	defer func() {
		t.Seconds = time.Since(start).Seconds()
		if m := metrics.Get(); m != nil {
			m.IncTautomer(t.Status)
		}
	}()

	t.intermediateDir = filepath.Join(ligScratch.Dir, t.Key)
	if err := os.MkdirAll(t.intermediateDir, 0755); err != nil {
		t.fail(stageSetup, err.Error())
		return
	}
	scratch := Scratch{Dir: t.intermediateDir, KeepLogs: ligScratch.KeepLogs}

	if err := p.runTautomer(ctx, layout, lig, t, scratch); err != nil {
		p.log.Warn("tautomer failed", "ligand", lig.Key, "tautomer", t.Key, "error", err)
		return
	}
	t.Status = StatusSuccess
}

// runTautomer returns an error only when an obligatory stage failed.
func (p *Processor) runTautomer(ctx context.Context, layout Layout, lig *Ligand, t *Tautomer, scratch Scratch) error {
	t.SMIProtomer = t.SMI
	if p.job.ProtonationStateGeneration {
		if err := p.protonate(ctx, t, scratch); err != nil {
			return err
		}
	}

	t.Remarks.Set(RemarkBasic, "Small molecule (ligand)")
	t.Remarks.Set(RemarkCompound, "Compound: "+t.Key)
	t.Remarks.Set(RemarkSmiles, "SMILES: "+t.SMIProtomer)

	if err := p.assignTranche(ctx, layout, lig, t, scratch); err != nil {
		return err
	}

	t.pdbFile = filepath.Join(scratch.Dir, "gen.pdb")
	conformed := false
	if p.job.ConformationGeneration {
		start := time.Now()
		_, err := fallback.Run(ctx, fallback.Conformation, p.providers.Chain(fallback.Conformation), t.record,
			func(ctx context.Context, engine string) error {
				return p.conform(ctx, engine, t, scratch)
			})
		t.since(stageConformation, start)
		if err != nil {
			t.fail(stageConformation, err.Error())
			if p.job.ConformationObligatory {
				return fmt.Errorf("conformation failed, but is required: %w", err)
			}
		} else {
			conformed = true
			t.succeed(stageConformation, "")
		}
	}

	if !conformed {
		start := time.Now()
		err := p.generatePDB(ctx, t, scratch)
		t.since("obabel_generation", start)
		if err != nil {
			t.fail(stagePDBGeneration, err.Error())
			return fmt.Errorf("PDB generation failed, but is required: %w", err)
		}
	}

	if p.job.EnergyCheck {
		start := time.Now()
		energy, raw, err := p.tk.Energy(ctx, t.pdbFile, scratch)
		t.since("obenergy", start)
		if err != nil {
			t.fail(stageEnergy, err.Error())
			return fmt.Errorf("energy check: %w", err)
		}
		if energy > p.job.EnergyMax {
			t.fail(stageEnergy, strings.Join(raw, "|"))
			return fmt.Errorf("%w: %.3f kJ/mol above %.3f", ErrEnergyTooHigh, energy, p.job.EnergyMax)
		}
		t.succeed(stageEnergy, "")
	}

	start := time.Now()
	for _, format := range p.job.TargetFormats {
		fstart := time.Now()
		err := p.writeTargetFormat(ctx, layout, t, format, scratch)
		t.since("obabel_generate_"+format, fstart)
		stage := fmt.Sprintf("targetformat-generation(%s)", format)
		if err != nil {
			p.log.Debug("target format failed", "tautomer", t.Key, "format", format, "error", err)
			t.fail(stage, err.Error())
			continue
		}
		t.succeed(stage, "")
	}
	t.since("targetformats", start)
	return nil
}

func (p *Processor) protonate(ctx context.Context, t *Tautomer, scratch Scratch) error {
	var out string
	engine, err := fallback.Run(ctx, fallback.Protonation, p.providers.Chain(fallback.Protonation), t.record,
		func(ctx context.Context, engine string) error {
			smi, err := p.tk.Protonate(ctx, engine, t.SMI, scratch)
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
		t.fail(stageProtonation, err.Error())
		if p.job.ProtonationObligatory {
			return fmt.Errorf("protonation is required: %w", err)
		}
		t.Remarks.Set(RemarkProtonation,
			"WARNING: Molecule was not protonated at physiological pH (protonation with both obabel and cxcalc has failed)")
		return nil
	}

	t.SMIProtomer = out
	t.succeed(stageProtonation, "")
	switch engine {
	case "cxcalc":
		t.Remarks.Set(RemarkProtonation, fmt.Sprintf(
			"Protonation state was generated at pH %g by cxcalc version %s of ChemAxons JChem Suite.",
			p.job.ProtonationPHValue, p.versions.CxCalc))
	default:
		t.Remarks.Set(RemarkProtonation, fmt.Sprintf(
			"Protonation state was generated at pH %g by Open Babel version %s",
			p.job.ProtonationPHValue, p.versions.Obabel))
	}
	return nil
}

func describe(r attributes.Result) string {
	switch r.State {
	case attributes.StateUnsupported:
		return "unsupported"
	case attributes.StateError:
		return r.Err.Error()
	}
	return r.Value
}

// assignTranche resolves every configured descriptor once and derives the
// tranche string. When assignment is disabled, the collection tranche is kept.
func (p *Processor) assignTranche(ctx context.Context, layout Layout, lig *Ligand, t *Tautomer, scratch Scratch) error {
	t.TrancheString = layout.Tranche
	if len(p.descriptors) == 0 {
		return nil
	}

	start := time.Now()
	mol := attributes.Molecule{Key: t.Key, SMI: t.SMIProtomer, FileData: lig.FileData, Dir: scratch.Dir}
	results := p.registry.Resolve(ctx, p.descriptors, mol, t.record)

	t.Attr = make(map[string]string, len(results))
	for name, r := range results {
		if r.State == attributes.StateOK {
			t.Attr[name] = r.Value
		}
	}
	for _, name := range p.job.AttributesToGenerate {
		if r := results[name]; r.State != attributes.StateOK {
			t.fail(stageAttributes, fmt.Sprintf("%s: %s", name, describe(r)))
		}
	}

	if p.scheme == nil {
		return nil
	}

	values := make(map[string]string, len(p.scheme.Types))
	var err error
	for _, tt := range p.scheme.Types {
		r := results[tt]
		if r.State != attributes.StateOK {
			err = fmt.Errorf("tranche_type:%s: %s", tt, describe(r))
			break
		}
		values[tt] = r.Value
	}
	var tr string
	var attrRemarks []string
	if err == nil {
		a, aerr := p.scheme.Assign(values)
		tr, attrRemarks, err = a.Tranche, a.Remarks, aerr
	}
	if err != nil {
		t.fail(stageTranche, err.Error())
		t.since(stageTranche, start)
		if p.job.TrancheObligatory() {
			return fmt.Errorf("the tranche assignments have failed: %w", err)
		}
		return nil
	}

	t.TrancheString = tr
	t.Remarks.Set(RemarkTrancheAssignment, "Ligand properties")
	t.Remarks.SetAttrs(attrRemarks)
	t.Remarks.Set(RemarkTrancheString, "Tranche: "+tr)
	t.succeed(stageTranche, "")
	t.since(stageTranche, start)
	return nil
}

func (p *Processor) conform(ctx context.Context, engine string, t *Tautomer, scratch Scratch) error {
	raw := t.pdbFile + ".tmp"
	os.Remove(raw)
	if err := p.tk.Conformation(ctx, engine, t.SMIProtomer, raw, scratch); err != nil {
		return err
	}
	lines, err := checkStructure(raw, true)
	if err != nil {
		return err
	}

	by := "Open Babel version " + p.versions.Obabel
	if engine == "molconvert" {
		by = "molconvert version " + p.versions.Molconvert
	}
	t.Remarks.Set(RemarkConformation, "Generation of the 3D conformation was carried out by "+by)
	t.Remarks.Set(RemarkSmiles, "SMILES: "+firstToken(t.SMIProtomer))
	return writePDB(t.pdbFile, t.Key, t.Remarks.Render(DefaultRemarkOrder, "REMARK    "), lines)
}

func (p *Processor) generatePDB(ctx context.Context, t *Tautomer, scratch Scratch) error {
	raw := t.pdbFile + ".tmp"
	os.Remove(raw)
	if err := p.tk.GeneratePDB(ctx, t.SMIProtomer, raw, scratch); err != nil {
		return err
	}
	lines, err := checkStructure(raw, true)
	if err != nil {
		return err
	}
	t.Remarks.Set(RemarkGeneration, fmt.Sprintf(
		"Generation of the PDB file (without conformation generation) was carried out by Open Babel version %s",
		p.versions.Obabel))
	t.Remarks.Set(RemarkSmiles, "SMILES: "+firstToken(t.SMIProtomer))
	return writePDB(t.pdbFile, t.Key, t.Remarks.Render(DefaultRemarkOrder, "REMARK    "), lines)
}

func (p *Processor) writeTargetFormat(ctx context.Context, layout Layout, t *Tautomer, format string, scratch Scratch) error {
	tmp := filepath.Join(scratch.Dir, "tmp."+format)
	os.Remove(tmp)
	if err := p.tk.Convert(ctx, t.pdbFile, format, tmp, scratch); err != nil {
		return err
	}
	lines, err := checkStructure(tmp, format == "pdb" || format == "pdbqt")
	if err != nil {
		return err
	}

	var remarks string
	if prefix, ok := remarkPrefix(format); ok {
		t.Remarks.Set(RemarkTargetFormat, fmt.Sprintf(
			"Generation of the target format file (%s) was carried out by Open Babel version %s", format, p.versions.Obabel))
		t.Remarks.Set(RemarkDate, "Created on "+p.now().Format("2006-01-02 15:04:05"))
		order := DefaultRemarkOrder
		if format == "pdb" {
			order = []string{RemarkTargetFormat, RemarkDate}
		}
		remarks = t.Remarks.Render(order, prefix)
	}
	return writeFile(layout.OutputFile(format, t.TrancheString, t.Key), formatOutput(format, remarks, lines, t.pdbFile))
}
