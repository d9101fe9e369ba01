package toolkit

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/withObsrvr/vflp-ligand-prep/internal/pipeline"
)

const (
	classCalculator   = "chemaxon.marvin.Calculator"
	classStandardizer = "chemaxon.standardizer.StandardizerCLI"
	classMolConverter = "chemaxon.formats.MolConverter"
	classCxCalcAttr   = "vf.CxCalcAttr"
)

// Neutralize runs the Standardizer neutralize action.
func (t *Toolkit) Neutralize(ctx context.Context, engineName, smi string, s pipeline.Scratch) (string, error) {
	if engineName != "standardizer" {
		return "", unsupportedEngine("neutralization", engineName)
	}
	in, err := writeInput(s.Dir, "desalted.smi", smi)
	if err != nil {
		return "", err
	}
	res, err := t.runner.Run(ctx, t.chemaxon("chemaxon_neutralization", true, classStandardizer, in, "-c", "neutralize"))
	saveOutput(s, "chemaxon_neutralization", res)
	if err != nil {
		return "", err
	}
	lines := res.Lines()
	return lines[len(lines)-1], nil
}

// Stereoisomers enumerates stereoisomers with cxcalc, one per output line.
func (t *Toolkit) Stereoisomers(ctx context.Context, engineName, smi string, s pipeline.Scratch) ([]string, error) {
	if engineName != "cxcalc" {
		return nil, unsupportedEngine("stereoisomer", engineName)
	}
	in, err := writeInput(s.Dir, "neutralized.smi", smi)
	if err != nil {
		return nil, err
	}
	args := append([]string{classCalculator, "stereoisomers"}, splitOptions(t.job.CxcalcStereoisomerGenerationOptions)...)
	res, err := t.runner.Run(ctx, t.chemaxon("cxcalc_stereoisomer", true, append(args, in)...))
	saveOutput(s, "chemaxon_stereoisomer", res)
	if err != nil {
		return nil, err
	}
	lines := res.Lines()
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: no output for stereoisomer state generation", ErrUnparsable)
	}
	return lines, nil
}

// Tautomers enumerates tautomers with cxcalc. The last output line holds
// the dot-separated tautomer SMILES in its second column.
func (t *Toolkit) Tautomers(ctx context.Context, engineName, smi string, s pipeline.Scratch) ([]string, error) {
	if engineName != "cxcalc" {
		return nil, unsupportedEngine("tautomerization", engineName)
	}
	in, err := writeInput(s.Dir, "stereoisomer.smi", smi)
	if err != nil {
		return nil, err
	}
	args := append([]string{classCalculator, "tautomers"}, splitOptions(t.job.CxcalcTautomerizationOptions)...)
	res, err := t.runner.Run(ctx, t.chemaxon("cxcalc_tautomerization", true, append(args, in)...))
	saveOutput(s, "chemaxon_tautomerization", res)
	if err != nil {
		return nil, err
	}
	lines := res.Lines()
	fields := strings.Fields(lines[len(lines)-1])
	if len(fields) < 2 {
		return nil, fmt.Errorf("%w: not able to split last line on spaces line=%s", ErrUnparsable, strings.Join(lines, "|"))
	}
	return strings.Split(fields[1], "."), nil
}

// Protonate computes the major microspecies at the configured pH.
func (t *Toolkit) Protonate(ctx context.Context, engineName, smi string, s pipeline.Scratch) (string, error) {
	switch engineName {
	case "cxcalc":
		return t.cxcalcProtonate(ctx, smi, s)
	case "obabel":
		return t.obabelProtonate(ctx, smi, s)
	}
	return "", unsupportedEngine("protonation", engineName)
}

func (t *Toolkit) cxcalcProtonate(ctx context.Context, smi string, s pipeline.Scratch) (string, error) {
	in, err := writeInput(s.Dir, "before_protonate.smi", smi)
	if err != nil {
		return "", err
	}
	ph := strconv.FormatFloat(t.job.ProtonationPHValue, 'f', -1, 64)
	res, err := t.runner.Run(ctx, t.chemaxon("cxcalc_protonation", true, classCalculator, "majorms", "-H", ph, in))
	saveOutput(s, "chemaxon_protonate", res)
	if err != nil {
		return "", err
	}
	lines := res.Lines()
	if len(lines) > 1 {
		parts := strings.SplitN(lines[len(lines)-1], "\t", 3)
		if len(parts) > 1 && parts[1] != "" {
			return parts[1], nil
		}
	}
	return "", fmt.Errorf("%w: protonation state generation failed", ErrUnparsable)
}

// Conformation generates 3-D coordinates with molconvert or obabel.
func (t *Toolkit) Conformation(ctx context.Context, engineName, smi, out string, s pipeline.Scratch) error {
	switch engineName {
	case "molconvert":
		in, err := writeInput(s.Dir, "molconvert.conf_input.smi", smi)
		if err != nil {
			return err
		}
		args := append([]string{classMolConverter, "pdb:+H"}, splitOptions(t.job.Molconvert3DOptions)...)
		args = append(args, in, "-o", out)
		res, err := t.runner.Run(ctx, t.chemaxon("molconvert_conformation", false, args...))
		saveOutput(s, "molconvert_conformation", res)
		return err
	case "obabel":
		return t.obabelPDB(ctx, smi, out, true, t.timeout("obabel_conformation"), s)
	}
	return unsupportedEngine("conformation", engineName)
}
