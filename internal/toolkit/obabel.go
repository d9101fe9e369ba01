package toolkit

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/withObsrvr/vflp-ligand-prep/internal/config"
	"github.com/withObsrvr/vflp-ligand-prep/internal/engine"
	"github.com/withObsrvr/vflp-ligand-prep/internal/pipeline"
)

// KcalToKJ converts kcal/mol to kJ/mol.
const KcalToKJ = 4.184

var totalEnergy = regexp.MustCompile(`^TOTAL\s+ENERGY\s+=\s+(-?\d+\.?\d*)\s+(kcal|kJ)`)

// ParseEnergy reads the total energy in kJ/mol from the last obenergy line.
func ParseEnergy(lines []string) (float64, error) {
	if len(lines) == 0 {
		return 0, fmt.Errorf("%w: no obenergy output", ErrUnparsable)
	}
	m := totalEnergy.FindStringSubmatch(strings.TrimSpace(lines[len(lines)-1]))
	if m == nil {
		return 0, fmt.Errorf("%w: %s", ErrUnparsable, strings.Join(lines, "|"))
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnparsable, err)
	}
	if m[2] == "kcal" {
		v *= KcalToKJ
	}
	return v, nil
}

func firstLine(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("no output file from obabel: %w", err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) != "" {
			return line, nil
		}
	}
	return "", fmt.Errorf("%w: no output in file from obabel", ErrUnparsable)
}

func (t *Toolkit) obabelProtonate(ctx context.Context, smi string, s pipeline.Scratch) (string, error) {
	in, err := writeInput(s.Dir, "obabel.proto_input.smi", smi)
	if err != nil {
		return "", err
	}
	out := in[:len(in)-len("input.smi")] + "output.smi"
	ph := strconv.FormatFloat(t.job.ProtonationPHValue, 'f', -1, 64)
	res, err := t.runner.Run(ctx, t.obabel(t.timeout("obabel_protonation"), "-p", ph, "-ismi", in, "-osmi", "-O", out))
	saveOutput(s, "obabel_protonate", res)
	if err != nil {
		return "", err
	}
	line, err := firstLine(out)
	if err != nil {
		return "", err
	}
	return strings.Fields(line)[0], nil
}

func (t *Toolkit) obabelPDB(ctx context.Context, smi, out string, gen3d bool, timeout time.Duration, s pipeline.Scratch) error {
	in, err := writeInput(s.Dir, "obabel.conf_input.smi", smi)
	if err != nil {
		return err
	}
	args := []string{"-ismi", in, "-opdb", "-O", out}
	name := "obabel_generation"
	if gen3d {
		args = append([]string{"--gen3d"}, args...)
		name = "obabel_conformation"
	}
	res, err := t.runner.Run(ctx, t.obabel(timeout, args...))
	saveOutput(s, name, res)
	return err
}

// GeneratePDB writes a PDB file without a conformation search.
func (t *Toolkit) GeneratePDB(ctx context.Context, smi, out string, s pipeline.Scratch) error {
	return t.obabelPDB(ctx, smi, out, false, config.DefaultTimeout*time.Second, s)
}

// Energy runs obenergy on a PDB file.
func (t *Toolkit) Energy(ctx context.Context, pdb string, s pipeline.Scratch) (float64, []string, error) {
	res, err := t.runner.Run(ctx, engine.Command{
		Path:    t.progs.Obenergy,
		Args:    []string{pdb},
		Timeout: config.DefaultTimeout * time.Second,
	})
	saveOutput(s, "energy_check", res)
	if err != nil {
		return 0, nil, err
	}
	lines := res.Lines()
	v, err := ParseEnergy(lines)
	return v, lines, err
}

// Convert writes pdb in the format implied by the extension of out.
func (t *Toolkit) Convert(ctx context.Context, pdb, format, out string, s pipeline.Scratch) error {
	res, err := t.runner.Run(ctx, t.obabel(config.DefaultTimeout*time.Second, "-ipdb", pdb, "-O", out))
	saveOutput(s, "obabel_generate_"+format, res)
	return err
}
