package toolkit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/withObsrvr/vflp-ligand-prep/internal/attributes"
	"github.com/withObsrvr/vflp-ligand-prep/internal/config"
	"github.com/withObsrvr/vflp-ligand-prep/internal/engine"
)

func failAll(names []string, err error) map[string]attributes.Result {
	out := make(map[string]attributes.Result, len(names))
	for _, n := range names {
		out[n] = attributes.Failed(err)
	}
	return out
}

// cxcalcBackend computes all requested descriptors in one vf.CxCalcAttr call.
// The helper prints one "name,value" line per descriptor; INVALID marks a
// descriptor it does not support.
type cxcalcBackend struct{ t *Toolkit }

func (b *cxcalcBackend) Compute(ctx context.Context, mol attributes.Molecule, names []string, timer attributes.Timer) map[string]attributes.Result {
	in, err := writeInput(mol.Dir, "cxcalc_attr.smi", mol.SMI)
	if err != nil {
		return failAll(names, err)
	}

	start := time.Now()
	args := append([]string{classCxCalcAttr, in}, names...)
	cmd := b.t.ng.Command(args...)
	cmd.Timeout = config.DefaultTimeout * time.Second
	cmd.MustHaveOutput = true
	res, err := b.t.runner.Run(ctx, cmd)
	timer("cxcalc_attributes", time.Since(start).Seconds())
	if err != nil {
		return failAll(names, err)
	}

	values := map[string]string{}
	for _, line := range res.Lines() {
		if strings.HasPrefix(line, "ERROR:") {
			return failAll(names, fmt.Errorf("cxcalc attributes: %s", line))
		}
		name, value, ok := strings.Cut(line, ",")
		if !ok {
			continue
		}
		values[strings.ToLower(strings.TrimSpace(name))] = strings.TrimSpace(value)
	}

	out := make(map[string]attributes.Result, len(names))
	for _, n := range names {
		v, ok := values[strings.ToLower(n)]
		switch {
		case !ok:
			out[n] = attributes.Failedf("cxcalc returned no value for %s", n)
		case v == "INVALID":
			out[n] = attributes.Unsupported()
		default:
			out[n] = attributes.OK(v)
		}
	}
	return out
}

// obpropBackend parses the "key value" report of obprop. Keys that obprop
// does not print are unsupported.
type obpropBackend struct{ t *Toolkit }

func (b *obpropBackend) Compute(ctx context.Context, mol attributes.Molecule, names []string, timer attributes.Timer) map[string]attributes.Result {
	in, err := writeInput(mol.Dir, "obprop_input.smi", mol.SMI)
	if err != nil {
		return failAll(names, err)
	}

	start := time.Now()
	res, err := b.t.runner.Run(ctx, engine.Command{
		Path:           b.t.progs.Obprop,
		Args:           []string{in},
		Timeout:        config.DefaultTimeout * time.Second,
		MustHaveOutput: true,
	})
	timer("obabel_attributes", time.Since(start).Seconds())
	if err != nil {
		return failAll(names, err)
	}

	values := ParseObprop(res.Lines())
	out := make(map[string]attributes.Result, len(names))
	for _, n := range names {
		if v, ok := values[n]; ok {
			out[n] = attributes.OK(v)
		} else {
			out[n] = attributes.Unsupported()
		}
	}
	return out
}

// ParseObprop splits each obprop line once on whitespace.
func ParseObprop(lines []string) map[string]string {
	out := map[string]string{}
	for _, line := range lines {
		fields := strings.SplitN(strings.TrimSpace(line), " ", 2)
		if len(fields) != 2 {
			continue
		}
		out[fields[0]] = strings.TrimSpace(fields[1])
	}
	return out
}

// obabelBackend appends descriptor columns with "obabel --append".
type obabelBackend struct{ t *Toolkit }

func (b *obabelBackend) Compute(ctx context.Context, mol attributes.Molecule, names []string, timer attributes.Timer) map[string]attributes.Result {
	in, err := writeInput(mol.Dir, "obabel_append.smi", mol.SMI)
	if err != nil {
		return failAll(names, err)
	}

	out := make(map[string]attributes.Result, len(names))
	for _, n := range names {
		start := time.Now()
		res, err := b.t.runner.Run(ctx, b.t.obabel(config.DefaultTimeout*time.Second,
			"-ismi", in, "-osmi", "--append", n))
		timer(appendTimer(n), time.Since(start).Seconds())
		if err != nil {
			out[n] = attributes.Failed(err)
			continue
		}
		lines := res.Lines()
		if len(lines) == 0 {
			out[n] = attributes.Failedf("obabel --append %s produced no output", n)
			continue
		}
		fields := strings.Fields(lines[0])
		if len(fields) < 2 {
			out[n] = attributes.Failedf("obabel --append %s: unexpected output %q", n, lines[0])
			continue
		}
		out[n] = attributes.OK(fields[len(fields)-1])
	}
	return out
}

func appendTimer(name string) string {
	switch name {
	case "HBA1":
		return "obabel_attr_hba"
	case "HBD":
		return "obabel_attr_hbd"
	}
	return "obabel_attr_" + strings.ToLower(name)
}
