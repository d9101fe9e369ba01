package attributes

import (
	"context"
	"regexp"
	"strconv"
	"strings"
)

var electronegativeAtom = regexp.MustCompile(`[NnOoSsPpFfXxBbIi]`)

func halogenCount(smi string) int {
	return strings.Count(smi, "F") + strings.Count(smi, "Cl") +
		strings.Count(smi, "Br") + strings.Count(smi, "I")
}

func electronegativeAtomCount(smi string) int {
	smi = strings.ReplaceAll(smi, "Na", "")
	smi = strings.ReplaceAll(smi, "Cl", "X")
	smi = strings.ReplaceAll(smi, "Si", "")
	return len(electronegativeAtom.FindAllString(smi, -1))
}

func noCount(smi string) int {
	smi = strings.ReplaceAll(smi, "Na", "")
	return strings.Count(smi, "N") + strings.Count(smi, "O") +
		strings.Count(smi, "n") + strings.Count(smi, "o")
}

func sulfurCount(smi string) int {
	return strings.Count(strings.ReplaceAll(smi, "Si", ""), "S")
}

func positiveCharge(smi string) int {
	return strings.Count(strings.ReplaceAll(smi, "+2", "++"), "+")
}

func negativeCharge(smi string) int {
	return strings.Count(strings.ReplaceAll(smi, "-2", "--"), "-")
}

var localFuncs = map[string]func(string) int{
	"halogencount":             halogenCount,
	"electronegativeatomcount": electronegativeAtomCount,
	"NOcount":                  noCount,
	"sulfurcount":              sulfurCount,
	"positivechargecount":      positiveCharge,
	"negativechargecount":      negativeCharge,
	"formalcharge":             func(smi string) int { return positiveCharge(smi) - negativeCharge(smi) },
}

// LocalBackend computes closed-form counts over the SMILES string.
type LocalBackend struct{}

func (LocalBackend) Compute(_ context.Context, mol Molecule, names []string, _ Timer) map[string]Result {
	out := make(map[string]Result, len(names))
	for _, name := range names {
		fn, ok := localFuncs[name]
		if !ok {
			out[name] = Unsupported()
			continue
		}
		out[name] = OK(strconv.Itoa(fn(mol.SMI)))
	}
	return out
}

// FileBackend reads values carried by the input record.
type FileBackend struct{}

func (FileBackend) Compute(_ context.Context, mol Molecule, names []string, _ Timer) map[string]Result {
	out := make(map[string]Result, len(names))
	for _, name := range names {
		v, ok := mol.FileData[name]
		if !ok {
			out[name] = Failedf("asked for attribute '%s' that does not exist in file_data", name)
			continue
		}
		out[name] = OK(v)
	}
	return out
}
