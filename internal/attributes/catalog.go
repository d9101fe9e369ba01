package attributes

import (
	"errors"
	"fmt"
)

// Engine names understood by the registry.
const (
	EngineCxCalc = "cxcalc"
	EngineObprop = "obprop"
	EngineObabel = "obabel"
	EngineLocal  = "local"
	EngineFile   = "file"
)

// ErrUnknownDescriptor is returned for descriptor names without a catalog entry.
var ErrUnknownDescriptor = errors.New("unknown descriptor")

// Source is one way to compute a descriptor: the engine and the name the
// engine knows it by.
type Source struct {
	Engine string
	Name   string
}

func cx(name string) []Source   { return []Source{{EngineCxCalc, name}} }
func prop(name string) []Source { return []Source{{EngineObprop, name}} }
func loc(name string) []Source  { return []Source{{EngineLocal, name}} }
func file(name string) []Source { return []Source{{EngineFile, name}} }

var catalog = map[string][]Source{
	"mw_jchem":          cx("mass"),
	"logp_jchem":        cx("logp"),
	"hba_jchem":         cx("acceptorcount"),
	"hbd_jchem":         cx("donorcount"),
	"rotb_jchem":        cx("rotatablebondcount"),
	"tpsa_jchem":        cx("polarsurfacearea"),
	"atomcount_jchem":   cx("atomcount"),
	"bondcount_jchem":   cx("bondcount"),
	"mr_jchem":          cx("refractivity"),
	"logd":              cx("logd"),
	"logs":              cx("logs"),
	"ringcount":         cx("ringcount"),
	"aromaticringcount": cx("aromaticringcount"),
	"fsp3":              cx("fsp3"),
	"chiralcentercount": cx("chiralcentercount"),

	"doublebondstereoisomercount": cx("doublebondstereoisomercount"),
	"aromaticproportion":          cx("aromaticproportion"),

	"mw_obabel":        prop("mol_weight"),
	"logp_obabel":      prop("logP"),
	"tpsa_obabel":      prop("PSA"),
	"atomcount_obabel": prop("num_atoms"),
	"bondcount_obabel": prop("num_bonds"),
	"mr_obabel":        prop("MR"),
	"rotb_obabel":      {{EngineObprop, "num_rotors"}, {EngineCxCalc, "rotatablebondcount"}},

	"hba_obabel": {{EngineObabel, "HBA1"}},
	"hbd_obabel": {{EngineObabel, "HBD"}},

	"formalcharge":             loc("formalcharge"),
	"positivechargecount":      loc("positivechargecount"),
	"negativechargecount":      loc("negativechargecount"),
	"halogencount":             loc("halogencount"),
	"sulfurcount":              loc("sulfurcount"),
	"NOcount":                  loc("NOcount"),
	"electronegativeatomcount": loc("electronegativeatomcount"),

	"mw_file":                       file("mw"),
	"logp_file":                     file("logp"),
	"hba_file":                      file("hba"),
	"hbd_file":                      file("hbd"),
	"rotb_file":                     file("rotb"),
	"tpsa_file":                     file("tpsa"),
	"logd_file":                     file("logd"),
	"logs_file":                     file("logs"),
	"heavyatomcount_file":           file("heavyatomcount"),
	"ringcount_file":                file("ringcount"),
	"aromaticringcount_file":        file("aromaticringcount"),
	"mr_file":                       file("mr"),
	"formalcharge_file":             file("formalcharge"),
	"positivechargecount_file":      file("positivecharge"),
	"negativechargecount_file":      file("negativechargecount"),
	"fsp3_file":                     file("fsp3"),
	"chiralcentercount_file":        file("chiralcentercount"),
	"halogencount_file":             file("halogencount"),
	"sulfurcount_file":              file("sulfurcount"),
	"NOcount_file":                  file("NOcount"),
	"electronegativeatomcount_file": file("electronegativeatomcount"),
}

// Sources returns the ordered sources of a descriptor.
func Sources(descriptor string) ([]Source, error) {
	s, ok := catalog[descriptor]
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", ErrUnknownDescriptor, descriptor)
	}
	return s, nil
}

// Engines returns the set of engines that descriptors may reach.
func Engines(descriptors []string) map[string]bool {
	out := map[string]bool{}
	for _, d := range descriptors {
		for _, s := range catalog[d] {
			out[s.Engine] = true
		}
	}
	return out
}
