package fallback

import "github.com/withObsrvr/vflp-ligand-prep/internal/config"

// Providers holds the ranked engine chain per capability name.
type Providers map[string][]string

// ProvidersFromJob builds the chains of every enabled stage. Empty program
// entries are skipped.
func ProvidersFromJob(j *config.Job) Providers {
	p := Providers{}
	if j.Neutralization {
		p[Neutralization.Name] = chain(j.NeutralizationProgram1, j.NeutralizationProgram2)
	}
	if j.StereoisomerGeneration {
		p[Stereoisomer.Name] = []string{"cxcalc"}
	}
	if j.Tautomerization {
		p[Tautomer.Name] = []string{"cxcalc"}
	}
	if j.ProtonationStateGeneration {
		p[Protonation.Name] = chain(j.ProtonationProgram1, j.ProtonationProgram2)
	}
	if j.ConformationGeneration {
		p[Conformation.Name] = chain(j.ConformationProgram1, j.ConformationProgram2)
	}
	return p
}

func chain(programs ...string) []string {
	var out []string
	for _, prog := range programs {
		if prog != "" {
			out = append(out, prog)
		}
	}
	return append(out, Exhausted)
}

// Chain returns the engines configured for c.
func (p Providers) Chain(c Capability) []string {
	return p[c.Name]
}

// Uses reports whether any chain names engine before its Exhausted marker.
func (p Providers) Uses(engine string) bool {
	for _, engines := range p {
		for _, e := range engines {
			if e == Exhausted {
				break
			}
			if e == engine {
				return true
			}
		}
	}
	return false
}
