// Package fallback runs a stage against a ranked list of interchangeable
// engines, stopping at the first success.
package fallback

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/withObsrvr/vflp-ligand-prep/internal/metrics"
)

// Exhausted marks the end of a provider chain.
const Exhausted = "none"

// Capability is a stage that can be served by more than one engine.
type Capability struct {
	// Name is used in status entries and error text.
	Name string
	// Verb is the timer suffix, recorded as "<engine>_<verb>".
	Verb    string
	Allowed []string
}

var (
	Neutralization = Capability{Name: "neutralization", Verb: "neutralization", Allowed: []string{"standardizer"}}
	Stereoisomer   = Capability{Name: "stereoisomer", Verb: "stereoisomer", Allowed: []string{"cxcalc"}}
	Tautomer       = Capability{Name: "tautomerization", Verb: "tautomerization", Allowed: []string{"cxcalc"}}
	Protonation    = Capability{Name: "protonation", Verb: "protonate", Allowed: []string{"cxcalc", "obabel"}}
	Conformation   = Capability{Name: "conformation", Verb: "conformation", Allowed: []string{"molconvert", "obabel"}}
)

// Capabilities lists every capability in pipeline order.
var Capabilities = []Capability{Neutralization, Stereoisomer, Tautomer, Protonation, Conformation}

func (c Capability) allows(engine string) bool {
	for _, a := range c.Allowed {
		if a == engine {
			return true
		}
	}
	return false
}

// Timer receives one measurement per attempted engine.
type Timer func(name string, seconds float64)

// Attempt runs the stage with one engine.
type Attempt func(ctx context.Context, engine string) error

// AttemptError is one failed candidate.
type AttemptError struct {
	Engine string
	Err    error
}

// StageError is returned when every candidate of a chain failed.
type StageError struct {
	Stage    string
	Attempts []AttemptError
}

func (e *StageError) Error() string {
	msg := fmt.Sprintf("no %s program remaining", e.Stage)
	if len(e.Attempts) == 0 {
		return msg
	}
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Engine, a.Err))
	}
	return msg + " (" + strings.Join(parts, "; ") + ")"
}

// Last returns the error of the final attempt, or nil.
func (e *StageError) Last() error {
	if len(e.Attempts) == 0 {
		return nil
	}
	return e.Attempts[len(e.Attempts)-1].Err
}

// Run tries the engines in order and returns the one that succeeded. An
// engine outside the capability's allowed set counts as a failed candidate
// without being timed. Reaching Exhausted or the end of the list yields a
// *StageError.
func Run(ctx context.Context, c Capability, engines []string, timer Timer, attempt Attempt) (string, error) {
	stageErr := &StageError{Stage: c.Name}
	m := metrics.Get()

	for _, engine := range engines {
		if engine == Exhausted {
			break
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if !c.allows(engine) {
			stageErr.Attempts = append(stageErr.Attempts, AttemptError{
				Engine: engine,
				Err:    fmt.Errorf("%s program '%s' is not valid", c.Name, engine),
			})
			continue
		}

		name := engine + "_" + c.Verb
		start := time.Now()
		err := attempt(ctx, engine)
		elapsed := time.Since(start).Seconds()
		if timer != nil {
			timer(name, elapsed)
		}
		if m != nil {
			m.ObserveStage(name, elapsed)
		}
		if err == nil {
			return engine, nil
		}
		if m != nil {
			m.IncEngineFailures(engine, c.Name)
		}
		stageErr.Attempts = append(stageErr.Attempts, AttemptError{Engine: engine, Err: err})
	}
	return "", stageErr
}
