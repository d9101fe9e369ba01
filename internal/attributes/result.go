// Package attributes resolves molecular descriptors from interchangeable
// sources: remote engines, closed-form counts over the SMILES string and
// fields of the input record.
package attributes

import "fmt"

// State classifies a descriptor result.
type State int

const (
	StateOK State = iota
	StateUnsupported
	StateError
)

func (s State) String() string {
	switch s {
	case StateOK:
		return "ok"
	case StateUnsupported:
		return "unsupported"
	default:
		return "error"
	}
}

// Result is the outcome of computing one descriptor.
type Result struct {
	State State
	Value string
	Err   error
}

// OK wraps a computed value.
func OK(value string) Result { return Result{State: StateOK, Value: value} }

// Unsupported means the source cannot compute the descriptor; the next
// source of the descriptor, if any, is tried.
func Unsupported() Result { return Result{State: StateUnsupported} }

// Failed wraps a source error.
func Failed(err error) Result { return Result{State: StateError, Err: err} }

// Failedf is Failed with a formatted error.
func Failedf(format string, args ...any) Result {
	return Failed(fmt.Errorf(format, args...))
}
