package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// FakeRunner answers commands from canned responses. It is meant for tests of
// packages that drive engines.
type FakeRunner struct {
	mu sync.Mutex

	// Handler computes the response for a command. When nil, every command
	// succeeds with empty output.
	Handler func(cmd Command) (*Result, error)

	Calls []Command
}

// Run records cmd and returns the handler's response after applying the
// command's output checks.
func (f *FakeRunner) Run(ctx context.Context, cmd Command) (*Result, error) {
	f.mu.Lock()
	f.Calls = append(f.Calls, cmd)
	f.mu.Unlock()

	if f.Handler == nil {
		return &Result{}, nil
	}
	res, err := f.Handler(cmd)
	if err != nil {
		return res, err
	}
	if res == nil {
		res = &Result{}
	}
	if err := CheckOutput(cmd, res); err != nil {
		return res, err
	}
	return res, nil
}

// CallsMatching returns the recorded commands whose rendered form contains substr.
func (f *FakeRunner) CallsMatching(substr string) []Command {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []Command
	for _, c := range f.Calls {
		if strings.Contains(c.String(), substr) {
			out = append(out, c)
		}
	}
	return out
}

// Failure builds an engine error of the given kind for fake handlers.
func Failure(cmd Command, kind error, format string, args ...any) error {
	return &Error{Command: cmd.String(), Kind: kind, Detail: fmt.Sprintf(format, args...)}
}
