// Package engine runs the external chemistry programs (ChemAxon tools through
// nailgun, Open Babel) as blocking subprocesses with explicit timeouts.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

var (
	// ErrTimeout is returned when a command exceeds its timeout.
	ErrTimeout = errors.New("engine timed out")

	// ErrExitCode is returned when a command exits non-zero.
	ErrExitCode = errors.New("engine exited with non-zero status")

	// ErrNoOutput is returned when output was required but none was produced.
	ErrNoOutput = errors.New("engine produced no output")

	// ErrSignature is returned when the output carries an error signature.
	ErrSignature = errors.New("engine reported an error")

	// ErrServerGone is returned when the nailgun server refused the connection.
	ErrServerGone = errors.New("nailgun server seems to have terminated")
)

var (
	refusedSignature = regexp.MustCompile(`refused`)
	errorSignature   = regexp.MustCompile(`failed|timelimit|error|no such file|not found`)
)

// Command describes one engine invocation.
type Command struct {
	Path    string
	Args    []string
	Dir     string
	Timeout time.Duration

	// MustHaveOutput fails the call when stdout has no lines.
	MustHaveOutput bool

	// CheckSignatures scans stdout and stderr for error markers.
	CheckSignatures bool
}

// String renders the command line for logs and status text.
func (c Command) String() string {
	return strings.TrimSpace(c.Path + " " + strings.Join(c.Args, " "))
}

// Result holds the captured output of a finished command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Lines returns the non-empty stdout lines.
func (r *Result) Lines() []string {
	var out []string
	for _, line := range strings.Split(r.Stdout, "\n") {
		line = strings.TrimRight(line, "\r")
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

// Error describes a failed invocation. Kind is one of the package sentinels.
type Error struct {
	Command string
	Kind    error
	Detail  string
	Result  *Result
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %v", e.Command, e.Kind)
	}
	return fmt.Sprintf("%s: %v (%s)", e.Command, e.Kind, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Kind
}

// Runner executes engine commands.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// ExecRunner runs commands as local OS processes.
type ExecRunner struct {
	logger *slog.Logger
}

// NewExecRunner creates an ExecRunner.
func NewExecRunner(logger *slog.Logger) *ExecRunner {
	return &ExecRunner{logger: logger.With("component", "engine")}
}

// Run executes cmd, enforcing its timeout and output checks.
func (r *ExecRunner) Run(ctx context.Context, c Command) (*Result, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Dir = c.Dir

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	start := time.Now()
	runErr := cmd.Run()

	res := &Result{
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		Duration: time.Since(start),
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		res.ExitCode = -1
		return res, &Error{Command: c.String(), Kind: ErrTimeout, Detail: c.Timeout.String(), Result: res}
	}

	switch err := runErr.(type) {
	case nil:
	case *exec.ExitError:
		res.ExitCode = err.ExitCode()
		r.logger.Debug("engine exited non-zero",
			"command", c.String(), "exit_code", res.ExitCode, "stderr", res.Stderr)
		return res, &Error{
			Command: c.String(),
			Kind:    ErrExitCode,
			Detail:  fmt.Sprintf("exit code %d, stdout:%s, stderr:%s", res.ExitCode, res.Stdout, res.Stderr),
			Result:  res,
		}
	default:
		// Non-exit errors (e.g. binary not found) are returned directly.
		return res, fmt.Errorf("run %s: %w", c.String(), runErr)
	}

	if err := CheckOutput(c, res); err != nil {
		return res, err
	}
	return res, nil
}

// CheckOutput applies the MustHaveOutput and CheckSignatures rules to a
// finished command.
func CheckOutput(c Command, res *Result) error {
	if c.MustHaveOutput && len(res.Lines()) == 0 {
		return &Error{Command: c.String(), Kind: ErrNoOutput, Result: res}
	}
	if !c.CheckSignatures {
		return nil
	}

	lines := append(strings.Split(res.Stdout, "\n"), strings.Split(res.Stderr, "\n")...)
	for _, line := range lines {
		if refusedSignature.MatchString(line) {
			return &Error{Command: c.String(), Kind: ErrServerGone, Detail: line, Result: res}
		}
		if errorSignature.MatchString(line) {
			return &Error{Command: c.String(), Kind: ErrSignature, Detail: line, Result: res}
		}
	}
	return nil
}
