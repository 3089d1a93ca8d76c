// Package runner is the lowest-level execution layer: it spawns compiled
// programs, feeds them standard input, and captures their output.
//
// Design Principles:
//   - Opaque processes: programs are black boxes speaking stdin/stdout
//   - Concurrent pipes: stdin writing and stdout/stderr draining never block each other
//   - No built-in timeout: callers bound execution through the context
package runner

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Command represents a program invocation.
type Command struct {
	// Binary is the executable to run.
	Binary string

	// Arguments are the command-line arguments.
	Arguments []string

	// WorkingDirectory is the directory to execute in. Empty means inherit.
	WorkingDirectory string

	// Environment variables (KEY=VALUE). Nil means inherit the parent environment.
	Environment []string

	// Stdin is written to the child's standard input when HasStdin is set.
	// The stream is closed after the write so the child observes end-of-input.
	Stdin    []byte
	HasStdin bool
}

// WithInput returns a copy of c that feeds input on standard input.
func (c Command) WithInput(input string) Command {
	c.Stdin = []byte(input)
	c.HasStdin = true
	return c
}

// CommandString returns the full command as a string (for display/logging).
func (c Command) CommandString() string {
	if len(c.Arguments) == 0 {
		return c.Binary
	}
	return c.Binary + " " + strings.Join(c.Arguments, " ")
}

// Result is the captured outcome of a successful run.
type Result struct {
	Stdout     string
	Stderr     string
	ExitCode   int
	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration
	PeakMemory uint64 // maximum resident set size in bytes; 0 when unknown
}

// ErrorKind classifies why a run did not succeed.
type ErrorKind int

const (
	// SpawnFailed means the executable could not be launched.
	SpawnFailed ErrorKind = iota
	// NonZeroExit means the process ran and exited unsuccessfully.
	NonZeroExit
	// IOFailure means a pipe operation failed.
	IOFailure
	// Canceled means the context ended and the process was killed.
	Canceled
)

func (k ErrorKind) String() string {
	switch k {
	case SpawnFailed:
		return "spawn failed"
	case NonZeroExit:
		return "non-zero exit"
	case IOFailure:
		return "i/o failure"
	case Canceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// RunError describes a failed run. Stdout and Stderr hold whatever was
// captured before the failure.
type RunError struct {
	Kind     ErrorKind
	Binary   string
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
}

func (e *RunError) Error() string {
	switch e.Kind {
	case NonZeroExit:
		msg := fmt.Sprintf("%s: exited with status %d", e.Binary, e.ExitCode)
		if s := strings.TrimSpace(e.Stderr); s != "" {
			msg += ": " + firstLine(s)
		}
		return msg
	case Canceled:
		return fmt.Sprintf("%s: canceled", e.Binary)
	default:
		return fmt.Sprintf("%s: %s: %v", e.Binary, e.Kind, e.Err)
	}
}

func (e *RunError) Unwrap() error { return e.Err }

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}

// KindOf reports the ErrorKind of err if it is (or wraps) a *RunError.
func KindOf(err error) (ErrorKind, bool) {
	var re *RunError
	if errors.As(err, &re) {
		return re.Kind, true
	}
	return 0, false
}

// IsCanceled reports whether err is a run killed by cancellation.
func IsCanceled(err error) bool {
	k, ok := KindOf(err)
	return ok && k == Canceled
}
