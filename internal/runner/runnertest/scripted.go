// Package runnertest provides an in-memory Executor whose "programs" are Go
// functions, for testing engines without a compiler.
package runnertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cpwatch/internal/runner"
)

// Program maps standard input to standard output. A non-nil error makes the
// run fail as a non-zero exit.
type Program func(input string) (string, error)

// Scripted dispatches runs by binary path to registered programs.
type Scripted struct {
	mu       sync.Mutex
	programs map[string]Program
	calls    []Call
}

// Call records one invocation.
type Call struct {
	Binary string
	Input  string
}

// NewScripted returns an empty scripted executor.
func NewScripted() *Scripted {
	return &Scripted{programs: make(map[string]Program)}
}

// Register binds a program to a binary path.
func (s *Scripted) Register(binary string, p Program) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.programs[binary] = p
}

// Calls returns a copy of the recorded invocations.
func (s *Scripted) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Run implements runner.Executor.
func (s *Scripted) Run(ctx context.Context, cmd runner.Command) (*runner.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, &runner.RunError{Kind: runner.Canceled, Binary: cmd.Binary, Err: err}
	}

	s.mu.Lock()
	p, ok := s.programs[cmd.Binary]
	s.calls = append(s.calls, Call{Binary: cmd.Binary, Input: string(cmd.Stdin)})
	s.mu.Unlock()

	if !ok {
		return nil, &runner.RunError{Kind: runner.SpawnFailed, Binary: cmd.Binary, Err: fmt.Errorf("no such program")}
	}

	start := time.Now()
	out, err := p(string(cmd.Stdin))
	if err != nil {
		return nil, &runner.RunError{Kind: runner.NonZeroExit, Binary: cmd.Binary, ExitCode: 1, Stdout: out, Stderr: err.Error(), Err: err}
	}
	end := time.Now()
	return &runner.Result{Stdout: out, StartedAt: start, FinishedAt: end, Duration: end.Sub(start)}, nil
}
