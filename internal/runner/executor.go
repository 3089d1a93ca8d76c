package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"cpwatch/internal/logging"

	"golang.org/x/sync/errgroup"
)

// Executor is the interface for program execution.
// Engines depend on it so tests can substitute scripted programs.
type Executor interface {
	// Run executes cmd to completion. A nil error means the process exited
	// with status zero; otherwise the error is a *RunError.
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// DirectExecutor executes programs directly on the host using os/exec.
type DirectExecutor struct{}

// NewDirectExecutor creates a new direct executor.
func NewDirectExecutor() *DirectExecutor {
	return &DirectExecutor{}
}

// Run spawns the program with piped stdout/stderr (and stdin when supplied).
// The stdin writer and both readers run concurrently so a child that fills
// its output pipe before consuming all input cannot deadlock the caller.
// Cancelling ctx kills the child.
func (e *DirectExecutor) Run(ctx context.Context, cmd Command) (*Result, error) {
	if cmd.Binary == "" {
		return nil, &RunError{Kind: SpawnFailed, Err: errors.New("binary is required")}
	}
	if err := ctx.Err(); err != nil {
		return nil, &RunError{Kind: Canceled, Binary: cmd.Binary, Err: err}
	}
	logging.RunnerDebug("Executing: %s (stdin=%d bytes)", cmd.CommandString(), len(cmd.Stdin))

	c := exec.CommandContext(ctx, cmd.Binary, cmd.Arguments...)
	c.Dir = cmd.WorkingDirectory
	c.Env = cmd.Environment
	setupProcessGroup(c)

	var stdin io.WriteCloser
	var err error
	if cmd.HasStdin {
		if stdin, err = c.StdinPipe(); err != nil {
			return nil, &RunError{Kind: IOFailure, Binary: cmd.Binary, Err: err}
		}
	}
	stdout, err := c.StdoutPipe()
	if err != nil {
		return nil, &RunError{Kind: IOFailure, Binary: cmd.Binary, Err: err}
	}
	stderr, err := c.StderrPipe()
	if err != nil {
		return nil, &RunError{Kind: IOFailure, Binary: cmd.Binary, Err: err}
	}

	result := &Result{ExitCode: -1, StartedAt: time.Now()}
	if err := c.Start(); err != nil {
		logging.RunnerError("Spawn failed: %s - %v", cmd.Binary, err)
		return nil, &RunError{Kind: SpawnFailed, Binary: cmd.Binary, Err: err}
	}

	var outBuf, errBuf []byte
	var g errgroup.Group
	if stdin != nil {
		g.Go(func() error {
			_, werr := stdin.Write(cmd.Stdin)
			cerr := stdin.Close()
			// A child may legitimately exit without reading all of its input.
			if werr != nil && !isBrokenPipe(werr) {
				return fmt.Errorf("write stdin: %w", werr)
			}
			if cerr != nil && !isBrokenPipe(cerr) && !errors.Is(cerr, os.ErrClosed) {
				return fmt.Errorf("close stdin: %w", cerr)
			}
			return nil
		})
	}
	g.Go(func() error {
		var rerr error
		outBuf, rerr = io.ReadAll(stdout)
		if rerr != nil {
			return fmt.Errorf("read stdout: %w", rerr)
		}
		return nil
	})
	g.Go(func() error {
		var rerr error
		errBuf, rerr = io.ReadAll(stderr)
		if rerr != nil {
			return fmt.Errorf("read stderr: %w", rerr)
		}
		return nil
	})

	pipeErr := g.Wait()
	waitErr := c.Wait()

	result.FinishedAt = time.Now()
	result.Duration = result.FinishedAt.Sub(result.StartedAt)
	result.Stdout = decode(outBuf)
	result.Stderr = decode(errBuf)

	if ctx.Err() != nil && (waitErr != nil || pipeErr != nil) {
		logging.RunnerDebug("Command canceled: %s", cmd.Binary)
		return nil, &RunError{Kind: Canceled, Binary: cmd.Binary, Stdout: result.Stdout, Stderr: result.Stderr, Err: ctx.Err()}
	}
	if pipeErr != nil {
		logging.RunnerError("Pipe failure: %s - %v", cmd.Binary, pipeErr)
		return nil, &RunError{Kind: IOFailure, Binary: cmd.Binary, Stdout: result.Stdout, Stderr: result.Stderr, Err: pipeErr}
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			logging.RunnerDebug("Command exited non-zero: %s -> %d", cmd.Binary, exitErr.ExitCode())
			return nil, &RunError{
				Kind:     NonZeroExit,
				Binary:   cmd.Binary,
				ExitCode: exitErr.ExitCode(),
				Stdout:   result.Stdout,
				Stderr:   result.Stderr,
				Err:      waitErr,
			}
		}
		return nil, &RunError{Kind: IOFailure, Binary: cmd.Binary, Stdout: result.Stdout, Stderr: result.Stderr, Err: waitErr}
	}

	result.ExitCode = 0
	result.PeakMemory = peakRSS(c.ProcessState)
	logging.RunnerDebug("Command completed: %s -> duration=%s, stdout=%d bytes",
		cmd.Binary, result.Duration, len(result.Stdout))
	return result, nil
}

func isBrokenPipe(err error) bool {
	return errors.Is(err, syscall.EPIPE) || errors.Is(err, os.ErrClosed)
}

// decode treats program output as UTF-8, replacing invalid sequences.
func decode(b []byte) string {
	return strings.ToValidUTF8(string(b), "�")
}
