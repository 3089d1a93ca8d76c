package stress

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"cpwatch/internal/artifact"
	"cpwatch/internal/compiler"
	"cpwatch/internal/logging"
	"cpwatch/internal/runner"
	"cpwatch/internal/testcase"
	"cpwatch/internal/watch"
)

// Options tune a session.
type Options struct {
	// PollInterval bounds each wait for file changes.
	PollInterval time.Duration
	// ProgressEvery reports progress every N seeds; zero disables it.
	ProgressEvery uint64
	// MaxSeeds ends a clean sweep after N seeds; zero sweeps until cancelled.
	MaxSeeds uint64
}

// DefaultOptions returns the options used by the CLI.
func DefaultOptions() Options {
	return Options{
		PollInterval:  watch.DefaultPollInterval,
		ProgressEvery: 100,
	}
}

// Config wires an Engine to its collaborators.
type Config struct {
	Sources  Sources
	Compiler compiler.Compiler
	Executor runner.Executor
	Notifier watch.Notifier
	Store    *artifact.Store
	Reporter Reporter
	Options  Options
}

// Engine owns one stress session.
type Engine struct {
	cfg     Config
	state   State
	summary Summary
	log     *logging.Logger
}

// New creates an engine in the Idle state.
func New(cfg Config) (*Engine, error) {
	if cfg.Compiler == nil || cfg.Executor == nil || cfg.Notifier == nil || cfg.Reporter == nil {
		return nil, errors.New("stress: compiler, executor, notifier and reporter are required")
	}
	if cfg.Store == nil {
		cfg.Store = artifact.NewStore("")
	}
	if cfg.Options.PollInterval <= 0 {
		cfg.Options.PollInterval = watch.DefaultPollInterval
	}
	return &Engine{cfg: cfg, state: Idle, log: logging.Get(logging.CategoryStress)}, nil
}

// WithLogger tags engine logs, e.g. with a session ID.
func (e *Engine) WithLogger(l *logging.Logger) *Engine {
	e.log = l
	return e
}

// State returns the current state.
func (e *Engine) State() State { return e.state }

// Summary returns the counters accumulated so far.
func (e *Engine) Summary() Summary { return e.summary }

// Run drives the state machine until ctx is cancelled (nil error) or an
// unrecoverable environment failure occurs, such as a deleted source.
func (e *Engine) Run(ctx context.Context) error {
	stamps, err := watch.NewStamps(e.cfg.Sources.Paths()...)
	if err != nil {
		return err
	}

	var fatal error
	for ctx.Err() == nil {
		e.cycle(ctx)
		if ctx.Err() != nil {
			break
		}

		e.transition(WaitingForChange)
		changed, err := watch.WaitForChange(ctx, e.cfg.Notifier, stamps, e.cfg.Options.PollInterval)
		if err != nil {
			fatal = err
			break
		}
		if !changed {
			break
		}
	}

	e.transition(Stopped)
	e.cfg.Reporter.Stopped(e.summary)
	e.log.Info("Session stopped: sweeps=%d seeds=%d mismatches=%d", e.summary.Sweeps, e.summary.SeedsRun, e.summary.Mismatches)
	return fatal
}

// cycle compiles all sources and, if every compile succeeded, sweeps.
// The artifacts live exactly as long as this call.
func (e *Engine) cycle(ctx context.Context) {
	e.transition(Compiling)

	arts := make([]*compiler.Artifact, 0, 3)
	defer func() {
		for _, a := range arts {
			if err := a.Release(); err != nil {
				e.log.Warn("Release failed: %v", err)
			}
		}
	}()

	ok := true
	for _, src := range e.cfg.Sources.Paths() {
		art, err := e.cfg.Compiler.Compile(ctx, src)
		if err != nil {
			ok = false
			if ctx.Err() != nil {
				return
			}
			e.summary.CompileFailures++
			e.cfg.Reporter.CompileFailed(src, err)
			continue
		}
		arts = append(arts, art)
		e.cfg.Reporter.Compiled(src, art.Warnings)
	}
	if !ok {
		return
	}

	e.transition(Sweeping)
	e.sweep(ctx, arts[0].Path, arts[1].Path, arts[2].Path)
}

func (e *Engine) sweep(ctx context.Context, candidate, generator, reference string) {
	e.summary.Sweeps++
	e.cfg.Reporter.SweepStarted(e.summary.Sweeps)
	e.log.Info("Sweep %d started", e.summary.Sweeps)

	opts := e.cfg.Options
	for seed := uint64(1); ; seed++ {
		if ctx.Err() != nil {
			return
		}
		if opts.MaxSeeds > 0 && seed > opts.MaxSeeds {
			e.cfg.Reporter.SweepExhausted(opts.MaxSeeds)
			return
		}

		report, err := e.runSeed(ctx, seed, generator, reference, candidate)
		if runner.IsCanceled(err) {
			return
		}
		e.summary.SeedsRun++

		var seedErr *SeedError
		switch {
		case errors.As(err, &seedErr):
			e.summary.SeedErrors++
			e.log.Warn("%v", seedErr)
			e.cfg.Reporter.SeedFailed(seedErr)
		case report != nil:
			e.summary.Mismatches++
			e.persist(report)
			e.log.Info("Mismatch at seed %d", seed)
			e.cfg.Reporter.Mismatch(report)
			return
		case opts.ProgressEvery > 0 && seed%opts.ProgressEvery == 0:
			e.cfg.Reporter.Progress(seed)
		}

		if seed == math.MaxUint64 {
			e.cfg.Reporter.SweepExhausted(seed)
			return
		}
	}
}

// runSeed executes generator → reference → candidate for one seed. It returns
// a report on mismatch, a *SeedError on tooling failure, or a cancellation
// error from the runner.
func (e *Engine) runSeed(ctx context.Context, seed uint64, generator, reference, candidate string) (*MismatchReport, error) {
	run := func(stage Stage, bin, input string) (string, error) {
		res, err := e.cfg.Executor.Run(ctx, runner.Command{Binary: bin}.WithInput(input))
		if err != nil {
			if runner.IsCanceled(err) {
				return "", err
			}
			return "", &SeedError{Seed: seed, Stage: stage, Err: err}
		}
		return res.Stdout, nil
	}

	input, err := run(StageGenerator, generator, strconv.FormatUint(seed, 10))
	if err != nil {
		return nil, err
	}
	expected, err := run(StageReference, reference, input)
	if err != nil {
		return nil, err
	}
	actual, err := run(StageCandidate, candidate, input)
	if err != nil {
		return nil, err
	}

	if testcase.Equal(expected, actual) {
		return nil, nil
	}
	return &MismatchReport{Seed: seed, Input: input, Expected: expected, Actual: actual}, nil
}

func (e *Engine) persist(r *MismatchReport) {
	set, err := e.cfg.Store.RetainAll(
		[2]string{artifact.PrefixInput, r.Input},
		[2]string{artifact.PrefixExpected, r.Expected},
		[2]string{artifact.PrefixActual, r.Actual},
	)
	if err != nil {
		e.log.Warn("Failed to persist mismatch for seed %d: %v", r.Seed, err)
	}
	r.Artifacts = set
}

func (e *Engine) transition(to State) {
	from := e.state
	if from == to {
		return
	}
	e.state = to
	e.log.Debug("State %s -> %s", from, to)
	e.cfg.Reporter.StateChanged(from, to)
}

// String describes the session for banners and logs.
func (s Sources) String() string {
	return fmt.Sprintf("solution=%s generator=%s reference=%s", s.Solution, s.Generator, s.Reference)
}
