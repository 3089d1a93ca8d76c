// Package session runs one cpwatch session for a configured mode.
//
// A session compiles the mode's sources, does the mode's work, then waits
// for a confirmed change and repeats until its context ends:
//
//	Watcher:  compile → run → print output
//	TestCase: parse tests → compile → run every case → print report
//	Stress:   delegated to stress.Engine
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"cpwatch/internal/artifact"
	"cpwatch/internal/compiler"
	"cpwatch/internal/config"
	"cpwatch/internal/logging"
	"cpwatch/internal/runner"
	"cpwatch/internal/stress"
	"cpwatch/internal/testcase"
	"cpwatch/internal/ui"
	"cpwatch/internal/watch"

	"github.com/google/uuid"
)

// ErrFailed is returned by a single-cycle session whose compile, run or
// test suite did not succeed.
var ErrFailed = errors.New("session failed")

// Deps are the collaborators of a session.
type Deps struct {
	Compiler compiler.Compiler
	Executor runner.Executor
	Store    *artifact.Store
	Console  *ui.Console
	// Notifier replaces the fsnotify watcher normally built from the mode's
	// files.
	Notifier watch.Notifier
}

// Options tune a session.
type Options struct {
	PollInterval time.Duration
	// Once runs a single cycle and returns ErrFailed if it failed. It has no
	// effect in stress mode.
	Once   bool
	Stress stress.Options
}

// Session is one run of a mode.
type Session struct {
	id   string
	mode config.Mode
	deps Deps
	opts Options
	log  *logging.Logger
}

// New checks the mode's files and creates a session.
func New(mode config.Mode, deps Deps, opts Options) (*Session, error) {
	if mode == nil {
		return nil, config.ErrNoMode
	}
	if deps.Compiler == nil || deps.Executor == nil || deps.Console == nil {
		return nil, errors.New("session: compiler, executor and console are required")
	}
	if deps.Store == nil {
		deps.Store = artifact.NewStore("")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = watch.DefaultPollInterval
	}
	if err := validate(mode); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	return &Session{
		id:   id,
		mode: mode,
		deps: deps,
		opts: opts,
		log:  logging.Get(logging.CategorySession).With("session", id),
	}, nil
}

func validate(mode config.Mode) error {
	switch m := mode.(type) {
	case config.Watcher:
		return compiler.ValidateSource(m.Source)
	case config.TestCase:
		if err := compiler.ValidateSource(m.Source); err != nil {
			return err
		}
		if _, err := os.Stat(m.Tests); err != nil {
			return fmt.Errorf("test file: %w", err)
		}
		return nil
	case config.Stress:
		for _, src := range m.Sources() {
			if err := compiler.ValidateSource(src); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported mode %T", mode)
	}
}

// ID returns the session's unique identifier, also attached to its logs.
func (s *Session) ID() string { return s.id }

// Mode returns the session's mode.
func (s *Session) Mode() config.Mode { return s.mode }

// Run executes the session until ctx ends. It returns nil on cancellation and
// an error when a watched file disappears or, with Options.Once, when the
// single cycle failed.
func (s *Session) Run(ctx context.Context) (err error) {
	s.log.Info("Session started: mode=%s sources=%v", s.mode.Name(), s.mode.Sources())
	defer func() {
		s.log.Info("Session finished: err=%v", err)
	}()

	_, isStress := s.mode.(config.Stress)
	n := s.deps.Notifier
	if n == nil && (!s.opts.Once || isStress) {
		w, err := watch.New(s.mode.Sources()...)
		if err != nil {
			return err
		}
		defer func() {
			stats := w.GetStats()
			s.log.Info("Watcher stats: events=%d ignored=%d errors=%d", stats.Events, stats.Ignored, stats.Errors)
			w.Close()
		}()
		n = w
	}

	if !s.opts.Once || isStress {
		s.deps.Console.Watching(s.mode.Name(), s.mode.Sources()...)
	}

	switch m := s.mode.(type) {
	case config.Watcher:
		return s.loop(ctx, n, m.Sources(), func(ctx context.Context) error { return s.runOnce(ctx, m) })
	case config.TestCase:
		return s.loop(ctx, n, m.Sources(), func(ctx context.Context) error { return s.testOnce(ctx, m) })
	case config.Stress:
		return s.runStress(ctx, n, m)
	default:
		return fmt.Errorf("unsupported mode %T", m)
	}
}

// loop runs cycle now and after every confirmed change to paths.
func (s *Session) loop(ctx context.Context, n watch.Notifier, paths []string, cycle func(context.Context) error) error {
	stamps, err := watch.NewStamps(paths...)
	if err != nil {
		return err
	}

	for cycles := 1; ; cycles++ {
		err := cycle(ctx)
		if s.opts.Once {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		s.log.Debug("Cycle %d done: err=%v", cycles, err)

		s.deps.Console.Waiting()
		changed, err := watch.WaitForChange(ctx, n, stamps, s.opts.PollInterval)
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}
		for _, p := range stamps.Changed() {
			s.deps.Console.FileChanged(p)
		}
	}
}

// compile builds source and reports the outcome. A nil artifact with a nil
// error means ctx ended.
func (s *Session) compile(ctx context.Context, source string) (*compiler.Artifact, error) {
	art, err := s.deps.Compiler.Compile(ctx, source)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil
		}
		s.log.Warn("Compile failed: %v", err)
		s.deps.Console.CompileFailed(source, err)
		return nil, ErrFailed
	}
	s.deps.Console.Compiled(source, art.Warnings)
	return art, nil
}

func (s *Session) release(art *compiler.Artifact) {
	if err := art.Release(); err != nil {
		s.log.Warn("Release failed: %v", err)
	}
}

// runOnce compiles and runs a watched source, printing its output.
func (s *Session) runOnce(ctx context.Context, m config.Watcher) error {
	art, err := s.compile(ctx, m.Source)
	if art == nil {
		return err
	}
	defer s.release(art)

	res, err := s.deps.Executor.Run(ctx, runner.Command{Binary: art.Path})
	if err != nil {
		if runner.IsCanceled(err) {
			return nil
		}
		s.deps.Console.RunFailed(err)
		return ErrFailed
	}
	s.deps.Console.ProgramOutput(res)
	return nil
}

// testOnce re-reads the test file, compiles and runs the whole suite.
func (s *Session) testOnce(ctx context.Context, m config.TestCase) error {
	suite, err := testcase.LoadFile(m.Tests)
	if err != nil {
		s.deps.Console.Error(err)
		return ErrFailed
	}
	s.log.Debug("Parsed %d cases from %s", len(suite), m.Tests)

	art, err := s.compile(ctx, m.Source)
	if art == nil {
		return err
	}
	defer s.release(art)

	report := testcase.NewRunner(s.deps.Executor, s.deps.Store).Run(ctx, art.Path, suite)
	if report.Canceled && ctx.Err() != nil {
		return nil
	}
	s.deps.Console.TestReport(report)
	if !report.AllPassed() {
		return ErrFailed
	}
	return nil
}

func (s *Session) runStress(ctx context.Context, n watch.Notifier, m config.Stress) error {
	opts := s.opts.Stress
	opts.PollInterval = s.opts.PollInterval
	engine, err := stress.New(stress.Config{
		Sources:  stress.Sources{Solution: m.Solution, Generator: m.Generator, Reference: m.Reference},
		Compiler: s.deps.Compiler,
		Executor: s.deps.Executor,
		Notifier: n,
		Store:    s.deps.Store,
		Reporter: s.deps.Console,
		Options:  opts,
	})
	if err != nil {
		return err
	}
	engine.WithLogger(logging.Get(logging.CategoryStress).With("session", s.id))
	return engine.Run(ctx)
}
