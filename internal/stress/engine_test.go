package stress

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"cpwatch/internal/artifact"
	"cpwatch/internal/compiler"
	"cpwatch/internal/runner/runnertest"
	"cpwatch/internal/watch"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCompiler "compiles" a source by creating an empty temp file and
// registering the source's current program under that path.
type fakeCompiler struct {
	mu       sync.Mutex
	dir      string
	exec     *runnertest.Scripted
	programs map[string]runnertest.Program
	failing  map[string]bool
	built    []string
}

func newFakeCompiler(t *testing.T, exec *runnertest.Scripted) *fakeCompiler {
	return &fakeCompiler{
		dir:      t.TempDir(),
		exec:     exec,
		programs: make(map[string]runnertest.Program),
		failing:  make(map[string]bool),
	}
}

func (c *fakeCompiler) set(src string, p runnertest.Program) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.programs[src] = p
}

func (c *fakeCompiler) fail(src string, failing bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failing[src] = failing
}

func (c *fakeCompiler) Compile(_ context.Context, src string) (*compiler.Artifact, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failing[src] {
		return nil, &compiler.CompileError{Source: src, Diagnostics: "error: expected ';'", Err: errors.New("exit status 1")}
	}
	f, err := os.CreateTemp(c.dir, "bin-*")
	if err != nil {
		return nil, err
	}
	f.Close()
	c.exec.Register(f.Name(), c.programs[src])
	c.built = append(c.built, f.Name())
	return &compiler.Artifact{Source: src, Path: f.Name()}, nil
}

func (c *fakeCompiler) builtPaths() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.built...)
}

// chanNotifier delivers events pushed by the test.
type chanNotifier struct {
	events chan watch.Event
}

func newChanNotifier() *chanNotifier {
	return &chanNotifier{events: make(chan watch.Event, 8)}
}

func (n *chanNotifier) Poll(ctx context.Context, timeout time.Duration) (watch.Event, bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return watch.Event{}, false, nil
	case <-timer.C:
		return watch.Event{}, false, nil
	case ev := <-n.events:
		return ev, true, nil
	}
}

// recorder captures reporter events and lets a test react to them.
type recorder struct {
	mu          sync.Mutex
	states      []State
	compiled    []string
	compileErrs []string
	seedErrs    []*SeedError
	mismatches  []*MismatchReport
	exhausted   []uint64
	summary     *Summary
	onState     func(to State)
}

func (r *recorder) StateChanged(_, to State) {
	r.mu.Lock()
	r.states = append(r.states, to)
	hook := r.onState
	r.mu.Unlock()
	if hook != nil {
		hook(to)
	}
}
func (r *recorder) Compiled(source, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.compiled = append(r.compiled, source)
}
func (r *recorder) CompileFailed(source string, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.compileErrs = append(r.compileErrs, source)
}
func (r *recorder) SweepStarted(int) {}
func (r *recorder) Progress(uint64)  {}
func (r *recorder) SeedFailed(err *SeedError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seedErrs = append(r.seedErrs, err)
}
func (r *recorder) Mismatch(m *MismatchReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mismatches = append(r.mismatches, m)
}
func (r *recorder) SweepExhausted(seeds uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exhausted = append(r.exhausted, seeds)
}
func (r *recorder) Stopped(s Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary = &s
}

// generator prints "seed seed".
func generator(input string) (string, error) {
	seed := strings.TrimSpace(input)
	return seed + " " + seed + "\n", nil
}

func sum(input string) (string, error) {
	total := 0
	for _, f := range strings.Fields(input) {
		n, err := strconv.Atoi(f)
		if err != nil {
			return "", err
		}
		total += n
	}
	return fmt.Sprintf("%d\n", total), nil
}

// offByOneOnEven adds one to the answer when the seed is even.
func offByOneOnEven(input string) (string, error) {
	fields := strings.Fields(input)
	seed, _ := strconv.Atoi(fields[0])
	out, err := sum(input)
	if err != nil || seed%2 != 0 {
		return out, err
	}
	n, _ := strconv.Atoi(strings.TrimSpace(out))
	return fmt.Sprintf("%d\n", n+1), nil
}

// wrongFrom returns a candidate that fails for every seed >= from.
func wrongFrom(from int) runnertest.Program {
	return func(input string) (string, error) {
		seed, _ := strconv.Atoi(strings.Fields(input)[0])
		if seed >= from {
			return "wrong\n", nil
		}
		return sum(input)
	}
}

type fixture struct {
	sources  Sources
	exec     *runnertest.Scripted
	comp     *fakeCompiler
	notifier *chanNotifier
	rec      *recorder
	store    *artifact.Store
}

func newFixture(t *testing.T, candidate runnertest.Program) *fixture {
	t.Helper()
	dir := t.TempDir()
	src := Sources{
		Solution:  filepath.Join(dir, "sol.cpp"),
		Generator: filepath.Join(dir, "gen.cpp"),
		Reference: filepath.Join(dir, "brute.cpp"),
	}
	past := time.Now().Add(-time.Hour)
	for _, p := range src.Paths() {
		require.NoError(t, os.WriteFile(p, []byte("// source"), 0o644))
		require.NoError(t, os.Chtimes(p, past, past))
	}

	exec := runnertest.NewScripted()
	comp := newFakeCompiler(t, exec)
	comp.set(src.Solution, candidate)
	comp.set(src.Generator, generator)
	comp.set(src.Reference, sum)

	return &fixture{
		sources:  src,
		exec:     exec,
		comp:     comp,
		notifier: newChanNotifier(),
		rec:      &recorder{},
		store:    artifact.NewStore(t.TempDir()),
	}
}

func (f *fixture) engine(t *testing.T, opts Options) *Engine {
	t.Helper()
	if opts.PollInterval == 0 {
		opts.PollInterval = 10 * time.Millisecond
	}
	e, err := New(Config{
		Sources:  f.sources,
		Compiler: f.comp,
		Executor: f.exec,
		Notifier: f.notifier,
		Store:    f.store,
		Reporter: f.rec,
		Options:  opts,
	})
	require.NoError(t, err)
	return e
}

// touch advances the modification time of path and queues a write event.
func (f *fixture) touch(t *testing.T, path string) {
	t.Helper()
	now := time.Now()
	require.NoError(t, os.Chtimes(path, now, now))
	f.notifier.events <- watch.Event{Path: path, Op: fsnotify.Write}
}

func runWithTimeout(ctx context.Context, t *testing.T, e *Engine) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	select {
	case err := <-done:
		return err
	case <-time.After(20 * time.Second):
		t.Fatal("engine did not stop")
		return nil
	}
}

func TestEngine_HaltsAtFirstEvenSeed(t *testing.T) {
	f := newFixture(t, offByOneOnEven)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.rec.onState = func(to State) {
		if to == WaitingForChange {
			cancel()
		}
	}

	e := f.engine(t, Options{})
	require.NoError(t, runWithTimeout(ctx, t, e))

	require.Len(t, f.rec.mismatches, 1)
	m := f.rec.mismatches[0]
	assert.Equal(t, uint64(2), m.Seed)
	assert.Equal(t, "2 2\n", m.Input)
	assert.Equal(t, "4\n", m.Expected)
	assert.Equal(t, "5\n", m.Actual)

	for prefix, want := range map[string]string{
		artifact.PrefixInput:    m.Input,
		artifact.PrefixExpected: m.Expected,
		artifact.PrefixActual:   m.Actual,
	} {
		data, err := os.ReadFile(m.Artifacts[prefix])
		require.NoError(t, err, prefix)
		assert.Equal(t, want, string(data), prefix)
	}

	assert.Equal(t, uint64(2), e.Summary().SeedsRun, "no seed may run after the mismatch")
	assert.Equal(t, Stopped, e.State())
	require.NotNil(t, f.rec.summary)
	assert.Equal(t, 1, f.rec.summary.Mismatches)
	assert.Equal(t, []State{Compiling, Sweeping, WaitingForChange, Stopped}, f.rec.states)
}

func TestEngine_SweepIsDeterministic(t *testing.T) {
	var seeds []uint64
	for i := 0; i < 3; i++ {
		f := newFixture(t, wrongFrom(37))
		ctx, cancel := context.WithCancel(context.Background())
		f.rec.onState = func(to State) {
			if to == WaitingForChange {
				cancel()
			}
		}
		require.NoError(t, runWithTimeout(ctx, t, f.engine(t, Options{})))
		cancel()
		require.Len(t, f.rec.mismatches, 1)
		seeds = append(seeds, f.rec.mismatches[0].Seed)
	}
	assert.Equal(t, []uint64{37, 37, 37}, seeds)
}

func TestEngine_AgreeingProgramsRunUntilCancelled(t *testing.T) {
	f := newFixture(t, sum)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	runs := 0
	f.comp.set(f.sources.Solution, func(input string) (string, error) {
		mu.Lock()
		runs++
		if runs == 250 {
			cancel()
		}
		mu.Unlock()
		return sum(input)
	})

	e := f.engine(t, Options{})
	require.NoError(t, runWithTimeout(ctx, t, e))

	assert.Empty(t, f.rec.mismatches)
	assert.Equal(t, uint64(250), e.Summary().SeedsRun)
	assert.NotContains(t, f.rec.states, WaitingForChange)
}

func TestEngine_SeedsAreSequentialAndUnique(t *testing.T) {
	f := newFixture(t, wrongFrom(20))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.rec.onState = func(to State) {
		if to == WaitingForChange {
			cancel()
		}
	}
	require.NoError(t, runWithTimeout(ctx, t, f.engine(t, Options{})))

	var genInputs []string
	for _, c := range f.exec.Calls() {
		if strings.Count(c.Input, " ") == 0 {
			genInputs = append(genInputs, c.Input)
		}
	}
	require.Len(t, genInputs, 20)
	for i, in := range genInputs {
		assert.Equal(t, strconv.Itoa(i+1), in)
	}
}

func TestEngine_SeedErrorsDoNotAbortSweep(t *testing.T) {
	f := newFixture(t, wrongFrom(5))
	f.comp.set(f.sources.Generator, func(input string) (string, error) {
		if strings.TrimSpace(input) == "3" {
			return "", errors.New("generator crashed")
		}
		return generator(input)
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.rec.onState = func(to State) {
		if to == WaitingForChange {
			cancel()
		}
	}

	e := f.engine(t, Options{})
	require.NoError(t, runWithTimeout(ctx, t, e))

	require.Len(t, f.rec.seedErrs, 1)
	assert.Equal(t, uint64(3), f.rec.seedErrs[0].Seed)
	assert.Equal(t, StageGenerator, f.rec.seedErrs[0].Stage)
	require.Len(t, f.rec.mismatches, 1)
	assert.Equal(t, uint64(5), f.rec.mismatches[0].Seed)
	assert.Equal(t, 1, e.Summary().SeedErrors)
}

func TestEngine_CompileFailureWaitsForChange(t *testing.T) {
	f := newFixture(t, wrongFrom(4))
	f.comp.fail(f.sources.Generator, true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	waits := 0
	f.rec.onState = func(to State) {
		if to != WaitingForChange {
			return
		}
		waits++
		if waits == 1 {
			f.comp.fail(f.sources.Generator, false)
			f.touch(t, f.sources.Generator)
			return
		}
		cancel()
	}

	e := f.engine(t, Options{})
	require.NoError(t, runWithTimeout(ctx, t, e))

	assert.Equal(t, []string{f.sources.Generator}, f.rec.compileErrs)
	assert.Equal(t, 1, e.Summary().Sweeps, "no sweep while a compile is failing")
	require.Len(t, f.rec.mismatches, 1)
	assert.Equal(t, uint64(4), f.rec.mismatches[0].Seed)
	// All three sources are compiled on every cycle, even after a failure.
	assert.Len(t, f.rec.compiled, 2+3)
}

func TestEngine_ChangeRestartsFromSeedOne(t *testing.T) {
	f := newFixture(t, wrongFrom(6))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	waits := 0
	f.rec.onState = func(to State) {
		if to != WaitingForChange {
			return
		}
		waits++
		if waits == 1 {
			f.comp.set(f.sources.Solution, wrongFrom(3))
			f.touch(t, f.sources.Solution)
			return
		}
		cancel()
	}

	e := f.engine(t, Options{})
	require.NoError(t, runWithTimeout(ctx, t, e))

	require.Len(t, f.rec.mismatches, 2)
	assert.Equal(t, uint64(6), f.rec.mismatches[0].Seed)
	assert.Equal(t, uint64(3), f.rec.mismatches[1].Seed)
	assert.Equal(t, 2, e.Summary().Sweeps)
}

func TestEngine_DuplicateEventDoesNotRecompile(t *testing.T) {
	f := newFixture(t, wrongFrom(2))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.rec.onState = func(to State) {
		if to == WaitingForChange {
			// Event without a newer modification time.
			f.notifier.events <- watch.Event{Path: f.sources.Solution, Op: fsnotify.Write}
			time.AfterFunc(100*time.Millisecond, cancel)
		}
	}

	e := f.engine(t, Options{})
	require.NoError(t, runWithTimeout(ctx, t, e))
	assert.Equal(t, 1, e.Summary().Sweeps)
	assert.Len(t, f.comp.builtPaths(), 3)
}

func TestEngine_DeletedSourceIsFatal(t *testing.T) {
	f := newFixture(t, wrongFrom(2))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.rec.onState = func(to State) {
		if to == WaitingForChange {
			require.NoError(t, os.Remove(f.sources.Reference))
			f.notifier.events <- watch.Event{Path: f.sources.Reference, Op: fsnotify.Remove}
		}
	}

	e := f.engine(t, Options{})
	err := runWithTimeout(ctx, t, e)
	assert.ErrorIs(t, err, watch.ErrMissing)
	assert.Equal(t, Stopped, e.State())
	assert.NotNil(t, f.rec.summary)
}

func TestEngine_MaxSeedsExhaustsCleanSweep(t *testing.T) {
	f := newFixture(t, sum)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.rec.onState = func(to State) {
		if to == WaitingForChange {
			cancel()
		}
	}

	e := f.engine(t, Options{MaxSeeds: 50})
	require.NoError(t, runWithTimeout(ctx, t, e))
	assert.Equal(t, []uint64{50}, f.rec.exhausted)
	assert.Equal(t, uint64(50), e.Summary().SeedsRun)
}

func TestEngine_ReleasesArtifacts(t *testing.T) {
	f := newFixture(t, wrongFrom(3))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.rec.onState = func(to State) {
		if to == WaitingForChange {
			cancel()
		}
	}

	require.NoError(t, runWithTimeout(ctx, t, f.engine(t, Options{})))
	built := f.comp.builtPaths()
	require.Len(t, built, 3)
	for _, p := range built {
		assert.NoFileExists(t, p)
	}
}

func TestEngine_MissingSourceAtStart(t *testing.T) {
	f := newFixture(t, sum)
	require.NoError(t, os.Remove(f.sources.Generator))

	err := f.engine(t, Options{}).Run(context.Background())
	assert.ErrorIs(t, err, watch.ErrMissing)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestSeedErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	err := &SeedError{Seed: 7, Stage: StageReference, Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "seed 7: reference: boom", err.Error())
}
