package session

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"cpwatch/internal/compiler"
	"cpwatch/internal/runner/runnertest"
	"cpwatch/internal/ui"
	"cpwatch/internal/watch"
)

// --- MockCompiler ---

// MockCompiler "builds" a source by creating an empty file and registering
// the source's program under that path with the scripted executor.
type MockCompiler struct {
	mu       sync.Mutex
	dir      string
	exec     *runnertest.Scripted
	programs map[string]runnertest.Program
	failing  map[string]bool
	builds   int
}

func NewMockCompiler(t *testing.T, exec *runnertest.Scripted) *MockCompiler {
	return &MockCompiler{
		dir:      t.TempDir(),
		exec:     exec,
		programs: make(map[string]runnertest.Program),
		failing:  make(map[string]bool),
	}
}

func (m *MockCompiler) Set(src string, p runnertest.Program) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.programs[src] = p
}

func (m *MockCompiler) Fail(src string, failing bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing[src] = failing
}

func (m *MockCompiler) Builds() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.builds
}

func (m *MockCompiler) Compile(_ context.Context, src string) (*compiler.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing[src] {
		return nil, &compiler.CompileError{Source: src, Diagnostics: "main.cpp:1:1: error: 'x' was not declared", Err: errors.New("exit status 1")}
	}
	f, err := os.CreateTemp(m.dir, "bin-*")
	if err != nil {
		return nil, err
	}
	f.Close()
	m.exec.Register(f.Name(), m.programs[src])
	m.builds++
	return &compiler.Artifact{Source: src, Path: f.Name()}, nil
}

// --- MockNotifier ---

type MockNotifier struct {
	events chan watch.Event
}

func NewMockNotifier() *MockNotifier {
	return &MockNotifier{events: make(chan watch.Event, 8)}
}

func (n *MockNotifier) Poll(ctx context.Context, timeout time.Duration) (watch.Event, bool, error) {
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

// --- syncBuffer ---

// syncBuffer is a console sink that tests can read while a session writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) Count(substr string) int {
	return strings.Count(b.String(), substr)
}

// waitFor polls until the output contains substr n times.
func (b *syncBuffer) waitFor(t *testing.T, substr string, n int) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for b.Count(substr) < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d x %q; output:\n%s", n, substr, b.String())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func newConsole() (*ui.Console, *syncBuffer) {
	out := &syncBuffer{}
	opts := ui.DefaultOptions()
	opts.NoColor = true
	return ui.NewConsole(out, opts), out
}
