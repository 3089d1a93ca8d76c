package compiler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"cpwatch/internal/runner"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeToolchain writes the -o target unless the source contains "error".
type fakeToolchain struct {
	last runner.Command
}

func (f *fakeToolchain) Run(_ context.Context, cmd runner.Command) (*runner.Result, error) {
	f.last = cmd
	var out, src string
	for i, a := range cmd.Arguments {
		if a == "-o" && i+2 < len(cmd.Arguments) {
			out, src = cmd.Arguments[i+1], cmd.Arguments[i+2]
		}
	}
	data, _ := os.ReadFile(src)
	if string(data) == "error" {
		return nil, &runner.RunError{Kind: runner.NonZeroExit, Binary: cmd.Binary, ExitCode: 1, Stderr: "a.cpp:1:1: error: expected unqualified-id\n"}
	}
	if err := os.WriteFile(out, []byte("#!/bin/sh\n"), 0o755); err != nil {
		return nil, err
	}
	return &runner.Result{Stderr: string(data)}, nil
}

func writeSource(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "a.cpp")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestCompile_Success(t *testing.T) {
	fake := &fakeToolchain{}
	tc := New(Config{Binary: "g++", Flags: []string{"-O2"}, LinkFlags: []string{"-lm"}, ArtifactDir: t.TempDir()}, fake)

	art, err := tc.Compile(context.Background(), writeSource(t, ""))
	require.NoError(t, err)
	t.Cleanup(func() { art.Release() })

	assert.FileExists(t, art.Path)
	assert.Equal(t, "g++", fake.last.Binary)
	assert.Equal(t, "-O2", fake.last.Arguments[0])
	assert.Equal(t, "-lm", fake.last.Arguments[len(fake.last.Arguments)-1])
	assert.Empty(t, art.Warnings)
}

func TestCompile_WarningsSurfaced(t *testing.T) {
	tc := New(Config{ArtifactDir: t.TempDir()}, &fakeToolchain{})

	art, err := tc.Compile(context.Background(), writeSource(t, "warning: unused variable"))
	require.NoError(t, err)
	defer art.Release()
	assert.Equal(t, "warning: unused variable", art.Warnings)
}

func TestCompile_Failure(t *testing.T) {
	dir := t.TempDir()
	tc := New(Config{ArtifactDir: dir}, &fakeToolchain{})

	_, err := tc.Compile(context.Background(), writeSource(t, "error"))
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, ce.Diagnostics, "expected unqualified-id")

	entries, _ := os.ReadDir(dir)
	assert.Empty(t, entries, "failed compile must not leave an artifact behind")
}

func TestCompile_MissingSource(t *testing.T) {
	tc := New(DefaultConfig(), &fakeToolchain{})
	_, err := tc.Compile(context.Background(), filepath.Join(t.TempDir(), "nope.cpp"))
	assert.True(t, errors.Is(err, ErrSourceMissing))
}

func TestArtifactRelease(t *testing.T) {
	tc := New(Config{ArtifactDir: t.TempDir()}, &fakeToolchain{})
	art, err := tc.Compile(context.Background(), writeSource(t, ""))
	require.NoError(t, err)

	require.NoError(t, art.Release())
	assert.NoFileExists(t, art.Path)
	assert.NoError(t, art.Release(), "second release is a no-op")

	var nilArt *Artifact
	assert.NoError(t, nilArt.Release())
}

func TestValidateSource(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "sol.cpp")
	bad := filepath.Join(dir, "sol.py")
	require.NoError(t, os.WriteFile(good, nil, 0o644))
	require.NoError(t, os.WriteFile(bad, nil, 0o644))

	assert.NoError(t, ValidateSource(good))
	assert.Error(t, ValidateSource(bad))
	assert.ErrorIs(t, ValidateSource(filepath.Join(dir, "missing.cpp")), ErrSourceMissing)
	assert.Error(t, ValidateSource(dir))
}

func TestCompile_PassesEnvironment(t *testing.T) {
	fake := &fakeToolchain{}
	env := []string{"PATH=/usr/bin", "CPLUS_INCLUDE_PATH=/opt/include"}
	tc := New(Config{ArtifactDir: t.TempDir(), Env: env}, fake)

	art, err := tc.Compile(context.Background(), writeSource(t, ""))
	require.NoError(t, err)
	defer art.Release()
	assert.Equal(t, env, fake.last.Environment)

	tc = New(Config{ArtifactDir: t.TempDir()}, fake)
	art2, err := tc.Compile(context.Background(), writeSource(t, ""))
	require.NoError(t, err)
	defer art2.Release()
	assert.Nil(t, fake.last.Environment, "no env inherits the process environment")
}
