// Package compiler invokes an external toolchain to turn a single source file
// into an executable artifact owned by the caller.
package compiler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"cpwatch/internal/logging"
	"cpwatch/internal/runner"
)

// ErrSourceMissing is returned when the source file does not exist.
var ErrSourceMissing = errors.New("source file does not exist")

// SourceExtensions lists the accepted source file extensions.
var SourceExtensions = []string{".cpp", ".cc", ".cxx"}

// Config describes the toolchain invocation.
type Config struct {
	Binary      string
	Flags       []string
	LinkFlags   []string
	ArtifactDir string   // empty means os.TempDir()
	Env         []string // nil inherits the process environment
}

// DefaultConfig returns g++ with the flags used for competitive programming.
func DefaultConfig() Config {
	return Config{
		Binary:    "g++",
		Flags:     []string{"-std=c++17", "-O2", "-Wall"},
		LinkFlags: []string{"-lm"},
	}
}

// Compiler turns a source path into an executable artifact.
type Compiler interface {
	Compile(ctx context.Context, source string) (*Artifact, error)
}

// Artifact is a compiled executable. The owner must call Release when the
// artifact goes out of scope.
type Artifact struct {
	Source   string
	Path     string
	Warnings string
}

// Release deletes the executable. It is safe to call more than once and on nil.
func (a *Artifact) Release() error {
	if a == nil || a.Path == "" {
		return nil
	}
	err := os.Remove(a.Path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove artifact %s: %w", a.Path, err)
	}
	logging.CompileDebug("Released artifact %s", a.Path)
	return nil
}

// CompileError carries the toolchain's diagnostics for a failed build.
type CompileError struct {
	Source      string
	Diagnostics string
	Err         error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compile %s: %v", filepath.Base(e.Source), e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }

// Toolchain compiles with an external compiler through an Executor.
type Toolchain struct {
	cfg  Config
	exec runner.Executor
}

// New creates a Toolchain.
func New(cfg Config, exec runner.Executor) *Toolchain {
	if cfg.Binary == "" {
		cfg.Binary = DefaultConfig().Binary
	}
	return &Toolchain{cfg: cfg, exec: exec}
}

// Compile builds source into a fresh temporary executable.
func (t *Toolchain) Compile(ctx context.Context, source string) (*Artifact, error) {
	timer := logging.StartTimer(logging.CategoryCompile, "Compile "+filepath.Base(source))
	defer timer.Stop()

	if _, err := os.Stat(source); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSourceMissing, source)
		}
		return nil, fmt.Errorf("stat source: %w", err)
	}

	out, err := t.reservePath(source)
	if err != nil {
		return nil, err
	}

	args := append([]string{}, t.cfg.Flags...)
	args = append(args, "-o", out, source)
	args = append(args, t.cfg.LinkFlags...)

	logging.Compile("Compiling %s -> %s", source, out)
	res, err := t.exec.Run(ctx, runner.Command{
		Binary:      t.cfg.Binary,
		Arguments:   args,
		Environment: t.cfg.Env,
	})
	if err != nil {
		os.Remove(out)
		diag := err.Error()
		var re *runner.RunError
		if errors.As(err, &re) && re.Kind == runner.NonZeroExit {
			diag = strings.TrimRight(re.Stderr+re.Stdout, "\n")
		}
		logging.CompileWarn("Compilation failed: %s", source)
		return nil, &CompileError{Source: source, Diagnostics: diag, Err: err}
	}

	return &Artifact{
		Source:   source,
		Path:     out,
		Warnings: strings.TrimSpace(res.Stderr),
	}, nil
}

// reservePath creates an empty temp file the toolchain will overwrite.
func (t *Toolchain) reservePath(source string) (string, error) {
	dir := t.cfg.ArtifactDir
	if dir == "" {
		dir = os.TempDir()
	}
	stem := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	suffix := ""
	if runtime.GOOS == "windows" {
		suffix = ".exe"
	}
	f, err := os.CreateTemp(dir, "cpwatch-"+stem+"-*"+suffix)
	if err != nil {
		return "", fmt.Errorf("reserve artifact path: %w", err)
	}
	name := f.Name()
	f.Close()
	return name, nil
}

// ValidateSource checks that path exists and has a C++ extension.
func ValidateSource(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrSourceMissing, path)
		}
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, want := range SourceExtensions {
		if ext == want {
			return nil
		}
	}
	return fmt.Errorf("%s: source must be a C++ file (%s)", path, strings.Join(SourceExtensions, ", "))
}
