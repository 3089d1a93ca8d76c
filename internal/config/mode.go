package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrNoMode is returned when neither the config nor the command line
// selects a session kind.
var ErrNoMode = errors.New("no mode configured")

// Mode is the closed set of session kinds. The concrete types are Watcher,
// TestCase and Stress.
type Mode interface {
	// Name is the value of the mode key that selects this kind.
	Name() string
	// Sources lists the files the session watches.
	Sources() []string
	isMode()
}

// Watcher recompiles and runs one source on every change.
type Watcher struct {
	Source string
}

// TestCase recompiles one source and runs it against a test-case file.
type TestCase struct {
	Source string
	Tests  string
}

// Stress differentially tests a solution against a reference.
type Stress struct {
	Solution  string
	Generator string
	Reference string
}

func (Watcher) Name() string  { return "watcher" }
func (TestCase) Name() string { return "testcase" }
func (Stress) Name() string   { return "stress" }

func (m Watcher) Sources() []string  { return []string{m.Source} }
func (m TestCase) Sources() []string { return []string{m.Source, m.Tests} }
func (m Stress) Sources() []string   { return []string{m.Solution, m.Generator, m.Reference} }

func (Watcher) isMode()  {}
func (TestCase) isMode() {}
func (Stress) isMode()   {}

// Mode converts the mode key and its section into a Mode. Relative paths
// are resolved against BaseDir.
func (c *Config) Mode() (Mode, error) {
	var m Mode
	switch strings.ToLower(strings.TrimSpace(c.ModeName)) {
	case "":
		return nil, ErrNoMode
	case "watcher", "watch":
		m = Watcher{Source: c.resolve(c.Watcher.Source)}
	case "testcase", "test":
		m = TestCase{Source: c.resolve(c.TestCase.Source), Tests: c.resolve(c.TestCase.Tests)}
	case "stress":
		m = Stress{
			Solution:  c.resolve(c.Stress.Solution),
			Generator: c.resolve(c.Stress.Generator),
			Reference: c.resolve(c.Stress.Reference),
		}
	default:
		return nil, fmt.Errorf("unknown mode %q (valid: watcher, testcase, stress)", c.ModeName)
	}

	for _, src := range m.Sources() {
		if src == "" {
			return nil, fmt.Errorf("%s mode: missing file in %q section", m.Name(), m.Name())
		}
	}
	return m, nil
}

// SetMode stores m in the mode key and its section, the inverse of Mode.
func (c *Config) SetMode(m Mode) {
	c.ModeName = m.Name()
	switch m := m.(type) {
	case Watcher:
		c.Watcher.Source = m.Source
	case TestCase:
		c.TestCase = TestCaseConfig{Source: m.Source, Tests: m.Tests}
	case Stress:
		c.Stress.Solution = m.Solution
		c.Stress.Generator = m.Generator
		c.Stress.Reference = m.Reference
	}
}

func (c *Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || c.BaseDir == "" {
		return p
	}
	return filepath.Join(c.BaseDir, p)
}
