// Package artifact writes diagnostic files that outlive the process so a
// failing input or output can be inspected after the session ends.
package artifact

import (
	"fmt"
	"os"
	"path/filepath"
)

// Prefixes for retained files.
const (
	PrefixInput    = "input_"
	PrefixExpected = "expected_"
	PrefixActual   = "actual_"
	PrefixTestcase = "testcase_"
	PrefixOutput   = "output_"
	PrefixError    = "error_"
)

// Suffix is appended to every retained file.
const Suffix = ".txt"

// Store creates retained files in one directory.
type Store struct {
	dir string
}

// NewStore returns a store rooted at dir; an empty dir means os.TempDir().
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the directory files are written to.
func (s *Store) Dir() string {
	if s.dir == "" {
		return os.TempDir()
	}
	return s.dir
}

// Retain writes content to a new uniquely named file and returns its absolute path.
// The file is never removed by cpwatch.
func (s *Store) Retain(prefix, content string) (string, error) {
	dir := s.Dir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}
	f, err := os.CreateTemp(dir, prefix+"*"+Suffix)
	if err != nil {
		return "", fmt.Errorf("create artifact: %w", err)
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return "", fmt.Errorf("write artifact %s: %w", f.Name(), err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close artifact %s: %w", f.Name(), err)
	}
	return filepath.Abs(f.Name())
}

// Set is a group of retained files keyed by prefix.
type Set map[string]string

// RetainAll writes each prefix/content pair and returns the resulting paths.
// It stops at the first error, returning the files written so far.
func (s *Store) RetainAll(pairs ...[2]string) (Set, error) {
	set := make(Set, len(pairs))
	for _, p := range pairs {
		path, err := s.Retain(p[0], p[1])
		if err != nil {
			return set, err
		}
		set[p[0]] = path
	}
	return set, nil
}
