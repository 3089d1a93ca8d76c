// Package discover infers a session from the files next to a solution.
//
// For a solution a.cpp (or a_solution.cpp, a_sol.cpp, sol_a.cpp) it looks in
// the same directory for a generator (a_gen, a_generator, a_gener, gen_a, gen,
// generator) and a reference (a_brute, a_bru, a_naive, brute_a, brute, naive)
// with any C++ extension, and for a test file (a_tests.txt, a_test.txt, a.txt,
// tests_a.txt, tests.txt, then the YAML a_tests.yaml, tests.yaml). A generator and a reference make a stress session;
// otherwise a test file makes a test-case session; otherwise the solution is
// simply watched.
package discover

import (
	"os"
	"path/filepath"
	"strings"

	"cpwatch/internal/compiler"
	"cpwatch/internal/config"
	"cpwatch/internal/logging"
)

var solutionSuffixes = []string{"_solution", "_sol"}
var solutionPrefixes = []string{"sol_", "solution_"}

var generatorNames = []string{"%_gen", "%_generator", "%_gener", "gen_%", "gen", "generator"}
var referenceNames = []string{"%_brute", "%_bru", "%_naive", "brute_%", "brute", "naive"}
var testNames = []string{"%_tests.txt", "%_test.txt", "%.txt", "tests_%.txt", "tests.txt", "%_tests.yaml", "tests.yaml"}

// Stem returns the problem name of a solution path: the file name without
// extension and without a solution marker.
func Stem(solution string) string {
	base := filepath.Base(solution)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	for _, s := range solutionSuffixes {
		if trimmed := strings.TrimSuffix(stem, s); trimmed != stem && trimmed != "" {
			return trimmed
		}
	}
	for _, p := range solutionPrefixes {
		if trimmed := strings.TrimPrefix(stem, p); trimmed != stem && trimmed != "" {
			return trimmed
		}
	}
	return stem
}

// Discover returns the session inferred for solution.
func Discover(solution string) (config.Mode, error) {
	if err := compiler.ValidateSource(solution); err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(solution)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(abs)
	stem := Stem(abs)

	gen := findSource(dir, stem, abs, generatorNames)
	ref := findSource(dir, stem, abs, referenceNames)
	if gen != "" && ref != "" {
		logging.Config("Discovered stress session for %s: generator=%s reference=%s", abs, gen, ref)
		return config.Stress{Solution: abs, Generator: gen, Reference: ref}, nil
	}

	if tests := findFile(dir, stem, testNames, ""); tests != "" {
		logging.Config("Discovered test file for %s: %s", abs, tests)
		return config.TestCase{Source: abs, Tests: tests}, nil
	}

	logging.ConfigDebug("No companions found for %s; watching it alone", abs)
	return config.Watcher{Source: abs}, nil
}

// findSource tries every pattern with every C++ extension, skipping self.
func findSource(dir, stem, self string, patterns []string) string {
	for _, ext := range compiler.SourceExtensions {
		if p := findFile(dir, stem, patterns, ext); p != "" && p != self {
			return p
		}
	}
	return ""
}

// findFile returns the first pattern, with % replaced by stem and ext
// appended, that names an existing regular file in dir.
func findFile(dir, stem string, patterns []string, ext string) string {
	for _, pat := range patterns {
		name := strings.ReplaceAll(pat, "%", stem) + ext
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			return path
		}
	}
	return ""
}
