package testcase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cpwatch/internal/artifact"
	"cpwatch/internal/logging"
	"cpwatch/internal/runner"
)

// Normalize converts CRLF to LF and trims surrounding whitespace.
// Normalize(Normalize(s)) == Normalize(s).
func Normalize(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\r\n", "\n"))
}

// Equal reports whether two outputs match after normalization.
func Equal(expected, actual string) bool {
	return Normalize(expected) == Normalize(actual)
}

// FailureKind distinguishes wrong answers from programs that did not run cleanly.
type FailureKind int

const (
	// KindFail is a content mismatch.
	KindFail FailureKind = iota
	// KindError is a spawn, pipe or non-zero exit failure; no comparison was made.
	KindError
)

func (k FailureKind) String() string {
	if k == KindError {
		return "ERROR"
	}
	return "FAIL"
}

// Failure describes one case that did not pass.
type Failure struct {
	Index     int // 1-based position in the suite
	Name      string
	Kind      FailureKind
	Input     string
	Expected  string
	Actual    string
	Err       error
	Artifacts artifact.Set
}

// Report aggregates one run of a suite.
type Report struct {
	Total    int
	Passed   int
	Failures []Failure
	// Canceled is set when the context ended before every case ran.
	Canceled bool
}

// AllPassed reports whether every case passed.
func (r *Report) AllPassed() bool {
	return !r.Canceled && r.Passed == r.Total
}

// Runner executes a suite against one compiled program.
type Runner struct {
	exec  runner.Executor
	store *artifact.Store
}

// NewRunner creates a suite runner. Failing cases are persisted through store.
func NewRunner(exec runner.Executor, store *artifact.Store) *Runner {
	return &Runner{exec: exec, store: store}
}

// Run executes every case in order; a failing case never stops the run.
func (r *Runner) Run(ctx context.Context, executable string, suite Suite) *Report {
	timer := logging.StartTimer(logging.CategoryTestcase, "Suite run")
	defer timer.Stop()

	report := &Report{Total: len(suite)}
	for i, tc := range suite {
		if ctx.Err() != nil {
			report.Canceled = true
			break
		}

		res, err := r.exec.Run(ctx, runner.Command{Binary: executable}.WithInput(tc.Input))
		if runner.IsCanceled(err) {
			report.Canceled = true
			break
		}

		switch {
		case err != nil:
			f := Failure{Index: i + 1, Name: tc.Name, Kind: KindError, Input: tc.Input, Expected: tc.Expected, Err: err}
			f.Artifacts = r.persist(tc, artifact.PrefixError, errorText(err))
			report.Failures = append(report.Failures, f)
			logging.TestcaseDebug("Case %d (%s): ERROR %v", i+1, tc.Name, err)
		case !Equal(tc.Expected, res.Stdout):
			f := Failure{Index: i + 1, Name: tc.Name, Kind: KindFail, Input: tc.Input, Expected: tc.Expected, Actual: res.Stdout}
			f.Artifacts = r.persist(tc, artifact.PrefixOutput, res.Stdout)
			report.Failures = append(report.Failures, f)
			logging.TestcaseDebug("Case %d (%s): FAIL", i+1, tc.Name)
		default:
			report.Passed++
		}
	}

	logging.Testcase("Suite finished: %d/%d passed (canceled=%v)", report.Passed, report.Total, report.Canceled)
	return report
}

func (r *Runner) persist(tc TestCase, prefix, content string) artifact.Set {
	if r.store == nil {
		return nil
	}
	set, err := r.store.RetainAll(
		[2]string{artifact.PrefixTestcase, Format(tc)},
		[2]string{prefix, content},
	)
	if err != nil {
		logging.Get(logging.CategoryTestcase).Warn("Failed to persist artifacts for %q: %v", tc.Name, err)
	}
	return set
}

func errorText(err error) string {
	text := err.Error() + "\n"
	var re *runner.RunError
	if errors.As(err, &re) && re.Stderr != "" {
		text += fmt.Sprintf("\n--- stderr ---\n%s", re.Stderr)
	}
	return text
}
