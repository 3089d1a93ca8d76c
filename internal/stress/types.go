// Package stress implements differential testing of a candidate program
// against a trusted reference, driven by a seeded input generator.
//
// The engine is a state machine:
//
//	Idle → Compiling → Sweeping → WaitingForChange → Compiling → … → Stopped
//
// A sweep feeds seeds 1, 2, 3, … to the generator, pipes each generated input
// through the reference and the candidate, and halts at the first seed whose
// outputs differ. Any change to one of the three sources restarts the cycle
// from seed 1.
package stress

import (
	"fmt"

	"cpwatch/internal/artifact"
)

// State is a phase of the engine.
type State int

const (
	Idle State = iota
	Compiling
	Sweeping
	WaitingForChange
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Compiling:
		return "compiling"
	case Sweeping:
		return "sweeping"
	case WaitingForChange:
		return "waiting"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Sources names the three programs of a stress session.
type Sources struct {
	Solution  string // candidate under test
	Generator string // reads a seed, prints one test input
	Reference string // trusted brute-force solution
}

// Paths returns the sources in compile order.
func (s Sources) Paths() []string {
	return []string{s.Solution, s.Generator, s.Reference}
}

// Stage identifies which program of a seed failed.
type Stage int

const (
	StageGenerator Stage = iota
	StageReference
	StageCandidate
)

func (s Stage) String() string {
	switch s {
	case StageGenerator:
		return "generator"
	case StageReference:
		return "reference"
	case StageCandidate:
		return "candidate"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// SeedError is a tooling failure for one seed. It does not end the sweep.
type SeedError struct {
	Seed  uint64
	Stage Stage
	Err   error
}

func (e *SeedError) Error() string {
	return fmt.Sprintf("seed %d: %s: %v", e.Seed, e.Stage, e.Err)
}

func (e *SeedError) Unwrap() error { return e.Err }

// MismatchReport is the first seed at which reference and candidate disagree.
type MismatchReport struct {
	Seed      uint64
	Input     string
	Expected  string
	Actual    string
	Artifacts artifact.Set // keyed by artifact.PrefixInput/Expected/Actual
}

// Summary is reported when the engine stops.
type Summary struct {
	Sweeps          int
	SeedsRun        uint64
	SeedErrors      int
	Mismatches      int
	CompileFailures int
}

// Reporter receives engine events. Implementations render them for a user.
type Reporter interface {
	StateChanged(from, to State)
	Compiled(source, warnings string)
	CompileFailed(source string, err error)
	SweepStarted(sweep int)
	Progress(seed uint64)
	SeedFailed(err *SeedError)
	Mismatch(report *MismatchReport)
	SweepExhausted(seeds uint64)
	Stopped(summary Summary)
}
