// Package diff compares expected and actual program output line by line
// using the sergi/go-diff library.
package diff

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// LineType represents the type of diff line
type LineType int

const (
	LineContext  LineType = iota // present in both outputs
	LineExpected                 // only in the expected output
	LineActual                   // only in the actual output
)

// Line is one line of a hunk. Numbers are 1-based; zero means the line does
// not exist on that side.
type Line struct {
	Expected int
	Actual   int
	Content  string
	Type     LineType
}

// Hunk is a run of changed lines with surrounding context.
type Hunk struct {
	ExpectedStart int
	ActualStart   int
	Lines         []Line
}

// Result is the comparison of two outputs.
type Result struct {
	Hunks []Hunk
	// FirstDifference is the 1-based expected line of the first change, or 0
	// when the outputs match.
	FirstDifference int
}

// Equal reports whether the outputs matched.
func (r *Result) Equal() bool { return len(r.Hunks) == 0 }

// Engine computes output diffs.
type Engine struct {
	dmp     *diffmatchpatch.DiffMatchPatch
	context int
}

// NewEngine creates an engine that keeps context unchanged lines around
// each change.
func NewEngine(context int) *Engine {
	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0
	if context < 0 {
		context = 0
	}
	return &Engine{dmp: dmp, context: context}
}

// DefaultEngine keeps two lines of context.
var DefaultEngine = NewEngine(2)

// Outputs is a convenience function using the default engine.
func Outputs(expected, actual string) *Result {
	return DefaultEngine.Outputs(expected, actual)
}

// Outputs compares two outputs after converting CRLF to LF and trimming
// surrounding whitespace, the same normalization the test runner applies.
func (e *Engine) Outputs(expected, actual string) *Result {
	expected = normalize(expected)
	actual = normalize(actual)
	if expected == actual {
		return &Result{}
	}

	// Line-level reduction avoids splitting inside a line.
	a, b, lines := e.dmp.DiffLinesToChars(withNewline(expected), withNewline(actual))
	diffs := e.dmp.DiffMain(a, b, false)
	diffs = e.dmp.DiffCharsToLines(diffs, lines)

	ops := toLines(diffs)
	res := &Result{Hunks: e.group(ops)}
	for _, l := range ops {
		if l.Type != LineContext {
			res.FirstDifference = l.Expected
			if res.FirstDifference == 0 {
				// Extra actual line: report where it would sit in expected.
				res.FirstDifference = l.Actual
			}
			break
		}
	}
	return res
}

func toLines(diffs []diffmatchpatch.Diff) []Line {
	var out []Line
	exp, act := 0, 0
	for _, d := range diffs {
		text := strings.TrimSuffix(d.Text, "\n")
		if d.Text == "" {
			continue
		}
		for _, content := range strings.Split(text, "\n") {
			switch d.Type {
			case diffmatchpatch.DiffEqual:
				exp++
				act++
				out = append(out, Line{Expected: exp, Actual: act, Content: content, Type: LineContext})
			case diffmatchpatch.DiffDelete:
				exp++
				out = append(out, Line{Expected: exp, Content: content, Type: LineExpected})
			case diffmatchpatch.DiffInsert:
				act++
				out = append(out, Line{Actual: act, Content: content, Type: LineActual})
			}
		}
	}
	return out
}

// group splits lines into hunks, keeping e.context lines around changes and
// merging changes whose context would overlap.
func (e *Engine) group(lines []Line) []Hunk {
	keep := make([]bool, len(lines))
	for i, l := range lines {
		if l.Type == LineContext {
			continue
		}
		lo := max(0, i-e.context)
		hi := min(len(lines)-1, i+e.context)
		for j := lo; j <= hi; j++ {
			keep[j] = true
		}
	}

	var hunks []Hunk
	var cur *Hunk
	for i, l := range lines {
		if !keep[i] {
			if cur != nil {
				hunks = append(hunks, *cur)
				cur = nil
			}
			continue
		}
		if cur == nil {
			cur = &Hunk{ExpectedStart: l.Expected, ActualStart: l.Actual}
		}
		if cur.ExpectedStart == 0 {
			cur.ExpectedStart = l.Expected
		}
		if cur.ActualStart == 0 {
			cur.ActualStart = l.Actual
		}
		cur.Lines = append(cur.Lines, l)
	}
	if cur != nil {
		hunks = append(hunks, *cur)
	}
	return hunks
}

func normalize(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\r\n", "\n"))
}

func withNewline(s string) string {
	if s == "" {
		return s
	}
	return s + "\n"
}
