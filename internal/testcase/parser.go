// Package testcase parses test-definition files and runs their cases
// against a compiled program.
//
// A test file is a sequence of blocks:
//
//	@{basic}
//	3 4
//	@
//	7
//
// The header names the case, lines up to the "@" separator are its input,
// and lines up to the next header (or end of file) are the expected output.
package testcase

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// TestCase is one named input/expected-output pair.
type TestCase struct {
	Name     string
	Input    string
	Expected string
}

// Suite is an ordered sequence of test cases in file order.
type Suite []TestCase

// FormatError reports malformed test-file content at a 1-based line.
type FormatError struct {
	Line int
	Msg  string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

const maxLineBytes = 64 << 20

type parseState int

const (
	outside parseState = iota
	inInput
	inExpected
)

type block struct {
	name     string
	line     int
	input    []string
	expected []string
}

func (b *block) testCase() TestCase {
	return TestCase{
		Name:     b.name,
		Input:    strings.Join(b.input, "\n"),
		Expected: strings.Join(b.expected, "\n"),
	}
}

// ParseFile parses the test file at path.
func ParseFile(path string) (Suite, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open test file: %w", err)
	}
	defer f.Close()

	suite, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return suite, nil
}

// Parse reads blocks from r. It stops at the first format or read error.
func Parse(r io.Reader) (Suite, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var (
		suite Suite
		cur   *block
		state = outside
		n     int
	)

	closeBlock := func() error {
		if cur == nil {
			return nil
		}
		if state == inInput {
			return &FormatError{Line: cur.line, Msg: fmt.Sprintf("test %q is missing its '@' separator", cur.name)}
		}
		suite = append(suite, cur.testCase())
		cur = nil
		return nil
	}

	for sc.Scan() {
		n++
		line := sc.Text()
		trimmed := strings.TrimSpace(line)

		if name, ok := headerName(trimmed); ok {
			if err := closeBlock(); err != nil {
				return nil, err
			}
			if name == "" {
				return nil, &FormatError{Line: n, Msg: "test name must not be empty"}
			}
			cur = &block{name: name, line: n}
			state = inInput
			continue
		}

		switch state {
		case outside:
			if trimmed == "" {
				continue
			}
			if trimmed == "@" {
				return nil, &FormatError{Line: n, Msg: "separator '@' outside of a test block"}
			}
			return nil, &FormatError{Line: n, Msg: fmt.Sprintf("unexpected content outside of a test block: %q", trimmed)}
		case inInput:
			if trimmed == "@" {
				state = inExpected
				continue
			}
			cur.input = append(cur.input, line)
		case inExpected:
			if trimmed == "@" {
				return nil, &FormatError{Line: n, Msg: fmt.Sprintf("test %q has more than one '@' separator", cur.name)}
			}
			cur.expected = append(cur.expected, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read test file: %w", err)
	}
	if err := closeBlock(); err != nil {
		return nil, err
	}
	return suite, nil
}

// headerName reports whether trimmed is a "@{NAME}" header and returns the
// trimmed text between the first '{' and the final '}'.
func headerName(trimmed string) (string, bool) {
	if !strings.HasPrefix(trimmed, "@{") || !strings.HasSuffix(trimmed, "}") || len(trimmed) < 3 {
		return "", false
	}
	return strings.TrimSpace(trimmed[2 : len(trimmed)-1]), true
}

// Format renders a single case back into test-file syntax.
func Format(tc TestCase) string {
	var b strings.Builder
	fmt.Fprintf(&b, "@{%s}\n", tc.Name)
	if tc.Input != "" {
		b.WriteString(tc.Input)
		b.WriteByte('\n')
	}
	b.WriteString("@\n")
	if tc.Expected != "" {
		b.WriteString(tc.Expected)
		b.WriteByte('\n')
	}
	return b.String()
}
