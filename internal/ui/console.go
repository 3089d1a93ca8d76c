package ui

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"cpwatch/internal/artifact"
	"cpwatch/internal/compiler"
	"cpwatch/internal/diff"
	"cpwatch/internal/runner"
	"cpwatch/internal/stress"
	"cpwatch/internal/testcase"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

// Options control how much of each output is shown.
type Options struct {
	NoColor bool
	// PreviewLines caps each printed input or output block.
	PreviewLines int
	// MaxLineWidth truncates long lines in previews.
	MaxLineWidth int
	// ShowDiff prints a line diff under failed comparisons.
	ShowDiff bool
	// DiffContext is the number of unchanged lines around each change.
	DiffContext int
}

// DefaultOptions returns the options used by the CLI.
func DefaultOptions() Options {
	return Options{PreviewLines: 20, MaxLineWidth: 200, ShowDiff: true, DiffContext: 2}
}

// Console writes human-readable session output. It implements
// stress.Reporter. All methods are safe for concurrent use.
type Console struct {
	mu     sync.Mutex
	out    io.Writer
	styles Styles
	opts   Options
	diff   *diff.Engine
	now    func() time.Time
}

var _ stress.Reporter = (*Console)(nil)

// NewConsole creates a console writing to w.
func NewConsole(w io.Writer, opts Options) *Console {
	if opts.PreviewLines <= 0 {
		opts.PreviewLines = DefaultOptions().PreviewLines
	}
	return &Console{
		out:    w,
		styles: NewStyles(NewRenderer(w, opts.NoColor)),
		opts:   opts,
		diff:   diff.NewEngine(opts.DiffContext),
		now:    time.Now,
	}
}

func (c *Console) printf(format string, args ...interface{}) {
	fmt.Fprintf(c.out, format, args...)
}

// banner prints a timestamped line.
func (c *Console) banner(style lipgloss.Style, format string, args ...interface{}) {
	stamp := c.styles.Timestamp.Render("[" + c.now().Format("2006-01-02 15:04:05") + "]")
	c.printf("%s %s\n", stamp, style.Render(fmt.Sprintf(format, args...)))
}

// Watching announces the files of a session.
func (c *Console) Watching(mode string, paths ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.banner(c.styles.Banner, "%s mode: watching %s (Ctrl+C to stop)", mode, strings.Join(paths, ", "))
}

// FileChanged announces a detected change.
func (c *Console) FileChanged(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.banner(c.styles.Banner, "File changed: %s. Compiling and running...", path)
}

// Compiled reports a successful build and any warnings.
func (c *Console) Compiled(source, warnings string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if warnings != "" {
		c.printf("%s\n%s\n", c.styles.Warning.Render("Warnings in "+source+":"), c.styles.Muted.Render(c.preview(warnings)))
	}
}

// CompileFailed prints the compiler diagnostics for source.
func (c *Console) CompileFailed(source string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.banner(c.styles.Error, "Compilation failed: %s", source)
	var ce *compiler.CompileError
	if errors.As(err, &ce) && ce.Diagnostics != "" {
		c.printf("%s\n", c.preview(ce.Diagnostics))
		return
	}
	c.printf("%v\n", err)
}

// ProgramOutput prints the output of a watched run.
func (c *Console) ProgramOutput(res *runner.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if res.Stdout != "" {
		c.printf("%s", res.Stdout)
		if !strings.HasSuffix(res.Stdout, "\n") {
			c.printf("\n")
		}
	}
	if res.Stderr != "" {
		c.printf("%s\n", c.styles.Muted.Render(strings.TrimRight(res.Stderr, "\n")))
	}
	if res.PeakMemory > 0 {
		c.banner(c.styles.Success, "Execution completed successfully in %s (peak memory %s).",
			res.Duration.Round(time.Millisecond), humanize.IBytes(res.PeakMemory))
		return
	}
	c.banner(c.styles.Success, "Execution completed successfully in %s.", res.Duration.Round(time.Millisecond))
}

// RunFailed reports a watched run that did not exit cleanly.
func (c *Console) RunFailed(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var re *runner.RunError
	if errors.As(err, &re) {
		if re.Stdout != "" {
			c.printf("%s\n", strings.TrimRight(re.Stdout, "\n"))
		}
		if re.Stderr != "" {
			c.printf("%s\n", c.styles.Muted.Render(c.preview(re.Stderr)))
		}
	}
	c.banner(c.styles.Error, "Execution failed: %v", err)
}

// Waiting announces that the session is idle until the next change.
func (c *Console) Waiting() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.printf("%s\n", c.styles.Muted.Render("Waiting for changes..."))
}

// Error prints a non-fatal session error.
func (c *Console) Error(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.banner(c.styles.Error, "%v", err)
}

// TestReport prints every failure of a suite run followed by a summary.
func (c *Console) TestReport(r *testcase.Report) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, f := range r.Failures {
		label := c.styles.Error.Render(fmt.Sprintf("Test #%d (%s): %s", f.Index, f.Name, f.Kind))
		c.printf("\n%s\n", label)
		c.section("Input", f.Input)
		c.section("Expected", f.Expected)
		if f.Kind == testcase.KindError {
			c.section("Error", fmt.Sprint(f.Err))
		} else {
			c.section("Actual", f.Actual)
			c.renderDiff(f.Expected, f.Actual)
		}
		c.artifacts(f.Artifacts, artifact.PrefixTestcase, artifact.PrefixOutput, artifact.PrefixError)
	}

	summary := fmt.Sprintf("Passed %d/%d tests", r.Passed, r.Total)
	switch {
	case r.Canceled:
		c.banner(c.styles.Warning, "%s (canceled)", summary)
	case r.AllPassed():
		c.banner(c.styles.Success, "%s", summary)
	default:
		c.banner(c.styles.Error, "%s", summary)
	}
}

// StateChanged implements stress.Reporter.
func (c *Console) StateChanged(_, to stress.State) {
	switch to {
	case stress.Compiling:
		c.mu.Lock()
		c.banner(c.styles.Banner, "Compiling...")
		c.mu.Unlock()
	case stress.WaitingForChange:
		c.Waiting()
	}
}

// SweepStarted implements stress.Reporter.
func (c *Console) SweepStarted(sweep int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.banner(c.styles.Info, "Sweep #%d: testing seeds from 1", sweep)
}

// Progress implements stress.Reporter.
func (c *Console) Progress(seed uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.printf("%s\n", c.styles.Muted.Render(fmt.Sprintf("  %s seeds passed", humanize.Comma(int64(seed)))))
}

// SeedFailed implements stress.Reporter.
func (c *Console) SeedFailed(err *stress.SeedError) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.printf("%s %v\n", c.styles.Warning.Render("warning:"), err)
}

// Mismatch implements stress.Reporter.
func (c *Console) Mismatch(r *stress.MismatchReport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.banner(c.styles.Error, "Mismatch at seed %s", humanize.Comma(int64(r.Seed)))
	c.section("Input", r.Input)
	c.section("Expected", r.Expected)
	c.section("Actual", r.Actual)
	c.renderDiff(r.Expected, r.Actual)
	c.artifacts(r.Artifacts, artifact.PrefixInput, artifact.PrefixExpected, artifact.PrefixActual)
}

// SweepExhausted implements stress.Reporter.
func (c *Console) SweepExhausted(seeds uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.banner(c.styles.Success, "All %s seeds passed", humanize.Comma(int64(seeds)))
}

// Stopped implements stress.Reporter.
func (c *Console) Stopped(s stress.Summary) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.banner(c.styles.Banner, "Stopped after %d %s, %s seeds, %d %s",
		s.Sweeps, plural(s.Sweeps, "sweep"),
		humanize.Comma(int64(s.SeedsRun)),
		s.Mismatches, plural(s.Mismatches, "mismatch"))
}

func (c *Console) section(label, body string) {
	c.printf("%s\n%s\n", c.styles.Label.Render(label+":"), c.preview(body))
}

func (c *Console) renderDiff(expected, actual string) {
	if !c.opts.ShowDiff {
		return
	}
	res := c.diff.Outputs(expected, actual)
	if res.Equal() {
		return
	}
	c.printf("%s\n", c.styles.Label.Render(fmt.Sprintf("Diff (first difference at line %d):", res.FirstDifference)))
	for i, h := range res.Hunks {
		if i > 0 {
			c.printf("%s\n", c.styles.DiffContext.Render("  ..."))
		}
		for _, l := range h.Lines {
			text := truncate(l.Content, c.opts.MaxLineWidth)
			switch l.Type {
			case diff.LineExpected:
				c.printf("%s\n", c.styles.DiffExpected.Render("- "+text))
			case diff.LineActual:
				c.printf("%s\n", c.styles.DiffActual.Render("+ "+text))
			default:
				c.printf("%s\n", c.styles.DiffContext.Render("  "+text))
			}
		}
	}
}

func (c *Console) artifacts(set artifact.Set, order ...string) {
	for _, prefix := range order {
		if path, ok := set[prefix]; ok {
			c.printf("%s %s\n", c.styles.Muted.Render("Saved "+strings.TrimSuffix(prefix, "_")+":"), path)
		}
	}
}

func (c *Console) preview(text string) string {
	return Preview(text, c.opts.PreviewLines, c.opts.MaxLineWidth)
}

// Preview returns at most maxLines lines of text, each cut to maxWidth runes
// (zero disables the cut), and notes how much was omitted.
func Preview(text string, maxLines, maxWidth int) string {
	text = strings.TrimRight(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	if text == "" {
		return "(empty)"
	}
	lines := strings.Split(text, "\n")
	shown := lines
	if maxLines > 0 && len(lines) > maxLines {
		shown = lines[:maxLines]
	}
	out := make([]string, 0, len(shown)+1)
	for _, l := range shown {
		out = append(out, truncate(l, maxWidth))
	}
	if rest := len(lines) - len(shown); rest > 0 {
		omitted := len(strings.Join(lines[len(shown):], "\n"))
		out = append(out, fmt.Sprintf("... (%d more %s, %s)", rest, plural(rest, "line"), humanize.Bytes(uint64(omitted))))
	}
	return strings.Join(out, "\n")
}

func truncate(s string, width int) string {
	if width <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	return string(r[:width]) + "..."
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	if strings.HasSuffix(word, "h") {
		return word + "es"
	}
	return word + "s"
}
