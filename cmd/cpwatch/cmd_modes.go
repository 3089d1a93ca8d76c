package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"cpwatch/internal/artifact"
	"cpwatch/internal/build"
	"cpwatch/internal/compiler"
	"cpwatch/internal/config"
	"cpwatch/internal/discover"
	"cpwatch/internal/runner"
	"cpwatch/internal/session"
	"cpwatch/internal/stress"
	"cpwatch/internal/ui"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func (c *cli) watchCmd() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "watch <source.cpp>",
		Short: "Recompile and run a source on every change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, config.Watcher{Source: abs(args[0])}, once)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "Compile and run once, then exit")
	return cmd
}

func (c *cli) testCmd() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "test <source.cpp> <tests.txt>",
		Short: "Run a source against a test-case file on every change",
		Long: `Runs the compiled source once per test case and compares its output with the
expected output. Test files hold blocks of the form:

  @{name}
  <input lines>
  @
  <expected output lines>

A file ending in .yaml or .yml is read as a YAML suite instead:

  version: 1
  cases:
    - name: basic
      input: "3 4"
      expected: "7"

Both the source and the test file are watched; editing either re-runs the suite.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, config.TestCase{Source: abs(args[0]), Tests: abs(args[1])}, once)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "Run the suite once and exit with status 1 on any failure")
	return cmd
}

func (c *cli) stressCmd() *cobra.Command {
	var maxSeeds uint64
	cmd := &cobra.Command{
		Use:   "stress <solution.cpp> <generator.cpp> <brute.cpp>",
		Short: "Stress-test a solution against a reference with generated inputs",
		Long: `Feeds seeds 1, 2, 3, ... to the generator on stdin, runs the reference and the
solution on each generated input, and stops at the first seed whose outputs
differ. The failing input and both outputs are saved to files. Any change to
one of the three sources restarts the sweep from seed 1.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("max-seeds") {
				c.cfg.Stress.MaxSeeds = maxSeeds
			}
			return c.run(cmd, config.Stress{Solution: abs(args[0]), Generator: abs(args[1]), Reference: abs(args[2])}, false)
		},
	}
	cmd.Flags().Uint64Var(&maxSeeds, "max-seeds", 0, "Stop a clean sweep after N seeds (0 = unlimited)")
	return cmd
}

func (c *cli) discoverCmd() *cobra.Command {
	var write bool
	cmd := &cobra.Command{
		Use:   "discover <solution.cpp>",
		Short: "Show the mode inferred from the files next to a solution",
		Long: `Looks next to the solution for a generator (name_gen, name_generator, gen, ...)
and a brute-force reference (name_brute, name_bru, brute, ...) to infer stress
mode, or for a test file (name_tests.txt, name.txt, tests.txt, ...) to infer
test mode. With --write the result is saved to the workspace config file.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := c.discover(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "mode: %s\n", mode.Name())
			for _, src := range mode.Sources() {
				fmt.Fprintf(out, "  %s\n", src)
			}
			if !write {
				return nil
			}
			c.cfg.SetMode(mode)
			path := filepath.Join(c.workspace, config.FileName)
			if err := c.cfg.Save(path); err != nil {
				return err
			}
			fmt.Fprintf(out, "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&write, "write", false, "Save the inferred mode to "+config.FileName)
	return cmd
}

func (c *cli) discover(solution string) (config.Mode, error) {
	mode, err := discover.Discover(solution)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("Discovered mode", zap.String("mode", mode.Name()), zap.Strings("sources", mode.Sources()))
	return mode, nil
}

// run wires the collaborators for mode and runs a session until interrupted.
func (c *cli) run(cmd *cobra.Command, mode config.Mode, once bool) error {
	cfg := c.cfg
	exec := runner.NewDirectExecutor()
	toolchain := compiler.New(compiler.Config{
		Binary:      cfg.Compiler.Binary,
		Flags:       cfg.Compiler.Flags,
		LinkFlags:   cfg.Compiler.LinkFlags,
		ArtifactDir: cfg.Compiler.ArtifactDir,
		Env:         build.Env(cfg.Compiler.Env),
	}, exec)

	console := ui.NewConsole(cmd.OutOrStdout(), ui.Options{
		NoColor:      cfg.Output.NoColor,
		PreviewLines: cfg.Output.PreviewLines,
		MaxLineWidth: cfg.Output.MaxLineWidth,
		ShowDiff:     cfg.Output.ShowDiff,
		DiffContext:  cfg.Output.DiffContext,
	})

	stressOpts := stress.DefaultOptions()
	stressOpts.MaxSeeds = cfg.Stress.MaxSeeds
	stressOpts.ProgressEvery = cfg.Stress.ProgressEvery

	s, err := session.New(mode, session.Deps{
		Compiler: toolchain,
		Executor: exec,
		Store:    artifact.NewStore(cfg.Compiler.ArtifactDir),
		Console:  console,
	}, session.Options{
		PollInterval: cfg.GetPollInterval(),
		Once:         once,
		Stress:       stressOpts,
	})
	if err != nil {
		return err
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	c.logger.Info("Session starting", zap.String("id", s.ID()), zap.String("mode", mode.Name()))
	return s.Run(ctx)
}

func abs(p string) string {
	if a, err := filepath.Abs(p); err == nil {
		return a
	}
	return p
}
