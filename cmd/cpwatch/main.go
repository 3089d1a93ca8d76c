package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"cpwatch/internal/config"
	"cpwatch/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// cli holds the state shared by all commands of one invocation.
type cli struct {
	// Global flags
	verbose    bool
	workspace  string
	configPath string
	noColor    bool

	logger *zap.Logger
	cfg    *config.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	rootCmd := &cobra.Command{
		Use:   "cpwatch [solution.cpp]",
		Short: "Watch, compile and test single-file C++ solutions",
		Long: `cpwatch recompiles a C++ source every time it changes and then either runs it,
checks it against a file of test cases, or stress-tests it against a brute-force
reference with a seeded generator.

Without arguments the mode comes from cpwatch.yaml in the workspace. With a
solution argument the mode is inferred from the files next to it (see
"cpwatch discover").`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			c.teardown()
		},
		RunE: c.runRoot,
	}

	rootCmd.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&c.workspace, "workspace", "w", "", "Workspace directory (default: nearest directory with cpwatch.yaml)")
	rootCmd.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "Config file (default: <workspace>/cpwatch.yaml)")
	rootCmd.PersistentFlags().BoolVar(&c.noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(c.watchCmd())
	rootCmd.AddCommand(c.testCmd())
	rootCmd.AddCommand(c.stressCmd())
	rootCmd.AddCommand(c.discoverCmd())
	return rootCmd
}

// setup builds the CLI logger, loads the config and starts category logging.
func (c *cli) setup(cmd *cobra.Command) error {
	zcfg := zap.NewProductionConfig()
	zcfg.Encoding = "console"
	zcfg.DisableStacktrace = true
	zcfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if c.verbose {
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := zcfg.Build()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	c.logger = logger

	if c.workspace == "" {
		if c.workspace, err = config.FindWorkspaceRoot(); err != nil {
			return fmt.Errorf("failed to find workspace: %w", err)
		}
	}

	path := c.configPath
	if path == "" {
		path = filepath.Join(c.workspace, config.FileName)
	} else if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("config file: %w", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if c.noColor {
		cfg.Output.NoColor = true
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", path, err)
	}
	c.cfg = cfg

	if err := logging.Initialize(c.workspace, cfg.Logging.Settings()); err != nil {
		c.logger.Warn("Category logging disabled", zap.Error(err))
	}
	logging.Boot("cpwatch %s: workspace=%s config=%s", cmd.Name(), c.workspace, path)
	c.logger.Debug("Configuration loaded",
		zap.String("workspace", c.workspace),
		zap.String("config", path),
		zap.String("compiler", cfg.Compiler.Binary),
		zap.String("mode", cfg.ModeName))
	return nil
}

func (c *cli) teardown() {
	logging.CloseAll()
	if c.logger != nil {
		_ = c.logger.Sync()
	}
}

// runRoot runs the configured mode, or the mode discovered for a solution.
func (c *cli) runRoot(cmd *cobra.Command, args []string) error {
	var (
		mode config.Mode
		err  error
	)
	if len(args) == 1 {
		mode, err = c.discover(args[0])
	} else {
		mode, err = c.cfg.Mode()
		if errors.Is(err, config.ErrNoMode) {
			return fmt.Errorf("%w: pass a solution file, use a subcommand, or set \"mode\" in %s", err, config.FileName)
		}
	}
	if err != nil {
		return err
	}
	return c.run(cmd, mode, false)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
