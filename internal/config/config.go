package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the config file looked up in the workspace.
const FileName = "cpwatch.yaml"

// StateDir holds logs and other per-workspace state.
const StateDir = ".cpwatch"

// Config holds all cpwatch configuration.
type Config struct {
	// ModeName selects the session kind: watcher, testcase or stress.
	ModeName string `yaml:"mode"`

	Watcher  WatcherConfig  `yaml:"watcher"`
	TestCase TestCaseConfig `yaml:"testcase"`
	Stress   StressConfig   `yaml:"stress"`

	Compiler CompilerConfig `yaml:"compiler"`
	Watch    WatchConfig    `yaml:"watch"`
	Output   OutputConfig   `yaml:"output"`
	Logging  LoggingConfig  `yaml:"logging"`

	// BaseDir resolves relative source paths. Load sets it to the directory
	// of the config file.
	BaseDir string `yaml:"-"`
}

// WatcherConfig configures watch-and-run mode.
type WatcherConfig struct {
	Source string `yaml:"source"`
}

// TestCaseConfig configures watch-and-test mode.
type TestCaseConfig struct {
	Source string `yaml:"source"`
	Tests  string `yaml:"tests"`
}

// StressConfig configures stress mode.
type StressConfig struct {
	Solution  string `yaml:"solution"`
	Generator string `yaml:"generator"`
	Reference string `yaml:"reference"`

	MaxSeeds      uint64 `yaml:"max_seeds"`      // 0 = until a mismatch or a change
	ProgressEvery uint64 `yaml:"progress_every"` // 0 disables progress lines
}

// CompilerConfig configures the toolchain.
type CompilerConfig struct {
	Binary      string   `yaml:"binary"`
	Flags       []string `yaml:"flags"`
	LinkFlags   []string `yaml:"link_flags"`
	ArtifactDir string   `yaml:"artifact_dir"` // executables and retained diagnostics; empty = OS temp dir

	// Env is applied over the inherited environment when compiling,
	// e.g. CPLUS_INCLUDE_PATH for a local bits/stdc++.h.
	Env map[string]string `yaml:"env,omitempty"`
}

// WatchConfig configures change detection.
type WatchConfig struct {
	PollInterval string `yaml:"poll_interval"`
}

// OutputConfig configures console rendering.
type OutputConfig struct {
	NoColor      bool `yaml:"no_color"`
	PreviewLines int  `yaml:"preview_lines"`
	MaxLineWidth int  `yaml:"max_line_width"`
	ShowDiff     bool `yaml:"show_diff"`
	DiffContext  int  `yaml:"diff_context"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Compiler: CompilerConfig{
			Binary:    "g++",
			Flags:     []string{"-std=c++17", "-O2", "-Wall"},
			LinkFlags: []string{"-lm"},
		},
		Stress: StressConfig{
			ProgressEvery: 100,
		},
		Watch: WatchConfig{
			PollInterval: "500ms",
		},
		Output: OutputConfig{
			PreviewLines: 20,
			MaxLineWidth: 200,
			ShowDiff:     true,
			DiffContext:  2,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults; environment overrides apply either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if abs, err := filepath.Abs(path); err == nil {
		cfg.BaseDir = filepath.Dir(abs)
	}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if cxx := os.Getenv("CXX"); cxx != "" {
		c.Compiler.Binary = cxx
	}
	if dir := os.Getenv("CPWATCH_ARTIFACT_DIR"); dir != "" {
		c.Compiler.ArtifactDir = dir
	}
	if v := os.Getenv("CPWATCH_DEBUG"); v != "" {
		if on, err := strconv.ParseBool(v); err == nil {
			c.Logging.DebugMode = on
		}
	}
	if os.Getenv("NO_COLOR") != "" {
		c.Output.NoColor = true
	}
}

// GetPollInterval returns the watch poll interval as a duration.
func (c *Config) GetPollInterval() time.Duration {
	d, err := time.ParseDuration(c.Watch.PollInterval)
	if err != nil || d <= 0 {
		return 500 * time.Millisecond
	}
	return d
}

// Validate checks the settings that do not depend on the mode.
func (c *Config) Validate() error {
	if c.Compiler.Binary == "" {
		return errors.New("compiler.binary must not be empty")
	}
	if _, err := time.ParseDuration(c.Watch.PollInterval); c.Watch.PollInterval != "" && err != nil {
		return fmt.Errorf("invalid watch.poll_interval %q: %w", c.Watch.PollInterval, err)
	}
	if c.Output.PreviewLines < 0 || c.Output.MaxLineWidth < 0 || c.Output.DiffContext < 0 {
		return errors.New("output limits must not be negative")
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("invalid logging.format %q (valid: text, json)", c.Logging.Format)
	}
	return nil
}

// FindWorkspaceRoot walks up from the working directory to the nearest
// directory holding a config file or a state directory.
func FindWorkspaceRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	originalDir := dir
	for {
		if _, err := os.Stat(filepath.Join(dir, FileName)); err == nil {
			return dir, nil
		}
		if _, err := os.Stat(filepath.Join(dir, StateDir)); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return originalDir, nil
}
