package testcase

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// BatteryVersion is the only YAML suite version understood.
const BatteryVersion = 1

// A battery is the YAML form of a suite:
//
//	version: 1
//	cases:
//	  - name: basic
//	    input: |
//	      3 4
//	    expected: "7"
type battery struct {
	Version int       `yaml:"version"`
	Cases   yaml.Node `yaml:"cases"`
}

type batteryCase struct {
	Name     string `yaml:"name"`
	Input    string `yaml:"input"`
	Expected string `yaml:"expected"`
}

// IsBattery reports whether path names a YAML suite.
func IsBattery(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// LoadFile reads the suite at path, choosing the YAML or block format by
// extension.
func LoadFile(path string) (Suite, error) {
	if !IsBattery(path) {
		return ParseFile(path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open test file: %w", err)
	}
	suite, err := ParseBattery(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return suite, nil
}

// ParseBattery decodes a YAML suite. Case names must be present and
// non-empty; input and expected text lose their trailing newlines the same
// way block-format lines do.
func ParseBattery(data []byte) (Suite, error) {
	var b battery
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("failed to parse battery YAML: %w", err)
	}
	if b.Version != 0 && b.Version != BatteryVersion {
		return nil, fmt.Errorf("unsupported battery version %d", b.Version)
	}
	if b.Cases.Kind == 0 {
		return nil, nil
	}
	if b.Cases.Kind != yaml.SequenceNode {
		return nil, &FormatError{Line: b.Cases.Line, Msg: "cases must be a list"}
	}

	suite := make(Suite, 0, len(b.Cases.Content))
	for _, item := range b.Cases.Content {
		var c batteryCase
		if err := item.Decode(&c); err != nil {
			return nil, &FormatError{Line: item.Line, Msg: err.Error()}
		}
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return nil, &FormatError{Line: item.Line, Msg: "test name must not be empty"}
		}
		suite = append(suite, TestCase{
			Name:     name,
			Input:    strings.TrimRight(c.Input, "\n"),
			Expected: strings.TrimRight(c.Expected, "\n"),
		})
	}
	return suite, nil
}
