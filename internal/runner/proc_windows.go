//go:build windows

package runner

import (
	"os"
	"os/exec"
)

func setupProcessGroup(cmd *exec.Cmd) {}

func peakRSS(state *os.ProcessState) uint64 { return 0 }
