//go:build windows

package mcp

import (
	"os"
	"os/exec"
)

func configureProcAttr(cmd *exec.Cmd) {}

// Windows has no SIGTERM for arbitrary processes.
func terminateProcess(p *os.Process) error {
	return p.Kill()
}

func killProcess(p *os.Process) error {
	return p.Kill()
}
