//go:build windows

package taskexec

import (
	"os"
	"os/exec"
)

// Windows has no process groups; this kills only the direct child. The
// divergence from POSIX's whole-subtree kill is intentional and
// documented rather than silently degraded (spec.md design notes §9).
func setupProcessGroup(cmd *exec.Cmd) {}

func killProcessGroup(pid int) string {
	if p, err := os.FindProcess(pid); err == nil {
		p.Kill()
	}
	return "TerminateProcess"
}
