//go:build !windows

package taskexec

import (
	"fmt"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

func setupProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true, Pgid: 0}
}

// killProcessGroup signals the negated pgid so every process in the tree
// dies, not just the direct child (spec.md §4.7/§5). It returns the signal
// name sent, for the caller to log.
func killProcessGroup(pid int) string {
	syscall.Kill(-pid, syscall.SIGKILL)
	return signalName(syscall.SIGKILL)
}

// signalName returns e.g. "SIGKILL" for syscall.SIGKILL, falling back to
// the numeric value for signals the platform has no name for.
func signalName(s syscall.Signal) string {
	name := unix.SignalName(s)
	if name == "" {
		return fmt.Sprintf("%d", int(s))
	}
	return name
}
