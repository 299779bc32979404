package taskexec

import "runtime"

// DefaultShell returns the platform's default shell and the flag used to
// run a single command string through it.
func DefaultShell() (shell, flag string) {
	if runtime.GOOS == "windows" {
		return "cmd.exe", "/C"
	}
	return "/bin/sh", "-c"
}
