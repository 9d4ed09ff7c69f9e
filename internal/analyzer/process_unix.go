//go:build !windows

package analyzer

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// setupProcessGroup starts the child as leader of a new process group
func setupProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}

// killProcessGroup kills the child and every descendant in its group
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	err := unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	// Ignore "no such process" errors as the group may have already exited
	if err == unix.ESRCH {
		return nil
	}
	return err
}
