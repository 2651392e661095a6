//go:build !windows

package launcher

import (
	"os/exec"
	"syscall"
)

// setProcAttr makes the spawned runtime a process group leader so its
// entire tree can be killed together on teardown.
func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}

// terminateProcessGroup kills cmd's entire process group.
func terminateProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		if err != syscall.ESRCH {
			return err
		}
	}
	return nil
}
