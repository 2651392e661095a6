//go:build windows

package launcher

import (
	"os/exec"
	"syscall"
)

// setProcAttr creates a new process group for the spawned runtime.
func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}

// terminateProcessGroup kills the spawned runtime process.
func terminateProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Kill(); err != nil {
		if err.Error() != "os: process already finished" {
			return err
		}
	}
	return nil
}
