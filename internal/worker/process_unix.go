//go:build !windows

package worker

import (
	"os/exec"
	"syscall"
)

// setProcessGroup places the child in a new process group so a
// SIGTERM to -pid reaches the whole subprocess tree (ffmpeg
// post-processing children included).
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// KillProcessGroup sends SIGTERM to the process group rooted at pid.
func KillProcessGroup(pid int) error {
	return syscall.Kill(-pid, syscall.SIGTERM)
}
