//go:build windows

package worker

import (
	"os/exec"
	"strconv"
	"syscall"
)

// setProcessGroup attaches the child to its own console process
// group; combined with KillProcessGroup's taskkill /T, this tears down
// the whole subprocess tree when the worker signals cancellation.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: 0x00000200} // CREATE_NEW_PROCESS_GROUP
}

// KillProcessGroup mirrors the teacher's Windows kill path: taskkill
// with /T to terminate the full process tree.
func KillProcessGroup(pid int) error {
	cmd := exec.Command("taskkill", "/F", "/T", "/PID", strconv.Itoa(pid))
	return cmd.Run()
}
