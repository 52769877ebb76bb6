//go:build unix

package sweep

import (
	"os/exec"
	"syscall"
)

// killProcessGroup runs the trial in its own process group so cancellation
// also stops anything the program spawned.
func killProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
