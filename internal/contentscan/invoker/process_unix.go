//go:build unix

package invoker

import (
	"os/exec"
	"syscall"
)

// configureProcess starts the scanner in its own process group so that
// cancellation also reaches any children it forked.
func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
