//go:build !windows

package procutil

import (
	"os/exec"
	"syscall"
)

// detach starts helpers in their own process group so a terminal interrupt
// reaches only the orchestrator, which then stops them in order.
func detach(cmd *exec.Cmd) *exec.Cmd {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
	return cmd
}
