//go:build !windows

package supervisor

import (
	"os/exec"
	"syscall"
)

// setProcGroup puts the child in its own process group so signals reach
// grandchildren too.
func setProcGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// terminate delivers SIGTERM to the whole process group (negative PID).
func terminate(pid int) error {
	return syscall.Kill(-pid, syscall.SIGTERM)
}

// kill delivers SIGKILL to the whole process group.
func kill(pid int) error {
	return syscall.Kill(-pid, syscall.SIGKILL)
}

// signalPID force-kills a single process found by the port sweep.
func signalPID(pid int) error {
	return syscall.Kill(pid, syscall.SIGKILL)
}
