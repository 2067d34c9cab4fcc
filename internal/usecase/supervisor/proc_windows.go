//go:build windows

package supervisor

import (
	"os"
	"os/exec"
	"strconv"
)

// setProcGroup is a no-op on Windows; there is no POSIX process group to join.
func setProcGroup(cmd *exec.Cmd) {}

// terminate has no graceful signal on Windows; the process is killed directly.
func terminate(pid int) error {
	return kill(pid)
}

func kill(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}

// signalPID force-kills a single process found by the port sweep via taskkill,
// which also takes down its child processes.
func signalPID(pid int) error {
	return exec.Command("taskkill", "/F", "/T", "/PID", strconv.Itoa(pid)).Run()
}
