package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"

	"deskwarden/internal/domain"
)

// sweepPort finds and kills any process still listening on port. It is a
// best-effort cleanup for orphans the child handle lost track of; failures are
// reported but never fatal. Command invocations carry a timeout so a wedged
// lsof/netstat cannot hang the shutdown path.
func sweepPort(ctx context.Context, port int, timeout time.Duration, logger *slog.Logger) error {
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pids, err := portOwners(cmdCtx, port)
	if err != nil {
		return domain.NewSubSystemError("supervisor", "sweepPort",
			domain.ErrPortCleanup, fmt.Sprintf("port %d lookup: %v", port, err))
	}

	var failed []int
	for _, pid := range pids {
		if err := signalPID(pid); err != nil {
			logger.Warn("orphan kill failed", "port", port, "pid", pid, "error", err)
			failed = append(failed, pid)
			continue
		}
		logger.Info("killed orphan process on port", "port", port, "pid", pid)
	}
	if len(failed) > 0 {
		return domain.NewSubSystemError("supervisor", "sweepPort",
			domain.ErrPortCleanup, fmt.Sprintf("port %d: could not kill pids %v", port, failed))
	}
	return nil
}

// portOwners returns PIDs of processes listening on the given TCP port.
// Uses lsof on POSIX and netstat on Windows.
func portOwners(ctx context.Context, port int) ([]int, error) {
	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(ctx, "netstat", "-ano")
	} else {
		cmd = exec.CommandContext(ctx, "lsof", "-tiTCP:"+strconv.Itoa(port), "-sTCP:LISTEN")
	}

	out, err := cmd.Output()
	if err != nil {
		// lsof exits 1 when nothing matches; that is "no owners", not an error.
		if ee, ok := err.(*exec.ExitError); ok && runtime.GOOS != "windows" && ee.ExitCode() == 1 && len(out) == 0 {
			return nil, nil
		}
		return nil, err
	}

	if runtime.GOOS == "windows" {
		return parseNetstatPIDs(string(out), port), nil
	}
	return parseLsofPIDs(string(out)), nil
}

// parseNetstatPIDs extracts PIDs from Windows netstat output for a given port.
// Format: TCP  0.0.0.0:8000  0.0.0.0:0  LISTENING  <PID>
func parseNetstatPIDs(output string, port int) []int {
	var pids []int
	needle := fmt.Sprintf(":%d", port)
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if !strings.Contains(line, needle) || !strings.Contains(strings.ToUpper(line), "LISTENING") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 5 {
			if pid, err := strconv.Atoi(fields[len(fields)-1]); err == nil && pid > 0 {
				pids = append(pids, pid)
			}
		}
	}
	return pids
}

// parseLsofPIDs extracts PIDs from lsof -t output (one PID per line).
func parseLsofPIDs(output string) []int {
	var pids []int
	for _, p := range strings.Split(strings.TrimSpace(output), "\n") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if pid, err := strconv.Atoi(p); err == nil && pid > 0 {
			pids = append(pids, pid)
		}
	}
	return pids
}
