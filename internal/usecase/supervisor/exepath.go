package supervisor

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"deskwarden/internal/domain"
)

// resolveExecutable probes the ordered candidate directories for the backend
// binary, covering the dev-tree layout and the packaged resource roots. All
// probed paths are reported on failure for diagnosability.
func resolveExecutable(searchPaths []string, name string) (string, error) {
	if runtime.GOOS == "windows" && !strings.HasSuffix(name, ".exe") {
		name += ".exe"
	}

	base := executableDir()
	var probed []string
	for _, dir := range searchPaths {
		candidate := filepath.Join(dir, name)
		if !filepath.IsAbs(candidate) {
			candidate = filepath.Join(base, candidate)
		}
		probed = append(probed, candidate)

		info, err := os.Stat(candidate)
		if err != nil || info.IsDir() {
			continue
		}
		if err := ensureExecutable(candidate, info.Mode()); err != nil {
			return "", domain.WrapOp("resolveExecutable", err)
		}
		return candidate, nil
	}

	return "", domain.NewSubSystemError("supervisor", "resolveExecutable",
		domain.ErrExecutableNotFound,
		fmt.Sprintf("%s not found; probed: %s", name, strings.Join(probed, ", ")))
}

// ensureExecutable repairs missing exec permission bits, which some packaging
// pipelines strip from bundled binaries.
func ensureExecutable(path string, mode os.FileMode) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	if mode.Perm()&0o111 != 0 {
		return nil
	}
	return os.Chmod(path, mode.Perm()|0o755)
}

// executableDir returns the directory holding the running binary, falling back
// to the working directory when that cannot be determined.
func executableDir() string {
	exe, err := os.Executable()
	if err != nil {
		wd, _ := os.Getwd()
		return wd
	}
	return filepath.Dir(exe)
}
