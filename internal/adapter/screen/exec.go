package screen

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"deskwarden/internal/domain"
)

// ExecBackend shells out to desktop tooling: wmctrl for window enumeration and
// a configurable screenshot command (scrot by default). Commands run with a
// timeout so a wedged tool cannot stall a capture tick.
type ExecBackend struct {
	ListCmd    []string // default: wmctrl -lx
	CaptureCmd []string // default: scrot; "%s" placeholder receives the output path
	CmdTimeout time.Duration
	logger     *slog.Logger
}

// NewExecBackend creates a backend with default tooling.
func NewExecBackend(logger *slog.Logger) *ExecBackend {
	return &ExecBackend{
		ListCmd:    []string{"wmctrl", "-lx"},
		CaptureCmd: []string{"scrot", "%s"},
		CmdTimeout: 5 * time.Second,
		logger:     logger,
	}
}

// ListSources enumerates windows via wmctrl plus one synthetic whole-screen
// source, which is always visible.
func (b *ExecBackend) ListSources(ctx context.Context) ([]domain.CaptureSource, error) {
	cmdCtx, cancel := context.WithTimeout(ctx, b.CmdTimeout)
	defer cancel()

	out, err := exec.CommandContext(cmdCtx, b.ListCmd[0], b.ListCmd[1:]...).Output()
	if err != nil {
		return nil, domain.NewSubSystemError("screen", "ExecBackend.ListSources",
			domain.ErrEnumerationFailed, err.Error())
	}

	sources := []domain.CaptureSource{{
		ID:      "screen:0",
		Type:    domain.SourceScreen,
		Name:    "Entire Screen",
		Visible: true,
	}}
	sources = append(sources, parseWindowList(string(out))...)
	return sources, nil
}

// parseWindowList parses wmctrl -lx output:
//
//	0x03a00007  0 navigator.Firefox  host Mozilla Firefox
func parseWindowList(out string) []domain.CaptureSource {
	var sources []domain.CaptureSource
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 5 {
			continue
		}
		app := fields[2]
		if dot := strings.IndexByte(app, '.'); dot >= 0 {
			app = app[dot+1:]
		}
		sources = append(sources, domain.CaptureSource{
			ID:      "window:" + fields[0],
			Type:    domain.SourceWindow,
			Name:    strings.Join(fields[4:], " "),
			AppName: app,
			Visible: true,
		})
	}
	return sources
}

// Capture runs the screenshot command, writing to a ULID-named file in destDir.
func (b *ExecBackend) Capture(ctx context.Context, source domain.CaptureSource, destDir string) (string, error) {
	if err := os.MkdirAll(destDir, 0o700); err != nil {
		return "", domain.WrapOp("ExecBackend.Capture", err)
	}
	path := filepath.Join(destDir, ulid.Make().String()+".png")

	args := make([]string, 0, len(b.CaptureCmd)-1)
	for _, a := range b.CaptureCmd[1:] {
		if strings.Contains(a, "%s") {
			a = fmt.Sprintf(a, path)
		}
		args = append(args, a)
	}

	cmdCtx, cancel := context.WithTimeout(ctx, b.CmdTimeout)
	defer cancel()
	if out, err := exec.CommandContext(cmdCtx, b.CaptureCmd[0], args...).CombinedOutput(); err != nil {
		return "", domain.NewSubSystemError("screen", "ExecBackend.Capture",
			domain.ErrCaptureFailed, fmt.Sprintf("source %s: %v: %s", source.ID, err, out))
	}
	return path, nil
}
