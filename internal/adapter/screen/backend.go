// Package screen abstracts OS capture-source enumeration and screenshot
// capture behind a backend interface, so the capture pipeline can run against
// X11/Wayland tooling in production and a fake in tests.
package screen

import (
	"context"

	"deskwarden/internal/domain"
)

// Backend enumerates capture sources and captures them.
type Backend interface {
	// ListSources returns a snapshot of the screens and windows currently
	// known to the OS, with visibility flags set.
	ListSources(ctx context.Context) ([]domain.CaptureSource, error)

	// Capture writes a screenshot of the given source under destDir and
	// returns the file path.
	Capture(ctx context.Context, source domain.CaptureSource, destDir string) (string, error)
}
