package capture

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskwarden/internal/domain"
	"deskwarden/internal/infra/config"
	"deskwarden/internal/usecase/power"
)

func newTestController(t *testing.T, backend *fakeBackend, interval time.Duration) *Controller {
	t.Helper()
	cfg := config.CaptureConfig{
		Sources:       []string{"screen:0", "window:40"},
		Interval:      interval,
		VisibilityTTL: time.Millisecond, // near-live enumeration in tests
		OutputDir:     t.TempDir(),
		UploadRate:    100,
		UploadBurst:   10,
	}
	cache := NewVisibilityCache(backend, cfg.VisibilityTTL, testLogger())
	// Backend reports stopped, so ticks capture but skip the upload leg.
	uploader := NewUploader(cfg, &stubProvider{status: domain.StateStopped}, nil, testLogger())
	ctl := NewController(cfg, backend, cache, uploader, nil, testLogger())
	t.Cleanup(func() {
		for ctl.Listeners() > 0 {
			ctl.Stop()
		}
	})
	return ctl
}

func waitForCaptures(t *testing.T, backend *fakeBackend, n int32) {
	t.Helper()
	require.Eventually(t, func() bool {
		return backend.captureCalls.Load() >= n
	}, 2*time.Second, 5*time.Millisecond)
}

func TestTickCapturesOnlyVisibleSources(t *testing.T) {
	backend := &fakeBackend{sources: desktopSources(), capturedIDs: make(chan string, 8)}
	ctl := newTestController(t, backend, time.Hour)

	require.NoError(t, ctl.tick(context.Background()))

	assert.Equal(t, int32(1), backend.captureCalls.Load())
	assert.Equal(t, "screen:0", <-backend.capturedIDs, "hidden window:40 skipped")
}

func TestStartRunsPeriodicCaptures(t *testing.T) {
	backend := &fakeBackend{sources: desktopSources()}
	ctl := newTestController(t, backend, 20*time.Millisecond)

	ctl.Start()
	assert.Equal(t, StateRunning, ctl.State())
	waitForCaptures(t, backend, 2)
}

func TestListenerRefcounting(t *testing.T) {
	backend := &fakeBackend{sources: desktopSources()}
	ctl := newTestController(t, backend, time.Hour)

	ctl.Start()
	ctl.Start()
	assert.Equal(t, 2, ctl.Listeners())

	ctl.Stop()
	assert.Equal(t, StateRunning, ctl.State(), "one listener remains")

	ctl.Stop()
	assert.Equal(t, StateStopped, ctl.State())
	assert.Zero(t, ctl.Listeners())
}

func TestPauseCancelsPendingTimer(t *testing.T) {
	backend := &fakeBackend{sources: desktopSources()}
	ctl := newTestController(t, backend, 20*time.Millisecond)

	ctl.Start()
	waitForCaptures(t, backend, 1)

	ctl.Pause()
	assert.Equal(t, StatePaused, ctl.State())

	settled := backend.captureCalls.Load()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, settled, backend.captureCalls.Load(), "no captures while paused")
}

func TestResumeRestartsWithLastKnownInterval(t *testing.T) {
	backend := &fakeBackend{sources: desktopSources()}
	ctl := newTestController(t, backend, time.Hour)

	ctl.Start()
	ctl.UpdateInterval(20 * time.Millisecond)
	ctl.Pause()

	ctl.Resume()
	assert.Equal(t, StateRunning, ctl.State())
	assert.Equal(t, 20*time.Millisecond, ctl.Interval())
	waitForCaptures(t, backend, 1)
}

func TestResumeWithoutListenersStaysStopped(t *testing.T) {
	backend := &fakeBackend{sources: desktopSources()}
	ctl := newTestController(t, backend, time.Hour)

	ctl.Start()
	ctl.Pause()
	ctl.Stop() // explicit stop wins over the paused state

	assert.Equal(t, StateStopped, ctl.State())
	ctl.Resume()
	assert.Equal(t, StateStopped, ctl.State())
}

func TestResumeWhenNotPausedIsNoop(t *testing.T) {
	backend := &fakeBackend{sources: desktopSources()}
	ctl := newTestController(t, backend, time.Hour)

	ctl.Resume()
	assert.Equal(t, StateStopped, ctl.State())

	ctl.Start()
	ctl.Resume()
	assert.Equal(t, StateRunning, ctl.State())
}

func TestWirePowerPausesAndResumes(t *testing.T) {
	backend := &fakeBackend{sources: desktopSources()}
	ctl := newTestController(t, backend, time.Hour)
	pc := power.NewController(testLogger())

	detach := ctl.WirePower(pc)
	ctl.Start()

	pc.Dispatch(power.LockScreen)
	assert.Equal(t, StatePaused, ctl.State())

	pc.Dispatch(power.UnlockScreen)
	assert.Equal(t, StateRunning, ctl.State())

	detach()
	pc.Dispatch(power.Suspend)
	assert.Equal(t, StateRunning, ctl.State(), "detached controller ignores power events")
}
