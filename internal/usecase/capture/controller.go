package capture

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"deskwarden/internal/adapter/screen"
	"deskwarden/internal/domain"
	"deskwarden/internal/infra/config"
	"deskwarden/internal/usecase/poller"
	"deskwarden/internal/usecase/power"
)

// State is the capture feature's lifecycle state.
type State string

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
	StatePaused  State = "paused"
)

// Controller drives the periodic screenshot pipeline:
//
//	Stopped → Running  on user start
//	Running → Paused   on suspend/lock (timer torn down, no new captures)
//	Paused  → Running  on resume/unlock, only while listeners remain
//	any     → Stopped  on explicit user stop, regardless of power state
//
// UI surfaces are reference-counted: capture runs while at least one listener
// is registered.
type Controller struct {
	cfg      config.CaptureConfig
	backend  screen.Backend
	cache    *VisibilityCache
	uploader *Uploader
	bus      domain.EventBus
	logger   *slog.Logger

	mu        sync.Mutex
	state     State
	listeners int
	interval  time.Duration // last-known interval, reused on resume
	poll      *poller.Poller
}

// NewController creates a capture controller in the Stopped state.
func NewController(cfg config.CaptureConfig, backend screen.Backend, cache *VisibilityCache,
	uploader *Uploader, bus domain.EventBus, logger *slog.Logger) *Controller {
	return &Controller{
		cfg:      cfg,
		backend:  backend,
		cache:    cache,
		uploader: uploader,
		bus:      bus,
		logger:   logger,
		state:    StateStopped,
		interval: cfg.Interval,
	}
}

// State returns the current feature state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Listeners returns the current listener count.
func (c *Controller) Listeners() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listeners
}

// Start registers one listener and starts capturing if not already running.
func (c *Controller) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners++
	if c.state != StateStopped {
		return
	}
	c.startPollerLocked()
	c.state = StateRunning
	c.publish(domain.EventCaptureStarted)
	c.logger.Info("capture started", "interval", c.interval)
}

// Stop removes one listener; when none remain the feature stops entirely.
// Explicit stop always wins, including while Paused.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listeners > 0 {
		c.listeners--
	}
	if c.listeners > 0 || c.state == StateStopped {
		return
	}
	c.stopPollerLocked()
	c.state = StateStopped
	c.cache.ClearCache()
	c.publish(domain.EventCaptureStopped)
	c.logger.Info("capture stopped")
}

// Pause tears down the capture timer on suspend/lock. No new captures fire
// until Resume.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRunning {
		return
	}
	c.stopPollerLocked()
	c.state = StatePaused
	c.publish(domain.EventCapturePaused)
	c.logger.Info("capture paused")
}

// Resume restarts the capture timer with the last-known interval, but only if
// listeners still want it; the power controller signals, it does not decide.
func (c *Controller) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StatePaused || c.listeners == 0 {
		return
	}
	if c.poll != nil {
		// A timer is somehow already live; never stack a second one.
		return
	}
	c.startPollerLocked()
	c.state = StateRunning
	c.publish(domain.EventCaptureResumed)
	c.logger.Info("capture resumed", "interval", c.interval)
}

// UpdateInterval changes the capture period; a live poller picks it up on the
// next scheduled delay.
func (c *Controller) UpdateInterval(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interval = d
	if c.poll != nil {
		c.poll.UpdateInterval(d)
	}
}

// Interval returns the last-known capture period.
func (c *Controller) Interval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interval
}

// WirePower attaches the controller to power/lock signals. The returned
// function detaches both subscriptions.
func (c *Controller) WirePower(pc *power.Controller) func() {
	offInactive := pc.OnInactive(c.Pause)
	offActive := pc.OnActive(c.Resume)
	return func() {
		offInactive()
		offActive()
	}
}

func (c *Controller) startPollerLocked() {
	c.poll = poller.New("capture", c.tick, poller.Options{
		Interval:  c.interval,
		Immediate: false,
	}, c.logger)
	c.poll.Start()
}

func (c *Controller) stopPollerLocked() {
	if c.poll != nil {
		c.poll.Stop()
		c.poll = nil
	}
}

// tick is one capture pass: policy gate, visibility gate, capture, upload.
// Errors are returned to the poller boundary, which logs and reschedules.
func (c *Controller) tick(ctx context.Context) error {
	policy := PolicyFromConfig(c.cfg.Window)
	if !AllowsNow(policy, time.Now()) {
		return nil
	}

	visible := c.cache.CheckVisible(ctx, c.cfg.Sources)
	byID := make(map[string]domain.CaptureSource)
	for _, src := range c.cache.VisibleSources() {
		byID[src.ID] = src
	}

	for _, id := range c.cfg.Sources {
		if !visible[id] {
			continue
		}
		src, ok := byID[id]
		if !ok {
			// Fail-open path: no enumeration data, capture the bare ID.
			src = domain.CaptureSource{ID: id, Type: domain.SourceScreen, Visible: true}
		}

		path, err := c.backend.Capture(ctx, src, c.cfg.OutputDir)
		if err != nil {
			c.logger.Warn("capture failed", "source", id, "error", err)
			continue
		}

		record := domain.CaptureRecord{
			ID:         ulid.Make().String(),
			Path:       path,
			Window:     src.Name,
			App:        src.AppName,
			CreateTime: time.Now(),
		}
		if err := c.uploader.Upload(ctx, record); err != nil {
			c.logger.Warn("capture upload failed", "source", id, "error", err)
		}
	}
	return nil
}

func (c *Controller) publish(eventType domain.EventType) {
	if c.bus == nil {
		return
	}
	payload, _ := json.Marshal(map[string]any{
		"state":     string(c.state),
		"listeners": c.listeners,
	})
	c.bus.Publish(context.Background(), domain.Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Payload:   payload,
	})
}
