// Package power fans OS power and session-lock signals out to interested
// features. The controller holds no opinion on whether a paused feature should
// actually restart. It only signals; each feature consults its own
// enable/listener state on the active edge.
package power

import (
	"context"
	"log/slog"
	"sync"

	"deskwarden/internal/domain"
)

// EventKind is one of the four power/session transitions.
type EventKind string

const (
	Suspend      EventKind = "suspend"
	Resume       EventKind = "resume"
	LockScreen   EventKind = "lock-screen"
	UnlockScreen EventKind = "unlock-screen"
)

// Callback is invoked on a power transition.
type Callback func()

type listener struct {
	id uint64
	fn Callback
}

// Controller is a typed publish/subscribe hub for power events. Subscribing
// returns an unsubscribe function so listeners can detach deterministically.
// Events are delivered only to listeners registered at dispatch time; a
// listener joining after a suspend does not receive that suspend.
type Controller struct {
	logger *slog.Logger

	mu       sync.Mutex
	nextID   uint64
	inactive []listener // fired on suspend / lock-screen
	active   []listener // fired on resume / unlock-screen
}

// NewController creates a power controller.
func NewController(logger *slog.Logger) *Controller {
	return &Controller{logger: logger}
}

// OnInactive registers a callback fired on suspend and lock-screen.
func (c *Controller) OnInactive(fn Callback) func() {
	return c.add(&c.inactive, fn)
}

// OnActive registers a callback fired on resume and unlock-screen.
func (c *Controller) OnActive(fn Callback) func() {
	return c.add(&c.active, fn)
}

func (c *Controller) add(list *[]listener, fn Callback) func() {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	*list = append(*list, listener{id: id, fn: fn})
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, l := range *list {
			if l.id == id {
				*list = append((*list)[:i], (*list)[i+1:]...)
				return
			}
		}
	}
}

// Dispatch delivers one power event to every currently-registered listener.
// Event sources (the desktop shell via the gateway, or an OS watcher) call
// this; past events are never replayed.
func (c *Controller) Dispatch(kind EventKind) {
	c.mu.Lock()
	var fire []listener
	switch kind {
	case Suspend, LockScreen:
		fire = append(fire, c.inactive...)
	case Resume, UnlockScreen:
		fire = append(fire, c.active...)
	default:
		c.mu.Unlock()
		c.logger.Warn("unknown power event", "kind", string(kind))
		return
	}
	c.mu.Unlock()

	c.logger.Debug("power event", "kind", string(kind), "listeners", len(fire))
	for _, l := range fire {
		l.fn()
	}
}

// WireBus subscribes the controller to power events published on the event
// bus, so external shells can inject lock/unlock/suspend/resume through the
// gateway. The returned function detaches all subscriptions.
func (c *Controller) WireBus(bus domain.EventBus) func() {
	routes := map[domain.EventType]EventKind{
		domain.EventPowerSuspend: Suspend,
		domain.EventPowerResume:  Resume,
		domain.EventScreenLocked: LockScreen,
		domain.EventScreenUnlock: UnlockScreen,
	}

	var unsubs []func()
	for eventType, kind := range routes {
		k := kind
		unsubs = append(unsubs, bus.Subscribe(eventType, func(context.Context, domain.Event) {
			c.Dispatch(k)
		}))
	}
	return func() {
		for _, off := range unsubs {
			off()
		}
	}
}
