package status

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"deskwarden/internal/domain"
)

// Broadcaster holds the current backend lifecycle state and pushes every
// transition to all UI surfaces via the event bus (the gateway forwards bus
// events to each connected client). Calling SetStatus repeatedly with the same
// status is safe; it re-broadcasts with no other side effects.
type Broadcaster struct {
	bus    domain.EventBus
	logger *slog.Logger

	mu     sync.Mutex
	status domain.SupervisorState
	port   int
}

// New creates a Broadcaster starting in the Stopped state.
func New(bus domain.EventBus, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		bus:    bus,
		logger: logger,
		status: domain.StateStopped,
	}
}

// SetStatus records the new state and pushes a {status, port, timestamp} frame.
func (b *Broadcaster) SetStatus(status domain.SupervisorState, port int) {
	b.mu.Lock()
	b.status = status
	b.port = port
	b.mu.Unlock()

	frame := domain.StatusFrame{Status: status, Port: port, Timestamp: time.Now()}
	payload, _ := json.Marshal(frame)
	b.bus.Publish(context.Background(), domain.Event{
		Type:      domain.EventSupervisorStatus,
		Timestamp: frame.Timestamp,
		Payload:   payload,
	})
	b.logger.Debug("status broadcast", "status", status, "port", port)
}

// Status returns the latest recorded state.
func (b *Broadcaster) Status() domain.SupervisorState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// Port returns the latest recorded port.
func (b *Broadcaster) Port() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.port
}

// Snapshot returns the current frame for synchronous reads (e.g. /api/status).
func (b *Broadcaster) Snapshot() domain.StatusFrame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return domain.StatusFrame{Status: b.status, Port: b.port, Timestamp: time.Now()}
}
