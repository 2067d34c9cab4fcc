package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	// Supervisor lifecycle events.
	EventSupervisorStatus EventType = "supervisor.status"
	EventProcessSpawned   EventType = "process.spawned"
	EventProcessExited    EventType = "process.exited"
	EventProcessKilled    EventType = "process.killed"
	EventHealthRecovered  EventType = "health.recovered"
	EventHealthLost       EventType = "health.lost"

	// Power / session events, injected by the desktop shell.
	EventPowerSuspend  EventType = "power.suspend"
	EventPowerResume   EventType = "power.resume"
	EventScreenLocked  EventType = "power.lock-screen"
	EventScreenUnlock  EventType = "power.unlock-screen"

	// Capture pipeline events.
	EventCaptureStarted  EventType = "capture.started"
	EventCaptureStopped  EventType = "capture.stopped"
	EventCapturePaused   EventType = "capture.paused"
	EventCaptureResumed  EventType = "capture.resumed"
	EventCaptureUploaded EventType = "capture.uploaded"
)

// Event is the unit published on the event bus.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EventHandler processes a single event.
type EventHandler func(ctx context.Context, event Event)

// EventBus is the in-process publish/subscribe surface.
type EventBus interface {
	Publish(ctx context.Context, event Event)
	Subscribe(eventType EventType, handler EventHandler) func()
	SubscribeAll(handler EventHandler) func()
	Close()
}
