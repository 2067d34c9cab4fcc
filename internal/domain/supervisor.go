package domain

import "time"

// SupervisorState is the lifecycle state of the managed backend process.
//
// Valid transitions:
//
//	Stopped → Starting → {Running, Error}
//	Running → Stopped   (process exit or explicit stop)
//	Running → Error     (sustained health-recheck failure)
//	Error   → Starting  (retry)
type SupervisorState string

const (
	StateStopped  SupervisorState = "stopped"
	StateStarting SupervisorState = "starting"
	StateRunning  SupervisorState = "running"
	StateError    SupervisorState = "error"
)

// CanTransition reports whether moving from s to next is a legal transition.
func (s SupervisorState) CanTransition(next SupervisorState) bool {
	switch s {
	case StateStopped:
		return next == StateStarting
	case StateStarting:
		return next == StateRunning || next == StateError || next == StateStopped
	case StateRunning:
		return next == StateStopped || next == StateError
	case StateError:
		return next == StateStarting || next == StateStopped
	}
	return false
}

// StatusFrame is pushed to every UI surface on each state transition.
type StatusFrame struct {
	Status    SupervisorState `json:"status"`
	Port      int             `json:"port"`
	Timestamp time.Time       `json:"timestamp"`
}

// StatusSink receives supervisor state transitions.
type StatusSink interface {
	SetStatus(status SupervisorState, port int)
}
