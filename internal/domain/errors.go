package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the supervisor and capture subsystems.
var (
	ErrNoPortAvailable    = fmt.Errorf("no available port in probed range")
	ErrExecutableNotFound = fmt.Errorf("backend executable not found")
	ErrHealthCheckFailed  = fmt.Errorf("backend health check failed")
	ErrProcessExitedEarly = fmt.Errorf("backend exited before becoming ready")
	ErrSignalDelivery     = fmt.Errorf("signal delivery failed")
	ErrPortCleanup        = fmt.Errorf("port cleanup failed")
	ErrEnumerationFailed  = fmt.Errorf("capture source enumeration failed")
	ErrCaptureFailed      = fmt.Errorf("screen capture failed")
	ErrUploadFailed       = fmt.Errorf("capture upload failed")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op        string // operation name (e.g., "Supervisor.Start")
	Err       error  // underlying sentinel or wrapped error
	Detail    string // human-readable detail
	SubSystem string // subsystem identifier (e.g., "supervisor", "capture")
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// NewSubSystemError creates a DomainError tagged with a subsystem.
func NewSubSystemError(subsystem, op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail, SubSystem: subsystem}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsFatalStartupError reports whether err should abort a start attempt rather
// than be retried by a later EnsureRunning call.
func IsFatalStartupError(err error) bool {
	return errors.Is(err, ErrNoPortAvailable) || errors.Is(err, ErrExecutableNotFound)
}
