package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainErrorFormatting(t *testing.T) {
	err := NewSubSystemError("supervisor", "Supervisor.Start", ErrHealthCheckFailed, "port 8003")
	assert.Equal(t, "Supervisor.Start: port 8003: backend health check failed", err.Error())

	bare := NewDomainError("Supervisor.Stop", ErrSignalDelivery, "")
	assert.Equal(t, "Supervisor.Stop: signal delivery failed", bare.Error())
}

func TestDomainErrorUnwrapsToSentinel(t *testing.T) {
	err := NewSubSystemError("capture", "Uploader.Upload", ErrUploadFailed, "status 500")
	assert.ErrorIs(t, err, ErrUploadFailed)

	var de *DomainError
	assert.ErrorAs(t, err, &de)
	assert.Equal(t, "capture", de.SubSystem)
}

func TestWrapOp(t *testing.T) {
	assert.Nil(t, WrapOp("op", nil))

	err := WrapOp("resolveExecutable", ErrExecutableNotFound)
	assert.ErrorIs(t, err, ErrExecutableNotFound)
	assert.Contains(t, err.Error(), "resolveExecutable")
}

func TestIsFatalStartupError(t *testing.T) {
	assert.True(t, IsFatalStartupError(ErrNoPortAvailable))
	assert.True(t, IsFatalStartupError(WrapOp("start", ErrExecutableNotFound)))
	assert.False(t, IsFatalStartupError(ErrHealthCheckFailed))
	assert.False(t, IsFatalStartupError(errors.New("transient")))
	assert.False(t, IsFatalStartupError(nil))
}
