package poller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recorder collects task invocation start times.
type recorder struct {
	mu     sync.Mutex
	starts []time.Time
	delay  time.Duration
	err    error
	panics bool
}

func (r *recorder) task(ctx context.Context) error {
	r.mu.Lock()
	r.starts = append(r.starts, time.Now())
	r.mu.Unlock()
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	if r.panics {
		panic("task exploded")
	}
	return r.err
}

func (r *recorder) startTimes() []time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]time.Time, len(r.starts))
	copy(out, r.starts)
	return out
}

func waitForRuns(t *testing.T, r *recorder, n int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if len(r.startTimes()) >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("only %d runs after %v, want %d", len(r.startTimes()), timeout, n)
}

func TestImmediateFirstRun(t *testing.T) {
	r := &recorder{}
	p := New("test", r.task, Options{Interval: time.Hour, Immediate: true}, testLogger())
	defer p.Stop()
	p.Start()

	waitForRuns(t, r, 1, time.Second)
}

func TestDelayedFirstRun(t *testing.T) {
	r := &recorder{}
	p := New("test", r.task, Options{Interval: 60 * time.Millisecond}, testLogger())
	defer p.Stop()

	before := time.Now()
	p.Start()
	waitForRuns(t, r, 1, time.Second)

	first := r.startTimes()[0]
	assert.GreaterOrEqual(t, first.Sub(before), 50*time.Millisecond,
		"first run should wait a full interval")
}

func TestDriftCorrection(t *testing.T) {
	// Task takes ~40ms with a 100ms interval: start-to-start spacing must be
	// ~interval, not interval+execution.
	r := &recorder{delay: 40 * time.Millisecond}
	p := New("test", r.task, Options{Interval: 100 * time.Millisecond, Immediate: true}, testLogger())
	defer p.Stop()
	p.Start()

	waitForRuns(t, r, 4, 3*time.Second)
	p.Stop()

	starts := r.startTimes()
	for i := 1; i < 4; i++ {
		gap := starts[i].Sub(starts[i-1])
		assert.GreaterOrEqual(t, gap, 90*time.Millisecond, "gap %d too short", i)
		assert.Less(t, gap, 135*time.Millisecond,
			"gap %d = %v suggests fixed-delay drift (interval+execution)", i, gap)
	}
}

func TestTaskErrorDoesNotStopLoop(t *testing.T) {
	r := &recorder{err: errors.New("tick failed")}
	p := New("test", r.task, Options{Interval: 20 * time.Millisecond, Immediate: true}, testLogger())
	defer p.Stop()
	p.Start()

	waitForRuns(t, r, 3, time.Second)
}

func TestTaskPanicDoesNotStopLoop(t *testing.T) {
	r := &recorder{panics: true}
	p := New("test", r.task, Options{Interval: 20 * time.Millisecond, Immediate: true}, testLogger())
	defer p.Stop()
	p.Start()

	waitForRuns(t, r, 3, time.Second)
}

func TestStopCancelsPendingTimer(t *testing.T) {
	r := &recorder{}
	p := New("test", r.task, Options{Interval: 50 * time.Millisecond}, testLogger())
	p.Start()
	p.Stop()

	time.Sleep(120 * time.Millisecond)
	assert.Empty(t, r.startTimes(), "no run should fire after Stop")
}

func TestStopDuringTaskPreventsReschedule(t *testing.T) {
	r := &recorder{delay: 60 * time.Millisecond}
	p := New("test", r.task, Options{Interval: 20 * time.Millisecond, Immediate: true}, testLogger())
	p.Start()

	time.Sleep(20 * time.Millisecond) // task is mid-flight
	p.Stop()
	time.Sleep(150 * time.Millisecond)

	require.Len(t, r.startTimes(), 1, "in-flight task must not reschedule after Stop")
}

func TestStopIsIdempotent(t *testing.T) {
	p := New("test", (&recorder{}).task, Options{Interval: time.Hour}, testLogger())
	p.Start()
	p.Stop()
	p.Stop()
	p.Stop()
}

func TestUpdateIntervalAppliesToNextDelay(t *testing.T) {
	r := &recorder{}
	p := New("test", r.task, Options{Interval: 200 * time.Millisecond, Immediate: true}, testLogger())
	defer p.Stop()
	p.Start()

	waitForRuns(t, r, 1, time.Second)
	p.UpdateInterval(30 * time.Millisecond)

	// The pending delay was computed from the old interval; the shortened one
	// applies from the next reschedule on.
	waitForRuns(t, r, 4, 2*time.Second)

	starts := r.startTimes()
	lastGap := starts[3].Sub(starts[2])
	assert.Less(t, lastGap, 100*time.Millisecond, "new interval should be in effect")
	assert.Equal(t, 30*time.Millisecond, p.Interval())
}

func TestStartAfterStopIsNoop(t *testing.T) {
	r := &recorder{}
	p := New("test", r.task, Options{Interval: 10 * time.Millisecond, Immediate: true}, testLogger())
	p.Stop()
	p.Start()

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, r.startTimes())
}
