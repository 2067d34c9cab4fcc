// Package poller provides a drift-corrected recurring task runner.
//
// A plain fixed-delay loop drifts under variable task latency: each run starts
// interval+elapsed after the previous one. The Poller instead subtracts the
// previous run's execution time from the next delay, holding the wall-clock
// period at the target interval. Executions within one Poller are strictly
// sequential; the next run is scheduled only after the previous completes.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Task is one unit of recurring work. Errors are logged at the scheduling
// boundary; they never stop the loop.
type Task func(ctx context.Context) error

// Options configures a Poller.
type Options struct {
	Interval  time.Duration
	Immediate bool // run once right away instead of waiting a full interval
}

// Poller is a self-rescheduling timer with drift correction.
type Poller struct {
	name   string
	task   Task
	logger *slog.Logger

	mu        sync.Mutex
	interval  time.Duration
	immediate bool
	timer     *time.Timer
	running   bool
	stopped   bool
	cancel    context.CancelFunc
}

// New creates a Poller. Call Start to begin ticking.
func New(name string, task Task, opts Options, logger *slog.Logger) *Poller {
	return &Poller{
		name:      name,
		task:      task,
		logger:    logger,
		interval:  opts.Interval,
		immediate: opts.Immediate,
	}
}

// Start begins the schedule: the first run happens immediately or after one
// full interval, per Options.Immediate. Start on a started or stopped Poller
// is a no-op.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running || p.stopped {
		return
	}
	p.running = true

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	delay := p.interval
	if p.immediate {
		delay = 0
	}
	p.scheduleLocked(ctx, delay)
}

// Stop cancels the pending timer and prevents any further reschedule, even if
// a task is mid-flight (its result is discarded). Safe to call multiple times.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.stopped = true
	p.running = false
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	if p.cancel != nil {
		p.cancel()
	}
}

// UpdateInterval changes the period. It takes effect on the next scheduled
// delay, not retroactively on the pending one.
func (p *Poller) UpdateInterval(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.interval = d
}

// Interval returns the current period.
func (p *Poller) Interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interval
}

// scheduleLocked arms the timer for the next run. Callers hold p.mu.
func (p *Poller) scheduleLocked(ctx context.Context, delay time.Duration) {
	p.timer = time.AfterFunc(delay, func() { p.runOnce(ctx) })
}

func (p *Poller) runOnce(ctx context.Context) {
	start := time.Now()

	func() {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("poll task panicked", "poller", p.name, "panic", r)
			}
		}()
		if err := p.task(ctx); err != nil {
			p.logger.Warn("poll task failed", "poller", p.name, "error", err)
		}
	}()

	elapsed := time.Since(start)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped || !p.running {
		return
	}
	next := p.interval - elapsed
	if next < 0 {
		next = 0
	}
	p.scheduleLocked(ctx, next)
}
