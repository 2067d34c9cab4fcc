package supervisor

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"deskwarden/internal/domain"
	"deskwarden/internal/infra/config"
	"deskwarden/internal/infra/tracer"
)

// Supervisor owns the backend child process and its lifecycle state. All
// mutable state lives on this struct behind a mutex; external interaction goes
// through the public methods, which serialize concurrent start/stop requests.
type Supervisor struct {
	cfg      config.SupervisorConfig
	health   *HealthChecker
	launcher Launcher
	bus      domain.EventBus
	sink     domain.StatusSink
	logger   *slog.Logger

	// opMu serializes Start/Stop bodies so a stop-then-immediate-start cannot
	// interleave and leak the old process handle.
	opMu sync.Mutex

	mu           sync.Mutex
	state        domain.SupervisorState
	child        Child
	port         int
	failedChecks int
}

// healthFailLimit is how many consecutive failed rechecks mark a live child
// as unresponsive.
const healthFailLimit = 3

// New creates a Supervisor. sink may be nil when no UI surface is attached.
func New(cfg config.SupervisorConfig, health *HealthChecker, launcher Launcher,
	bus domain.EventBus, sink domain.StatusSink, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		cfg:      cfg,
		health:   health,
		launcher: launcher,
		bus:      bus,
		sink:     sink,
		logger:   logger,
		state:    domain.StateStopped,
	}
}

// Status returns the current lifecycle state.
func (s *Supervisor) Status() domain.SupervisorState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Port returns the port allocated to the backend, 0 when none is.
func (s *Supervisor) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// EnsureRunning makes the backend healthy: a healthy running child is a no-op,
// an unhealthy one is restarted, a missing one is started fresh.
func (s *Supervisor) EnsureRunning(ctx context.Context) error {
	s.mu.Lock()
	state, port := s.state, s.port
	s.mu.Unlock()

	switch state {
	case domain.StateStarting:
		return nil
	case domain.StateRunning:
		if err := s.health.Check(ctx, port); err == nil {
			return nil
		}
		s.logger.Warn("backend unhealthy, restarting", "port", port)
		s.Stop(ctx)
		return s.Start(ctx)
	default:
		return s.Start(ctx)
	}
}

// VerifyHealth probes a running backend through the breaker-guarded recheck.
// A hung backend never exits, so watching the process handle alone cannot
// notice it; after healthFailLimit consecutive failures the child is torn
// down and the state flips to Error. Anything but Running is a no-op.
func (s *Supervisor) VerifyHealth(ctx context.Context) error {
	s.mu.Lock()
	state, port := s.state, s.port
	s.mu.Unlock()
	if state != domain.StateRunning {
		return nil
	}

	err := s.health.Recheck(ctx, port)

	s.mu.Lock()
	if err == nil {
		recovered := s.failedChecks > 0
		s.failedChecks = 0
		s.mu.Unlock()
		if recovered {
			s.logger.Info("backend health recovered", "port", port)
			s.publish(domain.EventHealthRecovered, map[string]any{"port": port})
		}
		return nil
	}
	s.failedChecks++
	failures := s.failedChecks
	s.mu.Unlock()

	s.logger.Warn("backend failed health recheck",
		"port", port, "failures", failures, "error", err)
	if failures == 1 {
		s.publish(domain.EventHealthLost, map[string]any{"port": port, "error": err.Error()})
	}
	if failures >= healthFailLimit {
		s.failRunning(ctx, err)
	}
	return err
}

// failRunning tears down a child that is still alive but no longer answering
// health probes, leaving the supervisor in Error until the next EnsureRunning.
func (s *Supervisor) failRunning(ctx context.Context, cause error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.state != domain.StateRunning {
		s.mu.Unlock()
		return
	}
	child, port := s.child, s.port
	s.child = nil
	s.failedChecks = 0
	s.setStateLocked(domain.StateError)
	s.mu.Unlock()

	s.logger.Error("backend unresponsive, giving up", "port", port, "error", cause)
	if child != nil {
		s.shutdownChild(ctx, child, port, false)
	}
	s.broadcast()
}

// Start allocates a port, resolves and spawns the backend executable, waits
// for readiness, and transitions to Running. Start while starting or running
// is a no-op. Failures transition to Error and are returned to the caller.
func (s *Supervisor) Start(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	ctx, span := tracer.StartSpan(ctx, "supervisor.start")
	defer span.End()

	s.mu.Lock()
	if s.state == domain.StateStarting || s.state == domain.StateRunning {
		s.mu.Unlock()
		return nil
	}
	s.setStateLocked(domain.StateStarting)
	s.mu.Unlock()
	s.broadcast()

	port, err := FindAvailablePort(s.cfg.StartPort, s.cfg.PortAttempts)
	if err != nil {
		return s.failStartup(span, err)
	}
	span.SetAttributes(attribute.Int("backend.port", port))

	exePath, err := resolveExecutable(s.cfg.SearchPaths, s.cfg.ExecutableName)
	if err != nil {
		return s.failStartup(span, err)
	}

	child, err := s.launcher.Launch(LaunchSpec{
		ExePath: exePath,
		Port:    port,
		Config:  s.cfg.ConfigArg,
		Env:     map[string]string{"DESKWARDEN_CONTEXT_PATH": s.cfg.DataDir},
	})
	if err != nil {
		return s.failStartup(span, domain.WrapOp("Supervisor.Start", err))
	}
	s.logger.Info("backend spawned", "pid", child.PID(), "port", port, "exe", exePath)
	s.publish(domain.EventProcessSpawned, map[string]any{"pid": child.PID(), "port": port})

	if err := s.awaitReady(ctx, child, port); err != nil {
		s.teardownChild(ctx, child, port)
		return s.failStartup(span, err)
	}

	s.mu.Lock()
	if s.state != domain.StateStarting {
		// A concurrent stop won; do not resurrect the handle.
		s.mu.Unlock()
		s.teardownChild(ctx, child, port)
		return nil
	}
	s.child = child
	s.port = port
	s.failedChecks = 0
	s.setStateLocked(domain.StateRunning)
	s.mu.Unlock()
	s.broadcast()
	tracer.SetOK(span)

	go s.watch(child)
	return nil
}

// awaitReady scans the child's output for a readiness marker, confirming with
// one health check after a short settle delay. If no marker appears within the
// timeout window, a fallback health check is attempted before failing. Exit
// before readiness is a hard failure.
func (s *Supervisor) awaitReady(ctx context.Context, child Child, port int) error {
	deadline := time.NewTimer(s.cfg.ReadyTimeout)
	defer deadline.Stop()

	for {
		select {
		case line, ok := <-child.Output():
			if !ok {
				// Pipes closed; fall through to waiting on exit or timeout.
				select {
				case <-child.Done():
					return s.earlyExit(child)
				case <-deadline.C:
					return s.fallbackCheck(ctx, port)
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			if s.matchesMarker(line) {
				s.logger.Debug("readiness marker observed", "line", line)
				time.Sleep(s.cfg.SettleDelay)
				return s.health.WaitHealthy(ctx, port)
			}
		case <-child.Done():
			return s.earlyExit(child)
		case <-deadline.C:
			return s.fallbackCheck(ctx, port)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Supervisor) matchesMarker(line string) bool {
	for _, marker := range s.cfg.ReadyMarkers {
		if strings.Contains(line, marker) {
			return true
		}
	}
	return false
}

func (s *Supervisor) fallbackCheck(ctx context.Context, port int) error {
	s.logger.Warn("no readiness marker within timeout, falling back to health check",
		"timeout", s.cfg.ReadyTimeout)
	return s.health.WaitHealthy(ctx, port)
}

func (s *Supervisor) earlyExit(child Child) error {
	return domain.NewSubSystemError("supervisor", "Supervisor.Start",
		domain.ErrProcessExitedEarly,
		"exit error: "+errString(child.ExitErr()))
}

// failStartup converts a startup failure into the Error state and surfaces it.
func (s *Supervisor) failStartup(span trace.Span, err error) error {
	tracer.RecordError(span, err)
	s.mu.Lock()
	s.child = nil
	s.setStateLocked(domain.StateError)
	s.mu.Unlock()

	if s.cfg.ShowDialogs {
		// Packaged builds surface the failure on the UI push channel; dev
		// builds only log.
		s.publish(domain.EventSupervisorStatus, map[string]any{"error": err.Error()})
	}
	s.logger.Error("backend startup failed", "error", err)
	s.broadcast()
	return err
}

// watch transitions Running→Stopped when the child exits on its own. It does
// not restart the backend; a later EnsureRunning call may.
func (s *Supervisor) watch(child Child) {
	<-child.Done()

	s.mu.Lock()
	if s.child != child {
		s.mu.Unlock()
		return
	}
	s.child = nil
	s.setStateLocked(domain.StateStopped)
	pid := child.PID()
	s.mu.Unlock()

	s.logger.Info("backend exited", "pid", pid, "exit_error", errString(child.ExitErr()))
	s.publish(domain.EventProcessExited, map[string]any{"pid": pid})
	s.broadcast()
}

// Stop gracefully terminates the backend: termination signal to the process
// group, a grace window, then a forced kill, then a best-effort sweep of any
// process still bound to the port. Stop when already stopped is a no-op.
func (s *Supervisor) Stop(ctx context.Context) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	ctx, span := tracer.StartSpan(ctx, "supervisor.stop")
	defer span.End()

	child, port := s.detach()
	if child == nil {
		return
	}

	s.shutdownChild(ctx, child, port, true)
	s.broadcast()
}

// StopSync applies the same shutdown policy without awaiting the grace window.
// Used on process-exit paths that cannot block.
func (s *Supervisor) StopSync() {
	child, port := s.detach()
	if child == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SweepTimeout)
	defer cancel()
	s.shutdownChild(ctx, child, port, false)
	s.broadcast()
}

// detach removes the child handle under lock and marks the state Stopped, so
// the watch goroutine and a following Start see a clean slate.
func (s *Supervisor) detach() (Child, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	child := s.child
	if child == nil {
		return nil, 0
	}
	s.child = nil
	s.setStateLocked(domain.StateStopped)
	return child, s.port
}

func (s *Supervisor) shutdownChild(ctx context.Context, child Child, port int, grace bool) {
	if err := child.Terminate(); err != nil {
		// Non-fatal: fall through to the forced kill.
		s.logger.Warn("graceful signal failed", "pid", child.PID(), "error",
			domain.NewSubSystemError("supervisor", "Supervisor.Stop", domain.ErrSignalDelivery, err.Error()))
	}

	exited := false
	if grace {
		select {
		case <-child.Done():
			exited = true
		case <-time.After(s.cfg.GracePeriod):
		case <-ctx.Done():
		}
	}

	if !exited {
		if err := child.Kill(); err != nil {
			s.logger.Warn("forced kill failed", "pid", child.PID(), "error", err)
		}
		s.publish(domain.EventProcessKilled, map[string]any{"pid": child.PID()})
	}

	if err := sweepPort(ctx, port, s.cfg.SweepTimeout, s.logger); err != nil {
		// Leftover processes are a best-effort cleanup, not a correctness
		// requirement.
		s.logger.Warn("port sweep incomplete", "port", port, "error", err)
	}
}

// SweepOrphans kills any process still bound to the allocated port when no
// supervised child should own it. Used by periodic maintenance to catch
// backends the handle lost track of.
func (s *Supervisor) SweepOrphans(ctx context.Context) error {
	s.mu.Lock()
	child, port := s.child, s.port
	s.mu.Unlock()
	if child != nil || port == 0 {
		return nil
	}
	return sweepPort(ctx, port, s.cfg.SweepTimeout, s.logger)
}

// teardownChild stops a child that never reached Running.
func (s *Supervisor) teardownChild(ctx context.Context, child Child, port int) {
	select {
	case <-child.Done():
		// Already gone.
	default:
		s.shutdownChild(ctx, child, port, false)
	}
}

// setStateLocked transitions state, logging transitions the state machine
// does not allow. Callers hold s.mu.
func (s *Supervisor) setStateLocked(next domain.SupervisorState) {
	if s.state == next {
		return
	}
	if !s.state.CanTransition(next) {
		s.logger.Warn("unexpected state transition", "from", s.state, "to", next)
	}
	s.state = next
}

func (s *Supervisor) broadcast() {
	if s.sink == nil {
		return
	}
	s.mu.Lock()
	state, port := s.state, s.port
	s.mu.Unlock()
	s.sink.SetStatus(state, port)
}

func (s *Supervisor) publish(eventType domain.EventType, payload any) {
	if s.bus == nil {
		return
	}
	data, _ := json.Marshal(payload)
	s.bus.Publish(context.Background(), domain.Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Payload:   data,
	})
}

func errString(err error) string {
	if err == nil {
		return "none"
	}
	return err.Error()
}
