package supervisor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"

	"deskwarden/internal/domain"
	"deskwarden/internal/infra/config"
)

// HealthChecker polls the backend's HTTP health endpoint.
//
// WaitHealthy performs bounded retries with a fixed inter-attempt delay (no
// exponential growth). Concurrent WaitHealthy calls for the same port share one
// in-flight loop and its outcome instead of each starting their own retry storm.
type HealthChecker struct {
	client     *http.Client
	path       string
	maxRetries int
	retryDelay time.Duration
	logger     *slog.Logger

	mu       sync.Mutex
	inflight map[int]*inflightCheck

	breaker *gobreaker.CircuitBreaker[struct{}]
}

type inflightCheck struct {
	done chan struct{}
	err  error
}

// NewHealthChecker creates a checker from config.
func NewHealthChecker(cfg config.HealthConfig, logger *slog.Logger) *HealthChecker {
	hc := &HealthChecker{
		client:     &http.Client{Timeout: cfg.RequestTimeout},
		path:       cfg.Path,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		logger:     logger,
		inflight:   make(map[int]*inflightCheck),
	}
	hc.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "backend-health",
		MaxRequests: 1, // one probe in half-open state
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("health breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	return hc
}

// Check performs a single probe: HTTP GET to the health endpoint, success is a
// 200 response. The per-request timeout comes from the underlying client.
func (hc *HealthChecker) Check(ctx context.Context, port int) error {
	url := fmt.Sprintf("http://127.0.0.1:%d%s", port, hc.path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("health request: %w", err)
	}

	resp, err := hc.client.Do(req)
	if err != nil {
		return fmt.Errorf("health probe: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health probe: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// WaitHealthy blocks until the backend answers the health endpoint or the retry
// budget is exhausted. The last attempt's error is surfaced on failure.
func (hc *HealthChecker) WaitHealthy(ctx context.Context, port int) error {
	hc.mu.Lock()
	if fl, ok := hc.inflight[port]; ok {
		hc.mu.Unlock()
		select {
		case <-fl.done:
			return fl.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	fl := &inflightCheck{done: make(chan struct{})}
	hc.inflight[port] = fl
	hc.mu.Unlock()

	err := hc.waitHealthy(ctx, port)

	hc.mu.Lock()
	delete(hc.inflight, port)
	hc.mu.Unlock()

	fl.err = err
	close(fl.done)
	return err
}

func (hc *HealthChecker) waitHealthy(ctx context.Context, port int) error {
	attempt := 0
	op := func() error {
		attempt++
		err := hc.Check(ctx, port)
		if err != nil {
			hc.logger.Debug("health attempt failed",
				"port", port, "attempt", attempt, "error", err)
		}
		return err
	}

	// maxRetries is the total attempt count; WithMaxRetries counts retries
	// after the first attempt.
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(hc.retryDelay), uint64(hc.maxRetries-1)),
		ctx,
	)
	if err := backoff.Retry(op, b); err != nil {
		return domain.NewSubSystemError("supervisor", "HealthChecker.WaitHealthy",
			domain.ErrHealthCheckFailed,
			fmt.Sprintf("port %d after %d attempts: %v", port, attempt, err))
	}
	return nil
}

// Recheck is a single breaker-guarded probe for an already-running backend.
// When the backend flaps, the open breaker fails fast instead of stacking
// probe timeouts.
func (hc *HealthChecker) Recheck(ctx context.Context, port int) error {
	_, err := hc.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, hc.Check(ctx, port)
	})
	return err
}
