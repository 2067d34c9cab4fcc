// Command warden supervises the deskwarden AI backend process and drives the
// periodic screenshot-capture pipeline. It exposes a local WebSocket gateway
// that pushes lifecycle status to every connected UI surface and accepts
// power/lock events from the desktop shell.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"deskwarden/internal/adapter/gateway"
	"deskwarden/internal/adapter/screen"
	"deskwarden/internal/domain"
	"deskwarden/internal/infra/config"
	"deskwarden/internal/infra/logger"
	"deskwarden/internal/infra/tracer"
	"deskwarden/internal/usecase/capture"
	"deskwarden/internal/usecase/eventbus"
	"deskwarden/internal/usecase/maintenance"
	"deskwarden/internal/usecase/power"
	"deskwarden/internal/usecase/status"
	"deskwarden/internal/usecase/supervisor"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "warden: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfgPath := flag.String("config", "warden.yaml", "path to config file")
	passphrase := flag.String("passphrase", "", "passphrase for enc: config secrets")
	flag.Parse()

	// 1. Config
	var cfg *config.Config
	if _, err := os.Stat(*cfgPath); os.IsNotExist(err) {
		cfg = config.Default()
	} else {
		var err error
		cfg, err = config.Load(*cfgPath)
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	if *passphrase != "" {
		if err := config.DecryptSecrets(cfg, *passphrase); err != nil {
			return fmt.Errorf("config secrets: %w", err)
		}
	}

	// 2. Logger & tracer
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx := context.Background()
	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(ctx)

	// 3. Event bus & status broadcaster
	bus := eventbus.New(log)
	defer bus.Close()
	broadcaster := status.New(bus, log)

	// 4. Supervisor
	health := supervisor.NewHealthChecker(cfg.Health, log)
	sup := supervisor.New(cfg.Supervisor, health, supervisor.ExecLauncher{}, bus, broadcaster, log)

	// 5. Capture pipeline
	screenBackend := screen.NewExecBackend(log)
	cache := capture.NewVisibilityCache(screenBackend, cfg.Capture.VisibilityTTL, log)
	uploader := capture.NewUploader(cfg.Capture, sup, bus, log)
	capCtl := capture.NewController(cfg.Capture, screenBackend, cache, uploader, bus, log)

	// 6. Power controller: shell injects events through the gateway/bus.
	powerCtl := power.NewController(log)
	defer powerCtl.WireBus(bus)()
	defer capCtl.WirePower(powerCtl)()

	// 7. Graceful shutdown on SIGINT/SIGTERM.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 8. Gateway
	if cfg.Gateway.Enabled {
		gw := gateway.NewServer(bus, cfg.Gateway.Addr, log)
		registerRoutes(gw, cfg.Capture, broadcaster, capCtl, powerCtl)
		go func() {
			if err := gw.Start(ctx); err != nil {
				log.Error("gateway server error", "error", err)
			}
		}()
	}

	// 9. Maintenance
	if cfg.Maintenance.Enabled {
		sched := maintenance.NewScheduler(log)
		sched.RegisterAction(maintenance.ActionHealthRecheck, sup.VerifyHealth)
		sched.RegisterAction(maintenance.ActionOrphanSweep, func(ctx context.Context) error {
			return sup.SweepOrphans(ctx)
		})
		tasks := []maintenance.Task{
			{Name: "health-recheck", Schedule: cfg.Maintenance.HealthRecheck, Action: maintenance.ActionHealthRecheck},
			{Name: "orphan-sweep", Schedule: cfg.Maintenance.OrphanSweep, Action: maintenance.ActionOrphanSweep},
		}
		for _, task := range tasks {
			if err := sched.AddTask(task); err != nil {
				return fmt.Errorf("maintenance: %w", err)
			}
		}
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("maintenance: %w", err)
		}
		defer sched.Stop()
	}

	// 10. Start the backend.
	if err := sup.EnsureRunning(ctx); err != nil {
		// Not fatal for the shell: the UI received the Error push and a later
		// EnsureRunning may succeed. Fatal errors end the process.
		if domain.IsFatalStartupError(err) {
			return err
		}
		log.Error("backend startup failed", "error", err)
	}

	<-ctx.Done()
	log.Info("shutting down")

	capCtl.Stop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	sup.Stop(shutdownCtx)
	return nil
}

// registerRoutes wires the gateway's HTTP and RPC surface.
func registerRoutes(gw *gateway.Server, capCfg config.CaptureConfig, broadcaster *status.Broadcaster,
	capCtl *capture.Controller, powerCtl *power.Controller) {

	gw.RegisterHTTPRoute("/api/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(broadcaster.Snapshot())
	})

	gw.RegisterHandler("status.get", func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
		return json.Marshal(broadcaster.Snapshot())
	})

	gw.RegisterHandler("capture.start", func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
		capCtl.Start()
		return json.Marshal(map[string]string{"state": string(capCtl.State())})
	})

	gw.RegisterHandler("capture.stop", func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
		capCtl.Stop()
		return json.Marshal(map[string]string{"state": string(capCtl.State())})
	})

	gw.RegisterHandler("capture.set_interval", func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		var req struct {
			Interval string `json:"interval"`
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &req); err != nil {
				return nil, fmt.Errorf("capture.set_interval: %w", err)
			}
		}
		// An empty interval re-arms the slow cadence configured for the lock
		// screen; shells that keep capturing while locked call it that way.
		interval := capCfg.LockInterval
		if req.Interval != "" {
			parsed, err := time.ParseDuration(req.Interval)
			if err != nil || parsed <= 0 {
				return nil, fmt.Errorf("capture.set_interval: invalid interval %q", req.Interval)
			}
			interval = parsed
		}
		capCtl.UpdateInterval(interval)
		return json.Marshal(map[string]string{"interval": interval.String()})
	})

	gw.RegisterHandler("power.event", func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		var req struct {
			Kind string `json:"kind"`
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("power.event: %w", err)
		}
		powerCtl.Dispatch(power.EventKind(req.Kind))
		return json.Marshal(map[string]bool{"ok": true})
	})
}
