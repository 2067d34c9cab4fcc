package capture

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"deskwarden/internal/domain"
	"deskwarden/internal/infra/config"
)

// PortProvider reports where the backend is reachable and whether it is
// confirmed running. The supervisor satisfies this.
type PortProvider interface {
	Port() int
	Status() domain.SupervisorState
}

// Uploader hands captured records to the backend. Requests are rate-limited so
// a burst of queued captures after a resume cannot flood the backend.
type Uploader struct {
	client  *http.Client
	backend PortProvider
	token   string
	limiter *rate.Limiter
	bus     domain.EventBus
	logger  *slog.Logger
}

// NewUploader creates an uploader from config.
func NewUploader(cfg config.CaptureConfig, backend PortProvider, bus domain.EventBus, logger *slog.Logger) *Uploader {
	return &Uploader{
		client:  &http.Client{Timeout: 10 * time.Second},
		backend: backend,
		token:   cfg.UploadToken,
		limiter: rate.NewLimiter(rate.Limit(cfg.UploadRate), cfg.UploadBurst),
		bus:     bus,
		logger:  logger,
	}
}

// Upload posts one capture record to the running backend. Uploads are skipped
// while the backend is not confirmed running; failures are surfaced to the
// caller, which logs and moves on (an upload is never worth failing a tick).
func (u *Uploader) Upload(ctx context.Context, record domain.CaptureRecord) error {
	if u.backend.Status() != domain.StateRunning {
		return domain.NewSubSystemError("capture", "Uploader.Upload",
			domain.ErrUploadFailed, "backend not running")
	}

	if err := u.limiter.Wait(ctx); err != nil {
		return domain.WrapOp("Uploader.Upload", err)
	}

	body, err := json.Marshal(record)
	if err != nil {
		return domain.WrapOp("Uploader.Upload", err)
	}

	url := fmt.Sprintf("http://127.0.0.1:%d/api/v1/screenshot", u.backend.Port())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return domain.WrapOp("Uploader.Upload", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if u.token != "" {
		req.Header.Set("Authorization", "Bearer "+u.token)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return domain.NewSubSystemError("capture", "Uploader.Upload",
			domain.ErrUploadFailed, err.Error())
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return domain.NewSubSystemError("capture", "Uploader.Upload",
			domain.ErrUploadFailed, fmt.Sprintf("status %d", resp.StatusCode))
	}

	if u.bus != nil {
		payload, _ := json.Marshal(record)
		u.bus.Publish(ctx, domain.Event{
			Type:      domain.EventCaptureUploaded,
			Timestamp: time.Now(),
			Payload:   payload,
		})
	}
	return nil
}
