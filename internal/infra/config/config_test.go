package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "warden.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultAppliesAllDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "deskwarden-backend", cfg.Supervisor.ExecutableName)
	assert.Equal(t, 8000, cfg.Supervisor.StartPort)
	assert.Equal(t, 10, cfg.Supervisor.PortAttempts)
	assert.Equal(t, 30*time.Second, cfg.Supervisor.ReadyTimeout)
	assert.Equal(t, 5*time.Second, cfg.Supervisor.GracePeriod)
	assert.Contains(t, cfg.Supervisor.ReadyMarkers, "Uvicorn running on")

	assert.Equal(t, "/api/health", cfg.Health.Path)
	assert.Equal(t, 20, cfg.Health.MaxRetries)
	assert.Equal(t, 1500*time.Millisecond, cfg.Health.RetryDelay)

	assert.Equal(t, []string{"screen:0"}, cfg.Capture.Sources)
	assert.Equal(t, 30*time.Second, cfg.Capture.Interval)
	assert.Equal(t, 2*time.Second, cfg.Capture.VisibilityTTL)

	assert.Equal(t, "1m", cfg.Maintenance.HealthRecheck)
	assert.Equal(t, "info", cfg.Logger.Level)

	require.NoError(t, Validate(cfg))
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
supervisor:
  executable_name: my-backend
  start_port: 9100
health:
  max_retries: 5
capture:
  interval: 10s
  lock_interval: 1m
  window:
    enabled: true
    start_time: "09:00"
    end_time: "17:00"
    weekdays: [mon, tue, wed]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "my-backend", cfg.Supervisor.ExecutableName)
	assert.Equal(t, 9100, cfg.Supervisor.StartPort)
	assert.Equal(t, 5, cfg.Health.MaxRetries)
	assert.Equal(t, 10*time.Second, cfg.Capture.Interval)
	assert.True(t, cfg.Capture.Window.Enabled)
	assert.Equal(t, []time.Weekday{time.Monday, time.Tuesday, time.Wednesday},
		cfg.Capture.Window.ParsedWeekdays())

	// Untouched sections keep their defaults.
	assert.Equal(t, "/api/health", cfg.Health.Path)
	assert.Equal(t, 10, cfg.Supervisor.PortAttempts)
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestLoadMalformedYAMLErrors(t *testing.T) {
	path := writeConfig(t, "supervisor: [not a map\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestEncryptDecryptRoundtrip(t *testing.T) {
	enc, err := EncryptValue("s3cret-token", "passphrase")
	require.NoError(t, err)
	assert.NotContains(t, enc, "s3cret-token")

	plain, err := DecryptValue(enc, "passphrase")
	require.NoError(t, err)
	assert.Equal(t, "s3cret-token", plain)
}

func TestDecryptWithWrongPassphraseFails(t *testing.T) {
	enc, err := EncryptValue("s3cret-token", "passphrase")
	require.NoError(t, err)

	_, err = DecryptValue(enc, "wrong")
	assert.Error(t, err)
}

func TestDecryptRejectsMalformedInput(t *testing.T) {
	for _, in := range []string{"", "no-separator", "zz:zz", "00ff:"} {
		_, err := DecryptValue(in, "passphrase")
		assert.Error(t, err, in)
	}
}

func TestDecryptSecretsResolvesEncPrefix(t *testing.T) {
	enc, err := EncryptValue("upload-token", "passphrase")
	require.NoError(t, err)

	cfg := Default()
	cfg.Capture.UploadToken = "enc:" + enc
	require.NoError(t, DecryptSecrets(cfg, "passphrase"))
	assert.Equal(t, "upload-token", cfg.Capture.UploadToken)
}

func TestDecryptSecretsLeavesPlainValues(t *testing.T) {
	cfg := Default()
	cfg.Capture.UploadToken = "plain-token"
	require.NoError(t, DecryptSecrets(cfg, "passphrase"))
	assert.Equal(t, "plain-token", cfg.Capture.UploadToken)
}
