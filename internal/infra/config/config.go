package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Supervisor  SupervisorConfig  `yaml:"supervisor"`
	Health      HealthConfig      `yaml:"health"`
	Capture     CaptureConfig     `yaml:"capture"`
	Gateway     GatewayConfig     `yaml:"gateway"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Logger      LoggerConfig      `yaml:"logger"`
	Tracer      TracerConfig      `yaml:"tracer"`
}

// SupervisorConfig holds backend process supervision settings.
type SupervisorConfig struct {
	ExecutableName  string        `yaml:"executable_name"`  // backend binary name (default "deskwarden-backend")
	SearchPaths     []string      `yaml:"search_paths"`     // ordered candidate directories; defaults cover dev and packaged layouts
	ConfigArg       string        `yaml:"config_arg"`       // --config value passed to the backend (default "config/config.yaml")
	DataDir         string        `yaml:"data_dir"`         // exported to the child as DESKWARDEN_CONTEXT_PATH
	StartPort       int           `yaml:"start_port"`       // first port probed (default 8000)
	PortAttempts    int           `yaml:"port_attempts"`    // ports probed before giving up (default 10)
	ReadyMarkers    []string      `yaml:"ready_markers"`    // stdout/stderr substrings that signal readiness
	ReadyTimeout    time.Duration `yaml:"ready_timeout"`    // marker wait before the fallback health check (default 30s)
	SettleDelay     time.Duration `yaml:"settle_delay"`     // pause between marker match and confirming health check (default 500ms)
	GracePeriod     time.Duration `yaml:"grace_period"`     // wait after SIGTERM before SIGKILL (default 5s)
	SweepTimeout    time.Duration `yaml:"sweep_timeout"`    // per-command timeout for the orphan port sweep (default 3s)
	ShowDialogs     bool          `yaml:"show_dialogs"`     // packaged builds surface startup failures to the user
}

// HealthConfig holds health check settings.
type HealthConfig struct {
	Path           string        `yaml:"path"`            // endpoint path (default "/api/health")
	RequestTimeout time.Duration `yaml:"request_timeout"` // per-request timeout (default 5s)
	MaxRetries     int           `yaml:"max_retries"`     // bounded attempts (default 20)
	RetryDelay     time.Duration `yaml:"retry_delay"`     // fixed inter-attempt delay (default 1500ms)
}

// CaptureConfig holds screenshot capture settings.
type CaptureConfig struct {
	Sources       []string      `yaml:"sources"`        // capture source IDs (default ["screen:0"])
	Interval      time.Duration `yaml:"interval"`       // capture tick period (default 30s)
	LockInterval  time.Duration `yaml:"lock_interval"`  // widened period applied while locked (default 5m)
	VisibilityTTL time.Duration `yaml:"visibility_ttl"` // visibility cache TTL (default 2s)
	OutputDir     string        `yaml:"output_dir"`     // where screenshots land before upload
	UploadToken   string        `yaml:"upload_token"`   // backend auth token; "enc:" prefix means encrypted
	UploadRate    float64       `yaml:"upload_rate"`    // uploads per second allowed after a resume burst (default 2)
	UploadBurst   int           `yaml:"upload_burst"`   // burst size for the upload limiter (default 4)
	Window        WindowConfig  `yaml:"window"`         // recording window policy
}

// WindowConfig is the on-disk shape of the recording window policy.
type WindowConfig struct {
	Enabled   bool     `yaml:"enabled"`
	StartTime string   `yaml:"start_time"` // "HH:MM"
	EndTime   string   `yaml:"end_time"`   // "HH:MM"
	Weekdays  []string `yaml:"weekdays"`   // "mon".."sun"; empty means every day
}

// GatewayConfig holds the local UI push gateway settings.
type GatewayConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"` // default "127.0.0.1:0"
}

// MaintenanceConfig holds recurring maintenance task settings.
type MaintenanceConfig struct {
	Enabled        bool   `yaml:"enabled"`
	HealthRecheck  string `yaml:"health_recheck"`  // cron expression or duration (default "1m")
	OrphanSweep    string `yaml:"orphan_sweep"`    // cron expression or duration (default "30m")
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // text|json
	Output string `yaml:"output"` // stdout|stderr|<file path>
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // stdout|noop
}

// Load reads, parses, and validates the config file at path, applying defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a config with all defaults applied, used when no file exists.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Supervisor.ExecutableName == "" {
		cfg.Supervisor.ExecutableName = "deskwarden-backend"
	}
	if len(cfg.Supervisor.SearchPaths) == 0 {
		cfg.Supervisor.SearchPaths = []string{
			"backend/bin",
			"resources/backend",
			"resources/app/backend",
			"/opt/deskwarden/backend",
		}
	}
	if cfg.Supervisor.ConfigArg == "" {
		cfg.Supervisor.ConfigArg = "config/config.yaml"
	}
	if cfg.Supervisor.StartPort == 0 {
		cfg.Supervisor.StartPort = 8000
	}
	if cfg.Supervisor.PortAttempts == 0 {
		cfg.Supervisor.PortAttempts = 10
	}
	if len(cfg.Supervisor.ReadyMarkers) == 0 {
		cfg.Supervisor.ReadyMarkers = []string{
			"Uvicorn running on",
			"Application startup complete",
			"server started",
		}
	}
	if cfg.Supervisor.ReadyTimeout == 0 {
		cfg.Supervisor.ReadyTimeout = 30 * time.Second
	}
	if cfg.Supervisor.SettleDelay == 0 {
		cfg.Supervisor.SettleDelay = 500 * time.Millisecond
	}
	if cfg.Supervisor.GracePeriod == 0 {
		cfg.Supervisor.GracePeriod = 5 * time.Second
	}
	if cfg.Supervisor.SweepTimeout == 0 {
		cfg.Supervisor.SweepTimeout = 3 * time.Second
	}
	if cfg.Health.Path == "" {
		cfg.Health.Path = "/api/health"
	}
	if cfg.Health.RequestTimeout == 0 {
		cfg.Health.RequestTimeout = 5 * time.Second
	}
	if cfg.Health.MaxRetries == 0 {
		cfg.Health.MaxRetries = 20
	}
	if cfg.Health.RetryDelay == 0 {
		cfg.Health.RetryDelay = 1500 * time.Millisecond
	}
	if len(cfg.Capture.Sources) == 0 {
		cfg.Capture.Sources = []string{"screen:0"}
	}
	if cfg.Capture.Interval == 0 {
		cfg.Capture.Interval = 30 * time.Second
	}
	if cfg.Capture.LockInterval == 0 {
		cfg.Capture.LockInterval = 5 * time.Minute
	}
	if cfg.Capture.VisibilityTTL == 0 {
		cfg.Capture.VisibilityTTL = 2 * time.Second
	}
	if cfg.Capture.OutputDir == "" {
		cfg.Capture.OutputDir = "captures"
	}
	if cfg.Capture.UploadRate == 0 {
		cfg.Capture.UploadRate = 2
	}
	if cfg.Capture.UploadBurst == 0 {
		cfg.Capture.UploadBurst = 4
	}
	if cfg.Gateway.Addr == "" {
		cfg.Gateway.Addr = "127.0.0.1:0"
	}
	if cfg.Maintenance.HealthRecheck == "" {
		cfg.Maintenance.HealthRecheck = "1m"
	}
	if cfg.Maintenance.OrphanSweep == "" {
		cfg.Maintenance.OrphanSweep = "30m"
	}
	if cfg.Logger.Level == "" {
		cfg.Logger.Level = "info"
	}
	if cfg.Logger.Format == "" {
		cfg.Logger.Format = "text"
	}
	if cfg.Logger.Output == "" {
		cfg.Logger.Output = "stderr"
	}
}

// DecryptSecrets resolves "enc:"-prefixed values in cfg using passphrase.
func DecryptSecrets(cfg *Config, passphrase string) error {
	if strings.HasPrefix(cfg.Capture.UploadToken, "enc:") {
		plain, err := DecryptValue(strings.TrimPrefix(cfg.Capture.UploadToken, "enc:"), passphrase)
		if err != nil {
			return fmt.Errorf("capture upload token: %w", err)
		}
		cfg.Capture.UploadToken = plain
	}
	return nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	key := deriveKey(passphrase, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	// Format: hex(salt) + ":" + hex(nonce+ciphertext)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptValue decrypts an AES-256-GCM encrypted value.
func DecryptValue(encrypted, passphrase string) (string, error) {
	parts := strings.SplitN(encrypted, ":", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid encrypted format")
	}

	salt, err := hex.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}

	data, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	key := deriveKey(passphrase, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create gcm: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}

	return string(plaintext), nil
}

// deriveKey uses Argon2id to derive a 32-byte key from passphrase + salt.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}
