package config

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateSupervisor(cfg, ve)
	validateHealth(cfg, ve)
	validateCapture(cfg, ve)
	validateMaintenance(cfg, ve)
	validateLogger(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateSupervisor(cfg *Config, ve *ValidationError) {
	if cfg.Supervisor.StartPort < 1 || cfg.Supervisor.StartPort > 65535 {
		ve.Add("supervisor.start_port must be in 1..65535, got %d", cfg.Supervisor.StartPort)
	}
	if cfg.Supervisor.PortAttempts < 1 {
		ve.Add("supervisor.port_attempts must be >= 1, got %d", cfg.Supervisor.PortAttempts)
	}
	if cfg.Supervisor.StartPort+cfg.Supervisor.PortAttempts > 65536 {
		ve.Add("supervisor port range %d..%d exceeds 65535",
			cfg.Supervisor.StartPort, cfg.Supervisor.StartPort+cfg.Supervisor.PortAttempts-1)
	}
	if cfg.Supervisor.ExecutableName == "" {
		ve.Add("supervisor.executable_name must not be empty")
	}
	if cfg.Supervisor.GracePeriod < 0 {
		ve.Add("supervisor.grace_period must not be negative")
	}
}

func validateHealth(cfg *Config, ve *ValidationError) {
	if !strings.HasPrefix(cfg.Health.Path, "/") {
		ve.Add("health.path must start with /, got %q", cfg.Health.Path)
	}
	if cfg.Health.MaxRetries < 1 {
		ve.Add("health.max_retries must be >= 1, got %d", cfg.Health.MaxRetries)
	}
	if cfg.Health.RequestTimeout <= 0 {
		ve.Add("health.request_timeout must be > 0")
	}
	if cfg.Health.RetryDelay < 0 {
		ve.Add("health.retry_delay must not be negative")
	}
}

func validateCapture(cfg *Config, ve *ValidationError) {
	if cfg.Capture.Interval <= 0 {
		ve.Add("capture.interval must be > 0")
	}
	if cfg.Capture.LockInterval < cfg.Capture.Interval {
		ve.Add("capture.lock_interval must be >= capture.interval")
	}
	if cfg.Capture.VisibilityTTL <= 0 {
		ve.Add("capture.visibility_ttl must be > 0")
	}
	w := cfg.Capture.Window
	if w.Enabled {
		if _, err := ParseClock(w.StartTime); err != nil {
			ve.Add("capture.window.start_time: %v", err)
		}
		if _, err := ParseClock(w.EndTime); err != nil {
			ve.Add("capture.window.end_time: %v", err)
		}
		for _, d := range w.Weekdays {
			if _, ok := weekdayNames[strings.ToLower(d)]; !ok {
				ve.Add("capture.window.weekdays: unknown day %q", d)
			}
		}
	}
}

func validateMaintenance(cfg *Config, ve *ValidationError) {
	if !cfg.Maintenance.Enabled {
		return
	}
	for name, spec := range map[string]string{
		"maintenance.health_recheck": cfg.Maintenance.HealthRecheck,
		"maintenance.orphan_sweep":   cfg.Maintenance.OrphanSweep,
	} {
		if spec == "" {
			ve.Add("%s must not be empty when maintenance is enabled", name)
		}
	}
}

func validateLogger(cfg *Config, ve *ValidationError) {
	switch strings.ToLower(cfg.Logger.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		ve.Add("logger.level must be one of debug/info/warn/error, got %q", cfg.Logger.Level)
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "text", "json":
	default:
		ve.Add("logger.format must be text or json, got %q", cfg.Logger.Format)
	}
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

// Weekdays converts the config day names to time.Weekday values.
func (w WindowConfig) ParsedWeekdays() []time.Weekday {
	out := make([]time.Weekday, 0, len(w.Weekdays))
	for _, d := range w.Weekdays {
		if wd, ok := weekdayNames[strings.ToLower(d)]; ok {
			out = append(out, wd)
		}
	}
	return out
}

// ParseClock parses "HH:MM" into minutes since midnight.
func ParseClock(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("want HH:MM, got %q", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("out of range clock value %q", s)
	}
	return h*60 + m, nil
}
