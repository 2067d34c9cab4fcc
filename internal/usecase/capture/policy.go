package capture

import (
	"time"

	"deskwarden/internal/domain"
	"deskwarden/internal/infra/config"
)

// PolicyFromConfig builds the recording window policy value from settings.
// The policy is recomputed each tick so settings changes apply immediately.
func PolicyFromConfig(w config.WindowConfig) domain.RecordingWindowPolicy {
	return domain.RecordingWindowPolicy{
		Enabled:   w.Enabled,
		StartTime: w.StartTime,
		EndTime:   w.EndTime,
		Weekdays:  w.ParsedWeekdays(),
	}
}

// AllowsNow reports whether a capture tick may fire at the given time. A
// disabled policy allows everything. An end time at or before the start time
// denotes an overnight range (e.g. 22:00 to 06:00).
func AllowsNow(p domain.RecordingWindowPolicy, now time.Time) bool {
	if !p.Enabled {
		return true
	}

	if len(p.Weekdays) > 0 {
		match := false
		for _, d := range p.Weekdays {
			if now.Weekday() == d {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}

	start, err := config.ParseClock(p.StartTime)
	if err != nil {
		return true // malformed settings never block capture
	}
	end, err := config.ParseClock(p.EndTime)
	if err != nil {
		return true
	}

	minute := now.Hour()*60 + now.Minute()
	if start < end {
		return minute >= start && minute < end
	}
	// Overnight range wraps midnight.
	return minute >= start || minute < end
}
