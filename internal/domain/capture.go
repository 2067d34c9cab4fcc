package domain

import "time"

// SourceType distinguishes whole screens from individual windows.
type SourceType string

const (
	SourceScreen SourceType = "screen"
	SourceWindow SourceType = "window"
)

// CaptureSource identifies a screen or window eligible for capture.
// Instances are snapshots from OS enumeration; they carry no long-term identity.
type CaptureSource struct {
	ID      string     `json:"id"`
	Type    SourceType `json:"type"`
	Name    string     `json:"name"`
	AppName string     `json:"app_name,omitempty"`
	Visible bool       `json:"visible"`
}

// CaptureRecord is the handoff to the backend for one captured source.
type CaptureRecord struct {
	ID         string    `json:"id"`
	Path       string    `json:"path"`
	Window     string    `json:"window,omitempty"`
	App        string    `json:"app,omitempty"`
	CreateTime time.Time `json:"create_time"`
}

// RecordingWindowPolicy gates whether a capture tick may fire "now".
// It is a pure value recomputed each tick from current settings.
type RecordingWindowPolicy struct {
	Enabled   bool
	StartTime string         // "HH:MM", local time
	EndTime   string         // "HH:MM", local time; may be before StartTime (overnight)
	Weekdays  []time.Weekday // empty means every day
}
