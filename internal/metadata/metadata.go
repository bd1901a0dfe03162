// Package metadata reads and writes the provenance header carried inside
// each captured JPEG: a capture timestamp, optional environmental readings
// and an optional GPS position.
package metadata

import "time"

const (
	// TimestampLayout is the human-readable second-precision capture time.
	TimestampLayout = "2006-01-02 15:04:05"
	// DayKeyLayout names the per-day storage buckets.
	DayKeyLayout = "20060102"

	exifTimestampLayout = "2006:01:02 15:04:05"
)

// Position is a decimal-degree coordinate.
type Position struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Metadata is what Extract recovers from a payload. Every field is
// optional and encodes to JSON null when absent.
type Metadata struct {
	CapturedAt *string `json:"captured_at"`
	Environment
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// CapturedTime parses CapturedAt in the local time zone.
func (m Metadata) CapturedTime() (time.Time, bool) {
	if m.CapturedAt == nil {
		return time.Time{}, false
	}
	return parseTimestamp(*m.CapturedAt)
}

// DayKey returns the YYYYMMDD bucket for the capture time, if known.
func (m Metadata) DayKey() (string, bool) {
	t, ok := m.CapturedTime()
	if !ok {
		return "", false
	}
	return t.Format(DayKeyLayout), true
}

// DayKeyOr returns DayKey, falling back to the day of now.
func (m Metadata) DayKeyOr(now time.Time) string {
	if day, ok := m.DayKey(); ok {
		return day
	}
	return now.Format(DayKeyLayout)
}

// Float returns a pointer to v, for building optional readings.
func Float(v float64) *float64 {
	return &v
}
