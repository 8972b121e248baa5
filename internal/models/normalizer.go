package models

import (
	"errors"
	"strings"
	"time"
)

// ErrInvalidTimestamp is returned when no supported layout matches.
var ErrInvalidTimestamp = errors.New("invalid timestamp format")

// SupportedTimestampFormats lists formats we attempt to parse. Stored rows may
// come from this program (RFC3339Nano), from SQLite's CURRENT_TIMESTAMP, from
// the sqlite driver's time binding, or from older naive ISO writers.
var SupportedTimestampFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// Normalize trims the display fields of a snapshot.
func (s *Snapshot) Normalize() {
	s.SensorID = strings.TrimSpace(s.SensorID)
	s.SensorName = strings.TrimSpace(s.SensorName)
	s.DeviceName = strings.TrimSpace(s.DeviceName)
}

// ParseTimestamp attempts to parse a timestamp string into time.Time.
// Layouts without a zone are read as local time.
func ParseTimestamp(ts string) (time.Time, error) {
	ts = strings.TrimSpace(ts)

	for _, format := range SupportedTimestampFormats {
		if t, err := time.ParseInLocation(format, ts, time.Local); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, ErrInvalidTimestamp
}

// StorageLayout is fixed width so stored timestamps sort lexicographically.
const StorageLayout = "2006-01-02T15:04:05.000000000Z"

// FormatTimestamp is the canonical on-disk representation.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(StorageLayout)
}

// DisplayLayout is how timestamps appear in alert and report text.
const DisplayLayout = "2006-01-02 15:04:05"

// FormatDisplay renders t in local time for humans.
func FormatDisplay(t time.Time) string {
	return t.Local().Format(DisplayLayout)
}
