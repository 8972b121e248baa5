package models

import (
	"errors"
	"time"
)

// Status is the raw PRTG status code of a sensor (the status_raw column).
type Status int

// PRTG status_raw codes that matter for alerting.
const (
	StatusUp     Status = 3
	StatusDown   Status = 5
	StatusPaused Status = 7
)

// pausedStatuses lists every PRTG code that means "paused" (by user,
// dependency, schedule, until, license).
var pausedStatuses = map[Status]struct{}{
	7:  {},
	8:  {},
	9:  {},
	11: {},
	12: {},
}

// StatusKind groups raw codes into the four classes the detector cares about.
type StatusKind string

const (
	KindUp     StatusKind = "UP"
	KindDown   StatusKind = "DOWN"
	KindPaused StatusKind = "PAUSED"
	KindOther  StatusKind = "OTHER"
)

// Kind classifies the raw code.
func (s Status) Kind() StatusKind {
	switch {
	case s == StatusUp:
		return KindUp
	case s == StatusDown:
		return KindDown
	case s.IsPaused():
		return KindPaused
	default:
		return KindOther
	}
}

// IsPaused reports whether the code is one of the paused variants.
func (s Status) IsPaused() bool {
	_, ok := pausedStatuses[s]
	return ok
}

func (s Status) String() string {
	return string(s.Kind())
}

// Severity represents alert severity levels
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// IsValid checks if the severity level is valid
func (s Severity) IsValid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return true
	default:
		return false
	}
}

// Snapshot is one sensor row as reported by the monitoring server on a poll.
type Snapshot struct {
	SensorID   string `json:"sensor_id"`
	SensorName string `json:"sensor_name"`
	DeviceName string `json:"device_name"`
	Status     Status `json:"status_raw"`
}

// Validation errors
var (
	ErrEmptySensorID = errors.New("sensor ID cannot be empty")
)

// Validate checks that the snapshot can be keyed in the store.
func (s *Snapshot) Validate() error {
	if s.SensorID == "" {
		return ErrEmptySensorID
	}
	return nil
}

// SensorRecord is the persisted last-known state of one sensor.
type SensorRecord struct {
	SensorID       string `json:"sensor_id"`
	SensorName     string `json:"sensor_name"`
	DeviceName     string `json:"device_name"`
	CurrentStatus  Status `json:"current_status"`
	PreviousStatus Status `json:"previous_status"`

	LastChange time.Time `json:"last_change"`
	// DownTime is set while the sensor is down and its outage has not been
	// reconciled by a recovery.
	DownTime *time.Time `json:"down_time,omitempty"`
	UpTime   *time.Time `json:"up_time,omitempty"`

	TotalDowntimeMinutes int       `json:"total_downtime_minutes"`
	CreatedAt            time.Time `json:"created_at"`
}

// Clone returns a deep copy so callers can mutate without aliasing time pointers.
func (r *SensorRecord) Clone() *SensorRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.DownTime != nil {
		t := *r.DownTime
		c.DownTime = &t
	}
	if r.UpTime != nil {
		t := *r.UpTime
		c.UpTime = &t
	}
	return &c
}
