// Package detector compares each polled snapshot with the stored state of its
// sensor and decides whether it crossed the UP/DOWN boundary.
package detector

import (
	"time"

	"prtgalert/internal/downtime"
	"prtgalert/internal/models"
)

// Kind tags what an observation did to a sensor.
type Kind string

const (
	// Skipped: the sensor is paused; nothing was read or written.
	Skipped Kind = "skipped"
	// NewSensor: first sighting; stored with current == previous, never alerts.
	NewSensor Kind = "new"
	// NoChange: no UP/DOWN transition (the raw status may still have moved).
	NoChange Kind = "no_change"
	// Down: stored UP, observed DOWN.
	Down Kind = "down"
	// Recovered: stored DOWN, observed UP.
	Recovered Kind = "recovered"
)

// IsTransition reports whether the kind warrants a notification.
func (k Kind) IsTransition() bool {
	return k == Down || k == Recovered
}

// Decision is the outcome of evaluating one snapshot.
type Decision struct {
	Kind     Kind
	Snapshot models.Snapshot
	At       time.Time

	// StatusChanged is set when the raw status moved without being an
	// UP/DOWN transition (UP to OTHER, OTHER to DOWN, ...).
	StatusChanged bool
	// Previous is the stored status the snapshot was compared with.
	Previous models.Status
	// Record is what gets persisted; nil for Skipped.
	Record *models.SensorRecord

	// Recovered only.
	PriorDownTime *time.Time
	Downtime      downtime.Result
}

// Evaluate derives the next record for a sensor from its stored record
// (nil on first sighting) and a snapshot taken at now. It does no I/O.
func Evaluate(existing *models.SensorRecord, snap models.Snapshot, now time.Time) Decision {
	d := Decision{Snapshot: snap, At: now}

	if snap.Status.IsPaused() {
		d.Kind = Skipped
		return d
	}

	if existing == nil {
		d.Kind = NewSensor
		d.Previous = snap.Status
		d.Record = &models.SensorRecord{
			SensorID:       snap.SensorID,
			SensorName:     snap.SensorName,
			DeviceName:     snap.DeviceName,
			CurrentStatus:  snap.Status,
			PreviousStatus: snap.Status,
			LastChange:     now,
			CreatedAt:      now,
		}
		return d
	}

	stored := existing.CurrentStatus
	next := existing.Clone()
	next.SensorName = snap.SensorName
	next.DeviceName = snap.DeviceName
	next.PreviousStatus = stored
	next.CurrentStatus = snap.Status
	next.LastChange = now

	d.Previous = stored
	d.Record = next

	switch {
	case stored == models.StatusUp && snap.Status == models.StatusDown:
		d.Kind = Down
		down := now
		next.DownTime = &down

	case stored == models.StatusDown && snap.Status == models.StatusUp:
		d.Kind = Recovered
		d.PriorDownTime = existing.Clone().DownTime
		d.Downtime = downtime.Compute(existing.DownTime, now)
		up := now
		next.DownTime = nil
		next.UpTime = &up
		next.TotalDowntimeMinutes = d.Downtime.Minutes

	default:
		d.Kind = NoChange
		d.StatusChanged = stored != snap.Status
		// An outage that ended through an intermediate status must not leak
		// its down time into the next one.
		if snap.Status == models.StatusUp {
			next.DownTime = nil
		}
	}

	return d
}
