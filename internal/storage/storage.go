// Package storage persists the last-known state of every sensor.
//
// The store is single-writer, multi-reader: poll cycles mutate records through
// Update, which runs a read-modify-write inside one transaction, while report
// generation only reads. Schema changes are applied by versioned migrations
// that rewrite the table without losing rows.
package storage

import (
	"context"
	"errors"

	"prtgalert/internal/models"
)

// ErrStore marks persistence failures (I/O, constraint violations).
var ErrStore = errors.New("store failure")

// UpdateFunc receives the current record (nil if the sensor is unknown) and
// returns the record to persist. Returning nil writes nothing; returning an
// error aborts the transaction.
type UpdateFunc func(existing *models.SensorRecord) (*models.SensorRecord, error)

// Writer is the mutation side of the store used by the poll cycle.
type Writer interface {
	Update(ctx context.Context, sensorID string, fn UpdateFunc) error
}

// Reader is the read-only view used by on-demand reports.
type Reader interface {
	Get(ctx context.Context, sensorID string) (*models.SensorRecord, error)
	Stats(ctx context.Context) (Stats, error)
	ListByStatus(ctx context.Context, status models.Status) ([]models.SensorRecord, error)
	// Summary reads the counts and the sensors in status from one snapshot.
	Summary(ctx context.Context, status models.Status) (Summary, error)
	Ping(ctx context.Context) error
}

// Summary is a consistent view of the counts and the sensors in one status.
type Summary struct {
	Stats
	Records []models.SensorRecord
}

// Stats are the headline counts of a status report.
type Stats struct {
	Total int
	Up    int
	Down  int
}
