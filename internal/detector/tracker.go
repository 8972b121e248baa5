package detector

import (
	"context"
	"fmt"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"

	"prtgalert/internal/logger"
	"prtgalert/internal/metrics"
	"prtgalert/internal/models"
	"prtgalert/internal/storage"
)

// Tracker applies snapshots to the store and reports committed decisions.
type Tracker struct {
	store storage.Writer
	clock clock.Clock
}

// NewTracker creates a tracker writing through store. A nil clock means
// wall-clock time.
func NewTracker(store storage.Writer, clk clock.Clock) *Tracker {
	if clk == nil {
		clk = clock.New()
	}
	return &Tracker{store: store, clock: clk}
}

// Observe evaluates one snapshot inside the store's read-modify-write. The
// decision is only returned once its record has been committed.
func (t *Tracker) Observe(ctx context.Context, snap models.Snapshot) (Decision, error) {
	snap.Normalize()
	if err := snap.Validate(); err != nil {
		return Decision{}, err
	}

	now := t.clock.Now().UTC()
	if snap.Status.IsPaused() {
		d := Evaluate(nil, snap, now)
		metrics.DecisionsTotal.WithLabelValues(string(d.Kind)).Inc()
		return d, nil
	}

	var d Decision
	err := t.store.Update(ctx, snap.SensorID, func(existing *models.SensorRecord) (*models.SensorRecord, error) {
		d = Evaluate(existing, snap, now)
		return d.Record, nil
	})
	if err != nil {
		return Decision{}, err
	}

	metrics.DecisionsTotal.WithLabelValues(string(d.Kind)).Inc()
	logDecision(d)
	return d, nil
}

// BatchResult summarizes one poll cycle's worth of observations.
type BatchResult struct {
	// Transitions are the committed Down and Recovered decisions, in input order.
	Transitions []Decision
	Observed    int
	New         int
	Skipped     int
	Failed      int
}

// ObserveBatch observes every snapshot independently. A sensor whose
// persistence fails is reported in the combined error and does not stop the
// others.
func (t *Tracker) ObserveBatch(ctx context.Context, snaps []models.Snapshot) (BatchResult, error) {
	var (
		res  BatchResult
		errs error
	)

	for _, snap := range snaps {
		if err := ctx.Err(); err != nil {
			errs = multierr.Append(errs, err)
			break
		}

		d, err := t.Observe(ctx, snap)
		if err != nil {
			res.Failed++
			log := logger.WithSensor("detector", snap.SensorID)
			log.Error().Err(err).Str("phase", "persist").Msg("failed to process sensor")
			errs = multierr.Append(errs, fmt.Errorf("sensor %q: %w", snap.SensorID, err))
			continue
		}

		res.Observed++
		switch d.Kind {
		case Skipped:
			res.Skipped++
		case NewSensor:
			res.New++
		case Down, Recovered:
			res.Transitions = append(res.Transitions, d)
		}
	}

	return res, errs
}

func logDecision(d Decision) {
	log := logger.WithSensor("detector", d.Snapshot.SensorID)
	switch d.Kind {
	case NewSensor:
		log.Info().
			Str("sensor", d.Snapshot.SensorName).
			Str("device", d.Snapshot.DeviceName).
			Int("status", int(d.Snapshot.Status)).
			Msg("new sensor added")
	case Down:
		log.Warn().
			Str("sensor", d.Snapshot.SensorName).
			Str("device", d.Snapshot.DeviceName).
			Time("down_time", d.At).
			Msg("sensor down")
	case Recovered:
		observeRecovery(d)
		log.Info().
			Str("sensor", d.Snapshot.SensorName).
			Str("device", d.Snapshot.DeviceName).
			Str("downtime", d.Downtime.Text).
			Msg("sensor recovered")
	case NoChange:
		if d.StatusChanged {
			log.Debug().
				Int("from", int(d.Previous)).
				Int("to", int(d.Snapshot.Status)).
				Msg("status changed outside UP/DOWN, not alerting")
		}
	}
}

// observeRecovery records the outage length when it was actually measured.
func observeRecovery(d Decision) {
	if !d.Downtime.Known {
		return
	}
	metrics.RecoveryDowntimeMinutes.Observe(float64(d.Downtime.Minutes))
}
