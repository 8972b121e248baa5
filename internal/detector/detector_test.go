package detector

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	dto "github.com/prometheus/client_model/go"

	"prtgalert/internal/downtime"
	"prtgalert/internal/metrics"
	"prtgalert/internal/models"
	"prtgalert/internal/storage"
)

// memStore is an in-memory storage.Writer.
type memStore struct {
	mu      sync.Mutex
	records map[string]*models.SensorRecord
	fail    map[string]error
	writes  int
}

func newMemStore() *memStore {
	return &memStore{records: map[string]*models.SensorRecord{}, fail: map[string]error{}}
}

func (m *memStore) Update(ctx context.Context, id string, fn storage.UpdateFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail[id]; err != nil {
		return err
	}
	next, err := fn(m.records[id].Clone())
	if err != nil || next == nil {
		return err
	}
	m.records[id] = next.Clone()
	m.writes++
	return nil
}

func snap(id string, status models.Status) models.Snapshot {
	return models.Snapshot{SensorID: id, SensorName: "Ping", DeviceName: "gw", Status: status}
}

func TestEvaluate_FirstSightingNeverTransitions(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, status := range []models.Status{models.StatusUp, models.StatusDown, 4, 1} {
		d := Evaluate(nil, snap("1", status), now)
		if d.Kind != NewSensor {
			t.Errorf("status %d: kind = %s, want new", status, d.Kind)
		}
		if d.Record.CurrentStatus != status || d.Record.PreviousStatus != status {
			t.Errorf("status %d: current/previous = %d/%d", status, d.Record.CurrentStatus, d.Record.PreviousStatus)
		}
		if d.Record.DownTime != nil {
			t.Errorf("status %d: first sighting must not set down time", status)
		}
	}
}

func TestEvaluate_PausedIsSkipped(t *testing.T) {
	existing := &models.SensorRecord{SensorID: "1", CurrentStatus: models.StatusUp}
	for _, status := range []models.Status{7, 8, 9, 11, 12} {
		d := Evaluate(existing, snap("1", status), time.Now())
		if d.Kind != Skipped || d.Record != nil {
			t.Errorf("status %d: got kind=%s record=%v, want skipped with no record", status, d.Kind, d.Record)
		}
	}
}

func TestEvaluate_OnlyUpDownTransitionsAlert(t *testing.T) {
	statuses := []models.Status{models.StatusUp, models.StatusDown, 1, 4, 10}
	now := time.Now()

	for _, from := range statuses {
		for _, to := range statuses {
			existing := &models.SensorRecord{SensorID: "1", CurrentStatus: from}
			d := Evaluate(existing, snap("1", to), now)

			want := NoChange
			switch {
			case from == models.StatusUp && to == models.StatusDown:
				want = Down
			case from == models.StatusDown && to == models.StatusUp:
				want = Recovered
			}
			if d.Kind != want {
				t.Errorf("%d -> %d: kind = %s, want %s", from, to, d.Kind, want)
			}
			if d.Record.PreviousStatus != from {
				t.Errorf("%d -> %d: previous = %d, want stored %d", from, to, d.Record.PreviousStatus, from)
			}
			if d.Kind == NoChange && d.StatusChanged != (from != to) {
				t.Errorf("%d -> %d: StatusChanged = %v", from, to, d.StatusChanged)
			}
		}
	}
}

func TestEvaluate_RecoveryComputesDowntime(t *testing.T) {
	down := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	now := down.Add(125 * time.Second)
	existing := &models.SensorRecord{SensorID: "1", CurrentStatus: models.StatusDown, DownTime: &down}

	d := Evaluate(existing, snap("1", models.StatusUp), now)
	if d.Kind != Recovered {
		t.Fatalf("kind = %s, want recovered", d.Kind)
	}
	if d.Downtime.Text != "2 minutes" || d.Downtime.Minutes != 2 || d.Downtime.Impact != downtime.ImpactMinimal {
		t.Errorf("downtime = %+v", d.Downtime)
	}
	if d.PriorDownTime == nil || !d.PriorDownTime.Equal(down) {
		t.Errorf("prior down time = %v", d.PriorDownTime)
	}
	if d.Record.DownTime != nil {
		t.Error("down time must be cleared on recovery")
	}
	if d.Record.UpTime == nil || !d.Record.UpTime.Equal(now) {
		t.Errorf("up time = %v, want %v", d.Record.UpTime, now)
	}
	if d.Record.TotalDowntimeMinutes != 2 {
		t.Errorf("total downtime = %d, want 2", d.Record.TotalDowntimeMinutes)
	}
	if existing.DownTime == nil {
		t.Error("Evaluate must not mutate the stored record")
	}
}

func TestEvaluate_RecoveryWithoutDownTime(t *testing.T) {
	existing := &models.SensorRecord{SensorID: "1", CurrentStatus: models.StatusDown}
	d := Evaluate(existing, snap("1", models.StatusUp), time.Now())
	if d.Kind != Recovered {
		t.Fatalf("kind = %s, want recovered", d.Kind)
	}
	if d.Downtime.Tracked || d.Downtime.Text != downtime.TextNotTracked || d.Record.TotalDowntimeMinutes != 0 {
		t.Errorf("downtime = %+v total=%d", d.Downtime, d.Record.TotalDowntimeMinutes)
	}
}

func recoverySamples(t *testing.T) uint64 {
	t.Helper()
	m := &dto.Metric{}
	if err := metrics.RecoveryDowntimeMinutes.Write(m); err != nil {
		t.Fatalf("read histogram: %v", err)
	}
	return m.GetHistogram().GetSampleCount()
}

func TestObserveRecovery_OnlyMeasuredOutages(t *testing.T) {
	down := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	untracked := Evaluate(&models.SensorRecord{SensorID: "1", CurrentStatus: models.StatusDown}, snap("1", models.StatusUp), down)
	unknown := Evaluate(&models.SensorRecord{SensorID: "2", CurrentStatus: models.StatusDown, DownTime: &down}, snap("2", models.StatusUp), down.Add(-time.Minute))
	measured := Evaluate(&models.SensorRecord{SensorID: "3", CurrentStatus: models.StatusDown, DownTime: &down}, snap("3", models.StatusUp), down.Add(7*time.Minute))

	if unknown.Downtime.Known || unknown.Downtime.Text != downtime.TextUnknown {
		t.Fatalf("unknown downtime = %+v", unknown.Downtime)
	}

	before := recoverySamples(t)
	observeRecovery(untracked)
	observeRecovery(unknown)
	if got := recoverySamples(t); got != before {
		t.Errorf("untracked or unknown downtime was observed: %d -> %d", before, got)
	}

	observeRecovery(measured)
	if got := recoverySamples(t); got != before+1 {
		t.Errorf("measured downtime samples = %d, want %d", got, before+1)
	}
}

func TestEvaluate_IndirectRecoveryClearsDownTime(t *testing.T) {
	down := time.Now().Add(-time.Hour)
	existing := &models.SensorRecord{SensorID: "1", CurrentStatus: 4, DownTime: &down}

	d := Evaluate(existing, snap("1", models.StatusUp), time.Now())
	if d.Kind != NoChange {
		t.Fatalf("kind = %s, want no_change", d.Kind)
	}
	if d.Record.DownTime != nil {
		t.Error("stale down time must be cleared once the sensor is UP")
	}
}

func TestEvaluate_RefreshesNames(t *testing.T) {
	existing := &models.SensorRecord{SensorID: "1", SensorName: "old", DeviceName: "old", CurrentStatus: models.StatusUp}
	s := models.Snapshot{SensorID: "1", SensorName: "new", DeviceName: "dev", Status: models.StatusUp}
	d := Evaluate(existing, s, time.Now())
	if d.Record.SensorName != "new" || d.Record.DeviceName != "dev" {
		t.Errorf("names not refreshed: %+v", d.Record)
	}
}

func TestTracker_PausedNeverTouchesStore(t *testing.T) {
	store := newMemStore()
	tr := NewTracker(store, clock.NewMock())

	d, err := tr.Observe(context.Background(), snap("1", models.StatusPaused))
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if d.Kind != Skipped {
		t.Errorf("kind = %s, want skipped", d.Kind)
	}
	if store.writes != 0 || len(store.records) != 0 {
		t.Errorf("paused sensor was written: %+v", store.records)
	}
}

func TestTracker_RejectsEmptyID(t *testing.T) {
	tr := NewTracker(newMemStore(), clock.NewMock())
	if _, err := tr.Observe(context.Background(), snap("  ", models.StatusUp)); !errors.Is(err, models.ErrEmptySensorID) {
		t.Fatalf("expected ErrEmptySensorID, got %v", err)
	}
}

func TestTracker_NonUpDownSequencesNeverAlert(t *testing.T) {
	store := newMemStore()
	tr := NewTracker(store, clock.NewMock())
	ctx := context.Background()

	sequence := []models.Status{models.StatusUp, 4, models.StatusPaused, 1, models.StatusUp, 10, models.StatusPaused, models.StatusUp}
	for _, status := range sequence {
		res, err := tr.ObserveBatch(ctx, []models.Snapshot{snap("1", status)})
		if err != nil {
			t.Fatalf("observe %d: %v", status, err)
		}
		if len(res.Transitions) != 0 {
			t.Fatalf("status %d produced transitions %+v", status, res.Transitions)
		}
	}
}

func TestTracker_DuplicateSnapshotsAreIdempotent(t *testing.T) {
	store := newMemStore()
	mock := clock.NewMock()
	tr := NewTracker(store, mock)
	ctx := context.Background()

	if _, err := tr.Observe(ctx, snap("1", models.StatusUp)); err != nil {
		t.Fatal(err)
	}
	mock.Add(time.Minute)
	d, err := tr.Observe(ctx, snap("1", models.StatusDown))
	if err != nil || d.Kind != Down {
		t.Fatalf("expected down, got %s, %v", d.Kind, err)
	}
	downAt := *store.records["1"].DownTime

	for i := 0; i < 3; i++ {
		mock.Add(time.Minute)
		d, err := tr.Observe(ctx, snap("1", models.StatusDown))
		if err != nil {
			t.Fatal(err)
		}
		if d.Kind != NoChange || d.StatusChanged {
			t.Fatalf("duplicate DOWN produced %s (changed=%v)", d.Kind, d.StatusChanged)
		}
	}
	rec := store.records["1"]
	if rec.DownTime == nil || !rec.DownTime.Equal(downAt) {
		t.Errorf("down time moved: %v, want %v", rec.DownTime, downAt)
	}
	if rec.TotalDowntimeMinutes != 0 {
		t.Errorf("downtime counted without recovery: %d", rec.TotalDowntimeMinutes)
	}
}

func TestTracker_BatchContinuesPastStoreFailure(t *testing.T) {
	store := newMemStore()
	tr := NewTracker(store, clock.NewMock())
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		store.records[id] = &models.SensorRecord{SensorID: id, CurrentStatus: models.StatusUp}
	}
	store.fail["b"] = storage.ErrStore

	res, err := tr.ObserveBatch(ctx, []models.Snapshot{
		snap("a", models.StatusDown),
		snap("b", models.StatusDown),
		snap("c", models.StatusDown),
	})
	if !errors.Is(err, storage.ErrStore) {
		t.Fatalf("expected ErrStore in combined error, got %v", err)
	}
	if res.Failed != 1 || len(res.Transitions) != 2 {
		t.Fatalf("result = %+v", res)
	}
	if res.Transitions[0].Snapshot.SensorID != "a" || res.Transitions[1].Snapshot.SensorID != "c" {
		t.Errorf("unexpected transitions %+v", res.Transitions)
	}
	if store.records["b"].CurrentStatus != models.StatusUp {
		t.Error("failed sensor must keep its stored status")
	}
}

func TestTracker_EndToEndWithSQLite(t *testing.T) {
	ctx := context.Background()
	store, err := storage.Open(ctx, storage.Options{Path: filepath.Join(t.TempDir(), "e2e.db")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	mock := clock.NewMock()
	mock.Set(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))
	tr := NewTracker(store, mock)

	res, err := tr.ObserveBatch(ctx, []models.Snapshot{snap("100", models.StatusUp)})
	if err != nil || len(res.Transitions) != 0 || res.New != 1 {
		t.Fatalf("first sighting: %+v, %v", res, err)
	}

	mock.Add(time.Minute)
	res, err = tr.ObserveBatch(ctx, []models.Snapshot{snap("100", models.StatusDown)})
	if err != nil || len(res.Transitions) != 1 || res.Transitions[0].Kind != Down {
		t.Fatalf("down: %+v, %v", res, err)
	}
	downAt := mock.Now().UTC()

	mock.Add(130 * time.Second)
	res, err = tr.ObserveBatch(ctx, []models.Snapshot{snap("100", models.StatusUp)})
	if err != nil || len(res.Transitions) != 1 {
		t.Fatalf("recovery: %+v, %v", res, err)
	}
	rec := res.Transitions[0]
	if rec.Kind != Recovered {
		t.Fatalf("kind = %s, want recovered", rec.Kind)
	}
	if rec.Downtime.Text != "2 minutes" || rec.Downtime.Impact != downtime.ImpactMinimal {
		t.Errorf("downtime = %+v", rec.Downtime)
	}
	if rec.PriorDownTime == nil || !rec.PriorDownTime.Equal(downAt) {
		t.Errorf("prior down time = %v, want %v", rec.PriorDownTime, downAt)
	}

	stored, err := store.Get(ctx, "100")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.DownTime != nil {
		t.Errorf("down time not cleared: %v", stored.DownTime)
	}
	if stored.TotalDowntimeMinutes != 2 {
		t.Errorf("total downtime = %d, want 2", stored.TotalDowntimeMinutes)
	}
	if stored.CurrentStatus != models.StatusUp || stored.PreviousStatus != models.StatusDown {
		t.Errorf("statuses = %d/%d", stored.CurrentStatus, stored.PreviousStatus)
	}

	// Same snapshot again: no alert.
	mock.Add(time.Minute)
	res, _ = tr.ObserveBatch(ctx, []models.Snapshot{snap("100", models.StatusUp)})
	if len(res.Transitions) != 0 {
		t.Errorf("repeat UP produced transitions: %+v", res.Transitions)
	}
}
