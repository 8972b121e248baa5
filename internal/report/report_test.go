package report

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"prtgalert/internal/models"
	"prtgalert/internal/storage"
)

type fakeReader struct {
	stats   storage.Stats
	down    []models.SensorRecord
	err     error
	listErr error
}

func (f *fakeReader) Get(ctx context.Context, id string) (*models.SensorRecord, error) {
	return nil, nil
}

func (f *fakeReader) Stats(ctx context.Context) (storage.Stats, error) {
	return f.stats, f.err
}

func (f *fakeReader) ListByStatus(ctx context.Context, status models.Status) ([]models.SensorRecord, error) {
	return f.down, f.listErr
}

func (f *fakeReader) Summary(ctx context.Context, status models.Status) (storage.Summary, error) {
	if f.err != nil {
		return storage.Summary{}, f.err
	}
	if f.listErr != nil {
		return storage.Summary{}, f.listErr
	}
	return storage.Summary{Stats: f.stats, Records: f.down}, nil
}

func (f *fakeReader) Ping(ctx context.Context) error { return nil }

func TestGenerate_AllUp(t *testing.T) {
	mock := clock.NewMock()
	g := NewGenerator(&fakeReader{stats: storage.Stats{Total: 4, Up: 4}}, mock)

	r, err := g.Generate(context.Background())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if r.Total != 4 || r.Up != 4 || r.Down != 0 {
		t.Errorf("counts = %+v", r)
	}
	if r.Body() != AllUp {
		t.Errorf("body = %q, want %q", r.Body(), AllUp)
	}
	text := r.Text()
	if !strings.HasPrefix(text, Title) {
		t.Errorf("text should start with title: %q", text)
	}
	if !strings.Contains(text, "Total Sensors: 4") || !strings.Contains(text, "DOWN Sensors: 0") {
		t.Errorf("text missing counts: %q", text)
	}
}

func TestGenerate_ListsDownSensors(t *testing.T) {
	mock := clock.NewMock()
	now := time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)
	mock.Set(now)

	recent := now.Add(-42 * time.Minute)
	old := now.Add(-(3*time.Hour + 5*time.Minute))
	reader := &fakeReader{
		stats: storage.Stats{Total: 10, Up: 7, Down: 3},
		down: []models.SensorRecord{
			{SensorID: "1", SensorName: "Ping", DeviceName: "gw", CurrentStatus: models.StatusDown, DownTime: &recent},
			{SensorID: "2", SensorName: "HTTP", DeviceName: "web", CurrentStatus: models.StatusDown, DownTime: &old},
			{SensorID: "3", SensorName: "Disk", DeviceName: "nas", CurrentStatus: models.StatusDown},
		},
	}

	r, err := NewGenerator(reader, mock).Generate(context.Background())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if r.Down != 3 || len(r.DownSensors) != 3 {
		t.Fatalf("down = %d, sensors = %d", r.Down, len(r.DownSensors))
	}
	if r.DownSensors[0].DowntimeText != "42m" {
		t.Errorf("first downtime = %q, want 42m", r.DownSensors[0].DowntimeText)
	}
	if r.DownSensors[1].DowntimeText != "3h 5m" {
		t.Errorf("second downtime = %q, want 3h 5m", r.DownSensors[1].DowntimeText)
	}
	if r.DownSensors[2].DowntimeText != "" || r.DownSensors[2].Since != nil {
		t.Errorf("untracked sensor should have no downtime: %+v", r.DownSensors[2])
	}

	body := r.Body()
	for _, want := range []string{"DOWN SENSORS:", "Ping\n   Device: gw (DOWN for 42m)", "HTTP\n   Device: web (DOWN for 3h 5m)", "Disk\n   Device: nas"} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q:\n%s", want, body)
		}
	}
	if strings.Contains(body, AllUp) {
		t.Error("body must not claim all sensors are up")
	}
}

func TestGenerate_PropagatesStoreErrors(t *testing.T) {
	g := NewGenerator(&fakeReader{err: storage.ErrStore}, clock.NewMock())
	if _, err := g.Generate(context.Background()); !errors.Is(err, storage.ErrStore) {
		t.Fatalf("expected ErrStore, got %v", err)
	}

	g = NewGenerator(&fakeReader{listErr: storage.ErrStore}, clock.NewMock())
	if _, err := g.Generate(context.Background()); !errors.Is(err, storage.ErrStore) {
		t.Fatalf("expected ErrStore, got %v", err)
	}
}
