package models_test

import (
	"sort"
	"testing"
	"time"

	"prtgalert/internal/models"
)

func TestSnapshotNormalize(t *testing.T) {
	s := &models.Snapshot{
		SensorID:   "  2044 ",
		SensorName: "  Ping  ",
		DeviceName: " core-router ",
		Status:     models.StatusUp,
	}

	s.Normalize()

	if s.SensorID != "2044" {
		t.Errorf("SensorID not trimmed: got %q", s.SensorID)
	}
	if s.SensorName != "Ping" {
		t.Errorf("SensorName not trimmed: got %q", s.SensorName)
	}
	if s.DeviceName != "core-router" {
		t.Errorf("DeviceName not trimmed: got %q", s.DeviceName)
	}
	if err := s.Validate(); err != nil {
		t.Errorf("unexpected validation error: %v", err)
	}
}

func TestSnapshotValidateEmptyID(t *testing.T) {
	s := &models.Snapshot{SensorID: "   "}
	s.Normalize()
	if err := s.Validate(); err != models.ErrEmptySensorID {
		t.Errorf("expected ErrEmptySensorID, got %v", err)
	}
}

func TestStatusKind(t *testing.T) {
	tests := []struct {
		status models.Status
		want   models.StatusKind
	}{
		{3, models.KindUp},
		{5, models.KindDown},
		{7, models.KindPaused},
		{8, models.KindPaused},
		{9, models.KindPaused},
		{11, models.KindPaused},
		{12, models.KindPaused},
		{1, models.KindOther},
		{4, models.KindOther},
		{10, models.KindOther},
		{13, models.KindOther},
	}

	for _, tt := range tests {
		if got := tt.status.Kind(); got != tt.want {
			t.Errorf("Status(%d).Kind() = %s, want %s", int(tt.status), got, tt.want)
		}
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"RFC3339", "2024-01-15T10:30:00Z", false},
		{"RFC3339Nano", "2024-01-15T10:30:00.123456789Z", false},
		{"storage layout", "2024-01-15T10:30:00.000000000Z", false},
		{"naive isoformat", "2024-01-15T10:30:00.123456", false},
		{"sqlite CURRENT_TIMESTAMP", "2024-01-15 10:30:00", false},
		{"with whitespace", "  2024-01-15T10:30:00Z  ", false},
		{"invalid", "not-a-timestamp", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := models.ParseTimestamp(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseTimestamp(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestParseTimestampReturnsUTC(t *testing.T) {
	ts, err := models.ParseTimestamp("2024-01-15T10:30:00Z")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if ts.Location() != time.UTC {
		t.Errorf("expected UTC timezone, got %v", ts.Location())
	}
}

func TestParseTimestampNaiveIsLocal(t *testing.T) {
	ts, err := models.ParseTimestamp("2024-01-15 10:30:00")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2024, 1, 15, 10, 30, 0, 0, time.Local)
	if !ts.Equal(want) {
		t.Errorf("got %v, want %v", ts, want)
	}
}

func TestFormatTimestampRoundTripAndOrder(t *testing.T) {
	base := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	times := []time.Time{
		base.Add(1500 * time.Millisecond),
		base,
		base.Add(time.Second),
		base.Add(10 * time.Nanosecond),
	}

	formatted := make([]string, len(times))
	for i, ts := range times {
		formatted[i] = models.FormatTimestamp(ts)
		back, err := models.ParseTimestamp(formatted[i])
		if err != nil || !back.Equal(ts) {
			t.Errorf("round trip of %v gave %v (%v)", ts, back, err)
		}
	}

	sort.Strings(formatted)
	for i := 1; i < len(formatted); i++ {
		a, _ := models.ParseTimestamp(formatted[i-1])
		b, _ := models.ParseTimestamp(formatted[i])
		if a.After(b) {
			t.Errorf("lexical order disagrees with time order: %s > %s", formatted[i-1], formatted[i])
		}
	}
}

func TestSensorRecordClone(t *testing.T) {
	down := time.Now()
	r := &models.SensorRecord{SensorID: "1", DownTime: &down}

	c := r.Clone()
	*c.DownTime = c.DownTime.Add(time.Hour)

	if !r.DownTime.Equal(down) {
		t.Error("clone shares the DownTime pointer")
	}
	if (*models.SensorRecord)(nil).Clone() != nil {
		t.Error("nil clone should be nil")
	}
}
