// Package report builds the on-demand status summary from the sensor store.
// It only reads, so it can run while a poll cycle is writing.
package report

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"

	"prtgalert/internal/downtime"
	"prtgalert/internal/logger"
	"prtgalert/internal/models"
	"prtgalert/internal/storage"
)

// Title heads every rendered report.
const Title = "PRTG STATUS REPORT - UP/DOWN MONITORING"

// AllUp is the body of a report with no DOWN sensors.
const AllUp = "All sensors are UP!"

// DownSensor is one currently DOWN sensor.
type DownSensor struct {
	SensorID string         `json:"sensor_id"`
	Name     string         `json:"name"`
	Device   string         `json:"device"`
	Since    *time.Time     `json:"since,omitempty"`
	Downtime *time.Duration `json:"current_downtime_ns,omitempty"`
	// DowntimeText is the compact ongoing duration, empty when untracked.
	DowntimeText string `json:"current_downtime,omitempty"`
}

// Report is a point-in-time status summary.
type Report struct {
	GeneratedAt time.Time    `json:"generated_at"`
	Total       int          `json:"total"`
	Up          int          `json:"up"`
	Down        int          `json:"down"`
	DownSensors []DownSensor `json:"down_sensors"`
}

// Generator reads the store to produce reports.
type Generator struct {
	store storage.Reader
	clock clock.Clock
}

// NewGenerator creates a report generator. A nil clock means wall-clock time.
func NewGenerator(store storage.Reader, clk clock.Clock) *Generator {
	if clk == nil {
		clk = clock.New()
	}
	return &Generator{store: store, clock: clk}
}

// Generate summarizes the store from a single consistent read. DOWN sensors
// are listed most recently changed first.
func (g *Generator) Generate(ctx context.Context) (*Report, error) {
	now := g.clock.Now().UTC()

	sum, err := g.store.Summary(ctx, models.StatusDown)
	if err != nil {
		return nil, fmt.Errorf("report summary: %w", err)
	}
	down := sum.Records

	r := &Report{
		GeneratedAt: now,
		Total:       sum.Total,
		Up:          sum.Up,
		Down:        len(down),
		DownSensors: make([]DownSensor, 0, len(down)),
	}
	for _, rec := range down {
		ds := DownSensor{
			SensorID: rec.SensorID,
			Name:     rec.SensorName,
			Device:   rec.DeviceName,
			Since:    rec.DownTime,
		}
		if rec.DownTime != nil {
			elapsed := now.Sub(*rec.DownTime)
			ds.Downtime = &elapsed
			ds.DowntimeText = downtime.FormatCompact(elapsed)
		}
		r.DownSensors = append(r.DownSensors, ds)
	}

	log := logger.WithComponent("report")
	log.Debug().Int("total", r.Total).Int("up", r.Up).Int("down", r.Down).Msg("status report generated")
	return r, nil
}

// Lines are the headline counts.
func (r *Report) Lines() []models.Line {
	return []models.Line{
		{Label: "Generated", Value: models.FormatDisplay(r.GeneratedAt)},
		{Label: "Total Sensors", Value: fmt.Sprint(r.Total)},
		{Label: "UP Sensors", Value: fmt.Sprint(r.Up)},
		{Label: "DOWN Sensors", Value: fmt.Sprint(r.Down)},
	}
}

// Body lists the DOWN sensors, or says everything is up.
func (r *Report) Body() string {
	if len(r.DownSensors) == 0 {
		return AllUp
	}

	var b strings.Builder
	b.WriteString("DOWN SENSORS:\n")
	b.WriteString(strings.Repeat("=", 40))
	for _, ds := range r.DownSensors {
		b.WriteString("\n")
		b.WriteString(ds.Name)
		b.WriteString("\n   Device: ")
		b.WriteString(ds.Device)
		if ds.DowntimeText != "" {
			fmt.Fprintf(&b, " (DOWN for %s)", ds.DowntimeText)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// Text renders the full plain-text report.
func (r *Report) Text() string {
	n := models.Notification{Title: Title, Lines: r.Lines(), Body: r.Body()}
	return n.Text()
}
