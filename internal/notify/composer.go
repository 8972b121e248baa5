package notify

import (
	"fmt"
	"time"

	"prtgalert/internal/detector"
	"prtgalert/internal/models"
	"prtgalert/internal/report"
)

// Composer turns decisions and lifecycle events into notifications. It does
// no I/O and assigns no ids, so equal inputs give equal outputs.
type Composer struct {
	ServerURL       string
	Interval        time.Duration
	PushRecipients  int
	EmailRecipients int
}

// Down composes the alert for an UP to DOWN transition.
func (c Composer) Down(d detector.Decision) models.Notification {
	s := d.Snapshot
	at := d.At
	return models.Notification{
		Category:   models.CategoryDown,
		Severity:   models.SeverityCritical,
		Title:      "PRTG ALERT - SENSOR DOWN",
		SensorID:   s.SensorID,
		SensorName: s.SensorName,
		DeviceName: s.DeviceName,
		OccurredAt: at,
		DownSince:  &at,
		ServerURL:  c.ServerURL,
		Lines: []models.Line{
			{Label: "Sensor", Value: s.SensorName},
			{Label: "Device", Value: s.DeviceName},
			{Label: "Status Change", Value: "UP → DOWN"},
			{Label: "Down Time", Value: models.FormatDisplay(at)},
			{Label: "Severity", Value: string(models.SeverityCritical)},
			{Label: "Sensor ID", Value: s.SensorID},
			{Label: "PRTG URL", Value: c.ServerURL},
		},
	}
}

// Recovery composes the alert for a DOWN to UP transition, including the
// outage duration and its impact class.
func (c Composer) Recovery(d detector.Decision) models.Notification {
	s := d.Snapshot
	dt := d.Downtime

	lines := []models.Line{
		{Label: "Sensor", Value: s.SensorName},
		{Label: "Device", Value: s.DeviceName},
		{Label: "Status Change", Value: "DOWN → UP"},
	}
	if d.PriorDownTime != nil && dt.Known {
		lines = append(lines,
			models.Line{Label: "Down Since", Value: models.FormatDisplay(*d.PriorDownTime)},
			models.Line{Label: "Down Duration", Value: dt.Text},
		)
	}
	lines = append(lines,
		models.Line{Label: "Recovery Time", Value: models.FormatDisplay(d.At)},
		models.Line{Label: "Total Downtime", Value: dt.Text},
		models.Line{Label: "Status", Value: "RECOVERED"},
		models.Line{Label: "Sensor ID", Value: s.SensorID},
		models.Line{Label: "PRTG URL", Value: c.ServerURL},
	)

	impact := impactText(dt.Minutes, dt.Text, string(dt.Impact))
	if impact != "" {
		lines = append(lines, models.Line{Label: "Impact", Value: impact})
	}

	return models.Notification{
		Category:        models.CategoryRecovery,
		Severity:        models.SeverityInfo,
		Title:           "PRTG RECOVERY - SENSOR UP",
		SensorID:        s.SensorID,
		SensorName:      s.SensorName,
		DeviceName:      s.DeviceName,
		OccurredAt:      d.At,
		DownSince:       d.PriorDownTime,
		Downtime:        dt.Text,
		DowntimeMinutes: dt.Minutes,
		Impact:          string(dt.Impact),
		ServerURL:       c.ServerURL,
		Lines:           lines,
	}
}

// impactText is only shown for outages of at least a minute.
func impactText(minutes int, text, impact string) string {
	if minutes <= 0 || impact == "" {
		return ""
	}
	switch {
	case minutes < 5:
		return impact + " (< 5 minutes)"
	case minutes < 30:
		return fmt.Sprintf("%s (%d minutes)", impact, minutes)
	default:
		return fmt.Sprintf("%s (%s)", impact, text)
	}
}

// ConnectivityFailure composes the escalation sent after repeated failed polls.
func (c Composer) ConnectivityFailure(failures int, at time.Time) models.Notification {
	return models.Notification{
		Category:   models.CategoryConnectivityFailure,
		Severity:   models.SeverityError,
		Title:      "PRTG Connection Issue",
		OccurredAt: at,
		ServerURL:  c.ServerURL,
		Lines: []models.Line{
			{Value: fmt.Sprintf("Failed to fetch sensors %d times in a row.", failures)},
			{Label: "Time", Value: models.FormatDisplay(at)},
			{Label: "Server", Value: c.ServerURL},
			{Value: "Please check PRTG server connectivity."},
		},
	}
}

// Startup composes the banner sent when monitoring starts.
func (c Composer) Startup(at time.Time, pushReady bool) models.Notification {
	status := "Not Connected"
	if pushReady {
		status = "Connected"
	}
	return models.Notification{
		Category:   models.CategoryStartup,
		Severity:   models.SeverityInfo,
		Title:      "PRTG Alerting System Started",
		OccurredAt: at,
		ServerURL:  c.ServerURL,
		Lines: []models.Line{
			{Label: "Started at", Value: models.FormatDisplay(at)},
			{Label: "Check interval", Value: fmt.Sprintf("%d seconds", int(c.Interval/time.Second))},
			{Label: "PRTG Server", Value: c.ServerURL},
			{Label: "Monitoring", Value: "UP/DOWN transitions only"},
			{Label: "WhatsApp Status", Value: status},
			{Value: fmt.Sprintf("Monitoring %d WhatsApp recipients", c.PushRecipients)},
			{Value: fmt.Sprintf("Monitoring %d email recipients", c.EmailRecipients)},
		},
	}
}

// Shutdown composes the banner sent when monitoring stops.
func (c Composer) Shutdown(at time.Time) models.Notification {
	return models.Notification{
		Category:   models.CategoryShutdown,
		Severity:   models.SeverityInfo,
		Title:      "PRTG Monitoring Stopped",
		OccurredAt: at,
		ServerURL:  c.ServerURL,
		Lines: []models.Line{
			{Label: "Stopped at", Value: models.FormatDisplay(at)},
		},
	}
}

// Report wraps a status report for delivery.
func (c Composer) Report(r *report.Report) models.Notification {
	return models.Notification{
		Category:   models.CategoryReport,
		Severity:   models.SeverityInfo,
		Title:      report.Title,
		OccurredAt: r.GeneratedAt,
		ServerURL:  c.ServerURL,
		Lines:      r.Lines(),
		Body:       r.Body(),
	}
}

// DefaultTestMessage heads test notifications when no text is given.
const DefaultTestMessage = "PRTG WhatsApp Test - UP/DOWN Monitoring System Operational"

// Test composes an operator test message.
func (c Composer) Test(at time.Time, text string) models.Notification {
	if text == "" {
		text = DefaultTestMessage
	}
	return models.Notification{
		Category:   models.CategoryTest,
		Severity:   models.SeverityInfo,
		Title:      text,
		OccurredAt: at,
		ServerURL:  c.ServerURL,
		Lines: []models.Line{
			{Label: "Test Time", Value: models.FormatDisplay(at)},
			{Label: "System Status", Value: "Operational"},
			{Label: "Monitoring", Value: "UP/DOWN transitions only"},
		},
	}
}
