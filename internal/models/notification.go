package models

import (
	"errors"
	"fmt"
	"html"
	"strings"
	"time"
)

// Category is the kind of alert a notification carries.
type Category string

const (
	CategoryDown                Category = "DOWN"
	CategoryRecovery            Category = "RECOVERY"
	CategoryConnectivityFailure Category = "CONNECTIVITY_FAILURE"
	CategoryStartup             Category = "STARTUP"
	CategoryShutdown            Category = "SHUTDOWN"
	CategoryReport              Category = "REPORT"
	CategoryTest                Category = "TEST"
)

// Line is one labelled row of a rendered notification.
type Line struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Notification is a channel-agnostic alert payload. Channels render it with
// Text, Subject and HTML; the event stream ships it as JSON.
type Notification struct {
	Category Category `json:"category"`
	Severity Severity `json:"severity"`
	Title    string   `json:"title"`

	SensorID   string `json:"sensor_id,omitempty"`
	SensorName string `json:"sensor_name,omitempty"`
	DeviceName string `json:"device_name,omitempty"`

	OccurredAt time.Time  `json:"occurred_at"`
	DownSince  *time.Time `json:"down_since,omitempty"`

	// Recovery only.
	Downtime        string `json:"downtime,omitempty"`
	DowntimeMinutes int    `json:"downtime_minutes,omitempty"`
	Impact          string `json:"impact,omitempty"`

	ServerURL string `json:"server_url,omitempty"`
	Lines     []Line `json:"lines"`
	// Body is free text appended after the lines (reports).
	Body string `json:"body,omitempty"`
}

// Text renders the plain message used by push channels.
func (n *Notification) Text() string {
	var b strings.Builder
	b.WriteString(n.Title)
	if len(n.Lines) > 0 || n.Body != "" {
		b.WriteString("\n\n")
	}
	for i, line := range n.Lines {
		if i > 0 {
			b.WriteString("\n")
		}
		if line.Label == "" {
			b.WriteString(line.Value)
			continue
		}
		fmt.Fprintf(&b, "%s: %s", line.Label, line.Value)
	}
	if n.Body != "" {
		if len(n.Lines) > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(n.Body)
	}
	return b.String()
}

// Notification validation errors
var (
	ErrEmptyCategory   = errors.New("notification category cannot be empty")
	ErrInvalidSeverity = errors.New("invalid notification severity")
)

// Validate checks that channels can route and label the notification.
func (n *Notification) Validate() error {
	if n.Category == "" {
		return ErrEmptyCategory
	}
	if !n.Severity.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidSeverity, n.Severity)
	}
	return nil
}

// Subject renders the email subject line.
func (n *Notification) Subject() string {
	label := string(n.Category)
	switch n.Category {
	case CategoryDown:
		label = string(n.Severity)
	case CategoryConnectivityFailure:
		label = "CONNECTIVITY"
	}
	if n.SensorName == "" {
		return fmt.Sprintf("PRTG %s: %s", label, n.Title)
	}
	return fmt.Sprintf("PRTG %s: %s on %s", label, n.SensorName, n.DeviceName)
}

// HTML renders the email body as an escaped monospace block.
func (n *Notification) HTML() string {
	body := strings.ReplaceAll(html.EscapeString(n.Text()), "\n", "<br>")
	return "<html><body><pre style='font-family: monospace;'>" + body + "</pre></body></html>"
}

// PartitionKey keeps events of one sensor ordered on the event stream.
func (n *Notification) PartitionKey() string {
	if n.SensorID != "" {
		return n.SensorID
	}
	return string(n.Category)
}
