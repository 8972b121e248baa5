// Package downtime turns a down timestamp and a recovery timestamp into the
// duration text, minute counter and impact class attached to recovery alerts.
package downtime

import (
	"fmt"
	"time"

	"prtgalert/internal/logger"
)

// Impact classifies how long an outage lasted.
type Impact string

const (
	ImpactUnknown     Impact = ""
	ImpactMinimal     Impact = "MINIMAL"
	ImpactModerate    Impact = "MODERATE"
	ImpactSignificant Impact = "SIGNIFICANT"
)

// Texts used when no duration can be reported.
const (
	TextNotTracked = "Not tracked"
	TextUnknown    = "Unknown"
)

// Result is the accounting for one down→up cycle.
type Result struct {
	// Tracked is false when no down time was recorded for the outage.
	Tracked bool
	// Known is false when the duration could not be computed.
	Known   bool
	Elapsed time.Duration
	Minutes int
	Text    string
	Impact  Impact
}

// Compute accounts the outage that started at downTime and ended at recovery.
// It never fails: a missing down time yields "Not tracked", a negative
// elapsed time is logged and reported as "Unknown".
func Compute(downTime *time.Time, recovery time.Time) Result {
	if downTime == nil || downTime.IsZero() {
		return Result{Text: TextNotTracked}
	}

	elapsed := recovery.Sub(*downTime)
	if elapsed < 0 {
		log := logger.WithComponent("downtime")
		log.Error().
			Time("down_time", *downTime).
			Time("recovery_time", recovery).
			Dur("elapsed", elapsed).
			Msg("negative downtime, reporting unknown")
		return Result{Tracked: true, Text: TextUnknown}
	}

	minutes := int(elapsed / time.Minute)
	return Result{
		Tracked: true,
		Known:   true,
		Elapsed: elapsed,
		Minutes: minutes,
		Text:    Format(elapsed),
		Impact:  Classify(minutes),
	}
}

// Format renders a duration the way alerts show it:
// under a minute in seconds, under an hour in minutes, whole hours as
// "N hours", anything else as "Hh Mm".
func Format(d time.Duration) string {
	seconds := int(d / time.Second)
	minutes := int(d / time.Minute)

	switch {
	case seconds < 60:
		return fmt.Sprintf("%d seconds", seconds)
	case minutes < 60:
		return fmt.Sprintf("%d minutes", minutes)
	}

	hours := minutes / 60
	rest := minutes % 60
	if rest == 0 {
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	}
	return fmt.Sprintf("%dh %dm", hours, rest)
}

// FormatCompact renders an ongoing outage for reports ("42m", "3h 5m").
func FormatCompact(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	minutes := int(d / time.Minute)
	if minutes < 60 {
		return fmt.Sprintf("%dm", minutes)
	}
	return fmt.Sprintf("%dh %dm", minutes/60, minutes%60)
}

// Classify maps outage minutes to an impact class.
func Classify(minutes int) Impact {
	switch {
	case minutes < 5:
		return ImpactMinimal
	case minutes < 30:
		return ImpactModerate
	default:
		return ImpactSignificant
	}
}
