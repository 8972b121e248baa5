// Package alerts counts consecutive poll failures and decides when they
// escalate into a connectivity alert.
package alerts

import (
	"sync"

	"prtgalert/internal/metrics"
)

// DefaultThreshold is the number of consecutive failures that escalate.
const DefaultThreshold = 5

// Rule defines a consecutive-failure threshold.
type Rule struct {
	Name      string
	Threshold int
}

// Escalator tracks consecutive failures against a rule. Reaching the
// threshold escalates exactly once and resets the count, so a persisting
// outage escalates again only after another full run of failures.
type Escalator struct {
	rule Rule

	mu          sync.Mutex
	consecutive int
	escalations int
}

// NewEscalator creates an escalator; a non-positive threshold uses the default.
func NewEscalator(rule Rule) *Escalator {
	if rule.Threshold <= 0 {
		rule.Threshold = DefaultThreshold
	}
	return &Escalator{rule: rule}
}

// Rule returns the active rule.
func (e *Escalator) Rule() Rule { return e.rule }

// RecordFailure counts one failure. It returns the failure count that was
// reached and whether this failure escalated.
func (e *Escalator) RecordFailure() (count int, escalate bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.consecutive++
	count = e.consecutive
	if e.consecutive >= e.rule.Threshold {
		escalate = true
		e.escalations++
		e.consecutive = 0
		metrics.EscalationsTotal.Inc()
	}
	metrics.ConsecutiveFailures.Set(float64(e.consecutive))
	return count, escalate
}

// RecordSuccess resets the failure count.
func (e *Escalator) RecordSuccess() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.consecutive = 0
	metrics.ConsecutiveFailures.Set(0)
}

// Consecutive returns the current failure count.
func (e *Escalator) Consecutive() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.consecutive
}

// Escalations returns how many times the threshold was reached.
func (e *Escalator) Escalations() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.escalations
}
