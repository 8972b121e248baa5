package models

import (
	"time"

	"github.com/google/uuid"
)

// Envelope wraps a Notification with dispatch metadata
type Envelope struct {
	ID           string        `json:"id"`
	Notification *Notification `json:"notification"`

	// Internal processing metadata
	CreatedAt    time.Time `json:"created_at"`
	Node         string    `json:"node"`
	CycleID      string    `json:"cycle_id,omitempty"`
	PartitionKey string    `json:"partition_key"`
}

// NewEnvelope creates a new envelope around a composed notification
func NewEnvelope(n *Notification, node string) *Envelope {
	return &Envelope{
		ID:           uuid.NewString(),
		Notification: n,
		CreatedAt:    time.Now().UTC(),
		Node:         node,
		PartitionKey: n.PartitionKey(),
	}
}

// WithCycle records which poll cycle produced the notification
func (e *Envelope) WithCycle(cycleID string) *Envelope {
	e.CycleID = cycleID
	return e
}
