// Package queue carries audit events for accepted buzzer operations over
// RabbitMQ and writes them to a log file on the consuming side.
package queue

import "time"

// AuditQueueName is the durable queue that receives audit events.
const AuditQueueName = "buzzer.audit"

// Audit event kinds.
const (
	KindRegistered = "registered"
	KindRenewed    = "renewed"
	KindPressed    = "pressed"
	KindReset      = "reset"
	KindPurged     = "purged"
)

// AuditEvent records one accepted mutation.  It carries enough detail for
// downstream consumers to log or analyse the game without querying the
// primary database.
type AuditEvent struct {
	Kind       string     `json:"kind"`
	Name       string     `json:"name,omitempty"`
	PressedAt  *time.Time `json:"pressed_at,omitempty"`
	PressCount uint64     `json:"press_count,omitempty"`
	Affected   int64      `json:"affected,omitempty"`
	OccurredAt time.Time  `json:"occurred_at"`
}
