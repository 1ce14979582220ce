// Package events publishes transaction lifecycle events for downstream
// consumers over AMQP.
package events

import "time"

// Meta carries event identity and tracing fields.
type Meta struct {
	// Trace / request correlation ID
	CorrelationID *string `json:"correlation_id,omitempty"`
	// Unique event ID
	ID string `json:"id"`
	// Emitting service and version
	Producer *string `json:"producer,omitempty"`
	// Timestamp when the event was emitted
	Time time.Time `json:"time"`
	// Event name and version, e.g. transactions.initiated.v1
	Type string `json:"type"`
}

// Envelope wraps every published event.
type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

// Event types and routing keys.
const (
	TypeTransactionInitiated = "transactions.initiated.v1"
	TypeTransactionCompleted = "transactions.completed.v1"
)

// producerName identifies this service in event metadata.
const producerName = "pivi-assist"
