package outbox

import (
	"encoding/json"
	"time"
)

// Event is written to outbox_events in the transaction that produced it. The Kafka topic is
// EventType; Key picks the partition and defaults to the appointment id.
type Event struct {
	AggregateType string
	AggregateID   string
	Key           string
	EventType     string
	Payload       []byte
}

func NewEvent(appointmentID, eventType string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		AggregateType: "appointment",
		AggregateID:   appointmentID,
		Key:           appointmentID,
		EventType:     eventType,
		Payload:       raw,
	}, nil
}

// Record is an unpublished outbox row.
type Record struct {
	ID          int64
	EventID     string
	AggregateID string
	Key         string
	EventType   string
	Payload     []byte
	Traceparent string
	Tracestate  string
	Attempts    int
	CreatedAt   time.Time
}
