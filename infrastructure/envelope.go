package infrastructure

import (
	"encoding/json"
	"fmt"
	"time"

	"betledger/events"

	"github.com/google/uuid"
)

// SourceService identifies this service in published envelopes
const SourceService = "betledger"

// EventEnvelope wraps every event forwarded to an external broker
type EventEnvelope struct {
	EventID       string          `json:"eventId"`
	EventType     string          `json:"eventType"`
	Timestamp     time.Time       `json:"timestamp"`
	SourceService string          `json:"sourceService"`
	PartitionKey  int64           `json:"partitionKey"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEventEnvelope serialises event into a fresh envelope
func NewEventEnvelope(event events.Event, at time.Time) (*EventEnvelope, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}
	return &EventEnvelope{
		EventID:       uuid.New().String(),
		EventType:     string(event.Type()),
		Timestamp:     at.UTC(),
		SourceService: SourceService,
		PartitionKey:  events.PartitionKey(event),
		Payload:       payload,
	}, nil
}

// Marshal returns the wire form of the envelope
func (e *EventEnvelope) Marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event envelope: %w", err)
	}
	return data, nil
}
