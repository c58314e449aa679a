package infrastructure

import (
	"fmt"

	"betledger/events"
)

const (
	SubjectBetCreated    = "bets.created"
	SubjectBetExpiring   = "bets.expiring"
	SubjectBetResolved   = "bets.resolved"
	SubjectBalanceChange = "users.balance_changed"
	SubjectUserCreated   = "users.created"
)

// EventSubjectMapper handles mapping between domain events and NATS subjects
type EventSubjectMapper struct{}

// NewEventSubjectMapper creates a new event subject mapper
func NewEventSubjectMapper() *EventSubjectMapper {
	return &EventSubjectMapper{}
}

// MapEventToSubject converts a domain event to its corresponding NATS subject
func (m *EventSubjectMapper) MapEventToSubject(event events.Event) string {
	switch event.Type() {
	case events.EventTypeBetCreated:
		return SubjectBetCreated
	case events.EventTypeBetExpiring:
		return SubjectBetExpiring
	case events.EventTypeBetResolved:
		return SubjectBetResolved
	case events.EventTypeBalanceChange:
		return SubjectBalanceChange
	case events.EventTypeUserCreated:
		return SubjectUserCreated
	default:
		return fmt.Sprintf("unknown.%s", event.Type())
	}
}

// MapSubjectToEventType converts a NATS subject back to an event type
func (m *EventSubjectMapper) MapSubjectToEventType(subject string) events.EventType {
	switch subject {
	case SubjectBetCreated:
		return events.EventTypeBetCreated
	case SubjectBetExpiring:
		return events.EventTypeBetExpiring
	case SubjectBetResolved:
		return events.EventTypeBetResolved
	case SubjectBalanceChange:
		return events.EventTypeBalanceChange
	case SubjectUserCreated:
		return events.EventTypeUserCreated
	default:
		return events.EventType(subject)
	}
}

// GetAllSubjects returns all subjects that this service publishes to
func (m *EventSubjectMapper) GetAllSubjects() []string {
	return []string{
		SubjectBetCreated,
		SubjectBetExpiring,
		SubjectBetResolved,
		SubjectBalanceChange,
		SubjectUserCreated,
	}
}
