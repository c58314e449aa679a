package infrastructure

import (
	"context"
	"fmt"
	"time"

	"betledger/events"

	log "github.com/sirupsen/logrus"
)

// messagePublisher is the part of NATSClient the forwarder needs
type messagePublisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// NATSEventPublisher forwards committed domain events to NATS subjects
type NATSEventPublisher struct {
	client        messagePublisher
	subjectMapper *EventSubjectMapper
	now           func() time.Time
}

// NewNATSEventPublisher creates a new NATS event publisher
func NewNATSEventPublisher(client messagePublisher, subjectMapper *EventSubjectMapper) *NATSEventPublisher {
	return &NATSEventPublisher{
		client:        client,
		subjectMapper: subjectMapper,
		now:           time.Now,
	}
}

// Publish wraps event in an envelope and publishes it on its subject
func (p *NATSEventPublisher) Publish(ctx context.Context, event events.Event) error {
	subject := p.subjectMapper.MapEventToSubject(event)

	envelope, err := NewEventEnvelope(event, p.now())
	if err != nil {
		return err
	}
	data, err := envelope.Marshal()
	if err != nil {
		return err
	}

	if err := p.client.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("failed to publish event to NATS: %w", err)
	}

	log.WithFields(log.Fields{
		"eventType": event.Type(),
		"eventId":   envelope.EventID,
		"subject":   subject,
	}).Debug("Successfully published event to NATS")
	return nil
}

// Attach forwards every event emitted on bus. Failures are logged; the bus
// has already committed the change the event describes.
func (p *NATSEventPublisher) Attach(bus *events.Bus) {
	bus.SubscribeAll(func(ctx context.Context, event events.Event) {
		if err := p.Publish(ctx, event); err != nil {
			log.WithFields(log.Fields{
				"eventType": event.Type(),
				"key":       events.PartitionKey(event),
			}).WithError(err).Error("Failed to forward event to NATS")
		}
	})
}

// EnsureBetEventStream ensures the bet_events stream exists with the correct subjects
func (p *NATSEventPublisher) EnsureBetEventStream(client *NATSClient) error {
	return client.EnsureStream(BetEventStream, p.subjectMapper.GetAllSubjects())
}
