package infrastructure

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"betledger/events"

	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"
)

// NewKafkaWriter creates a writer for topic on a comma separated broker list
func NewKafkaWriter(brokers string, topic string) *kafka.Writer {
	var addrs []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			addrs = append(addrs, b)
		}
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(addrs...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireAll,
	}
}

// messageWriter is the part of kafka.Writer the forwarder needs
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaEventPublisher forwards committed domain events to a Kafka topic.
// Messages are keyed by the event's partition key so one bet's events land on
// the same partition. The bus delivers concurrently, so write order is not
// emit order; consumers order by the envelope timestamp.
type KafkaEventPublisher struct {
	writer messageWriter
	now    func() time.Time
}

// NewKafkaEventPublisher creates a publisher on w
func NewKafkaEventPublisher(w messageWriter) *KafkaEventPublisher {
	return &KafkaEventPublisher{writer: w, now: time.Now}
}

// Publish writes event wrapped in an envelope
func (p *KafkaEventPublisher) Publish(ctx context.Context, event events.Event) error {
	envelope, err := NewEventEnvelope(event, p.now())
	if err != nil {
		return err
	}
	data, err := envelope.Marshal()
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(envelope.PartitionKey, 10)),
		Value: data,
		Time:  envelope.Timestamp,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(envelope.EventType)},
			{Key: "event-id", Value: []byte(envelope.EventID)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write event to kafka: %w", err)
	}

	log.WithFields(log.Fields{
		"eventType": event.Type(),
		"eventId":   envelope.EventID,
	}).Debug("Successfully published event to Kafka")
	return nil
}

// Attach forwards every event emitted on bus
func (p *KafkaEventPublisher) Attach(bus *events.Bus) {
	bus.SubscribeAll(func(ctx context.Context, event events.Event) {
		if err := p.Publish(ctx, event); err != nil {
			log.WithFields(log.Fields{
				"eventType": event.Type(),
				"key":       events.PartitionKey(event),
			}).WithError(err).Error("Failed to forward event to Kafka")
		}
	})
}

// Close flushes and closes the writer
func (p *KafkaEventPublisher) Close() error {
	return p.writer.Close()
}
