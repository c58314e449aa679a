package infrastructure

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"betledger/events"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type publishedMessage struct {
	subject string
	data    []byte
}

type fakeNATS struct {
	mu       sync.Mutex
	messages []publishedMessage
	err      error
	notify   chan struct{}
}

func newFakeNATS() *fakeNATS {
	return &fakeNATS{notify: make(chan struct{}, 16)}
}

func (f *fakeNATS) Publish(ctx context.Context, subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, publishedMessage{subject: subject, data: data})
	f.notify <- struct{}{}
	return nil
}

type fakeKafkaWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (f *fakeKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msgs...)
	return nil
}

func (f *fakeKafkaWriter) Close() error {
	f.closed = true
	return nil
}

func TestEventSubjectMapper_RoundTrip(t *testing.T) {
	mapper := NewEventSubjectMapper()

	tests := []struct {
		event   events.Event
		subject string
	}{
		{events.BetCreatedEvent{BetID: 1}, "bets.created"},
		{events.BetExpiringEvent{BetID: 1}, "bets.expiring"},
		{events.BetResolvedEvent{BetID: 1}, "bets.resolved"},
		{events.BalanceChangeEvent{UserID: 1}, "users.balance_changed"},
		{events.UserCreatedEvent{UserID: 1}, "users.created"},
	}

	for _, tt := range tests {
		t.Run(tt.subject, func(t *testing.T) {
			assert.Equal(t, tt.subject, mapper.MapEventToSubject(tt.event))
			assert.Equal(t, tt.event.Type(), mapper.MapSubjectToEventType(tt.subject))
			assert.Contains(t, mapper.GetAllSubjects(), tt.subject)
		})
	}

	assert.Len(t, mapper.GetAllSubjects(), len(events.AllEventTypes()))
}

func TestNATSEventPublisher_PublishesEnvelope(t *testing.T) {
	client := newFakeNATS()
	publisher := NewNATSEventPublisher(client, NewEventSubjectMapper())
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	publisher.now = func() time.Time { return fixed }

	event := events.BetResolvedEvent{BetID: 42, WinningOptionID: 7, WinnersCount: 3}
	require.NoError(t, publisher.Publish(context.Background(), event))

	require.Len(t, client.messages, 1)
	assert.Equal(t, "bets.resolved", client.messages[0].subject)

	var envelope EventEnvelope
	require.NoError(t, json.Unmarshal(client.messages[0].data, &envelope))
	assert.NotEmpty(t, envelope.EventID)
	assert.Equal(t, "bet.resolved", envelope.EventType)
	assert.Equal(t, "betledger", envelope.SourceService)
	assert.Equal(t, int64(42), envelope.PartitionKey)
	assert.True(t, fixed.Equal(envelope.Timestamp))

	var payload events.BetResolvedEvent
	require.NoError(t, json.Unmarshal(envelope.Payload, &payload))
	assert.Equal(t, event, payload)
}

func TestNATSEventPublisher_PublishError(t *testing.T) {
	client := newFakeNATS()
	client.err = errors.New("no responders")
	publisher := NewNATSEventPublisher(client, NewEventSubjectMapper())

	err := publisher.Publish(context.Background(), events.BetCreatedEvent{BetID: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no responders")
}

func TestNATSEventPublisher_AttachForwardsBusEvents(t *testing.T) {
	client := newFakeNATS()
	publisher := NewNATSEventPublisher(client, NewEventSubjectMapper())
	bus := events.NewBus()
	publisher.Attach(bus)

	tx := events.NewTransactionalBus(bus)
	tx.Publish(events.BetCreatedEvent{BetID: 5, GroupID: 10, CreatorID: 1})
	require.NoError(t, tx.Flush(context.Background()))

	select {
	case <-client.notify:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for forwarded event")
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	require.Len(t, client.messages, 1)
	assert.Equal(t, "bets.created", client.messages[0].subject)
}

func TestKafkaEventPublisher_KeysByPartitionKey(t *testing.T) {
	writer := &fakeKafkaWriter{}
	publisher := NewKafkaEventPublisher(writer)

	expiresAt := time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC)
	require.NoError(t, publisher.Publish(context.Background(), events.BetExpiringEvent{BetID: 99, ExpiresAt: expiresAt}))
	require.NoError(t, publisher.Publish(context.Background(), events.BalanceChangeEvent{UserID: 3, NewBalance: 50}))
	require.NoError(t, publisher.Publish(context.Background(), events.BetResolvedEvent{BetID: 99, WinningOptionID: 5, WinnersCount: 2}))

	require.Len(t, writer.messages, 3)
	assert.Equal(t, "99", string(writer.messages[0].Key))
	assert.Equal(t, "3", string(writer.messages[1].Key))
	assert.Equal(t, writer.messages[0].Key, writer.messages[2].Key, "events of one bet share a partition key")

	headers := map[string]string{}
	for _, h := range writer.messages[0].Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "bet.expiring", headers["event-type"])
	assert.NotEmpty(t, headers["event-id"])

	var envelope EventEnvelope
	require.NoError(t, json.Unmarshal(writer.messages[0].Value, &envelope))
	var payload events.BetExpiringEvent
	require.NoError(t, json.Unmarshal(envelope.Payload, &payload))
	assert.True(t, expiresAt.Equal(payload.ExpiresAt))

	require.NoError(t, publisher.Close())
	assert.True(t, writer.closed)
}

func TestKafkaEventPublisher_WriteError(t *testing.T) {
	writer := &fakeKafkaWriter{err: errors.New("leader not available")}
	publisher := NewKafkaEventPublisher(writer)

	err := publisher.Publish(context.Background(), events.BetCreatedEvent{BetID: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to write event to kafka")
}

func TestNewKafkaWriter_SplitsBrokers(t *testing.T) {
	w := NewKafkaWriter("kafka-1:9092, kafka-2:9092", "bet-events")
	assert.Equal(t, "bet-events", w.Topic)
	assert.Equal(t, kafka.TCP("kafka-1:9092", "kafka-2:9092").String(), w.Addr.String())
}
