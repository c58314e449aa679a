package events

import (
	"context"
	"sync"
	"time"

	"betledger/models"

	log "github.com/sirupsen/logrus"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventTypeBetCreated    EventType = "bet.created"
	EventTypeBetExpiring   EventType = "bet.expiring"
	EventTypeBetResolved   EventType = "bet.resolved"
	EventTypeBalanceChange EventType = "balance_change"
	EventTypeUserCreated   EventType = "user_created"
)

// Event is the base interface for all events
type Event interface {
	Type() EventType
}

// BetCreatedEvent is emitted once a new bet has been committed
type BetCreatedEvent struct {
	BetID     int64 `json:"betId"`
	GroupID   int64 `json:"groupId"`
	CreatorID int64 `json:"creatorId"`
}

func (e BetCreatedEvent) Type() EventType {
	return EventTypeBetCreated
}

// BetExpiringEvent is emitted once per bet when its expiry is near
type BetExpiringEvent struct {
	BetID     int64     `json:"betId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (e BetExpiringEvent) Type() EventType {
	return EventTypeBetExpiring
}

// BetResolvedEvent is emitted when a bet completes
type BetResolvedEvent struct {
	BetID           int64 `json:"betId"`
	WinningOptionID int64 `json:"winningOptionId"`
	WinnersCount    int   `json:"winnersCount"`
}

func (e BetResolvedEvent) Type() EventType {
	return EventTypeBetResolved
}

// BalanceChangeEvent represents a balance change that occurred
type BalanceChangeEvent struct {
	UserID          int64                  `json:"userId"`
	OldBalance      int64                  `json:"oldBalance"`
	NewBalance      int64                  `json:"newBalance"`
	TransactionType models.TransactionType `json:"transactionType"`
	ChangeAmount    int64                  `json:"changeAmount"`
}

func (e BalanceChangeEvent) Type() EventType {
	return EventTypeBalanceChange
}

// UserCreatedEvent represents a new user creation
type UserCreatedEvent struct {
	UserID         int64  `json:"userId"`
	Username       string `json:"username"`
	InitialBalance int64  `json:"initialBalance"`
}

func (e UserCreatedEvent) Type() EventType {
	return EventTypeUserCreated
}

// PartitionKey returns the identifier downstream consumers should order by
func PartitionKey(event Event) int64 {
	switch e := event.(type) {
	case BetCreatedEvent:
		return e.BetID
	case BetExpiringEvent:
		return e.BetID
	case BetResolvedEvent:
		return e.BetID
	case BalanceChangeEvent:
		return e.UserID
	case UserCreatedEvent:
		return e.UserID
	default:
		return 0
	}
}

// AllEventTypes lists every event type the service emits
func AllEventTypes() []EventType {
	return []EventType{
		EventTypeBetCreated,
		EventTypeBetExpiring,
		EventTypeBetResolved,
		EventTypeBalanceChange,
		EventTypeUserCreated,
	}
}

// Handler is a function that handles events
type Handler func(ctx context.Context, event Event)

// Bus manages event subscriptions and dispatching
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
}

// NewBus creates a new event bus
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[EventType][]Handler),
	}
}

// Subscribe adds a handler for a specific event type
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)

	log.WithFields(log.Fields{
		"eventType":    eventType,
		"handlerCount": len(b.handlers[eventType]),
	}).Debug("Subscribed handler to event type")
}

// SubscribeAll adds the handler for every event type the service emits
func (b *Bus) SubscribeAll(handler Handler) {
	for _, eventType := range AllEventTypes() {
		b.Subscribe(eventType, handler)
	}
}

// Emit publishes an event to all registered handlers. Handlers run
// asynchronously and a panicking handler never reaches the emitter.
func (b *Bus) Emit(ctx context.Context, event Event) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers[event.Type()]))
	copy(handlers, b.handlers[event.Type()])
	b.mu.RUnlock()

	log.WithFields(log.Fields{
		"eventType":    event.Type(),
		"handlerCount": len(handlers),
	}).Debug("Emitting event to handlers")

	for i, handler := range handlers {
		go func(h Handler, handlerIndex int) {
			defer func() {
				if r := recover(); r != nil {
					log.WithFields(log.Fields{
						"eventType":    event.Type(),
						"handlerIndex": handlerIndex,
						"panic":        r,
					}).Error("Event handler panicked")
				}
			}()
			h(ctx, event)
		}(handler, i)
	}
}

// TransactionalBus holds events raised inside a unit of work until the
// transaction commits.
type TransactionalBus struct {
	real    *Bus
	pending []Event
}

func NewTransactionalBus(real *Bus) *TransactionalBus {
	return &TransactionalBus{real: real}
}

func (b *TransactionalBus) Publish(e Event) {
	log.WithFields(log.Fields{
		"eventType":    e.Type(),
		"pendingCount": len(b.pending),
	}).Debug("Queued event until commit")
	b.pending = append(b.pending, e)
}

// Pending returns the queued events without flushing them
func (b *TransactionalBus) Pending() []Event {
	out := make([]Event, len(b.pending))
	copy(out, b.pending)
	return out
}

// Flush is called after a successful commit
func (b *TransactionalBus) Flush(ctx context.Context) error {
	// Handlers outlive the request, so they get a detached context
	eventCtx := context.WithoutCancel(ctx)

	for _, ev := range b.pending {
		b.real.Emit(eventCtx, ev)
	}
	log.WithField("flushed", len(b.pending)).Debug("Flushed transactional events")
	b.pending = nil
	return nil
}

// Discard drops queued events after a rollback
func (b *TransactionalBus) Discard() {
	b.pending = nil
}
