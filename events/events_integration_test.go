package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitForEvents(t *testing.T, ch <-chan Event, n int) []Event {
	t.Helper()
	var got []Event
	for len(got) < n {
		select {
		case ev := <-ch:
			got = append(got, ev)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for events: got %d of %d", len(got), n)
		}
	}
	return got
}

func TestTransactionalBus_FlushDeliversAfterCommit(t *testing.T) {
	mainBus := NewBus()
	received := make(chan Event, 4)
	mainBus.Subscribe(EventTypeBetCreated, func(ctx context.Context, event Event) {
		received <- event
	})

	txBus := NewTransactionalBus(mainBus)
	txBus.Publish(BetCreatedEvent{BetID: 1, GroupID: 10, CreatorID: 100})

	select {
	case <-received:
		t.Fatal("event delivered before flush")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, txBus.Flush(context.Background()))
	got := waitForEvents(t, received, 1)

	created, ok := got[0].(BetCreatedEvent)
	require.True(t, ok)
	assert.Equal(t, int64(1), created.BetID)
	assert.Equal(t, int64(10), created.GroupID)
	assert.Empty(t, txBus.Pending())
}

func TestTransactionalBus_DiscardDropsEvents(t *testing.T) {
	mainBus := NewBus()
	received := make(chan Event, 1)
	mainBus.Subscribe(EventTypeBetResolved, func(ctx context.Context, event Event) {
		received <- event
	})

	txBus := NewTransactionalBus(mainBus)
	txBus.Publish(BetResolvedEvent{BetID: 7, WinningOptionID: 3, WinnersCount: 2})
	txBus.Discard()
	require.NoError(t, txBus.Flush(context.Background()))

	select {
	case ev := <-received:
		t.Fatalf("unexpected event after discard: %v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBus_PanickingHandlerDoesNotStopOthers(t *testing.T) {
	bus := NewBus()
	var wg sync.WaitGroup
	wg.Add(1)

	bus.Subscribe(EventTypeBetExpiring, func(ctx context.Context, event Event) {
		panic("boom")
	})
	bus.Subscribe(EventTypeBetExpiring, func(ctx context.Context, event Event) {
		wg.Done()
	})

	bus.Emit(context.Background(), BetExpiringEvent{BetID: 5, ExpiresAt: time.Now()})

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("second handler never ran")
	}
}

func TestBus_SubscribeAll(t *testing.T) {
	bus := NewBus()
	received := make(chan Event, len(AllEventTypes()))
	bus.SubscribeAll(func(ctx context.Context, event Event) {
		received <- event
	})

	bus.Emit(context.Background(), BetCreatedEvent{BetID: 1})
	bus.Emit(context.Background(), UserCreatedEvent{UserID: 2})

	got := waitForEvents(t, received, 2)
	types := []EventType{got[0].Type(), got[1].Type()}
	assert.ElementsMatch(t, []EventType{EventTypeBetCreated, EventTypeUserCreated}, types)
}

func TestPartitionKey(t *testing.T) {
	assert.Equal(t, int64(9), PartitionKey(BetResolvedEvent{BetID: 9}))
	assert.Equal(t, int64(4), PartitionKey(BalanceChangeEvent{UserID: 4}))
	assert.Equal(t, int64(3), PartitionKey(BetExpiringEvent{BetID: 3}))
}
