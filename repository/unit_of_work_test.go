package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"betledger/events"
	"betledger/repository/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnitOfWork_CommitAndRollback(t *testing.T) {
	testDB := testutil.SetupTestDatabase(t)
	ctx := context.Background()

	bus := events.NewBus()
	var mu sync.Mutex
	var received []events.EventType
	done := make(chan struct{}, 4)
	bus.Subscribe(events.EventTypeBetCreated, func(_ context.Context, event events.Event) {
		mu.Lock()
		received = append(received, event.Type())
		mu.Unlock()
		done <- struct{}{}
	})

	factory := NewUnitOfWorkFactory(testDB.DB, bus)

	t.Run("rollback discards writes and events", func(t *testing.T) {
		uow := factory.Create()
		require.NoError(t, uow.Begin(ctx))

		bet := testutil.CreateTestBet(10, 1)
		require.NoError(t, uow.BetRepository().Create(ctx, bet, testutil.CreateTestBetOptions()))
		uow.EventBus().Publish(events.BetCreatedEvent{BetID: bet.ID, GroupID: 10, CreatorID: 1})
		require.NoError(t, uow.Rollback())

		stored, err := NewBetRepository(testDB.DB).GetByID(ctx, bet.ID)
		require.NoError(t, err)
		assert.Nil(t, stored)
	})

	t.Run("commit persists writes and flushes events", func(t *testing.T) {
		uow := factory.Create()
		require.NoError(t, uow.Begin(ctx))
		defer uow.Rollback()

		bet := testutil.CreateTestBet(10, 1)
		require.NoError(t, uow.BetRepository().Create(ctx, bet, testutil.CreateTestBetOptions()))
		uow.EventBus().Publish(events.BetCreatedEvent{BetID: bet.ID, GroupID: 10, CreatorID: 1})
		require.NoError(t, uow.Commit())

		stored, err := NewBetRepository(testDB.DB).GetByID(ctx, bet.ID)
		require.NoError(t, err)
		assert.NotNil(t, stored)

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("bet.created was not delivered")
		}
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, []events.EventType{events.EventTypeBetCreated}, received)
	})

	t.Run("begin twice fails", func(t *testing.T) {
		uow := factory.Create()
		require.NoError(t, uow.Begin(ctx))
		defer uow.Rollback()
		assert.Error(t, uow.Begin(ctx))
	})
}
