package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"betledger/config"
	"betledger/events"
	"betledger/infrastructure"
	"betledger/models"
	"betledger/repository/testutil"
	"betledger/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettlement_ConcurrentResolveOnPostgres(t *testing.T) {
	testDB := testutil.SetupTestDatabase(t)
	ctx := context.Background()

	const groupID int64 = 10
	factory := NewUnitOfWorkFactory(testDB.DB, events.NewBus())
	cfg := config.NewTestConfig()
	cfg.StartingBalance = 1000

	points := service.NewPointsService(factory, cfg)
	members := service.NewMembershipService(factory, cfg)
	lifecycle := service.NewBetLifecycleService(factory, members, cfg)
	staking := service.NewStakingService(factory, points, members, infrastructure.NewLocalLocker(), cfg)
	settlement := service.NewSettlementService(factory, points, cfg)

	for _, id := range []int64{1, 2, 3} {
		_, err := points.GetOrCreateUser(ctx, id, "player")
		require.NoError(t, err)
		require.NoError(t, members.AddMember(ctx, groupID, id))
	}

	detail, err := lifecycle.CreateBet(ctx, service.CreateBetRequest{
		GroupID:     groupID,
		CreatorID:   1,
		Question:    "Who wins?",
		Options:     []string{"A", "B"},
		WagerAmount: 100,
		ExpiresAt:   time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	optionA, optionB := detail.Options[0].ID, detail.Options[1].ID

	for userID, optionID := range map[int64]int64{1: optionA, 2: optionA, 3: optionB} {
		_, err := staking.PlaceBet(ctx, service.PlaceBetRequest{BetID: detail.Bet.ID, UserID: userID, OptionID: optionID})
		require.NoError(t, err)
	}
	_, err = lifecycle.LockBet(ctx, detail.Bet.ID, 1)
	require.NoError(t, err)

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = settlement.ResolveBet(ctx, service.ResolveBetRequest{
				BetID: detail.Bet.ID, RequesterID: 1, WinningOptionID: optionA,
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.Equal(t, service.KindInvalidState, service.KindOf(err))
	}
	assert.Equal(t, 1, succeeded)

	for userID, want := range map[int64]int64{1: 1050, 2: 1050, 3: 900} {
		balance, err := points.GetBalance(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, want, balance, "user %d", userID)
	}

	payouts, err := NewPayoutRepository(testDB.DB).GetByBet(ctx, detail.Bet.ID)
	require.NoError(t, err)
	require.Len(t, payouts, 2)
	for _, payout := range payouts {
		assert.Equal(t, models.PayoutStatusPaid, payout.Status)
		assert.Equal(t, int64(150), payout.Amount)
	}
}
