package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"betledger/config"
	"betledger/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() func() time.Time {
	return func() time.Time { return testNow }
}

func createTestBet(id int64, status models.BetStatus, expiresAt time.Time) *models.Bet {
	return &models.Bet{
		ID:          id,
		GroupID:     10,
		CreatorID:   1,
		Question:    "Who wins the final?",
		WagerAmount: 100,
		Status:      status,
		ExpiresAt:   expiresAt,
		CreatedAt:   testNow.Add(-time.Hour),
	}
}

func createTestDetail(bet *models.Bet, participants ...*models.BetParticipant) *models.BetDetail {
	return &models.BetDetail{
		Bet: bet,
		Options: []*models.BetOption{
			{ID: 11, BetID: bet.ID, OptionText: "Home", OptionOrder: 0},
			{ID: 12, BetID: bet.ID, OptionText: "Away", OptionOrder: 1},
		},
		Participants: participants,
	}
}

func createTestParticipant(betID, optionID, userID int64) *models.BetParticipant {
	return &models.BetParticipant{BetID: betID, OptionID: optionID, UserID: userID, Amount: 100}
}

type stakingMocks struct {
	uow        *MockUnitOfWork
	bets       *MockBetRepository
	points     *MockPointsLedger
	membership *MockMembershipChecker
	locker     *MockStakeLocker
}

func createTestStakingService(cfg *config.Config) (StakingService, *stakingMocks) {
	m := &stakingMocks{
		uow:        new(MockUnitOfWork),
		bets:       new(MockBetRepository),
		points:     new(MockPointsLedger),
		membership: new(MockMembershipChecker),
		locker:     new(MockStakeLocker),
	}
	factory := new(MockUnitOfWorkFactory)
	factory.On("Create").Return(m.uow)
	m.uow.SetBetRepositories(m.bets, nil)

	svc := NewStakingService(factory, m.points, m.membership, m.locker, cfg, WithClock(fixedClock()))
	return svc, m
}

func (m *stakingMocks) openBet() *models.Bet {
	bet := createTestBet(7, models.BetStatusOpen, testNow.Add(time.Hour))
	m.bets.On("GetDetailByID", mock.Anything, int64(7)).Return(createTestDetail(bet), nil)
	m.bets.On("GetForUpdate", mock.Anything, int64(7)).Return(bet, nil)
	m.membership.On("IsMember", mock.Anything, int64(10), int64(2)).Return(true, nil)
	m.locker.On("Acquire", mock.Anything, "stake:7:2", mock.Anything).Return(func() {}, nil)
	return bet
}

func TestStakingService_PlaceBet(t *testing.T) {
	ctx := context.Background()
	req := PlaceBetRequest{BetID: 7, UserID: 2, OptionID: 11}

	t.Run("debits then records the stake", func(t *testing.T) {
		svc, m := createTestStakingService(config.NewTestConfig())
		setupBasicTransactionMocks(m.uow)
		m.openBet()

		m.points.On("Debit", ctx, mock.MatchedBy(func(e LedgerEntry) bool {
			return e.UserID == 2 && e.Amount == 100 && e.BetID == 7 &&
				e.Reason == models.TransactionTypeBetStake &&
				strings.HasPrefix(e.IdempotencyKey, "stake:7:2:")
		})).Return(nil)
		m.bets.On("AddParticipant", ctx, mock.MatchedBy(func(p *models.BetParticipant) bool {
			return p.UserID == 2 && p.OptionID == 11 && p.Amount == 100 && strings.HasPrefix(p.StakeReference, "stake:7:2:")
		})).Return(nil)
		m.bets.On("RecalculateTotalPool", ctx, int64(7)).Return(int64(100), nil)

		participant, err := svc.PlaceBet(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, int64(11), participant.OptionID)
		assertAllMockExpectations(t, m.uow, m.bets, m.points, m.membership, m.locker)
		m.points.AssertNotCalled(t, "Credit", mock.Anything, mock.Anything)
	})

	t.Run("non-member is unauthorized", func(t *testing.T) {
		svc, m := createTestStakingService(config.NewTestConfig())
		m.uow.On("Begin", mock.Anything).Return(nil)
		m.uow.On("Rollback").Return(nil)
		bet := createTestBet(7, models.BetStatusOpen, testNow.Add(time.Hour))
		m.bets.On("GetDetailByID", mock.Anything, int64(7)).Return(createTestDetail(bet), nil)
		m.membership.On("IsMember", mock.Anything, int64(10), int64(2)).Return(false, nil)

		_, err := svc.PlaceBet(ctx, req)
		assert.True(t, errors.Is(err, ErrUnauthorized))
		m.points.AssertNotCalled(t, "Debit", mock.Anything, mock.Anything)
	})

	t.Run("precondition failures in order", func(t *testing.T) {
		tests := []struct {
			name     string
			bet      *models.Bet
			optionID int64
			staked   bool
			want     error
		}{
			{name: "locked", bet: createTestBet(7, models.BetStatusLocked, testNow.Add(time.Hour)), optionID: 11, want: ErrInvalidState},
			{name: "completed beats expiry", bet: createTestBet(7, models.BetStatusCompleted, testNow.Add(-time.Hour)), optionID: 11, want: ErrInvalidState},
			{name: "at expiry instant", bet: createTestBet(7, models.BetStatusOpen, testNow), optionID: 11, want: ErrExpired},
			{name: "unknown option", bet: createTestBet(7, models.BetStatusOpen, testNow.Add(time.Hour)), optionID: 99, want: ErrNotFound},
			{name: "already staked", bet: createTestBet(7, models.BetStatusOpen, testNow.Add(time.Hour)), optionID: 12, staked: true, want: ErrAlreadyStaked},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				svc, m := createTestStakingService(config.NewTestConfig())
				m.uow.On("Begin", mock.Anything).Return(nil)
				m.uow.On("Rollback").Return(nil)

				detail := createTestDetail(tt.bet)
				if tt.staked {
					detail.Participants = append(detail.Participants, createTestParticipant(7, 11, 2))
				}
				m.bets.On("GetDetailByID", mock.Anything, int64(7)).Return(detail, nil)
				m.membership.On("IsMember", mock.Anything, int64(10), int64(2)).Return(true, nil)

				_, err := svc.PlaceBet(ctx, PlaceBetRequest{BetID: 7, UserID: 2, OptionID: tt.optionID})
				assert.True(t, errors.Is(err, tt.want), "got %v", err)
				m.points.AssertNotCalled(t, "Debit", mock.Anything, mock.Anything)
			})
		}
	})

	t.Run("missing bet", func(t *testing.T) {
		svc, m := createTestStakingService(config.NewTestConfig())
		m.uow.On("Begin", mock.Anything).Return(nil)
		m.uow.On("Rollback").Return(nil)
		m.bets.On("GetDetailByID", mock.Anything, int64(7)).Return(nil, nil)

		_, err := svc.PlaceBet(ctx, req)
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("insufficient funds leaves no stake", func(t *testing.T) {
		svc, m := createTestStakingService(config.NewTestConfig())
		m.uow.On("Begin", mock.Anything).Return(nil)
		m.uow.On("Rollback").Return(nil)
		m.openBet()
		m.points.On("Debit", ctx, mock.Anything).Return(NewInsufficientFundsError(2, 100))

		_, err := svc.PlaceBet(ctx, req)
		assert.True(t, errors.Is(err, ErrInsufficientFunds))
		m.bets.AssertNotCalled(t, "AddParticipant", mock.Anything, mock.Anything)
		m.points.AssertNotCalled(t, "Credit", mock.Anything, mock.Anything)
	})

	t.Run("failed recording is compensated", func(t *testing.T) {
		svc, m := createTestStakingService(config.NewTestConfig())
		m.uow.On("Begin", mock.Anything).Return(nil)
		m.uow.On("Rollback").Return(nil)
		m.openBet()

		var debitKey string
		m.points.On("Debit", ctx, mock.Anything).Run(func(args mock.Arguments) {
			debitKey = args.Get(1).(LedgerEntry).IdempotencyKey
		}).Return(nil)
		m.bets.On("AddParticipant", ctx, mock.Anything).Return(errors.New("disk full"))
		m.points.On("Credit", mock.Anything, mock.MatchedBy(func(e LedgerEntry) bool {
			return e.UserID == 2 && e.Amount == 100 &&
				e.Reason == models.TransactionTypeStakeRefund &&
				strings.HasPrefix(e.IdempotencyKey, "stake-refund:7:2:")
		})).Return(nil)

		_, err := svc.PlaceBet(ctx, req)
		require.Error(t, err)
		assert.Equal(t, KindInternal, KindOf(err))
		assert.Contains(t, err.Error(), "disk full")
		m.points.AssertNumberOfCalls(t, "Credit", 1)

		refundKey := m.points.Calls[1].Arguments.Get(1).(LedgerEntry).IdempotencyKey
		assert.Equal(t, strings.TrimPrefix(debitKey, "stake:"), strings.TrimPrefix(refundKey, "stake-refund:"))
	})

	t.Run("failed compensation is unavailable", func(t *testing.T) {
		svc, m := createTestStakingService(config.NewTestConfig())
		m.uow.On("Begin", mock.Anything).Return(nil)
		m.uow.On("Rollback").Return(nil)
		m.openBet()

		m.points.On("Debit", ctx, mock.Anything).Return(nil)
		m.bets.On("AddParticipant", ctx, mock.Anything).Return(errors.New("disk full"))
		m.points.On("Credit", mock.Anything, mock.Anything).Return(newError(KindUnavailable, "ledger down"))

		_, err := svc.PlaceBet(ctx, req)
		assert.True(t, errors.Is(err, ErrUnavailable))
		assert.Contains(t, err.Error(), "refund could not be applied")
	})

	t.Run("lock held past its ttl is unavailable", func(t *testing.T) {
		cfg := config.NewTestConfig()
		cfg.StakeLockTTL = 50 * time.Millisecond
		svc, m := createTestStakingService(cfg)
		m.uow.On("Begin", mock.Anything).Return(nil)
		m.uow.On("Rollback").Return(nil)

		bet := createTestBet(7, models.BetStatusOpen, testNow.Add(time.Hour))
		m.bets.On("GetDetailByID", mock.Anything, int64(7)).Return(createTestDetail(bet), nil)
		m.membership.On("IsMember", mock.Anything, int64(10), int64(2)).Return(true, nil)
		m.locker.On("Acquire", mock.Anything, "stake:7:2", mock.Anything).Return(nil, ErrLockHeld)

		_, err := svc.PlaceBet(ctx, req)
		assert.True(t, errors.Is(err, ErrUnavailable))
		m.points.AssertNotCalled(t, "Debit", mock.Anything, mock.Anything)
	})

	t.Run("unreachable lock backend falls back to the database", func(t *testing.T) {
		svc, m := createTestStakingService(config.NewTestConfig())
		setupBasicTransactionMocks(m.uow)

		bet := createTestBet(7, models.BetStatusOpen, testNow.Add(time.Hour))
		m.bets.On("GetDetailByID", mock.Anything, int64(7)).Return(createTestDetail(bet), nil)
		m.bets.On("GetForUpdate", mock.Anything, int64(7)).Return(bet, nil)
		m.membership.On("IsMember", mock.Anything, int64(10), int64(2)).Return(true, nil)
		m.locker.On("Acquire", mock.Anything, "stake:7:2", mock.Anything).Return(nil, errors.New("redis: connection refused"))
		m.points.On("Debit", ctx, mock.Anything).Return(nil)
		m.bets.On("AddParticipant", ctx, mock.Anything).Return(nil)
		m.bets.On("RecalculateTotalPool", ctx, int64(7)).Return(int64(100), nil)

		_, err := svc.PlaceBet(ctx, req)
		require.NoError(t, err)
	})

	t.Run("invalid request", func(t *testing.T) {
		svc, m := createTestStakingService(config.NewTestConfig())

		_, err := svc.PlaceBet(ctx, PlaceBetRequest{BetID: 7, UserID: 2})
		assert.True(t, errors.Is(err, ErrValidation))
		m.uow.AssertNotCalled(t, "Begin", mock.Anything)
	})
}
