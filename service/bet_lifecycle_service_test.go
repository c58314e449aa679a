package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"betledger/config"
	"betledger/events"
	"betledger/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func createTestLifecycleService(cfg *config.Config) (BetLifecycleService, *MockUnitOfWork, *MockBetRepository, *MockMembershipChecker, *MockEventPublisher) {
	mockUoW := new(MockUnitOfWork)
	mockFactory := new(MockUnitOfWorkFactory)
	mockBetRepo := new(MockBetRepository)
	mockMembership := new(MockMembershipChecker)
	mockBus := new(MockEventPublisher)

	mockUoW.SetBetRepositories(mockBetRepo, nil)
	mockUoW.SetEventBus(mockBus)
	mockFactory.On("Create").Return(mockUoW)

	svc := NewBetLifecycleService(mockFactory, mockMembership, cfg, WithClock(fixedClock()))
	return svc, mockUoW, mockBetRepo, mockMembership, mockBus
}

func TestBetLifecycleService_CreateBet(t *testing.T) {
	ctx := context.Background()

	newRequest := func() CreateBetRequest {
		return CreateBetRequest{
			GroupID:     10,
			CreatorID:   1,
			Question:    "  Who wins the final?  ",
			Options:     []string{"Home", " Away "},
			WagerAmount: 100,
			ExpiresAt:   testNow.Add(time.Hour),
		}
	}

	t.Run("creates an open bet with an empty pool", func(t *testing.T) {
		svc, mockUoW, mockBetRepo, mockMembership, mockBus := createTestLifecycleService(config.NewTestConfig())
		setupBasicTransactionMocks(mockUoW)

		mockMembership.On("IsMember", ctx, int64(10), int64(1)).Return(true, nil)
		mockBetRepo.On("Create", ctx, mock.MatchedBy(func(b *models.Bet) bool {
			return b.Question == "Who wins the final?" && b.Status == models.BetStatusOpen && b.TotalPool == 0
		}), mock.MatchedBy(func(o []*models.BetOption) bool {
			return len(o) == 2 && o[1].OptionText == "Away" && o[1].OptionOrder == 1
		})).Run(func(args mock.Arguments) {
			args.Get(1).(*models.Bet).ID = 7
		}).Return(nil)
		mockBus.On("Publish", events.BetCreatedEvent{BetID: 7, GroupID: 10, CreatorID: 1}).Return()

		detail, err := svc.CreateBet(ctx, newRequest())
		require.NoError(t, err)
		assert.Equal(t, int64(7), detail.Bet.ID)
		assert.Empty(t, detail.Participants)
		assertAllMockExpectations(t, mockUoW, mockBetRepo, mockMembership, mockBus)
	})

	t.Run("non-member creator", func(t *testing.T) {
		svc, mockUoW, _, mockMembership, _ := createTestLifecycleService(config.NewTestConfig())
		mockMembership.On("IsMember", ctx, int64(10), int64(1)).Return(false, nil)

		_, err := svc.CreateBet(ctx, newRequest())
		assert.True(t, errors.Is(err, ErrUnauthorized))
		mockUoW.AssertNotCalled(t, "Begin", mock.Anything)
	})

	t.Run("validation failures touch nothing", func(t *testing.T) {
		tests := []struct {
			name   string
			mutate func(*CreateBetRequest)
		}{
			{name: "expiry in the past", mutate: func(r *CreateBetRequest) { r.ExpiresAt = testNow.Add(-time.Second) }},
			{name: "expiry now", mutate: func(r *CreateBetRequest) { r.ExpiresAt = testNow }},
			{name: "blank question", mutate: func(r *CreateBetRequest) { r.Question = "   " }},
			{name: "duplicate options", mutate: func(r *CreateBetRequest) { r.Options = []string{"Home", "HOME"} }},
			{name: "single option", mutate: func(r *CreateBetRequest) { r.Options = []string{"Home"} }},
			{name: "zero wager", mutate: func(r *CreateBetRequest) { r.WagerAmount = 0 }},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				svc, mockUoW, _, mockMembership, _ := createTestLifecycleService(config.NewTestConfig())
				req := newRequest()
				tt.mutate(&req)

				_, err := svc.CreateBet(ctx, req)
				assert.True(t, errors.Is(err, ErrValidation), "got %v", err)
				mockMembership.AssertNotCalled(t, "IsMember", mock.Anything, mock.Anything, mock.Anything)
				mockUoW.AssertNotCalled(t, "Begin", mock.Anything)
			})
		}
	})
}

func TestBetLifecycleService_LockBet(t *testing.T) {
	ctx := context.Background()

	t.Run("creator locks an open bet", func(t *testing.T) {
		svc, mockUoW, mockBetRepo, _, _ := createTestLifecycleService(config.NewTestConfig())
		setupBasicTransactionMocks(mockUoW)
		mockBetRepo.On("GetForUpdate", ctx, int64(7)).Return(createTestBet(7, models.BetStatusOpen, testNow.Add(time.Hour)), nil)
		mockBetRepo.On("TransitionStatus", ctx, int64(7), models.BetStatusOpen, models.BetStatusLocked, testNow).Return(nil)

		bet, err := svc.LockBet(ctx, 7, 1)
		require.NoError(t, err)
		assert.Equal(t, models.BetStatusLocked, bet.Status)
		require.NotNil(t, bet.LockedAt)
	})

	t.Run("admin may lock", func(t *testing.T) {
		cfg := config.NewTestConfig()
		cfg.AdminUserIDs = []int64{99}
		svc, mockUoW, mockBetRepo, _, _ := createTestLifecycleService(cfg)
		setupBasicTransactionMocks(mockUoW)
		mockBetRepo.On("GetForUpdate", ctx, int64(7)).Return(createTestBet(7, models.BetStatusOpen, testNow.Add(time.Hour)), nil)
		mockBetRepo.On("TransitionStatus", ctx, int64(7), models.BetStatusOpen, models.BetStatusLocked, testNow).Return(nil)

		_, err := svc.LockBet(ctx, 7, 99)
		require.NoError(t, err)
	})

	t.Run("other users may not", func(t *testing.T) {
		svc, mockUoW, mockBetRepo, _, _ := createTestLifecycleService(config.NewTestConfig())
		mockUoW.On("Begin", mock.Anything).Return(nil)
		mockUoW.On("Rollback").Return(nil)
		mockBetRepo.On("GetForUpdate", ctx, int64(7)).Return(createTestBet(7, models.BetStatusOpen, testNow.Add(time.Hour)), nil)

		_, err := svc.LockBet(ctx, 7, 2)
		assert.True(t, errors.Is(err, ErrUnauthorized))
	})

	t.Run("locking twice is invalid", func(t *testing.T) {
		svc, mockUoW, mockBetRepo, _, _ := createTestLifecycleService(config.NewTestConfig())
		mockUoW.On("Begin", mock.Anything).Return(nil)
		mockUoW.On("Rollback").Return(nil)
		mockBetRepo.On("GetForUpdate", ctx, int64(7)).Return(createTestBet(7, models.BetStatusLocked, testNow.Add(time.Hour)), nil)

		_, err := svc.LockBet(ctx, 7, 1)
		assert.True(t, errors.Is(err, ErrInvalidState))
	})
}

func TestBetLifecycleService_DeleteBet(t *testing.T) {
	ctx := context.Background()

	t.Run("bet with participants cannot be deleted", func(t *testing.T) {
		svc, mockUoW, mockBetRepo, _, _ := createTestLifecycleService(config.NewTestConfig())
		mockUoW.On("Begin", mock.Anything).Return(nil)
		mockUoW.On("Rollback").Return(nil)
		mockBetRepo.On("GetForUpdate", ctx, int64(7)).Return(createTestBet(7, models.BetStatusOpen, testNow.Add(time.Hour)), nil)
		mockBetRepo.On("CountParticipants", ctx, int64(7)).Return(2, nil)

		err := svc.DeleteBet(ctx, 7, 1)
		assert.True(t, errors.Is(err, ErrInvalidState))
		mockBetRepo.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
	})

	t.Run("expired bet cannot be deleted", func(t *testing.T) {
		svc, mockUoW, mockBetRepo, _, _ := createTestLifecycleService(config.NewTestConfig())
		mockUoW.On("Begin", mock.Anything).Return(nil)
		mockUoW.On("Rollback").Return(nil)
		mockBetRepo.On("GetForUpdate", ctx, int64(7)).Return(createTestBet(7, models.BetStatusOpen, testNow), nil)

		err := svc.DeleteBet(ctx, 7, 1)
		assert.True(t, errors.Is(err, ErrInvalidState))
	})

	t.Run("empty open bet is deleted", func(t *testing.T) {
		svc, mockUoW, mockBetRepo, _, _ := createTestLifecycleService(config.NewTestConfig())
		setupBasicTransactionMocks(mockUoW)
		mockBetRepo.On("GetForUpdate", ctx, int64(7)).Return(createTestBet(7, models.BetStatusOpen, testNow.Add(time.Hour)), nil)
		mockBetRepo.On("CountParticipants", ctx, int64(7)).Return(0, nil)
		mockBetRepo.On("Delete", ctx, int64(7)).Return(nil)

		require.NoError(t, svc.DeleteBet(ctx, 7, 1))
		mockBetRepo.AssertExpectations(t)
	})
}

func TestBetLifecycleService_EditBet(t *testing.T) {
	ctx := context.Background()
	question := "Who wins the cup?"

	t.Run("only the creator edits", func(t *testing.T) {
		svc, mockUoW, mockBetRepo, _, _ := createTestLifecycleService(config.NewTestConfig())
		mockUoW.On("Begin", mock.Anything).Return(nil)
		mockUoW.On("Rollback").Return(nil)
		mockBetRepo.On("GetForUpdate", ctx, int64(7)).Return(createTestBet(7, models.BetStatusOpen, testNow.Add(time.Hour)), nil)

		_, err := svc.EditBet(ctx, EditBetRequest{BetID: 7, RequesterID: 2, Question: &question})
		assert.True(t, errors.Is(err, ErrUnauthorized))
	})

	t.Run("edits that duplicate an option are rejected", func(t *testing.T) {
		svc, mockUoW, mockBetRepo, _, _ := createTestLifecycleService(config.NewTestConfig())
		mockUoW.On("Begin", mock.Anything).Return(nil)
		mockUoW.On("Rollback").Return(nil)
		bet := createTestBet(7, models.BetStatusOpen, testNow.Add(time.Hour))
		mockBetRepo.On("GetForUpdate", ctx, int64(7)).Return(bet, nil)
		mockBetRepo.On("GetDetailByID", ctx, int64(7)).Return(createTestDetail(bet), nil)

		_, err := svc.EditBet(ctx, EditBetRequest{BetID: 7, RequesterID: 1, OptionTexts: map[int64]string{12: "home"}})
		assert.True(t, errors.Is(err, ErrValidation))
		mockBetRepo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("unknown option", func(t *testing.T) {
		svc, mockUoW, mockBetRepo, _, _ := createTestLifecycleService(config.NewTestConfig())
		mockUoW.On("Begin", mock.Anything).Return(nil)
		mockUoW.On("Rollback").Return(nil)
		bet := createTestBet(7, models.BetStatusOpen, testNow.Add(time.Hour))
		mockBetRepo.On("GetForUpdate", ctx, int64(7)).Return(bet, nil)
		mockBetRepo.On("GetDetailByID", ctx, int64(7)).Return(createTestDetail(bet), nil)

		_, err := svc.EditBet(ctx, EditBetRequest{BetID: 7, RequesterID: 1, OptionTexts: map[int64]string{99: "Draw"}})
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("empty edit", func(t *testing.T) {
		svc, _, _, _, _ := createTestLifecycleService(config.NewTestConfig())
		_, err := svc.EditBet(ctx, EditBetRequest{BetID: 7, RequesterID: 1})
		assert.True(t, errors.Is(err, ErrValidation))
	})
}

func TestBetLifecycleService_Sweeps(t *testing.T) {
	ctx := context.Background()

	t.Run("locks expired bets and skips lost races", func(t *testing.T) {
		svc, mockUoW, mockBetRepo, _, _ := createTestLifecycleService(config.NewTestConfig())
		setupBasicTransactionMocks(mockUoW)

		mockBetRepo.On("GetExpiredOpen", ctx, testNow).Return([]*models.Bet{
			createTestBet(7, models.BetStatusOpen, testNow.Add(-time.Minute)),
			createTestBet(8, models.BetStatusOpen, testNow),
		}, nil)
		mockBetRepo.On("TransitionStatus", ctx, int64(7), models.BetStatusOpen, models.BetStatusLocked, testNow).Return(nil)
		mockBetRepo.On("TransitionStatus", ctx, int64(8), models.BetStatusOpen, models.BetStatusLocked, testNow).
			Return(NewInvalidStateError("bet 8 is locked, expected open"))

		count, err := svc.TransitionExpiredBets(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("expiring notice goes out once per bet", func(t *testing.T) {
		svc, mockUoW, mockBetRepo, _, mockBus := createTestLifecycleService(config.NewTestConfig())
		setupBasicTransactionMocks(mockUoW)

		horizon := testNow.Add(config.NewTestConfig().ExpiringNoticeWindow)
		soon := createTestBet(7, models.BetStatusOpen, testNow.Add(10*time.Minute))
		mockBetRepo.On("GetExpiringUnnotified", ctx, testNow, horizon).Return([]*models.Bet{soon}, nil)
		mockBetRepo.On("MarkExpiringNotified", ctx, int64(7), testNow).Return(nil)
		mockBus.On("Publish", events.BetExpiringEvent{BetID: 7, ExpiresAt: soon.ExpiresAt}).Return()

		count, err := svc.NotifyExpiringBets(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
		assertAllMockExpectations(t, mockBetRepo, mockBus)
	})
}
