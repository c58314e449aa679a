package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"betledger/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSweeper struct {
	mock.Mock
}

func (m *mockSweeper) TransitionExpiredBets(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *mockSweeper) NotifyExpiringBets(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type mockReconciler struct {
	mock.Mock
}

func (m *mockReconciler) ReconcilePayouts(ctx context.Context, limit int) (*models.ReconcileSummary, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ReconcileSummary), args.Error(1)
}

func TestExpiryWorker_RunOnce(t *testing.T) {
	sweeper := new(mockSweeper)
	reconciler := new(mockReconciler)
	ctx := context.Background()

	sweeper.On("TransitionExpiredBets", ctx).Return(2, nil).Once()
	sweeper.On("NotifyExpiringBets", ctx).Return(1, nil).Once()
	reconciler.On("ReconcilePayouts", ctx, 50).Return(&models.ReconcileSummary{Attempted: 3, Paid: 3}, nil).Once()

	worker := NewExpiryWorker(sweeper, reconciler, time.Minute, 50)
	result, err := worker.RunOnce(ctx)

	require.NoError(t, err)
	assert.Equal(t, 2, result.Locked)
	assert.Equal(t, 1, result.Notified)
	assert.Equal(t, 3, result.Reconciled.Paid)
	sweeper.AssertExpectations(t)
	reconciler.AssertExpectations(t)
}

func TestExpiryWorker_RunOnceContinuesAfterFailure(t *testing.T) {
	sweeper := new(mockSweeper)
	reconciler := new(mockReconciler)
	ctx := context.Background()
	sweepErr := errors.New("storage unavailable")

	sweeper.On("TransitionExpiredBets", ctx).Return(0, sweepErr).Once()
	sweeper.On("NotifyExpiringBets", ctx).Return(0, errors.New("second failure")).Once()
	reconciler.On("ReconcilePayouts", ctx, 10).Return(&models.ReconcileSummary{}, nil).Once()

	worker := NewExpiryWorker(sweeper, reconciler, time.Minute, 10)
	_, err := worker.RunOnce(ctx)

	assert.ErrorIs(t, err, sweepErr)
	sweeper.AssertExpectations(t)
	reconciler.AssertExpectations(t)
}

func TestExpiryWorker_StartRunsUntilStopped(t *testing.T) {
	sweeper := new(mockSweeper)
	ran := make(chan struct{}, 16)

	sweeper.On("TransitionExpiredBets", mock.Anything).Return(0, nil).Run(func(mock.Arguments) {
		ran <- struct{}{}
	})
	sweeper.On("NotifyExpiringBets", mock.Anything).Return(0, nil)

	worker := NewExpiryWorker(sweeper, nil, 10*time.Millisecond, 10)
	stop := worker.Start(context.Background())

	for i := 0; i < 2; i++ {
		select {
		case <-ran:
		case <-time.After(2 * time.Second):
			t.Fatal("worker did not run")
		}
	}

	stop()
	stop()

	// Drain anything that raced with the stop, then expect silence
	for len(ran) > 0 {
		<-ran
	}
	select {
	case <-ran:
		t.Fatal("worker ran after stop")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestExpiryWorker_StopsOnContextCancel(t *testing.T) {
	sweeper := new(mockSweeper)
	sweeper.On("TransitionExpiredBets", mock.Anything).Return(0, nil)
	sweeper.On("NotifyExpiringBets", mock.Anything).Return(0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	worker := NewExpiryWorker(sweeper, nil, time.Hour, 10)
	stop := worker.Start(ctx)

	cancel()
	finished := make(chan struct{})
	go func() {
		stop()
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}
