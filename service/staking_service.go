package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"betledger/config"
	"betledger/models"
	"betledger/observability"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

type stakingService struct {
	uowFactory UnitOfWorkFactory
	points     PointsLedger
	membership MembershipChecker
	locker     StakeLocker
	config     *config.Config
	now        func() time.Time
	metrics    *observability.Metrics
}

// NewStakingService creates the staking engine. Stakes debit the points
// ledger first and record the participation second; a failed recording is
// undone with a compensating credit.
func NewStakingService(
	uowFactory UnitOfWorkFactory,
	points PointsLedger,
	membership MembershipChecker,
	locker StakeLocker,
	cfg *config.Config,
	opts ...Option,
) StakingService {
	o := newServiceOptions(opts)
	return &stakingService{
		uowFactory: uowFactory,
		points:     points,
		membership: membership,
		locker:     locker,
		config:     cfg,
		now:        o.now,
		metrics:    o.metrics,
	}
}

// PlaceBet stakes the bet's wager amount for the user on one option
func (s *stakingService) PlaceBet(ctx context.Context, req PlaceBetRequest) (participant *models.BetParticipant, err error) {
	defer func() {
		if err != nil {
			s.metrics.StakeResult(string(KindOf(err)))
		} else {
			s.metrics.StakeResult(observability.ResultSuccess)
		}
	}()

	if err := validateRequest(req); err != nil {
		return nil, err
	}

	detail, err := s.loadDetail(ctx, req.BetID)
	if err != nil {
		return nil, err
	}

	member, err := s.membership.IsMember(ctx, detail.Bet.GroupID, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to check group membership: %w", err)
	}
	if !member {
		return nil, newError(KindUnauthorized, "user %d is not a member of group %d", req.UserID, detail.Bet.GroupID)
	}

	if err := checkStakeable(detail, req, s.now()); err != nil {
		return nil, err
	}

	unlock, err := s.acquireStakeLock(ctx, req)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Another attempt for the same user may have finished while we waited
	detail, err = s.loadDetail(ctx, req.BetID)
	if err != nil {
		return nil, err
	}
	if err := checkStakeable(detail, req, s.now()); err != nil {
		return nil, err
	}

	amount := detail.Bet.WagerAmount
	attemptID := uuid.NewString()
	stakeKey := fmt.Sprintf("stake:%d:%d:%s", req.BetID, req.UserID, attemptID)

	if err := s.points.Debit(ctx, LedgerEntry{
		UserID:         req.UserID,
		Amount:         amount,
		Reason:         models.TransactionTypeBetStake,
		IdempotencyKey: stakeKey,
		BetID:          req.BetID,
	}); err != nil {
		return nil, err
	}

	participant, err = s.recordStake(ctx, req, amount, stakeKey)
	if err != nil {
		return nil, s.compensate(ctx, req, amount, attemptID, err)
	}

	log.WithFields(log.Fields{
		"betID":    req.BetID,
		"userID":   req.UserID,
		"optionID": req.OptionID,
		"amount":   amount,
	}).Info("Stake placed")
	return participant, nil
}

func (s *stakingService) loadDetail(ctx context.Context, betID int64) (*models.BetDetail, error) {
	return withStoreRetry(ctx, s.config.StoreRetryAttempts, func() (*models.BetDetail, error) {
		uow := s.uowFactory.Create()
		if err := uow.Begin(ctx); err != nil {
			return nil, fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer uow.Rollback()

		detail, err := uow.BetRepository().GetDetailByID(ctx, betID)
		if err != nil {
			return nil, fmt.Errorf("failed to get bet: %w", err)
		}
		if detail == nil {
			return nil, newError(KindNotFound, "bet %d not found", betID)
		}
		return detail, nil
	})
}

// checkStakeable applies the join preconditions in a fixed order
func checkStakeable(detail *models.BetDetail, req PlaceBetRequest, now time.Time) error {
	bet := detail.Bet
	if !bet.IsOpen() {
		return newError(KindInvalidState, "bet %d is %s and no longer accepts stakes", bet.ID, bet.Status)
	}
	if bet.IsExpired(now) {
		return newError(KindExpired, "bet %d expired at %s", bet.ID, bet.ExpiresAt.Format(time.RFC3339))
	}
	if detail.FindOption(req.OptionID) == nil {
		return newError(KindNotFound, "option %d does not belong to bet %d", req.OptionID, bet.ID)
	}
	if detail.FindParticipant(req.UserID) != nil {
		return NewAlreadyStakedError(bet.ID, req.UserID)
	}
	return nil
}

// acquireStakeLock waits for the per-(bet, user) lock. A lock backend that
// cannot be reached is logged and skipped; the row lock and the participation
// unique constraint still serialise the write.
func (s *stakingService) acquireStakeLock(ctx context.Context, req PlaceBetRequest) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	key := fmt.Sprintf("stake:%d:%d", req.BetID, req.UserID)
	ttl := s.config.StakeLockTTL

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 250 * time.Millisecond

	unlock, err := backoff.Retry(ctx, func() (func(), error) {
		unlock, err := s.locker.Acquire(ctx, key, ttl)
		if errors.Is(err, ErrLockHeld) {
			return nil, err
		}
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		return unlock, nil
	},
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(ttl),
	)
	if err == nil {
		return unlock, nil
	}
	if errors.Is(err, ErrLockHeld) {
		return nil, wrapError(KindUnavailable, err, "another stake for user %d on bet %d is still in progress", req.UserID, req.BetID)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, wrapError(KindUnavailable, err, "stake aborted")
	}

	log.WithFields(log.Fields{
		"betID":  req.BetID,
		"userID": req.UserID,
	}).WithError(err).Warn("Stake lock unavailable, relying on database serialisation")
	return func() {}, nil
}

// recordStake re-checks the preconditions under the bet row lock, inserts the
// participant and recomputes the pool from the stored rows
func (s *stakingService) recordStake(ctx context.Context, req PlaceBetRequest, amount int64, stakeKey string) (*models.BetParticipant, error) {
	return withStoreRetry(ctx, s.config.StoreRetryAttempts, func() (*models.BetParticipant, error) {
		uow := s.uowFactory.Create()
		if err := uow.Begin(ctx); err != nil {
			return nil, fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer uow.Rollback()

		bet, err := uow.BetRepository().GetForUpdate(ctx, req.BetID)
		if err != nil {
			return nil, fmt.Errorf("failed to lock bet: %w", err)
		}
		if bet == nil {
			return nil, newError(KindNotFound, "bet %d not found", req.BetID)
		}

		detail, err := uow.BetRepository().GetDetailByID(ctx, req.BetID)
		if err != nil {
			return nil, fmt.Errorf("failed to get bet detail: %w", err)
		}
		if detail == nil {
			return nil, newError(KindNotFound, "bet %d not found", req.BetID)
		}
		detail.Bet = bet
		if err := checkStakeable(detail, req, s.now()); err != nil {
			return nil, err
		}

		participant := &models.BetParticipant{
			BetID:          req.BetID,
			OptionID:       req.OptionID,
			UserID:         req.UserID,
			Amount:         amount,
			StakeReference: stakeKey,
		}
		if err := uow.BetRepository().AddParticipant(ctx, participant); err != nil {
			return nil, fmt.Errorf("failed to record stake: %w", err)
		}

		pool, err := uow.BetRepository().RecalculateTotalPool(ctx, req.BetID)
		if err != nil {
			return nil, fmt.Errorf("failed to recalculate pool: %w", err)
		}

		if err := uow.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit transaction: %w", err)
		}

		log.WithFields(log.Fields{
			"betID":     req.BetID,
			"totalPool": pool,
		}).Debug("Pool recalculated")
		return participant, nil
	})
}

// compensate refunds a debit whose stake could not be recorded. It returns
// the error the caller should see.
func (s *stakingService) compensate(ctx context.Context, req PlaceBetRequest, amount int64, attemptID string, cause error) error {
	refundKey := fmt.Sprintf("stake-refund:%d:%d:%s", req.BetID, req.UserID, attemptID)
	fields := log.Fields{
		"betID":     req.BetID,
		"userID":    req.UserID,
		"amount":    amount,
		"stakeKey":  fmt.Sprintf("stake:%d:%d:%s", req.BetID, req.UserID, attemptID),
		"refundKey": refundKey,
		"cause":     cause.Error(),
	}

	// The refund must go out even if the caller has gone away
	refundCtx := context.WithoutCancel(ctx)
	err := s.points.Credit(refundCtx, LedgerEntry{
		UserID:         req.UserID,
		Amount:         amount,
		Reason:         models.TransactionTypeStakeRefund,
		IdempotencyKey: refundKey,
		BetID:          req.BetID,
	})
	if err != nil {
		s.metrics.Compensation(observability.ResultFailure)
		log.WithFields(fields).WithError(err).Error("Compensating credit failed; stake debit needs manual reconciliation")
		return wrapError(KindUnavailable, errors.Join(cause, err),
			"stake for user %d on bet %d failed and the refund could not be applied", req.UserID, req.BetID)
	}

	s.metrics.Compensation(observability.ResultSuccess)
	log.WithFields(fields).Warn("Stake recording failed, debit refunded")
	return cause
}
