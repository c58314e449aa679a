package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"betledger/config"
	"betledger/events"
	"betledger/models"
	"betledger/observability"

	"github.com/cenkalti/backoff/v5"
	log "github.com/sirupsen/logrus"
)

type settlementService struct {
	uowFactory UnitOfWorkFactory
	points     PointsLedger
	config     *config.Config
	now        func() time.Time
	metrics    *observability.Metrics
}

// NewSettlementService creates the settlement engine
func NewSettlementService(uowFactory UnitOfWorkFactory, points PointsLedger, cfg *config.Config, opts ...Option) SettlementService {
	o := newServiceOptions(opts)
	return &settlementService{
		uowFactory: uowFactory,
		points:     points,
		config:     cfg,
		now:        o.now,
		metrics:    o.metrics,
	}
}

// settlement is what the resolving transaction hands to the payout phase
type settlement struct {
	detail  *models.BetDetail
	winners []*models.BetParticipant
	payouts []*models.BetPayout
}

// ResolveBet completes the bet in one transaction, then credits each winner.
// Credits that fail stay queued and are reported in a PartialSettlementFailure;
// applied credits are never reverted.
func (s *settlementService) ResolveBet(ctx context.Context, req ResolveBetRequest) (*models.BetResults, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	settled, err := withStoreRetry(ctx, s.config.StoreRetryAttempts, func() (*settlement, error) {
		return s.completeBet(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	s.metrics.Settled()

	bet := settled.detail.Bet
	log.WithFields(log.Fields{
		"betID":             bet.ID,
		"winningOptionID":   req.WinningOptionID,
		"winners":           len(settled.winners),
		"totalPool":         bet.TotalPool,
		"winningsPerPerson": *bet.WinningsPerPerson,
		"roundingRemainder": *bet.RoundingRemainder,
	}).Info("Bet resolved")

	// Payouts run after the commit; each credit is keyed so a retry or a
	// later reconciliation never pays twice
	var resolved, failed []int64
	for _, payout := range settled.payouts {
		if err := s.payOut(ctx, payout); err != nil {
			failed = append(failed, payout.UserID)
			continue
		}
		resolved = append(resolved, payout.UserID)
	}

	results := buildResults(settled.detail, settled.payouts)
	if len(failed) > 0 {
		log.WithFields(log.Fields{
			"betID":         bet.ID,
			"paidWinners":   resolved,
			"failedWinners": failed,
		}).Error("Partial settlement failure; unpaid winners queued for reconciliation")
		return results, &PartialSettlementFailure{
			BetID:           bet.ID,
			ResolvedWinners: resolved,
			FailedWinners:   failed,
		}
	}
	return results, nil
}

// completeBet performs the state check, the split and the status write under the bet row lock
func (s *settlementService) completeBet(ctx context.Context, req ResolveBetRequest) (*settlement, error) {
	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	bets := uow.BetRepository()
	bet, err := bets.GetForUpdate(ctx, req.BetID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock bet: %w", err)
	}
	if bet == nil {
		return nil, newError(KindNotFound, "bet %d not found", req.BetID)
	}
	if bet.CreatorID != req.RequesterID {
		return nil, newError(KindUnauthorized, "only the creator can resolve bet %d", bet.ID)
	}

	now := s.now()
	switch bet.Status {
	case models.BetStatusCompleted:
		return nil, newError(KindInvalidState, "bet %d is already completed", bet.ID)
	case models.BetStatusOpen:
		if !bet.IsExpired(now) {
			return nil, newError(KindInvalidState, "bet %d is still open; lock it before resolving", bet.ID)
		}
		if err := bets.TransitionStatus(ctx, bet.ID, models.BetStatusOpen, models.BetStatusLocked, now); err != nil {
			return nil, fmt.Errorf("failed to lock expired bet: %w", err)
		}
		bet.Status = models.BetStatusLocked
		bet.LockedAt = &now
	}

	detail, err := bets.GetDetailByID(ctx, bet.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get bet detail: %w", err)
	}
	if detail == nil {
		return nil, newError(KindNotFound, "bet %d not found", bet.ID)
	}
	detail.Bet = bet

	if detail.FindOption(req.WinningOptionID) == nil {
		return nil, newError(KindNotFound, "option %d does not belong to bet %d", req.WinningOptionID, bet.ID)
	}

	winners := detail.GetParticipantsByOption()[req.WinningOptionID]
	totalPool := bet.ExpectedPool(len(detail.Participants))
	perPerson, remainder := models.SplitPool(totalPool, len(winners))

	outcome := &models.BetOutcome{
		WinningOptionID:   req.WinningOptionID,
		WinningsPerPerson: perPerson,
		RoundingRemainder: remainder,
		TotalPool:         totalPool,
		ResolvedAt:        now,
	}
	if err := bets.Complete(ctx, bet.ID, outcome); err != nil {
		return nil, fmt.Errorf("failed to complete bet: %w", err)
	}

	payouts := make([]*models.BetPayout, 0, len(winners))
	if perPerson > 0 {
		for _, winner := range winners {
			payouts = append(payouts, &models.BetPayout{
				BetID:          bet.ID,
				UserID:         winner.UserID,
				Amount:         perPerson,
				Status:         models.PayoutStatusPending,
				IdempotencyKey: models.PayoutIdempotencyKey(bet.ID, winner.UserID),
			})
		}
		if err := uow.PayoutRepository().CreatePending(ctx, payouts); err != nil {
			return nil, fmt.Errorf("failed to queue payouts: %w", err)
		}
	}

	uow.EventBus().Publish(events.BetResolvedEvent{
		BetID:           bet.ID,
		WinningOptionID: req.WinningOptionID,
		WinnersCount:    len(winners),
	})

	if err := uow.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	winningOptionID := req.WinningOptionID
	bet.Status = models.BetStatusCompleted
	bet.WinningOptionID = &winningOptionID
	bet.WinningsPerPerson = &perPerson
	bet.RoundingRemainder = &remainder
	bet.TotalPool = totalPool
	bet.ResolvedAt = &now

	return &settlement{detail: detail, winners: winners, payouts: payouts}, nil
}

// payOut credits one winner with bounded retries and records the outcome on
// the payout row. The row update is best effort: an unrecorded success is
// safe to replay because the credit is keyed.
func (s *settlementService) payOut(ctx context.Context, payout *models.BetPayout) error {
	entry := LedgerEntry{
		UserID:         payout.UserID,
		Amount:         payout.Amount,
		Reason:         models.TransactionTypeBetPayout,
		IdempotencyKey: payout.IdempotencyKey,
		BetID:          payout.BetID,
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second

	_, creditErr := backoff.Retry(ctx, func() (struct{}, error) {
		err := s.points.Credit(ctx, entry)
		if err == nil {
			return struct{}{}, nil
		}
		switch KindOf(err) {
		case KindUnavailable, KindInternal:
			return struct{}{}, err
		default:
			return struct{}{}, backoff.Permanent(err)
		}
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(s.config.PayoutRetryAttempts),
	)

	now := s.now()
	payout.Attempts++
	if creditErr == nil {
		payout.Status = models.PayoutStatusPaid
		payout.PaidAt = &now
		payout.LastError = nil
	} else {
		reason := creditErr.Error()
		payout.Status = models.PayoutStatusFailed
		payout.LastError = &reason
	}

	recordCtx := context.WithoutCancel(ctx)
	recordErr := withStoreRetryErr(recordCtx, s.config.StoreRetryAttempts, func() error {
		uow := s.uowFactory.Create()
		if err := uow.Begin(recordCtx); err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer uow.Rollback()

		var err error
		if creditErr == nil {
			err = uow.PayoutRepository().MarkPaid(recordCtx, payout.ID, now)
		} else {
			err = uow.PayoutRepository().MarkFailed(recordCtx, payout.ID, creditErr.Error())
		}
		if err != nil {
			return err
		}
		return uow.Commit()
	})
	if recordErr != nil {
		log.WithFields(log.Fields{
			"betID":          payout.BetID,
			"userID":         payout.UserID,
			"idempotencyKey": payout.IdempotencyKey,
			"credited":       creditErr == nil,
		}).WithError(recordErr).Error("Failed to record payout status")
	}

	fields := log.Fields{
		"betID":          payout.BetID,
		"userID":         payout.UserID,
		"amount":         payout.Amount,
		"idempotencyKey": payout.IdempotencyKey,
	}
	if creditErr != nil {
		s.metrics.Payout(observability.ResultFailure)
		log.WithFields(fields).WithError(creditErr).Error("Payout credit failed")
		return creditErr
	}
	s.metrics.Payout(observability.ResultSuccess)
	log.WithFields(fields).Info("Payout credited")
	return nil
}

// GetBetResults returns the settlement projection of a completed bet
func (s *settlementService) GetBetResults(ctx context.Context, betID int64) (*models.BetResults, error) {
	return withStoreRetry(ctx, s.config.StoreRetryAttempts, func() (*models.BetResults, error) {
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
		if !detail.Bet.IsCompleted() {
			return nil, newError(KindResultsNotAvailable, "bet %d has not been resolved", betID)
		}

		payouts, err := uow.PayoutRepository().GetByBet(ctx, betID)
		if err != nil {
			return nil, fmt.Errorf("failed to get payouts: %w", err)
		}
		return buildResults(detail, payouts), nil
	})
}

func buildResults(detail *models.BetDetail, payouts []*models.BetPayout) *models.BetResults {
	bet := detail.Bet
	results := &models.BetResults{
		Bet:       bet,
		Winners:   []int64{},
		TotalPool: bet.TotalPool,
		Payouts:   payouts,
	}
	if results.Payouts == nil {
		results.Payouts = []*models.BetPayout{}
	}
	if bet.WinningsPerPerson != nil {
		results.WinningsPerPerson = *bet.WinningsPerPerson
	}
	if bet.RoundingRemainder != nil {
		results.RoundingRemainder = *bet.RoundingRemainder
	}
	if bet.WinningOptionID != nil {
		results.WinningOption = detail.FindOption(*bet.WinningOptionID)
		for _, participant := range detail.Participants {
			if participant.OptionID == *bet.WinningOptionID {
				results.Winners = append(results.Winners, participant.UserID)
			}
		}
	}
	results.WinnersCount = len(results.Winners)
	return results
}

// GetBetStats returns per-option participation for a bet in any status
func (s *settlementService) GetBetStats(ctx context.Context, betID int64) (*models.BetStats, error) {
	return withStoreRetry(ctx, s.config.StoreRetryAttempts, func() (*models.BetStats, error) {
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
		return computeStats(detail, s.now()), nil
	})
}

func computeStats(detail *models.BetDetail, now time.Time) *models.BetStats {
	byOption := detail.GetParticipantsByOption()
	total := len(detail.Participants)

	stats := &models.BetStats{
		BetID:             detail.Bet.ID,
		Status:            detail.Bet.EffectiveStatus(now),
		TotalParticipants: total,
		TotalPool:         detail.Bet.ExpectedPool(total),
		Options:           make([]*models.OptionStats, 0, len(detail.Options)),
	}
	for _, option := range detail.Options {
		count := len(byOption[option.ID])
		percentage := 0
		if total > 0 {
			percentage = int(math.Round(100 * float64(count) / float64(total)))
		}
		stats.Options = append(stats.Options, &models.OptionStats{
			OptionID:     option.ID,
			OptionText:   option.OptionText,
			Participants: count,
			Percentage:   percentage,
		})
	}
	return stats
}

// ListUnsettledPayouts returns pending and failed payouts, oldest first
func (s *settlementService) ListUnsettledPayouts(ctx context.Context, limit int) ([]*models.BetPayout, error) {
	if limit <= 0 {
		limit = s.config.ReconcileBatchSize
	}
	return withStoreRetry(ctx, s.config.StoreRetryAttempts, func() ([]*models.BetPayout, error) {
		uow := s.uowFactory.Create()
		if err := uow.Begin(ctx); err != nil {
			return nil, fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer uow.Rollback()

		return uow.PayoutRepository().ListUnsettled(ctx, limit)
	})
}

// ReconcilePayouts retries unsettled payouts using their original idempotency keys
func (s *settlementService) ReconcilePayouts(ctx context.Context, limit int) (*models.ReconcileSummary, error) {
	payouts, err := s.ListUnsettledPayouts(ctx, limit)
	if err != nil {
		return nil, err
	}

	summary := &models.ReconcileSummary{BetIDs: []int64{}}
	seen := make(map[int64]struct{})
	for _, payout := range payouts {
		if err := ctx.Err(); err != nil {
			return summary, wrapError(KindUnavailable, err, "reconciliation aborted")
		}
		summary.Attempted++
		if _, ok := seen[payout.BetID]; !ok {
			seen[payout.BetID] = struct{}{}
			summary.BetIDs = append(summary.BetIDs, payout.BetID)
		}

		if err := s.payOut(ctx, payout); err != nil {
			if errors.Is(err, context.Canceled) {
				return summary, wrapError(KindUnavailable, err, "reconciliation aborted")
			}
			summary.Failed++
			continue
		}
		summary.Paid++
	}

	if summary.Attempted > 0 {
		log.WithFields(log.Fields{
			"attempted": summary.Attempted,
			"paid":      summary.Paid,
			"failed":    summary.Failed,
		}).Info("Payout reconciliation finished")
	}
	return summary, nil
}
