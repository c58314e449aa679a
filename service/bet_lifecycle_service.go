package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"betledger/config"
	"betledger/events"
	"betledger/models"
	"betledger/observability"

	log "github.com/sirupsen/logrus"
)

type betLifecycleService struct {
	uowFactory UnitOfWorkFactory
	membership MembershipChecker
	config     *config.Config
	now        func() time.Time
	metrics    *observability.Metrics
}

// NewBetLifecycleService creates the service that opens, edits, locks and deletes bets
func NewBetLifecycleService(uowFactory UnitOfWorkFactory, membership MembershipChecker, cfg *config.Config, opts ...Option) BetLifecycleService {
	o := newServiceOptions(opts)
	return &betLifecycleService{
		uowFactory: uowFactory,
		membership: membership,
		config:     cfg,
		now:        o.now,
		metrics:    o.metrics,
	}
}

// CreateBet opens a new bet in a group the creator belongs to
func (s *betLifecycleService) CreateBet(ctx context.Context, req CreateBetRequest) (*models.BetDetail, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, newError(KindValidation, "question cannot be empty")
	}
	optionTexts, err := normalizeOptions(req.Options)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if !req.ExpiresAt.After(now) {
		return nil, newError(KindValidation, "expiresAt must be in the future")
	}

	member, err := s.membership.IsMember(ctx, req.GroupID, req.CreatorID)
	if err != nil {
		return nil, fmt.Errorf("failed to check group membership: %w", err)
	}
	if !member {
		return nil, newError(KindUnauthorized, "user %d is not a member of group %d", req.CreatorID, req.GroupID)
	}

	detail, err := withStoreRetry(ctx, s.config.StoreRetryAttempts, func() (*models.BetDetail, error) {
		uow := s.uowFactory.Create()
		if err := uow.Begin(ctx); err != nil {
			return nil, fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer uow.Rollback()

		bet := &models.Bet{
			GroupID:     req.GroupID,
			CreatorID:   req.CreatorID,
			Question:    question,
			WagerAmount: req.WagerAmount,
			TotalPool:   0,
			Status:      models.BetStatusOpen,
			ExpiresAt:   req.ExpiresAt.UTC(),
		}
		options := make([]*models.BetOption, 0, len(optionTexts))
		for i, text := range optionTexts {
			options = append(options, &models.BetOption{
				OptionText:  text,
				OptionOrder: int16(i),
			})
		}

		if err := uow.BetRepository().Create(ctx, bet, options); err != nil {
			return nil, fmt.Errorf("failed to create bet: %w", err)
		}

		uow.EventBus().Publish(events.BetCreatedEvent{
			BetID:     bet.ID,
			GroupID:   bet.GroupID,
			CreatorID: bet.CreatorID,
		})

		if err := uow.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit transaction: %w", err)
		}

		return &models.BetDetail{
			Bet:          bet,
			Options:      options,
			Participants: []*models.BetParticipant{},
		}, nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.BetCreated()
	log.WithFields(log.Fields{
		"betID":       detail.Bet.ID,
		"groupID":     detail.Bet.GroupID,
		"creatorID":   detail.Bet.CreatorID,
		"options":     len(detail.Options),
		"wagerAmount": detail.Bet.WagerAmount,
		"expiresAt":   detail.Bet.ExpiresAt,
	}).Info("Bet created")

	return detail, nil
}

// GetBet returns a bet with its options and participants. An open bet found
// past its expiry is locked on the way out.
func (s *betLifecycleService) GetBet(ctx context.Context, betID int64) (*models.BetDetail, error) {
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

		now := s.now()
		if detail.Bet.IsOpen() && detail.Bet.IsExpired(now) {
			locked, err := s.lockExpired(ctx, uow, detail.Bet, now)
			if err != nil {
				return nil, err
			}
			if locked {
				if err := uow.Commit(); err != nil {
					return nil, fmt.Errorf("failed to commit transaction: %w", err)
				}
				s.metrics.BetLocked(observability.TriggerExpiry, 1)
			}
		}

		return detail, nil
	})
}

// lockExpired persists the open to locked transition for an expired bet.
// Losing the race to another writer is not an error.
func (s *betLifecycleService) lockExpired(ctx context.Context, uow UnitOfWork, bet *models.Bet, now time.Time) (bool, error) {
	err := uow.BetRepository().TransitionStatus(ctx, bet.ID, models.BetStatusOpen, models.BetStatusLocked, now)
	if errors.Is(err, ErrInvalidState) {
		bet.Status = models.BetStatusLocked
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to lock expired bet %d: %w", bet.ID, err)
	}
	bet.Status = models.BetStatusLocked
	bet.LockedAt = &now
	return true, nil
}

// EditBet changes the question or option texts while the bet is open
func (s *betLifecycleService) EditBet(ctx context.Context, req EditBetRequest) (*models.BetDetail, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	patch := &models.BetPatch{}
	if req.Question != nil {
		question := strings.TrimSpace(*req.Question)
		if question == "" {
			return nil, newError(KindValidation, "question cannot be empty")
		}
		patch.Question = &question
	}
	if len(req.OptionTexts) > 0 {
		patch.OptionTexts = make(map[int64]string, len(req.OptionTexts))
		for optionID, text := range req.OptionTexts {
			text = strings.TrimSpace(text)
			if text == "" {
				return nil, newError(KindValidation, "option %d text cannot be empty", optionID)
			}
			patch.OptionTexts[optionID] = text
		}
	}
	if patch.IsEmpty() {
		return nil, newError(KindValidation, "nothing to edit")
	}

	return withStoreRetry(ctx, s.config.StoreRetryAttempts, func() (*models.BetDetail, error) {
		uow := s.uowFactory.Create()
		if err := uow.Begin(ctx); err != nil {
			return nil, fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer uow.Rollback()

		bet, err := uow.BetRepository().GetForUpdate(ctx, req.BetID)
		if err != nil {
			return nil, fmt.Errorf("failed to get bet: %w", err)
		}
		if bet == nil {
			return nil, newError(KindNotFound, "bet %d not found", req.BetID)
		}
		if bet.CreatorID != req.RequesterID {
			return nil, newError(KindUnauthorized, "only the creator can edit bet %d", bet.ID)
		}
		if status := bet.EffectiveStatus(s.now()); status != models.BetStatusOpen {
			return nil, newError(KindInvalidState, "bet %d cannot be edited while %s", bet.ID, status)
		}

		detail, err := uow.BetRepository().GetDetailByID(ctx, req.BetID)
		if err != nil {
			return nil, fmt.Errorf("failed to get bet detail: %w", err)
		}
		if detail == nil {
			return nil, newError(KindNotFound, "bet %d not found", req.BetID)
		}
		if err := checkOptionEdits(detail, patch); err != nil {
			return nil, err
		}

		if _, err := uow.BetRepository().Update(ctx, req.BetID, patch); err != nil {
			return nil, fmt.Errorf("failed to update bet: %w", err)
		}

		updated, err := uow.BetRepository().GetDetailByID(ctx, req.BetID)
		if err != nil {
			return nil, fmt.Errorf("failed to reload bet: %w", err)
		}

		if err := uow.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit transaction: %w", err)
		}

		log.WithFields(log.Fields{
			"betID":          req.BetID,
			"questionEdited": patch.Question != nil,
			"optionsEdited":  len(patch.OptionTexts),
		}).Info("Bet edited")
		return updated, nil
	})
}

// checkOptionEdits rejects unknown option IDs and edits that would make two options read the same
func checkOptionEdits(detail *models.BetDetail, patch *models.BetPatch) error {
	if len(patch.OptionTexts) == 0 {
		return nil
	}
	for optionID := range patch.OptionTexts {
		if detail.FindOption(optionID) == nil {
			return newError(KindNotFound, "option %d does not belong to bet %d", optionID, detail.Bet.ID)
		}
	}

	texts := make([]string, 0, len(detail.Options))
	for _, option := range detail.Options {
		text := option.OptionText
		if edited, ok := patch.OptionTexts[option.ID]; ok {
			text = edited
		}
		texts = append(texts, text)
	}
	_, err := normalizeOptions(texts)
	return err
}

// DeleteBet removes an open bet nobody has staked on
func (s *betLifecycleService) DeleteBet(ctx context.Context, betID, requesterID int64) error {
	return withStoreRetryErr(ctx, s.config.StoreRetryAttempts, func() error {
		uow := s.uowFactory.Create()
		if err := uow.Begin(ctx); err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer uow.Rollback()

		bet, err := uow.BetRepository().GetForUpdate(ctx, betID)
		if err != nil {
			return fmt.Errorf("failed to get bet: %w", err)
		}
		if bet == nil {
			return newError(KindNotFound, "bet %d not found", betID)
		}
		if bet.CreatorID != requesterID {
			return newError(KindUnauthorized, "only the creator can delete bet %d", betID)
		}
		if status := bet.EffectiveStatus(s.now()); status != models.BetStatusOpen {
			return newError(KindInvalidState, "bet %d cannot be deleted while %s", betID, status)
		}

		count, err := uow.BetRepository().CountParticipants(ctx, betID)
		if err != nil {
			return fmt.Errorf("failed to count participants: %w", err)
		}
		if count > 0 {
			return newError(KindInvalidState, "bet %d has %d participants and cannot be deleted", betID, count)
		}

		if err := uow.BetRepository().Delete(ctx, betID); err != nil {
			return fmt.Errorf("failed to delete bet: %w", err)
		}
		if err := uow.Commit(); err != nil {
			return fmt.Errorf("failed to commit transaction: %w", err)
		}

		log.WithFields(log.Fields{
			"betID":       betID,
			"requesterID": requesterID,
		}).Info("Bet deleted")
		return nil
	})
}

// LockBet closes an open bet to new stakes on request of its creator or an admin
func (s *betLifecycleService) LockBet(ctx context.Context, betID, requesterID int64) (*models.Bet, error) {
	bet, err := withStoreRetry(ctx, s.config.StoreRetryAttempts, func() (*models.Bet, error) {
		uow := s.uowFactory.Create()
		if err := uow.Begin(ctx); err != nil {
			return nil, fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer uow.Rollback()

		bet, err := uow.BetRepository().GetForUpdate(ctx, betID)
		if err != nil {
			return nil, fmt.Errorf("failed to get bet: %w", err)
		}
		if bet == nil {
			return nil, newError(KindNotFound, "bet %d not found", betID)
		}
		if bet.CreatorID != requesterID && !s.config.IsAdmin(requesterID) {
			return nil, newError(KindUnauthorized, "only the creator or an admin can lock bet %d", betID)
		}
		if !bet.IsOpen() {
			return nil, newError(KindInvalidState, "bet %d is already %s", betID, bet.Status)
		}

		now := s.now()
		if err := uow.BetRepository().TransitionStatus(ctx, betID, models.BetStatusOpen, models.BetStatusLocked, now); err != nil {
			return nil, fmt.Errorf("failed to lock bet: %w", err)
		}
		if err := uow.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit transaction: %w", err)
		}

		bet.Status = models.BetStatusLocked
		bet.LockedAt = &now
		return bet, nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.BetLocked(observability.TriggerExplicit, 1)
	log.WithFields(log.Fields{
		"betID":       betID,
		"requesterID": requesterID,
	}).Info("Bet locked")
	return bet, nil
}

// ListBetsByGroup returns a group's bets with their effective status
func (s *betLifecycleService) ListBetsByGroup(ctx context.Context, groupID int64) ([]*models.Bet, error) {
	return s.list(ctx, func(uow UnitOfWork) ([]*models.Bet, error) {
		return uow.BetRepository().ListByGroup(ctx, groupID)
	})
}

// ListBetsByUser returns bets the user created or staked on
func (s *betLifecycleService) ListBetsByUser(ctx context.Context, userID int64) ([]*models.Bet, error) {
	return s.list(ctx, func(uow UnitOfWork) ([]*models.Bet, error) {
		return uow.BetRepository().ListByUser(ctx, userID)
	})
}

func (s *betLifecycleService) list(ctx context.Context, query func(uow UnitOfWork) ([]*models.Bet, error)) ([]*models.Bet, error) {
	return withStoreRetry(ctx, s.config.StoreRetryAttempts, func() ([]*models.Bet, error) {
		uow := s.uowFactory.Create()
		if err := uow.Begin(ctx); err != nil {
			return nil, fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer uow.Rollback()

		bets, err := query(uow)
		if err != nil {
			return nil, fmt.Errorf("failed to list bets: %w", err)
		}

		now := s.now()
		for _, bet := range bets {
			bet.Status = bet.EffectiveStatus(now)
		}
		return bets, nil
	})
}

// TransitionExpiredBets locks every open bet whose expiry has passed
func (s *betLifecycleService) TransitionExpiredBets(ctx context.Context) (int, error) {
	locked, err := withStoreRetry(ctx, s.config.StoreRetryAttempts, func() (int, error) {
		uow := s.uowFactory.Create()
		if err := uow.Begin(ctx); err != nil {
			return 0, fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer uow.Rollback()

		now := s.now()
		expired, err := uow.BetRepository().GetExpiredOpen(ctx, now)
		if err != nil {
			return 0, fmt.Errorf("failed to get expired bets: %w", err)
		}

		count := 0
		for _, bet := range expired {
			ok, err := s.lockExpired(ctx, uow, bet, now)
			if err != nil {
				return 0, err
			}
			if ok {
				count++
			}
		}

		if err := uow.Commit(); err != nil {
			return 0, fmt.Errorf("failed to commit transaction: %w", err)
		}
		return count, nil
	})
	if err != nil {
		return 0, err
	}

	if locked > 0 {
		s.metrics.BetLocked(observability.TriggerExpiry, locked)
		log.WithField("count", locked).Info("Locked expired bets")
	}
	return locked, nil
}

// NotifyExpiringBets emits bet.expiring once for every open bet expiring
// within the configured notice window
func (s *betLifecycleService) NotifyExpiringBets(ctx context.Context) (int, error) {
	notified, err := withStoreRetry(ctx, s.config.StoreRetryAttempts, func() (int, error) {
		uow := s.uowFactory.Create()
		if err := uow.Begin(ctx); err != nil {
			return 0, fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer uow.Rollback()

		now := s.now()
		expiring, err := uow.BetRepository().GetExpiringUnnotified(ctx, now, now.Add(s.config.ExpiringNoticeWindow))
		if err != nil {
			return 0, fmt.Errorf("failed to get expiring bets: %w", err)
		}

		for _, bet := range expiring {
			if err := uow.BetRepository().MarkExpiringNotified(ctx, bet.ID, now); err != nil {
				return 0, fmt.Errorf("failed to mark bet %d notified: %w", bet.ID, err)
			}
			uow.EventBus().Publish(events.BetExpiringEvent{
				BetID:     bet.ID,
				ExpiresAt: bet.ExpiresAt,
			})
		}

		if err := uow.Commit(); err != nil {
			return 0, fmt.Errorf("failed to commit transaction: %w", err)
		}
		return len(expiring), nil
	})
	if err != nil {
		return 0, err
	}

	s.metrics.ExpiringNotice(notified)
	return notified, nil
}
