package service

import (
	"context"
	"errors"
	"fmt"

	"betledger/config"
	"betledger/models"

	log "github.com/sirupsen/logrus"
)

type pointsService struct {
	uowFactory UnitOfWorkFactory
	config     *config.Config
}

// NewPointsService creates the points ledger backed by the users and balance_history tables
func NewPointsService(uowFactory UnitOfWorkFactory, cfg *config.Config) PointsService {
	return &pointsService{
		uowFactory: uowFactory,
		config:     cfg,
	}
}

// Debit removes entry.Amount from the user's balance, failing with
// insufficient funds rather than going negative
func (s *pointsService) Debit(ctx context.Context, entry LedgerEntry) error {
	return s.apply(ctx, entry, true)
}

// Credit adds entry.Amount to the user's balance
func (s *pointsService) Credit(ctx context.Context, entry LedgerEntry) error {
	return s.apply(ctx, entry, false)
}

func (s *pointsService) apply(ctx context.Context, entry LedgerEntry, debit bool) error {
	if entry.UserID == 0 {
		return newError(KindValidation, "ledger entry requires a user")
	}
	if entry.Amount <= 0 {
		return newError(KindValidation, "ledger amount must be positive, got %d", entry.Amount)
	}
	if entry.IdempotencyKey == "" {
		return newError(KindValidation, "ledger entry requires an idempotency key")
	}

	return withStoreRetryErr(ctx, s.config.StoreRetryAttempts, func() error {
		err := s.applyOnce(ctx, entry, debit)
		if errors.Is(err, ErrDuplicateKey) {
			// A concurrent call with the same key committed first
			log.WithFields(log.Fields{
				"userID":         entry.UserID,
				"idempotencyKey": entry.IdempotencyKey,
			}).Info("Ledger entry already applied")
			return nil
		}
		return err
	})
}

func (s *pointsService) applyOnce(ctx context.Context, entry LedgerEntry, debit bool) error {
	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	existing, err := uow.BalanceHistoryRepository().GetByIdempotencyKey(ctx, entry.IdempotencyKey)
	if err != nil {
		return fmt.Errorf("failed to check idempotency key: %w", err)
	}
	if existing != nil {
		change := entry.Amount
		if debit {
			change = -entry.Amount
		}
		if existing.UserID != entry.UserID || existing.ChangeAmount != change {
			return newError(KindValidation, "idempotency key %s was already used for a different ledger entry", entry.IdempotencyKey)
		}
		log.WithFields(log.Fields{
			"userID":         entry.UserID,
			"idempotencyKey": entry.IdempotencyKey,
		}).Debug("Skipping replayed ledger entry")
		return nil
	}

	var newBalance int64
	change := entry.Amount
	if debit {
		change = -entry.Amount
		newBalance, err = uow.UserRepository().DeductBalance(ctx, entry.UserID, entry.Amount)
	} else {
		newBalance, err = uow.UserRepository().AddBalance(ctx, entry.UserID, entry.Amount)
	}
	if err != nil {
		return err
	}

	key := entry.IdempotencyKey
	history := &models.BalanceHistory{
		UserID:          entry.UserID,
		BalanceBefore:   newBalance - change,
		BalanceAfter:    newBalance,
		ChangeAmount:    change,
		TransactionType: entry.Reason,
		IdempotencyKey:  &key,
		TransactionMetadata: map[string]any{
			"idempotency_key": key,
		},
	}
	if entry.BetID != 0 {
		betID := entry.BetID
		relatedType := models.RelatedTypeBet
		history.RelatedID = &betID
		history.RelatedType = &relatedType
		history.TransactionMetadata["bet_id"] = betID
	}

	if err := RecordBalanceChange(ctx, uow, history); err != nil {
		return err
	}

	if err := uow.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetOrCreateUser retrieves an existing user or creates a new one with the starting balance
func (s *pointsService) GetOrCreateUser(ctx context.Context, userID int64, username string) (*models.User, error) {
	if userID == 0 {
		return nil, newError(KindValidation, "user id is required")
	}

	return withStoreRetry(ctx, s.config.StoreRetryAttempts, func() (*models.User, error) {
		uow := s.uowFactory.Create()
		if err := uow.Begin(ctx); err != nil {
			return nil, fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer uow.Rollback()

		user, err := uow.UserRepository().GetByID(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to check existing user: %w", err)
		}
		if user != nil {
			return user, nil
		}

		user, err = uow.UserRepository().Create(ctx, userID, username, s.config.StartingBalance)
		if err != nil {
			return nil, fmt.Errorf("failed to create user: %w", err)
		}

		key := fmt.Sprintf("initial:%d", userID)
		history := &models.BalanceHistory{
			UserID:          userID,
			BalanceBefore:   0,
			BalanceAfter:    s.config.StartingBalance,
			ChangeAmount:    s.config.StartingBalance,
			TransactionType: models.TransactionTypeInitial,
			IdempotencyKey:  &key,
			TransactionMetadata: map[string]any{
				"username": username,
			},
		}
		if err := RecordBalanceChange(ctx, uow, history); err != nil {
			return nil, fmt.Errorf("failed to record initial balance: %w", err)
		}

		if err := uow.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit transaction: %w", err)
		}

		log.WithFields(log.Fields{
			"userID":  userID,
			"balance": user.Balance,
		}).Info("Created points account")
		return user, nil
	})
}

// GetBalance returns a user's current balance
func (s *pointsService) GetBalance(ctx context.Context, userID int64) (int64, error) {
	return withStoreRetry(ctx, s.config.StoreRetryAttempts, func() (int64, error) {
		uow := s.uowFactory.Create()
		if err := uow.Begin(ctx); err != nil {
			return 0, fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer uow.Rollback()

		user, err := uow.UserRepository().GetByID(ctx, userID)
		if err != nil {
			return 0, fmt.Errorf("failed to get user: %w", err)
		}
		if user == nil {
			return 0, newError(KindNotFound, "user %d not found", userID)
		}
		return user.Balance, nil
	})
}

// GetHistory returns a user's most recent balance changes
func (s *pointsService) GetHistory(ctx context.Context, userID int64, limit int) ([]*models.BalanceHistory, error) {
	if limit <= 0 {
		limit = 50
	}
	return withStoreRetry(ctx, s.config.StoreRetryAttempts, func() ([]*models.BalanceHistory, error) {
		uow := s.uowFactory.Create()
		if err := uow.Begin(ctx); err != nil {
			return nil, fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer uow.Rollback()

		return uow.BalanceHistoryRepository().GetByUser(ctx, userID, limit)
	})
}
