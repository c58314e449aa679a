package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"betledger/database"
	"betledger/models"
	"betledger/service"
	"github.com/jackc/pgx/v5"
)

const balanceHistoryIdempotencyConstraint = "balance_history_idempotency_key_key"

// BalanceHistoryRepository implements the BalanceHistoryRepository interface
type BalanceHistoryRepository struct {
	q queryable
}

// NewBalanceHistoryRepository creates a new balance history repository
func NewBalanceHistoryRepository(db *database.DB) *BalanceHistoryRepository {
	return &BalanceHistoryRepository{q: db.Pool}
}

// newBalanceHistoryRepositoryWithTx creates a new balance history repository with a transaction
func newBalanceHistoryRepositoryWithTx(tx queryable) *BalanceHistoryRepository {
	return &BalanceHistoryRepository{q: tx}
}

const balanceHistoryColumns = `
	id, user_id, balance_before, balance_after, change_amount,
	transaction_type, transaction_metadata, idempotency_key, related_id, related_type, created_at
`

// Record creates a new balance history entry
func (r *BalanceHistoryRepository) Record(ctx context.Context, history *models.BalanceHistory) error {
	metadataJSON, err := json.Marshal(history.TransactionMetadata)
	if err != nil {
		return fmt.Errorf("failed to marshal transaction metadata: %w", err)
	}

	query := `
		INSERT INTO balance_history
		(user_id, balance_before, balance_after, change_amount, transaction_type, transaction_metadata, idempotency_key, related_id, related_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`

	err = r.q.QueryRow(ctx, query,
		history.UserID,
		history.BalanceBefore,
		history.BalanceAfter,
		history.ChangeAmount,
		history.TransactionType,
		metadataJSON,
		history.IdempotencyKey,
		history.RelatedID,
		history.RelatedType,
	).Scan(&history.ID, &history.CreatedAt)
	if isUniqueViolation(err, balanceHistoryIdempotencyConstraint) {
		return fmt.Errorf("balance history key %s: %w", derefString(history.IdempotencyKey), service.ErrDuplicateKey)
	}
	if err != nil {
		return fmt.Errorf("failed to record balance history for user %d: %w", history.UserID, classifyError(err))
	}

	return nil
}

// GetByIdempotencyKey returns the entry recorded under key
func (r *BalanceHistoryRepository) GetByIdempotencyKey(ctx context.Context, key string) (*models.BalanceHistory, error) {
	query := `SELECT ` + balanceHistoryColumns + ` FROM balance_history WHERE idempotency_key = $1`

	history, err := scanBalanceHistory(r.q.QueryRow(ctx, query, key))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get balance history for key %s: %w", key, classifyError(err))
	}

	return history, nil
}

// GetByUser returns balance history for a specific user, newest first
func (r *BalanceHistoryRepository) GetByUser(ctx context.Context, userID int64, limit int) ([]*models.BalanceHistory, error) {
	query := `SELECT ` + balanceHistoryColumns + `
		FROM balance_history
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	rows, err := r.q.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query balance history: %w", classifyError(err))
	}
	defer rows.Close()

	var histories []*models.BalanceHistory
	for rows.Next() {
		history, err := scanBalanceHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan balance history: %w", err)
		}
		histories = append(histories, history)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating balance history: %w", classifyError(err))
	}

	return histories, nil
}

func scanBalanceHistory(row pgx.Row) (*models.BalanceHistory, error) {
	var history models.BalanceHistory
	var metadataJSON []byte

	err := row.Scan(
		&history.ID,
		&history.UserID,
		&history.BalanceBefore,
		&history.BalanceAfter,
		&history.ChangeAmount,
		&history.TransactionType,
		&metadataJSON,
		&history.IdempotencyKey,
		&history.RelatedID,
		&history.RelatedType,
		&history.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &history.TransactionMetadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal transaction metadata: %w", err)
		}
	}

	return &history, nil
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
