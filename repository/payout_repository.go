package repository

import (
	"context"
	"fmt"
	"time"

	"betledger/database"
	"betledger/models"
	"betledger/service"
	"github.com/jackc/pgx/v5"
)

const payoutColumns = `
	id, bet_id, user_id, amount, status, idempotency_key, attempts, last_error, paid_at, created_at, updated_at
`

// PayoutRepository implements the PayoutRepository interface
type PayoutRepository struct {
	q queryable
}

// NewPayoutRepository creates a new payout repository
func NewPayoutRepository(db *database.DB) *PayoutRepository {
	return &PayoutRepository{q: db.Pool}
}

func newPayoutRepositoryWithTx(tx queryable) *PayoutRepository {
	return &PayoutRepository{q: tx}
}

// CreatePending inserts pending payout rows
func (r *PayoutRepository) CreatePending(ctx context.Context, payouts []*models.BetPayout) error {
	query := `
		INSERT INTO bet_payouts (bet_id, user_id, amount, status, idempotency_key)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`

	for _, payout := range payouts {
		payout.Status = models.PayoutStatusPending
		err := r.q.QueryRow(ctx, query,
			payout.BetID,
			payout.UserID,
			payout.Amount,
			payout.Status,
			payout.IdempotencyKey,
		).Scan(&payout.ID, &payout.CreatedAt, &payout.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to create payout for user %d on bet %d: %w", payout.UserID, payout.BetID, classifyError(err))
		}
	}

	return nil
}

// GetByBet returns a bet's payouts ordered by ID
func (r *PayoutRepository) GetByBet(ctx context.Context, betID int64) ([]*models.BetPayout, error) {
	query := `SELECT ` + payoutColumns + ` FROM bet_payouts WHERE bet_id = $1 ORDER BY id`
	return r.listPayouts(ctx, query, betID)
}

// MarkPaid records an applied credit
func (r *PayoutRepository) MarkPaid(ctx context.Context, id int64, at time.Time) error {
	query := `
		UPDATE bet_payouts
		SET status = $1, paid_at = $2, attempts = attempts + 1, last_error = NULL, updated_at = NOW()
		WHERE id = $3
	`

	tag, err := r.q.Exec(ctx, query, models.PayoutStatusPaid, at, id)
	if err != nil {
		return fmt.Errorf("failed to mark payout %d paid: %w", id, classifyError(err))
	}
	if tag.RowsAffected() == 0 {
		return service.NewNotFoundError("payout %d not found", id)
	}
	return nil
}

// MarkFailed records a failed credit attempt; a paid payout stays paid
func (r *PayoutRepository) MarkFailed(ctx context.Context, id int64, reason string) error {
	query := `
		UPDATE bet_payouts
		SET status = $1, attempts = attempts + 1, last_error = $2, updated_at = NOW()
		WHERE id = $3 AND status <> $4
	`

	_, err := r.q.Exec(ctx, query, models.PayoutStatusFailed, reason, id, models.PayoutStatusPaid)
	if err != nil {
		return fmt.Errorf("failed to mark payout %d failed: %w", id, classifyError(err))
	}
	return nil
}

// ListUnsettled returns pending and failed payouts, oldest first
func (r *PayoutRepository) ListUnsettled(ctx context.Context, limit int) ([]*models.BetPayout, error) {
	query := `SELECT ` + payoutColumns + `
		FROM bet_payouts
		WHERE status <> 'paid'
		ORDER BY created_at, id
		LIMIT $1
	`
	return r.listPayouts(ctx, query, limit)
}

func (r *PayoutRepository) listPayouts(ctx context.Context, query string, args ...any) ([]*models.BetPayout, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payouts: %w", classifyError(err))
	}
	defer rows.Close()

	var payouts []*models.BetPayout
	for rows.Next() {
		payout, err := scanPayout(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payout: %w", err)
		}
		payouts = append(payouts, payout)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating payouts: %w", classifyError(err))
	}

	return payouts, nil
}

func scanPayout(row pgx.Row) (*models.BetPayout, error) {
	var p models.BetPayout
	err := row.Scan(
		&p.ID,
		&p.BetID,
		&p.UserID,
		&p.Amount,
		&p.Status,
		&p.IdempotencyKey,
		&p.Attempts,
		&p.LastError,
		&p.PaidAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
