package models

import (
	"fmt"
	"time"
)

// PayoutStatus tracks whether a winner's credit has been applied
type PayoutStatus string

const (
	PayoutStatusPending PayoutStatus = "pending"
	PayoutStatusPaid    PayoutStatus = "paid"
	PayoutStatusFailed  PayoutStatus = "failed"
)

// BetPayout is a winner's pending or applied credit from a resolved bet
type BetPayout struct {
	ID             int64        `db:"id" json:"id"`
	BetID          int64        `db:"bet_id" json:"betId"`
	UserID         int64        `db:"user_id" json:"userId"`
	Amount         int64        `db:"amount" json:"amount"`
	Status         PayoutStatus `db:"status" json:"status"`
	IdempotencyKey string       `db:"idempotency_key" json:"idempotencyKey"`
	Attempts       int          `db:"attempts" json:"attempts"`
	LastError      *string      `db:"last_error" json:"lastError,omitempty"`
	PaidAt         *time.Time   `db:"paid_at" json:"paidAt,omitempty"`
	CreatedAt      time.Time    `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time    `db:"updated_at" json:"updatedAt"`
}

// IsSettled checks if the credit has been applied
func (p *BetPayout) IsSettled() bool {
	return p.Status == PayoutStatusPaid
}

// PayoutIdempotencyKey derives the ledger key for a winner's payout on a bet
func PayoutIdempotencyKey(betID, userID int64) string {
	return fmt.Sprintf("payout:%d:%d", betID, userID)
}

// ReconcileSummary reports the outcome of a payout reconciliation pass
type ReconcileSummary struct {
	Attempted int     `json:"attempted"`
	Paid      int     `json:"paid"`
	Failed    int     `json:"failed"`
	BetIDs    []int64 `json:"betIds"`
}
