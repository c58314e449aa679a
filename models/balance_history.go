package models

import (
	"time"
)

// TransactionType represents the type of balance change
type TransactionType string

const (
	TransactionTypeInitial     TransactionType = "initial"
	TransactionTypeBetStake    TransactionType = "bet_stake"
	TransactionTypeStakeRefund TransactionType = "bet_stake_refund"
	TransactionTypeBetPayout   TransactionType = "bet_payout"
)

// IsCredit reports whether the transaction type adds to a balance
func (t TransactionType) IsCredit() bool {
	return t != TransactionTypeBetStake
}

// RelatedType represents what type of entity the related_id refers to
type RelatedType string

const (
	RelatedTypeBet RelatedType = "bet"
)

// BalanceHistory represents a historical balance change
type BalanceHistory struct {
	ID                  int64           `db:"id"`
	UserID              int64           `db:"user_id"`
	BalanceBefore       int64           `db:"balance_before"`
	BalanceAfter        int64           `db:"balance_after"`
	ChangeAmount        int64           `db:"change_amount"`
	TransactionType     TransactionType `db:"transaction_type"`
	TransactionMetadata map[string]any  `db:"transaction_metadata"`
	IdempotencyKey      *string         `db:"idempotency_key"`
	RelatedID           *int64          `db:"related_id"`
	RelatedType         *RelatedType    `db:"related_type"`
	CreatedAt           time.Time       `db:"created_at"`
}
