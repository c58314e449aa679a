package testutil

import (
	"fmt"
	"time"

	"betledger/models"
)

// CreateTestBet creates an open bet in a group with a one hour expiry
func CreateTestBet(groupID, creatorID int64) *models.Bet {
	return &models.Bet{
		GroupID:     groupID,
		CreatorID:   creatorID,
		Question:    "Will it rain tomorrow?",
		WagerAmount: 100,
		Status:      models.BetStatusOpen,
		ExpiresAt:   time.Now().Add(time.Hour).UTC().Truncate(time.Microsecond),
	}
}

// CreateTestBetWithExpiry creates an open bet expiring at expiresAt
func CreateTestBetWithExpiry(groupID, creatorID int64, expiresAt time.Time) *models.Bet {
	bet := CreateTestBet(groupID, creatorID)
	bet.ExpiresAt = expiresAt
	return bet
}

// CreateTestBetOptions creates options with sequential order
func CreateTestBetOptions(texts ...string) []*models.BetOption {
	if len(texts) == 0 {
		texts = []string{"Yes", "No"}
	}
	options := make([]*models.BetOption, len(texts))
	for i, text := range texts {
		options[i] = &models.BetOption{
			OptionText:  text,
			OptionOrder: int16(i),
		}
	}
	return options
}

// CreateTestParticipant creates a stake on an option
func CreateTestParticipant(betID, optionID, userID, amount int64) *models.BetParticipant {
	return &models.BetParticipant{
		BetID:          betID,
		OptionID:       optionID,
		UserID:         userID,
		Amount:         amount,
		StakeReference: fmt.Sprintf("stake:%d:%d:test", betID, userID),
	}
}

// CreateTestBalanceHistory creates a balance history entry with an idempotency key
func CreateTestBalanceHistory(userID int64, transactionType models.TransactionType, key string) *models.BalanceHistory {
	history := &models.BalanceHistory{
		UserID:          userID,
		BalanceBefore:   1000,
		BalanceAfter:    900,
		ChangeAmount:    -100,
		TransactionType: transactionType,
		TransactionMetadata: map[string]any{
			"test": true,
		},
	}
	if key != "" {
		history.IdempotencyKey = &key
	}
	return history
}

// CreateTestPayout creates a pending payout using the standard key
func CreateTestPayout(betID, userID, amount int64) *models.BetPayout {
	return &models.BetPayout{
		BetID:          betID,
		UserID:         userID,
		Amount:         amount,
		Status:         models.PayoutStatusPending,
		IdempotencyKey: models.PayoutIdempotencyKey(betID, userID),
	}
}
