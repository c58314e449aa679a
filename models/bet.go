package models

import (
	"time"
)

// BetStatus represents the lifecycle status of a bet
type BetStatus string

const (
	BetStatusOpen      BetStatus = "open"
	BetStatusLocked    BetStatus = "locked"
	BetStatusCompleted BetStatus = "completed"
)

// statusRank orders statuses so transitions can be checked for regressions
var statusRank = map[BetStatus]int{
	BetStatusOpen:      0,
	BetStatusLocked:    1,
	BetStatusCompleted: 2,
}

// IsValid reports whether s is a known status
func (s BetStatus) IsValid() bool {
	_, ok := statusRank[s]
	return ok
}

// CanTransitionTo reports whether moving from s to next is a single forward step
func (s BetStatus) CanTransitionTo(next BetStatus) bool {
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	if !ok {
		return false
	}
	return to == from+1
}

// Bet represents a group wager with a flat per-participant stake
type Bet struct {
	ID                 int64      `db:"id" json:"id"`
	GroupID            int64      `db:"group_id" json:"groupId"`
	CreatorID          int64      `db:"creator_id" json:"creatorId"`
	Question           string     `db:"question" json:"question"`
	WagerAmount        int64      `db:"wager_amount" json:"wagerAmount"`
	TotalPool          int64      `db:"total_pool" json:"totalPool"`
	Status             BetStatus  `db:"status" json:"status"`
	ExpiresAt          time.Time  `db:"expires_at" json:"expiresAt"`
	WinningOptionID    *int64     `db:"winning_option_id" json:"winningOptionId,omitempty"`
	WinningsPerPerson  *int64     `db:"winnings_per_person" json:"winningsPerPerson,omitempty"`
	RoundingRemainder  *int64     `db:"rounding_remainder" json:"roundingRemainder,omitempty"`
	ExpiringNotifiedAt *time.Time `db:"expiring_notified_at" json:"-"`
	LockedAt           *time.Time `db:"locked_at" json:"lockedAt,omitempty"`
	ResolvedAt         *time.Time `db:"resolved_at" json:"resolvedAt,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updatedAt"`
}

// BetOption represents one selectable outcome of a bet
type BetOption struct {
	ID          int64     `db:"id" json:"id"`
	BetID       int64     `db:"bet_id" json:"betId"`
	OptionText  string    `db:"option_text" json:"text"`
	OptionOrder int16     `db:"option_order" json:"order"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
}

// BetParticipant is a user's stake on one option of a bet
type BetParticipant struct {
	ID             int64     `db:"id" json:"id"`
	BetID          int64     `db:"bet_id" json:"betId"`
	OptionID       int64     `db:"option_id" json:"optionId"`
	UserID         int64     `db:"user_id" json:"userId"`
	Amount         int64     `db:"amount" json:"amount"`
	StakeReference string    `db:"stake_reference" json:"-"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
}

// BetDetail combines a bet with its options and participants.
// Participants are ordered by join order.
type BetDetail struct {
	Bet          *Bet              `json:"bet"`
	Options      []*BetOption      `json:"options"`
	Participants []*BetParticipant `json:"participants"`
}

// BetPatch holds the editable fields of an open bet
type BetPatch struct {
	Question    *string
	OptionTexts map[int64]string
}

// IsEmpty reports whether the patch changes nothing
func (p *BetPatch) IsEmpty() bool {
	return p == nil || (p.Question == nil && len(p.OptionTexts) == 0)
}

// BetOutcome is what settlement persists when a bet completes
type BetOutcome struct {
	WinningOptionID   int64
	WinningsPerPerson int64
	RoundingRemainder int64
	TotalPool         int64
	ResolvedAt        time.Time
}

// IsOpen checks if the bet is stored as open
func (b *Bet) IsOpen() bool {
	return b.Status == BetStatusOpen
}

// IsLocked checks if the bet is stored as locked
func (b *Bet) IsLocked() bool {
	return b.Status == BetStatusLocked
}

// IsCompleted checks if the bet has been resolved
func (b *Bet) IsCompleted() bool {
	return b.Status == BetStatusCompleted
}

// IsExpired treats the expiry instant itself as expired
func (b *Bet) IsExpired(now time.Time) bool {
	return !now.Before(b.ExpiresAt)
}

// EffectiveStatus reports an open bet past its expiry as locked even before
// the stored status has been swept.
func (b *Bet) EffectiveStatus(now time.Time) BetStatus {
	if b.Status == BetStatusOpen && b.IsExpired(now) {
		return BetStatusLocked
	}
	return b.Status
}

// CanAcceptStakes checks if a new participant may join at the given time
func (b *Bet) CanAcceptStakes(now time.Time) bool {
	return b.IsOpen() && !b.IsExpired(now)
}

// ExpectedPool is the pool implied by the flat stake and the participant count
func (b *Bet) ExpectedPool(participantCount int) int64 {
	return b.WagerAmount * int64(participantCount)
}

// FindOption returns the option with the given ID, or nil
func (d *BetDetail) FindOption(optionID int64) *BetOption {
	for _, option := range d.Options {
		if option.ID == optionID {
			return option
		}
	}
	return nil
}

// FindParticipant returns the user's stake on this bet, or nil
func (d *BetDetail) FindParticipant(userID int64) *BetParticipant {
	for _, participant := range d.Participants {
		if participant.UserID == userID {
			return participant
		}
	}
	return nil
}

// GetParticipantsByOption groups participants by their chosen option, keeping join order
func (d *BetDetail) GetParticipantsByOption() map[int64][]*BetParticipant {
	result := make(map[int64][]*BetParticipant)
	for _, participant := range d.Participants {
		result[participant.OptionID] = append(result[participant.OptionID], participant)
	}
	return result
}

// SplitPool divides the pool evenly among winners using integer division.
// The remainder is not assigned to anyone. With no winners the whole pool is
// forfeited and nothing is paid.
func SplitPool(totalPool int64, winners int) (perPerson int64, remainder int64) {
	if winners <= 0 {
		return 0, totalPool
	}
	perPerson = totalPool / int64(winners)
	remainder = totalPool - perPerson*int64(winners)
	return perPerson, remainder
}
