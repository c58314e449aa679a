package memory

import (
	"context"
	"sort"
	"time"

	"betledger/models"
	"betledger/service"
)

type betRepo struct {
	*txRepo
}

func (r *betRepo) Create(_ context.Context, bet *models.Bet, options []*models.BetOption) error {
	now := r.now()
	bet.ID = r.s.newID()
	if bet.Status == "" {
		bet.Status = models.BetStatusOpen
	}
	bet.CreatedAt = now
	bet.UpdatedAt = now
	r.s.bets[bet.ID] = *bet

	stored := make([]models.BetOption, 0, len(options))
	for _, option := range options {
		option.ID = r.s.newID()
		option.BetID = bet.ID
		option.CreatedAt = now
		stored = append(stored, *option)
	}
	sort.Slice(stored, func(i, j int) bool { return stored[i].OptionOrder < stored[j].OptionOrder })
	r.s.options[bet.ID] = stored
	return nil
}

func (r *betRepo) GetByID(_ context.Context, id int64) (*models.Bet, error) {
	bet, ok := r.s.bets[id]
	if !ok {
		return nil, nil
	}
	return &bet, nil
}

// GetForUpdate needs no row lock; the unit of work already holds the store
func (r *betRepo) GetForUpdate(ctx context.Context, id int64) (*models.Bet, error) {
	return r.GetByID(ctx, id)
}

func (r *betRepo) GetDetailByID(_ context.Context, id int64) (*models.BetDetail, error) {
	bet, ok := r.s.bets[id]
	if !ok {
		return nil, nil
	}

	detail := &models.BetDetail{Bet: &bet}
	for _, option := range r.s.options[id] {
		option := option
		detail.Options = append(detail.Options, &option)
	}
	for _, participant := range r.s.participants[id] {
		participant := participant
		detail.Participants = append(detail.Participants, &participant)
	}
	return detail, nil
}

func (r *betRepo) Update(_ context.Context, id int64, patch *models.BetPatch) (*models.Bet, error) {
	bet, ok := r.s.bets[id]
	if !ok {
		return nil, service.NewNotFoundError("bet %d not found", id)
	}
	if patch.IsEmpty() {
		return &bet, nil
	}

	options := append([]models.BetOption(nil), r.s.options[id]...)
	for optionID, text := range patch.OptionTexts {
		found := false
		for i := range options {
			if options[i].ID == optionID {
				options[i].OptionText = text
				found = true
				break
			}
		}
		if !found {
			return nil, service.NewNotFoundError("option %d not found on bet %d", optionID, id)
		}
	}
	r.s.options[id] = options

	if patch.Question != nil {
		bet.Question = *patch.Question
	}
	bet.UpdatedAt = r.now()
	r.s.bets[id] = bet
	return &bet, nil
}

func (r *betRepo) Delete(_ context.Context, id int64) error {
	if _, ok := r.s.bets[id]; !ok {
		return service.NewNotFoundError("bet %d not found", id)
	}
	delete(r.s.bets, id)
	delete(r.s.options, id)
	delete(r.s.participants, id)
	return nil
}

func (r *betRepo) ListByGroup(_ context.Context, groupID int64) ([]*models.Bet, error) {
	return r.filter(func(b *models.Bet) bool { return b.GroupID == groupID }), nil
}

func (r *betRepo) ListByUser(_ context.Context, userID int64) ([]*models.Bet, error) {
	return r.filter(func(b *models.Bet) bool {
		if b.CreatorID == userID {
			return true
		}
		for _, p := range r.s.participants[b.ID] {
			if p.UserID == userID {
				return true
			}
		}
		return false
	}), nil
}

func (r *betRepo) filter(keep func(*models.Bet) bool) []*models.Bet {
	var bets []*models.Bet
	for _, bet := range r.s.bets {
		bet := bet
		if keep(&bet) {
			bets = append(bets, &bet)
		}
	}
	sortBetsNewestFirst(bets)
	return bets
}

func (r *betRepo) AddParticipant(_ context.Context, participant *models.BetParticipant) error {
	if _, ok := r.s.bets[participant.BetID]; !ok {
		return service.NewNotFoundError("bet %d not found", participant.BetID)
	}
	for _, existing := range r.s.participants[participant.BetID] {
		if existing.UserID == participant.UserID {
			return service.NewAlreadyStakedError(participant.BetID, participant.UserID)
		}
	}

	participant.ID = r.s.newID()
	participant.CreatedAt = r.now()
	r.s.participants[participant.BetID] = append(r.s.participants[participant.BetID], *participant)
	return nil
}

func (r *betRepo) CountParticipants(_ context.Context, betID int64) (int, error) {
	return len(r.s.participants[betID]), nil
}

func (r *betRepo) RecalculateTotalPool(_ context.Context, betID int64) (int64, error) {
	bet, ok := r.s.bets[betID]
	if !ok {
		return 0, service.NewNotFoundError("bet %d not found", betID)
	}
	bet.TotalPool = bet.ExpectedPool(len(r.s.participants[betID]))
	bet.UpdatedAt = r.now()
	r.s.bets[betID] = bet
	return bet.TotalPool, nil
}

func (r *betRepo) TransitionStatus(_ context.Context, id int64, from, to models.BetStatus, at time.Time) error {
	if !from.CanTransitionTo(to) {
		return service.NewInvalidStateError("cannot move bet %d from %s to %s", id, from, to)
	}
	bet, ok := r.s.bets[id]
	if !ok {
		return service.NewNotFoundError("bet %d not found", id)
	}
	if bet.Status != from {
		return service.NewInvalidStateError("bet %d is %s, expected %s", id, bet.Status, from)
	}

	bet.Status = to
	if to == models.BetStatusLocked {
		bet.LockedAt = &at
	}
	bet.UpdatedAt = r.now()
	r.s.bets[id] = bet
	return nil
}

func (r *betRepo) Complete(_ context.Context, id int64, outcome *models.BetOutcome) error {
	bet, ok := r.s.bets[id]
	if !ok {
		return service.NewNotFoundError("bet %d not found", id)
	}
	if bet.Status != models.BetStatusLocked {
		return service.NewInvalidStateError("bet %d is %s, expected %s", id, bet.Status, models.BetStatusLocked)
	}

	winningOption := outcome.WinningOptionID
	perPerson := outcome.WinningsPerPerson
	remainder := outcome.RoundingRemainder
	resolvedAt := outcome.ResolvedAt

	bet.Status = models.BetStatusCompleted
	bet.WinningOptionID = &winningOption
	bet.WinningsPerPerson = &perPerson
	bet.RoundingRemainder = &remainder
	bet.TotalPool = outcome.TotalPool
	bet.ResolvedAt = &resolvedAt
	bet.UpdatedAt = r.now()
	r.s.bets[id] = bet
	return nil
}

func (r *betRepo) GetExpiredOpen(_ context.Context, now time.Time) ([]*models.Bet, error) {
	bets := r.filter(func(b *models.Bet) bool {
		return b.Status == models.BetStatusOpen && b.IsExpired(now)
	})
	sortByExpiry(bets)
	return bets, nil
}

func (r *betRepo) GetExpiringUnnotified(_ context.Context, now, horizon time.Time) ([]*models.Bet, error) {
	bets := r.filter(func(b *models.Bet) bool {
		return b.Status == models.BetStatusOpen &&
			b.ExpiringNotifiedAt == nil &&
			b.ExpiresAt.After(now) &&
			!b.ExpiresAt.After(horizon)
	})
	sortByExpiry(bets)
	return bets, nil
}

func (r *betRepo) MarkExpiringNotified(_ context.Context, id int64, at time.Time) error {
	bet, ok := r.s.bets[id]
	if !ok {
		return service.NewNotFoundError("bet %d not found", id)
	}
	bet.ExpiringNotifiedAt = &at
	bet.UpdatedAt = r.now()
	r.s.bets[id] = bet
	return nil
}

func sortByExpiry(bets []*models.Bet) {
	sort.Slice(bets, func(i, j int) bool {
		if !bets[i].ExpiresAt.Equal(bets[j].ExpiresAt) {
			return bets[i].ExpiresAt.Before(bets[j].ExpiresAt)
		}
		return bets[i].ID < bets[j].ID
	})
}
