package memory

import (
	"context"
	"sort"
	"time"

	"betledger/models"
	"betledger/service"
)

type payoutRepo struct {
	*txRepo
}

func (r *payoutRepo) CreatePending(_ context.Context, payouts []*models.BetPayout) error {
	now := r.now()
	for _, payout := range payouts {
		for _, existing := range r.s.payouts {
			if existing.IdempotencyKey == payout.IdempotencyKey {
				return service.NewInvalidStateError("payout %s already exists", payout.IdempotencyKey)
			}
		}
		payout.ID = r.s.newID()
		payout.Status = models.PayoutStatusPending
		payout.CreatedAt = now
		payout.UpdatedAt = now
		r.s.payouts[payout.ID] = *payout
	}
	return nil
}

func (r *payoutRepo) GetByBet(_ context.Context, betID int64) ([]*models.BetPayout, error) {
	return r.collect(func(p *models.BetPayout) bool { return p.BetID == betID }, 0), nil
}

func (r *payoutRepo) MarkPaid(_ context.Context, id int64, at time.Time) error {
	payout, ok := r.s.payouts[id]
	if !ok {
		return service.NewNotFoundError("payout %d not found", id)
	}
	payout.Status = models.PayoutStatusPaid
	payout.PaidAt = &at
	payout.Attempts++
	payout.LastError = nil
	payout.UpdatedAt = r.now()
	r.s.payouts[id] = payout
	return nil
}

func (r *payoutRepo) MarkFailed(_ context.Context, id int64, reason string) error {
	payout, ok := r.s.payouts[id]
	if !ok || payout.IsSettled() {
		return nil
	}
	payout.Status = models.PayoutStatusFailed
	payout.Attempts++
	payout.LastError = &reason
	payout.UpdatedAt = r.now()
	r.s.payouts[id] = payout
	return nil
}

func (r *payoutRepo) ListUnsettled(_ context.Context, limit int) ([]*models.BetPayout, error) {
	return r.collect(func(p *models.BetPayout) bool { return !p.IsSettled() }, limit), nil
}

func (r *payoutRepo) collect(keep func(*models.BetPayout) bool, limit int) []*models.BetPayout {
	var out []*models.BetPayout
	for _, payout := range r.s.payouts {
		payout := payout
		if keep(&payout) {
			out = append(out, &payout)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
