package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"betledger/models"
	"betledger/service"
)

func (r *txRepo) GetByID(_ context.Context, userID int64) (*models.User, error) {
	user, ok := r.s.users[userID]
	if !ok {
		return nil, nil
	}
	return &user, nil
}

func (r *txRepo) Create(_ context.Context, userID int64, username string, initialBalance int64) (*models.User, error) {
	if _, ok := r.s.users[userID]; ok {
		return nil, fmt.Errorf("user %d already exists", userID)
	}
	now := r.now()
	user := models.User{
		UserID:    userID,
		Username:  username,
		Balance:   initialBalance,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.s.users[userID] = user
	return &user, nil
}

func (r *txRepo) AddBalance(_ context.Context, userID int64, amount int64) (int64, error) {
	user, ok := r.s.users[userID]
	if !ok {
		return 0, service.NewNotFoundError("user %d not found", userID)
	}
	user.Balance += amount
	user.UpdatedAt = r.now()
	r.s.users[userID] = user
	return user.Balance, nil
}

func (r *txRepo) DeductBalance(_ context.Context, userID int64, amount int64) (int64, error) {
	user, ok := r.s.users[userID]
	if !ok {
		return 0, service.NewNotFoundError("user %d not found", userID)
	}
	if user.Balance < amount {
		return 0, service.NewInsufficientFundsError(userID, amount)
	}
	user.Balance -= amount
	user.UpdatedAt = r.now()
	r.s.users[userID] = user
	return user.Balance, nil
}

func (r *txRepo) IsMember(_ context.Context, groupID, userID int64) (bool, error) {
	_, ok := r.s.members[groupID][userID]
	return ok, nil
}

func (r *txRepo) AddMember(_ context.Context, groupID, userID int64) error {
	members, ok := r.s.members[groupID]
	if !ok {
		members = make(map[int64]time.Time)
		r.s.members[groupID] = members
	}
	if _, exists := members[userID]; !exists {
		members[userID] = r.now()
	}
	return nil
}

func (r *txRepo) ListMembers(_ context.Context, groupID int64) ([]*models.GroupMember, error) {
	var members []*models.GroupMember
	for userID, joinedAt := range r.s.members[groupID] {
		members = append(members, &models.GroupMember{GroupID: groupID, UserID: userID, JoinedAt: joinedAt})
	}
	sort.Slice(members, func(i, j int) bool {
		if !members[i].JoinedAt.Equal(members[j].JoinedAt) {
			return members[i].JoinedAt.Before(members[j].JoinedAt)
		}
		return members[i].UserID < members[j].UserID
	})
	return members, nil
}

// historyRepo is the balance history view of a unit of work
type historyRepo struct {
	*txRepo
}

func (r *historyRepo) Record(_ context.Context, history *models.BalanceHistory) error {
	if history.IdempotencyKey != nil {
		if _, ok := r.s.historyKeys[*history.IdempotencyKey]; ok {
			return fmt.Errorf("balance history key %s: %w", *history.IdempotencyKey, service.ErrDuplicateKey)
		}
	}
	history.ID = r.s.newID()
	history.CreatedAt = r.now()
	r.s.history = append(r.s.history, *history)
	if history.IdempotencyKey != nil {
		r.s.historyKeys[*history.IdempotencyKey] = len(r.s.history) - 1
	}
	return nil
}

func (r *historyRepo) GetByIdempotencyKey(_ context.Context, key string) (*models.BalanceHistory, error) {
	idx, ok := r.s.historyKeys[key]
	if !ok {
		return nil, nil
	}
	history := r.s.history[idx]
	return &history, nil
}

func (r *historyRepo) GetByUser(_ context.Context, userID int64, limit int) ([]*models.BalanceHistory, error) {
	var out []*models.BalanceHistory
	for i := len(r.s.history) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if r.s.history[i].UserID == userID {
			history := r.s.history[i]
			out = append(out, &history)
		}
	}
	return out, nil
}
