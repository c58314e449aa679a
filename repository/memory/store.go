// Package memory is an in-process storage backend. A unit of work holds the
// store lock from Begin until Commit or Rollback and works on a private copy
// of the state, so transactions are fully serialised and rollback is free.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"betledger/events"
	"betledger/models"
	"betledger/service"
)

type state struct {
	nextID       int64
	users        map[int64]models.User
	history      []models.BalanceHistory
	historyKeys  map[string]int
	members      map[int64]map[int64]time.Time
	bets         map[int64]models.Bet
	options      map[int64][]models.BetOption
	participants map[int64][]models.BetParticipant
	payouts      map[int64]models.BetPayout
}

func newState() *state {
	return &state{
		users:        make(map[int64]models.User),
		historyKeys:  make(map[string]int),
		members:      make(map[int64]map[int64]time.Time),
		bets:         make(map[int64]models.Bet),
		options:      make(map[int64][]models.BetOption),
		participants: make(map[int64][]models.BetParticipant),
		payouts:      make(map[int64]models.BetPayout),
	}
}

func (s *state) clone() *state {
	c := &state{
		nextID:       s.nextID,
		users:        make(map[int64]models.User, len(s.users)),
		history:      append([]models.BalanceHistory(nil), s.history...),
		historyKeys:  make(map[string]int, len(s.historyKeys)),
		members:      make(map[int64]map[int64]time.Time, len(s.members)),
		bets:         make(map[int64]models.Bet, len(s.bets)),
		options:      make(map[int64][]models.BetOption, len(s.options)),
		participants: make(map[int64][]models.BetParticipant, len(s.participants)),
		payouts:      make(map[int64]models.BetPayout, len(s.payouts)),
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.historyKeys {
		c.historyKeys[k] = v
	}
	for group, users := range s.members {
		m := make(map[int64]time.Time, len(users))
		for u, at := range users {
			m[u] = at
		}
		c.members[group] = m
	}
	for k, v := range s.bets {
		c.bets[k] = v
	}
	for k, v := range s.options {
		c.options[k] = append([]models.BetOption(nil), v...)
	}
	for k, v := range s.participants {
		c.participants[k] = append([]models.BetParticipant(nil), v...)
	}
	for k, v := range s.payouts {
		c.payouts[k] = v
	}
	return c
}

func (s *state) newID() int64 {
	s.nextID++
	return s.nextID
}

// Store is the shared in-memory database
type Store struct {
	mu    sync.Mutex
	state *state
	bus   *events.Bus
	now   func() time.Time
}

// NewStore creates an empty store publishing committed events on bus
func NewStore(bus *events.Bus) *Store {
	return &Store{
		state: newState(),
		bus:   bus,
		now:   time.Now,
	}
}

// WithClock sets the clock used for created and updated timestamps
func (s *Store) WithClock(now func() time.Time) *Store {
	if now != nil {
		s.now = now
	}
	return s
}

// Ping always succeeds; it lets the store stand in for the database health check
func (s *Store) Ping(context.Context) error {
	return nil
}

// NewUnitOfWorkFactory returns a factory whose units of work share this store
func (s *Store) NewUnitOfWorkFactory() service.UnitOfWorkFactory {
	return &unitOfWorkFactory{store: s}
}

type unitOfWorkFactory struct {
	store *Store
}

func (f *unitOfWorkFactory) Create() service.UnitOfWork {
	return &unitOfWork{
		store: f.store,
		bus:   events.NewTransactionalBus(f.store.bus),
	}
}

type unitOfWork struct {
	store  *Store
	bus    *events.TransactionalBus
	ctx    context.Context
	work   *state
	active bool
}

func (u *unitOfWork) Begin(ctx context.Context) error {
	if u.active {
		return fmt.Errorf("transaction already started")
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	u.store.mu.Lock()
	u.work = u.store.state.clone()
	u.ctx = ctx
	u.active = true
	return nil
}

func (u *unitOfWork) Commit() error {
	if !u.active {
		return fmt.Errorf("no transaction to commit")
	}

	u.store.state = u.work
	u.finish()
	u.bus.Flush(u.ctx)
	return nil
}

func (u *unitOfWork) Rollback() error {
	if !u.active {
		return nil
	}

	u.finish()
	u.bus.Discard()
	return nil
}

func (u *unitOfWork) finish() {
	u.work = nil
	u.active = false
	u.store.mu.Unlock()
}

func (u *unitOfWork) repo() *txRepo {
	if !u.active {
		panic("unit of work not started - call Begin() first")
	}
	return &txRepo{s: u.work, now: u.store.now}
}

func (u *unitOfWork) UserRepository() service.UserRepository {
	return u.repo()
}

func (u *unitOfWork) BalanceHistoryRepository() service.BalanceHistoryRepository {
	return &historyRepo{u.repo()}
}

func (u *unitOfWork) MembershipRepository() service.MembershipRepository {
	return u.repo()
}

func (u *unitOfWork) BetRepository() service.BetRepository {
	return &betRepo{u.repo()}
}

func (u *unitOfWork) PayoutRepository() service.PayoutRepository {
	return &payoutRepo{u.repo()}
}

func (u *unitOfWork) EventBus() service.EventPublisher {
	return u.bus
}

// txRepo operates on the private state of one unit of work
type txRepo struct {
	s   *state
	now func() time.Time
}

func sortBetsNewestFirst(bets []*models.Bet) {
	sort.Slice(bets, func(i, j int) bool {
		if !bets[i].CreatedAt.Equal(bets[j].CreatedAt) {
			return bets[i].CreatedAt.After(bets[j].CreatedAt)
		}
		return bets[i].ID > bets[j].ID
	})
}
