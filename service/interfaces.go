package service

import (
	"context"
	"time"

	"betledger/events"
	"betledger/models"
)

// UserRepository defines the interface for points account data access
type UserRepository interface {
	// GetByID retrieves a user, returning nil when absent
	GetByID(ctx context.Context, userID int64) (*models.User, error)

	// Create creates a new user with the initial balance
	Create(ctx context.Context, userID int64, username string, initialBalance int64) (*models.User, error)

	// AddBalance adds to a user's balance atomically and returns the new balance
	AddBalance(ctx context.Context, userID int64, amount int64) (int64, error)

	// DeductBalance deducts from a user's balance atomically, failing with
	// insufficient funds instead of going negative. Returns the new balance.
	DeductBalance(ctx context.Context, userID int64, amount int64) (int64, error)
}

// BalanceHistoryRepository defines the interface for balance history tracking
type BalanceHistoryRepository interface {
	// Record creates a new balance history entry. A reused idempotency key
	// fails with ErrDuplicateKey.
	Record(ctx context.Context, history *models.BalanceHistory) error

	// GetByIdempotencyKey returns the entry recorded under key, or nil
	GetByIdempotencyKey(ctx context.Context, key string) (*models.BalanceHistory, error)

	// GetByUser returns the most recent balance history for a user
	GetByUser(ctx context.Context, userID int64, limit int) ([]*models.BalanceHistory, error)
}

// MembershipRepository defines the interface for group membership data access
type MembershipRepository interface {
	IsMember(ctx context.Context, groupID, userID int64) (bool, error)
	AddMember(ctx context.Context, groupID, userID int64) error
	ListMembers(ctx context.Context, groupID int64) ([]*models.GroupMember, error)
}

// BetRepository is the bet entity store. It performs no business validation.
type BetRepository interface {
	// Create persists a bet with its options and assigns their IDs
	Create(ctx context.Context, bet *models.Bet, options []*models.BetOption) error

	// GetByID retrieves a bet, returning nil when absent
	GetByID(ctx context.Context, id int64) (*models.Bet, error)

	// GetForUpdate retrieves a bet and locks its row until the unit of work ends
	GetForUpdate(ctx context.Context, id int64) (*models.Bet, error)

	// GetDetailByID retrieves a bet with its options and participants, or nil
	GetDetailByID(ctx context.Context, id int64) (*models.BetDetail, error)

	// Update applies an edit patch and returns the updated bet
	Update(ctx context.Context, id int64, patch *models.BetPatch) (*models.Bet, error)

	// Delete removes a bet and its options
	Delete(ctx context.Context, id int64) error

	// ListByGroup returns a group's bets, newest first
	ListByGroup(ctx context.Context, groupID int64) ([]*models.Bet, error)

	// ListByUser returns bets the user created or staked on, newest first
	ListByUser(ctx context.Context, userID int64) ([]*models.Bet, error)

	// AddParticipant records a stake. A second stake by the same user on the
	// same bet fails with an already-staked error.
	AddParticipant(ctx context.Context, participant *models.BetParticipant) error

	// CountParticipants returns the number of stakes on a bet
	CountParticipants(ctx context.Context, betID int64) (int, error)

	// RecalculateTotalPool sets total_pool from the stored participant rows
	RecalculateTotalPool(ctx context.Context, betID int64) (int64, error)

	// TransitionStatus moves a bet from one status to the next, failing with
	// invalid state when the stored status is no longer from
	TransitionStatus(ctx context.Context, id int64, from, to models.BetStatus, at time.Time) error

	// Complete marks a locked bet completed with its settlement outcome
	Complete(ctx context.Context, id int64, outcome *models.BetOutcome) error

	// GetExpiredOpen returns open bets whose expiry is at or before now
	GetExpiredOpen(ctx context.Context, now time.Time) ([]*models.Bet, error)

	// GetExpiringUnnotified returns open bets expiring in (now, horizon] that
	// have not had an expiring notice
	GetExpiringUnnotified(ctx context.Context, now, horizon time.Time) ([]*models.Bet, error)

	// MarkExpiringNotified records that the expiring notice went out
	MarkExpiringNotified(ctx context.Context, id int64, at time.Time) error
}

// PayoutRepository tracks per-winner credits of resolved bets
type PayoutRepository interface {
	// CreatePending inserts pending payout rows and assigns their IDs
	CreatePending(ctx context.Context, payouts []*models.BetPayout) error

	// GetByBet returns a bet's payouts ordered by ID
	GetByBet(ctx context.Context, betID int64) ([]*models.BetPayout, error)

	// MarkPaid records an applied credit
	MarkPaid(ctx context.Context, id int64, at time.Time) error

	// MarkFailed records a failed credit attempt
	MarkFailed(ctx context.Context, id int64, reason string) error

	// ListUnsettled returns pending and failed payouts, oldest first
	ListUnsettled(ctx context.Context, limit int) ([]*models.BetPayout, error)
}

// EventPublisher queues events on the unit of work
type EventPublisher interface {
	Publish(event events.Event)
}

// UnitOfWork manages a transaction and provides access to repositories
type UnitOfWork interface {
	Begin(ctx context.Context) error
	Commit() error
	Rollback() error

	UserRepository() UserRepository
	BalanceHistoryRepository() BalanceHistoryRepository
	MembershipRepository() MembershipRepository
	BetRepository() BetRepository
	PayoutRepository() PayoutRepository
	EventBus() EventPublisher
}

// UnitOfWorkFactory creates new UnitOfWork instances
type UnitOfWorkFactory interface {
	Create() UnitOfWork
}

// LedgerEntry describes one debit or credit against a points account
type LedgerEntry struct {
	UserID         int64
	Amount         int64
	Reason         models.TransactionType
	IdempotencyKey string
	BetID          int64
}

// PointsLedger is the points collaborator. Both operations are idempotent on
// the entry's key.
type PointsLedger interface {
	Debit(ctx context.Context, entry LedgerEntry) error
	Credit(ctx context.Context, entry LedgerEntry) error
}

// MembershipChecker answers whether a user belongs to a group
type MembershipChecker interface {
	IsMember(ctx context.Context, groupID, userID int64) (bool, error)
}

// StakeLocker serialises stake attempts on a key. Acquire fails with
// ErrLockHeld when another holder has the key.
type StakeLocker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// PointsService manages points accounts
type PointsService interface {
	PointsLedger

	// GetOrCreateUser retrieves an existing user or creates a new one with the starting balance
	GetOrCreateUser(ctx context.Context, userID int64, username string) (*models.User, error)

	// GetBalance returns a user's current balance
	GetBalance(ctx context.Context, userID int64) (int64, error)

	// GetHistory returns a user's most recent balance changes
	GetHistory(ctx context.Context, userID int64, limit int) ([]*models.BalanceHistory, error)
}

// MembershipService manages group membership
type MembershipService interface {
	MembershipChecker

	AddMember(ctx context.Context, groupID, userID int64) error
	ListMembers(ctx context.Context, groupID int64) ([]*models.GroupMember, error)
}

// BetLifecycleService creates bets and drives their status transitions
type BetLifecycleService interface {
	CreateBet(ctx context.Context, req CreateBetRequest) (*models.BetDetail, error)
	GetBet(ctx context.Context, betID int64) (*models.BetDetail, error)
	EditBet(ctx context.Context, req EditBetRequest) (*models.BetDetail, error)
	DeleteBet(ctx context.Context, betID, requesterID int64) error
	LockBet(ctx context.Context, betID, requesterID int64) (*models.Bet, error)
	ListBetsByGroup(ctx context.Context, groupID int64) ([]*models.Bet, error)
	ListBetsByUser(ctx context.Context, userID int64) ([]*models.Bet, error)

	// TransitionExpiredBets locks every open bet past its expiry
	TransitionExpiredBets(ctx context.Context) (int, error)

	// NotifyExpiringBets emits one bet.expiring event per bet nearing expiry
	NotifyExpiringBets(ctx context.Context) (int, error)
}

// StakingService places stakes on bets
type StakingService interface {
	PlaceBet(ctx context.Context, req PlaceBetRequest) (*models.BetParticipant, error)
}

// SettlementService resolves bets and pays winners
type SettlementService interface {
	// ResolveBet completes a bet and credits winners. When some credits fail
	// the results are returned together with a *PartialSettlementFailure.
	ResolveBet(ctx context.Context, req ResolveBetRequest) (*models.BetResults, error)

	GetBetResults(ctx context.Context, betID int64) (*models.BetResults, error)
	GetBetStats(ctx context.Context, betID int64) (*models.BetStats, error)

	// ReconcilePayouts retries pending and failed payouts with their original keys
	ReconcilePayouts(ctx context.Context, limit int) (*models.ReconcileSummary, error)
	ListUnsettledPayouts(ctx context.Context, limit int) ([]*models.BetPayout, error)
}
