package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"betledger/database"
	"betledger/models"
	"betledger/service"
	"github.com/jackc/pgx/v5"
)

const betParticipantUniqueConstraint = "bet_participants_bet_user_key"

const betColumns = `
	id, group_id, creator_id, question, wager_amount, total_pool, status, expires_at,
	winning_option_id, winnings_per_person, rounding_remainder,
	expiring_notified_at, locked_at, resolved_at, created_at, updated_at
`

// BetRepository implements all bet related data access
type BetRepository struct {
	q queryable
}

// NewBetRepository creates a new bet repository
func NewBetRepository(db *database.DB) *BetRepository {
	return &BetRepository{q: db.Pool}
}

// newBetRepositoryWithTx creates a new bet repository with a transaction
func newBetRepositoryWithTx(tx queryable) *BetRepository {
	return &BetRepository{q: tx}
}

// Create creates a new bet with its options atomically
func (r *BetRepository) Create(ctx context.Context, bet *models.Bet, options []*models.BetOption) error {
	query := `
		INSERT INTO bets (group_id, creator_id, question, wager_amount, total_pool, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`

	if bet.Status == "" {
		bet.Status = models.BetStatusOpen
	}

	err := r.q.QueryRow(ctx, query,
		bet.GroupID,
		bet.CreatorID,
		bet.Question,
		bet.WagerAmount,
		bet.TotalPool,
		bet.Status,
		bet.ExpiresAt,
	).Scan(&bet.ID, &bet.CreatedAt, &bet.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create bet: %w", classifyError(err))
	}

	if len(options) == 0 {
		return nil
	}

	optionQuery := `INSERT INTO bet_options (bet_id, option_text, option_order) VALUES`

	byOrder := make(map[int16]*models.BetOption, len(options))
	var args []any
	for i, option := range options {
		if i > 0 {
			optionQuery += ","
		}
		paramIndex := i * 3
		optionQuery += fmt.Sprintf(" ($%d, $%d, $%d)", paramIndex+1, paramIndex+2, paramIndex+3)

		args = append(args, bet.ID, option.OptionText, option.OptionOrder)
		byOrder[option.OptionOrder] = option
	}
	optionQuery += " RETURNING id, option_order, created_at"

	rows, err := r.q.Query(ctx, optionQuery, args...)
	if err != nil {
		return fmt.Errorf("failed to create bet options: %w", classifyError(err))
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var order int16
		var createdAt time.Time
		if err := rows.Scan(&id, &order, &createdAt); err != nil {
			return fmt.Errorf("failed to scan option ID: %w", err)
		}
		option, ok := byOrder[order]
		if !ok {
			return fmt.Errorf("unexpected option order %d returned", order)
		}
		option.ID = id
		option.BetID = bet.ID
		option.CreatedAt = createdAt
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to create bet options: %w", classifyError(err))
	}

	return nil
}

// GetByID retrieves a bet by ID
func (r *BetRepository) GetByID(ctx context.Context, id int64) (*models.Bet, error) {
	return r.getBet(ctx, `SELECT `+betColumns+` FROM bets WHERE id = $1`, id)
}

// GetForUpdate retrieves a bet and holds its row lock for the rest of the transaction
func (r *BetRepository) GetForUpdate(ctx context.Context, id int64) (*models.Bet, error) {
	return r.getBet(ctx, `SELECT `+betColumns+` FROM bets WHERE id = $1 FOR UPDATE`, id)
}

func (r *BetRepository) getBet(ctx context.Context, query string, id int64) (*models.Bet, error) {
	bet, err := scanBet(r.q.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bet %d: %w", id, classifyError(err))
	}
	return bet, nil
}

// GetDetailByID retrieves a bet with all its options and participants
func (r *BetRepository) GetDetailByID(ctx context.Context, id int64) (*models.BetDetail, error) {
	bet, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if bet == nil {
		return nil, nil
	}

	options, err := r.getOptions(ctx, id)
	if err != nil {
		return nil, err
	}

	participants, err := r.getParticipants(ctx, id)
	if err != nil {
		return nil, err
	}

	return &models.BetDetail{
		Bet:          bet,
		Options:      options,
		Participants: participants,
	}, nil
}

func (r *BetRepository) getOptions(ctx context.Context, betID int64) ([]*models.BetOption, error) {
	query := `
		SELECT id, bet_id, option_text, option_order, created_at
		FROM bet_options
		WHERE bet_id = $1
		ORDER BY option_order
	`

	rows, err := r.q.Query(ctx, query, betID)
	if err != nil {
		return nil, fmt.Errorf("failed to get options for bet %d: %w", betID, classifyError(err))
	}
	defer rows.Close()

	var options []*models.BetOption
	for rows.Next() {
		var option models.BetOption
		if err := rows.Scan(&option.ID, &option.BetID, &option.OptionText, &option.OptionOrder, &option.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan bet option: %w", err)
		}
		options = append(options, &option)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bet options: %w", classifyError(err))
	}

	return options, nil
}

func (r *BetRepository) getParticipants(ctx context.Context, betID int64) ([]*models.BetParticipant, error) {
	query := `
		SELECT id, bet_id, option_id, user_id, amount, COALESCE(stake_reference, ''), created_at
		FROM bet_participants
		WHERE bet_id = $1
		ORDER BY id
	`

	rows, err := r.q.Query(ctx, query, betID)
	if err != nil {
		return nil, fmt.Errorf("failed to get participants for bet %d: %w", betID, classifyError(err))
	}
	defer rows.Close()

	var participants []*models.BetParticipant
	for rows.Next() {
		var p models.BetParticipant
		if err := rows.Scan(&p.ID, &p.BetID, &p.OptionID, &p.UserID, &p.Amount, &p.StakeReference, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan bet participant: %w", err)
		}
		participants = append(participants, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bet participants: %w", classifyError(err))
	}

	return participants, nil
}

// Update applies an edit patch to a bet and its option texts
func (r *BetRepository) Update(ctx context.Context, id int64, patch *models.BetPatch) (*models.Bet, error) {
	if patch.IsEmpty() {
		bet, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if bet == nil {
			return nil, service.NewNotFoundError("bet %d not found", id)
		}
		return bet, nil
	}

	for optionID, text := range patch.OptionTexts {
		tag, err := r.q.Exec(ctx,
			`UPDATE bet_options SET option_text = $1 WHERE id = $2 AND bet_id = $3`,
			text, optionID, id,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to update option %d of bet %d: %w", optionID, id, classifyError(err))
		}
		if tag.RowsAffected() == 0 {
			return nil, service.NewNotFoundError("option %d not found on bet %d", optionID, id)
		}
	}

	query := `
		UPDATE bets
		SET question = COALESCE($1, question), updated_at = NOW()
		WHERE id = $2
		RETURNING ` + betColumns

	bet, err := scanBet(r.q.QueryRow(ctx, query, patch.Question, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, service.NewNotFoundError("bet %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update bet %d: %w", id, classifyError(err))
	}

	return bet, nil
}

// Delete removes a bet; options and participants cascade
func (r *BetRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM bets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete bet %d: %w", id, classifyError(err))
	}
	if tag.RowsAffected() == 0 {
		return service.NewNotFoundError("bet %d not found", id)
	}
	return nil
}

// ListByGroup returns a group's bets, newest first
func (r *BetRepository) ListByGroup(ctx context.Context, groupID int64) ([]*models.Bet, error) {
	query := `SELECT ` + betColumns + `
		FROM bets
		WHERE group_id = $1
		ORDER BY created_at DESC, id DESC
	`
	return r.listBets(ctx, query, groupID)
}

// ListByUser returns bets the user created or staked on, newest first
func (r *BetRepository) ListByUser(ctx context.Context, userID int64) ([]*models.Bet, error) {
	query := `SELECT ` + betColumns + `
		FROM bets b
		WHERE b.creator_id = $1
		   OR EXISTS (SELECT 1 FROM bet_participants p WHERE p.bet_id = b.id AND p.user_id = $1)
		ORDER BY b.created_at DESC, b.id DESC
	`
	return r.listBets(ctx, query, userID)
}

// AddParticipant records a stake
func (r *BetRepository) AddParticipant(ctx context.Context, participant *models.BetParticipant) error {
	query := `
		INSERT INTO bet_participants (bet_id, option_id, user_id, amount, stake_reference)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''))
		RETURNING id, created_at
	`

	err := r.q.QueryRow(ctx, query,
		participant.BetID,
		participant.OptionID,
		participant.UserID,
		participant.Amount,
		participant.StakeReference,
	).Scan(&participant.ID, &participant.CreatedAt)
	if isUniqueViolation(err, betParticipantUniqueConstraint) {
		return service.NewAlreadyStakedError(participant.BetID, participant.UserID)
	}
	if err != nil {
		return fmt.Errorf("failed to add participant to bet %d: %w", participant.BetID, classifyError(err))
	}

	return nil
}

// CountParticipants returns the number of stakes on a bet
func (r *BetRepository) CountParticipants(ctx context.Context, betID int64) (int, error) {
	var count int
	err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM bet_participants WHERE bet_id = $1`, betID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count participants of bet %d: %w", betID, classifyError(err))
	}
	return count, nil
}

// RecalculateTotalPool sets total_pool to wager_amount times the participant count
func (r *BetRepository) RecalculateTotalPool(ctx context.Context, betID int64) (int64, error) {
	query := `
		UPDATE bets b
		SET total_pool = b.wager_amount * (SELECT COUNT(*) FROM bet_participants p WHERE p.bet_id = b.id),
		    updated_at = NOW()
		WHERE b.id = $1
		RETURNING total_pool
	`

	var pool int64
	err := r.q.QueryRow(ctx, query, betID).Scan(&pool)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, service.NewNotFoundError("bet %d not found", betID)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to recalculate pool of bet %d: %w", betID, classifyError(err))
	}
	return pool, nil
}

// TransitionStatus moves a bet from one status to the next
func (r *BetRepository) TransitionStatus(ctx context.Context, id int64, from, to models.BetStatus, at time.Time) error {
	if !from.CanTransitionTo(to) {
		return service.NewInvalidStateError("cannot move bet %d from %s to %s", id, from, to)
	}

	query := `UPDATE bets SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`
	args := []any{to, id, from}
	if to == models.BetStatusLocked {
		query = `UPDATE bets SET status = $1, locked_at = $4, updated_at = NOW() WHERE id = $2 AND status = $3`
		args = append(args, at)
	}

	tag, err := r.q.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to move bet %d to %s: %w", id, to, classifyError(err))
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	return r.conditionalMiss(ctx, id, from)
}

// Complete records the settlement outcome of a locked bet
func (r *BetRepository) Complete(ctx context.Context, id int64, outcome *models.BetOutcome) error {
	query := `
		UPDATE bets
		SET status = $1,
		    winning_option_id = $2,
		    winnings_per_person = $3,
		    rounding_remainder = $4,
		    total_pool = $5,
		    resolved_at = $6,
		    updated_at = NOW()
		WHERE id = $7 AND status = $8
	`

	tag, err := r.q.Exec(ctx, query,
		models.BetStatusCompleted,
		outcome.WinningOptionID,
		outcome.WinningsPerPerson,
		outcome.RoundingRemainder,
		outcome.TotalPool,
		outcome.ResolvedAt,
		id,
		models.BetStatusLocked,
	)
	if err != nil {
		return fmt.Errorf("failed to complete bet %d: %w", id, classifyError(err))
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	return r.conditionalMiss(ctx, id, models.BetStatusLocked)
}

// conditionalMiss explains why a status-guarded update touched no rows
func (r *BetRepository) conditionalMiss(ctx context.Context, id int64, expected models.BetStatus) error {
	bet, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if bet == nil {
		return service.NewNotFoundError("bet %d not found", id)
	}
	return service.NewInvalidStateError("bet %d is %s, expected %s", id, bet.Status, expected)
}

// GetExpiredOpen returns open bets whose expiry is at or before now. Rows
// claimed by a concurrent sweep are skipped.
func (r *BetRepository) GetExpiredOpen(ctx context.Context, now time.Time) ([]*models.Bet, error) {
	query := `SELECT ` + betColumns + `
		FROM bets
		WHERE status = 'open' AND expires_at <= $1
		ORDER BY expires_at, id
		FOR UPDATE SKIP LOCKED
	`
	return r.listBets(ctx, query, now)
}

// GetExpiringUnnotified returns open bets expiring in (now, horizon] without a notice
func (r *BetRepository) GetExpiringUnnotified(ctx context.Context, now, horizon time.Time) ([]*models.Bet, error) {
	query := `SELECT ` + betColumns + `
		FROM bets
		WHERE status = 'open'
		  AND expiring_notified_at IS NULL
		  AND expires_at > $1
		  AND expires_at <= $2
		ORDER BY expires_at, id
		FOR UPDATE SKIP LOCKED
	`
	return r.listBets(ctx, query, now, horizon)
}

// MarkExpiringNotified records that the expiring notice went out
func (r *BetRepository) MarkExpiringNotified(ctx context.Context, id int64, at time.Time) error {
	tag, err := r.q.Exec(ctx,
		`UPDATE bets SET expiring_notified_at = $1, updated_at = NOW() WHERE id = $2`,
		at, id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark bet %d notified: %w", id, classifyError(err))
	}
	if tag.RowsAffected() == 0 {
		return service.NewNotFoundError("bet %d not found", id)
	}
	return nil
}

func (r *BetRepository) listBets(ctx context.Context, query string, args ...any) ([]*models.Bet, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bets: %w", classifyError(err))
	}
	defer rows.Close()

	var bets []*models.Bet
	for rows.Next() {
		bet, err := scanBet(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bet: %w", err)
		}
		bets = append(bets, bet)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bets: %w", classifyError(err))
	}

	return bets, nil
}

func scanBet(row pgx.Row) (*models.Bet, error) {
	var bet models.Bet
	err := row.Scan(
		&bet.ID,
		&bet.GroupID,
		&bet.CreatorID,
		&bet.Question,
		&bet.WagerAmount,
		&bet.TotalPool,
		&bet.Status,
		&bet.ExpiresAt,
		&bet.WinningOptionID,
		&bet.WinningsPerPerson,
		&bet.RoundingRemainder,
		&bet.ExpiringNotifiedAt,
		&bet.LockedAt,
		&bet.ResolvedAt,
		&bet.CreatedAt,
		&bet.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &bet, nil
}
