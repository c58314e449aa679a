package repository

import (
	"context"
	"fmt"

	"betledger/database"
	"betledger/models"
)

// MembershipRepository implements the MembershipRepository interface
type MembershipRepository struct {
	q queryable
}

// NewMembershipRepository creates a new membership repository
func NewMembershipRepository(db *database.DB) *MembershipRepository {
	return &MembershipRepository{q: db.Pool}
}

func newMembershipRepositoryWithTx(tx queryable) *MembershipRepository {
	return &MembershipRepository{q: tx}
}

// IsMember reports whether userID belongs to groupID
func (r *MembershipRepository) IsMember(ctx context.Context, groupID, userID int64) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM group_members WHERE group_id = $1 AND user_id = $2)`

	var exists bool
	if err := r.q.QueryRow(ctx, query, groupID, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check membership of user %d in group %d: %w", userID, groupID, classifyError(err))
	}
	return exists, nil
}

// AddMember adds userID to groupID; adding an existing member is a no-op
func (r *MembershipRepository) AddMember(ctx context.Context, groupID, userID int64) error {
	query := `
		INSERT INTO group_members (group_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (group_id, user_id) DO NOTHING
	`

	if _, err := r.q.Exec(ctx, query, groupID, userID); err != nil {
		return fmt.Errorf("failed to add user %d to group %d: %w", userID, groupID, classifyError(err))
	}
	return nil
}

// ListMembers returns a group's members in join order
func (r *MembershipRepository) ListMembers(ctx context.Context, groupID int64) ([]*models.GroupMember, error) {
	query := `
		SELECT group_id, user_id, joined_at
		FROM group_members
		WHERE group_id = $1
		ORDER BY joined_at, user_id
	`

	rows, err := r.q.Query(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to query members of group %d: %w", groupID, classifyError(err))
	}
	defer rows.Close()

	var members []*models.GroupMember
	for rows.Next() {
		var member models.GroupMember
		if err := rows.Scan(&member.GroupID, &member.UserID, &member.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan group member: %w", err)
		}
		members = append(members, &member)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating group members: %w", classifyError(err))
	}

	return members, nil
}
