package models

import (
	"time"
)

// User is a points account holder
type User struct {
	UserID    int64     `db:"user_id" json:"userId"`
	Username  string    `db:"username" json:"username"`
	Balance   int64     `db:"balance" json:"balance"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// GroupMember records that a user belongs to a group
type GroupMember struct {
	GroupID  int64     `db:"group_id" json:"groupId"`
	UserID   int64     `db:"user_id" json:"userId"`
	JoinedAt time.Time `db:"joined_at" json:"joinedAt"`
}
