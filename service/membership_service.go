package service

import (
	"context"
	"fmt"

	"betledger/config"
	"betledger/models"
)

type membershipService struct {
	uowFactory UnitOfWorkFactory
	config     *config.Config
}

// NewMembershipService creates the group membership collaborator
func NewMembershipService(uowFactory UnitOfWorkFactory, cfg *config.Config) MembershipService {
	return &membershipService{
		uowFactory: uowFactory,
		config:     cfg,
	}
}

func (s *membershipService) IsMember(ctx context.Context, groupID, userID int64) (bool, error) {
	return withStoreRetry(ctx, s.config.StoreRetryAttempts, func() (bool, error) {
		uow := s.uowFactory.Create()
		if err := uow.Begin(ctx); err != nil {
			return false, fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer uow.Rollback()

		return uow.MembershipRepository().IsMember(ctx, groupID, userID)
	})
}

func (s *membershipService) AddMember(ctx context.Context, groupID, userID int64) error {
	if groupID == 0 || userID == 0 {
		return newError(KindValidation, "group id and user id are required")
	}
	return withStoreRetryErr(ctx, s.config.StoreRetryAttempts, func() error {
		uow := s.uowFactory.Create()
		if err := uow.Begin(ctx); err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer uow.Rollback()

		if err := uow.MembershipRepository().AddMember(ctx, groupID, userID); err != nil {
			return fmt.Errorf("failed to add member: %w", err)
		}
		return uow.Commit()
	})
}

func (s *membershipService) ListMembers(ctx context.Context, groupID int64) ([]*models.GroupMember, error) {
	return withStoreRetry(ctx, s.config.StoreRetryAttempts, func() ([]*models.GroupMember, error) {
		uow := s.uowFactory.Create()
		if err := uow.Begin(ctx); err != nil {
			return nil, fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer uow.Rollback()

		return uow.MembershipRepository().ListMembers(ctx, groupID)
	})
}
