// Package accounts exposes owner-scoped operations over connected
// integration accounts. Every lookup is checked against the requesting
// owner so one user can never read or disconnect another's accounts.
package accounts

import (
	"context"
	"errors"

	"github.com/dropDatabas3/pulsebroker/internal/domain/repository"
	"github.com/dropDatabas3/pulsebroker/internal/observability/logger"
)

type Service struct {
	repo repository.AccountRepository
}

func NewService(repo repository.AccountRepository) *Service {
	return &Service{repo: repo}
}

// List returns the owner's accounts, optionally narrowed to one platform.
func (s *Service) List(ctx context.Context, ownerUserID, platform string) ([]*repository.IntegrationAccount, error) {
	return s.repo.Find(ctx, ownerUserID, platform)
}

// GetOwned loads an account and verifies it belongs to the owner. A
// foreign account is reported as ErrNotFound, not as a permission error,
// so the endpoint does not leak which IDs exist.
func (s *Service) GetOwned(ctx context.Context, ownerUserID, accountID string) (*repository.IntegrationAccount, error) {
	acc, err := s.repo.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acc.OwnerUserID != ownerUserID {
		return nil, repository.ErrNotFound
	}
	return acc, nil
}

// Disconnect removes the account and its stored credentials.
func (s *Service) Disconnect(ctx context.Context, ownerUserID, accountID string) error {
	acc, err := s.GetOwned(ctx, ownerUserID, accountID)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, acc.ID); err != nil {
		return err
	}
	logger.From(ctx).Info("integration account disconnected",
		logger.Platform(acc.Platform),
		logger.AccountID(acc.ID),
	)
	return nil
}

// IsNotFound reports whether err is the repository's missing-row sentinel.
func IsNotFound(err error) bool {
	return errors.Is(err, repository.ErrNotFound)
}
