// Package sealed decorates an AccountRepository so access and refresh
// tokens are encrypted at rest. Everything downstream of the decorator
// works with plaintext tokens.
package sealed

import (
	"context"
	"fmt"

	"github.com/dropDatabas3/pulsebroker/internal/domain/repository"
	"github.com/dropDatabas3/pulsebroker/internal/security/secretbox"
)

type Store struct {
	inner repository.AccountRepository
	box   *secretbox.Box
}

// Wrap returns the inner repository unchanged when box is nil.
func Wrap(inner repository.AccountRepository, box *secretbox.Box) repository.AccountRepository {
	if box == nil {
		return inner
	}
	return &Store{inner: inner, box: box}
}

func (s *Store) Find(ctx context.Context, ownerUserID, platform string) ([]*repository.IntegrationAccount, error) {
	accs, err := s.inner.Find(ctx, ownerUserID, platform)
	if err != nil {
		return nil, err
	}
	for _, a := range accs {
		if err := s.open(a); err != nil {
			return nil, err
		}
	}
	return accs, nil
}

func (s *Store) FindOne(ctx context.Context, ownerUserID, platform, identityKey string) (*repository.IntegrationAccount, error) {
	a, err := s.inner.FindOne(ctx, ownerUserID, platform, identityKey)
	if err != nil {
		return nil, err
	}
	return a, s.open(a)
}

func (s *Store) Get(ctx context.Context, id string) (*repository.IntegrationAccount, error) {
	a, err := s.inner.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return a, s.open(a)
}

func (s *Store) Upsert(ctx context.Context, in repository.UpsertInput) (*repository.IntegrationAccount, error) {
	var err error
	if in.AccessToken, err = s.box.Seal(in.AccessToken); err != nil {
		return nil, fmt.Errorf("seal access token: %w", err)
	}
	if in.RefreshToken != "" {
		if in.RefreshToken, err = s.box.Seal(in.RefreshToken); err != nil {
			return nil, fmt.Errorf("seal refresh token: %w", err)
		}
	}
	a, err := s.inner.Upsert(ctx, in)
	if err != nil {
		return nil, err
	}
	return a, s.open(a)
}

func (s *Store) UpdateTokens(ctx context.Context, id string, upd repository.TokenUpdate) error {
	var err error
	if upd.AccessToken, err = s.box.Seal(upd.AccessToken); err != nil {
		return fmt.Errorf("seal access token: %w", err)
	}
	if upd.RefreshToken != "" {
		if upd.RefreshToken, err = s.box.Seal(upd.RefreshToken); err != nil {
			return fmt.Errorf("seal refresh token: %w", err)
		}
	}
	return s.inner.UpdateTokens(ctx, id, upd)
}

func (s *Store) SetIdentityKey(ctx context.Context, id, identityKey string) error {
	return s.inner.SetIdentityKey(ctx, id, identityKey)
}

func (s *Store) MergeMetadata(ctx context.Context, id string, meta map[string]string) error {
	return s.inner.MergeMetadata(ctx, id, meta)
}

func (s *Store) Delete(ctx context.Context, id string) error {
	return s.inner.Delete(ctx, id)
}

func (s *Store) open(a *repository.IntegrationAccount) error {
	var err error
	if a.AccessToken, err = s.box.Open(a.AccessToken); err != nil {
		return fmt.Errorf("open access token: %w", err)
	}
	if a.RefreshToken, err = s.box.Open(a.RefreshToken); err != nil {
		return fmt.Errorf("open refresh token: %w", err)
	}
	return nil
}
