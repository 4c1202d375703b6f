// Package memory implements AccountRepository in process memory. Used by
// tests and by dev setups without Postgres.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/pulsebroker/internal/domain/repository"
)

type Store struct {
	mu       sync.RWMutex
	accounts map[string]*repository.IntegrationAccount
}

func New() *Store {
	return &Store{accounts: make(map[string]*repository.IntegrationAccount)}
}

func (s *Store) Find(ctx context.Context, ownerUserID, platform string) ([]*repository.IntegrationAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*repository.IntegrationAccount
	for _, a := range s.accounts {
		if a.OwnerUserID != ownerUserID {
			continue
		}
		if platform != "" && a.Platform != platform {
			continue
		}
		out = append(out, clone(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) FindOne(ctx context.Context, ownerUserID, platform, identityKey string) (*repository.IntegrationAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.accounts {
		if a.OwnerUserID == ownerUserID && a.Platform == platform && a.IdentityKey == identityKey {
			return clone(a), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *Store) Get(ctx context.Context, id string) (*repository.IntegrationAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return clone(a), nil
}

func (s *Store) Upsert(ctx context.Context, in repository.UpsertInput) (*repository.IntegrationAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Exact triple match wins. Otherwise adopt the earliest record whose
	// identity was never resolved (empty key), so flaky resolution does not
	// spawn a second record for the same conceptual account.
	var exact, unresolved *repository.IntegrationAccount
	for _, a := range s.accounts {
		if a.OwnerUserID != in.OwnerUserID || a.Platform != in.Platform {
			continue
		}
		switch {
		case in.IdentityKey != "" && a.IdentityKey == in.IdentityKey:
			exact = a
		case a.IdentityKey == "" || in.IdentityKey == "":
			if unresolved == nil || a.CreatedAt.Before(unresolved.CreatedAt) {
				unresolved = a
			}
		}
	}
	existing := exact
	if existing == nil {
		existing = unresolved
	}

	now := time.Now().UTC()
	if existing != nil {
		existing.AccessToken = in.AccessToken
		if in.RefreshToken != "" {
			existing.RefreshToken = in.RefreshToken
		}
		existing.ExpiresAt = in.ExpiresAt
		if in.IdentityKey != "" {
			existing.IdentityKey = in.IdentityKey
		}
		if existing.Metadata == nil {
			existing.Metadata = map[string]string{}
		}
		for k, v := range in.Metadata {
			existing.Metadata[k] = v
		}
		existing.UpdatedAt = now
		return clone(existing), nil
	}

	acc := &repository.IntegrationAccount{
		ID:           uuid.NewString(),
		OwnerUserID:  in.OwnerUserID,
		Platform:     in.Platform,
		AccessToken:  in.AccessToken,
		RefreshToken: in.RefreshToken,
		ExpiresAt:    in.ExpiresAt,
		IdentityKey:  in.IdentityKey,
		Metadata:     cloneMeta(in.Metadata),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.accounts[acc.ID] = acc
	return clone(acc), nil
}

func (s *Store) UpdateTokens(ctx context.Context, id string, upd repository.TokenUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return repository.ErrNotFound
	}
	a.AccessToken = upd.AccessToken
	if upd.RefreshToken != "" {
		a.RefreshToken = upd.RefreshToken
	}
	a.ExpiresAt = upd.ExpiresAt
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) SetIdentityKey(ctx context.Context, id, identityKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return repository.ErrNotFound
	}
	a.IdentityKey = identityKey
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) MergeMetadata(ctx context.Context, id string, meta map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return repository.ErrNotFound
	}
	if a.Metadata == nil {
		a.Metadata = map[string]string{}
	}
	for k, v := range meta {
		a.Metadata[k] = v
	}
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[id]; !ok {
		return repository.ErrNotFound
	}
	delete(s.accounts, id)
	return nil
}

func clone(a *repository.IntegrationAccount) *repository.IntegrationAccount {
	cp := *a
	cp.Metadata = cloneMeta(a.Metadata)
	if a.ExpiresAt != nil {
		t := *a.ExpiresAt
		cp.ExpiresAt = &t
	}
	return &cp
}

func cloneMeta(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
