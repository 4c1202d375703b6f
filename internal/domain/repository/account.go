// Package repository defines the persistence contracts for the broker.
// Implementations live under internal/store.
package repository

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
)

// IntegrationAccount is one linked external social-media account.
//
// At most one record exists per (OwnerUserID, Platform, IdentityKey); the
// identity key is the provider-specific stable identifier (channel id,
// business-account id, open id). The broker never deletes records on its
// own; disconnecting is a user action.
type IntegrationAccount struct {
	ID          string
	OwnerUserID string
	Platform    string

	// AccessToken and RefreshToken are stored sealed (secretbox) when a
	// master key is configured. RefreshToken is empty for providers that
	// issue none.
	AccessToken  string
	RefreshToken string

	// ExpiresAt nil means the provider reported no expiry; the token is
	// treated as long-lived.
	ExpiresAt *time.Time

	// IdentityKey may be empty when identity resolution failed but a token
	// was still obtained.
	IdentityKey string

	// Metadata holds provider-specific identity fields: display name,
	// nested page/channel ids, last-known profile counters.
	Metadata map[string]string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DisplayName derives a human label for account lists.
func (a *IntegrationAccount) DisplayName() string {
	for _, k := range []string{"display_name", "username", "channel_title", "page_name"} {
		if v := a.Metadata[k]; v != "" {
			return v
		}
	}
	if a.IdentityKey != "" {
		return a.IdentityKey
	}
	return a.Platform
}

// UpsertInput carries everything learned from a successful authorization.
type UpsertInput struct {
	OwnerUserID  string
	Platform     string
	IdentityKey  string
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
	Metadata     map[string]string
}

// TokenUpdate is the field set a refresh overwrites. Kept separate from
// metadata updates so concurrent writers merge instead of clobbering.
type TokenUpdate struct {
	AccessToken  string
	RefreshToken string // empty means keep the stored one
	ExpiresAt    *time.Time
}

// AccountRepository is the account store boundary. The broker is its only
// writer; reads come from it and from the surrounding application.
type AccountRepository interface {
	// Find returns every linked account for (owner, platform). Platform
	// may be empty to list all of the owner's accounts.
	Find(ctx context.Context, ownerUserID, platform string) ([]*IntegrationAccount, error)

	// FindOne looks up by the uniqueness triple. ErrNotFound when absent.
	FindOne(ctx context.Context, ownerUserID, platform, identityKey string) (*IntegrationAccount, error)

	// Get returns an account by id. ErrNotFound when absent.
	Get(ctx context.Context, id string) (*IntegrationAccount, error)

	// Upsert inserts or updates under the uniqueness invariant: token
	// fields overwritten, metadata merged key-wise (incoming keys win,
	// absent keys preserved). An empty IdentityKey matches any existing
	// (owner, platform) record before inserting.
	Upsert(ctx context.Context, in UpsertInput) (*IntegrationAccount, error)

	// UpdateTokens overwrites only the token field set of one account.
	UpdateTokens(ctx context.Context, id string, upd TokenUpdate) error

	// SetIdentityKey records a late-resolved identity key on one account
	// without touching tokens or metadata. A concurrent refresh must never
	// be clobbered by identity resolution.
	SetIdentityKey(ctx context.Context, id, identityKey string) error

	// MergeMetadata folds keys into the account's metadata without
	// touching tokens. Incoming keys win.
	MergeMetadata(ctx context.Context, id string, meta map[string]string) error

	// Delete removes an account (user-initiated disconnect).
	Delete(ctx context.Context, id string) error
}
