// Package provider defines the fixed capability set every platform adapter
// implements, plus the shared error taxonomy. One adapter exists per
// platform; normalization to the canonical schema happens one layer up in
// internal/insights.
package provider

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrConfigurationMissing: the platform has no client credentials.
	// Fatal for that platform's flow only.
	ErrConfigurationMissing = errors.New("provider not configured")

	// ErrTokenExchangeFailed: the provider rejected the authorization code.
	ErrTokenExchangeFailed = errors.New("token exchange failed")

	// ErrNoRefreshCapability: the provider issues no refresh tokens; the
	// caller must require a full re-authorization.
	ErrNoRefreshCapability = errors.New("provider does not support token refresh")

	// ErrIdentityNotFound: no container yielded a linked identity.
	ErrIdentityNotFound = errors.New("provider identity not found")
)

// Grant is the result of a code exchange, token upgrade or refresh.
// RefreshToken and ExpiresIn are optional; zero ExpiresIn means the provider
// reported no expiry.
type Grant struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int
}

// ExpiryTime converts ExpiresIn into an absolute timestamp, nil when the
// provider reported none.
func (g *Grant) ExpiryTime(now time.Time) *time.Time {
	if g.ExpiresIn <= 0 {
		return nil
	}
	t := now.Add(time.Duration(g.ExpiresIn) * time.Second).UTC()
	return &t
}

// Identity is the resolved provider-side identity of an authorized token.
type Identity struct {
	// Key is the stable provider identifier used to deduplicate accounts:
	// channel id, business-account id, open id, broadcaster id.
	Key         string
	DisplayName string
	// Raw carries extra stable fields worth persisting into account
	// metadata (page ids, usernames, picture URLs).
	Raw map[string]string
}

// RawMetrics maps provider-native metric names to values. Unknown names are
// dropped during normalization.
type RawMetrics map[string]float64

// RawProfile is a provider-native profile snapshot.
type RawProfile struct {
	Fields   map[string]string
	Counters map[string]float64
}

// RawItem is one content item as listed by the provider. Counters may be
// pre-populated from the list call; per-item enrichment adds the rest.
type RawItem struct {
	ID        string
	Title     string
	Timestamp time.Time
	Counters  RawMetrics
}

// Adapter is the per-platform capability set. Every network call honors the
// context deadline; a timeout is treated like any other failure by callers.
type Adapter interface {
	Platform() string

	// AuthorizationURL builds the provider consent URL for a signed state.
	// Deterministic; embeds the configured scopes and redirect URI. The
	// redirect URI here must match ExchangeCode's byte for byte.
	AuthorizationURL(state string) (string, error)

	// ExchangeCode trades the callback code for tokens. Missing optional
	// fields (refresh token, expiry) are not errors.
	ExchangeCode(ctx context.Context, code string) (*Grant, error)

	// Refresh obtains a new access token. ErrNoRefreshCapability when the
	// provider has no refresh grant.
	Refresh(ctx context.Context, refreshToken string) (*Grant, error)

	// ResolveIdentity finds the stable identity behind an access token,
	// probing page/container indirection where the provider requires it.
	ResolveIdentity(ctx context.Context, accessToken string) (*Identity, error)

	// FetchProfile returns the provider-native profile for identityKey.
	FetchProfile(ctx context.Context, accessToken, identityKey string) (*RawProfile, error)

	// FetchAccountMetrics returns aggregate insights. Adapters issue
	// multiple batched calls where the provider segregates metric types;
	// best-effort batches that fail simply leave their names absent.
	FetchAccountMetrics(ctx context.Context, accessToken, identityKey string) (RawMetrics, error)

	// FetchRecentItems lists the most recent items, provider-capped.
	FetchRecentItems(ctx context.Context, accessToken, identityKey string, limit int) ([]RawItem, error)

	// FetchItemMetrics returns per-item insights for one item.
	FetchItemMetrics(ctx context.Context, accessToken, itemID string) (RawMetrics, error)
}

// TokenUpgrader is the optional capability of trading a short-lived token
// for a long-lived one. Adapters without it are trivially correct; failure
// of an upgrade is non-fatal and callers continue with the original grant.
type TokenUpgrader interface {
	UpgradeToken(ctx context.Context, accessToken string) (*Grant, error)
}
