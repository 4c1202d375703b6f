// Package tokens keeps stored provider credentials usable. The manager
// decides when a stored token is still good, refreshes it when it is not,
// and collapses concurrent refreshes for the same account into one call.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dropDatabas3/pulsebroker/internal/domain/repository"
	"github.com/dropDatabas3/pulsebroker/internal/observability/logger"
	"github.com/dropDatabas3/pulsebroker/internal/observability/metrics"
	"github.com/dropDatabas3/pulsebroker/internal/provider"
)

// RefreshSkew is subtracted from the stored expiry: a token inside this
// window is treated as expired so it never dies mid-flight downstream.
const RefreshSkew = 45 * time.Second

// ErrReauthorizationRequired means the stored credentials cannot be made
// valid without the owner going through the connect flow again.
var ErrReauthorizationRequired = errors.New("tokens: reauthorization required")

type Manager struct {
	repo      repository.AccountRepository
	providers *provider.Registry
	group     singleflight.Group
	now       func() time.Time
}

func NewManager(repo repository.AccountRepository, providers *provider.Registry) *Manager {
	return &Manager{repo: repo, providers: providers, now: time.Now}
}

// EnsureValid returns an access token for the account that is valid for at
// least RefreshSkew from now. A nil expiry means the token never expires.
// On refresh failure the stored tokens are left untouched and
// ErrReauthorizationRequired is returned.
func (m *Manager) EnsureValid(ctx context.Context, acc *repository.IntegrationAccount) (string, error) {
	if acc == nil || acc.AccessToken == "" {
		return "", ErrReauthorizationRequired
	}
	if m.valid(acc.AccessToken, acc.ExpiresAt) {
		return acc.AccessToken, nil
	}

	v, err, _ := m.group.Do(acc.ID, func() (any, error) {
		return m.refresh(ctx, acc)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *Manager) valid(token string, expiresAt *time.Time) bool {
	if token == "" {
		return false
	}
	return expiresAt == nil || expiresAt.After(m.now().Add(RefreshSkew))
}

func (m *Manager) refresh(ctx context.Context, acc *repository.IntegrationAccount) (string, error) {
	log := logger.From(ctx).With(
		logger.Component("tokens"),
		logger.Platform(acc.Platform),
		logger.AccountID(acc.ID),
	)

	// Re-read: a flight that just finished may have already rotated the
	// tokens while this caller was queued on the singleflight key.
	cur, err := m.repo.Get(ctx, acc.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", ErrReauthorizationRequired
		}
		return "", fmt.Errorf("tokens: load account: %w", err)
	}
	if m.valid(cur.AccessToken, cur.ExpiresAt) {
		return cur.AccessToken, nil
	}

	if cur.RefreshToken == "" {
		metrics.ObserveRefresh(acc.Platform, "reauth_required")
		log.Info("token expired and no refresh token stored")
		return "", ErrReauthorizationRequired
	}

	adapter, err := m.providers.Get(acc.Platform)
	if err != nil {
		return "", err
	}

	grant, err := adapter.Refresh(ctx, cur.RefreshToken)
	if err != nil {
		if errors.Is(err, provider.ErrNoRefreshCapability) {
			metrics.ObserveRefresh(acc.Platform, "reauth_required")
			return "", ErrReauthorizationRequired
		}
		metrics.ObserveRefresh(acc.Platform, "error")
		log.Warn("refresh failed, stored tokens untouched", logger.Err(err))
		return "", fmt.Errorf("%w: %v", ErrReauthorizationRequired, err)
	}

	upd := repository.TokenUpdate{
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken, // empty keeps the stored one
		ExpiresAt:    grant.ExpiryTime(m.now()),
	}
	if err := m.repo.UpdateTokens(ctx, cur.ID, upd); err != nil {
		metrics.ObserveRefresh(acc.Platform, "error")
		return "", fmt.Errorf("tokens: persist refreshed tokens: %w", err)
	}

	metrics.ObserveRefresh(acc.Platform, "ok")
	log.Info("access token refreshed",
		logger.Bool("refresh_token_rotated", grant.RefreshToken != ""),
	)
	return grant.AccessToken, nil
}
