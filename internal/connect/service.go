// Package connect drives the OAuth connect flow: issuing the authorization
// redirect and turning the provider callback into a persisted integration
// account.
package connect

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dropDatabas3/pulsebroker/internal/domain/repository"
	"github.com/dropDatabas3/pulsebroker/internal/observability/logger"
	"github.com/dropDatabas3/pulsebroker/internal/observability/metrics"
	"github.com/dropDatabas3/pulsebroker/internal/provider"
	"github.com/dropDatabas3/pulsebroker/internal/statetoken"
	"github.com/dropDatabas3/pulsebroker/internal/util"
)

var (
	// ErrStateExpired means the state round-tripped correctly but the
	// owner took too long; the flow should restart, not be rejected.
	ErrStateExpired = errors.New("connect: state expired")

	// ErrStateInvalid covers forged, malformed or cross-platform state.
	ErrStateInvalid = errors.New("connect: state invalid")
)

type Service struct {
	providers *provider.Registry
	repo      repository.AccountRepository
	states    *statetoken.Codec
	stateTTL  time.Duration
	now       func() time.Time
}

func NewService(providers *provider.Registry, repo repository.AccountRepository, states *statetoken.Codec, stateTTL time.Duration) *Service {
	return &Service{
		providers: providers,
		repo:      repo,
		states:    states,
		stateTTL:  stateTTL,
		now:       time.Now,
	}
}

// Start issues a signed state bound to the owner and platform and returns
// the provider authorization URL to redirect the owner to.
func (s *Service) Start(ctx context.Context, ownerUserID, platform string) (string, error) {
	adapter, err := s.providers.Get(platform)
	if err != nil {
		return "", err
	}

	state, err := s.states.Issue(ownerUserID, platform, s.stateTTL)
	if err != nil {
		return "", fmt.Errorf("connect: issue state: %w", err)
	}

	authURL, err := adapter.AuthorizationURL(state)
	if err != nil {
		return "", fmt.Errorf("connect: build authorization url: %w", err)
	}

	logger.From(ctx).Info("connect flow started",
		logger.Platform(platform),
		logger.OwnerID(ownerUserID),
	)
	return authURL, nil
}

// Callback completes the flow for a provider redirect. Identity resolution
// failure is not fatal: the account is persisted with an empty identity key
// so the stored grant is not lost, and resolution can be retried later.
func (s *Service) Callback(ctx context.Context, platform, code, rawState string) (*repository.IntegrationAccount, error) {
	st, err := s.verifyState(rawState, platform)
	if err != nil {
		return nil, err
	}

	log := logger.From(ctx).With(
		logger.Platform(platform),
		logger.OwnerID(st.Subject),
	)

	adapter, err := s.providers.Get(platform)
	if err != nil {
		return nil, err
	}

	grant, err := adapter.ExchangeCode(ctx, code)
	if err != nil {
		metrics.ObserveProviderCall(platform, "exchange_code", "error")
		return nil, err
	}
	metrics.ObserveProviderCall(platform, "exchange_code", "ok")
	log.Debug("code exchanged",
		logger.String("access_token", util.MaskToken(grant.AccessToken)),
		logger.Bool("has_refresh", grant.RefreshToken != ""),
	)

	// Short-lived grants upgrade to long-lived where the platform supports
	// it. Failure keeps the original grant; it is still usable.
	if up, ok := adapter.(provider.TokenUpgrader); ok {
		upgraded, uerr := up.UpgradeToken(ctx, grant.AccessToken)
		if uerr != nil {
			log.Warn("token upgrade failed, keeping short-lived grant", logger.Err(uerr))
		} else {
			if upgraded.RefreshToken == "" {
				upgraded.RefreshToken = grant.RefreshToken
			}
			grant = upgraded
		}
	}

	in := repository.UpsertInput{
		OwnerUserID:  st.Subject,
		Platform:     platform,
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		ExpiresAt:    grant.ExpiryTime(s.now()),
	}

	identity, err := adapter.ResolveIdentity(ctx, grant.AccessToken)
	switch {
	case err == nil:
		in.IdentityKey = identity.Key
		in.Metadata = identity.Raw
		if identity.DisplayName != "" {
			if in.Metadata == nil {
				in.Metadata = map[string]string{}
			}
			in.Metadata["display_name"] = identity.DisplayName
		}
	case errors.Is(err, provider.ErrIdentityNotFound):
		log.Warn("identity unresolved, persisting account without identity key")
	default:
		log.Warn("identity resolution failed, persisting account without identity key", logger.Err(err))
	}

	acc, err := s.repo.Upsert(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("connect: persist account: %w", err)
	}

	log.Info("integration account connected",
		logger.AccountID(acc.ID),
		logger.IdentityKey(acc.IdentityKey),
	)
	return acc, nil
}

func (s *Service) verifyState(rawState, platform string) (*statetoken.State, error) {
	st, err := s.states.Verify(rawState)
	switch {
	case errors.Is(err, statetoken.ErrExpired):
		metrics.ObserveState("expired")
		return nil, ErrStateExpired
	case err != nil:
		metrics.ObserveState("invalid")
		return nil, ErrStateInvalid
	case st.Platform != platform:
		metrics.ObserveState("invalid")
		return nil, fmt.Errorf("%w: platform mismatch", ErrStateInvalid)
	}
	metrics.ObserveState("ok")
	return st, nil
}
