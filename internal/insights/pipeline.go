package insights

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dropDatabas3/pulsebroker/internal/cache"
	"github.com/dropDatabas3/pulsebroker/internal/domain/repository"
	"github.com/dropDatabas3/pulsebroker/internal/observability/logger"
	"github.com/dropDatabas3/pulsebroker/internal/observability/metrics"
	"github.com/dropDatabas3/pulsebroker/internal/provider"
	"github.com/dropDatabas3/pulsebroker/internal/tokens"
)

const (
	// DefaultItemLimit caps the recent-items list requested per account.
	DefaultItemLimit = 10

	// enrichmentFanout bounds concurrent per-item metric calls.
	enrichmentFanout = 8
)

// ErrIdentityNotFound is the pipeline's terminal identity failure. Every
// other provider-side failure degrades to absent data, never to an error.
var ErrIdentityNotFound = provider.ErrIdentityNotFound

type Pipeline struct {
	repo       repository.AccountRepository
	tokens     *tokens.Manager
	providers  *provider.Registry
	cache      cache.Cache
	cacheTTL   time.Duration
	demoPrefix string
	itemLimit  int
	now        func() time.Time
}

func NewPipeline(repo repository.AccountRepository, tm *tokens.Manager, providers *provider.Registry, c cache.Cache, cacheTTL time.Duration, demoPrefix string) *Pipeline {
	return &Pipeline{
		repo:       repo,
		tokens:     tm,
		providers:  providers,
		cache:      c,
		cacheTTL:   cacheTTL,
		demoPrefix: demoPrefix,
		itemLimit:  DefaultItemLimit,
		now:        time.Now,
	}
}

// FetchCanonicalMetrics produces the canonical result for one account. It
// fails only when the account has no usable token or its identity cannot
// be resolved; everything downstream of those two degrades to partial data.
func (p *Pipeline) FetchCanonicalMetrics(ctx context.Context, acc *repository.IntegrationAccount) (*Result, error) {
	start := p.now()
	log := logger.From(ctx).With(
		logger.Component("insights"),
		logger.Platform(acc.Platform),
		logger.AccountID(acc.ID),
	)

	if p.demoPrefix != "" && strings.HasPrefix(acc.AccessToken, p.demoPrefix) {
		log.Debug("demo account, serving generated metrics")
		return demoResult(acc, p.now()), nil
	}

	if cached := p.fromCache(acc.ID); cached != nil {
		return cached, nil
	}

	token, err := p.tokens.EnsureValid(ctx, acc)
	if err != nil {
		return nil, err
	}

	adapter, err := p.providers.Get(acc.Platform)
	if err != nil {
		return nil, err
	}

	identityKey, err := p.resolveIdentity(ctx, adapter, acc, token)
	if err != nil {
		return nil, err
	}

	res := &Result{
		AccountID: acc.ID,
		Platform:  acc.Platform,
		FetchedAt: p.now().UTC(),
	}

	rawProfile, err := adapter.FetchProfile(ctx, token, identityKey)
	if err != nil {
		metrics.ObserveProviderCall(acc.Platform, "profile", "error")
		log.Warn("profile fetch failed, falling back to stored metadata", logger.Err(err))
		rawProfile = nil
	} else {
		metrics.ObserveProviderCall(acc.Platform, "profile", "ok")
	}
	res.Profile = profileFrom(acc.Platform, identityKey, rawProfile, acc.Metadata)

	rawAccount, err := adapter.FetchAccountMetrics(ctx, token, identityKey)
	if err != nil {
		metrics.ObserveProviderCall(acc.Platform, "account_metrics", "error")
		log.Warn("account metrics unavailable", logger.Err(err))
		rawAccount = provider.RawMetrics{}
	} else {
		metrics.ObserveProviderCall(acc.Platform, "account_metrics", "ok")
	}
	res.Metrics = normalizeAccount(acc.Platform, rawAccount)
	res.MetricsPresence = presence(acc.Platform, res.Metrics)

	res.Items = p.fetchItems(ctx, adapter, acc.Platform, token, identityKey, log)

	p.persistLearnedMetadata(ctx, acc, res, log)
	p.toCache(acc.ID, res)

	if metrics.InsightsDuration != nil {
		metrics.InsightsDuration.WithLabelValues(acc.Platform).Observe(p.now().Sub(start).Seconds())
	}
	return res, nil
}

// Invalidate drops the cached result for an account, if any.
func (p *Pipeline) Invalidate(accountID string) {
	if p.cache != nil {
		p.cache.Delete("insights:" + accountID)
	}
}

// resolveIdentity prefers the stored identity key; when the account was
// persisted unresolved it retries resolution and writes the key back so
// the next request skips the probe.
func (p *Pipeline) resolveIdentity(ctx context.Context, adapter provider.Adapter, acc *repository.IntegrationAccount, token string) (string, error) {
	if acc.IdentityKey != "" {
		return acc.IdentityKey, nil
	}

	identity, err := adapter.ResolveIdentity(ctx, token)
	if err != nil {
		if errors.Is(err, provider.ErrIdentityNotFound) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", ErrIdentityNotFound, err)
	}

	// Identity resolution must never write token fields: EnsureValid may
	// have just persisted a rotated pair this snapshot does not carry.
	if uerr := p.repo.SetIdentityKey(ctx, acc.ID, identity.Key); uerr != nil {
		logger.From(ctx).Warn("could not persist late-resolved identity", logger.Err(uerr))
	}
	if len(identity.Raw) > 0 {
		if uerr := p.repo.MergeMetadata(ctx, acc.ID, identity.Raw); uerr != nil {
			logger.From(ctx).Warn("could not persist resolved identity metadata", logger.Err(uerr))
		}
	}
	return identity.Key, nil
}

// fetchItems loads the recent item list and enriches each item with its
// own metrics concurrently. A failed enrichment nulls that item's metrics
// only; a failed list yields an empty slice.
func (p *Pipeline) fetchItems(ctx context.Context, adapter provider.Adapter, platform, token, identityKey string, log *zap.Logger) []Item {
	rawItems, err := adapter.FetchRecentItems(ctx, token, identityKey, p.itemLimit)
	if err != nil {
		metrics.ObserveProviderCall(platform, "items", "error")
		log.Warn("item list unavailable", logger.Err(err))
		return []Item{}
	}
	metrics.ObserveProviderCall(platform, "items", "ok")

	items := make([]Item, len(rawItems))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(enrichmentFanout)

	for i, ri := range rawItems {
		i, ri := i, ri
		items[i] = Item{ID: ri.ID, Title: ri.Title, Timestamp: ri.Timestamp}
		if len(ri.Counters) > 0 {
			// The list call already carried counters; no extra fetch.
			items[i].Metrics = normalizeItem(platform, ri.Counters)
			continue
		}
		g.Go(func() error {
			raw, err := adapter.FetchItemMetrics(gctx, token, ri.ID)
			if err != nil {
				metrics.ObserveProviderCall(platform, "item_metrics", "error")
				log.Debug("item enrichment failed",
					logger.ItemID(ri.ID),
					logger.Err(err),
				)
				return nil
			}
			metrics.ObserveProviderCall(platform, "item_metrics", "ok")
			items[i].Metrics = normalizeItem(platform, raw)
			return nil
		})
	}
	_ = g.Wait()
	return items
}

// persistLearnedMetadata writes stable identity fields and last-known
// profile counters back onto the account record, under the platform's
// native counter keys so the profile fallback can re-read them. Best
// effort: a failed write never fails the response.
func (p *Pipeline) persistLearnedMetadata(ctx context.Context, acc *repository.IntegrationAccount, res *Result, log *zap.Logger) {
	meta := map[string]string{}
	if res.Profile.DisplayName != "" && res.Profile.DisplayName != acc.Metadata["display_name"] {
		meta["display_name"] = res.Profile.DisplayName
	}
	if res.Profile.PictureURL != "" && res.Profile.PictureURL != acc.Metadata["picture_url"] {
		meta["picture_url"] = res.Profile.PictureURL
	}
	t := tables[acc.Platform]
	if t.followersKey != "" && res.Profile.Followers != nil {
		meta[t.followersKey] = strconv.FormatFloat(*res.Profile.Followers, 'f', -1, 64)
	}
	if t.itemCountKey != "" && res.Profile.ItemCount != nil {
		meta[t.itemCountKey] = strconv.FormatFloat(*res.Profile.ItemCount, 'f', -1, 64)
	}
	if len(meta) == 0 {
		return
	}
	if err := p.repo.MergeMetadata(ctx, acc.ID, meta); err != nil {
		log.Warn("metadata write-back failed", logger.Err(err))
	}
}

func (p *Pipeline) fromCache(accountID string) *Result {
	if p.cache == nil {
		return nil
	}
	b, ok := p.cache.Get("insights:" + accountID)
	if !ok {
		return nil
	}
	var res Result
	if err := json.Unmarshal(b, &res); err != nil {
		p.cache.Delete("insights:" + accountID)
		return nil
	}
	return &res
}

func (p *Pipeline) toCache(accountID string, res *Result) {
	if p.cache == nil || p.cacheTTL <= 0 {
		return
	}
	if b, err := json.Marshal(res); err == nil {
		p.cache.Set("insights:"+accountID, b, p.cacheTTL)
	}
}
