package insights_test

import (
	"context"
	"errors"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dropDatabas3/pulsebroker/internal/cache/memory"
	"github.com/dropDatabas3/pulsebroker/internal/domain/repository"
	"github.com/dropDatabas3/pulsebroker/internal/insights"
	"github.com/dropDatabas3/pulsebroker/internal/provider"
	storememory "github.com/dropDatabas3/pulsebroker/internal/store/memory"
	"github.com/dropDatabas3/pulsebroker/internal/tokens"
)

// fakeAdapter simulates one platform's API surface for the pipeline.
type fakeAdapter struct {
	platform string

	profile    *provider.RawProfile
	profileErr error

	metrics    provider.RawMetrics
	metricsErr error

	items    []provider.RawItem
	itemsErr error

	itemMetrics    map[string]provider.RawMetrics
	itemMetricsErr map[string]error

	identity    *provider.Identity
	identityErr error

	refresh func(refreshToken string) (*provider.Grant, error)

	profileCalls atomic.Int64
}

func (f *fakeAdapter) Platform() string { return f.platform }

func (f *fakeAdapter) AuthorizationURL(state string) (string, error) { return "", nil }

func (f *fakeAdapter) ExchangeCode(ctx context.Context, code string) (*provider.Grant, error) {
	return nil, errors.New("not used")
}

func (f *fakeAdapter) Refresh(ctx context.Context, refreshToken string) (*provider.Grant, error) {
	if f.refresh != nil {
		return f.refresh(refreshToken)
	}
	return nil, provider.ErrNoRefreshCapability
}

func (f *fakeAdapter) ResolveIdentity(ctx context.Context, accessToken string) (*provider.Identity, error) {
	if f.identityErr != nil {
		return nil, f.identityErr
	}
	if f.identity == nil {
		return nil, provider.ErrIdentityNotFound
	}
	return f.identity, nil
}

func (f *fakeAdapter) FetchProfile(ctx context.Context, accessToken, identityKey string) (*provider.RawProfile, error) {
	f.profileCalls.Add(1)
	if f.profileErr != nil {
		return nil, f.profileErr
	}
	return f.profile, nil
}

func (f *fakeAdapter) FetchAccountMetrics(ctx context.Context, accessToken, identityKey string) (provider.RawMetrics, error) {
	if f.metricsErr != nil {
		return nil, f.metricsErr
	}
	return f.metrics, nil
}

func (f *fakeAdapter) FetchRecentItems(ctx context.Context, accessToken, identityKey string, limit int) ([]provider.RawItem, error) {
	if f.itemsErr != nil {
		return nil, f.itemsErr
	}
	return f.items, nil
}

func (f *fakeAdapter) FetchItemMetrics(ctx context.Context, accessToken, itemID string) (provider.RawMetrics, error) {
	if err := f.itemMetricsErr[itemID]; err != nil {
		return nil, err
	}
	return f.itemMetrics[itemID], nil
}

type env struct {
	repo     *storememory.Store
	pipeline *insights.Pipeline
	adapter  *fakeAdapter
	acc      *repository.IntegrationAccount
}

func newEnv(t *testing.T, adapter *fakeAdapter, in repository.UpsertInput, withCache bool) *env {
	t.Helper()

	repo := storememory.New()
	acc, err := repo.Upsert(context.Background(), in)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	reg := provider.NewRegistry()
	reg.Register(adapter)
	tm := tokens.NewManager(repo, reg)

	p := insights.NewPipeline(repo, tm, reg, nil, 0, "demo-")
	if withCache {
		p = insights.NewPipeline(repo, tm, reg, memory.New(time.Minute), time.Minute, "demo-")
	}
	return &env{repo: repo, pipeline: p, adapter: adapter, acc: acc}
}

func TestDemoAccount_NoNetworkDeterministicShape(t *testing.T) {
	adapter := &fakeAdapter{
		platform:   "youtube",
		profileErr: errors.New("network must not be touched"),
	}
	e := newEnv(t, adapter, repository.UpsertInput{
		OwnerUserID: "u1", Platform: "youtube", IdentityKey: "chan-1",
		AccessToken: "demo-abc",
		Metadata:    map[string]string{"display_name": "Demo Channel"},
	}, false)

	r1, err := e.pipeline.FetchCanonicalMetrics(context.Background(), e.acc)
	if err != nil {
		t.Fatalf("FetchCanonicalMetrics: %v", err)
	}
	if !r1.Demo {
		t.Fatal("demo flag not set")
	}
	if adapter.profileCalls.Load() != 0 {
		t.Fatal("demo account hit the network")
	}

	if len(r1.Metrics) == 0 || len(r1.Items) == 0 {
		t.Fatalf("demo shape incomplete: %d metrics, %d items", len(r1.Metrics), len(r1.Items))
	}
	for name, present := range r1.MetricsPresence {
		if !present {
			t.Errorf("demo metric %q marked absent", name)
		}
	}
	if r1.Profile.Followers == nil || r1.Profile.DisplayName != "Demo Channel" {
		t.Fatalf("demo profile: %+v", r1.Profile)
	}

	r2, err := e.pipeline.FetchCanonicalMetrics(context.Background(), e.acc)
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if !reflect.DeepEqual(r1.Metrics, r2.Metrics) {
		t.Errorf("demo metrics not deterministic:\n%v\n%v", r1.Metrics, r2.Metrics)
	}
	for i := range r1.Items {
		if !reflect.DeepEqual(r1.Items[i].Metrics, r2.Items[i].Metrics) {
			t.Errorf("demo item %d metrics not deterministic", i)
		}
	}
}

func TestNormalization_MapsKnownDropsUnknown(t *testing.T) {
	adapter := &fakeAdapter{
		platform: "youtube",
		profile: &provider.RawProfile{
			Fields:   map[string]string{"channel_title": "Chan", "picture_url": "http://p"},
			Counters: map[string]float64{"subscriber_count": 1200, "video_count": 34},
		},
		metrics: provider.RawMetrics{
			"views":                   987,
			"estimatedMinutesWatched": 555,
			"someFutureMetric":        1, // must be dropped
		},
	}
	e := newEnv(t, adapter, repository.UpsertInput{
		OwnerUserID: "u1", Platform: "youtube", IdentityKey: "chan-1", AccessToken: "live-token",
	}, false)

	res, err := e.pipeline.FetchCanonicalMetrics(context.Background(), e.acc)
	if err != nil {
		t.Fatalf("FetchCanonicalMetrics: %v", err)
	}

	if res.Metrics["views"] != 987 {
		t.Errorf("views: %v", res.Metrics["views"])
	}
	if res.Metrics["watch_time_minutes"] != 555 {
		t.Errorf("watch_time_minutes: %v", res.Metrics["watch_time_minutes"])
	}
	if _, ok := res.Metrics["someFutureMetric"]; ok {
		t.Error("unmapped provider field passed through")
	}

	// followers_gained never arrived: present in the map, marked false.
	if got, ok := res.MetricsPresence["followers_gained"]; !ok || got {
		t.Errorf("followers_gained presence: %v, %v", got, ok)
	}
	if !res.MetricsPresence["views"] {
		t.Error("views presence should be true")
	}

	if res.Profile.Followers == nil || *res.Profile.Followers != 1200 {
		t.Errorf("followers: %v", res.Profile.Followers)
	}
	if res.Profile.ItemCount == nil || *res.Profile.ItemCount != 34 {
		t.Errorf("item count: %v", res.Profile.ItemCount)
	}
	if res.Profile.DisplayName != "Chan" {
		t.Errorf("display name: %q", res.Profile.DisplayName)
	}
}

func TestItemEnrichment_FailureIsolatedToOneItem(t *testing.T) {
	ts := time.Now().UTC()
	adapter := &fakeAdapter{
		platform: "youtube",
		profile:  &provider.RawProfile{Fields: map[string]string{"channel_title": "C"}},
		metrics:  provider.RawMetrics{"views": 1},
		items: []provider.RawItem{
			{ID: "v1", Title: "one", Timestamp: ts},
			{ID: "v2", Title: "two", Timestamp: ts},
			{ID: "v3", Title: "three", Timestamp: ts},
		},
		itemMetrics: map[string]provider.RawMetrics{
			"v1": {"viewCount": 10, "likeCount": 2},
			"v3": {"viewCount": 30},
		},
		itemMetricsErr: map[string]error{
			"v2": errors.New("insights permission denied"),
		},
	}
	e := newEnv(t, adapter, repository.UpsertInput{
		OwnerUserID: "u1", Platform: "youtube", IdentityKey: "chan-1", AccessToken: "live-token",
	}, false)

	res, err := e.pipeline.FetchCanonicalMetrics(context.Background(), e.acc)
	if err != nil {
		t.Fatalf("FetchCanonicalMetrics: %v", err)
	}

	if len(res.Items) != 3 {
		t.Fatalf("failed item removed from result: %d items", len(res.Items))
	}
	if res.Items[0].Metrics["views"] != 10 {
		t.Errorf("item v1 metrics: %v", res.Items[0].Metrics)
	}
	if res.Items[1].Metrics != nil {
		t.Errorf("item v2 metrics should be nil, got %v", res.Items[1].Metrics)
	}
	if res.Items[2].Metrics["views"] != 30 {
		t.Errorf("item v3 metrics: %v", res.Items[2].Metrics)
	}
}

func TestProfileFailure_FallsBackToMetadata(t *testing.T) {
	adapter := &fakeAdapter{
		platform:   "youtube",
		profileErr: errors.New("profile endpoint 500"),
		metrics:    provider.RawMetrics{"views": 42},
	}
	e := newEnv(t, adapter, repository.UpsertInput{
		OwnerUserID: "u1", Platform: "youtube", IdentityKey: "chan-1", AccessToken: "live-token",
		Metadata: map[string]string{"channel_title": "Stored Title", "picture_url": "http://stored"},
	}, false)

	res, err := e.pipeline.FetchCanonicalMetrics(context.Background(), e.acc)
	if err != nil {
		t.Fatalf("profile failure must not fail the pipeline: %v", err)
	}
	if res.Profile.DisplayName != "Stored Title" {
		t.Errorf("display name fallback: %q", res.Profile.DisplayName)
	}
	if res.Profile.PictureURL != "http://stored" {
		t.Errorf("picture fallback: %q", res.Profile.PictureURL)
	}
	if res.Metrics["views"] != 42 {
		t.Errorf("metrics lost: %v", res.Metrics)
	}
}

func TestAccountMetricsFailure_DegradesToAbsence(t *testing.T) {
	adapter := &fakeAdapter{
		platform:   "youtube",
		profile:    &provider.RawProfile{Fields: map[string]string{"channel_title": "C"}},
		metricsErr: errors.New("analytics quota exceeded"),
	}
	e := newEnv(t, adapter, repository.UpsertInput{
		OwnerUserID: "u1", Platform: "youtube", IdentityKey: "chan-1", AccessToken: "live-token",
	}, false)

	res, err := e.pipeline.FetchCanonicalMetrics(context.Background(), e.acc)
	if err != nil {
		t.Fatalf("metrics failure must not fail the pipeline: %v", err)
	}
	if len(res.Metrics) != 0 {
		t.Errorf("metrics: %v", res.Metrics)
	}
	for name, present := range res.MetricsPresence {
		if present {
			t.Errorf("metric %q marked present after total metrics failure", name)
		}
	}
}

func TestNoToken_FailsPipeline(t *testing.T) {
	adapter := &fakeAdapter{platform: "youtube"}
	e := newEnv(t, adapter, repository.UpsertInput{
		OwnerUserID: "u1", Platform: "youtube", IdentityKey: "chan-1", AccessToken: "",
	}, false)

	_, err := e.pipeline.FetchCanonicalMetrics(context.Background(), e.acc)
	if !errors.Is(err, tokens.ErrReauthorizationRequired) {
		t.Fatalf("want ErrReauthorizationRequired, got %v", err)
	}
}

func TestIdentityNotFound_FailsPipeline(t *testing.T) {
	adapter := &fakeAdapter{
		platform:    "instagram",
		identityErr: provider.ErrIdentityNotFound,
	}
	e := newEnv(t, adapter, repository.UpsertInput{
		OwnerUserID: "u1", Platform: "instagram", IdentityKey: "", AccessToken: "live-token",
	}, false)

	_, err := e.pipeline.FetchCanonicalMetrics(context.Background(), e.acc)
	if !errors.Is(err, provider.ErrIdentityNotFound) {
		t.Fatalf("want ErrIdentityNotFound, got %v", err)
	}
}

func TestLateIdentityResolution_PersistsKey(t *testing.T) {
	adapter := &fakeAdapter{
		platform: "instagram",
		identity: &provider.Identity{Key: "ig-5", DisplayName: "IG", Raw: map[string]string{"username": "ig"}},
		profile:  &provider.RawProfile{Fields: map[string]string{"username": "ig"}},
		metrics:  provider.RawMetrics{"reach": 100},
	}
	e := newEnv(t, adapter, repository.UpsertInput{
		OwnerUserID: "u1", Platform: "instagram", IdentityKey: "", AccessToken: "live-token",
	}, false)

	res, err := e.pipeline.FetchCanonicalMetrics(context.Background(), e.acc)
	if err != nil {
		t.Fatalf("FetchCanonicalMetrics: %v", err)
	}
	if res.Profile.Identifier != "ig-5" {
		t.Errorf("identifier: %q", res.Profile.Identifier)
	}

	stored, err := e.repo.FindOne(context.Background(), "u1", "instagram", "ig-5")
	if err != nil {
		t.Fatalf("resolved identity not persisted: %v", err)
	}
	if stored.ID != e.acc.ID {
		t.Errorf("identity resolution forked a new record: %s vs %s", stored.ID, e.acc.ID)
	}
}

func TestLateIdentityResolution_KeepsRefreshedTokens(t *testing.T) {
	// An expired account with an unresolved identity exercises refresh and
	// identity write-back in the same fetch. The write-back must not put
	// the pre-refresh token pair back into the store: for a rotating
	// provider the old refresh token is already dead.
	adapter := &fakeAdapter{
		platform: "tiktok",
		identity: &provider.Identity{Key: "tt-1", DisplayName: "TT"},
		profile:  &provider.RawProfile{Fields: map[string]string{"display_name": "TT"}},
		metrics:  provider.RawMetrics{"follower_count": 5},
		refresh: func(rt string) (*provider.Grant, error) {
			if rt != "stale-refresh" {
				return nil, errors.New("refreshing an unknown token")
			}
			return &provider.Grant{AccessToken: "fresh-access", RefreshToken: "fresh-refresh", ExpiresIn: 3600}, nil
		},
	}
	expired := time.Now().Add(-time.Minute)
	e := newEnv(t, adapter, repository.UpsertInput{
		OwnerUserID: "u1", Platform: "tiktok", IdentityKey: "",
		AccessToken: "stale-access", RefreshToken: "stale-refresh",
		ExpiresAt: &expired,
	}, false)

	if _, err := e.pipeline.FetchCanonicalMetrics(context.Background(), e.acc); err != nil {
		t.Fatalf("FetchCanonicalMetrics: %v", err)
	}

	stored, err := e.repo.Get(context.Background(), e.acc.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.AccessToken != "fresh-access" || stored.RefreshToken != "fresh-refresh" {
		t.Fatalf("refreshed tokens clobbered: access=%q refresh=%q", stored.AccessToken, stored.RefreshToken)
	}
	if stored.ExpiresAt == nil || !stored.ExpiresAt.After(time.Now()) {
		t.Fatalf("expiry rolled back: %v", stored.ExpiresAt)
	}
	if stored.IdentityKey != "tt-1" {
		t.Fatalf("identity key not persisted: %q", stored.IdentityKey)
	}
}

func TestLearnedCounters_WrittenBackAndUsedAsFallback(t *testing.T) {
	adapter := &fakeAdapter{
		platform: "youtube",
		profile: &provider.RawProfile{
			Fields:   map[string]string{"channel_title": "Chan"},
			Counters: map[string]float64{"subscriber_count": 1200, "video_count": 34},
		},
		metrics: provider.RawMetrics{"views": 1},
	}
	e := newEnv(t, adapter, repository.UpsertInput{
		OwnerUserID: "u1", Platform: "youtube", IdentityKey: "chan-1", AccessToken: "live-token",
	}, false)

	if _, err := e.pipeline.FetchCanonicalMetrics(context.Background(), e.acc); err != nil {
		t.Fatalf("first fetch: %v", err)
	}

	stored, err := e.repo.Get(context.Background(), e.acc.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Metadata["subscriber_count"] != "1200" || stored.Metadata["video_count"] != "34" {
		t.Fatalf("learned counters not written back: %+v", stored.Metadata)
	}

	// With the profile endpoint down, the fallback serves the last-known
	// counters instead of dropping them.
	adapter.profileErr = errors.New("profile endpoint 500")
	res, err := e.pipeline.FetchCanonicalMetrics(context.Background(), stored)
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if res.Profile.Followers == nil || *res.Profile.Followers != 1200 {
		t.Errorf("followers fallback: %v", res.Profile.Followers)
	}
	if res.Profile.ItemCount == nil || *res.Profile.ItemCount != 34 {
		t.Errorf("item count fallback: %v", res.Profile.ItemCount)
	}
	if res.Profile.DisplayName != "Chan" {
		t.Errorf("display name fallback: %q", res.Profile.DisplayName)
	}
}

func TestSecondFetch_ServedFromCache(t *testing.T) {
	adapter := &fakeAdapter{
		platform: "youtube",
		profile:  &provider.RawProfile{Fields: map[string]string{"channel_title": "C"}},
		metrics:  provider.RawMetrics{"views": 7},
	}
	e := newEnv(t, adapter, repository.UpsertInput{
		OwnerUserID: "u1", Platform: "youtube", IdentityKey: "chan-1", AccessToken: "live-token",
	}, true)

	if _, err := e.pipeline.FetchCanonicalMetrics(context.Background(), e.acc); err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if _, err := e.pipeline.FetchCanonicalMetrics(context.Background(), e.acc); err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if got := adapter.profileCalls.Load(); got != 1 {
		t.Fatalf("profile fetched %d times, want 1 (cache miss on second call)", got)
	}

	e.pipeline.Invalidate(e.acc.ID)
	if _, err := e.pipeline.FetchCanonicalMetrics(context.Background(), e.acc); err != nil {
		t.Fatalf("third fetch: %v", err)
	}
	if got := adapter.profileCalls.Load(); got != 2 {
		t.Fatalf("invalidate did not drop the cached result: %d profile calls", got)
	}
}
