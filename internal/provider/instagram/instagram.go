// Package instagram implements the provider adapter for Instagram business
// and creator accounts via the Facebook Graph API.
//
// Two provider quirks shape this adapter:
//
//   - Page indirection: the OAuth-authorized entity is the Facebook user,
//     whose Pages must be probed one by one for a linked
//     instagram_business_account. Individual page failures are logged and
//     skipped; only "no page matched" is an error.
//   - Token upgrade: the code exchange yields a short-lived token that
//     should be traded for a ~60-day one (fb_exchange_token). There is no
//     refresh grant at all.
package instagram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dropDatabas3/pulsebroker/internal/observability/logger"
	"github.com/dropDatabas3/pulsebroker/internal/provider"
)

const (
	defaultAuthBase  = "https://www.facebook.com/v19.0/dialog/oauth"
	defaultGraphBase = "https://graph.facebook.com/v19.0"
)

type Adapter struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string

	http *http.Client

	AuthBase  string
	GraphBase string
}

func New(clientID, clientSecret, redirectURL string, scopes []string) *Adapter {
	if len(scopes) == 0 {
		scopes = []string{"instagram_basic", "instagram_manage_insights", "pages_show_list", "pages_read_engagement"}
	}
	return &Adapter{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       scopes,
		http:         provider.NewHTTPClient("instagram"),
		AuthBase:     defaultAuthBase,
		GraphBase:    defaultGraphBase,
	}
}

func (a *Adapter) Platform() string { return "instagram" }

func (a *Adapter) AuthorizationURL(state string) (string, error) {
	u, err := url.Parse(a.AuthBase)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("client_id", a.ClientID)
	q.Set("redirect_uri", a.RedirectURL)
	q.Set("scope", strings.Join(a.Scopes, ","))
	q.Set("response_type", "code")
	q.Set("state", state)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (a *Adapter) ExchangeCode(ctx context.Context, code string) (*provider.Grant, error) {
	q := url.Values{}
	q.Set("client_id", a.ClientID)
	q.Set("client_secret", a.ClientSecret)
	q.Set("redirect_uri", a.RedirectURL)
	q.Set("code", code)

	var tr struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := a.doGet(ctx, a.GraphBase+"/oauth/access_token?"+q.Encode(), &tr); err != nil {
		return nil, fmt.Errorf("%w: %v", provider.ErrTokenExchangeFailed, err)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("%w: no access_token in response", provider.ErrTokenExchangeFailed)
	}
	return &provider.Grant{AccessToken: tr.AccessToken, ExpiresIn: tr.ExpiresIn}, nil
}

// UpgradeToken trades a short-lived user token for a long-lived one.
func (a *Adapter) UpgradeToken(ctx context.Context, accessToken string) (*provider.Grant, error) {
	q := url.Values{}
	q.Set("grant_type", "fb_exchange_token")
	q.Set("client_id", a.ClientID)
	q.Set("client_secret", a.ClientSecret)
	q.Set("fb_exchange_token", accessToken)

	var tr struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := a.doGet(ctx, a.GraphBase+"/oauth/access_token?"+q.Encode(), &tr); err != nil {
		return nil, err
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("no access_token in upgrade response")
	}
	return &provider.Grant{AccessToken: tr.AccessToken, ExpiresIn: tr.ExpiresIn}, nil
}

func (a *Adapter) Refresh(ctx context.Context, refreshToken string) (*provider.Grant, error) {
	return nil, provider.ErrNoRefreshCapability
}

// ResolveIdentity walks the user's Pages looking for a linked business
// account.
func (a *Adapter) ResolveIdentity(ctx context.Context, accessToken string) (*provider.Identity, error) {
	log := logger.From(ctx).With(logger.Component("provider.instagram"))

	pages, err := a.listPages(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	for _, page := range pages {
		var probe struct {
			Name                     string `json:"name"`
			InstagramBusinessAccount *struct {
				ID       string `json:"id"`
				Username string `json:"username"`
			} `json:"instagram_business_account"`
		}
		probeURL := fmt.Sprintf("%s/%s?fields=name,instagram_business_account{id,username}&access_token=%s",
			a.GraphBase, url.PathEscape(page.ID), url.QueryEscape(accessToken))
		if err := a.doGet(ctx, probeURL, &probe); err != nil {
			log.Warn("page probe failed, skipping",
				logger.String("page_id", page.ID),
				logger.Err(err),
			)
			continue
		}
		if probe.InstagramBusinessAccount == nil || probe.InstagramBusinessAccount.ID == "" {
			continue
		}
		return &provider.Identity{
			Key:         probe.InstagramBusinessAccount.ID,
			DisplayName: probe.InstagramBusinessAccount.Username,
			Raw: map[string]string{
				"username":  probe.InstagramBusinessAccount.Username,
				"page_id":   page.ID,
				"page_name": probe.Name,
			},
		}, nil
	}
	return nil, provider.ErrIdentityNotFound
}

func (a *Adapter) FetchProfile(ctx context.Context, accessToken, identityKey string) (*provider.RawProfile, error) {
	var p struct {
		Username          string  `json:"username"`
		Name              string  `json:"name"`
		ProfilePictureURL string  `json:"profile_picture_url"`
		FollowersCount    float64 `json:"followers_count"`
		MediaCount        float64 `json:"media_count"`
	}
	u := fmt.Sprintf("%s/%s?fields=username,name,profile_picture_url,followers_count,media_count&access_token=%s",
		a.GraphBase, url.PathEscape(identityKey), url.QueryEscape(accessToken))
	if err := a.doGet(ctx, u, &p); err != nil {
		return nil, err
	}
	return &provider.RawProfile{
		Fields: map[string]string{
			"username":            p.Username,
			"name":                p.Name,
			"profile_picture_url": p.ProfilePictureURL,
		},
		Counters: map[string]float64{
			"followers_count": p.FollowersCount,
			"media_count":     p.MediaCount,
		},
	}, nil
}

// FetchAccountMetrics issues three insight calls. The Graph API rejects a
// request that mixes total_value-only metrics with time_series-only ones,
// so the two groups never share a call; the third batch is best-effort and
// its failure only leaves those names absent.
func (a *Adapter) FetchAccountMetrics(ctx context.Context, accessToken, identityKey string) (provider.RawMetrics, error) {
	log := logger.From(ctx).With(logger.Component("provider.instagram"))
	out := provider.RawMetrics{}

	// total_value-only metrics.
	totals, err := a.fetchInsights(ctx, accessToken, identityKey,
		"profile_views,accounts_engaged,total_interactions", "day", "total_value")
	if err != nil {
		return nil, err
	}
	for k, v := range totals {
		out[k] = v
	}

	// time_series-only metrics.
	series, err := a.fetchInsights(ctx, accessToken, identityKey, "reach", "day", "")
	if err != nil {
		return nil, err
	}
	for k, v := range series {
		out[k] = v
	}

	// Optional batch: follower_count is rejected for small accounts.
	if extra, err := a.fetchInsights(ctx, accessToken, identityKey, "follower_count", "day", ""); err != nil {
		log.Debug("optional insight batch unavailable", logger.Err(err))
	} else {
		for k, v := range extra {
			out[k] = v
		}
	}
	return out, nil
}

func (a *Adapter) FetchRecentItems(ctx context.Context, accessToken, identityKey string, limit int) ([]provider.RawItem, error) {
	var resp struct {
		Data []struct {
			ID        string    `json:"id"`
			Caption   string    `json:"caption"`
			Timestamp graphTime `json:"timestamp"`
			MediaType string    `json:"media_type"`
		} `json:"data"`
	}
	u := fmt.Sprintf("%s/%s/media?fields=id,caption,timestamp,media_type&limit=%d&access_token=%s",
		a.GraphBase, url.PathEscape(identityKey), limit, url.QueryEscape(accessToken))
	if err := a.doGet(ctx, u, &resp); err != nil {
		return nil, err
	}

	items := make([]provider.RawItem, 0, len(resp.Data))
	for _, m := range resp.Data {
		items = append(items, provider.RawItem{
			ID:        m.ID,
			Title:     m.Caption,
			Timestamp: m.Timestamp.Time,
		})
	}
	return items, nil
}

func (a *Adapter) FetchItemMetrics(ctx context.Context, accessToken, itemID string) (provider.RawMetrics, error) {
	u := fmt.Sprintf("%s/%s/insights?metric=reach,likes,comments,saved,shares&access_token=%s",
		a.GraphBase, url.PathEscape(itemID), url.QueryEscape(accessToken))
	var resp insightsResponse
	if err := a.doGet(ctx, u, &resp); err != nil {
		return nil, err
	}
	return resp.metrics(), nil
}

type page struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (a *Adapter) listPages(ctx context.Context, accessToken string) ([]page, error) {
	var resp struct {
		Data []page `json:"data"`
	}
	u := a.GraphBase + "/me/accounts?access_token=" + url.QueryEscape(accessToken)
	if err := a.doGet(ctx, u, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (a *Adapter) fetchInsights(ctx context.Context, accessToken, identityKey, metrics, period, metricType string) (provider.RawMetrics, error) {
	q := url.Values{}
	q.Set("metric", metrics)
	q.Set("period", period)
	if metricType != "" {
		q.Set("metric_type", metricType)
	}
	q.Set("access_token", accessToken)

	var resp insightsResponse
	u := fmt.Sprintf("%s/%s/insights?%s", a.GraphBase, url.PathEscape(identityKey), q.Encode())
	if err := a.doGet(ctx, u, &resp); err != nil {
		return nil, err
	}
	return resp.metrics(), nil
}

// insightsResponse covers both shapes the insights edge produces: a
// total_value object or a values[] series (latest value wins).
type insightsResponse struct {
	Data []struct {
		Name       string `json:"name"`
		TotalValue *struct {
			Value float64 `json:"value"`
		} `json:"total_value"`
		Values []struct {
			Value float64 `json:"value"`
		} `json:"values"`
	} `json:"data"`
}

func (r *insightsResponse) metrics() provider.RawMetrics {
	out := provider.RawMetrics{}
	for _, d := range r.Data {
		switch {
		case d.TotalValue != nil:
			out[d.Name] = d.TotalValue.Value
		case len(d.Values) > 0:
			out[d.Name] = d.Values[len(d.Values)-1].Value
		}
	}
	return out
}

// graphTime parses the Graph API's ISO8601 variant ("+0000" offset, no
// colon), falling back to RFC3339.
type graphTime struct{ Time time.Time }

func (t *graphTime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05-0700", time.RFC3339} {
		if ts, err := time.Parse(layout, s); err == nil {
			t.Time = ts.UTC()
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", s)
}

func (a *Adapter) doGet(ctx context.Context, rawURL string, into any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var ge graphError
		if json.NewDecoder(resp.Body).Decode(&ge) == nil && ge.Err.Message != "" {
			return fmt.Errorf("graph api: %s (code %d)", ge.Err.Message, ge.Err.Code)
		}
		return fmt.Errorf("graph api: status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		return fmt.Errorf("graph api: decode: %w", err)
	}
	return nil
}

type graphError struct {
	Err struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}
