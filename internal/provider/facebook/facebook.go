// Package facebook implements the provider adapter for Facebook Pages.
// The OAuth-authorized entity is the user; the content-owning identity is
// one of their Pages, so identity resolution probes the page list. Tokens
// upgrade to long-lived via fb_exchange_token; there is no refresh grant.
package facebook

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
		scopes = []string{"pages_show_list", "pages_read_engagement", "read_insights"}
	}
	return &Adapter{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       scopes,
		http:         provider.NewHTTPClient("facebook"),
		AuthBase:     defaultAuthBase,
		GraphBase:    defaultGraphBase,
	}
}

func (a *Adapter) Platform() string { return "facebook" }

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

// ResolveIdentity picks the first Page that answers its detail probe.
func (a *Adapter) ResolveIdentity(ctx context.Context, accessToken string) (*provider.Identity, error) {
	log := logger.From(ctx).With(logger.Component("provider.facebook"))

	var resp struct {
		Data []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"data"`
	}
	if err := a.doGet(ctx, a.GraphBase+"/me/accounts?access_token="+url.QueryEscape(accessToken), &resp); err != nil {
		return nil, err
	}

	for _, p := range resp.Data {
		var detail struct {
			Name    string `json:"name"`
			Fans    int64  `json:"fan_count"`
			Picture struct {
				Data struct {
					URL string `json:"url"`
				} `json:"data"`
			} `json:"picture"`
		}
		probeURL := fmt.Sprintf("%s/%s?fields=name,fan_count,picture&access_token=%s",
			a.GraphBase, url.PathEscape(p.ID), url.QueryEscape(accessToken))
		if err := a.doGet(ctx, probeURL, &detail); err != nil {
			log.Warn("page probe failed, skipping",
				logger.String("page_id", p.ID),
				logger.Err(err),
			)
			continue
		}
		return &provider.Identity{
			Key:         p.ID,
			DisplayName: detail.Name,
			Raw: map[string]string{
				"page_name":   detail.Name,
				"picture_url": detail.Picture.Data.URL,
			},
		}, nil
	}
	return nil, provider.ErrIdentityNotFound
}

func (a *Adapter) FetchProfile(ctx context.Context, accessToken, identityKey string) (*provider.RawProfile, error) {
	var p struct {
		Name           string  `json:"name"`
		FanCount       float64 `json:"fan_count"`
		FollowersCount float64 `json:"followers_count"`
	}
	u := fmt.Sprintf("%s/%s?fields=name,fan_count,followers_count&access_token=%s",
		a.GraphBase, url.PathEscape(identityKey), url.QueryEscape(accessToken))
	if err := a.doGet(ctx, u, &p); err != nil {
		return nil, err
	}
	return &provider.RawProfile{
		Fields: map[string]string{"page_name": p.Name},
		Counters: map[string]float64{
			"fan_count":       p.FanCount,
			"followers_count": p.FollowersCount,
		},
	}, nil
}

// FetchAccountMetrics: day-period series and lifetime totals cannot share a
// call, so they are batched separately; the page views batch is optional.
func (a *Adapter) FetchAccountMetrics(ctx context.Context, accessToken, identityKey string) (provider.RawMetrics, error) {
	log := logger.From(ctx).With(logger.Component("provider.facebook"))
	out := provider.RawMetrics{}

	series, err := a.fetchInsights(ctx, accessToken, identityKey,
		"page_impressions,page_post_engagements", "day")
	if err != nil {
		return nil, err
	}
	for k, v := range series {
		out[k] = v
	}

	lifetime, err := a.fetchInsights(ctx, accessToken, identityKey, "page_fans", "lifetime")
	if err != nil {
		return nil, err
	}
	for k, v := range lifetime {
		out[k] = v
	}

	if extra, err := a.fetchInsights(ctx, accessToken, identityKey, "page_views_total", "day"); err != nil {
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
			ID          string `json:"id"`
			Message     string `json:"message"`
			CreatedTime string `json:"created_time"`
		} `json:"data"`
	}
	u := fmt.Sprintf("%s/%s/posts?fields=id,message,created_time&limit=%d&access_token=%s",
		a.GraphBase, url.PathEscape(identityKey), limit, url.QueryEscape(accessToken))
	if err := a.doGet(ctx, u, &resp); err != nil {
		return nil, err
	}

	items := make([]provider.RawItem, 0, len(resp.Data))
	for _, post := range resp.Data {
		ts, _ := time.Parse("2006-01-02T15:04:05-0700", post.CreatedTime)
		items = append(items, provider.RawItem{
			ID:        post.ID,
			Title:     post.Message,
			Timestamp: ts.UTC(),
		})
	}
	return items, nil
}

func (a *Adapter) FetchItemMetrics(ctx context.Context, accessToken, itemID string) (provider.RawMetrics, error) {
	q := url.Values{}
	q.Set("metric", "post_impressions,post_clicks,post_reactions_like_total")
	q.Set("access_token", accessToken)

	var resp insightsResponse
	u := fmt.Sprintf("%s/%s/insights?%s", a.GraphBase, url.PathEscape(itemID), q.Encode())
	if err := a.doGet(ctx, u, &resp); err != nil {
		return nil, err
	}
	return resp.metrics(), nil
}

func (a *Adapter) fetchInsights(ctx context.Context, accessToken, identityKey, metrics, period string) (provider.RawMetrics, error) {
	q := url.Values{}
	q.Set("metric", metrics)
	q.Set("period", period)
	q.Set("access_token", accessToken)

	var resp insightsResponse
	u := fmt.Sprintf("%s/%s/insights?%s", a.GraphBase, url.PathEscape(identityKey), q.Encode())
	if err := a.doGet(ctx, u, &resp); err != nil {
		return nil, err
	}
	return resp.metrics(), nil
}

type insightsResponse struct {
	Data []struct {
		Name   string `json:"name"`
		Values []struct {
			Value float64 `json:"value"`
		} `json:"values"`
	} `json:"data"`
}

func (r *insightsResponse) metrics() provider.RawMetrics {
	out := provider.RawMetrics{}
	for _, d := range r.Data {
		if len(d.Values) > 0 {
			out[d.Name] = d.Values[len(d.Values)-1].Value
		}
	}
	return out
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
		var ge struct {
			Err struct {
				Message string `json:"message"`
				Code    int    `json:"code"`
			} `json:"error"`
		}
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
