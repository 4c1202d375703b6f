// Package twitch implements the provider adapter for Twitch broadcasters.
// Twitch is spec-compliant OAuth 2.0, so authorization rides
// golang.org/x/oauth2; the Helix API additionally requires the Client-Id
// header on every call.
package twitch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2"

	"github.com/dropDatabas3/pulsebroker/internal/provider"
)

const (
	authEndpoint  = "https://id.twitch.tv/oauth2/authorize"
	tokenEndpoint = "https://id.twitch.tv/oauth2/token"

	defaultAPIBase = "https://api.twitch.tv/helix"
)

type Adapter struct {
	conf *oauth2.Config
	http *http.Client

	APIBase string
}

func New(clientID, clientSecret, redirectURL string, scopes []string) *Adapter {
	if len(scopes) == 0 {
		scopes = []string{"user:read:email", "channel:read:subscriptions", "moderator:read:followers"}
	}
	return &Adapter{
		conf: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  authEndpoint,
				TokenURL: tokenEndpoint,
			},
		},
		http:    provider.NewHTTPClient("twitch"),
		APIBase: defaultAPIBase,
	}
}

func (a *Adapter) Platform() string { return "twitch" }

func (a *Adapter) AuthorizationURL(state string) (string, error) {
	return a.conf.AuthCodeURL(state), nil
}

func (a *Adapter) ExchangeCode(ctx context.Context, code string) (*provider.Grant, error) {
	tok, err := a.conf.Exchange(a.oauthCtx(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", provider.ErrTokenExchangeFailed, err)
	}
	return grantFromToken(tok), nil
}

func (a *Adapter) Refresh(ctx context.Context, refreshToken string) (*provider.Grant, error) {
	ts := a.conf.TokenSource(a.oauthCtx(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := ts.Token()
	if err != nil {
		return nil, fmt.Errorf("twitch refresh: %w", err)
	}
	return grantFromToken(tok), nil
}

func (a *Adapter) ResolveIdentity(ctx context.Context, accessToken string) (*provider.Identity, error) {
	u, err := a.ownUser(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, provider.ErrIdentityNotFound
	}
	return &provider.Identity{
		Key:         u.ID,
		DisplayName: u.DisplayName,
		Raw: map[string]string{
			"username":     u.Login,
			"display_name": u.DisplayName,
			"picture_url":  u.ProfileImageURL,
		},
	}, nil
}

func (a *Adapter) FetchProfile(ctx context.Context, accessToken, identityKey string) (*provider.RawProfile, error) {
	u, err := a.ownUser(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, provider.ErrIdentityNotFound
	}

	p := &provider.RawProfile{
		Fields: map[string]string{
			"display_name": u.DisplayName,
			"username":     u.Login,
			"picture_url":  u.ProfileImageURL,
		},
		Counters: map[string]float64{},
	}
	if total, err := a.followerTotal(ctx, accessToken, identityKey); err == nil {
		p.Counters["follower_total"] = total
	}
	if n, err := a.videoCount(ctx, accessToken, identityKey); err == nil {
		p.Counters["video_total"] = n
	}
	return p, nil
}

func (a *Adapter) FetchAccountMetrics(ctx context.Context, accessToken, identityKey string) (provider.RawMetrics, error) {
	total, err := a.followerTotal(ctx, accessToken, identityKey)
	if err != nil {
		return nil, err
	}
	out := provider.RawMetrics{"follower_total": total}

	// Aggregate recent VOD views; best-effort.
	if views, err := a.recentViewSum(ctx, accessToken, identityKey); err == nil {
		out["vod_view_sum"] = views
	}
	return out, nil
}

func (a *Adapter) FetchRecentItems(ctx context.Context, accessToken, identityKey string, limit int) ([]provider.RawItem, error) {
	q := url.Values{}
	q.Set("user_id", identityKey)
	q.Set("first", strconv.Itoa(limit))

	var resp struct {
		Data []video `json:"data"`
	}
	if err := a.doGet(ctx, accessToken, a.APIBase+"/videos?"+q.Encode(), &resp); err != nil {
		return nil, err
	}

	items := make([]provider.RawItem, 0, len(resp.Data))
	for _, v := range resp.Data {
		ts, _ := time.Parse(time.RFC3339, v.CreatedAt)
		items = append(items, provider.RawItem{
			ID:        v.ID,
			Title:     v.Title,
			Timestamp: ts,
			Counters:  provider.RawMetrics{"view_count": float64(v.ViewCount)},
		})
	}
	return items, nil
}

func (a *Adapter) FetchItemMetrics(ctx context.Context, accessToken, itemID string) (provider.RawMetrics, error) {
	var resp struct {
		Data []video `json:"data"`
	}
	if err := a.doGet(ctx, accessToken, a.APIBase+"/videos?id="+url.QueryEscape(itemID), &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return provider.RawMetrics{}, nil
	}
	return provider.RawMetrics{"view_count": float64(resp.Data[0].ViewCount)}, nil
}

type user struct {
	ID              string `json:"id"`
	Login           string `json:"login"`
	DisplayName     string `json:"display_name"`
	ProfileImageURL string `json:"profile_image_url"`
}

type video struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CreatedAt string `json:"created_at"`
	ViewCount int64  `json:"view_count"`
}

func (a *Adapter) ownUser(ctx context.Context, accessToken string) (*user, error) {
	var resp struct {
		Data []user `json:"data"`
	}
	if err := a.doGet(ctx, accessToken, a.APIBase+"/users", &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, nil
	}
	return &resp.Data[0], nil
}

func (a *Adapter) followerTotal(ctx context.Context, accessToken, broadcasterID string) (float64, error) {
	var resp struct {
		Total int64 `json:"total"`
	}
	err := a.doGet(ctx, accessToken,
		a.APIBase+"/channels/followers?first=1&broadcaster_id="+url.QueryEscape(broadcasterID), &resp)
	if err != nil {
		return 0, err
	}
	return float64(resp.Total), nil
}

func (a *Adapter) videoCount(ctx context.Context, accessToken, broadcasterID string) (float64, error) {
	var resp struct {
		Data []video `json:"data"`
	}
	err := a.doGet(ctx, accessToken,
		a.APIBase+"/videos?first=100&user_id="+url.QueryEscape(broadcasterID), &resp)
	if err != nil {
		return 0, err
	}
	return float64(len(resp.Data)), nil
}

func (a *Adapter) recentViewSum(ctx context.Context, accessToken, broadcasterID string) (float64, error) {
	var resp struct {
		Data []video `json:"data"`
	}
	err := a.doGet(ctx, accessToken,
		a.APIBase+"/videos?first=20&user_id="+url.QueryEscape(broadcasterID), &resp)
	if err != nil {
		return 0, err
	}
	var sum float64
	for _, v := range resp.Data {
		sum += float64(v.ViewCount)
	}
	return sum, nil
}

func (a *Adapter) doGet(ctx context.Context, accessToken, rawURL string, into any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Client-Id", a.conf.ClientID)
	req.Header.Set("Accept", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("twitch api: status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		return fmt.Errorf("twitch api: decode: %w", err)
	}
	return nil
}

func (a *Adapter) oauthCtx(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, a.http)
}

func grantFromToken(tok *oauth2.Token) *provider.Grant {
	g := &provider.Grant{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}
	if !tok.Expiry.IsZero() {
		if secs := int(time.Until(tok.Expiry).Seconds()); secs > 0 {
			g.ExpiresIn = secs
		}
	}
	return g
}
