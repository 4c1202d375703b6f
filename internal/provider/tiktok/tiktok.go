// Package tiktok implements the provider adapter for TikTok creator
// accounts. TikTok's grant deviates from the OAuth 2.0 spec (client_key
// instead of client_id, JSON error envelope on 200 responses, rotating
// refresh tokens), so the client is hand-rolled.
package tiktok

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dropDatabas3/pulsebroker/internal/provider"
)

const (
	defaultAuthBase = "https://www.tiktok.com/v2/auth/authorize/"
	defaultAPIBase  = "https://open.tiktokapis.com/v2"

	userFields  = "open_id,display_name,avatar_url,follower_count,following_count,likes_count,video_count"
	videoFields = "id,title,create_time,view_count,like_count,comment_count,share_count"
)

type Adapter struct {
	ClientKey    string
	ClientSecret string
	RedirectURL  string
	Scopes       []string

	http *http.Client

	AuthBase string
	APIBase  string
}

func New(clientKey, clientSecret, redirectURL string, scopes []string) *Adapter {
	if len(scopes) == 0 {
		scopes = []string{"user.info.basic", "user.info.stats", "video.list"}
	}
	return &Adapter{
		ClientKey:    clientKey,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       scopes,
		http:         provider.NewHTTPClient("tiktok"),
		AuthBase:     defaultAuthBase,
		APIBase:      defaultAPIBase,
	}
}

func (a *Adapter) Platform() string { return "tiktok" }

func (a *Adapter) AuthorizationURL(state string) (string, error) {
	u, err := url.Parse(a.AuthBase)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("client_key", a.ClientKey)
	q.Set("response_type", "code")
	q.Set("scope", strings.Join(a.Scopes, ","))
	q.Set("redirect_uri", a.RedirectURL)
	q.Set("state", state)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	ExpiresIn        int    `json:"expires_in"`
	OpenID           string `json:"open_id"`
	Error            string `json:"error,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
}

func (a *Adapter) ExchangeCode(ctx context.Context, code string) (*provider.Grant, error) {
	form := url.Values{}
	form.Set("client_key", a.ClientKey)
	form.Set("client_secret", a.ClientSecret)
	form.Set("code", code)
	form.Set("grant_type", "authorization_code")
	form.Set("redirect_uri", a.RedirectURL)

	tr, err := a.postToken(ctx, form)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", provider.ErrTokenExchangeFailed, err)
	}
	return &provider.Grant{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresIn:    tr.ExpiresIn,
	}, nil
}

// Refresh rotates the pair: TikTok invalidates the old refresh token and
// returns a new one alongside the access token.
func (a *Adapter) Refresh(ctx context.Context, refreshToken string) (*provider.Grant, error) {
	form := url.Values{}
	form.Set("client_key", a.ClientKey)
	form.Set("client_secret", a.ClientSecret)
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	tr, err := a.postToken(ctx, form)
	if err != nil {
		return nil, fmt.Errorf("tiktok refresh: %w", err)
	}
	return &provider.Grant{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresIn:    tr.ExpiresIn,
	}, nil
}

func (a *Adapter) postToken(ctx context.Context, form url.Values) (*tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.APIBase+"/oauth/token/", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if tr.Error != "" {
		return nil, fmt.Errorf("tiktok oauth error: %s - %s", tr.Error, tr.ErrorDescription)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("no access_token in response")
	}
	return &tr, nil
}

type userInfo struct {
	OpenID         string `json:"open_id"`
	DisplayName    string `json:"display_name"`
	AvatarURL      string `json:"avatar_url"`
	FollowerCount  int64  `json:"follower_count"`
	FollowingCount int64  `json:"following_count"`
	LikesCount     int64  `json:"likes_count"`
	VideoCount     int64  `json:"video_count"`
}

func (a *Adapter) ResolveIdentity(ctx context.Context, accessToken string) (*provider.Identity, error) {
	u, err := a.fetchUser(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	if u.OpenID == "" {
		return nil, provider.ErrIdentityNotFound
	}
	return &provider.Identity{
		Key:         u.OpenID,
		DisplayName: u.DisplayName,
		Raw: map[string]string{
			"display_name": u.DisplayName,
			"picture_url":  u.AvatarURL,
		},
	}, nil
}

func (a *Adapter) FetchProfile(ctx context.Context, accessToken, identityKey string) (*provider.RawProfile, error) {
	u, err := a.fetchUser(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	return &provider.RawProfile{
		Fields: map[string]string{
			"display_name": u.DisplayName,
			"picture_url":  u.AvatarURL,
		},
		Counters: map[string]float64{
			"follower_count": float64(u.FollowerCount),
			"video_count":    float64(u.VideoCount),
			"likes_count":    float64(u.LikesCount),
		},
	}, nil
}

// FetchAccountMetrics: TikTok exposes no separate insights API for the
// scopes we request; aggregates come from the user stats fields.
func (a *Adapter) FetchAccountMetrics(ctx context.Context, accessToken, identityKey string) (provider.RawMetrics, error) {
	u, err := a.fetchUser(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	return provider.RawMetrics{
		"follower_count": float64(u.FollowerCount),
		"likes_count":    float64(u.LikesCount),
		"video_count":    float64(u.VideoCount),
	}, nil
}

func (a *Adapter) FetchRecentItems(ctx context.Context, accessToken, identityKey string, limit int) ([]provider.RawItem, error) {
	body, _ := json.Marshal(map[string]any{"max_count": limit})
	var resp struct {
		Data struct {
			Videos []videoInfo `json:"videos"`
		} `json:"data"`
		Error apiError `json:"error"`
	}
	if err := a.doPost(ctx, accessToken, a.APIBase+"/video/list/?fields="+url.QueryEscape(videoFields), body, &resp); err != nil {
		return nil, err
	}
	if resp.Error.failed() {
		return nil, resp.Error
	}

	items := make([]provider.RawItem, 0, len(resp.Data.Videos))
	for _, v := range resp.Data.Videos {
		items = append(items, provider.RawItem{
			ID:        v.ID,
			Title:     v.Title,
			Timestamp: time.Unix(v.CreateTime, 0).UTC(),
			Counters:  v.counters(),
		})
	}
	return items, nil
}

func (a *Adapter) FetchItemMetrics(ctx context.Context, accessToken, itemID string) (provider.RawMetrics, error) {
	body, _ := json.Marshal(map[string]any{
		"filters": map[string]any{"video_ids": []string{itemID}},
	})
	var resp struct {
		Data struct {
			Videos []videoInfo `json:"videos"`
		} `json:"data"`
		Error apiError `json:"error"`
	}
	if err := a.doPost(ctx, accessToken, a.APIBase+"/video/query/?fields="+url.QueryEscape(videoFields), body, &resp); err != nil {
		return nil, err
	}
	if resp.Error.failed() {
		return nil, resp.Error
	}
	if len(resp.Data.Videos) == 0 {
		return provider.RawMetrics{}, nil
	}
	return resp.Data.Videos[0].counters(), nil
}

type videoInfo struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	CreateTime   int64  `json:"create_time"`
	ViewCount    int64  `json:"view_count"`
	LikeCount    int64  `json:"like_count"`
	CommentCount int64  `json:"comment_count"`
	ShareCount   int64  `json:"share_count"`
}

func (v *videoInfo) counters() provider.RawMetrics {
	return provider.RawMetrics{
		"view_count":    float64(v.ViewCount),
		"like_count":    float64(v.LikeCount),
		"comment_count": float64(v.CommentCount),
		"share_count":   float64(v.ShareCount),
	}
}

// apiError is TikTok's envelope; code "ok" means success.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e apiError) failed() bool { return e.Code != "" && e.Code != "ok" }
func (e apiError) Error() string {
	return fmt.Sprintf("tiktok api error: %s - %s", e.Code, e.Message)
}

func (a *Adapter) fetchUser(ctx context.Context, accessToken string) (*userInfo, error) {
	var resp struct {
		Data struct {
			User userInfo `json:"user"`
		} `json:"data"`
		Error apiError `json:"error"`
	}
	if err := a.doGet(ctx, accessToken, a.APIBase+"/user/info/?fields="+url.QueryEscape(userFields), &resp); err != nil {
		return nil, err
	}
	if resp.Error.failed() {
		return nil, resp.Error
	}
	return &resp.Data.User, nil
}

func (a *Adapter) doGet(ctx context.Context, accessToken, rawURL string, into any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	return a.do(req, accessToken, into)
}

func (a *Adapter) doPost(ctx context.Context, accessToken, rawURL string, body []byte, into any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return a.do(req, accessToken, into)
}

func (a *Adapter) do(req *http.Request, accessToken string, into any) error {
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tiktok api: status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		return fmt.Errorf("tiktok api: decode: %w", err)
	}
	return nil
}
