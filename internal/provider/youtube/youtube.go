// Package youtube implements the provider adapter for YouTube channels.
// Authorization rides the standard Google OAuth 2.0 endpoints via
// golang.org/x/oauth2; data comes from the YouTube Data and Analytics APIs.
package youtube

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
	authEndpoint  = "https://accounts.google.com/o/oauth2/v2/auth"
	tokenEndpoint = "https://oauth2.googleapis.com/token"

	defaultAPIBase       = "https://www.googleapis.com/youtube/v3"
	defaultAnalyticsBase = "https://youtubeanalytics.googleapis.com/v2"
)

type Adapter struct {
	conf *oauth2.Config
	http *http.Client

	// Overridable for tests.
	APIBase       string
	AnalyticsBase string
}

func New(clientID, clientSecret, redirectURL string, scopes []string) *Adapter {
	if len(scopes) == 0 {
		scopes = []string{
			"https://www.googleapis.com/auth/youtube.readonly",
			"https://www.googleapis.com/auth/yt-analytics.readonly",
		}
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
		http:          provider.NewHTTPClient("youtube"),
		APIBase:       defaultAPIBase,
		AnalyticsBase: defaultAnalyticsBase,
	}
}

func (a *Adapter) Platform() string { return "youtube" }

func (a *Adapter) AuthorizationURL(state string) (string, error) {
	// access_type=offline + prompt=consent or Google stops returning a
	// refresh token after the first authorization.
	return a.conf.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	), nil
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
		return nil, fmt.Errorf("youtube refresh: %w", err)
	}
	return grantFromToken(tok), nil
}

func (a *Adapter) ResolveIdentity(ctx context.Context, accessToken string) (*provider.Identity, error) {
	ch, err := a.ownChannel(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	if ch == nil {
		return nil, provider.ErrIdentityNotFound
	}
	return &provider.Identity{
		Key:         ch.ID,
		DisplayName: ch.Snippet.Title,
		Raw: map[string]string{
			"channel_title": ch.Snippet.Title,
			"picture_url":   ch.Snippet.Thumbnails.Default.URL,
		},
	}, nil
}

func (a *Adapter) FetchProfile(ctx context.Context, accessToken, identityKey string) (*provider.RawProfile, error) {
	ch, err := a.ownChannel(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	if ch == nil {
		return nil, provider.ErrIdentityNotFound
	}
	return &provider.RawProfile{
		Fields: map[string]string{
			"channel_title": ch.Snippet.Title,
			"picture_url":   ch.Snippet.Thumbnails.Default.URL,
		},
		Counters: map[string]float64{
			"subscriber_count": parseCount(ch.Statistics.SubscriberCount),
			"video_count":      parseCount(ch.Statistics.VideoCount),
			"view_count":       parseCount(ch.Statistics.ViewCount),
		},
	}, nil
}

// FetchAccountMetrics queries the Analytics API for the trailing 28 days.
func (a *Adapter) FetchAccountMetrics(ctx context.Context, accessToken, identityKey string) (provider.RawMetrics, error) {
	end := time.Now().UTC()
	start := end.AddDate(0, 0, -28)

	q := url.Values{}
	q.Set("ids", "channel=="+identityKey)
	q.Set("startDate", start.Format("2006-01-02"))
	q.Set("endDate", end.Format("2006-01-02"))
	q.Set("metrics", "views,estimatedMinutesWatched,subscribersGained")

	var resp struct {
		ColumnHeaders []struct {
			Name string `json:"name"`
		} `json:"columnHeaders"`
		Rows [][]float64 `json:"rows"`
	}
	if err := a.doGet(ctx, accessToken, a.AnalyticsBase+"/reports?"+q.Encode(), &resp); err != nil {
		return nil, err
	}

	out := provider.RawMetrics{}
	if len(resp.Rows) > 0 {
		for i, h := range resp.ColumnHeaders {
			if i < len(resp.Rows[0]) {
				out[h.Name] = resp.Rows[0][i]
			}
		}
	}
	return out, nil
}

func (a *Adapter) FetchRecentItems(ctx context.Context, accessToken, identityKey string, limit int) ([]provider.RawItem, error) {
	q := url.Values{}
	q.Set("part", "snippet")
	q.Set("channelId", identityKey)
	q.Set("order", "date")
	q.Set("type", "video")
	q.Set("maxResults", strconv.Itoa(limit))

	var resp struct {
		Items []struct {
			ID struct {
				VideoID string `json:"videoId"`
			} `json:"id"`
			Snippet struct {
				Title       string    `json:"title"`
				PublishedAt time.Time `json:"publishedAt"`
			} `json:"snippet"`
		} `json:"items"`
	}
	if err := a.doGet(ctx, accessToken, a.APIBase+"/search?"+q.Encode(), &resp); err != nil {
		return nil, err
	}

	items := make([]provider.RawItem, 0, len(resp.Items))
	for _, it := range resp.Items {
		items = append(items, provider.RawItem{
			ID:        it.ID.VideoID,
			Title:     it.Snippet.Title,
			Timestamp: it.Snippet.PublishedAt,
		})
	}
	return items, nil
}

func (a *Adapter) FetchItemMetrics(ctx context.Context, accessToken, itemID string) (provider.RawMetrics, error) {
	q := url.Values{}
	q.Set("part", "statistics")
	q.Set("id", itemID)

	var resp struct {
		Items []struct {
			Statistics struct {
				ViewCount    string `json:"viewCount"`
				LikeCount    string `json:"likeCount"`
				CommentCount string `json:"commentCount"`
			} `json:"statistics"`
		} `json:"items"`
	}
	if err := a.doGet(ctx, accessToken, a.APIBase+"/videos?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	if len(resp.Items) == 0 {
		return provider.RawMetrics{}, nil
	}
	st := resp.Items[0].Statistics
	return provider.RawMetrics{
		"viewCount":    parseCount(st.ViewCount),
		"likeCount":    parseCount(st.LikeCount),
		"commentCount": parseCount(st.CommentCount),
	}, nil
}

type channel struct {
	ID      string `json:"id"`
	Snippet struct {
		Title      string `json:"title"`
		Thumbnails struct {
			Default struct {
				URL string `json:"url"`
			} `json:"default"`
		} `json:"thumbnails"`
	} `json:"snippet"`
	Statistics struct {
		// The Data API reports counts as strings.
		SubscriberCount string `json:"subscriberCount"`
		VideoCount      string `json:"videoCount"`
		ViewCount       string `json:"viewCount"`
	} `json:"statistics"`
}

func (a *Adapter) ownChannel(ctx context.Context, accessToken string) (*channel, error) {
	var resp struct {
		Items []channel `json:"items"`
	}
	if err := a.doGet(ctx, accessToken, a.APIBase+"/channels?part=snippet%2Cstatistics&mine=true", &resp); err != nil {
		return nil, err
	}
	if len(resp.Items) == 0 {
		return nil, nil
	}
	return &resp.Items[0], nil
}

func (a *Adapter) doGet(ctx context.Context, accessToken, rawURL string, into any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("youtube api: status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		return fmt.Errorf("youtube api: decode: %w", err)
	}
	return nil
}

// oauthCtx makes x/oauth2 use the breaker-wrapped client.
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

func parseCount(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
