package tiktok_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/dropDatabas3/pulsebroker/internal/provider"
	"github.com/dropDatabas3/pulsebroker/internal/provider/tiktok"
)

func newAdapter(apiBase string) *tiktok.Adapter {
	a := tiktok.New("ckey", "csecret", "https://broker.example/v1/connect/tiktok/callback", nil)
	a.APIBase = apiBase
	return a
}

func TestAuthorizationURL_UsesClientKey(t *testing.T) {
	a := tiktok.New("ckey", "cs", "https://broker.example/cb", nil)

	raw, err := a.AuthorizationURL("state-1")
	if err != nil {
		t.Fatalf("AuthorizationURL: %v", err)
	}
	u, _ := url.Parse(raw)
	q := u.Query()

	if q.Get("client_key") != "ckey" {
		t.Errorf("client_key: %q", q.Get("client_key"))
	}
	if q.Get("client_id") != "" {
		t.Error("client_id must not appear in a TikTok auth URL")
	}
	if q.Get("state") != "state-1" || q.Get("response_type") != "code" {
		t.Errorf("query: %v", q)
	}
}

func TestExchangeCode_FormGrant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/oauth/token/" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); !strings.Contains(ct, "application/x-www-form-urlencoded") {
			t.Errorf("content type: %q", ct)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if r.PostForm.Get("client_key") != "ckey" || r.PostForm.Get("grant_type") != "authorization_code" {
			t.Errorf("form: %v", r.PostForm)
		}
		if r.PostForm.Get("code") != "the-code" {
			t.Errorf("code: %q", r.PostForm.Get("code"))
		}
		w.Write([]byte(`{"access_token":"at-1","refresh_token":"rt-1","expires_in":86400,"open_id":"o-1"}`))
	}))
	defer srv.Close()

	g, err := newAdapter(srv.URL).ExchangeCode(context.Background(), "the-code")
	if err != nil {
		t.Fatalf("ExchangeCode: %v", err)
	}
	if g.AccessToken != "at-1" || g.RefreshToken != "rt-1" || g.ExpiresIn != 86400 {
		t.Fatalf("grant: %+v", g)
	}
}

func TestExchangeCode_ErrorEnvelopeOn200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// TikTok reports grant errors inside a 200 body.
		w.Write([]byte(`{"error":"invalid_grant","error_description":"code expired"}`))
	}))
	defer srv.Close()

	_, err := newAdapter(srv.URL).ExchangeCode(context.Background(), "stale")
	if !errors.Is(err, provider.ErrTokenExchangeFailed) {
		t.Fatalf("want ErrTokenExchangeFailed, got %v", err)
	}
	if !strings.Contains(err.Error(), "code expired") {
		t.Errorf("description lost: %v", err)
	}
}

func TestRefresh_RotatesRefreshToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.PostForm.Get("grant_type") != "refresh_token" || r.PostForm.Get("refresh_token") != "rt-old" {
			t.Errorf("form: %v", r.PostForm)
		}
		w.Write([]byte(`{"access_token":"at-2","refresh_token":"rt-new","expires_in":86400}`))
	}))
	defer srv.Close()

	g, err := newAdapter(srv.URL).Refresh(context.Background(), "rt-old")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if g.RefreshToken != "rt-new" {
		t.Fatalf("rotated refresh token missing: %+v", g)
	}
}

func TestFetchRecentItems_CountersFromListCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/video/list/") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer at-1" {
			t.Errorf("authorization: %q", auth)
		}
		w.Write([]byte(`{"data":{"videos":[
			{"id":"v1","title":"first","create_time":1700000000,"view_count":10,"like_count":2,"comment_count":1,"share_count":0}
		]},"error":{"code":"ok","message":""}}`))
	}))
	defer srv.Close()

	items, err := newAdapter(srv.URL).FetchRecentItems(context.Background(), "at-1", "o-1", 10)
	if err != nil {
		t.Fatalf("FetchRecentItems: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("items: %d", len(items))
	}
	if items[0].Counters["view_count"] != 10 || items[0].Counters["like_count"] != 2 {
		t.Errorf("counters: %v", items[0].Counters)
	}
	if items[0].Timestamp.Unix() != 1700000000 {
		t.Errorf("timestamp: %v", items[0].Timestamp)
	}
}

func TestFetchUser_APIErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{},"error":{"code":"access_token_invalid","message":"token bad"}}`))
	}))
	defer srv.Close()

	_, err := newAdapter(srv.URL).ResolveIdentity(context.Background(), "bad")
	if err == nil || !strings.Contains(err.Error(), "access_token_invalid") {
		t.Fatalf("want envelope error, got %v", err)
	}
}
