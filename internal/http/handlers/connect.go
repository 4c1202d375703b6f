// Package handlers holds the chi handler groups for the broker API.
package handlers

import (
	"errors"
	stdhttp "net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/pulsebroker/internal/connect"
	httpx "github.com/dropDatabas3/pulsebroker/internal/http"
	"github.com/dropDatabas3/pulsebroker/internal/http/middlewares"
	"github.com/dropDatabas3/pulsebroker/internal/observability/logger"
	"github.com/dropDatabas3/pulsebroker/internal/provider"
)

// ConnectHandler exposes the OAuth start and callback endpoints.
type ConnectHandler struct {
	Svc        *connect.Service
	SuccessURL string
	ErrorURL   string
}

// Register mounts the connect routes. The callback is public: the provider
// redirects the owner's browser there, so it carries no bearer token.
func (h *ConnectHandler) Register(r chi.Router, auth middlewares.Middleware) {
	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Get("/v1/connect/{platform}/start", h.start)
		r.Post("/v1/connect/{platform}/start", h.start)
	})
	r.Get("/v1/connect/{platform}/callback", h.callback)
}

func (h *ConnectHandler) start(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	platform := chi.URLParam(r, "platform")
	owner := middlewares.UserID(r.Context())

	authURL, err := h.Svc.Start(r.Context(), owner, platform)
	if err != nil {
		if errors.Is(err, provider.ErrConfigurationMissing) {
			httpx.WriteError(w, stdhttp.StatusNotFound, "configuration_missing", "platform not configured")
			return
		}
		logger.From(r.Context()).Error("connect start failed", logger.Err(err))
		httpx.WriteError(w, stdhttp.StatusInternalServerError, "internal", "")
		return
	}

	// Browsers follow the redirect; programmatic clients read the JSON.
	if r.Method == stdhttp.MethodGet {
		stdhttp.Redirect(w, r, authURL, stdhttp.StatusFound)
		return
	}
	httpx.WriteJSON(w, stdhttp.StatusOK, map[string]string{"url": authURL})
}

func (h *ConnectHandler) callback(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	platform := chi.URLParam(r, "platform")
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")

	if code == "" || state == "" {
		h.redirectError(w, r, "1")
		return
	}

	acc, err := h.Svc.Callback(r.Context(), platform, code, state)
	switch {
	case err == nil:
		h.redirectSuccess(w, r, acc.Platform)
	case errors.Is(err, connect.ErrStateExpired):
		h.redirectError(w, r, "state_expired")
	case errors.Is(err, provider.ErrTokenExchangeFailed):
		h.redirectError(w, r, "token_exchange")
	default:
		logger.From(r.Context()).Warn("connect callback failed", logger.Err(err))
		h.redirectError(w, r, "1")
	}
}

func (h *ConnectHandler) redirectSuccess(w stdhttp.ResponseWriter, r *stdhttp.Request, platform string) {
	stdhttp.Redirect(w, r, withParam(h.SuccessURL, "connected", platform), stdhttp.StatusFound)
}

func (h *ConnectHandler) redirectError(w stdhttp.ResponseWriter, r *stdhttp.Request, code string) {
	stdhttp.Redirect(w, r, withParam(h.ErrorURL, "error", code), stdhttp.StatusFound)
}

func withParam(base, key, value string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}
