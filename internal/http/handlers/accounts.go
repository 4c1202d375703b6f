package handlers

import (
	"errors"
	stdhttp "net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/pulsebroker/internal/accounts"
	"github.com/dropDatabas3/pulsebroker/internal/domain/repository"
	httpx "github.com/dropDatabas3/pulsebroker/internal/http"
	"github.com/dropDatabas3/pulsebroker/internal/http/middlewares"
	"github.com/dropDatabas3/pulsebroker/internal/insights"
	"github.com/dropDatabas3/pulsebroker/internal/observability/logger"
	"github.com/dropDatabas3/pulsebroker/internal/provider"
	"github.com/dropDatabas3/pulsebroker/internal/tokens"
)

// AccountsHandler exposes the owner-facing account endpoints: listing,
// canonical metrics and disconnect.
type AccountsHandler struct {
	Svc      *accounts.Service
	Pipeline *insights.Pipeline
}

func (h *AccountsHandler) Register(r chi.Router, auth middlewares.Middleware) {
	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Get("/v1/accounts", h.list)
		r.Get("/v1/accounts/{id}/insights", h.insights)
		r.Delete("/v1/accounts/{id}", h.disconnect)
	})
}

type accountSummary struct {
	ID          string     `json:"id"`
	Platform    string     `json:"platform"`
	IdentityKey string     `json:"identity_key,omitempty"`
	DisplayName string     `json:"display_name"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	ConnectedAt time.Time  `json:"connected_at"`
}

func (h *AccountsHandler) list(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	owner := middlewares.UserID(r.Context())
	platform := r.URL.Query().Get("platform")

	accs, err := h.Svc.List(r.Context(), owner, platform)
	if err != nil {
		logger.From(r.Context()).Error("account list failed", logger.Err(err))
		httpx.WriteError(w, stdhttp.StatusInternalServerError, "internal", "")
		return
	}

	out := make([]accountSummary, 0, len(accs))
	for _, a := range accs {
		out = append(out, accountSummary{
			ID:          a.ID,
			Platform:    a.Platform,
			IdentityKey: a.IdentityKey,
			DisplayName: a.DisplayName(),
			ExpiresAt:   a.ExpiresAt,
			ConnectedAt: a.CreatedAt,
		})
	}
	httpx.WriteJSON(w, stdhttp.StatusOK, map[string]any{"accounts": out})
}

func (h *AccountsHandler) insights(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	owner := middlewares.UserID(r.Context())
	id := chi.URLParam(r, "id")

	acc, err := h.Svc.GetOwned(r.Context(), owner, id)
	if err != nil {
		if accounts.IsNotFound(err) {
			httpx.WriteError(w, stdhttp.StatusNotFound, "not_found", "")
			return
		}
		logger.From(r.Context()).Error("account lookup failed", logger.Err(err))
		httpx.WriteError(w, stdhttp.StatusInternalServerError, "internal", "")
		return
	}

	res, err := h.Pipeline.FetchCanonicalMetrics(r.Context(), acc)
	switch {
	case err == nil:
		httpx.WriteJSON(w, stdhttp.StatusOK, res)
	case errors.Is(err, tokens.ErrReauthorizationRequired):
		httpx.WriteError(w, stdhttp.StatusConflict, "reauthorization_required", "reconnect the account to continue")
	case errors.Is(err, provider.ErrIdentityNotFound):
		httpx.WriteError(w, stdhttp.StatusUnprocessableEntity, "identity_unresolved", "")
	case errors.Is(err, provider.ErrConfigurationMissing):
		httpx.WriteError(w, stdhttp.StatusNotFound, "configuration_missing", "platform not configured")
	default:
		logger.From(r.Context()).Error("insights fetch failed", logger.Err(err))
		httpx.WriteError(w, stdhttp.StatusInternalServerError, "internal", "")
	}
}

func (h *AccountsHandler) disconnect(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	owner := middlewares.UserID(r.Context())
	id := chi.URLParam(r, "id")

	if err := h.Svc.Disconnect(r.Context(), owner, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			httpx.WriteError(w, stdhttp.StatusNotFound, "not_found", "")
			return
		}
		logger.From(r.Context()).Error("disconnect failed", logger.Err(err))
		httpx.WriteError(w, stdhttp.StatusInternalServerError, "internal", "")
		return
	}
	h.Pipeline.Invalidate(id)
	w.WriteHeader(stdhttp.StatusNoContent)
}
