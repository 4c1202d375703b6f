package http

import (
	stdhttp "net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dropDatabas3/pulsebroker/internal/http/middlewares"
	"github.com/dropDatabas3/pulsebroker/internal/rate"
)

// Handler is anything that mounts itself on the router. The auth
// middleware is passed in so each group decides which routes need it.
type Handler interface {
	Register(r chi.Router, auth middlewares.Middleware)
}

// NewRouter wires the global middleware stack and mounts every handler
// group plus the operational endpoints.
func NewRouter(apiSecret string, limiter rate.Limiter, groups ...Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middlewares.WithRequestID())
	r.Use(middlewares.WithLogging())
	r.Use(middlewares.WithRecover())
	if limiter != nil {
		r.Use(middlewares.WithRateLimit(limiter))
	}

	auth := middlewares.RequireAuth(apiSecret)
	for _, g := range groups {
		g.Register(r, auth)
	}

	r.Get("/healthz", func(w stdhttp.ResponseWriter, _ *stdhttp.Request) {
		WriteJSON(w, stdhttp.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(stdhttp.MethodGet, "/metrics", promhttp.Handler())

	return r
}
