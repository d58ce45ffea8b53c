package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

type RouterConfig struct {
	HealthPath  string
	MetricsPath string
	// MetricsHandler defaults to promhttp.Handler().
	MetricsHandler http.Handler
	Logger         zerolog.Logger
}

// NewRouter mounts the control API under /v1 next to health and metrics.
func NewRouter(cfg RouterConfig, h *Handler) *chi.Mux {
	if cfg.HealthPath == "" {
		cfg.HealthPath = "/healthz"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.MetricsHandler == nil {
		cfg.MetricsHandler = promhttp.Handler()
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(requestLogger(cfg.Logger))
	r.Use(chimw.Recoverer)

	r.Get(cfg.HealthPath, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle(cfg.MetricsPath, cfg.MetricsHandler)

	r.Route("/v1", func(r chi.Router) {
		r.Use(chimw.AllowContentType("application/json"))
		r.Use(chimw.RequestSize(1 << 20))

		r.Get("/state", h.GetState)
		r.Post("/messages", h.SendMessage)
		r.Post("/chats/new", h.StartNewChat)
		r.Post("/chats/{chatID}/select", h.SelectChat)
		r.Post("/rewind", h.PrepareRewind)
		r.Delete("/rewind", h.CancelRewind)
		r.Delete("/error", h.ClearError)
		r.Post("/session", h.SignIn)
		r.Put("/wallet", h.SetWallet)
		r.Put("/providers", h.SetProviders)
		r.Post("/conversations/{chatID}/load", h.LoadConversation)
		r.Post("/conversations/{chatID}/select-all", h.SelectAll)
		r.Post("/conversations/{chatID}/messages/{messageID}/toggle", h.ToggleMessage)
	})

	return r
}
