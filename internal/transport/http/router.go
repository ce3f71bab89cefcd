package http

import (
	"log/slog"
	"net/http"
	"time"

	"e2ee-relay/internal/auth"
	"e2ee-relay/internal/config"
	obsmw "e2ee-relay/internal/observability/middleware"
	"e2ee-relay/internal/registry"
	"e2ee-relay/internal/relay"
	"e2ee-relay/internal/store"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Handler struct {
	cfg    config.Config
	store  *store.Store
	tokens *auth.TokenService
	relay  *relay.Relay
	reg    *registry.Registry
	logger *slog.Logger
}

func NewRouter(cfg config.Config, st *store.Store, tokens *auth.TokenService, rl *relay.Relay, reg *registry.Registry, logger *slog.Logger) http.Handler {
	h := &Handler{cfg: cfg, store: st, tokens: tokens, relay: rl, reg: reg, logger: logger}

	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(obsmw.WithRequestAndTrace)
	r.Use(obsmw.WithMetrics)
	r.Use(httprate.LimitByIP(cfg.RateLimitPerMin, 1*time.Minute))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   originsIfSet(cfg.CORSOrigins),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.handleRegister)
		r.Post("/login", h.handleLogin)
	})

	r.Group(func(pr chi.Router) {
		pr.Use(h.requireAuth)
		pr.Get("/users", h.handleListUsers)
		pr.Get("/users/{phone}", h.handleGetUser)
		pr.Get("/conversations/{peerID}", h.handleResolveConversation)
		pr.Get("/conversations/{peerID}/messages", h.handleListMessages)
	})

	r.Get("/ws", h.handleWS)

	return r
}

func originsIfSet(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
