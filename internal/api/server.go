package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"courier/internal/config"
	"courier/internal/storage"
)

// WakeFunc nudges the dispatch pool after new work is persisted. Best-effort:
// the polling sweep picks up anything a lost hint would have covered.
type WakeFunc func(ctx context.Context, messageID string)

type Server struct {
	cfg    config.ServerConfig
	store  storage.Storage
	router *chi.Mux
	log    zerolog.Logger
	http   *http.Server
}

func NewServer(cfg config.ServerConfig, store storage.Storage, wake WakeFunc, log zerolog.Logger) *Server {
	s := &Server{
		cfg:   cfg,
		store: store,
		log:   log,
	}
	s.router = s.buildRouter(wake)
	return s
}

func (s *Server) buildRouter(wake WakeFunc) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(LoggingMiddleware(s.log))

	msgHandler := NewMessageHandler(s.store, wake)
	dstHandler := NewDestinationHandler(s.store)
	tokHandler := NewTokenHandler(s.store)
	statsHandler := NewStatsHandler(s.store)

	// Health check — no auth
	r.Get("/health", statsHandler.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(APIKeyMiddleware(s.cfg.APIKey))

		// Messages
		r.Post("/messages", msgHandler.Create)
		r.Get("/messages", msgHandler.List)
		r.Get("/messages/{id}", msgHandler.Get)
		r.Post("/messages/{id}/retry", msgHandler.Retry)

		// Destinations
		r.Get("/destinations/{id}", dstHandler.Get)
		r.Get("/destinations/{id}/attempts", dstHandler.ListAttempts)

		// Tokens
		r.Post("/tokens", tokHandler.Register)
		r.Get("/tokens", tokHandler.List)
		r.Delete("/tokens/{id}", tokHandler.Revoke)

		// Stats
		r.Get("/stats", statsHandler.Stats)
	})

	return r
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.log.Info().Str("addr", addr).Msg("starting HTTP server")
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}
