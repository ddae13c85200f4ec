// Package server exposes the trigger, status and admin HTTP API.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// Server is the HTTP server for the trigger and admin API
type Server struct {
	httpServer *http.Server
}

func New(addr, secret string, h *Handlers) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      NewRouter(secret, h),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Minute, // batch triggers answer when the job finishes
		},
	}
}

func NewRouter(secret string, h *Handlers) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.Health)

	r.Group(func(r chi.Router) {
		r.Use(RequireSecret(secret))

		r.Get("/api/cron/scrape", h.CronScrape)
		r.Post("/api/cron/scrape", h.CronScrape)
		r.Post("/api/targets/{id}/scrape", h.ScrapeTarget)
		r.Get("/api/targets/{id}/status", h.TargetStatus)
		r.Get("/api/targets/{id}/units", h.TargetUnits)
		r.Get("/api/jobs/{id}", h.GetJob)
		r.Get("/api/admin/scrape", h.AdminSummary)
		r.Post("/api/admin/scrape", h.AdminAction)
	})
	return r
}

// Run starts the HTTP server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		zap.L().Info("http server listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}
