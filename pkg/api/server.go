// Package api exposes the opportunity and chat services over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/jakechorley/community-connect/pkg/core/services"
	"github.com/jakechorley/community-connect/pkg/db"
)

// Options configures the HTTP API
type Options struct {
	JWTSecret      string
	AllowedOrigins []string
	HorizonMonths  int
}

// Server holds the dependencies shared by the HTTP handlers
type Server struct {
	store      db.Database
	dispatcher services.MessageDispatcher
	logger     *zap.Logger
	opts       Options
	now        func() time.Time
}

// NewServer creates the API server
func NewServer(store db.Database, dispatcher services.MessageDispatcher, opts Options, logger *zap.Logger) *Server {
	return &Server{
		store:      store,
		dispatcher: dispatcher,
		logger:     logger,
		opts:       opts,
		now:        time.Now,
	}
}

// WithClock overrides the time source
func (s *Server) WithClock(now func() time.Time) *Server {
	s.now = now
	return s
}

// Router builds the HTTP routes
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(recoverer(s.logger))
	r.Use(corsHandler(s.opts.AllowedOrigins))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(Authenticate([]byte(s.opts.JWTSecret)))

		r.Post("/opportunities", s.handleCreateOpportunity)
		r.Route("/opportunities/{ref}", func(r chi.Router) {
			r.Patch("/", s.handleUpdateOpportunity)
			r.Delete("/", s.handleDeleteOpportunity)
			r.Get("/family", s.handleListFamily)
			r.Post("/commitments", s.handleCommit)
			r.Delete("/commitments", s.handleUncommit)
			r.Post("/messages", s.handlePostMessage)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
