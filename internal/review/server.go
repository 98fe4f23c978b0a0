// Package review exposes the draft review surface over HTTP: listing
// pending drafts with a rendered preview and approving, rejecting or
// editing them.
package review

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Config holds configuration for the review server.
type Config struct {
	// Addr is the listen address.
	Addr string
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() Config {
	return Config{
		Addr: ":8380",
	}
}

// Server is the review HTTP server.
type Server struct {
	drafts DraftReviewStore
	mux    *http.ServeMux
	srv    *http.Server
	addr   string

	log *slog.Logger
}

// NewServer creates a review server over the given draft store.
func NewServer(cfg Config, drafts DraftReviewStore,
	log *slog.Logger) *Server {

	s := &Server{
		drafts: drafts,
		mux:    http.NewServeMux(),
		addr:   cfg.Addr,
		log:    log,
	}
	s.registerRoutes()

	return s
}

// registerRoutes wires up the review API.
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /{$}", s.handleHealth)
	s.mux.HandleFunc("GET /v1/drafts/pending", s.handlePendingDrafts)
	s.mux.HandleFunc("POST /v1/drafts/{id}/approve", s.handleApprove)
	s.mux.HandleFunc("POST /v1/drafts/{id}/reject", s.handleReject)
	s.mux.HandleFunc("POST /v1/drafts/{id}/edit", s.handleEdit)
}

// Handler returns the server's HTTP handler, used directly by tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:         s.addr,
		Handler:      s.mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.log.Info("Starting review server", "addr", s.addr)

	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv != nil {
		return s.srv.Shutdown(ctx)
	}
	return nil
}
