// Package api exposes the dispatch service over HTTP: monitoring of
// statistics, quota and limiter state, plus batch and single dispatch.
package api

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"
)

// Server represents the API server
type Server struct {
	mu      sync.Mutex
	handler http.Handler
	server  *http.Server
	baseCtx context.Context
}

// NewServer creates a new API server around h.
func NewServer(h *Handlers, allowedOrigins []string) *Server {
	return &Server{handler: SetupRoutes(h, allowedOrigins)}
}

// SetBaseContext makes every request context a child of ctx, so cancelling
// ctx cancels in-flight batches.
func (s *Server) SetBaseContext(ctx context.Context) {
	s.baseCtx = ctx
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       time.Minute,
		// Batch dispatch responds only after the last recipient.
		WriteTimeout: 30 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}
	if s.baseCtx != nil {
		ctx := s.baseCtx
		srv.BaseContext = func(net.Listener) context.Context { return ctx }
	}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()
	return srv.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing
func (s *Server) Handler() http.Handler {
	return s.handler
}
