// Package web exposes a loopback operator API: enrollment inventory,
// template removal, and offline verification for threshold tuning.
// Template vectors never leave the process.
package web

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/facegate/facegate/internal/index"
	"github.com/facegate/facegate/internal/pam"
	"github.com/facegate/facegate/internal/store"
	"github.com/facegate/facegate/internal/verify"
)

// Server is the operator HTTP server.
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	handlers   *handlers
}

// NewServer wires the operator API. It binds to loopback by default; the
// API serves local administration, not the network.
func NewServer(host string, port int, templates *store.Store, engine *verify.Engine, extract pam.Extractor) *Server {
	r := chi.NewRouter()

	h := &handlers{
		templates: templates,
		engine:    engine,
		extract:   extract,
		idx:       index.New(),
	}

	s := &Server{
		router:   r,
		handlers: h,
	}

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(30 * time.Second))

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handlers.health)
	s.router.Route("/api", func(r chi.Router) {
		r.Get("/users", s.handlers.listUsers)
		r.Get("/users/{username}", s.handlers.getUser)
		r.Delete("/users/{username}", s.handlers.deleteUser)
		r.Post("/verify", s.handlers.verifyImage)
		r.Post("/identify", s.handlers.identifyImage)
	})
}

// Start starts the HTTP server and blocks until shutdown.
func (s *Server) Start() error {
	log.Printf("Starting operator API on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down operator API...")
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the underlying HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}
