package server

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lmoreno/finchat/internal/orchestrator"
	"github.com/lmoreno/finchat/internal/tools"
)

// Config holds server configuration.
type Config struct {
	Addr  string // listen address, e.g. ":8080"
	Model string // reported on /health
}

// Server is the HTTP surface over the turn pipeline.
type Server struct {
	config   Config
	pipeline *orchestrator.Pipeline
	registry *tools.Registry
	httpSrv  *http.Server
	logger   *log.Logger
}

func New(cfg Config, pipeline *orchestrator.Pipeline, registry *tools.Registry) *Server {
	s := &Server{
		config:   cfg,
		pipeline: pipeline,
		registry: registry,
		logger:   log.New(os.Stderr, "[finchat] ", log.LstdFlags),
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/capabilities", s.handleCapabilities)
	r.Post("/chat", s.handleChat)
	r.Post("/chat/stream", s.handleChatStream)

	s.httpSrv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming responses require no write timeout
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.httpSrv.Handler }

// ListenAndServe starts the server and blocks until shutdown.
func (s *Server) ListenAndServe() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		s.logger.Printf("received %s, shutting down...", sig)
		s.Shutdown()
	}()

	s.logger.Printf("listening on %s", s.config.Addr)
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server, letting in-flight turns drain.
func (s *Server) Shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = s.httpSrv.Shutdown(shutdownCtx)
}
