// Package server provides the reference HTTP server for the remote
// storage surface: GET /workflows, GET/PUT/DELETE /workflows/:id, plus a
// WebSocket stream of bus events. The HTTP storage adapter is its client
// counterpart.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stateflow/stateflow/internal/infrastructure/logger"
	"github.com/stateflow/stateflow/pkg/events"
	"github.com/stateflow/stateflow/pkg/storage"
)

// Config controls the server.
type Config struct {
	Host string
	Port int

	// APIKeys enables bearer-token auth when non-empty.
	APIKeys []string

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// Debug switches gin into debug mode.
	Debug bool
}

// Server exposes workflow state storage over HTTP.
type Server struct {
	cfg    Config
	store  storage.Adapter
	bus    *events.Bus
	log    *logger.Logger
	router *gin.Engine
	http   *http.Server

	apiKeys map[string]struct{}
}

// Option configures a Server.
type Option func(*Server)

// WithEventBus attaches a bus for the WebSocket event stream.
func WithEventBus(b *events.Bus) Option {
	return func(s *Server) { s.bus = b }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(s *Server) { s.log = l }
}

// New creates a server over the given storage adapter.
func New(cfg Config, store storage.Adapter, opts ...Option) *Server {
	s := &Server{
		cfg:   cfg,
		store: store,
		log:   logger.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if len(cfg.APIKeys) > 0 {
		s.apiKeys = make(map[string]struct{}, len(cfg.APIKeys))
		for _, key := range cfg.APIKeys {
			s.apiKeys[key] = struct{}{}
		}
	}

	s.setupRoutes()
	return s
}

// Router exposes the gin engine, mainly for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run starts the server and blocks until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("storage server listening", "addr", addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownTimeout := s.cfg.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.log.Info("shutting down storage server")
	return s.http.Shutdown(shutdownCtx)
}
