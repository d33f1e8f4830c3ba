// Package server runs the HTTP API with production timeouts and a graceful
// shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/conduit-lang/crudkit/internal/observability"
)

// Server wraps an http.Server with shutdown hooks
type Server struct {
	httpServer *http.Server
	config     *Config
	logger     *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	hooks    []ShutdownHook
}

// ShutdownHook runs after the server stopped accepting requests, e.g. to
// close the database
type ShutdownHook func(ctx context.Context) error

// Config holds server configuration
type Config struct {
	// Address is the server listen address (e.g., "localhost:8080")
	Address string

	// Handler is the HTTP handler for the server
	Handler http.Handler

	// Timeouts
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ReadHeaderTimeout time.Duration

	// ShutdownTimeout bounds the graceful shutdown
	ShutdownTimeout time.Duration

	// Connection limits
	MaxHeaderBytes int
}

// DefaultConfig returns a production-ready server configuration
func DefaultConfig(handler http.Handler) *Config {
	return &Config{
		Address:           ":8080",
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		ShutdownTimeout:   30 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}
}

// New creates a new server instance
func New(config *Config, logger *zap.Logger) (*Server, error) {
	if config == nil {
		return nil, fmt.Errorf("server config cannot be nil")
	}
	if config.Handler == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              config.Address,
			Handler:           config.Handler,
			ReadTimeout:       config.ReadTimeout,
			WriteTimeout:      config.WriteTimeout,
			IdleTimeout:       config.IdleTimeout,
			ReadHeaderTimeout: config.ReadHeaderTimeout,
			MaxHeaderBytes:    config.MaxHeaderBytes,
		},
		config: config,
		logger: observability.OrNop(logger),
	}, nil
}

// OnShutdown registers a hook. Hooks run in registration order; a failing
// hook is logged and the rest still run.
func (s *Server) OnShutdown(hook ShutdownHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, hook)
}

// Run serves until ctx is done, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server started", zap.String("address", listener.Addr().String()))
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server failed: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	return s.Shutdown()
}

// Shutdown stops accepting requests, waits for in-flight ones and runs the
// shutdown hooks
func (s *Server) Shutdown() error {
	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.logger.Info("server shutting down", zap.Duration("timeout", timeout))
	shutdownErr := s.httpServer.Shutdown(ctx)
	if shutdownErr != nil {
		shutdownErr = fmt.Errorf("server shutdown error: %w", shutdownErr)
	}

	s.mu.Lock()
	hooks := append([]ShutdownHook(nil), s.hooks...)
	s.mu.Unlock()
	for i, hook := range hooks {
		if err := hook(ctx); err != nil {
			s.logger.Warn("shutdown hook failed", zap.Int("hook", i), zap.Error(err))
		}
	}
	return shutdownErr
}

// Addr returns the server's network address
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.Address
}
