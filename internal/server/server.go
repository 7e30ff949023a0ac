// Package server runs the HTTP server and shuts it down together with the
// background components registered on it.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"nonlinear-editor-backend/internal/config"
)

// ShutdownFunc stops a component gracefully.
type ShutdownFunc func(ctx context.Context) error

type Server struct {
	httpServer      *http.Server
	shutdownTimeout time.Duration
	logger          *zap.Logger

	mu            sync.Mutex
	shutdownFuncs []ShutdownFunc
}

func New(handler http.Handler, cfg *config.Config, logger *zap.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              net.JoinHostPort("", cfg.Port),
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
		},
		shutdownTimeout: cfg.ShutdownTimeout,
		logger:          logger,
	}
}

// OnShutdown registers fn to run after the HTTP server stops. Components
// stop in reverse registration order, so register dependencies first.
func (s *Server) OnShutdown(name string, fn ShutdownFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shutdownFuncs = append(s.shutdownFuncs, func(ctx context.Context) error {
		s.logger.Info("stopping component", zap.String("name", name))
		if err := fn(ctx); err != nil {
			s.logger.Error("component shutdown failed", zap.String("name", name), zap.Error(err))
			return err
		}
		return nil
	})
}

// Run serves until ctx is canceled or SIGINT/SIGTERM arrives, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	serverErr := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", zap.String("addr", ln.Addr().String()))
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err, ok := <-serverErr:
		if ok {
			s.shutdownComponents()
			return err
		}
		return s.shutdownComponents()
	case <-ctx.Done():
		s.logger.Info("shutdown requested")
		return s.Shutdown()
	}
}

// Shutdown stops the HTTP server, then every registered component.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	s.httpServer.SetKeepAlivesEnabled(false)
	httpErr := s.httpServer.Shutdown(ctx)
	if httpErr != nil {
		s.logger.Error("http shutdown failed", zap.Error(httpErr))
	}

	return errors.Join(httpErr, s.runShutdownFuncs(ctx))
}

func (s *Server) shutdownComponents() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	return s.runShutdownFuncs(ctx)
}

func (s *Server) runShutdownFuncs(ctx context.Context) error {
	s.mu.Lock()
	funcs := s.shutdownFuncs
	s.shutdownFuncs = nil
	s.mu.Unlock()

	var errs []error
	for i := len(funcs) - 1; i >= 0; i-- {
		if err := funcs[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		s.logger.Info("server stopped")
	}
	return errors.Join(errs...)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
