// Package server assembles the explorer HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/msgvis/msgvis/pkg/config"
	"github.com/msgvis/msgvis/pkg/handlers"
	"github.com/msgvis/msgvis/pkg/middleware"
	"github.com/msgvis/msgvis/pkg/services"
)

const shutdownTimeout = 30 * time.Second

// Deps are the collaborators the HTTP surface needs.
type Deps struct {
	Config   *config.Config
	DB       handlers.Pinger
	Scope    func(http.Handler) http.Handler
	Explorer services.ExplorerService
	Logger   *zap.Logger
}

// NewHandler builds the routed handler with request logging and metrics.
func NewHandler(d Deps) http.Handler {
	mux := http.NewServeMux()

	handlers.NewHealthHandler(d.Config, d.DB, d.Logger).RegisterRoutes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	handlers.NewExplorerHandler(d.Explorer, d.Logger).RegisterRoutes(mux, d.Scope)

	return middleware.RequestLogger(d.Logger)(middleware.Metrics(mux))
}

// Server runs the explorer API until its context is cancelled.
type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

// New creates a Server listening on addr.
func New(addr string, handler http.Handler, logger *zap.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger.Named("server"),
	}
}

// Run listens on the configured address and serves until ctx is done, then
// drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.srv.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting explorer API", zap.String("addr", ln.Addr().String()))
		errCh <- s.srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down explorer API")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	s.logger.Info("Server stopped")
	return nil
}
