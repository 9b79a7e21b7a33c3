// Package server runs the dispatcher's small HTTP listener for metrics and
// health checks.
package server

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"time"

	"grouper-dispatcher/internal/common/errors"
	"grouper-dispatcher/internal/common/logging"
)

const shutdownTimeout = 5 * time.Second

// Server is an HTTP server bound to one address.
type Server struct {
	srv    *http.Server
	logger logging.Logger
}

// New creates a server for handler on addr, e.g. ":9090".
func New(handler http.Handler, addr string) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		logger: logging.Component("server").WithFields(logging.String("addr", addr)),
	}
}

// Run listens until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return errors.ConfigError("cannot listen on "+s.srv.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.Serve(ln)
	}()
	s.logger.Info("HTTP server listening", logging.String("listen", ln.Addr().String()))

	select {
	case err := <-errCh:
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.InternalError("http server failed", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("HTTP server forced to shut down", logging.Err(err))
		return nil
	}
	s.logger.Info("HTTP server stopped")
	return nil
}
