package api

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/marmos91/negotiate/internal/logger"
	"github.com/marmos91/negotiate/pkg/config"
	"github.com/marmos91/negotiate/pkg/negotiate"
)

// Server is the HTTP server running the Negotiate middleware.
//
// Authentication state lives on the TCP connection, so the server binds a
// ConnState to every accepted connection and reports connection lifecycle
// to the middleware. Closing a connection forgets its identity.
type Server struct {
	server       *http.Server
	config       config.ServerConfig
	shutdownOnce sync.Once
}

// NewServer creates a server for handler. mw receives connection state
// transitions; it is normally the middleware handler wraps.
//
// The server is created in a stopped state. Call Start() to begin serving requests.
func NewServer(cfg config.ServerConfig, handler http.Handler, mw *negotiate.Middleware) *Server {
	server := &http.Server{
		Addr:           cfg.ListenAddr(),
		Handler:        handler,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		MaxHeaderBytes: cfg.MaxHeaderBytes.Int(),
		ConnContext:    negotiate.ConnContext,
		// HTTP/1.1 only: clients refuse connection-bound auth over HTTP/2.
		TLSNextProto: map[string]func(*http.Server, *tls.Conn, http.Handler){},
	}
	if mw != nil {
		server.ConnState = mw.TrackConn
	}

	return &Server{
		server: server,
		config: cfg,
	}
}

// Start listens on the configured address and serves until ctx is
// cancelled, then shuts down gracefully.
//
// Returns:
//   - nil on graceful shutdown
//   - error if the server fails to start or shutdown encounters an error
func (s *Server) Start(ctx context.Context) error {
	ln, err := negotiate.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.server.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener. Listeners that are not a
// *negotiate.Listener are wrapped in one.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if _, ok := ln.(*negotiate.Listener); !ok {
		ln = negotiate.NewListener(ln)
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening",
			"addr", ln.Addr().String(),
			"tls", s.config.TLSEnabled())

		var err error
		if s.config.TLSEnabled() {
			err = s.server.ServeTLS(ln, s.config.TLSCert, s.config.TLSKey)
		} else {
			err = s.server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("HTTP server shutdown signal received")
		// The cancelled ctx would abort the drain immediately.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("HTTP server failed: %w", err)
	}
}

// Stop initiates graceful shutdown of the server.
//
// Stop is safe to call multiple times and safe to call concurrently with Start().
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		logger.Debug("HTTP server shutdown initiated")

		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("HTTP server shutdown error: %w", err)
			logger.Error("HTTP server shutdown error", logger.KeyError, err)
		} else {
			logger.Info("HTTP server stopped gracefully")
		}
	})
	return shutdownErr
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.server.Addr
}
