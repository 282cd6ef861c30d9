// Package server runs the business HTTP listeners of the control and data planes
// and drains them when the process is asked to stop.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/hostuk/visibility/internal/config"
)

// TLSFiles points at the PEM certificate and key served by a listener.
type TLSFiles struct {
	CertFile string
	KeyFile  string
}

// New builds an http.Server for handler from the shared listener settings.
func New(cfg config.HTTPServerConfig, port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, port),
		Handler:           handler,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}
}

// Run binds srv.Addr and serves until ctx is done. The port is bound before
// returning control to the serve loop so a busy port fails fast.
func Run(ctx context.Context, logger *slog.Logger, srv *http.Server, tls *TLSFiles, shutdownTimeout time.Duration) error {
	l, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", srv.Addr, err)
	}
	return Serve(ctx, logger, srv, l, tls, shutdownTimeout)
}

// Serve serves srv on l until ctx is done, then shuts it down, waiting at most
// shutdownTimeout for in-flight requests.
func Serve(ctx context.Context, logger *slog.Logger, srv *http.Server, l net.Listener, tls *TLSFiles, shutdownTimeout time.Duration) error {
	if logger == nil {
		logger = slog.Default()
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening",
			slog.String("addr", l.Addr().String()),
			slog.Bool("tls", tls != nil),
		)

		var err error
		if tls != nil {
			err = srv.ServeTLS(l, tls.CertFile, tls.KeyFile)
		} else {
			err = srv.Serve(l)
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutdown signal received, draining http server", slog.Duration("timeout", shutdownTimeout))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return <-errCh
}
