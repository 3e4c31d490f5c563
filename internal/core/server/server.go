// Package server wires the HTTP surface and runs it until the context ends.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammed-shakir/featuregrid/internal/core/health"
	middleware "github.com/mohammed-shakir/featuregrid/internal/core/middleware"
	"github.com/mohammed-shakir/featuregrid/internal/core/router"
)

type Deps struct {
	API    *router.API
	Panels health.LoadReporter
	// Refresh is nil when the refresh consumer is disabled.
	Refresh health.ReadinessReporter
}

// NewHandler builds the chi router with middleware, probes and the grid API.
func NewHandler(logger *slog.Logger, d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS())
	r.Use(middleware.Metrics())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(d.Panels, d.Refresh))
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	d.API.Routes(r)
	return r
}

// Run serves handler on addr until ctx is done. onShutdown funcs run when
// shutdown starts, so long-lived streams can be ended instead of waited out.
func Run(ctx context.Context, addr string, logger *slog.Logger, handler http.Handler, onShutdown ...func()) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return Serve(ctx, ln, logger, handler, onShutdown...)
}

// Serve is Run on an existing listener.
func Serve(ctx context.Context, ln net.Listener, logger *slog.Logger, handler http.Handler, onShutdown ...func()) error {
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// event streams clear their own deadline
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	for _, f := range onShutdown {
		srv.RegisterOnShutdown(f)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", ln.Addr().String())
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
