package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammed-shakir/catalog-kml/internal/core/config"
	"github.com/mohammed-shakir/catalog-kml/internal/core/health"
	middleware "github.com/mohammed-shakir/catalog-kml/internal/core/middleware"
	"github.com/mohammed-shakir/catalog-kml/internal/core/router"
)

// Subscriptions is what the HTTP surface needs from the registry.
type Subscriptions interface {
	router.Unsubscriber
	health.ReadinessChecker
}

// NewHandler wires the routes.
func NewHandler(logger *slog.Logger, t router.Transformer, subs Subscriptions) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(subs))
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Post(router.RouteQuery, router.HandleQuery(logger, t))
	r.Post(router.RouteEntry, router.HandleEntry(logger, t))
	r.Delete(router.RouteUnsubscribe, router.HandleUnsubscribe(logger, subs))
	return r
}

// sets up http and starts serving
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, t router.Transformer, subs Subscriptions) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           NewHandler(logger, t, subs),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
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
