// Package server wires the ops HTTP surface of the crawler.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/quadtile-crawler/internal/core/health"
	middleware "github.com/mohammed-shakir/quadtile-crawler/internal/core/middleware"
	"github.com/mohammed-shakir/quadtile-crawler/internal/core/router"
)

type Deps struct {
	Ready   health.ReadinessReporter
	Metrics http.Handler
	Tiles   *router.TileAPI
}

// NewHandler builds the chi router for /healthz, /readyz, /metrics and the
// tile endpoints. Nil dependencies leave their routes out.
func NewHandler(logger *slog.Logger, d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.Metrics())
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	if d.Ready != nil {
		r.Get("/readyz", health.Readiness(d.Ready, 2*time.Second))
	}
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}
	if d.Tiles != nil {
		r.Route("/v1/tiles", func(r chi.Router) {
			r.Get("/", d.Tiles.Cover)
			r.Get("/{code}", d.Tiles.Tile)
		})
	}
	return r
}

// sets up http and serves until ctx is done
func Run(ctx context.Context, addr string, logger *slog.Logger, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", addr)
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
