// Package server exposes the ranking engine over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"apartment-ranker/geocoding"
	"apartment-ranker/metrics"
	"apartment-ranker/models"
	"apartment-ranker/services"
	"apartment-ranker/storage"
	"apartment-ranker/utils"
)

// ListingStore is the storage the API reads listings from.
type ListingStore interface {
	storage.ListingReader
	storage.CoordinateWriter
	Ping(ctx context.Context) error
}

// Options configures a Server. Geocoder, Metrics and Gatherer may be nil.
type Options struct {
	Store    ListingStore
	Ranker   *services.Ranker
	Geocoder geocoding.Geocoder
	Defaults services.PreferenceDefaults
	Logger   *utils.Logger
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
}

// Server handles the ranking API.
type Server struct {
	store    ListingStore
	ranker   *services.Ranker
	geocoder geocoding.Geocoder
	defaults services.PreferenceDefaults
	logger   *utils.Logger
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
}

// New creates a Server from opts.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = utils.Discard()
	}
	return &Server{
		store:    opts.Store,
		ranker:   opts.Ranker,
		geocoder: opts.Geocoder,
		defaults: opts.Defaults,
		logger:   logger,
		metrics:  opts.Metrics,
		gatherer: opts.Gatherer,
	}
}

// Handler returns the routed API wrapped in request ID, logging and
// metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/rank", s.handleRank)
	mux.HandleFunc("GET /api/apartments", s.handleApartments)
	mux.HandleFunc("GET /api/geocode", s.handleGeocode)
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return RequestID(s.observe(mux))
}

// ListenAndServe serves the API on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("[server] listening on http://%s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("[server] shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// saveGeocoded stores positions found during ranking so later passes skip
// the lookup. Failures are logged only.
func (s *Server) saveGeocoded(ctx context.Context, positions map[string]models.Coordinates) {
	if len(positions) == 0 {
		return
	}
	if err := s.store.SaveCoordinates(ctx, positions); err != nil {
		s.logger.Warn("[server] could not store %d geocoded positions: %v", len(positions), err)
	}
}
