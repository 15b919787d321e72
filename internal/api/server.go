package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// HealthServer serves probes and Prometheus metrics.
type HealthServer struct {
	mux    *http.ServeMux
	logger zerolog.Logger
}

func NewHealthServer(checks HealthChecks, gatherer prometheus.Gatherer, logger zerolog.Logger) *HealthServer {
	s := &HealthServer{
		mux:    http.NewServeMux(),
		logger: logger.With().Str("component", "api").Logger(),
	}

	health := &healthHandler{checks: checks, logger: s.logger}
	s.mux.HandleFunc("/health", health.handleHealth)
	s.mux.HandleFunc("/ready", health.handleReady)
	s.mux.HandleFunc("/live", health.handleLive)
	s.mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return s
}

func (s *HealthServer) Handler() http.Handler {
	return s.logMiddleware(s.mux)
}

// Start serves on addr until ctx is cancelled.
func (s *HealthServer) Start(ctx context.Context, addr string) error {
	s.logger.Info().Str("addr", addr).Msg("Starting health server")
	server := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info().Msg("Shutting down health server...")
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HealthServer) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("latency", time.Since(start)).
			Msg("http")
	})
}
