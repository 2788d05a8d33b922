package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/wharf-registry/wharf/pkg/auth"
	"github.com/wharf-registry/wharf/pkg/config"
	"github.com/wharf-registry/wharf/pkg/index"
	"github.com/wharf-registry/wharf/pkg/log"
	"github.com/wharf-registry/wharf/pkg/metrics"
	"github.com/wharf-registry/wharf/pkg/storage"
)

// Server owns the HTTP surface and the backend triple.
type Server struct {
	cfg     *config.Config
	index   index.Backend
	storage storage.Backend
	auth    auth.Backend

	limiter  *publishLimiter
	draining atomic.Bool
}

// New wires a server from its configuration and backends.
func New(cfg *config.Config, idx index.Backend, store storage.Backend, authn auth.Backend) *Server {
	return &Server{
		cfg:     cfg,
		index:   idx,
		storage: store,
		auth:    authn,
		limiter: newPublishLimiter(cfg.Service.PublishRatePerSecond, cfg.Service.PublishBurst),
	}
}

// Run serves until ctx is cancelled, then drains. The service listener
// and the metrics listener run as separate servers so scraping survives
// service restarts in place.
func (s *Server) Run(ctx context.Context) error {
	logger := log.WithComponent("server")

	service := &http.Server{
		Addr:              s.cfg.Service.Address,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.cfg.Service.RequestTimeout.Std(),
		WriteTimeout:      s.cfg.Service.RequestTimeout.Std(),
	}
	ops := &http.Server{
		Addr:    s.cfg.Service.MetricsAddress,
		Handler: s.opsRoutes(),
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info().Str("address", service.Addr).Msg("Registry API listening")
		if err := service.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("service listener failed: %w", err)
		}
	}()
	go func() {
		logger.Info().Str("address", ops.Addr).Msg("Metrics listening")
		if err := ops.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics listener failed: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	// Raise the drain barrier: new requests get 503 while in-flight ones
	// run to completion or hit the deadline.
	s.draining.Store(true)
	logger.Info().
		Dur("deadline", s.cfg.Service.DrainDeadline.Std()).
		Msg("Shutting down, draining in-flight requests")

	drainCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Service.DrainDeadline.Std())
	defer cancel()

	var failed error
	if err := service.Shutdown(drainCtx); err != nil {
		logger.Warn().Err(err).Msg("Service drain did not finish cleanly")
		failed = err
	}
	if err := ops.Shutdown(drainCtx); err != nil {
		logger.Warn().Err(err).Msg("Metrics drain did not finish cleanly")
	}
	if err := s.index.Close(); err != nil {
		logger.Warn().Err(err).Msg("Index close failed")
	}
	return failed
}

// opsRoutes serves Prometheus exposition and the health endpoint on the
// metrics address.
func (s *Server) opsRoutes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)
	return mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	healthy := true
	for name, check := range map[string]func(context.Context) error{
		"index":   s.index.Healthcheck,
		"storage": s.storage.Healthcheck,
		"auth":    s.auth.Healthcheck,
	} {
		if err := check(r.Context()); err != nil {
			checks[name] = err.Error()
			healthy = false
		} else {
			checks[name] = "ok"
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"healthy": healthy,
		"checks":  checks,
	})
}
