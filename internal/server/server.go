// Package server exposes the optional HTTP status surface: health, live
// pipeline counters, and the Prometheus metrics endpoint.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"music-cleanup/internal/metrics"
	"music-cleanup/internal/pipeline"
	"music-cleanup/internal/store"
	"music-cleanup/pkg/types"
)

// Server wraps the HTTP listener.
type Server struct {
	httpServer *http.Server
	logger     *logrus.Logger
}

// New builds the status server.
func New(cfg types.ServerConfig, metricsCfg types.MetricsConfig, logger *logrus.Logger, orch *pipeline.Orchestrator, st *store.Store, m *metrics.Metrics) *Server {
	router := mux.NewRouter()

	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	router.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		statusCounts, err := st.CountByStatus(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"phase":         orch.Phase(),
			"counters":      orch.Counters(),
			"files_by_status": statusCounts,
		})
	}).Methods(http.MethodGet)

	if metricsCfg.Enabled {
		router.Handle(metricsCfg.Path, promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:      router,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Start serves in a goroutine until Shutdown.
func (s *Server) Start() {
	go func() {
		s.logger.WithFields(logrus.Fields{
			"component": "server",
			"addr":      s.httpServer.Addr,
		}).Info("status server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("status server failed")
		}
	}()
}

// Shutdown stops the listener gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
