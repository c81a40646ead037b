// Package httpserver exposes the operational surface: Prometheus metrics,
// health, and readiness endpoints.
package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"moodlist/internal/core"
)

type Server struct {
	config  *core.ServerConfig
	logger  *zap.Logger
	server  *http.Server
	metrics *Metrics
}

type Metrics struct {
	WorkflowsTotal       *prometheus.CounterVec
	RecommendationsTotal *prometheus.CounterVec
	LLMCallsTotal        *prometheus.CounterVec
	UpstreamErrorsTotal  *prometheus.CounterVec
	WorkflowDuration     *prometheus.HistogramVec
	CacheHitRate         prometheus.Gauge
	ActiveWorkflows      prometheus.Gauge
}

func newMetrics() *Metrics {
	return &Metrics{
		WorkflowsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "moodlist_workflows_total",
				Help: "Total number of recommendation workflows by terminal status",
			},
			[]string{"status"},
		),
		RecommendationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "moodlist_recommendations_total",
				Help: "Total number of recommended tracks by source",
			},
			[]string{"source"},
		),
		LLMCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "moodlist_llm_calls_total",
				Help: "Total number of LLM API calls",
			},
			[]string{"provider", "status"},
		),
		UpstreamErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "moodlist_upstream_errors_total",
				Help: "Total number of upstream failures by service",
			},
			[]string{"service", "type"},
		),
		WorkflowDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "moodlist_workflow_duration_seconds",
				Help:    "Time spent per workflow stage",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
		CacheHitRate: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "moodlist_cache_hit_rate",
				Help: "Cache hit rate since process start",
			},
		),
		ActiveWorkflows: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "moodlist_active_workflows",
				Help: "Number of workflows currently in flight",
			},
		),
	}
}

// RecordWorkflow counts one finished workflow. Nil-safe so stages can run
// without a metrics server in tests.
func (m *Metrics) RecordWorkflow(status core.Status) {
	if m == nil {
		return
	}
	m.WorkflowsTotal.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) RecordRecommendations(recs []core.TrackRecommendation) {
	if m == nil {
		return
	}
	for _, rec := range recs {
		m.RecommendationsTotal.WithLabelValues(string(rec.Source)).Inc()
	}
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.WorkflowDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) WorkflowStarted() {
	if m == nil {
		return
	}
	m.ActiveWorkflows.Inc()
}

func (m *Metrics) WorkflowFinished() {
	if m == nil {
		return
	}
	m.ActiveWorkflows.Dec()
}

func NewServer(config *core.ServerConfig, logger *zap.Logger) *Server {
	metrics := newMetrics()
	prometheus.MustRegister(
		metrics.WorkflowsTotal,
		metrics.RecommendationsTotal,
		metrics.LLMCallsTotal,
		metrics.UpstreamErrorsTotal,
		metrics.WorkflowDuration,
		metrics.CacheHitRate,
		metrics.ActiveWorkflows,
	)

	return &Server{
		config:  config,
		logger:  logger,
		server:  createHTTPServer(config, setupRoutes(logger)),
		metrics: metrics,
	}
}

func setupRoutes(logger *zap.Logger) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"status":"ok","service":"moodlist"}`)); err != nil {
			logger.Debug("healthz write failed", zap.Error(err))
		}
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"status":"ready","service":"moodlist"}`)); err != nil {
			logger.Debug("readyz write failed", zap.Error(err))
		}
	})

	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

func createHTTPServer(config *core.ServerConfig, mux *http.ServeMux) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      mux,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
}

// Start serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.server.Addr))

	go func() {
		<-ctx.Done()
		s.logger.Info("Shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Failed to shutdown HTTP server gracefully", zap.Error(err))
		}
	}()

	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}

func (s *Server) GetMetrics() *Metrics {
	return s.metrics
}
