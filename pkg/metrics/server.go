package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/markus-lassfolk/foresight/pkg/forecast"
	"github.com/markus-lassfolk/foresight/pkg/logx"
	"github.com/markus-lassfolk/foresight/pkg/telem"
)

// Config represents metrics server configuration
type Config struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
}

// Server exposes Prometheus metrics and a liveness endpoint. It also acts
// as a forecast sink, counting completed forecasts as they are published.
type Server struct {
	config   *Config
	logger   *logx.Logger
	engine   *forecast.Engine
	store    *telem.Store
	registry *prometheus.Registry
	metrics  *Metrics
	server   *http.Server
}

// NewServer creates a metrics server wired to the engine and store
func NewServer(config *Config, engine *forecast.Engine, store *telem.Store, logger *logx.Logger) *Server {
	if config == nil {
		config = &Config{Enabled: false, Host: "localhost", Port: 9090}
	}
	if config.Host == "" {
		config.Host = "localhost"
	}
	if config.Port == 0 {
		config.Port = 9090
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	sources := Sources{
		TrackerMAE: func() float64 {
			return engine.Tracker().CurrentMAE()
		},
		TrackerTransitions: func() float64 {
			return float64(engine.Tracker().Status().Transitions)
		},
		FallbackActive: func() float64 {
			if engine.Tracker().Status().FallbackActive {
				return 1
			}
			return 0
		},
		PrimaryAvailable: func() float64 {
			if engine.Status().PrimaryAvailable {
				return 1
			}
			return 0
		},
		StoreSamples: func() float64 {
			total := 0
			for _, series := range store.GetSeries() {
				samples, err := store.GetAllSamples(series)
				if err != nil {
					continue
				}
				total += len(samples)
			}
			return float64(total)
		},
		StoreMemoryMB: func() float64 {
			return float64(store.GetMemoryUsage())
		},
	}

	return &Server{
		config:   config,
		logger:   logger,
		engine:   engine,
		store:    store,
		registry: registry,
		metrics:  NewMetrics("foresight", registry, sources),
	}
}

// PublishForecast implements the scheduler sink: each published forecast
// bumps the run counters and the confidence histogram.
func (s *Server) PublishForecast(ctx context.Context, result *forecast.Result) error {
	s.metrics.ForecastsTotal.WithLabelValues(result.ModelType, result.Model).Inc()
	s.metrics.ForecastConfidence.Observe(result.Confidence)

	if result.AnnualSeasonality {
		s.metrics.CorrectionsApplied.WithLabelValues("annual_seasonality").Inc()
	}
	if result.HumidityCorrection {
		s.metrics.CorrectionsApplied.WithLabelValues("humidity").Inc()
	}

	return nil
}

// Handler returns the metrics exposition handler
func (s *Server) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// Start starts the metrics HTTP server
func (s *Server) Start() error {
	if !s.config.Enabled {
		s.logger.Info("Metrics server is disabled")
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", s.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Info("Starting metrics server", "address", addr)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Metrics server failed", "error", err)
		}
	}()

	return nil
}

// Stop shuts the metrics server down gracefully
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	s.logger.Info("Stopping metrics server")
	return s.server.Shutdown(ctx)
}

// handleHealthz handles the liveness endpoint
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   "foresight-metrics",
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(health); err != nil {
		s.logger.Error("Failed to encode health response", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
