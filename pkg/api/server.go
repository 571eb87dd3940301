// Package api provides the HTTP API for the forecast daemon.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/markus-lassfolk/foresight/pkg/forecast"
	"github.com/markus-lassfolk/foresight/pkg/logx"
	"github.com/markus-lassfolk/foresight/pkg/models"
	"github.com/markus-lassfolk/foresight/pkg/scheduler"
	"github.com/markus-lassfolk/foresight/pkg/telem"
)

// Config holds API server configuration
type Config struct {
	Enabled    bool   `json:"enabled"`
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Token      string `json:"token"`       // plain bearer token
	SecretHash string `json:"secret_hash"` // bcrypt hash alternative
}

// Server provides the HTTP API for forecasts, telemetry ingest and status
type Server struct {
	engine    *forecast.Engine
	scheduler *scheduler.Scheduler
	store     *telem.Store
	config    *Config
	logger    *logx.Logger
	perf      *logx.PerformanceLogger
	server    *http.Server
	startTime time.Time
}

// NewServer creates a new API server instance
func NewServer(engine *forecast.Engine, sched *scheduler.Scheduler, store *telem.Store, config *Config, logger *logx.Logger) *Server {
	if config == nil {
		config = &Config{
			Enabled: false, // Disabled by default for security
			Host:    "localhost",
			Port:    8043,
		}
	}
	if config.Host == "" {
		config.Host = "localhost"
	}
	if config.Port == 0 {
		config.Port = 8043
	}

	return &Server{
		engine:    engine,
		scheduler: sched,
		store:     store,
		config:    config,
		logger:    logger,
		perf:      logx.NewPerformanceLogger(logger),
		startTime: time.Now(),
	}
}

// statusRecorder captures the response status for request instrumentation
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument wraps a handler with per-endpoint timing and outcome logging
func (s *Server) instrument(metric string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		op := s.perf.StartOperation(r.Context(), metric)
		started := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(recorder, r)

		var err error
		if recorder.status >= http.StatusInternalServerError {
			err = fmt.Errorf("status %d", recorder.status)
		}
		op.Complete(err)
		s.perf.LogAPIPerformance(r.URL.Path, r.Method, time.Since(started), recorder.status, err)
	}
}

// authMiddleware validates the bearer token for API endpoints
func (s *Server) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// If no credentials are configured, allow anonymous access
		if s.config.Token == "" && s.config.SecretHash == "" {
			next.ServeHTTP(w, r)
			return
		}

		token := bearerToken(r)
		if token == "" || !s.validToken(token) {
			s.logger.Warn("Invalid authentication attempt", "remote_addr", r.RemoteAddr)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	}
}

// bearerToken extracts the bearer token from the Authorization header,
// falling back to the X-API-Key header.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.Header.Get("X-API-Key")
}

// validToken checks the presented token against the configured credential.
// A bcrypt hash takes precedence over the plain token.
func (s *Server) validToken(token string) bool {
	if s.config.SecretHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(s.config.SecretHash), []byte(token)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.config.Token)) == 1
}

// Start starts the HTTP API server
func (s *Server) Start() error {
	if !s.config.Enabled {
		s.logger.Info("API server is disabled")
		return nil
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Info("Starting API server", "address", addr)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("API server failed", "error", err)
		}
	}()

	return nil
}

// Stop shuts the API server down gracefully
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	s.logger.Info("Stopping API server")
	return s.server.Shutdown(ctx)
}

// routes builds the API mux
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/forecast", s.instrument("api_forecast", s.authMiddleware(s.handleForecast)))
	mux.HandleFunc("/api/samples", s.instrument("api_samples", s.authMiddleware(s.handleSamples)))
	mux.HandleFunc("/api/status", s.instrument("api_status", s.authMiddleware(s.handleStatus)))
	mux.HandleFunc("/api/models", s.instrument("api_models", s.authMiddleware(s.handleModels)))
	mux.HandleFunc("/api/health", s.instrument("api_health", s.authMiddleware(s.handleHealth)))

	return mux
}

// samplePayload is one telemetry point on the wire
type samplePayload struct {
	Timestamp string  `json:"timestamp"`
	Value     float64 `json:"value"`
}

// forecastRequest is the POST /api/forecast body
type forecastRequest struct {
	History   []samplePayload `json:"history"`
	Exogenous []samplePayload `json:"exogenous,omitempty"`
	Steps     int             `json:"steps,omitempty"`
	Aggregate *bool           `json:"aggregate,omitempty"`
}

// handleForecast handles on-demand forecast requests
func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req forecastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	history, err := parseSamples(req.History, "temperature")
	if err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Invalid history sample", err)
		return
	}
	exogenous, err := parseSamples(req.Exogenous, "humidity")
	if err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Invalid exogenous sample", err)
		return
	}

	aggregate := true
	if req.Aggregate != nil {
		aggregate = *req.Aggregate
	}

	result, err := s.engine.Forecast(r.Context(), forecast.Request{
		History:   history,
		Exogenous: exogenous,
		Steps:     req.Steps,
		Aggregate: aggregate,
	})
	if err != nil {
		if errors.Is(err, models.ErrInsufficientData) {
			s.sendErrorResponse(w, http.StatusUnprocessableEntity, "Insufficient history", err)
			return
		}
		s.sendErrorResponse(w, http.StatusInternalServerError, "Forecast failed", err)
		return
	}

	s.sendJSONResponse(w, result)
}

// samplesRequest is the POST /api/samples body
type samplesRequest struct {
	Series  string          `json:"series"`
	Samples []samplePayload `json:"samples"`
}

// handleSamples ingests telemetry into the store
func (s *Server) handleSamples(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req samplesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Series == "" {
		s.sendErrorResponse(w, http.StatusBadRequest, "Missing series name", nil)
		return
	}

	samples, err := parseSamples(req.Samples, req.Series)
	if err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Invalid sample", err)
		return
	}

	stored := 0
	for _, sample := range samples {
		if err := s.store.AddSample(sample.Series, sample.Timestamp, sample.Value); err != nil {
			s.sendErrorResponse(w, http.StatusInternalServerError, "Failed to store sample", err)
			return
		}
		stored++
	}

	s.logger.LogDataFlow("api", "samples", req.Series, stored, nil)

	s.sendJSONResponse(w, map[string]interface{}{
		"success": true,
		"stored":  stored,
	})
}

// handleStatus handles the status endpoint
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.logger.Debug("Status API request received")

	response := map[string]interface{}{
		"status":    "operational",
		"uptime_s":  int(time.Since(s.startTime).Seconds()),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"engine":    s.engine.Status(),
	}
	if s.scheduler != nil {
		response["scheduler"] = s.scheduler.Status()
	}
	if s.store != nil {
		response["store"] = map[string]interface{}{
			"series":    s.store.GetSeries(),
			"memory_mb": s.store.GetMemoryUsage(),
		}
	}

	s.sendJSONResponse(w, response)
}

// handleModels handles the model inventory endpoint
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	s.logger.Debug("Models API request received")

	status := s.engine.Status()

	activeType := "primary"
	if status.Tracker.FallbackActive || !status.PrimaryAvailable {
		activeType = "statistical"
	}

	response := map[string]interface{}{
		"active_model_type": activeType,
		"primary": map[string]interface{}{
			"name":      status.PrimaryName,
			"available": status.PrimaryAvailable,
		},
		"fallback_chain": []string{"sarima", "holt-winters", "naive"},
		"tracker":        status.Tracker,
	}

	s.sendJSONResponse(w, response)
}

// handleHealth handles health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   "foresight-api",
		"uptime_s":  int(time.Since(s.startTime).Seconds()),
	}

	s.sendJSONResponse(w, health)
}

// parseSamples converts wire payloads to telemetry samples
func parseSamples(payloads []samplePayload, series string) ([]telem.Sample, error) {
	if len(payloads) == 0 {
		return nil, nil
	}

	samples := make([]telem.Sample, len(payloads))
	for i, p := range payloads {
		ts, err := parseTimestamp(p.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
		samples[i] = telem.Sample{
			Series:    series,
			Timestamp: ts,
			Value:     p.Value,
		}
	}

	return samples, nil
}

// parseTimestamp accepts RFC3339 and zone-less ISO-8601 timestamps
func parseTimestamp(value string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts, nil
	}
	ts, err := time.Parse("2006-01-02T15:04:05", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", value)
	}
	return ts.UTC(), nil
}

// sendJSONResponse sends a JSON response with proper headers
func (s *Server) sendJSONResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
}

// sendErrorResponse sends an error response
func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, message string, err error) {
	response := map[string]interface{}{
		"success": false,
		"error":   message,
	}
	if err != nil {
		response["details"] = err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Error("Failed to encode error response", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
}
