// Package scheduler drives the periodic forecast cycle: pull retained
// telemetry, run the engine, hand the result to the configured sinks.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/markus-lassfolk/foresight/pkg/forecast"
	"github.com/markus-lassfolk/foresight/pkg/logx"
	"github.com/markus-lassfolk/foresight/pkg/models"
	"github.com/markus-lassfolk/foresight/pkg/telem"
)

// ErrRunInProgress is returned when a cycle is requested while another is
// still executing; the caller should treat it as a skip, not a failure.
var ErrRunInProgress = errors.New("forecast cycle already running")

// slowCycleThreshold flags forecast cycles whose average runtime suggests
// the cadence is at risk.
const slowCycleThreshold = 10 * time.Second

// Sink receives completed forecasts. Sink failures are logged and absorbed;
// they never fail the cycle.
type Sink interface {
	PublishForecast(ctx context.Context, result *forecast.Result) error
}

// StatusSink is an optional Sink extension that also receives the scheduler
// status snapshot after each successful cycle.
type StatusSink interface {
	PublishStatus(status interface{}) error
}

// Config represents scheduler configuration
type Config struct {
	IntervalS       int    `json:"interval_s"`
	Series          string `json:"series"`
	ExogenousSeries string `json:"exogenous_series"`
	Aggregate       bool   `json:"aggregate"`
}

// DefaultConfig returns the default scheduler configuration
func DefaultConfig() *Config {
	return &Config{
		IntervalS:       3600,
		Series:          "temperature",
		ExogenousSeries: "humidity",
		Aggregate:       true,
	}
}

// Status is the scheduler introspection snapshot
type Status struct {
	Running   bool      `json:"running"`
	RunCount  int       `json:"run_count"`
	LastRun   time.Time `json:"last_run"`
	NextRun   time.Time `json:"next_run"`
	LastError string    `json:"last_error,omitempty"`
}

// Scheduler runs the forecast cycle on a fixed cadence. Cycles never
// overlap: a tick or manual trigger arriving while one is executing is
// skipped.
type Scheduler struct {
	engine *forecast.Engine
	store  *telem.Store
	logger *logx.Logger
	perf   *logx.PerformanceLogger
	config *Config
	sinks  []Sink

	mu         sync.RWMutex
	running    bool
	inFlight   bool
	runCount   int
	lastRun    time.Time
	nextRun    time.Time
	lastError  string
	lastResult *forecast.Result
	stopCh     chan struct{}
}

// New creates a forecast scheduler
func New(engine *forecast.Engine, store *telem.Store, config *Config, logger *logx.Logger) *Scheduler {
	if config == nil {
		config = DefaultConfig()
	}
	if config.IntervalS < 1 {
		config.IntervalS = DefaultConfig().IntervalS
	}
	if config.Series == "" {
		config.Series = DefaultConfig().Series
	}

	return &Scheduler{
		engine: engine,
		store:  store,
		logger: logger,
		perf:   logx.NewPerformanceLogger(logger),
		config: config,
		stopCh: make(chan struct{}),
	}
}

// AddSink registers a forecast consumer. Not safe to call after Start.
func (s *Scheduler) AddSink(sink Sink) {
	s.sinks = append(s.sinks, sink)
}

// Start begins the scheduler loop
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	s.running = true
	s.nextRun = time.Now().Add(time.Duration(s.config.IntervalS) * time.Second)

	s.logger.Info("Starting forecast scheduler",
		"interval_s", s.config.IntervalS,
		"series", s.config.Series,
		"exogenous_series", s.config.ExogenousSeries,
		"sinks", len(s.sinks),
	)

	go s.loop(ctx)

	return nil
}

// Stop stops the scheduler loop
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.running = false
	close(s.stopCh)
	s.logger.Info("Forecast scheduler stopped")
}

// loop runs the scheduler ticker
func (s *Scheduler) loop(ctx context.Context) {
	interval := time.Duration(s.config.IntervalS) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("Forecast scheduler loop started", "interval", interval)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Forecast scheduler loop stopped (context cancelled)")
			return
		case <-s.stopCh:
			s.logger.Info("Forecast scheduler loop stopped (stop signal)")
			return
		case <-ticker.C:
			s.mu.Lock()
			s.nextRun = time.Now().Add(interval)
			s.mu.Unlock()

			if _, err := s.RunOnce(ctx); err != nil {
				if errors.Is(err, ErrRunInProgress) {
					s.logger.Warn("Previous forecast cycle still running, skipping tick")
					continue
				}
				s.logger.Error("Forecast cycle failed", "error", err)
			}
		}
	}
}

// RunOnce executes a single forecast cycle: history from the store, engine
// forecast, sink fanout. Returns ErrRunInProgress if a cycle is already
// executing.
func (s *Scheduler) RunOnce(ctx context.Context) (*forecast.Result, error) {
	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return nil, ErrRunInProgress
	}
	s.inFlight = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight = false
		s.mu.Unlock()
	}()

	started := time.Now()

	history, hourlyContext, err := s.contextSamples(s.config.Series)
	if err != nil {
		err = fmt.Errorf("failed to read history: %w", err)
		s.recordFailure(started, 0, err)
		return nil, err
	}

	var exogenous []telem.Sample
	if s.config.ExogenousSeries != "" {
		exogenous, _, err = s.contextSamples(s.config.ExogenousSeries)
		if err != nil {
			s.logger.Warn("Failed to read exogenous series, continuing without",
				"series", s.config.ExogenousSeries,
				"error", err,
			)
			exogenous = nil
		}
	}

	s.recordAccuracy(history)

	result, err := s.engine.Forecast(ctx, forecast.Request{
		History:   history,
		Exogenous: exogenous,
		Aggregate: s.config.Aggregate && !hourlyContext,
	})
	if err != nil {
		err = fmt.Errorf("forecast cycle: %w", err)
		s.recordFailure(started, len(history), err)
		return nil, err
	}

	for _, sink := range s.sinks {
		if sinkErr := sink.PublishForecast(ctx, result); sinkErr != nil {
			s.logger.Warn("Forecast sink failed", "error", sinkErr)
		}
	}

	s.mu.Lock()
	s.runCount++
	runCount := s.runCount
	s.lastRun = started
	s.lastError = ""
	s.lastResult = result
	s.mu.Unlock()

	for _, sink := range s.sinks {
		statusSink, ok := sink.(StatusSink)
		if !ok {
			continue
		}
		if sinkErr := statusSink.PublishStatus(s.Status()); sinkErr != nil {
			s.logger.Warn("Status sink failed", "error", sinkErr)
		}
	}

	s.perf.LogCyclePerformance(time.Since(started), result.Model, len(history), nil)
	if runCount%24 == 0 {
		s.perf.LogSlowOperations(slowCycleThreshold)
	}
	s.logger.LogVerbose("forecast_cycle", map[string]interface{}{
		"model":          result.Model,
		"steps":          len(result.Predictions),
		"context_points": len(history),
		"hourly_context": hourlyContext,
		"duration_ms":    time.Since(started).Milliseconds(),
	})

	return result, nil
}

// contextSamples reads the forecast context for a series, preferring the
// store's hourly rollup; a store too young to have hourly bins falls back to
// the raw ring. The returned flag reports which view was used.
func (s *Scheduler) contextSamples(series string) ([]telem.Sample, bool, error) {
	hourly, err := s.store.GetHourlySamples(series)
	if err != nil {
		return nil, false, err
	}
	if len(hourly) >= models.MinDataPoints {
		return hourly, true, nil
	}

	raw, err := s.store.GetAllSamples(series)
	if err != nil {
		return nil, false, err
	}
	return raw, false, nil
}

// recordAccuracy feeds the previous cycle's first-step prediction and the
// newest realized observation to the engine's accuracy tracker, which drives
// the primary/fallback switch.
func (s *Scheduler) recordAccuracy(history []telem.Sample) {
	s.mu.RLock()
	prev := s.lastResult
	s.mu.RUnlock()

	if prev == nil || len(prev.Predictions) == 0 || len(history) == 0 {
		return
	}

	predicted := prev.Predictions[0]
	latest := history[len(history)-1]
	if latest.Timestamp.Before(predicted.Timestamp) {
		// The predicted hour has not been observed yet
		return
	}

	mae := s.engine.UpdateMAETracking(predicted.Value, latest.Value)
	s.logger.Debug("Accuracy feedback recorded",
		"predicted", predicted.Value,
		"actual", latest.Value,
		"rolling_mae", mae,
	)
}

// recordFailure stores the cycle error and logs cycle performance
func (s *Scheduler) recordFailure(started time.Time, points int, err error) {
	s.mu.Lock()
	s.lastError = err.Error()
	s.mu.Unlock()

	s.perf.LogCyclePerformance(time.Since(started), "", points, err)
}

// LastResult returns the most recent successful forecast, or nil
func (s *Scheduler) LastResult() *forecast.Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastResult
}

// Status returns the scheduler introspection snapshot
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Status{
		Running:   s.running,
		RunCount:  s.runCount,
		LastRun:   s.lastRun,
		NextRun:   s.nextRun,
		LastError: s.lastError,
	}
}
