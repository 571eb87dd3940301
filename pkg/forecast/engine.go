package forecast

import (
	"context"
	"fmt"
	"time"

	"github.com/markus-lassfolk/foresight/pkg/logx"
	"github.com/markus-lassfolk/foresight/pkg/models"
	"github.com/markus-lassfolk/foresight/pkg/telem"
	"github.com/markus-lassfolk/foresight/pkg/uci"
)

// Request is one forecast invocation
type Request struct {
	History   []telem.Sample
	Exogenous []telem.Sample
	Steps     int
	Aggregate bool
}

// Prediction is one forecast step
type Prediction struct {
	Timestamp   time.Time `json:"timestamp"`
	Value       float64   `json:"value"`
	HorizonStep int       `json:"horizon_step"`
	HoursAhead  int       `json:"hours_ahead"`
}

// Result is the complete forecast with provenance metadata. It is created
// fresh per call and never mutated after return.
type Result struct {
	Predictions        []Prediction `json:"predictions"`
	ForecastTimestamp  time.Time    `json:"forecast_timestamp"`
	ForecastHorizon    int          `json:"forecast_horizon_hours"`
	ContextSize        int          `json:"context_size"`
	OriginalDataPoints int          `json:"original_data_points"`
	Aggregated         bool         `json:"aggregated"`
	AnnualSeasonality  bool         `json:"annual_seasonality_applied"`
	HumidityCorrection bool         `json:"humidity_correction_applied"`
	Model              string       `json:"model"`
	ModelType          string       `json:"model_type"`
	Confidence         float64      `json:"confidence"`
}

// EngineStatus is the introspection snapshot served by the status API
type EngineStatus struct {
	PrimaryName      string        `json:"primary_name"`
	PrimaryAvailable bool          `json:"primary_available"`
	Tracker          TrackerStatus `json:"tracker"`
	ForecastHorizon  int           `json:"forecast_horizon"`
	ContextLength    int           `json:"context_length"`
}

// Engine is the forecast orchestrator: it aggregates the history, walks the
// model chain (primary, statistical, smoothing, naive), applies the
// correction stages in fixed order and assembles the result.
//
// A forecast call is stateless apart from the primary tier's one-time
// warmup; accuracy feedback arrives separately through UpdateMAETracking.
type Engine struct {
	config *uci.Config
	logger *logx.Logger
	perf   *logx.PerformanceLogger

	primary  models.PrimaryPredictor
	sarima   *models.SarimaEngine
	smoother *models.HoltWintersModel
	naive    *models.NaiveModel

	aggregator *telem.Aggregator
	seasonal   *SeasonalAdjuster
	exogenous  *ExogenousCorrector
	tracker    *ErrorTracker
}

// NewEngine wires the model tiers and correction stages from configuration
func NewEngine(config *uci.Config, primary models.PrimaryPredictor, logger *logx.Logger) *Engine {
	aggregator := telem.NewAggregator(logger)

	sarimaConfig := models.SarimaConfig{
		P:                     config.AROrder,
		D:                     config.Differencing,
		Q:                     config.MAOrder,
		SeasonalP:             config.SeasonalAROrder,
		SeasonalD:             config.SeasonalDiff,
		SeasonalQ:             config.SeasonalMAOrder,
		Period:                config.SeasonalPeriodDaily,
		AutoDetectSeasonality: config.AutoDetectSeasonality,
	}

	return &Engine{
		config:     config,
		logger:     logger,
		perf:       logx.NewPerformanceLogger(logger),
		primary:    primary,
		sarima:     models.NewSarimaEngine(sarimaConfig, logger),
		smoother:   models.NewHoltWintersModel(logger),
		naive:      models.NewNaiveModel(logger),
		aggregator: aggregator,
		seasonal:   NewSeasonalAdjuster(config.EnableAnnualSeasonality, config.SeasonalPeriodAnnual, logger),
		exogenous:  NewExogenousCorrector(aggregator, logger),
		tracker:    NewErrorTracker(primary, config.MAEThreshold, config.MAEWindowSize, logger),
	}
}

// Forecast runs one prediction. The only terminal failure is a history
// below the minimum; every model failure past that bar is absorbed by the
// next tier down.
func (e *Engine) Forecast(ctx context.Context, req Request) (*Result, error) {
	started := time.Now()

	if len(req.History) < models.MinDataPoints {
		return nil, fmt.Errorf("history has %d points, need %d: %w",
			len(req.History), models.MinDataPoints, models.ErrInsufficientData)
	}

	aggregated := req.Aggregate && len(req.History) > e.config.SampleIntervalS
	working := req.History
	if aggregated {
		working = e.aggregator.AggregateHourly(req.History)
		e.logger.Info("History aggregated",
			"raw_points", len(req.History),
			"hourly_points", len(working),
		)
	}

	steps := req.Steps
	if steps <= 0 {
		steps = e.config.ForecastHorizon
	}
	if steps > uci.MaxForecastHorizon {
		steps = uci.MaxForecastHorizon
	}

	outcome := e.runModelChain(ctx, working, req.History, steps)
	modelResult := outcome.result
	consumed := outcome.consumed

	e.logger.LogDebugVerbose("model_chain", map[string]interface{}{
		"model":           modelResult.Model,
		"primary_used":    outcome.primaryUsed,
		"raw_retry":       outcome.usedRaw,
		"consumed_points": len(consumed),
	})

	interval := time.Hour
	if !aggregated || outcome.usedRaw {
		interval = telem.Interval(consumed)
	}
	lastTs := consumed[len(consumed)-1].Timestamp

	timestamps := make([]time.Time, steps)
	for i := range timestamps {
		timestamps[i] = lastTs.Add(interval * time.Duration(i+1))
	}

	values := e.seasonal.Apply(modelResult.Values, timestamps)

	humidityCorrected := false
	if len(req.Exogenous) > 0 {
		values = e.exogenous.Apply(values, req.Exogenous)
		humidityCorrected = true
	}

	predictions := make([]Prediction, steps)
	for i := 0; i < steps; i++ {
		predictions[i] = Prediction{
			Timestamp:   timestamps[i],
			Value:       values[i],
			HorizonStep: i + 1,
			HoursAhead:  int(interval.Hours() * float64(i+1)),
		}
	}

	modelType := "statistical"
	if outcome.primaryUsed {
		modelType = "primary"
	}

	result := &Result{
		Predictions:        predictions,
		ForecastTimestamp:  time.Now().UTC(),
		ForecastHorizon:    steps,
		ContextSize:        len(working),
		OriginalDataPoints: len(req.History),
		Aggregated:         aggregated,
		AnnualSeasonality:  e.seasonal.Enabled(),
		HumidityCorrection: humidityCorrected,
		Model:              modelResult.Model,
		ModelType:          modelType,
		Confidence:         modelResult.Confidence,
	}

	e.perf.LogInferencePerformance(result.Model, time.Since(started), steps, nil)
	e.logger.Info("Forecast completed",
		"model", result.Model,
		"steps", steps,
		"context", len(working),
		"duration_ms", time.Since(started).Milliseconds(),
	)

	return result, nil
}

// chainOutcome carries the winning tier's output plus which series it
// consumed and whether the primary tier produced it.
type chainOutcome struct {
	result      *models.Result
	consumed    []telem.Sample
	usedRaw     bool
	primaryUsed bool
}

// runModelChain walks primary, statistical, smoothing and naive tiers in
// order until one produces a result. The naive floor retries on the raw
// history when aggregation left too few points, so given the minimum
// history the chain cannot come back empty.
func (e *Engine) runModelChain(ctx context.Context, working, raw []telem.Sample, steps int) chainOutcome {
	if !e.tracker.ShouldUseFallback() && len(working) >= e.config.ContextLength {
		result, err := e.primary.Forecast(ctx, working, steps)
		if err == nil {
			if sanitizeErr := models.Sanitize(result.Values, steps); sanitizeErr == nil {
				return chainOutcome{result: result, consumed: working, primaryUsed: true}
			}
			e.logger.Warn("Primary output failed sanitation, falling back", "model", result.Model)
		} else {
			e.logger.Warn("Primary predictor failed, falling back", "error", err)
		}
	}

	result, err := e.sarima.Forecast(working, steps)
	if err == nil {
		if sanitizeErr := models.Sanitize(result.Values, steps); sanitizeErr == nil {
			return chainOutcome{result: result, consumed: working}
		}
		e.logger.Warn("Statistical output failed sanitation, falling back")
	} else {
		e.logger.Warn("Statistical engine failed, falling back", "error", err)
	}

	result, err = e.smoother.Forecast(working, steps)
	if err == nil {
		return chainOutcome{result: result, consumed: working}
	}
	e.logger.Warn("Smoothing tier failed, falling back", "error", err)

	result, err = e.naive.Forecast(working, steps)
	if err == nil {
		return chainOutcome{result: result, consumed: working}
	}

	// Aggregation can shrink a valid history below the naive floor; the
	// raw series is guaranteed to be long enough.
	e.logger.Warn("Naive tier failed on aggregated series, using raw history", "error", err)
	result, err = e.naive.Forecast(raw, steps)
	if err != nil {
		// Unreachable with the minimum-history check in place
		e.logger.Error("Naive tier failed on raw history", "error", err)
		return chainOutcome{result: flatResult(raw, steps), consumed: raw, usedRaw: true}
	}
	return chainOutcome{result: result, consumed: raw, usedRaw: true}
}

// flatResult repeats the last observed value; the terminal guarantee when
// every tier has been exhausted.
func flatResult(samples []telem.Sample, steps int) *models.Result {
	last := samples[len(samples)-1]
	values := make([]float64, steps)
	timestamps := make([]time.Time, steps)
	interval := telem.Interval(samples)
	for i := range values {
		values[i] = last.Value
		timestamps[i] = last.Timestamp.Add(interval * time.Duration(i+1))
	}
	return &models.Result{
		Timestamps: timestamps,
		Values:     values,
		Confidence: 0.5,
		Model:      "flat",
	}
}

// UpdateMAETracking records one realized value against its past prediction
// and returns the rolling MAE. The caller owns the cadence; the engine only
// reacts on the next forecast.
func (e *Engine) UpdateMAETracking(predicted, actual float64) float64 {
	return e.tracker.Update(predicted, actual)
}

// Tracker exposes the accuracy tracker for status endpoints
func (e *Engine) Tracker() *ErrorTracker {
	return e.tracker
}

// Status returns the engine introspection snapshot
func (e *Engine) Status() EngineStatus {
	return EngineStatus{
		PrimaryName:      e.primary.Name(),
		PrimaryAvailable: e.primary.Available(),
		Tracker:          e.tracker.Status(),
		ForecastHorizon:  e.config.ForecastHorizon,
		ContextLength:    e.config.ContextLength,
	}
}
