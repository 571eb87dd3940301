package forecast

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/markus-lassfolk/foresight/pkg/logx"
	"github.com/markus-lassfolk/foresight/pkg/models"
	"github.com/markus-lassfolk/foresight/pkg/telem"
	"github.com/markus-lassfolk/foresight/pkg/uci"
)

func testConfig() *uci.Config {
	return &uci.Config{
		ForecastHorizon:         24,
		ContextLength:           168,
		SampleIntervalS:         3600,
		AggregateData:           true,
		EnableAnnualSeasonality: false,
		AROrder:                 1,
		Differencing:            1,
		MAOrder:                 1,
		SeasonalAROrder:         1,
		SeasonalDiff:            1,
		SeasonalPeriodDaily:     24,
		SeasonalPeriodAnnual:    365,
		AutoDetectSeasonality:   true,
		MAEThreshold:            5.0,
		MAEWindowSize:           168,
	}
}

func testEngine(config *uci.Config, primary models.PrimaryPredictor) *Engine {
	logger := logx.NewLogger("error", "test")
	if primary == nil {
		primary = &MockPrimary{available: false}
	}
	return NewEngine(config, primary, logger)
}

func hourlySamples(n int, value float64, start time.Time) []telem.Sample {
	return spacedSamples(n, value, start, time.Hour)
}

func spacedSamples(n int, value float64, start time.Time, step time.Duration) []telem.Sample {
	samples := make([]telem.Sample, n)
	for i := range samples {
		samples[i] = telem.Sample{
			Series:    "temperature",
			Timestamp: start.Add(time.Duration(i) * step),
			Value:     value,
		}
	}
	return samples
}

var testStart = time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)

// TestEngine_ConstantSeries verifies a stable history forecasts flat at the
// observed level with high confidence through the statistical tier.
func TestEngine_ConstantSeries(t *testing.T) {
	engine := testEngine(testConfig(), nil)

	result, err := engine.Forecast(context.Background(), Request{
		History:   hourlySamples(200, 20.0, testStart),
		Steps:     5,
		Aggregate: true,
	})
	if err != nil {
		t.Fatalf("Forecast failed: %v", err)
	}

	if len(result.Predictions) != 5 {
		t.Fatalf("Predictions = %d, expected 5", len(result.Predictions))
	}
	for i, p := range result.Predictions {
		if math.Abs(p.Value-20.0) > 1e-6 {
			t.Errorf("Prediction[%d] = %v, expected 20.0", i, p.Value)
		}
	}
	if math.Abs(result.Confidence-0.95) > 1e-9 {
		t.Errorf("Confidence = %v, expected 0.95", result.Confidence)
	}
	if result.ModelType != "statistical" {
		t.Errorf("ModelType = %s, expected statistical", result.ModelType)
	}
	if !strings.HasPrefix(result.Model, "SARIMA") {
		t.Errorf("Model = %s, expected SARIMA tier", result.Model)
	}
	if result.Aggregated {
		t.Error("200 points should not trigger aggregation")
	}
	if result.OriginalDataPoints != 200 || result.ContextSize != 200 {
		t.Errorf("Data point counts = %d/%d, expected 200/200",
			result.OriginalDataPoints, result.ContextSize)
	}
}

// TestEngine_MinimumHistory verifies the smallest accepted history still
// yields a full-horizon forecast.
func TestEngine_MinimumHistory(t *testing.T) {
	engine := testEngine(testConfig(), nil)

	history := make([]telem.Sample, 10)
	for i := range history {
		history[i] = telem.Sample{
			Series:    "temperature",
			Timestamp: testStart.Add(time.Duration(i) * time.Hour),
			Value:     15.0 + float64(i%3),
		}
	}

	result, err := engine.Forecast(context.Background(), Request{
		History: history,
		Steps:   24,
	})
	if err != nil {
		t.Fatalf("Forecast failed on minimum history: %v", err)
	}
	if len(result.Predictions) != 24 {
		t.Fatalf("Predictions = %d, expected 24", len(result.Predictions))
	}
	for i, p := range result.Predictions {
		if math.IsNaN(p.Value) || math.IsInf(p.Value, 0) {
			t.Errorf("Prediction[%d] is not finite: %v", i, p.Value)
		}
	}
}

// TestEngine_InsufficientData verifies the single terminal failure mode
func TestEngine_InsufficientData(t *testing.T) {
	engine := testEngine(testConfig(), nil)

	_, err := engine.Forecast(context.Background(), Request{
		History: hourlySamples(9, 20.0, testStart),
		Steps:   5,
	})
	if !errors.Is(err, models.ErrInsufficientData) {
		t.Errorf("Expected ErrInsufficientData, got %v", err)
	}
}

// TestEngine_HumidityCorrection verifies the exogenous adjustment shifts a
// stable forecast by (projected - 50) * 0.05.
func TestEngine_HumidityCorrection(t *testing.T) {
	engine := testEngine(testConfig(), nil)

	humidity := make([]telem.Sample, 24)
	for i := range humidity {
		humidity[i] = telem.Sample{
			Series:    "humidity",
			Timestamp: testStart.Add(time.Duration(i) * time.Hour),
			Value:     90.0,
		}
	}

	result, err := engine.Forecast(context.Background(), Request{
		History:   hourlySamples(200, 25.0, testStart),
		Exogenous: humidity,
		Steps:     4,
		Aggregate: true,
	})
	if err != nil {
		t.Fatalf("Forecast failed: %v", err)
	}

	if !result.HumidityCorrection {
		t.Error("Expected humidity correction flag set")
	}
	// 25.0 + (90 - 50) * 0.05 = 27.0
	for i, p := range result.Predictions {
		if math.Abs(p.Value-27.0) > 1e-6 {
			t.Errorf("Prediction[%d] = %v, expected 27.0", i, p.Value)
		}
	}
}

// TestEngine_HorizonClamp verifies the step count is bounded by the hard
// cap and falls back to the configured horizon when unset.
func TestEngine_HorizonClamp(t *testing.T) {
	t.Run("over_cap", func(t *testing.T) {
		engine := testEngine(testConfig(), nil)
		result, err := engine.Forecast(context.Background(), Request{
			History: hourlySamples(100, 20.0, testStart),
			Steps:   40,
		})
		if err != nil {
			t.Fatalf("Forecast failed: %v", err)
		}
		if len(result.Predictions) != uci.MaxForecastHorizon {
			t.Errorf("Predictions = %d, expected %d", len(result.Predictions), uci.MaxForecastHorizon)
		}
		if result.ForecastHorizon != uci.MaxForecastHorizon {
			t.Errorf("ForecastHorizon = %d, expected %d", result.ForecastHorizon, uci.MaxForecastHorizon)
		}
	})

	t.Run("zero_uses_config", func(t *testing.T) {
		config := testConfig()
		config.ForecastHorizon = 12
		engine := testEngine(config, nil)
		result, err := engine.Forecast(context.Background(), Request{
			History: hourlySamples(100, 20.0, testStart),
		})
		if err != nil {
			t.Fatalf("Forecast failed: %v", err)
		}
		if len(result.Predictions) != 12 {
			t.Errorf("Predictions = %d, expected 12", len(result.Predictions))
		}
	})
}

// TestEngine_PrimaryPreferred verifies the primary tier wins when it is
// available, healthy and has enough context.
func TestEngine_PrimaryPreferred(t *testing.T) {
	config := testConfig()
	config.ContextLength = 10
	primary := &MockPrimary{available: true, value: 42.0}
	engine := testEngine(config, primary)

	result, err := engine.Forecast(context.Background(), Request{
		History: hourlySamples(20, 18.0, testStart),
		Steps:   3,
	})
	if err != nil {
		t.Fatalf("Forecast failed: %v", err)
	}

	if result.ModelType != "primary" {
		t.Errorf("ModelType = %s, expected primary", result.ModelType)
	}
	if result.Model != "mock-primary" {
		t.Errorf("Model = %s, expected mock-primary", result.Model)
	}
	for i, p := range result.Predictions {
		if p.Value != 42.0 {
			t.Errorf("Prediction[%d] = %v, expected 42.0", i, p.Value)
		}
	}
	if primary.Calls() != 1 {
		t.Errorf("Primary calls = %d, expected 1", primary.Calls())
	}
}

// TestEngine_ShortContextSkipsPrimary verifies the context length gate
func TestEngine_ShortContextSkipsPrimary(t *testing.T) {
	config := testConfig()
	config.ContextLength = 50
	primary := &MockPrimary{available: true, value: 42.0}
	engine := testEngine(config, primary)

	result, err := engine.Forecast(context.Background(), Request{
		History: hourlySamples(20, 18.0, testStart),
		Steps:   3,
	})
	if err != nil {
		t.Fatalf("Forecast failed: %v", err)
	}
	if result.ModelType != "statistical" {
		t.Errorf("ModelType = %s, expected statistical", result.ModelType)
	}
	if primary.Calls() != 0 {
		t.Errorf("Primary calls = %d, expected 0", primary.Calls())
	}
}

// TestEngine_TrackerGatesPrimary verifies accuracy feedback switches the
// chain to the fallback tier and back.
func TestEngine_TrackerGatesPrimary(t *testing.T) {
	config := testConfig()
	config.ContextLength = 10
	config.MAEWindowSize = 1
	primary := &MockPrimary{available: true, value: 42.0}
	engine := testEngine(config, primary)

	engine.UpdateMAETracking(0, 100) // MAE 100 > threshold 5

	result, err := engine.Forecast(context.Background(), Request{
		History: hourlySamples(20, 18.0, testStart),
		Steps:   3,
	})
	if err != nil {
		t.Fatalf("Forecast failed: %v", err)
	}
	if result.ModelType != "statistical" {
		t.Errorf("ModelType = %s, expected statistical while degraded", result.ModelType)
	}
	if primary.Calls() != 0 {
		t.Errorf("Primary calls = %d, expected 0 while degraded", primary.Calls())
	}

	engine.UpdateMAETracking(30, 31) // window of 1, MAE back to 1

	result, err = engine.Forecast(context.Background(), Request{
		History: hourlySamples(20, 18.0, testStart),
		Steps:   3,
	})
	if err != nil {
		t.Fatalf("Forecast failed: %v", err)
	}
	if result.ModelType != "primary" {
		t.Errorf("ModelType = %s, expected primary after recovery", result.ModelType)
	}
	if primary.Calls() != 1 {
		t.Errorf("Primary calls = %d, expected 1 after recovery", primary.Calls())
	}
}

// TestEngine_PrimaryFailureFallsThrough verifies an inference error is
// absorbed by the statistical tier.
func TestEngine_PrimaryFailureFallsThrough(t *testing.T) {
	config := testConfig()
	config.ContextLength = 10
	primary := &MockPrimary{
		available:   true,
		forecastErr: errors.New("connection refused"),
	}
	engine := testEngine(config, primary)

	result, err := engine.Forecast(context.Background(), Request{
		History: hourlySamples(100, 20.0, testStart),
		Steps:   5,
	})
	if err != nil {
		t.Fatalf("Forecast failed: %v", err)
	}
	if result.ModelType != "statistical" {
		t.Errorf("ModelType = %s, expected statistical", result.ModelType)
	}
	if primary.Calls() != 1 {
		t.Errorf("Primary calls = %d, expected 1", primary.Calls())
	}
}

// TestEngine_SubHourlyInterval verifies timestamps and hours-ahead follow
// the native sampling interval when no aggregation happened.
func TestEngine_SubHourlyInterval(t *testing.T) {
	engine := testEngine(testConfig(), nil)

	history := spacedSamples(20, 10.0, testStart, 30*time.Minute)
	result, err := engine.Forecast(context.Background(), Request{
		History: history,
		Steps:   4,
	})
	if err != nil {
		t.Fatalf("Forecast failed: %v", err)
	}

	last := history[len(history)-1].Timestamp
	expectedHours := []int{0, 1, 1, 2}
	for i, p := range result.Predictions {
		want := last.Add(time.Duration(i+1) * 30 * time.Minute)
		if !p.Timestamp.Equal(want) {
			t.Errorf("Timestamp[%d] = %v, expected %v", i, p.Timestamp, want)
		}
		if p.HoursAhead != expectedHours[i] {
			t.Errorf("HoursAhead[%d] = %d, expected %d", i, p.HoursAhead, expectedHours[i])
		}
		if p.HorizonStep != i+1 {
			t.Errorf("HorizonStep[%d] = %d, expected %d", i, p.HorizonStep, i+1)
		}
	}
}

// TestEngine_AggregatedHourlyTimestamps verifies aggregation pins the
// forecast cadence to one hour.
func TestEngine_AggregatedHourlyTimestamps(t *testing.T) {
	engine := testEngine(testConfig(), nil)

	// 4000 one-second samples span two hourly buckets
	history := spacedSamples(4000, 8.0, testStart, time.Second)
	result, err := engine.Forecast(context.Background(), Request{
		History:   history,
		Steps:     3,
		Aggregate: true,
	})
	if err != nil {
		t.Fatalf("Forecast failed: %v", err)
	}

	if !result.Aggregated {
		t.Fatal("Expected aggregation for 4000 raw points")
	}
	for i := 1; i < len(result.Predictions); i++ {
		gap := result.Predictions[i].Timestamp.Sub(result.Predictions[i-1].Timestamp)
		if gap != time.Hour {
			t.Errorf("Prediction gap = %v, expected 1h", gap)
		}
	}
	for i, p := range result.Predictions {
		if p.HoursAhead != i+1 {
			t.Errorf("HoursAhead[%d] = %d, expected %d", i, p.HoursAhead, i+1)
		}
	}
}

// TestEngine_AggregationShrinkUsesRaw verifies a history that collapses
// into a single hourly bucket still produces a forecast from the raw
// series.
func TestEngine_AggregationShrinkUsesRaw(t *testing.T) {
	engine := testEngine(testConfig(), nil)

	// 3700 samples half a second apart stay inside one hour
	history := spacedSamples(3700, 8.0, testStart, 500*time.Millisecond)
	result, err := engine.Forecast(context.Background(), Request{
		History:   history,
		Steps:     4,
		Aggregate: true,
	})
	if err != nil {
		t.Fatalf("Forecast failed: %v", err)
	}

	if !result.Aggregated {
		t.Error("Expected aggregation flag for 3700 raw points")
	}
	for i, p := range result.Predictions {
		if math.Abs(p.Value-8.0) > 1e-6 {
			t.Errorf("Prediction[%d] = %v, expected 8.0", i, p.Value)
		}
	}
}

// TestEngine_Status verifies the introspection snapshot
func TestEngine_Status(t *testing.T) {
	config := testConfig()
	primary := &MockPrimary{name: "granite-ttm-r2", available: true}
	engine := testEngine(config, primary)

	status := engine.Status()
	if status.PrimaryName != "granite-ttm-r2" {
		t.Errorf("PrimaryName = %s, expected granite-ttm-r2", status.PrimaryName)
	}
	if !status.PrimaryAvailable {
		t.Error("Expected primary available")
	}
	if status.ForecastHorizon != 24 || status.ContextLength != 168 {
		t.Errorf("Horizon/context = %d/%d, expected 24/168",
			status.ForecastHorizon, status.ContextLength)
	}
	if status.Tracker.State != StatePrimaryActive {
		t.Errorf("Tracker state = %s, expected primary_active", status.Tracker.State)
	}
}
