package models

import (
	"fmt"
	"math"
	"time"

	"github.com/sajari/regression"

	"github.com/markus-lassfolk/foresight/pkg/logx"
	"github.com/markus-lassfolk/foresight/pkg/telem"
)

// MinNaivePoints is the minimum history length the naive tier accepts
const MinNaivePoints = 2

// naiveWindow caps how much recent history feeds the trend fit and the
// seasonal deviation cycle.
const naiveWindow = 50

// seasonalDamping scales the cycled deviation so the fitted trend dominates
const seasonalDamping = 0.3

// NaiveModel is the last-resort forecaster: a fitted linear trend plus a
// damped deviation cycled from the recent window. It succeeds on any history
// with at least MinNaivePoints samples.
type NaiveModel struct {
	logger *logx.Logger
}

// NewNaiveModel creates the last-resort trend forecaster
func NewNaiveModel(logger *logx.Logger) *NaiveModel {
	return &NaiveModel{logger: logger}
}

// Forecast produces steps predictions from the sample history
func (m *NaiveModel) Forecast(samples []telem.Sample, steps int) (*Result, error) {
	if len(samples) < MinNaivePoints {
		return nil, fmt.Errorf("need at least %d points for naive forecast, got %d: %w",
			MinNaivePoints, len(samples), ErrInsufficientData)
	}
	if steps < 1 {
		steps = 1
	}

	values := telem.Values(samples)
	window := values
	if len(window) > naiveWindow {
		window = window[len(window)-naiveWindow:]
	}

	intercept, slope := linearTrend(window)
	windowMean := mean(window)

	predictions := make([]float64, steps)
	for i := 0; i < steps; i++ {
		trend := intercept + slope*float64(len(window)+i)
		deviation := window[i%len(window)] - windowMean
		predictions[i] = trend + deviation*seasonalDamping
	}

	m.logger.Debug("Naive forecast generated",
		"window", len(window),
		"slope", slope,
		"steps", steps,
	)

	interval := telem.Interval(samples)
	lastTs := samples[len(samples)-1].Timestamp
	timestamps := make([]time.Time, steps)
	for i := range timestamps {
		timestamps[i] = lastTs.Add(interval * time.Duration(i+1))
	}

	return &Result{
		Timestamps: timestamps,
		Values:     predictions,
		Confidence: Confidence(values),
		Model:      "naive",
	}, nil
}

// linearTrend fits value = intercept + slope*index over the window. Fit
// failures and non-finite coefficients yield a flat trend at the last value.
func linearTrend(window []float64) (intercept, slope float64) {
	r := new(regression.Regression)
	r.SetObserved("value")
	r.SetVar(0, "index")
	for i, v := range window {
		r.Train(regression.DataPoint(v, []float64{float64(i)}))
	}
	if err := r.Run(); err != nil {
		return window[len(window)-1], 0
	}

	intercept = r.Coeff(0)
	slope = r.Coeff(1)
	if math.IsNaN(intercept) || math.IsInf(intercept, 0) ||
		math.IsNaN(slope) || math.IsInf(slope, 0) {
		return window[len(window)-1], 0
	}

	return intercept, slope
}
