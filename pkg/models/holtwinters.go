package models

import (
	"fmt"
	"time"

	"github.com/markus-lassfolk/foresight/pkg/logx"
	"github.com/markus-lassfolk/foresight/pkg/telem"
)

// Holt-Winters smoothing factors. Fixed rather than optimized; the tier sits
// between the statistical engine and the naive heuristic and only has to be
// stable, not optimal.
const (
	hwAlpha = 0.3
	hwBeta  = 0.1
	hwGamma = 0.1
)

// hwMaxPeriod caps the seasonal period used by the smoother
const hwMaxPeriod = 50

// HoltWintersModel is the triple-exponential-smoothing tier: additive trend
// and additive seasonality with the period chosen from the series length so
// at least two full seasons are always observed.
type HoltWintersModel struct {
	logger *logx.Logger
}

// NewHoltWintersModel creates the smoothing tier
func NewHoltWintersModel(logger *logx.Logger) *HoltWintersModel {
	return &HoltWintersModel{logger: logger}
}

// Forecast produces steps predictions from the sample history
func (m *HoltWintersModel) Forecast(samples []telem.Sample, steps int) (*Result, error) {
	if len(samples) < MinDataPoints {
		return nil, fmt.Errorf("need at least %d points for smoothing forecast, got %d: %w",
			MinDataPoints, len(samples), ErrInsufficientData)
	}
	if steps < 1 {
		steps = 1
	}

	values := telem.Values(samples)
	n := len(values)

	period := n / 2
	if period > hwMaxPeriod {
		period = hwMaxPeriod
	}
	if period < 2 || n < period*2 {
		return nil, fmt.Errorf("series too short for seasonal smoothing: %w", ErrInsufficientData)
	}

	predictions := smooth(values, period, steps)
	if err := Sanitize(predictions, steps); err != nil {
		return nil, fmt.Errorf("smoothing produced non-finite output: %w", err)
	}

	m.logger.Debug("Smoothing forecast generated",
		"period", period,
		"points", n,
		"steps", steps,
	)

	interval := telem.Interval(samples)
	lastTs := samples[n-1].Timestamp
	timestamps := make([]time.Time, steps)
	for i := range timestamps {
		timestamps[i] = lastTs.Add(interval * time.Duration(i+1))
	}

	return &Result{
		Timestamps: timestamps,
		Values:     predictions,
		Confidence: Confidence(values),
		Model:      "holt-winters",
	}, nil
}

// smooth runs additive triple exponential smoothing over the series and
// extrapolates steps values from the final level, trend and seasonal state.
func smooth(values []float64, period, steps int) []float64 {
	n := len(values)

	level := make([]float64, n)
	trend := make([]float64, n)
	seasonal := make([]float64, n)

	sum := 0.0
	for i := 0; i < period; i++ {
		sum += values[i]
	}
	level[0] = sum / float64(period)
	trend[0] = (values[period] - values[0]) / float64(period)
	for i := 0; i < period; i++ {
		seasonal[i] = values[i] - level[0]
	}

	for t := 1; t < n; t++ {
		prevSeasonal := seasonal[t]
		if t >= period {
			prevSeasonal = seasonal[t-period]
		}

		level[t] = hwAlpha*(values[t]-prevSeasonal) + (1-hwAlpha)*(level[t-1]+trend[t-1])
		trend[t] = hwBeta*(level[t]-level[t-1]) + (1-hwBeta)*trend[t-1]
		seasonal[t] = hwGamma*(values[t]-level[t]) + (1-hwGamma)*prevSeasonal
	}

	lastLevel := level[n-1]
	lastTrend := trend[n-1]

	predictions := make([]float64, steps)
	for i := 0; i < steps; i++ {
		s := seasonal[n-period+(i%period)]
		predictions[i] = lastLevel + float64(i+1)*lastTrend + s
	}

	return predictions
}
