package forecast

import (
	"github.com/markus-lassfolk/foresight/pkg/logx"
	"github.com/markus-lassfolk/foresight/pkg/telem"
)

// Humidity correction constants. 50% relative humidity is the dissipation
// reference; each percent of projected deviation shifts the temperature
// forecast by 0.05 units.
const (
	minExogenousPoints = 10
	referenceHumidity  = 50.0
	humidityImpact     = 0.05
	humidityWindow     = 24
)

// ExogenousCorrector nudges temperature forecasts by the projected humidity
// deviation from the reference. It only ever adjusts or passes through;
// bad exogenous input never fails a forecast.
type ExogenousCorrector struct {
	aggregator *telem.Aggregator
	logger     *logx.Logger
}

// NewExogenousCorrector creates the humidity correction stage
func NewExogenousCorrector(aggregator *telem.Aggregator, logger *logx.Logger) *ExogenousCorrector {
	return &ExogenousCorrector{
		aggregator: aggregator,
		logger:     logger,
	}
}

// Apply returns corrected values; the input slice is not mutated. Fewer
// than minExogenousPoints humidity samples leave the forecast untouched.
func (c *ExogenousCorrector) Apply(values []float64, humidity []telem.Sample) []float64 {
	if len(values) == 0 || len(humidity) < minExogenousPoints {
		return values
	}

	hourly := c.aggregator.AggregateHourly(humidity)
	if len(hourly) == 0 {
		return values
	}

	window := hourly
	if len(window) > humidityWindow {
		window = window[len(window)-humidityWindow:]
	}

	humidityValues := telem.Values(window)
	avg := meanValues(humidityValues)

	slope := 0.0
	if len(humidityValues) >= 2 {
		slope = (humidityValues[len(humidityValues)-1] - humidityValues[0]) / float64(len(humidityValues))
	}

	corrected := make([]float64, len(values))
	for i, v := range values {
		projected := avg + slope*float64(i+1)
		if projected < 0 {
			projected = 0
		}
		if projected > 100 {
			projected = 100
		}
		corrected[i] = v + (projected-referenceHumidity)*humidityImpact
	}

	c.logger.Debug("Humidity correction applied",
		"avg_humidity", avg,
		"slope", slope,
		"window", len(humidityValues),
	)

	return corrected
}

// meanValues averages a slice; empty input yields zero
func meanValues(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
