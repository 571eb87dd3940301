package forecast

import (
	"math"
	"time"

	"github.com/markus-lassfolk/foresight/pkg/logx"
)

// Annual curve constants: peak at the December solstice (southern-hemisphere
// summer), trough at the June solstice.
const (
	annualPeakDay   = 355
	annualAmplitude = 3.0
)

// SeasonalAdjuster adds an annual cosine offset to each forecast step,
// evaluated at that step's own timestamp.
type SeasonalAdjuster struct {
	enabled    bool
	periodDays float64
	logger     *logx.Logger
}

// NewSeasonalAdjuster creates the annual adjuster. periodDays below 1 falls
// back to 365.
func NewSeasonalAdjuster(enabled bool, periodDays int, logger *logx.Logger) *SeasonalAdjuster {
	if periodDays < 1 {
		periodDays = 365
	}
	return &SeasonalAdjuster{
		enabled:    enabled,
		periodDays: float64(periodDays),
		logger:     logger,
	}
}

// Enabled reports whether the adjustment stage is active
func (a *SeasonalAdjuster) Enabled() bool {
	return a.enabled
}

// Apply returns the adjusted values; the input slice is not mutated.
// Disabled adjusters and mismatched inputs pass the forecast through.
func (a *SeasonalAdjuster) Apply(values []float64, timestamps []time.Time) []float64 {
	if !a.enabled || len(values) == 0 || len(timestamps) != len(values) {
		return values
	}

	adjusted := make([]float64, len(values))
	for i, v := range values {
		adjusted[i] = v + a.offset(timestamps[i])
	}

	a.logger.Debug("Annual seasonal adjustment applied",
		"steps", len(values),
		"first_offset", a.offset(timestamps[0]),
	)

	return adjusted
}

// offset computes the cosine adjustment for one timestamp
func (a *SeasonalAdjuster) offset(ts time.Time) float64 {
	day := float64(ts.YearDay())
	phase := 2 * math.Pi * (day - annualPeakDay) / a.periodDays
	return math.Cos(phase) * annualAmplitude
}
