package models

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/markus-lassfolk/foresight/pkg/logx"
	"github.com/markus-lassfolk/foresight/pkg/telem"
)

// MinDataPoints is the minimum history length any model tier accepts
const MinDataPoints = 10

// SarimaConfig holds the seasonal fallback model parameters
type SarimaConfig struct {
	P int `json:"p"` // AR order
	D int `json:"d"` // differencing order
	Q int `json:"q"` // MA order (carried in the label, estimation is AR-driven)

	SeasonalP int `json:"seasonal_p"`
	SeasonalD int `json:"seasonal_d"`
	SeasonalQ int `json:"seasonal_q"`
	Period    int `json:"period"` // seasonal period s in data points

	AutoDetectSeasonality bool `json:"auto_detect_seasonality"`
}

// DefaultSarimaConfig returns the default SARIMA(1,1,1)(1,1,0)_24 configuration
// for hourly data with daily seasonality.
func DefaultSarimaConfig() SarimaConfig {
	return SarimaConfig{
		P:                     1,
		D:                     1,
		Q:                     1,
		SeasonalP:             1,
		SeasonalD:             1,
		SeasonalQ:             0,
		Period:                24,
		AutoDetectSeasonality: true,
	}
}

// SarimaEngine is the statistical fallback forecaster. It never fails once
// the history has MinDataPoints: every internal estimation problem degrades
// to a flat forecast at the recent mean.
//
// The engine is stateless across calls; seasonality autodetection applies to
// the current forecast only and the configured period stays the reset base.
type SarimaEngine struct {
	config SarimaConfig
	logger *logx.Logger
}

// NewSarimaEngine creates a new seasonal fallback engine
func NewSarimaEngine(config SarimaConfig, logger *logx.Logger) *SarimaEngine {
	if config.P < 0 {
		config.P = 0
	}
	if config.D < 0 {
		config.D = 0
	}
	if config.SeasonalD < 0 {
		config.SeasonalD = 0
	}
	if config.Period < 2 {
		config.Period = 24
	}

	return &SarimaEngine{
		config: config,
		logger: logger,
	}
}

// Forecast produces steps predictions from the sample history.
// Returns ErrInsufficientData below MinDataPoints; never fails otherwise.
func (e *SarimaEngine) Forecast(samples []telem.Sample, steps int) (*Result, error) {
	if len(samples) < MinDataPoints {
		return nil, fmt.Errorf("need at least %d points for seasonal forecast, got %d: %w",
			MinDataPoints, len(samples), ErrInsufficientData)
	}
	if steps < 1 {
		steps = 1
	}

	values := telem.Values(samples)

	period := e.config.Period
	if e.config.AutoDetectSeasonality {
		if detected := e.detectSeasonality(values); detected != period {
			e.logger.Debug("Seasonal period autodetected",
				"configured", period,
				"detected", detected,
			)
			period = detected
		}
	}

	predictions := e.simpleForecast(values, steps, period)

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
		Model: fmt.Sprintf("SARIMA(%d,%d,%d)(%d,%d,%d)_%d",
			e.config.P, e.config.D, e.config.Q,
			e.config.SeasonalP, e.config.SeasonalD, e.config.SeasonalQ,
			period),
	}, nil
}

// detectSeasonality finds the dominant seasonal period from autocorrelation
// peaks. Series shorter than 50 points keep the configured period.
func (e *SarimaEngine) detectSeasonality(values []float64) int {
	if len(values) < 50 {
		return e.config.Period
	}

	maxLag := len(values) / 2
	if maxLag > 100 {
		maxLag = 100
	}

	acf := autocorrelation(values, maxLag)
	if acf == nil {
		return e.config.Period
	}

	// Local peaks above the significance floor; the strongest wins
	bestLag := 0
	bestValue := 0.0
	for i := 2; i < len(acf)-1; i++ {
		if acf[i] > acf[i-1] && acf[i] > acf[i+1] && acf[i] > 0.3 {
			if acf[i] > bestValue {
				bestValue = acf[i]
				bestLag = i
			}
		}
	}

	if bestLag == 0 {
		return e.config.Period
	}

	return bestLag
}

// simpleForecast runs the difference / AR-fit / recursive-forecast /
// undifference pipeline. With p=0, or a differenced series too short to seed
// the AR buffer, every differenced-domain step is the mean of the last 10
// differenced values; undifferencing applies either way. Non-finite output
// degrades to a flat forecast.
func (e *SarimaEngine) simpleForecast(values []float64, steps, period int) []float64 {
	differenced, seasonalStages, firstStages := e.applyDifferencing(values, period)

	useAR := e.config.P > 0 && len(differenced) >= e.config.P+1

	var coeffs, buffer []float64
	if useAR {
		coeffs = e.fitARCoefficients(differenced, e.config.P)
		buffer = make([]float64, e.config.P)
		copy(buffer, differenced[len(differenced)-e.config.P:])
	}
	fallbackMean := meanOfTail(differenced, 10)

	predictions := make([]float64, 0, steps)
	for i := 0; i < steps; i++ {
		pred := fallbackMean
		if useAR {
			pred = 0
			for j := 0; j < e.config.P; j++ {
				pred += coeffs[j] * buffer[len(buffer)-1-j]
			}
			buffer = append(buffer, pred)
		}
		predictions = append(predictions, pred)
	}

	result := e.invertDifferencing(predictions, seasonalStages, firstStages, period)

	for _, v := range result {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			e.logger.Warn("Statistical forecast degraded to recent mean",
				"reason", "non-finite prediction",
				"points", len(values),
			)
			return flatForecast(values, steps)
		}
	}

	return result
}

// applyDifferencing applies SeasonalD passes of seasonal differencing at the
// given period, then D passes of first differencing. A pass is skipped when
// the series is too short for its lag. The intermediate series preceding
// each executed pass are returned so inversion can walk them back exactly.
func (e *SarimaEngine) applyDifferencing(values []float64, period int) (diffed []float64, seasonalStages, firstStages [][]float64) {
	result := values

	for pass := 0; pass < e.config.SeasonalD; pass++ {
		if len(result) <= period {
			break
		}
		seasonalStages = append(seasonalStages, result)
		next := make([]float64, len(result)-period)
		for i := range next {
			next[i] = result[i+period] - result[i]
		}
		result = next
	}

	for pass := 0; pass < e.config.D; pass++ {
		if len(result) <= 1 {
			break
		}
		firstStages = append(firstStages, result)
		next := make([]float64, len(result)-1)
		for i := range next {
			next[i] = result[i+1] - result[i]
		}
		result = next
	}

	return result, seasonalStages, firstStages
}

// invertDifferencing restores predictions to the original scale by undoing
// the differencing stages in reverse order: each first-difference pass is a
// cumulative sum anchored at that stage's last value, then each seasonal
// pass adds that stage's trailing period values cyclically.
func (e *SarimaEngine) invertDifferencing(predictions []float64, seasonalStages, firstStages [][]float64, period int) []float64 {
	result := make([]float64, len(predictions))
	copy(result, predictions)

	for i := len(firstStages) - 1; i >= 0; i-- {
		stage := firstStages[i]
		cumulative := stage[len(stage)-1]
		for j, v := range result {
			cumulative += v
			result[j] = cumulative
		}
	}

	for i := len(seasonalStages) - 1; i >= 0; i-- {
		stage := seasonalStages[i]
		base := stage[len(stage)-period:]
		for j := range result {
			result[j] += base[j%period]
		}
	}

	return result
}

// fitARCoefficients estimates AR coefficients from the Yule-Walker equations:
// a Toeplitz autocorrelation system solved exactly, with a least-squares
// fallback on singularity and zero coefficients on total failure.
func (e *SarimaEngine) fitARCoefficients(values []float64, p int) []float64 {
	coeffs := make([]float64, p)

	if p == 0 || len(values) <= p {
		return coeffs
	}

	acf := autocorrelation(values, p)
	if acf == nil {
		return coeffs
	}

	toeplitz := mat.NewDense(p, p, nil)
	for i := 0; i < p; i++ {
		for j := 0; j < p; j++ {
			lag := i - j
			if lag < 0 {
				lag = -lag
			}
			toeplitz.Set(i, j, acf[lag])
		}
	}
	rhs := mat.NewVecDense(p, acf[1:p+1])

	var phi mat.VecDense
	if err := phi.SolveVec(toeplitz, rhs); err != nil {
		var svd mat.SVD
		if !svd.Factorize(toeplitz, mat.SVDThin) {
			e.logger.Debug("Yule-Walker estimation failed, using zero coefficients", "p", p)
			return coeffs
		}
		rank := svd.Rank(1e-10)
		if rank == 0 {
			return coeffs
		}
		svd.SolveVecTo(&phi, rhs, rank)
	}

	for i := 0; i < p; i++ {
		c := phi.AtVec(i)
		if math.IsNaN(c) || math.IsInf(c, 0) {
			c = 0
		}
		coeffs[i] = c
	}

	return coeffs
}

// autocorrelation computes normalized autocorrelation for lags 0..maxLag.
// Returns nil when the series has no variance.
func autocorrelation(values []float64, maxLag int) []float64 {
	n := len(values)
	if n == 0 || maxLag < 0 {
		return nil
	}
	if maxLag >= n {
		maxLag = n - 1
	}

	m := mean(values)

	var c0 float64
	for _, v := range values {
		c0 += (v - m) * (v - m)
	}
	if c0 == 0 {
		return nil
	}

	acf := make([]float64, maxLag+1)
	for lag := 0; lag <= maxLag; lag++ {
		var ck float64
		for i := 0; i < n-lag; i++ {
			ck += (values[i] - m) * (values[i+lag] - m)
		}
		acf[lag] = ck / c0
	}

	return acf
}

// flatForecast fills every step with the mean of the last 10 values
func flatForecast(values []float64, steps int) []float64 {
	level := meanOfTail(values, 10)
	result := make([]float64, steps)
	for i := range result {
		result[i] = level
	}
	return result
}
