// Package models provides the forecasting model tiers: the remote primary
// predictor, the seasonal statistical fallback, the Holt-Winters smoother,
// and the naive trend heuristic.
package models

import (
	"errors"
	"math"
	"time"
)

// Sentinel errors shared across model tiers. The orchestrator absorbs all of
// them except ErrInsufficientData, which is terminal.
var (
	ErrInsufficientData = errors.New("insufficient data")
	ErrModelUnavailable = errors.New("model unavailable")
	ErrInferenceFailure = errors.New("inference failure")
)

// Result is the output of one model tier
type Result struct {
	Timestamps []time.Time `json:"timestamps"`
	Values     []float64   `json:"values"`
	Confidence float64     `json:"confidence"`
	Model      string      `json:"model"`
}

// Confidence estimates forecast confidence from the stability of the recent
// input window: clamp(1 - variance/(mean^2 + 1e-6), 0.5, 0.95).
func Confidence(values []float64) float64 {
	if len(values) == 0 {
		return 0.5
	}

	window := values
	if len(window) > 50 {
		window = window[len(window)-50:]
	}

	m := mean(window)
	v := variance(window)

	confidence := 1.0 - v/(m*m+1e-6)
	if confidence < 0.5 {
		confidence = 0.5
	}
	if confidence > 0.95 {
		confidence = 0.95
	}

	return confidence
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func variance(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := mean(values)
	var sumSq float64
	for _, v := range values {
		diff := v - m
		sumSq += diff * diff
	}
	return sumSq / float64(len(values))
}

// meanOfTail averages the last n values (or all of them when shorter)
func meanOfTail(values []float64, n int) float64 {
	if len(values) == 0 {
		return 0
	}
	if n > len(values) {
		n = len(values)
	}
	return mean(values[len(values)-n:])
}

// Sanitize verifies a model output is a flat slice of finite floats of the
// expected length. Anything else is an inference failure.
func Sanitize(values []float64, steps int) error {
	if len(values) != steps {
		return ErrInferenceFailure
	}
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return ErrInferenceFailure
		}
	}
	return nil
}
