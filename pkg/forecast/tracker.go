// Package forecast composes the model tiers, correction stages and accuracy
// tracking into the hybrid forecasting engine.
package forecast

import (
	"math"
	"sync"

	"github.com/markus-lassfolk/foresight/pkg/logx"
	"github.com/markus-lassfolk/foresight/pkg/models"
)

// Tracker states
const (
	StatePrimaryActive  = "primary_active"
	StateFallbackActive = "fallback_active"
)

// TrackerStatus is a point-in-time snapshot for introspection endpoints
type TrackerStatus struct {
	State            string  `json:"state"`
	CurrentMAE       float64 `json:"current_mae"`
	Threshold        float64 `json:"mae_threshold"`
	WindowSize       int     `json:"mae_window_size"`
	Samples          int     `json:"samples"`
	Transitions      int     `json:"transitions"`
	FallbackActive   bool    `json:"fallback_active"`
	PrimaryAvailable bool    `json:"primary_available"`
}

// ErrorTracker compares past predictions against realized values over a
// rolling window and drives the primary/fallback switch. There is no
// hysteresis band: the comparison is single-sided, so the state may flip on
// every update near the threshold.
//
// Updates arrive from the periodic sampling path while status reads happen
// concurrently, so all state lives behind one mutex.
type ErrorTracker struct {
	mu sync.Mutex

	primary    models.PrimaryPredictor
	threshold  float64
	windowSize int

	predictions []float64
	actuals     []float64

	currentMAE     float64
	fallbackActive bool
	transitions    int

	logger *logx.Logger
}

// NewErrorTracker creates the accuracy tracker. The initial state follows
// the primary capability: unavailable means fallback from the first call.
func NewErrorTracker(primary models.PrimaryPredictor, threshold float64, windowSize int, logger *logx.Logger) *ErrorTracker {
	if windowSize < 1 {
		windowSize = 1
	}
	return &ErrorTracker{
		primary:        primary,
		threshold:      threshold,
		windowSize:     windowSize,
		predictions:    make([]float64, 0, windowSize),
		actuals:        make([]float64, 0, windowSize),
		fallbackActive: !primary.Available(),
		logger:         logger,
	}
}

// Update appends one predicted/actual pair, recomputes the rolling MAE and
// re-evaluates the switch. Both FIFOs stay paired: the oldest entry of each
// is evicted together once the window is full. Returns the updated MAE.
func (t *ErrorTracker) Update(predicted, actual float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.predictions = append(t.predictions, predicted)
	t.actuals = append(t.actuals, actual)
	if len(t.predictions) > t.windowSize {
		copy(t.predictions, t.predictions[1:])
		t.predictions = t.predictions[:t.windowSize]
		copy(t.actuals, t.actuals[1:])
		t.actuals = t.actuals[:t.windowSize]
	}

	t.currentMAE = calculateMAE(t.predictions, t.actuals)
	t.evaluateLocked()

	return t.currentMAE
}

// evaluateLocked re-runs the transition rule and logs only actual changes
func (t *ErrorTracker) evaluateLocked() {
	available := t.primary.Available()
	shouldFallback := !available || t.currentMAE > t.threshold
	if shouldFallback == t.fallbackActive {
		return
	}
	t.fallbackActive = shouldFallback
	t.transitions++

	if shouldFallback {
		reason := "mae above threshold"
		if !available {
			reason = "primary unavailable"
		}
		t.logger.LogStateChange("tracker", StatePrimaryActive, StateFallbackActive, reason,
			map[string]interface{}{
				"mae":       t.currentMAE,
				"threshold": t.threshold,
			})
		return
	}

	t.logger.LogStateChange("tracker", StateFallbackActive, StatePrimaryActive, "mae recovered",
		map[string]interface{}{
			"mae":       t.currentMAE,
			"threshold": t.threshold,
		})
}

// ShouldUseFallback reports whether the next forecast must skip the primary
// tier. Always true while the primary capability is unavailable.
func (t *ErrorTracker) ShouldUseFallback() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.primary.Available() {
		return true
	}
	return t.fallbackActive
}

// CurrentMAE returns the rolling MAE over the paired window
func (t *ErrorTracker) CurrentMAE() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.currentMAE
}

// Status returns a snapshot for status and metrics endpoints
func (t *ErrorTracker) Status() TrackerStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	state := StatePrimaryActive
	if t.fallbackActive {
		state = StateFallbackActive
	}

	return TrackerStatus{
		State:            state,
		CurrentMAE:       t.currentMAE,
		Threshold:        t.threshold,
		WindowSize:       t.windowSize,
		Samples:          len(t.predictions),
		Transitions:      t.transitions,
		FallbackActive:   t.fallbackActive,
		PrimaryAvailable: t.primary.Available(),
	}
}

// calculateMAE computes mean absolute error over the paired prefix of the
// two series. Empty input yields zero.
func calculateMAE(predictions, actuals []float64) float64 {
	n := len(predictions)
	if len(actuals) < n {
		n = len(actuals)
	}
	if n == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < n; i++ {
		sum += math.Abs(predictions[i] - actuals[i])
	}
	return sum / float64(n)
}
