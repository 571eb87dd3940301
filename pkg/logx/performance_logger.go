package logx

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// PerformanceLogger tracks operation timing for the forecast pipeline stages
type PerformanceLogger struct {
	logger       *Logger
	metrics      map[string]*PerformanceMetric
	metricsMutex sync.RWMutex
}

// PerformanceMetric tracks performance data for a specific operation
type PerformanceMetric struct {
	Name          string        `json:"name"`
	Count         int64         `json:"count"`
	TotalDuration time.Duration `json:"total_duration"`
	MinDuration   time.Duration `json:"min_duration"`
	MaxDuration   time.Duration `json:"max_duration"`
	AvgDuration   time.Duration `json:"avg_duration"`
	LastExecuted  time.Time     `json:"last_executed"`
	ErrorCount    int64         `json:"error_count"`
	SuccessRate   float64       `json:"success_rate"`
}

// PerformanceContext tracks one in-flight operation
type PerformanceContext struct {
	metricName string
	startTime  time.Time
	logger     *PerformanceLogger
	ctx        context.Context
}

// NewPerformanceLogger creates a new performance logger
func NewPerformanceLogger(logger *Logger) *PerformanceLogger {
	return &PerformanceLogger{
		logger:  logger,
		metrics: make(map[string]*PerformanceMetric),
	}
}

// StartOperation starts tracking a performance operation
func (pl *PerformanceLogger) StartOperation(ctx context.Context, metricName string) *PerformanceContext {
	pl.metricsMutex.Lock()
	defer pl.metricsMutex.Unlock()

	if _, exists := pl.metrics[metricName]; !exists {
		pl.metrics[metricName] = &PerformanceMetric{
			Name:         metricName,
			MinDuration:  time.Hour, // Start with a high value
			LastExecuted: time.Now(),
		}
	}

	return &PerformanceContext{
		metricName: metricName,
		startTime:  time.Now(),
		logger:     pl,
		ctx:        ctx,
	}
}

// Complete marks an operation as completed and logs performance data
func (pc *PerformanceContext) Complete(err error) {
	duration := time.Since(pc.startTime)

	pc.logger.metricsMutex.Lock()
	defer pc.logger.metricsMutex.Unlock()

	metric := pc.logger.metrics[pc.metricName]
	metric.Count++
	metric.TotalDuration += duration
	metric.LastExecuted = time.Now()

	if duration < metric.MinDuration {
		metric.MinDuration = duration
	}
	if duration > metric.MaxDuration {
		metric.MaxDuration = duration
	}

	metric.AvgDuration = metric.TotalDuration / time.Duration(metric.Count)

	if err != nil {
		metric.ErrorCount++
	}
	metric.SuccessRate = float64(metric.Count-metric.ErrorCount) / float64(metric.Count) * 100

	if err != nil {
		pc.logger.logger.Warn("Operation failed",
			"metric", pc.metricName,
			"duration", duration.String(),
			"error", err.Error(),
			"success_rate", fmt.Sprintf("%.2f%%", metric.SuccessRate),
		)
		return
	}

	// Log slow operations or periodic summaries
	if duration > 100*time.Millisecond || metric.Count%100 == 0 {
		pc.logger.logger.Debug("Operation completed",
			"metric", pc.metricName,
			"duration", duration.String(),
			"avg_duration", metric.AvgDuration.String(),
			"total_operations", metric.Count,
		)
	}
}

// LogMetrics logs all current performance metrics
func (pl *PerformanceLogger) LogMetrics() {
	pl.metricsMutex.RLock()
	defer pl.metricsMutex.RUnlock()

	for name, metric := range pl.metrics {
		pl.logger.Info("Performance metric summary",
			"metric", name,
			"total_operations", metric.Count,
			"avg_duration", metric.AvgDuration.String(),
			"min_duration", metric.MinDuration.String(),
			"max_duration", metric.MaxDuration.String(),
			"success_rate", fmt.Sprintf("%.2f%%", metric.SuccessRate),
			"error_count", metric.ErrorCount,
		)
	}
}

// GetMetric returns a copy of a specific performance metric
func (pl *PerformanceLogger) GetMetric(name string) *PerformanceMetric {
	pl.metricsMutex.RLock()
	defer pl.metricsMutex.RUnlock()

	metric, exists := pl.metrics[name]
	if !exists {
		return nil
	}
	copied := *metric
	return &copied
}

// GetAllMetrics returns copies of all performance metrics
func (pl *PerformanceLogger) GetAllMetrics() map[string]*PerformanceMetric {
	pl.metricsMutex.RLock()
	defer pl.metricsMutex.RUnlock()

	result := make(map[string]*PerformanceMetric, len(pl.metrics))
	for name, metric := range pl.metrics {
		copied := *metric
		result[name] = &copied
	}
	return result
}

// LogSlowOperations logs operations whose average exceeds a threshold
func (pl *PerformanceLogger) LogSlowOperations(threshold time.Duration) {
	pl.metricsMutex.RLock()
	defer pl.metricsMutex.RUnlock()

	for name, metric := range pl.metrics {
		if metric.AvgDuration > threshold {
			pl.logger.Warn("Slow operation detected",
				"metric", name,
				"avg_duration", metric.AvgDuration.String(),
				"threshold", threshold.String(),
				"total_operations", metric.Count,
				"max_duration", metric.MaxDuration.String(),
			)
		}
	}
}

// LogInferencePerformance logs one model inference call with its outcome
func (pl *PerformanceLogger) LogInferencePerformance(model string, duration time.Duration, steps int, err error) {
	fields := map[string]interface{}{
		"model":    model,
		"duration": duration.String(),
		"steps":    steps,
	}

	if err != nil {
		fields["error"] = err.Error()
		pl.logger.Warn("Model inference failed", fields)
	} else {
		pl.logger.Debug("Model inference completed", fields)
	}
}

// LogCyclePerformance logs one scheduled forecast cycle
func (pl *PerformanceLogger) LogCyclePerformance(duration time.Duration, model string, points int, err error) {
	fields := map[string]interface{}{
		"duration": duration.String(),
		"model":    model,
		"points":   points,
	}

	if err != nil {
		fields["error"] = err.Error()
		pl.logger.Warn("Forecast cycle failed", fields)
	} else {
		pl.logger.Debug("Forecast cycle completed", fields)
	}
}

// LogAPIPerformance logs an API request with its status
func (pl *PerformanceLogger) LogAPIPerformance(endpoint string, method string, duration time.Duration, statusCode int, err error) {
	fields := map[string]interface{}{
		"endpoint":    endpoint,
		"method":      method,
		"duration":    duration.String(),
		"status_code": statusCode,
	}

	if err != nil {
		fields["error"] = err.Error()
		pl.logger.Error("API call failed", fields)
	} else if statusCode >= 400 {
		pl.logger.Warn("API call returned error status", fields)
	} else {
		pl.logger.Debug("API call completed", fields)
	}
}
