// Package metrics provides Prometheus metrics for the forecast daemon.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the daemon
type Metrics struct {
	// Forecast metrics
	ForecastsTotal     *prometheus.CounterVec
	ForecastConfidence prometheus.Histogram
	CorrectionsApplied *prometheus.CounterVec

	// Model switch metrics
	TrackerMAE         prometheus.GaugeFunc
	TrackerTransitions prometheus.GaugeFunc
	FallbackActive     prometheus.GaugeFunc
	PrimaryAvailable   prometheus.GaugeFunc

	// Telemetry store metrics
	StoreSamples  prometheus.GaugeFunc
	StoreMemoryMB prometheus.GaugeFunc
}

// Sources supplies the live values behind the gauge metrics. All funcs must
// be safe for concurrent use; nil funcs report zero.
type Sources struct {
	TrackerMAE         func() float64
	TrackerTransitions func() float64
	FallbackActive     func() float64
	PrimaryAvailable   func() float64
	StoreSamples       func() float64
	StoreMemoryMB      func() float64
}

// NewMetrics creates all metrics on the given registry
func NewMetrics(namespace string, registry prometheus.Registerer, sources Sources) *Metrics {
	if namespace == "" {
		namespace = "foresight"
	}
	factory := promauto.With(registry)

	return &Metrics{
		ForecastsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "forecast",
			Name:      "runs_total",
			Help:      "Total number of forecasts by model type",
		}, []string{"model_type", "model"}),
		ForecastConfidence: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "forecast",
			Name:      "confidence",
			Help:      "Distribution of forecast confidence scores",
			Buckets:   []float64{0.5, 0.6, 0.7, 0.8, 0.9, 0.95, 1.0},
		}),
		CorrectionsApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "forecast",
			Name:      "corrections_applied_total",
			Help:      "Total number of correction stages applied",
		}, []string{"stage"}),

		TrackerMAE: factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "mae",
			Help:      "Rolling mean absolute error of past forecasts",
		}, gaugeFunc(sources.TrackerMAE)),
		TrackerTransitions: factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "transitions_total",
			Help:      "Number of model switch transitions since start",
		}, gaugeFunc(sources.TrackerTransitions)),
		FallbackActive: factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "fallback_active",
			Help:      "1 when the fallback tier is serving forecasts",
		}, gaugeFunc(sources.FallbackActive)),
		PrimaryAvailable: factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "primary_available",
			Help:      "1 when the primary model capability is present",
		}, gaugeFunc(sources.PrimaryAvailable)),

		StoreSamples: factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "samples",
			Help:      "Total retained telemetry samples across series",
		}, gaugeFunc(sources.StoreSamples)),
		StoreMemoryMB: factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "memory_mb",
			Help:      "Telemetry store memory usage in megabytes",
		}, gaugeFunc(sources.StoreMemoryMB)),
	}
}

func gaugeFunc(f func() float64) func() float64 {
	if f == nil {
		return func() float64 { return 0 }
	}
	return f
}
