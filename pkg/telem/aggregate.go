package telem

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/markus-lassfolk/foresight/pkg/logx"
)

// Aggregator reduces raw telemetry to hourly-resolution series
type Aggregator struct {
	logger *logx.Logger
}

// NewAggregator creates a new aggregator
func NewAggregator(logger *logx.Logger) *Aggregator {
	return &Aggregator{logger: logger}
}

// AggregateHourly buckets samples into hour bins and emits one sample per bin
// carrying the arithmetic mean of the bin values. Bin timestamps are the bin
// starts. Aggregation failures are absorbed: the input is returned unchanged.
func (a *Aggregator) AggregateHourly(samples []Sample) []Sample {
	if len(samples) == 0 {
		return samples
	}

	aggregated, err := aggregateHourly(samples)
	if err != nil {
		if a.logger != nil {
			a.logger.Warn("Hourly aggregation failed, using raw series",
				"error", err,
				"samples", len(samples),
			)
		}
		return samples
	}

	if a.logger != nil {
		a.logger.Debug("Aggregated raw samples to hourly resolution",
			"raw", len(samples),
			"hourly", len(aggregated),
		)
	}

	return aggregated
}

func aggregateHourly(samples []Sample) ([]Sample, error) {
	type bin struct {
		sum   float64
		count int
	}

	bins := make(map[time.Time]*bin)
	seriesName := samples[0].Series

	for _, sample := range samples {
		if sample.Timestamp.IsZero() {
			return nil, fmt.Errorf("sample without timestamp")
		}
		hour := sample.Timestamp.Truncate(time.Hour)
		b, ok := bins[hour]
		if !ok {
			b = &bin{}
			bins[hour] = b
		}
		b.sum += sample.Value
		b.count++
	}

	hours := make([]time.Time, 0, len(bins))
	for hour := range bins {
		hours = append(hours, hour)
	}
	sort.Slice(hours, func(i, j int) bool { return hours[i].Before(hours[j]) })

	result := make([]Sample, 0, len(hours))
	for _, hour := range hours {
		b := bins[hour]
		mean := b.sum / float64(b.count)
		if math.IsNaN(mean) || math.IsInf(mean, 0) {
			return nil, fmt.Errorf("non-finite mean in hour bin %s", hour.Format(time.RFC3339))
		}
		result = append(result, Sample{
			Series:    seriesName,
			Timestamp: hour,
			Value:     mean,
		})
	}

	return result, nil
}

// Values extracts the value column of a series
func Values(samples []Sample) []float64 {
	values := make([]float64, len(samples))
	for i, s := range samples {
		values[i] = s.Value
	}
	return values
}

// Interval infers the sampling interval from the last two samples.
// Series shorter than two points default to one hour.
func Interval(samples []Sample) time.Duration {
	if len(samples) < 2 {
		return time.Hour
	}
	d := samples[len(samples)-1].Timestamp.Sub(samples[len(samples)-2].Timestamp)
	if d <= 0 {
		return time.Hour
	}
	return d
}
