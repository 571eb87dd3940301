package telem

import (
	"testing"
	"time"

	"github.com/markus-lassfolk/foresight/pkg/logx"
)

func testAggregator() *Aggregator {
	return NewAggregator(logx.NewLogger("error", "test"))
}

func TestAggregateHourly_MeansPerBin(t *testing.T) {
	agg := testAggregator()
	base := time.Date(2024, 6, 10, 10, 0, 0, 0, time.UTC)

	samples := []Sample{
		{Series: "temperature", Timestamp: base, Value: 10},
		{Series: "temperature", Timestamp: base.Add(20 * time.Minute), Value: 20},
		{Series: "temperature", Timestamp: base.Add(59 * time.Minute), Value: 30},
		{Series: "temperature", Timestamp: base.Add(75 * time.Minute), Value: 40},
	}

	out := agg.AggregateHourly(samples)
	if len(out) != 2 {
		t.Fatalf("AggregateHourly() returned %d bins, want 2", len(out))
	}

	if !out[0].Timestamp.Equal(base) {
		t.Errorf("first bin start = %v, want %v", out[0].Timestamp, base)
	}
	if out[0].Value != 20 {
		t.Errorf("first bin mean = %v, want 20", out[0].Value)
	}

	if !out[1].Timestamp.Equal(base.Add(time.Hour)) {
		t.Errorf("second bin start = %v, want %v", out[1].Timestamp, base.Add(time.Hour))
	}
	if out[1].Value != 40 {
		t.Errorf("second bin mean = %v, want 40", out[1].Value)
	}

	for i, sample := range out {
		if sample.Series != "temperature" {
			t.Errorf("out[%d].Series = %q, want temperature", i, sample.Series)
		}
	}
}

func TestAggregateHourly_SortsBins(t *testing.T) {
	agg := testAggregator()
	base := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)

	// Bins arrive out of order
	samples := []Sample{
		{Series: "temperature", Timestamp: base.Add(5 * time.Hour), Value: 5},
		{Series: "temperature", Timestamp: base.Add(1 * time.Hour), Value: 1},
		{Series: "temperature", Timestamp: base.Add(3 * time.Hour), Value: 3},
	}

	out := agg.AggregateHourly(samples)
	if len(out) != 3 {
		t.Fatalf("AggregateHourly() returned %d bins, want 3", len(out))
	}
	for i := 1; i < len(out); i++ {
		if !out[i].Timestamp.After(out[i-1].Timestamp) {
			t.Fatalf("bins out of order at index %d: %v then %v", i, out[i-1].Timestamp, out[i].Timestamp)
		}
	}
	if out[0].Value != 1 || out[1].Value != 3 || out[2].Value != 5 {
		t.Errorf("bin values = %v, %v, %v, want 1, 3, 5", out[0].Value, out[1].Value, out[2].Value)
	}
}

func TestAggregateHourly_ZeroTimestampReturnsInput(t *testing.T) {
	agg := testAggregator()

	samples := []Sample{
		{Series: "temperature", Timestamp: time.Date(2024, 6, 10, 10, 0, 0, 0, time.UTC), Value: 10},
		{Series: "temperature", Value: 20},
	}

	out := agg.AggregateHourly(samples)
	if len(out) != len(samples) {
		t.Fatalf("AggregateHourly() returned %d samples, want the %d raw samples back", len(out), len(samples))
	}
	if out[1].Value != 20 || !out[1].Timestamp.IsZero() {
		t.Error("raw samples should be returned unchanged on aggregation failure")
	}
}

func TestAggregateHourly_Empty(t *testing.T) {
	agg := testAggregator()

	if out := agg.AggregateHourly(nil); len(out) != 0 {
		t.Errorf("AggregateHourly(nil) returned %d samples, want 0", len(out))
	}
}

func TestValues(t *testing.T) {
	samples := []Sample{
		{Value: 1.5},
		{Value: -2.0},
		{Value: 0},
	}

	values := Values(samples)
	if len(values) != 3 {
		t.Fatalf("Values() returned %d entries, want 3", len(values))
	}
	if values[0] != 1.5 || values[1] != -2.0 || values[2] != 0 {
		t.Errorf("Values() = %v, want [1.5 -2 0]", values)
	}
}

func TestInterval(t *testing.T) {
	base := time.Date(2024, 6, 10, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		samples []Sample
		want    time.Duration
	}{
		{"empty_defaults_to_hour", nil, time.Hour},
		{"single_defaults_to_hour", []Sample{{Timestamp: base}}, time.Hour},
		{"thirty_minutes", []Sample{{Timestamp: base}, {Timestamp: base.Add(30 * time.Minute)}}, 30 * time.Minute},
		{"duplicate_timestamps_default", []Sample{{Timestamp: base}, {Timestamp: base}}, time.Hour},
		{"reversed_timestamps_default", []Sample{{Timestamp: base.Add(time.Minute)}, {Timestamp: base}}, time.Hour},
		{"uses_last_pair", []Sample{{Timestamp: base}, {Timestamp: base.Add(time.Hour)}, {Timestamp: base.Add(time.Hour + 10*time.Minute)}}, 10 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Interval(tt.samples); got != tt.want {
				t.Errorf("Interval() = %v, want %v", got, tt.want)
			}
		})
	}
}
