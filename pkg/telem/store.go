// Package telem provides in-RAM storage and aggregation of telemetry series
package telem

import (
	"fmt"
	"sync"
	"time"
)

// Raw sample buffer capacity per series, sized for one hour of 1s samples
const RawBufferSize = 3600

// DefaultHourlyCapacity is the hourly context capacity when none is configured
const DefaultHourlyCapacity = 168

// Store manages telemetry series in RAM with ring buffers. Each series keeps
// two views: the raw ring holding the trailing hour of ingest, and an hourly
// ring of per-hour means sized to the forecast context window. Samples roll
// up into the hourly ring as they arrive, so days of high-rate ingest still
// yield a full context even though the raw ring wraps.
type Store struct {
	mu sync.RWMutex

	// Configuration
	retentionHours int
	maxRAMMB       int
	contextLength  int

	// Raw ring buffers, one per series name ("temperature", "humidity", ...)
	series map[string]*RingBuffer

	// Hourly-mean rings plus the open accumulator bin per series
	hourly map[string]*RingBuffer
	accum  map[string]*hourlyBin

	// Memory tracking
	memoryUsage int64
	lastCleanup time.Time

	// Memory optimization: Pre-allocated empty result
	emptySamples []Sample
}

// hourlyBin accumulates samples for the hour still in progress
type hourlyBin struct {
	hour  time.Time
	sum   float64
	count int
}

// Sample represents a single telemetry observation
type Sample struct {
	Series    string    `json:"series"`
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// RingBuffer implements a thread-safe ring buffer of samples
type RingBuffer struct {
	mu       sync.RWMutex
	data     []Sample
	capacity int
	head     int
	tail     int
	size     int
	lastAdd  time.Time
}

// NewStore creates a new telemetry store. contextLength bounds the hourly
// ring per series; values below 1 fall back to DefaultHourlyCapacity.
func NewStore(retentionHours, maxRAMMB, contextLength int) (*Store, error) {
	if retentionHours < 1 || retentionHours > 168 {
		return nil, fmt.Errorf("retention_hours must be between 1 and 168")
	}
	if maxRAMMB < 1 || maxRAMMB > 128 {
		return nil, fmt.Errorf("max_ram_mb must be between 1 and 128")
	}
	if contextLength < 1 {
		contextLength = DefaultHourlyCapacity
	}

	return &Store{
		retentionHours: retentionHours,
		maxRAMMB:       maxRAMMB,
		contextLength:  contextLength,
		series:         make(map[string]*RingBuffer),
		hourly:         make(map[string]*RingBuffer),
		accum:          make(map[string]*hourlyBin),
		lastCleanup:    time.Now(),
		emptySamples:   make([]Sample, 0, 10),
	}, nil
}

// AddSample appends an observation to a series
func (s *Store) AddSample(series string, ts time.Time, value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.series[series] == nil {
		s.series[series] = NewRingBuffer(RawBufferSize)
	}

	s.series[series].Add(Sample{
		Series:    series,
		Timestamp: ts,
		Value:     value,
	})

	s.rollupHourlyLocked(series, ts, value)
	s.checkMemoryPressure()

	return nil
}

// rollupHourlyLocked folds one sample into the open hourly bin, flushing the
// completed bin's mean into the hourly ring when the hour rolls over. A late
// sample older than the open bin stays in the raw ring only; the hourly
// context never rewrites history.
func (s *Store) rollupHourlyLocked(series string, ts time.Time, value float64) {
	hour := ts.Truncate(time.Hour)

	bin := s.accum[series]
	if bin == nil {
		s.accum[series] = &hourlyBin{hour: hour, sum: value, count: 1}
		return
	}

	switch {
	case hour.Equal(bin.hour):
		bin.sum += value
		bin.count++
	case hour.After(bin.hour):
		s.flushHourlyLocked(series, bin)
		s.accum[series] = &hourlyBin{hour: hour, sum: value, count: 1}
	}
}

// flushHourlyLocked appends a completed bin's mean to the hourly ring
func (s *Store) flushHourlyLocked(series string, bin *hourlyBin) {
	if s.hourly[series] == nil {
		s.hourly[series] = NewRingBuffer(s.contextLength)
	}

	s.hourly[series].Add(Sample{
		Series:    series,
		Timestamp: bin.hour,
		Value:     bin.sum / float64(bin.count),
	})
}

// GetSamples returns samples for a series after the given time, in order
func (s *Store) GetSamples(series string, since time.Time) ([]Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	buffer, exists := s.series[series]
	if !exists {
		return s.emptySamples, nil
	}

	samples := buffer.GetSince(since)
	if len(samples) == 0 {
		return s.emptySamples, nil
	}

	return samples, nil
}

// GetAllSamples returns every retained sample for a series, in order
func (s *Store) GetAllSamples(series string) ([]Sample, error) {
	return s.GetSamples(series, time.Time{})
}

// GetHourlySamples returns the hourly-mean context for a series: completed
// hour bins followed by the running mean of the hour in progress, capped at
// contextLength points.
func (s *Store) GetHourlySamples(series string) ([]Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var samples []Sample
	if buffer, ok := s.hourly[series]; ok {
		samples = buffer.GetSince(time.Time{})
	}
	if bin, ok := s.accum[series]; ok && bin.count > 0 {
		samples = append(samples, Sample{
			Series:    series,
			Timestamp: bin.hour,
			Value:     bin.sum / float64(bin.count),
		})
	}
	if len(samples) > s.contextLength {
		samples = samples[len(samples)-s.contextLength:]
	}
	if len(samples) == 0 {
		return s.emptySamples, nil
	}

	return samples, nil
}

// GetSeries returns all series names with samples
func (s *Store) GetSeries() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.series))
	for name := range s.series {
		names = append(names, name)
	}

	return names
}

// GetMemoryUsage returns current memory usage in MB
func (s *Store) GetMemoryUsage() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return int(s.memoryUsage / 1024 / 1024)
}

// Cleanup removes data outside the retention window
func (s *Store) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeExpiredLocked(time.Now().Add(-time.Duration(s.retentionHours) * time.Hour))
	s.updateMemoryUsage()
}

// removeExpiredLocked prunes both views past the retention cutoff
func (s *Store) removeExpiredLocked(cutoff time.Time) {
	for name, buffer := range s.series {
		buffer.RemoveBefore(cutoff)
		if buffer.Size() == 0 {
			delete(s.series, name)
		}
	}
	for name, buffer := range s.hourly {
		buffer.RemoveBefore(cutoff)
		if buffer.Size() == 0 {
			delete(s.hourly, name)
		}
	}
	for name, bin := range s.accum {
		if !bin.hour.After(cutoff) {
			delete(s.accum, name)
		}
	}
}

// Close releases all buffers
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.series = make(map[string]*RingBuffer)
	s.hourly = make(map[string]*RingBuffer)
	s.accum = make(map[string]*hourlyBin)
	s.memoryUsage = 0

	return nil
}

// checkMemoryPressure downsamples under RAM pressure; caller holds the lock
func (s *Store) checkMemoryPressure() {
	s.updateMemoryUsage()

	if s.memoryUsage > int64(s.maxRAMMB*1024*1024) {
		// Memory pressure: keep every 3rd raw sample of old data. The
		// hourly rings are already bounded at contextLength points.
		for _, buffer := range s.series {
			buffer.Downsample(3)
		}
	}

	if time.Since(s.lastCleanup) > time.Hour {
		s.removeExpiredLocked(time.Now().Add(-time.Duration(s.retentionHours) * time.Hour))
		s.updateMemoryUsage()
		s.lastCleanup = time.Now()
	}
}

// updateMemoryUsage estimates current memory usage
func (s *Store) updateMemoryUsage() {
	var usage int64

	for _, buffer := range s.series {
		usage += int64(buffer.Size() * 64) // Estimate per sample
	}
	for _, buffer := range s.hourly {
		usage += int64(buffer.Size() * 64)
	}

	s.memoryUsage = usage
}

// NewRingBuffer creates a new ring buffer with the given capacity
func NewRingBuffer(capacity int) *RingBuffer {
	return &RingBuffer{
		data:     make([]Sample, capacity),
		capacity: capacity,
	}
}

// Add adds a sample to the ring buffer, evicting the oldest when full
func (rb *RingBuffer) Add(sample Sample) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.data[rb.tail] = sample
	rb.tail = (rb.tail + 1) % rb.capacity
	rb.lastAdd = time.Now()

	if rb.size < rb.capacity {
		rb.size++
	} else {
		rb.head = (rb.head + 1) % rb.capacity
	}
}

// GetSince returns samples after the given time, oldest first
func (rb *RingBuffer) GetSince(since time.Time) []Sample {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	result := make([]Sample, 0, rb.size)
	for i := 0; i < rb.size; i++ {
		idx := (rb.head + i) % rb.capacity
		if rb.data[idx].Timestamp.After(since) {
			result = append(result, rb.data[idx])
		}
	}

	return result
}

// RemoveBefore removes samples before the given time and returns the removed count
func (rb *RingBuffer) RemoveBefore(before time.Time) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	removed := 0
	for rb.size > 0 {
		if rb.data[rb.head].Timestamp.After(before) {
			break
		}
		rb.head = (rb.head + 1) % rb.capacity
		rb.size--
		removed++
	}

	if rb.size == 0 {
		rb.head = 0
		rb.tail = 0
	}

	return removed
}

// Downsample keeps every Nth sample
func (rb *RingBuffer) Downsample(n int) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.size == 0 || n <= 1 {
		return
	}

	newData := make([]Sample, rb.capacity)
	newSize := 0

	for i := 0; i < rb.size; i += n {
		idx := (rb.head + i) % rb.capacity
		newData[newSize] = rb.data[idx]
		newSize++
	}

	rb.data = newData
	rb.head = 0
	rb.tail = newSize % rb.capacity
	rb.size = newSize
}

// Size returns the current number of samples
func (rb *RingBuffer) Size() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.size
}

// Capacity returns the buffer capacity
func (rb *RingBuffer) Capacity() int {
	return rb.capacity
}
