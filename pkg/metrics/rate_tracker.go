package metrics

import (
	"sort"
	"sync"
	"time"
)

// RateTracker keeps a sliding window of cumulative counter samples and
// derives a per-second rate from the oldest and newest sample in the window.
type RateTracker struct {
	mu         sync.RWMutex
	samples    []Sample
	windowSize time.Duration
	maxSamples int
	now        func() time.Time
}

type Sample struct {
	Count     int64
	Timestamp time.Time
}

func NewRateTracker(windowSize time.Duration, maxSamples int) *RateTracker {
	if maxSamples < 2 {
		maxSamples = 2
	}
	return &RateTracker{
		samples:    make([]Sample, 0, maxSamples),
		windowSize: windowSize,
		maxSamples: maxSamples,
		now:        time.Now,
	}
}

// Record appends a sample of the cumulative count taken now.
func (rt *RateTracker) Record(totalCount int64) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	now := rt.now()
	rt.samples = append(rt.samples, Sample{Count: totalCount, Timestamp: now})

	cutoff := now.Add(-rt.windowSize)
	drop := sort.Search(len(rt.samples), func(i int) bool {
		return rt.samples[i].Timestamp.After(cutoff)
	})
	drop = max(drop, len(rt.samples)-rt.maxSamples)
	if drop > 0 {
		rt.samples = append(rt.samples[:0], rt.samples[drop:]...)
	}
}

// Rate is the change per second across the window; zero with fewer than two
// samples.
func (rt *RateTracker) Rate() float64 {
	_, rate := rt.Stats()
	return rate
}

// Stats returns the newest count and the current rate.
func (rt *RateTracker) Stats() (count int64, rate float64) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	if len(rt.samples) == 0 {
		return 0, 0
	}
	oldest, newest := rt.samples[0], rt.samples[len(rt.samples)-1]
	if elapsed := newest.Timestamp.Sub(oldest.Timestamp).Seconds(); elapsed > 0 {
		rate = float64(newest.Count-oldest.Count) / elapsed
	}
	return newest.Count, rate
}

func (rt *RateTracker) Samples() []Sample {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	out := make([]Sample, len(rt.samples))
	copy(out, rt.samples)
	return out
}

func (rt *RateTracker) Clear() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.samples = rt.samples[:0]
}
