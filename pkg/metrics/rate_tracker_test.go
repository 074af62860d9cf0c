package metrics

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTrackerWithClock(window time.Duration, maxSamples int) (*RateTracker, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	rt := NewRateTracker(window, maxSamples)
	rt.now = clock.now
	return rt, clock
}

func TestRateTracker_Constructor(t *testing.T) {
	rt := NewRateTracker(5*time.Second, 100)
	if rt.windowSize != 5*time.Second {
		t.Errorf("expected windowSize %v, got %v", 5*time.Second, rt.windowSize)
	}
	if rt.maxSamples != 100 {
		t.Errorf("expected maxSamples 100, got %d", rt.maxSamples)
	}
	if len(rt.samples) != 0 || cap(rt.samples) != 100 {
		t.Errorf("expected empty samples slice with capacity 100")
	}

	if small := NewRateTracker(time.Second, 0); small.maxSamples != 2 {
		t.Errorf("expected maxSamples clamped to 2, got %d", small.maxSamples)
	}
}

func TestRateTracker_PrunesOutsideWindow(t *testing.T) {
	rt, clock := newTrackerWithClock(100*time.Millisecond, 10)

	rt.Record(10)
	clock.advance(50 * time.Millisecond)
	rt.Record(20)
	if n := len(rt.Samples()); n != 2 {
		t.Fatalf("expected 2 samples, got %d", n)
	}

	clock.advance(60 * time.Millisecond)
	rt.Record(30)
	samples := rt.Samples()
	if len(samples) != 2 {
		t.Fatalf("expected 2 samples after pruning, got %d", len(samples))
	}
	if samples[0].Count != 20 {
		t.Errorf("expected oldest sample 20, got %d", samples[0].Count)
	}

	clock.advance(time.Second)
	rt.Record(40)
	if n := len(rt.Samples()); n != 1 {
		t.Errorf("expected only the newest sample, got %d", n)
	}
}

func TestRateTracker_CapsSamples(t *testing.T) {
	rt, clock := newTrackerWithClock(time.Hour, 3)
	for i := int64(1); i <= 5; i++ {
		rt.Record(i)
		clock.advance(time.Second)
	}
	samples := rt.Samples()
	if len(samples) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(samples))
	}
	if samples[0].Count != 3 || samples[2].Count != 5 {
		t.Errorf("expected samples 3..5, got %+v", samples)
	}
}

func TestRateTracker_Rate(t *testing.T) {
	tests := []struct {
		name   string
		counts []int64
		step   time.Duration
		want   float64
	}{
		{"empty", nil, time.Second, 0},
		{"single sample", []int64{5}, time.Second, 0},
		{"steady", []int64{0, 10, 20}, time.Second, 10},
		{"half second steps", []int64{0, 5}, 500 * time.Millisecond, 10},
		{"no elapsed time", []int64{1, 2}, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt, clock := newTrackerWithClock(time.Minute, 10)
			for _, c := range tt.counts {
				rt.Record(c)
				clock.advance(tt.step)
			}
			if got := rt.Rate(); got != tt.want {
				t.Errorf("expected rate %v, got %v", tt.want, got)
			}
		})
	}
}

func TestRateTracker_StatsAndClear(t *testing.T) {
	rt, clock := newTrackerWithClock(time.Minute, 10)
	rt.Record(100)
	clock.advance(2 * time.Second)
	rt.Record(140)

	count, rate := rt.Stats()
	if count != 140 || rate != 20 {
		t.Errorf("expected (140, 20), got (%d, %v)", count, rate)
	}

	rt.Clear()
	if count, rate := rt.Stats(); count != 0 || rate != 0 {
		t.Errorf("expected zero stats after clear, got (%d, %v)", count, rate)
	}
}

func TestRateTracker_ConcurrentAccess(t *testing.T) {
	rt := NewRateTracker(time.Second, 50)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(base int64) {
			defer wg.Done()
			for j := int64(0); j < 100; j++ {
				rt.Record(base + j)
				_ = rt.Rate()
				_ = rt.Samples()
			}
		}(int64(i) * 100)
	}
	wg.Wait()
	if n := len(rt.Samples()); n > 50 {
		t.Errorf("expected at most 50 samples, got %d", n)
	}
}
