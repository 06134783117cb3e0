// Package ratelimit implements in-process sliding-window request limiting.
//
// State is per process. Horizontally scaled deployments get one budget per
// instance, not a shared one.
package ratelimit

import (
	"math"
	"sync"
	"time"

	"github.com/ElonQian1/QuickTalk--sub006/internal/model"
)

type record struct {
	timestamps []time.Time
	firstSeen  time.Time
}

// SlidingWindow keeps the request timestamps of every key inside a rolling
// window. Each instance owns its own key space.
type SlidingWindow struct {
	mu      sync.Mutex
	records map[string]*record
	window  time.Duration
	now     func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

type WindowOption func(*SlidingWindow)

func WithNowFunc(now func() time.Time) WindowOption {
	return func(s *SlidingWindow) { s.now = now }
}

// NewSlidingWindow creates a store whose sweep interval is window.
func NewSlidingWindow(window time.Duration, opts ...WindowOption) *SlidingWindow {
	s := &SlidingWindow{
		records: make(map[string]*record),
		window:  window,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Check prunes timestamps at or before now-window, denies when the survivors
// reach max, and otherwise records now. max <= 0 disables the limit.
func (s *SlidingWindow) Check(key string, window time.Duration, max int) model.RateLimitVerdict {
	now := s.now()
	if max <= 0 || window <= 0 {
		return model.RateLimitVerdict{Allowed: true, Limit: max, Remaining: -1, ResetAt: now}
	}
	cutoff := now.Add(-window)

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		rec = &record{firstSeen: now}
		s.records[key] = rec
	}
	rec.timestamps = prune(rec.timestamps, cutoff)

	if len(rec.timestamps) >= max {
		resetAt := rec.timestamps[0].Add(window)
		return model.RateLimitVerdict{
			Allowed:           false,
			Limit:             max,
			Remaining:         0,
			ResetAt:           resetAt,
			RetryAfterSeconds: retryAfter(resetAt.Sub(now)),
		}
	}

	rec.timestamps = append(rec.timestamps, now)
	return model.RateLimitVerdict{
		Allowed:   true,
		Limit:     max,
		Remaining: max - len(rec.timestamps),
		ResetAt:   rec.timestamps[0].Add(window),
	}
}

// prune drops the leading timestamps not after cutoff. Timestamps are
// appended in order so the survivors are a suffix.
func prune(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append(ts[:0], ts[i:]...)
}

func retryAfter(d time.Duration) int {
	if d <= 0 {
		return 1
	}
	return int(math.Ceil(d.Seconds()))
}

// Sweep evicts keys with no timestamps inside the window whose first
// request predates it. Returns the number of evicted keys.
func (s *SlidingWindow) Sweep() int {
	now := s.now()
	cutoff := now.Add(-s.window)

	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for key, rec := range s.records {
		rec.timestamps = prune(rec.timestamps, cutoff)
		if len(rec.timestamps) == 0 && rec.firstSeen.Before(cutoff) {
			delete(s.records, key)
			evicted++
		}
	}
	return evicted
}

// Start runs the sweep every window until Close.
func (s *SlidingWindow) Start() {
	if s.window <= 0 {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.window)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Sweep()
			case <-s.stop:
				return
			}
		}
	}()
}

// Close stops the sweep loop and clears all records. Safe to call twice.
func (s *SlidingWindow) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
	s.ResetAll()
}

func (s *SlidingWindow) Reset(key string) {
	s.mu.Lock()
	delete(s.records, key)
	s.mu.Unlock()
}

func (s *SlidingWindow) ResetAll() {
	s.mu.Lock()
	clear(s.records)
	s.mu.Unlock()
}

// Len returns the number of tracked keys.
func (s *SlidingWindow) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
