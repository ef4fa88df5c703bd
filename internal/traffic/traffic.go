package traffic

import (
	"sync"
	"time"
)

// Outcome classifies a served API request.
type Outcome int

const (
	Success Outcome = iota
	Failure
	Denied
)

// retention bounds how far back any window can look.
const retention = 15 * time.Minute

var defaultTracker = NewTracker()

// Record records an outcome on the process-wide tracker.
func Record(o Outcome) {
	defaultTracker.Record(o)
}

// RequestCount returns success + failure + denied outcomes within the window.
func RequestCount(window time.Duration) int {
	return defaultTracker.RequestCount(window)
}

// DenialCount returns the number of rate-limit denials within the window.
func DenialCount(window time.Duration) int {
	return defaultTracker.Count(Denied, window)
}

// ErrorRate returns (failures, successes+failures) within the window.
func ErrorRate(window time.Duration) (failures, total int) {
	return defaultTracker.ErrorRate(window)
}

// Reset clears the process-wide tracker. For tests only.
func Reset() {
	defaultTracker.Reset()
}

// Tracker keeps sliding windows of outcome timestamps. It backs the health
// check (error rate) and the rate-limit gauges.
type Tracker struct {
	mu     sync.Mutex
	now    func() time.Time
	events map[Outcome][]time.Time
}

// NewTracker returns an empty tracker using the wall clock.
func NewTracker() *Tracker {
	return &Tracker{now: time.Now, events: make(map[Outcome][]time.Time)}
}

// Record appends an outcome at the current time.
func (t *Tracker) Record(o Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.events[o] = append(t.events[o], now)
	t.pruneLocked(now)
}

// Count returns the number of o outcomes within the window ending now.
func (t *Tracker) Count(o Outcome, window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return countSince(t.events[o], t.now().Add(-window))
}

// RequestCount returns all outcomes within the window.
func (t *Tracker) RequestCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	n := 0
	for _, times := range t.events {
		n += countSince(times, cutoff)
	}
	return n
}

// ErrorRate returns (failures, total) within the window. Denials are not part of total.
func (t *Tracker) ErrorRate(window time.Duration) (failures, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	failures = countSince(t.events[Failure], cutoff)
	return failures, failures + countSince(t.events[Success], cutoff)
}

func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = make(map[Outcome][]time.Time)
}

func countSince(times []time.Time, cutoff time.Time) int {
	n := 0
	for _, ts := range times {
		if !ts.Before(cutoff) {
			n++
		}
	}
	return n
}

// pruneLocked drops timestamps older than retention. Timestamps are appended in order.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-retention)
	for o, times := range t.events {
		i := 0
		for ; i < len(times) && times[i].Before(cutoff); i++ {
		}
		if i > 0 {
			t.events[o] = append(times[:0], times[i:]...)
		}
	}
}
