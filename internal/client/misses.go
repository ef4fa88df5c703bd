package client

import "sync"

// missTracker counts cache misses in flight per key. Each miss goes upstream
// on its own, so a count above 1 means duplicate calls for the same key.
type missTracker struct {
	mu     sync.Mutex
	active map[string]int
}

func newMissTracker() *missTracker {
	return &missTracker{active: make(map[string]int)}
}

// begin records a miss for key and returns the in-flight count including it.
// Callers must call end(key) once the upstream call returns.
func (t *missTracker) begin(key string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active[key]++
	return t.active[key]
}

func (t *missTracker) end(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n, ok := t.active[key]; ok {
		if n <= 1 {
			delete(t.active, key)
			return
		}
		t.active[key] = n - 1
	}
}

func (t *missTracker) inFlight(key string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active[key]
}
