// Package history keeps the cities a user has looked up, most recent last.
// It belongs to the presentation layer and is independent of the response cache.
package history

import (
	"strings"
	"sync"
)

// DefaultCity seeds a new history.
const DefaultCity = "Prague"

// History is a concurrency-safe ordered set of city names. Cities compare
// case-insensitively; the first spelling seen is kept.
type History struct {
	mu       sync.RWMutex
	seed     string
	cities   []string
	seen     map[string]struct{}
	capacity int
}

// New returns a history containing only seed. An empty seed selects DefaultCity.
// capacity bounds the number of entries (oldest non-seed entries drop first);
// values below 2 mean unbounded.
func New(seed string, capacity int) *History {
	seed = strings.TrimSpace(seed)
	if seed == "" {
		seed = DefaultCity
	}
	if capacity < 2 {
		capacity = 0
	}
	h := &History{seed: seed, capacity: capacity}
	h.resetLocked()
	return h
}

// Add records city. It reports whether the city was new.
func (h *History) Add(city string) bool {
	city = strings.TrimSpace(city)
	if city == "" {
		return false
	}
	k := key(city)

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.seen[k]; ok {
		return false
	}
	h.cities = append(h.cities, city)
	h.seen[k] = struct{}{}
	if h.capacity > 0 && len(h.cities) > h.capacity {
		// Index 0 is the seed.
		dropped := h.cities[1]
		delete(h.seen, key(dropped))
		h.cities = append(h.cities[:1], h.cities[2:]...)
	}
	return true
}

// Contains reports whether city is in the history.
func (h *History) Contains(city string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.seen[key(city)]
	return ok
}

// List returns a copy of the cities in insertion order.
func (h *History) List() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, len(h.cities))
	copy(out, h.cities)
	return out
}

// Reset drops everything but the seed city.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.resetLocked()
}

func (h *History) resetLocked() {
	h.cities = []string{h.seed}
	h.seen = map[string]struct{}{key(h.seed): {}}
}

func key(city string) string {
	return strings.ToLower(strings.TrimSpace(city))
}
