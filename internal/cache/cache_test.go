package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

const sampleBody = `{"name":"Prague","main":{"temp":21.5}}`

// TestInMemoryCache_GetSet verifies that Set stores bodies and Get returns them unchanged.
func TestInMemoryCache_GetSet(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()

	if err := c.Set(ctx, "weather?q=Prague&units=metric", []byte(sampleBody), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, ok, err := c.Get(ctx, "weather?q=Prague&units=metric")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if string(got) != sampleBody {
		t.Errorf("Get() = %s, want %s", got, sampleBody)
	}
}

// TestInMemoryCache_Get_Miss verifies that Get returns ok=false when
// the requested key does not exist in cache.
func TestInMemoryCache_Get_Miss(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()

	_, ok, err := c.Get(ctx, "nonexistent")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("Get() ok = true, want false for miss")
	}
}

// TestInMemoryCache_Get_Expiry walks an entry across its TTL boundary. An entry
// whose age equals the TTL is already stale.
func TestInMemoryCache_Get_Expiry(t *testing.T) {
	tests := []struct {
		name    string
		advance time.Duration
		wantHit bool
	}{
		{name: "fresh", advance: 0, wantHit: true},
		{name: "just before ttl", advance: 10*time.Minute - time.Nanosecond, wantHit: true},
		{name: "exactly ttl", advance: 10 * time.Minute, wantHit: false},
		{name: "after ttl", advance: 11 * time.Minute, wantHit: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			clock := newFakeClock()
			c := NewInMemoryCacheWithClock(clock.Now)
			_ = c.Set(ctx, "k", []byte(sampleBody), 10*time.Minute)

			clock.Advance(tt.advance)
			_, ok, err := c.Get(ctx, "k")
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if ok != tt.wantHit {
				t.Errorf("Get() ok = %v, want %v", ok, tt.wantHit)
			}
			if !tt.wantHit && c.Len() != 0 {
				t.Errorf("Len() = %d after expired read, want 0", c.Len())
			}
		})
	}
}

// TestInMemoryCache_Set_Overwrites verifies that rewriting a key replaces the body
// and restarts its TTL.
func TestInMemoryCache_Set_Overwrites(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := NewInMemoryCacheWithClock(clock.Now)

	_ = c.Set(ctx, "k", []byte(`"old"`), 10*time.Minute)
	clock.Advance(9 * time.Minute)
	_ = c.Set(ctx, "k", []byte(`"new"`), 10*time.Minute)
	clock.Advance(9 * time.Minute)

	got, ok, _ := c.Get(ctx, "k")
	if !ok || string(got) != `"new"` {
		t.Errorf("Get() = %s, %v, want \"new\", true", got, ok)
	}
}

// TestInMemoryCache_Clear verifies that Clear empties the cache and is idempotent.
func TestInMemoryCache_Clear(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()
	for i := 0; i < 3; i++ {
		_ = c.Set(ctx, fmt.Sprintf("k%d", i), []byte(sampleBody), time.Minute)
	}

	if err := c.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if err := c.Clear(ctx); err != nil {
		t.Fatalf("second Clear() error = %v", err)
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0", c.Len())
	}
	if _, ok, _ := c.Get(ctx, "k0"); ok {
		t.Error("Get() ok = true after Clear")
	}
}

// TestInMemoryCache_ConcurrentAccess runs readers, writers and clears together;
// run with -race to catch unsynchronized access.
func TestInMemoryCache_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", i%10)
				_ = c.Set(ctx, key, []byte(fmt.Sprintf(`%d`, g)), time.Minute)
				_, _, _ = c.Get(ctx, key)
				if i%50 == 0 {
					_ = c.Clear(ctx)
				}
			}
		}(g)
	}
	wg.Wait()

	// Every surviving entry must hold a complete value from one of the writers.
	for i := 0; i < 10; i++ {
		got, ok, _ := c.Get(ctx, fmt.Sprintf("k%d", i))
		if ok && len(got) != 1 {
			t.Errorf("k%d = %q, want a single writer id", i, got)
		}
	}
}

// TestEnvelope_Fresh verifies the shared freshness rule used by the remote backends.
func TestEnvelope_Fresh(t *testing.T) {
	written := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	env := envelope{WrittenAt: written, TTL: time.Minute}

	if !env.fresh(written.Add(59 * time.Second)) {
		t.Error("fresh() = false before ttl")
	}
	if env.fresh(written.Add(time.Minute)) {
		t.Error("fresh() = true at ttl")
	}
}

func TestExpirationSeconds(t *testing.T) {
	tests := []struct {
		ttl  time.Duration
		want int32
	}{
		{10 * time.Minute, 600},
		{1500 * time.Millisecond, 2},
		{0, 3600},
		{-time.Second, 3600},
		{31 * 24 * time.Hour, 3600},
	}
	for _, tt := range tests {
		if got := expirationSeconds(tt.ttl); got != tt.want {
			t.Errorf("expirationSeconds(%v) = %d, want %d", tt.ttl, got, tt.want)
		}
	}
}

func TestItemKey(t *testing.T) {
	a := itemKey("1", "weather?q=Prague&units=metric")
	b := itemKey("2", "weather?q=Prague&units=metric")
	if a == b {
		t.Error("itemKey() ignores generation")
	}
	if len(a) > 250 {
		t.Errorf("itemKey() length = %d, exceeds memcached limit", len(a))
	}
	if a != itemKey("1", "weather?q=Prague&units=metric") {
		t.Error("itemKey() not deterministic")
	}
}

func TestParseAddrs(t *testing.T) {
	got := parseAddrs(" host1:11211, ,host2:11211 ")
	if len(got) != 2 || got[0] != "host1:11211" || got[1] != "host2:11211" {
		t.Errorf("parseAddrs() = %v", got)
	}
}

func TestNewRedisCache_RequiresAddr(t *testing.T) {
	if _, err := NewRedisCache(RedisConfig{}); err == nil {
		t.Error("NewRedisCache() error = nil, want error for empty address")
	}
}
