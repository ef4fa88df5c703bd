package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/weatherdash/internal/models"
)

type mockFetcher struct {
	mu     sync.Mutex
	failOn map[string]error
	seen   []string
}

func (m *mockFetcher) GetWeather(ctx context.Context, city string) (models.CurrentConditions, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen = append(m.seen, city)
	if err := m.failOn[city]; err != nil {
		return models.CurrentConditions{}, err
	}
	return models.CurrentConditions{City: city, Temperature: 10}, nil
}

func (m *mockFetcher) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen)
}

func TestCacheWarmer_Warm_Success(t *testing.T) {
	fetcher := &mockFetcher{}
	warmer := NewCacheWarmer(fetcher, nil)

	if err := warmer.Warm(context.Background(), []string{"Prague", "Brno"}); err != nil {
		t.Fatalf("Warm() error = %v, want nil", err)
	}
	if fetcher.calls() != 2 {
		t.Errorf("fetcher calls = %d, want 2", fetcher.calls())
	}
}

func TestCacheWarmer_Warm_EmptyCities(t *testing.T) {
	warmer := NewCacheWarmer(&mockFetcher{}, nil)
	ctx := context.Background()

	if err := warmer.Warm(ctx, nil); err != nil {
		t.Fatalf("Warm() with nil cities error = %v, want nil", err)
	}
	if err := warmer.Warm(ctx, []string{}); err != nil {
		t.Fatalf("Warm() with empty cities error = %v, want nil", err)
	}
}

// TestCacheWarmer_Warm_FetcherError verifies that one failing city does not stop
// the others and that its error is reachable with errors.Is.
func TestCacheWarmer_Warm_FetcherError(t *testing.T) {
	errDown := errors.New("api down")
	fetcher := &mockFetcher{failOn: map[string]error{"Atlantis": errDown}}
	core, logs := observer.New(zap.InfoLevel)
	warmer := NewCacheWarmer(fetcher, zap.New(core))

	err := warmer.Warm(context.Background(), []string{"Prague", "Atlantis"})
	if err == nil {
		t.Fatal("Warm() error = nil, want non-nil")
	}
	if !errors.Is(err, errDown) {
		t.Errorf("Warm() error = %v, want wrapping errDown", err)
	}
	if !strings.Contains(err.Error(), "warm Atlantis") {
		t.Errorf("Warm() error = %q, want city name", err.Error())
	}
	if fetcher.calls() != 2 {
		t.Errorf("fetcher calls = %d, want 2", fetcher.calls())
	}
	if logs.FilterMessage("cache warming complete").Len() != 1 {
		t.Error("expected completion log entry")
	}
}

func TestCacheWarmer_WarmPeriodic_StopsOnCancel(t *testing.T) {
	fetcher := &mockFetcher{}
	warmer := NewCacheWarmer(fetcher, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- warmer.WarmPeriodic(ctx, func() []string { return []string{"Prague"} }, 5*time.Millisecond)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for fetcher.calls() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("WarmPeriodic() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WarmPeriodic did not return after cancel")
	}
	if fetcher.calls() < 2 {
		t.Errorf("fetcher calls = %d, want at least initial + one periodic", fetcher.calls())
	}
}
