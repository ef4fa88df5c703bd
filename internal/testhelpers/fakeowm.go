// Package testhelpers provides a fake OpenWeatherMap server and live-API
// settings for tests. It must not import other internal packages so that
// in-package tests anywhere can use it.
package testhelpers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

const (
	// APIKey is the credential FakeOWM accepts; any other appid gets a 401.
	APIKey = "test-api-key-12345"

	// UnknownCity makes the weather and forecast endpoints answer 404.
	UnknownCity = "Atlantis"

	// ForecastStart is the dt of the first forecast point; points are 3h apart.
	ForecastStart int64 = 1700000000
	ForecastStep  int64 = 3 * 60 * 60

	UVValue = 3.2
)

type override struct {
	status int
	body   string
}

// FakeOWM is an httptest server speaking the subset of OpenWeatherMap 2.5 the
// client uses: /weather, /uvi and /forecast. It counts hits per endpoint and
// remembers the last query each endpoint received.
type FakeOWM struct {
	Server *httptest.Server

	mu        sync.Mutex
	hits      map[string]int
	queries   map[string]url.Values
	overrides map[string]override
	delay     time.Duration
}

// NewFakeOWM starts a FakeOWM that is closed when the test ends.
func NewFakeOWM(t testing.TB) *FakeOWM {
	t.Helper()
	f := &FakeOWM{
		hits:      make(map[string]int),
		queries:   make(map[string]url.Values),
		overrides: make(map[string]override),
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Server.Close)
	return f
}

// URL returns the base URL to configure the client with.
func (f *FakeOWM) URL() string {
	return f.Server.URL + "/"
}

// Respond makes endpoint answer every request with status and body until Reset.
func (f *FakeOWM) Respond(endpoint string, status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.overrides[endpoint] = override{status: status, body: body}
}

// SetDelay makes every response wait d before being written.
func (f *FakeOWM) SetDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
}

// Reset drops overrides and the delay. Hit counts are kept.
func (f *FakeOWM) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.overrides = make(map[string]override)
	f.delay = 0
}

// Hits returns the number of requests endpoint has received.
func (f *FakeOWM) Hits(endpoint string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[endpoint]
}

// TotalHits returns the number of requests across all endpoints.
func (f *FakeOWM) TotalHits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, h := range f.hits {
		n += h
	}
	return n
}

// LastQuery returns the query of the most recent request to endpoint.
func (f *FakeOWM) LastQuery(endpoint string) url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries[endpoint]
}

func (f *FakeOWM) serve(w http.ResponseWriter, r *http.Request) {
	endpoint := strings.TrimPrefix(r.URL.Path, "/")
	q := r.URL.Query()

	f.mu.Lock()
	f.hits[endpoint]++
	f.queries[endpoint] = q
	ov, hasOverride := f.overrides[endpoint]
	delay := f.delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if hasOverride {
		w.WriteHeader(ov.status)
		_, _ = w.Write([]byte(ov.body))
		return
	}
	if q.Get("appid") != APIKey {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"cod": 401, "message": "Invalid API key."})
		return
	}

	switch endpoint {
	case "weather":
		city := q.Get("q")
		if strings.EqualFold(city, UnknownCity) {
			writeJSON(w, http.StatusNotFound, map[string]any{"cod": "404", "message": "city not found"})
			return
		}
		writeJSON(w, http.StatusOK, CurrentBody(city))
	case "uvi":
		lat, _ := strconv.ParseFloat(q.Get("lat"), 64)
		lon, _ := strconv.ParseFloat(q.Get("lon"), 64)
		writeJSON(w, http.StatusOK, map[string]any{"lat": lat, "lon": lon, "date": ForecastStart, "value": UVValue})
	case "forecast":
		if strings.EqualFold(q.Get("q"), UnknownCity) {
			writeJSON(w, http.StatusNotFound, map[string]any{"cod": "404", "message": "city not found"})
			return
		}
		cnt, err := strconv.Atoi(q.Get("cnt"))
		if err != nil || cnt <= 0 || cnt > 40 {
			cnt = 40
		}
		writeJSON(w, http.StatusOK, ForecastBody(q.Get("q"), cnt))
	default:
		writeJSON(w, http.StatusNotFound, map[string]any{"cod": "404", "message": "Internal error"})
	}
}

// CurrentBody returns a complete current-weather response for city.
func CurrentBody(city string) map[string]any {
	return map[string]any{
		"coord":   map[string]any{"lon": 14.4208, "lat": 50.088},
		"weather": []map[string]any{{"id": 800, "main": "Clear", "description": "clear sky", "icon": "01d"}},
		"base":    "stations",
		"main": map[string]any{
			"temp": 21.5, "feels_like": 20.9, "temp_min": 19.0, "temp_max": 23.1,
			"pressure": 1016, "humidity": 40,
		},
		"visibility": 10000,
		"wind":       map[string]any{"speed": 3.6, "deg": 240},
		"dt":         ForecastStart,
		"sys":        map[string]any{"country": "CZ", "sunrise": ForecastStart - 20000, "sunset": ForecastStart + 20000},
		"timezone":   3600,
		"name":       city,
		"cod":        200,
	}
}

// ForecastBody returns a forecast response with n points starting at ForecastStart.
func ForecastBody(city string, n int) map[string]any {
	list := make([]map[string]any, n)
	for i := range list {
		dt := ForecastStart + int64(i)*ForecastStep
		list[i] = map[string]any{
			"dt":     dt,
			"main":   map[string]any{"temp": 10 + float64(i)/2, "humidity": 70},
			"dt_txt": time.Unix(dt, 0).UTC().Format("2006-01-02 15:04:05"),
		}
	}
	return map[string]any{
		"cod":  "200",
		"cnt":  n,
		"list": list,
		"city": map[string]any{"name": city},
	}
}

// ForecastTemp returns the temperature FakeOWM reports for point i.
func ForecastTemp(i int) float64 {
	return 10 + float64(i)/2
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		panic(fmt.Sprintf("fake owm: encode: %v", err))
	}
}
