package service

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/kjstillabower/weatherdash/internal/cache"
	"github.com/kjstillabower/weatherdash/internal/client"
	"github.com/kjstillabower/weatherdash/internal/history"
	"github.com/kjstillabower/weatherdash/internal/models"
	"github.com/kjstillabower/weatherdash/internal/testhelpers"
	"github.com/kjstillabower/weatherdash/internal/validation"
)

type mockWeatherClient struct {
	mu         sync.Mutex
	conditions models.CurrentConditions
	condErr    error
	uv         float64
	uvErr      error
	forecast   []models.ForecastPoint
	forecastN  []int
	uvCoords   [][2]float64
	clears     int
	calls      int
}

func (m *mockWeatherClient) GetCurrentConditions(ctx context.Context, city string, units models.Units) (models.CurrentConditions, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.condErr != nil {
		return models.CurrentConditions{}, m.condErr
	}
	out := m.conditions
	out.City = city
	return out, nil
}

func (m *mockWeatherClient) GetUVIndex(ctx context.Context, lat, lon float64) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.uvCoords = append(m.uvCoords, [2]float64{lat, lon})
	return m.uv, m.uvErr
}

func (m *mockWeatherClient) GetForecast(ctx context.Context, city string, units models.Units, count int) ([]models.ForecastPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.forecastN = append(m.forecastN, count)
	if len(m.forecast) > count {
		return m.forecast[:count], nil
	}
	return m.forecast, nil
}

func (m *mockWeatherClient) ClearCache(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clears++
	return nil
}

func (m *mockWeatherClient) ValidateAPIKey(ctx context.Context) error { return nil }

func points(n int) []models.ForecastPoint {
	out := make([]models.ForecastPoint, n)
	for i := range out {
		out[i] = models.ForecastPoint{Timestamp: 1700000000 + int64(i)*10800, Temperature: float64(i)}
	}
	return out
}

func newTestDashboard(m *mockWeatherClient) *Dashboard {
	return NewDashboard(m, history.New("Prague", 0), Config{CityMinLength: 1, CityMaxLength: 100}, nil)
}

func TestSampleEvery(t *testing.T) {
	tests := []struct {
		name   string
		n      int
		stride int
		want   []int64
	}{
		{"24 by 8", 24, 8, []int64{0, 8, 16}},
		{"short forecast", 10, 8, []int64{0, 8}},
		{"exact multiple", 16, 8, []int64{0, 8}},
		{"empty", 0, 8, []int64{}},
		{"stride 1", 3, 1, []int64{0, 1, 2}},
		{"stride 0 treated as 1", 2, 0, []int64{0, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SampleEvery(points(tt.n), tt.stride)
			idx := make([]int64, len(got))
			for i, p := range got {
				idx[i] = int64(p.Temperature)
			}
			if !reflect.DeepEqual(idx, tt.want) {
				t.Errorf("SampleEvery() indices = %v, want %v", idx, tt.want)
			}
		})
	}
}

// TestDailyForecast_ThreeSamplesADayApart covers the 24-point daily view end to end.
func TestDailyForecast_ThreeSamplesADayApart(t *testing.T) {
	m := &mockWeatherClient{forecast: points(40)}
	d := newTestDashboard(m)

	got, err := d.DailyForecast(context.Background(), "Prague", models.UnitsMetric)
	if err != nil {
		t.Fatalf("DailyForecast() error = %v", err)
	}
	if !reflect.DeepEqual(m.forecastN, []int{DailyForecastPoints}) {
		t.Errorf("requested counts = %v, want [24]", m.forecastN)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i := 1; i < len(got); i++ {
		if gap := got[i].Time().Sub(got[i-1].Time()); gap != 24*time.Hour {
			t.Errorf("gap %d = %v, want 24h", i, gap)
		}
	}
}

func TestHourlyForecast(t *testing.T) {
	m := &mockWeatherClient{forecast: points(40)}
	d := newTestDashboard(m)

	got, err := d.HourlyForecast(context.Background(), "Prague", "")
	if err != nil {
		t.Fatalf("HourlyForecast() error = %v", err)
	}
	if len(got) != HourlyForecastPoints || m.forecastN[0] != HourlyForecastPoints {
		t.Errorf("len = %d, requested %v", len(got), m.forecastN)
	}
}

func TestCurrent_Snapshot(t *testing.T) {
	m := &mockWeatherClient{
		conditions: models.CurrentConditions{Temperature: 21.5, Lat: 50.088, Lon: 14.4208},
		uv:         4.1,
	}
	d := newTestDashboard(m)
	fixed := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	d.now = func() time.Time { return fixed }

	snap, err := d.Current(context.Background(), "  Brno ", "")
	if err != nil {
		t.Fatalf("Current() error = %v", err)
	}
	if snap.Conditions.City != "Brno" || snap.UVIndex != 4.1 || snap.Units != models.UnitsMetric || !snap.FetchedAt.Equal(fixed) {
		t.Errorf("Current() = %+v", snap)
	}
	if len(m.uvCoords) != 1 || m.uvCoords[0] != [2]float64{50.088, 14.4208} {
		t.Errorf("UV requested at %v, want the resolved coordinates", m.uvCoords)
	}
	if !reflect.DeepEqual(d.Cities(), []string{"Prague", "Brno"}) {
		t.Errorf("Cities() = %v", d.Cities())
	}
}

// TestCurrent_Failures verifies that a failing step aborts the snapshot, keeps the
// client error reachable and leaves the history unchanged.
func TestCurrent_Failures(t *testing.T) {
	tests := []struct {
		name    string
		client  *mockWeatherClient
		wantErr error
	}{
		{"conditions fail", &mockWeatherClient{condErr: &client.RemoteServiceError{StatusCode: 404}}, client.ErrLocationNotFound},
		{"uv fails", &mockWeatherClient{uvErr: &client.TransportError{Endpoint: "uvi", Err: context.DeadlineExceeded}}, context.DeadlineExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDashboard(tt.client)
			_, err := d.Current(context.Background(), "Brno", models.UnitsMetric)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
			if len(d.Cities()) != 1 {
				t.Errorf("Cities() = %v, want seed only", d.Cities())
			}
		})
	}
}

// TestInvalidInput_NoClientCall verifies that input is checked before the client is used.
func TestInvalidInput_NoClientCall(t *testing.T) {
	m := &mockWeatherClient{}
	d := newTestDashboard(m)
	ctx := context.Background()

	cases := []struct {
		name    string
		call    func() error
		wantErr error
	}{
		{"empty city", func() error { _, err := d.Current(ctx, " ", ""); return err }, validation.ErrCityEmpty},
		{"bad chars", func() error { _, err := d.Current(ctx, "a/b", ""); return err }, validation.ErrCityInvalidChars},
		{"bad units", func() error { _, err := d.Current(ctx, "Prague", "kelvin"); return err }, validation.ErrInvalidUnits},
		{"bad count", func() error { _, err := d.Forecast(ctx, "Prague", "", 41); return err }, validation.ErrInvalidCount},
		{"bad coords", func() error { _, err := d.UVIndex(ctx, 91, 0); return err }, validation.ErrInvalidCoordinates},
		{"warm empty", func() error { _, err := d.GetWeather(ctx, ""); return err }, validation.ErrCityEmpty},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			if !errors.Is(err, tt.wantErr) || !errors.Is(err, client.ErrInvalidRequest) {
				t.Errorf("error = %v, want %v and ErrInvalidRequest", err, tt.wantErr)
			}
		})
	}
	if m.calls != 0 {
		t.Errorf("client calls = %d, want 0", m.calls)
	}
}

// TestClearCache_KeepsHistory verifies the cache and the history are independent.
func TestClearCache_KeepsHistory(t *testing.T) {
	m := &mockWeatherClient{}
	d := newTestDashboard(m)
	if _, err := d.Current(context.Background(), "Oslo", ""); err != nil {
		t.Fatalf("Current() error = %v", err)
	}

	if err := d.ClearCache(context.Background()); err != nil {
		t.Fatalf("ClearCache() error = %v", err)
	}
	if m.clears != 1 {
		t.Errorf("client clears = %d, want 1", m.clears)
	}
	if !reflect.DeepEqual(d.Cities(), []string{"Prague", "Oslo"}) {
		t.Errorf("Cities() after ClearCache = %v", d.Cities())
	}

	d.ResetCities()
	if !reflect.DeepEqual(d.Cities(), []string{"Prague"}) {
		t.Errorf("Cities() after ResetCities = %v", d.Cities())
	}
	if m.clears != 1 {
		t.Error("ResetCities touched the cache")
	}
}

func TestGetWeather_DoesNotRecordHistory(t *testing.T) {
	m := &mockWeatherClient{}
	d := newTestDashboard(m)
	if _, err := d.GetWeather(context.Background(), "Lima"); err != nil {
		t.Fatalf("GetWeather() error = %v", err)
	}
	if len(d.Cities()) != 1 {
		t.Errorf("Cities() = %v, want seed only", d.Cities())
	}
}

// TestDashboard_WithRealClient runs the dashboard against the client and a fake
// provider, and warms the cache through it.
func TestDashboard_WithRealClient(t *testing.T) {
	fake := testhelpers.NewFakeOWM(t)
	c, err := client.NewOpenWeatherClient(testhelpers.APIKey, fake.URL(), time.Second, nil, 0)
	if err != nil {
		t.Fatalf("NewOpenWeatherClient() error = %v", err)
	}
	d := NewDashboard(c, nil, Config{}, nil)
	ctx := context.Background()

	if err := cache.NewCacheWarmer(d, nil).Warm(ctx, []string{"Prague", "Brno"}); err != nil {
		t.Fatalf("Warm() error = %v", err)
	}
	if fake.Hits("weather") != 2 {
		t.Fatalf("weather hits = %d, want 2", fake.Hits("weather"))
	}

	snap, err := d.Current(ctx, "Prague", models.UnitsMetric)
	if err != nil {
		t.Fatalf("Current() error = %v", err)
	}
	if fake.Hits("weather") != 2 {
		t.Errorf("warmed city fetched again: hits = %d", fake.Hits("weather"))
	}
	if snap.UVIndex != testhelpers.UVValue {
		t.Errorf("UVIndex = %v", snap.UVIndex)
	}

	daily, err := d.DailyForecast(ctx, "Prague", models.UnitsMetric)
	if err != nil {
		t.Fatalf("DailyForecast() error = %v", err)
	}
	if len(daily) != 3 || daily[1].Temperature != testhelpers.ForecastTemp(8) || daily[2].Temperature != testhelpers.ForecastTemp(16) {
		t.Errorf("DailyForecast() = %+v", daily)
	}

	_, err = d.Current(ctx, testhelpers.UnknownCity, models.UnitsMetric)
	if !errors.Is(err, client.ErrLocationNotFound) {
		t.Errorf("unknown city error = %v", err)
	}
}
