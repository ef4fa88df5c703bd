package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weatherdash/internal/client"
	"github.com/kjstillabower/weatherdash/internal/history"
	"github.com/kjstillabower/weatherdash/internal/models"
	"github.com/kjstillabower/weatherdash/internal/observability"
	"github.com/kjstillabower/weatherdash/internal/validation"
)

const (
	// DailyForecastPoints is 3 days of 3-hour points; sampling every 8th gives one point per day.
	DailyForecastPoints = 24
	DailySampleStride   = 8

	HourlyForecastPoints = 4
)

// Snapshot is what the dashboard shows for a city: current conditions plus the
// UV index at the city's coordinates.
type Snapshot struct {
	Conditions models.CurrentConditions `json:"conditions"`
	UVIndex    float64                  `json:"uvIndex"`
	Units      models.Units             `json:"units"`
	FetchedAt  time.Time                `json:"fetchedAt"`
}

// Config holds Dashboard settings.
type Config struct {
	DefaultUnits  models.Units
	CityMinLength int
	CityMaxLength int
}

// Dashboard composes WeatherClient calls into the views the presentation layer renders.
// It validates input before any call reaches the client and records looked-up
// cities in the history. It holds no cache of its own.
type Dashboard struct {
	client  client.WeatherClient
	history *history.History
	units   models.Units
	minLen  int
	maxLen  int
	logger  *zap.Logger
	now     func() time.Time
}

// NewDashboard creates a Dashboard. A nil history gets a fresh one seeded with history.DefaultCity.
func NewDashboard(c client.WeatherClient, h *history.History, cfg Config, logger *zap.Logger) *Dashboard {
	if h == nil {
		h = history.New(history.DefaultCity, 0)
	}
	if !cfg.DefaultUnits.Valid() {
		cfg.DefaultUnits = models.DefaultUnits
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dashboard{
		client:  c,
		history: h,
		units:   cfg.DefaultUnits,
		minLen:  cfg.CityMinLength,
		maxLen:  cfg.CityMaxLength,
		logger:  logger,
		now:     time.Now,
	}
}

// DefaultUnits returns the units used when a caller passes none.
func (d *Dashboard) DefaultUnits() models.Units {
	return d.units
}

// Current fetches current conditions for city, then the UV index for the
// coordinates the provider resolved. A failure of either aborts the snapshot.
// On success the city is added to the history.
func (d *Dashboard) Current(ctx context.Context, city string, units models.Units) (Snapshot, error) {
	city, units, err := d.checkInput(city, units)
	if err != nil {
		return Snapshot{}, err
	}
	logger := observability.LoggerFromContext(ctx, d.logger)
	start := d.now()

	conditions, err := d.client.GetCurrentConditions(ctx, city, units)
	if err != nil {
		return Snapshot{}, fmt.Errorf("current conditions for %s: %w", city, err)
	}
	uv, err := d.client.GetUVIndex(ctx, conditions.Lat, conditions.Lon)
	if err != nil {
		return Snapshot{}, fmt.Errorf("uv index for %s: %w", city, err)
	}

	d.history.Add(city)
	observability.RecordCityQuery(city)
	logger.Debug("snapshot served", zap.String("city", city), zap.String("units", units.String()), zap.Duration("duration", d.now().Sub(start)))

	return Snapshot{
		Conditions: conditions,
		UVIndex:    uv,
		Units:      units,
		FetchedAt:  d.now(),
	}, nil
}

// Forecast returns count forecast points for city in provider order.
func (d *Dashboard) Forecast(ctx context.Context, city string, units models.Units, count int) ([]models.ForecastPoint, error) {
	city, units, err := d.checkInput(city, units)
	if err != nil {
		return nil, err
	}
	if err := validation.ValidateCount(count); err != nil {
		return nil, fmt.Errorf("%w: %w", client.ErrInvalidRequest, err)
	}
	points, err := d.client.GetForecast(ctx, city, units, count)
	if err != nil {
		return nil, fmt.Errorf("forecast for %s: %w", city, err)
	}
	return points, nil
}

// DailyForecast returns one point per day for the next three days: the
// 24-point forecast sampled every 8th point.
func (d *Dashboard) DailyForecast(ctx context.Context, city string, units models.Units) ([]models.ForecastPoint, error) {
	points, err := d.Forecast(ctx, city, units, DailyForecastPoints)
	if err != nil {
		return nil, err
	}
	return SampleEvery(points, DailySampleStride), nil
}

// HourlyForecast returns the next four 3-hour points.
func (d *Dashboard) HourlyForecast(ctx context.Context, city string, units models.Units) ([]models.ForecastPoint, error) {
	return d.Forecast(ctx, city, units, HourlyForecastPoints)
}

// UVIndex returns the UV index at the coordinates after range-checking them.
func (d *Dashboard) UVIndex(ctx context.Context, lat, lon float64) (float64, error) {
	if err := validation.ValidateCoordinates(lat, lon); err != nil {
		return 0, fmt.Errorf("%w: %w", client.ErrInvalidRequest, err)
	}
	uv, err := d.client.GetUVIndex(ctx, lat, lon)
	if err != nil {
		return 0, fmt.Errorf("uv index: %w", err)
	}
	return uv, nil
}

// ClearCache drops the client's response cache. The city history is left alone.
func (d *Dashboard) ClearCache(ctx context.Context) error {
	return d.client.ClearCache(ctx)
}

// Cities returns the city history.
func (d *Dashboard) Cities() []string {
	return d.history.List()
}

// ResetCities restores the history to its seed city.
func (d *Dashboard) ResetCities() {
	d.history.Reset()
}

// GetWeather fetches current conditions in the default units without touching
// the history. It lets the cache warmer reuse the Dashboard.
func (d *Dashboard) GetWeather(ctx context.Context, city string) (models.CurrentConditions, error) {
	city, units, err := d.checkInput(city, "")
	if err != nil {
		return models.CurrentConditions{}, err
	}
	return d.client.GetCurrentConditions(ctx, city, units)
}

func (d *Dashboard) checkInput(city string, units models.Units) (string, models.Units, error) {
	city, err := validation.ValidateCity(city, d.minLen, d.maxLen)
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", client.ErrInvalidRequest, err)
	}
	if units == "" {
		units = d.units
	}
	if !units.Valid() {
		return "", "", fmt.Errorf("%w: %w", client.ErrInvalidRequest, validation.ErrInvalidUnits)
	}
	return city, units, nil
}

// SampleEvery returns points[0], points[stride], points[2*stride], ... in order.
// A stride below 1 is treated as 1.
func SampleEvery(points []models.ForecastPoint, stride int) []models.ForecastPoint {
	if stride < 1 {
		stride = 1
	}
	out := make([]models.ForecastPoint, 0, (len(points)+stride-1)/stride)
	for i := 0; i < len(points); i += stride {
		out = append(out, points[i])
	}
	return out
}
