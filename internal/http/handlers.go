package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/weatherdash/internal/circuitbreaker"
	"github.com/kjstillabower/weatherdash/internal/client"
	"github.com/kjstillabower/weatherdash/internal/models"
	"github.com/kjstillabower/weatherdash/internal/observability"
	"github.com/kjstillabower/weatherdash/internal/service"
	"github.com/kjstillabower/weatherdash/internal/traffic"
	"github.com/kjstillabower/weatherdash/internal/validation"
)

// DefaultForecastCount is used by GET /forecast/{city} when cnt is absent.
const DefaultForecastCount = service.DailyForecastPoints

// HealthConfig holds thresholds for the health handler.
type HealthConfig struct {
	DegradedWindow   time.Duration
	DegradedErrorPct int
	// CachePing, when set, is called to check cache reachability. Used for memcached and redis.
	CachePing func() error
	Version   string
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	dashboard        *service.Dashboard
	client           client.WeatherClient
	healthConfig     *HealthConfig
	logger           *zap.Logger
	shuttingDown     atomic.Bool
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. weatherClient is used only for the health check's API key probe.
func NewHandler(dashboard *service.Dashboard, weatherClient client.WeatherClient, healthConfig *HealthConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		dashboard:    dashboard,
		client:       weatherClient,
		healthConfig: healthConfig,
		logger:       logger,
	}
}

// SetShuttingDown sets the drain flag. While true /health answers 503 shutting-down.
func (h *Handler) SetShuttingDown(v bool) {
	h.shuttingDown.Store(v)
}

type weatherResponse struct {
	service.Snapshot
	IconURL         string `json:"iconUrl"`
	TemperatureUnit string `json:"temperatureUnit"`
	SpeedUnit       string `json:"speedUnit"`
}

type forecastResponse struct {
	City   string                 `json:"city"`
	Units  models.Units           `json:"units"`
	Points []models.ForecastPoint `json:"points"`
}

// GetWeather handles GET /weather/{city}?units=.
func (h *Handler) GetWeather(w http.ResponseWriter, r *http.Request) {
	city := mux.Vars(r)["city"]
	units, ok := parseUnits(w, r)
	if !ok {
		return
	}

	snap, err := h.dashboard.Current(r.Context(), city, units)
	recordOutcome(err)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, weatherResponse{
		Snapshot:        snap,
		IconURL:         snap.Conditions.IconURL(),
		TemperatureUnit: snap.Units.TemperatureSymbol(),
		SpeedUnit:       snap.Units.SpeedUnit(),
	})
}

// GetForecast handles GET /forecast/{city}?units=&cnt=.
func (h *Handler) GetForecast(w http.ResponseWriter, r *http.Request) {
	count := DefaultForecastCount
	if s := r.URL.Query().Get("cnt"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "INVALID_COUNT", "cnt must be an integer")
			return
		}
		count = n
	}
	h.serveForecast(w, r, func(ctx context.Context, city string, units models.Units) ([]models.ForecastPoint, error) {
		return h.dashboard.Forecast(ctx, city, units, count)
	})
}

// GetDailyForecast handles GET /forecast/{city}/daily?units=.
func (h *Handler) GetDailyForecast(w http.ResponseWriter, r *http.Request) {
	h.serveForecast(w, r, h.dashboard.DailyForecast)
}

// GetHourlyForecast handles GET /forecast/{city}/hourly?units=.
func (h *Handler) GetHourlyForecast(w http.ResponseWriter, r *http.Request) {
	h.serveForecast(w, r, h.dashboard.HourlyForecast)
}

func (h *Handler) serveForecast(w http.ResponseWriter, r *http.Request, fetch func(context.Context, string, models.Units) ([]models.ForecastPoint, error)) {
	city := strings.TrimSpace(mux.Vars(r)["city"])
	units, ok := parseUnits(w, r)
	if !ok {
		return
	}
	if units == "" {
		units = h.dashboard.DefaultUnits()
	}

	points, err := fetch(r.Context(), city, units)
	recordOutcome(err)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, forecastResponse{City: city, Units: units, Points: points})
}

// GetUV handles GET /uv?lat=&lon=.
func (h *Handler) GetUV(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, lon, err := validation.ParseCoordinates(q.Get("lat"), q.Get("lon"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_COORDINATES", "lat must be in [-90, 90] and lon in [-180, 180]")
		return
	}

	value, err := h.dashboard.UVIndex(r.Context(), lat, lon)
	recordOutcome(err)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"lat": lat, "lon": lon, "value": value})
}

// GetCities handles GET /cities.
func (h *Handler) GetCities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"cities": h.dashboard.Cities()})
}

// DeleteCities handles DELETE /cities. The history returns to its seed city.
func (h *Handler) DeleteCities(w http.ResponseWriter, r *http.Request) {
	h.dashboard.ResetCities()
	writeJSON(w, http.StatusOK, map[string][]string{"cities": h.dashboard.Cities()})
}

// DeleteCache handles DELETE /cache.
func (h *Handler) DeleteCache(w http.ResponseWriter, r *http.Request) {
	if err := h.dashboard.ClearCache(r.Context()); err != nil {
		observability.LoggerFromContext(r.Context(), h.logger).Warn("cache clear failed", zap.Error(err))
		writeError(w, r, http.StatusServiceUnavailable, "CACHE_UNAVAILABLE", "Unable to clear cache")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus(r.Context())

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := map[string]string{"weatherApi": "healthy"}
	if result.status == "degraded" {
		checks["weatherApi"] = "unhealthy"
	}
	version := "dev"
	if h.healthConfig != nil {
		if h.healthConfig.CachePing != nil {
			checks["cache"] = "healthy"
			if h.healthConfig.CachePing() != nil {
				checks["cache"] = "unhealthy"
			}
		}
		if h.healthConfig.Version != "" {
			version = h.healthConfig.Version
		}
	}
	resp := map[string]interface{}{
		"status":    result.status,
		"service":   "weatherdash",
		"version":   version,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	writeJSON(w, result.statusCode, resp)
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > API key invalid > error rate breach > healthy.
func (h *Handler) computeHealthStatus(ctx context.Context) healthResult {
	if h.shuttingDown.Load() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if err := h.client.ValidateAPIKey(ctx); err != nil && errors.Is(err, client.ErrInvalidAPIKey) {
		return healthResult{"degraded", http.StatusServiceUnavailable, "api_key_invalid"}
	}
	if h.healthConfig != nil && h.healthConfig.DegradedWindow > 0 && h.healthConfig.DegradedErrorPct > 0 {
		failures, total := traffic.ErrorRate(h.healthConfig.DegradedWindow)
		if total > 0 {
			pct := float64(failures) * 100 / float64(total)
			if pct >= float64(h.healthConfig.DegradedErrorPct) {
				return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
			}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// recordOutcome feeds the health error rate. Only failures that point at the
// weather API count; bad input and unknown cities are successes here.
func recordOutcome(err error) {
	var pe *client.ParseError
	if err != nil && (client.IsUpstreamFailure(err) || errors.As(err, &pe) || errors.Is(err, circuitbreaker.ErrOpen)) {
		traffic.Record(traffic.Failure)
		return
	}
	traffic.Record(traffic.Success)
}

// parseUnits reads ?units=; empty is returned as "" so the dashboard default applies.
func parseUnits(w http.ResponseWriter, r *http.Request) (models.Units, bool) {
	raw := r.URL.Query().Get("units")
	if raw == "" {
		return "", true
	}
	units, err := validation.ParseUnits(raw)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_UNITS", "units must be metric or imperial")
		return "", false
	}
	return units, true
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationID(r.Context()),
		},
	})
}

// writeServiceError maps a dashboard error to a status and error code. Upstream
// error text is logged at DEBUG and never echoed to the client.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := classifyError(err)
	writeError(w, r, status, code, message)
	observability.LoggerFromContext(r.Context(), zap.NewNop()).Debug("request failed",
		zap.String("code", code),
		zap.Error(err))
}

func classifyError(err error) (int, string, string) {
	var pe *client.ParseError
	switch {
	case errors.Is(err, validation.ErrCityEmpty),
		errors.Is(err, validation.ErrCityTooShort),
		errors.Is(err, validation.ErrCityTooLong),
		errors.Is(err, validation.ErrCityInvalidChars):
		return http.StatusBadRequest, "INVALID_CITY", cityMessage(err)
	case errors.Is(err, validation.ErrInvalidUnits):
		return http.StatusBadRequest, "INVALID_UNITS", "units must be metric or imperial"
	case errors.Is(err, validation.ErrInvalidCount):
		return http.StatusBadRequest, "INVALID_COUNT", "cnt must be between 1 and " + strconv.Itoa(validation.MaxForecastCount)
	case errors.Is(err, validation.ErrInvalidCoordinates):
		return http.StatusBadRequest, "INVALID_COORDINATES", "lat must be in [-90, 90] and lon in [-180, 180]"
	case errors.Is(err, client.ErrInvalidRequest):
		return http.StatusBadRequest, "INVALID_REQUEST", "invalid request"
	case errors.Is(err, client.ErrLocationNotFound):
		return http.StatusNotFound, "CITY_NOT_FOUND", "City not found"
	case errors.Is(err, client.ErrRateLimited):
		return http.StatusTooManyRequests, "UPSTREAM_RATE_LIMITED", "Weather provider rate limit reached"
	case errors.As(err, &pe):
		return http.StatusBadGateway, "UPSTREAM_BAD_RESPONSE", "Unexpected response from weather provider"
	default:
		return http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "Unable to fetch weather data"
	}
}

func cityMessage(err error) string {
	for _, e := range []error{validation.ErrCityEmpty, validation.ErrCityTooShort, validation.ErrCityTooLong, validation.ErrCityInvalidChars} {
		if errors.Is(err, e) {
			return e.Error()
		}
	}
	return "invalid city"
}
