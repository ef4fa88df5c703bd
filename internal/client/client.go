package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weatherdash/internal/cache"
	"github.com/kjstillabower/weatherdash/internal/circuitbreaker"
	"github.com/kjstillabower/weatherdash/internal/models"
	"github.com/kjstillabower/weatherdash/internal/observability"
)

const (
	DefaultBaseURL  = "https://api.openweathermap.org/data/2.5/"
	DefaultTimeout  = 10 * time.Second
	DefaultCacheTTL = 10 * time.Minute

	endpointWeather  = "weather"
	endpointUV       = "uvi"
	endpointForecast = "forecast"

	validationCity   = "London"
	maxResponseBytes = 1 << 20
)

// WeatherClient fetches current conditions, UV index and forecasts, serving
// repeat queries from a short-lived cache.
type WeatherClient interface {
	GetCurrentConditions(ctx context.Context, city string, units models.Units) (models.CurrentConditions, error)
	GetUVIndex(ctx context.Context, lat, lon float64) (float64, error)
	GetForecast(ctx context.Context, city string, units models.Units, count int) ([]models.ForecastPoint, error)
	ClearCache(ctx context.Context) error
	ValidateAPIKey(ctx context.Context) error
}

// OpenWeatherClient implements WeatherClient against the OpenWeatherMap 2.5 API.
//
// Each call makes at most one HTTP request, on a cache miss, bounded by the
// configured timeout. There are no retries. Responses are cached under the
// path-and-query string without the credential; only 200 responses are cached.
type OpenWeatherClient struct {
	apiKey  string
	baseURL string
	timeout time.Duration
	ttl     time.Duration
	http    *http.Client
	store   cache.Cache
	logger  *zap.Logger
	breaker *circuitbreaker.CircuitBreaker
	misses  *missTracker
}

// NewOpenWeatherClient creates a client. Zero values select the defaults:
// DefaultBaseURL, DefaultTimeout, an in-memory store and DefaultCacheTTL.
func NewOpenWeatherClient(apiKey, baseURL string, timeout time.Duration, store cache.Cache, ttl time.Duration) (*OpenWeatherClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidAPIKey)
	}
	if len(apiKey) < 10 {
		return nil, fmt.Errorf("%w: API key appears invalid (too short)", ErrInvalidAPIKey)
	}

	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid API base URL %q", baseURL)
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if store == nil {
		store = cache.NewInMemoryCache()
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}

	return &OpenWeatherClient{
		apiKey:  apiKey,
		baseURL: baseURL,
		timeout: timeout,
		ttl:     ttl,
		http:    &http.Client{Timeout: timeout},
		store:   store,
		logger:  zap.NewNop(),
		misses:  newMissTracker(),
	}, nil
}

// SetLogger sets the logger for cache and upstream diagnostics. Nil restores the no-op logger.
func (c *OpenWeatherClient) SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c.logger = logger
}

// SetCircuitBreaker routes upstream calls through cb. Cache hits never touch it.
func (c *OpenWeatherClient) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	c.breaker = cb
}

// GetCurrentConditions returns the current weather for city.
func (c *OpenWeatherClient) GetCurrentConditions(ctx context.Context, city string, units models.Units) (models.CurrentConditions, error) {
	city = strings.TrimSpace(city)
	if err := checkCityUnits(city, units); err != nil {
		return models.CurrentConditions{}, c.fail(endpointWeather, err)
	}

	body, err := c.fetch(ctx, endpointWeather, url.Values{
		"q":     {city},
		"units": {string(units)},
	})
	if err != nil {
		return models.CurrentConditions{}, c.fail(endpointWeather, err)
	}

	var resp weatherResponse
	if err := decode(endpointWeather, body, &resp); err != nil {
		return models.CurrentConditions{}, c.fail(endpointWeather, err)
	}
	conditions, err := resp.toModel()
	if err != nil {
		return models.CurrentConditions{}, c.fail(endpointWeather, err)
	}
	return conditions, nil
}

// GetUVIndex returns the UV index at the coordinates. Coordinates are sent with
// six decimal places whatever their input precision.
func (c *OpenWeatherClient) GetUVIndex(ctx context.Context, lat, lon float64) (float64, error) {
	if !finite(lat) || !finite(lon) {
		return 0, c.fail(endpointUV, fmt.Errorf("%w: coordinates must be finite", ErrInvalidRequest))
	}

	body, err := c.fetch(ctx, endpointUV, url.Values{
		"lat": {strconv.FormatFloat(lat, 'f', 6, 64)},
		"lon": {strconv.FormatFloat(lon, 'f', 6, 64)},
	})
	if err != nil {
		return 0, c.fail(endpointUV, err)
	}

	var resp uvResponse
	if err := decode(endpointUV, body, &resp); err != nil {
		return 0, c.fail(endpointUV, err)
	}
	if resp.Value == nil {
		return 0, c.fail(endpointUV, missing(endpointUV, "value"))
	}
	return *resp.Value, nil
}

// GetForecast returns up to count forecast points for city in the order the
// provider lists them. The provider may return fewer than count.
func (c *OpenWeatherClient) GetForecast(ctx context.Context, city string, units models.Units, count int) ([]models.ForecastPoint, error) {
	city = strings.TrimSpace(city)
	if err := checkCityUnits(city, units); err != nil {
		return nil, c.fail(endpointForecast, err)
	}
	if count <= 0 {
		return nil, c.fail(endpointForecast, fmt.Errorf("%w: count must be positive, got %d", ErrInvalidRequest, count))
	}

	body, err := c.fetch(ctx, endpointForecast, url.Values{
		"q":     {city},
		"units": {string(units)},
		"cnt":   {strconv.Itoa(count)},
	})
	if err != nil {
		return nil, c.fail(endpointForecast, err)
	}

	var resp forecastResponse
	if err := decode(endpointForecast, body, &resp); err != nil {
		return nil, c.fail(endpointForecast, err)
	}
	points, err := resp.toModel()
	if err != nil {
		return nil, c.fail(endpointForecast, err)
	}
	return points, nil
}

// ClearCache drops every cached response. Clearing an empty cache is a no-op.
// Only remote cache backends can return an error.
func (c *OpenWeatherClient) ClearCache(ctx context.Context) error {
	observability.CacheClearsTotal.Inc()
	if err := c.store.Clear(ctx); err != nil {
		observability.CacheErrorsTotal.WithLabelValues("clear").Inc()
		c.logger.Warn("cache clear failed", zap.Error(err))
		return fmt.Errorf("clear cache: %w", err)
	}
	c.logger.Info("weather cache cleared")
	return nil
}

// ValidateAPIKey probes the current-weather endpoint, bypassing the cache and
// the circuit breaker. A 401 unwraps to ErrInvalidAPIKey.
func (c *OpenWeatherClient) ValidateAPIKey(ctx context.Context) error {
	query := url.Values{"q": {validationCity}, "units": {string(models.DefaultUnits)}}
	if _, err := c.do(ctx, endpointWeather, endpointWeather+"?"+query.Encode()); err != nil {
		return fmt.Errorf("validate API key: %w", err)
	}
	return nil
}

// fetch returns the response body for endpoint and query, from the cache when fresh.
func (c *OpenWeatherClient) fetch(ctx context.Context, endpoint string, query url.Values) ([]byte, error) {
	key := endpoint + "?" + query.Encode()

	if body, ok := c.cacheGet(ctx, endpoint, key); ok {
		return body, nil
	}

	observability.CacheMissesTotal.WithLabelValues(endpoint).Inc()
	observability.CacheConcurrentMisses.Observe(float64(c.misses.begin(key)))
	defer c.misses.end(key)
	c.logger.Debug("weather cache miss", zap.String("cache_key", key))

	var body []byte
	call := func() error {
		var err error
		body, err = c.do(ctx, endpoint, key)
		return err
	}
	var err error
	if c.breaker != nil {
		err = c.breaker.Call(call)
		if errors.Is(err, circuitbreaker.ErrOpen) {
			err = &TransportError{Endpoint: endpoint, Key: key, Err: err}
		}
	} else {
		err = call()
	}
	if err != nil {
		return nil, err
	}

	if !json.Valid(body) {
		return nil, &ParseError{Endpoint: endpoint, Err: errors.New("malformed JSON")}
	}
	c.cacheSet(ctx, endpoint, key, body)
	return body, nil
}

func (c *OpenWeatherClient) cacheGet(ctx context.Context, endpoint, key string) ([]byte, bool) {
	body, ok, err := c.store.Get(ctx, key)
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get").Inc()
		c.logger.Warn("cache get failed", zap.String("cache_key", key), zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	observability.CacheHitsTotal.WithLabelValues(endpoint).Inc()
	c.logger.Debug("weather cache hit", zap.String("cache_key", key))
	return body, true
}

func (c *OpenWeatherClient) cacheSet(ctx context.Context, endpoint, key string, body []byte) {
	if err := c.store.Set(ctx, key, body, c.ttl); err != nil {
		observability.CacheErrorsTotal.WithLabelValues("set").Inc()
		c.logger.Warn("cache set failed", zap.String("cache_key", key), zap.Error(err))
	}
}

// do performs one GET for key (path and query) with the credential attached.
// Errors never carry the request URL.
func (c *OpenWeatherClient) do(ctx context.Context, endpoint, key string) ([]byte, error) {
	start := time.Now()
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.baseURL+key+"&appid="+url.QueryEscape(c.apiKey), nil)
	if err != nil {
		return nil, &TransportError{Endpoint: endpoint, Key: key, Err: stripURL(err)}
	}
	req.Header.Set("Accept", "application/json")
	if id := observability.CorrelationID(ctx); id != "" {
		req.Header.Set(observability.CorrelationIDHeader, id)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.observeCall(endpoint, "error", start)
		return nil, &TransportError{Endpoint: endpoint, Key: key, Err: stripURL(err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	c.observeCall(endpoint, statusLabel(resp.StatusCode), start)
	if err != nil {
		return nil, &TransportError{Endpoint: endpoint, Key: key, Err: stripURL(err)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &RemoteServiceError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Message:    remoteMessage(body),
		}
	}
	return body, nil
}

func (c *OpenWeatherClient) observeCall(endpoint, status string, start time.Time) {
	observability.WeatherAPICallsTotal.WithLabelValues(endpoint, status).Inc()
	observability.WeatherAPIDuration.WithLabelValues(endpoint, status).Observe(time.Since(start).Seconds())
}

// fail records err against endpoint and returns it unchanged.
func (c *OpenWeatherClient) fail(endpoint string, err error) error {
	category := CategorizeError(err)
	observability.WeatherAPIErrorsTotal.WithLabelValues(endpoint, string(category)).Inc()
	c.logger.Debug("weather request failed",
		zap.String("endpoint", endpoint),
		zap.String("category", string(category)),
		zap.Error(err),
	)
	return err
}

func decode(endpoint string, body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return &ParseError{Endpoint: endpoint, Field: typeErr.Field, Err: err}
		}
		return &ParseError{Endpoint: endpoint, Err: err}
	}
	return nil
}

func checkCityUnits(city string, units models.Units) error {
	if city == "" {
		return fmt.Errorf("%w: city is required", ErrInvalidRequest)
	}
	if !units.Valid() {
		return fmt.Errorf("%w: unsupported units %q", ErrInvalidRequest, units)
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// stripURL drops the *url.Error wrapper, whose text includes the full request URL.
func stripURL(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err
	}
	return err
}

// remoteMessage extracts the provider's "message" field from an error body.
func remoteMessage(body []byte) string {
	var r struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &r) != nil {
		return ""
	}
	return r.Message
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
