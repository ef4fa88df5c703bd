package main

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kjstillabower/weatherdash/internal/cache"
	"github.com/kjstillabower/weatherdash/internal/circuitbreaker"
	"github.com/kjstillabower/weatherdash/internal/client"
	"github.com/kjstillabower/weatherdash/internal/config"
	"github.com/kjstillabower/weatherdash/internal/history"
	"github.com/kjstillabower/weatherdash/internal/observability"
	"github.com/kjstillabower/weatherdash/internal/service"
)

const breakerComponent = "weather_api"

// app is everything a command needs, built from config.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	client    *client.OpenWeatherClient
	dashboard *service.Dashboard
	// cachePing is set for remote backends.
	cachePing func() error
	closers   []func() error
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

// newApp wires config, logger, cache backend, client and dashboard. level is the
// log level used when LOG_LEVEL is unset.
func newApp(configPath string, level zapcore.Level) (*app, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := observability.NewLoggerAt(level)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	a := &app{cfg: cfg, logger: logger}

	store, err := a.newStore()
	if err != nil {
		a.close()
		return nil, err
	}

	c, err := client.NewOpenWeatherClient(cfg.WeatherAPIKey, cfg.WeatherAPIURL, cfg.WeatherAPITimeout, store, cfg.CacheTTL)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("weather client: %w", err)
	}
	c.SetLogger(logger)
	if cfg.CircuitBreakerEnabled {
		c.SetCircuitBreaker(circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: cfg.CircuitBreakerFailureThreshold,
			SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
			Timeout:          cfg.CircuitBreakerTimeout,
			IsFailure:        client.IsUpstreamFailure,
			OnStateChange: func(from, to circuitbreaker.State) {
				observability.RecordCircuitBreakerTransition(breakerComponent, from.String(), to.String())
				observability.SetCircuitBreakerState(breakerComponent, int(to))
				logger.Warn("circuit breaker state change", zap.String("from", from.String()), zap.String("to", to.String()))
			},
		}))
		observability.SetCircuitBreakerState(breakerComponent, int(circuitbreaker.StateClosed))
	}
	a.client = c

	h := history.New(cfg.DefaultCity, cfg.HistorySize)
	a.dashboard = service.NewDashboard(c, h, service.Config{
		DefaultUnits:  cfg.DefaultUnits,
		CityMinLength: cfg.CityMinLength,
		CityMaxLength: cfg.CityMaxLength,
	}, logger)
	if len(cfg.TrackedCities) > 0 {
		observability.SetTrackedCities(cfg.TrackedCities)
	}
	return a, nil
}

func (a *app) newStore() (cache.Cache, error) {
	switch a.cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(a.cfg.MemcachedAddrs, a.cfg.MemcachedTimeout, a.cfg.MemcachedMaxIdleConns)
		if err != nil {
			return nil, fmt.Errorf("memcached cache: %w", err)
		}
		a.cachePing = mc.Ping
		a.closers = append(a.closers, mc.Close)
		a.logger.Info("cache backend: memcached", zap.String("addrs", a.cfg.MemcachedAddrs))
		return mc, nil
	case "redis":
		rc, err := cache.NewRedisCache(cache.RedisConfig{
			Addr:        a.cfg.RedisAddr,
			Password:    a.cfg.RedisPassword,
			DB:          a.cfg.RedisDB,
			DialTimeout: a.cfg.RedisTimeout,
			IOTimeout:   a.cfg.RedisTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("redis cache: %w", err)
		}
		a.cachePing = rc.Ping
		a.closers = append(a.closers, rc.Close)
		a.logger.Info("cache backend: redis", zap.String("addr", a.cfg.RedisAddr))
		return rc, nil
	default:
		a.logger.Info("cache backend: in_memory")
		return cache.NewInMemoryCache(), nil
	}
}

// close releases cache connections and syncs the logger.
func (a *app) close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			a.logger.Warn("close cache backend", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
