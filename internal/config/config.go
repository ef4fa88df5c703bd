package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kjstillabower/weatherdash/internal/models"
)

// AppName is the directory name used under $XDG_CONFIG_HOME.
const AppName = "weatherdash"

// Config holds dashboard configuration loaded from YAML and env.
type Config struct {
	// Path is the config file that was read, or "" when defaults were used.
	Path string

	ServerPort string

	WeatherAPIKey     string
	WeatherAPIURL     string
	WeatherAPITimeout time.Duration

	RequestTimeout time.Duration
	CacheTTL       time.Duration
	CacheBackend   string // "in_memory", "memcached" or "redis"

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTimeout  time.Duration

	CircuitBreakerEnabled          bool
	CircuitBreakerFailureThreshold int
	CircuitBreakerSuccessThreshold int
	CircuitBreakerTimeout          time.Duration

	RateLimitRPS   int
	RateLimitBurst int

	ShutdownTimeout time.Duration

	DefaultCity     string
	DefaultUnits    models.Units
	RefreshInterval time.Duration
	HistorySize     int
	CityMinLength   int
	CityMaxLength   int
	TrackedCities   []string
	WarmCache       bool
	WarmInterval    time.Duration

	DegradedWindow   time.Duration
	DegradedErrorPct int
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	WeatherAPI struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"weather_api"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Cache struct {
		Backend   string `yaml:"backend"`
		TTL       string `yaml:"ttl"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Timeout  string `yaml:"timeout"`
		} `yaml:"redis"`
	} `yaml:"cache"`

	CircuitBreaker struct {
		Enabled          *bool  `yaml:"enabled"`
		FailureThreshold int    `yaml:"failure_threshold"`
		SuccessThreshold int    `yaml:"success_threshold"`
		Timeout          string `yaml:"timeout"`
	} `yaml:"circuit_breaker"`

	RateLimit struct {
		RPS   int `yaml:"rps"`
		Burst int `yaml:"burst"`
	} `yaml:"rate_limit"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`

	Dashboard struct {
		DefaultCity     string   `yaml:"default_city"`
		Units           string   `yaml:"units"`
		RefreshInterval string   `yaml:"refresh_interval"`
		HistorySize     int      `yaml:"history_size"`
		CityMinLength   int      `yaml:"city_min_length"`
		CityMaxLength   int      `yaml:"city_max_length"`
		TrackedCities   []string `yaml:"tracked_cities"`
		WarmCache       bool     `yaml:"warm_cache"`
		WarmInterval    string   `yaml:"warm_interval"`
	} `yaml:"dashboard"`

	Health struct {
		DegradedWindow   string `yaml:"degraded_window"`
		DegradedErrorPct int    `yaml:"degraded_error_pct"`
	} `yaml:"health"`
}

type secretsFile struct {
	WeatherAPIKey string `yaml:"weather_api_key"`
}

// Load reads an optional .env, then config/{ENV_NAME}.yaml (default dev) from the
// working directory or $XDG_CONFIG_HOME/weatherdash. A missing file means defaults.
// The API key comes from WEATHER_API_KEY or secrets.yaml next to the config file.
func Load() (*Config, error) {
	loadDotEnv()

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}
	path, err := findConfigFile(env)
	if err != nil {
		return nil, err
	}
	return load(path)
}

// LoadFile is Load with an explicit config file, which must exist.
func LoadFile(path string) (*Config, error) {
	loadDotEnv()

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	return load(path)
}

func loadDotEnv() {
	// Existing env vars win over .env entries.
	_ = godotenv.Load()
}

// findConfigFile returns "" when no file exists for env.
func findConfigFile(env string) (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("config: get working directory: %w", err)
	}
	local := filepath.Join(cwd, "config", env+".yaml")
	if _, err := os.Stat(local); err == nil {
		return local, nil
	}
	if p, err := xdg.SearchConfigFile(filepath.Join(AppName, env+".yaml")); err == nil {
		return p, nil
	}
	return "", nil
}

func load(path string) (*Config, error) {
	var fc fileConfig
	secretsDir := "config"
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
		secretsDir = filepath.Dir(path)
	}

	cfg := &Config{Path: path}

	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}

	cfg.WeatherAPIKey = os.Getenv("WEATHER_API_KEY")
	if cfg.WeatherAPIKey == "" {
		key, err := loadAPIKeyFromSecrets(filepath.Join(secretsDir, "secrets.yaml"))
		if err != nil {
			return nil, err
		}
		cfg.WeatherAPIKey = key
	}
	if cfg.WeatherAPIKey == "" {
		return nil, errors.New("WEATHER_API_KEY required (set env or secrets.yaml weather_api_key)")
	}

	cfg.WeatherAPIURL = fc.WeatherAPI.URL
	if cfg.WeatherAPIURL == "" {
		cfg.WeatherAPIURL = "https://api.openweathermap.org/data/2.5/"
	}
	cfg.WeatherAPITimeout = parseDurationOrZero(fc.WeatherAPI.Timeout, 10*time.Second)
	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 15*time.Second)

	cfg.CacheTTL = parseDuration(fc.Cache.TTL, 10*time.Minute)
	cfg.CacheBackend = strings.TrimSpace(strings.ToLower(os.Getenv("CACHE_BACKEND")))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = strings.TrimSpace(strings.ToLower(fc.Cache.Backend))
	}
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = "in_memory"
	}

	cfg.MemcachedAddrs = os.Getenv("MEMCACHED_ADDRS")
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = fc.Cache.Memcached.Addrs
	}
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = fc.Cache.Redis.Addr
	}
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = "localhost:6379"
	}
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	if cfg.RedisPassword == "" {
		cfg.RedisPassword = fc.Cache.Redis.Password
	}
	cfg.RedisDB = fc.Cache.Redis.DB
	cfg.RedisTimeout = parseDuration(fc.Cache.Redis.Timeout, time.Second)

	cfg.CircuitBreakerEnabled = true
	if fc.CircuitBreaker.Enabled != nil {
		cfg.CircuitBreakerEnabled = *fc.CircuitBreaker.Enabled
	}
	cfg.CircuitBreakerFailureThreshold = positiveOr(fc.CircuitBreaker.FailureThreshold, 5)
	cfg.CircuitBreakerSuccessThreshold = positiveOr(fc.CircuitBreaker.SuccessThreshold, 2)
	cfg.CircuitBreakerTimeout = parseDuration(fc.CircuitBreaker.Timeout, 30*time.Second)

	cfg.RateLimitRPS = positiveOr(fc.RateLimit.RPS, 5)
	cfg.RateLimitBurst = positiveOr(fc.RateLimit.Burst, 10)

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 10*time.Second)

	cfg.DefaultCity = strings.TrimSpace(fc.Dashboard.DefaultCity)
	if cfg.DefaultCity == "" {
		cfg.DefaultCity = "Prague"
	}
	units := os.Getenv("WEATHER_UNITS")
	if units == "" {
		units = fc.Dashboard.Units
	}
	cfg.DefaultUnits = models.Units(strings.ToLower(strings.TrimSpace(units)))
	if cfg.DefaultUnits == "" {
		cfg.DefaultUnits = models.DefaultUnits
	}
	cfg.RefreshInterval = parseDuration(fc.Dashboard.RefreshInterval, 10*time.Minute)
	cfg.HistorySize = fc.Dashboard.HistorySize
	cfg.CityMinLength = positiveOr(fc.Dashboard.CityMinLength, 1)
	cfg.CityMaxLength = positiveOr(fc.Dashboard.CityMaxLength, 100)
	cfg.TrackedCities = fc.Dashboard.TrackedCities
	cfg.WarmCache = fc.Dashboard.WarmCache
	cfg.WarmInterval = parseDuration(fc.Dashboard.WarmInterval, 5*time.Minute)

	cfg.DegradedWindow = parseDuration(fc.Health.DegradedWindow, 60*time.Second)
	cfg.DegradedErrorPct = positiveOr(fc.Health.DegradedErrorPct, 20)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadAPIKeyFromSecrets returns "" when the file does not exist.
func loadAPIKeyFromSecrets(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read secrets file: %w", err)
	}
	var sec secretsFile
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return "", fmt.Errorf("parse secrets file: %w", err)
	}
	return strings.TrimSpace(sec.WeatherAPIKey), nil
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Zero and negative durations are returned as-is for validate to reject.
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

func positiveOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// validate checks cross-field constraints. RequestTimeout is raised to at least
// WeatherAPITimeout plus one second.
func validate(cfg *Config) error {
	if cfg.WeatherAPITimeout <= 0 {
		return errors.New("weather_api.timeout must be positive")
	}
	if cfg.RequestTimeout <= cfg.WeatherAPITimeout {
		cfg.RequestTimeout = cfg.WeatherAPITimeout + time.Second
	}
	switch cfg.CacheBackend {
	case "in_memory", "memcached", "redis":
	default:
		return fmt.Errorf("cache.backend must be in_memory, memcached or redis, got %q", cfg.CacheBackend)
	}
	if !cfg.DefaultUnits.Valid() {
		return fmt.Errorf("dashboard.units must be metric or imperial, got %q", cfg.DefaultUnits)
	}
	if cfg.CityMinLength > cfg.CityMaxLength {
		return fmt.Errorf("dashboard.city_min_length %d exceeds city_max_length %d", cfg.CityMinLength, cfg.CityMaxLength)
	}
	if _, err := strconv.Atoi(cfg.ServerPort); err != nil {
		return fmt.Errorf("server.port must be numeric, got %q", cfg.ServerPort)
	}
	return nil
}
