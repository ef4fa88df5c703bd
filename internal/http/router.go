package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weatherdash/internal/observability"
)

// NewRouter wires the dashboard routes. Routes that reach the weather API sit
// behind the rate limiter and requestTimeout; /health, /metrics and the cities
// history do not.
func NewRouter(h *Handler, limiter *rate.Limiter, requestTimeout time.Duration, logger *zap.Logger) *mux.Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)

	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler())
	router.HandleFunc("/cities", h.GetCities).Methods(http.MethodGet)
	router.HandleFunc("/cities", h.DeleteCities).Methods(http.MethodDelete)
	router.HandleFunc("/cache", h.DeleteCache).Methods(http.MethodDelete)

	api := router.NewRoute().Subrouter()
	api.Use(RateLimitMiddleware(limiter))
	if requestTimeout > 0 {
		api.Use(TimeoutMiddleware(requestTimeout))
	}
	api.HandleFunc("/weather/{city}", h.GetWeather).Methods(http.MethodGet)
	api.HandleFunc("/forecast/{city}", h.GetForecast).Methods(http.MethodGet)
	api.HandleFunc("/forecast/{city}/daily", h.GetDailyForecast).Methods(http.MethodGet)
	api.HandleFunc("/forecast/{city}/hourly", h.GetHourlyForecast).Methods(http.MethodGet)
	api.HandleFunc("/uv", h.GetUV).Methods(http.MethodGet)

	return router
}
