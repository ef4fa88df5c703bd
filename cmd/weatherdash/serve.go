package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weatherdash/internal/cache"
	httphandler "github.com/kjstillabower/weatherdash/internal/http"
	"github.com/kjstillabower/weatherdash/internal/observability"
)

const inFlightCheckInterval = 50 * time.Millisecond

func newServeCmd(flags *rootFlags) *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the dashboard JSON API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags.config, zapcore.InfoLevel)
			if err != nil {
				return err
			}
			defer a.close()
			if port != "" {
				a.cfg.ServerPort = port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ln, err := net.Listen("tcp", ":"+a.cfg.ServerPort)
			if err != nil {
				return err
			}
			return serve(ctx, a, ln)
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "listen port (default from config)")
	return cmd
}

// serve runs the API on ln until ctx is done, then drains in-flight requests.
func serve(ctx context.Context, a *app, ln net.Listener) error {
	cfg, logger := a.cfg, a.logger

	healthConfig := &httphandler.HealthConfig{
		DegradedWindow:   cfg.DegradedWindow,
		DegradedErrorPct: cfg.DegradedErrorPct,
		CachePing:        a.cachePing,
		Version:          version,
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	observability.RegisterRateLimitGauges(cfg.DegradedWindow)

	handler := httphandler.NewHandler(a.dashboard, a.client, healthConfig, logger)
	router := httphandler.NewRouter(handler, limiter, cfg.RequestTimeout, logger)

	warmCtx, stopWarming := context.WithCancel(ctx)
	defer stopWarming()
	if cfg.WarmCache && len(cfg.TrackedCities) > 0 {
		warmer := cache.NewCacheWarmer(a.dashboard, logger)
		cities := func() []string { return cfg.TrackedCities }
		go func() {
			if err := warmer.WarmPeriodic(warmCtx, cities, cfg.WarmInterval); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("periodic cache warming stopped", zap.Error(err))
			}
		}()
	}

	srv := &http.Server{
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", ln.Addr().String()), zap.String("cache_backend", cfg.CacheBackend))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("graceful shutdown triggered")
	handler.SetShuttingDown(true)
	stopWarming()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	if n := httphandler.InFlightCount(); n > 0 {
		logger.Info("waiting for in-flight requests", zap.Int64("count", n))
		if err := httphandler.WaitForInFlight(shutdownCtx, inFlightCheckInterval); err != nil {
			logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
		}
	}

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}
