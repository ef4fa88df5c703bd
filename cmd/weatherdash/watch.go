package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kjstillabower/weatherdash/internal/client"
	"github.com/kjstillabower/weatherdash/internal/models"
	"github.com/kjstillabower/weatherdash/internal/observability"
	"github.com/kjstillabower/weatherdash/internal/service"
)

func newWatchCmd(flags *rootFlags) *cobra.Command {
	var every time.Duration
	cmd := &cobra.Command{
		Use:   "watch <city>",
		Short: "Print a snapshot for a city on a schedule until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags.config, zapcore.WarnLevel)
			if err != nil {
				return err
			}
			defer a.close()
			if !cmd.Flags().Changed("every") {
				every = a.cfg.RefreshInterval
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			w := &watcher{
				dashboard: a.dashboard,
				city:      args[0],
				units:     flags.Units(),
				out:       cmd.OutOrStdout(),
				loc:       flags.loc,
				logger:    a.logger,
			}
			return w.run(ctx, every)
		},
	}
	cmd.Flags().DurationVar(&every, "every", 10*time.Minute, "refresh interval (at least 1s)")
	return cmd
}

// watcher prints one snapshot per tick. Overlapping ticks are skipped.
type watcher struct {
	dashboard *service.Dashboard
	city      string
	units     models.Units
	out       io.Writer
	loc       *time.Location
	logger    *zap.Logger
}

func (w *watcher) run(ctx context.Context, every time.Duration) error {
	if every < time.Second {
		return fmt.Errorf("--every must be at least 1s, got %s", every)
	}
	// Input errors end the watch; upstream failures wait for the next tick.
	if err := w.tick(ctx); errors.Is(err, client.ErrInvalidRequest) {
		return err
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{w.logger})))
	if _, err := c.AddFunc("@every "+every.String(), func() { _ = w.tick(ctx) }); err != nil {
		return fmt.Errorf("schedule watch: %w", err)
	}
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// tick prints one snapshot, or one error line when the refresh fails.
func (w *watcher) tick(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	runID := uuid.New().String()
	ctx = observability.WithCorrelationID(ctx, runID)
	logger := w.logger.With(zap.String("run_id", runID))

	snap, err := w.dashboard.Current(ctx, w.city, w.units)
	if err != nil {
		logger.Warn("watch refresh failed", zap.String("city", w.city), zap.Error(err))
		fmt.Fprintf(w.out, "%s  %v\n\n", time.Now().In(w.loc).Format(updatedLayout), userError(err))
		return err
	}
	if err := renderSnapshot(w.out, snap, w.loc); err != nil {
		logger.Warn("watch render failed", zap.Error(err))
		return err
	}
	_, err = fmt.Fprintln(w.out)
	return err
}

// cronLogger sends the scheduler's own messages to zap.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
