package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/kjstillabower/weatherdash/internal/circuitbreaker"
	"github.com/kjstillabower/weatherdash/internal/client"
	"github.com/kjstillabower/weatherdash/internal/models"
	"github.com/kjstillabower/weatherdash/internal/validation"
)

type rootFlags struct {
	units  string
	config string
	// loc is where printed times are shown. Tests pin it to UTC.
	loc *time.Location
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{loc: time.Local}
	root := &cobra.Command{
		Use:           "weatherdash",
		Short:         "Current conditions, UV index and forecasts from OpenWeatherMap",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if flags.units == "" {
				return nil
			}
			_, err := validation.ParseUnits(flags.units)
			return err
		},
	}
	root.PersistentFlags().StringVar(&flags.units, "units", "", "metric or imperial (default from config)")
	root.PersistentFlags().StringVar(&flags.config, "config", "", "path to config file")

	root.AddCommand(
		newCurrentCmd(flags),
		newForecastCmd(flags),
		newUVCmd(flags),
		newWatchCmd(flags),
		newCacheCmd(flags),
		newServeCmd(flags),
		newVersionCmd(),
	)
	return root
}

// Units returns the --units value, or "" so the dashboard default applies.
func (f *rootFlags) Units() models.Units {
	u, err := validation.ParseUnits(f.units)
	if err != nil || f.units == "" {
		return ""
	}
	return u
}

// oneShot builds an app for a single command at WARN so stdout stays readable.
func (f *rootFlags) oneShot() (*app, error) {
	return newApp(f.config, zapcore.WarnLevel)
}

func newCurrentCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "current <city>",
		Short: "Show current conditions and UV index for a city",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := flags.oneShot()
			if err != nil {
				return err
			}
			defer a.close()

			snap, err := a.dashboard.Current(cmd.Context(), args[0], flags.Units())
			if err != nil {
				return userError(err)
			}
			return renderSnapshot(cmd.OutOrStdout(), snap, flags.loc)
		},
	}
}

func newForecastCmd(flags *rootFlags) *cobra.Command {
	var hourly bool
	var count int
	cmd := &cobra.Command{
		Use:   "forecast <city>",
		Short: "Show a three-day forecast, or the next hours with --hourly",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := flags.oneShot()
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			units := flags.Units()
			if units == "" {
				units = a.dashboard.DefaultUnits()
			}
			var points []models.ForecastPoint
			switch {
			case cmd.Flags().Changed("count"):
				points, err = a.dashboard.Forecast(ctx, args[0], units, count)
			case hourly:
				points, err = a.dashboard.HourlyForecast(ctx, args[0], units)
			default:
				points, err = a.dashboard.DailyForecast(ctx, args[0], units)
			}
			if err != nil {
				return userError(err)
			}
			return renderForecast(cmd.OutOrStdout(), points, units, hourly, flags.loc)
		},
	}
	cmd.Flags().BoolVar(&hourly, "hourly", false, "show the next four 3-hour points")
	cmd.Flags().IntVar(&count, "count", 0, "raw number of 3-hour points (1-40)")
	return cmd
}

func newUVCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "uv <lat> <lon>",
		Short: "Show the UV index at a coordinate",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			lat, lon, err := validation.ParseCoordinates(args[0], args[1])
			if err != nil {
				return err
			}
			a, err := flags.oneShot()
			if err != nil {
				return err
			}
			defer a.close()

			uv, err := a.dashboard.UVIndex(cmd.Context(), lat, lon)
			if err != nil {
				return userError(err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "UV index at %.4f,%.4f: %.1f\n", lat, lon, uv)
			return err
		},
	}
}

func newCacheCmd(flags *rootFlags) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the response cache",
	}
	cacheCmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Drop every cached response in the configured backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := flags.oneShot()
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.dashboard.ClearCache(cmd.Context()); err != nil {
				return fmt.Errorf("clear cache: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "cache cleared (%s)\n", a.cfg.CacheBackend)
			return err
		},
	})
	return cacheCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "weatherdash %s (commit: %s)\n", version, commit)
		},
	}
}

// userError turns a client failure into the one line a user should see.
func userError(err error) error {
	var te *client.TransportError
	var pe *client.ParseError
	var re *client.RemoteServiceError
	switch {
	case errors.Is(err, client.ErrInvalidRequest):
		return err
	case errors.Is(err, client.ErrLocationNotFound):
		return errors.New("city not found")
	case errors.Is(err, client.ErrInvalidAPIKey):
		return errors.New("the weather API rejected the API key (check WEATHER_API_KEY)")
	case errors.Is(err, client.ErrRateLimited):
		return errors.New("the weather API rate limit was reached, try again later")
	case errors.Is(err, circuitbreaker.ErrOpen):
		return errors.New("the weather API is failing, requests are paused for a moment")
	case errors.As(err, &te) && te.Timeout():
		return errors.New("the weather API did not answer in time")
	case errors.As(err, &te):
		return errors.New("could not reach the weather API")
	case errors.As(err, &pe):
		return errors.New("unexpected response from the weather API")
	case errors.As(err, &re):
		return fmt.Errorf("the weather API returned HTTP %d", re.StatusCode)
	default:
		return err
	}
}
