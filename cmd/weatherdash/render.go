package main

import (
	"fmt"
	"io"
	"time"

	"github.com/kjstillabower/weatherdash/internal/models"
	"github.com/kjstillabower/weatherdash/internal/service"
)

const (
	clockLayout   = "15:04"
	dayLayout     = "2006-01-02 15:04"
	updatedLayout = "2006-01-02 15:04:05"
)

// renderSnapshot prints a snapshot the way the dashboard panel lays it out.
// Times are shown in loc.
func renderSnapshot(w io.Writer, snap service.Snapshot, loc *time.Location) error {
	c := snap.Conditions
	sym := snap.Units.TemperatureSymbol()
	lines := []struct{ label, value string }{
		{"City", c.City},
		{"Conditions", fmt.Sprintf("%s (%s)", c.Category, c.Description)},
		{"Temperature", fmt.Sprintf("%.1f%s", c.Temperature, sym)},
		{"Feels like", fmt.Sprintf("%.1f%s", c.FeelsLike, sym)},
		{"Wind", fmt.Sprintf("%.1f %s", c.WindSpeed, snap.Units.SpeedUnit())},
		{"Humidity", fmt.Sprintf("%d%%", c.Humidity)},
		{"Pressure", fmt.Sprintf("%d hPa", c.Pressure)},
		{"UV index", fmt.Sprintf("%.1f", snap.UVIndex)},
		{"Sunrise/set", c.SunriseTime().In(loc).Format(clockLayout) + " / " + c.SunsetTime().In(loc).Format(clockLayout)},
		{"Icon", c.IconURL()},
		{"Updated", snap.FetchedAt.In(loc).Format(updatedLayout)},
	}
	for _, l := range lines {
		if _, err := fmt.Fprintf(w, "%-12s %s\n", l.label+":", l.value); err != nil {
			return err
		}
	}
	return nil
}

// renderForecast prints one line per point. Daily lines carry the date, hourly
// lines only the clock time.
func renderForecast(w io.Writer, points []models.ForecastPoint, units models.Units, hourly bool, loc *time.Location) error {
	layout := dayLayout
	if hourly {
		layout = clockLayout
	}
	for _, p := range points {
		if _, err := fmt.Fprintf(w, "%s: %.1f%s\n", p.Time().In(loc).Format(layout), p.Temperature, units.TemperatureSymbol()); err != nil {
			return err
		}
	}
	return nil
}
