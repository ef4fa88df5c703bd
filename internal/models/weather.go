package models

import (
	"fmt"
	"time"
)

const iconURLPattern = "https://openweathermap.org/img/wn/%s@2x.png"

// CurrentConditions is the current weather for one city, as reported by the
// "current weather by city name" endpoint.
type CurrentConditions struct {
	City        string  `json:"city"`
	Temperature float64 `json:"temperature"`
	FeelsLike   float64 `json:"feelsLike"`
	Humidity    int     `json:"humidity"`
	Pressure    int     `json:"pressure"`
	WindSpeed   float64 `json:"windSpeed"`
	Category    string  `json:"category"`
	Description string  `json:"description"`
	Icon        string  `json:"icon"`
	Sunrise     int64   `json:"sunrise"`
	Sunset      int64   `json:"sunset"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
}

// IconURL returns the CDN URL of the 2x icon for the conditions.
// Empty when the provider returned no icon.
func (c CurrentConditions) IconURL() string {
	if c.Icon == "" {
		return ""
	}
	return fmt.Sprintf(iconURLPattern, c.Icon)
}

func (c CurrentConditions) SunriseTime() time.Time {
	return time.Unix(c.Sunrise, 0)
}

func (c CurrentConditions) SunsetTime() time.Time {
	return time.Unix(c.Sunset, 0)
}

// ForecastPoint is one forecast sample. A forecast is a slice of points in the
// order the provider returned them (ascending timestamp).
type ForecastPoint struct {
	Timestamp   int64   `json:"timestamp"`
	Temperature float64 `json:"temperature"`
}

// Time returns the point's timestamp as a time.Time.
func (p ForecastPoint) Time() time.Time {
	return time.Unix(p.Timestamp, 0)
}
