package client

import (
	"fmt"

	"github.com/kjstillabower/weatherdash/internal/models"
)

// Wire shapes of the OpenWeatherMap 2.5 responses. Pointer fields tell a
// missing field apart from a zero value; unknown fields are ignored.

type weatherResponse struct {
	Coord *struct {
		Lat *float64 `json:"lat"`
		Lon *float64 `json:"lon"`
	} `json:"coord"`
	Weather []struct {
		Main        *string `json:"main"`
		Description *string `json:"description"`
		Icon        *string `json:"icon"`
	} `json:"weather"`
	Main *struct {
		Temp      *float64 `json:"temp"`
		FeelsLike *float64 `json:"feels_like"`
		Humidity  *int     `json:"humidity"`
		Pressure  *int     `json:"pressure"`
	} `json:"main"`
	Wind *struct {
		Speed *float64 `json:"speed"`
	} `json:"wind"`
	Sys *struct {
		Sunrise *int64 `json:"sunrise"`
		Sunset  *int64 `json:"sunset"`
	} `json:"sys"`
	Name *string `json:"name"`
}

func (r *weatherResponse) toModel() (models.CurrentConditions, error) {
	const ep = endpointWeather
	switch {
	case r.Main == nil:
		return models.CurrentConditions{}, missing(ep, "main")
	case r.Main.Temp == nil:
		return models.CurrentConditions{}, missing(ep, "main.temp")
	case r.Main.FeelsLike == nil:
		return models.CurrentConditions{}, missing(ep, "main.feels_like")
	case r.Main.Humidity == nil:
		return models.CurrentConditions{}, missing(ep, "main.humidity")
	case r.Main.Pressure == nil:
		return models.CurrentConditions{}, missing(ep, "main.pressure")
	case len(r.Weather) == 0:
		return models.CurrentConditions{}, missing(ep, "weather[0]")
	case r.Weather[0].Main == nil:
		return models.CurrentConditions{}, missing(ep, "weather[0].main")
	case r.Weather[0].Description == nil:
		return models.CurrentConditions{}, missing(ep, "weather[0].description")
	case r.Weather[0].Icon == nil:
		return models.CurrentConditions{}, missing(ep, "weather[0].icon")
	case r.Wind == nil || r.Wind.Speed == nil:
		return models.CurrentConditions{}, missing(ep, "wind.speed")
	case r.Sys == nil || r.Sys.Sunrise == nil:
		return models.CurrentConditions{}, missing(ep, "sys.sunrise")
	case r.Sys.Sunset == nil:
		return models.CurrentConditions{}, missing(ep, "sys.sunset")
	case r.Coord == nil || r.Coord.Lat == nil:
		return models.CurrentConditions{}, missing(ep, "coord.lat")
	case r.Coord.Lon == nil:
		return models.CurrentConditions{}, missing(ep, "coord.lon")
	case r.Name == nil:
		return models.CurrentConditions{}, missing(ep, "name")
	}

	w := r.Weather[0]
	return models.CurrentConditions{
		City:        *r.Name,
		Temperature: *r.Main.Temp,
		FeelsLike:   *r.Main.FeelsLike,
		Humidity:    *r.Main.Humidity,
		Pressure:    *r.Main.Pressure,
		WindSpeed:   *r.Wind.Speed,
		Category:    *w.Main,
		Description: *w.Description,
		Icon:        *w.Icon,
		Sunrise:     *r.Sys.Sunrise,
		Sunset:      *r.Sys.Sunset,
		Lat:         *r.Coord.Lat,
		Lon:         *r.Coord.Lon,
	}, nil
}

type uvResponse struct {
	Value *float64 `json:"value"`
}

type forecastResponse struct {
	List *[]struct {
		Dt   *int64 `json:"dt"`
		Main *struct {
			Temp *float64 `json:"temp"`
		} `json:"main"`
	} `json:"list"`
}

// toModel keeps the provider's list order.
func (r *forecastResponse) toModel() ([]models.ForecastPoint, error) {
	const ep = endpointForecast
	if r.List == nil {
		return nil, missing(ep, "list")
	}
	points := make([]models.ForecastPoint, 0, len(*r.List))
	for i, item := range *r.List {
		if item.Dt == nil {
			return nil, missing(ep, fmt.Sprintf("list[%d].dt", i))
		}
		if item.Main == nil || item.Main.Temp == nil {
			return nil, missing(ep, fmt.Sprintf("list[%d].main.temp", i))
		}
		points = append(points, models.ForecastPoint{Timestamp: *item.Dt, Temperature: *item.Main.Temp})
	}
	return points, nil
}
