package models

// Units selects the measurement system for a request. It changes the query
// sent upstream, so each unit system is cached separately.
type Units string

const (
	UnitsMetric   Units = "metric"
	UnitsImperial Units = "imperial"
)

// DefaultUnits is used when the caller does not pick a unit system.
const DefaultUnits = UnitsMetric

// Valid reports whether u is a unit system the provider accepts.
func (u Units) Valid() bool {
	return u == UnitsMetric || u == UnitsImperial
}

// Toggle switches between metric and imperial. Invalid values toggle to imperial.
func (u Units) Toggle() Units {
	if u == UnitsImperial {
		return UnitsMetric
	}
	return UnitsImperial
}

// TemperatureSymbol returns "°C" for metric and "°F" for imperial.
func (u Units) TemperatureSymbol() string {
	if u == UnitsImperial {
		return "°F"
	}
	return "°C"
}

// SpeedUnit returns the wind speed unit the provider reports in.
func (u Units) SpeedUnit() string {
	if u == UnitsImperial {
		return "mph"
	}
	return "m/s"
}

func (u Units) String() string {
	return string(u)
}
