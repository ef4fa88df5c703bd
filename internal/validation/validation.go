package validation

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/kjstillabower/weatherdash/internal/models"
)

// ErrCityEmpty is returned when the city is empty or whitespace-only after trim.
var ErrCityEmpty = errors.New("city is required")

// ErrCityTooShort is returned when the city length is below the minimum.
var ErrCityTooShort = errors.New("city too short")

// ErrCityTooLong is returned when the city length exceeds the maximum.
var ErrCityTooLong = errors.New("city too long")

// ErrCityInvalidChars is returned when the city contains disallowed characters.
var ErrCityInvalidChars = errors.New("city contains invalid characters")

var (
	ErrInvalidUnits       = errors.New("units must be metric or imperial")
	ErrInvalidCoordinates = errors.New("invalid coordinates")
	ErrInvalidCount       = errors.New("invalid forecast count")
)

// MaxForecastCount is the most 3-hour points the forecast endpoint returns (5 days).
const MaxForecastCount = 40

// ValidateCity trims the input, enforces length bounds (minLen, maxLen in runes;
// zero disables a bound) and restricts it to letters, digits, space, comma,
// hyphen, apostrophe and period. Returns the trimmed city.
func ValidateCity(input string, minLen, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	n := len(r)
	if n == 0 {
		return "", ErrCityEmpty
	}
	if minLen > 0 && n < minLen {
		return "", ErrCityTooShort
	}
	if maxLen > 0 && n > maxLen {
		return "", ErrCityTooLong
	}
	for _, c := range r {
		if !isAllowedCityRune(c) {
			return "", ErrCityInvalidChars
		}
	}
	return s, nil
}

func isAllowedCityRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.IsMark(r) {
		return true
	}
	switch r {
	case ' ', ',', '-', '\'', '.':
		return true
	}
	return false
}

// ParseUnits parses a units string case-insensitively. Empty selects models.DefaultUnits.
func ParseUnits(s string) (models.Units, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return models.DefaultUnits, nil
	}
	u := models.Units(s)
	if !u.Valid() {
		return "", fmt.Errorf("%w: got %q", ErrInvalidUnits, s)
	}
	return u, nil
}

// ValidateCoordinates checks latitude in [-90, 90] and longitude in [-180, 180].
func ValidateCoordinates(lat, lon float64) error {
	if math.IsNaN(lat) || math.IsNaN(lon) {
		return fmt.Errorf("%w: not a number", ErrInvalidCoordinates)
	}
	if lat < -90 || lat > 90 {
		return fmt.Errorf("%w: latitude %v out of range", ErrInvalidCoordinates, lat)
	}
	if lon < -180 || lon > 180 {
		return fmt.Errorf("%w: longitude %v out of range", ErrInvalidCoordinates, lon)
	}
	return nil
}

// ParseCoordinates parses and validates a latitude/longitude pair.
func ParseCoordinates(latStr, lonStr string) (float64, float64, error) {
	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: latitude %q", ErrInvalidCoordinates, latStr)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(lonStr), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: longitude %q", ErrInvalidCoordinates, lonStr)
	}
	if err := ValidateCoordinates(lat, lon); err != nil {
		return 0, 0, err
	}
	return lat, lon, nil
}

// ValidateCount checks a forecast point count is within 1..MaxForecastCount.
func ValidateCount(n int) error {
	if n < 1 || n > MaxForecastCount {
		return fmt.Errorf("%w: %d not in 1..%d", ErrInvalidCount, n, MaxForecastCount)
	}
	return nil
}
