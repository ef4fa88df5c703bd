//go:build integration
// +build integration

package client

import (
	"context"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/kjstillabower/weatherdash/internal/models"
	"github.com/kjstillabower/weatherdash/internal/testhelpers"
)

var hexKey = regexp.MustCompile(`^[0-9a-fA-F]{32}$`)

func newLiveClient(t *testing.T) *OpenWeatherClient {
	t.Helper()
	cfg := testhelpers.GetIntegrationConfig(t)
	if !hexKey.MatchString(cfg.APIKey) {
		t.Fatalf("API key format validation failed: %s", fmt.Sprintf("length %d, expected 32 hex characters", len(cfg.APIKey)))
	}
	c, err := NewOpenWeatherClient(cfg.APIKey, cfg.APIURL, 10*time.Second, nil, 0)
	if err != nil {
		t.Fatalf("NewOpenWeatherClient() error = %v", err)
	}
	return c
}

func TestOpenWeatherClient_ValidateAPIKey_Integration(t *testing.T) {
	c := newLiveClient(t)
	if err := c.ValidateAPIKey(context.Background()); err != nil {
		t.Errorf("ValidateAPIKey() error = %v, want nil (API key may not be activated yet)", err)
	}
}

func TestOpenWeatherClient_Live_Integration(t *testing.T) {
	c := newLiveClient(t)
	ctx := context.Background()

	cur, err := c.GetCurrentConditions(ctx, "Prague", models.UnitsMetric)
	if err != nil {
		t.Fatalf("GetCurrentConditions() error = %v", err)
	}
	if cur.City == "" || cur.Icon == "" {
		t.Errorf("GetCurrentConditions() = %+v, missing fields", cur)
	}

	if _, err := c.GetUVIndex(ctx, cur.Lat, cur.Lon); err != nil {
		t.Errorf("GetUVIndex() error = %v", err)
	}

	points, err := c.GetForecast(ctx, "Prague", models.UnitsMetric, 24)
	if err != nil {
		t.Fatalf("GetForecast() error = %v", err)
	}
	for i := 1; i < len(points); i++ {
		if points[i].Timestamp < points[i-1].Timestamp {
			t.Errorf("forecast out of order at %d", i)
		}
	}
}
