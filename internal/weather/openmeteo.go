// Package weather looks up forecasts for points along the course. The
// tracker asks for a lead time so it can fetch conditions where a rider
// will be in a few hours, not just where they are now.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"time"
)

// Forecast is a normalized snapshot of conditions at one place and time.
type Forecast struct {
	Time             time.Time `json:"time"`
	TemperatureC     float64   `json:"temperature_c"`
	HumidityPct      float64   `json:"humidity_percent"`
	PrecipitationMM  float64   `json:"precipitation_mm"`
	WindSpeedKmh     float64   `json:"wind_speed_kmh"`
	WindDirectionDeg float64   `json:"wind_direction_deg"`
	WindCardinal     string    `json:"wind_cardinal"`
}

// Provider abstracts a forecast source.
type Provider interface {
	ForecastAt(ctx context.Context, lat, lon float64, lead time.Duration) (Forecast, error)
}

const DefaultBaseURL = "https://api.open-meteo.com/v1/forecast"

// OpenMeteo queries the open-meteo hourly forecast API.
type OpenMeteo struct {
	baseURL    string
	httpClient *http.Client
	// now is swappable for tests.
	now func() time.Time
}

func NewOpenMeteo(baseURL string, timeout time.Duration) *OpenMeteo {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &OpenMeteo{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
}

type openMeteoResponse struct {
	Hourly struct {
		Time             []string  `json:"time"`
		Temperature2m    []float64 `json:"temperature_2m"`
		RelativeHumidity []float64 `json:"relative_humidity_2m"`
		Precipitation    []float64 `json:"precipitation"`
		WindSpeed10m     []float64 `json:"wind_speed_10m"`
		WindDirection10m []float64 `json:"wind_direction_10m"`
	} `json:"hourly"`
}

// ForecastAt returns the hourly forecast closest to now+lead at the given
// coordinate.
func (o *OpenMeteo) ForecastAt(ctx context.Context, lat, lon float64, lead time.Duration) (Forecast, error) {
	q := url.Values{}
	q.Set("latitude", fmt.Sprintf("%.4f", lat))
	q.Set("longitude", fmt.Sprintf("%.4f", lon))
	q.Set("hourly", "temperature_2m,relative_humidity_2m,precipitation,wind_speed_10m,wind_direction_10m")
	q.Set("temperature_unit", "celsius")
	q.Set("precipitation_unit", "mm")
	q.Set("wind_speed_unit", "kmh")
	q.Set("timezone", "UTC")
	q.Set("forecast_days", "3")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return Forecast{}, err
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return Forecast{}, fmt.Errorf("weather: fetch forecast: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Forecast{}, fmt.Errorf("weather: fetch forecast: unexpected status %s", resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Forecast{}, fmt.Errorf("weather: read body: %w", err)
	}

	var om openMeteoResponse
	if err := json.Unmarshal(body, &om); err != nil {
		return Forecast{}, fmt.Errorf("weather: decode response: %w", err)
	}
	return o.pick(om, o.now().UTC().Add(lead))
}

// pick selects the hourly slot closest to the target time.
func (o *OpenMeteo) pick(om openMeteoResponse, target time.Time) (Forecast, error) {
	h := om.Hourly
	if len(h.Time) == 0 {
		return Forecast{}, fmt.Errorf("weather: response has no hourly data")
	}
	best := -1
	bestDiff := math.MaxFloat64
	var bestTime time.Time
	for i, ts := range h.Time {
		t, err := time.Parse("2006-01-02T15:04", ts)
		if err != nil {
			continue
		}
		diff := math.Abs(t.Sub(target).Seconds())
		if diff < bestDiff {
			best, bestDiff, bestTime = i, diff, t
		}
	}
	if best < 0 {
		return Forecast{}, fmt.Errorf("weather: response has no parsable hourly times")
	}

	f := Forecast{Time: bestTime}
	if best < len(h.Temperature2m) {
		f.TemperatureC = h.Temperature2m[best]
	}
	if best < len(h.RelativeHumidity) {
		f.HumidityPct = h.RelativeHumidity[best]
	}
	if best < len(h.Precipitation) {
		f.PrecipitationMM = h.Precipitation[best]
	}
	if best < len(h.WindSpeed10m) {
		f.WindSpeedKmh = h.WindSpeed10m[best]
	}
	if best < len(h.WindDirection10m) {
		f.WindDirectionDeg = h.WindDirection10m[best]
		f.WindCardinal = Cardinal(f.WindDirectionDeg)
	}
	return f, nil
}

var cardinals = []string{
	"N", "NNE", "NE", "ENE", "E", "ESE", "SE", "SSE",
	"S", "SSW", "SW", "WSW", "W", "WNW", "NW", "NNW",
}

// Cardinal converts a wind direction in degrees to a 16-wind compass point.
func Cardinal(deg float64) string {
	ix := int((deg + 11.25) / 22.5)
	return cardinals[((ix % 16) + 16) % 16]
}
