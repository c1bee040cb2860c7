package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/parley-chat/parley/models"
)

// WeatherTool returns the current-weather tool, backed by the
// Open-Meteo API (no key required).
func WeatherTool() Tool {
	return Tool{
		Declaration: models.FunctionDeclaration{
			Name:        "get_weather",
			Description: "Get the current weather for a location. Returns temperature, wind speed and a short condition description.",
			Parameters: models.Parameters{
				Type: "object",
				Properties: map[string]interface{}{
					"location": map[string]interface{}{
						"type":        "string",
						"description": "City name, e.g. 'Berlin' or 'San Francisco'",
					},
				},
				Required: []string{"location"},
			},
		},
		Handler: getWeather,
	}
}

type geocodeResponse struct {
	Results []struct {
		Name      string  `json:"name"`
		Country   string  `json:"country"`
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"results"`
}

type forecastResponse struct {
	CurrentWeather struct {
		Temperature float64 `json:"temperature"`
		WindSpeed   float64 `json:"windspeed"`
		WeatherCode int     `json:"weathercode"`
	} `json:"current_weather"`
}

func getWeather(ctx context.Context, args map[string]interface{}) (string, error) {
	location, _ := args["location"].(string)
	if location == "" {
		return "", fmt.Errorf("location must be a non-empty string")
	}

	geocodeURL := fmt.Sprintf(
		"https://geocoding-api.open-meteo.com/v1/search?name=%s&count=1",
		url.QueryEscape(location))
	var geo geocodeResponse
	if err := getJSON(ctx, geocodeURL, &geo); err != nil {
		return "", fmt.Errorf("geocoding failed: %w", err)
	}
	if len(geo.Results) == 0 {
		return fmt.Sprintf("No location found matching %q", location), nil
	}
	place := geo.Results[0]

	forecastURL := fmt.Sprintf(
		"https://api.open-meteo.com/v1/forecast?latitude=%f&longitude=%f&current_weather=true",
		place.Latitude, place.Longitude)
	var forecast forecastResponse
	if err := getJSON(ctx, forecastURL, &forecast); err != nil {
		return "", fmt.Errorf("forecast request failed: %w", err)
	}

	cw := forecast.CurrentWeather
	return fmt.Sprintf("Current weather in %s, %s: %s, %.1f°C, wind %.1f km/h",
		place.Name, place.Country, describeWeatherCode(cw.WeatherCode), cw.Temperature, cw.WindSpeed), nil
}

func getJSON(ctx context.Context, rawURL string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
	return json.Unmarshal(body, out)
}

// describeWeatherCode maps WMO weather interpretation codes to text.
func describeWeatherCode(code int) string {
	switch {
	case code == 0:
		return "clear sky"
	case code <= 3:
		return "partly cloudy"
	case code <= 48:
		return "fog"
	case code <= 57:
		return "drizzle"
	case code <= 67:
		return "rain"
	case code <= 77:
		return "snow"
	case code <= 82:
		return "rain showers"
	case code <= 86:
		return "snow showers"
	default:
		return "thunderstorm"
	}
}
