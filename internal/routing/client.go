package routing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrRouteUnavailable marks any failure of the external routing provider.
// Callers degrade (omit the ETA) instead of failing the whole request.
var ErrRouteUnavailable = errors.New("route unavailable")

const defaultBaseURL = "https://routes.googleapis.com/directions/v2:computeRoutes"

// LatLng is a coordinate pair.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Leg is one segment of a computed route.
type Leg struct {
	DurationSec    int    `json:"duration_sec"`
	DistanceMeters int    `json:"distance_meters"`
	DurationText   string `json:"duration_text"`
	DistanceText   string `json:"distance_text"`
}

// Route is the provider's answer for one origin/destination pair.
type Route struct {
	Polyline       string `json:"polyline"`
	DurationSec    int    `json:"duration_sec"`
	DistanceMeters int    `json:"distance_meters"`
	Legs           []Leg  `json:"legs"`
}

// Client calls the Google Routes API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewClient builds a routing client with a bounded request timeout.
func NewClient(apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// ComputeRoute asks the provider for a driving route. Any provider failure
// comes back wrapped in ErrRouteUnavailable.
func (c *Client) ComputeRoute(ctx context.Context, origin, destination LatLng, intermediates []LatLng) (*Route, error) {
	body, err := json.Marshal(buildRequest(origin, destination, intermediates))
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", ErrRouteUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRouteUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Api-Key", c.apiKey)
	req.Header.Set("X-Goog-FieldMask",
		"routes.duration,routes.distanceMeters,routes.polyline.encodedPolyline,routes.legs.duration,routes.legs.distanceMeters")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRouteUnavailable, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: provider status %d: %s", ErrRouteUnavailable, resp.StatusCode, raw)
	}

	var parsed apiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("%w: unmarshal response: %v", ErrRouteUnavailable, err)
	}
	if len(parsed.Routes) == 0 {
		return nil, fmt.Errorf("%w: no routes returned", ErrRouteUnavailable)
	}

	best := parsed.Routes[0]
	route := &Route{
		Polyline:       best.Polyline.EncodedPolyline,
		DurationSec:    parseDurationStr(best.Duration),
		DistanceMeters: best.DistanceMeters,
	}
	for _, leg := range best.Legs {
		dur := parseDurationStr(leg.Duration)
		route.Legs = append(route.Legs, Leg{
			DurationSec:    dur,
			DistanceMeters: leg.DistanceMeters,
			DurationText:   FormatDuration(dur),
			DistanceText:   FormatDistance(leg.DistanceMeters),
		})
	}
	return route, nil
}

// ---- provider wire types ----

type apiRequest struct {
	Origin                   *waypoint  `json:"origin"`
	Destination              *waypoint  `json:"destination"`
	Intermediates            []waypoint `json:"intermediates,omitempty"`
	TravelMode               string     `json:"travelMode"`
	RoutingPreference        string     `json:"routingPreference"`
	ComputeAlternativeRoutes bool       `json:"computeAlternativeRoutes"`
}

type waypoint struct {
	Location *location `json:"location"`
}

type location struct {
	LatLng *wireLatLng `json:"latLng"`
}

type wireLatLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type apiResponse struct {
	Routes []apiRoute `json:"routes"`
}

type apiRoute struct {
	Duration       string      `json:"duration"`
	DistanceMeters int         `json:"distanceMeters"`
	Polyline       apiPolyline `json:"polyline"`
	Legs           []apiLeg    `json:"legs"`
}

type apiPolyline struct {
	EncodedPolyline string `json:"encodedPolyline"`
}

type apiLeg struct {
	Duration       string `json:"duration"`
	DistanceMeters int    `json:"distanceMeters"`
}

func buildRequest(origin, destination LatLng, intermediates []LatLng) apiRequest {
	req := apiRequest{
		Origin:            &waypoint{Location: &location{LatLng: &wireLatLng{Latitude: origin.Lat, Longitude: origin.Lng}}},
		Destination:       &waypoint{Location: &location{LatLng: &wireLatLng{Latitude: destination.Lat, Longitude: destination.Lng}}},
		TravelMode:        "DRIVE",
		RoutingPreference: "TRAFFIC_AWARE",
	}
	for _, wp := range intermediates {
		req.Intermediates = append(req.Intermediates, waypoint{
			Location: &location{LatLng: &wireLatLng{Latitude: wp.Lat, Longitude: wp.Lng}},
		})
	}
	return req
}

// parseDurationStr parses the provider's "123s" duration format into seconds.
func parseDurationStr(s string) int {
	var secs int
	fmt.Sscanf(s, "%ds", &secs)
	return secs
}

// FormatDuration renders seconds for display ("5 min", "1 hr 20 min").
func FormatDuration(secs int) string {
	if secs < 60 {
		return fmt.Sprintf("%d sec", secs)
	}
	mins := secs / 60
	if mins < 60 {
		return fmt.Sprintf("%d min", mins)
	}
	hours := mins / 60
	if mins%60 == 0 {
		return fmt.Sprintf("%d hr", hours)
	}
	return fmt.Sprintf("%d hr %d min", hours, mins%60)
}

// FormatDistance renders meters for display ("800 m", "2.4 km").
func FormatDistance(meters int) string {
	if meters < 1000 {
		return fmt.Sprintf("%d m", meters)
	}
	return fmt.Sprintf("%.1f km", float64(meters)/1000.0)
}
