// Package wmata fetches live bus telemetry and network metadata from the
// WMATA API. The client does not retry; retry policy belongs to the run
// controller.
package wmata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/realmwell/dc-bus-delay-tracker/internal/store"
)

// ErrUpstream marks any failure of the upstream API: transport error,
// non-2xx status, or malformed payload.
var ErrUpstream = errors.New("upstream request failed")

// wmataTimeLayout is the zone-less local-time format used by DateTime
// fields in the bus positions payload. The upstream reports US Eastern
// wall-clock time.
const wmataTimeLayout = "2006-01-02T15:04:05"

// eastern is the upstream's local zone. When zone data is unavailable the
// fallback keeps timestamps parseable, at the cost of a fixed skew.
var eastern = func() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.UTC
	}
	return loc
}()

// Client is an authenticated WMATA API client.
type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewClient creates a WMATA client with the given request timeout.
func NewClient(apiKey, baseURL string, timeout time.Duration) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// BusPosition is one raw record from the bus positions endpoint. Pointer
// fields distinguish absent values from zero values.
type BusPosition struct {
	VehicleID string   `json:"VehicleID"`
	RouteID   string   `json:"RouteID"`
	Deviation *float64 `json:"Deviation"`
	Lat       *float64 `json:"Lat"`
	Lon       *float64 `json:"Lon"`
	DateTime  string   `json:"DateTime"`
	TripID    string   `json:"TripID"`
}

// Route is one entry from the routes endpoint.
type Route struct {
	RouteID         string `json:"RouteID"`
	Name            string `json:"Name"`
	LineDescription string `json:"LineDescription"`
}

// Stop is one entry from the stops endpoint.
type Stop struct {
	StopID string   `json:"StopID"`
	Name   string   `json:"Name"`
	Lat    float64  `json:"Lat"`
	Lon    float64  `json:"Lon"`
	Routes []string `json:"Routes"`
}

// BusPositions fetches all currently active vehicles.
func (c *Client) BusPositions(ctx context.Context) ([]BusPosition, error) {
	var payload struct {
		BusPositions []BusPosition `json:"BusPositions"`
	}
	if err := c.get(ctx, "/Bus.svc/json/jBusPositions", &payload); err != nil {
		return nil, err
	}
	return payload.BusPositions, nil
}

// Routes fetches all bus routes.
func (c *Client) Routes(ctx context.Context) ([]Route, error) {
	var payload struct {
		Routes []Route `json:"Routes"`
	}
	if err := c.get(ctx, "/Bus.svc/json/jRoutes", &payload); err != nil {
		return nil, err
	}
	return payload.Routes, nil
}

// Stops fetches all bus stops.
func (c *Client) Stops(ctx context.Context) ([]Stop, error) {
	var payload struct {
		Stops []Stop `json:"Stops"`
	}
	if err := c.get(ctx, "/Bus.svc/json/jStops", &payload); err != nil {
		return nil, err
	}
	return payload.Stops, nil
}

// Observations fetches the current bus positions and normalizes them into
// observations. Records missing a vehicle id, coordinates, or a deviation
// are dropped; duplicate vehicle ids within the batch keep the last record.
func (c *Client) Observations(ctx context.Context, now time.Time) ([]store.Observation, error) {
	positions, err := c.BusPositions(ctx)
	if err != nil {
		return nil, err
	}
	return Normalize(positions, now), nil
}

// Normalize converts raw positions into observations, dropping malformed
// records and deduplicating by vehicle id with last-seen wins.
func Normalize(positions []BusPosition, now time.Time) []store.Observation {
	byVehicle := make(map[string]store.Observation, len(positions))
	order := make([]string, 0, len(positions))

	for _, pos := range positions {
		if pos.VehicleID == "" || pos.Lat == nil || pos.Lon == nil || pos.Deviation == nil {
			continue
		}

		capturedAt := now.UTC()
		if pos.DateTime != "" {
			if t, err := time.ParseInLocation(wmataTimeLayout, pos.DateTime, eastern); err == nil {
				capturedAt = t.UTC()
			}
		}

		if _, seen := byVehicle[pos.VehicleID]; !seen {
			order = append(order, pos.VehicleID)
		}
		byVehicle[pos.VehicleID] = store.Observation{
			VehicleID:    pos.VehicleID,
			RouteID:      pos.RouteID,
			Latitude:     *pos.Lat,
			Longitude:    *pos.Lon,
			DeviationMin: *pos.Deviation,
			CapturedAt:   capturedAt,
		}
	}

	observations := make([]store.Observation, 0, len(byVehicle))
	for _, id := range order {
		observations = append(observations, byVehicle[id])
	}
	return observations
}

// get makes an authenticated GET request and decodes the JSON response.
func (c *Client) get(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request for %s: %w", path, err)
	}
	req.Header.Set("api_key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUpstream, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s returned status %d", ErrUpstream, path, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: failed to read %s response: %v", ErrUpstream, path, err)
	}

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: failed to parse %s response: %v", ErrUpstream, path, err)
	}
	return nil
}
