// Package gtfsrt is an alternate telemetry source that reads GTFS-RT
// vehicle positions and trip updates. Schedule deviation comes from the
// trip updates feed, merged onto positions by (trip, stop) key.
package gtfsrt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"google.golang.org/protobuf/proto"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"

	"github.com/realmwell/dc-bus-delay-tracker/internal/store"
)

// ErrUpstream marks any failure of a GTFS-RT feed: transport error,
// non-2xx status, or an undecodable protobuf payload.
var ErrUpstream = errors.New("gtfs-rt feed request failed")

// delayKey identifies a stop-time update within a trip.
type delayKey struct {
	tripID string
	stopID string
}

// Client fetches and merges the two GTFS-RT feeds.
type Client struct {
	positionsURL   string
	tripUpdatesURL string
	apiKey         string
	client         *http.Client
}

// NewClient creates a GTFS-RT client. The API key is sent as an api_key
// header when non-empty.
func NewClient(positionsURL, tripUpdatesURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		positionsURL:   positionsURL,
		tripUpdatesURL: tripUpdatesURL,
		apiKey:         apiKey,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Observations fetches both feeds and produces normalized observations.
// Vehicles without a resolvable deviation are dropped rather than failing
// the batch; duplicate vehicle ids keep the last record.
func (c *Client) Observations(ctx context.Context, now time.Time) ([]store.Observation, error) {
	positions, err := c.fetchFeed(ctx, c.positionsURL)
	if err != nil {
		return nil, fmt.Errorf("vehicle positions: %w", err)
	}

	updates, err := c.fetchFeed(ctx, c.tripUpdatesURL)
	if err != nil {
		return nil, fmt.Errorf("trip updates: %w", err)
	}
	stopDelays, tripDelays := collectDelays(updates)

	byVehicle := make(map[string]store.Observation)
	order := make([]string, 0, len(positions.Entity))

	for _, entity := range positions.Entity {
		vehicle := entity.Vehicle
		if vehicle == nil || vehicle.Position == nil {
			continue
		}
		if vehicle.Position.Latitude == nil || vehicle.Position.Longitude == nil {
			continue
		}

		var vehicleID string
		if vehicle.Vehicle != nil && vehicle.Vehicle.Id != nil {
			vehicleID = *vehicle.Vehicle.Id
		}
		if vehicleID == "" {
			continue
		}

		var tripID, routeID string
		if vehicle.Trip != nil {
			if vehicle.Trip.TripId != nil {
				tripID = *vehicle.Trip.TripId
			}
			if vehicle.Trip.RouteId != nil {
				routeID = *vehicle.Trip.RouteId
			}
		}

		delaySeconds, ok := lookupDelay(vehicle, tripID, stopDelays, tripDelays)
		if !ok {
			continue
		}

		capturedAt := now.UTC()
		if vehicle.Timestamp != nil {
			capturedAt = time.Unix(int64(*vehicle.Timestamp), 0).UTC()
		}

		if _, seen := byVehicle[vehicleID]; !seen {
			order = append(order, vehicleID)
		}
		byVehicle[vehicleID] = store.Observation{
			VehicleID:    vehicleID,
			RouteID:      routeID,
			Latitude:     float64(*vehicle.Position.Latitude),
			Longitude:    float64(*vehicle.Position.Longitude),
			DeviationMin: float64(delaySeconds) / 60.0,
			CapturedAt:   capturedAt,
		}
	}

	observations := make([]store.Observation, 0, len(byVehicle))
	for _, id := range order {
		observations = append(observations, byVehicle[id])
	}
	return observations, nil
}

// collectDelays indexes trip update delays by (trip, stop) and, as a
// fallback, by trip alone.
func collectDelays(feed *gtfs.FeedMessage) (map[delayKey]int32, map[string]int32) {
	stopDelays := make(map[delayKey]int32)
	tripDelays := make(map[string]int32)

	for _, entity := range feed.Entity {
		update := entity.TripUpdate
		if update == nil || update.Trip == nil || update.Trip.TripId == nil {
			continue
		}
		tripID := *update.Trip.TripId

		if update.Delay != nil {
			tripDelays[tripID] = *update.Delay
		}

		for _, stu := range update.StopTimeUpdate {
			if stu.StopId == nil {
				continue
			}
			var delay *int32
			if stu.Departure != nil && stu.Departure.Delay != nil {
				delay = stu.Departure.Delay
			} else if stu.Arrival != nil && stu.Arrival.Delay != nil {
				delay = stu.Arrival.Delay
			}
			if delay == nil {
				continue
			}
			stopDelays[delayKey{tripID: tripID, stopID: *stu.StopId}] = *delay
			// Latest stop update stands in for the trip when no
			// trip-level delay is published.
			if update.Delay == nil {
				tripDelays[tripID] = *delay
			}
		}
	}

	return stopDelays, tripDelays
}

func lookupDelay(vehicle *gtfs.VehiclePosition, tripID string, stopDelays map[delayKey]int32, tripDelays map[string]int32) (int32, bool) {
	if tripID == "" {
		return 0, false
	}
	if vehicle.StopId != nil {
		if delay, ok := stopDelays[delayKey{tripID: tripID, stopID: *vehicle.StopId}]; ok {
			return delay, true
		}
	}
	delay, ok := tripDelays[tripID]
	return delay, ok
}

// fetchFeed fetches and decodes one GTFS-RT feed.
func (c *Client) fetchFeed(ctx context.Context, url string) (*gtfs.FeedMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("api_key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrUpstream, err)
	}

	feed := &gtfs.FeedMessage{}
	if err := proto.Unmarshal(body, feed); err != nil {
		return nil, fmt.Errorf("%w: failed to parse protobuf: %v", ErrUpstream, err)
	}
	return feed, nil
}
