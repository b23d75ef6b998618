package gtfsrt

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"google.golang.org/protobuf/proto"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
)

func feedHeader() *gtfs.FeedHeader {
	return &gtfs.FeedHeader{GtfsRealtimeVersion: proto.String("2.0")}
}

func vehicleEntity(id, vehicleID, tripID, routeID, stopID string, lat, lon float32) *gtfs.FeedEntity {
	return &gtfs.FeedEntity{
		Id: proto.String(id),
		Vehicle: &gtfs.VehiclePosition{
			Trip: &gtfs.TripDescriptor{
				TripId:  proto.String(tripID),
				RouteId: proto.String(routeID),
			},
			Vehicle: &gtfs.VehicleDescriptor{Id: proto.String(vehicleID)},
			Position: &gtfs.Position{
				Latitude:  proto.Float32(lat),
				Longitude: proto.Float32(lon),
			},
			StopId: proto.String(stopID),
		},
	}
}

func tripUpdateEntity(id, tripID, stopID string, departureDelay int32) *gtfs.FeedEntity {
	return &gtfs.FeedEntity{
		Id: proto.String(id),
		TripUpdate: &gtfs.TripUpdate{
			Trip: &gtfs.TripDescriptor{TripId: proto.String(tripID)},
			StopTimeUpdate: []*gtfs.TripUpdate_StopTimeUpdate{
				{
					StopId:    proto.String(stopID),
					Departure: &gtfs.TripUpdate_StopTimeEvent{Delay: proto.Int32(departureDelay)},
				},
			},
		},
	}
}

// serveFeeds returns a server that answers /positions and /updates with
// the given feeds.
func serveFeeds(t *testing.T, positions, updates *gtfs.FeedMessage) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var feed *gtfs.FeedMessage
		switch r.URL.Path {
		case "/positions":
			feed = positions
		case "/updates":
			feed = updates
		default:
			w.WriteHeader(http.StatusNotFound)
			return
		}
		data, err := proto.Marshal(feed)
		if err != nil {
			t.Fatalf("failed to marshal feed: %v", err)
		}
		w.Write(data)
	}))
}

func TestObservationsMergesDelays(t *testing.T) {
	positions := &gtfs.FeedMessage{
		Header: feedHeader(),
		Entity: []*gtfs.FeedEntity{
			vehicleEntity("1", "bus-1", "trip-1", "X2", "stop-5", 38.9, -77.0),
			vehicleEntity("2", "bus-2", "trip-2", "S2", "stop-9", 38.8, -77.1),
			// No trip update for trip-3: dropped (no deviation)
			vehicleEntity("3", "bus-3", "trip-3", "D6", "stop-1", 38.7, -77.2),
		},
	}
	updates := &gtfs.FeedMessage{
		Header: feedHeader(),
		Entity: []*gtfs.FeedEntity{
			tripUpdateEntity("u1", "trip-1", "stop-5", 180), // 3 minutes late
			tripUpdateEntity("u2", "trip-2", "stop-9", -90), // 1.5 minutes early
		},
	}

	server := serveFeeds(t, positions, updates)
	defer server.Close()

	client := NewClient(server.URL+"/positions", server.URL+"/updates", "", 5*time.Second)
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	observations, err := client.Observations(context.Background(), now)
	if err != nil {
		t.Fatalf("Observations failed: %v", err)
	}
	if len(observations) != 2 {
		t.Fatalf("got %d observations, want 2", len(observations))
	}

	if observations[0].VehicleID != "bus-1" || observations[0].DeviationMin != 3.0 {
		t.Errorf("bus-1 deviation = %v, want 3.0", observations[0].DeviationMin)
	}
	if observations[1].VehicleID != "bus-2" || observations[1].DeviationMin != -1.5 {
		t.Errorf("bus-2 deviation = %v, want -1.5", observations[1].DeviationMin)
	}
	if observations[0].RouteID != "X2" {
		t.Errorf("bus-1 route = %q, want X2", observations[0].RouteID)
	}
}

func TestObservationsTripLevelFallback(t *testing.T) {
	// Vehicle is between stops: its StopId has no stop-time update, but
	// the trip's latest published delay still applies.
	positions := &gtfs.FeedMessage{
		Header: feedHeader(),
		Entity: []*gtfs.FeedEntity{
			vehicleEntity("1", "bus-1", "trip-1", "X2", "stop-other", 38.9, -77.0),
		},
	}
	updates := &gtfs.FeedMessage{
		Header: feedHeader(),
		Entity: []*gtfs.FeedEntity{
			tripUpdateEntity("u1", "trip-1", "stop-5", 300),
		},
	}

	server := serveFeeds(t, positions, updates)
	defer server.Close()

	client := NewClient(server.URL+"/positions", server.URL+"/updates", "", 5*time.Second)
	observations, err := client.Observations(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("Observations failed: %v", err)
	}
	if len(observations) != 1 || observations[0].DeviationMin != 5.0 {
		t.Errorf("observations = %+v, want one with deviation 5.0", observations)
	}
}

func TestObservationsUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(server.URL+"/positions", server.URL+"/updates", "", 5*time.Second)
	if _, err := client.Observations(context.Background(), time.Now()); !errors.Is(err, ErrUpstream) {
		t.Errorf("error = %v, want ErrUpstream", err)
	}
}

func TestObservationsMalformedPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("this is not a protobuf feed, definitely not"))
	}))
	defer server.Close()

	client := NewClient(server.URL+"/positions", server.URL+"/updates", "", 5*time.Second)
	if _, err := client.Observations(context.Background(), time.Now()); !errors.Is(err, ErrUpstream) {
		t.Errorf("error = %v, want ErrUpstream", err)
	}
}
