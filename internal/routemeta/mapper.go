// Package routemeta builds and caches the slow-moving network metadata:
// route names and the stop-to-region mapping derived from stop coordinates.
// The cache lives next to the run artifacts and refreshes on a staleness
// check rather than every run.
package routemeta

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/realmwell/dc-bus-delay-tracker/internal/artifact"
	"github.com/realmwell/dc-bus-delay-tracker/internal/geo"
	"github.com/realmwell/dc-bus-delay-tracker/internal/wmata"
)

// MetadataName and StopMapName are the cache artifact file names.
const (
	MetadataName = "route-metadata.json"
	StopMapName  = "stop-region-map.json"
)

// NetworkAPI is the subset of the upstream client the mapper needs.
type NetworkAPI interface {
	Routes(ctx context.Context) ([]wmata.Route, error)
	Stops(ctx context.Context) ([]wmata.Stop, error)
}

// RouteInfo describes one route for display purposes.
type RouteInfo struct {
	Name    string   `json:"name"`
	Line    string   `json:"line"`
	Regions []string `json:"regions"`
}

// Metadata is the cached route metadata artifact.
type Metadata struct {
	GeneratedAt string               `json:"generated_at"`
	Routes      map[string]RouteInfo `json:"routes"`
}

// StopInfo maps one stop to its region.
type StopInfo struct {
	Region string   `json:"region"`
	Name   string   `json:"name"`
	Routes []string `json:"routes"`
}

// StopMap is the cached stop-to-region mapping artifact.
type StopMap struct {
	GeneratedAt     string              `json:"generated_at"`
	StopCount       int                 `json:"stop_count"`
	RegionStopCount int                 `json:"region_stop_count"`
	Mapping         map[string]StopInfo `json:"mapping"`
}

// Mapper maintains the metadata cache.
type Mapper struct {
	api         NetworkAPI
	regions     *geo.Index
	writer      *artifact.Writer
	refreshDays int
	now         func() time.Time
}

// NewMapper creates a mapper that caches through the given writer.
func NewMapper(api NetworkAPI, regions *geo.Index, writer *artifact.Writer, refreshDays int) *Mapper {
	return &Mapper{
		api:         api,
		regions:     regions,
		writer:      writer,
		refreshDays: refreshDays,
		now:         time.Now,
	}
}

// Ensure returns the route metadata, rebuilding the cache when it is
// missing or older than the refresh interval. A failed rebuild falls back
// to the stale cache when one exists.
func (m *Mapper) Ensure(ctx context.Context) (map[string]RouteInfo, error) {
	var cached Metadata
	haveCache := m.writer.ReadJSON(MetadataName, &cached) == nil

	if haveCache && !m.isStale(cached.GeneratedAt) {
		return cached.Routes, nil
	}

	routes, err := m.rebuild(ctx)
	if err != nil {
		if haveCache {
			log.Printf("Route metadata rebuild failed, keeping stale cache: %v", err)
			return cached.Routes, nil
		}
		return nil, err
	}
	return routes, nil
}

func (m *Mapper) isStale(generatedAt string) bool {
	t, err := time.Parse(time.RFC3339, generatedAt)
	if err != nil {
		return true
	}
	maxAge := time.Duration(m.refreshDays) * 24 * time.Hour
	return m.now().Sub(t) > maxAge
}

// rebuild fetches routes and stops upstream, classifies each stop into a
// region, and writes both cache artifacts.
func (m *Mapper) rebuild(ctx context.Context) (map[string]RouteInfo, error) {
	log.Println("Rebuilding route metadata from upstream...")

	routesRaw, err := m.api.Routes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch routes: %w", err)
	}
	stopsRaw, err := m.api.Stops(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch stops: %w", err)
	}

	mapping := make(map[string]StopInfo)
	for _, stop := range stopsRaw {
		region, ok := m.regions.Classify(stop.Lon, stop.Lat)
		if !ok {
			continue
		}
		mapping[stop.StopID] = StopInfo{
			Region: region,
			Name:   stop.Name,
			Routes: stop.Routes,
		}
	}

	routeRegions := make(map[string]map[string]bool)
	for _, info := range mapping {
		for _, routeID := range info.Routes {
			if routeRegions[routeID] == nil {
				routeRegions[routeID] = make(map[string]bool)
			}
			routeRegions[routeID][info.Region] = true
		}
	}

	routes := make(map[string]RouteInfo, len(routesRaw))
	for _, route := range routesRaw {
		var regions []string
		for region := range routeRegions[route.RouteID] {
			regions = append(regions, region)
		}
		sort.Strings(regions)
		routes[route.RouteID] = RouteInfo{
			Name:    route.Name,
			Line:    route.LineDescription,
			Regions: regions,
		}
	}

	nowISO := m.now().UTC().Format(time.RFC3339)
	if err := m.writer.WriteJSON(MetadataName, Metadata{
		GeneratedAt: nowISO,
		Routes:      routes,
	}); err != nil {
		return nil, err
	}
	if err := m.writer.WriteJSON(StopMapName, StopMap{
		GeneratedAt:     nowISO,
		StopCount:       len(stopsRaw),
		RegionStopCount: len(mapping),
		Mapping:         mapping,
	}); err != nil {
		return nil, err
	}

	log.Printf("Route metadata rebuilt: %d routes, %d mapped stops", len(routes), len(mapping))
	return routes, nil
}
