// Package pipeline is the run controller: one invocation fetches live
// telemetry, classifies it into regions, replaces today's stored snapshot,
// recomputes every window from scratch, and atomically publishes the
// artifact set. A failed run leaves the store and prior artifacts intact.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/realmwell/dc-bus-delay-tracker/internal/aggregate"
	"github.com/realmwell/dc-bus-delay-tracker/internal/artifact"
	"github.com/realmwell/dc-bus-delay-tracker/internal/config"
	"github.com/realmwell/dc-bus-delay-tracker/internal/geo"
	"github.com/realmwell/dc-bus-delay-tracker/internal/history"
	"github.com/realmwell/dc-bus-delay-tracker/internal/routemeta"
	"github.com/realmwell/dc-bus-delay-tracker/internal/store"
)

// Source produces one batch of normalized observations. Implementations
// do not retry; retry policy lives here.
type Source interface {
	Observations(ctx context.Context, now time.Time) ([]store.Observation, error)
}

// Pipeline wires the run stages together. Short-lived: build one, call
// Run once per scheduled invocation.
type Pipeline struct {
	cfg       *config.Config
	store     *store.Store
	regions   *geo.Index
	source    Source
	writer    *artifact.Writer
	meta      *routemeta.Mapper // optional
	monthlies []history.Monthly

	now func() time.Time
}

// New creates a pipeline. meta may be nil when route metadata refresh is
// not wanted (route listings then fall back to route ids as names).
func New(cfg *config.Config, st *store.Store, regions *geo.Index, source Source, writer *artifact.Writer, meta *routemeta.Mapper, monthlies []history.Monthly) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		store:     st,
		regions:   regions,
		source:    source,
		writer:    writer,
		meta:      meta,
		monthlies: monthlies,
		now:       time.Now,
	}
}

// Run executes one full pipeline pass.
func (p *Pipeline) Run(ctx context.Context) error {
	now := p.now().UTC()
	day := store.DayOf(now)
	runID := uuid.New().String()

	// Fetch with bounded retry. Failure here aborts before any store
	// mutation or artifact write.
	observations, err := p.fetchWithRetry(ctx, now)
	if err != nil {
		return fmt.Errorf("fetch failed after %d attempts: %w", p.cfg.FetchRetries, err)
	}
	fetched := len(observations)
	log.Printf("Fetched %d vehicle positions", fetched)

	// Classify. Upstream supplies separate lat/lon fields; the geometry
	// engine consumes (longitude, latitude).
	classified := 0
	for i := range observations {
		if id, ok := p.regions.Classify(observations[i].Longitude, observations[i].Latitude); ok {
			observations[i].RegionID = id
			classified++
		}
	}
	if unassigned := fetched - classified; unassigned > 0 {
		log.Printf("Data quality: %d of %d positions outside every region", unassigned, fetched)
	}

	if err := p.store.ReplaceDay(ctx, day, observations); err != nil {
		return fmt.Errorf("failed to store day %s: %w", day, err)
	}
	if err := p.store.Cleanup(ctx, p.cfg.RetentionDays, now); err != nil {
		log.Printf("Cleanup error: %v", err)
	}

	var routeMeta map[string]routemeta.RouteInfo
	if p.meta != nil {
		routeMeta, err = p.meta.Ensure(ctx)
		if err != nil {
			log.Printf("Route metadata unavailable, using route ids: %v", err)
		}
	}

	earliest, err := p.store.EarliestDay(ctx)
	if err != nil {
		return err
	}

	set, err := p.writer.Begin()
	if err != nil {
		return err
	}

	if err := p.stageWindows(ctx, set, now, day, earliest, routeMeta); err != nil {
		set.Discard()
		return err
	}

	if err := set.WriteJSON(artifact.StatusName, artifact.RunStatus{
		LastRun:             now.Format(time.RFC3339),
		RunID:               runID,
		Status:              "success",
		Date:                day,
		PositionsFetched:    fetched,
		ClassifiedPositions: classified,
	}); err != nil {
		set.Discard()
		return err
	}

	if err := set.Promote(); err != nil {
		set.Discard()
		return err
	}

	if err := p.store.RecordRun(ctx, runID, now, day, fetched, classified); err != nil {
		log.Printf("Failed to record run: %v", err)
	}

	log.Printf("Run %s complete: %d positions, %d classified", runID, fetched, classified)
	return nil
}

// stageWindows recomputes every period from the store and stages its
// artifacts. Each window is an independent computation over the same
// store; nothing carries between windows.
func (p *Pipeline) stageWindows(ctx context.Context, set *artifact.Set, now time.Time, day, earliest string, routeMeta map[string]routemeta.RouteInfo) error {
	generatedAt := now.Format(time.RFC3339)

	for _, period := range aggregate.Periods() {
		result, err := p.computeWindow(ctx, period, now, day, earliest)
		if err != nil {
			return err
		}

		if err := set.WriteJSON(artifact.SummaryName(period), artifact.RegionSummary{
			Period:        string(period),
			GeneratedAt:   generatedAt,
			DataPoints:    result.DataPoints,
			DaysCovered:   result.DaysCovered,
			Source:        result.Source,
			HasHistorical: result.HasHistorical,
			System:        result.System,
			Regions:       result.Regions,
		}); err != nil {
			return err
		}

		// One listing per region per period, present even when empty.
		for _, regionID := range p.regions.Regions() {
			listing := artifact.RouteListing{
				Region:      regionID,
				Period:      string(period),
				GeneratedAt: generatedAt,
				Routes:      buildRouteList(result.RegionRoutes[regionID], routeMeta),
			}
			if err := set.WriteJSON(artifact.RoutesName(regionID, period), listing); err != nil {
				return err
			}
		}
	}
	return nil
}

// computeWindow picks live aggregation when retained data covers the
// window, and the region-agnostic historical estimate otherwise. It is
// one or the other per window, never a blend. Sub-month periods always
// report live data.
func (p *Pipeline) computeWindow(ctx context.Context, period aggregate.Period, now time.Time, day, earliest string) (*aggregate.WindowResult, error) {
	covered := aggregate.Covered(period, earliest, now)

	if !covered && period.HistoricalMonths() > 0 {
		if result, ok := aggregate.Historical(period, p.monthlies, p.regions.Regions()); ok {
			return result, nil
		}
		log.Printf("Historical table empty for period %s, falling back to live data", period)
	}

	startDay := period.StartDay(now)
	observations, err := p.store.ReadRange(ctx, startDay, day)
	if err != nil {
		return nil, fmt.Errorf("failed to read window %s: %w", period, err)
	}

	band := aggregate.Band{EarlyMin: p.cfg.OnTimeEarlyMin, LateMax: p.cfg.OnTimeLateMax}
	return aggregate.Live(period, observations, band, daysCovered(startDay, earliest, day)), nil
}

// buildRouteList orders a region's routes worst average delay first, with
// route id as the deterministic tiebreak.
func buildRouteList(routes map[string]*aggregate.Stats, routeMeta map[string]routemeta.RouteInfo) []artifact.RouteStats {
	list := make([]artifact.RouteStats, 0, len(routes))
	for routeID, stats := range routes {
		if stats == nil {
			continue
		}
		name := routeID
		if info, ok := routeMeta[routeID]; ok && info.Name != "" {
			name = info.Name
		}
		list = append(list, artifact.RouteStats{
			RouteID:   routeID,
			RouteName: name,
			Stats:     *stats,
		})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].AvgDelay != list[j].AvgDelay {
			return list[i].AvgDelay > list[j].AvgDelay
		}
		return list[i].RouteID < list[j].RouteID
	})
	return list
}

// daysCovered counts the days of live data inside the window.
func daysCovered(startDay, earliest, endDay string) int {
	if earliest == "" {
		return 0
	}
	if earliest > startDay {
		startDay = earliest
	}
	start, err := time.Parse(store.DayLayout, startDay)
	if err != nil {
		return 0
	}
	end, err := time.Parse(store.DayLayout, endDay)
	if err != nil {
		return 0
	}
	days := int(end.Sub(start).Hours()/24) + 1
	if days < 0 {
		return 0
	}
	return days
}

// fetchWithRetry applies the run controller's retry policy: a bounded
// number of attempts with exponential backoff between them.
func (p *Pipeline) fetchWithRetry(ctx context.Context, now time.Time) ([]store.Observation, error) {
	attempts := p.cfg.FetchRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			backoff := p.cfg.FetchBackoff * (1 << (attempt - 1))
			log.Printf("Fetch attempt %d failed, retrying in %v: %v", attempt, backoff, lastErr)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		observations, err := p.source.Observations(ctx, now)
		if err == nil {
			return observations, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
