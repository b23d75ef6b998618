package aggregate

import (
	"time"

	"github.com/realmwell/dc-bus-delay-tracker/internal/history"
	"github.com/realmwell/dc-bus-delay-tracker/internal/store"
)

// Source values for WindowResult provenance.
const (
	SourceLive       = "live"
	SourceHistorical = "historical"
)

// WindowResult is the full aggregation outcome for one period. It is
// rebuilt from scratch every run; no state carries between runs.
type WindowResult struct {
	Period        Period
	System        *Stats
	Regions       map[string]*Stats
	RegionRoutes  map[string]map[string]*Stats
	Unassigned    int
	DataPoints    int
	DaysCovered   int
	HasHistorical bool
	Source        string
}

// Live aggregates a window directly from stored observations.
func Live(period Period, observations []store.Observation, band Band, daysCovered int) *WindowResult {
	grouped := Group(observations, band)
	return &WindowResult{
		Period:       period,
		System:       grouped.System,
		Regions:      grouped.Regions,
		RegionRoutes: grouped.RegionRoutes,
		Unassigned:   grouped.Unassigned,
		DataPoints:   len(observations),
		DaysCovered:  daysCovered,
		Source:       SourceLive,
	}
}

// Historical builds a window estimate from the monthly table when live
// coverage is insufficient. The estimate is necessarily region-agnostic:
// every region carries the same system-wide figures, flagged so that
// consumers treat them as estimates rather than measurements. Route-level
// detail is not available historically. Returns false when the table has
// no samples for the span.
func Historical(period Period, monthlies []history.Monthly, regionIDs []string) (*WindowResult, bool) {
	avg, ok := history.Averaged(history.LastMonths(monthlies, period.HistoricalMonths()))
	if !ok {
		return nil, false
	}

	stats := Stats{
		PctOnTime:   round1(avg.PctOnTime),
		PctLate:     round1(avg.PctLate),
		PctEarly:    round1(avg.PctEarly),
		SampleCount: avg.SampleCount,
	}

	regions := make(map[string]*Stats, len(regionIDs))
	for _, id := range regionIDs {
		regionStats := stats
		regions[id] = &regionStats
	}

	systemStats := stats
	return &WindowResult{
		Period:        period,
		System:        &systemStats,
		Regions:       regions,
		RegionRoutes:  make(map[string]map[string]*Stats),
		DataPoints:    avg.SampleCount,
		DaysCovered:   avg.MonthsCovered * 30,
		HasHistorical: true,
		Source:        SourceHistorical,
	}, true
}

// Covered reports whether retained live data spans the whole window:
// the store must be non-empty and its earliest day at or before the
// window start.
func Covered(period Period, earliestDay string, now time.Time) bool {
	return earliestDay != "" && earliestDay <= period.StartDay(now)
}
