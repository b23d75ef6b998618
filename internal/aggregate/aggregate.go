// Package aggregate computes rolling-window delay statistics per region
// and per route from stored observations, with a historical fallback for
// windows that exceed retained live data.
package aggregate

import (
	"math"
	"sort"

	"github.com/realmwell/dc-bus-delay-tracker/internal/store"
)

// Percentages and delay figures are rounded to one decimal. Fixed policy
// constant; formatting layers must not re-round.
const roundingFactor = 10

// Band is the deviation range treated as on time, in signed minutes.
type Band struct {
	EarlyMin float64 // most-negative tolerated deviation, default -2
	LateMax  float64 // most-positive tolerated deviation, default +5
}

// OnTime reports whether a deviation falls inside the band. Bounds are
// inclusive: -2.0 is on time, -2.01 is early.
func (b Band) OnTime(deviation float64) bool {
	return deviation >= b.EarlyMin && deviation <= b.LateMax
}

// Stats summarizes the deviations of one partition. A partition with no
// samples has no Stats at all rather than zeroed percentages.
type Stats struct {
	PctOnTime   float64 `json:"pct_on_time"`
	PctLate     float64 `json:"pct_late"`
	PctEarly    float64 `json:"pct_early"`
	AvgDelay    float64 `json:"avg_delay"`
	MedianDelay float64 `json:"median_delay"`
	SampleCount int     `json:"sample_count"`
}

// Compute derives Stats from a list of deviations in minutes. Returns nil
// for an empty list.
func Compute(deviations []float64, band Band) *Stats {
	total := len(deviations)
	if total == 0 {
		return nil
	}

	var onTime, late, early int
	var sum float64
	for _, d := range deviations {
		switch {
		case band.OnTime(d):
			onTime++
		case d > band.LateMax:
			late++
		default:
			early++
		}
		sum += d
	}

	return &Stats{
		PctOnTime:   round1(100 * float64(onTime) / float64(total)),
		PctLate:     round1(100 * float64(late) / float64(total)),
		PctEarly:    round1(100 * float64(early) / float64(total)),
		AvgDelay:    round1(sum / float64(total)),
		MedianDelay: round1(median(deviations)),
		SampleCount: total,
	}
}

func round1(v float64) float64 {
	return math.Round(v*roundingFactor) / roundingFactor
}

func median(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// Grouped partitions observations by region and by route within region.
// Unassigned observations are excluded from per-region partitions but
// counted in the system-wide total.
type Grouped struct {
	System       *Stats
	Regions      map[string]*Stats
	RegionRoutes map[string]map[string]*Stats
	Unassigned   int
}

// Group partitions and summarizes a window's observations.
func Group(observations []store.Observation, band Band) *Grouped {
	var all []float64
	regionDevs := make(map[string][]float64)
	routeDevs := make(map[string]map[string][]float64)
	unassigned := 0

	for _, obs := range observations {
		all = append(all, obs.DeviationMin)
		if obs.RegionID == "" {
			unassigned++
			continue
		}
		regionDevs[obs.RegionID] = append(regionDevs[obs.RegionID], obs.DeviationMin)
		if routeDevs[obs.RegionID] == nil {
			routeDevs[obs.RegionID] = make(map[string][]float64)
		}
		routeDevs[obs.RegionID][obs.RouteID] = append(routeDevs[obs.RegionID][obs.RouteID], obs.DeviationMin)
	}

	grouped := &Grouped{
		System:       Compute(all, band),
		Regions:      make(map[string]*Stats, len(regionDevs)),
		RegionRoutes: make(map[string]map[string]*Stats, len(routeDevs)),
		Unassigned:   unassigned,
	}
	for region, devs := range regionDevs {
		grouped.Regions[region] = Compute(devs, band)
	}
	for region, routes := range routeDevs {
		grouped.RegionRoutes[region] = make(map[string]*Stats, len(routes))
		for route, devs := range routes {
			grouped.RegionRoutes[region][route] = Compute(devs, band)
		}
	}
	return grouped
}
