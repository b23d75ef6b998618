package aggregate

import (
	"time"

	"github.com/realmwell/dc-bus-delay-tracker/internal/store"
)

// Period is a named, fixed-length lookback window. The set of supported
// periods is a closed enumeration.
type Period string

const (
	Period1D Period = "1d"
	Period1W Period = "1w"
	Period1M Period = "1m"
	Period3M Period = "3m"
	Period6M Period = "6m"
	Period1Y Period = "1y"
	Period5Y Period = "5y"
)

// Periods returns every supported period, shortest first.
func Periods() []Period {
	return []Period{Period1D, Period1W, Period1M, Period3M, Period6M, Period1Y, Period5Y}
}

// Days returns the lookback length in days.
func (p Period) Days() int {
	switch p {
	case Period1D:
		return 1
	case Period1W:
		return 7
	case Period1M:
		return 30
	case Period3M:
		return 90
	case Period6M:
		return 180
	case Period1Y:
		return 365
	case Period5Y:
		return 1825
	}
	return 0
}

// HistoricalMonths returns how many calendar months of the historical
// table cover this period, or 0 for sub-month periods, which always
// report live data (the historical table has no sub-month resolution).
func (p Period) HistoricalMonths() int {
	switch p {
	case Period1M:
		return 1
	case Period3M:
		return 3
	case Period6M:
		return 6
	case Period1Y:
		return 12
	case Period5Y:
		return 60
	}
	return 0
}

// StartDay returns the first day key of the window ending at now.
func (p Period) StartDay(now time.Time) string {
	return store.DayOf(now.AddDate(0, 0, -p.Days()))
}
