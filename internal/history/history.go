// Package history provides the static monthly on-time performance table
// used to estimate long windows that exceed retained live data. The data
// comes from the WMATA Service Excellence Report and carries no regional
// breakdown; it is a system-wide estimate only.
package history

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

//go:embed monthly_otp.json
var embeddedMonthlies []byte

// Monthly is one calendar month of system-wide on-time performance.
type Monthly struct {
	Year        int     `json:"year"`
	Month       int     `json:"month"`
	PctOnTime   float64 `json:"pct_on_time"`
	PctEarly    float64 `json:"pct_early"`
	PctLate     float64 `json:"pct_late"`
	SampleCount int     `json:"sample_count"`
}

// Average is a sample-weighted summary over a span of months.
type Average struct {
	PctOnTime     float64
	PctEarly      float64
	PctLate       float64
	MonthsCovered int
	SampleCount   int
}

// Load reads the monthly table from path, or returns the embedded table
// when path is empty. The result is sorted chronologically.
func Load(path string) ([]Monthly, error) {
	data := embeddedMonthlies
	if path != "" {
		fileData, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read historical table: %w", err)
		}
		data = fileData
	}

	var monthlies []Monthly
	if err := json.Unmarshal(data, &monthlies); err != nil {
		return nil, fmt.Errorf("failed to parse historical table: %w", err)
	}
	if len(monthlies) == 0 {
		return nil, fmt.Errorf("historical table is empty")
	}

	sort.Slice(monthlies, func(i, j int) bool {
		if monthlies[i].Year != monthlies[j].Year {
			return monthlies[i].Year < monthlies[j].Year
		}
		return monthlies[i].Month < monthlies[j].Month
	})
	return monthlies, nil
}

// LastMonths returns the most recent n months, or the whole table when
// n <= 0 or n exceeds the table length.
func LastMonths(monthlies []Monthly, n int) []Monthly {
	if n <= 0 || n >= len(monthlies) {
		return monthlies
	}
	return monthlies[len(monthlies)-n:]
}

// Averaged computes the sample-weighted average over the given months.
// The second return is false when no samples are available.
func Averaged(monthlies []Monthly) (Average, bool) {
	var total int
	for _, m := range monthlies {
		total += m.SampleCount
	}
	if total == 0 {
		return Average{}, false
	}

	var onTime, early, late float64
	for _, m := range monthlies {
		weight := float64(m.SampleCount)
		onTime += m.PctOnTime * weight
		early += m.PctEarly * weight
		late += m.PctLate * weight
	}

	return Average{
		PctOnTime:     onTime / float64(total),
		PctEarly:      early / float64(total),
		PctLate:       late / float64(total),
		MonthsCovered: len(monthlies),
		SampleCount:   total,
	}, true
}
