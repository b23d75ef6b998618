package history

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEmbedded(t *testing.T) {
	monthlies, err := Load("")
	if err != nil {
		t.Fatalf("Load embedded failed: %v", err)
	}
	if len(monthlies) < 12 {
		t.Fatalf("embedded table has %d months, want at least a year", len(monthlies))
	}
	// Sorted chronologically
	for i := 1; i < len(monthlies); i++ {
		prev, cur := monthlies[i-1], monthlies[i]
		if cur.Year < prev.Year || (cur.Year == prev.Year && cur.Month <= prev.Month) {
			t.Fatalf("table not sorted at index %d: %v -> %v", i, prev, cur)
		}
	}
	for _, m := range monthlies {
		if m.PctOnTime < 0 || m.PctOnTime > 100 {
			t.Errorf("%d-%02d pct_on_time %v out of range", m.Year, m.Month, m.PctOnTime)
		}
		if m.SampleCount <= 0 {
			t.Errorf("%d-%02d has no samples", m.Year, m.Month)
		}
	}
}

func TestLoadOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "otp.json")
	content := `[
		{"year":2026,"month":2,"pct_on_time":80,"pct_early":10,"pct_late":10,"sample_count":100},
		{"year":2026,"month":1,"pct_on_time":70,"pct_early":15,"pct_late":15,"sample_count":100}
	]`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	monthlies, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(monthlies) != 2 || monthlies[0].Month != 1 {
		t.Errorf("override table not loaded and sorted: %+v", monthlies)
	}
}

func TestLastMonths(t *testing.T) {
	monthlies := []Monthly{
		{Year: 2026, Month: 1}, {Year: 2026, Month: 2}, {Year: 2026, Month: 3},
	}

	tests := []struct {
		n    int
		want int
	}{
		{1, 1},
		{2, 2},
		{3, 3},
		{10, 3}, // more than available: whole table
		{0, 3},  // zero: whole table
	}
	for _, tc := range tests {
		got := LastMonths(monthlies, tc.n)
		if len(got) != tc.want {
			t.Errorf("LastMonths(n=%d) returned %d months, want %d", tc.n, len(got), tc.want)
		}
	}

	// Most recent months are kept
	if got := LastMonths(monthlies, 1); got[0].Month != 3 {
		t.Errorf("LastMonths(1) = month %d, want 3", got[0].Month)
	}
}

func TestAveragedWeightsBySamples(t *testing.T) {
	monthlies := []Monthly{
		{PctOnTime: 80, PctEarly: 10, PctLate: 10, SampleCount: 300},
		{PctOnTime: 60, PctEarly: 20, PctLate: 20, SampleCount: 100},
	}

	avg, ok := Averaged(monthlies)
	if !ok {
		t.Fatal("Averaged returned not ok")
	}
	// (80*300 + 60*100) / 400 = 75
	if math.Abs(avg.PctOnTime-75) > 1e-9 {
		t.Errorf("PctOnTime = %v, want 75", avg.PctOnTime)
	}
	if avg.MonthsCovered != 2 || avg.SampleCount != 400 {
		t.Errorf("coverage = %d months / %d samples, want 2 / 400", avg.MonthsCovered, avg.SampleCount)
	}
}

func TestAveragedEmpty(t *testing.T) {
	if _, ok := Averaged(nil); ok {
		t.Error("Averaged(nil) should be not ok")
	}
	if _, ok := Averaged([]Monthly{{PctOnTime: 80, SampleCount: 0}}); ok {
		t.Error("Averaged with zero samples should be not ok")
	}
}
