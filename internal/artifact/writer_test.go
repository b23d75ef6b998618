package artifact

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/realmwell/dc-bus-delay-tracker/internal/aggregate"
)

func TestSetPromoteMakesFilesVisible(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir)
	if err != nil {
		t.Fatal(err)
	}

	set, err := w.Begin()
	if err != nil {
		t.Fatal(err)
	}
	if err := set.WriteJSON("a.json", map[string]int{"v": 1}); err != nil {
		t.Fatal(err)
	}
	if err := set.WriteJSON("b.json", map[string]int{"v": 2}); err != nil {
		t.Fatal(err)
	}

	// Nothing visible before promotion
	var out map[string]int
	if err := w.ReadJSON("a.json", &out); err == nil {
		t.Error("staged file readable before Promote")
	}

	if err := set.Promote(); err != nil {
		t.Fatalf("Promote failed: %v", err)
	}

	for _, name := range []string{"a.json", "b.json"} {
		if _, err := os.Stat(filepath.Join(dir, CurrentName, name)); err != nil {
			t.Errorf("%s not visible after Promote: %v", name, err)
		}
	}
	if err := w.ReadJSON("a.json", &out); err != nil || out["v"] != 1 {
		t.Errorf("published artifact unreadable: %v, %v", out, err)
	}

	// The swap symlink is gone
	if _, err := os.Lstat(filepath.Join(dir, CurrentName+".swap")); !os.IsNotExist(err) {
		t.Error("swap pointer left behind")
	}
}

func TestSetDiscardLeavesPriorArtifacts(t *testing.T) {
	dir := t.TempDir()
	w, _ := NewWriter(dir)

	// Establish a prior artifact set
	first, _ := w.Begin()
	first.WriteJSON("summary.json", map[string]string{"run": "old"})
	if err := first.Promote(); err != nil {
		t.Fatal(err)
	}

	// A later run stages new content but fails before completion
	second, _ := w.Begin()
	second.WriteJSON("summary.json", map[string]string{"run": "new"})
	second.Discard()

	var got map[string]string
	if err := w.ReadJSON("summary.json", &got); err != nil {
		t.Fatalf("prior artifact unreadable after Discard: %v", err)
	}
	if got["run"] != "old" {
		t.Errorf("prior artifact overwritten: %v", got)
	}
}

func TestSetPromoteReplacesPriorSet(t *testing.T) {
	dir := t.TempDir()
	w, _ := NewWriter(dir)

	first, _ := w.Begin()
	first.WriteJSON("summary.json", map[string]string{"run": "old"})
	first.Promote()

	second, _ := w.Begin()
	second.WriteJSON("summary.json", map[string]string{"run": "new"})
	if err := second.Promote(); err != nil {
		t.Fatal(err)
	}

	var got map[string]string
	w.ReadJSON("summary.json", &got)
	if got["run"] != "new" {
		t.Errorf("artifact not replaced: %v", got)
	}

	// The superseded set directory is removed; exactly one set remains
	entries, _ := os.ReadDir(dir)
	sets := 0
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "set-") {
			sets++
		}
	}
	if sets != 1 {
		t.Errorf("%d set directories after replacement, want 1", sets)
	}
}

func TestSetPromoteSwapsWholeSet(t *testing.T) {
	dir := t.TempDir()
	w, _ := NewWriter(dir)

	first, _ := w.Begin()
	first.WriteJSON("a.json", map[string]string{"run": "old"})
	first.WriteJSON("b.json", map[string]string{"run": "old"})
	if err := first.Promote(); err != nil {
		t.Fatal(err)
	}

	// The replacement set drops b.json entirely
	second, _ := w.Begin()
	second.WriteJSON("a.json", map[string]string{"run": "new"})
	if err := second.Promote(); err != nil {
		t.Fatal(err)
	}

	var got map[string]string
	if err := w.ReadJSON("a.json", &got); err != nil || got["run"] != "new" {
		t.Errorf("a.json = %v, %v", got, err)
	}
	// No file from the old set bleeds into the published view
	if err := w.ReadJSON("b.json", &got); err == nil {
		t.Error("stale b.json still visible after swap")
	}
}

func TestWriteJSONStandalone(t *testing.T) {
	dir := t.TempDir()
	w, _ := NewWriter(dir)

	if err := w.WriteJSON("route-metadata.json", map[string]bool{"ok": true}); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}

	var got map[string]bool
	if err := w.ReadJSON("route-metadata.json", &got); err != nil || !got["ok"] {
		t.Errorf("round trip failed: %v, %v", got, err)
	}

	// No temp file left behind
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("temp file %s left behind", e.Name())
		}
	}
}

func TestArtifactNames(t *testing.T) {
	if got := SummaryName(aggregate.Period1W); got != "region-summary-1w.json" {
		t.Errorf("SummaryName = %q", got)
	}
	if got := RoutesName("3", aggregate.Period5Y); got != "region-3-routes-5y.json" {
		t.Errorf("RoutesName = %q", got)
	}
}

func TestRouteStatsEmbedsFlatJSON(t *testing.T) {
	dir := t.TempDir()
	w, _ := NewWriter(dir)

	listing := RouteListing{
		Region: "1",
		Period: "1d",
		Routes: []RouteStats{{
			RouteID:   "X2",
			RouteName: "X2 - Benning Rd",
			Stats:     aggregate.Stats{PctOnTime: 66.7, AvgDelay: 2.7, SampleCount: 3},
		}},
	}
	if err := w.WriteJSON("listing.json", listing); err != nil {
		t.Fatal(err)
	}

	data, _ := os.ReadFile(filepath.Join(dir, "listing.json"))
	for _, field := range []string{`"route_id":"X2"`, `"pct_on_time":66.7`, `"sample_count":3`} {
		if !strings.Contains(string(data), field) {
			t.Errorf("listing JSON missing %s: %s", field, data)
		}
	}
}
