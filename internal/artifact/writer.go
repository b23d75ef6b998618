// Package artifact serializes aggregation results into the fixed output
// schema consumed by the visualization front end. A run's writes accumulate
// in a fresh set directory and are published by renaming a symlink over
// the current pointer, so consumers only ever see a complete prior set or
// a complete new set.
package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/realmwell/dc-bus-delay-tracker/internal/aggregate"
)

// RegionSummary is the per-period region summary artifact.
type RegionSummary struct {
	Period        string                      `json:"period"`
	GeneratedAt   string                      `json:"generated_at"`
	DataPoints    int                         `json:"data_points"`
	DaysCovered   int                         `json:"days_covered"`
	Source        string                      `json:"source"`
	HasHistorical bool                        `json:"has_historical"`
	System        *aggregate.Stats            `json:"system,omitempty"`
	Regions       map[string]*aggregate.Stats `json:"regions"`
}

// RouteStats is one route entry in a per-region route listing.
type RouteStats struct {
	RouteID   string `json:"route_id"`
	RouteName string `json:"route_name"`
	aggregate.Stats
}

// RouteListing is the per-region per-period route detail artifact.
type RouteListing struct {
	Region      string       `json:"region"`
	Period      string       `json:"period"`
	GeneratedAt string       `json:"generated_at"`
	Routes      []RouteStats `json:"routes"`
}

// RunStatus is the single run-status marker, overwritten each successful
// run.
type RunStatus struct {
	LastRun             string `json:"last_run"`
	RunID               string `json:"run_id"`
	Status              string `json:"status"`
	Date                string `json:"date"`
	PositionsFetched    int    `json:"positions_fetched"`
	ClassifiedPositions int    `json:"classified_positions"`
}

// SummaryName returns the region summary file name for a period.
func SummaryName(period aggregate.Period) string {
	return fmt.Sprintf("region-summary-%s.json", period)
}

// RoutesName returns the route listing file name for a region and period.
func RoutesName(regionID string, period aggregate.Period) string {
	return fmt.Sprintf("region-%s-routes-%s.json", regionID, period)
}

// StatusName is the run-status marker file name.
const StatusName = "last-updated.json"

// CurrentName is the symlink in the output directory pointing at the
// published artifact set.
const CurrentName = "current"

// Writer emits artifacts into a single output directory.
type Writer struct {
	dir string
}

// NewWriter creates a writer rooted at dir, creating it if needed.
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &Writer{dir: dir}, nil
}

// Dir returns the output directory.
func (w *Writer) Dir() string {
	return w.dir
}

// WriteJSON atomically writes a single standalone file (write-then-rename)
// outside of any run set. Used for slow-moving caches like route metadata.
func (w *Writer) WriteJSON(name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}
	tmp := filepath.Join(w.dir, "."+name+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to stage %s: %w", name, err)
	}
	if err := os.Rename(tmp, filepath.Join(w.dir, name)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to promote %s: %w", name, err)
	}
	return nil
}

// ReadJSON reads a previously written artifact into v, preferring the
// published set and falling back to standalone files in the output root.
// Returns os.ErrNotExist wrapped when the artifact is absent.
func (w *Writer) ReadJSON(name string, v any) error {
	data, err := os.ReadFile(filepath.Join(w.dir, CurrentName, name))
	if errors.Is(err, os.ErrNotExist) {
		data, err = os.ReadFile(filepath.Join(w.dir, name))
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", name, err)
	}
	return nil
}

// Set is one run's staged artifact set. Files accumulate in a fresh set
// directory and become visible only when the current pointer swings to it
// on Promote.
type Set struct {
	w      *Writer
	setDir string
}

// Begin starts a new staged set.
func (w *Writer) Begin() (*Set, error) {
	setDir := filepath.Join(w.dir, "set-"+uuid.New().String())
	if err := os.MkdirAll(setDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create set directory: %w", err)
	}
	return &Set{w: w, setDir: setDir}, nil
}

// WriteJSON stages one artifact in the set.
func (s *Set) WriteJSON(name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}
	path := filepath.Join(s.setDir, name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to stage %s: %w", name, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to stage %s: %w", name, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to stage %s: %w", name, err)
	}
	return nil
}

// Promote publishes the set by renaming a replacement symlink over the
// current pointer. The swap is a single rename, so readers see the prior
// complete set or the new complete set, never a mix. The superseded set
// directory is removed afterwards.
func (s *Set) Promote() error {
	current := filepath.Join(s.w.dir, CurrentName)
	prior, _ := os.Readlink(current)

	swap := current + ".swap"
	os.Remove(swap)
	if err := os.Symlink(filepath.Base(s.setDir), swap); err != nil {
		return fmt.Errorf("failed to prepare set pointer: %w", err)
	}
	if err := os.Rename(swap, current); err != nil {
		os.Remove(swap)
		return fmt.Errorf("failed to publish set: %w", err)
	}

	if prior != "" && prior != filepath.Base(s.setDir) {
		os.RemoveAll(filepath.Join(s.w.dir, prior))
	}
	return nil
}

// Discard removes the set directory and everything in it.
func (s *Set) Discard() {
	os.RemoveAll(s.setDir)
}
