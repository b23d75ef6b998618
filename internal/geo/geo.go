// Package geo classifies coordinates into named regions using ray casting.
//
// Boundary convention: the crossing test uses a half-open vertical
// interval and a strict comparison on the intersection, applied uniformly
// to every edge, so points exactly on a boundary classify
// deterministically. For an axis-aligned ring this puts bottom and left
// edges inside and top and right edges outside; a point on an edge shared
// by two adjacent regions lands in exactly one of them.
package geo

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
)

// Ring is a closed loop of [longitude, latitude] vertices.
type Ring [][2]float64

// Polygon is one outer ring with optional hole rings.
type Polygon struct {
	Exterior Ring
	Holes    []Ring
}

// Region is an administrative sub-area bounded by one or more polygons.
type Region struct {
	ID       string
	Polygons []Polygon
}

// Index holds the region set for a run. Read-only after load.
type Index struct {
	regions []Region
}

// NewIndex builds an index over the given regions, preserving order.
// Order matters: a point inside two regions is assigned to the first.
func NewIndex(regions []Region) *Index {
	return &Index{regions: regions}
}

// Regions returns the region identifiers in load order.
func (ix *Index) Regions() []string {
	ids := make([]string, len(ix.regions))
	for i, r := range ix.regions {
		ids[i] = r.ID
	}
	return ids
}

// Classify returns the identifier of the first region containing the
// point, or false if the point is outside every region. Coordinates are
// (longitude, latitude), matching the boundary-data convention.
func (ix *Index) Classify(lon, lat float64) (string, bool) {
	for _, region := range ix.regions {
		for _, poly := range region.Polygons {
			if !ringContains(poly.Exterior, lon, lat) {
				continue
			}
			inHole := false
			for _, hole := range poly.Holes {
				if ringContains(hole, lon, lat) {
					inHole = true
					break
				}
			}
			if !inHole {
				return region.ID, true
			}
		}
	}
	return "", false
}

// ringContains reports whether the point (x, y) is inside the ring, by
// counting crossings of a horizontal ray toward +infinity. The half-open
// interval and strict intersection comparison give boundary points the
// deterministic classification described in the package doc.
func ringContains(ring Ring, x, y float64) bool {
	inside := false
	j := len(ring) - 1
	for i := range ring {
		xi, yi := ring[i][0], ring[i][1]
		xj, yj := ring[j][0], ring[j][1]
		if (yi > y) != (yj > y) && x < (xj-xi)*(y-yi)/(yj-yi)+xi {
			inside = !inside
		}
		j = i
	}
	return inside
}

// LoadRegions reads a GeoJSON FeatureCollection of region boundaries.
// Each feature must be a Polygon or MultiPolygon; the region identifier
// is taken from the WARD property (the DC boundary convention), falling
// back to region, id, then name.
func LoadRegions(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read region boundaries: %w", err)
	}

	var fc geojson.FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse region GeoJSON: %w", err)
	}

	var regions []Region
	for _, f := range fc.Features {
		id := regionID(f)
		if id == "" {
			return nil, fmt.Errorf("region feature has no identifier property")
		}

		var polys []Polygon
		switch g := f.Geometry.(type) {
		case *geom.Polygon:
			polys = append(polys, fromPolygon(g))
		case *geom.MultiPolygon:
			for i := 0; i < g.NumPolygons(); i++ {
				polys = append(polys, fromPolygon(g.Polygon(i)))
			}
		default:
			return nil, fmt.Errorf("region %s: unsupported geometry type %T", id, f.Geometry)
		}

		regions = append(regions, Region{ID: id, Polygons: polys})
	}

	if len(regions) == 0 {
		return nil, fmt.Errorf("region GeoJSON contains no features")
	}

	return NewIndex(regions), nil
}

func fromPolygon(g *geom.Polygon) Polygon {
	var poly Polygon
	for i := 0; i < g.NumLinearRings(); i++ {
		ring := make(Ring, 0, g.LinearRing(i).NumCoords())
		for _, c := range g.LinearRing(i).Coords() {
			ring = append(ring, [2]float64{c.X(), c.Y()})
		}
		if i == 0 {
			poly.Exterior = ring
		} else {
			poly.Holes = append(poly.Holes, ring)
		}
	}
	return poly
}

func regionID(f *geojson.Feature) string {
	for _, key := range []string{"WARD", "region", "id", "name"} {
		v, ok := f.Properties[key]
		if !ok {
			continue
		}
		switch value := v.(type) {
		case string:
			return value
		case float64:
			return strconv.Itoa(int(value))
		}
	}
	return ""
}
