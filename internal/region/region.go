// Package region assigns sites to the polygon regions (bioregions,
// ecoregions) of a GeoJSON layer. Site coordinates must already be in the
// layer's coordinate reference system.
package region

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"

	"github.com/banshee-data/soil.report/internal/fsutil"
	"github.com/banshee-data/soil.report/internal/table"
)

type area struct {
	label string
	geom  orb.Geometry
	bound orb.Bound
}

// Layer is an ordered set of labelled polygons.
type Layer struct {
	areas []area
}

// Load reads a GeoJSON FeatureCollection from fsys, labelling every
// polygon with its property value.
func Load(fsys fsutil.FileSystem, path, property string) (*Layer, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	l, err := Parse(data, property)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return l, nil
}

// Parse builds a layer from GeoJSON. Every feature must be a Polygon or
// MultiPolygon carrying property; numeric values are formatted as text.
func Parse(data []byte, property string) (*Layer, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parse geojson: %w", err)
	}
	l := &Layer{areas: make([]area, 0, len(fc.Features))}
	for i, f := range fc.Features {
		if f.Geometry == nil {
			return nil, fmt.Errorf("feature %d: no geometry", i)
		}
		switch f.Geometry.(type) {
		case orb.Polygon, orb.MultiPolygon:
		default:
			return nil, fmt.Errorf("feature %d: %s is not a polygon", i, f.Geometry.GeoJSONType())
		}
		v, ok := f.Properties[property]
		if !ok || v == nil {
			return nil, fmt.Errorf("feature %d: no %q property", i, property)
		}
		l.areas = append(l.areas, area{
			label: fmt.Sprint(v),
			geom:  f.Geometry,
			bound: f.Geometry.Bound(),
		})
	}
	return l, nil
}

// Len returns the number of polygons in the layer.
func (l *Layer) Len() int { return len(l.areas) }

// Locate returns the label of the first polygon containing p.
func (l *Layer) Locate(p orb.Point) (string, bool) {
	for _, a := range l.areas {
		if !a.bound.Contains(p) {
			continue
		}
		switch g := a.geom.(type) {
		case orb.Polygon:
			if planar.PolygonContains(g, p) {
				return a.label, true
			}
		case orb.MultiPolygon:
			if planar.MultiPolygonContains(g, p) {
				return a.label, true
			}
		}
	}
	return "", false
}

// Assign locates every (x, y) pair. Sites without coordinates or outside
// every polygon get a null label and are counted as unassigned.
func (l *Layer) Assign(xs, ys []float64) ([]table.Value, int, error) {
	if len(xs) != len(ys) {
		return nil, 0, fmt.Errorf("%d x coordinates for %d y coordinates", len(xs), len(ys))
	}
	out := make([]table.Value, len(xs))
	unassigned := 0
	for i := range xs {
		out[i] = table.NA
		if math.IsNaN(xs[i]) || math.IsNaN(ys[i]) {
			unassigned++
			continue
		}
		if label, ok := l.Locate(orb.Point{xs[i], ys[i]}); ok {
			out[i] = table.Str(label)
		} else {
			unassigned++
		}
	}
	return out, unassigned, nil
}
