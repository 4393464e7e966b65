package report

import (
	"bytes"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"

	"github.com/banshee-data/soil.report/internal/cf"
)

// SiteFeatures builds a point feature per scored site. xs and ys hold the
// site coordinates in result order; sites with a missing coordinate are
// skipped and counted. Undefined numbers become null properties.
func SiteFeatures(res *cf.Results, xs, ys []float64) (*geojson.FeatureCollection, int, error) {
	if len(xs) != len(res.Rows) || len(ys) != len(res.Rows) {
		return nil, 0, fmt.Errorf("coordinates for %d/%d sites, want %d", len(xs), len(ys), len(res.Rows))
	}
	fc := geojson.NewFeatureCollection()
	skipped := 0
	for i, row := range res.Rows {
		if !finite(xs[i]) || !finite(ys[i]) {
			skipped++
			continue
		}
		f := geojson.NewFeature(orb.Point{xs[i], ys[i]})
		if !row.SiteID.Null {
			f.ID = row.SiteID.S
		}
		f.Properties["site_id"] = nullable(row.SiteID.S, row.SiteID.Null)
		f.Properties["land_use"] = nullable(row.LandUse.S, row.LandUse.Null)
		f.Properties["context"] = row.Context
		f.Properties[res.Indicator] = number(row.Value)
		f.Properties["reference_median"] = number(row.Reference)
		f.Properties["relative"] = number(row.Relative)
		f.Properties["cf"] = number(row.CF)
		fc.Append(f)
	}
	return fc, skipped, nil
}

// WriteGeoJSON writes the site layer for res.
func (w *Writer) WriteGeoJSON(res *cf.Results, xs, ys []float64) (string, error) {
	fc, skipped, err := SiteFeatures(res, xs, ys)
	if err != nil {
		return "", err
	}
	data, err := fc.MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("marshal features: %w", err)
	}
	p, err := w.writeTo(GeoJSONFile(res.Indicator), bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	logger := w.logger()
	if skipped > 0 {
		logger.Warn("sites without coordinates left out of geojson", zap.Int("skipped", skipped))
	}
	logger.Debug("wrote geojson", zap.String("path", p), zap.Int("features", len(fc.Features)))
	return p, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func number(v float64) interface{} {
	if !finite(v) {
		return nil
	}
	return v
}

func nullable(s string, null bool) interface{} {
	if null {
		return nil
	}
	return s
}
