// Package report writes the products of a counterfactual run: CSV tables,
// a GeoJSON layer of scored sites and optional charts.
package report

import (
	"fmt"
	"io"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/banshee-data/soil.report/internal/cf"
	"github.com/banshee-data/soil.report/internal/fsutil"
	"github.com/banshee-data/soil.report/internal/monitoring"
	"github.com/banshee-data/soil.report/internal/security"
	"github.com/banshee-data/soil.report/internal/table"
)

// IntegratedFile is the name of the joined site table.
const IntegratedFile = "integrated_sites.csv"

// ResultsFile returns the per-site output name for an indicator.
func ResultsFile(indicator string) string { return "cf_" + stem(indicator) + ".csv" }

// SummaryFile returns the aggregate output name for an indicator.
func SummaryFile(indicator string) string { return "cf_" + stem(indicator) + "_summary.csv" }

// ReferenceFile returns the reference median output name for an indicator.
func ReferenceFile(indicator string) string { return "reference_" + stem(indicator) + ".csv" }

// LandUseFile returns the per land use statistics output name.
func LandUseFile(indicator string) string { return "cf_" + stem(indicator) + "_landuse.csv" }

// GeoJSONFile returns the site layer output name.
func GeoJSONFile(indicator string) string { return "cf_" + stem(indicator) + ".geojson" }

// BoxPlotFile returns the box plot output name.
func BoxPlotFile(indicator string) string { return "cf_" + stem(indicator) + "_boxplot.png" }

// HeatmapFile returns the heatmap output name.
func HeatmapFile(indicator string) string { return "cf_" + stem(indicator) + "_heatmap.html" }

// stem is the indicator as it appears in file names.
func stem(indicator string) string { return security.SanitizeFilename(indicator) }

// Writer writes report files into Dir on FS.
type Writer struct {
	FS     fsutil.FileSystem
	Dir    string
	Logger *zap.Logger
}

// NewWriter returns a Writer for dir. A nil logger uses the package logger.
func NewWriter(fsys fsutil.FileSystem, dir string, logger *zap.Logger) *Writer {
	return &Writer{FS: fsys, Dir: dir, Logger: logger}
}

func (w *Writer) logger() *zap.Logger {
	return monitoring.Or(w.Logger)
}

func (w *Writer) path(name string) string {
	return filepath.Join(w.Dir, name)
}

func (w *Writer) ensureDir() error {
	if err := w.FS.MkdirAll(w.Dir, 0o755); err != nil {
		return fmt.Errorf("create output dir %s: %w", w.Dir, err)
	}
	return nil
}

// WriteTable writes t as CSV under name and returns the full path.
func (w *Writer) WriteTable(name string, t *table.Table) (string, error) {
	if err := w.ensureDir(); err != nil {
		return "", err
	}
	p := w.path(name)
	if err := table.WriteFile(w.FS, p, t); err != nil {
		return "", err
	}
	w.logger().Debug("wrote table", zap.String("path", p), zap.Int("rows", t.Len()))
	return p, nil
}

// WriteOutcome writes the per-site results, the aggregate summary, the
// reference medians and the land use statistics. Paths are returned in
// that order.
func (w *Writer) WriteOutcome(out *cf.Outcome) ([]string, error) {
	ind := out.Results.Indicator
	files := []struct {
		name string
		t    *table.Table
	}{
		{ResultsFile(ind), out.Results.Table()},
		{SummaryFile(ind), cf.AggregateTable(ind, out.Aggregates)},
		{ReferenceFile(ind), out.Reference.Table()},
		{LandUseFile(ind), LandUseTable(LandUseStats(out.Results))},
	}
	paths := make([]string, 0, len(files))
	for _, f := range files {
		p, err := w.WriteTable(f.name, f.t)
		if err != nil {
			return paths, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}

// writeTo streams wt into name.
func (w *Writer) writeTo(name string, wt io.WriterTo) (string, error) {
	if err := w.ensureDir(); err != nil {
		return "", err
	}
	p := w.path(name)
	f, err := w.FS.Create(p)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", p, err)
	}
	if _, err := wt.WriteTo(f); err != nil {
		f.Close()
		return "", fmt.Errorf("write %s: %w", p, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", p, err)
	}
	return p, nil
}
