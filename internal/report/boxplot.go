package report

import (
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/soil.report/internal/cf"
)

// cfByLandUse groups defined cf values by land use, sorted by name.
func cfByLandUse(res *cf.Results) ([]string, map[string]plotter.Values) {
	groups := make(map[string]plotter.Values)
	for _, row := range res.Rows {
		if row.LandUse.Null || !finite(row.CF) {
			continue
		}
		groups[row.LandUse.S] = append(groups[row.LandUse.S], row.CF)
	}
	names := make([]string, 0, len(groups))
	for lu := range groups {
		names = append(names, lu)
	}
	sort.Strings(names)
	return names, groups
}

// BoxPlot builds a box plot of cf per land use. It returns nil when no
// site has a defined cf.
func BoxPlot(res *cf.Results) (*plot.Plot, error) {
	names, groups := cfByLandUse(res)
	if len(names) == 0 {
		return nil, nil
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Counterfactual %s by land use", res.Indicator)
	p.X.Label.Text = "Land use"
	p.Y.Label.Text = "cf"

	width := vg.Points(20)
	lo, hi := math.Inf(1), math.Inf(-1)
	for i, lu := range names {
		b, err := plotter.NewBoxPlot(width, float64(i), groups[lu])
		if err != nil {
			return nil, fmt.Errorf("box for %q: %w", lu, err)
		}
		p.Add(b)
		for _, v := range groups[lu] {
			lo, hi = math.Min(lo, v), math.Max(hi, v)
		}
	}
	p.NominalX(names...)

	// Zero marks sites at the reference level.
	if lo <= 0 && hi >= 0 {
		zero, err := plotter.NewLine(plotter.XYs{{X: -0.5, Y: 0}, {X: float64(len(names)) - 0.5, Y: 0}})
		if err != nil {
			return nil, err
		}
		zero.Width = vg.Points(0.5)
		zero.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
		p.Add(zero)
	}
	return p, nil
}

// WriteBoxPlot renders the box plot as PNG. It returns an empty path when
// there is nothing to plot.
func (w *Writer) WriteBoxPlot(res *cf.Results) (string, error) {
	p, err := BoxPlot(res)
	if err != nil {
		return "", err
	}
	if p == nil {
		w.logger().Info("no defined cf values, skipping box plot")
		return "", nil
	}
	wt, err := p.WriterTo(10*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		return "", fmt.Errorf("render box plot: %w", err)
	}
	path, err := w.writeTo(BoxPlotFile(res.Indicator), wt)
	if err != nil {
		return "", err
	}
	w.logger().Debug("wrote box plot", zap.String("path", path))
	return path, nil
}
