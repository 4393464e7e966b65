package report

import (
	"bytes"
	"fmt"
	"math"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"go.uber.org/zap"

	"github.com/banshee-data/soil.report/internal/cf"
)

var viridis = []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}

// Heatmap builds a land use x context heatmap of median cf. It returns nil
// when no stratum has a defined median.
func Heatmap(indicator string, stats []cf.GroupStats) *charts.HeatMap {
	landUses, contexts := axes(stats)
	xi := index(contexts)
	yi := index(landUses)

	data := make([]opts.HeatMapData, 0, len(stats))
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, s := range stats {
		if !finite(s.CFMedian) {
			continue
		}
		data = append(data, opts.HeatMapData{
			Name:  s.LandUse + " / " + s.Context,
			Value: [3]interface{}{xi[s.Context], yi[s.LandUse], s.CFMedian},
		})
		lo, hi = math.Min(lo, s.CFMedian), math.Max(hi, s.CFMedian)
	}
	if len(data) == 0 {
		return nil
	}

	hm := charts.NewHeatMap()
	hm.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Counterfactual " + indicator, Width: "1200px", Height: "800px"}),
		charts.WithTitleOpts(opts.Title{Title: "Median cf by land use and context", Subtitle: fmt.Sprintf("indicator=%s strata=%d", indicator, len(data))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "category", Data: contexts, Name: "Context", NameLocation: "middle", NameGap: 30}),
		charts.WithYAxisOpts(opts.YAxis{Type: "category", Data: landUses, Name: "Land use"}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        float32(lo),
			Max:        float32(hi),
			InRange:    &opts.VisualMapInRange{Color: viridis},
		}),
	)
	hm.SetXAxis(contexts).AddSeries("cf_median", data)
	return hm
}

// WriteHeatmap renders the heatmap as a standalone HTML page. It returns
// an empty path when there is nothing to draw.
func (w *Writer) WriteHeatmap(indicator string, stats []cf.GroupStats) (string, error) {
	hm := Heatmap(indicator, stats)
	if hm == nil {
		w.logger().Info("no defined cf medians, skipping heatmap")
		return "", nil
	}
	var buf bytes.Buffer
	if err := hm.Render(&buf); err != nil {
		return "", fmt.Errorf("render heatmap: %w", err)
	}
	p, err := w.writeTo(HeatmapFile(indicator), &buf)
	if err != nil {
		return "", err
	}
	w.logger().Debug("wrote heatmap", zap.String("path", p))
	return p, nil
}

func axes(stats []cf.GroupStats) (landUses, contexts []string) {
	seenLU := make(map[string]bool)
	seenCtx := make(map[string]bool)
	for _, s := range stats {
		if !seenLU[s.LandUse] {
			seenLU[s.LandUse] = true
			landUses = append(landUses, s.LandUse)
		}
		if !seenCtx[s.Context] {
			seenCtx[s.Context] = true
			contexts = append(contexts, s.Context)
		}
	}
	sort.Strings(landUses)
	sort.Strings(contexts)
	return landUses, contexts
}

func index(names []string) map[string]int {
	m := make(map[string]int, len(names))
	for i, n := range names {
		m[n] = i
	}
	return m
}
