package report

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/soil.report/internal/cf"
	"github.com/banshee-data/soil.report/internal/table"
)

// LandUseStat describes the distribution of cf over all sites of one land
// use, pooled across contexts.
type LandUseStat struct {
	LandUse string
	Sites   int
	N       int // sites with a defined cf
	Mean    float64
	StdDev  float64
	Min     float64
	Q1      float64
	Median  float64
	Q3      float64
	Max     float64
}

// LandUseStats computes per land use cf statistics. Rows with a null land
// use are left out. The result is sorted by land use.
func LandUseStats(res *cf.Results) []LandUseStat {
	sites := make(map[string]int)
	values := make(map[string][]float64)
	for _, row := range res.Rows {
		if row.LandUse.Null {
			continue
		}
		lu := row.LandUse.S
		sites[lu]++
		if !math.IsNaN(row.CF) && !math.IsInf(row.CF, 0) {
			values[lu] = append(values[lu], row.CF)
		}
	}

	names := make([]string, 0, len(sites))
	for lu := range sites {
		names = append(names, lu)
	}
	sort.Strings(names)

	out := make([]LandUseStat, 0, len(names))
	for _, lu := range names {
		out = append(out, describe(lu, sites[lu], values[lu]))
	}
	return out
}

func describe(landUse string, sites int, x []float64) LandUseStat {
	s := LandUseStat{LandUse: landUse, Sites: sites, N: len(x)}
	if len(x) == 0 {
		nan := math.NaN()
		s.Mean, s.StdDev, s.Min, s.Q1, s.Median, s.Q3, s.Max = nan, nan, nan, nan, nan, nan, nan
		return s
	}
	sorted := append([]float64(nil), x...)
	sort.Float64s(sorted)

	s.Mean = stat.Mean(sorted, nil)
	s.StdDev = math.NaN()
	if len(sorted) > 1 {
		s.StdDev = stat.StdDev(sorted, nil)
	}
	s.Min = floats.Min(sorted)
	s.Max = floats.Max(sorted)
	s.Q1 = stat.Quantile(0.25, stat.LinInterp, sorted, nil)
	s.Median = cf.Median(sorted)
	s.Q3 = stat.Quantile(0.75, stat.LinInterp, sorted, nil)
	return s
}

// LandUseTable renders land use statistics as a table.
func LandUseTable(stats []LandUseStat) *table.Table {
	out := table.New("land_use", "n_sites", "cf_count", "cf_mean", "cf_sd",
		"cf_min", "cf_q1", "cf_median", "cf_q3", "cf_max")
	for _, s := range stats {
		_ = out.AppendRow(table.Str(s.LandUse), table.Int(s.Sites), table.Int(s.N),
			table.Float(s.Mean), table.Float(s.StdDev), table.Float(s.Min),
			table.Float(s.Q1), table.Float(s.Median), table.Float(s.Q3), table.Float(s.Max))
	}
	return out
}
