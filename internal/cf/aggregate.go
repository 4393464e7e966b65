package cf

import (
	"math"

	"github.com/banshee-data/soil.report/internal/table"
)

// GroupStats summarises the results of one (land use, context) stratum.
// Medians and counts skip undefined values.
type GroupStats struct {
	LandUse        string
	Context        string
	Sites          int
	RelativeMedian float64
	RelativeCount  int
	CFMedian       float64
	CFCount        int
}

// Aggregate groups results by land use and context, with the same grouping
// as BuildReferenceTable: rows with a null land use are left out. Groups
// are sorted by land use then context.
func Aggregate(res *Results) []GroupStats {
	type acc struct {
		sites     int
		relatives []float64
		cfs       []float64
	}
	groups := make(map[GroupKey]*acc)
	for _, row := range res.Rows {
		if row.LandUse.Null {
			continue
		}
		k := GroupKey{LandUse: row.LandUse.S, Context: row.Context}
		a := groups[k]
		if a == nil {
			a = &acc{}
			groups[k] = a
		}
		a.sites++
		if !math.IsNaN(row.Relative) {
			a.relatives = append(a.relatives, row.Relative)
		}
		if !math.IsNaN(row.CF) {
			a.cfs = append(a.cfs, row.CF)
		}
	}

	keys := make([]GroupKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sortKeys(keys)

	out := make([]GroupStats, 0, len(keys))
	for _, k := range keys {
		a := groups[k]
		out = append(out, GroupStats{
			LandUse:        k.LandUse,
			Context:        k.Context,
			Sites:          a.sites,
			RelativeMedian: Median(a.relatives),
			RelativeCount:  len(a.relatives),
			CFMedian:       Median(a.cfs),
			CFCount:        len(a.cfs),
		})
	}
	return out
}

// AggregateTable renders aggregate rows with the summary output columns.
func AggregateTable(indicator string, stats []GroupStats) *table.Table {
	rel := "relative_" + indicator
	out := table.New("land_use", "context", "n_sites", rel+"_median", rel+"_count", "cf_median", "cf_count")
	for _, s := range stats {
		_ = out.AppendRow(table.Str(s.LandUse), table.Str(s.Context), table.Int(s.Sites),
			table.Float(s.RelativeMedian), table.Int(s.RelativeCount),
			table.Float(s.CFMedian), table.Int(s.CFCount))
	}
	return out
}
