package cf

import (
	"math"
	"sort"

	"github.com/banshee-data/soil.report/internal/table"
)

// GroupKey identifies a (land use, context) stratum.
type GroupKey struct {
	LandUse string
	Context string
}

// ReferenceEntry is the median indicator of one stratum and the number of
// values it was computed from.
type ReferenceEntry struct {
	Median float64
	Count  int
}

// ReferenceTable maps strata to their median indicator. Strata without a
// single valid indicator value are absent. It is read-only once built.
type ReferenceTable struct {
	entries map[GroupKey]ReferenceEntry
}

// BuildReferenceTable groups rows by land use and context key and stores
// the median of the non-null, finite indicator values of each group. Rows
// with a null land use are not grouped.
func BuildReferenceTable(t *table.Table, landUseColumn, indicator string, contexts []string) (*ReferenceTable, error) {
	landUse, err := t.Column(landUseColumn)
	if err != nil {
		return nil, stageErr(StageReference, landUseColumn, ErrMissingColumn)
	}
	values, err := t.Floats(indicator)
	if err != nil {
		return nil, stageErr(StageReference, indicator, ErrMissingColumn)
	}
	if len(contexts) != t.Len() {
		return nil, stageErr(StageReference, "context", errLength(len(contexts), t.Len()))
	}

	groups := make(map[GroupKey][]float64)
	for r, lu := range landUse {
		if lu.Null || !isFinite(values[r]) {
			continue
		}
		k := GroupKey{LandUse: lu.S, Context: contexts[r]}
		groups[k] = append(groups[k], values[r])
	}

	rt := &ReferenceTable{entries: make(map[GroupKey]ReferenceEntry, len(groups))}
	for k, vals := range groups {
		rt.entries[k] = ReferenceEntry{Median: Median(vals), Count: len(vals)}
	}
	return rt, nil
}

// Lookup returns the entry for a stratum and whether it exists.
func (rt *ReferenceTable) Lookup(landUse, context string) (ReferenceEntry, bool) {
	e, ok := rt.entries[GroupKey{LandUse: landUse, Context: context}]
	return e, ok
}

// Len returns the number of strata.
func (rt *ReferenceTable) Len() int { return len(rt.entries) }

// Keys returns the strata sorted by land use then context.
func (rt *ReferenceTable) Keys() []GroupKey {
	keys := make([]GroupKey, 0, len(rt.entries))
	for k := range rt.entries {
		keys = append(keys, k)
	}
	sortKeys(keys)
	return keys
}

// Contexts returns how many contexts have a reference for landUse.
func (rt *ReferenceTable) Contexts(landUse string) int {
	n := 0
	for k := range rt.entries {
		if k.LandUse == landUse {
			n++
		}
	}
	return n
}

// Table renders the reference table as land_use, context, median, count.
func (rt *ReferenceTable) Table() *table.Table {
	out := table.New("land_use", "context", "median", "count")
	for _, k := range rt.Keys() {
		e := rt.entries[k]
		_ = out.AppendRow(table.Str(k.LandUse), table.Str(k.Context), table.Float(e.Median), table.Int(e.Count))
	}
	return out
}

// Median returns the median of the finite values in vals, averaging the two
// middle values for an even count, or NaN when there are none. vals is not
// modified.
func Median(vals []float64) float64 {
	xs := make([]float64, 0, len(vals))
	for _, v := range vals {
		if isFinite(v) {
			xs = append(xs, v)
		}
	}
	n := len(xs)
	if n == 0 {
		return math.NaN()
	}
	sort.Float64s(xs)
	if n%2 == 1 {
		return xs[n/2]
	}
	return (xs[n/2-1] + xs[n/2]) / 2
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func sortKeys(keys []GroupKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].LandUse != keys[j].LandUse {
			return keys[i].LandUse < keys[j].LandUse
		}
		return keys[i].Context < keys[j].Context
	})
}
