package cf

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/banshee-data/soil.report/internal/monitoring"
	"github.com/banshee-data/soil.report/internal/table"
)

// Config names the columns and reference used by a counterfactual run.
type Config struct {
	SiteIDColumn     string
	LandUseColumn    string
	ContextColumns   []string
	ReferenceLandUse string
	Indicator        string
	Logger           *zap.Logger
}

// Result is the counterfactual outcome for one site. Undefined values are NaN.
type Result struct {
	SiteID    table.Value
	LandUse   table.Value
	Context   string
	Value     float64
	Reference float64
	Relative  float64
	CF        float64
}

// Results holds one Result per input row, in input order.
type Results struct {
	Indicator string
	Rows      []Result
}

// Undefined counts the rows whose cf could not be computed.
func (r *Results) Undefined() int {
	n := 0
	for _, row := range r.Rows {
		if !isFinite(row.CF) {
			n++
		}
	}
	return n
}

// Table renders the results with the per-record output columns.
func (r *Results) Table() *table.Table {
	out := table.New("site_id", "land_use", "context", r.Indicator,
		"reference_median_"+r.Indicator, "relative_"+r.Indicator, "cf")
	for _, row := range r.Rows {
		_ = out.AppendRow(row.SiteID, row.LandUse, table.Str(row.Context), table.Float(row.Value),
			table.Float(row.Reference), table.Float(row.Relative), table.Float(row.CF))
	}
	return out
}

// Score computes the counterfactual result of every row. The reference is
// always looked up under cfg.ReferenceLandUse and the row's own context,
// never under the row's own land use. Missing or zero references yield NaN
// rather than an error; missing columns are fatal.
func Score(t *table.Table, contexts []string, rt *ReferenceTable, cfg Config) (*Results, error) {
	siteIDs, err := t.Column(cfg.SiteIDColumn)
	if err != nil {
		return nil, stageErr(StageScore, cfg.SiteIDColumn, ErrMissingColumn)
	}
	landUse, err := t.Column(cfg.LandUseColumn)
	if err != nil {
		return nil, stageErr(StageScore, cfg.LandUseColumn, ErrMissingColumn)
	}
	for _, c := range cfg.ContextColumns {
		if !t.Has(c) {
			return nil, stageErr(StageScore, c, ErrMissingColumn)
		}
	}
	values, err := t.Floats(cfg.Indicator)
	if err != nil {
		return nil, stageErr(StageScore, cfg.Indicator, ErrMissingColumn)
	}
	if len(contexts) != t.Len() {
		return nil, stageErr(StageScore, "context", errLength(len(contexts), t.Len()))
	}

	logger := monitoring.Or(cfg.Logger)
	if rt.Contexts(cfg.ReferenceLandUse) == 0 {
		logger.Warn("no reference strata, every score is undefined",
			zap.String("reference_land_use", cfg.ReferenceLandUse),
			zap.String("indicator", cfg.Indicator))
	}

	nonFinite := 0
	for r, v := range values {
		if math.IsInf(v, 0) {
			values[r] = math.NaN()
			nonFinite++
		}
	}
	if nonFinite > 0 {
		logger.Warn("infinite indicator values treated as missing",
			zap.String("indicator", cfg.Indicator),
			zap.Int("records", nonFinite))
	}

	res := &Results{Indicator: cfg.Indicator, Rows: make([]Result, t.Len())}
	for r := range res.Rows {
		ref := math.NaN()
		if e, ok := rt.Lookup(cfg.ReferenceLandUse, contexts[r]); ok {
			ref = e.Median
		}
		rel := relative(values[r], ref)
		res.Rows[r] = Result{
			SiteID:    siteIDs[r],
			LandUse:   landUse[r],
			Context:   contexts[r],
			Value:     values[r],
			Reference: ref,
			Relative:  rel,
			CF:        1 - rel,
		}
	}

	logger.Info("scored sites",
		zap.String("indicator", cfg.Indicator),
		zap.String("reference_land_use", cfg.ReferenceLandUse),
		zap.Int("sites", len(res.Rows)),
		zap.Int("undefined", res.Undefined()))
	return res, nil
}

// relative divides value by ref. A zero or undefined reference is undefined.
func relative(value, ref float64) float64 {
	if math.IsNaN(ref) || ref == 0 || math.IsNaN(value) {
		return math.NaN()
	}
	if rel := value / ref; isFinite(rel) {
		return rel
	}
	return math.NaN()
}

func errLength(got, want int) error {
	return fmt.Errorf("%d context keys for %d rows", got, want)
}
