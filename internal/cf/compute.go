package cf

import (
	"github.com/banshee-data/soil.report/internal/table"
)

// Outcome bundles the products of one counterfactual computation.
type Outcome struct {
	Contexts   []string
	Reference  *ReferenceTable
	Results    *Results
	Aggregates []GroupStats
}

// Compute runs the context, reference, score and aggregate stages over t.
// Categories should already be collapsed.
func Compute(t *table.Table, cfg Config) (*Outcome, error) {
	contexts, err := BuildContextKeys(t, cfg.ContextColumns, cfg.Logger)
	if err != nil {
		return nil, err
	}
	rt, err := BuildReferenceTable(t, cfg.LandUseColumn, cfg.Indicator, contexts)
	if err != nil {
		return nil, err
	}
	res, err := Score(t, contexts, rt, cfg)
	if err != nil {
		return nil, err
	}
	return &Outcome{
		Contexts:   contexts,
		Reference:  rt,
		Results:    res,
		Aggregates: Aggregate(res),
	}, nil
}
