// Package richness derives OTU richness from 16S abundance tables.
package richness

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/banshee-data/soil.report/internal/monitoring"
	"github.com/banshee-data/soil.report/internal/table"
)

const (
	// Column is the name of the derived richness column.
	Column = "otu_richness"
	// TotalColumn is the name of the total read count column.
	TotalColumn = "total_otu_abundance"
)

// Layout is the orientation of an abundance table.
type Layout string

const (
	// OTUsAsRows has one row per OTU and one column per sample.
	OTUsAsRows Layout = "otus_as_rows"
	// SamplesAsRows has one row per sample and one column per OTU.
	SamplesAsRows Layout = "samples_as_rows"
)

// Options control richness derivation.
type Options struct {
	Layout Layout
	// OTUColumn holds the OTU identifiers of an OTUsAsRows table.
	OTUColumn string
	// SampleColumn holds the sample identifiers of a SamplesAsRows table.
	// Empty means SiteIDColumn.
	SampleColumn string
	// SiteIDColumn names the site id column of the returned table.
	SiteIDColumn string
	// MinDepth is the minimum total read count for a sample to get a
	// richness. Shallower samples get a null richness.
	MinDepth int
	// Taxonomy, when set, adds the mean abundance per taxon at its level.
	Taxonomy *Taxonomy
	Logger   *zap.Logger
}

type sample struct {
	id     table.Value
	counts []float64
	raw    func(i int) table.Value
}

// FromAbundance counts, for every sample, the OTUs with a positive
// abundance and the total read count. The returned table has one row per
// sample, in table order, with columns SiteIDColumn, otu_richness and
// total_otu_abundance.
func FromAbundance(t *table.Table, opts Options) (*table.Table, error) {
	siteCol := opts.SiteIDColumn
	if siteCol == "" {
		siteCol = "site_id"
	}

	var samples []sample
	var otuIDs []string
	switch opts.Layout {
	case "", OTUsAsRows:
		ids, err := t.Column(opts.OTUColumn)
		if err != nil {
			return nil, fmt.Errorf("abundance table: %w", err)
		}
		for _, id := range ids {
			otuIDs = append(otuIDs, id.S)
		}
		for _, name := range t.Header() {
			if name == opts.OTUColumn {
				continue
			}
			counts, err := t.Floats(name)
			if err != nil {
				return nil, err
			}
			name := name
			samples = append(samples, sample{
				id:     table.Str(name),
				counts: counts,
				raw:    func(i int) table.Value { return t.Get(i, name) },
			})
		}
	case SamplesAsRows:
		idCol := opts.SampleColumn
		if idCol == "" {
			idCol = siteCol
		}
		ids, err := t.Column(idCol)
		if err != nil {
			return nil, fmt.Errorf("abundance table: %w", err)
		}
		var names []string
		cols := make(map[string][]float64)
		for _, name := range t.Header() {
			if name == idCol {
				continue
			}
			if cols[name], err = t.Floats(name); err != nil {
				return nil, err
			}
			names = append(names, name)
		}
		otuIDs = names
		for r := range ids {
			r := r
			counts := make([]float64, len(names))
			for j, name := range names {
				counts[j] = cols[name][r]
			}
			samples = append(samples, sample{
				id:     ids[r],
				counts: counts,
				raw:    func(j int) table.Value { return t.Get(r, names[j]) },
			})
		}
	default:
		return nil, fmt.Errorf("abundance table: unknown layout %q", opts.Layout)
	}

	header := []string{siteCol, Column, TotalColumn}
	var labels []string
	if tx := opts.Taxonomy; tx != nil {
		header = append(header, LevelColumn(tx.Level))
		labels = make([]string, len(otuIDs))
		missing := 0
		for i, id := range otuIDs {
			var ok bool
			if labels[i], ok = tx.Label(id); !ok {
				missing++
			}
		}
		if missing > 0 {
			monitoring.Or(opts.Logger).Warn("otus missing from the taxonomy are unclassified",
				zap.String("level", tx.Level),
				zap.Int("otus", missing))
		}
	}

	out := table.New(header...)
	shallow := 0
	for _, s := range samples {
		richness, depth, err := count(s)
		if err != nil {
			return nil, err
		}
		v := table.Int(richness)
		if depth < float64(opts.MinDepth) {
			v = table.NA
			shallow++
		}
		row := []table.Value{s.id, v, table.Float(depth)}
		if labels != nil {
			row = append(row, table.Float(meanLevelAbundance(s.counts, labels)))
		}
		if err := out.AppendRow(row...); err != nil {
			return nil, err
		}
	}

	monitoring.Or(opts.Logger).Info("derived otu richness",
		zap.String("layout", string(opts.Layout)),
		zap.Int("samples", out.Len()),
		zap.Int("otus", len(otuIDs)),
		zap.Int("below_min_depth", shallow),
		zap.Int("min_depth", opts.MinDepth))
	return out, nil
}

// count returns the number of OTUs present in s and its read depth.
func count(s sample) (int, float64, error) {
	richness, depth := 0, 0.0
	for i, c := range s.counts {
		if math.IsNaN(c) {
			if v := s.raw(i); !v.Null {
				return 0, 0, fmt.Errorf("abundance table: sample %q entry %d: not a number: %q", s.id.S, i+1, v.S)
			}
			continue
		}
		if c < 0 {
			return 0, 0, fmt.Errorf("abundance table: sample %q entry %d: negative count %v", s.id.S, i+1, c)
		}
		if c > 0 {
			richness++
		}
		depth += c
	}
	return richness, depth, nil
}
