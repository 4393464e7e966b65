package richness

import (
	"fmt"
	"math"

	"github.com/banshee-data/soil.report/internal/table"
)

// DefaultLevel is the taxonomic rank used when none is configured.
const DefaultLevel = "ORDER"

// Taxonomy maps OTU identifiers to their label at one taxonomic rank.
type Taxonomy struct {
	Level  string
	labels map[string]string
}

// Unclassified is the label of OTUs without a taxon at level.
func Unclassified(level string) string { return "unclassified_" + level }

// LevelColumn is the name of the mean abundance column for level.
func LevelColumn(level string) string { return "mean_" + level + "_abundance" }

// ReadTaxonomy builds a Taxonomy from a table with one row per OTU. Null
// and "Unknown" labels become Unclassified(level).
func ReadTaxonomy(t *table.Table, otuColumn, level string) (*Taxonomy, error) {
	ids, err := t.Column(otuColumn)
	if err != nil {
		return nil, fmt.Errorf("taxonomy table: %w", err)
	}
	ranks, err := t.Column(level)
	if err != nil {
		return nil, fmt.Errorf("taxonomy table: %w", err)
	}
	tx := &Taxonomy{Level: level, labels: make(map[string]string, len(ids))}
	for i, id := range ids {
		if id.Null {
			continue
		}
		label := ranks[i].S
		if ranks[i].Null || label == "Unknown" {
			label = Unclassified(level)
		}
		tx.labels[id.S] = label
	}
	return tx, nil
}

// Len returns the number of classified OTU identifiers.
func (tx *Taxonomy) Len() int { return len(tx.labels) }

// Label returns the taxon of otu. OTUs missing from the taxonomy are
// unclassified and reported as not found.
func (tx *Taxonomy) Label(otu string) (string, bool) {
	if l, ok := tx.labels[otu]; ok {
		return l, true
	}
	return Unclassified(tx.Level), false
}

// meanLevelAbundance averages, over the taxa of a sample, the mean
// abundance of each taxon's OTUs. labels is indexed like counts; null
// counts are skipped. A sample without counts is NaN.
func meanLevelAbundance(counts []float64, labels []string) float64 {
	type acc struct {
		sum float64
		n   int
	}
	byTaxon := make(map[string]*acc)
	var order []string
	for i, c := range counts {
		if math.IsNaN(c) {
			continue
		}
		a := byTaxon[labels[i]]
		if a == nil {
			a = &acc{}
			byTaxon[labels[i]] = a
			order = append(order, labels[i])
		}
		a.sum += c
		a.n++
	}
	if len(order) == 0 {
		return math.NaN()
	}
	total := 0.0
	for _, l := range order {
		a := byTaxon[l]
		total += a.sum / float64(a.n)
	}
	return total / float64(len(order))
}
