// Package category reduces the cardinality of categorical columns by
// folding rare values into a single bucket label.
package category

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/banshee-data/soil.report/internal/monitoring"
	"github.com/banshee-data/soil.report/internal/table"
)

// ErrInvalidParameter is returned for a policy parameter outside its domain.
var ErrInvalidParameter = errors.New("invalid collapse parameter")

// DefaultLabel is the bucket rare values are folded into.
const DefaultLabel = "Others"

// Kind names a collapsing policy.
type Kind string

const (
	None     Kind = "none"
	TopCats  Kind = "top_cats"
	Quantile Kind = "quantile"
	MinCount Kind = "min_count"
)

// Policy is a validated collapsing rule.
type Policy struct {
	Kind Kind
	// N is the number of values top_cats keeps.
	N int
	// Q is the cumulative frequency share quantile keeps.
	Q float64
	// K is the count at or below which min_count collapses.
	K int
}

// ParsePolicy builds a Policy from its configuration name and numeric
// parameter. Integer policies reject fractional parameters.
func ParsePolicy(name string, param float64) (Policy, error) {
	p := Policy{Kind: Kind(name)}
	switch p.Kind {
	case None:
	case TopCats:
		if param != math.Trunc(param) {
			return Policy{}, fmt.Errorf("%w: top_cats n must be an integer, got %v", ErrInvalidParameter, param)
		}
		p.N = int(param)
	case Quantile:
		p.Q = param
	case MinCount:
		if param != math.Trunc(param) {
			return Policy{}, fmt.Errorf("%w: min_count k must be an integer, got %v", ErrInvalidParameter, param)
		}
		p.K = int(param)
	default:
		return Policy{}, fmt.Errorf("%w: unknown policy %q", ErrInvalidParameter, name)
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// Validate checks the policy parameter against its domain.
func (p Policy) Validate() error {
	switch p.Kind {
	case None:
	case TopCats:
		if p.N <= 0 {
			return fmt.Errorf("%w: top_cats n must be positive, got %d", ErrInvalidParameter, p.N)
		}
	case Quantile:
		if math.IsNaN(p.Q) || p.Q <= 0 || p.Q > 1 {
			return fmt.Errorf("%w: quantile q must be in (0, 1], got %v", ErrInvalidParameter, p.Q)
		}
	case MinCount:
		if p.K < 0 {
			return fmt.Errorf("%w: min_count k must be non-negative, got %d", ErrInvalidParameter, p.K)
		}
	default:
		return fmt.Errorf("%w: unknown policy %q", ErrInvalidParameter, p.Kind)
	}
	return nil
}

func (p Policy) String() string {
	switch p.Kind {
	case TopCats:
		return "top_cats(" + strconv.Itoa(p.N) + ")"
	case Quantile:
		return "quantile(" + strconv.FormatFloat(p.Q, 'g', -1, 64) + ")"
	case MinCount:
		return "min_count(" + strconv.Itoa(p.K) + ")"
	}
	return string(p.Kind)
}

// Summary reports what a Collapse call did.
type Summary struct {
	Column    string
	Distinct  int
	Skipped   bool
	Collapsed []string
	Records   int
}

// Collapser applies a Policy to categorical columns.
type Collapser struct {
	Policy Policy
	// Label replaces collapsed values. Empty means DefaultLabel.
	Label string
	// MinDistinct skips collapsing when the column has fewer distinct
	// values. Zero always applies the policy.
	MinDistinct int
	Logger      *zap.Logger
}

// Collapse returns a copy of values with values failing the policy
// replaced by the label. Nulls stay null and are not counted. The label
// itself is never ranked or collapsed, so collapsing is idempotent.
func (c Collapser) Collapse(column string, values []table.Value) ([]table.Value, Summary, error) {
	if err := c.Policy.Validate(); err != nil {
		return nil, Summary{}, err
	}
	label := c.label()
	out := append([]table.Value(nil), values...)

	var order []string
	counts := make(map[string]int)
	total := 0
	for _, v := range values {
		if v.Null {
			continue
		}
		total++
		if _, seen := counts[v.S]; !seen {
			order = append(order, v.S)
		}
		counts[v.S]++
	}

	sum := Summary{Column: column, Distinct: len(order)}
	if c.Policy.Kind == None || len(order) < c.MinDistinct {
		sum.Skipped = true
		return out, sum, nil
	}

	// Rank candidates by descending count, first appearance breaking ties.
	ranked := make([]string, 0, len(order))
	for _, s := range order {
		if s != label {
			ranked = append(ranked, s)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return counts[ranked[i]] > counts[ranked[j]] })

	keep := c.retained(ranked, counts, total)
	for _, s := range ranked {
		if !keep[s] {
			sum.Collapsed = append(sum.Collapsed, s)
			sum.Records += counts[s]
		}
	}
	if len(sum.Collapsed) > 0 {
		for i, v := range out {
			if !v.Null && v.S != label && !keep[v.S] {
				out[i] = table.Str(label)
			}
		}
	}

	monitoring.Or(c.Logger).Info("collapsed rare categories",
		zap.String("column", column),
		zap.String("policy", c.Policy.String()),
		zap.Int("distinct", sum.Distinct),
		zap.Strings("collapsed", sum.Collapsed),
		zap.Int("records", sum.Records),
		zap.String("label", label))
	return out, sum, nil
}

func (c Collapser) retained(ranked []string, counts map[string]int, total int) map[string]bool {
	keep := make(map[string]bool, len(ranked))
	switch c.Policy.Kind {
	case TopCats:
		for i, s := range ranked {
			if i < c.Policy.N {
				keep[s] = true
			}
		}
	case Quantile:
		// Keep the head of the distribution; everything whose cumulative
		// share passes q is tail.
		const eps = 1e-12
		cum := 0
		for _, s := range ranked {
			cum += counts[s]
			if float64(cum)/float64(total) <= c.Policy.Q+eps {
				keep[s] = true
			}
		}
	case MinCount:
		for _, s := range ranked {
			if counts[s] > c.Policy.K {
				keep[s] = true
			}
		}
	}
	return keep
}

func (c Collapser) label() string {
	if c.Label == "" {
		return DefaultLabel
	}
	return c.Label
}
