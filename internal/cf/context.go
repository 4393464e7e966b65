package cf

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/banshee-data/soil.report/internal/monitoring"
	"github.com/banshee-data/soil.report/internal/table"
)

const (
	// KeySeparator joins classifier values into a context key.
	KeySeparator = "_"
	// NullSegment stands in for a null classifier value.
	NullSegment = "<NA>"
)

// BuildContextKeys concatenates the given classifier columns, in order,
// into one context key per row. Null classifier values become NullSegment;
// no row is dropped. Two rows share a key only if all their classifier
// values are equal: a value equal to NullSegment, or containing
// KeySeparator when more than one column is joined, is rejected with
// ErrAmbiguousKey.
func BuildContextKeys(t *table.Table, columns []string, logger *zap.Logger) ([]string, error) {
	if len(columns) == 0 {
		return nil, stageErr(StageContext, "", ErrNoContext)
	}
	cols := make([][]table.Value, len(columns))
	for i, name := range columns {
		col, err := t.Column(name)
		if err != nil {
			return nil, stageErr(StageContext, name, ErrMissingColumn)
		}
		cols[i] = col
	}

	keys := make([]string, t.Len())
	nulls := 0
	parts := make([]string, len(columns))
	for r := range keys {
		hasNull := false
		for i, col := range cols {
			if col[r].Null {
				parts[i] = NullSegment
				hasNull = true
				continue
			}
			if err := checkSegment(col[r].S, len(cols) > 1); err != nil {
				return nil, stageErr(StageContext, columns[i], fmt.Errorf("%w: row %d: %v", ErrAmbiguousKey, r+1, err))
			}
			parts[i] = col[r].S
		}
		if hasNull {
			nulls++
		}
		keys[r] = strings.Join(parts, KeySeparator)
	}

	if nulls > 0 {
		monitoring.Or(logger).Warn("context keys with null classifier",
			zap.Strings("columns", columns),
			zap.Int("records", nulls),
			zap.String("segment", NullSegment))
	}
	return keys, nil
}

func checkSegment(v string, joined bool) error {
	if v == NullSegment {
		return fmt.Errorf("value %q is the null marker", v)
	}
	if joined && strings.Contains(v, KeySeparator) {
		return fmt.Errorf("value %q contains the separator %q", v, KeySeparator)
	}
	return nil
}
