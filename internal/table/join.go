package table

import (
	"errors"
	"fmt"
)

// ErrDuplicateKey is returned when the right-hand side of a join has the
// same key on more than one row.
var ErrDuplicateKey = errors.New("duplicate join key")

// JoinHow selects which unmatched rows a join keeps.
type JoinHow string

const (
	Inner JoinHow = "inner"
	Left  JoinHow = "left"
	Outer JoinHow = "outer"
)

// Join merges right into left on the key column. Rows come out in left
// order, followed for an outer join by the unmatched right rows in right
// order. Right columns that clash with a left column get a "_right" suffix.
// Right keys must be unique; null keys never match.
func Join(left, right *Table, key string, how JoinHow) (*Table, error) {
	switch how {
	case Inner, Left, Outer:
	default:
		return nil, fmt.Errorf("unknown join %q", how)
	}
	lk, err := left.Column(key)
	if err != nil {
		return nil, fmt.Errorf("left: %w", err)
	}
	rk, err := right.Column(key)
	if err != nil {
		return nil, fmt.Errorf("right: %w", err)
	}

	rowOf := make(map[string]int, len(rk))
	for r, v := range rk {
		if v.Null {
			continue
		}
		if _, dup := rowOf[v.S]; dup {
			return nil, fmt.Errorf("%w: %s=%q", ErrDuplicateKey, key, v.S)
		}
		rowOf[v.S] = r
	}

	header := left.Header()
	var rightCols []int
	for i, h := range right.header {
		if h == key {
			continue
		}
		name := h
		if left.Has(name) {
			name += "_right"
		}
		header = append(header, name)
		rightCols = append(rightCols, i)
	}
	out := New(header...)

	matched := make([]bool, right.Len())
	row := make([]Value, len(header))
	for l := 0; l < left.Len(); l++ {
		r, ok := -1, false
		if !lk[l].Null {
			r, ok = rowOf[lk[l].S]
		}
		if !ok && how == Inner {
			continue
		}
		for i := range left.cols {
			row[i] = left.cols[i][l]
		}
		for j, c := range rightCols {
			if ok {
				row[len(left.cols)+j] = right.cols[c][r]
			} else {
				row[len(left.cols)+j] = NA
			}
		}
		if ok {
			matched[r] = true
		}
		if err := out.AppendRow(row...); err != nil {
			return nil, err
		}
	}

	if how == Outer {
		keyIdx := left.index[key]
		for r := 0; r < right.Len(); r++ {
			if matched[r] {
				continue
			}
			for i := range left.cols {
				row[i] = NA
			}
			row[keyIdx] = rk[r]
			for j, c := range rightCols {
				row[len(left.cols)+j] = right.cols[c][r]
			}
			if err := out.AppendRow(row...); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}
