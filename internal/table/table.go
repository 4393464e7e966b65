// Package table is a small column-oriented, string-typed table used to carry
// site records between the readers, the counterfactual engine and the
// writers. Every cell is either a string or null.
package table

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrNoColumn is returned when a named column does not exist.
var ErrNoColumn = errors.New("no such column")

// Value is a single nullable cell.
type Value struct {
	S    string
	Null bool
}

// NA is the null cell.
var NA = Value{Null: true}

// Str returns a non-null cell holding s.
func Str(s string) Value { return Value{S: s} }

// Float returns a cell holding f formatted with the shortest representation.
// NaN becomes null.
func Float(f float64) Value {
	if math.IsNaN(f) {
		return NA
	}
	return Value{S: strconv.FormatFloat(f, 'g', -1, 64)}
}

// Int returns a cell holding n.
func Int(n int) Value { return Value{S: strconv.Itoa(n)} }

// String renders the cell; null renders as the empty string.
func (v Value) String() string {
	if v.Null {
		return ""
	}
	return v.S
}

// naTokens are the spellings of a missing value found in the source tables.
var naTokens = map[string]bool{
	"":     true,
	"NA":   true,
	"N/A":  true,
	"NaN":  true,
	"nan":  true,
	"null": true,
	"NULL": true,
	"None": true,
}

// Parse converts a raw text cell into a Value, mapping NA spellings to null.
func Parse(raw string) Value {
	s := strings.TrimSpace(raw)
	if naTokens[s] {
		return NA
	}
	return Value{S: s}
}

// ParseFloat returns the numeric value of v, or NaN when v is null or not a
// number. A decimal comma is accepted when the cell has no decimal point.
func ParseFloat(v Value) float64 {
	if v.Null {
		return math.NaN()
	}
	f, err := strconv.ParseFloat(v.S, 64)
	if err != nil && strings.Count(v.S, ",") == 1 && !strings.Contains(v.S, ".") {
		f, err = strconv.ParseFloat(strings.Replace(v.S, ",", ".", 1), 64)
	}
	if err != nil {
		return math.NaN()
	}
	return f
}

// Table holds named columns of equal length.
type Table struct {
	header []string
	index  map[string]int
	cols   [][]Value
}

// New returns an empty table with the given header.
func New(header ...string) *Table {
	t := &Table{index: make(map[string]int, len(header))}
	for _, h := range header {
		// Duplicate names in a header are suffixed rather than rejected.
		name := h
		for n := 2; t.Has(name); n++ {
			name = fmt.Sprintf("%s_%d", h, n)
		}
		t.index[name] = len(t.header)
		t.header = append(t.header, name)
		t.cols = append(t.cols, nil)
	}
	return t
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if len(t.cols) == 0 {
		return 0
	}
	return len(t.cols[0])
}

// Header returns a copy of the column names in order.
func (t *Table) Header() []string {
	return append([]string(nil), t.header...)
}

// Has reports whether the table has the named column.
func (t *Table) Has(name string) bool {
	_, ok := t.index[name]
	return ok
}

// Column returns the named column. The slice is shared with the table and
// must not be modified; use SetColumn to replace values.
func (t *Table) Column(name string) ([]Value, error) {
	i, ok := t.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoColumn, name)
	}
	return t.cols[i], nil
}

// Floats returns the named column parsed as float64, NaN for nulls and
// non-numeric cells.
func (t *Table) Floats(name string) ([]float64, error) {
	col, err := t.Column(name)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(col))
	for i, v := range col {
		out[i] = ParseFloat(v)
	}
	return out, nil
}

// Get returns the cell at row i of the named column, or null when the
// column does not exist.
func (t *Table) Get(i int, name string) Value {
	c, ok := t.index[name]
	if !ok {
		return NA
	}
	return t.cols[c][i]
}

// AppendRow appends one row. Missing trailing cells are null.
func (t *Table) AppendRow(vals ...Value) error {
	if len(vals) > len(t.header) {
		return fmt.Errorf("row has %d cells, table has %d columns", len(vals), len(t.header))
	}
	for i := range t.cols {
		v := NA
		if i < len(vals) {
			v = vals[i]
		}
		t.cols[i] = append(t.cols[i], v)
	}
	return nil
}

// AddColumn appends a new column. vals must have one value per row.
func (t *Table) AddColumn(name string, vals []Value) error {
	if t.Has(name) {
		return fmt.Errorf("column %q already exists", name)
	}
	if len(t.header) > 0 && len(vals) != t.Len() {
		return fmt.Errorf("column %q has %d values, table has %d rows", name, len(vals), t.Len())
	}
	t.index[name] = len(t.header)
	t.header = append(t.header, name)
	t.cols = append(t.cols, append([]Value(nil), vals...))
	return nil
}

// SetColumn replaces the named column, adding it if absent. The previous
// slice is not modified.
func (t *Table) SetColumn(name string, vals []Value) error {
	i, ok := t.index[name]
	if !ok {
		return t.AddColumn(name, vals)
	}
	if len(vals) != t.Len() {
		return fmt.Errorf("column %q has %d values, table has %d rows", name, len(vals), t.Len())
	}
	t.cols[i] = append([]Value(nil), vals...)
	return nil
}

// Clone returns a copy of the table that shares no column slices.
func (t *Table) Clone() *Table {
	c := New(t.header...)
	for i, col := range t.cols {
		c.cols[i] = append([]Value(nil), col...)
	}
	return c
}

// Filter returns a new table holding the rows for which keep returns true,
// in their original order.
func (t *Table) Filter(keep func(row int) bool) *Table {
	out := New(t.header...)
	for r := 0; r < t.Len(); r++ {
		if !keep(r) {
			continue
		}
		for i := range t.cols {
			out.cols[i] = append(out.cols[i], t.cols[i][r])
		}
	}
	return out
}
