package table

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustTable(t *testing.T, header []string, rows ...[]string) *Table {
	t.Helper()
	tb := New(header...)
	for _, r := range rows {
		vals := make([]Value, len(r))
		for i, s := range r {
			vals[i] = Parse(s)
		}
		require.NoError(t, tb.AppendRow(vals...))
	}
	return tb
}

func rows(tb *Table) [][]string {
	var out [][]string
	for r := 0; r < tb.Len(); r++ {
		var row []string
		for _, h := range tb.Header() {
			v := tb.Get(r, h)
			if v.Null {
				row = append(row, "<NA>")
			} else {
				row = append(row, v.S)
			}
		}
		out = append(out, row)
	}
	return out
}

func TestJoin(t *testing.T) {
	sites := mustTable(t, []string{"site_id", "land_use"},
		[]string{"1", "annual crops"},
		[]string{"2", "grasslands"},
		[]string{"", "vineyards"},
	)
	bio := mustTable(t, []string{"bioregion", "site_id", "land_use"},
		[]string{"Alpine", "2", "x"},
		[]string{"Atlantic", "1", "y"},
		[]string{"Continental", "9", "z"},
	)

	tests := []struct {
		how  JoinHow
		want [][]string
	}{
		{Inner, [][]string{
			{"1", "annual crops", "Atlantic", "y"},
			{"2", "grasslands", "Alpine", "x"},
		}},
		{Left, [][]string{
			{"1", "annual crops", "Atlantic", "y"},
			{"2", "grasslands", "Alpine", "x"},
			{"<NA>", "vineyards", "<NA>", "<NA>"},
		}},
		{Outer, [][]string{
			{"1", "annual crops", "Atlantic", "y"},
			{"2", "grasslands", "Alpine", "x"},
			{"<NA>", "vineyards", "<NA>", "<NA>"},
			{"9", "<NA>", "Continental", "z"},
		}},
	}
	for _, tt := range tests {
		t.Run(string(tt.how), func(t *testing.T) {
			out, err := Join(sites, bio, "site_id", tt.how)
			require.NoError(t, err)
			assert.Equal(t, []string{"site_id", "land_use", "bioregion", "land_use_right"}, out.Header())
			if diff := cmp.Diff(tt.want, rows(out)); diff != "" {
				t.Errorf("rows mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestJoinErrors(t *testing.T) {
	left := mustTable(t, []string{"site_id"}, []string{"1"})
	dup := mustTable(t, []string{"site_id", "wrb"}, []string{"1", "a"}, []string{"1", "b"})

	_, err := Join(left, dup, "site_id", Left)
	assert.True(t, errors.Is(err, ErrDuplicateKey))

	_, err = Join(left, dup, "plot", Left)
	assert.True(t, errors.Is(err, ErrNoColumn))

	_, err = Join(left, dup, "site_id", "cross")
	assert.Error(t, err)
}
