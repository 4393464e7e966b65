// Package testutil provides shared test fixtures for site tables.
//
// This package centralises the construction of small in-memory site tables
// so tests across the pipeline describe their data the same way.
package testutil

import (
	"math"
	"testing"

	"github.com/banshee-data/soil.report/internal/table"
)

// Site is one row of a fixture table. Empty strings become nulls.
type Site struct {
	ID        string
	LandUse   string
	Bioregion string
	WRB       string
	Richness  string
	X, Y      string
}

// SiteHeader is the column layout produced by SiteTable.
var SiteHeader = []string{"site_id", "land_use", "bioregion", "wrb", "otu_richness", "x", "y"}

// SiteTable builds a site table from fixtures.
func SiteTable(t testing.TB, sites ...Site) *table.Table {
	t.Helper()
	tb := table.New(SiteHeader...)
	for _, s := range sites {
		if err := tb.AppendRow(
			table.Parse(s.ID), table.Parse(s.LandUse), table.Parse(s.Bioregion),
			table.Parse(s.WRB), table.Parse(s.Richness), table.Parse(s.X), table.Parse(s.Y),
		); err != nil {
			t.Fatalf("append site %q: %v", s.ID, err)
		}
	}
	return tb
}

// Table builds a table from a header and raw string rows.
func Table(t testing.TB, header []string, rows ...[]string) *table.Table {
	t.Helper()
	tb := table.New(header...)
	for i, r := range rows {
		vals := make([]table.Value, len(r))
		for j, s := range r {
			vals[j] = table.Parse(s)
		}
		if err := tb.AppendRow(vals...); err != nil {
			t.Fatalf("append row %d: %v", i, err)
		}
	}
	return tb
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// AssertFloat checks got against want with tolerance 1e-9, treating two
// NaNs as equal.
func AssertFloat(t testing.TB, name string, got, want float64) {
	t.Helper()
	if math.IsNaN(want) {
		if !math.IsNaN(got) {
			t.Errorf("%s = %v, want NaN", name, got)
		}
		return
	}
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("%s = %v, want %v", name, got, want)
	}
}
