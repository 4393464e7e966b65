package cf

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/banshee-data/soil.report/internal/table"
	"github.com/banshee-data/soil.report/internal/testutil"
)

const forest = "broadleaved forests"

func scenarioConfig() Config {
	return Config{
		SiteIDColumn:     "site_id",
		LandUseColumn:    "land_use",
		ContextColumns:   []string{"bioregion"},
		ReferenceLandUse: forest,
		Indicator:        "otu_richness",
	}
}

func scenarioA(t *testing.T) *table.Table {
	return testutil.SiteTable(t,
		testutil.Site{ID: "f1", LandUse: forest, Bioregion: "Alpine", Richness: "100"},
		testutil.Site{ID: "f2", LandUse: forest, Bioregion: "Alpine", Richness: "150"},
		testutil.Site{ID: "f3", LandUse: forest, Bioregion: "Alpine", Richness: "200"},
		testutil.Site{ID: "c1", LandUse: "annual crops", Bioregion: "Alpine", Richness: "75"},
	)
}

func resultFor(t *testing.T, res *Results, id string) Result {
	t.Helper()
	for _, r := range res.Rows {
		if r.SiteID.S == id {
			return r
		}
	}
	t.Fatalf("no result for site %q", id)
	return Result{}
}

func TestScenarioA(t *testing.T) {
	out, err := Compute(scenarioA(t), scenarioConfig())
	require.NoError(t, err)

	crops := resultFor(t, out.Results, "c1")
	testutil.AssertFloat(t, "reference_median_otu_richness", crops.Reference, 150)
	testutil.AssertFloat(t, "relative_otu_richness", crops.Relative, 0.5)
	testutil.AssertFloat(t, "cf", crops.CF, 0.5)

	// Forest sites are scored against their own group.
	f1 := resultFor(t, out.Results, "f1")
	testutil.AssertFloat(t, "f1 relative", f1.Relative, 100.0/150.0)
}

func TestScenarioB(t *testing.T) {
	tb := testutil.SiteTable(t,
		testutil.Site{ID: "f1", LandUse: forest, Bioregion: "Atlantic", Richness: "100"},
		testutil.Site{ID: "c1", LandUse: "annual crops", Bioregion: "Alpine", Richness: "75"},
	)
	out, err := Compute(tb, scenarioConfig())
	require.NoError(t, err)

	crops := resultFor(t, out.Results, "c1")
	assert.True(t, math.IsNaN(crops.Reference))
	assert.True(t, math.IsNaN(crops.Relative))
	assert.True(t, math.IsNaN(crops.CF))
	assert.Equal(t, 1, out.Results.Undefined())
}

func TestMedian(t *testing.T) {
	tests := []struct {
		name string
		in   []float64
		want float64
	}{
		{"even", []float64{10, 20, 30, 40}, 25},
		{"odd", []float64{200, 100, 150}, 150},
		{"single", []float64{7}, 7},
		{"skips nan", []float64{10, math.NaN(), 30}, 20},
		{"skips inf", []float64{math.Inf(1), 4}, 4},
		{"empty", nil, math.NaN()},
		{"all nan", []float64{math.NaN()}, math.NaN()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testutil.AssertFloat(t, "Median", Median(tt.in), tt.want)
		})
	}

	in := []float64{40, 10, 30, 20}
	Median(in)
	assert.Equal(t, []float64{40, 10, 30, 20}, in, "input must not be reordered")
}

func TestReferenceMedianOfFourValues(t *testing.T) {
	tb := testutil.SiteTable(t,
		testutil.Site{ID: "1", LandUse: forest, Bioregion: "Alpine", Richness: "10"},
		testutil.Site{ID: "2", LandUse: forest, Bioregion: "Alpine", Richness: "20"},
		testutil.Site{ID: "3", LandUse: forest, Bioregion: "Alpine", Richness: "30"},
		testutil.Site{ID: "4", LandUse: forest, Bioregion: "Alpine", Richness: "40"},
	)
	contexts, err := BuildContextKeys(tb, []string{"bioregion"}, nil)
	require.NoError(t, err)
	rt, err := BuildReferenceTable(tb, "land_use", "otu_richness", contexts)
	require.NoError(t, err)

	e, ok := rt.Lookup(forest, "Alpine")
	require.True(t, ok)
	assert.Equal(t, ReferenceEntry{Median: 25, Count: 4}, e)
}

func TestReferenceTableIsOrderIndependent(t *testing.T) {
	lus := []string{forest, "annual crops", "grasslands"}
	regions := []string{"Alpine", "Atlantic", "Mediterranean"}
	rng := rand.New(rand.NewSource(7))

	var sites []testutil.Site
	for i := 0; i < 200; i++ {
		rich := ""
		if i%17 != 0 {
			rich = table.Float(rng.Float64() * 1000).S
		}
		sites = append(sites, testutil.Site{
			ID:        table.Int(i).S,
			LandUse:   lus[rng.Intn(len(lus))],
			Bioregion: regions[rng.Intn(len(regions))],
			Richness:  rich,
		})
	}

	build := func(sites []testutil.Site) map[GroupKey]ReferenceEntry {
		tb := testutil.SiteTable(t, sites...)
		contexts, err := BuildContextKeys(tb, []string{"bioregion"}, nil)
		require.NoError(t, err)
		rt, err := BuildReferenceTable(tb, "land_use", "otu_richness", contexts)
		require.NoError(t, err)
		return rt.entries
	}

	want := build(sites)
	for i := 0; i < 5; i++ {
		shuffled := append([]testutil.Site(nil), sites...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		if diff := cmp.Diff(want, build(shuffled)); diff != "" {
			t.Fatalf("reference table depends on row order (-want +got):\n%s", diff)
		}
	}
}

func TestReferenceTableOmitsEmptyGroups(t *testing.T) {
	tb := testutil.SiteTable(t,
		testutil.Site{ID: "1", LandUse: forest, Bioregion: "Alpine", Richness: "NA"},
		testutil.Site{ID: "2", LandUse: "", Bioregion: "Alpine", Richness: "50"},
		testutil.Site{ID: "3", LandUse: "grasslands", Bioregion: "Alpine", Richness: "60"},
	)
	contexts, err := BuildContextKeys(tb, []string{"bioregion"}, nil)
	require.NoError(t, err)
	rt, err := BuildReferenceTable(tb, "land_use", "otu_richness", contexts)
	require.NoError(t, err)

	_, ok := rt.Lookup(forest, "Alpine")
	assert.False(t, ok, "group with only null indicators must be absent")
	assert.Equal(t, []GroupKey{{LandUse: "grasslands", Context: "Alpine"}}, rt.Keys())
	assert.Equal(t, 1, rt.Len())
	assert.Equal(t, 0, rt.Contexts(forest))

	rendered := rt.Table()
	assert.Equal(t, []string{"land_use", "context", "median", "count"}, rendered.Header())
	assert.Equal(t, table.Str("60"), rendered.Get(0, "median"))
}

func TestScoreTotality(t *testing.T) {
	for _, n := range []int{1, 2, 13, 100} {
		var sites []testutil.Site
		for i := 0; i < n; i++ {
			lu := "annual crops"
			if i%3 == 0 {
				lu = forest
			}
			rich := table.Int(10 + i).S
			if i%5 == 4 {
				rich = ""
			}
			sites = append(sites, testutil.Site{ID: table.Int(i).S, LandUse: lu, Bioregion: []string{"A", "B", ""}[i%3], Richness: rich})
		}
		tb := testutil.SiteTable(t, sites...)
		out, err := Compute(tb, scenarioConfig())
		require.NoError(t, err)
		require.Len(t, out.Results.Rows, n)
		for i, row := range out.Results.Rows {
			assert.Equal(t, table.Int(i).S, row.SiteID.S, "row order must be preserved")
		}
		assert.Equal(t, n, out.Results.Table().Len())
	}
}

func TestScoreLookupIgnoresOwnLandUse(t *testing.T) {
	base := scenarioA(t)
	before, err := Compute(base, scenarioConfig())
	require.NoError(t, err)

	// Move one forest site to another land use: its own reference lookup
	// still targets the forest group of its context.
	changed := base.Clone()
	lu, _ := changed.Column("land_use")
	lu = append([]table.Value(nil), lu...)
	lu[0] = table.Str("grasslands")
	require.NoError(t, changed.SetColumn("land_use", lu))

	contexts, err := BuildContextKeys(changed, []string{"bioregion"}, nil)
	require.NoError(t, err)
	// Keep the reference table of the original data so only the site's own
	// land use differs.
	after, err := Score(changed, contexts, before.Reference, scenarioConfig())
	require.NoError(t, err)

	assert.Equal(t, before.Results.Rows[0].Reference, after.Rows[0].Reference)
	assert.Equal(t, table.Str("grasslands"), after.Rows[0].LandUse)
}

func TestScoreUndefinedPropagation(t *testing.T) {
	tb := testutil.SiteTable(t,
		testutil.Site{ID: "f1", LandUse: forest, Bioregion: "Alpine", Richness: "100"},
		testutil.Site{ID: "c1", LandUse: "annual crops", Bioregion: "Continental", Richness: "75"},
		testutil.Site{ID: "c2", LandUse: "grasslands", Bioregion: "Continental", Richness: "80"},
		testutil.Site{ID: "c3", LandUse: forest, Bioregion: "Continental", Richness: ""},
	)
	out, err := Compute(tb, scenarioConfig())
	require.NoError(t, err)

	for _, id := range []string{"c1", "c2", "c3"} {
		r := resultFor(t, out.Results, id)
		assert.True(t, math.IsNaN(r.Reference), "%s reference", id)
		assert.True(t, math.IsNaN(r.Relative), "%s relative", id)
		assert.True(t, math.IsNaN(r.CF), "%s cf", id)
	}
}

func TestScoreZeroReference(t *testing.T) {
	tb := testutil.SiteTable(t,
		testutil.Site{ID: "f1", LandUse: forest, Bioregion: "Alpine", Richness: "0"},
		testutil.Site{ID: "c1", LandUse: "annual crops", Bioregion: "Alpine", Richness: "75"},
	)
	out, err := Compute(tb, scenarioConfig())
	require.NoError(t, err)

	c1 := resultFor(t, out.Results, "c1")
	testutil.AssertFloat(t, "reference", c1.Reference, 0)
	assert.True(t, math.IsNaN(c1.Relative))
	assert.True(t, math.IsNaN(c1.CF))
}

func TestScoreWithoutReferenceLandUse(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	cfg := scenarioConfig()
	cfg.ReferenceLandUse = "peat bogs"
	cfg.Logger = zap.New(core)

	out, err := Compute(scenarioA(t), cfg)
	require.NoError(t, err)
	assert.Equal(t, 4, out.Results.Undefined())
	assert.Equal(t, 1, logs.FilterMessage("no reference strata, every score is undefined").Len())
}

func TestContextKeys(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	tb := testutil.SiteTable(t,
		testutil.Site{ID: "1", Bioregion: "Alpine", WRB: "Cambisol"},
		testutil.Site{ID: "2", Bioregion: "Alpine", WRB: ""},
		testutil.Site{ID: "3", Bioregion: "", WRB: "Luvisol"},
	)

	keys, err := BuildContextKeys(tb, []string{"bioregion", "wrb"}, zap.New(core))
	require.NoError(t, err)
	assert.Equal(t, []string{"Alpine_Cambisol", "Alpine_<NA>", "<NA>_Luvisol"}, keys)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, int64(2), logs.All()[0].ContextMap()["records"])

	keys, err = BuildContextKeys(tb, []string{"wrb", "bioregion"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Cambisol_Alpine", keys[0], "column order is significant")
}

func TestConfigurationErrors(t *testing.T) {
	tb := scenarioA(t)
	contexts := []string{"Alpine", "Alpine", "Alpine", "Alpine"}
	rt, err := BuildReferenceTable(tb, "land_use", "otu_richness", contexts)
	require.NoError(t, err)

	tests := []struct {
		name  string
		run   func() error
		stage Stage
		field string
		want  error
	}{
		{"no context columns", func() error {
			_, err := BuildContextKeys(tb, nil, nil)
			return err
		}, StageContext, "", ErrNoContext},
		{"missing classifier", func() error {
			_, err := BuildContextKeys(tb, []string{"bioregion", "climate"}, nil)
			return err
		}, StageContext, "climate", ErrMissingColumn},
		{"reference missing indicator", func() error {
			_, err := BuildReferenceTable(tb, "land_use", "shannon", contexts)
			return err
		}, StageReference, "shannon", ErrMissingColumn},
		{"reference missing land use", func() error {
			_, err := BuildReferenceTable(tb, "corine", "otu_richness", contexts)
			return err
		}, StageReference, "corine", ErrMissingColumn},
		{"score missing indicator", func() error {
			cfg := scenarioConfig()
			cfg.Indicator = "shannon"
			_, err := Score(tb, contexts, rt, cfg)
			return err
		}, StageScore, "shannon", ErrMissingColumn},
		{"score missing classifier", func() error {
			cfg := scenarioConfig()
			cfg.ContextColumns = []string{"climate"}
			_, err := Score(tb, contexts, rt, cfg)
			return err
		}, StageScore, "climate", ErrMissingColumn},
		{"score missing site id", func() error {
			cfg := scenarioConfig()
			cfg.SiteIDColumn = "plot"
			_, err := Score(tb, contexts, rt, cfg)
			return err
		}, StageScore, "plot", ErrMissingColumn},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run()
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
			var se *StageError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, tt.stage, se.Stage)
			assert.Equal(t, tt.field, se.Field)
		})
	}

	_, err = Score(tb, contexts[:2], rt, scenarioConfig())
	assert.Error(t, err, "context length mismatch")
}

func TestStageErrorMessage(t *testing.T) {
	err := stageErr(StageScore, "otu_richness", ErrMissingColumn)
	assert.Equal(t, `score: "otu_richness": missing column`, err.Error())
	assert.Equal(t, "context: no context columns", stageErr(StageContext, "", ErrNoContext).Error())
}

func TestContextKeysRejectAmbiguousValues(t *testing.T) {
	tests := []struct {
		name  string
		sites []testutil.Site
		field string
	}{
		{"separator shifts the split", []testutil.Site{
			{ID: "f1", LandUse: forest, Bioregion: "Alpine_Leptosol", WRB: "Cambisol", Richness: "200"},
			{ID: "c1", LandUse: "annual crops", Bioregion: "Alpine", WRB: "Leptosol_Cambisol", Richness: "100"},
		}, "bioregion"},
		{"value spells the null marker", []testutil.Site{
			{ID: "f1", LandUse: forest, Bioregion: "Med", WRB: "<NA>", Richness: "50"},
			{ID: "c1", LandUse: "annual crops", Bioregion: "Med", WRB: "", Richness: "25"},
		}, "wrb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := scenarioConfig()
			cfg.ContextColumns = []string{"bioregion", "wrb"}

			_, err := Compute(testutil.SiteTable(t, tt.sites...), cfg)
			require.ErrorIs(t, err, ErrAmbiguousKey)
			var se *StageError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, StageContext, se.Stage)
			assert.Equal(t, tt.field, se.Field)
		})
	}
}

func TestContextKeysSingleColumnKeepsSeparator(t *testing.T) {
	tb := testutil.SiteTable(t, testutil.Site{ID: "1", Bioregion: "Alpine_North"})

	keys, err := BuildContextKeys(tb, []string{"bioregion"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Alpine_North"}, keys)

	_, err = BuildContextKeys(testutil.SiteTable(t, testutil.Site{ID: "1", Bioregion: "<NA>"}), []string{"bioregion"}, nil)
	assert.ErrorIs(t, err, ErrAmbiguousKey)
}

func TestScoreInfiniteIndicatorIsUndefined(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	tb := scenarioA(t)
	require.NoError(t, tb.AppendRow(table.Str("c2"), table.Str("annual crops"), table.Str("Alpine"),
		table.NA, table.Str("inf"), table.NA, table.NA))
	cfg := scenarioConfig()
	cfg.Logger = zap.New(core)

	out, err := Compute(tb, cfg)
	require.NoError(t, err)

	c2 := resultFor(t, out.Results, "c2")
	assert.True(t, math.IsNaN(c2.Value))
	assert.True(t, math.IsNaN(c2.CF))
	assert.Equal(t, 1, out.Results.Undefined())
	assert.Equal(t, 1, logs.FilterMessage("infinite indicator values treated as missing").Len())
	assert.Equal(t, "", out.Results.Table().Get(4, "cf").String())
}
