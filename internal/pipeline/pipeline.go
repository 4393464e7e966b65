// Package pipeline runs a complete counterfactual analysis: it loads and
// joins the site tables, harmonises land use, collapses rare context
// categories, scores every site and writes the results.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/banshee-data/soil.report/internal/category"
	"github.com/banshee-data/soil.report/internal/cf"
	"github.com/banshee-data/soil.report/internal/config"
	"github.com/banshee-data/soil.report/internal/fsutil"
	"github.com/banshee-data/soil.report/internal/monitoring"
	"github.com/banshee-data/soil.report/internal/region"
	"github.com/banshee-data/soil.report/internal/report"
	"github.com/banshee-data/soil.report/internal/richness"
	"github.com/banshee-data/soil.report/internal/store"
	"github.com/banshee-data/soil.report/internal/table"
	"github.com/banshee-data/soil.report/internal/timeutil"
)

// Stage names of the steps that run outside the cf package.
const (
	StageLoad    = "load"
	StageJoin    = "join"
	StageRegions = "regions"
	StageRelabel = "relabel"
	StageWrite   = "write"
	StagePersist = "persist"
	StageCharts  = "charts"
)

// IntensityColumn receives the configured land-use intensity scores.
const IntensityColumn = "land_use_intensity"

// Deps are the collaborators of a run. Zero values use the OS file system,
// the real clock and the package logger.
type Deps struct {
	FS     fsutil.FileSystem
	Clock  timeutil.Clock
	Logger *zap.Logger
	// Store receives the run when set; it is not closed by Run. When nil
	// and output.database is configured, Run opens and closes its own.
	Store *store.Store
}

// Result summarises a completed run.
type Result struct {
	RunID    string
	Sites    int
	Outcome  *cf.Outcome
	Collapse []category.Summary
	Files    []string
	Elapsed  time.Duration
}

type runner struct {
	cfg   *config.Config
	deps  Deps
	log   *zap.Logger
	clock timeutil.Clock
}

// Run executes the whole pipeline described by cfg.
func Run(ctx context.Context, cfg *config.Config, deps Deps) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if deps.FS == nil {
		deps.FS = fsutil.OSFileSystem{}
	}
	if deps.Clock == nil {
		deps.Clock = timeutil.RealClock{}
	}
	r := &runner{cfg: cfg, deps: deps, log: monitoring.Or(deps.Logger), clock: deps.Clock}
	return r.run(ctx)
}

func (r *runner) run(ctx context.Context) (*Result, error) {
	start := r.clock.Now()
	res := &Result{}
	var t *table.Table

	if err := r.stage(ctx, StageLoad, func() (err error) {
		t, err = r.load()
		return err
	}); err != nil {
		return nil, err
	}
	if len(r.cfg.Regions) > 0 {
		if err := r.stage(ctx, StageRegions, func() (err error) {
			t, err = r.assignRegions(t)
			return err
		}); err != nil {
			return nil, err
		}
	}
	if err := r.stage(ctx, StageRelabel, func() error {
		return r.relabel(t)
	}); err != nil {
		return nil, err
	}
	integrated := t.Clone()

	if err := r.stage(ctx, string(cf.StageCollapse), func() (err error) {
		res.Collapse, err = r.collapse(t)
		return err
	}); err != nil {
		return nil, err
	}
	if err := r.stage(ctx, "compute", func() (err error) {
		res.Outcome, err = cf.Compute(t, r.cfConfig())
		return err
	}); err != nil {
		return nil, err
	}
	res.Sites = t.Len()

	w := report.NewWriter(r.deps.FS, r.cfg.GetOutputDir(), r.log)
	if err := r.stage(ctx, StageWrite, func() error {
		files, err := r.write(w, t, integrated, res.Outcome)
		res.Files = append(res.Files, files...)
		return err
	}); err != nil {
		return nil, err
	}
	if err := r.stage(ctx, StagePersist, func() (err error) {
		res.RunID, err = r.persist(ctx, res.Outcome)
		return err
	}); err != nil {
		return nil, err
	}
	if r.cfg.GetCharts() {
		if err := r.stage(ctx, StageCharts, func() error {
			files, err := r.charts(w, res.Outcome)
			res.Files = append(res.Files, files...)
			return err
		}); err != nil {
			return nil, err
		}
	}

	res.Elapsed = r.clock.Since(start)
	r.log.Info("counterfactual run complete",
		zap.String("indicator", r.cfg.GetIndicator()),
		zap.String("run_id", res.RunID),
		zap.Int("sites", res.Sites),
		zap.Int("undefined", res.Outcome.Results.Undefined()),
		zap.Int("files", len(res.Files)),
		zap.Duration("elapsed", res.Elapsed))
	return res, nil
}

// stage runs fn unless ctx is done, logs its duration and makes sure the
// returned error names the stage.
func (r *runner) stage(ctx context.Context, name string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	start := r.clock.Now()
	err := fn()
	r.log.Debug("stage finished",
		zap.String("stage", name),
		zap.Duration("elapsed", r.clock.Since(start)),
		zap.Bool("ok", err == nil))
	if err == nil {
		return nil
	}
	var se *cf.StageError
	if errors.As(err, &se) {
		return err
	}
	return fmt.Errorf("%s: %w", name, err)
}

func (r *runner) cfConfig() cf.Config {
	return cf.Config{
		SiteIDColumn:     r.cfg.GetSiteIDColumn(),
		LandUseColumn:    r.cfg.GetLandUseColumn(),
		ContextColumns:   r.cfg.ContextColumns,
		ReferenceLandUse: r.cfg.ReferenceLandUse,
		Indicator:        r.cfg.GetIndicator(),
		Logger:           r.log,
	}
}

// load reads the site table, derives richness from the abundance table and
// joins every extra table on the site id.
func (r *runner) load() (*table.Table, error) {
	key := r.cfg.GetSiteIDColumn()
	how := table.JoinHow(r.cfg.GetJoin())

	opts := table.ReadOptions{Encoding: r.cfg.Inputs.Encoding, NAValues: r.cfg.Inputs.NAValues}

	t, err := table.ReadFileWith(r.deps.FS, r.cfg.Inputs.Sites, opts)
	if err != nil {
		return nil, err
	}
	if !t.Has(key) {
		return nil, fmt.Errorf("%s: %w: %q", r.cfg.Inputs.Sites, cf.ErrMissingColumn, key)
	}
	r.log.Info("loaded sites", zap.String("path", r.cfg.Inputs.Sites), zap.Int("rows", t.Len()))

	if col := r.cfg.Inputs.KeepColumn; col != "" {
		if t, err = keepRows(t, col); err != nil {
			return nil, fmt.Errorf("%s: %w", r.cfg.Inputs.Sites, err)
		}
		r.log.Info("kept flagged sites", zap.String("column", col), zap.Int("rows", t.Len()))
	}

	if r.cfg.Inputs.Abundance != "" {
		ab, err := table.ReadFileWith(r.deps.FS, r.cfg.Inputs.Abundance, opts)
		if err != nil {
			return nil, err
		}
		var tx *richness.Taxonomy
		if path := r.cfg.Richness.Taxonomy; path != "" {
			if tx, err = r.taxonomy(path, opts); err != nil {
				return nil, err
			}
		}
		rich, err := richness.FromAbundance(ab, richness.Options{
			Layout:       richness.Layout(r.cfg.GetRichnessLayout()),
			OTUColumn:    r.cfg.GetOTUColumn(),
			SampleColumn: r.cfg.Richness.SampleColumn,
			SiteIDColumn: key,
			MinDepth:     r.cfg.GetMinDepth(),
			Taxonomy:     tx,
			Logger:       r.log,
		})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", r.cfg.Inputs.Abundance, err)
		}
		if t, err = table.Join(t, rich, key, how); err != nil {
			return nil, fmt.Errorf("%s: %s: %w", StageJoin, r.cfg.Inputs.Abundance, err)
		}
	}

	for _, path := range r.cfg.Inputs.Tables {
		extra, err := table.ReadFileWith(r.deps.FS, path, opts)
		if err != nil {
			return nil, err
		}
		before := t.Len()
		if t, err = table.Join(t, extra, key, how); err != nil {
			return nil, fmt.Errorf("%s: %s: %w", StageJoin, path, err)
		}
		r.log.Debug("joined table",
			zap.String("path", path),
			zap.String("how", string(how)),
			zap.Int("rows_before", before),
			zap.Int("rows_after", t.Len()))
	}
	return t, nil
}

func (r *runner) taxonomy(path string, opts table.ReadOptions) (*richness.Taxonomy, error) {
	t, err := table.ReadFileWith(r.deps.FS, path, opts)
	if err != nil {
		return nil, err
	}
	tx, err := richness.ReadTaxonomy(t, r.cfg.GetTaxonomyColumn(), r.cfg.GetTaxonomyLevel())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	r.log.Info("loaded taxonomy", zap.String("path", path), zap.String("level", tx.Level), zap.Int("otus", tx.Len()))
	return tx, nil
}

// keepRows keeps the rows whose col parses as true. Null and unparsable
// flags drop the row.
func keepRows(t *table.Table, col string) (*table.Table, error) {
	flags, err := t.Column(col)
	if err != nil {
		return nil, fmt.Errorf("keep column: %w", err)
	}
	return t.Filter(func(row int) bool {
		if flags[row].Null {
			return false
		}
		ok, err := strconv.ParseBool(flags[row].S)
		return err == nil && ok
	}), nil
}

// assignRegions adds one classifier column per configured polygon layer.
func (r *runner) assignRegions(t *table.Table) (*table.Table, error) {
	xc, yc := r.cfg.GetXColumn(), r.cfg.GetYColumn()
	for _, c := range []string{xc, yc} {
		if !t.Has(c) {
			return nil, &cf.StageError{Stage: StageRegions, Field: c, Err: cf.ErrMissingColumn}
		}
	}
	for _, rc := range r.cfg.Regions {
		layer, err := region.Load(r.deps.FS, rc.Path, rc.Property)
		if err != nil {
			return nil, err
		}
		xs, _ := t.Floats(xc)
		ys, _ := t.Floats(yc)
		labels, unassigned, err := layer.Assign(xs, ys)
		if err != nil {
			return nil, err
		}
		if err := t.AddColumn(rc.Column, labels); err != nil {
			return nil, &cf.StageError{Stage: StageRegions, Field: rc.Column, Err: err}
		}
		r.log.Info("assigned regions",
			zap.String("column", rc.Column),
			zap.String("path", rc.Path),
			zap.Int("polygons", layer.Len()),
			zap.Int("unassigned", unassigned))
		if rc.DropUnassigned && unassigned > 0 {
			assigned, _ := t.Column(rc.Column)
			t = t.Filter(func(row int) bool { return !assigned[row].Null })
			r.log.Warn("dropped sites outside every region", zap.String("column", rc.Column), zap.Int("sites", unassigned))
		}
	}
	return t, nil
}

// relabel maps raw land-use codes to labels and checks the result against
// the configured enumeration.
func (r *runner) relabel(t *table.Table) error {
	col := r.cfg.GetLandUseColumn()
	values, err := t.Column(col)
	if err != nil {
		return &cf.StageError{Stage: StageRelabel, Field: col, Err: cf.ErrMissingColumn}
	}

	for _, rule := range r.cfg.LandUseRules {
		if values, err = r.applyRule(t, col, values, rule); err != nil {
			return err
		}
	}

	if len(r.cfg.LandUseLabels) > 0 {
		out := make([]table.Value, len(values))
		mapped, nulled := 0, 0
		for i, v := range values {
			out[i] = v
			if v.Null {
				continue
			}
			if label, ok := r.cfg.LandUseLabels[v.S]; ok {
				out[i] = table.Str(label)
				mapped++
			} else if r.cfg.NullUnmappedLandUse {
				out[i] = table.NA
				nulled++
			}
		}
		if err := t.SetColumn(col, out); err != nil {
			return err
		}
		values = out
		r.log.Info("relabelled land use", zap.String("column", col), zap.Int("mapped", mapped), zap.Int("records", len(values)))
		if nulled > 0 {
			r.log.Warn("unmapped land use set to null", zap.String("column", col), zap.Int("records", nulled))
		}
	}

	if len(r.cfg.LandUseIntensity) > 0 {
		intensity := make([]table.Value, len(values))
		for i, v := range values {
			intensity[i] = table.NA
			if w, ok := r.cfg.LandUseIntensity[v.S]; ok && !v.Null {
				intensity[i] = table.Float(w)
			}
		}
		if err := t.AddColumn(IntensityColumn, intensity); err != nil {
			return &cf.StageError{Stage: StageRelabel, Field: IntensityColumn, Err: err}
		}
	}

	if len(r.cfg.LandUses) == 0 {
		return nil
	}
	known := make(map[string]bool, len(r.cfg.LandUses))
	for _, lu := range r.cfg.LandUses {
		known[lu] = true
	}
	unknown := 0
	for _, v := range values {
		if !v.Null && !known[v.S] {
			unknown++
		}
	}
	if unknown > 0 {
		r.log.Warn("land use values outside the configured list", zap.String("column", col), zap.Int("records", unknown))
	}
	return nil
}

// applyRule rewrites the land-use values of the rows whose rule column
// holds rule.Value, and stores the result in the land-use column.
func (r *runner) applyRule(t *table.Table, col string, values []table.Value, rule config.LandUseRule) ([]table.Value, error) {
	parentCol := rule.Column
	if parentCol == "" {
		parentCol = col
	}
	parent := values
	if parentCol != col {
		var err error
		if parent, err = t.Column(parentCol); err != nil {
			return nil, &cf.StageError{Stage: StageRelabel, Field: parentCol, Err: cf.ErrMissingColumn}
		}
	}
	sub, err := t.Column(rule.SubColumn)
	if err != nil {
		return nil, &cf.StageError{Stage: StageRelabel, Field: rule.SubColumn, Err: cf.ErrMissingColumn}
	}
	keep := make(map[string]bool, len(rule.Keep))
	for _, k := range rule.Keep {
		keep[k] = true
	}
	otherwise := table.NA
	if rule.Otherwise != "" {
		otherwise = table.Str(rule.Otherwise)
	}

	out := append([]table.Value(nil), values...)
	kept, replaced := 0, 0
	for i, p := range parent {
		if p.Null || p.S != rule.Value {
			continue
		}
		if !sub[i].Null && keep[sub[i].S] {
			out[i] = sub[i]
			kept++
		} else {
			out[i] = otherwise
			replaced++
		}
	}
	if err := t.SetColumn(col, out); err != nil {
		return nil, err
	}
	r.log.Info("applied land use rule",
		zap.String("column", parentCol),
		zap.String("value", rule.Value),
		zap.String("sub_column", rule.SubColumn),
		zap.Int("kept", kept),
		zap.Int("otherwise", replaced))
	return out, nil
}

// collapse applies the configured policy to every context column in place.
func (r *runner) collapse(t *table.Table) ([]category.Summary, error) {
	policy, err := category.ParsePolicy(r.cfg.GetCollapsePolicy(), r.cfg.GetCollapseParam())
	if err != nil {
		return nil, &cf.StageError{Stage: cf.StageCollapse, Field: "collapse.param", Err: err}
	}
	c := category.Collapser{
		Policy:      policy,
		Label:       r.cfg.GetCollapseLabel(),
		MinDistinct: r.cfg.GetCollapseMinDistinct(),
		Logger:      r.log,
	}
	summaries := make([]category.Summary, 0, len(r.cfg.ContextColumns))
	for _, col := range r.cfg.ContextColumns {
		values, err := t.Column(col)
		if err != nil {
			return nil, &cf.StageError{Stage: cf.StageCollapse, Field: col, Err: cf.ErrMissingColumn}
		}
		out, sum, err := c.Collapse(col, values)
		if err != nil {
			return nil, &cf.StageError{Stage: cf.StageCollapse, Field: col, Err: err}
		}
		if err := t.SetColumn(col, out); err != nil {
			return nil, err
		}
		summaries = append(summaries, sum)
	}
	return summaries, nil
}

func (r *runner) write(w *report.Writer, t, integrated *table.Table, out *cf.Outcome) ([]string, error) {
	var files []string
	p, err := w.WriteTable(report.IntegratedFile, integrated)
	if err != nil {
		return files, err
	}
	files = append(files, p)

	paths, err := w.WriteOutcome(out)
	files = append(files, paths...)
	if err != nil {
		return files, err
	}

	if !r.cfg.GetGeoJSON() {
		return files, nil
	}
	xc, yc := r.cfg.GetXColumn(), r.cfg.GetYColumn()
	if !t.Has(xc) || !t.Has(yc) {
		r.log.Warn("coordinate columns missing, skipping geojson", zap.String("x", xc), zap.String("y", yc))
		return files, nil
	}
	xs, _ := t.Floats(xc)
	ys, _ := t.Floats(yc)
	p, err = w.WriteGeoJSON(out.Results, xs, ys)
	if err != nil {
		return files, err
	}
	return append(files, p), nil
}

// persist stores the run when a database is configured or provided.
func (r *runner) persist(ctx context.Context, out *cf.Outcome) (string, error) {
	s := r.deps.Store
	if s == nil {
		if r.cfg.Output.Database == "" {
			return "", nil
		}
		var err error
		if s, err = store.Open(r.cfg.Output.Database); err != nil {
			return "", err
		}
		defer s.Close()
	}

	policy, err := category.ParsePolicy(r.cfg.GetCollapsePolicy(), r.cfg.GetCollapseParam())
	if err != nil {
		return "", err
	}
	run := &store.Run{
		CreatedAt:        r.clock.Now(),
		Indicator:        r.cfg.GetIndicator(),
		ReferenceLandUse: r.cfg.ReferenceLandUse,
		ContextColumns:   r.cfg.ContextColumns,
		Policy:           policy.String(),
	}
	if err := s.SaveRun(ctx, run, out); err != nil {
		return "", err
	}
	r.log.Info("saved run", zap.String("run_id", run.RunID), zap.Int("sites", run.Sites))
	return run.RunID, nil
}

func (r *runner) charts(w *report.Writer, out *cf.Outcome) ([]string, error) {
	var files []string
	p, err := w.WriteBoxPlot(out.Results)
	if err != nil {
		return files, err
	}
	if p != "" {
		files = append(files, p)
	}
	p, err = w.WriteHeatmap(out.Results.Indicator, out.Aggregates)
	if err != nil {
		return files, err
	}
	if p != "" {
		files = append(files, p)
	}
	return files, nil
}
