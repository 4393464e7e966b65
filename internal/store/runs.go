package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/soil.report/internal/cf"
	"github.com/banshee-data/soil.report/internal/table"
)

// Run describes one persisted counterfactual run.
type Run struct {
	RunID            string    `json:"run_id"`
	CreatedAt        time.Time `json:"created_at"`
	Indicator        string    `json:"indicator"`
	ReferenceLandUse string    `json:"reference_land_use"`
	ContextColumns   []string  `json:"context_columns"`
	Policy           string    `json:"policy"`
	Sites            int       `json:"sites"`
	Undefined        int       `json:"undefined"`
}

// SaveRun persists a run with its reference table, per-site results and
// aggregates in one transaction. If RunID is empty a UUID is generated;
// Sites and Undefined are taken from the outcome. NaN is stored as NULL.
func (s *Store) SaveRun(ctx context.Context, run *Run, out *cf.Outcome) error {
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	run.Sites = len(out.Results.Rows)
	run.Undefined = out.Results.Undefined()

	contextJSON, err := json.Marshal(run.ContextColumns)
	if err != nil {
		return fmt.Errorf("marshal context columns: %w", err)
	}

	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO cf_runs (
			run_id, created_at, indicator, reference_land_use,
			context_columns, policy, site_count, undefined_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.CreatedAt.UnixNano(), run.Indicator, run.ReferenceLandUse,
		string(contextJSON), run.Policy, run.Sites, run.Undefined,
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	refStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO cf_references (run_id, land_use, context, median, n)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare references: %w", err)
	}
	defer refStmt.Close()
	for _, k := range out.Reference.Keys() {
		e, _ := out.Reference.Lookup(k.LandUse, k.Context)
		if _, err := refStmt.ExecContext(ctx, run.RunID, k.LandUse, k.Context, e.Median, e.Count); err != nil {
			return fmt.Errorf("insert reference %s/%s: %w", k.LandUse, k.Context, err)
		}
	}

	resStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO cf_results (
			run_id, row_index, site_id, land_use, context,
			indicator_value, reference_median, relative, cf
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare results: %w", err)
	}
	defer resStmt.Close()
	for i, r := range out.Results.Rows {
		if _, err := resStmt.ExecContext(ctx, run.RunID, i, nullString(r.SiteID), nullString(r.LandUse), r.Context,
			nullFloat(r.Value), nullFloat(r.Reference), nullFloat(r.Relative), nullFloat(r.CF)); err != nil {
			return fmt.Errorf("insert result row %d: %w", i, err)
		}
	}

	aggStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO cf_aggregates (
			run_id, land_use, context, n_sites,
			relative_median, relative_count, cf_median, cf_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare aggregates: %w", err)
	}
	defer aggStmt.Close()
	for _, a := range out.Aggregates {
		if _, err := aggStmt.ExecContext(ctx, run.RunID, a.LandUse, a.Context, a.Sites,
			nullFloat(a.RelativeMedian), a.RelativeCount, nullFloat(a.CFMedian), a.CFCount); err != nil {
			return fmt.Errorf("insert aggregate %s/%s: %w", a.LandUse, a.Context, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run %s: %w", run.RunID, err)
	}
	return nil
}

// ErrRunNotFound is returned when a run id is not in the database.
var ErrRunNotFound = errors.New("run not found")

const runColumns = `run_id, created_at, indicator, reference_land_use,
		       context_columns, policy, site_count, undefined_count`

// ListRuns returns all runs, most recent first.
func (s *Store) ListRuns(ctx context.Context) ([]*Run, error) {
	rows, err := s.QueryContext(ctx, `SELECT `+runColumns+`
		FROM cf_runs
		ORDER BY created_at DESC, run_id`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRun returns the run with the given id.
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.QueryRowContext(ctx, `SELECT `+runColumns+` FROM cf_runs WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return r, err
}

func scanRun(row interface{ Scan(...any) error }) (*Run, error) {
	var (
		r           Run
		createdAt   int64
		contextJSON string
	)
	if err := row.Scan(&r.RunID, &createdAt, &r.Indicator, &r.ReferenceLandUse,
		&contextJSON, &r.Policy, &r.Sites, &r.Undefined); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	r.CreatedAt = time.Unix(0, createdAt)
	if err := json.Unmarshal([]byte(contextJSON), &r.ContextColumns); err != nil {
		return nil, fmt.Errorf("run %s: context columns: %w", r.RunID, err)
	}
	return &r, nil
}

// RunResults returns the per-site results of a run in their original order.
func (s *Store) RunResults(ctx context.Context, runID string) ([]cf.Result, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT site_id, land_use, context, indicator_value, reference_median, relative, cf
		FROM cf_results
		WHERE run_id = ?
		ORDER BY row_index`, runID)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	var out []cf.Result
	for rows.Next() {
		var (
			r                           cf.Result
			siteID, landUse             sql.NullString
			value, ref, relative, cfVal sql.NullFloat64
		)
		if err := rows.Scan(&siteID, &landUse, &r.Context, &value, &ref, &relative, &cfVal); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		r.SiteID = fromNullString(siteID)
		r.LandUse = fromNullString(landUse)
		r.Value = fromNullFloat(value)
		r.Reference = fromNullFloat(ref)
		r.Relative = fromNullFloat(relative)
		r.CF = fromNullFloat(cfVal)
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullFloat(f float64) interface{} {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}

func nullString(v table.Value) interface{} {
	if v.Null {
		return nil
	}
	return v.S
}

func fromNullFloat(f sql.NullFloat64) float64 {
	if !f.Valid {
		return math.NaN()
	}
	return f.Float64
}

func fromNullString(s sql.NullString) table.Value {
	if !s.Valid {
		return table.NA
	}
	return table.Str(s.String)
}
