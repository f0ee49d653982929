package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pricewatch/pricewatch/internal/models"
)

// Store is the persistence layer for targets, regions, runs and price
// points. Price points are append-only; a row is never updated after
// insertion.
type Store struct {
	db *DB
}

func NewStore(db *DB) *Store {
	return &Store{db: db}
}

// --- Targets ---

// CreateTarget inserts a target; a duplicate URL is a silent no-op and the
// existing row is returned.
func (s *Store) CreateTarget(ctx context.Context, url, name string) (*models.Target, error) {
	query := `
		INSERT INTO targets (url, name, enabled, created_at)
		VALUES ($1, $2, true, $3)
		ON CONFLICT (url) DO UPDATE SET url = EXCLUDED.url
		RETURNING id, url, name, enabled, created_at`

	t := &models.Target{}
	err := s.db.QueryRow(ctx, query, url, name, time.Now().UTC()).Scan(
		&t.ID, &t.URL, &t.Name, &t.Enabled, &t.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create target: %w", err)
	}

	return t, nil
}

func (s *Store) ListTargets(ctx context.Context) ([]models.Target, error) {
	query := `
		SELECT id, url, name, enabled, created_at
		FROM targets
		ORDER BY id DESC`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list targets: %w", err)
	}
	defer rows.Close()

	return scanTargets(rows)
}

// ListEnabledTargets returns the targets a run will visit, in stable id
// order; the coordinator snapshots this once at admission time.
func (s *Store) ListEnabledTargets(ctx context.Context) ([]models.Target, error) {
	query := `
		SELECT id, url, name, enabled, created_at
		FROM targets
		WHERE enabled = true
		ORDER BY id ASC`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list enabled targets: %w", err)
	}
	defer rows.Close()

	return scanTargets(rows)
}

func scanTargets(rows pgx.Rows) ([]models.Target, error) {
	var targets []models.Target
	for rows.Next() {
		var t models.Target
		if err := rows.Scan(&t.ID, &t.URL, &t.Name, &t.Enabled, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan target: %w", err)
		}
		targets = append(targets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating targets: %w", err)
	}
	return targets, nil
}

func (s *Store) ToggleTarget(ctx context.Context, id int64) error {
	result, err := s.db.Exec(ctx, `UPDATE targets SET enabled = NOT enabled WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to toggle target: %w", err)
	}
	if result.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// DeleteTarget removes the target row only. Price points reference the
// target by a plain column, so collected history stays behind.
func (s *Store) DeleteTarget(ctx context.Context, id int64) error {
	result, err := s.db.Exec(ctx, `DELETE FROM targets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete target: %w", err)
	}
	if result.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// --- Region profiles ---

func (s *Store) CreateRegion(ctx context.Context, name, storagePath string) (*models.RegionProfile, error) {
	query := `
		INSERT INTO region_profiles (name, storage_path, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, name, storage_path, updated_at`

	r := &models.RegionProfile{}
	err := s.db.QueryRow(ctx, query, name, storagePath, time.Now().UTC()).Scan(
		&r.ID, &r.Name, &r.StoragePath, &r.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create region: %w", err)
	}

	return r, nil
}

func (s *Store) ListRegions(ctx context.Context) ([]models.RegionProfile, error) {
	query := `
		SELECT id, name, storage_path, updated_at
		FROM region_profiles
		ORDER BY id ASC`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list regions: %w", err)
	}
	defer rows.Close()

	var regions []models.RegionProfile
	for rows.Next() {
		var r models.RegionProfile
		if err := rows.Scan(&r.ID, &r.Name, &r.StoragePath, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan region: %w", err)
		}
		regions = append(regions, r)
	}
	return regions, rows.Err()
}

// GetRegion returns nil (no error) when the region does not exist.
func (s *Store) GetRegion(ctx context.Context, id int64) (*models.RegionProfile, error) {
	query := `
		SELECT id, name, storage_path, updated_at
		FROM region_profiles
		WHERE id = $1`

	r := &models.RegionProfile{}
	err := s.db.QueryRow(ctx, query, id).Scan(&r.ID, &r.Name, &r.StoragePath, &r.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get region: %w", err)
	}

	return r, nil
}

// FirstRegion returns the oldest region profile, used as the default for
// scheduled runs. Nil when none exist.
func (s *Store) FirstRegion(ctx context.Context) (*models.RegionProfile, error) {
	query := `
		SELECT id, name, storage_path, updated_at
		FROM region_profiles
		ORDER BY id ASC
		LIMIT 1`

	r := &models.RegionProfile{}
	err := s.db.QueryRow(ctx, query).Scan(&r.ID, &r.Name, &r.StoragePath, &r.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get first region: %w", err)
	}

	return r, nil
}

// --- Runs ---

// CountRunningRuns backs the concurrency ceiling check. Correct only under
// a single coordinating process; see DESIGN.md.
func (s *Store) CountRunningRuns(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM runs WHERE status = $1`, models.RunStatusRunning).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count running runs: %w", err)
	}
	return count, nil
}

func (s *Store) CreateRun(ctx context.Context, regionID int64) (*models.Run, error) {
	now := time.Now().UTC()
	query := `
		INSERT INTO runs (region_profile_id, status, started_at)
		VALUES ($1, $2, $3)
		RETURNING id`

	run := &models.Run{
		RegionID:  regionID,
		Status:    models.RunStatusRunning,
		StartedAt: &now,
	}
	if err := s.db.QueryRow(ctx, query, regionID, run.Status, now).Scan(&run.ID); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	return run, nil
}

// SetRunTotals fixes the target count once the snapshot is taken; it is
// never changed afterwards.
func (s *Store) SetRunTotals(ctx context.Context, runID int64, total int) error {
	_, err := s.db.Exec(ctx,
		`UPDATE runs SET total_targets = $1 WHERE id = $2`, total, runID)
	if err != nil {
		return fmt.Errorf("failed to set run totals: %w", err)
	}
	return nil
}

// FinishRun performs the single terminal transition of a run.
func (s *Store) FinishRun(ctx context.Context, runID int64, status models.RunStatus, success, fail int, errMsg string) error {
	query := `
		UPDATE runs
		SET status = $1, success_count = $2, fail_count = $3, error = $4, finished_at = $5
		WHERE id = $6 AND status = $7`

	result, err := s.db.Exec(ctx, query,
		status, success, fail, errMsg, time.Now().UTC(), runID, models.RunStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("run %d is not running", runID)
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, id int64) (*models.Run, error) {
	query := `
		SELECT id, region_profile_id, status, started_at, finished_at,
		       error, total_targets, success_count, fail_count
		FROM runs
		WHERE id = $1`

	run := &models.Run{}
	err := s.db.QueryRow(ctx, query, id).Scan(
		&run.ID, &run.RegionID, &run.Status, &run.StartedAt, &run.FinishedAt,
		&run.Error, &run.TotalTargets, &run.SuccessCount, &run.FailCount,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

func (s *Store) ListRuns(ctx context.Context, limit int) ([]models.Run, error) {
	query := `
		SELECT id, region_profile_id, status, started_at, finished_at,
		       error, total_targets, success_count, fail_count
		FROM runs
		ORDER BY id DESC
		LIMIT $1`

	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []models.Run
	for rows.Next() {
		var run models.Run
		err := rows.Scan(
			&run.ID, &run.RegionID, &run.Status, &run.StartedAt, &run.FinishedAt,
			&run.Error, &run.TotalTargets, &run.SuccessCount, &run.FailCount,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// LatestCompletedRun returns the most recent run with status done, or nil.
func (s *Store) LatestCompletedRun(ctx context.Context) (*models.Run, error) {
	query := `
		SELECT id, region_profile_id, status, started_at, finished_at,
		       error, total_targets, success_count, fail_count
		FROM runs
		WHERE status = $1
		ORDER BY id DESC
		LIMIT 1`

	run := &models.Run{}
	err := s.db.QueryRow(ctx, query, models.RunStatusDone).Scan(
		&run.ID, &run.RegionID, &run.Status, &run.StartedAt, &run.FinishedAt,
		&run.Error, &run.TotalTargets, &run.SuccessCount, &run.FailCount,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest completed run: %w", err)
	}

	return run, nil
}

// --- Price points ---

func (s *Store) AppendPricePoint(ctx context.Context, p *models.PricePoint) error {
	query := `
		INSERT INTO price_points (
			run_id, target_id, price, old_price, card_price,
			in_stock, collected_at, raw_capture, error
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	err := s.db.QueryRow(ctx, query,
		p.RunID, p.TargetID, p.Price, p.OldPrice, p.CardPrice,
		p.InStock, p.CollectedAt, p.RawCapture, p.Error,
	).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("failed to append price point: %w", err)
	}

	return nil
}

// ListPricePoints returns the points of a run in insertion order, which
// matches the target snapshot order.
func (s *Store) ListPricePoints(ctx context.Context, runID int64) ([]models.PricePoint, error) {
	query := `
		SELECT id, run_id, target_id, price, old_price, card_price,
		       in_stock, collected_at, raw_capture, error
		FROM price_points
		WHERE run_id = $1
		ORDER BY id ASC`

	rows, err := s.db.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list price points: %w", err)
	}
	defer rows.Close()

	var points []models.PricePoint
	for rows.Next() {
		var p models.PricePoint
		err := rows.Scan(
			&p.ID, &p.RunID, &p.TargetID, &p.Price, &p.OldPrice, &p.CardPrice,
			&p.InStock, &p.CollectedAt, &p.RawCapture, &p.Error,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan price point: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}
