package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/langchou/odosync/internal/models"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("not found")

// SyncRepository 同步账本
type SyncRepository struct {
	db *DB
}

// NewSyncRepository 创建同步账本仓库
func NewSyncRepository(db *DB) *SyncRepository {
	return &SyncRepository{db: db}
}

// StartRun 记录一轮同步开始
func (r *SyncRepository) StartRun(ctx context.Context, run *models.SyncRun) error {
	query := `INSERT INTO sync_runs (id, started_at) VALUES ($1, $2)`
	if _, err := r.db.Pool.Exec(ctx, query, run.ID, run.StartedAt); err != nil {
		return fmt.Errorf("insert sync run: %w", err)
	}
	return nil
}

// RecordResult 记录单车同步结果
func (r *SyncRepository) RecordResult(ctx context.Context, runID uuid.UUID, res *models.SyncResult) error {
	query := `
		INSERT INTO sync_results (run_id, source_id, target_id, outcome, stage, match_kind, vin, name, miles, measured, error, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	match := res.Match
	if match == "" {
		match = models.MatchNone
	}
	_, err := r.db.Pool.Exec(ctx, query,
		runID,
		res.SourceID,
		string(res.TargetID),
		string(res.Outcome),
		res.Stage,
		string(match),
		res.VIN,
		res.Name,
		res.Miles,
		res.Measured,
		res.Error,
		res.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("insert sync result: %w", err)
	}
	return nil
}

// FinishRun 记录一轮同步结束及汇总
func (r *SyncRepository) FinishRun(ctx context.Context, run *models.SyncRun) error {
	query := `
		UPDATE sync_runs
		SET finished_at = $2, created = $3, updated = $4, skipped = $5, failed = $6, error = $7
		WHERE id = $1
	`
	tag, err := r.db.Pool.Exec(ctx, query,
		run.ID,
		run.FinishedAt,
		run.Created,
		run.Updated,
		run.Skipped,
		run.Failed,
		run.Error,
	)
	if err != nil {
		return fmt.Errorf("update sync run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finish sync run %s: %w", run.ID, ErrNotFound)
	}
	return nil
}

const selectRunColumns = `SELECT id, started_at, finished_at, created, updated, skipped, failed, error FROM sync_runs`

func scanRun(row pgx.Row) (*models.SyncRun, error) {
	run := &models.SyncRun{}
	err := row.Scan(
		&run.ID,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Created,
		&run.Updated,
		&run.Skipped,
		&run.Failed,
		&run.Error,
	)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// GetRun 获取某轮同步
func (r *SyncRepository) GetRun(ctx context.Context, id uuid.UUID) (*models.SyncRun, error) {
	run, err := scanRun(r.db.Pool.QueryRow(ctx, selectRunColumns+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get sync run: %w", err)
	}
	return run, nil
}

// LatestRun 获取最近一轮同步
func (r *SyncRepository) LatestRun(ctx context.Context) (*models.SyncRun, error) {
	run, err := scanRun(r.db.Pool.QueryRow(ctx, selectRunColumns+` ORDER BY started_at DESC LIMIT 1`))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get latest sync run: %w", err)
	}
	return run, nil
}

// ListRuns 分页获取同步记录，按开始时间倒序
func (r *SyncRepository) ListRuns(ctx context.Context, limit, offset int) ([]*models.SyncRun, error) {
	rows, err := r.db.Pool.Query(ctx, selectRunColumns+` ORDER BY started_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list sync runs: %w", err)
	}
	defer rows.Close()

	runs := []*models.SyncRun{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sync run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sync runs: %w", err)
	}
	return runs, nil
}

// ListResults 获取某轮同步的单车结果
func (r *SyncRepository) ListResults(ctx context.Context, runID uuid.UUID) ([]models.SyncResult, error) {
	query := `
		SELECT source_id, target_id, outcome, stage, match_kind, vin, name, miles, measured, error, recorded_at
		FROM sync_results WHERE run_id = $1 ORDER BY id
	`
	rows, err := r.db.Pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list sync results: %w", err)
	}
	defer rows.Close()

	results := []models.SyncResult{}
	for rows.Next() {
		var (
			res      models.SyncResult
			targetID string
			outcome  string
			match    string
		)
		err := rows.Scan(
			&res.SourceID,
			&targetID,
			&outcome,
			&res.Stage,
			&match,
			&res.VIN,
			&res.Name,
			&res.Miles,
			&res.Measured,
			&res.Error,
			&res.RecordedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan sync result: %w", err)
		}
		res.TargetID = models.TargetID(targetID)
		res.Outcome = models.SyncOutcome(outcome)
		res.Match = models.MatchKind(match)
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sync results: %w", err)
	}
	return results, nil
}
