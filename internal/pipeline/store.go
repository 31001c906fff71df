package pipeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ignite/engagement-sync/internal/domain"
)

// Store persists pipeline execution records to Postgres. Stages and the
// error summary live in JSONB columns so the record round-trips whole.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// SaveExecution inserts or updates one run record. Called at run start with
// RUNNING status and again at finalization.
func (s *Store) SaveExecution(ctx context.Context, exec domain.PipelineExecution) error {
	stages, err := json.Marshal(exec.Stages)
	if err != nil {
		return fmt.Errorf("marshaling stages: %w", err)
	}
	errs, err := json.Marshal(exec.Errors)
	if err != nil {
		return fmt.Errorf("marshaling errors: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pipeline_executions (
			id, status, started_at, finished_at, stages, errors,
			pairs_processed, pairs_failed, tags_applied, tags_removed
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			finished_at = EXCLUDED.finished_at,
			stages = EXCLUDED.stages,
			errors = EXCLUDED.errors,
			pairs_processed = EXCLUDED.pairs_processed,
			pairs_failed = EXCLUDED.pairs_failed,
			tags_applied = EXCLUDED.tags_applied,
			tags_removed = EXCLUDED.tags_removed`,
		exec.ID, exec.Status, exec.StartedAt, exec.FinishedAt, stages, errs,
		exec.PairsProcessed, exec.PairsFailed, exec.TagsApplied, exec.TagsRemoved)
	if err != nil {
		return fmt.Errorf("saving execution %s: %w", exec.ID, err)
	}
	return nil
}

// GetExecution loads one run record, or nil when unknown.
func (s *Store) GetExecution(ctx context.Context, id string) (*domain.PipelineExecution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, status, started_at, finished_at, stages, errors,
		       pairs_processed, pairs_failed, tags_applied, tags_removed
		FROM pipeline_executions WHERE id = $1`, id)

	exec, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading execution %s: %w", id, err)
	}
	return exec, nil
}

// ListExecutions returns recent runs, newest first.
func (s *Store) ListExecutions(ctx context.Context, limit int) ([]domain.PipelineExecution, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, status, started_at, finished_at, stages, errors,
		       pairs_processed, pairs_failed, tags_applied, tags_removed
		FROM pipeline_executions ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var execs []domain.PipelineExecution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, *exec)
	}
	return execs, rows.Err()
}

// LatestExecution returns the most recent run, or nil when none exist.
func (s *Store) LatestExecution(ctx context.Context) (*domain.PipelineExecution, error) {
	execs, err := s.ListExecutions(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(execs) == 0 {
		return nil, nil
	}
	return &execs[0], nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanExecution(row rowScanner) (*domain.PipelineExecution, error) {
	var exec domain.PipelineExecution
	var stages, errs []byte
	if err := row.Scan(
		&exec.ID, &exec.Status, &exec.StartedAt, &exec.FinishedAt, &stages, &errs,
		&exec.PairsProcessed, &exec.PairsFailed, &exec.TagsApplied, &exec.TagsRemoved,
	); err != nil {
		return nil, err
	}
	if len(stages) > 0 {
		if err := json.Unmarshal(stages, &exec.Stages); err != nil {
			return nil, fmt.Errorf("unmarshaling stages for %s: %w", exec.ID, err)
		}
	}
	if len(errs) > 0 {
		json.Unmarshal(errs, &exec.Errors)
	}
	return &exec, nil
}
