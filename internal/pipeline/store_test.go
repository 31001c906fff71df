package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/engagement-sync/internal/domain"
)

func TestSaveExecution(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	finished := time.Now()
	mock.ExpectExec("INSERT INTO pipeline_executions").
		WithArgs("run-1", "PARTIAL", sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), 100, 3, 40, 12).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = NewStore(db).SaveExecution(context.Background(), domain.PipelineExecution{
		ID:             "run-1",
		Status:         domain.ExecutionPartial,
		StartedAt:      finished.Add(-time.Hour),
		FinishedAt:     &finished,
		Stages:         []domain.StageResult{{Name: "reconcile-tags", Status: domain.StagePartial}},
		Errors:         []string{"ana@example.com/CURSO-GO: applying tag failed"},
		PairsProcessed: 100,
		PairsFailed:    3,
		TagsApplied:    40,
		TagsRemoved:    12,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetExecution(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "status", "started_at", "finished_at", "stages", "errors",
		"pairs_processed", "pairs_failed", "tags_applied", "tags_removed",
	}).AddRow("run-1", "SUCCESS", now, now,
		[]byte(`[{"name":"reconcile-tags","status":"ok","started_at":"2026-08-30T06:00:00Z","duration":0,"stats":{"pairs":10}}]`),
		[]byte(`[]`), 10, 0, 4, 1)

	mock.ExpectQuery("SELECT id, status").WithArgs("run-1").WillReturnRows(rows)

	exec, err := NewStore(db).GetExecution(context.Background(), "run-1")
	require.NoError(t, err)
	require.NotNil(t, exec)
	assert.Equal(t, domain.ExecutionSuccess, exec.Status)
	require.Len(t, exec.Stages, 1)
	assert.Equal(t, "reconcile-tags", exec.Stages[0].Name)
	assert.Equal(t, 10, exec.Stages[0].Stats["pairs"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetExecutionNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT id, status").WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	exec, err := NewStore(db).GetExecution(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, exec)
}

func TestListExecutions(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "status", "started_at", "finished_at", "stages", "errors",
		"pairs_processed", "pairs_failed", "tags_applied", "tags_removed",
	}).AddRow("run-2", "SUCCESS", now, now, []byte(`[]`), []byte(`[]`), 5, 0, 1, 0).
		AddRow("run-1", "FAILED", now.Add(-24*time.Hour), now.Add(-24*time.Hour), []byte(`[]`), []byte(`["s: boom"]`), 0, 0, 0, 0)

	mock.ExpectQuery("SELECT id, status").WithArgs(50).WillReturnRows(rows)

	execs, err := NewStore(db).ListExecutions(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, execs, 2)
	assert.Equal(t, "run-2", execs[0].ID)
	assert.Equal(t, []string{"s: boom"}, execs[1].Errors)
}
