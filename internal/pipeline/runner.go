// Package pipeline sequences the daily batch: ingest sources, recalculate
// engagement, pre-create tags, reconcile every active pair, and persist one
// execution record describing the run.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/engagement-sync/internal/domain"
	"github.com/ignite/engagement-sync/internal/pkg/logger"
)

// Stage is one named unit of the batch. A stage reports item-level problems
// through its stats and error return; only a panic escapes isolation.
type Stage struct {
	Name string
	Run  func(ctx context.Context, exec *domain.PipelineExecution) (map[string]int, error)
}

// ExecutionStore persists run records. Persistence failures are logged and
// ignored so a broken audit table never takes the batch down.
type ExecutionStore interface {
	SaveExecution(ctx context.Context, exec domain.PipelineExecution) error
}

// Archiver mirrors finalized executions to external storage, best effort.
type Archiver interface {
	ArchiveExecution(ctx context.Context, exec domain.PipelineExecution) error
}

// Runner executes stages strictly in order. Stage failures are recorded and
// the run continues: a failed ingestion must not prevent reconciliation from
// running against last-known-good data.
//
// Stages are built fresh for every run so run-scoped state like the tag
// cache never leaks between batches.
type Runner struct {
	buildStages func() []Stage
	store       ExecutionStore
	archiver    Archiver
	maxErrors   int

	now func() time.Time
}

func NewRunner(buildStages func() []Stage, store ExecutionStore, maxErrors int) *Runner {
	if maxErrors <= 0 {
		maxErrors = 25
	}
	return &Runner{buildStages: buildStages, store: store, maxErrors: maxErrors, now: time.Now}
}

// SetArchiver attaches an optional execution archiver.
func (r *Runner) SetArchiver(a Archiver) { r.archiver = a }

// Run executes the full batch and returns the finalized execution record.
// A panic in any stage aborts the remaining stages, marks the run FAILED and
// still persists whatever completed.
func (r *Runner) Run(ctx context.Context) domain.PipelineExecution {
	stages := r.buildStages()
	exec := domain.PipelineExecution{
		ID:        uuid.NewString(),
		Status:    domain.ExecutionRunning,
		StartedAt: r.now(),
	}
	log.Printf("[Pipeline] run %s started with %d stages", exec.ID, len(stages))
	r.persist(ctx, exec)

	aborted := r.runStages(ctx, stages, &exec)

	finished := r.now()
	exec.FinishedAt = &finished
	switch {
	case aborted:
		exec.Status = domain.ExecutionFailed
	case r.anyFailure(exec):
		exec.Status = domain.ExecutionPartial
	default:
		exec.Status = domain.ExecutionSuccess
	}

	log.Printf("[Pipeline] run %s finished in %s: %s (%d pairs, %d failed, +%d/-%d tags)",
		exec.ID, finished.Sub(exec.StartedAt).Round(time.Second), exec.Status,
		exec.PairsProcessed, exec.PairsFailed, exec.TagsApplied, exec.TagsRemoved)
	r.logSummary(exec)

	r.persist(ctx, exec)
	if r.archiver != nil {
		if err := r.archiver.ArchiveExecution(ctx, exec); err != nil {
			log.Printf("[Pipeline] archiving run %s failed: %v", exec.ID, err)
		}
	}
	return exec
}

// runStages returns true when a panic aborted the sequence.
func (r *Runner) runStages(ctx context.Context, stages []Stage, exec *domain.PipelineExecution) (aborted bool) {
	for i, stage := range stages {
		if aborted {
			exec.Stages = append(exec.Stages, domain.StageResult{
				Name:      stage.Name,
				Status:    domain.StageSkipped,
				StartedAt: r.now(),
			})
			continue
		}
		result, fatal := r.runStage(ctx, stage, exec)
		exec.Stages = append(exec.Stages, result)
		if fatal {
			log.Printf("[Pipeline] stage %s (%d/%d) aborted the run: %s",
				stage.Name, i+1, len(stages), result.Error)
			aborted = true
		}
	}
	return aborted
}

func (r *Runner) runStage(ctx context.Context, stage Stage, exec *domain.PipelineExecution) (result domain.StageResult, fatal bool) {
	result = domain.StageResult{Name: stage.Name, StartedAt: r.now()}
	defer func() {
		result.Duration = r.now().Sub(result.StartedAt)
		if rec := recover(); rec != nil {
			err := &domain.FatalPipelineError{
				Stage: stage.Name,
				Err:   fmt.Errorf("panic: %v", rec),
			}
			result.Status = domain.StageError
			result.Error = err.Error()
			fatal = true
			r.addError(exec, err.Error())
			log.Printf("[Pipeline] %v", err)
		}
	}()

	log.Printf("[Pipeline] stage %s starting", stage.Name)
	stats, err := stage.Run(ctx, exec)
	result.Stats = stats
	switch {
	case err != nil:
		result.Status = domain.StageError
		result.Error = err.Error()
		r.addError(exec, fmt.Sprintf("%s: %v", stage.Name, err))
		log.Printf("[Pipeline] stage %s failed: %v", stage.Name, err)
	case stats["failed"] > 0:
		result.Status = domain.StagePartial
		log.Printf("[Pipeline] stage %s completed with %d failures: %v", stage.Name, stats["failed"], stats)
	default:
		result.Status = domain.StageOK
		log.Printf("[Pipeline] stage %s completed: %v", stage.Name, stats)
	}
	return result, false
}

// logSummary emits the structured run-summary event operators ship to log
// aggregation. Error messages carry member emails, so they go through the
// logger's redaction rather than stdlib log.
func (r *Runner) logSummary(exec domain.PipelineExecution) {
	fields := []any{
		"run_id", exec.ID,
		"status", string(exec.Status),
		"duration", exec.FinishedAt.Sub(exec.StartedAt).Round(time.Second).String(),
		"pairs_processed", exec.PairsProcessed,
		"pairs_failed", exec.PairsFailed,
		"tags_applied", exec.TagsApplied,
		"tags_removed", exec.TagsRemoved,
	}
	for _, st := range exec.Stages {
		fields = append(fields, "stage."+st.Name, fmt.Sprintf("%s %v", st.Status, st.Stats))
	}
	if len(exec.Errors) > 0 {
		fields = append(fields, "errors", strings.Join(exec.Errors, "; "))
	}

	switch exec.Status {
	case domain.ExecutionFailed:
		logger.Error("pipeline run failed", fields...)
	case domain.ExecutionPartial:
		logger.Warn("pipeline run partially succeeded", fields...)
	default:
		logger.Info("pipeline run succeeded", fields...)
	}
}

func (r *Runner) anyFailure(exec domain.PipelineExecution) bool {
	for _, st := range exec.Stages {
		if st.Status == domain.StageError || st.Status == domain.StagePartial {
			return true
		}
	}
	return exec.PairsFailed > 0
}

// addError appends an operator-summary error, respecting the cap.
func (r *Runner) addError(exec *domain.PipelineExecution, msg string) {
	if len(exec.Errors) >= r.maxErrors {
		return
	}
	exec.Errors = append(exec.Errors, msg)
}

func (r *Runner) persist(ctx context.Context, exec domain.PipelineExecution) {
	if r.store == nil {
		return
	}
	if err := r.store.SaveExecution(ctx, exec); err != nil {
		log.Printf("[Pipeline] persisting run %s failed: %v", exec.ID, err)
	}
}
