package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ignite/engagement-sync/internal/domain"
	"github.com/ignite/engagement-sync/internal/ingest"
	"github.com/ignite/engagement-sync/internal/reconcile"
)

// PairLister supplies the reconcile stage with its work set.
type PairLister interface {
	ListActivePairs(ctx context.Context) ([]domain.Pair, error)
	ListAutomatedProducts(ctx context.Context) ([]domain.Product, map[string]domain.ReengagementConfig, error)
}

// Recalculator refreshes engagement metrics between ingestion and tagging.
type Recalculator interface {
	Recalculate(ctx context.Context) (map[string]int, error)
}

// Pruner expires old audit entries after the batch completes.
type Pruner interface {
	PruneCommunications(ctx context.Context, olderThan time.Time) (int64, error)
}

// Builder assembles the standard stage sequence from its collaborators.
// Sources that are nil (disabled in config) are skipped.
type Builder struct {
	Ingestor *ingest.Ingestor
	Sources  []ingest.Source

	Recalc Recalculator
	Pairs  PairLister

	CRM         reconcile.CRM
	States      reconcile.StateStore
	CallTimeout time.Duration
	CallDelay   time.Duration

	ProgressStepPercent int
	MaxSummaryErrors    int

	// Pruner and RetentionDays enable the optional audit-log cleanup stage.
	Pruner        Pruner
	RetentionDays int

	now func() time.Time
}

// Stages returns the batch sequence in canonical order. The tag cache is
// created per run and shared between the pre-create and reconcile stages so
// pre-creation always happens first.
func (b *Builder) Stages() []Stage {
	if b.now == nil {
		b.now = time.Now
	}
	if b.MaxSummaryErrors <= 0 {
		b.MaxSummaryErrors = 25
	}
	cache := reconcile.NewTagCache(b.CRM, b.CallDelay)

	var stages []Stage
	for _, src := range b.Sources {
		if src == nil {
			continue
		}
		s := src
		stages = append(stages, Stage{
			Name: "ingest-" + s.Name(),
			Run: func(ctx context.Context, _ *domain.PipelineExecution) (map[string]int, error) {
				return b.Ingestor.Run(ctx, s)
			},
		})
	}

	stages = append(stages,
		Stage{Name: "recalc-engagement", Run: b.runRecalc},
		Stage{Name: "pre-create-tags", Run: b.preCreateTags(cache)},
		Stage{Name: "reconcile-tags", Run: b.reconcileTags(cache)},
	)
	if b.Pruner != nil && b.RetentionDays > 0 {
		stages = append(stages, Stage{Name: "prune-audit-log", Run: b.pruneAuditLog})
	}
	return stages
}

func (b *Builder) pruneAuditLog(ctx context.Context, _ *domain.PipelineExecution) (map[string]int, error) {
	cutoff := b.now().AddDate(0, 0, -b.RetentionDays)
	pruned, err := b.Pruner.PruneCommunications(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	return map[string]int{"pruned": int(pruned)}, nil
}

func (b *Builder) runRecalc(ctx context.Context, _ *domain.PipelineExecution) (map[string]int, error) {
	return b.Recalc.Recalculate(ctx)
}

func (b *Builder) preCreateTags(cache *reconcile.TagCache) func(context.Context, *domain.PipelineExecution) (map[string]int, error) {
	return func(ctx context.Context, _ *domain.PipelineExecution) (map[string]int, error) {
		products, configs, err := b.Pairs.ListAutomatedProducts(ctx)
		if err != nil {
			return nil, err
		}
		ensured, failed := cache.Preload(ctx, products, configs)
		return map[string]int{"products": len(products), "ensured": ensured, "failed": failed}, nil
	}
}

func (b *Builder) reconcileTags(cache *reconcile.TagCache) func(context.Context, *domain.PipelineExecution) (map[string]int, error) {
	return func(ctx context.Context, exec *domain.PipelineExecution) (map[string]int, error) {
		pairs, err := b.Pairs.ListActivePairs(ctx)
		if err != nil {
			return nil, err
		}

		// Products excluded from automation never reach this stage's work set.
		var work []domain.Pair
		for _, p := range pairs {
			if p.Product.AutomationEnabled {
				work = append(work, p)
			}
		}
		skipped := len(pairs) - len(work)

		orch := reconcile.NewOrchestrator(b.CRM, b.States, cache, b.CallTimeout, b.CallDelay)
		progress := newProgressTracker(len(work), b.ProgressStepPercent, b.now)

		stats := map[string]int{
			"pairs":   len(work),
			"skipped": skipped,
			"failed":  0,
			"changed": 0,
		}
		for _, pair := range work {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			result := orch.ReconcilePair(ctx, pair)

			exec.PairsProcessed++
			exec.TagsApplied += len(result.TagsApplied)
			exec.TagsRemoved += len(result.TagsRemoved)
			if !result.Success {
				exec.PairsFailed++
				stats["failed"]++
				msg := fmt.Sprintf("%s/%s: %s", result.MemberEmail, result.ProductCode, result.Error)
				if len(exec.Errors) < b.MaxSummaryErrors {
					exec.Errors = append(exec.Errors, msg)
				}
				log.Printf("[Pipeline] pair %s failed", msg)
			}
			if result.Changed() {
				stats["changed"]++
			}
			progress.Tick()
		}
		return stats, nil
	}
}
