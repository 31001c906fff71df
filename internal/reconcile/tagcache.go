package reconcile

import (
	"context"
	"log"
	"sort"
	"time"

	"github.com/ignite/engagement-sync/internal/domain"
)

// TagCreator is the slice of the CRM client the cache needs.
type TagCreator interface {
	GetOrCreateTag(ctx context.Context, name string) (string, error)
}

// TagCache ensures every tag the run might apply exists remotely before any
// pair is reconciled. Tags whose creation failed are remembered and gate
// application for the rest of the run; removal is never gated.
type TagCache struct {
	crm       TagCreator
	callDelay time.Duration

	ensured map[string]bool
	failed  map[string]bool
}

func NewTagCache(crm TagCreator, callDelay time.Duration) *TagCache {
	return &TagCache{
		crm:       crm,
		callDelay: callDelay,
		ensured:   make(map[string]bool),
		failed:    make(map[string]bool),
	}
}

// Preload creates every canonical tag for the given products up front so
// reconciliation never races tag creation. Returns counts of ensured and
// failed tags; individual failures do not abort the preload.
func (tc *TagCache) Preload(ctx context.Context, products []domain.Product, configs map[string]domain.ReengagementConfig) (int, int) {
	names := make(map[string]bool)
	for _, p := range products {
		cfg, ok := configs[p.ID]
		if !ok {
			continue
		}
		for _, lv := range cfg.Levels {
			names[p.Code+" - "+lv.TagName] = true
		}
	}

	ordered := make([]string, 0, len(names))
	for name := range names {
		ordered = append(ordered, name)
	}
	sort.Strings(ordered)

	for _, name := range ordered {
		if err := ctx.Err(); err != nil {
			return len(tc.ensured), len(tc.failed)
		}
		tc.Ensure(ctx, name)
		if tc.callDelay > 0 {
			time.Sleep(tc.callDelay)
		}
	}
	return len(tc.ensured), len(tc.failed)
}

// Ensure makes one tag exist remotely, once per run. Repeat calls for the
// same name are no-ops regardless of outcome.
func (tc *TagCache) Ensure(ctx context.Context, name string) bool {
	if tc.ensured[name] {
		return true
	}
	if tc.failed[name] {
		return false
	}
	if _, err := tc.crm.GetOrCreateTag(ctx, name); err != nil {
		log.Printf("[Reconcile] tag pre-creation failed for %q: %v", name, err)
		tc.failed[name] = true
		return false
	}
	tc.ensured[name] = true
	return true
}

// CanApply reports whether a tag is safe to apply this run. A tag that was
// never preloaded goes through Ensure lazily.
func (tc *TagCache) CanApply(ctx context.Context, name string) bool {
	return tc.Ensure(ctx, name)
}

// FailedCount returns how many tags could not be created this run.
func (tc *TagCache) FailedCount() int { return len(tc.failed) }
