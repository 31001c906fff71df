// Package reconcile converges remote CRM tag state with the decision
// engine's desired state, one member-product pair at a time.
package reconcile

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ignite/engagement-sync/internal/domain"
	"github.com/ignite/engagement-sync/internal/engagement"
)

// CRM is the slice of the remote tag store reconciliation depends on.
// The concrete client owns retries and transport concerns.
type CRM interface {
	TagCreator
	ListContactTags(ctx context.Context, email string) ([]string, error)
	ApplyTag(ctx context.Context, email, name string) error
	RemoveTag(ctx context.Context, email, name string) error
}

// StateStore persists per-pair engagement state and the communication audit
// trail.
type StateStore interface {
	GetState(ctx context.Context, memberID, productID string) (*domain.EngagementState, error)
	UpsertState(ctx context.Context, st domain.EngagementState) error
	AppendCommunication(ctx context.Context, entry domain.CommunicationLogEntry) error
}

// Orchestrator converges one pair's remote tag state with the decision
// engine's desired state. Pairs are processed strictly one at a time; the
// only cross-pair state is the run-scoped tag cache.
type Orchestrator struct {
	crm         CRM
	states      StateStore
	tags        *TagCache
	callTimeout time.Duration
	callDelay   time.Duration

	now func() time.Time
}

func NewOrchestrator(crm CRM, states StateStore, tags *TagCache, callTimeout, callDelay time.Duration) *Orchestrator {
	return &Orchestrator{
		crm:         crm,
		states:      states,
		tags:        tags,
		callTimeout: callTimeout,
		callDelay:   callDelay,
		now:         time.Now,
	}
}

// ReconcilePair runs the full remove-then-add convergence for one pair.
// Every failure is contained in the returned result; the error return is
// always nil unless the context is done, so the caller's loop over pairs
// never stops on a bad pair.
func (o *Orchestrator) ReconcilePair(ctx context.Context, pair domain.Pair) domain.PairResult {
	result := domain.PairResult{
		MemberEmail: pair.Member.Email,
		ProductCode: pair.Product.Code,
	}

	if pair.Member.Email == "" || pair.Product.Code == "" {
		result.Error = (&domain.DataIntegrityError{
			Detail: fmt.Sprintf("enrollment %s/%s references a missing member or product", pair.Enrollment.MemberID, pair.Enrollment.ProductID),
		}).Error()
		log.Printf("[Reconcile] skipping pair: %s", result.Error)
		return result
	}

	ns := NewNamespace(pair.Product, pair.Config)
	now := o.now()

	state, err := o.states.GetState(ctx, pair.Member.ID, pair.Product.ID)
	if err != nil {
		result.Error = fmt.Sprintf("loading state: %v", err)
		return result
	}
	if state == nil {
		state = &domain.EngagementState{
			MemberID:  pair.Member.ID,
			ProductID: pair.Product.ID,
		}
	}

	// Actual remote state, filtered to the tags this product owns.
	remote, err := o.listTags(ctx, pair.Member.Email)
	if err != nil {
		result.Error = fmt.Sprintf("listing remote tags: %v", err)
		return result
	}
	actual := ns.FilterOwned(remote)

	// Desired state.
	decision, err := engagement.Decide(engagement.Snapshot{
		AccessCount:        pair.Enrollment.AccessCount,
		LastActivity:       pair.Enrollment.LastActivity,
		ProgressPercentage: pair.Enrollment.ProgressPercentage,
		EnrolledAt:         pair.Enrollment.EnrolledAt,
		CurrentTag:         state.CurrentTag,
		TagAppliedAt:       state.TagAppliedAt,
	}, pair.Config, now)
	if err != nil {
		result.Error = err.Error()
		log.Printf("[Reconcile] %s/%s: %v", pair.Member.Email, pair.Product.Code, err)
		return result
	}

	var desired string
	if decision.Desired() {
		desired = ns.Qualify(decision.TagName)
	}

	// Diff with a second ownership check on every removal candidate. The
	// namespace filter already ran, but a removal must independently satisfy
	// the owned pattern so a hand-set tag sharing the prefix is never touched.
	var toRemove, toAdd []string
	for _, tag := range actual {
		if tag != desired && ns.Owned(tag) {
			toRemove = append(toRemove, tag)
		}
	}
	if desired != "" && !contains(actual, desired) {
		toAdd = append(toAdd, desired)
	}

	// Remove first so bookkeeping never sees two active levels.
	for _, tag := range toRemove {
		if err := o.removeTag(ctx, pair.Member.Email, tag); err != nil {
			result.Error = fmt.Sprintf("removing %q: %v", tag, err)
			return result
		}
		result.TagsRemoved = append(result.TagsRemoved, tag)
	}
	for _, tag := range toAdd {
		if !o.tags.CanApply(ctx, tag) {
			result.Error = fmt.Sprintf("tag %q unavailable: pre-creation failed", tag)
			return result
		}
		if err := o.applyTag(ctx, pair.Member.Email, tag); err != nil {
			result.Error = fmt.Sprintf("applying %q: %v", tag, err)
			return result
		}
		result.TagsApplied = append(result.TagsApplied, tag)
	}

	if result.Changed() {
		if err := o.recordChange(ctx, state, ns, pair, decision, result, now); err != nil {
			result.Error = fmt.Sprintf("recording change: %v", err)
			return result
		}
		result.CommunicationsTriggered = 1
	}

	result.Success = true
	return result
}

// recordChange updates the pair's engagement state and appends one audit
// entry describing what changed. Audit entries store tags unqualified, the
// same form the state tracks; legacy tag names pass through as-is.
func (o *Orchestrator) recordChange(ctx context.Context, state *domain.EngagementState, ns *Namespace, pair domain.Pair, decision engagement.Decision, result domain.PairResult, now time.Time) error {
	kind := domain.CommTagRemoved
	switch {
	case decision.Desired():
		kind = domain.CommTagApplied
		state.CurrentLevel = decision.Level
		state.CurrentTag = decision.TagName
		state.TagAppliedAt = &now
		cooldown := now.AddDate(0, 0, decision.CooldownDays)
		state.CooldownUntil = &cooldown
		state.InactiveStreak++
		state.ReturnStreak = 0
		state.TagsAppliedCount += len(result.TagsApplied)
	case len(result.TagsRemoved) > 0 && pair.Enrollment.HasActivitySignal():
		// Tag cleared because the member came back.
		kind = domain.CommReturned
		state.CurrentLevel = 0
		state.CurrentTag = ""
		state.TagAppliedAt = nil
		state.CooldownUntil = nil
		state.InactiveStreak = 0
		state.ReturnStreak++
		state.ReturnsCount++
	default:
		state.CurrentLevel = 0
		state.CurrentTag = ""
		state.TagAppliedAt = nil
		state.CooldownUntil = nil
	}

	if err := o.states.UpsertState(ctx, *state); err != nil {
		return err
	}
	return o.states.AppendCommunication(ctx, domain.CommunicationLogEntry{
		MemberID:    state.MemberID,
		ProductID:   state.ProductID,
		Kind:        kind,
		TagsApplied: unqualifyAll(ns, result.TagsApplied),
		TagsRemoved: unqualifyAll(ns, result.TagsRemoved),
	})
}

func (o *Orchestrator) listTags(ctx context.Context, email string) ([]string, error) {
	ctx, cancel := o.callCtx(ctx)
	defer cancel()
	return o.crm.ListContactTags(ctx, email)
}

func (o *Orchestrator) applyTag(ctx context.Context, email, name string) error {
	o.pause()
	ctx, cancel := o.callCtx(ctx)
	defer cancel()
	return o.crm.ApplyTag(ctx, email, name)
}

func (o *Orchestrator) removeTag(ctx context.Context, email, name string) error {
	o.pause()
	ctx, cancel := o.callCtx(ctx)
	defer cancel()
	return o.crm.RemoveTag(ctx, email, name)
}

func (o *Orchestrator) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.callTimeout)
}

func (o *Orchestrator) pause() {
	if o.callDelay > 0 {
		time.Sleep(o.callDelay)
	}
}

func unqualifyAll(ns *Namespace, tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	out := make([]string, len(tags))
	for i, tag := range tags {
		out[i] = ns.Unqualify(tag)
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
