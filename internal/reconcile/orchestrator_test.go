package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/engagement-sync/internal/domain"
)

// fakeCRM is an in-memory tag store recording every mutation.
type fakeCRM struct {
	tags       map[string][]string // email -> tags
	knownTags  map[string]bool
	applied    []string
	removed    []string
	createErr  error
	applyErr   error
	listErr    error
	createdCnt int
}

func newFakeCRM() *fakeCRM {
	return &fakeCRM{tags: make(map[string][]string), knownTags: make(map[string]bool)}
}

func (f *fakeCRM) ListContactTags(_ context.Context, email string) ([]string, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.tags[email], nil
}

func (f *fakeCRM) GetOrCreateTag(_ context.Context, name string) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	if !f.knownTags[name] {
		f.knownTags[name] = true
		f.createdCnt++
	}
	return name, nil
}

func (f *fakeCRM) ApplyTag(_ context.Context, email, name string) error {
	if f.applyErr != nil {
		return f.applyErr
	}
	f.tags[email] = append(f.tags[email], name)
	f.applied = append(f.applied, name)
	return nil
}

func (f *fakeCRM) RemoveTag(_ context.Context, email, name string) error {
	var kept []string
	for _, t := range f.tags[email] {
		if t != name {
			kept = append(kept, t)
		}
	}
	f.tags[email] = kept
	f.removed = append(f.removed, name)
	return nil
}

// fakeStates is an in-memory StateStore.
type fakeStates struct {
	states map[string]*domain.EngagementState
	log    []domain.CommunicationLogEntry
}

func newFakeStates() *fakeStates {
	return &fakeStates{states: make(map[string]*domain.EngagementState)}
}

func (f *fakeStates) GetState(_ context.Context, memberID, productID string) (*domain.EngagementState, error) {
	st, ok := f.states[memberID+"/"+productID]
	if !ok {
		return nil, nil
	}
	cp := *st
	return &cp, nil
}

func (f *fakeStates) UpsertState(_ context.Context, st domain.EngagementState) error {
	cp := st
	f.states[st.MemberID+"/"+st.ProductID] = &cp
	return nil
}

func (f *fakeStates) AppendCommunication(_ context.Context, entry domain.CommunicationLogEntry) error {
	f.log = append(f.log, entry)
	return nil
}

func testConfig() domain.ReengagementConfig {
	return domain.ReengagementConfig{
		ProductID: "p1",
		Levels: []domain.ReengagementLevel{
			{Level: 1, InactivityDays: 7, TagName: "Inactive 7d", CooldownDays: 5},
			{Level: 2, InactivityDays: 15, TagName: "Inactive 15d", CooldownDays: 7},
			{Level: 3, InactivityDays: 30, TagName: "Inactive 30d", CooldownDays: 10},
		},
	}
}

func testPair(lastActivity *time.Time) domain.Pair {
	return domain.Pair{
		Member:  domain.Member{ID: "m1", Email: "ana@example.com"},
		Product: domain.Product{ID: "p1", Code: "CURSO-GO", AutomationEnabled: true},
		Enrollment: domain.Enrollment{
			MemberID:     "m1",
			ProductID:    "p1",
			Status:       domain.EnrollmentActive,
			AccessCount:  4,
			LastActivity: lastActivity,
			EnrolledAt:   time.Now().AddDate(0, -3, 0),
		},
		Config: testConfig(),
	}
}

func newTestOrchestrator(crm *fakeCRM, states *fakeStates) *Orchestrator {
	return NewOrchestrator(crm, states, NewTagCache(crm, 0), 0, 0)
}

func daysAgo(n int) *time.Time {
	t := time.Now().AddDate(0, 0, -n)
	return &t
}

func TestReconcileAppliesTagToInactiveMember(t *testing.T) {
	crm := newFakeCRM()
	states := newFakeStates()
	o := newTestOrchestrator(crm, states)

	result := o.ReconcilePair(context.Background(), testPair(daysAgo(12)))

	require.True(t, result.Success, result.Error)
	assert.Equal(t, []string{"CURSO-GO - Inactive 7d"}, result.TagsApplied)
	assert.Empty(t, result.TagsRemoved)
	assert.Equal(t, 1, result.CommunicationsTriggered)

	st := states.states["m1/p1"]
	require.NotNil(t, st)
	assert.Equal(t, 1, st.CurrentLevel)
	assert.Equal(t, "Inactive 7d", st.CurrentTag)
	assert.NotNil(t, st.TagAppliedAt)
	assert.NotNil(t, st.CooldownUntil)
	assert.Equal(t, 1, st.TagsAppliedCount)

	require.Len(t, states.log, 1)
	assert.Equal(t, domain.CommTagApplied, states.log[0].Kind)
	// The audit trail stores the unqualified form the state tracks.
	assert.Equal(t, []string{"Inactive 7d"}, states.log[0].TagsApplied)
}

func TestReconcileRemovesTagWhenMemberReturns(t *testing.T) {
	crm := newFakeCRM()
	crm.tags["ana@example.com"] = []string{"CURSO-GO - Inactive 15d", "VIP"}
	states := newFakeStates()
	applied := time.Now().AddDate(0, 0, -20)
	states.states["m1/p1"] = &domain.EngagementState{
		MemberID: "m1", ProductID: "p1",
		CurrentLevel: 2, CurrentTag: "Inactive 15d", TagAppliedAt: &applied,
	}
	o := newTestOrchestrator(crm, states)

	result := o.ReconcilePair(context.Background(), testPair(daysAgo(1)))

	require.True(t, result.Success, result.Error)
	assert.Equal(t, []string{"CURSO-GO - Inactive 15d"}, result.TagsRemoved)
	assert.Empty(t, result.TagsApplied)
	assert.Contains(t, crm.tags["ana@example.com"], "VIP")

	st := states.states["m1/p1"]
	assert.Equal(t, "", st.CurrentTag)
	assert.Equal(t, 0, st.CurrentLevel)
	assert.Equal(t, 1, st.ReturnsCount)
	assert.Equal(t, 1, st.ReturnStreak)
	assert.Equal(t, 0, st.InactiveStreak)

	require.Len(t, states.log, 1)
	assert.Equal(t, domain.CommReturned, states.log[0].Kind)
	assert.Equal(t, []string{"Inactive 15d"}, states.log[0].TagsRemoved)
}

func TestReconcileIsIdempotent(t *testing.T) {
	crm := newFakeCRM()
	states := newFakeStates()
	o := newTestOrchestrator(crm, states)
	pair := testPair(daysAgo(40))

	first := o.ReconcilePair(context.Background(), pair)
	require.True(t, first.Success, first.Error)
	assert.Equal(t, []string{"CURSO-GO - Inactive 30d"}, first.TagsApplied)

	second := o.ReconcilePair(context.Background(), pair)
	require.True(t, second.Success, second.Error)
	assert.Empty(t, second.TagsApplied)
	assert.Empty(t, second.TagsRemoved)
	assert.Equal(t, 0, second.CommunicationsTriggered)
	assert.Len(t, states.log, 1)
}

func TestReconcileEscalatesToSingleHighestLevel(t *testing.T) {
	crm := newFakeCRM()
	crm.tags["ana@example.com"] = []string{"CURSO-GO - Inactive 7d"}
	states := newFakeStates()
	applied := time.Now().AddDate(0, 0, -10) // past the level-1 cooldown
	states.states["m1/p1"] = &domain.EngagementState{
		MemberID: "m1", ProductID: "p1",
		CurrentLevel: 1, CurrentTag: "Inactive 7d", TagAppliedAt: &applied,
	}
	o := newTestOrchestrator(crm, states)

	result := o.ReconcilePair(context.Background(), testPair(daysAgo(20)))

	require.True(t, result.Success, result.Error)
	assert.Equal(t, []string{"CURSO-GO - Inactive 7d"}, result.TagsRemoved)
	assert.Equal(t, []string{"CURSO-GO - Inactive 15d"}, result.TagsApplied)
	assert.Equal(t, []string{"CURSO-GO - Inactive 15d"}, crm.tags["ana@example.com"])
}

func TestReconcileHoldsTagInsideCooldown(t *testing.T) {
	crm := newFakeCRM()
	crm.tags["ana@example.com"] = []string{"CURSO-GO - Inactive 7d"}
	states := newFakeStates()
	applied := time.Now().AddDate(0, 0, -2) // level-1 cooldown is 5 days
	states.states["m1/p1"] = &domain.EngagementState{
		MemberID: "m1", ProductID: "p1",
		CurrentLevel: 1, CurrentTag: "Inactive 7d", TagAppliedAt: &applied,
	}
	o := newTestOrchestrator(crm, states)

	// Inactive long enough for level 3, but the cooldown holds level 1.
	result := o.ReconcilePair(context.Background(), testPair(daysAgo(45)))

	require.True(t, result.Success, result.Error)
	assert.Empty(t, result.TagsApplied)
	assert.Empty(t, result.TagsRemoved)
	assert.Equal(t, []string{"CURSO-GO - Inactive 7d"}, crm.tags["ana@example.com"])
}

func TestReconcileNeverTouchesForeignTags(t *testing.T) {
	crm := newFakeCRM()
	crm.tags["ana@example.com"] = []string{
		"VIP",
		"OUTRO-CURSO - Inactive 7d",
		"CURSO-GO - Special Offer", // shares the prefix but is not a level tag
	}
	states := newFakeStates()
	o := newTestOrchestrator(crm, states)

	result := o.ReconcilePair(context.Background(), testPair(daysAgo(1)))

	require.True(t, result.Success, result.Error)
	assert.Empty(t, result.TagsRemoved)
	assert.Len(t, crm.tags["ana@example.com"], 3)
}

func TestReconcileRemovesLegacyTags(t *testing.T) {
	crm := newFakeCRM()
	crm.tags["ana@example.com"] = []string{"curso-go-inativo-7"}
	states := newFakeStates()
	o := newTestOrchestrator(crm, states)

	pair := testPair(daysAgo(1))
	pair.Product.LegacyTagPatterns = []string{`^curso-go-inativo-\d+$`}
	result := o.ReconcilePair(context.Background(), pair)

	require.True(t, result.Success, result.Error)
	assert.Equal(t, []string{"curso-go-inativo-7"}, result.TagsRemoved)
	// Legacy names carry no product prefix and are audited verbatim.
	require.Len(t, states.log, 1)
	assert.Equal(t, []string{"curso-go-inativo-7"}, states.log[0].TagsRemoved)
}

func TestReconcileNoSignalNoTag(t *testing.T) {
	crm := newFakeCRM()
	states := newFakeStates()
	o := newTestOrchestrator(crm, states)

	result := o.ReconcilePair(context.Background(), testPair(nil))

	require.True(t, result.Success, result.Error)
	assert.Empty(t, result.TagsApplied)
	assert.Empty(t, crm.applied)
}

func TestReconcileInvalidConfigContained(t *testing.T) {
	crm := newFakeCRM()
	states := newFakeStates()
	o := newTestOrchestrator(crm, states)

	pair := testPair(daysAgo(12))
	pair.Config.Levels = nil
	result := o.ReconcilePair(context.Background(), pair)

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "has no levels")
	assert.Empty(t, crm.applied)
}

func TestReconcileMissingMemberIsDataIntegrityError(t *testing.T) {
	crm := newFakeCRM()
	states := newFakeStates()
	o := newTestOrchestrator(crm, states)

	pair := testPair(daysAgo(12))
	pair.Member.Email = ""
	result := o.ReconcilePair(context.Background(), pair)

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "missing member or product")
}

func TestReconcileListFailureContained(t *testing.T) {
	crm := newFakeCRM()
	crm.listErr = errors.New("connection refused")
	states := newFakeStates()
	o := newTestOrchestrator(crm, states)

	result := o.ReconcilePair(context.Background(), testPair(daysAgo(12)))

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "listing remote tags")
	assert.Empty(t, states.log)
}

func TestReconcileApplyFailureContained(t *testing.T) {
	crm := newFakeCRM()
	crm.applyErr = errors.New("504 gateway timeout")
	states := newFakeStates()
	o := newTestOrchestrator(crm, states)

	result := o.ReconcilePair(context.Background(), testPair(daysAgo(12)))

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "applying")
	assert.Empty(t, states.log)
}

func TestReconcileFailedPreCreationGatesApply(t *testing.T) {
	crm := newFakeCRM()
	states := newFakeStates()
	cache := NewTagCache(crm, 0)
	crm.createErr = errors.New("rate limited")
	cache.Ensure(context.Background(), "CURSO-GO - Inactive 7d")
	crm.createErr = nil

	o := NewOrchestrator(crm, states, cache, 0, 0)
	result := o.ReconcilePair(context.Background(), testPair(daysAgo(12)))

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "pre-creation failed")
	assert.Empty(t, crm.applied)
}

func TestTagCachePreload(t *testing.T) {
	crm := newFakeCRM()
	cache := NewTagCache(crm, 0)

	products := []domain.Product{
		{ID: "p1", Code: "CURSO-GO"},
		{ID: "p2", Code: "CURSO-SQL"},
	}
	configs := map[string]domain.ReengagementConfig{
		"p1": testConfig(),
		"p2": {ProductID: "p2", Levels: []domain.ReengagementLevel{
			{Level: 1, InactivityDays: 7, TagName: "Inactive 7d", CooldownDays: 5},
		}},
	}

	ensured, failed := cache.Preload(context.Background(), products, configs)
	assert.Equal(t, 4, ensured)
	assert.Equal(t, 0, failed)
	assert.Equal(t, 4, crm.createdCnt)

	// A second Ensure for a preloaded tag must not hit the remote again.
	cache.Ensure(context.Background(), "CURSO-GO - Inactive 7d")
	assert.Equal(t, 4, crm.createdCnt)
}

func TestNamespaceOwnership(t *testing.T) {
	ns := NewNamespace(domain.Product{
		Code:              "CURSO-GO",
		LegacyTagPatterns: []string{`^inativo-curso-go$`, `(bad`},
	}, testConfig())

	assert.True(t, ns.Owned("CURSO-GO - Inactive 7d"))
	assert.True(t, ns.Owned("inativo-curso-go"))
	assert.False(t, ns.Owned("CURSO-GO - Special Offer"))
	assert.False(t, ns.Owned("OUTRO - Inactive 7d"))
	assert.Equal(t, "CURSO-GO - Inactive 30d", ns.Qualify("Inactive 30d"))
}
