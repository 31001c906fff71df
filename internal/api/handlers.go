package api

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/engagement-sync/internal/domain"
)

// ExecutionReader serves run history.
type ExecutionReader interface {
	GetExecution(ctx context.Context, id string) (*domain.PipelineExecution, error)
	ListExecutions(ctx context.Context, limit int) ([]domain.PipelineExecution, error)
	LatestExecution(ctx context.Context) (*domain.PipelineExecution, error)
}

// MemberReader resolves a member and their engagement detail.
type MemberReader interface {
	GetMemberByEmail(ctx context.Context, email string) (*domain.Member, error)
}

// EngagementReader serves per-member state and audit entries.
type EngagementReader interface {
	ListStatesForMember(ctx context.Context, memberID string) ([]domain.EngagementState, error)
	ListCommunications(ctx context.Context, memberID string, limit int) ([]domain.CommunicationLogEntry, error)
}

// RunTrigger launches a pipeline run. It reports false when a run is
// already in flight, locally or on another instance holding the run lock.
type RunTrigger interface {
	TriggerRun(ctx context.Context) bool
}

// Handlers holds the API's collaborators.
type Handlers struct {
	executions ExecutionReader
	members    MemberReader
	engagement EngagementReader
	trigger    RunTrigger

	startedAt time.Time
}

// NewHandlers creates the handler set. A nil trigger disables the manual
// run endpoint.
func NewHandlers(executions ExecutionReader, members MemberReader, engagement EngagementReader, trigger RunTrigger) *Handlers {
	h := &Handlers{
		executions: executions,
		members:    members,
		engagement: engagement,
		trigger:    trigger,
		startedAt:  time.Now(),
	}
	return h
}

// HealthCheck reports process liveness and uptime.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(h.startedAt).Round(time.Second).String(),
	})
}

// ListExecutions returns recent pipeline runs, newest first.
func (h *Handlers) ListExecutions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeJSONError(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	execs, err := h.executions.ListExecutions(r.Context(), limit)
	if err != nil {
		log.Printf("[API] listing executions: %v", err)
		writeJSONError(w, "failed to list executions", http.StatusInternalServerError)
		return
	}
	if execs == nil {
		execs = []domain.PipelineExecution{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"executions": execs,
		"count":      len(execs),
	})
}

// GetExecution returns one run record by id.
func (h *Handlers) GetExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	exec, err := h.executions.GetExecution(r.Context(), id)
	if err != nil {
		log.Printf("[API] loading execution %s: %v", id, err)
		writeJSONError(w, "failed to load execution", http.StatusInternalServerError)
		return
	}
	if exec == nil {
		writeJSONError(w, "execution not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

// LatestExecution returns the most recent run.
func (h *Handlers) LatestExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := h.executions.LatestExecution(r.Context())
	if err != nil {
		log.Printf("[API] loading latest execution: %v", err)
		writeJSONError(w, "failed to load execution", http.StatusInternalServerError)
		return
	}
	if exec == nil {
		writeJSONError(w, "no executions yet", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

// MemberEngagement returns a member's engagement states and recent
// communication history across all products.
func (h *Handlers) MemberEngagement(w http.ResponseWriter, r *http.Request) {
	email := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "email")))
	if email == "" || !strings.Contains(email, "@") {
		writeJSONError(w, "invalid email", http.StatusBadRequest)
		return
	}

	member, err := h.members.GetMemberByEmail(r.Context(), email)
	if err != nil {
		log.Printf("[API] loading member: %v", err)
		writeJSONError(w, "failed to load member", http.StatusInternalServerError)
		return
	}
	if member == nil {
		writeJSONError(w, "member not found", http.StatusNotFound)
		return
	}

	states, err := h.engagement.ListStatesForMember(r.Context(), member.ID)
	if err != nil {
		log.Printf("[API] loading states for %s: %v", member.ID, err)
		writeJSONError(w, "failed to load engagement", http.StatusInternalServerError)
		return
	}
	comms, err := h.engagement.ListCommunications(r.Context(), member.ID, 50)
	if err != nil {
		log.Printf("[API] loading communications for %s: %v", member.ID, err)
		writeJSONError(w, "failed to load engagement", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"member":         member,
		"states":         states,
		"communications": comms,
	})
}

// TriggerPipeline launches a run unless one is already in flight.
func (h *Handlers) TriggerPipeline(w http.ResponseWriter, r *http.Request) {
	if h.trigger == nil {
		writeJSONError(w, "manual runs disabled", http.StatusServiceUnavailable)
		return
	}
	if !h.trigger.TriggerRun(r.Context()) {
		writeJSONError(w, "a run is already in progress", http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}
