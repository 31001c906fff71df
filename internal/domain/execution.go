package domain

import "time"

// ExecutionStatus is the terminal status of one pipeline run.
type ExecutionStatus string

const (
	// ExecutionRunning is the transient status between start and finalize.
	ExecutionRunning ExecutionStatus = "RUNNING"
	// ExecutionSuccess means no stage reported an error.
	ExecutionSuccess ExecutionStatus = "SUCCESS"
	// ExecutionPartial means at least one stage or item failed but all stages ran.
	ExecutionPartial ExecutionStatus = "PARTIAL"
	// ExecutionFailed means a fatal error escaped per-stage isolation and
	// aborted remaining stages.
	ExecutionFailed ExecutionStatus = "FAILED"
)

// StageStatus is the outcome of a single pipeline stage.
type StageStatus string

const (
	StageOK      StageStatus = "ok"
	StagePartial StageStatus = "partial"
	StageError   StageStatus = "error"
	StageSkipped StageStatus = "skipped"
)

// StageResult is the value type that replaces stage-to-stage exception flow:
// each stage runs to completion or failure independently and reports one of
// these, which the runner aggregates.
type StageResult struct {
	Name      string         `json:"name"`
	Status    StageStatus    `json:"status"`
	StartedAt time.Time      `json:"started_at"`
	Duration  time.Duration  `json:"duration"`
	Stats     map[string]int `json:"stats,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// PipelineExecution is the durable audit record of one batch run. It is
// created at run start and finalized even when a fatal error aborts later
// stages.
type PipelineExecution struct {
	ID         string          `json:"id" db:"id"`
	Status     ExecutionStatus `json:"status" db:"status"`
	StartedAt  time.Time       `json:"started_at" db:"started_at"`
	FinishedAt *time.Time      `json:"finished_at" db:"finished_at"`

	Stages []StageResult `json:"stages" db:"stages"`

	// Errors is a capped list of item-level error messages for the operator
	// summary; full per-pair detail stays in stage stats and logs.
	Errors []string `json:"errors,omitempty" db:"errors"`

	PairsProcessed int `json:"pairs_processed" db:"pairs_processed"`
	PairsFailed    int `json:"pairs_failed" db:"pairs_failed"`
	TagsApplied    int `json:"tags_applied" db:"tags_applied"`
	TagsRemoved    int `json:"tags_removed" db:"tags_removed"`
}

// PairResult is what reconciling one (member, product) pair yields.
type PairResult struct {
	MemberEmail string   `json:"member_email"`
	ProductCode string   `json:"product_code"`
	TagsApplied []string `json:"tags_applied"`
	TagsRemoved []string `json:"tags_removed"`

	CommunicationsTriggered int    `json:"communications_triggered"`
	Success                 bool   `json:"success"`
	Error                   string `json:"error,omitempty"`
}

// Changed reports whether the pair produced any remote tag operation.
func (r PairResult) Changed() bool {
	return len(r.TagsApplied) > 0 || len(r.TagsRemoved) > 0
}
