package domain

import "fmt"

// The error taxonomy below is matched with errors.As at the narrowest scope
// that preserves isolation: per-tag inside reconciliation, per-pair inside the
// reconcile stage, per-stage inside the pipeline runner.

// ConfigurationError means a product's reengagement config is missing or
// invalid. The affected product is skipped for the pair; siblings proceed.
type ConfigurationError struct {
	ProductCode string
	Reason      string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error for product %s: %s", e.ProductCode, e.Reason)
}

// RemoteUnavailableError means a CRM or source-platform call failed or timed
// out. The failure is recorded on the item and siblings continue.
type RemoteUnavailableError struct {
	Op  string
	Err error
}

func (e *RemoteUnavailableError) Error() string {
	return fmt.Sprintf("remote call %s failed: %v", e.Op, e.Err)
}

func (e *RemoteUnavailableError) Unwrap() error { return e.Err }

// DataIntegrityError means an enrollment references a missing member or
// product. The pair is skipped with a warning.
type DataIntegrityError struct {
	Detail string
}

func (e *DataIntegrityError) Error() string {
	return "data integrity: " + e.Detail
}

// FatalPipelineError wraps an error that escaped per-stage isolation. It
// aborts remaining stages; the run's partial results are still persisted.
type FatalPipelineError struct {
	Stage string
	Err   error
}

func (e *FatalPipelineError) Error() string {
	return fmt.Sprintf("fatal pipeline error in stage %s: %v", e.Stage, e.Err)
}

func (e *FatalPipelineError) Unwrap() error { return e.Err }
