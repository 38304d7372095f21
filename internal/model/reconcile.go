package model

import "time"

// Outcome is the result of reconciling a single contact.
type Outcome string

const (
	OutcomeEnriched       Outcome = "enriched"
	OutcomeNotFound       Outcome = "not_found"
	OutcomeAmbiguousSkip  Outcome = "ambiguous_skip"
	OutcomeError          Outcome = "error"
	OutcomeUnreconcilable Outcome = "unreconcilable"
)

// ReconcileReport summarizes one reconciliation run.
type ReconcileReport struct {
	Total          int       `json:"total"`
	Enriched       int       `json:"enriched"`
	NotFound       int       `json:"not_found"`
	AmbiguousSkip  int       `json:"ambiguous_skip"`
	Errors         int       `json:"errors"`
	Unreconcilable int       `json:"unreconcilable"`
	Ambiguous      int       `json:"ambiguous"`
	Updated        int       `json:"updated"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	DurationMs     int64     `json:"duration_ms"`
}

// Count increments the counter for the given outcome.
func (r *ReconcileReport) Count(o Outcome) {
	switch o {
	case OutcomeEnriched:
		r.Enriched++
	case OutcomeNotFound:
		r.NotFound++
	case OutcomeAmbiguousSkip:
		r.AmbiguousSkip++
	case OutcomeError:
		r.Errors++
	case OutcomeUnreconcilable:
		r.Unreconcilable++
	}
}

// RunStatus is the lifecycle state of a persisted reconciliation run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// ReconcileRun is the persisted history row of a reconciliation run.
type ReconcileRun struct {
	ID         string           `json:"id"`
	Status     RunStatus        `json:"status"`
	Report     *ReconcileReport `json:"report,omitempty"`
	Error      string           `json:"error,omitempty"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
}
