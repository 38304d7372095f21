// Package tasks dispatches searches and reconciliation runs asynchronously
// and exposes their progress through a submit/poll interface.
package tasks

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/contactbook/internal/model"
)

var (
	// ErrTaskNotFound is returned by Poll for an id the dispatcher never
	// issued or has already forgotten.
	ErrTaskNotFound = eris.New("tasks: task not found")
	// ErrQueueFull is returned when the dispatcher cannot accept more work.
	ErrQueueFull = eris.New("tasks: queue full")
	// ErrStopped is returned by submits after Stop.
	ErrStopped = eris.New("tasks: dispatcher stopped")
)

// PendingMessage is the status text reported for a task that has not started.
const PendingMessage = "Task is pending!"

// Dispatcher accepts work and reports on it by task id.
type Dispatcher interface {
	SubmitSearch(ctx context.Context, text string) (string, error)
	SubmitReconcile(ctx context.Context) (string, error)
	Poll(ctx context.Context, taskID string) (*model.TaskStatus, error)
}

// Searcher runs a full-text search.
type Searcher interface {
	Search(ctx context.Context, text string) ([]model.Contact, error)
}

// Reconciler runs one reconciliation pass.
type Reconciler interface {
	Run(ctx context.Context) (*model.ReconcileReport, error)
}
