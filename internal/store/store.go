// Package store persists contacts, their search index and reconciliation
// run history.
package store

import (
	"context"

	"github.com/sells-group/contactbook/internal/model"
)

// DefaultSearchLimit caps search results when the caller passes no limit.
const DefaultSearchLimit = 100

// ContactFilter pages through contacts ordered by id.
type ContactFilter struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// RunFilter specifies criteria for listing reconcile runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
}

// Store defines the persistence interface for the contact directory.
type Store interface {
	// Contacts
	CreateContact(ctx context.Context, c model.Contact) (*model.Contact, error)
	GetContact(ctx context.Context, id int64) (*model.Contact, error)
	FindContact(ctx context.Context, email, remoteID string) (*model.Contact, error)
	ListContacts(ctx context.Context, filter ContactFilter) ([]model.Contact, error)
	UpdateContacts(ctx context.Context, contacts []model.Contact) (int, error)
	ImportContacts(ctx context.Context, contacts []model.Contact) (int64, error)
	SearchContacts(ctx context.Context, text string, limit int) ([]model.Contact, error)

	// Reconcile runs
	CreateRun(ctx context.Context) (*model.ReconcileRun, error)
	CompleteRun(ctx context.Context, runID string, report *model.ReconcileReport, runErr error) error
	ListRuns(ctx context.Context, filter RunFilter) ([]model.ReconcileRun, error)
	// TryLockRun takes the cross-process reconcile lock. ok is false when
	// another run holds it; release frees it.
	TryLockRun(ctx context.Context) (release func(), ok bool, err error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// nullable maps the empty string to SQL NULL.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func searchLimit(limit int) int {
	if limit <= 0 {
		return DefaultSearchLimit
	}
	return limit
}

func runStatus(runErr error) model.RunStatus {
	if runErr != nil {
		return model.RunStatusFailed
	}
	return model.RunStatusComplete
}
