// Package directory adapts remote CRMs to the lookups used by reconciliation.
package directory

import (
	"context"

	"github.com/sells-group/contactbook/internal/model"
)

// Directory is the remote contact source consulted during reconciliation.
type Directory interface {
	// GetContact fetches a contact by its remote id. A missing contact is
	// (nil, nil).
	GetContact(ctx context.Context, remoteID string) (*model.RemoteContact, error)
	// FindByEmail returns every candidate whose email matches, in the
	// remote's order. No match is an empty slice.
	FindByEmail(ctx context.Context, email string) ([]model.RemoteContact, error)
}
