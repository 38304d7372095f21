package directory

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/contactbook/internal/model"
	"github.com/sells-group/contactbook/pkg/nimble"
)

type nimbleDirectory struct {
	client nimble.Client
}

// NewNimble returns a Directory backed by the Nimble contacts API.
func NewNimble(c nimble.Client) Directory {
	return &nimbleDirectory{client: c}
}

func (d *nimbleDirectory) GetContact(ctx context.Context, remoteID string) (*model.RemoteContact, error) {
	c, err := d.client.GetContact(ctx, remoteID)
	if err != nil {
		return nil, eris.Wrap(err, "directory: nimble get contact")
	}
	return c, nil
}

func (d *nimbleDirectory) FindByEmail(ctx context.Context, email string) ([]model.RemoteContact, error) {
	page, err := d.client.ListContacts(ctx, nimble.ListOptions{Query: nimble.EmailQuery(email)})
	if err != nil {
		return nil, eris.Wrap(err, "directory: nimble find by email")
	}
	if page == nil {
		return nil, nil
	}
	return page.Resources, nil
}
