package directory

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/contactbook/internal/model"
	"github.com/sells-group/contactbook/pkg/salesforce"
)

type salesforceDirectory struct {
	client salesforce.Client
}

// NewSalesforce returns a Directory backed by Salesforce Contact records.
// Fields are reported under the same names the Nimble API uses.
func NewSalesforce(c salesforce.Client) Directory {
	return &salesforceDirectory{client: c}
}

func (d *salesforceDirectory) GetContact(ctx context.Context, remoteID string) (*model.RemoteContact, error) {
	c, err := salesforce.FindContactByID(ctx, d.client, remoteID)
	if err != nil {
		return nil, eris.Wrap(err, "directory: salesforce get contact")
	}
	if c == nil {
		return nil, nil
	}
	rc := fromSalesforce(*c)
	return &rc, nil
}

func (d *salesforceDirectory) FindByEmail(ctx context.Context, email string) ([]model.RemoteContact, error) {
	contacts, err := salesforce.FindContactsByEmail(ctx, d.client, email)
	if err != nil {
		return nil, eris.Wrap(err, "directory: salesforce find by email")
	}
	out := make([]model.RemoteContact, len(contacts))
	for i, c := range contacts {
		out[i] = fromSalesforce(c)
	}
	return out, nil
}

func fromSalesforce(c salesforce.Contact) model.RemoteContact {
	f := model.Fields{}
	f.Set(model.FieldFirstName, c.FirstName)
	f.Set(model.FieldLastName, c.LastName)
	f.Set(model.FieldEmail, c.Email)
	f.Set(model.FieldDescription, c.Description)
	return model.RemoteContact{ID: c.ID, Fields: f}
}
