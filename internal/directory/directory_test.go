package directory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/contactbook/internal/model"
	"github.com/sells-group/contactbook/pkg/nimble"
	"github.com/sells-group/contactbook/pkg/salesforce"
)

type mockNimble struct{ mock.Mock }

func (m *mockNimble) ListContacts(ctx context.Context, opts nimble.ListOptions) (*model.ContactPage, error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ContactPage), args.Error(1)
}

func (m *mockNimble) GetContact(ctx context.Context, id string) (*model.RemoteContact, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.RemoteContact), args.Error(1)
}

func TestNimble_FindByEmail(t *testing.T) {
	m := &mockNimble{}
	want := []model.RemoteContact{{ID: "a"}, {ID: "b"}}
	m.On("ListContacts", mock.Anything, nimble.ListOptions{Query: nimble.EmailQuery("x@example.com")}).
		Return(&model.ContactPage{Resources: want}, nil)

	got, err := NewNimble(m).FindByEmail(context.Background(), "x@example.com")
	require.NoError(t, err)
	assert.Equal(t, want, got)
	m.AssertExpectations(t)
}

func TestNimble_FindByEmailError(t *testing.T) {
	m := &mockNimble{}
	m.On("ListContacts", mock.Anything, mock.Anything).Return(nil, errors.New("boom"))

	_, err := NewNimble(m).FindByEmail(context.Background(), "x@example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nimble find by email")
}

func TestNimble_GetContact(t *testing.T) {
	m := &mockNimble{}
	m.On("GetContact", mock.Anything, "r1").Return(&model.RemoteContact{ID: "r1"}, nil)
	m.On("GetContact", mock.Anything, "gone").Return(nil, nil)

	d := NewNimble(m)
	got, err := d.GetContact(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "r1", got.ID)

	got, err = d.GetContact(context.Background(), "gone")
	require.NoError(t, err)
	assert.Nil(t, got)
}

type fakeSF struct {
	contacts []salesforce.Contact
	err      error
	soql     []string
}

func (f *fakeSF) Query(_ context.Context, soql string, out any) error {
	f.soql = append(f.soql, soql)
	if f.err != nil {
		return f.err
	}
	*out.(*[]salesforce.Contact) = f.contacts
	return nil
}

func TestSalesforce_MapsFieldNames(t *testing.T) {
	sf := &fakeSF{contacts: []salesforce.Contact{
		{ID: "003A", FirstName: "Jane", LastName: "Doe", Email: "jane@example.com"},
	}}

	got, err := NewSalesforce(sf).FindByEmail(context.Background(), "jane@example.com")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "003A", got[0].ID)
	assert.Equal(t, model.Fields{
		model.FieldFirstName: {"Jane"},
		model.FieldLastName:  {"Doe"},
		model.FieldEmail:     {"jane@example.com"},
	}, got[0].Fields, "blank description is not reported")
}

func TestSalesforce_GetContactNotFound(t *testing.T) {
	got, err := NewSalesforce(&fakeSF{}).GetContact(context.Background(), "003Z")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSalesforce_GetContactError(t *testing.T) {
	_, err := NewSalesforce(&fakeSF{err: errors.New("expired session")}).GetContact(context.Background(), "003Z")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "salesforce get contact")
}
