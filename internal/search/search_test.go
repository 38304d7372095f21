package search

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/contactbook/internal/model"
	"github.com/sells-group/contactbook/internal/store"
)

type mockSearcher struct {
	mock.Mock
}

func (m *mockSearcher) SearchContacts(ctx context.Context, text string, limit int) ([]model.Contact, error) {
	args := m.Called(ctx, text, limit)
	cs, _ := args.Get(0).([]model.Contact)
	return cs, args.Error(1)
}

func TestSearch_BlankSkipsIndex(t *testing.T) {
	idx := &mockSearcher{}
	got, err := NewExecutor(idx, 0).Search(context.Background(), "   \t")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
	idx.AssertNotCalled(t, "SearchContacts", mock.Anything, mock.Anything, mock.Anything)
}

func TestSearch_DefaultLimit(t *testing.T) {
	idx := &mockSearcher{}
	want := []model.Contact{{ID: 1, FirstName: "Ada"}}
	idx.On("SearchContacts", mock.Anything, "ada", store.DefaultSearchLimit).Return(want, nil)

	got, err := NewExecutor(idx, 0).Search(context.Background(), "  ada ")
	require.NoError(t, err)
	assert.Equal(t, want, got)
	idx.AssertExpectations(t)
}

func TestSearch_NilResultBecomesEmpty(t *testing.T) {
	idx := &mockSearcher{}
	idx.On("SearchContacts", mock.Anything, "zzz", 5).Return(nil, nil)

	got, err := NewExecutor(idx, 5).Search(context.Background(), "zzz")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestSearch_NormalizesToNFC(t *testing.T) {
	idx := &mockSearcher{}
	idx.On("SearchContacts", mock.Anything, "Jos\u00e9", store.DefaultSearchLimit).Return([]model.Contact{}, nil)

	_, err := NewExecutor(idx, 0).Search(context.Background(), "Jose\u0301")
	require.NoError(t, err)
	idx.AssertExpectations(t)
}

func TestSearch_WrapsError(t *testing.T) {
	idx := &mockSearcher{}
	idx.On("SearchContacts", mock.Anything, "ada", store.DefaultSearchLimit).Return(nil, errors.New("conn reset"))

	_, err := NewExecutor(idx, 0).Search(context.Background(), "ada")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "search: query index")
}
