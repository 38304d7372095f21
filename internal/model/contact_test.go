package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContact_IndexText(t *testing.T) {
	t.Parallel()

	c := Contact{FirstName: "John", LastName: "Wick", Email: "john.wick@example.com", Description: "Test Contact"}
	assert.Equal(t, "John Wick john.wick@example.com Test Contact", c.IndexText())

	sparse := Contact{LastName: "Wick", Description: "alpha"}
	assert.Equal(t, "Wick alpha", sparse.IndexText())

	assert.Equal(t, "", Contact{}.IndexText())
}

func TestContact_Reconcilable(t *testing.T) {
	t.Parallel()

	assert.True(t, Contact{RemoteID: "abc"}.Reconcilable())
	assert.True(t, Contact{Email: "a@example.com"}.Reconcilable())
	assert.False(t, Contact{Email: "  "}.Reconcilable())
	assert.False(t, Contact{FirstName: "Jane"}.Reconcilable())
}

func TestReconcileReport_Count(t *testing.T) {
	t.Parallel()

	var r ReconcileReport
	for _, o := range []Outcome{
		OutcomeEnriched, OutcomeEnriched, OutcomeNotFound, OutcomeAmbiguousSkip,
		OutcomeError, OutcomeUnreconcilable, OutcomeUnreconcilable,
	} {
		r.Count(o)
	}

	assert.Equal(t, 2, r.Enriched)
	assert.Equal(t, 1, r.NotFound)
	assert.Equal(t, 1, r.AmbiguousSkip)
	assert.Equal(t, 1, r.Errors)
	assert.Equal(t, 2, r.Unreconcilable)
}

func TestTaskState_Terminal(t *testing.T) {
	t.Parallel()

	assert.False(t, TaskPending.Terminal())
	assert.False(t, TaskRunning.Terminal())
	assert.True(t, TaskSucceeded.Terminal())
	assert.True(t, TaskFailed.Terminal())
}
