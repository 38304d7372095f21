package tasks

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
	"go.temporal.io/sdk/testsuite"

	"github.com/sells-group/contactbook/internal/model"
)

type workflowSuite struct {
	suite.Suite
	testsuite.WorkflowTestSuite
	env  *testsuite.TestWorkflowEnvironment
	acts *Activities
}

func (s *workflowSuite) SetupTest() {
	s.env = s.NewTestWorkflowEnvironment()
	s.acts = &Activities{}
	s.env.RegisterActivity(s.acts)
}

func (s *workflowSuite) AfterTest(_, _ string) {
	s.env.AssertExpectations(s.T())
}

func (s *workflowSuite) TestSearchWorkflow() {
	want := []model.Contact{{ID: 7, FirstName: "Ada"}}
	s.env.OnActivity(s.acts.Search, mock.Anything, "ada").Return(want, nil).Once()

	s.env.ExecuteWorkflow(SearchWorkflow, "ada")

	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())
	var got []model.Contact
	s.NoError(s.env.GetWorkflowResult(&got))
	s.Equal(want, got)
}

func (s *workflowSuite) TestSearchWorkflowRetries() {
	s.env.OnActivity(s.acts.Search, mock.Anything, "ada").Return(nil, errors.New("flaky")).Twice()
	s.env.OnActivity(s.acts.Search, mock.Anything, "ada").Return([]model.Contact{}, nil).Once()

	s.env.ExecuteWorkflow(SearchWorkflow, "ada")

	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())
	var got []model.Contact
	s.NoError(s.env.GetWorkflowResult(&got))
	s.NotNil(got)
	s.Empty(got)
}

func (s *workflowSuite) TestSearchWorkflowGivesUpAfterThreeAttempts() {
	s.env.OnActivity(s.acts.Search, mock.Anything, "ada").Return(nil, errors.New("down")).Times(searchAttempts)

	s.env.ExecuteWorkflow(SearchWorkflow, "ada")

	s.True(s.env.IsWorkflowCompleted())
	s.Error(s.env.GetWorkflowError())
}

func (s *workflowSuite) TestReconcileWorkflow() {
	s.env.OnActivity(s.acts.Reconcile, mock.Anything).
		Return(&model.ReconcileReport{Total: 4, Enriched: 3}, nil).Once()

	s.env.ExecuteWorkflow(ReconcileWorkflow)

	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())
	var got model.ReconcileReport
	s.NoError(s.env.GetWorkflowResult(&got))
	s.Equal(3, got.Enriched)
}

func (s *workflowSuite) TestReconcileWorkflowRunsOnce() {
	s.env.OnActivity(s.acts.Reconcile, mock.Anything).Return(nil, errors.New("commit failed")).Once()

	s.env.ExecuteWorkflow(ReconcileWorkflow)

	s.True(s.env.IsWorkflowCompleted())
	s.Error(s.env.GetWorkflowError())
}

func TestWorkflowSuite(t *testing.T) {
	suite.Run(t, new(workflowSuite))
}

func TestActivities_SearchNeverNil(t *testing.T) {
	acts := &Activities{Searcher: searchFunc(func(context.Context, string) ([]model.Contact, error) {
		return nil, nil
	})}
	got, err := acts.Search(context.Background(), "x")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("expected empty slice, got nil")
	}
}

func TestActivities_ReconcileErrorIsNonRetryable(t *testing.T) {
	acts := &Activities{Reconciler: reconcileFunc(func(context.Context) (*model.ReconcileReport, error) {
		return nil, errors.New("boom")
	})}
	_, err := acts.Reconcile(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if err.Error() == "" {
		t.Fatal("expected message")
	}
}
