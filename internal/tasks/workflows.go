package tasks

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/sells-group/contactbook/internal/model"
)

const (
	searchAttempts   = 3
	searchTimeout    = 2 * time.Minute
	reconcileTimeout = 2 * time.Hour
)

// SearchWorkflow runs the search activity with up to three attempts.
func SearchWorkflow(ctx workflow.Context, text string) ([]model.Contact, error) {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: searchTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2,
			MaximumAttempts:    searchAttempts,
		},
	})

	var a *Activities
	var out []model.Contact
	if err := workflow.ExecuteActivity(ctx, a.Search, text).Get(ctx, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []model.Contact{}
	}
	return out, nil
}

// ReconcileWorkflow runs a single reconciliation pass.
func ReconcileWorkflow(ctx workflow.Context) (*model.ReconcileReport, error) {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: reconcileTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	})

	var a *Activities
	var report model.ReconcileReport
	if err := workflow.ExecuteActivity(ctx, a.Reconcile).Get(ctx, &report); err != nil {
		return nil, err
	}
	return &report, nil
}
