package tasks

import (
	"context"

	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"

	"github.com/sells-group/contactbook/internal/model"
)

// Activities holds the dependencies of the Temporal activities. Register a
// single instance with the worker.
type Activities struct {
	Searcher   Searcher
	Reconciler Reconciler
}

// Search runs a full-text search. Never returns a nil slice.
func (a *Activities) Search(ctx context.Context, text string) ([]model.Contact, error) {
	out, err := a.Searcher.Search(ctx, text)
	if err != nil {
		return nil, eris.Wrap(err, "tasks: search activity")
	}
	if out == nil {
		out = []model.Contact{}
	}
	return out, nil
}

// Reconcile runs one reconciliation pass. A failed pass is not retried.
func (a *Activities) Reconcile(ctx context.Context) (*model.ReconcileReport, error) {
	report, err := a.Reconciler.Run(ctx)
	if err != nil {
		zap.L().Warn("reconcile activity failed", zap.Error(err))
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), "ReconcileFailed", err)
	}
	return report, nil
}
