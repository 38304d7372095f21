package tasks

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/api/workflowservice/v1"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/sells-group/contactbook/internal/model"
)

const (
	searchIDPrefix    = "search-"
	reconcileIDPrefix = "reconcile-"
	// ScheduleWorkflowID is the id of the cron reconciliation workflow.
	ScheduleWorkflowID = "reconcile-schedule"
)

// Temporal dispatches tasks as Temporal workflows. The workflow id is the
// task id.
type Temporal struct {
	client    client.Client
	taskQueue string
}

var _ Dispatcher = (*Temporal)(nil)

// NewTemporal creates a Temporal-backed dispatcher.
func NewTemporal(c client.Client, taskQueue string) *Temporal {
	return &Temporal{client: c, taskQueue: taskQueue}
}

// NewWorker creates a worker on taskQueue with both workflows and acts
// registered.
func NewWorker(c client.Client, taskQueue string, acts *Activities) worker.Worker {
	w := worker.New(c, taskQueue, worker.Options{})
	w.RegisterWorkflow(SearchWorkflow)
	w.RegisterWorkflow(ReconcileWorkflow)
	w.RegisterActivity(acts)
	return w
}

// SubmitSearch starts a SearchWorkflow for text.
func (t *Temporal) SubmitSearch(ctx context.Context, text string) (string, error) {
	id := searchIDPrefix + uuid.NewString()
	opts := client.StartWorkflowOptions{ID: id, TaskQueue: t.taskQueue}
	if _, err := t.client.ExecuteWorkflow(ctx, opts, SearchWorkflow, text); err != nil {
		return "", eris.Wrap(err, "tasks: start search workflow")
	}
	return id, nil
}

// SubmitReconcile starts a ReconcileWorkflow.
func (t *Temporal) SubmitReconcile(ctx context.Context) (string, error) {
	id := reconcileIDPrefix + uuid.NewString()
	opts := client.StartWorkflowOptions{ID: id, TaskQueue: t.taskQueue}
	if _, err := t.client.ExecuteWorkflow(ctx, opts, ReconcileWorkflow); err != nil {
		return "", eris.Wrap(err, "tasks: start reconcile workflow")
	}
	return id, nil
}

// Poll maps the workflow execution onto a TaskStatus.
func (t *Temporal) Poll(ctx context.Context, taskID string) (*model.TaskStatus, error) {
	resp, err := t.client.DescribeWorkflowExecution(ctx, taskID, "")
	if err != nil {
		var nf *serviceerror.NotFound
		if errors.As(err, &nf) {
			return nil, ErrTaskNotFound
		}
		return nil, eris.Wrapf(err, "tasks: describe %s", taskID)
	}

	info := resp.GetWorkflowExecutionInfo()
	status := &model.TaskStatus{ID: taskID, Kind: kindOf(taskID)}
	if ts := info.GetStartTime(); ts != nil {
		status.SubmittedAt = ts.AsTime().UTC()
	}
	if ts := info.GetCloseTime(); ts != nil {
		closed := ts.AsTime().UTC()
		status.FinishedAt = &closed
	}

	switch info.GetStatus() {
	case enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING, enumspb.WORKFLOW_EXECUTION_STATUS_CONTINUED_AS_NEW:
		status.State = model.TaskPending
		if activityStarted(resp) {
			status.State = model.TaskRunning
		}
		return status, nil
	case enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED:
		run := t.client.GetWorkflow(ctx, taskID, info.GetExecution().GetRunId())
		if err := t.readResult(ctx, run, status); err != nil {
			return nil, err
		}
		status.State = model.TaskSucceeded
		return status, nil
	default:
		status.State = model.TaskFailed
		status.Error = strings.ToLower(strings.TrimPrefix(info.GetStatus().String(), "WorkflowExecutionStatus"))
		run := t.client.GetWorkflow(ctx, taskID, info.GetExecution().GetRunId())
		if err := run.Get(ctx, nil); err != nil {
			status.Error = rootCause(err).Error()
		}
		return status, nil
	}
}

func (t *Temporal) readResult(ctx context.Context, run client.WorkflowRun, status *model.TaskStatus) error {
	switch status.Kind {
	case model.TaskKindReconcile:
		var report model.ReconcileReport
		if err := run.Get(ctx, &report); err != nil {
			return eris.Wrapf(err, "tasks: read result of %s", status.ID)
		}
		status.Report = &report
	default:
		var out []model.Contact
		if err := run.Get(ctx, &out); err != nil {
			return eris.Wrapf(err, "tasks: read result of %s", status.ID)
		}
		if out == nil {
			out = []model.Contact{}
		}
		status.Contacts = out
	}
	return nil
}

// ScheduleReconcile starts the cron reconciliation workflow. An already
// running schedule is left in place.
func ScheduleReconcile(ctx context.Context, c client.Client, taskQueue, cron string) error {
	opts := client.StartWorkflowOptions{
		ID:                                       ScheduleWorkflowID,
		TaskQueue:                                taskQueue,
		CronSchedule:                             cron,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}
	_, err := c.ExecuteWorkflow(ctx, opts, ReconcileWorkflow)
	if err != nil {
		var started *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &started) {
			zap.L().Info("reconcile schedule already running", zap.String("cron", cron))
			return nil
		}
		return eris.Wrap(err, "tasks: schedule reconcile")
	}
	zap.L().Info("reconcile schedule started", zap.String("cron", cron))
	return nil
}

func kindOf(taskID string) model.TaskKind {
	if strings.HasPrefix(taskID, reconcileIDPrefix) {
		return model.TaskKindReconcile
	}
	return model.TaskKindSearch
}

func activityStarted(resp *workflowservice.DescribeWorkflowExecutionResponse) bool {
	for _, a := range resp.GetPendingActivities() {
		if a.GetState() == enumspb.PENDING_ACTIVITY_STATE_STARTED {
			return true
		}
	}
	return false
}

// rootCause unwraps the workflow and activity error chain down to the
// application error raised by the task body.
func rootCause(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}
