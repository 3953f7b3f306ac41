package tasks

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/creditshare/internal/logging"
	"github.com/dmitrijs2005/creditshare/internal/server/metrics"
	"github.com/dmitrijs2005/creditshare/internal/server/models"
)

// ReviewRequest describes an inbound request a reviewer has to act on.
// Subject is the human readable fact that was asked for.
type ReviewRequest struct {
	TaskType   TaskType
	Context    Context
	Permission Permission
	Requester  *models.Company
	Subject    string
	EmailTitle string
}

type Binder struct {
	client   Client
	taskLink string
	logger   logging.Logger
	metrics  *metrics.Metrics
}

func NewBinder(client Client, taskLink string, logger logging.Logger, m *metrics.Metrics) *Binder {
	return &Binder{client: client, taskLink: taskLink, logger: logging.ForModule(logger, "tasks"), metrics: m}
}

// Summary words the task depending on whether the requester already sees
// some of the data.
func Summary(requester, subject string, alreadyDisclosed bool) string {
	if alreadyDisclosed {
		return fmt.Sprintf("%s has requested the information disclosed on %s to be updated", requester, subject)
	}
	return fmt.Sprintf("%s has requested information on %s to be disclosed", requester, subject)
}

// CreateTask builds the review task for r and submits it. The descriptor is
// returned even when submission fails.
func (b *Binder) CreateTask(ctx context.Context, r ReviewRequest, alreadyDisclosed bool) Task {
	task := Task{
		TaskType:             r.TaskType,
		Status:               StatusToDo,
		CounterpartyStaticID: r.Requester.StaticID,
		Context:              r.Context,
		Summary:              Summary(r.Requester.DisplayName(), r.Subject, alreadyDisclosed),
		RequiredPermission:   r.Permission,
		EmailData:            EmailData{Subject: r.EmailTitle, TaskLink: b.taskLink},
	}

	b.logger.Info(ctx, "creating task", "task_type", task.TaskType, "counterparty_static_id", task.CounterpartyStaticID)

	if err := b.client.CreateTask(ctx, task, task.Summary); err != nil {
		b.metrics.TaskFailed("create")
		b.logger.Error(ctx, "failed to create task", "task_type", task.TaskType, "error", err)
	}
	return task
}

// ResolveTask marks the task identified by (taskType, taskCtx) as done.
func (b *Binder) ResolveTask(ctx context.Context, taskType TaskType, taskCtx Context, outcome bool) {
	b.logger.Info(ctx, "resolving task", "task_type", taskType, "outcome", outcome)

	err := b.client.UpdateTaskStatus(ctx, StatusUpdate{
		Status:   StatusDone,
		TaskType: taskType,
		Context:  taskCtx,
		Outcome:  outcome,
	})
	if err != nil {
		b.metrics.TaskFailed("resolve")
		b.logger.Error(ctx, "failed to resolve task", "task_type", taskType, "error", err)
	}
}

// Notify sends a user notification.
func (b *Binder) Notify(ctx context.Context, n Notification) {
	if err := b.client.SendNotification(ctx, n); err != nil {
		b.metrics.TaskFailed("notify")
		b.logger.Error(ctx, "failed to send notification", "type", n.Type, "error", err)
	}
}
