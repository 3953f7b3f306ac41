// Package services implements the credit line and deposit/loan workflows:
// record maintenance, information requests and the share decisions that
// connect them.
package services

import (
	"context"

	"github.com/dmitrijs2005/creditshare/internal/logging"
	"github.com/dmitrijs2005/creditshare/internal/server/companies"
	"github.com/dmitrijs2005/creditshare/internal/server/locks"
	"github.com/dmitrijs2005/creditshare/internal/server/messaging"
	"github.com/dmitrijs2005/creditshare/internal/server/models"
	"github.com/dmitrijs2005/creditshare/internal/server/tasks"
)

// TaskBinder is the task and notification side of the request workflow.
// Implementations swallow their own failures.
type TaskBinder interface {
	CreateTask(ctx context.Context, r tasks.ReviewRequest, alreadyDisclosed bool) tasks.Task
	ResolveTask(ctx context.Context, taskType tasks.TaskType, taskCtx tasks.Context, outcome bool)
	Notify(ctx context.Context, n tasks.Notification)
}

type Sender interface {
	Send(ctx context.Context, messageType messaging.MessageType, recipientID string, env messaging.Envelope) error
}

// lock takes the per-key lock when a locker is configured. A lock that
// cannot be taken is logged and skipped; the pending request index still
// keeps a single pending request per key.
func lock(ctx context.Context, locker locks.Locker, key string, logger logging.Logger) func() {
	if locker == nil {
		return func() {}
	}
	release, err := locker.Acquire(ctx, key)
	if err != nil {
		logger.Warn(ctx, "request lock not acquired, relying on the pending index", "domain_key", key, "error", err)
		return func() {}
	}
	return release
}

// companyOrID looks staticID up in the directory and falls back to a bare
// company carrying only the id.
func companyOrID(ctx context.Context, directory companies.Directory, staticID string) *models.Company {
	c, err := directory.GetCompanyByStaticID(ctx, staticID)
	if err != nil || c == nil {
		return &models.Company{StaticID: staticID}
	}
	return c
}

// missingIDs returns the ids that have no matching item, in input order.
func missingIDs[T any](ids []string, items []T, id func(T) string) []string {
	found := make(map[string]struct{}, len(items))
	for _, it := range items {
		found[id(it)] = struct{}{}
	}
	var missing []string
	for _, want := range ids {
		if _, ok := found[want]; !ok {
			missing = append(missing, want)
		}
	}
	return missing
}

func compact(ids []string) []string {
	out := ids[:0]
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}
