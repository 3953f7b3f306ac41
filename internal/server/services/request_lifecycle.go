package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/creditshare/internal/common"
	"github.com/dmitrijs2005/creditshare/internal/logging"
	"github.com/dmitrijs2005/creditshare/internal/server/locks"
	"github.com/dmitrijs2005/creditshare/internal/server/messaging"
	"github.com/dmitrijs2005/creditshare/internal/server/metrics"
	"github.com/dmitrijs2005/creditshare/internal/server/models"
	"github.com/dmitrijs2005/creditshare/internal/server/tasks"
)

// receiveAttempts bounds how often an inbound request is retried when the
// pending request it collides with changes under it.
const receiveAttempts = 3

// requestStore is the part of a request repository the lifecycle uses. Q is
// the stored request and K the key it is filed under.
type requestStore[Q, K any] interface {
	Create(ctx context.Context, req *Q) error
	UpdatePending(ctx context.Context, staticID string, patch models.RequestPatch) (*Q, error)
	FindPending(ctx context.Context, requestType models.RequestType, companyStaticID string, key K) ([]*Q, error)
}

// requestDomain adapts one kind of information request to requestLifecycle.
type requestDomain[Q, K any] interface {
	// Name labels lock keys and metrics.
	Name() string
	Store() requestStore[Q, K]
	Base(q *Q) *models.Request
	New(base models.Request, key K) *Q
	KeyString(key K) string
	TaskType() tasks.TaskType
	// TaskContext is the business key the review task of q is filed under.
	TaskContext(q *Q) tasks.Context
	// Message builds the request message for q, or its decline.
	Message(q *Q, decline bool) (messaging.Envelope, error)
}

// requestLifecycle holds the request state machine shared by every domain:
// PENDING to DISCLOSED or DECLINED, once.
type requestLifecycle[Q, K any] struct {
	domain  requestDomain[Q, K]
	sender  Sender
	binder  TaskBinder
	locker  locks.Locker
	logger  logging.Logger
	metrics *metrics.Metrics
}

func newRequestLifecycle[Q, K any](
	domain requestDomain[Q, K],
	sender Sender,
	binder TaskBinder,
	locker locks.Locker,
	logger logging.Logger,
	m *metrics.Metrics,
) *requestLifecycle[Q, K] {
	return &requestLifecycle[Q, K]{
		domain:  domain,
		sender:  sender,
		binder:  binder,
		locker:  locker,
		logger:  logger,
		metrics: m,
	}
}

// send stores one outbound request per company and then sends each company
// its request message. Requests stored before a failure are kept.
func (l *requestLifecycle[Q, K]) send(ctx context.Context, key K, comment string, companyIDs []string) ([]string, error) {
	store := l.domain.Store()

	reqs := make([]*Q, len(companyIDs))
	g, gctx := errgroup.WithContext(ctx)
	for i, companyID := range companyIDs {
		g.Go(func() error {
			now := time.Now().UTC()
			req := l.domain.New(models.Request{
				StaticID:        uuid.NewString(),
				CompanyStaticID: companyID,
				Comment:         comment,
				RequestType:     models.RequestTypeRequested,
				Status:          models.RequestStatusPending,
				CreatedAt:       now,
				UpdatedAt:       now,
			}, key)
			if err := store.Create(gctx, req); err != nil {
				return fmt.Errorf("create request for %s: %w", companyID, err)
			}
			reqs[i] = req
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		l.logger.Error(ctx, "failed to create requests", "domain_key", l.domain.KeyString(key), "error", err)
		return nil, err
	}

	ids := make([]string, len(reqs))
	g, gctx = errgroup.WithContext(ctx)
	for i, req := range reqs {
		base := l.domain.Base(req)
		ids[i] = base.StaticID
		g.Go(func() error {
			env, err := l.domain.Message(req, false)
			if err != nil {
				return err
			}
			return l.sender.Send(gctx, messaging.CreditLineRequest, base.CompanyStaticID, env)
		})
	}
	if err := g.Wait(); err != nil {
		l.logger.Error(ctx, "failed to send requests", "domain_key", l.domain.KeyString(key), "error", err)
		return nil, err
	}
	return ids, nil
}

// GetPendingRequest returns the pending request requester sent us for key,
// or nil.
func (l *requestLifecycle[Q, K]) GetPendingRequest(ctx context.Context, requesterStaticID string, key K) (*Q, error) {
	reqs, err := l.domain.Store().FindPending(ctx, models.RequestTypeReceived, requesterStaticID, key)
	if err != nil {
		return nil, err
	}
	if len(reqs) == 0 {
		return nil, nil
	}
	return reqs[0], nil
}

// receive files an inbound request. While one from the same requester is
// pending only its comment is refreshed and nil is returned; otherwise the
// new request is returned and the caller opens its review task.
func (l *requestLifecycle[Q, K]) receive(ctx context.Context, requesterStaticID string, key K, comment string) (*Q, error) {
	ks := l.domain.KeyString(key)
	logger := l.logger.With("company_static_id", requesterStaticID, "domain_key", ks)

	release := lock(ctx, l.locker, l.domain.Name()+"|"+requesterStaticID+"|"+ks, logger)
	defer release()

	store := l.domain.Store()
	for range receiveAttempts {
		existing, err := l.GetPendingRequest(ctx, requesterStaticID, key)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			id := l.domain.Base(existing).StaticID
			_, err := store.UpdatePending(ctx, id, models.RequestPatch{Comment: &comment, UpdatedAt: time.Now().UTC()})
			if err == nil {
				logger.Info(ctx, "request exists, comment updated", "request_id", id)
				return nil, nil
			}
			if !errors.Is(err, common.ErrorNotFound) {
				return nil, err
			}
			logger.Info(ctx, "pending request completed meanwhile, filing a new one", "request_id", id)
			continue
		}

		now := time.Now().UTC()
		req := l.domain.New(models.Request{
			StaticID:        uuid.NewString(),
			CompanyStaticID: requesterStaticID,
			Comment:         comment,
			RequestType:     models.RequestTypeReceived,
			Status:          models.RequestStatusPending,
			CreatedAt:       now,
			UpdatedAt:       now,
		}, key)
		err = store.Create(ctx, req)
		if err == nil {
			return req, nil
		}
		if !errors.Is(err, common.ErrorAlreadyExists) {
			logger.Error(ctx, "failed to store request", "error", err)
			return nil, err
		}
		// Another instance stored the same request first.
		l.metrics.DedupConflict(l.domain.Name())
		logger.Info(ctx, "lost pending request race")
	}
	return nil, fmt.Errorf("pending request for %s kept changing: %w", ks, common.ErrorInternal)
}

// MarkCompleted moves a pending request to status and resolves its review
// task. The move is conditional on the stored status, so a request that
// already reached a terminal status is left untouched and false is returned.
func (l *requestLifecycle[Q, K]) MarkCompleted(ctx context.Context, req *Q, status models.RequestStatus) (bool, error) {
	id := l.domain.Base(req).StaticID

	current, err := l.domain.Store().UpdatePending(ctx, id, models.RequestPatch{Status: status, UpdatedAt: time.Now().UTC()})
	if errors.Is(err, common.ErrorNotFound) {
		l.logger.Warn(ctx, "request already completed", "request_id", id)
		return false, nil
	}
	if err != nil {
		l.logger.Error(ctx, "failed to complete request", "request_id", id, "error", err)
		return false, err
	}
	l.logger.Info(ctx, "request completed", "request_id", id, "status", status)
	*req = *current

	l.binder.ResolveTask(ctx, l.domain.TaskType(), l.domain.TaskContext(req), status == models.RequestStatusDisclosed)
	return true, nil
}

// declineSent closes the request we sent to companyStaticID for key as
// declined. It returns nil when there was none pending.
func (l *requestLifecycle[Q, K]) declineSent(ctx context.Context, companyStaticID string, key K) (*Q, error) {
	store := l.domain.Store()

	reqs, err := store.FindPending(ctx, models.RequestTypeRequested, companyStaticID, key)
	if err != nil {
		return nil, err
	}
	if len(reqs) == 0 {
		l.logger.Warn(ctx, "no pending requests to decline", "company_static_id", companyStaticID, "domain_key", l.domain.KeyString(key))
		return nil, nil
	}

	req, err := store.UpdatePending(ctx, l.domain.Base(reqs[0]).StaticID, models.RequestPatch{Status: models.RequestStatusDeclined, UpdatedAt: time.Now().UTC()})
	if errors.Is(err, common.ErrorNotFound) {
		return nil, nil
	}
	return req, err
}

// ClosePendingSentRequests closes every request we sent to companyStaticID
// for key once that company answered: disclosed or declined.
func (l *requestLifecycle[Q, K]) ClosePendingSentRequests(ctx context.Context, companyStaticID string, key K, disclosed bool) error {
	store := l.domain.Store()

	reqs, err := store.FindPending(ctx, models.RequestTypeRequested, companyStaticID, key)
	if err != nil {
		return err
	}
	if len(reqs) == 0 {
		l.logger.Debug(ctx, "no open sent requests", "company_static_id", companyStaticID)
		return nil
	}

	status := models.RequestStatusDeclined
	if disclosed {
		status = models.RequestStatusDisclosed
	}
	for _, req := range reqs {
		_, err := store.UpdatePending(ctx, l.domain.Base(req).StaticID, models.RequestPatch{Status: status, UpdatedAt: time.Now().UTC()})
		if err != nil && !errors.Is(err, common.ErrorNotFound) {
			return err
		}
	}
	return nil
}

// CloseAllPendingRequests declines every pending request received for key
// and tells each requester.
func (l *requestLifecycle[Q, K]) CloseAllPendingRequests(ctx context.Context, key K) ([]string, error) {
	reqs, err := l.domain.Store().FindPending(ctx, models.RequestTypeReceived, "", key)
	if err != nil {
		return nil, err
	}
	return l.declineAll(ctx, reqs)
}

// CloseAllPendingRequestsByIDs is CloseAllPendingRequests gated on ids:
// every id must name a pending request received for key, otherwise nothing
// is declined. On success all pending requests for key are declined, listed
// or not.
func (l *requestLifecycle[Q, K]) CloseAllPendingRequestsByIDs(ctx context.Context, key K, ids []string) ([]string, error) {
	reqs, err := l.domain.Store().FindPending(ctx, models.RequestTypeReceived, "", key)
	if err != nil {
		return nil, err
	}
	if invalid := missingIDs(ids, reqs, func(q *Q) string { return l.domain.Base(q).StaticID }); len(invalid) > 0 {
		return nil, common.NewValidationError("some requests cannot be declined", map[string][]string{"requestIds": invalid})
	}
	return l.declineAll(ctx, reqs)
}

func (l *requestLifecycle[Q, K]) declineAll(ctx context.Context, reqs []*Q) ([]string, error) {
	if len(reqs) == 0 {
		l.logger.Debug(ctx, "no pending requests to close")
		return nil, nil
	}

	declined := make([]string, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	for i, req := range reqs {
		g.Go(func() error {
			ok, err := l.MarkCompleted(gctx, req, models.RequestStatusDeclined)
			if err != nil || !ok {
				return err
			}
			base := l.domain.Base(req)
			declined[i] = base.StaticID

			env, err := l.domain.Message(req, true)
			if err != nil {
				return err
			}
			return l.sender.Send(gctx, messaging.CreditLineRequestDeclined, base.CompanyStaticID, env)
		})
	}
	if err := g.Wait(); err != nil {
		l.logger.Error(ctx, "failed to decline pending requests", "error", err)
		return nil, err
	}
	return compact(declined), nil
}
