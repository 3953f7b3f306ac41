// Package share decides, for every change of a shareable record, whether the
// company it is shared with must be told about it.
package share

import (
	"context"
	"reflect"

	"github.com/dmitrijs2005/creditshare/internal/logging"
	"github.com/dmitrijs2005/creditshare/internal/server/messaging"
	"github.com/dmitrijs2005/creditshare/internal/server/metrics"
)

type Decision string

const (
	DecisionNone    Decision = "none"
	DecisionRevoke  Decision = "revoke"
	DecisionPublish Decision = "publish"
)

// Domain adapts one kind of shareable record to the engine. S is the shared
// record, R the shareable record, P the projection of what the recipient
// sees and Q the request type of the domain.
type Domain[S, R, P, Q any] interface {
	Name() string
	// IsShared reports whether anything of s is disclosed. Nil is never shared.
	IsShared(s *S) bool
	// Recipient returns the company s is shared with.
	Recipient(s *S) string
	// Project returns what the recipient sees of r through s. Both may be nil.
	Project(s *S, r *R) *P
	// FindPendingRequest returns the pending received request the recipient of
	// s made for r, or nil.
	FindPendingRequest(ctx context.Context, s *S, r *R) (*Q, error)
	// CloseRequest marks q as disclosed.
	CloseRequest(ctx context.Context, q *Q) error
	BuildPayload(s *S, r *R, revoke bool) (messaging.Envelope, error)
}

type Sender interface {
	Send(ctx context.Context, messageType messaging.MessageType, recipientID string, env messaging.Envelope) error
}

type Engine[S, R, P, Q any] struct {
	domain  Domain[S, R, P, Q]
	sender  Sender
	logger  logging.Logger
	metrics *metrics.Metrics
}

func NewEngine[S, R, P, Q any](domain Domain[S, R, P, Q], sender Sender, logger logging.Logger, m *metrics.Metrics) *Engine[S, R, P, Q] {
	return &Engine[S, R, P, Q]{
		domain:  domain,
		sender:  sender,
		logger:  logging.ForModule(logger, "share").With("domain", domain.Name()),
		metrics: m,
	}
}

// Process compares the state before and after a change and sends at most one
// share or revoke message. Any argument may be nil: a nil old value means
// the record did not exist before, a nil new value that it was removed.
// Errors are logged and returned as is; nothing is rolled back.
func (e *Engine[S, R, P, Q]) Process(ctx context.Context, newShared, oldShared *S, newRecord, oldRecord *R) (Decision, error) {
	hadDataShared := e.domain.IsShared(oldShared)
	shouldShare := e.domain.IsShared(newShared)

	var (
		decision Decision
		err      error
	)
	switch {
	case !hadDataShared && !shouldShare:
		e.logger.Debug(ctx, "nothing shared, skipping")
		decision = DecisionNone
	case hadDataShared && !shouldShare:
		decision, err = e.revoke(ctx, oldShared, newShared, firstNonNil(newRecord, oldRecord))
	default:
		decision, err = e.share(ctx, newShared, oldShared, newRecord, oldRecord)
	}
	if err != nil {
		return DecisionNone, err
	}

	e.metrics.Decision(e.domain.Name(), string(decision))
	return decision, nil
}

func (e *Engine[S, R, P, Q]) revoke(ctx context.Context, oldShared, newShared *S, record *R) (Decision, error) {
	// The old record names the recipient; the new one may be nil on delete.
	shared := oldShared
	if newShared != nil {
		shared = newShared
	}
	recipient := e.domain.Recipient(shared)

	req, err := e.domain.FindPendingRequest(ctx, shared, record)
	if err != nil {
		e.logger.Error(ctx, "failed to find pending request", "recipient", recipient, "error", err)
		return DecisionNone, err
	}
	if req != nil {
		if err := e.domain.CloseRequest(ctx, req); err != nil {
			e.logger.Error(ctx, "failed to close request", "recipient", recipient, "error", err)
			return DecisionNone, err
		}
	}

	env, err := e.domain.BuildPayload(shared, record, true)
	if err != nil {
		e.logger.Error(ctx, "failed to build revoke payload", "recipient", recipient, "error", err)
		return DecisionNone, err
	}

	e.logger.Info(ctx, "revoking shared data", "recipient", recipient)
	if err := e.sender.Send(ctx, messaging.RevokeCreditLine, recipient, env); err != nil {
		return DecisionNone, err
	}
	return DecisionRevoke, nil
}

func (e *Engine[S, R, P, Q]) share(ctx context.Context, newShared, oldShared *S, newRecord, oldRecord *R) (Decision, error) {
	recipient := e.domain.Recipient(newShared)
	next := e.domain.Project(newShared, newRecord)
	prev := e.domain.Project(oldShared, oldRecord)

	req, err := e.domain.FindPendingRequest(ctx, newShared, newRecord)
	if err != nil {
		e.logger.Error(ctx, "failed to find pending request", "recipient", recipient, "error", err)
		return DecisionNone, err
	}

	if req == nil && reflect.DeepEqual(next, prev) {
		e.logger.Debug(ctx, "shared data unchanged, skipping", "recipient", recipient)
		return DecisionNone, nil
	}

	env, err := e.domain.BuildPayload(newShared, newRecord, false)
	if err != nil {
		e.logger.Error(ctx, "failed to build share payload", "recipient", recipient, "error", err)
		return DecisionNone, err
	}

	e.logger.Info(ctx, "sharing data", "recipient", recipient, "answers_request", req != nil)
	if err := e.sender.Send(ctx, messaging.ShareCreditLine, recipient, env); err != nil {
		return DecisionNone, err
	}

	if req != nil {
		if err := e.domain.CloseRequest(ctx, req); err != nil {
			e.logger.Error(ctx, "failed to close request", "recipient", recipient, "error", err)
			return DecisionNone, err
		}
	}
	return DecisionPublish, nil
}

func firstNonNil[T any](values ...*T) *T {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}
