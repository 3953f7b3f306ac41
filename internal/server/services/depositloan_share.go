package services

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/creditshare/internal/common"
	"github.com/dmitrijs2005/creditshare/internal/server/messaging"
	"github.com/dmitrijs2005/creditshare/internal/server/models"
	"github.com/dmitrijs2005/creditshare/internal/server/share"
)

type DepositLoanProjection struct {
	Appetite bool     `json:"appetite"`
	Pricing  *float64 `json:"pricing,omitempty"`
}

type depositLoanSharePayload struct {
	models.DepositLoanKey
	Data *DepositLoanProjection `json:"data,omitempty"`
}

type depositLoanRequests interface {
	GetPendingRequest(ctx context.Context, requesterStaticID string, key models.DepositLoanKey) (*models.DepositLoanRequest, error)
	MarkCompleted(ctx context.Context, req *models.DepositLoanRequest, status models.RequestStatus) (bool, error)
}

// DepositLoanShareDomain plugs deposits and loans into the share engine.
type DepositLoanShareDomain struct {
	requests depositLoanRequests
}

var _ share.Domain[models.SharedDepositLoan, models.DepositLoan, DepositLoanProjection, models.DepositLoanRequest] = (*DepositLoanShareDomain)(nil)

type DepositLoanEngine = share.Engine[models.SharedDepositLoan, models.DepositLoan, DepositLoanProjection, models.DepositLoanRequest]

func NewDepositLoanShareDomain(requests depositLoanRequests) *DepositLoanShareDomain {
	return &DepositLoanShareDomain{requests: requests}
}

func (d *DepositLoanShareDomain) Name() string { return "deposit_loan" }

func (d *DepositLoanShareDomain) IsShared(s *models.SharedDepositLoan) bool {
	return s != nil && s.Appetite.Shared
}

func (d *DepositLoanShareDomain) Recipient(s *models.SharedDepositLoan) string {
	return s.SharedWithStaticID
}

// Project discloses the appetite and, with appetite, the price set on the
// shared record.
func (d *DepositLoanShareDomain) Project(s *models.SharedDepositLoan, r *models.DepositLoan) *DepositLoanProjection {
	if s == nil || r == nil || !d.IsShared(s) {
		return nil
	}
	p := &DepositLoanProjection{Appetite: r.Appetite}
	if r.Appetite && s.Pricing.Shared {
		p.Pricing = copyFloat(s.Pricing.Pricing)
	}
	return p
}

func (d *DepositLoanShareDomain) FindPendingRequest(ctx context.Context, s *models.SharedDepositLoan, r *models.DepositLoan) (*models.DepositLoanRequest, error) {
	if s == nil || r == nil {
		return nil, nil
	}
	return d.requests.GetPendingRequest(ctx, s.SharedWithStaticID, r.DepositLoanKey)
}

func (d *DepositLoanShareDomain) CloseRequest(ctx context.Context, req *models.DepositLoanRequest) error {
	_, err := d.requests.MarkCompleted(ctx, req, models.RequestStatusDisclosed)
	return err
}

func (d *DepositLoanShareDomain) BuildPayload(s *models.SharedDepositLoan, r *models.DepositLoan, revoke bool) (messaging.Envelope, error) {
	if s == nil || r == nil {
		return messaging.Envelope{}, fmt.Errorf("deposit/loan payload needs both records: %w", common.ErrorInvalidData)
	}
	payload := depositLoanSharePayload{DepositLoanKey: r.DepositLoanKey}
	if !revoke {
		payload.Data = d.Project(s, r)
	}
	return messaging.NewEnvelope(FeatureForDepositLoan(r.Type), s.StaticID, payload)
}
