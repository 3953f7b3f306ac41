package services

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/creditshare/internal/common"
	"github.com/dmitrijs2005/creditshare/internal/server/messaging"
	"github.com/dmitrijs2005/creditshare/internal/server/models"
	"github.com/dmitrijs2005/creditshare/internal/server/share"
)

// CreditLineProjection is what a company sees of a credit line shared with
// it. Nil fields are not disclosed.
type CreditLineProjection struct {
	Appetite           bool            `json:"appetite"`
	Currency           models.Currency `json:"currency,omitempty"`
	Availability       *bool           `json:"availability,omitempty"`
	AvailabilityAmount *float64        `json:"availabilityAmount,omitempty"`
	CreditLimit        *float64        `json:"creditLimit,omitempty"`
	Fee                *float64        `json:"fee,omitempty"`
	Margin             *float64        `json:"margin,omitempty"`
	MaximumTenor       *float64        `json:"maximumTenor,omitempty"`
}

type creditLineSharePayload struct {
	Context              models.ProductContext `json:"context"`
	CounterpartyStaticID string                `json:"counterpartyStaticId"`
	Data                 *CreditLineProjection `json:"data,omitempty"`
}

type creditLineRequests interface {
	GetPendingRequest(ctx context.Context, requesterStaticID string, key models.CreditLineKey) (*models.CreditLineRequest, error)
	MarkCompleted(ctx context.Context, req *models.CreditLineRequest, status models.RequestStatus) (bool, error)
}

// CreditLineShareDomain plugs credit lines into the share engine.
type CreditLineShareDomain struct {
	requests creditLineRequests
}

var _ share.Domain[models.SharedCreditLine, models.CreditLine, CreditLineProjection, models.CreditLineRequest] = (*CreditLineShareDomain)(nil)

func NewCreditLineShareDomain(requests creditLineRequests) *CreditLineShareDomain {
	return &CreditLineShareDomain{requests: requests}
}

// CreditLineEngine is the share engine instantiated for credit lines.
type CreditLineEngine = share.Engine[models.SharedCreditLine, models.CreditLine, CreditLineProjection, models.CreditLineRequest]

func (d *CreditLineShareDomain) Name() string { return "credit_line" }

// IsShared treats the appetite flag as the switch for the whole record.
func (d *CreditLineShareDomain) IsShared(s *models.SharedCreditLine) bool {
	return s != nil && s.Data.Appetite.Shared
}

func (d *CreditLineShareDomain) Recipient(s *models.SharedCreditLine) string {
	return s.SharedWithStaticID
}

func (d *CreditLineShareDomain) Project(s *models.SharedCreditLine, r *models.CreditLine) *CreditLineProjection {
	if s == nil || r == nil || !d.IsShared(s) {
		return nil
	}

	p := &CreditLineProjection{Appetite: r.Appetite}
	if !r.Appetite {
		return p
	}

	p.Currency = r.Currency
	if s.Data.Availability.Shared {
		availability := r.Availability
		p.Availability = &availability
		if s.Data.AvailabilityAmount.Shared && r.Availability {
			p.AvailabilityAmount = copyFloat(r.AvailabilityAmount)
		}
	}
	if s.Data.CreditLimit.Shared {
		p.CreditLimit = copyFloat(r.CreditLimit)
	}
	p.Fee = sharedValue(s.Data.Fee)
	p.Margin = sharedValue(s.Data.Margin)
	p.MaximumTenor = sharedValue(s.Data.MaximumTenor)
	return p
}

func (d *CreditLineShareDomain) FindPendingRequest(ctx context.Context, s *models.SharedCreditLine, r *models.CreditLine) (*models.CreditLineRequest, error) {
	if s == nil || r == nil {
		return nil, nil
	}
	return d.requests.GetPendingRequest(ctx, s.SharedWithStaticID, r.Key())
}

func (d *CreditLineShareDomain) CloseRequest(ctx context.Context, req *models.CreditLineRequest) error {
	_, err := d.requests.MarkCompleted(ctx, req, models.RequestStatusDisclosed)
	return err
}

func (d *CreditLineShareDomain) BuildPayload(s *models.SharedCreditLine, r *models.CreditLine, revoke bool) (messaging.Envelope, error) {
	if s == nil || r == nil {
		return messaging.Envelope{}, fmt.Errorf("credit line payload needs both records: %w", common.ErrorInvalidData)
	}
	payload := creditLineSharePayload{
		Context:              r.Context,
		CounterpartyStaticID: r.CounterpartyStaticID,
	}
	if !revoke {
		payload.Data = d.Project(s, r)
	}
	return messaging.NewEnvelope(FeatureForContext(r.Context), s.StaticID, payload)
}

func sharedValue(v models.SharedValue) *float64 {
	if !v.Shared {
		return nil
	}
	return copyFloat(v.Value)
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
