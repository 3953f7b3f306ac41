// Package inbound applies messages received from other companies: requests
// for information, declines of our requests, and shares or revocations of
// data disclosed to us.
package inbound

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/creditshare/internal/common"
	"github.com/dmitrijs2005/creditshare/internal/logging"
	"github.com/dmitrijs2005/creditshare/internal/server/messaging"
	"github.com/dmitrijs2005/creditshare/internal/server/metrics"
	"github.com/dmitrijs2005/creditshare/internal/server/models"
	clrepo "github.com/dmitrijs2005/creditshare/internal/server/repositories/creditlines"
	dlrepo "github.com/dmitrijs2005/creditshare/internal/server/repositories/depositloans"
	"github.com/dmitrijs2005/creditshare/internal/server/repositories/repomanager"
)

type CreditLineRequests interface {
	RequestReceived(ctx context.Context, in *models.CreditLineRequest) error
	RequestDeclined(ctx context.Context, companyStaticID string, key models.CreditLineKey) error
	ClosePendingSentRequests(ctx context.Context, companyStaticID string, key models.CreditLineKey, disclosed bool) error
}

type DepositLoanRequests interface {
	RequestReceived(ctx context.Context, in *models.DepositLoanRequest) error
	RequestDeclined(ctx context.Context, companyStaticID string, key models.DepositLoanKey) error
	ClosePendingSentRequests(ctx context.Context, companyStaticID string, key models.DepositLoanKey, disclosed bool) error
}

type creditLinePayload struct {
	Context              models.ProductContext `json:"context"`
	CounterpartyStaticID string                `json:"counterpartyStaticId"`
	Comment              string                `json:"comment"`
	Data                 json.RawMessage       `json:"data"`
}

func (p *creditLinePayload) key() models.CreditLineKey {
	return models.CreditLineKey{Context: p.Context, CounterpartyStaticID: p.CounterpartyStaticID}
}

// fromEnvelope takes the key and comment from the envelope itself when set;
// requests and declines carry them there instead of in the payload.
func (p *creditLinePayload) fromEnvelope(env *messaging.Envelope) {
	if env.Context != nil {
		p.Context = *env.Context
	}
	if env.CounterpartyStaticID != "" {
		p.CounterpartyStaticID = env.CounterpartyStaticID
	}
	if env.Comment != "" {
		p.Comment = env.Comment
	}
}

type depositLoanPayload struct {
	models.DepositLoanKey
	Comment string          `json:"comment"`
	Data    json.RawMessage `json:"data"`
}

// Processor is the messaging.Handler of the inbound topic.
type Processor struct {
	companyStaticID string
	db              *sql.DB
	repomanager     repomanager.RepositoryManager
	creditLines     CreditLineRequests
	depositLoans    DepositLoanRequests
	logger          logging.Logger
	metrics         *metrics.Metrics
}

var _ messaging.Handler = (*Processor)(nil)

func NewProcessor(
	companyStaticID string,
	db *sql.DB,
	repomanager repomanager.RepositoryManager,
	creditLines CreditLineRequests,
	depositLoans DepositLoanRequests,
	logger logging.Logger,
	m *metrics.Metrics,
) *Processor {
	return &Processor{
		companyStaticID: companyStaticID,
		db:              db,
		repomanager:     repomanager,
		creditLines:     creditLines,
		depositLoans:    depositLoans,
		logger:          logging.ForModule(logger, "inbound"),
		metrics:         m,
	}
}

// Handle routes env by routing key and feature type. Messages that can never
// be applied are rejected; other failures are returned for redelivery.
func (p *Processor) Handle(ctx context.Context, routingKey messaging.MessageType, env *messaging.Envelope) error {
	err := p.handle(ctx, routingKey, env)
	switch {
	case err == nil:
		p.metrics.Inbound(string(routingKey), "ok")
	case errors.Is(err, messaging.ErrReject):
		p.metrics.Inbound(string(routingKey), "rejected")
	case errors.Is(err, common.ErrorInvalidData):
		p.metrics.Inbound(string(routingKey), "rejected")
		err = messaging.Reject(err)
	default:
		p.metrics.Inbound(string(routingKey), "failed")
	}
	return err
}

func (p *Processor) handle(ctx context.Context, routingKey messaging.MessageType, env *messaging.Envelope) error {
	if !routingKey.Known() {
		return messaging.Reject(fmt.Errorf("unknown routing key %q", routingKey))
	}
	if env.RecipientStaticID != p.companyStaticID {
		return messaging.Reject(fmt.Errorf("addressed to %q", env.RecipientStaticID))
	}
	sender := env.Sender()
	if sender == "" {
		return messaging.Reject(errors.New("sender is not set"))
	}

	p.logger.Info(ctx, "message received", "routing_key", routingKey, "sender", sender, "feature_type", env.FeatureType)

	switch {
	case env.FeatureType.IsCreditLine():
		var payload creditLinePayload
		if len(env.Payload) > 0 {
			if err := decode(env, &payload); err != nil {
				return err
			}
		}
		payload.fromEnvelope(env)
		if payload.CounterpartyStaticID == "" || payload.Context.ProductID == "" {
			return messaging.Reject(errors.New("credit line key is incomplete"))
		}
		return p.handleCreditLine(ctx, routingKey, env, sender, &payload)
	case env.FeatureType.IsDepositLoan():
		var payload depositLoanPayload
		if err := decode(env, &payload); err != nil {
			return err
		}
		if payload.Currency == "" || payload.Period == "" {
			return messaging.Reject(errors.New("deposit/loan key is incomplete"))
		}
		if env.Comment != "" {
			payload.Comment = env.Comment
		}
		if payload.Type == "" {
			payload.Type = depositLoanType(env.FeatureType)
		}
		return p.handleDepositLoan(ctx, routingKey, env, sender, &payload)
	}
	return messaging.Reject(fmt.Errorf("unknown feature type %q", env.FeatureType))
}

func (p *Processor) handleCreditLine(ctx context.Context, routingKey messaging.MessageType, env *messaging.Envelope, sender string, payload *creditLinePayload) error {
	key := payload.key()
	switch routingKey {
	case messaging.CreditLineRequest:
		return p.creditLines.RequestReceived(ctx, &models.CreditLineRequest{
			Request:              models.Request{CompanyStaticID: sender, Comment: payload.Comment},
			CounterpartyStaticID: key.CounterpartyStaticID,
			Context:              key.Context,
		})
	case messaging.CreditLineRequestDeclined:
		return p.creditLines.RequestDeclined(ctx, sender, key)
	case messaging.ShareCreditLine:
		if err := p.upsertDisclosure(ctx, env, sender, clrepo.KeyString(key), payload.Data); err != nil {
			return err
		}
		return p.creditLines.ClosePendingSentRequests(ctx, sender, key, true)
	default:
		return p.removeDisclosure(ctx, env, sender, clrepo.KeyString(key))
	}
}

func (p *Processor) handleDepositLoan(ctx context.Context, routingKey messaging.MessageType, env *messaging.Envelope, sender string, payload *depositLoanPayload) error {
	key := payload.DepositLoanKey
	switch routingKey {
	case messaging.CreditLineRequest:
		return p.depositLoans.RequestReceived(ctx, &models.DepositLoanRequest{
			Request:        models.Request{CompanyStaticID: sender, Comment: payload.Comment},
			DepositLoanKey: key,
		})
	case messaging.CreditLineRequestDeclined:
		return p.depositLoans.RequestDeclined(ctx, sender, key)
	case messaging.ShareCreditLine:
		if err := p.upsertDisclosure(ctx, env, sender, dlrepo.KeyString(key), payload.Data); err != nil {
			return err
		}
		return p.depositLoans.ClosePendingSentRequests(ctx, sender, key, true)
	default:
		return p.removeDisclosure(ctx, env, sender, dlrepo.KeyString(key))
	}
}

func (p *Processor) upsertDisclosure(ctx context.Context, env *messaging.Envelope, sender, key string, data json.RawMessage) error {
	if len(data) == 0 {
		return messaging.Reject(errors.New("share without data"))
	}
	now := time.Now().UTC()
	d := &models.Disclosure{
		StaticID:      uuid.NewString(),
		OwnerStaticID: sender,
		FeatureType:   string(env.FeatureType),
		Key:           key,
		SourceID:      env.StaticID,
		Payload:       data,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := p.repomanager.Disclosures(p.db).Upsert(ctx, d); err != nil {
		return fmt.Errorf("store disclosure: %w", err)
	}
	return nil
}

func (p *Processor) removeDisclosure(ctx context.Context, env *messaging.Envelope, sender, key string) error {
	if err := p.repomanager.Disclosures(p.db).Remove(ctx, sender, string(env.FeatureType), key); err != nil {
		return fmt.Errorf("remove disclosure: %w", err)
	}
	return nil
}

func decode(env *messaging.Envelope, dst any) error {
	if err := env.DecodePayload(dst); err != nil {
		return messaging.Reject(fmt.Errorf("decode payload: %w", err))
	}
	return nil
}

func depositLoanType(f messaging.FeatureType) models.DepositLoanType {
	if f == messaging.FeatureLoan {
		return models.DepositLoanTypeLoan
	}
	return models.DepositLoanTypeDeposit
}
