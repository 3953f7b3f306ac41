// Package messaging carries the inter-company message envelope over Kafka:
// a retrying publisher for outbound messages and a consumer loop for
// inbound ones.
package messaging

import (
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/creditshare/internal/server/models"
)

// Version is the envelope schema version written on every message.
const Version = 1

type MessageType string

const (
	ShareCreditLine           MessageType = "ShareCreditLine"
	RevokeCreditLine          MessageType = "RevokeCreditLine"
	CreditLineRequest         MessageType = "CreditLineRequest"
	CreditLineRequestDeclined MessageType = "CreditLineRequestDeclined"
)

// Known reports whether t is a routing key this service handles.
func (t MessageType) Known() bool {
	switch t {
	case ShareCreditLine, RevokeCreditLine, CreditLineRequest, CreditLineRequestDeclined:
		return true
	}
	return false
}

type FeatureType string

const (
	FeatureRiskCover FeatureType = "RiskCover"
	FeatureBankLine  FeatureType = "BankLine"
	FeatureDeposit   FeatureType = "Deposit"
	FeatureLoan      FeatureType = "Loan"
)

// IsCreditLine reports whether f belongs to the credit line domain.
func (f FeatureType) IsCreditLine() bool {
	return f == FeatureRiskCover || f == FeatureBankLine
}

// IsDepositLoan reports whether f belongs to the deposit/loan domain.
func (f FeatureType) IsDepositLoan() bool {
	return f == FeatureDeposit || f == FeatureLoan
}

// Envelope is the wire shape of every inter-company message. Share and
// revoke messages set OwnerStaticID, request messages set CompanyStaticID;
// both name the sender. Credit line requests and declines carry their key
// and comment at the top level and no payload; every other message carries
// its body in Payload.
type Envelope struct {
	Version              int                    `json:"version"`
	MessageType          MessageType            `json:"messageType"`
	OwnerStaticID        string                 `json:"ownerStaticId,omitempty"`
	CompanyStaticID      string                 `json:"companyStaticId,omitempty"`
	RecipientStaticID    string                 `json:"recepientStaticId"`
	StaticID             string                 `json:"staticId,omitempty"`
	FeatureType          FeatureType            `json:"featureType"`
	Context              *models.ProductContext `json:"context,omitempty"`
	CounterpartyStaticID string                 `json:"counterpartyStaticId,omitempty"`
	Comment              string                 `json:"comment,omitempty"`
	Payload              json.RawMessage        `json:"payload,omitempty"`
}

// NewCreditLineRequestEnvelope builds the body of a credit line request or
// decline.
func NewCreditLineRequestEnvelope(featureType FeatureType, key models.CreditLineKey, comment string) Envelope {
	ctx := key.Context
	return Envelope{
		FeatureType:          featureType,
		Context:              &ctx,
		CounterpartyStaticID: key.CounterpartyStaticID,
		Comment:              comment,
	}
}

// NewEnvelope marshals payload into an envelope of the given feature type.
// Routing and addressing fields are filled in by the publisher.
func NewEnvelope(featureType FeatureType, staticID string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode payload: %w", err)
	}
	return Envelope{FeatureType: featureType, StaticID: staticID, Payload: raw}, nil
}

// Sender returns the static id of the company that sent the message.
func (e *Envelope) Sender() string {
	if e.OwnerStaticID != "" {
		return e.OwnerStaticID
	}
	return e.CompanyStaticID
}

// DecodePayload unmarshals the payload into dst.
func (e *Envelope) DecodePayload(dst any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("empty payload")
	}
	return json.Unmarshal(e.Payload, dst)
}
