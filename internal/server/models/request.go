// Package models holds the persisted and exchanged data shapes of the
// credit-lines service.
package models

import "time"

// RequestType tells which party a request record represents from the local
// company's point of view.
type RequestType string

const (
	RequestTypeRequested RequestType = "REQUESTED"
	RequestTypeReceived  RequestType = "RECEIVED"
)

type RequestStatus string

const (
	RequestStatusPending   RequestStatus = "PENDING"
	RequestStatusDisclosed RequestStatus = "DISCLOSED"
	RequestStatusDeclined  RequestStatus = "DECLINED"
)

// Terminal reports whether no further transition is allowed from s.
func (s RequestStatus) Terminal() bool {
	return s == RequestStatusDisclosed || s == RequestStatusDeclined
}

// Request is the domain-independent part of an information request.
// CompanyStaticID is the other party: the requester for RECEIVED records,
// the recipient for REQUESTED ones.
type Request struct {
	StaticID        string        `json:"staticId"`
	CompanyStaticID string        `json:"companyStaticId"`
	Comment         string        `json:"comment"`
	RequestType     RequestType   `json:"requestType"`
	Status          RequestStatus `json:"status"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

// IsPendingReceived reports whether r is an inbound request still waiting
// for an answer.
func (r *Request) IsPendingReceived() bool {
	return r.RequestType == RequestTypeReceived && r.Status == RequestStatusPending
}

// RequestPatch lists what may change on a request that is still pending.
// A nil Comment and an empty Status leave the stored values as they are.
type RequestPatch struct {
	Status    RequestStatus `json:"status,omitempty"`
	Comment   *string       `json:"comment,omitempty"`
	UpdatedAt time.Time     `json:"updatedAt"`
}
