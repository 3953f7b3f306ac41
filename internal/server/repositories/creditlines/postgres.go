// Package creditlines provides PostgreSQL-backed repositories for credit
// lines, their per-company disclosures and information requests.
package creditlines

import (
	"context"
	"strings"

	"github.com/dmitrijs2005/creditshare/internal/dbx"
	"github.com/dmitrijs2005/creditshare/internal/server/models"
	"github.com/dmitrijs2005/creditshare/internal/server/repositories/docstore"
)

const (
	CreditLinesCollection = "credit-lines"
	SharedCollection      = "shared-credit-lines"
	RequestsCollection    = "credit-line-requests"
)

// KeyString renders a credit line key as a stable dedup key fragment.
func KeyString(key models.CreditLineKey) string {
	return strings.Join([]string{key.CounterpartyStaticID, key.Context.ProductID, key.Context.SubProductID}, "|")
}

// PostgresRepository stores credit lines; one live line per key.
type PostgresRepository struct {
	docs *docstore.Collection[models.CreditLine]
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{docs: docstore.NewCollection[models.CreditLine](db, CreditLinesCollection)}
}

// Create returns common.ErrorAlreadyExists when a line for the key exists.
func (r *PostgresRepository) Create(ctx context.Context, line *models.CreditLine) error {
	return r.docs.Insert(ctx, line.StaticID, KeyString(line.Key()), line)
}

func (r *PostgresRepository) Update(ctx context.Context, line *models.CreditLine) error {
	return r.docs.Update(ctx, line.StaticID, KeyString(line.Key()), line)
}

func (r *PostgresRepository) Get(ctx context.Context, staticID string) (*models.CreditLine, error) {
	return r.docs.Get(ctx, staticID)
}

func (r *PostgresRepository) FindByKey(ctx context.Context, key models.CreditLineKey) (*models.CreditLine, error) {
	return r.docs.FindOne(ctx, key)
}

func (r *PostgresRepository) Delete(ctx context.Context, staticID string) error {
	return r.docs.Delete(ctx, staticID)
}

// SharedPostgresRepository stores shared credit lines; one live record per
// (credit line, company) pair.
type SharedPostgresRepository struct {
	docs *docstore.Collection[models.SharedCreditLine]
}

func NewSharedPostgresRepository(db dbx.DBTX) *SharedPostgresRepository {
	return &SharedPostgresRepository{docs: docstore.NewCollection[models.SharedCreditLine](db, SharedCollection)}
}

func sharedKey(s *models.SharedCreditLine) string {
	return s.CreditLineStaticID + "|" + s.SharedWithStaticID
}

func (r *SharedPostgresRepository) Create(ctx context.Context, shared *models.SharedCreditLine) error {
	return r.docs.Insert(ctx, shared.StaticID, sharedKey(shared), shared)
}

func (r *SharedPostgresRepository) Update(ctx context.Context, shared *models.SharedCreditLine) error {
	return r.docs.Update(ctx, shared.StaticID, sharedKey(shared), shared)
}

func (r *SharedPostgresRepository) FindByCreditLine(ctx context.Context, creditLineStaticID string) ([]*models.SharedCreditLine, error) {
	return r.docs.Find(ctx, map[string]string{"creditLineStaticId": creditLineStaticID})
}

// FindForCompany returns the record shared with one company, or nil.
func (r *SharedPostgresRepository) FindForCompany(ctx context.Context, creditLineStaticID, sharedWithStaticID string) (*models.SharedCreditLine, error) {
	return r.docs.FindOne(ctx, map[string]string{"creditLineStaticId": creditLineStaticID, "sharedWithStaticId": sharedWithStaticID})
}

func (r *SharedPostgresRepository) Delete(ctx context.Context, staticID string) error {
	return r.docs.Delete(ctx, staticID)
}

// RequestPostgresRepository stores credit line requests. A pending received
// request holds the dedup slot of its (requester, key) pair, so a second one
// cannot be inserted while the first is pending.
type RequestPostgresRepository struct {
	docs *docstore.Collection[models.CreditLineRequest]
}

func NewRequestPostgresRepository(db dbx.DBTX) *RequestPostgresRepository {
	return &RequestPostgresRepository{docs: docstore.NewCollection[models.CreditLineRequest](db, RequestsCollection)}
}

type requestFilter struct {
	CompanyStaticID string               `json:"companyStaticId,omitempty"`
	RequestType     models.RequestType   `json:"requestType"`
	Status          models.RequestStatus `json:"status"`
	models.CreditLineKey
}

// RequestDedupKey is the unique slot held by a pending received request.
func RequestDedupKey(req *models.CreditLineRequest) string {
	if !req.IsPendingReceived() {
		return ""
	}
	return req.CompanyStaticID + "|" + KeyString(req.Key())
}

func (r *RequestPostgresRepository) Create(ctx context.Context, req *models.CreditLineRequest) error {
	return r.docs.Insert(ctx, req.StaticID, RequestDedupKey(req), req)
}

// UpdatePending is guarded on the stored status, so a request completed by
// another caller is never moved again. Leaving PENDING releases the slot.
func (r *RequestPostgresRepository) UpdatePending(ctx context.Context, staticID string, patch models.RequestPatch) (*models.CreditLineRequest, error) {
	guard := map[string]models.RequestStatus{"status": models.RequestStatusPending}
	release := patch.Status != "" && patch.Status != models.RequestStatusPending
	return r.docs.Patch(ctx, staticID, guard, patch, release)
}

func (r *RequestPostgresRepository) FindPending(ctx context.Context, requestType models.RequestType, companyStaticID string, key models.CreditLineKey) ([]*models.CreditLineRequest, error) {
	return r.docs.Find(ctx, requestFilter{
		CompanyStaticID: companyStaticID,
		RequestType:     requestType,
		Status:          models.RequestStatusPending,
		CreditLineKey:   key,
	})
}
