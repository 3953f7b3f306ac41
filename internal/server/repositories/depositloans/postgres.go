// Package depositloans provides PostgreSQL-backed repositories for deposit
// and loan positions, their disclosures and information requests.
package depositloans

import (
	"context"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/creditshare/internal/dbx"
	"github.com/dmitrijs2005/creditshare/internal/server/models"
	"github.com/dmitrijs2005/creditshare/internal/server/repositories/docstore"
)

const (
	DepositLoansCollection = "deposit-loans"
	SharedCollection       = "shared-deposit-loans"
	RequestsCollection     = "deposit-loan-requests"
)

// KeyString renders a deposit/loan key as a stable dedup key fragment.
func KeyString(key models.DepositLoanKey) string {
	duration := ""
	if key.PeriodDuration != nil {
		duration = strconv.Itoa(*key.PeriodDuration)
	}
	return strings.Join([]string{string(key.Type), string(key.Currency), string(key.Period), duration}, "|")
}

type PostgresRepository struct {
	docs *docstore.Collection[models.DepositLoan]
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{docs: docstore.NewCollection[models.DepositLoan](db, DepositLoansCollection)}
}

func (r *PostgresRepository) Create(ctx context.Context, dl *models.DepositLoan) error {
	return r.docs.Insert(ctx, dl.StaticID, KeyString(dl.DepositLoanKey), dl)
}

func (r *PostgresRepository) Update(ctx context.Context, dl *models.DepositLoan) error {
	return r.docs.Update(ctx, dl.StaticID, KeyString(dl.DepositLoanKey), dl)
}

func (r *PostgresRepository) Get(ctx context.Context, staticID string) (*models.DepositLoan, error) {
	return r.docs.Get(ctx, staticID)
}

func (r *PostgresRepository) FindByKey(ctx context.Context, key models.DepositLoanKey) (*models.DepositLoan, error) {
	return r.docs.FindOne(ctx, key)
}

func (r *PostgresRepository) Delete(ctx context.Context, staticID string) error {
	return r.docs.Delete(ctx, staticID)
}

type SharedPostgresRepository struct {
	docs *docstore.Collection[models.SharedDepositLoan]
}

func NewSharedPostgresRepository(db dbx.DBTX) *SharedPostgresRepository {
	return &SharedPostgresRepository{docs: docstore.NewCollection[models.SharedDepositLoan](db, SharedCollection)}
}

func sharedKey(s *models.SharedDepositLoan) string {
	return s.DepositLoanStaticID + "|" + s.SharedWithStaticID
}

func (r *SharedPostgresRepository) Create(ctx context.Context, shared *models.SharedDepositLoan) error {
	return r.docs.Insert(ctx, shared.StaticID, sharedKey(shared), shared)
}

func (r *SharedPostgresRepository) Update(ctx context.Context, shared *models.SharedDepositLoan) error {
	return r.docs.Update(ctx, shared.StaticID, sharedKey(shared), shared)
}

func (r *SharedPostgresRepository) FindByDepositLoan(ctx context.Context, depositLoanStaticID string) ([]*models.SharedDepositLoan, error) {
	return r.docs.Find(ctx, map[string]string{"depositLoanStaticId": depositLoanStaticID})
}

func (r *SharedPostgresRepository) FindForCompany(ctx context.Context, depositLoanStaticID, sharedWithStaticID string) (*models.SharedDepositLoan, error) {
	return r.docs.FindOne(ctx, map[string]string{"depositLoanStaticId": depositLoanStaticID, "sharedWithStaticId": sharedWithStaticID})
}

func (r *SharedPostgresRepository) Delete(ctx context.Context, staticID string) error {
	return r.docs.Delete(ctx, staticID)
}

// RequestPostgresRepository stores deposit/loan requests. A pending received
// request holds the dedup slot of its (requester, key) pair.
type RequestPostgresRepository struct {
	docs *docstore.Collection[models.DepositLoanRequest]
}

func NewRequestPostgresRepository(db dbx.DBTX) *RequestPostgresRepository {
	return &RequestPostgresRepository{docs: docstore.NewCollection[models.DepositLoanRequest](db, RequestsCollection)}
}

type requestFilter struct {
	CompanyStaticID string               `json:"companyStaticId,omitempty"`
	RequestType     models.RequestType   `json:"requestType"`
	Status          models.RequestStatus `json:"status"`
	models.DepositLoanKey
}

func RequestDedupKey(req *models.DepositLoanRequest) string {
	if !req.IsPendingReceived() {
		return ""
	}
	return req.CompanyStaticID + "|" + KeyString(req.DepositLoanKey)
}

func (r *RequestPostgresRepository) Create(ctx context.Context, req *models.DepositLoanRequest) error {
	return r.docs.Insert(ctx, req.StaticID, RequestDedupKey(req), req)
}

// UpdatePending is guarded on the stored status, so a request completed by
// another caller is never moved again. Leaving PENDING releases the slot.
func (r *RequestPostgresRepository) UpdatePending(ctx context.Context, staticID string, patch models.RequestPatch) (*models.DepositLoanRequest, error) {
	guard := map[string]models.RequestStatus{"status": models.RequestStatusPending}
	release := patch.Status != "" && patch.Status != models.RequestStatusPending
	return r.docs.Patch(ctx, staticID, guard, patch, release)
}

func (r *RequestPostgresRepository) FindPending(ctx context.Context, requestType models.RequestType, companyStaticID string, key models.DepositLoanKey) ([]*models.DepositLoanRequest, error) {
	return r.docs.Find(ctx, requestFilter{
		CompanyStaticID: companyStaticID,
		RequestType:     requestType,
		Status:          models.RequestStatusPending,
		DepositLoanKey:  key,
	})
}
