package depositloans

import (
	"context"

	"github.com/dmitrijs2005/creditshare/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, dl *models.DepositLoan) error
	Update(ctx context.Context, dl *models.DepositLoan) error
	Get(ctx context.Context, staticID string) (*models.DepositLoan, error)
	FindByKey(ctx context.Context, key models.DepositLoanKey) (*models.DepositLoan, error)
	Delete(ctx context.Context, staticID string) error
}

type SharedRepository interface {
	Create(ctx context.Context, shared *models.SharedDepositLoan) error
	Update(ctx context.Context, shared *models.SharedDepositLoan) error
	FindByDepositLoan(ctx context.Context, depositLoanStaticID string) ([]*models.SharedDepositLoan, error)
	FindForCompany(ctx context.Context, depositLoanStaticID, sharedWithStaticID string) (*models.SharedDepositLoan, error)
	Delete(ctx context.Context, staticID string) error
}

type RequestRepository interface {
	Create(ctx context.Context, req *models.DepositLoanRequest) error
	// UpdatePending applies patch only while the request is pending and
	// returns common.ErrorNotFound once it is not.
	UpdatePending(ctx context.Context, staticID string, patch models.RequestPatch) (*models.DepositLoanRequest, error)
	FindPending(ctx context.Context, requestType models.RequestType, companyStaticID string, key models.DepositLoanKey) ([]*models.DepositLoanRequest, error)
}
