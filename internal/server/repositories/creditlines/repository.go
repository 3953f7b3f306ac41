package creditlines

import (
	"context"

	"github.com/dmitrijs2005/creditshare/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, line *models.CreditLine) error
	Update(ctx context.Context, line *models.CreditLine) error
	Get(ctx context.Context, staticID string) (*models.CreditLine, error)
	FindByKey(ctx context.Context, key models.CreditLineKey) (*models.CreditLine, error)
	Delete(ctx context.Context, staticID string) error
}

type SharedRepository interface {
	Create(ctx context.Context, shared *models.SharedCreditLine) error
	Update(ctx context.Context, shared *models.SharedCreditLine) error
	FindByCreditLine(ctx context.Context, creditLineStaticID string) ([]*models.SharedCreditLine, error)
	FindForCompany(ctx context.Context, creditLineStaticID, sharedWithStaticID string) (*models.SharedCreditLine, error)
	Delete(ctx context.Context, staticID string) error
}

type RequestRepository interface {
	Create(ctx context.Context, req *models.CreditLineRequest) error
	// UpdatePending applies patch only while the request is pending and
	// returns common.ErrorNotFound once it is not.
	UpdatePending(ctx context.Context, staticID string, patch models.RequestPatch) (*models.CreditLineRequest, error)
	// FindPending returns pending requests of the given type for key. An
	// empty companyStaticID matches any company.
	FindPending(ctx context.Context, requestType models.RequestType, companyStaticID string, key models.CreditLineKey) ([]*models.CreditLineRequest, error)
}
