package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/creditshare/internal/common"
	"github.com/dmitrijs2005/creditshare/internal/logging"
	"github.com/dmitrijs2005/creditshare/internal/server/companies"
	"github.com/dmitrijs2005/creditshare/internal/server/locks"
	"github.com/dmitrijs2005/creditshare/internal/server/messaging"
	"github.com/dmitrijs2005/creditshare/internal/server/metrics"
	"github.com/dmitrijs2005/creditshare/internal/server/models"
	clrepo "github.com/dmitrijs2005/creditshare/internal/server/repositories/creditlines"
	"github.com/dmitrijs2005/creditshare/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/creditshare/internal/server/tasks"
)

const (
	creditLineDeclineNotifyType = "CL.DeclineRequest"
	creditLineReviewAction      = "manageCLRequest"
)

// FeatureForContext maps a product context to its feature type.
func FeatureForContext(c models.ProductContext) messaging.FeatureType {
	if c.SubProductID == models.RiskCoverSubProduct {
		return messaging.FeatureRiskCover
	}
	return messaging.FeatureBankLine
}

// CreateCreditLineRequests asks several companies for the same credit line
// information.
type CreateCreditLineRequests struct {
	Context              models.ProductContext
	CounterpartyStaticID string
	Comment              string
	CompanyIDs           []string
}

// creditLineTaskContext files review tasks and notifications under the
// credit line key and the requesting company.
func creditLineTaskContext(req *models.CreditLineRequest) tasks.Context {
	return tasks.Context{
		"productId":            req.Context.ProductID,
		"subProductId":         req.Context.SubProductID,
		"companyStaticId":      req.CompanyStaticID,
		"counterpartyStaticId": req.CounterpartyStaticID,
	}
}

type creditLineRequestDomain struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
}

func (d creditLineRequestDomain) Name() string { return "credit_line" }

func (d creditLineRequestDomain) Store() requestStore[models.CreditLineRequest, models.CreditLineKey] {
	return d.repomanager.CreditLineRequests(d.db)
}

func (d creditLineRequestDomain) Base(q *models.CreditLineRequest) *models.Request { return &q.Request }

func (d creditLineRequestDomain) New(base models.Request, key models.CreditLineKey) *models.CreditLineRequest {
	return &models.CreditLineRequest{Request: base, CounterpartyStaticID: key.CounterpartyStaticID, Context: key.Context}
}

func (d creditLineRequestDomain) KeyString(key models.CreditLineKey) string {
	return clrepo.KeyString(key)
}

func (d creditLineRequestDomain) TaskType() tasks.TaskType { return tasks.ReviewCreditLineRequest }

func (d creditLineRequestDomain) TaskContext(q *models.CreditLineRequest) tasks.Context {
	return creditLineTaskContext(q)
}

// Message puts the key and comment on the envelope itself. Declines carry
// no comment.
func (d creditLineRequestDomain) Message(q *models.CreditLineRequest, decline bool) (messaging.Envelope, error) {
	comment := q.Comment
	if decline {
		comment = ""
	}
	return messaging.NewCreditLineRequestEnvelope(FeatureForContext(q.Context), q.Key(), comment), nil
}

// CreditLineRequestService drives the lifecycle of credit line requests in
// both directions.
type CreditLineRequestService struct {
	*requestLifecycle[models.CreditLineRequest, models.CreditLineKey]
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	directory   companies.Directory
}

func NewCreditLineRequestService(
	db *sql.DB,
	repomanager repomanager.RepositoryManager,
	sender Sender,
	binder TaskBinder,
	directory companies.Directory,
	locker locks.Locker,
	logger logging.Logger,
	m *metrics.Metrics,
) *CreditLineRequestService {
	domain := creditLineRequestDomain{db: db, repomanager: repomanager}
	return &CreditLineRequestService{
		requestLifecycle: newRequestLifecycle[models.CreditLineRequest, models.CreditLineKey](domain, sender, binder, locker, logging.ForModule(logger, "credit_line_requests"), m),
		db:               db,
		repomanager:      repomanager,
		directory:        directory,
	}
}

// Create stores one outbound request per company and then sends one request
// message to each. Requests stored before a failure are kept.
func (s *CreditLineRequestService) Create(ctx context.Context, in CreateCreditLineRequests) ([]string, error) {
	s.logger.Info(ctx, "creating credit line requests", "counterparty_static_id", in.CounterpartyStaticID, "recipients", len(in.CompanyIDs))
	key := models.CreditLineKey{Context: in.Context, CounterpartyStaticID: in.CounterpartyStaticID}
	return s.send(ctx, key, in.Comment, in.CompanyIDs)
}

// RequestReceived records an inbound request. A repeated request while one
// is pending only refreshes its comment; a new one also opens a review task.
func (s *CreditLineRequestService) RequestReceived(ctx context.Context, in *models.CreditLineRequest) error {
	key := in.Key()
	s.logger.Info(ctx, "credit line request received", "company_static_id", in.CompanyStaticID, "counterparty_static_id", in.CounterpartyStaticID)

	requester, err := s.directory.GetCompanyByStaticID(ctx, in.CompanyStaticID)
	if err != nil {
		return err
	}
	if requester == nil {
		return fmt.Errorf("unknown requesting company %s: %w", in.CompanyStaticID, common.ErrorInvalidData)
	}
	counterparty, err := s.directory.GetCompanyByStaticID(ctx, in.CounterpartyStaticID)
	if err != nil {
		return err
	}
	if counterparty == nil {
		return fmt.Errorf("unknown counterparty %s: %w", in.CounterpartyStaticID, common.ErrorInvalidData)
	}

	req, err := s.receive(ctx, in.CompanyStaticID, key, in.Comment)
	if err != nil || req == nil {
		return err
	}

	alreadyDisclosed, err := s.hasSharedCreditLine(ctx, in.CompanyStaticID, key)
	if err != nil {
		return err
	}

	s.binder.CreateTask(ctx, tasks.ReviewRequest{
		TaskType:   tasks.ReviewCreditLineRequest,
		Context:    creditLineTaskContext(req),
		Permission: tasks.Permission{ProductID: in.Context.ProductID, ActionID: creditLineReviewAction},
		Requester:  requester,
		Subject:    counterparty.DisplayName(),
		EmailTitle: "Credit line request",
	}, alreadyDisclosed)

	return nil
}

// hasSharedCreditLine reports whether requester already has a shared record
// of our credit line for key.
func (s *CreditLineRequestService) hasSharedCreditLine(ctx context.Context, requesterStaticID string, key models.CreditLineKey) (bool, error) {
	line, err := s.repomanager.CreditLines(s.db).FindByKey(ctx, key)
	if err != nil || line == nil {
		return false, err
	}
	shared, err := s.repomanager.SharedCreditLines(s.db).FindForCompany(ctx, line.StaticID, requesterStaticID)
	if err != nil {
		return false, err
	}
	return shared != nil, nil
}

// RequestDeclined closes the request we sent to companyStaticID for key
// after that company declined it, and notifies our users.
func (s *CreditLineRequestService) RequestDeclined(ctx context.Context, companyStaticID string, key models.CreditLineKey) error {
	req, err := s.declineSent(ctx, companyStaticID, key)
	if err != nil || req == nil {
		return err
	}

	company := companyOrID(ctx, s.directory, companyStaticID)
	counterparty := companyOrID(ctx, s.directory, key.CounterpartyStaticID)

	s.binder.Notify(ctx, tasks.Notification{
		ProductID:          key.Context.ProductID,
		Type:               creditLineDeclineNotifyType,
		Level:              tasks.LevelInfo,
		RequiredPermission: tasks.Permission{ProductID: key.Context.ProductID, ActionID: creditLineReviewAction},
		Context:            creditLineTaskContext(req),
		Message:            fmt.Sprintf("%s has declined your request for information on %s", company.DisplayName(), counterparty.DisplayName()),
	})
	return nil
}
