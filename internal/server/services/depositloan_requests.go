package services

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/dmitrijs2005/creditshare/internal/common"
	"github.com/dmitrijs2005/creditshare/internal/logging"
	"github.com/dmitrijs2005/creditshare/internal/server/companies"
	"github.com/dmitrijs2005/creditshare/internal/server/locks"
	"github.com/dmitrijs2005/creditshare/internal/server/messaging"
	"github.com/dmitrijs2005/creditshare/internal/server/metrics"
	"github.com/dmitrijs2005/creditshare/internal/server/models"
	dlrepo "github.com/dmitrijs2005/creditshare/internal/server/repositories/depositloans"
	"github.com/dmitrijs2005/creditshare/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/creditshare/internal/server/tasks"
)

const (
	depositLoanDeclineNotifyType = "CL.DepositLoan.DeclineRequest"
	depositLoanProductID         = "tradeFinance"
	depositLoanReviewAction      = "manageDLRequest"
)

// FeatureForDepositLoan maps a deposit/loan type to its feature type.
func FeatureForDepositLoan(t models.DepositLoanType) messaging.FeatureType {
	if t == models.DepositLoanTypeLoan {
		return messaging.FeatureLoan
	}
	return messaging.FeatureDeposit
}

type CreateDepositLoanRequests struct {
	Key        models.DepositLoanKey
	Comment    string
	CompanyIDs []string
}

type depositLoanRequestPayload struct {
	models.DepositLoanKey
	Comment string `json:"comment,omitempty"`
}

func depositLoanTaskContext(req *models.DepositLoanRequest) tasks.Context {
	duration := ""
	if req.PeriodDuration != nil {
		duration = strconv.Itoa(*req.PeriodDuration)
	}
	return tasks.Context{
		"type":            string(req.Type),
		"currency":        string(req.Currency),
		"period":          string(req.Period),
		"periodDuration":  duration,
		"companyStaticId": req.CompanyStaticID,
	}
}

type depositLoanRequestDomain struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
}

func (d depositLoanRequestDomain) Name() string { return "deposit_loan" }

func (d depositLoanRequestDomain) Store() requestStore[models.DepositLoanRequest, models.DepositLoanKey] {
	return d.repomanager.DepositLoanRequests(d.db)
}

func (d depositLoanRequestDomain) Base(q *models.DepositLoanRequest) *models.Request {
	return &q.Request
}

func (d depositLoanRequestDomain) New(base models.Request, key models.DepositLoanKey) *models.DepositLoanRequest {
	return &models.DepositLoanRequest{Request: base, DepositLoanKey: key}
}

func (d depositLoanRequestDomain) KeyString(key models.DepositLoanKey) string {
	return dlrepo.KeyString(key)
}

func (d depositLoanRequestDomain) TaskType() tasks.TaskType { return tasks.ReviewDepositLoanRequest }

func (d depositLoanRequestDomain) TaskContext(q *models.DepositLoanRequest) tasks.Context {
	return depositLoanTaskContext(q)
}

// Message keeps the key and comment in the payload, declines included.
func (d depositLoanRequestDomain) Message(q *models.DepositLoanRequest, decline bool) (messaging.Envelope, error) {
	return messaging.NewEnvelope(FeatureForDepositLoan(q.Type), "", depositLoanRequestPayload{
		DepositLoanKey: q.DepositLoanKey,
		Comment:        q.Comment,
	})
}

// DepositLoanRequestService drives the lifecycle of deposit and loan
// requests in both directions.
type DepositLoanRequestService struct {
	*requestLifecycle[models.DepositLoanRequest, models.DepositLoanKey]
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	directory   companies.Directory
}

func NewDepositLoanRequestService(
	db *sql.DB,
	repomanager repomanager.RepositoryManager,
	sender Sender,
	binder TaskBinder,
	directory companies.Directory,
	locker locks.Locker,
	logger logging.Logger,
	m *metrics.Metrics,
) *DepositLoanRequestService {
	domain := depositLoanRequestDomain{db: db, repomanager: repomanager}
	return &DepositLoanRequestService{
		requestLifecycle: newRequestLifecycle[models.DepositLoanRequest, models.DepositLoanKey](domain, sender, binder, locker, logging.ForModule(logger, "deposit_loan_requests"), m),
		db:               db,
		repomanager:      repomanager,
		directory:        directory,
	}
}

func (s *DepositLoanRequestService) Create(ctx context.Context, in CreateDepositLoanRequests) ([]string, error) {
	s.logger.Info(ctx, "creating deposit/loan requests", "domain_key", dlrepo.KeyString(in.Key), "recipients", len(in.CompanyIDs))
	return s.send(ctx, in.Key, in.Comment, in.CompanyIDs)
}

func (s *DepositLoanRequestService) RequestReceived(ctx context.Context, in *models.DepositLoanRequest) error {
	key := in.DepositLoanKey
	s.logger.Info(ctx, "deposit/loan request received", "company_static_id", in.CompanyStaticID, "domain_key", dlrepo.KeyString(key))

	requester, err := s.directory.GetCompanyByStaticID(ctx, in.CompanyStaticID)
	if err != nil {
		return err
	}
	if requester == nil {
		return fmt.Errorf("unknown requesting company %s: %w", in.CompanyStaticID, common.ErrorInvalidData)
	}

	req, err := s.receive(ctx, in.CompanyStaticID, key, in.Comment)
	if err != nil || req == nil {
		return err
	}

	alreadyDisclosed, err := s.hasSharedDepositLoan(ctx, in.CompanyStaticID, key)
	if err != nil {
		return err
	}

	s.binder.CreateTask(ctx, tasks.ReviewRequest{
		TaskType:   tasks.ReviewDepositLoanRequest,
		Context:    depositLoanTaskContext(req),
		Permission: tasks.Permission{ProductID: depositLoanProductID, ActionID: depositLoanReviewAction},
		Requester:  requester,
		Subject:    key.String(),
		EmailTitle: "Deposit / loan request",
	}, alreadyDisclosed)

	return nil
}

func (s *DepositLoanRequestService) hasSharedDepositLoan(ctx context.Context, requesterStaticID string, key models.DepositLoanKey) (bool, error) {
	dl, err := s.repomanager.DepositLoans(s.db).FindByKey(ctx, key)
	if err != nil || dl == nil {
		return false, err
	}
	shared, err := s.repomanager.SharedDepositLoans(s.db).FindForCompany(ctx, dl.StaticID, requesterStaticID)
	if err != nil {
		return false, err
	}
	return shared != nil, nil
}

func (s *DepositLoanRequestService) RequestDeclined(ctx context.Context, companyStaticID string, key models.DepositLoanKey) error {
	req, err := s.declineSent(ctx, companyStaticID, key)
	if err != nil || req == nil {
		return err
	}

	company := companyOrID(ctx, s.directory, companyStaticID)

	s.binder.Notify(ctx, tasks.Notification{
		ProductID:          depositLoanProductID,
		Type:               depositLoanDeclineNotifyType,
		Level:              tasks.LevelInfo,
		RequiredPermission: tasks.Permission{ProductID: depositLoanProductID, ActionID: depositLoanReviewAction},
		Context:            depositLoanTaskContext(req),
		Message:            fmt.Sprintf("%s has declined your request for information on %s", company.DisplayName(), key.String()),
	})
	return nil
}
