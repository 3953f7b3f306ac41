package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/creditshare/internal/common"
	"github.com/dmitrijs2005/creditshare/internal/dbx"
	"github.com/dmitrijs2005/creditshare/internal/logging"
	"github.com/dmitrijs2005/creditshare/internal/server/models"
	dlrepo "github.com/dmitrijs2005/creditshare/internal/server/repositories/depositloans"
	"github.com/dmitrijs2005/creditshare/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/creditshare/internal/server/share"
)

type SaveDepositLoan struct {
	DepositLoan models.DepositLoan
	Shared      []models.SharedDepositLoan
}

type depositLoanSharer interface {
	Process(ctx context.Context, newShared, oldShared *models.SharedDepositLoan, newRecord, oldRecord *models.DepositLoan) (share.Decision, error)
}

type depositLoanRequestCloser interface {
	CloseAllPendingRequests(ctx context.Context, key models.DepositLoanKey) ([]string, error)
}

type DepositLoanService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	engine      depositLoanSharer
	requests    depositLoanRequestCloser
	logger      logging.Logger
}

func NewDepositLoanService(db *sql.DB, repomanager repomanager.RepositoryManager, engine depositLoanSharer, requests depositLoanRequestCloser, logger logging.Logger) *DepositLoanService {
	return &DepositLoanService{
		db:          db,
		repomanager: repomanager,
		engine:      engine,
		requests:    requests,
		logger:      logging.ForModule(logger, "deposit_loans"),
	}
}

type sharedDepositLoanChange struct {
	next *models.SharedDepositLoan
	prev *models.SharedDepositLoan
}

func (s *DepositLoanService) Create(ctx context.Context, in SaveDepositLoan) (string, error) {
	if err := validateDepositLoan(in); err != nil {
		return "", err
	}

	now := time.Now().UTC()
	dl := in.DepositLoan
	dl.StaticID = uuid.NewString()
	dl.CreatedAt = now
	dl.UpdatedAt = now

	logger := s.logger.With("domain_key", dlrepo.KeyString(dl.DepositLoanKey), "deposit_loan_static_id", dl.StaticID)
	logger.Info(ctx, "creating deposit/loan")

	var changes []sharedDepositLoanChange
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.DepositLoans(tx)
		existing, err := repo.FindByKey(ctx, dl.DepositLoanKey)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%s: %w", dl.DepositLoanKey, common.ErrorAlreadyExists)
		}
		if err := repo.Create(ctx, &dl); err != nil {
			return err
		}

		sharedRepo := s.repomanager.SharedDepositLoans(tx)
		for i := range in.Shared {
			shared := newSharedDepositLoan(in.Shared[i], &dl, now)
			if err := sharedRepo.Create(ctx, shared); err != nil {
				return err
			}
			changes = append(changes, sharedDepositLoanChange{next: shared})
		}
		return nil
	})
	if err != nil {
		logger.Error(ctx, "failed to create deposit/loan", "error", err)
		return "", err
	}

	return dl.StaticID, s.afterSave(ctx, changes, &dl, nil)
}

// Update replaces appetite, pricing and shared records. The key is fixed
// at creation.
func (s *DepositLoanService) Update(ctx context.Context, staticID string, in SaveDepositLoan) error {
	if err := validateSharedDepositLoans(in.Shared); err != nil {
		return err
	}

	now := time.Now().UTC()
	logger := s.logger.With("deposit_loan_static_id", staticID)
	logger.Info(ctx, "updating deposit/loan")

	var (
		existing *models.DepositLoan
		dl       models.DepositLoan
		changes  []sharedDepositLoanChange
	)
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.DepositLoans(tx)
		var err error
		existing, err = repo.Get(ctx, staticID)
		if err != nil {
			return err
		}

		dl = in.DepositLoan
		dl.StaticID = staticID
		dl.DepositLoanKey = existing.DepositLoanKey
		dl.CreatedAt = existing.CreatedAt
		dl.UpdatedAt = now
		if err := repo.Update(ctx, &dl); err != nil {
			return err
		}

		sharedRepo := s.repomanager.SharedDepositLoans(tx)
		current, err := sharedRepo.FindByDepositLoan(ctx, staticID)
		if err != nil {
			return err
		}
		kept := make(map[string]bool, len(in.Shared))
		for i := range in.Shared {
			kept[in.Shared[i].StaticID] = true
		}

		byID := make(map[string]*models.SharedDepositLoan, len(current))
		for _, prev := range current {
			byID[prev.StaticID] = prev
			if kept[prev.StaticID] {
				continue
			}
			if err := sharedRepo.Delete(ctx, prev.StaticID); err != nil {
				return err
			}
			changes = append(changes, sharedDepositLoanChange{prev: prev})
		}

		for i := range in.Shared {
			prev, ok := byID[in.Shared[i].StaticID]
			if !ok {
				shared := newSharedDepositLoan(in.Shared[i], &dl, now)
				if err := sharedRepo.Create(ctx, shared); err != nil {
					return err
				}
				changes = append(changes, sharedDepositLoanChange{next: shared})
				continue
			}

			next := in.Shared[i]
			next.DepositLoanStaticID = staticID
			next.SharedWithStaticID = prev.SharedWithStaticID
			next.CreatedAt = prev.CreatedAt
			next.UpdatedAt = now
			if err := sharedRepo.Update(ctx, &next); err != nil {
				return err
			}
			changes = append(changes, sharedDepositLoanChange{next: &next, prev: prev})
		}
		return nil
	})
	if err != nil {
		logger.Error(ctx, "failed to update deposit/loan", "error", err)
		return err
	}

	return s.afterSave(ctx, changes, &dl, existing)
}

func (s *DepositLoanService) Delete(ctx context.Context, staticID string) error {
	logger := s.logger.With("deposit_loan_static_id", staticID)
	logger.Info(ctx, "deleting deposit/loan")

	var (
		existing *models.DepositLoan
		changes  []sharedDepositLoanChange
	)
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.DepositLoans(tx)
		var err error
		existing, err = repo.Get(ctx, staticID)
		if err != nil {
			return err
		}
		if err := repo.Delete(ctx, staticID); err != nil {
			return err
		}

		sharedRepo := s.repomanager.SharedDepositLoans(tx)
		current, err := sharedRepo.FindByDepositLoan(ctx, staticID)
		if err != nil {
			return err
		}
		for _, prev := range current {
			if err := sharedRepo.Delete(ctx, prev.StaticID); err != nil {
				return err
			}
			changes = append(changes, sharedDepositLoanChange{prev: prev})
		}
		return nil
	})
	if err != nil {
		logger.Error(ctx, "failed to delete deposit/loan", "error", err)
		return err
	}

	return s.afterSave(ctx, changes, nil, existing)
}

func (s *DepositLoanService) afterSave(ctx context.Context, changes []sharedDepositLoanChange, dl, prev *models.DepositLoan) error {
	for _, c := range changes {
		oldRecord := prev
		if c.prev == nil {
			oldRecord = nil
		}
		if _, err := s.engine.Process(ctx, c.next, c.prev, dl, oldRecord); err != nil {
			return err
		}
	}

	key := prev
	if dl != nil {
		key = dl
	}
	if key == nil {
		return nil
	}
	_, err := s.requests.CloseAllPendingRequests(ctx, key.DepositLoanKey)
	return err
}

func newSharedDepositLoan(in models.SharedDepositLoan, dl *models.DepositLoan, now time.Time) *models.SharedDepositLoan {
	shared := in
	shared.StaticID = uuid.NewString()
	shared.DepositLoanStaticID = dl.StaticID
	shared.CreatedAt = now
	shared.UpdatedAt = now
	return &shared
}

func validateDepositLoan(in SaveDepositLoan) error {
	fields := map[string][]string{}
	key := in.DepositLoan.DepositLoanKey
	switch key.Type {
	case models.DepositLoanTypeDeposit, models.DepositLoanTypeLoan:
	default:
		fields["type"] = append(fields["type"], "must be DEPOSIT or LOAN")
	}
	if key.Currency == "" {
		fields["currency"] = append(fields["currency"], "is required")
	}
	switch key.Period {
	case models.DepositLoanPeriodOvernight:
		if key.PeriodDuration != nil {
			fields["periodDuration"] = append(fields["periodDuration"], "must be empty for OVERNIGHT")
		}
	case models.DepositLoanPeriodDays, models.DepositLoanPeriodWeeks, models.DepositLoanPeriodMonths, models.DepositLoanPeriodYears:
		if key.PeriodDuration == nil || *key.PeriodDuration <= 0 {
			fields["periodDuration"] = append(fields["periodDuration"], "must be positive")
		}
	default:
		fields["period"] = append(fields["period"], "is not a known period")
	}
	if len(fields) > 0 {
		return common.NewValidationError("invalid deposit/loan", fields)
	}
	return validateSharedDepositLoans(in.Shared)
}

func validateSharedDepositLoans(shared []models.SharedDepositLoan) error {
	var problems []string
	seen := make(map[string]bool, len(shared))
	for i := range shared {
		with := shared[i].SharedWithStaticID
		switch {
		case with == "":
			problems = append(problems, "sharedWithStaticId is required")
		case seen[with]:
			problems = append(problems, with+" is listed more than once")
		}
		seen[with] = true
	}
	if len(problems) > 0 {
		return common.NewValidationError("invalid shared deposit/loans", map[string][]string{"sharedWith": problems})
	}
	return nil
}
