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
	"github.com/dmitrijs2005/creditshare/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/creditshare/internal/server/share"
)

// SaveCreditLine is a credit line together with the companies it is
// shared with. Shared records without a known StaticID are created.
type SaveCreditLine struct {
	Line   models.CreditLine
	Shared []models.SharedCreditLine
}

type creditLineSharer interface {
	Process(ctx context.Context, newShared, oldShared *models.SharedCreditLine, newRecord, oldRecord *models.CreditLine) (share.Decision, error)
}

type creditLineRequestCloser interface {
	CloseAllPendingRequests(ctx context.Context, key models.CreditLineKey) ([]string, error)
}

type CreditLineService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	engine      creditLineSharer
	requests    creditLineRequestCloser
	logger      logging.Logger
}

func NewCreditLineService(db *sql.DB, repomanager repomanager.RepositoryManager, engine creditLineSharer, requests creditLineRequestCloser, logger logging.Logger) *CreditLineService {
	return &CreditLineService{
		db:          db,
		repomanager: repomanager,
		engine:      engine,
		requests:    requests,
		logger:      logging.ForModule(logger, "credit_lines"),
	}
}

type sharedCreditLineChange struct {
	next *models.SharedCreditLine
	prev *models.SharedCreditLine
}

// Create stores the credit line and its shared records, shares them and
// declines the requests for the line that were not answered by a share.
func (s *CreditLineService) Create(ctx context.Context, in SaveCreditLine) (string, error) {
	if err := validateCreditLine(in); err != nil {
		return "", err
	}

	now := time.Now().UTC()
	line := in.Line
	line.StaticID = uuid.NewString()
	line.CreatedAt = now
	line.UpdatedAt = now

	logger := s.logger.With("counterparty_static_id", line.CounterpartyStaticID, "credit_line_static_id", line.StaticID)
	logger.Info(ctx, "creating credit line")

	var changes []sharedCreditLineChange
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		lines := s.repomanager.CreditLines(tx)
		existing, err := lines.FindByKey(ctx, line.Key())
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("credit line for %s: %w", line.CounterpartyStaticID, common.ErrorAlreadyExists)
		}
		if err := lines.Create(ctx, &line); err != nil {
			return err
		}

		sharedRepo := s.repomanager.SharedCreditLines(tx)
		for i := range in.Shared {
			shared := newSharedCreditLine(in.Shared[i], &line, now)
			if err := sharedRepo.Create(ctx, shared); err != nil {
				return err
			}
			changes = append(changes, sharedCreditLineChange{next: shared})
		}
		return nil
	})
	if err != nil {
		logger.Error(ctx, "failed to create credit line", "error", err)
		return "", err
	}

	return line.StaticID, s.afterSave(ctx, changes, &line, nil)
}

// Update replaces the credit line data and its shared records. The key of a
// credit line never changes. Shared records missing from in are removed.
func (s *CreditLineService) Update(ctx context.Context, staticID string, in SaveCreditLine) error {
	if err := validateSharedCreditLines(in.Shared); err != nil {
		return err
	}

	now := time.Now().UTC()
	logger := s.logger.With("credit_line_static_id", staticID)
	logger.Info(ctx, "updating credit line")

	var (
		existing *models.CreditLine
		line     models.CreditLine
		changes  []sharedCreditLineChange
	)
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		lines := s.repomanager.CreditLines(tx)
		var err error
		existing, err = lines.Get(ctx, staticID)
		if err != nil {
			return err
		}

		line = in.Line
		line.StaticID = staticID
		line.Context = existing.Context
		line.CounterpartyStaticID = existing.CounterpartyStaticID
		line.CreatedAt = existing.CreatedAt
		line.UpdatedAt = now
		if err := lines.Update(ctx, &line); err != nil {
			return err
		}

		sharedRepo := s.repomanager.SharedCreditLines(tx)
		current, err := sharedRepo.FindByCreditLine(ctx, staticID)
		if err != nil {
			return err
		}
		kept := make(map[string]bool, len(in.Shared))
		for i := range in.Shared {
			kept[in.Shared[i].StaticID] = true
		}

		// Removed records go first so that a replacement for the same
		// company does not collide with them.
		byID := make(map[string]*models.SharedCreditLine, len(current))
		for _, prev := range current {
			byID[prev.StaticID] = prev
			if kept[prev.StaticID] {
				continue
			}
			if err := sharedRepo.Delete(ctx, prev.StaticID); err != nil {
				return err
			}
			changes = append(changes, sharedCreditLineChange{prev: prev})
		}

		for i := range in.Shared {
			prev, ok := byID[in.Shared[i].StaticID]
			if !ok {
				shared := newSharedCreditLine(in.Shared[i], &line, now)
				if err := sharedRepo.Create(ctx, shared); err != nil {
					return err
				}
				changes = append(changes, sharedCreditLineChange{next: shared})
				continue
			}

			next := in.Shared[i]
			next.CreditLineStaticID = staticID
			next.CounterpartyStaticID = line.CounterpartyStaticID
			next.SharedWithStaticID = prev.SharedWithStaticID
			next.CreatedAt = prev.CreatedAt
			next.UpdatedAt = now
			if err := sharedRepo.Update(ctx, &next); err != nil {
				return err
			}
			changes = append(changes, sharedCreditLineChange{next: &next, prev: prev})
		}
		return nil
	})
	if err != nil {
		logger.Error(ctx, "failed to update credit line", "error", err)
		return err
	}

	return s.afterSave(ctx, changes, &line, existing)
}

// Delete removes the credit line with its shared records, revokes what was
// shared and declines the open requests for it.
func (s *CreditLineService) Delete(ctx context.Context, staticID string) error {
	logger := s.logger.With("credit_line_static_id", staticID)
	logger.Info(ctx, "deleting credit line")

	var (
		existing *models.CreditLine
		changes  []sharedCreditLineChange
	)
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		lines := s.repomanager.CreditLines(tx)
		var err error
		existing, err = lines.Get(ctx, staticID)
		if err != nil {
			return err
		}
		if err := lines.Delete(ctx, staticID); err != nil {
			return err
		}

		sharedRepo := s.repomanager.SharedCreditLines(tx)
		current, err := sharedRepo.FindByCreditLine(ctx, staticID)
		if err != nil {
			return err
		}
		for _, prev := range current {
			if err := sharedRepo.Delete(ctx, prev.StaticID); err != nil {
				return err
			}
			changes = append(changes, sharedCreditLineChange{prev: prev})
		}
		return nil
	})
	if err != nil {
		logger.Error(ctx, "failed to delete credit line", "error", err)
		return err
	}

	return s.afterSave(ctx, changes, nil, existing)
}

// afterSave runs the share decisions of a committed change and then declines
// the requests that are still pending.
func (s *CreditLineService) afterSave(ctx context.Context, changes []sharedCreditLineChange, line, prev *models.CreditLine) error {
	for _, c := range changes {
		// A newly created shared record has no earlier view of the line.
		oldRecord := prev
		if c.prev == nil {
			oldRecord = nil
		}
		if _, err := s.engine.Process(ctx, c.next, c.prev, line, oldRecord); err != nil {
			return err
		}
	}

	current := prev
	if line != nil {
		current = line
	}
	if current == nil {
		return nil
	}
	_, err := s.requests.CloseAllPendingRequests(ctx, current.Key())
	return err
}

func newSharedCreditLine(in models.SharedCreditLine, line *models.CreditLine, now time.Time) *models.SharedCreditLine {
	shared := in
	shared.StaticID = uuid.NewString()
	shared.CreditLineStaticID = line.StaticID
	shared.CounterpartyStaticID = line.CounterpartyStaticID
	shared.CreatedAt = now
	shared.UpdatedAt = now
	return &shared
}

func validateCreditLine(in SaveCreditLine) error {
	fields := map[string][]string{}
	if in.Line.CounterpartyStaticID == "" {
		fields["counterpartyStaticId"] = append(fields["counterpartyStaticId"], "is required")
	}
	if in.Line.Context.ProductID == "" {
		fields["context.productId"] = append(fields["context.productId"], "is required")
	}
	if len(fields) > 0 {
		return common.NewValidationError("invalid credit line", fields)
	}
	return validateSharedCreditLines(in.Shared)
}

func validateSharedCreditLines(shared []models.SharedCreditLine) error {
	fields := map[string][]string{}
	seen := make(map[string]bool, len(shared))
	for i := range shared {
		with := shared[i].SharedWithStaticID
		switch {
		case with == "":
			fields["sharedCreditLines"] = append(fields["sharedCreditLines"], "sharedWithStaticId is required")
		case seen[with]:
			fields["sharedCreditLines"] = append(fields["sharedCreditLines"], with+" is listed more than once")
		}
		seen[with] = true
	}
	if len(fields) > 0 {
		return common.NewValidationError("invalid shared credit lines", fields)
	}
	return nil
}
