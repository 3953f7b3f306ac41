package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/creditshare/internal/dbx"
	"github.com/dmitrijs2005/creditshare/internal/server/repositories/creditlines"
	"github.com/dmitrijs2005/creditshare/internal/server/repositories/depositloans"
	"github.com/dmitrijs2005/creditshare/internal/server/repositories/disclosures"
)

// RepositoryManager vends repositories bound to a DBTX so that callers can
// use the same code inside and outside a transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	CreditLines(db dbx.DBTX) creditlines.Repository
	SharedCreditLines(db dbx.DBTX) creditlines.SharedRepository
	CreditLineRequests(db dbx.DBTX) creditlines.RequestRepository
	DepositLoans(db dbx.DBTX) depositloans.Repository
	SharedDepositLoans(db dbx.DBTX) depositloans.SharedRepository
	DepositLoanRequests(db dbx.DBTX) depositloans.RequestRepository
	Disclosures(db dbx.DBTX) disclosures.Repository
}
