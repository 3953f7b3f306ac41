// Package repomanager provides a concrete RepositoryManager for PostgreSQL,
// wiring together repository constructors and database migrations (via goose).
package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/creditshare/internal/dbx"
	"github.com/dmitrijs2005/creditshare/internal/server/migrations"
	"github.com/dmitrijs2005/creditshare/internal/server/repositories/creditlines"
	"github.com/dmitrijs2005/creditshare/internal/server/repositories/depositloans"
	"github.com/dmitrijs2005/creditshare/internal/server/repositories/disclosures"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// DriverName is the database/sql driver registered by pgx.
const DriverName = "pgx"

// PostgresRepositoryManager vends PostgreSQL-backed repository implementations
// and exposes a schema migration hook.
type PostgresRepositoryManager struct{}

func (m *PostgresRepositoryManager) CreditLines(db dbx.DBTX) creditlines.Repository {
	return creditlines.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) SharedCreditLines(db dbx.DBTX) creditlines.SharedRepository {
	return creditlines.NewSharedPostgresRepository(db)
}

func (m *PostgresRepositoryManager) CreditLineRequests(db dbx.DBTX) creditlines.RequestRepository {
	return creditlines.NewRequestPostgresRepository(db)
}

func (m *PostgresRepositoryManager) DepositLoans(db dbx.DBTX) depositloans.Repository {
	return depositloans.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) SharedDepositLoans(db dbx.DBTX) depositloans.SharedRepository {
	return depositloans.NewSharedPostgresRepository(db)
}

func (m *PostgresRepositoryManager) DepositLoanRequests(db dbx.DBTX) depositloans.RequestRepository {
	return depositloans.NewRequestPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Disclosures(db dbx.DBTX) disclosures.Repository {
	return disclosures.NewPostgresRepository(db)
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations sets up goose with the embedded migrations and runs them
// against the provided database connection.
func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect(DriverName); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, ".")
}

// Open connects to PostgreSQL through the pgx stdlib driver and verifies
// the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// NewPostgresRepositoryManager constructs a PostgreSQL-backed RepositoryManager.
func NewPostgresRepositoryManager() *PostgresRepositoryManager {
	return &PostgresRepositoryManager{}
}
