package depositloans

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/creditshare/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) (sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return mock, db
}

func intPtr(v int) *int { return &v }

func TestKeyString(t *testing.T) {
	assert.Equal(t, "LOAN|EUR|MONTHS|3", KeyString(models.DepositLoanKey{
		Type: models.DepositLoanTypeLoan, Currency: models.CurrencyEUR, Period: models.DepositLoanPeriodMonths, PeriodDuration: intPtr(3),
	}))
	assert.Equal(t, "DEPOSIT|USD|OVERNIGHT|", KeyString(models.DepositLoanKey{
		Type: models.DepositLoanTypeDeposit, Currency: models.CurrencyUSD, Period: models.DepositLoanPeriodOvernight,
	}))
}

// Overnight keys carry an explicit null duration so containment does not
// match positions of the same period with a duration set.
func TestFindPending_NullDurationInFilter(t *testing.T) {
	mock, db := newMock(t)
	defer db.Close()

	want := `{"requestType":"RECEIVED","status":"PENDING","type":"DEPOSIT","currency":"USD","period":"OVERNIGHT","periodDuration":null}`
	mock.ExpectQuery(`(?s)^SELECT\s+data\s+FROM\s+documents`).
		WithArgs(RequestsCollection, []byte(want)).
		WillReturnRows(sqlmock.NewRows([]string{"data"}))

	repo := NewRequestPostgresRepository(db)
	got, err := repo.FindPending(context.Background(), models.RequestTypeReceived, "", models.DepositLoanKey{
		Type: models.DepositLoanTypeDeposit, Currency: models.CurrencyUSD, Period: models.DepositLoanPeriodOvernight,
	})
	require.NoError(t, err)
	assert.Empty(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSharedCreate_UsesPairKey(t *testing.T) {
	mock, db := newMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+documents`).
		WithArgs(SharedCollection, "s-1", "dl-1|bank-b", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewSharedPostgresRepository(db)
	require.NoError(t, repo.Create(context.Background(), &models.SharedDepositLoan{
		StaticID: "s-1", DepositLoanStaticID: "dl-1", SharedWithStaticID: "bank-b",
	}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestUpdatePending_CommentKeepsSlot(t *testing.T) {
	mock, db := newMock(t)
	defer db.Close()

	patchQ := `(?s)^UPDATE\s+documents\s+SET\s+data\s*=\s*data\s*\|\|.*RETURNING\s+data$`
	mock.ExpectQuery(patchQ).
		WithArgs(RequestsCollection, "r-1", []byte(`{"status":"PENDING"}`), sqlmock.AnyArg(), false).
		WillReturnRows(sqlmock.NewRows([]string{"data"}).AddRow([]byte(`{"staticId":"r-1","status":"PENDING","comment":"again"}`)))

	comment := "again"
	got, err := NewRequestPostgresRepository(db).UpdatePending(context.Background(), "r-1", models.RequestPatch{Comment: &comment})
	require.NoError(t, err)
	assert.Equal(t, "again", got.Comment)
	assert.Equal(t, models.RequestStatusPending, got.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}
