package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestStatus_Terminal(t *testing.T) {
	assert.False(t, RequestStatusPending.Terminal())
	assert.True(t, RequestStatusDisclosed.Terminal())
	assert.True(t, RequestStatusDeclined.Terminal())
}

func TestDepositLoanKey_String(t *testing.T) {
	three := 3
	assert.Equal(t, "EUR 3 MONTHS LOAN", DepositLoanKey{
		Type: DepositLoanTypeLoan, Currency: CurrencyEUR, Period: DepositLoanPeriodMonths, PeriodDuration: &three,
	}.String())
	assert.Equal(t, "USD OVERNIGHT DEPOSIT", DepositLoanKey{
		Type: DepositLoanTypeDeposit, Currency: CurrencyUSD, Period: DepositLoanPeriodOvernight,
	}.String())
}

// Requests are filtered with JSON containment, so the embedded fields must
// flatten into the top-level object.
func TestDepositLoanRequest_FlatJSON(t *testing.T) {
	r := DepositLoanRequest{
		Request:        Request{StaticID: "r-1", RequestType: RequestTypeReceived, Status: RequestStatusPending},
		DepositLoanKey: DepositLoanKey{Type: DepositLoanTypeDeposit, Currency: CurrencyEUR, Period: DepositLoanPeriodOvernight},
	}

	b, err := json.Marshal(r)
	require.NoError(t, err)

	var flat map[string]any
	require.NoError(t, json.Unmarshal(b, &flat))
	assert.Equal(t, "r-1", flat["staticId"])
	assert.Equal(t, "DEPOSIT", flat["type"])
	assert.Contains(t, flat, "periodDuration")
	assert.Nil(t, flat["periodDuration"])
}

func TestCompany_DisplayName(t *testing.T) {
	assert.Equal(t, "Bank A", (&Company{StaticID: "a", Name: "Bank A"}).DisplayName())
	assert.Equal(t, "a", (&Company{StaticID: "a"}).DisplayName())
	var c *Company
	assert.Equal(t, "", c.DisplayName())
}
