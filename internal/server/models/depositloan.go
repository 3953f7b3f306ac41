package models

import (
	"strconv"
	"time"
)

type DepositLoanType string

const (
	DepositLoanTypeDeposit DepositLoanType = "DEPOSIT"
	DepositLoanTypeLoan    DepositLoanType = "LOAN"
)

type DepositLoanPeriod string

const (
	DepositLoanPeriodDays      DepositLoanPeriod = "DAYS"
	DepositLoanPeriodWeeks     DepositLoanPeriod = "WEEKS"
	DepositLoanPeriodMonths    DepositLoanPeriod = "MONTHS"
	DepositLoanPeriodYears     DepositLoanPeriod = "YEARS"
	DepositLoanPeriodOvernight DepositLoanPeriod = "OVERNIGHT"
)

// DepositLoanKey identifies a deposit/loan position by type and tenor.
// PeriodDuration is nil for overnight positions.
type DepositLoanKey struct {
	Type           DepositLoanType   `json:"type"`
	Currency       Currency          `json:"currency"`
	Period         DepositLoanPeriod `json:"period"`
	PeriodDuration *int              `json:"periodDuration"`
}

// String renders the key as "EUR 3 MONTHS LOAN"-like text for summaries.
func (k DepositLoanKey) String() string {
	tenor := string(k.Period)
	if k.PeriodDuration != nil {
		tenor = strconv.Itoa(*k.PeriodDuration) + " " + tenor
	}
	return string(k.Currency) + " " + tenor + " " + string(k.Type)
}

type DepositLoan struct {
	StaticID string `json:"staticId"`
	DepositLoanKey
	Appetite  bool      `json:"appetite"`
	Pricing   *float64  `json:"pricing"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SharedPricing carries the disclosed price; Pricing is only meaningful
// when Shared is true.
type SharedPricing struct {
	Shared  bool     `json:"shared"`
	Pricing *float64 `json:"pricing"`
}

type SharedDepositLoan struct {
	StaticID            string        `json:"staticId"`
	DepositLoanStaticID string        `json:"depositLoanStaticId"`
	SharedWithStaticID  string        `json:"sharedWithStaticId"`
	Appetite            SharedFlag    `json:"appetite"`
	Pricing             SharedPricing `json:"pricing"`
	CreatedAt           time.Time     `json:"createdAt"`
	UpdatedAt           time.Time     `json:"updatedAt"`
}

type DepositLoanRequest struct {
	Request
	DepositLoanKey
}
