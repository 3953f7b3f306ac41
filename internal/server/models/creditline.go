package models

import "time"

type Currency string

const (
	CurrencyAED Currency = "AED"
	CurrencyCHF Currency = "CHF"
	CurrencyEUR Currency = "EUR"
	CurrencyGBP Currency = "GBP"
	CurrencyJPY Currency = "JPY"
	CurrencyUSD Currency = "USD"
)

// RiskCoverSubProduct is the sub-product id of risk cover credit lines.
const RiskCoverSubProduct = "rd"

type ProductContext struct {
	ProductID    string `json:"productId"`
	SubProductID string `json:"subProductId"`
}

// CreditLineKey identifies which credit line fact a share or request is about.
type CreditLineKey struct {
	Context              ProductContext `json:"context"`
	CounterpartyStaticID string         `json:"counterpartyStaticId"`
}

type CreditLine struct {
	StaticID             string         `json:"staticId"`
	CounterpartyStaticID string         `json:"counterpartyStaticId"`
	Context              ProductContext `json:"context"`
	Appetite             bool           `json:"appetite"`
	Currency             Currency       `json:"currency"`
	Availability         bool           `json:"availability"`
	AvailabilityAmount   *float64       `json:"availabilityAmount"`
	CreditLimit          *float64       `json:"creditLimit"`
	CreditExpiryDate     *time.Time     `json:"creditExpiryDate"`
	CreatedAt            time.Time      `json:"createdAt"`
	UpdatedAt            time.Time      `json:"updatedAt"`
}

func (c *CreditLine) Key() CreditLineKey {
	return CreditLineKey{Context: c.Context, CounterpartyStaticID: c.CounterpartyStaticID}
}

// SharedFlag marks a single attribute as disclosed or not.
type SharedFlag struct {
	Shared bool `json:"shared"`
}

// SharedValue is a disclosed attribute whose value lives on the shared
// record. Value is only meaningful when Shared is true.
type SharedValue struct {
	Shared bool     `json:"shared"`
	Value  *float64 `json:"value"`
}

type CreditLineSharedData struct {
	Appetite           SharedFlag  `json:"appetite"`
	Availability       SharedFlag  `json:"availability"`
	AvailabilityAmount SharedFlag  `json:"availabilityAmount"`
	CreditLimit        SharedFlag  `json:"creditLimit"`
	Fee                SharedValue `json:"fee"`
	Margin             SharedValue `json:"margin"`
	MaximumTenor       SharedValue `json:"maximumTenor"`
}

// SharedCreditLine is a credit line as currently disclosed to one company.
type SharedCreditLine struct {
	StaticID             string               `json:"staticId"`
	CreditLineStaticID   string               `json:"creditLineStaticId"`
	CounterpartyStaticID string               `json:"counterpartyStaticId"`
	SharedWithStaticID   string               `json:"sharedWithStaticId"`
	Data                 CreditLineSharedData `json:"data"`
	CreatedAt            time.Time            `json:"createdAt"`
	UpdatedAt            time.Time            `json:"updatedAt"`
}

type CreditLineRequest struct {
	Request
	CounterpartyStaticID string         `json:"counterpartyStaticId"`
	Context              ProductContext `json:"context"`
}

func (r *CreditLineRequest) Key() CreditLineKey {
	return CreditLineKey{Context: r.Context, CounterpartyStaticID: r.CounterpartyStaticID}
}
