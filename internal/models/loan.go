package models

import "github.com/shopspring/decimal"

// LoanTerms holds the inputs of an amortization simulation or contract
type LoanTerms struct {
	Principal          decimal.Decimal `json:"principal"`
	TermCount          int             `json:"term_count"`
	MonthlyRatePercent decimal.Decimal `json:"monthly_rate_percent"` // percentage units, 2.5 means 2.5%
}
