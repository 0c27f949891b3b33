package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Contract represents a financed sale agreement with a customer
type Contract struct {
	ID                 int64           `json:"id"`
	CompanyID          int64           `json:"company_id"`
	CustomerID         int64           `json:"customer_id"`
	ContractNumber     string          `json:"contract_number"`
	Principal          decimal.Decimal `json:"principal"`
	TermCount          int             `json:"term_count"`
	MonthlyRatePercent decimal.Decimal `json:"monthly_rate_percent"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	FirstDueDate       time.Time       `json:"first_due_date"`
	TermsHMAC          string          `json:"terms_hmac"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}
