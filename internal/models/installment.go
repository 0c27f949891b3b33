package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// InstallmentStatus represents the lifecycle state of an installment
type InstallmentStatus string

const (
	StatusOpen         InstallmentStatus = "OPEN"
	StatusPartial      InstallmentStatus = "PARTIAL"
	StatusPaid         InstallmentStatus = "PAID"
	StatusOverdue      InstallmentStatus = "OVERDUE"
	StatusCanceled     InstallmentStatus = "CANCELED"
	StatusRenegotiated InstallmentStatus = "RENEGOTIATED"
)

// InstallmentOrigin tells how an installment came to exist
type InstallmentOrigin string

const (
	OriginContract      InstallmentOrigin = "CONTRACT"
	OriginRenegotiation InstallmentOrigin = "RENEGOTIATION"
	OriginManual        InstallmentOrigin = "MANUAL"
)

// Installment represents one scheduled payment obligation within a contract
type Installment struct {
	ID                int64             `json:"id"`
	ContractID        int64             `json:"contract_id"`
	CompanyID         int64             `json:"company_id"`
	InstallmentNumber int               `json:"installment_number"`
	DueDate           time.Time         `json:"due_date"`
	Amount            decimal.Decimal   `json:"amount"`
	AmountPaid        decimal.Decimal   `json:"amount_paid"`
	PaidAt            *time.Time        `json:"paid_at,omitempty"`
	Status            InstallmentStatus `json:"status"`
	Notes             string            `json:"notes,omitempty"`
	Origin            InstallmentOrigin `json:"origin"`
	DeletedAt         *time.Time        `json:"-"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// IsTerminal returns true if no further payment or cancellation may touch
// the installment. OVERDUE is not terminal: it is a query-time
// classification, not a stored end state.
func (i *Installment) IsTerminal() bool {
	switch i.Status {
	case StatusPaid, StatusCanceled, StatusRenegotiated:
		return true
	}
	return false
}

// Outstanding returns the unpaid remainder of the scheduled amount.
func (i *Installment) Outstanding() decimal.Decimal {
	return i.Amount.Sub(i.AmountPaid)
}

// OverdueAsOf reports whether the installment counts as overdue at the given
// moment: due date passed and scheduled amount not fully satisfied.
func (i *Installment) OverdueAsOf(now time.Time) bool {
	if i.DeletedAt != nil || i.IsTerminal() {
		return false
	}
	return i.DueDate.Before(now) && i.AmountPaid.LessThan(i.Amount)
}

// OverdueInstallment decorates an overdue installment with the contract and
// customer identification the collections screens display.
type OverdueInstallment struct {
	Installment
	ContractNumber   string `json:"contract_number"`
	CustomerFullName string `json:"customer_full_name"`
}
