package amortization

import (
	"math"

	"github.com/shopspring/decimal"
)

// Quote is the result of an amortization computation: the fixed per-period
// payment and the total payable over the whole term.
type Quote struct {
	InstallmentAmount decimal.Decimal `json:"installment_amount"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
}

// ComputeSchedule derives the fixed installment amount for the given terms.
//
// It never fails: non-positive principal or term count yields the zero quote,
// and a non-positive rate is treated as interest-free (even split of the
// principal). Callers recompute on every form keystroke and rely on getting
// a quote back for any input.
//
// The annuity factor is computed in float64 (math.Pow), then carried as
// decimal for the monetary multiplication. Amounts keep full precision here;
// currency rounding belongs to the persistence and response boundaries.
func ComputeSchedule(principal decimal.Decimal, termCount int, monthlyRatePercent decimal.Decimal) Quote {
	if termCount <= 0 || principal.LessThanOrEqual(decimal.Zero) {
		return Quote{InstallmentAmount: decimal.Zero, TotalAmount: decimal.Zero}
	}

	terms := decimal.NewFromInt(int64(termCount))

	if monthlyRatePercent.LessThanOrEqual(decimal.Zero) {
		// Interest-free: straight-line split.
		return Quote{
			InstallmentAmount: principal.Div(terms),
			TotalAmount:       principal,
		}
	}

	// installment = P * i(1+i)^n / ((1+i)^n - 1), i = rate/100
	rate := monthlyRatePercent.InexactFloat64() / 100
	factor := math.Pow(1+rate, float64(termCount))
	installment := principal.Mul(decimal.NewFromFloat(rate * factor / (factor - 1)))

	return Quote{
		InstallmentAmount: installment,
		TotalAmount:       installment.Mul(terms),
	}
}
