package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestInstallmentIsTerminal(t *testing.T) {
	tests := []struct {
		status   InstallmentStatus
		terminal bool
	}{
		{StatusOpen, false},
		{StatusPartial, false},
		{StatusOverdue, false},
		{StatusPaid, true},
		{StatusCanceled, true},
		{StatusRenegotiated, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			inst := Installment{Status: tt.status}
			assert.Equal(t, tt.terminal, inst.IsTerminal())
		})
	}
}

func TestInstallmentOverdueAsOf(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	yesterday := now.AddDate(0, 0, -1)
	tomorrow := now.AddDate(0, 0, 1)
	hundred := decimal.NewFromInt(100)

	base := Installment{
		Status:     StatusOpen,
		DueDate:    yesterday,
		Amount:     hundred,
		AmountPaid: decimal.Zero,
	}

	t.Run("past due and unpaid", func(t *testing.T) {
		assert.True(t, base.OverdueAsOf(now))
	})

	t.Run("partially paid still overdue", func(t *testing.T) {
		inst := base
		inst.Status = StatusPartial
		inst.AmountPaid = decimal.NewFromInt(40)
		assert.True(t, inst.OverdueAsOf(now))
	})

	t.Run("not yet due", func(t *testing.T) {
		inst := base
		inst.DueDate = tomorrow
		assert.False(t, inst.OverdueAsOf(now))
	})

	t.Run("fully paid", func(t *testing.T) {
		inst := base
		inst.Status = StatusPaid
		inst.AmountPaid = hundred
		assert.False(t, inst.OverdueAsOf(now))
	})

	t.Run("canceled", func(t *testing.T) {
		inst := base
		inst.Status = StatusCanceled
		assert.False(t, inst.OverdueAsOf(now))
	})

	t.Run("soft deleted", func(t *testing.T) {
		inst := base
		inst.DeletedAt = &yesterday
		assert.False(t, inst.OverdueAsOf(now))
	})
}

func TestInstallmentOutstanding(t *testing.T) {
	inst := Installment{
		Amount:     decimal.NewFromFloat(250.75),
		AmountPaid: decimal.NewFromFloat(100.25),
	}
	assert.True(t, inst.Outstanding().Equal(decimal.NewFromFloat(150.50)))
}
