package jobs

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/crediar/billing-service/internal/repository"
)

type reminderSource interface {
	ListReminderRows(ctx context.Context) ([]repository.ReminderRow, error)
}

type noticeSender interface {
	SendInstallmentReminder(to, customerName, contractNumber string, dueDate time.Time, outstanding decimal.Decimal, isOverdue bool) error
}

// Reminder is the daily sweep that mails customers about upcoming and
// overdue installments. It only reads and notifies; installment status is
// never mutated here, overdue stays a query-time classification.
type Reminder struct {
	svc    reminderSource
	sender noticeSender
	log    *logrus.Logger
	now    func() time.Time
}

// NewReminder creates the reminder sweep job
func NewReminder(svc reminderSource, sender noticeSender, log *logrus.Logger) *Reminder {
	return &Reminder{svc: svc, sender: sender, log: log, now: time.Now}
}

// Run executes one sweep. Send failures are logged and skipped so one bad
// address does not starve the rest of the batch.
func (r *Reminder) Run(ctx context.Context) {
	rows, err := r.svc.ListReminderRows(ctx)
	if err != nil {
		r.log.Errorf("Reminder sweep failed to list installments: %v", err)
		return
	}

	now := r.now()
	sent := 0
	for _, row := range rows {
		if row.CustomerEmail == "" {
			continue
		}
		isOverdue := row.Installment.DueDate.Before(now)
		err := r.sender.SendInstallmentReminder(
			row.CustomerEmail, row.CustomerName, row.ContractNumber,
			row.Installment.DueDate, row.Installment.Outstanding(), isOverdue,
		)
		if err != nil {
			r.log.Errorf("Reminder for installment %d not sent: %v", row.Installment.ID, err)
			continue
		}
		sent++
	}

	r.log.Infof("Reminder sweep finished: %d notices sent, %d installments inspected", sent, len(rows))
}
