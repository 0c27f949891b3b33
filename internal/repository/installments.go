package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/crediar/billing-service/internal/models"
)

// InstallmentPatch carries the editable fields of an installment. Nil fields
// are left untouched by UpdateInstallment.
type InstallmentPatch struct {
	DueDate *time.Time
	Notes   *string
	Amount  *decimal.Decimal
}

const installmentColumns = `
	id, contract_id, company_id, installment_number, due_date, amount, amount_paid,
	paid_at, status, notes, origin, deleted_at, created_at, updated_at`

func scanInstallment(row interface{ Scan(...any) error }, inst *models.Installment) error {
	return row.Scan(
		&inst.ID, &inst.ContractID, &inst.CompanyID, &inst.InstallmentNumber,
		&inst.DueDate, &inst.Amount, &inst.AmountPaid, &inst.PaidAt,
		&inst.Status, &inst.Notes, &inst.Origin, &inst.DeletedAt,
		&inst.CreatedAt, &inst.UpdatedAt,
	)
}

// FindInstallment retrieves a non-deleted installment scoped to the company
func (r *Repository) FindInstallment(ctx context.Context, id, companyID int64) (*models.Installment, error) {
	inst := &models.Installment{}
	query := `
		SELECT ` + installmentColumns + `
		FROM billing.installments
		WHERE id = $1 AND company_id = $2 AND deleted_at IS NULL`
	err := scanInstallment(r.db.QueryRowContext(ctx, query, id, companyID), inst)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find installment: %w", err)
	}
	return inst, nil
}

// ListInstallmentsByContract returns the non-deleted schedule of a contract
// ordered by installment number.
func (r *Repository) ListInstallmentsByContract(ctx context.Context, contractID, companyID int64) ([]models.Installment, error) {
	query := `
		SELECT ` + installmentColumns + `
		FROM billing.installments
		WHERE contract_id = $1 AND company_id = $2 AND deleted_at IS NULL
		ORDER BY installment_number ASC`
	rows, err := r.db.QueryContext(ctx, query, contractID, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list installments: %w", err)
	}
	defer rows.Close()

	var result []models.Installment
	for rows.Next() {
		var inst models.Installment
		if err := scanInstallment(rows, &inst); err != nil {
			return nil, fmt.Errorf("failed to scan installment: %w", err)
		}
		result = append(result, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read installments: %w", err)
	}
	return result, nil
}

// ListOverdue returns the company's overdue installments decorated with the
// contract number and customer name, ascending by due date. Overdue is
// derived here, it is never written back to the row.
func (r *Repository) ListOverdue(ctx context.Context, companyID int64, asOf time.Time) ([]models.OverdueInstallment, error) {
	query := `
		SELECT i.id, i.contract_id, i.company_id, i.installment_number, i.due_date,
		       i.amount, i.amount_paid, i.paid_at, i.status, i.notes, i.origin,
		       i.deleted_at, i.created_at, i.updated_at,
		       c.contract_number, cu.full_name
		FROM billing.installments i
		JOIN billing.contracts c ON c.id = i.contract_id AND c.company_id = i.company_id
		JOIN billing.customers cu ON cu.id = c.customer_id AND cu.company_id = c.company_id
		WHERE i.company_id = $1
		  AND i.deleted_at IS NULL
		  AND i.status NOT IN ('PAID', 'CANCELED', 'RENEGOTIATED')
		  AND i.due_date < $2
		  AND i.amount_paid < i.amount
		ORDER BY i.due_date ASC, i.installment_number ASC`
	rows, err := r.db.QueryContext(ctx, query, companyID, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to list overdue installments: %w", err)
	}
	defer rows.Close()

	var result []models.OverdueInstallment
	for rows.Next() {
		var ov models.OverdueInstallment
		err := rows.Scan(
			&ov.ID, &ov.ContractID, &ov.CompanyID, &ov.InstallmentNumber, &ov.DueDate,
			&ov.Amount, &ov.AmountPaid, &ov.PaidAt, &ov.Status, &ov.Notes, &ov.Origin,
			&ov.DeletedAt, &ov.CreatedAt, &ov.UpdatedAt,
			&ov.ContractNumber, &ov.CustomerFullName,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan overdue installment: %w", err)
		}
		ov.Installment.Status = models.StatusOverdue
		result = append(result, ov)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read overdue installments: %w", err)
	}
	return result, nil
}

// UpdateInstallment patches due date, notes and amount in a single
// conditional statement. Tenant scope, soft-delete filtering and the
// amount >= amount_paid guard are all part of the same write, never a
// separate check.
func (r *Repository) UpdateInstallment(ctx context.Context, id, companyID int64, patch InstallmentPatch) error {
	query := `
		UPDATE billing.installments
		SET due_date = COALESCE($3, due_date),
		    notes = COALESCE($4, notes),
		    amount = COALESCE($5, amount),
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND company_id = $2 AND deleted_at IS NULL
		  AND ($5::numeric IS NULL OR $5::numeric >= amount_paid)`
	res, err := r.db.ExecContext(ctx, query, id, companyID, patch.DueDate, patch.Notes, patch.Amount)
	if err != nil {
		return fmt.Errorf("failed to update installment: %w", err)
	}
	return requireRow(res)
}

// CancelInstallment marks the installment CANCELED. Cancelling an already
// canceled row succeeds (last write wins), cancelling a PAID or
// RENEGOTIATED one does not match and reports ErrNotFound to the repository
// caller; the service layer screens terminal rows first to report the
// distinct closed outcome.
func (r *Repository) CancelInstallment(ctx context.Context, id, companyID int64) error {
	query := `
		UPDATE billing.installments
		SET status = $3, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND company_id = $2 AND deleted_at IS NULL
		  AND status NOT IN ('PAID', 'RENEGOTIATED')`
	res, err := r.db.ExecContext(ctx, query, id, companyID, models.StatusCanceled)
	if err != nil {
		return fmt.Errorf("failed to cancel installment: %w", err)
	}
	return requireRow(res)
}

// PostPayment increments amount_paid and advances the status in one
// conditional statement, so two concurrent postings both land instead of
// the later one overwriting the earlier. The overpayment guard, the
// open-state check, tenant scope and soft-delete filtering are all
// predicates of the same write. paid_at is set once, on the posting that
// reaches the scheduled amount, and never moved afterwards. A miss reports
// ErrNotFound; the service layer classifies it.
func (r *Repository) PostPayment(ctx context.Context, id, companyID int64, amount decimal.Decimal) (*models.Installment, error) {
	inst := &models.Installment{}
	query := `
		UPDATE billing.installments
		SET amount_paid = amount_paid + $3,
		    status = CASE WHEN amount_paid + $3 >= amount THEN 'PAID' ELSE 'PARTIAL' END,
		    paid_at = CASE WHEN amount_paid + $3 >= amount
		              THEN COALESCE(paid_at, CURRENT_TIMESTAMP) ELSE paid_at END,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND company_id = $2 AND deleted_at IS NULL
		  AND status IN ('OPEN', 'PARTIAL')
		  AND amount_paid + $3 <= amount
		RETURNING ` + installmentColumns
	err := scanInstallment(r.db.QueryRowContext(ctx, query, id, companyID, amount), inst)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to post payment: %w", err)
	}
	return inst, nil
}

// AppendInstallment adds one installment to a contract's schedule, numbered
// after the current highest installment number. Number selection and insert
// share a transaction.
func (r *Repository) AppendInstallment(ctx context.Context, contractID, companyID int64, inst *models.Installment) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	numberQuery := `
		SELECT COALESCE(MAX(installment_number), 0) + 1
		FROM billing.installments
		WHERE contract_id = $1 AND company_id = $2`
	if err := tx.QueryRowContext(ctx, numberQuery, contractID, companyID).Scan(&inst.InstallmentNumber); err != nil {
		return fmt.Errorf("failed to compute next installment number: %w", err)
	}

	insert := `
		INSERT INTO billing.installments (contract_id, company_id, installment_number,
			due_date, amount, amount_paid, status, notes, origin, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		RETURNING id, created_at, updated_at`
	inst.ContractID = contractID
	inst.CompanyID = companyID
	err = tx.QueryRowContext(ctx, insert,
		inst.ContractID, inst.CompanyID, inst.InstallmentNumber,
		inst.DueDate, inst.Amount, inst.AmountPaid, inst.Status, inst.Notes, inst.Origin,
	).Scan(&inst.ID, &inst.CreatedAt, &inst.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to append installment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit installment: %w", err)
	}
	return nil
}

// SoftDeleteInstallment marks the row deleted; it never physically removes it.
func (r *Repository) SoftDeleteInstallment(ctx context.Context, id, companyID int64) error {
	query := `
		UPDATE billing.installments
		SET deleted_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND company_id = $2 AND deleted_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, id, companyID)
	if err != nil {
		return fmt.Errorf("failed to delete installment: %w", err)
	}
	return requireRow(res)
}

// RenegotiateInstallments marks the given installments RENEGOTIATED and
// inserts their replacements in one transaction. Replacement numbering
// continues after the contract's current highest installment number. If any
// target is missing, foreign, soft-deleted or already terminal the whole
// transaction rolls back with ErrNotFound.
func (r *Repository) RenegotiateInstallments(ctx context.Context, contractID, companyID int64, ids []int64, replacements []models.Installment) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	supersede := `
		UPDATE billing.installments
		SET status = $4, updated_at = CURRENT_TIMESTAMP
		WHERE id = ANY($1) AND contract_id = $2 AND company_id = $3
		  AND deleted_at IS NULL
		  AND status NOT IN ('PAID', 'CANCELED', 'RENEGOTIATED')`
	res, err := tx.ExecContext(ctx, supersede, pq.Array(ids), contractID, companyID, models.StatusRenegotiated)
	if err != nil {
		return fmt.Errorf("failed to supersede installments: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected != int64(len(ids)) {
		return ErrNotFound
	}

	var nextNumber int
	numberQuery := `
		SELECT COALESCE(MAX(installment_number), 0) + 1
		FROM billing.installments
		WHERE contract_id = $1 AND company_id = $2`
	if err := tx.QueryRowContext(ctx, numberQuery, contractID, companyID).Scan(&nextNumber); err != nil {
		return fmt.Errorf("failed to compute next installment number: %w", err)
	}

	insert := `
		INSERT INTO billing.installments (contract_id, company_id, installment_number,
			due_date, amount, amount_paid, status, notes, origin, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		RETURNING id, created_at, updated_at`
	for idx := range replacements {
		inst := &replacements[idx]
		inst.ContractID = contractID
		inst.CompanyID = companyID
		inst.InstallmentNumber = nextNumber
		nextNumber++
		err = tx.QueryRowContext(ctx, insert,
			inst.ContractID, inst.CompanyID, inst.InstallmentNumber,
			inst.DueDate, inst.Amount, inst.AmountPaid, inst.Status, inst.Notes, inst.Origin,
		).Scan(&inst.ID, &inst.CreatedAt, &inst.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to create replacement installment: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit renegotiation: %w", err)
	}
	return nil
}

// ReminderRow is what the reminder sweep needs to compose one notice.
type ReminderRow struct {
	Installment    models.Installment
	ContractNumber string
	CustomerName   string
	CustomerEmail  string
}

// ListUnpaidDueBefore returns, across all companies, unpaid non-deleted
// installments with a due date before the horizon, joined with the contact
// details the reminder emails need.
func (r *Repository) ListUnpaidDueBefore(ctx context.Context, horizon time.Time) ([]ReminderRow, error) {
	query := `
		SELECT i.id, i.contract_id, i.company_id, i.installment_number, i.due_date,
		       i.amount, i.amount_paid, i.paid_at, i.status, i.notes, i.origin,
		       i.deleted_at, i.created_at, i.updated_at,
		       c.contract_number, cu.full_name, cu.email
		FROM billing.installments i
		JOIN billing.contracts c ON c.id = i.contract_id AND c.company_id = i.company_id
		JOIN billing.customers cu ON cu.id = c.customer_id AND cu.company_id = c.company_id
		WHERE i.deleted_at IS NULL
		  AND i.status IN ('OPEN', 'PARTIAL')
		  AND i.amount_paid < i.amount
		  AND i.due_date < $1
		ORDER BY i.company_id ASC, i.due_date ASC`
	rows, err := r.db.QueryContext(ctx, query, horizon)
	if err != nil {
		return nil, fmt.Errorf("failed to list due installments: %w", err)
	}
	defer rows.Close()

	var result []ReminderRow
	for rows.Next() {
		var rr ReminderRow
		err := rows.Scan(
			&rr.Installment.ID, &rr.Installment.ContractID, &rr.Installment.CompanyID,
			&rr.Installment.InstallmentNumber, &rr.Installment.DueDate,
			&rr.Installment.Amount, &rr.Installment.AmountPaid, &rr.Installment.PaidAt,
			&rr.Installment.Status, &rr.Installment.Notes, &rr.Installment.Origin,
			&rr.Installment.DeletedAt, &rr.Installment.CreatedAt, &rr.Installment.UpdatedAt,
			&rr.ContractNumber, &rr.CustomerName, &rr.CustomerEmail,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reminder row: %w", err)
		}
		result = append(result, rr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read reminder rows: %w", err)
	}
	return result, nil
}

func requireRow(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
