package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/crediar/billing-service/internal/models"
)

// ErrNotFound is returned when a row is absent, belongs to another company
// or is soft-deleted. The three cases are deliberately indistinguishable so
// a caller cannot probe for another tenant's records.
var ErrNotFound = errors.New("record not found")

// Repository provides database operations
type Repository struct {
	db *sql.DB
}

// NewRepository initializes a new repository
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// CreateUser creates a new staff user in the database
func (r *Repository) CreateUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO billing.users (company_id, username, email, password_hash, created_at)
		VALUES ($1, $2, $3, $4, CURRENT_TIMESTAMP)
		RETURNING id, created_at`
	err := r.db.QueryRowContext(ctx, query, user.CompanyID, user.Username, user.Email, user.PasswordHash).
		Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// FindUserByEmail retrieves a staff user by email
func (r *Repository) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	user := &models.User{}
	query := `
		SELECT id, company_id, username, email, password_hash, created_at
		FROM billing.users
		WHERE email = $1`
	err := r.db.QueryRowContext(ctx, query, email).
		Scan(&user.ID, &user.CompanyID, &user.Username, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

// CreateCustomer creates a new customer for a company
func (r *Repository) CreateCustomer(ctx context.Context, customer *models.Customer) error {
	query := `
		INSERT INTO billing.customers (company_id, full_name, email, created_at)
		VALUES ($1, $2, $3, CURRENT_TIMESTAMP)
		RETURNING id, created_at`
	err := r.db.QueryRowContext(ctx, query, customer.CompanyID, customer.FullName, customer.Email).
		Scan(&customer.ID, &customer.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create customer: %w", err)
	}
	return nil
}

// FindCustomer retrieves a customer scoped to the company
func (r *Repository) FindCustomer(ctx context.Context, id, companyID int64) (*models.Customer, error) {
	customer := &models.Customer{}
	query := `
		SELECT id, company_id, full_name, email, created_at
		FROM billing.customers
		WHERE id = $1 AND company_id = $2`
	err := r.db.QueryRowContext(ctx, query, id, companyID).
		Scan(&customer.ID, &customer.CompanyID, &customer.FullName, &customer.Email, &customer.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find customer: %w", err)
	}
	return customer, nil
}

// FindContract retrieves a contract scoped to the company
func (r *Repository) FindContract(ctx context.Context, id, companyID int64) (*models.Contract, error) {
	contract := &models.Contract{}
	query := `
		SELECT id, company_id, customer_id, contract_number, principal, term_count,
		       monthly_rate_percent, total_amount, first_due_date, terms_hmac,
		       created_at, updated_at
		FROM billing.contracts
		WHERE id = $1 AND company_id = $2`
	err := r.db.QueryRowContext(ctx, query, id, companyID).Scan(
		&contract.ID, &contract.CompanyID, &contract.CustomerID, &contract.ContractNumber,
		&contract.Principal, &contract.TermCount, &contract.MonthlyRatePercent,
		&contract.TotalAmount, &contract.FirstDueDate, &contract.TermsHMAC,
		&contract.CreatedAt, &contract.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find contract: %w", err)
	}
	return contract, nil
}

// CreateContractWithSchedule inserts the contract and its full installment
// schedule in one transaction. The installments slice is written in order,
// installment numbers included, and each element gets its generated id back.
func (r *Repository) CreateContractWithSchedule(ctx context.Context, contract *models.Contract, installments []models.Installment) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	contractQuery := `
		INSERT INTO billing.contracts (company_id, customer_id, contract_number, principal,
			term_count, monthly_rate_percent, total_amount, first_due_date, terms_hmac,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		RETURNING id, created_at, updated_at`
	err = tx.QueryRowContext(ctx, contractQuery,
		contract.CompanyID, contract.CustomerID, contract.ContractNumber,
		contract.Principal, contract.TermCount, contract.MonthlyRatePercent,
		contract.TotalAmount, contract.FirstDueDate, contract.TermsHMAC,
	).Scan(&contract.ID, &contract.CreatedAt, &contract.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create contract: %w", err)
	}

	installmentQuery := `
		INSERT INTO billing.installments (contract_id, company_id, installment_number,
			due_date, amount, amount_paid, status, notes, origin, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		RETURNING id, created_at, updated_at`
	for idx := range installments {
		inst := &installments[idx]
		inst.ContractID = contract.ID
		inst.CompanyID = contract.CompanyID
		err = tx.QueryRowContext(ctx, installmentQuery,
			inst.ContractID, inst.CompanyID, inst.InstallmentNumber,
			inst.DueDate, inst.Amount, inst.AmountPaid, inst.Status, inst.Notes, inst.Origin,
		).Scan(&inst.ID, &inst.CreatedAt, &inst.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to create installment %d: %w", inst.InstallmentNumber, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit contract: %w", err)
	}
	return nil
}
