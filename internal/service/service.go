package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/crediar/billing-service/internal/amortization"
	"github.com/crediar/billing-service/internal/config"
	"github.com/crediar/billing-service/internal/models"
	"github.com/crediar/billing-service/internal/repository"
	"github.com/crediar/billing-service/internal/utils"
)

var (
	// ErrInstallmentClosed is returned for payment or cancellation attempts
	// against a PAID or RENEGOTIATED installment.
	ErrInstallmentClosed = errors.New("installment is closed")
	// ErrOverpayment is returned when a posting would push amount_paid above
	// the scheduled amount.
	ErrOverpayment = errors.New("payment exceeds outstanding amount")
	// ErrInvalidAmount is returned for non-positive payment amounts.
	ErrInvalidAmount = errors.New("payment amount must be positive")
	// ErrAmountBelowPaid is returned when an amount patch would drop the
	// scheduled amount under what has already been paid.
	ErrAmountBelowPaid = errors.New("amount cannot drop below the paid amount")
	// ErrInvalidTerms is returned when contract creation or renegotiation is
	// attempted with terms that amortize to a zero schedule.
	ErrInvalidTerms = errors.New("loan terms produce an empty schedule")
)

// Store is the persistence capability the service needs.
type Store interface {
	CreateUser(ctx context.Context, user *models.User) error
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	CreateCustomer(ctx context.Context, customer *models.Customer) error
	FindCustomer(ctx context.Context, id, companyID int64) (*models.Customer, error)
	FindContract(ctx context.Context, id, companyID int64) (*models.Contract, error)
	CreateContractWithSchedule(ctx context.Context, contract *models.Contract, installments []models.Installment) error
	FindInstallment(ctx context.Context, id, companyID int64) (*models.Installment, error)
	ListInstallmentsByContract(ctx context.Context, contractID, companyID int64) ([]models.Installment, error)
	ListOverdue(ctx context.Context, companyID int64, asOf time.Time) ([]models.OverdueInstallment, error)
	UpdateInstallment(ctx context.Context, id, companyID int64, patch repository.InstallmentPatch) error
	CancelInstallment(ctx context.Context, id, companyID int64) error
	PostPayment(ctx context.Context, id, companyID int64, amount decimal.Decimal) (*models.Installment, error)
	AppendInstallment(ctx context.Context, contractID, companyID int64, inst *models.Installment) error
	SoftDeleteInstallment(ctx context.Context, id, companyID int64) error
	RenegotiateInstallments(ctx context.Context, contractID, companyID int64, ids []int64, replacements []models.Installment) error
	ListUnpaidDueBefore(ctx context.Context, horizon time.Time) ([]repository.ReminderRow, error)
}

// RateSource supplies a reference monthly rate for simulations.
type RateSource interface {
	MonthlyRatePercent(ctx context.Context) (decimal.Decimal, error)
}

// Service handles business logic
type Service struct {
	store  Store
	rates  RateSource
	log    *logrus.Logger
	config *config.Config
	now    func() time.Time
}

// NewService initializes a new service
func NewService(store Store, rates RateSource, log *logrus.Logger, cfg *config.Config) *Service {
	return &Service{store: store, rates: rates, log: log, config: cfg, now: time.Now}
}

// Register creates a new staff user with hashed password
func (s *Service) Register(ctx context.Context, companyID int64, username, email, password string) (*models.User, error) {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		CompanyID:    companyID,
		Username:     username,
		Email:        email,
		PasswordHash: string(hashedPassword),
	}

	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	s.log.Infof("User registered: %s (company %d)", user.Email, user.CompanyID)
	return user, nil
}

type authClaims struct {
	CompanyID int64 `json:"cid"`
	jwt.RegisteredClaims
}

// Login authenticates a staff user and returns a JWT token carrying the
// user and company identity.
func (s *Service) Login(ctx context.Context, email, password string) (string, error) {
	user, err := s.store.FindUserByEmail(ctx, email)
	if err != nil {
		return "", fmt.Errorf("invalid credentials")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", fmt.Errorf("invalid credentials")
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, authClaims{
		CompanyID: user.CompanyID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprintf("%d", user.ID),
			ExpiresAt: jwt.NewNumericDate(s.now().Add(24 * time.Hour)),
		},
	})
	tokenString, err := token.SignedString([]byte(s.config.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	s.log.Infof("User logged in: %s", user.Email)
	return tokenString, nil
}

// CreateCustomer registers a customer under the company already set on the
// record.
func (s *Service) CreateCustomer(ctx context.Context, customer *models.Customer) error {
	if err := s.store.CreateCustomer(ctx, customer); err != nil {
		return err
	}
	s.log.Infof("Customer %s created (company %d)", customer.FullName, customer.CompanyID)
	return nil
}

// ListContractInstallments returns a contract's schedule ordered by
// installment number, after confirming the contract belongs to the company.
func (s *Service) ListContractInstallments(ctx context.Context, contractID, companyID int64) ([]models.Installment, error) {
	if _, err := s.store.FindContract(ctx, contractID, companyID); err != nil {
		return nil, err
	}
	return s.store.ListInstallmentsByContract(ctx, contractID, companyID)
}

// Simulate computes a schedule quote for the given terms, rounded for
// display. With useReferenceRate the configured rate source overrides the
// submitted rate.
func (s *Service) Simulate(ctx context.Context, terms models.LoanTerms, useReferenceRate bool) (amortization.Quote, error) {
	rate := terms.MonthlyRatePercent
	if useReferenceRate {
		refRate, err := s.rates.MonthlyRatePercent(ctx)
		if err != nil {
			return amortization.Quote{}, fmt.Errorf("failed to fetch reference rate: %w", err)
		}
		rate = refRate
	}

	quote := amortization.ComputeSchedule(terms.Principal, terms.TermCount, rate)
	return amortization.Quote{
		InstallmentAmount: quote.InstallmentAmount.Round(2),
		TotalAmount:       quote.TotalAmount.Round(2),
	}, nil
}

// CreateContractInput carries everything needed to activate a contract.
type CreateContractInput struct {
	CustomerID   int64
	Terms        models.LoanTerms
	FirstDueDate time.Time
}

// CreateContract activates a contract: amortizes the terms, persists the
// contract row and its full schedule of OPEN installments numbered from 1,
// one per period, due monthly from the first due date.
func (s *Service) CreateContract(ctx context.Context, companyID int64, input CreateContractInput) (*models.Contract, []models.Installment, error) {
	quote := amortization.ComputeSchedule(input.Terms.Principal, input.Terms.TermCount, input.Terms.MonthlyRatePercent)
	if quote.InstallmentAmount.IsZero() {
		return nil, nil, ErrInvalidTerms
	}

	customer, err := s.store.FindCustomer(ctx, input.CustomerID, companyID)
	if err != nil {
		return nil, nil, err
	}

	number, err := utils.GenerateContractNumber(s.config.ContractNumberPrefix, 12)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate contract number: %w", err)
	}

	// Round once, then derive the total from the persisted per-period
	// amount so the contract row reconciles with its schedule to the cent.
	amount := quote.InstallmentAmount.Round(2)
	contract := &models.Contract{
		CompanyID:          companyID,
		CustomerID:         customer.ID,
		ContractNumber:     number,
		Principal:          input.Terms.Principal,
		TermCount:          input.Terms.TermCount,
		MonthlyRatePercent: input.Terms.MonthlyRatePercent,
		TotalAmount:        amount.Mul(decimal.NewFromInt(int64(input.Terms.TermCount))),
		FirstDueDate:       input.FirstDueDate,
		TermsHMAC: utils.GenerateHMAC(s.config.HMACSecret,
			input.Terms.Principal.String(),
			fmt.Sprintf("%d", input.Terms.TermCount),
			input.Terms.MonthlyRatePercent.String(),
		),
	}

	installments := make([]models.Installment, 0, input.Terms.TermCount)
	for n := 1; n <= input.Terms.TermCount; n++ {
		installments = append(installments, models.Installment{
			InstallmentNumber: n,
			DueDate:           input.FirstDueDate.AddDate(0, n-1, 0),
			Amount:            amount,
			AmountPaid:        decimal.Zero,
			Status:            models.StatusOpen,
			Origin:            models.OriginContract,
		})
	}

	if err := s.store.CreateContractWithSchedule(ctx, contract, installments); err != nil {
		return nil, nil, err
	}

	s.log.Infof("Contract %s created for company %d: %d installments of %s",
		contract.ContractNumber, companyID, len(installments), amount)
	return contract, installments, nil
}

// RegisterPayment posts a payment against an installment and advances its
// state: OPEN -> PARTIAL while a remainder is left, -> PAID once the
// scheduled amount is fully satisfied. paid_at is stamped on the PAID
// transition and never moved afterwards. The store increments amount_paid
// and checks the overpayment and open-state guards inside one conditional
// write, so two concurrent postings both land. A rejected posting is only
// then read back to tell overpayment and closed installments apart.
func (s *Service) RegisterPayment(ctx context.Context, id, companyID int64, amount decimal.Decimal) (*models.Installment, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}

	inst, err := s.store.PostPayment(ctx, id, companyID, amount)
	if err == nil {
		s.log.Infof("Payment of %s posted to installment %d (company %d), status %s",
			amount, id, companyID, inst.Status)
		return inst, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	existing, findErr := s.store.FindInstallment(ctx, id, companyID)
	if findErr != nil {
		return nil, findErr
	}
	if existing.IsTerminal() {
		return nil, ErrInstallmentClosed
	}
	if existing.AmountPaid.Add(amount).GreaterThan(existing.Amount) {
		return nil, ErrOverpayment
	}
	return nil, err
}

// ManualInstallmentInput carries the fields of a hand-entered installment.
type ManualInstallmentInput struct {
	DueDate time.Time
	Amount  decimal.Decimal
	Notes   string
}

// CreateManualInstallment appends a hand-entered installment to a
// contract's schedule, numbered after the existing sequence and starting
// its lifecycle in OPEN like any scheduled one.
func (s *Service) CreateManualInstallment(ctx context.Context, contractID, companyID int64, input ManualInstallmentInput) (*models.Installment, error) {
	if input.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}
	if _, err := s.store.FindContract(ctx, contractID, companyID); err != nil {
		return nil, err
	}

	inst := &models.Installment{
		DueDate:    input.DueDate,
		Amount:     input.Amount.Round(2),
		AmountPaid: decimal.Zero,
		Status:     models.StatusOpen,
		Notes:      input.Notes,
		Origin:     models.OriginManual,
	}
	if err := s.store.AppendInstallment(ctx, contractID, companyID, inst); err != nil {
		return nil, err
	}

	s.log.Infof("Manual installment %d appended to contract %d (company %d)",
		inst.InstallmentNumber, contractID, companyID)
	return inst, nil
}

// ListOverdue returns the company's overdue installments, oldest due date
// first, decorated for display.
func (s *Service) ListOverdue(ctx context.Context, companyID int64) ([]models.OverdueInstallment, error) {
	return s.store.ListOverdue(ctx, companyID, s.now())
}

// UpdateInstallment patches due date, notes or amount of a company's
// installment. It never touches the status, and an amount patch may not
// undercut what has already been paid; the store carries that guard in the
// same conditional write as the tenant and soft-delete predicates.
func (s *Service) UpdateInstallment(ctx context.Context, id, companyID int64, patch repository.InstallmentPatch) error {
	if patch.Amount != nil && patch.Amount.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidAmount
	}
	err := s.store.UpdateInstallment(ctx, id, companyID, patch)
	if err == nil {
		s.log.Infof("Installment %d updated (company %d)", id, companyID)
		return nil
	}
	if !errors.Is(err, repository.ErrNotFound) || patch.Amount == nil {
		return err
	}

	existing, findErr := s.store.FindInstallment(ctx, id, companyID)
	if findErr != nil {
		return findErr
	}
	if patch.Amount.LessThan(existing.AmountPaid) {
		return ErrAmountBelowPaid
	}
	return err
}

// CancelInstallment marks an installment CANCELED. Repeating the call on an
// already canceled installment succeeds; cancelling a PAID or RENEGOTIATED
// one is refused.
func (s *Service) CancelInstallment(ctx context.Context, id, companyID int64) error {
	inst, err := s.store.FindInstallment(ctx, id, companyID)
	if err != nil {
		return err
	}
	switch inst.Status {
	case models.StatusPaid, models.StatusRenegotiated:
		return ErrInstallmentClosed
	}

	if err := s.store.CancelInstallment(ctx, id, companyID); err != nil {
		return err
	}
	s.log.Infof("Installment %d canceled (company %d)", id, companyID)
	return nil
}

// DeleteInstallment soft-deletes an installment. The row survives in the
// store but disappears from every active query and mutation.
func (s *Service) DeleteInstallment(ctx context.Context, id, companyID int64) error {
	if err := s.store.SoftDeleteInstallment(ctx, id, companyID); err != nil {
		return err
	}
	s.log.Infof("Installment %d soft-deleted (company %d)", id, companyID)
	return nil
}

// RenegotiateInput names the superseded installments and the new terms.
type RenegotiateInput struct {
	InstallmentIDs []int64
	Terms          models.LoanTerms
	FirstDueDate   time.Time
}

// Renegotiate supersedes the given installments and replaces them with a
// freshly amortized set originating from the renegotiation, numbered after
// the contract's existing schedule.
func (s *Service) Renegotiate(ctx context.Context, contractID, companyID int64, input RenegotiateInput) ([]models.Installment, error) {
	if len(input.InstallmentIDs) == 0 {
		return nil, repository.ErrNotFound
	}
	if _, err := s.store.FindContract(ctx, contractID, companyID); err != nil {
		return nil, err
	}

	quote := amortization.ComputeSchedule(input.Terms.Principal, input.Terms.TermCount, input.Terms.MonthlyRatePercent)
	if quote.InstallmentAmount.IsZero() {
		return nil, ErrInvalidTerms
	}

	amount := quote.InstallmentAmount.Round(2)
	replacements := make([]models.Installment, 0, input.Terms.TermCount)
	for n := 0; n < input.Terms.TermCount; n++ {
		replacements = append(replacements, models.Installment{
			DueDate:    input.FirstDueDate.AddDate(0, n, 0),
			Amount:     amount,
			AmountPaid: decimal.Zero,
			Status:     models.StatusOpen,
			Origin:     models.OriginRenegotiation,
		})
	}

	if err := s.store.RenegotiateInstallments(ctx, contractID, companyID, input.InstallmentIDs, replacements); err != nil {
		return nil, err
	}

	s.log.Infof("Contract %d renegotiated (company %d): %d installments superseded, %d created",
		contractID, companyID, len(input.InstallmentIDs), len(replacements))
	return replacements, nil
}

// ListReminderRows returns unpaid installments due before now plus the
// configured horizon, for the reminder sweep.
func (s *Service) ListReminderRows(ctx context.Context) ([]repository.ReminderRow, error) {
	horizon := s.now().AddDate(0, 0, s.config.ReminderHorizonDays)
	return s.store.ListUnpaidDueBefore(ctx, horizon)
}
