package service

import (
	"context"
	"fmt"
	"io"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crediar/billing-service/internal/config"
	"github.com/crediar/billing-service/internal/models"
	"github.com/crediar/billing-service/internal/repository"
	"github.com/crediar/billing-service/internal/utils"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// fakeStore mirrors the repository's tenant and soft-delete predicates in
// memory so the state machine can be exercised without a database.
type fakeStore struct {
	users        map[int64]*models.User
	customers    map[int64]*models.Customer
	contracts    map[int64]*models.Contract
	installments map[int64]*models.Installment
	nextID       int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:        map[int64]*models.User{},
		customers:    map[int64]*models.Customer{},
		contracts:    map[int64]*models.Contract{},
		installments: map[int64]*models.Installment{},
	}
}

func (f *fakeStore) id() int64 {
	f.nextID++
	return f.nextID
}

func (f *fakeStore) CreateUser(_ context.Context, user *models.User) error {
	user.ID = f.id()
	f.users[user.ID] = user
	return nil
}

func (f *fakeStore) FindUserByEmail(_ context.Context, email string) (*models.User, error) {
	for _, u := range f.users {
		if u.Email == email {
			copied := *u
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeStore) CreateCustomer(_ context.Context, customer *models.Customer) error {
	customer.ID = f.id()
	f.customers[customer.ID] = customer
	return nil
}

func (f *fakeStore) FindCustomer(_ context.Context, id, companyID int64) (*models.Customer, error) {
	c, ok := f.customers[id]
	if !ok || c.CompanyID != companyID {
		return nil, repository.ErrNotFound
	}
	copied := *c
	return &copied, nil
}

func (f *fakeStore) FindContract(_ context.Context, id, companyID int64) (*models.Contract, error) {
	c, ok := f.contracts[id]
	if !ok || c.CompanyID != companyID {
		return nil, repository.ErrNotFound
	}
	copied := *c
	return &copied, nil
}

func (f *fakeStore) CreateContractWithSchedule(_ context.Context, contract *models.Contract, installments []models.Installment) error {
	contract.ID = f.id()
	f.contracts[contract.ID] = contract
	for i := range installments {
		inst := installments[i]
		inst.ID = f.id()
		inst.ContractID = contract.ID
		inst.CompanyID = contract.CompanyID
		installments[i] = inst
		stored := inst
		f.installments[inst.ID] = &stored
	}
	return nil
}

func (f *fakeStore) visible(id, companyID int64) (*models.Installment, bool) {
	inst, ok := f.installments[id]
	if !ok || inst.CompanyID != companyID || inst.DeletedAt != nil {
		return nil, false
	}
	return inst, true
}

func (f *fakeStore) FindInstallment(_ context.Context, id, companyID int64) (*models.Installment, error) {
	inst, ok := f.visible(id, companyID)
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *inst
	return &copied, nil
}

func (f *fakeStore) ListInstallmentsByContract(_ context.Context, contractID, companyID int64) ([]models.Installment, error) {
	var result []models.Installment
	for _, inst := range f.installments {
		if inst.ContractID == contractID && inst.CompanyID == companyID && inst.DeletedAt == nil {
			result = append(result, *inst)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].InstallmentNumber < result[j].InstallmentNumber
	})
	return result, nil
}

func (f *fakeStore) ListOverdue(_ context.Context, companyID int64, asOf time.Time) ([]models.OverdueInstallment, error) {
	var result []models.OverdueInstallment
	for _, inst := range f.installments {
		if inst.CompanyID != companyID || !inst.OverdueAsOf(asOf) {
			continue
		}
		ov := models.OverdueInstallment{Installment: *inst}
		ov.Status = models.StatusOverdue
		if c, ok := f.contracts[inst.ContractID]; ok {
			ov.ContractNumber = c.ContractNumber
			if cu, ok := f.customers[c.CustomerID]; ok {
				ov.CustomerFullName = cu.FullName
			}
		}
		result = append(result, ov)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].DueDate.Before(result[j].DueDate)
	})
	return result, nil
}

func (f *fakeStore) UpdateInstallment(_ context.Context, id, companyID int64, patch repository.InstallmentPatch) error {
	inst, ok := f.visible(id, companyID)
	if !ok {
		return repository.ErrNotFound
	}
	if patch.Amount != nil && patch.Amount.LessThan(inst.AmountPaid) {
		return repository.ErrNotFound
	}
	if patch.DueDate != nil {
		inst.DueDate = *patch.DueDate
	}
	if patch.Notes != nil {
		inst.Notes = *patch.Notes
	}
	if patch.Amount != nil {
		inst.Amount = *patch.Amount
	}
	return nil
}

func (f *fakeStore) CancelInstallment(_ context.Context, id, companyID int64) error {
	inst, ok := f.visible(id, companyID)
	if !ok || inst.Status == models.StatusPaid || inst.Status == models.StatusRenegotiated {
		return repository.ErrNotFound
	}
	inst.Status = models.StatusCanceled
	return nil
}

// PostPayment mirrors the repository's conditional increment: the stored
// amount_paid is the base, never a value the caller read earlier.
func (f *fakeStore) PostPayment(_ context.Context, id, companyID int64, amount decimal.Decimal) (*models.Installment, error) {
	inst, ok := f.visible(id, companyID)
	if !ok {
		return nil, repository.ErrNotFound
	}
	if inst.Status != models.StatusOpen && inst.Status != models.StatusPartial {
		return nil, repository.ErrNotFound
	}
	newPaid := inst.AmountPaid.Add(amount)
	if newPaid.GreaterThan(inst.Amount) {
		return nil, repository.ErrNotFound
	}
	inst.AmountPaid = newPaid
	if newPaid.GreaterThanOrEqual(inst.Amount) {
		inst.Status = models.StatusPaid
		if inst.PaidAt == nil {
			now := time.Now()
			inst.PaidAt = &now
		}
	} else {
		inst.Status = models.StatusPartial
	}
	copied := *inst
	return &copied, nil
}

func (f *fakeStore) AppendInstallment(_ context.Context, contractID, companyID int64, inst *models.Installment) error {
	next := 0
	for _, existing := range f.installments {
		if existing.ContractID == contractID && existing.CompanyID == companyID && existing.InstallmentNumber > next {
			next = existing.InstallmentNumber
		}
	}
	inst.ID = f.id()
	inst.ContractID = contractID
	inst.CompanyID = companyID
	inst.InstallmentNumber = next + 1
	stored := *inst
	f.installments[stored.ID] = &stored
	return nil
}

func (f *fakeStore) SoftDeleteInstallment(_ context.Context, id, companyID int64) error {
	inst, ok := f.visible(id, companyID)
	if !ok {
		return repository.ErrNotFound
	}
	now := time.Now()
	inst.DeletedAt = &now
	return nil
}

func (f *fakeStore) RenegotiateInstallments(_ context.Context, contractID, companyID int64, ids []int64, replacements []models.Installment) error {
	targets := make([]*models.Installment, 0, len(ids))
	for _, id := range ids {
		inst, ok := f.visible(id, companyID)
		if !ok || inst.ContractID != contractID || inst.IsTerminal() {
			return repository.ErrNotFound
		}
		targets = append(targets, inst)
	}
	for _, inst := range targets {
		inst.Status = models.StatusRenegotiated
	}

	next := 0
	for _, inst := range f.installments {
		if inst.ContractID == contractID && inst.CompanyID == companyID && inst.InstallmentNumber > next {
			next = inst.InstallmentNumber
		}
	}
	for i := range replacements {
		next++
		replacements[i].ID = f.id()
		replacements[i].ContractID = contractID
		replacements[i].CompanyID = companyID
		replacements[i].InstallmentNumber = next
		stored := replacements[i]
		f.installments[stored.ID] = &stored
	}
	return nil
}

func (f *fakeStore) ListUnpaidDueBefore(_ context.Context, horizon time.Time) ([]repository.ReminderRow, error) {
	var result []repository.ReminderRow
	for _, inst := range f.installments {
		if inst.DeletedAt != nil || inst.IsTerminal() || inst.Status == models.StatusCanceled {
			continue
		}
		if inst.DueDate.Before(horizon) && inst.AmountPaid.LessThan(inst.Amount) {
			result = append(result, repository.ReminderRow{Installment: *inst})
		}
	}
	return result, nil
}

type fixedRate struct {
	rate decimal.Decimal
}

func (f fixedRate) MonthlyRatePercent(context.Context) (decimal.Decimal, error) {
	return f.rate, nil
}

func newTestService(store *fakeStore) *Service {
	log := logrus.New()
	log.SetOutput(io.Discard)
	cfg := &config.Config{
		JWTSecret:            "test-secret",
		HMACSecret:           "test-hmac",
		ContractNumberPrefix: "77",
		ReminderHorizonDays:  3,
	}
	return NewService(store, fixedRate{rate: dec("1.5")}, log, cfg)
}

func seedCustomer(store *fakeStore, companyID int64) *models.Customer {
	c := &models.Customer{CompanyID: companyID, FullName: "Maria Souza", Email: "maria@example.com"}
	_ = store.CreateCustomer(context.Background(), c)
	return c
}

func mustCreateContract(t *testing.T, svc *Service, companyID, customerID int64, principal string, terms int, rate string, firstDue time.Time) (*models.Contract, []models.Installment) {
	t.Helper()
	contract, installments, err := svc.CreateContract(context.Background(), companyID, CreateContractInput{
		CustomerID: customerID,
		Terms: models.LoanTerms{
			Principal:          dec(principal),
			TermCount:          terms,
			MonthlyRatePercent: dec(rate),
		},
		FirstDueDate: firstDue,
	})
	require.NoError(t, err)
	return contract, installments
}

func TestCreateContract_BuildsContiguousOpenSchedule(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	customer := seedCustomer(store, 1)
	firstDue := time.Date(2026, 9, 10, 0, 0, 0, 0, time.UTC)

	contract, installments, err := svc.CreateContract(context.Background(), 1, CreateContractInput{
		CustomerID: customer.ID,
		Terms: models.LoanTerms{
			Principal:          dec("10000"),
			TermCount:          12,
			MonthlyRatePercent: dec("2"),
		},
		FirstDueDate: firstDue,
	})
	require.NoError(t, err)
	require.Len(t, installments, 12)

	assert.True(t, utils.ValidNumber(contract.ContractNumber))
	assert.Equal(t, "945.60", installments[0].Amount.StringFixed(2))
	assert.True(t, contract.TotalAmount.Equal(installments[0].Amount.Mul(decimal.NewFromInt(12))))
	assert.NotEmpty(t, contract.TermsHMAC)

	for i, inst := range installments {
		assert.Equal(t, i+1, inst.InstallmentNumber, "numbering must be contiguous from 1")
		assert.Equal(t, models.StatusOpen, inst.Status)
		assert.Equal(t, models.OriginContract, inst.Origin)
		assert.True(t, inst.AmountPaid.IsZero())
		assert.Equal(t, firstDue.AddDate(0, i, 0), inst.DueDate)
		assert.Equal(t, int64(1), inst.CompanyID)
	}
}

func TestCreateContract_InvalidTermsRejected(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	customer := seedCustomer(store, 1)

	_, _, err := svc.CreateContract(context.Background(), 1, CreateContractInput{
		CustomerID: customer.ID,
		Terms:      models.LoanTerms{Principal: dec("0"), TermCount: 12, MonthlyRatePercent: dec("2")},
	})
	assert.ErrorIs(t, err, ErrInvalidTerms)
	assert.Empty(t, store.installments, "no rows may be written for invalid terms")
}

func TestCreateContract_ForeignCustomerNotFound(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	customer := seedCustomer(store, 2) // belongs to another company

	_, _, err := svc.CreateContract(context.Background(), 1, CreateContractInput{
		CustomerID:   customer.ID,
		Terms:        models.LoanTerms{Principal: dec("1000"), TermCount: 4, MonthlyRatePercent: dec("1")},
		FirstDueDate: time.Now(),
	})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestRegisterPayment_PartialThenPaid(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	customer := seedCustomer(store, 1)
	_, installments := mustCreateContract(t, svc, 1, customer.ID, "1200", 12, "0", time.Now())
	id := installments[0].ID

	inst, err := svc.RegisterPayment(context.Background(), id, 1, dec("40"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusPartial, inst.Status)
	assert.Nil(t, inst.PaidAt)
	assert.True(t, inst.AmountPaid.Equal(dec("40")))

	inst, err = svc.RegisterPayment(context.Background(), id, 1, dec("60"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaid, inst.Status)
	require.NotNil(t, inst.PaidAt, "paid_at must be stamped on the PAID transition")
	assert.True(t, inst.AmountPaid.GreaterThanOrEqual(inst.Amount))

	// Terminal: no further postings.
	_, err = svc.RegisterPayment(context.Background(), id, 1, dec("1"))
	assert.ErrorIs(t, err, ErrInstallmentClosed)
}

func TestRegisterPayment_RejectsOverpaymentWithoutMutation(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	customer := seedCustomer(store, 1)
	_, installments := mustCreateContract(t, svc, 1, customer.ID, "1200", 12, "0", time.Now())
	id := installments[0].ID

	_, err := svc.RegisterPayment(context.Background(), id, 1, dec("100.01"))
	assert.ErrorIs(t, err, ErrOverpayment)

	stored := store.installments[id]
	assert.True(t, stored.AmountPaid.IsZero())
	assert.Equal(t, models.StatusOpen, stored.Status)
}

func TestRegisterPayment_RejectsNonPositiveAmount(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	customer := seedCustomer(store, 1)
	_, installments := mustCreateContract(t, svc, 1, customer.ID, "1200", 12, "0", time.Now())

	_, err := svc.RegisterPayment(context.Background(), installments[0].ID, 1, dec("0"))
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = svc.RegisterPayment(context.Background(), installments[0].ID, 1, dec("-5"))
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestRegisterPayment_ForeignTenantNotFound(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	customer := seedCustomer(store, 1)
	_, installments := mustCreateContract(t, svc, 1, customer.ID, "1200", 12, "0", time.Now())
	id := installments[0].ID

	_, err := svc.RegisterPayment(context.Background(), id, 99, dec("10"))
	assert.ErrorIs(t, err, repository.ErrNotFound)

	stored := store.installments[id]
	assert.True(t, stored.AmountPaid.IsZero(), "foreign posting must not mutate the row")
}

func TestRegisterPayment_IncrementsStoredBalance(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	customer := seedCustomer(store, 1)
	_, installments := mustCreateContract(t, svc, 1, customer.ID, "1200", 12, "0", time.Now())
	id := installments[0].ID

	_, err := svc.RegisterPayment(context.Background(), id, 1, dec("40"))
	require.NoError(t, err)

	// Another posting lands between this caller's operations.
	store.installments[id].AmountPaid = dec("90")

	inst, err := svc.RegisterPayment(context.Background(), id, 1, dec("10"))
	require.NoError(t, err)
	assert.True(t, inst.AmountPaid.Equal(dec("100")),
		"posting must add to the stored balance, not overwrite it")
	assert.Equal(t, models.StatusPaid, inst.Status)

	// And the guard sees the stored balance too.
	store.installments[id].AmountPaid = dec("90")
	store.installments[id].Status = models.StatusPartial
	_, err = svc.RegisterPayment(context.Background(), id, 1, dec("20"))
	assert.ErrorIs(t, err, ErrOverpayment)
	assert.True(t, store.installments[id].AmountPaid.Equal(dec("90")))
}

func TestCreateManualInstallment_AppendsToSchedule(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	customer := seedCustomer(store, 1)
	contract, _ := mustCreateContract(t, svc, 1, customer.ID, "1200", 12, "0", time.Now())

	dueDate := time.Date(2027, 9, 15, 0, 0, 0, 0, time.UTC)
	inst, err := svc.CreateManualInstallment(context.Background(), contract.ID, 1, ManualInstallmentInput{
		DueDate: dueDate,
		Amount:  dec("150.555"),
		Notes:   "late fee agreed by phone",
	})
	require.NoError(t, err)

	assert.Equal(t, models.OriginManual, inst.Origin)
	assert.Equal(t, models.StatusOpen, inst.Status)
	assert.Equal(t, 13, inst.InstallmentNumber, "numbering continues after the schedule")
	assert.Equal(t, "150.56", inst.Amount.StringFixed(2))
	assert.True(t, inst.AmountPaid.IsZero())
	assert.Equal(t, dueDate, inst.DueDate)

	stored := store.installments[inst.ID]
	require.NotNil(t, stored)
	assert.Equal(t, models.OriginManual, stored.Origin)
	assert.Equal(t, int64(1), stored.CompanyID)
}

func TestCreateManualInstallment_Rejections(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	customer := seedCustomer(store, 1)
	contract, _ := mustCreateContract(t, svc, 1, customer.ID, "1200", 12, "0", time.Now())

	_, err := svc.CreateManualInstallment(context.Background(), contract.ID, 1, ManualInstallmentInput{
		DueDate: time.Now(),
		Amount:  dec("0"),
	})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = svc.CreateManualInstallment(context.Background(), contract.ID, 42, ManualInstallmentInput{
		DueDate: time.Now(),
		Amount:  dec("50"),
	})
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.Len(t, store.installments, 12, "rejected creations must not write rows")
}

func TestCancelInstallment_IsIdempotent(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	customer := seedCustomer(store, 1)
	_, installments := mustCreateContract(t, svc, 1, customer.ID, "1200", 12, "0", time.Now())
	id := installments[2].ID

	require.NoError(t, svc.CancelInstallment(context.Background(), id, 1))
	assert.Equal(t, models.StatusCanceled, store.installments[id].Status)

	// Second cancellation is a defined no-op success.
	require.NoError(t, svc.CancelInstallment(context.Background(), id, 1))
	assert.Equal(t, models.StatusCanceled, store.installments[id].Status)
}

func TestCancelInstallment_PaidIsRefused(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	customer := seedCustomer(store, 1)
	_, installments := mustCreateContract(t, svc, 1, customer.ID, "1200", 12, "0", time.Now())
	id := installments[0].ID

	_, err := svc.RegisterPayment(context.Background(), id, 1, dec("100"))
	require.NoError(t, err)

	err = svc.CancelInstallment(context.Background(), id, 1)
	assert.ErrorIs(t, err, ErrInstallmentClosed)
	assert.Equal(t, models.StatusPaid, store.installments[id].Status)
}

func TestCancelInstallment_ForeignTenantNotFound(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	customer := seedCustomer(store, 1)
	_, installments := mustCreateContract(t, svc, 1, customer.ID, "1200", 12, "0", time.Now())

	err := svc.CancelInstallment(context.Background(), installments[0].ID, 42)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.Equal(t, models.StatusOpen, store.installments[installments[0].ID].Status)
}

func TestUpdateInstallment_PatchesOnlyProvidedFields(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	customer := seedCustomer(store, 1)
	_, installments := mustCreateContract(t, svc, 1, customer.ID, "1200", 12, "0", time.Now())
	id := installments[0].ID
	originalDue := store.installments[id].DueDate

	notes := "customer asked to move the charge"
	err := svc.UpdateInstallment(context.Background(), id, 1, repository.InstallmentPatch{Notes: &notes})
	require.NoError(t, err)

	stored := store.installments[id]
	assert.Equal(t, notes, stored.Notes)
	assert.Equal(t, originalDue, stored.DueDate)
	assert.Equal(t, models.StatusOpen, stored.Status, "update must not touch status")
}

func TestUpdateInstallment_RejectsAmountBelowPaid(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	customer := seedCustomer(store, 1)
	_, installments := mustCreateContract(t, svc, 1, customer.ID, "1200", 12, "0", time.Now())
	id := installments[0].ID

	_, err := svc.RegisterPayment(context.Background(), id, 1, dec("40"))
	require.NoError(t, err)

	below := dec("30")
	err = svc.UpdateInstallment(context.Background(), id, 1, repository.InstallmentPatch{Amount: &below})
	assert.ErrorIs(t, err, ErrAmountBelowPaid)
	assert.True(t, store.installments[id].Amount.Equal(dec("100")),
		"rejected patch must not mutate the row")

	// Lowering to exactly the paid amount is still a well-formed record.
	atPaid := dec("40")
	err = svc.UpdateInstallment(context.Background(), id, 1, repository.InstallmentPatch{Amount: &atPaid})
	require.NoError(t, err)
	assert.True(t, store.installments[id].Amount.Equal(dec("40")))
	assert.Equal(t, models.StatusPartial, store.installments[id].Status, "update must not touch status")
}

func TestUpdateInstallment_SoftDeletedNotFound(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	customer := seedCustomer(store, 1)
	_, installments := mustCreateContract(t, svc, 1, customer.ID, "1200", 12, "0", time.Now())
	id := installments[0].ID

	require.NoError(t, svc.DeleteInstallment(context.Background(), id, 1))

	notes := "should not land"
	err := svc.UpdateInstallment(context.Background(), id, 1, repository.InstallmentPatch{Notes: &notes})
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.Empty(t, store.installments[id].Notes)
}

func TestListOverdue_FiltersAndOrders(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	customer := seedCustomer(store, 1)
	past := time.Now().AddDate(0, -6, 0)
	_, installments := mustCreateContract(t, svc, 1, customer.ID, "600", 6, "0", past)

	// Fully pay the first, soft-delete the second, cancel the third.
	_, err := svc.RegisterPayment(context.Background(), installments[0].ID, 1, dec("100"))
	require.NoError(t, err)
	require.NoError(t, svc.DeleteInstallment(context.Background(), installments[1].ID, 1))
	require.NoError(t, svc.CancelInstallment(context.Background(), installments[2].ID, 1))

	// Another company's overdue contract must stay invisible.
	other := seedCustomer(store, 2)
	mustCreateContract(t, svc, 2, other.ID, "500", 5, "0", past)

	overdue, err := svc.ListOverdue(context.Background(), 1)
	require.NoError(t, err)

	for _, ov := range overdue {
		assert.Equal(t, int64(1), ov.CompanyID)
		assert.Equal(t, models.StatusOverdue, ov.Status)
		assert.True(t, ov.AmountPaid.LessThan(ov.Amount))
		assert.Nil(t, ov.DeletedAt)
		assert.True(t, ov.DueDate.Before(time.Now()))
		assert.Equal(t, customer.FullName, ov.CustomerFullName)
		assert.NotEmpty(t, ov.ContractNumber)
	}
	for i := 1; i < len(overdue); i++ {
		assert.False(t, overdue[i].DueDate.Before(overdue[i-1].DueDate),
			"sequence must be non-decreasing by due date")
	}
	// 6 installments minus paid, deleted, canceled and any not yet due.
	ids := map[int64]bool{}
	for _, ov := range overdue {
		ids[ov.ID] = true
	}
	assert.False(t, ids[installments[0].ID])
	assert.False(t, ids[installments[1].ID])
	assert.False(t, ids[installments[2].ID])
}

func TestRenegotiate_SupersedesAndContinuesNumbering(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	customer := seedCustomer(store, 1)
	contract, installments := mustCreateContract(t, svc, 1, customer.ID, "1200", 12, "0", time.Now())

	firstDue := time.Date(2026, 10, 5, 0, 0, 0, 0, time.UTC)
	replacements, err := svc.Renegotiate(context.Background(), contract.ID, 1, RenegotiateInput{
		InstallmentIDs: []int64{installments[10].ID, installments[11].ID},
		Terms:          models.LoanTerms{Principal: dec("200"), TermCount: 4, MonthlyRatePercent: dec("1")},
		FirstDueDate:   firstDue,
	})
	require.NoError(t, err)
	require.Len(t, replacements, 4)

	assert.Equal(t, models.StatusRenegotiated, store.installments[installments[10].ID].Status)
	assert.Equal(t, models.StatusRenegotiated, store.installments[installments[11].ID].Status)

	for i, rep := range replacements {
		assert.Equal(t, 13+i, rep.InstallmentNumber, "numbering continues after the existing schedule")
		assert.Equal(t, models.OriginRenegotiation, rep.Origin)
		assert.Equal(t, models.StatusOpen, rep.Status)
		assert.Equal(t, firstDue.AddDate(0, i, 0), rep.DueDate)
	}
}

func TestRenegotiate_TerminalTargetRollsBack(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	customer := seedCustomer(store, 1)
	contract, installments := mustCreateContract(t, svc, 1, customer.ID, "1200", 12, "0", time.Now())

	_, err := svc.RegisterPayment(context.Background(), installments[0].ID, 1, dec("100"))
	require.NoError(t, err)

	_, err = svc.Renegotiate(context.Background(), contract.ID, 1, RenegotiateInput{
		InstallmentIDs: []int64{installments[0].ID, installments[1].ID},
		Terms:          models.LoanTerms{Principal: dec("200"), TermCount: 2, MonthlyRatePercent: dec("0")},
		FirstDueDate:   time.Now(),
	})
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.Equal(t, models.StatusOpen, store.installments[installments[1].ID].Status)
}

func TestSimulate_RoundsForDisplay(t *testing.T) {
	svc := newTestService(newFakeStore())

	quote, err := svc.Simulate(context.Background(), models.LoanTerms{
		Principal:          dec("10000"),
		TermCount:          12,
		MonthlyRatePercent: dec("2"),
	}, false)
	require.NoError(t, err)
	assert.Equal(t, "945.6", quote.InstallmentAmount.String())
	assert.True(t, quote.TotalAmount.Equal(dec("11347.15")))
}

func TestSimulate_DegradesToZeroQuote(t *testing.T) {
	svc := newTestService(newFakeStore())

	quote, err := svc.Simulate(context.Background(), models.LoanTerms{
		Principal: dec("-100"),
		TermCount: 0,
	}, false)
	require.NoError(t, err, "malformed input must not fail the quote")
	assert.True(t, quote.InstallmentAmount.IsZero())
	assert.True(t, quote.TotalAmount.IsZero())
}

func TestSimulate_UsesReferenceRate(t *testing.T) {
	svc := newTestService(newFakeStore())

	withOwnRate, err := svc.Simulate(context.Background(), models.LoanTerms{
		Principal:          dec("10000"),
		TermCount:          12,
		MonthlyRatePercent: dec("9.9"),
	}, true)
	require.NoError(t, err)

	withFixedRate, err := svc.Simulate(context.Background(), models.LoanTerms{
		Principal:          dec("10000"),
		TermCount:          12,
		MonthlyRatePercent: dec("1.5"),
	}, false)
	require.NoError(t, err)

	assert.True(t, withOwnRate.InstallmentAmount.Equal(withFixedRate.InstallmentAmount),
		"reference rate must override the submitted rate")
}

func TestLogin_IssuesTokenForValidCredentials(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	user, err := svc.Register(context.Background(), 7, "ana", "ana@example.com", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, int64(7), user.CompanyID)

	token, err := svc.Login(context.Background(), "ana@example.com", "hunter22")
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	_, err = svc.Login(context.Background(), "ana@example.com", "wrong")
	assert.Error(t, err)
}

func TestPaidStateInvariant(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	customer := seedCustomer(store, 1)
	_, installments := mustCreateContract(t, svc, 1, customer.ID, "900", 9, "1.2", time.Now())

	for i, inst := range installments[:3] {
		_, err := svc.RegisterPayment(context.Background(), inst.ID, 1, inst.Amount)
		require.NoError(t, err, fmt.Sprintf("installment %d", i+1))
	}

	for _, inst := range store.installments {
		if inst.Status != models.StatusPaid {
			continue
		}
		assert.True(t, inst.AmountPaid.GreaterThanOrEqual(inst.Amount))
		assert.NotNil(t, inst.PaidAt)
	}
}
