package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/crediar/billing-service/internal/middleware"
	"github.com/crediar/billing-service/internal/models"
	"github.com/crediar/billing-service/internal/repository"
	"github.com/crediar/billing-service/internal/service"
)

const dateLayout = "2006-01-02"

type Handler struct {
	svc *service.Service
}

func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// Register handles staff user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CompanyID int64  `json:"company_id"`
		Username  string `json:"username"`
		Email     string `json:"email"`
		Password  string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.CompanyID == 0 || req.Email == "" || req.Password == "" {
		http.Error(w, "company_id, email and password are required", http.StatusBadRequest)
		return
	}

	user, err := h.svc.Register(r.Context(), req.CompanyID, req.Username, req.Email, req.Password)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, user)
}

// Login handles staff authentication
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	token, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// Simulate handles amortization quote requests for the simulation form
func (h *Handler) Simulate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Principal          decimal.Decimal `json:"principal"`
		TermCount          int             `json:"term_count"`
		MonthlyRatePercent decimal.Decimal `json:"monthly_rate_percent"`
		UseReferenceRate   bool            `json:"use_reference_rate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	quote, err := h.svc.Simulate(r.Context(), models.LoanTerms{
		Principal:          req.Principal,
		TermCount:          req.TermCount,
		MonthlyRatePercent: req.MonthlyRatePercent,
	}, req.UseReferenceRate)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, quote)
}

// CreateCustomer handles customer creation for the authenticated company
func (h *Handler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	companyID, ok := middleware.CompanyID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		FullName string `json:"full_name"`
		Email    string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.FullName == "" {
		http.Error(w, "full_name is required", http.StatusBadRequest)
		return
	}

	customer := &models.Customer{CompanyID: companyID, FullName: req.FullName, Email: req.Email}
	if err := h.svc.CreateCustomer(r.Context(), customer); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, customer)
}

// CreateContract activates a contract and its installment schedule
func (h *Handler) CreateContract(w http.ResponseWriter, r *http.Request) {
	companyID, ok := middleware.CompanyID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		CustomerID         int64           `json:"customer_id"`
		Principal          decimal.Decimal `json:"principal"`
		TermCount          int             `json:"term_count"`
		MonthlyRatePercent decimal.Decimal `json:"monthly_rate_percent"`
		FirstDueDate       string          `json:"first_due_date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	firstDue, err := time.Parse(dateLayout, req.FirstDueDate)
	if err != nil {
		http.Error(w, "first_due_date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	contract, installments, err := h.svc.CreateContract(r.Context(), companyID, service.CreateContractInput{
		CustomerID: req.CustomerID,
		Terms: models.LoanTerms{
			Principal:          req.Principal,
			TermCount:          req.TermCount,
			MonthlyRatePercent: req.MonthlyRatePercent,
		},
		FirstDueDate: firstDue,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]any{
		"contract":     contract,
		"installments": installments,
	})
}

// ListContractInstallments returns a contract's schedule
func (h *Handler) ListContractInstallments(w http.ResponseWriter, r *http.Request) {
	companyID, ok := middleware.CompanyID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	contractID, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "Invalid contract id", http.StatusBadRequest)
		return
	}

	installments, err := h.svc.ListContractInstallments(r.Context(), contractID, companyID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, installments)
}

// Renegotiate supersedes installments with a freshly amortized set
func (h *Handler) Renegotiate(w http.ResponseWriter, r *http.Request) {
	companyID, ok := middleware.CompanyID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	contractID, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "Invalid contract id", http.StatusBadRequest)
		return
	}

	var req struct {
		InstallmentIDs     []int64         `json:"installment_ids"`
		Principal          decimal.Decimal `json:"principal"`
		TermCount          int             `json:"term_count"`
		MonthlyRatePercent decimal.Decimal `json:"monthly_rate_percent"`
		FirstDueDate       string          `json:"first_due_date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	firstDue, err := time.Parse(dateLayout, req.FirstDueDate)
	if err != nil {
		http.Error(w, "first_due_date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	replacements, err := h.svc.Renegotiate(r.Context(), contractID, companyID, service.RenegotiateInput{
		InstallmentIDs: req.InstallmentIDs,
		Terms: models.LoanTerms{
			Principal:          req.Principal,
			TermCount:          req.TermCount,
			MonthlyRatePercent: req.MonthlyRatePercent,
		},
		FirstDueDate: firstDue,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, replacements)
}

// CreateManualInstallment appends a hand-entered installment to a contract
func (h *Handler) CreateManualInstallment(w http.ResponseWriter, r *http.Request) {
	companyID, ok := middleware.CompanyID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	contractID, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "Invalid contract id", http.StatusBadRequest)
		return
	}

	var req struct {
		DueDate string          `json:"due_date"`
		Amount  decimal.Decimal `json:"amount"`
		Notes   string          `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	dueDate, err := time.Parse(dateLayout, req.DueDate)
	if err != nil {
		http.Error(w, "due_date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	inst, err := h.svc.CreateManualInstallment(r.Context(), contractID, companyID, service.ManualInstallmentInput{
		DueDate: dueDate,
		Amount:  req.Amount,
		Notes:   req.Notes,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, inst)
}

// ListOverdue returns the company's overdue installments
func (h *Handler) ListOverdue(w http.ResponseWriter, r *http.Request) {
	companyID, ok := middleware.CompanyID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	overdue, err := h.svc.ListOverdue(r.Context(), companyID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if overdue == nil {
		overdue = []models.OverdueInstallment{}
	}
	h.writeJSON(w, http.StatusOK, overdue)
}

// UpdateInstallment patches due date, notes or amount
func (h *Handler) UpdateInstallment(w http.ResponseWriter, r *http.Request) {
	companyID, ok := middleware.CompanyID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "Invalid installment id", http.StatusBadRequest)
		return
	}

	var req struct {
		DueDate *string          `json:"due_date"`
		Notes   *string          `json:"notes"`
		Amount  *decimal.Decimal `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	patch := repository.InstallmentPatch{Notes: req.Notes, Amount: req.Amount}
	if req.DueDate != nil {
		due, err := time.Parse(dateLayout, *req.DueDate)
		if err != nil {
			http.Error(w, "due_date must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		patch.DueDate = &due
	}

	if err := h.svc.UpdateInstallment(r.Context(), id, companyID, patch); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CancelInstallment marks an installment CANCELED
func (h *Handler) CancelInstallment(w http.ResponseWriter, r *http.Request) {
	companyID, ok := middleware.CompanyID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "Invalid installment id", http.StatusBadRequest)
		return
	}

	if err := h.svc.CancelInstallment(r.Context(), id, companyID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RegisterPayment posts a payment against an installment
func (h *Handler) RegisterPayment(w http.ResponseWriter, r *http.Request) {
	companyID, ok := middleware.CompanyID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "Invalid installment id", http.StatusBadRequest)
		return
	}

	var req struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	inst, err := h.svc.RegisterPayment(r.Context(), id, companyID, req.Amount)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, inst)
}

// DeleteInstallment soft-deletes an installment
func (h *Handler) DeleteInstallment(w http.ResponseWriter, r *http.Request) {
	companyID, ok := middleware.CompanyID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "Invalid installment id", http.StatusBadRequest)
		return
	}

	if err := h.svc.DeleteInstallment(r.Context(), id, companyID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func pathID(r *http.Request, key string) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)[key], 10, 64)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		http.Error(w, "Not found", http.StatusNotFound)
	case errors.Is(err, service.ErrInstallmentClosed):
		http.Error(w, "Installment is closed", http.StatusConflict)
	case errors.Is(err, service.ErrOverpayment),
		errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrAmountBelowPaid),
		errors.Is(err, service.ErrInvalidTerms):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
