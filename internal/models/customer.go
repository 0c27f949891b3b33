package models

// Customer represents a debtor the company bills
type Customer struct {
	ID        int64  `json:"id"`
	CompanyID int64  `json:"company_id"`
	FullName  string `json:"full_name"`
	Email     string `json:"email"`
	CreatedAt string `json:"created_at"`
}
