package models

// User represents a company staff user
type User struct {
	ID           int64  `json:"id"`
	CompanyID    int64  `json:"company_id"`
	Email        string `json:"email"`
	Username     string `json:"username"`
	PasswordHash string `json:"-"` // Not serialized
	CreatedAt    string `json:"created_at"`
}
