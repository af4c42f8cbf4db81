package models

import "time"

const (
	ClaimStatusPending   = "pending"
	ClaimStatusVerified  = "verified"
	ClaimStatusRejected  = "rejected"
	ClaimStatusCancelled = "cancelled"
)

const (
	ClaimMethodWhatsAppOTP  = "whatsapp_otp"
	ClaimMethodCNPJWhatsApp = "cnpj_whatsapp"
)

type ClaimRequest struct {
	ID         int        `json:"id" db:"id"`
	UserID     int        `json:"user_id" db:"user_id"`
	CompanyID  int        `json:"company_id" db:"company_id"`
	Method     string     `json:"method" db:"method"`
	Status     string     `json:"status" db:"status"`
	CNPJ       *string    `json:"cnpj,omitempty" db:"cnpj"`
	Attempts   int        `json:"attempts" db:"attempts"`
	Notes      *string    `json:"notes,omitempty" db:"notes"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
	VerifiedAt *time.Time `json:"verified_at,omitempty" db:"verified_at"`
}
