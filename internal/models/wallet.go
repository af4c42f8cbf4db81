package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Transaction types
const (
	TxTypeRecharge    = "recharge"
	TxTypeCredit      = "credit"
	TxTypeSearchDebit = "search_debit"
	TxTypeWalletDebit = "wallet_debit"
)

// Transaction statuses
const (
	TxStatusPending   = "pending"
	TxStatusConfirmed = "confirmed"
	TxStatusFailed    = "failed"
	TxStatusExpired   = "expired"
)

// Transaction providers
const (
	ProviderPix      = "pix"
	ProviderAdmin    = "admin"
	ProviderAuction  = "auction"
	ProviderInternal = "wallet"
)

type Wallet struct {
	CompanyID int             `json:"company_id" db:"company_id"`
	Balance   decimal.Decimal `json:"balance" db:"balance"`
	Reserved  decimal.Decimal `json:"reserved" db:"reserved"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// Available is the part of the balance not held by pending impressions.
func (w *Wallet) Available() decimal.Decimal {
	return w.Balance.Sub(w.Reserved)
}

// Transaction is an append-only ledger row.
type Transaction struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	CompanyID   int             `json:"company_id" db:"company_id"`
	Type        string          `json:"type" db:"type"`
	Amount      decimal.Decimal `json:"amount" db:"amount"`
	Status      string          `json:"status" db:"status"`
	Provider    string          `json:"provider" db:"provider"`
	Reference   *string         `json:"reference,omitempty" db:"reference"`
	Metadata    Metadata        `json:"metadata,omitempty" db:"metadata"`
	OccurredAt  time.Time       `json:"occurred_at" db:"occurred_at"`
	ConfirmedAt *time.Time      `json:"confirmed_at,omitempty" db:"confirmed_at"`
}
