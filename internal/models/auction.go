package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	AuctionModeManual = "manual"
	AuctionModeAuto   = "auto"
	AuctionModeSmart  = "smart"
)

const (
	HoldStatusHeld     = "held"
	HoldStatusCaptured = "captured"
	HoldStatusReleased = "released"
)

type AuctionConfig struct {
	ID             int                 `json:"id" db:"id"`
	CompanyID      int                 `json:"company_id" db:"company_id"`
	CityID         int                 `json:"city_id" db:"city_id"`
	NicheID        int                 `json:"niche_id" db:"niche_id"`
	Mode           string              `json:"mode" db:"mode"`
	TargetPosition *int                `json:"target_position,omitempty" db:"target_position"`
	BidAmount      decimal.NullDecimal `json:"bid_amount" db:"bid_amount"`
	DailyBudget    decimal.Decimal     `json:"daily_budget" db:"daily_budget"`
	PauseOnLimit   bool                `json:"pause_on_limit" db:"pause_on_limit"`
	IsActive       bool                `json:"is_active" db:"is_active"`
	CreatedAt      time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at" db:"updated_at"`
}

// ImpressionHold reserves the charge of one sponsored placement until it is
// captured into a search_debit transaction or released.
type ImpressionHold struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	SearchID      uuid.UUID       `json:"search_id" db:"search_id"`
	CompanyID     int             `json:"company_id" db:"company_id"`
	CityID        int             `json:"city_id" db:"city_id"`
	NicheID       int             `json:"niche_id" db:"niche_id"`
	Position      int             `json:"position" db:"position"`
	Amount        decimal.Decimal `json:"amount" db:"amount"`
	Status        string          `json:"status" db:"status"`
	TransactionID *uuid.UUID      `json:"transaction_id,omitempty" db:"transaction_id"`
	ClickedAt     *time.Time      `json:"clicked_at,omitempty" db:"clicked_at"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	SettledAt     *time.Time      `json:"settled_at,omitempty" db:"settled_at"`
}
