package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	SubscriptionActive = "active"
	SubscriptionEnded  = "ended"
)

type Plan struct {
	Code        string          `json:"code" db:"code"`
	Name        string          `json:"name" db:"name"`
	Price       decimal.Decimal `json:"price" db:"price"`
	MaxProducts int             `json:"max_products" db:"max_products"`
}

type Subscription struct {
	ID        int        `json:"id" db:"id"`
	CompanyID int        `json:"company_id" db:"company_id"`
	PlanCode  string     `json:"plan_code" db:"plan_code"`
	Status    string     `json:"status" db:"status"`
	StartedAt time.Time  `json:"started_at" db:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`
}

type ProductOffer struct {
	ID          int             `json:"id" db:"id"`
	CompanyID   int             `json:"company_id" db:"company_id"`
	Title       string          `json:"title" db:"title"`
	Description *string         `json:"description,omitempty" db:"description"`
	Price       decimal.Decimal `json:"price" db:"price"`
	IsActive    bool            `json:"is_active" db:"is_active"`
	RefreshedAt time.Time       `json:"refreshed_at" db:"refreshed_at"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}
