package models

import (
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

const (
	CompanyStatusActive        = "active"
	CompanyStatusInactive      = "inactive"
	CompanyStatusPendingReview = "pending_review"
)

type City struct {
	ID    int    `json:"id" db:"id"`
	Name  string `json:"name" db:"name"`
	State string `json:"state" db:"state"`
	Slug  string `json:"slug" db:"slug"`
}

type Niche struct {
	ID       int            `json:"id" db:"id"`
	Name     string         `json:"name" db:"name"`
	Slug     string         `json:"slug" db:"slug"`
	Synonyms pq.StringArray `json:"synonyms" db:"synonyms"`
}

// Company is a directory listing. NicheIDs is aggregated from company_niches.
type Company struct {
	ID           int             `json:"id" db:"id"`
	Name         string          `json:"name" db:"name"`
	Slug         string          `json:"slug" db:"slug"`
	CNPJ         *string         `json:"cnpj,omitempty" db:"cnpj"`
	Phone        *string         `json:"phone,omitempty" db:"phone"`
	WhatsApp     *string         `json:"whatsapp,omitempty" db:"whatsapp"`
	Address      *string         `json:"address,omitempty" db:"address"`
	CityID       int             `json:"city_id" db:"city_id"`
	NicheIDs     pq.Int64Array   `json:"niche_ids" db:"niche_ids"`
	Rating       decimal.Decimal `json:"rating" db:"rating"`
	ReviewsCount int             `json:"reviews_count" db:"reviews_count"`
	Website      *string         `json:"website,omitempty" db:"website"`
	PlaceID      *string         `json:"place_id,omitempty" db:"place_id"`
	LogoURL      *string         `json:"logo_url,omitempty" db:"logo_url"`
	OwnerID      *int            `json:"owner_id,omitempty" db:"owner_id"`
	Status       string          `json:"status" db:"status"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}
