package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

const (
	CandidatePending   = "pending"
	CandidateApproved  = "approved"
	CandidateRejected  = "rejected"
	CandidateDuplicate = "duplicate"
)

// SerpAPIRun is one import batch pulled from the Google Maps engine.
type SerpAPIRun struct {
	ID              uuid.UUID  `json:"id" db:"id"`
	CityID          int        `json:"city_id" db:"city_id"`
	NicheID         int        `json:"niche_id" db:"niche_id"`
	Query           string     `json:"query" db:"query"`
	Status          string     `json:"status" db:"status"`
	PagesFetched    int        `json:"pages_fetched" db:"pages_fetched"`
	CandidatesFound int        `json:"candidates_found" db:"candidates_found"`
	DuplicatesFound int        `json:"duplicates_found" db:"duplicates_found"`
	Error           *string    `json:"error,omitempty" db:"error"`
	StartedBy       *int       `json:"started_by,omitempty" db:"started_by"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty" db:"finished_at"`
}

type SerpAPICandidate struct {
	ID           int             `json:"id" db:"id"`
	RunID        uuid.UUID       `json:"run_id" db:"run_id"`
	PlaceID      *string         `json:"place_id,omitempty" db:"place_id"`
	Name         string          `json:"name" db:"name"`
	Address      *string         `json:"address,omitempty" db:"address"`
	Phone        *string         `json:"phone,omitempty" db:"phone"`
	Website      *string         `json:"website,omitempty" db:"website"`
	Rating       decimal.Decimal `json:"rating" db:"rating"`
	ReviewsCount int             `json:"reviews_count" db:"reviews_count"`
	Latitude     *float64        `json:"latitude,omitempty" db:"latitude"`
	Longitude    *float64        `json:"longitude,omitempty" db:"longitude"`
	Status       string          `json:"status" db:"status"`
	DuplicateOf  *int            `json:"duplicate_of,omitempty" db:"duplicate_of"`
	CompanyID    *int            `json:"company_id,omitempty" db:"company_id"`
	Raw          Metadata        `json:"-" db:"raw"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	ReviewedAt   *time.Time      `json:"reviewed_at,omitempty" db:"reviewed_at"`
}
