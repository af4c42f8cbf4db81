package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	ChannelWeb      = "web"
	ChannelWhatsApp = "whatsapp"
)

// SearchResult is one row of a company search. Sponsored rows carry the
// auction position and the hold backing the impression.
type SearchResult struct {
	Company   Company          `json:"company"`
	Sponsored bool             `json:"sponsored"`
	Position  int              `json:"position,omitempty"`
	HoldID    *uuid.UUID       `json:"impression_id,omitempty"`
	Charge    *decimal.Decimal `json:"-"`
}

type SearchResponse struct {
	SearchID  uuid.UUID      `json:"search_id"`
	CityID    int            `json:"city_id"`
	NicheID   int            `json:"niche_id"`
	Page      int            `json:"page"`
	Sponsored []SearchResult `json:"sponsored"`
	Organic   []SearchResult `json:"organic"`
}
