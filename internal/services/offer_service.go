package services

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/buscai/backend/internal/models"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

const (
	offerColumns = `id, company_id, title, description, price, is_active, refreshed_at, created_at, updated_at`

	maxOfferResults = 5
	offerFreshness  = 24 * time.Hour
)

// OfferRequest represents a new product offer
// @Description Product offer request structure
type OfferRequest struct {
	CompanyID   int             `json:"company_id,omitempty" example:"12"`
	Title       string          `json:"title" validate:"required,min=3,max=200" example:"Troca de torneira"`
	Description *string         `json:"description,omitempty" validate:"omitempty,max=2000" example:"Mão de obra inclusa"`
	Price       decimal.Decimal `json:"price" validate:"gte=0" swaggertype:"string" example:"80.00"`
}

// OfferResult is an offer as shown in offer search.
// @Description Offer search result structure
type OfferResult struct {
	models.ProductOffer
	CompanyName     string  `json:"company_name" db:"company_name"`
	CompanySlug     string  `json:"company_slug" db:"company_slug"`
	CompanyWhatsApp *string `json:"company_whatsapp,omitempty" db:"company_whatsapp"`
}

type OfferService struct {
	db            *sqlx.DB
	subscriptions *SubscriptionService
	now           func() time.Time
}

func NewOfferService(db *sqlx.DB, subscriptions *SubscriptionService) *OfferService {
	return &OfferService{
		db:            db,
		subscriptions: subscriptions,
		now:           time.Now,
	}
}

// Create adds an offer when the company's plan still has room for it.
func (s *OfferService) Create(ctx context.Context, companyID int, req OfferRequest) (*models.ProductOffer, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	// serializes concurrent creates of the same company
	_, err = tx.ExecContext(ctx, `SELECT id FROM companies WHERE id = $1 FOR UPDATE`, companyID)
	if err != nil {
		return nil, err
	}

	plan, err := s.subscriptions.activePlan(ctx, tx, companyID)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, ErrSubscriptionRequired
	}

	var active int
	err = tx.GetContext(ctx, &active, `
		SELECT COUNT(*) FROM product_offers WHERE company_id = $1 AND is_active`, companyID)
	if err != nil {
		return nil, err
	}
	if active >= plan.MaxProducts {
		return nil, ErrProductLimitReached
	}

	now := s.now()
	var offer models.ProductOffer
	err = tx.GetContext(ctx, &offer, `
		INSERT INTO product_offers (company_id, title, description, price, is_active, refreshed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, TRUE, $5, $5, $5)
		RETURNING `+offerColumns,
		companyID, strings.TrimSpace(req.Title), req.Description, req.Price, now)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	log.Printf("[OFFERS] Company %d created offer %d (%d/%d on plan %s)", companyID, offer.ID, active+1, plan.MaxProducts, plan.Code)
	return &offer, nil
}

func (s *OfferService) List(ctx context.Context, companyID int) ([]models.ProductOffer, error) {
	offers := []models.ProductOffer{}
	err := s.db.SelectContext(ctx, &offers, `
		SELECT `+offerColumns+`
		FROM product_offers
		WHERE company_id = $1
		ORDER BY created_at DESC`, companyID)
	return offers, err
}

// Deactivate hides an offer. The row is kept.
func (s *OfferService) Deactivate(ctx context.Context, companyID, offerID int) (*models.ProductOffer, error) {
	return s.update(ctx, `
		UPDATE product_offers SET is_active = FALSE, updated_at = $1
		WHERE id = $2 AND company_id = $3
		RETURNING `+offerColumns, s.now(), offerID, companyID)
}

// Refresh puts an offer back into offer search for another day.
func (s *OfferService) Refresh(ctx context.Context, companyID, offerID int) (*models.ProductOffer, error) {
	return s.update(ctx, `
		UPDATE product_offers SET refreshed_at = $1, updated_at = $1
		WHERE id = $2 AND company_id = $3
		RETURNING `+offerColumns, s.now(), offerID, companyID)
}

func (s *OfferService) update(ctx context.Context, query string, args ...any) (*models.ProductOffer, error) {
	var offer models.ProductOffer
	err := s.db.GetContext(ctx, &offer, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOfferNotFound
	}
	if err != nil {
		return nil, err
	}
	return &offer, nil
}

// SearchOffers returns the cheapest active offers refreshed in the last 24
// hours, at most five.
func (s *OfferService) SearchOffers(ctx context.Context, query string, cityID int) ([]OfferResult, error) {
	cutoff := s.now().Add(-offerFreshness)

	results := []OfferResult{}
	err := s.db.SelectContext(ctx, &results, `
		SELECT o.id, o.company_id, o.title, o.description, o.price, o.is_active, o.refreshed_at,
			o.created_at, o.updated_at,
			c.name AS company_name, c.slug AS company_slug, c.whatsapp AS company_whatsapp
		FROM product_offers o
		JOIN companies c ON c.id = o.company_id AND c.status = 'active'
		WHERE o.is_active
			AND o.refreshed_at >= $1
			AND ($2 = '' OR o.title ILIKE '%' || $2 || '%' OR o.description ILIKE '%' || $2 || '%')
			AND ($3 = 0 OR c.city_id = $3)
		ORDER BY o.price ASC, o.refreshed_at DESC
		LIMIT $4`,
		cutoff, strings.TrimSpace(query), cityID, maxOfferResults)
	return results, err
}
