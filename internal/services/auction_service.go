package services

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/buscai/backend/internal/auction"
	"github.com/buscai/backend/internal/models"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

const auctionConfigColumns = `id, company_id, city_id, niche_id, mode, target_position, bid_amount,
	daily_budget, pause_on_limit, is_active, created_at, updated_at`

// AuctionConfigRequest represents an auction config upsert
// @Description Auction config request structure
type AuctionConfigRequest struct {
	CompanyID      int              `json:"company_id,omitempty" example:"12"`
	CityID         int              `json:"city_id" validate:"required,gt=0" example:"1"`
	NicheID        int              `json:"niche_id" validate:"required,gt=0" example:"3"`
	Mode           string           `json:"mode" validate:"required,oneof=manual auto smart" example:"auto"`
	TargetPosition *int             `json:"target_position,omitempty" validate:"omitempty,gte=1" example:"1"`
	BidAmount      *decimal.Decimal `json:"bid_amount,omitempty" swaggertype:"string" example:"1.20"`
	DailyBudget    decimal.Decimal  `json:"daily_budget" validate:"gte=0" swaggertype:"string" example:"30.00"`
	PauseOnLimit   *bool            `json:"pause_on_limit,omitempty" example:"true"`
	IsActive       *bool            `json:"is_active,omitempty" example:"true"`
}

// AuctionPreview is the projected outcome of the next search
// @Description Auction preview structure
type AuctionPreview struct {
	CityID  int            `json:"city_id"`
	NicheID int            `json:"niche_id"`
	Result  auction.Result `json:"result"`
}

type AuctionService struct {
	db     *sqlx.DB
	engine *auction.Engine
	now    func() time.Time
}

func NewAuctionService(db *sqlx.DB, engine *auction.Engine) *AuctionService {
	return &AuctionService{
		db:     db,
		engine: engine,
		now:    time.Now,
	}
}

func (s *AuctionService) Engine() *auction.Engine {
	return s.engine
}

func (s *AuctionService) validate(req AuctionConfigRequest) error {
	if err := s.engine.Validate(req.Mode, req.TargetPosition, req.BidAmount, req.DailyBudget); err != nil {
		return NewAppError(ErrInvalidAuctionConfig.Status, ErrInvalidAuctionConfig.Code, err.Error())
	}
	return nil
}

func (s *AuctionService) ListConfigs(ctx context.Context, companyID int) ([]models.AuctionConfig, error) {
	configs := []models.AuctionConfig{}
	err := s.db.SelectContext(ctx, &configs, `
		SELECT `+auctionConfigColumns+`
		FROM auction_configs
		WHERE company_id = $1
		ORDER BY city_id, niche_id`, companyID)
	return configs, err
}

// UpsertConfig creates the config for (company, city, niche) or replaces
// the existing one.
func (s *AuctionService) UpsertConfig(ctx context.Context, companyID int, req AuctionConfigRequest) (*models.AuctionConfig, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	var bid decimal.NullDecimal
	if req.Mode == auction.ModeManual && req.BidAmount != nil {
		bid = decimal.NewNullDecimal(*req.BidAmount)
	}

	var cfg models.AuctionConfig
	err := s.db.GetContext(ctx, &cfg, `
		INSERT INTO auction_configs (company_id, city_id, niche_id, mode, target_position, bid_amount,
			daily_budget, pause_on_limit, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		ON CONFLICT (company_id, city_id, niche_id) DO UPDATE SET
			mode = EXCLUDED.mode,
			target_position = EXCLUDED.target_position,
			bid_amount = EXCLUDED.bid_amount,
			daily_budget = EXCLUDED.daily_budget,
			pause_on_limit = EXCLUDED.pause_on_limit,
			is_active = EXCLUDED.is_active,
			updated_at = EXCLUDED.updated_at
		RETURNING `+auctionConfigColumns,
		companyID, req.CityID, req.NicheID, req.Mode, req.TargetPosition, bid,
		req.DailyBudget, boolOr(req.PauseOnLimit, true), boolOr(req.IsActive, true), s.now())
	if err != nil {
		return nil, err
	}

	log.Printf("[AUCTION] Config %d saved for company %d (city %d, niche %d, mode %s)", cfg.ID, companyID, req.CityID, req.NicheID, req.Mode)
	return &cfg, nil
}

// UpdateConfig replaces the settings of one of the company's configs. City
// and niche are fixed once created.
func (s *AuctionService) UpdateConfig(ctx context.Context, companyID, configID int, req AuctionConfigRequest) (*models.AuctionConfig, error) {
	current, err := s.getConfig(ctx, companyID, configID)
	if err != nil {
		return nil, err
	}
	req.CityID, req.NicheID = current.CityID, current.NicheID

	if err := s.validate(req); err != nil {
		return nil, err
	}

	var bid decimal.NullDecimal
	if req.Mode == auction.ModeManual && req.BidAmount != nil {
		bid = decimal.NewNullDecimal(*req.BidAmount)
	}

	var cfg models.AuctionConfig
	err = s.db.GetContext(ctx, &cfg, `
		UPDATE auction_configs
		SET mode = $1, target_position = $2, bid_amount = $3, daily_budget = $4,
			pause_on_limit = $5, is_active = $6, updated_at = $7
		WHERE id = $8 AND company_id = $9
		RETURNING `+auctionConfigColumns,
		req.Mode, req.TargetPosition, bid, req.DailyBudget,
		boolOr(req.PauseOnLimit, current.PauseOnLimit), boolOr(req.IsActive, current.IsActive), s.now(),
		configID, companyID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAuctionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetActive pauses or resumes a config.
func (s *AuctionService) SetActive(ctx context.Context, companyID, configID int, active bool) (*models.AuctionConfig, error) {
	var cfg models.AuctionConfig
	err := s.db.GetContext(ctx, &cfg, `
		UPDATE auction_configs
		SET is_active = $1, updated_at = $2
		WHERE id = $3 AND company_id = $4
		RETURNING `+auctionConfigColumns,
		active, s.now(), configID, companyID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAuctionNotFound
	}
	if err != nil {
		return nil, err
	}
	log.Printf("[AUCTION] Config %d of company %d active=%v", configID, companyID, active)
	return &cfg, nil
}

func (s *AuctionService) getConfig(ctx context.Context, companyID, configID int) (*models.AuctionConfig, error) {
	var cfg models.AuctionConfig
	err := s.db.GetContext(ctx, &cfg, `
		SELECT `+auctionConfigColumns+`
		FROM auction_configs
		WHERE id = $1 AND company_id = $2`, configID, companyID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAuctionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

type bidderRow struct {
	ConfigID       int                 `db:"id"`
	CompanyID      int                 `db:"company_id"`
	Mode           string              `db:"mode"`
	TargetPosition sql.NullInt64       `db:"target_position"`
	BidAmount      decimal.NullDecimal `db:"bid_amount"`
	DailyBudget    decimal.Decimal     `db:"daily_budget"`
	PauseOnLimit   bool                `db:"pause_on_limit"`
	IsActive       bool                `db:"is_active"`
	CreatedAt      time.Time           `db:"created_at"`
	Available      decimal.Decimal     `db:"available"`
	SpentToday     decimal.Decimal     `db:"spent_today"`
}

// LoadBidders joins the configs of active companies for a city/niche with
// their available balance and the amount held or captured since the start of
// now's business day.
func (s *AuctionService) LoadBidders(ctx context.Context, cityID, nicheID int, now time.Time) ([]auction.Bidder, error) {
	var rows []bidderRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT ac.id, ac.company_id, ac.mode, ac.target_position, ac.bid_amount, ac.daily_budget,
			ac.pause_on_limit, ac.is_active, ac.created_at,
			COALESCE(w.balance - w.reserved, 0) AS available,
			COALESCE((
				SELECT SUM(h.amount) FROM impression_holds h
				WHERE h.company_id = ac.company_id AND h.city_id = ac.city_id AND h.niche_id = ac.niche_id
					AND h.status <> 'released' AND h.created_at >= $3
			), 0) AS spent_today
		FROM auction_configs ac
		JOIN companies c ON c.id = ac.company_id AND c.status = 'active'
		LEFT JOIN wallets w ON w.company_id = ac.company_id
		WHERE ac.city_id = $1 AND ac.niche_id = $2`, cityID, nicheID, auction.DayStart(now))
	if err != nil {
		return nil, err
	}

	bidders := make([]auction.Bidder, 0, len(rows))
	for _, r := range rows {
		b := auction.Bidder{
			ConfigID:         r.ConfigID,
			CompanyID:        r.CompanyID,
			Mode:             r.Mode,
			DailyBudget:      r.DailyBudget,
			SpentToday:       r.SpentToday,
			PauseOnLimit:     r.PauseOnLimit,
			IsActive:         r.IsActive,
			AvailableBalance: r.Available,
			CreatedAt:        r.CreatedAt,
		}
		if r.TargetPosition.Valid {
			b.TargetPosition = int(r.TargetPosition.Int64)
		}
		if r.BidAmount.Valid {
			b.BidAmount = r.BidAmount.Decimal
		}
		bidders = append(bidders, b)
	}
	return bidders, nil
}

// Preview runs the auction for a city/niche without placing holds.
func (s *AuctionService) Preview(ctx context.Context, cityID, nicheID int) (*AuctionPreview, error) {
	now := s.now()
	bidders, err := s.LoadBidders(ctx, cityID, nicheID, now)
	if err != nil {
		return nil, err
	}
	return &AuctionPreview{
		CityID:  cityID,
		NicheID: nicheID,
		Result:  s.engine.Run(bidders, now),
	}, nil
}

func boolOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}
