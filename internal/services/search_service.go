package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/buscai/backend/internal/auction"
	"github.com/buscai/backend/internal/config"
	"github.com/buscai/backend/internal/metrics"
	"github.com/buscai/backend/internal/models"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	log "github.com/sirupsen/logrus"
)

// SearchRequest represents a company search
// @Description Company search request
type SearchRequest struct {
	CityID  int    `json:"city_id"`
	NicheID int    `json:"niche_id"`
	Query   string `json:"q"`
	Page    int    `json:"page"`
	Channel string `json:"-"`
}

// ClickRequest represents a click on a sponsored result
// @Description Click request structure
type ClickRequest struct {
	ImpressionID uuid.UUID `json:"impression_id" validate:"required" example:"3f0f6f8e-9d55-4b8e-a6f8-0f4b3f0c2b11"`
}

type SearchService struct {
	db       *sqlx.DB
	redis    *redis.Client
	catalog  *CatalogService
	auctions *AuctionService
	ledger   *LedgerService
	cfg      *config.AuctionConfig
	now      func() time.Time
}

func NewSearchService(db *sqlx.DB, redisClient *redis.Client, catalog *CatalogService, auctions *AuctionService, ledger *LedgerService, cfg *config.AuctionConfig) *SearchService {
	return &SearchService{
		db:       db,
		redis:    redisClient,
		catalog:  catalog,
		auctions: auctions,
		ledger:   ledger,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Search runs the auction for the city/niche, holds the winners' charges and
// appends the organic page. Sponsored placements are only sold on page 1.
func (s *SearchService) Search(ctx context.Context, req SearchRequest) (*models.SearchResponse, error) {
	if err := s.resolve(ctx, &req); err != nil {
		return nil, err
	}
	if req.Page < 1 {
		req.Page = 1
	}
	if req.Channel == "" {
		req.Channel = models.ChannelWeb
	}

	resp := &models.SearchResponse{
		SearchID:  uuid.New(),
		CityID:    req.CityID,
		NicheID:   req.NicheID,
		Page:      req.Page,
		Sponsored: []models.SearchResult{},
		Organic:   []models.SearchResult{},
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO search_logs (id, channel, query, city_id, niche_id, results_count, sponsored_count, created_at)
		VALUES ($1, $2, $3, $4, $5, 0, 0, $6)`,
		resp.SearchID, req.Channel, req.Query, req.CityID, req.NicheID, s.now())
	if err != nil {
		return nil, err
	}

	if req.Page == 1 {
		resp.Sponsored, err = s.sponsored(ctx, resp.SearchID, req.CityID, req.NicheID)
		if err != nil {
			return nil, err
		}
	}

	organic, err := s.organicPage(ctx, req.CityID, req.NicheID, req.Page)
	if err != nil {
		return nil, err
	}
	sponsoredIDs := make(map[int]bool, len(resp.Sponsored))
	for _, r := range resp.Sponsored {
		sponsoredIDs[r.Company.ID] = true
	}
	for _, c := range organic {
		if sponsoredIDs[c.ID] {
			continue
		}
		resp.Organic = append(resp.Organic, models.SearchResult{Company: c})
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE search_logs SET results_count = $1, sponsored_count = $2 WHERE id = $3`,
		len(resp.Sponsored)+len(resp.Organic), len(resp.Sponsored), resp.SearchID)
	if err != nil {
		log.Printf("[SEARCH] Failed to update search log %s: %v", resp.SearchID, err)
	}

	metrics.RecordSearch(req.Channel)
	return resp, nil
}

func (s *SearchService) resolve(ctx context.Context, req *SearchRequest) error {
	if (req.CityID == 0 || req.NicheID == 0) && req.Query != "" {
		city, niche, err := s.catalog.MatchCityNiche(ctx, req.Query)
		if err != nil {
			return err
		}
		if req.CityID == 0 && city != nil {
			req.CityID = city.ID
		}
		if req.NicheID == 0 && niche != nil {
			req.NicheID = niche.ID
		}
	}
	if req.CityID == 0 {
		return ErrCityNotFound
	}
	if req.NicheID == 0 {
		return ErrNicheNotFound
	}
	return nil
}

// sponsored places a hold for every auction winner. A winner whose hold is
// refused is excluded and the auction is run again without it.
func (s *SearchService) sponsored(ctx context.Context, searchID uuid.UUID, cityID, nicheID int) ([]models.SearchResult, error) {
	now := s.now()
	bidders, err := s.auctions.LoadBidders(ctx, cityID, nicheID, now)
	if err != nil {
		return nil, err
	}
	if len(bidders) == 0 {
		return []models.SearchResult{}, nil
	}

	excluded := make(map[int]bool)
	for {
		result := s.auctions.Engine().Run(auction.Exclude(bidders, excluded), now)

		var holds []*models.ImpressionHold
		refused := 0
		for _, p := range result.Placements {
			hold, err := s.ledger.Hold(ctx, HoldRequest{
				SearchID:  searchID,
				CompanyID: p.CompanyID,
				CityID:    cityID,
				NicheID:   nicheID,
				Position:  p.Position,
				Amount:    p.Charge,
			})
			if errors.Is(err, ErrInsufficientBalance) || errors.Is(err, ErrInvalidAmount) {
				refused = p.CompanyID
				break
			}
			if err != nil {
				s.releaseAll(ctx, holds)
				return nil, err
			}
			holds = append(holds, hold)
		}

		if refused != 0 {
			log.Printf("[SEARCH] Hold refused for company %d, re-running auction", refused)
			s.releaseAll(ctx, holds)
			excluded[refused] = true
			continue
		}
		return s.sponsoredResults(ctx, holds)
	}
}

func (s *SearchService) releaseAll(ctx context.Context, holds []*models.ImpressionHold) {
	for _, h := range holds {
		if err := s.ledger.ReleaseHold(ctx, h.ID); err != nil {
			log.Printf("[SEARCH] Failed to release hold %s: %v", h.ID, err)
		}
	}
}

func (s *SearchService) sponsoredResults(ctx context.Context, holds []*models.ImpressionHold) ([]models.SearchResult, error) {
	results := []models.SearchResult{}
	if len(holds) == 0 {
		return results, nil
	}

	ids := make([]int64, len(holds))
	for i, h := range holds {
		ids[i] = int64(h.CompanyID)
	}
	var companies []models.Company
	err := s.db.SelectContext(ctx, &companies, `
		SELECT `+companyColumns+`, `+companyNicheIDs+`
		FROM companies c
		WHERE c.id = ANY($1)`, pq.Array(ids))
	if err != nil {
		s.releaseAll(ctx, holds)
		return nil, err
	}
	byID := make(map[int]models.Company, len(companies))
	for _, c := range companies {
		byID[c.ID] = c
	}

	for _, h := range holds {
		company, ok := byID[h.CompanyID]
		if !ok {
			continue
		}
		holdID, charge := h.ID, h.Amount
		results = append(results, models.SearchResult{
			Company:   company,
			Sponsored: true,
			Position:  h.Position,
			HoldID:    &holdID,
			Charge:    &charge,
		})
		amount, _ := charge.Float64()
		metrics.RecordAuctionCharge(h.Position, amount)
	}
	return results, nil
}

func organicCacheKey(cityID, nicheID, page int) string {
	return fmt.Sprintf("search:organic:%d:%d:%d", cityID, nicheID, page)
}

// organicPage returns one page of active companies of the city/niche, read
// through the Redis cache.
func (s *SearchService) organicPage(ctx context.Context, cityID, nicheID, page int) ([]models.Company, error) {
	key := organicCacheKey(cityID, nicheID, page)

	if s.redis != nil {
		cached, err := s.redis.Get(ctx, key).Bytes()
		if err == nil {
			var companies []models.Company
			if err := json.Unmarshal(cached, &companies); err == nil {
				return companies, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			log.Printf("[SEARCH] Cache read failed for %s: %v", key, err)
		}
	}

	pageSize := s.cfg.OrganicPageSize
	companies := []models.Company{}
	err := s.db.SelectContext(ctx, &companies, `
		SELECT `+companyColumns+`, `+companyNicheIDs+`
		FROM companies c
		JOIN company_niches cn ON cn.company_id = c.id AND cn.niche_id = $2
		WHERE c.city_id = $1 AND c.status = 'active'
		ORDER BY c.rating DESC, c.reviews_count DESC, c.name
		LIMIT $3 OFFSET $4`,
		cityID, nicheID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, err
	}

	if s.redis != nil {
		if data, err := json.Marshal(companies); err == nil {
			if err := s.redis.Set(ctx, key, data, s.cfg.OrganicCacheTTL).Err(); err != nil {
				log.Printf("[SEARCH] Cache write failed for %s: %v", key, err)
			}
		}
	}
	return companies, nil
}

// RecordClick marks a sponsored impression as clicked. Only the first click
// is kept.
func (s *SearchService) RecordClick(ctx context.Context, impressionID uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE impression_holds SET clicked_at = COALESCE(clicked_at, $1) WHERE id = $2`,
		s.now(), impressionID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrHoldNotFound
	}
	return nil
}
