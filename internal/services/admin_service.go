package services

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/buscai/backend/internal/auction"
	"github.com/buscai/backend/internal/models"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

const adminPageSize = 50

var ErrInvalidCNPJ = NewAppError(http.StatusBadRequest, "invalid_cnpj", "CNPJ must have 14 digits")

// CompanyRequest represents a company created or edited by an admin
// @Description Company request structure
type CompanyRequest struct {
	Name     string  `json:"name" validate:"required,min=2,max=200" example:"Hidro Norte Encanamentos"`
	CNPJ     *string `json:"cnpj,omitempty" validate:"omitempty,max=18" example:"12.345.678/0001-99"`
	Phone    *string `json:"phone,omitempty" validate:"omitempty,max=20" example:"(19) 3333-4444"`
	WhatsApp *string `json:"whatsapp,omitempty" validate:"omitempty,max=20" example:"+55 19 99999-0000"`
	Address  *string `json:"address,omitempty" validate:"omitempty,max=500"`
	Website  *string `json:"website,omitempty" validate:"omitempty,url" example:"https://hidronorte.com.br"`
	CityID   int     `json:"city_id" validate:"required,gt=0" example:"1"`
	NicheIDs []int   `json:"niche_ids" validate:"required,min=1,dive,gt=0" example:"2"`
	Status   string  `json:"status,omitempty" validate:"omitempty,oneof=active inactive pending_review" example:"active"`
}

// CompanyStatusRequest represents a status change
// @Description Company status request structure
type CompanyStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=active inactive pending_review" example:"inactive"`
}

// CreditRequest represents a manual wallet credit
// @Description Wallet credit request structure
type CreditRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"gt=0" swaggertype:"string" example:"50.00"`
	Note   string          `json:"note,omitempty" validate:"max=300" example:"Compensação por instabilidade"`
}

type CompanyFilter struct {
	Status string
	CityID int
	Query  string
	Page   int
}

// CompanyPage is one page of the admin company listing.
// @Description Company listing page
type CompanyPage struct {
	Companies []models.Company `json:"companies"`
	Total     int              `json:"total"`
	Page      int              `json:"page"`
	PageSize  int              `json:"page_size"`
}

// DashboardStats are the back office totals.
// @Description Admin dashboard structure
type DashboardStats struct {
	CompaniesByStatus    map[string]int  `json:"companies_by_status"`
	PendingClaims        int             `json:"pending_claims" db:"pending_claims"`
	RechargeVolume       decimal.Decimal `json:"confirmed_recharge_volume" db:"recharge_volume" swaggertype:"string"`
	SearchDebitsToday    decimal.Decimal `json:"search_debits_today" db:"search_debits_today" swaggertype:"string"`
	SearchesToday        int             `json:"searches_today" db:"searches_today"`
	ActiveAuctionConfigs int             `json:"active_auction_configs" db:"active_auction_configs"`
}

// LogoStore persists company logos and returns their public URL.
type LogoStore interface {
	UploadLogo(ctx context.Context, file io.Reader, companyID int) (string, error)
}

type AdminService struct {
	db      *sqlx.DB
	catalog *CatalogService
	ledger  *LedgerService
	logos   LogoStore
	now     func() time.Time
}

func NewAdminService(db *sqlx.DB, catalog *CatalogService, ledger *LedgerService, logos LogoStore) *AdminService {
	return &AdminService{
		db:      db,
		catalog: catalog,
		ledger:  ledger,
		logos:   logos,
		now:     time.Now,
	}
}

const companyFilterWhere = `
	WHERE ($1 = '' OR c.status = $1)
		AND ($2 = 0 OR c.city_id = $2)
		AND ($3 = '' OR c.name ILIKE '%' || $3 || '%' OR c.slug LIKE '%' || $3 || '%' OR c.phone LIKE '%' || $3 || '%')`

func (s *AdminService) ListCompanies(ctx context.Context, f CompanyFilter) (*CompanyPage, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	q := strings.TrimSpace(f.Query)

	page := &CompanyPage{Companies: []models.Company{}, Page: f.Page, PageSize: adminPageSize}
	err := s.db.GetContext(ctx, &page.Total, `SELECT COUNT(*) FROM companies c`+companyFilterWhere, f.Status, f.CityID, q)
	if err != nil {
		return nil, err
	}

	err = s.db.SelectContext(ctx, &page.Companies, `
		SELECT `+companyColumns+`, `+companyNicheIDs+`
		FROM companies c`+companyFilterWhere+`
		ORDER BY c.name, c.id
		LIMIT $4 OFFSET $5`,
		f.Status, f.CityID, q, adminPageSize, (f.Page-1)*adminPageSize)
	if err != nil {
		return nil, err
	}
	return page, nil
}

func normalizeCompany(req *CompanyRequest) error {
	req.Name = strings.TrimSpace(req.Name)
	if req.CNPJ != nil {
		digits := onlyDigits(*req.CNPJ)
		if len(digits) != 14 {
			return ErrInvalidCNPJ
		}
		req.CNPJ = &digits
	}
	for _, p := range []**string{&req.Phone, &req.WhatsApp} {
		if *p != nil {
			*p = nullString(onlyDigits(**p))
		}
	}
	if req.Status == "" {
		req.Status = models.CompanyStatusActive
	}
	return nil
}

// CreateCompany lists a company by hand. The slug is derived from the name.
func (s *AdminService) CreateCompany(ctx context.Context, req CompanyRequest) (*models.Company, error) {
	if err := normalizeCompany(&req); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	slug, err := uniqueSlug(ctx, tx, req.Name)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var id int
	err = tx.QueryRowxContext(ctx, `
		INSERT INTO companies (name, slug, cnpj, phone, whatsapp, address, website, city_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		RETURNING id`,
		req.Name, slug, req.CNPJ, req.Phone, req.WhatsApp, req.Address, req.Website, req.CityID, req.Status, now).Scan(&id)
	if err != nil {
		return nil, err
	}
	if err := setCompanyNiches(ctx, tx, id, req.NicheIDs); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	log.Printf("[ADMIN] Company %d created (%s)", id, slug)
	return s.catalog.GetCompany(ctx, strconv.Itoa(id))
}

// UpdateCompany replaces the editable fields and niches. The slug and owner
// are kept.
func (s *AdminService) UpdateCompany(ctx context.Context, companyID int, req CompanyRequest) (*models.Company, error) {
	if err := normalizeCompany(&req); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE companies
		SET name = $1, cnpj = $2, phone = $3, whatsapp = $4, address = $5, website = $6, city_id = $7,
			status = $8, updated_at = $9
		WHERE id = $10`,
		req.Name, req.CNPJ, req.Phone, req.WhatsApp, req.Address, req.Website, req.CityID, req.Status, s.now(), companyID)
	if err != nil {
		return nil, err
	}
	if rows, err := result.RowsAffected(); err != nil {
		return nil, err
	} else if rows == 0 {
		return nil, ErrCompanyNotFound
	}
	if err := setCompanyNiches(ctx, tx, companyID, req.NicheIDs); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.catalog.GetCompany(ctx, strconv.Itoa(companyID))
}

func setCompanyNiches(ctx context.Context, tx *sqlx.Tx, companyID int, nicheIDs []int) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM company_niches WHERE company_id = $1`, companyID); err != nil {
		return err
	}
	ids := make([]int64, len(nicheIDs))
	for i, id := range nicheIDs {
		ids[i] = int64(id)
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO company_niches (company_id, niche_id)
		SELECT $1, n FROM unnest($2::int[]) AS n
		ON CONFLICT DO NOTHING`, companyID, pq.Array(ids))
	return err
}

func (s *AdminService) SetStatus(ctx context.Context, companyID int, status string) (*models.Company, error) {
	result, err := s.db.ExecContext(ctx, `UPDATE companies SET status = $1, updated_at = $2 WHERE id = $3`,
		status, s.now(), companyID)
	if err != nil {
		return nil, err
	}
	if rows, err := result.RowsAffected(); err != nil {
		return nil, err
	} else if rows == 0 {
		return nil, ErrCompanyNotFound
	}
	log.Printf("[ADMIN] Company %d set to %s", companyID, status)
	return s.catalog.GetCompany(ctx, strconv.Itoa(companyID))
}

func (s *AdminService) companyExists(ctx context.Context, companyID int) error {
	var exists bool
	if err := s.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM companies WHERE id = $1)`, companyID); err != nil {
		return err
	}
	if !exists {
		return ErrCompanyNotFound
	}
	return nil
}

// UploadLogo stores the image and points the company at it.
func (s *AdminService) UploadLogo(ctx context.Context, companyID int, file io.Reader) (string, error) {
	if s.logos == nil {
		return "", ErrUploadNotConfigured
	}
	if err := s.companyExists(ctx, companyID); err != nil {
		return "", err
	}

	url, err := s.logos.UploadLogo(ctx, file, companyID)
	if err != nil {
		return "", err
	}
	_, err = s.db.ExecContext(ctx, `UPDATE companies SET logo_url = $1, updated_at = $2 WHERE id = $3`, url, s.now(), companyID)
	if err != nil {
		return "", err
	}
	return url, nil
}

// CreditWallet adds funds to a company wallet on behalf of an admin.
func (s *AdminService) CreditWallet(ctx context.Context, adminID, companyID int, req CreditRequest) (*models.Transaction, error) {
	if err := s.companyExists(ctx, companyID); err != nil {
		return nil, err
	}
	metadata := models.Metadata{"admin_id": adminID}
	if req.Note != "" {
		metadata["note"] = req.Note
	}
	txn, err := s.ledger.Credit(ctx, companyID, req.Amount, models.ProviderAdmin, metadata)
	if err != nil {
		return nil, err
	}
	log.Printf("[ADMIN] Admin %d credited %s to company %d", adminID, req.Amount.StringFixed(2), companyID)
	return txn, nil
}

// Dashboard returns the back office totals. "Today" is the Brasília day.
func (s *AdminService) Dashboard(ctx context.Context) (*DashboardStats, error) {
	dayStart := auction.DayStart(s.now())

	var stats DashboardStats
	err := s.db.GetContext(ctx, &stats, `
		SELECT
			(SELECT COUNT(*) FROM claim_requests WHERE status = 'pending') AS pending_claims,
			(SELECT COALESCE(SUM(amount), 0) FROM transactions WHERE type = 'recharge' AND status = 'confirmed') AS recharge_volume,
			(SELECT COALESCE(SUM(amount), 0) FROM transactions WHERE type = 'search_debit' AND occurred_at >= $1) AS search_debits_today,
			(SELECT COUNT(*) FROM search_logs WHERE created_at >= $1) AS searches_today,
			(SELECT COUNT(*) FROM auction_configs WHERE is_active) AS active_auction_configs`,
		dayStart)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM companies GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats.CompaniesByStatus = map[string]int{
		models.CompanyStatusActive:        0,
		models.CompanyStatusInactive:      0,
		models.CompanyStatusPendingReview: 0,
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats.CompaniesByStatus[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &stats, nil
}
