package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/buscai/backend/internal/metrics"
	"github.com/buscai/backend/internal/models"
	"github.com/buscai/backend/internal/serpapi"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

const (
	runColumns       = `id, city_id, niche_id, query, status, pages_fetched, candidates_found, duplicates_found, error, started_by, created_at, finished_at`
	candidateColumns = `id, run_id, place_id, name, address, phone, website, rating, reviews_count, latitude, longitude, status, duplicate_of, company_id, raw, created_at, reviewed_at`

	importTimeout = 5 * time.Minute
	finishTimeout = 10 * time.Second
)

// StartRunRequest represents a new SerpAPI import
// @Description SerpAPI import request structure
type StartRunRequest struct {
	CityID  int    `json:"city_id" validate:"required,gt=0" example:"1"`
	NicheID int    `json:"niche_id" validate:"required,gt=0" example:"2"`
	Query   string `json:"query,omitempty" validate:"omitempty,max=200" example:"encanador em Campinas, SP"`
}

// RunProgress is published to the admin feed after every page.
type RunProgress struct {
	RunID           uuid.UUID `json:"run_id"`
	Status          string    `json:"status"`
	PagesFetched    int       `json:"pages_fetched"`
	CandidatesFound int       `json:"candidates_found"`
	DuplicatesFound int       `json:"duplicates_found"`
	Error           string    `json:"error,omitempty"`
}

// PlaceSearcher is the part of the SerpAPI client the importer needs.
type PlaceSearcher interface {
	Enabled() bool
	MaxPages() int
	Search(ctx context.Context, query string, page int) (*serpapi.Page, error)
}

type SerpAPIService struct {
	db      *sqlx.DB
	catalog *CatalogService
	client  PlaceSearcher
	events  EventPublisher
	now     func() time.Time
	wg      sync.WaitGroup
}

func NewSerpAPIService(db *sqlx.DB, catalog *CatalogService, client PlaceSearcher, events EventPublisher) *SerpAPIService {
	return &SerpAPIService{
		db:      db,
		catalog: catalog,
		client:  client,
		events:  publisherOrNoop(events),
		now:     time.Now,
	}
}

// StartRun records a run and imports it in the background.
func (s *SerpAPIService) StartRun(ctx context.Context, userID int, req StartRunRequest) (*models.SerpAPIRun, error) {
	if s.client == nil || !s.client.Enabled() {
		return nil, ErrSerpAPINotConfigured
	}

	city, err := s.catalog.GetCity(ctx, req.CityID)
	if err != nil {
		return nil, err
	}
	niche, err := s.catalog.GetNiche(ctx, req.NicheID)
	if err != nil {
		return nil, err
	}

	query := strings.TrimSpace(req.Query)
	if query == "" {
		query = fmt.Sprintf("%s em %s, %s", niche.Name, city.Name, city.State)
	}

	var run models.SerpAPIRun
	err = s.db.GetContext(ctx, &run, `
		INSERT INTO serpapi_runs (id, city_id, niche_id, query, status, started_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+runColumns,
		uuid.New(), city.ID, niche.ID, query, models.RunStatusRunning, userID, s.now())
	if err != nil {
		return nil, err
	}
	log.Printf("[SERPAPI] Run %s started by user %d: %q", run.ID, userID, query)

	s.wg.Add(1)
	go func(run models.SerpAPIRun) {
		defer s.wg.Done()
		importCtx, cancel := context.WithTimeout(context.Background(), importTimeout)
		defer cancel()
		if err := s.RunImport(importCtx, &run); err != nil {
			log.Printf("[SERPAPI] Run %s failed: %v", run.ID, err)
		}
	}(run)

	return &run, nil
}

// Wait blocks until background imports have finished.
func (s *SerpAPIService) Wait() {
	s.wg.Wait()
}

// RunImport pages through the results of the run's query, storing every place
// as a candidate. Places already listed are stored as duplicates.
func (s *SerpAPIService) RunImport(ctx context.Context, run *models.SerpAPIRun) error {
	for page := 0; page < s.client.MaxPages(); page++ {
		result, err := s.client.Search(ctx, run.Query, page)
		if err != nil {
			s.finish(ctx, run, err)
			return err
		}
		run.PagesFetched++

		for _, place := range result.Places {
			status, err := s.storeCandidate(ctx, run.ID, place)
			if err != nil {
				s.finish(ctx, run, err)
				return err
			}
			run.CandidatesFound++
			if status == models.CandidateDuplicate {
				run.DuplicatesFound++
			}
			metrics.RecordSerpAPICandidate(status)
		}

		_, err = s.db.ExecContext(ctx, `
			UPDATE serpapi_runs SET pages_fetched = $1, candidates_found = $2, duplicates_found = $3 WHERE id = $4`,
			run.PagesFetched, run.CandidatesFound, run.DuplicatesFound, run.ID)
		if err != nil {
			s.finish(ctx, run, err)
			return err
		}
		s.publishProgress(run)

		if !result.HasNext {
			break
		}
	}

	s.finish(ctx, run, nil)
	return nil
}

func (s *SerpAPIService) finish(ctx context.Context, run *models.SerpAPIRun, runErr error) {
	now := s.now()
	run.Status = models.RunStatusCompleted
	run.FinishedAt = &now
	if runErr != nil {
		msg := runErr.Error()
		run.Status = models.RunStatusFailed
		run.Error = &msg
	}

	// The import context may already be done; the run still has to be closed.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		UPDATE serpapi_runs
		SET status = $1, pages_fetched = $2, candidates_found = $3, duplicates_found = $4, error = $5, finished_at = $6
		WHERE id = $7`,
		run.Status, run.PagesFetched, run.CandidatesFound, run.DuplicatesFound, run.Error, now, run.ID)
	if err != nil {
		log.Printf("[SERPAPI] Failed to close run %s: %v", run.ID, err)
	}

	metrics.RecordJobRun("serpapi_import", runErr == nil)
	log.Printf("[SERPAPI] Run %s %s: %d pages, %d candidates, %d duplicates",
		run.ID, run.Status, run.PagesFetched, run.CandidatesFound, run.DuplicatesFound)
	s.publishProgress(run)
}

func (s *SerpAPIService) publishProgress(run *models.SerpAPIRun) {
	progress := RunProgress{
		RunID:           run.ID,
		Status:          run.Status,
		PagesFetched:    run.PagesFetched,
		CandidatesFound: run.CandidatesFound,
		DuplicatesFound: run.DuplicatesFound,
	}
	if run.Error != nil {
		progress.Error = *run.Error
	}
	s.events.Publish(EventSerpAPIProgress, progress)
}

// findDuplicate returns the id of a company listing the same place, matched
// by Google place id or by phone digits.
func (s *SerpAPIService) findDuplicate(ctx context.Context, place serpapi.Place) (*int, error) {
	phone := onlyDigits(place.Phone)
	if place.PlaceID == "" && phone == "" {
		return nil, nil
	}

	var id int
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM companies
		WHERE ($1 <> '' AND place_id = $1)
			OR ($2 <> '' AND (regexp_replace(COALESCE(phone, ''), '\D', '', 'g') = $2
				OR regexp_replace(COALESCE(whatsapp, ''), '\D', '', 'g') = $2))
		ORDER BY id
		LIMIT 1`, place.PlaceID, phone).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func (s *SerpAPIService) storeCandidate(ctx context.Context, runID uuid.UUID, place serpapi.Place) (string, error) {
	duplicateOf, err := s.findDuplicate(ctx, place)
	if err != nil {
		return "", err
	}
	status := models.CandidatePending
	if duplicateOf != nil {
		status = models.CandidateDuplicate
	}

	raw := place.Raw
	if raw == "" {
		raw = "{}"
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO serpapi_candidates (run_id, place_id, name, address, phone, website, rating, reviews_count,
			latitude, longitude, status, duplicate_of, raw, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13::jsonb, $14)`,
		runID, nullString(place.PlaceID), place.Name, nullString(place.Address), nullString(onlyDigits(place.Phone)),
		nullString(place.Website), decimal.NewFromFloat(place.Rating).Round(1), place.Reviews,
		place.Latitude, place.Longitude, status, duplicateOf, raw, s.now())
	if err != nil {
		return "", err
	}
	return status, nil
}

func nullString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func (s *SerpAPIService) ListRuns(ctx context.Context) ([]models.SerpAPIRun, error) {
	runs := []models.SerpAPIRun{}
	err := s.db.SelectContext(ctx, &runs, `
		SELECT `+runColumns+` FROM serpapi_runs ORDER BY created_at DESC LIMIT 50`)
	return runs, err
}

func (s *SerpAPIService) GetRun(ctx context.Context, runID uuid.UUID) (*models.SerpAPIRun, error) {
	var run models.SerpAPIRun
	err := s.db.GetContext(ctx, &run, `SELECT `+runColumns+` FROM serpapi_runs WHERE id = $1`, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ListCandidates lists a run's candidates, optionally filtered by status.
func (s *SerpAPIService) ListCandidates(ctx context.Context, runID uuid.UUID, status string) ([]models.SerpAPICandidate, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}

	candidates := []models.SerpAPICandidate{}
	err := s.db.SelectContext(ctx, &candidates, `
		SELECT `+candidateColumns+`
		FROM serpapi_candidates
		WHERE run_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY id`, runID, status)
	return candidates, err
}

// Approve lists a pending candidate as an active company of the run's city
// and niche.
func (s *SerpAPIService) Approve(ctx context.Context, candidateID int) (*models.SerpAPICandidate, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var row struct {
		models.SerpAPICandidate
		CityID  int `db:"city_id"`
		NicheID int `db:"niche_id"`
	}
	err = tx.GetContext(ctx, &row, `
		SELECT c.id, c.run_id, c.place_id, c.name, c.address, c.phone, c.website, c.rating, c.reviews_count,
			c.latitude, c.longitude, c.status, c.duplicate_of, c.company_id, c.raw, c.created_at, c.reviewed_at,
			r.city_id, r.niche_id
		FROM serpapi_candidates c
		JOIN serpapi_runs r ON r.id = c.run_id
		WHERE c.id = $1
		FOR UPDATE OF c`, candidateID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCandidateNotFound
	}
	if err != nil {
		return nil, err
	}
	if row.Status != models.CandidatePending {
		return nil, ErrCandidateNotPending
	}

	slug, err := uniqueSlug(ctx, tx, row.Name)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var companyID int
	err = tx.QueryRowxContext(ctx, `
		INSERT INTO companies (name, slug, phone, address, city_id, rating, reviews_count, website, place_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		RETURNING id`,
		row.Name, slug, row.Phone, row.Address, row.CityID, row.Rating, row.ReviewsCount, row.Website, row.PlaceID,
		models.CompanyStatusActive, now).Scan(&companyID)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO company_niches (company_id, niche_id) VALUES ($1, $2)`, companyID, row.NicheID)
	if err != nil {
		return nil, err
	}

	var candidate models.SerpAPICandidate
	err = tx.GetContext(ctx, &candidate, `
		UPDATE serpapi_candidates SET status = $1, company_id = $2, reviewed_at = $3
		WHERE id = $4
		RETURNING `+candidateColumns,
		models.CandidateApproved, companyID, now, candidateID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	metrics.RecordSerpAPICandidate(models.CandidateApproved)
	log.Printf("[SERPAPI] Candidate %d approved as company %d (%s)", candidateID, companyID, slug)
	return &candidate, nil
}

func (s *SerpAPIService) Reject(ctx context.Context, candidateID int) (*models.SerpAPICandidate, error) {
	var candidate models.SerpAPICandidate
	err := s.db.GetContext(ctx, &candidate, `
		UPDATE serpapi_candidates SET status = $1, reviewed_at = $2
		WHERE id = $3 AND status = 'pending'
		RETURNING `+candidateColumns,
		models.CandidateRejected, s.now(), candidateID)
	if errors.Is(err, sql.ErrNoRows) {
		var exists bool
		if err := s.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM serpapi_candidates WHERE id = $1)`, candidateID); err != nil {
			return nil, err
		}
		if exists {
			return nil, ErrCandidateNotPending
		}
		return nil, ErrCandidateNotFound
	}
	if err != nil {
		return nil, err
	}
	metrics.RecordSerpAPICandidate(models.CandidateRejected)
	return &candidate, nil
}
