package services

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/buscai/backend/internal/models"
	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"
)

const (
	claimColumns = `id, user_id, company_id, method, status, cnpj, attempts, notes, created_at, updated_at, verified_at`

	claimOTPTTL      = 10 * time.Minute
	maxClaimAttempts = 5
)

var ErrOTPDelivery = NewAppError(http.StatusBadGateway, "otp_delivery_failed", "Could not deliver the verification code")

// CreateClaimRequest represents a company ownership claim
// @Description Claim request structure
type CreateClaimRequest struct {
	CompanyID int    `json:"company_id" validate:"required,gt=0" example:"7"`
	Method    string `json:"method" validate:"required,oneof=whatsapp_otp cnpj_whatsapp" example:"whatsapp_otp"`
	CNPJ      string `json:"cnpj,omitempty" validate:"omitempty,max=18" example:"12.345.678/0001-99"`
}

// ConfirmClaimRequest carries the code received on WhatsApp
// @Description Claim confirmation structure
type ConfirmClaimRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric" example:"123456"`
}

// RejectClaimRequest represents an admin rejection
// @Description Claim rejection structure
type RejectClaimRequest struct {
	Notes string `json:"notes" validate:"required,max=500" example:"Documentos não conferem"`
}

type claimCompany struct {
	ID       int     `db:"id"`
	Name     string  `db:"name"`
	CNPJ     *string `db:"cnpj"`
	WhatsApp *string `db:"whatsapp"`
	OwnerID  *int    `db:"owner_id"`
}

type ClaimService struct {
	db     *sqlx.DB
	redis  *redis.Client
	sender MessageSender
	events EventPublisher
	now    func() time.Time
}

func NewClaimService(db *sqlx.DB, redisClient *redis.Client, sender MessageSender, events EventPublisher) *ClaimService {
	return &ClaimService{
		db:     db,
		redis:  redisClient,
		sender: sender,
		events: publisherOrNoop(events),
		now:    time.Now,
	}
}

func claimOTPKey(claimID int) string {
	return fmt.Sprintf("claim_otp:%d", claimID)
}

func hashOTP(claimID int, code string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d:%s", claimID, code)))
	return hex.EncodeToString(sum[:])
}

// Create opens a claim and sends a one-time code to the company's WhatsApp.
func (s *ClaimService) Create(ctx context.Context, userID int, req CreateClaimRequest) (*models.ClaimRequest, error) {
	var company claimCompany
	err := s.db.GetContext(ctx, &company, `
		SELECT id, name, cnpj, whatsapp, owner_id FROM companies WHERE id = $1`, req.CompanyID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCompanyNotFound
	}
	if err != nil {
		return nil, err
	}

	if company.OwnerID != nil {
		return nil, ErrCompanyAlreadyClaimed
	}
	if company.WhatsApp == nil || onlyDigits(*company.WhatsApp) == "" {
		return nil, ErrCompanyNoWhatsApp
	}

	var cnpj *string
	if req.Method == models.ClaimMethodCNPJWhatsApp {
		digits := onlyDigits(req.CNPJ)
		if len(digits) != 14 || company.CNPJ == nil || onlyDigits(*company.CNPJ) != digits {
			return nil, ErrCNPJMismatch
		}
		cnpj = &digits
	}

	now := s.now()
	var claim models.ClaimRequest
	err = s.db.GetContext(ctx, &claim, `
		INSERT INTO claim_requests (user_id, company_id, method, status, cnpj, attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6, $6)
		RETURNING `+claimColumns,
		userID, company.ID, req.Method, models.ClaimStatusPending, cnpj, now)
	if isUniqueViolation(err) {
		return nil, ErrClaimAlreadyPending
	}
	if err != nil {
		return nil, err
	}

	code, err := generateOTP(6)
	if err != nil {
		return nil, err
	}
	if err := s.redis.Set(ctx, claimOTPKey(claim.ID), hashOTP(claim.ID, code), claimOTPTTL).Err(); err != nil {
		return nil, err
	}

	body := fmt.Sprintf("BUSCAÍ: seu código para assumir a empresa %s é %s. Ele expira em 10 minutos.", company.Name, code)
	if err := s.sender.SendText(ctx, onlyDigits(*company.WhatsApp), body); err != nil {
		log.Printf("[CLAIMS] OTP delivery failed for claim %d: %v", claim.ID, err)
		if _, cancelErr := s.setStatus(ctx, claim.ID, models.ClaimStatusCancelled, nil); cancelErr != nil {
			log.Printf("[CLAIMS] Failed to cancel claim %d: %v", claim.ID, cancelErr)
		}
		return nil, ErrOTPDelivery
	}

	log.Printf("[CLAIMS] User %d opened claim %d for company %d (%s)", userID, claim.ID, company.ID, req.Method)
	s.events.Publish(EventClaimCreated, claim)
	return &claim, nil
}

// Confirm checks the code. A correct code hands the company to the user; the
// fifth wrong code rejects the claim.
func (s *ClaimService) Confirm(ctx context.Context, userID, claimID int, code string) (*models.ClaimRequest, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var claim models.ClaimRequest
	err = tx.GetContext(ctx, &claim, `
		SELECT `+claimColumns+`
		FROM claim_requests
		WHERE id = $1 AND user_id = $2
		FOR UPDATE`, claimID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrClaimNotFound
	}
	if err != nil {
		return nil, err
	}
	if claim.Status != models.ClaimStatusPending {
		return nil, ErrClaimNotPending
	}

	stored, err := s.redis.Get(ctx, claimOTPKey(claimID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrOTPExpired
	}
	if err != nil {
		return nil, err
	}

	now := s.now()
	if subtle.ConstantTimeCompare([]byte(stored), []byte(hashOTP(claimID, code))) != 1 {
		attempts := claim.Attempts + 1
		status := models.ClaimStatusPending
		if attempts >= maxClaimAttempts {
			status = models.ClaimStatusRejected
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE claim_requests SET attempts = $1, status = $2, updated_at = $3 WHERE id = $4`,
			attempts, status, now, claimID)
		if err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, err
		}

		if status == models.ClaimStatusRejected {
			s.redis.Del(ctx, claimOTPKey(claimID))
			log.Printf("[CLAIMS] Claim %d rejected after %d wrong codes", claimID, attempts)
			return nil, ErrTooManyAttempts
		}
		return nil, ErrInvalidOTP
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE companies SET owner_id = $1, updated_at = $2 WHERE id = $3 AND owner_id IS NULL`,
		userID, now, claim.CompanyID)
	if err != nil {
		return nil, err
	}
	if rows, err := result.RowsAffected(); err != nil {
		return nil, err
	} else if rows == 0 {
		return nil, ErrCompanyAlreadyClaimed
	}

	var verified models.ClaimRequest
	err = tx.GetContext(ctx, &verified, `
		UPDATE claim_requests SET status = $1, verified_at = $2, updated_at = $2
		WHERE id = $3
		RETURNING `+claimColumns,
		models.ClaimStatusVerified, now, claimID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	s.redis.Del(ctx, claimOTPKey(claimID))

	log.Printf("[CLAIMS] Claim %d verified, company %d now owned by user %d", claimID, claim.CompanyID, userID)
	return &verified, nil
}

// Cancel withdraws one of the user's pending claims.
func (s *ClaimService) Cancel(ctx context.Context, userID, claimID int) (*models.ClaimRequest, error) {
	var claim models.ClaimRequest
	err := s.db.GetContext(ctx, &claim, `
		UPDATE claim_requests SET status = $1, updated_at = $2
		WHERE id = $3 AND user_id = $4 AND status = 'pending'
		RETURNING `+claimColumns,
		models.ClaimStatusCancelled, s.now(), claimID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, s.missingClaim(ctx, claimID, &userID)
	}
	if err != nil {
		return nil, err
	}
	s.redis.Del(ctx, claimOTPKey(claimID))
	return &claim, nil
}

func (s *ClaimService) ListMine(ctx context.Context, userID int) ([]models.ClaimRequest, error) {
	claims := []models.ClaimRequest{}
	err := s.db.SelectContext(ctx, &claims, `
		SELECT `+claimColumns+` FROM claim_requests WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	return claims, err
}

// AdminList lists claims, optionally filtered by status.
func (s *ClaimService) AdminList(ctx context.Context, status string) ([]models.ClaimRequest, error) {
	claims := []models.ClaimRequest{}
	err := s.db.SelectContext(ctx, &claims, `
		SELECT `+claimColumns+`
		FROM claim_requests
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT 200`, status)
	return claims, err
}

// AdminReject closes a pending claim with the reviewer's notes.
func (s *ClaimService) AdminReject(ctx context.Context, claimID int, notes string) (*models.ClaimRequest, error) {
	claim, err := s.setStatus(ctx, claimID, models.ClaimStatusRejected, &notes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, s.missingClaim(ctx, claimID, nil)
	}
	if err != nil {
		return nil, err
	}
	s.redis.Del(ctx, claimOTPKey(claimID))
	log.Printf("[CLAIMS] Claim %d rejected by admin", claimID)
	return claim, nil
}

func (s *ClaimService) setStatus(ctx context.Context, claimID int, status string, notes *string) (*models.ClaimRequest, error) {
	var claim models.ClaimRequest
	err := s.db.GetContext(ctx, &claim, `
		UPDATE claim_requests SET status = $1, notes = COALESCE($2, notes), updated_at = $3
		WHERE id = $4 AND status = 'pending'
		RETURNING `+claimColumns,
		status, notes, s.now(), claimID)
	if err != nil {
		return nil, err
	}
	return &claim, nil
}

// missingClaim tells a claim that does not exist from one that is no longer
// pending.
func (s *ClaimService) missingClaim(ctx context.Context, claimID int, userID *int) error {
	var status string
	err := s.db.QueryRowContext(ctx, `
		SELECT status FROM claim_requests WHERE id = $1 AND ($2::int IS NULL OR user_id = $2)`,
		claimID, userID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrClaimNotFound
	}
	if err != nil {
		return err
	}
	return ErrClaimNotPending
}
