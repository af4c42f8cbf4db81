package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/buscai/backend/internal/audit"
	"github.com/buscai/backend/internal/config"
	"github.com/buscai/backend/internal/metrics"
	"github.com/buscai/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

const transactionColumns = `id, company_id, type, amount, status, provider, reference, metadata, occurred_at, confirmed_at`

type BillingService struct {
	db     *sqlx.DB
	ledger *LedgerService
	qr     *PixQRService
	audit  *audit.Logger
	events EventPublisher
	cfg    config.BillingConfig
	now    func() time.Time
}

// RechargeRequest represents a wallet recharge request
// @Description Recharge request structure
type RechargeRequest struct {
	CompanyID int             `json:"company_id,omitempty" example:"12"`
	Amount    decimal.Decimal `json:"amount" validate:"required" swaggertype:"string" example:"50.00"`
}

// RechargeResponse carries the PIX instructions for a pending recharge
// @Description Recharge response structure
type RechargeResponse struct {
	Transaction  *models.Transaction `json:"transaction"`
	Reference    string              `json:"reference" example:"RC3F2A9C0D4B5E6F7A8B9C0D1"`
	PixPayload   string              `json:"pix_payload"`
	QRCodeBase64 string              `json:"qr_code_base64"`
	ExpiresAt    time.Time           `json:"expires_at"`
}

// PixWebhookEvent is the payment provider callback body
// @Description PIX webhook payload
type PixWebhookEvent struct {
	Reference  string           `json:"reference" validate:"required" example:"RC3F2A9C0D4B5E6F7A8B9C0D1"`
	Status     string           `json:"status" validate:"required,oneof=confirmed failed expired" example:"confirmed"`
	Amount     *decimal.Decimal `json:"amount,omitempty" swaggertype:"string" example:"50.00"`
	EndToEndID string           `json:"end_to_end_id,omitempty" example:"E18236120202501011200s0123456789"`
}

func NewBillingService(db *sqlx.DB, ledger *LedgerService, qr *PixQRService, auditLogger *audit.Logger, events EventPublisher, cfg config.BillingConfig) *BillingService {
	return &BillingService{
		db:     db,
		ledger: ledger,
		qr:     qr,
		audit:  auditLogger,
		events: publisherOrNoop(events),
		cfg:    cfg,
		now:    time.Now,
	}
}

// CreateRecharge records a pending recharge and returns its PIX code.
func (s *BillingService) CreateRecharge(ctx context.Context, companyID int, amount decimal.Decimal) (*RechargeResponse, error) {
	amount = amount.Round(2)
	if amount.LessThan(decimal.NewFromFloat(s.cfg.MinRecharge)) || amount.GreaterThan(decimal.NewFromFloat(s.cfg.MaxRecharge)) {
		return nil, ErrInvalidAmount
	}

	reference := newRechargeReference()
	payload, image, err := s.qr.GenerateQRCode(amount, reference)
	if err != nil {
		return nil, err
	}

	now := s.now()
	txn := &models.Transaction{
		ID:         uuid.New(),
		CompanyID:  companyID,
		Type:       models.TxTypeRecharge,
		Amount:     amount,
		Status:     models.TxStatusPending,
		Provider:   models.ProviderPix,
		Reference:  &reference,
		Metadata:   models.Metadata{"pix_payload": payload},
		OccurredAt: now,
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		txn.ID, txn.CompanyID, txn.Type, txn.Amount, txn.Status, txn.Provider, txn.Reference, txn.Metadata, txn.OccurredAt, txn.ConfirmedAt)
	if err != nil {
		return nil, err
	}

	metrics.RecordRecharge(models.TxStatusPending)
	log.Printf("[BILLING] Recharge %s created for company %d: %s BRL", reference, companyID, amount.StringFixed(2))

	return &RechargeResponse{
		Transaction:  txn,
		Reference:    reference,
		PixPayload:   payload,
		QRCodeBase64: image,
		ExpiresAt:    now.Add(s.cfg.RechargeExpiry),
	}, nil
}

func (s *BillingService) GetRecharge(ctx context.Context, companyID int, reference string) (*models.Transaction, error) {
	var txn models.Transaction
	err := s.db.GetContext(ctx, &txn, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE reference = $1 AND company_id = $2 AND type = 'recharge'`, reference, companyID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRechargeNotFound
	}
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// VerifyWebhookSignature checks the hex HMAC-SHA256 of the raw body. An
// optional "sha256=" prefix is accepted.
func (s *BillingService) VerifyWebhookSignature(body []byte, signature string) bool {
	return verifyHMACSHA256(s.cfg.WebhookSecret, body, signature)
}

func verifyHMACSHA256(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	signature = strings.TrimPrefix(signature, "sha256=")
	expected, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expected)
}

// HandlePixWebhook applies a provider callback. Repeating a callback that
// was already applied returns the transaction with changed=false.
func (s *BillingService) HandlePixWebhook(ctx context.Context, event PixWebhookEvent) (*models.Transaction, bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	var txn models.Transaction
	err = tx.GetContext(ctx, &txn, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE reference = $1 AND type = 'recharge'
		FOR UPDATE`, event.Reference)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, ErrRechargeNotFound
	}
	if err != nil {
		return nil, false, err
	}

	if txn.Status == event.Status {
		log.Printf("[BILLING] Duplicate %s callback for %s ignored", event.Status, event.Reference)
		return &txn, false, nil
	}
	if txn.Status != models.TxStatusPending {
		return nil, false, ErrRechargeNotPending
	}

	if event.Status == models.TxStatusConfirmed {
		if event.Amount != nil && !event.Amount.Equal(txn.Amount) {
			s.audit.LogError(event.Reference, txn.CompanyID, ErrAmountMismatch)
			return nil, false, ErrAmountMismatch
		}
		if _, err := s.ledger.AddBalanceTx(ctx, tx, txn.CompanyID, txn.Amount); err != nil {
			return nil, false, err
		}
	}

	now := s.now()
	if txn.Metadata == nil {
		txn.Metadata = models.Metadata{}
	}
	if event.EndToEndID != "" {
		txn.Metadata["end_to_end_id"] = event.EndToEndID
	}
	txn.Status = event.Status
	if event.Status == models.TxStatusConfirmed {
		txn.ConfirmedAt = &now
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE transactions
		SET status = $1, confirmed_at = $2, metadata = $3
		WHERE id = $4`,
		txn.Status, txn.ConfirmedAt, txn.Metadata, txn.ID)
	if err != nil {
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, err
	}

	metrics.RecordRecharge(txn.Status)
	if txn.Status == models.TxStatusConfirmed {
		s.audit.LogWallet(audit.EventRecharge, event.Reference, txn.CompanyID, txn.Amount, map[string]any{"end_to_end_id": event.EndToEndID})
		s.events.Publish(EventRechargeConfirmed, map[string]any{
			"company_id": txn.CompanyID,
			"reference":  event.Reference,
			"amount":     txn.Amount,
		})
	}
	log.Printf("[BILLING] Recharge %s moved to %s", event.Reference, txn.Status)
	return &txn, true, nil
}

// ExpirePendingRecharges marks recharges left pending past the expiry
// window as expired.
func (s *BillingService) ExpirePendingRecharges(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE transactions
		SET status = 'expired'
		WHERE type = 'recharge' AND status = 'pending' AND occurred_at < $1`,
		s.now().Add(-s.cfg.RechargeExpiry))
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Printf("[BILLING] Expired %d pending recharges", n)
	}
	return n, nil
}

// newRechargeReference returns a 25 character alphanumeric id, the PIX txid
// limit.
func newRechargeReference() string {
	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return "RC" + id[:23]
}
