package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/buscai/backend/internal/audit"
	"github.com/buscai/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// LedgerService owns every wallet mutation. Each mutation locks the wallet
// row inside a database transaction before reading the balance.
type LedgerService struct {
	db    *sqlx.DB
	audit *audit.Logger
	now   func() time.Time
}

func NewLedgerService(db *sqlx.DB, auditLogger *audit.Logger) *LedgerService {
	return &LedgerService{
		db:    db,
		audit: auditLogger,
		now:   time.Now,
	}
}

// HoldRequest describes one sponsored impression to reserve.
type HoldRequest struct {
	SearchID  uuid.UUID
	CompanyID int
	CityID    int
	NicheID   int
	Position  int
	Amount    decimal.Decimal
}

func (s *LedgerService) GetWallet(ctx context.Context, companyID int) (*models.Wallet, error) {
	var wallet models.Wallet
	err := s.db.GetContext(ctx, &wallet, `
		SELECT company_id, balance, reserved, updated_at
		FROM wallets
		WHERE company_id = $1`, companyID)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.Wallet{CompanyID: companyID, Balance: decimal.Zero, Reserved: decimal.Zero}, nil
	}
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

// Credit adds confirmed funds, e.g. an admin credit.
func (s *LedgerService) Credit(ctx context.Context, companyID int, amount decimal.Decimal, provider string, metadata models.Metadata) (*models.Transaction, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	txn, err := s.CreditTx(ctx, tx, companyID, amount, provider, metadata)
	if err != nil {
		s.audit.LogError("credit", companyID, err)
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.audit.LogWallet(audit.EventCredit, txn.ID.String(), companyID, amount, map[string]any{"provider": provider})
	return txn, nil
}

func (s *LedgerService) CreditTx(ctx context.Context, tx *sqlx.Tx, companyID int, amount decimal.Decimal, provider string, metadata models.Metadata) (*models.Transaction, error) {
	wallet, err := s.lockWallet(ctx, tx, companyID)
	if err != nil {
		return nil, err
	}

	if err := s.updateWallet(ctx, tx, companyID, wallet.Balance.Add(amount), wallet.Reserved); err != nil {
		return nil, err
	}

	now := s.now()
	txn := &models.Transaction{
		ID:          uuid.New(),
		CompanyID:   companyID,
		Type:        models.TxTypeCredit,
		Amount:      amount,
		Status:      models.TxStatusConfirmed,
		Provider:    provider,
		Metadata:    metadata,
		OccurredAt:  now,
		ConfirmedAt: &now,
	}
	if err := s.insertTransaction(ctx, tx, txn); err != nil {
		return nil, err
	}
	return txn, nil
}

// AddBalanceTx credits funds whose ledger row already exists, such as a
// recharge moving from pending to confirmed.
func (s *LedgerService) AddBalanceTx(ctx context.Context, tx *sqlx.Tx, companyID int, amount decimal.Decimal) (*models.Wallet, error) {
	wallet, err := s.lockWallet(ctx, tx, companyID)
	if err != nil {
		return nil, err
	}
	wallet.Balance = wallet.Balance.Add(amount)
	if err := s.updateWallet(ctx, tx, companyID, wallet.Balance, wallet.Reserved); err != nil {
		return nil, err
	}
	return wallet, nil
}

// Debit spends available funds immediately (wallet_debit).
func (s *LedgerService) Debit(ctx context.Context, companyID int, amount decimal.Decimal, metadata models.Metadata) (*models.Transaction, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	txn, err := s.DebitTx(ctx, tx, companyID, amount, metadata)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	s.audit.LogWallet(audit.EventDebit, txn.ID.String(), companyID, amount, metadata)
	return txn, nil
}

func (s *LedgerService) DebitTx(ctx context.Context, tx *sqlx.Tx, companyID int, amount decimal.Decimal, metadata models.Metadata) (*models.Transaction, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	wallet, err := s.lockWallet(ctx, tx, companyID)
	if err != nil {
		return nil, err
	}

	if wallet.Available().LessThan(amount) {
		s.audit.LogError("debit", companyID, ErrInsufficientBalance)
		return nil, ErrInsufficientBalance
	}

	if err := s.updateWallet(ctx, tx, companyID, wallet.Balance.Sub(amount), wallet.Reserved); err != nil {
		return nil, err
	}

	now := s.now()
	txn := &models.Transaction{
		ID:          uuid.New(),
		CompanyID:   companyID,
		Type:        models.TxTypeWalletDebit,
		Amount:      amount,
		Status:      models.TxStatusConfirmed,
		Provider:    models.ProviderInternal,
		Metadata:    metadata,
		OccurredAt:  now,
		ConfirmedAt: &now,
	}
	if err := s.insertTransaction(ctx, tx, txn); err != nil {
		return nil, err
	}
	return txn, nil
}

// Hold reserves the charge of a sponsored impression.
func (s *LedgerService) Hold(ctx context.Context, req HoldRequest) (*models.ImpressionHold, error) {
	if !req.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	wallet, err := s.lockWallet(ctx, tx, req.CompanyID)
	if err != nil {
		return nil, err
	}

	if wallet.Available().LessThan(req.Amount) {
		return nil, ErrInsufficientBalance
	}

	if err := s.updateWallet(ctx, tx, req.CompanyID, wallet.Balance, wallet.Reserved.Add(req.Amount)); err != nil {
		return nil, err
	}

	hold := &models.ImpressionHold{
		ID:        uuid.New(),
		SearchID:  req.SearchID,
		CompanyID: req.CompanyID,
		CityID:    req.CityID,
		NicheID:   req.NicheID,
		Position:  req.Position,
		Amount:    req.Amount,
		Status:    models.HoldStatusHeld,
		CreatedAt: s.now(),
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO impression_holds (id, search_id, company_id, city_id, niche_id, position, amount, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		hold.ID, hold.SearchID, hold.CompanyID, hold.CityID, hold.NicheID, hold.Position, hold.Amount, hold.Status, hold.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.audit.LogWallet(audit.EventHold, hold.ID.String(), req.CompanyID, req.Amount, map[string]any{
		"search_id": req.SearchID.String(),
		"position":  req.Position,
	})
	return hold, nil
}

// ReleaseHold returns a held amount to the available balance. Releasing a
// hold that is no longer held is a no-op.
func (s *LedgerService) ReleaseHold(ctx context.Context, holdID uuid.UUID) error {
	var companyID int
	err := s.db.QueryRowContext(ctx, `SELECT company_id FROM impression_holds WHERE id = $1`, holdID).Scan(&companyID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrHoldNotFound
	}
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// wallet before hold, same order as capture
	wallet, err := s.lockWallet(ctx, tx, companyID)
	if err != nil {
		return err
	}

	var hold models.ImpressionHold
	err = tx.GetContext(ctx, &hold, `
		SELECT id, company_id, amount, status
		FROM impression_holds
		WHERE id = $1
		FOR UPDATE`, holdID)
	if err != nil {
		return err
	}
	if hold.Status != models.HoldStatusHeld {
		return nil
	}

	if err := s.updateWallet(ctx, tx, companyID, wallet.Balance, subFloorZero(wallet.Reserved, hold.Amount)); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE impression_holds
		SET status = $1, settled_at = $2
		WHERE id = $3`,
		models.HoldStatusReleased, s.now(), holdID)
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	s.audit.LogWallet(audit.EventRelease, holdID.String(), companyID, hold.Amount, nil)
	return nil
}

// CaptureHolds settles holds older than settleAfter, writing one
// search_debit per company. It returns the number of holds captured.
func (s *LedgerService) CaptureHolds(ctx context.Context, settleAfter time.Duration) (int, error) {
	cutoff := s.now().Add(-settleAfter)

	var companyIDs []int
	err := s.db.SelectContext(ctx, &companyIDs, `
		SELECT DISTINCT company_id
		FROM impression_holds
		WHERE status = 'held' AND created_at <= $1
		ORDER BY company_id`, cutoff)
	if err != nil {
		return 0, err
	}

	total := 0
	var firstErr error
	for _, companyID := range companyIDs {
		n, err := s.captureCompany(ctx, companyID, cutoff)
		if err != nil {
			log.Printf("[LEDGER] Capture failed for company %d: %v", companyID, err)
			s.audit.LogError("capture", companyID, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		total += n
	}
	return total, firstErr
}

func (s *LedgerService) captureCompany(ctx context.Context, companyID int, cutoff time.Time) (int, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	wallet, err := s.lockWallet(ctx, tx, companyID)
	if err != nil {
		return 0, err
	}

	var holds []models.ImpressionHold
	err = tx.SelectContext(ctx, &holds, `
		SELECT id, amount
		FROM impression_holds
		WHERE company_id = $1 AND status = 'held' AND created_at <= $2
		FOR UPDATE`, companyID, cutoff)
	if err != nil {
		return 0, err
	}
	if len(holds) == 0 {
		return 0, nil
	}

	sum := decimal.Zero
	ids := make([]string, 0, len(holds))
	for _, h := range holds {
		sum = sum.Add(h.Amount)
		ids = append(ids, h.ID.String())
	}

	now := s.now()
	txn := &models.Transaction{
		ID:          uuid.New(),
		CompanyID:   companyID,
		Type:        models.TxTypeSearchDebit,
		Amount:      sum,
		Status:      models.TxStatusConfirmed,
		Provider:    models.ProviderAuction,
		Metadata:    models.Metadata{"hold_count": len(holds), "hold_ids": ids},
		OccurredAt:  now,
		ConfirmedAt: &now,
	}
	if err := s.insertTransaction(ctx, tx, txn); err != nil {
		return 0, err
	}

	if err := s.updateWallet(ctx, tx, companyID, wallet.Balance.Sub(sum), subFloorZero(wallet.Reserved, sum)); err != nil {
		return 0, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE impression_holds
		SET status = 'captured', transaction_id = $1, settled_at = $2
		WHERE id = ANY($3)`,
		txn.ID, now, pq.Array(ids))
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}

	s.audit.LogWallet(audit.EventCapture, txn.ID.String(), companyID, sum, map[string]any{"hold_count": len(holds)})
	return len(holds), nil
}

func (s *LedgerService) ListTransactions(ctx context.Context, companyID int, txType string, limit, offset int) ([]models.Transaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT id, company_id, type, amount, status, provider, reference, metadata, occurred_at, confirmed_at
		FROM transactions
		WHERE company_id = $1`
	args := []any{companyID}
	if txType != "" {
		query += ` AND type = $2`
		args = append(args, txType)
	}
	query += fmt.Sprintf(` ORDER BY occurred_at DESC LIMIT %d OFFSET %d`, limit, offset)

	txns := []models.Transaction{}
	err := s.db.SelectContext(ctx, &txns, query, args...)
	return txns, err
}

// lockWallet creates the wallet on first use and locks it for the rest of
// the transaction.
func (s *LedgerService) lockWallet(ctx context.Context, tx *sqlx.Tx, companyID int) (*models.Wallet, error) {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO wallets (company_id, balance, reserved, updated_at)
		VALUES ($1, 0, 0, NOW())
		ON CONFLICT (company_id) DO NOTHING`, companyID)
	if err != nil {
		return nil, err
	}

	var wallet models.Wallet
	err = tx.GetContext(ctx, &wallet, `
		SELECT company_id, balance, reserved, updated_at
		FROM wallets
		WHERE company_id = $1
		FOR UPDATE`, companyID)
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (s *LedgerService) updateWallet(ctx context.Context, tx *sqlx.Tx, companyID int, balance, reserved decimal.Decimal) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE wallets
		SET balance = $1, reserved = $2, updated_at = $3
		WHERE company_id = $4`,
		balance, reserved, s.now(), companyID)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("wallet %d not updated", companyID)
	}
	return nil
}

func (s *LedgerService) insertTransaction(ctx context.Context, tx *sqlx.Tx, t *models.Transaction) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO transactions (id, company_id, type, amount, status, provider, reference, metadata, occurred_at, confirmed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		t.ID, t.CompanyID, t.Type, t.Amount, t.Status, t.Provider, t.Reference, t.Metadata, t.OccurredAt, t.ConfirmedAt)
	return err
}

func subFloorZero(a, b decimal.Decimal) decimal.Decimal {
	out := a.Sub(b)
	if out.IsNegative() {
		return decimal.Zero
	}
	return out
}
