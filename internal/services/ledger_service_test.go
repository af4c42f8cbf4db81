package services

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/buscai/backend/internal/audit"
	"github.com/buscai/backend/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func expectLockWallet(mock sqlmock.Sqlmock, companyID int, balance, reserved string) {
	mock.ExpectExec("INSERT INTO wallets").
		WithArgs(companyID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT company_id, balance, reserved, updated_at FROM wallets WHERE company_id = \\$1 FOR UPDATE").
		WithArgs(companyID).
		WillReturnRows(sqlmock.NewRows(walletColumns).AddRow(companyID, balance, reserved, time.Now()))
}

func newTestLedger(t *testing.T) (*LedgerService, sqlmock.Sqlmock) {
	db, mock := newMockDB(t)
	return NewLedgerService(db, audit.NewLogger()), mock
}

func TestLedgerService_GetWallet(t *testing.T) {
	service, mock := newTestLedger(t)

	t.Run("existing wallet", func(t *testing.T) {
		mock.ExpectQuery("SELECT company_id, balance, reserved, updated_at FROM wallets").
			WithArgs(5).
			WillReturnRows(sqlmock.NewRows(walletColumns).AddRow(5, "100.00", "2.50", time.Now()))

		wallet, err := service.GetWallet(context.Background(), 5)

		require.NoError(t, err)
		assert.True(t, dec("97.50").Equal(wallet.Available()))
	})

	t.Run("missing wallet reads as empty", func(t *testing.T) {
		mock.ExpectQuery("SELECT company_id, balance, reserved, updated_at FROM wallets").
			WithArgs(6).
			WillReturnRows(sqlmock.NewRows(walletColumns))

		wallet, err := service.GetWallet(context.Background(), 6)

		require.NoError(t, err)
		assert.True(t, wallet.Balance.IsZero())
		assert.Equal(t, 6, wallet.CompanyID)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerService_Credit(t *testing.T) {
	service, mock := newTestLedger(t)

	mock.ExpectBegin()
	expectLockWallet(mock, 3, "10.00", "0")
	mock.ExpectExec("UPDATE wallets SET balance = \\$1, reserved = \\$2").
		WithArgs(decimalArg("35.00"), decimalArg("0"), sqlmock.AnyArg(), 3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO transactions").
		WithArgs(sqlmock.AnyArg(), 3, models.TxTypeCredit, decimalArg("25"), models.TxStatusConfirmed, models.ProviderAdmin,
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	txn, err := service.Credit(context.Background(), 3, dec("25"), models.ProviderAdmin, models.Metadata{"admin_id": 1})

	require.NoError(t, err)
	assert.Equal(t, models.TxTypeCredit, txn.Type)
	assert.NotNil(t, txn.ConfirmedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerService_Credit_RejectsNonPositive(t *testing.T) {
	service, mock := newTestLedger(t)

	_, err := service.Credit(context.Background(), 3, dec("0"), models.ProviderAdmin, nil)

	assert.ErrorIs(t, err, ErrInvalidAmount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerService_Debit(t *testing.T) {
	t.Run("insufficient available balance", func(t *testing.T) {
		service, mock := newTestLedger(t)

		mock.ExpectBegin()
		expectLockWallet(mock, 4, "50.00", "45.00")
		mock.ExpectRollback()

		_, err := service.Debit(context.Background(), 4, dec("10"), models.Metadata{"plan_code": "basic"})

		assert.ErrorIs(t, err, ErrInsufficientBalance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("debits balance and records wallet_debit", func(t *testing.T) {
		service, mock := newTestLedger(t)

		mock.ExpectBegin()
		expectLockWallet(mock, 4, "50.00", "5.00")
		mock.ExpectExec("UPDATE wallets").
			WithArgs(decimalArg("40"), decimalArg("5"), sqlmock.AnyArg(), 4).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO transactions").
			WithArgs(sqlmock.AnyArg(), 4, models.TxTypeWalletDebit, decimalArg("10"), models.TxStatusConfirmed, models.ProviderInternal,
				sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		txn, err := service.Debit(context.Background(), 4, dec("10"), nil)

		require.NoError(t, err)
		assert.Equal(t, models.TxTypeWalletDebit, txn.Type)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLedgerService_Hold(t *testing.T) {
	t.Run("reserves the amount", func(t *testing.T) {
		service, mock := newTestLedger(t)
		searchID := uuid.New()

		mock.ExpectBegin()
		expectLockWallet(mock, 8, "20.00", "1.00")
		mock.ExpectExec("UPDATE wallets").
			WithArgs(decimalArg("20"), decimalArg("2.51"), sqlmock.AnyArg(), 8).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO impression_holds").
			WithArgs(sqlmock.AnyArg(), searchID, 8, 1, 2, 1, decimalArg("1.51"), models.HoldStatusHeld, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		hold, err := service.Hold(context.Background(), HoldRequest{
			SearchID: searchID, CompanyID: 8, CityID: 1, NicheID: 2, Position: 1, Amount: dec("1.51"),
		})

		require.NoError(t, err)
		assert.Equal(t, models.HoldStatusHeld, hold.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("fails when reserved funds cover the balance", func(t *testing.T) {
		service, mock := newTestLedger(t)

		mock.ExpectBegin()
		expectLockWallet(mock, 8, "2.00", "1.00")
		mock.ExpectRollback()

		_, err := service.Hold(context.Background(), HoldRequest{CompanyID: 8, Amount: dec("1.51")})

		assert.ErrorIs(t, err, ErrInsufficientBalance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLedgerService_ReleaseHold(t *testing.T) {
	holdID := uuid.New()

	t.Run("releases a held amount", func(t *testing.T) {
		service, mock := newTestLedger(t)

		mock.ExpectQuery("SELECT company_id FROM impression_holds").
			WithArgs(holdID).
			WillReturnRows(sqlmock.NewRows([]string{"company_id"}).AddRow(8))
		mock.ExpectBegin()
		expectLockWallet(mock, 8, "20.00", "2.51")
		mock.ExpectQuery("SELECT id, company_id, amount, status FROM impression_holds").
			WithArgs(holdID).
			WillReturnRows(sqlmock.NewRows([]string{"id", "company_id", "amount", "status"}).
				AddRow(holdID.String(), 8, "1.51", models.HoldStatusHeld))
		mock.ExpectExec("UPDATE wallets").
			WithArgs(decimalArg("20"), decimalArg("1"), sqlmock.AnyArg(), 8).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE impression_holds").
			WithArgs(models.HoldStatusReleased, sqlmock.AnyArg(), holdID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, service.ReleaseHold(context.Background(), holdID))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("already captured is a no-op", func(t *testing.T) {
		service, mock := newTestLedger(t)

		mock.ExpectQuery("SELECT company_id FROM impression_holds").
			WithArgs(holdID).
			WillReturnRows(sqlmock.NewRows([]string{"company_id"}).AddRow(8))
		mock.ExpectBegin()
		expectLockWallet(mock, 8, "20.00", "0")
		mock.ExpectQuery("SELECT id, company_id, amount, status FROM impression_holds").
			WithArgs(holdID).
			WillReturnRows(sqlmock.NewRows([]string{"id", "company_id", "amount", "status"}).
				AddRow(holdID.String(), 8, "1.51", models.HoldStatusCaptured))
		mock.ExpectRollback()

		require.NoError(t, service.ReleaseHold(context.Background(), holdID))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown hold", func(t *testing.T) {
		service, mock := newTestLedger(t)

		mock.ExpectQuery("SELECT company_id FROM impression_holds").
			WithArgs(holdID).
			WillReturnRows(sqlmock.NewRows([]string{"company_id"}))

		assert.ErrorIs(t, service.ReleaseHold(context.Background(), holdID), ErrHoldNotFound)
	})
}

func TestLedgerService_CaptureHolds(t *testing.T) {
	service, mock := newTestLedger(t)
	fixed := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	service.now = func() time.Time { return fixed }
	h1, h2 := uuid.New(), uuid.New()

	mock.ExpectQuery("SELECT DISTINCT company_id FROM impression_holds").
		WithArgs(fixed.Add(-30 * time.Second)).
		WillReturnRows(sqlmock.NewRows([]string{"company_id"}).AddRow(8))

	mock.ExpectBegin()
	expectLockWallet(mock, 8, "20.00", "2.21")
	mock.ExpectQuery("SELECT id, amount FROM impression_holds").
		WithArgs(8, fixed.Add(-30*time.Second)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "amount"}).
			AddRow(h1.String(), "1.51").
			AddRow(h2.String(), "0.70"))
	mock.ExpectExec("INSERT INTO transactions").
		WithArgs(sqlmock.AnyArg(), 8, models.TxTypeSearchDebit, decimalArg("2.21"), models.TxStatusConfirmed, models.ProviderAuction,
			sqlmock.AnyArg(), sqlmock.AnyArg(), fixed, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE wallets").
		WithArgs(decimalArg("17.79"), decimalArg("0"), fixed, 8).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE impression_holds SET status = 'captured'").
		WithArgs(sqlmock.AnyArg(), fixed, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	n, err := service.CaptureHolds(context.Background(), 30*time.Second)

	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerService_ListTransactions(t *testing.T) {
	service, mock := newTestLedger(t)
	id := uuid.New()

	mock.ExpectQuery("SELECT id, company_id, type, amount, status, provider, reference, metadata, occurred_at, confirmed_at FROM transactions WHERE company_id = \\$1 AND type = \\$2 ORDER BY occurred_at DESC LIMIT 50 OFFSET 0").
		WithArgs(3, models.TxTypeRecharge).
		WillReturnRows(sqlmock.NewRows([]string{"id", "company_id", "type", "amount", "status", "provider", "reference", "metadata", "occurred_at", "confirmed_at"}).
			AddRow(id.String(), 3, models.TxTypeRecharge, "50.00", models.TxStatusPending, models.ProviderPix, "RCABC", []byte(`{"pix_key":"k"}`), time.Now(), nil))

	txns, err := service.ListTransactions(context.Background(), 3, models.TxTypeRecharge, 0, -1)

	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, "RCABC", *txns[0].Reference)
	assert.Equal(t, "k", txns[0].Metadata["pix_key"])
	assert.NoError(t, mock.ExpectationsWereMet())
}
