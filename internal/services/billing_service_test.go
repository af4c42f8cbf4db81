package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/buscai/backend/internal/audit"
	"github.com/buscai/backend/internal/config"
	"github.com/buscai/backend/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(eventType string, payload any) {
	m.Called(eventType, payload)
}

var txColumns = []string{"id", "company_id", "type", "amount", "status", "provider", "reference", "metadata", "occurred_at", "confirmed_at"}

func testBillingConfig() config.BillingConfig {
	return config.BillingConfig{
		WebhookSecret:  "whsec",
		PixKey:         "pix@buscai.com.br",
		MerchantName:   "BUSCAI",
		MerchantCity:   "SAO PAULO",
		MinRecharge:    10,
		MaxRecharge:    10000,
		RechargeExpiry: 24 * time.Hour,
	}
}

func newTestBilling(t *testing.T, events EventPublisher) (*BillingService, sqlmock.Sqlmock) {
	db, mock := newMockDB(t)
	cfg := testBillingConfig()
	auditLogger := audit.NewLogger()
	ledger := NewLedgerService(db, auditLogger)
	qr := NewPixQRService(cfg.PixKey, cfg.MerchantName, cfg.MerchantCity)
	return NewBillingService(db, ledger, qr, auditLogger, events, cfg), mock
}

func TestBillingService_CreateRecharge(t *testing.T) {
	service, mock := newTestBilling(t, nil)

	t.Run("creates pending recharge with pix code", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO transactions").
			WithArgs(sqlmock.AnyArg(), 12, models.TxTypeRecharge, decimalArg("50"), models.TxStatusPending, models.ProviderPix,
				sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), nil).
			WillReturnResult(sqlmock.NewResult(0, 1))

		resp, err := service.CreateRecharge(context.Background(), 12, dec("50"))

		require.NoError(t, err)
		assert.Len(t, resp.Reference, 25)
		assert.Contains(t, resp.PixPayload, resp.Reference)
		assert.NotEmpty(t, resp.QRCodeBase64)
		assert.Equal(t, models.TxStatusPending, resp.Transaction.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("amount out of range", func(t *testing.T) {
		_, err := service.CreateRecharge(context.Background(), 12, dec("9.99"))
		assert.ErrorIs(t, err, ErrInvalidAmount)

		_, err = service.CreateRecharge(context.Background(), 12, dec("10000.01"))
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})
}

func TestBillingService_VerifyWebhookSignature(t *testing.T) {
	service, _ := newTestBilling(t, nil)
	body := []byte(`{"reference":"RC1","status":"confirmed"}`)
	mac := hmac.New(sha256.New, []byte("whsec"))
	mac.Write(body)
	sig := hex.EncodeToString(mac.Sum(nil))

	assert.True(t, service.VerifyWebhookSignature(body, sig))
	assert.True(t, service.VerifyWebhookSignature(body, "sha256="+sig))
	assert.False(t, service.VerifyWebhookSignature(body, "deadbeef"))
	assert.False(t, service.VerifyWebhookSignature(body, ""))
	assert.False(t, service.VerifyWebhookSignature([]byte(`{}`), sig))
}

func TestBillingService_HandlePixWebhook(t *testing.T) {
	txID := uuid.New()
	ref := "RCABCDEF"

	t.Run("confirms and credits", func(t *testing.T) {
		events := new(MockPublisher)
		events.On("Publish", EventRechargeConfirmed, mock.Anything).Return()
		service, mock := newTestBilling(t, events)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM transactions WHERE reference = \\$1 AND type = 'recharge' FOR UPDATE").
			WithArgs(ref).
			WillReturnRows(sqlmock.NewRows(txColumns).
				AddRow(txID.String(), 12, models.TxTypeRecharge, "50.00", models.TxStatusPending, models.ProviderPix, ref, []byte(`{}`), time.Now(), nil))
		expectLockWallet(mock, 12, "5.00", "0")
		mock.ExpectExec("UPDATE wallets").
			WithArgs(decimalArg("55"), decimalArg("0"), sqlmock.AnyArg(), 12).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE transactions SET status = \\$1, confirmed_at = \\$2, metadata = \\$3").
			WithArgs(models.TxStatusConfirmed, sqlmock.AnyArg(), sqlmock.AnyArg(), txID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		amount := dec("50.00")
		txn, changed, err := service.HandlePixWebhook(context.Background(), PixWebhookEvent{
			Reference: ref, Status: models.TxStatusConfirmed, Amount: &amount, EndToEndID: "E123",
		})

		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, models.TxStatusConfirmed, txn.Status)
		assert.NotNil(t, txn.ConfirmedAt)
		assert.Equal(t, "E123", txn.Metadata["end_to_end_id"])
		events.AssertExpectations(t)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("repeated confirmation is a no-op", func(t *testing.T) {
		service, mock := newTestBilling(t, nil)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM transactions WHERE reference").
			WithArgs(ref).
			WillReturnRows(sqlmock.NewRows(txColumns).
				AddRow(txID.String(), 12, models.TxTypeRecharge, "50.00", models.TxStatusConfirmed, models.ProviderPix, ref, nil, time.Now(), time.Now()))
		mock.ExpectRollback()

		_, changed, err := service.HandlePixWebhook(context.Background(), PixWebhookEvent{Reference: ref, Status: models.TxStatusConfirmed})

		require.NoError(t, err)
		assert.False(t, changed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("amount mismatch", func(t *testing.T) {
		service, mock := newTestBilling(t, nil)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM transactions WHERE reference").
			WithArgs(ref).
			WillReturnRows(sqlmock.NewRows(txColumns).
				AddRow(txID.String(), 12, models.TxTypeRecharge, "50.00", models.TxStatusPending, models.ProviderPix, ref, nil, time.Now(), nil))
		mock.ExpectRollback()

		amount := dec("5.00")
		_, _, err := service.HandlePixWebhook(context.Background(), PixWebhookEvent{Reference: ref, Status: models.TxStatusConfirmed, Amount: &amount})

		assert.ErrorIs(t, err, ErrAmountMismatch)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failed payment does not credit", func(t *testing.T) {
		service, mock := newTestBilling(t, nil)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM transactions WHERE reference").
			WithArgs(ref).
			WillReturnRows(sqlmock.NewRows(txColumns).
				AddRow(txID.String(), 12, models.TxTypeRecharge, "50.00", models.TxStatusPending, models.ProviderPix, ref, nil, time.Now(), nil))
		mock.ExpectExec("UPDATE transactions SET status").
			WithArgs(models.TxStatusFailed, nil, sqlmock.AnyArg(), txID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		txn, changed, err := service.HandlePixWebhook(context.Background(), PixWebhookEvent{Reference: ref, Status: models.TxStatusFailed})

		require.NoError(t, err)
		assert.True(t, changed)
		assert.Nil(t, txn.ConfirmedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown reference", func(t *testing.T) {
		service, mock := newTestBilling(t, nil)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM transactions WHERE reference").
			WithArgs("RCNOPE").
			WillReturnRows(sqlmock.NewRows(txColumns))
		mock.ExpectRollback()

		_, _, err := service.HandlePixWebhook(context.Background(), PixWebhookEvent{Reference: "RCNOPE", Status: models.TxStatusConfirmed})

		assert.ErrorIs(t, err, ErrRechargeNotFound)
	})
}

func TestBillingService_ExpirePendingRecharges(t *testing.T) {
	service, mock := newTestBilling(t, nil)
	fixed := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	service.now = func() time.Time { return fixed }

	mock.ExpectExec("UPDATE transactions SET status = 'expired'").
		WithArgs(fixed.Add(-24 * time.Hour)).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := service.ExpirePendingRecharges(context.Background())

	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBillingService_GetRecharge(t *testing.T) {
	service, mock := newTestBilling(t, nil)

	mock.ExpectQuery("SELECT (.+) FROM transactions WHERE reference = \\$1 AND company_id = \\$2").
		WithArgs("RCX", 12).
		WillReturnRows(sqlmock.NewRows(txColumns))

	_, err := service.GetRecharge(context.Background(), 12, "RCX")

	assert.ErrorIs(t, err, ErrRechargeNotFound)
}
