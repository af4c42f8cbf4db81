package services

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/buscai/backend/internal/models"
	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockSender struct {
	mock.Mock
}

func (m *MockSender) SendText(ctx context.Context, to, body string) error {
	args := m.Called(ctx, to, body)
	return args.Error(0)
}

var claimRowColumns = []string{"id", "user_id", "company_id", "method", "status", "cnpj", "attempts", "notes",
	"created_at", "updated_at", "verified_at"}

func newTestClaims(t *testing.T, sender MessageSender, events EventPublisher) (*ClaimService, sqlmock.Sqlmock, redismock.ClientMock) {
	db, sqlMock := newMockDB(t)
	redisClient, redisMock := redismock.NewClientMock()
	service := NewClaimService(db, redisClient, sender, events)
	service.now = func() time.Time { return fixedTime }
	return service, sqlMock, redisMock
}

func claimRow(id int, status string, attempts int) *sqlmock.Rows {
	return sqlmock.NewRows(claimRowColumns).
		AddRow(id, 5, 7, models.ClaimMethodWhatsAppOTP, status, nil, attempts, nil, fixedTime, fixedTime, nil)
}

func expectClaimCompany(m sqlmock.Sqlmock, cnpj, whatsapp any, ownerID any) {
	m.ExpectQuery("SELECT id, name, cnpj, whatsapp, owner_id FROM companies WHERE id = \\$1").
		WithArgs(7).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "cnpj", "whatsapp", "owner_id"}).
			AddRow(7, "Hidro Norte", cnpj, whatsapp, ownerID))
}

func TestClaimService_Create(t *testing.T) {
	t.Run("sends code over whatsapp", func(t *testing.T) {
		sender := new(MockSender)
		events := new(MockPublisher)
		service, m, rmock := newTestClaims(t, sender, events)

		expectClaimCompany(m, nil, "+55 19 99999-0000", nil)
		m.ExpectQuery("INSERT INTO claim_requests").
			WithArgs(5, 7, models.ClaimMethodWhatsAppOTP, models.ClaimStatusPending, nil, fixedTime).
			WillReturnRows(claimRow(31, models.ClaimStatusPending, 0))
		rmock.Regexp().ExpectSet("claim_otp:31", "^[0-9a-f]{64}$", claimOTPTTL).SetVal("OK")

		var sentBody string
		sender.On("SendText", mock.Anything, "5519999990000", mock.AnythingOfType("string")).
			Run(func(args mock.Arguments) { sentBody = args.String(2) }).
			Return(nil)
		events.On("Publish", EventClaimCreated, mock.Anything).Return()

		claim, err := service.Create(context.Background(), 5, CreateClaimRequest{CompanyID: 7, Method: models.ClaimMethodWhatsAppOTP})

		require.NoError(t, err)
		assert.Equal(t, 31, claim.ID)
		assert.Equal(t, models.ClaimStatusPending, claim.Status)
		assert.Regexp(t, regexp.MustCompile(`é \d{6}\.`), sentBody)
		assert.Contains(t, sentBody, "Hidro Norte")
		sender.AssertExpectations(t)
		events.AssertExpectations(t)
		assert.NoError(t, m.ExpectationsWereMet())
		assert.NoError(t, rmock.ExpectationsWereMet())
	})

	t.Run("company already owned", func(t *testing.T) {
		service, m, _ := newTestClaims(t, new(MockSender), nil)
		expectClaimCompany(m, nil, "5519999990000", 3)

		_, err := service.Create(context.Background(), 5, CreateClaimRequest{CompanyID: 7, Method: models.ClaimMethodWhatsAppOTP})
		assert.ErrorIs(t, err, ErrCompanyAlreadyClaimed)
	})

	t.Run("company without whatsapp", func(t *testing.T) {
		service, m, _ := newTestClaims(t, new(MockSender), nil)
		expectClaimCompany(m, nil, nil, nil)

		_, err := service.Create(context.Background(), 5, CreateClaimRequest{CompanyID: 7, Method: models.ClaimMethodWhatsAppOTP})
		assert.ErrorIs(t, err, ErrCompanyNoWhatsApp)
	})

	t.Run("cnpj must match", func(t *testing.T) {
		service, m, _ := newTestClaims(t, new(MockSender), nil)
		expectClaimCompany(m, "12345678000199", "5519999990000", nil)

		_, err := service.Create(context.Background(), 5, CreateClaimRequest{
			CompanyID: 7,
			Method:    models.ClaimMethodCNPJWhatsApp,
			CNPJ:      "12.345.678/0001-00",
		})
		assert.ErrorIs(t, err, ErrCNPJMismatch)
		assert.NoError(t, m.ExpectationsWereMet())
	})

	t.Run("one pending claim per company", func(t *testing.T) {
		service, m, _ := newTestClaims(t, new(MockSender), nil)
		expectClaimCompany(m, "12345678000199", "5519999990000", nil)
		m.ExpectQuery("INSERT INTO claim_requests").
			WithArgs(5, 7, models.ClaimMethodCNPJWhatsApp, models.ClaimStatusPending, "12345678000199", fixedTime).
			WillReturnError(&pq.Error{Code: pqUniqueViolation})

		_, err := service.Create(context.Background(), 5, CreateClaimRequest{
			CompanyID: 7,
			Method:    models.ClaimMethodCNPJWhatsApp,
			CNPJ:      "12.345.678/0001-99",
		})
		assert.ErrorIs(t, err, ErrClaimAlreadyPending)
	})

	t.Run("delivery failure cancels the claim", func(t *testing.T) {
		sender := new(MockSender)
		service, m, rmock := newTestClaims(t, sender, nil)

		expectClaimCompany(m, nil, "5519999990000", nil)
		m.ExpectQuery("INSERT INTO claim_requests").
			WillReturnRows(claimRow(32, models.ClaimStatusPending, 0))
		rmock.Regexp().ExpectSet("claim_otp:32", "^[0-9a-f]{64}$", claimOTPTTL).SetVal("OK")
		sender.On("SendText", mock.Anything, "5519999990000", mock.Anything).Return(errors.New("graph api down"))
		m.ExpectQuery("UPDATE claim_requests SET status = \\$1").
			WithArgs(models.ClaimStatusCancelled, nil, fixedTime, 32).
			WillReturnRows(claimRow(32, models.ClaimStatusCancelled, 0))

		_, err := service.Create(context.Background(), 5, CreateClaimRequest{CompanyID: 7, Method: models.ClaimMethodWhatsAppOTP})
		assert.ErrorIs(t, err, ErrOTPDelivery)
		assert.NoError(t, m.ExpectationsWereMet())
	})
}

func TestClaimService_Confirm(t *testing.T) {
	expectClaimForUpdate := func(m sqlmock.Sqlmock, status string, attempts int) {
		m.ExpectBegin()
		m.ExpectQuery("SELECT (.+) FROM claim_requests WHERE id = \\$1 AND user_id = \\$2 FOR UPDATE").
			WithArgs(31, 5).
			WillReturnRows(claimRow(31, status, attempts))
	}

	t.Run("valid code transfers ownership", func(t *testing.T) {
		service, m, rmock := newTestClaims(t, nil, nil)

		expectClaimForUpdate(m, models.ClaimStatusPending, 1)
		rmock.ExpectGet("claim_otp:31").SetVal(hashOTP(31, "123456"))
		m.ExpectExec("UPDATE companies SET owner_id = \\$1, updated_at = \\$2 WHERE id = \\$3 AND owner_id IS NULL").
			WithArgs(5, fixedTime, 7).
			WillReturnResult(sqlmock.NewResult(0, 1))
		m.ExpectQuery("UPDATE claim_requests SET status = \\$1, verified_at = \\$2").
			WithArgs(models.ClaimStatusVerified, fixedTime, 31).
			WillReturnRows(sqlmock.NewRows(claimRowColumns).
				AddRow(31, 5, 7, models.ClaimMethodWhatsAppOTP, models.ClaimStatusVerified, nil, 1, nil, fixedTime, fixedTime, fixedTime))
		m.ExpectCommit()
		rmock.ExpectDel("claim_otp:31").SetVal(1)

		claim, err := service.Confirm(context.Background(), 5, 31, "123456")

		require.NoError(t, err)
		assert.Equal(t, models.ClaimStatusVerified, claim.Status)
		require.NotNil(t, claim.VerifiedAt)
		assert.NoError(t, m.ExpectationsWereMet())
		assert.NoError(t, rmock.ExpectationsWereMet())
	})

	t.Run("wrong code counts an attempt", func(t *testing.T) {
		service, m, rmock := newTestClaims(t, nil, nil)

		expectClaimForUpdate(m, models.ClaimStatusPending, 2)
		rmock.ExpectGet("claim_otp:31").SetVal(hashOTP(31, "123456"))
		m.ExpectExec("UPDATE claim_requests SET attempts = \\$1, status = \\$2").
			WithArgs(3, models.ClaimStatusPending, fixedTime, 31).
			WillReturnResult(sqlmock.NewResult(0, 1))
		m.ExpectCommit()

		_, err := service.Confirm(context.Background(), 5, 31, "654321")

		assert.ErrorIs(t, err, ErrInvalidOTP)
		assert.NoError(t, m.ExpectationsWereMet())
	})

	t.Run("fifth wrong code rejects the claim", func(t *testing.T) {
		service, m, rmock := newTestClaims(t, nil, nil)

		expectClaimForUpdate(m, models.ClaimStatusPending, 4)
		rmock.ExpectGet("claim_otp:31").SetVal(hashOTP(31, "123456"))
		m.ExpectExec("UPDATE claim_requests SET attempts = \\$1, status = \\$2").
			WithArgs(5, models.ClaimStatusRejected, fixedTime, 31).
			WillReturnResult(sqlmock.NewResult(0, 1))
		m.ExpectCommit()
		rmock.ExpectDel("claim_otp:31").SetVal(1)

		_, err := service.Confirm(context.Background(), 5, 31, "000000")

		assert.ErrorIs(t, err, ErrTooManyAttempts)
		assert.NoError(t, m.ExpectationsWereMet())
		assert.NoError(t, rmock.ExpectationsWereMet())
	})

	t.Run("expired code", func(t *testing.T) {
		service, m, rmock := newTestClaims(t, nil, nil)

		expectClaimForUpdate(m, models.ClaimStatusPending, 0)
		rmock.ExpectGet("claim_otp:31").SetErr(redis.Nil)
		m.ExpectRollback()

		_, err := service.Confirm(context.Background(), 5, 31, "123456")

		assert.ErrorIs(t, err, ErrOTPExpired)
		assert.NoError(t, m.ExpectationsWereMet())
	})

	t.Run("claim no longer pending", func(t *testing.T) {
		service, m, _ := newTestClaims(t, nil, nil)

		expectClaimForUpdate(m, models.ClaimStatusCancelled, 0)
		m.ExpectRollback()

		_, err := service.Confirm(context.Background(), 5, 31, "123456")
		assert.ErrorIs(t, err, ErrClaimNotPending)
	})

	t.Run("company taken meanwhile", func(t *testing.T) {
		service, m, rmock := newTestClaims(t, nil, nil)

		expectClaimForUpdate(m, models.ClaimStatusPending, 0)
		rmock.ExpectGet("claim_otp:31").SetVal(hashOTP(31, "123456"))
		m.ExpectExec("UPDATE companies SET owner_id").
			WillReturnResult(sqlmock.NewResult(0, 0))
		m.ExpectRollback()

		_, err := service.Confirm(context.Background(), 5, 31, "123456")
		assert.ErrorIs(t, err, ErrCompanyAlreadyClaimed)
		assert.NoError(t, m.ExpectationsWereMet())
	})
}

func TestClaimService_Cancel(t *testing.T) {
	t.Run("pending claim", func(t *testing.T) {
		service, m, rmock := newTestClaims(t, nil, nil)

		m.ExpectQuery("UPDATE claim_requests SET status = \\$1, updated_at = \\$2 WHERE id = \\$3 AND user_id = \\$4 AND status = 'pending'").
			WithArgs(models.ClaimStatusCancelled, fixedTime, 31, 5).
			WillReturnRows(claimRow(31, models.ClaimStatusCancelled, 0))
		rmock.ExpectDel("claim_otp:31").SetVal(1)

		claim, err := service.Cancel(context.Background(), 5, 31)

		require.NoError(t, err)
		assert.Equal(t, models.ClaimStatusCancelled, claim.Status)
	})

	t.Run("already verified", func(t *testing.T) {
		service, m, _ := newTestClaims(t, nil, nil)

		m.ExpectQuery("UPDATE claim_requests SET status").
			WillReturnRows(sqlmock.NewRows(claimRowColumns))
		m.ExpectQuery("SELECT status FROM claim_requests").
			WithArgs(31, 5).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(models.ClaimStatusVerified))

		_, err := service.Cancel(context.Background(), 5, 31)
		assert.ErrorIs(t, err, ErrClaimNotPending)
	})

	t.Run("someone else's claim", func(t *testing.T) {
		service, m, _ := newTestClaims(t, nil, nil)

		m.ExpectQuery("UPDATE claim_requests SET status").
			WillReturnRows(sqlmock.NewRows(claimRowColumns))
		m.ExpectQuery("SELECT status FROM claim_requests").
			WithArgs(31, 5).
			WillReturnRows(sqlmock.NewRows([]string{"status"}))

		_, err := service.Cancel(context.Background(), 5, 31)
		assert.ErrorIs(t, err, ErrClaimNotFound)
	})
}

func TestClaimService_AdminReject(t *testing.T) {
	service, m, rmock := newTestClaims(t, nil, nil)

	m.ExpectQuery("UPDATE claim_requests SET status = \\$1, notes = COALESCE\\(\\$2, notes\\)").
		WithArgs(models.ClaimStatusRejected, "Documentos não conferem", fixedTime, 31).
		WillReturnRows(sqlmock.NewRows(claimRowColumns).
			AddRow(31, 5, 7, models.ClaimMethodWhatsAppOTP, models.ClaimStatusRejected, nil, 0, "Documentos não conferem", fixedTime, fixedTime, nil))
	rmock.ExpectDel("claim_otp:31").SetVal(1)

	claim, err := service.AdminReject(context.Background(), 31, "Documentos não conferem")

	require.NoError(t, err)
	assert.Equal(t, models.ClaimStatusRejected, claim.Status)
	require.NotNil(t, claim.Notes)
	assert.Equal(t, "Documentos não conferem", *claim.Notes)
	assert.NoError(t, m.ExpectationsWereMet())
}

func TestClaimService_AdminList(t *testing.T) {
	service, m, _ := newTestClaims(t, nil, nil)

	m.ExpectQuery("SELECT (.+) FROM claim_requests WHERE \\(\\$1 = '' OR status = \\$1\\)").
		WithArgs(models.ClaimStatusPending).
		WillReturnRows(claimRow(31, models.ClaimStatusPending, 0))

	claims, err := service.AdminList(context.Background(), models.ClaimStatusPending)

	require.NoError(t, err)
	assert.Len(t, claims, 1)
}
