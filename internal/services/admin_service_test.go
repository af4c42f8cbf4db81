package services

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/buscai/backend/internal/audit"
	"github.com/buscai/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLogoStore struct {
	uploaded []byte
	err      error
}

func (f *fakeLogoStore) UploadLogo(_ context.Context, file io.Reader, companyID int) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return "", err
	}
	f.uploaded = data
	return "https://res.cloudinary.com/demo/image/upload/buscai/logos/company_7", nil
}

func newTestAdmin(t *testing.T, logos LogoStore) (*AdminService, sqlmock.Sqlmock) {
	db, m := newMockDB(t)
	ledger := NewLedgerService(db, audit.NewLogger())
	service := NewAdminService(db, NewCatalogService(db), ledger, logos)
	service.now = func() time.Time { return fixedTime }
	return service, m
}

func expectCompanyReload(m sqlmock.Sqlmock, c models.Company) {
	m.ExpectQuery("SELECT (.+) FROM companies c WHERE c.id = \\$1").
		WithArgs(c.ID).
		WillReturnRows(companyRows(c))
}

func TestAdminService_ListCompanies(t *testing.T) {
	service, m := newTestAdmin(t, nil)

	m.ExpectQuery("SELECT COUNT\\(\\*\\) FROM companies c WHERE").
		WithArgs(models.CompanyStatusActive, 1, "hidro").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(51))
	m.ExpectQuery("SELECT (.+) FROM companies c WHERE (.+) LIMIT \\$4 OFFSET \\$5").
		WithArgs(models.CompanyStatusActive, 1, "hidro", adminPageSize, adminPageSize).
		WillReturnRows(companyRows(testCompany(11, "Hidro Norte", "4.0")))

	page, err := service.ListCompanies(context.Background(), CompanyFilter{
		Status: models.CompanyStatusActive,
		CityID: 1,
		Query:  "  hidro ",
		Page:   2,
	})

	require.NoError(t, err)
	assert.Equal(t, 51, page.Total)
	assert.Equal(t, 2, page.Page)
	require.Len(t, page.Companies, 1)
	assert.Equal(t, "Hidro Norte", page.Companies[0].Name)
	assert.NoError(t, m.ExpectationsWereMet())
}

func TestAdminService_CreateCompany(t *testing.T) {
	t.Run("invalid cnpj", func(t *testing.T) {
		service, _ := newTestAdmin(t, nil)
		cnpj := "123"

		_, err := service.CreateCompany(context.Background(), CompanyRequest{Name: "Hidro", CNPJ: &cnpj, CityID: 1, NicheIDs: []int{2}})
		assert.ErrorIs(t, err, ErrInvalidCNPJ)
	})

	t.Run("normalizes and derives slug", func(t *testing.T) {
		service, m := newTestAdmin(t, nil)
		cnpj, phone := "12.345.678/0001-99", "(19) 3333-4444"

		m.ExpectBegin()
		m.ExpectQuery("SELECT slug FROM companies").
			WithArgs("hidro-norte", "hidro-norte-%").
			WillReturnRows(sqlmock.NewRows([]string{"slug"}))
		m.ExpectQuery("INSERT INTO companies").
			WithArgs("Hidro Norte", "hidro-norte", "12345678000199", "1933334444", nil, nil, nil, 1,
				models.CompanyStatusActive, fixedTime).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))
		m.ExpectExec("DELETE FROM company_niches WHERE company_id = \\$1").
			WithArgs(11).
			WillReturnResult(sqlmock.NewResult(0, 0))
		m.ExpectExec("INSERT INTO company_niches").
			WithArgs(11, "{2}").
			WillReturnResult(sqlmock.NewResult(0, 1))
		m.ExpectCommit()
		expectCompanyReload(m, testCompany(11, "Hidro Norte", "0"))

		company, err := service.CreateCompany(context.Background(), CompanyRequest{
			Name:     " Hidro Norte ",
			CNPJ:     &cnpj,
			Phone:    &phone,
			CityID:   1,
			NicheIDs: []int{2},
		})

		require.NoError(t, err)
		assert.Equal(t, 11, company.ID)
		assert.NoError(t, m.ExpectationsWereMet())
	})
}

func TestAdminService_UpdateCompany_NotFound(t *testing.T) {
	service, m := newTestAdmin(t, nil)

	m.ExpectBegin()
	m.ExpectExec("UPDATE companies SET name = \\$1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	m.ExpectRollback()

	_, err := service.UpdateCompany(context.Background(), 99, CompanyRequest{Name: "X", CityID: 1, NicheIDs: []int{1}})

	assert.ErrorIs(t, err, ErrCompanyNotFound)
	assert.NoError(t, m.ExpectationsWereMet())
}

func TestAdminService_SetStatus(t *testing.T) {
	service, m := newTestAdmin(t, nil)
	company := testCompany(11, "Hidro Norte", "4.0")
	company.Status = models.CompanyStatusInactive

	m.ExpectExec("UPDATE companies SET status = \\$1").
		WithArgs(models.CompanyStatusInactive, fixedTime, 11).
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectCompanyReload(m, company)

	got, err := service.SetStatus(context.Background(), 11, models.CompanyStatusInactive)

	require.NoError(t, err)
	assert.Equal(t, models.CompanyStatusInactive, got.Status)
}

func TestAdminService_UploadLogo(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		service, _ := newTestAdmin(t, nil)
		_, err := service.UploadLogo(context.Background(), 7, strings.NewReader("png"))
		assert.ErrorIs(t, err, ErrUploadNotConfigured)
	})

	t.Run("stores url", func(t *testing.T) {
		store := &fakeLogoStore{}
		service, m := newTestAdmin(t, store)

		m.ExpectQuery("SELECT EXISTS").WithArgs(7).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		m.ExpectExec("UPDATE companies SET logo_url = \\$1").
			WithArgs("https://res.cloudinary.com/demo/image/upload/buscai/logos/company_7", fixedTime, 7).
			WillReturnResult(sqlmock.NewResult(0, 1))

		url, err := service.UploadLogo(context.Background(), 7, strings.NewReader("png-bytes"))

		require.NoError(t, err)
		assert.Contains(t, url, "company_7")
		assert.Equal(t, []byte("png-bytes"), store.uploaded)
		assert.NoError(t, m.ExpectationsWereMet())
	})

	t.Run("upload failure leaves company untouched", func(t *testing.T) {
		service, m := newTestAdmin(t, &fakeLogoStore{err: errors.New("cloudinary down")})

		m.ExpectQuery("SELECT EXISTS").WithArgs(7).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		_, err := service.UploadLogo(context.Background(), 7, strings.NewReader("png"))

		assert.EqualError(t, err, "cloudinary down")
		assert.NoError(t, m.ExpectationsWereMet())
	})
}

func TestAdminService_CreditWallet(t *testing.T) {
	t.Run("unknown company", func(t *testing.T) {
		service, m := newTestAdmin(t, nil)
		m.ExpectQuery("SELECT EXISTS").WithArgs(8).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		_, err := service.CreditWallet(context.Background(), 1, 8, CreditRequest{Amount: dec("10")})
		assert.ErrorIs(t, err, ErrCompanyNotFound)
	})

	t.Run("credits through the ledger", func(t *testing.T) {
		service, m := newTestAdmin(t, nil)

		m.ExpectQuery("SELECT EXISTS").WithArgs(3).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		m.ExpectBegin()
		expectLockWallet(m, 3, "10.00", "0")
		m.ExpectExec("UPDATE wallets SET balance = \\$1, reserved = \\$2").
			WithArgs(decimalArg("60.00"), decimalArg("0"), sqlmock.AnyArg(), 3).
			WillReturnResult(sqlmock.NewResult(0, 1))
		m.ExpectExec("INSERT INTO transactions").
			WithArgs(sqlmock.AnyArg(), 3, models.TxTypeCredit, decimalArg("50"), models.TxStatusConfirmed, models.ProviderAdmin,
				sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		m.ExpectCommit()

		txn, err := service.CreditWallet(context.Background(), 1, 3, CreditRequest{Amount: dec("50"), Note: "bonus"})

		require.NoError(t, err)
		assert.Equal(t, models.ProviderAdmin, txn.Provider)
		assert.Equal(t, "bonus", txn.Metadata["note"])
		assert.Equal(t, 1, txn.Metadata["admin_id"])
		assert.NoError(t, m.ExpectationsWereMet())
	})
}

func TestAdminService_Dashboard(t *testing.T) {
	service, m := newTestAdmin(t, nil)
	// 14:00 UTC is 11:00 in Brasília, so the day started at 03:00 UTC
	dayStart := time.Date(2025, 3, 10, 3, 0, 0, 0, time.UTC)

	m.ExpectQuery("SELECT \\(SELECT COUNT\\(\\*\\) FROM claim_requests").
		WithArgs(timeArg(dayStart)).
		WillReturnRows(sqlmock.NewRows([]string{"pending_claims", "recharge_volume", "search_debits_today", "searches_today", "active_auction_configs"}).
			AddRow(2, "1500.00", "37.40", 120, 9))
	m.ExpectQuery("SELECT status, COUNT\\(\\*\\) FROM companies GROUP BY status").
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow(models.CompanyStatusActive, 40).
			AddRow(models.CompanyStatusPendingReview, 3))

	stats, err := service.Dashboard(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, stats.PendingClaims)
	assert.True(t, stats.RechargeVolume.Equal(dec("1500")))
	assert.True(t, stats.SearchDebitsToday.Equal(dec("37.40")))
	assert.Equal(t, 120, stats.SearchesToday)
	assert.Equal(t, 9, stats.ActiveAuctionConfigs)
	assert.Equal(t, map[string]int{"active": 40, "inactive": 0, "pending_review": 3}, stats.CompaniesByStatus)
	assert.NoError(t, m.ExpectationsWereMet())
}
