package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/buscai/backend/internal/auction"
	"github.com/buscai/backend/internal/audit"
	"github.com/buscai/backend/internal/config"
	"github.com/buscai/backend/internal/models"
	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedTime = time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)

func newTestSearch(db *sqlx.DB, redisClient *redis.Client) *SearchService {
	ledger := NewLedgerService(db, audit.NewLogger())
	auctions := NewAuctionService(db, testEngine())
	cfg := &config.AuctionConfig{OrganicPageSize: 20, OrganicCacheTTL: 60 * time.Second}
	service := NewSearchService(db, redisClient, NewCatalogService(db), auctions, ledger, cfg)
	service.now = func() time.Time { return fixedTime }
	return service
}

func testCompany(id int, name string, rating string) models.Company {
	phone := "1933334444"
	return models.Company{
		ID:           id,
		Name:         name,
		Slug:         normalizeText(name),
		Phone:        &phone,
		CityID:       1,
		NicheIDs:     pq.Int64Array{2},
		Rating:       dec(rating),
		ReviewsCount: 10,
		Status:       models.CompanyStatusActive,
		CreatedAt:    fixedTime,
		UpdatedAt:    fixedTime,
	}
}

func companyRows(companies ...models.Company) *sqlmock.Rows {
	rows := sqlmock.NewRows(companyRowColumns)
	for _, c := range companies {
		rows.AddRow(c.ID, c.Name, c.Slug, nil, *c.Phone, nil, nil, c.CityID, c.Rating.String(), c.ReviewsCount,
			nil, nil, nil, nil, c.Status, c.CreatedAt, c.UpdatedAt, "{2}")
	}
	return rows
}

func TestSearchService_Search_SponsoredWithRefusedHold(t *testing.T) {
	db, mock := newMockDB(t)
	redisClient, rmock := redismock.NewClientMock()
	service := newTestSearch(db, redisClient)

	sponsor := testCompany(11, "Hidro Norte", "4.0")
	organic := testCompany(20, "Encanador Silva", "4.9")

	mock.ExpectExec("INSERT INTO search_logs").
		WithArgs(sqlmock.AnyArg(), models.ChannelWeb, "", 1, 2, fixedTime).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT ac.id, ac.company_id (.+) FROM auction_configs ac").
		WithArgs(1, 2, auction.DayStart(fixedTime)).
		WillReturnRows(sqlmock.NewRows(bidderColumns).
			AddRow(1, 10, auction.ModeManual, nil, "2.00", "0", true, true, fixedTime, "100.00", "0").
			AddRow(2, 11, auction.ModeAuto, 1, nil, "0", true, true, fixedTime, "100.00", "0"))

	// company 10 was drained by a concurrent search
	mock.ExpectBegin()
	expectLockWallet(mock, 10, "0.50", "0")
	mock.ExpectRollback()

	mock.ExpectBegin()
	expectLockWallet(mock, 11, "20.00", "0")
	mock.ExpectExec("UPDATE wallets").
		WithArgs(decimalArg("20"), decimalArg("1"), sqlmock.AnyArg(), 11).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO impression_holds").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), 11, 1, 2, 1, decimalArg("1.00"), models.HoldStatusHeld, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectQuery("SELECT (.+) FROM companies c WHERE c.id = ANY\\(\\$1\\)").
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(companyRows(sponsor))

	cached, err := json.Marshal([]models.Company{sponsor, organic})
	require.NoError(t, err)
	rmock.ExpectGet("search:organic:1:2:1").SetVal(string(cached))

	mock.ExpectExec("UPDATE search_logs SET results_count = \\$1, sponsored_count = \\$2").
		WithArgs(2, 1, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	resp, err := service.Search(context.Background(), SearchRequest{CityID: 1, NicheID: 2})

	require.NoError(t, err)
	require.Len(t, resp.Sponsored, 1)
	assert.Equal(t, 11, resp.Sponsored[0].Company.ID)
	assert.True(t, resp.Sponsored[0].Sponsored)
	assert.Equal(t, 1, resp.Sponsored[0].Position)
	assert.NotNil(t, resp.Sponsored[0].HoldID)
	assert.True(t, resp.Sponsored[0].Charge.Equal(dec("1.00")))

	require.Len(t, resp.Organic, 1, "sponsored company is removed from organic results")
	assert.Equal(t, 20, resp.Organic[0].Company.ID)
	assert.False(t, resp.Organic[0].Sponsored)

	assert.NoError(t, mock.ExpectationsWereMet())
	assert.NoError(t, rmock.ExpectationsWereMet())
}

func TestSearchService_Search_OrganicPageCached(t *testing.T) {
	db, mock := newMockDB(t)
	redisClient, rmock := redismock.NewClientMock()
	service := newTestSearch(db, redisClient)

	first := testCompany(20, "Encanador Silva", "4.9")
	second := testCompany(21, "Hidraulica Sul", "4.1")

	mock.ExpectExec("INSERT INTO search_logs").
		WithArgs(sqlmock.AnyArg(), models.ChannelWhatsApp, "encanador campinas", 1, 2, fixedTime).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rmock.ExpectGet("search:organic:1:2:2").RedisNil()
	mock.ExpectQuery("SELECT (.+) FROM companies c JOIN company_niches cn (.+) ORDER BY c.rating DESC, c.reviews_count DESC, c.name LIMIT \\$3 OFFSET \\$4").
		WithArgs(1, 2, 20, 20).
		WillReturnRows(companyRows(first, second))
	cached, err := json.Marshal([]models.Company{first, second})
	require.NoError(t, err)
	rmock.ExpectSet("search:organic:1:2:2", cached, 60*time.Second).SetVal("OK")

	mock.ExpectExec("UPDATE search_logs").
		WithArgs(2, 0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	resp, err := service.Search(context.Background(), SearchRequest{
		CityID: 1, NicheID: 2, Page: 2, Query: "encanador campinas", Channel: models.ChannelWhatsApp,
	})

	require.NoError(t, err)
	assert.Empty(t, resp.Sponsored, "sponsored slots are only sold on the first page")
	require.Len(t, resp.Organic, 2)
	assert.Equal(t, "Encanador Silva", resp.Organic[0].Company.Name)
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.NoError(t, rmock.ExpectationsWereMet())
}

func TestSearchService_Search_ResolvesFromText(t *testing.T) {
	db, mock := newMockDB(t)
	service := newTestSearch(db, nil)

	mock.ExpectQuery("SELECT id, name, state, slug FROM cities").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "state", "slug"}).AddRow(1, "Campinas", "SP", "campinas"))
	mock.ExpectQuery("SELECT id, name, slug, synonyms FROM niches").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "slug", "synonyms"}).AddRow(2, "Encanador", "encanador", "{}"))

	t.Run("unknown city", func(t *testing.T) {
		_, err := service.Search(context.Background(), SearchRequest{Query: "encanador em marte"})
		assert.ErrorIs(t, err, ErrCityNotFound)
	})

	t.Run("missing everything", func(t *testing.T) {
		_, err := service.Search(context.Background(), SearchRequest{})
		assert.ErrorIs(t, err, ErrCityNotFound)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSearchService_RecordClick(t *testing.T) {
	db, mock := newMockDB(t)
	service := newTestSearch(db, nil)
	id := uuid.New()

	mock.ExpectExec("UPDATE impression_holds SET clicked_at = COALESCE\\(clicked_at, \\$1\\)").
		WithArgs(fixedTime, id).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, service.RecordClick(context.Background(), id))

	mock.ExpectExec("UPDATE impression_holds").
		WithArgs(fixedTime, id).
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, service.RecordClick(context.Background(), id), ErrHoldNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}
