package handlers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/buscai/backend/internal/audit"
	"github.com/buscai/backend/internal/config"
	"github.com/buscai/backend/internal/middleware"
	"github.com/buscai/backend/internal/models"
	"github.com/buscai/backend/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, m, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "sqlmock"), m
}

// asUser injects an authenticated caller the way AuthMiddleware does.
func asUser(r *http.Request, userID int, role string) *http.Request {
	return r.WithContext(middleware.WithUser(r.Context(), userID, role))
}

func decodeError(t *testing.T, body io.Reader) services.ErrorResponse {
	t.Helper()
	var resp services.ErrorResponse
	require.NoError(t, json.NewDecoder(body).Decode(&resp))
	return resp
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestDecodeBody(t *testing.T) {
	v := services.NewValidationHelper()
	cases := []struct {
		name    string
		body    string
		ok      bool
		message string
	}{
		{"valid", `{"code":"123456"}`, true, ""},
		{"unknown field", `{"code":"123456","extra":1}`, false, "Invalid request body"},
		{"two objects", `{"code":"123456"}{"code":"654321"}`, false, "Request body must only contain a single JSON object"},
		{"fails validation", `{"code":"12ab"}`, false, "Validation failed"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body))

			var req services.ConfirmClaimRequest
			ok := decodeBody(w, r, v, &req)

			assert.Equal(t, tc.ok, ok)
			if !tc.ok {
				assert.Equal(t, http.StatusBadRequest, w.Code)
				assert.Equal(t, tc.message, decodeError(t, w.Body).Error)
			}
		})
	}
}

func TestPathInt(t *testing.T) {
	router := chi.NewRouter()
	router.Get("/offers/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathInt(w, r, "id")
		if ok {
			services.SendJSON(w, http.StatusOK, map[string]int{"id": id})
		}
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/offers/42", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":42}`, w.Body.String())

	for _, raw := range []string{"abc", "0", "-3"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/offers/"+raw, nil))
		assert.Equal(t, http.StatusBadRequest, w.Code, raw)
	}
}

func TestBillingHandler_Wallet(t *testing.T) {
	db, m := newMockDB(t)
	catalog := services.NewCatalogService(db)
	ledger := services.NewLedgerService(db, audit.NewLogger())
	h := NewBillingHandler(nil, ledger, catalog)

	t.Run("unauthenticated", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.Wallet(w, httptest.NewRequest(http.MethodGet, "/billing/wallet", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("caller without company", func(t *testing.T) {
		m.ExpectQuery("SELECT id FROM companies WHERE owner_id = \\$1").
			WithArgs(9).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		w := httptest.NewRecorder()
		h.Wallet(w, asUser(httptest.NewRequest(http.MethodGet, "/billing/wallet", nil), 9, models.RoleUser))

		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, "no_company", decodeError(t, w.Body).Code)
	})

	t.Run("returns available amount", func(t *testing.T) {
		m.ExpectQuery("SELECT owner_id FROM companies WHERE id = \\$1").
			WithArgs(12).
			WillReturnRows(sqlmock.NewRows([]string{"owner_id"}).AddRow(4))
		m.ExpectQuery("SELECT company_id, balance, reserved, updated_at FROM wallets").
			WithArgs(12).
			WillReturnRows(sqlmock.NewRows([]string{"company_id", "balance", "reserved", "updated_at"}).
				AddRow(12, "50.00", "7.70", time.Now()))

		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/billing/wallet?company_id=12", nil)
		h.Wallet(w, asUser(r, 4, models.RoleUser))

		require.Equal(t, http.StatusOK, w.Code)
		var resp map[string]any
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Equal(t, "42.3", resp["available"])
		assert.Equal(t, "50", resp["balance"])
	})

	assert.NoError(t, m.ExpectationsWereMet())
}

func TestBillingHandler_Transactions_InvalidType(t *testing.T) {
	db, m := newMockDB(t)
	h := NewBillingHandler(nil, services.NewLedgerService(db, audit.NewLogger()), services.NewCatalogService(db))

	m.ExpectQuery("SELECT id FROM companies WHERE owner_id = \\$1").
		WithArgs(4).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(12))

	w := httptest.NewRecorder()
	h.Transactions(w, asUser(httptest.NewRequest(http.MethodGet, "/billing/transactions?type=refund", nil), 4, models.RoleUser))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NoError(t, m.ExpectationsWereMet())
}

func TestBillingHandler_PixWebhook(t *testing.T) {
	billing := services.NewBillingService(nil, nil, nil, nil, nil, config.BillingConfig{WebhookSecret: "whsec"})
	h := NewBillingHandler(billing, nil, nil)

	t.Run("bad signature", func(t *testing.T) {
		body := []byte(`{"reference":"RC1","status":"confirmed"}`)
		r := httptest.NewRequest(http.MethodPost, "/billing/webhooks/pix", bytes.NewReader(body))
		r.Header.Set("X-Webhook-Signature", sign("other", body))
		w := httptest.NewRecorder()

		h.PixWebhook(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "invalid_signature", decodeError(t, w.Body).Code)
	})

	t.Run("signed but invalid status", func(t *testing.T) {
		body := []byte(`{"reference":"RC1","status":"paid"}`)
		r := httptest.NewRequest(http.MethodPost, "/billing/webhooks/pix", bytes.NewReader(body))
		r.Header.Set("X-Webhook-Signature", "sha256="+sign("whsec", body))
		w := httptest.NewRecorder()

		h.PixWebhook(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, decodeError(t, w.Body).Details, "Status")
	})
}

func TestWhatsAppHandler_Verify(t *testing.T) {
	h := NewWhatsAppHandler(nil, config.WhatsAppConfig{VerifyToken: "buscai-verify", AppSecret: "app-secret"})

	w := httptest.NewRecorder()
	h.Verify(w, httptest.NewRequest(http.MethodGet,
		"/webhooks/whatsapp?hub.mode=subscribe&hub.verify_token=buscai-verify&hub.challenge=1158201444", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1158201444", w.Body.String())

	w = httptest.NewRecorder()
	h.Verify(w, httptest.NewRequest(http.MethodGet,
		"/webhooks/whatsapp?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=1158201444", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestWhatsAppHandler_Receive_BadSignature(t *testing.T) {
	h := NewWhatsAppHandler(nil, config.WhatsAppConfig{AppSecret: "app-secret"})
	body := []byte(`{"object":"whatsapp_business_account","entry":[]}`)

	r := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", bytes.NewReader(body))
	r.Header.Set("X-Hub-Signature-256", "sha256="+sign("not-the-secret", body))
	w := httptest.NewRecorder()

	h.Receive(w, r)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestClaimHandler_RequiresUser(t *testing.T) {
	h := NewClaimHandler(nil)
	w := httptest.NewRecorder()

	h.Create(w, httptest.NewRequest(http.MethodPost, "/claims", strings.NewReader(`{"company_id":7,"method":"whatsapp_otp"}`)))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestClaimHandler_AdminList_InvalidStatus(t *testing.T) {
	h := NewClaimHandler(nil)
	w := httptest.NewRecorder()

	h.AdminList(w, httptest.NewRequest(http.MethodGet, "/admin/claims?status=approved", nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSearchHandler_UnknownCitySlug(t *testing.T) {
	db, m := newMockDB(t)
	h := NewSearchHandler(nil, services.NewCatalogService(db), nil)

	m.ExpectQuery("SELECT id, name, state, slug FROM cities WHERE slug = \\$1").
		WithArgs("atlantida").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "state", "slug"}))

	w := httptest.NewRecorder()
	h.Search(w, httptest.NewRequest(http.MethodGet, "/search?city=Atlantida&niche_id=1", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "city_not_found", decodeError(t, w.Body).Code)
	assert.NoError(t, m.ExpectationsWereMet())
}

func TestSearchHandler_Offers_InvalidCity(t *testing.T) {
	h := NewSearchHandler(nil, nil, nil)
	w := httptest.NewRecorder()

	h.Offers(w, httptest.NewRequest(http.MethodGet, "/search/offers?city_id=x", nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

type fakeLogoStore struct {
	data []byte
}

func (f *fakeLogoStore) UploadLogo(_ context.Context, file io.Reader, companyID int) (string, error) {
	data, err := io.ReadAll(file)
	if err != nil {
		return "", err
	}
	f.data = data
	return "https://res.cloudinary.com/demo/image/upload/buscai/logos/company_7", nil
}

func logoForm(t *testing.T, contentType string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="logo"; filename="logo.png"`)
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestAdminHandler_UploadLogo(t *testing.T) {
	db, m := newMockDB(t)
	store := &fakeLogoStore{}
	admin := services.NewAdminService(db, services.NewCatalogService(db), services.NewLedgerService(db, audit.NewLogger()), store)
	h := NewAdminHandler(admin, nil)

	router := chi.NewRouter()
	router.Post("/admin/companies/{id}/logo", h.UploadLogo)

	t.Run("stores image", func(t *testing.T) {
		m.ExpectQuery("SELECT EXISTS").WithArgs(7).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		m.ExpectExec("UPDATE companies SET logo_url = \\$1").
			WithArgs("https://res.cloudinary.com/demo/image/upload/buscai/logos/company_7", sqlmock.AnyArg(), 7).
			WillReturnResult(sqlmock.NewResult(0, 1))

		body, contentType := logoForm(t, "image/png", []byte("\x89PNG"))
		r := httptest.NewRequest(http.MethodPost, "/admin/companies/7/logo", body)
		r.Header.Set("Content-Type", contentType)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, r)

		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"logo_url":"https://res.cloudinary.com/demo/image/upload/buscai/logos/company_7"}`, w.Body.String())
		assert.Equal(t, []byte("\x89PNG"), store.data)
	})

	t.Run("rejects non images", func(t *testing.T) {
		body, contentType := logoForm(t, "application/pdf", []byte("%PDF"))
		r := httptest.NewRequest(http.MethodPost, "/admin/companies/7/logo", body)
		r.Header.Set("Content-Type", contentType)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	assert.NoError(t, m.ExpectationsWereMet())
}

func TestAdminHandler_ListCandidates_InvalidRun(t *testing.T) {
	h := NewAdminHandler(nil, nil)
	router := chi.NewRouter()
	router.Get("/admin/serpapi/runs/{id}/candidates", h.ListCandidates)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/serpapi/runs/not-a-uuid/candidates", nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEventHub_Publish(t *testing.T) {
	hub := NewEventHub()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, asUser(r, 1, models.RoleAdmin))
	}))
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 10*time.Millisecond)

	hub.Publish(services.EventClaimCreated, map[string]int{"claim_id": 5})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var event struct {
		Type    string         `json:"type"`
		Payload map[string]int `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(data, &event))
	assert.Equal(t, services.EventClaimCreated, event.Type)
	assert.Equal(t, 5, event.Payload["claim_id"])

	conn.Close()
	assert.Eventually(t, func() bool { return hub.Clients() == 0 }, time.Second, 10*time.Millisecond)
}

func TestEventHub_RequiresUser(t *testing.T) {
	hub := NewEventHub()
	w := httptest.NewRecorder()

	hub.ServeWS(w, httptest.NewRequest(http.MethodGet, "/admin/events/ws", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
