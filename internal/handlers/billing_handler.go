package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/buscai/backend/internal/models"
	"github.com/buscai/backend/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

const defaultTransactionsLimit = 50

type BillingHandler struct {
	billing   *services.BillingService
	ledger    *services.LedgerService
	catalog   *services.CatalogService
	validator *services.ValidationHelper
}

func NewBillingHandler(billing *services.BillingService, ledger *services.LedgerService, catalog *services.CatalogService) *BillingHandler {
	return &BillingHandler{
		billing:   billing,
		ledger:    ledger,
		catalog:   catalog,
		validator: services.NewValidationHelper(),
	}
}

// WalletResponse is the wallet with its available amount
// @Description Wallet response structure
type WalletResponse struct {
	*models.Wallet
	Available decimal.Decimal `json:"available" swaggertype:"string" example:"42.30"`
}

// Wallet returns the caller's wallet
// @Summary Get wallet
// @Tags billing
// @Produce json
// @Security BearerAuth
// @Param company_id query int false "Company acted for"
// @Success 200 {object} WalletResponse
// @Failure 401 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Router /billing/wallet [get]
func (h *BillingHandler) Wallet(w http.ResponseWriter, r *http.Request) {
	companyID, ok := ownedCompany(w, r, h.catalog, 0)
	if !ok {
		return
	}

	wallet, err := h.ledger.GetWallet(r.Context(), companyID)
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, WalletResponse{Wallet: wallet, Available: wallet.Available()})
}

// Transactions lists ledger rows, newest first
// @Summary List transactions
// @Tags billing
// @Produce json
// @Security BearerAuth
// @Param company_id query int false "Company acted for"
// @Param type query string false "recharge, credit, search_debit or wallet_debit"
// @Param limit query int false "Page size (max 200)"
// @Param offset query int false "Offset"
// @Success 200 {array} models.Transaction
// @Failure 400 {object} services.ErrorResponse
// @Router /billing/transactions [get]
func (h *BillingHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	companyID, ok := ownedCompany(w, r, h.catalog, 0)
	if !ok {
		return
	}

	txType := r.URL.Query().Get("type")
	switch txType {
	case "", models.TxTypeRecharge, models.TxTypeCredit, models.TxTypeSearchDebit, models.TxTypeWalletDebit:
	default:
		services.SendErrorResponse(w, "Invalid type", http.StatusBadRequest, nil)
		return
	}

	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}
	if limit == 0 {
		limit = defaultTransactionsLimit
	}
	offset, ok := queryInt(w, r, "offset")
	if !ok {
		return
	}

	txns, err := h.ledger.ListTransactions(r.Context(), companyID, txType, limit, offset)
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, txns)
}

// CreateRecharge starts a PIX recharge
// @Summary Create recharge
// @Description Creates a pending recharge and returns the PIX BR Code with its QR image
// @Tags billing
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body services.RechargeRequest true "Recharge request"
// @Success 201 {object} services.RechargeResponse
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Router /billing/recharges [post]
func (h *BillingHandler) CreateRecharge(w http.ResponseWriter, r *http.Request) {
	var req services.RechargeRequest
	if !decodeBody(w, r, h.validator, &req) {
		return
	}
	companyID, ok := ownedCompany(w, r, h.catalog, req.CompanyID)
	if !ok {
		return
	}

	resp, err := h.billing.CreateRecharge(r.Context(), companyID, req.Amount)
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	services.SendJSON(w, http.StatusCreated, resp)
}

// GetRecharge returns a recharge by reference
// @Summary Get recharge
// @Tags billing
// @Produce json
// @Security BearerAuth
// @Param reference path string true "Recharge reference"
// @Success 200 {object} models.Transaction
// @Failure 404 {object} services.ErrorResponse
// @Router /billing/recharges/{reference} [get]
func (h *BillingHandler) GetRecharge(w http.ResponseWriter, r *http.Request) {
	companyID, ok := ownedCompany(w, r, h.catalog, 0)
	if !ok {
		return
	}

	txn, err := h.billing.GetRecharge(r.Context(), companyID, chi.URLParam(r, "reference"))
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, txn)
}

// PixWebhook receives payment provider callbacks
// @Summary PIX webhook
// @Description Signed with HMAC-SHA256 of the raw body in X-Webhook-Signature
// @Tags billing
// @Accept json
// @Produce json
// @Param X-Webhook-Signature header string true "hex HMAC-SHA256"
// @Param request body services.PixWebhookEvent true "Provider event"
// @Success 200 {object} object{transaction=models.Transaction,changed=bool}
// @Failure 401 {object} services.ErrorResponse
// @Router /billing/webhooks/pix [post]
func (h *BillingHandler) PixWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if !h.billing.VerifyWebhookSignature(body, r.Header.Get("X-Webhook-Signature")) {
		log.Printf("[BILLING] Rejected PIX webhook with bad signature from %s", r.RemoteAddr)
		services.SendAppError(w, services.ErrInvalidSignature)
		return
	}

	var event services.PixWebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := h.validator.ValidateStruct(&event); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	txn, changed, err := h.billing.HandlePixWebhook(r.Context(), event)
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, map[string]any{
		"transaction": txn,
		"changed":     changed,
	})
}
