package handlers

import (
	"io"
	"net/http"

	"github.com/buscai/backend/internal/config"
	"github.com/buscai/backend/internal/services"
	"github.com/buscai/backend/internal/whatsapp"
	log "github.com/sirupsen/logrus"
)

type WhatsAppHandler struct {
	service     *services.WhatsAppService
	verifyToken string
	appSecret   string
}

func NewWhatsAppHandler(service *services.WhatsAppService, cfg config.WhatsAppConfig) *WhatsAppHandler {
	return &WhatsAppHandler{
		service:     service,
		verifyToken: cfg.VerifyToken,
		appSecret:   cfg.AppSecret,
	}
}

// Verify answers the Meta subscription handshake
// @Summary WhatsApp webhook verification
// @Tags whatsapp
// @Produce plain
// @Param hub.mode query string true "subscribe"
// @Param hub.verify_token query string true "Configured verify token"
// @Param hub.challenge query string true "Challenge to echo"
// @Success 200 {string} string "challenge"
// @Failure 403 {object} services.ErrorResponse
// @Router /webhooks/whatsapp [get]
func (h *WhatsAppHandler) Verify(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if h.verifyToken == "" || query.Get("hub.mode") != "subscribe" || query.Get("hub.verify_token") != h.verifyToken {
		services.SendAppError(w, services.ErrForbidden)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, query.Get("hub.challenge"))
}

// Receive handles inbound messages
// @Summary WhatsApp webhook
// @Description Messages are answered with search results before the response is sent
// @Tags whatsapp
// @Accept json
// @Produce json
// @Param X-Hub-Signature-256 header string true "sha256=<hex HMAC of the body>"
// @Success 200 {object} object{status=string,answered=int}
// @Failure 401 {object} services.ErrorResponse
// @Router /webhooks/whatsapp [post]
func (h *WhatsAppHandler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if !whatsapp.VerifySignature(h.appSecret, body, r.Header.Get("X-Hub-Signature-256")) {
		log.Printf("[WHATSAPP] Rejected webhook with bad signature from %s", r.RemoteAddr)
		services.SendAppError(w, services.ErrInvalidSignature)
		return
	}

	answered := h.service.HandleWebhook(r.Context(), body)
	services.SendJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"answered": answered,
	})
}
