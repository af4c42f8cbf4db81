package handlers

import (
	"net/http"

	"github.com/buscai/backend/internal/models"
	"github.com/buscai/backend/internal/services"
)

type ClaimHandler struct {
	claims    *services.ClaimService
	validator *services.ValidationHelper
}

func NewClaimHandler(claims *services.ClaimService) *ClaimHandler {
	return &ClaimHandler{
		claims:    claims,
		validator: services.NewValidationHelper(),
	}
}

// Create opens an ownership claim and sends the code to the company WhatsApp
// @Summary Claim a company
// @Tags claims
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body services.CreateClaimRequest true "Claim"
// @Success 201 {object} models.ClaimRequest
// @Failure 400 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Failure 422 {object} services.ErrorResponse
// @Failure 502 {object} services.ErrorResponse
// @Router /claims [post]
func (h *ClaimHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req services.CreateClaimRequest
	if !decodeBody(w, r, h.validator, &req) {
		return
	}

	claim, err := h.claims.Create(r.Context(), userID, req)
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	services.SendJSON(w, http.StatusCreated, claim)
}

// Confirm checks the WhatsApp code and hands the company over
// @Summary Confirm claim
// @Tags claims
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Claim ID"
// @Param request body services.ConfirmClaimRequest true "Code"
// @Success 200 {object} models.ClaimRequest
// @Failure 400 {object} services.ErrorResponse "Wrong code"
// @Failure 410 {object} services.ErrorResponse "Code expired"
// @Failure 423 {object} services.ErrorResponse "Claim rejected after too many attempts"
// @Router /claims/{id}/confirm [post]
func (h *ClaimHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	claimID, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	var req services.ConfirmClaimRequest
	if !decodeBody(w, r, h.validator, &req) {
		return
	}

	claim, err := h.claims.Confirm(r.Context(), userID, claimID, req.Code)
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, claim)
}

// Cancel withdraws a pending claim
// @Summary Cancel claim
// @Tags claims
// @Produce json
// @Security BearerAuth
// @Param id path int true "Claim ID"
// @Success 200 {object} models.ClaimRequest
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /claims/{id}/cancel [post]
func (h *ClaimHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	claimID, ok := pathInt(w, r, "id")
	if !ok {
		return
	}

	claim, err := h.claims.Cancel(r.Context(), userID, claimID)
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, claim)
}

// ListMine lists the caller's claims
// @Summary List my claims
// @Tags claims
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.ClaimRequest
// @Router /claims [get]
func (h *ClaimHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	claims, err := h.claims.ListMine(r.Context(), userID)
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, claims)
}

// AdminList lists claims for review
// @Summary List claims (admin)
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param status query string false "pending, verified, rejected or cancelled"
// @Success 200 {array} models.ClaimRequest
// @Router /admin/claims [get]
func (h *ClaimHandler) AdminList(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	switch status {
	case "", models.ClaimStatusPending, models.ClaimStatusVerified, models.ClaimStatusRejected, models.ClaimStatusCancelled:
	default:
		services.SendErrorResponse(w, "Invalid status", http.StatusBadRequest, nil)
		return
	}

	claims, err := h.claims.AdminList(r.Context(), status)
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, claims)
}

// AdminReject rejects a pending claim with notes
// @Summary Reject claim (admin)
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Claim ID"
// @Param request body services.RejectClaimRequest true "Notes"
// @Success 200 {object} models.ClaimRequest
// @Failure 409 {object} services.ErrorResponse
// @Router /admin/claims/{id}/reject [post]
func (h *ClaimHandler) AdminReject(w http.ResponseWriter, r *http.Request) {
	claimID, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	var req services.RejectClaimRequest
	if !decodeBody(w, r, h.validator, &req) {
		return
	}

	claim, err := h.claims.AdminReject(r.Context(), claimID, req.Notes)
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, claim)
}
