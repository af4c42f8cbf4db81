package handlers

import (
	"net/http"

	"github.com/buscai/backend/internal/services"
)

type AuctionHandler struct {
	auctions  *services.AuctionService
	catalog   *services.CatalogService
	validator *services.ValidationHelper
}

func NewAuctionHandler(auctions *services.AuctionService, catalog *services.CatalogService) *AuctionHandler {
	return &AuctionHandler{
		auctions:  auctions,
		catalog:   catalog,
		validator: services.NewValidationHelper(),
	}
}

// ListConfigs lists the caller's auction configs
// @Summary List auction configs
// @Tags auction
// @Produce json
// @Security BearerAuth
// @Param company_id query int false "Company acted for"
// @Success 200 {array} models.AuctionConfig
// @Failure 403 {object} services.ErrorResponse
// @Router /auction/configs [get]
func (h *AuctionHandler) ListConfigs(w http.ResponseWriter, r *http.Request) {
	companyID, ok := ownedCompany(w, r, h.catalog, 0)
	if !ok {
		return
	}

	configs, err := h.auctions.ListConfigs(r.Context(), companyID)
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, configs)
}

// SaveConfig creates or replaces the config for a city and niche
// @Summary Save auction config
// @Description A second config for the same city and niche replaces the first
// @Tags auction
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body services.AuctionConfigRequest true "Auction config"
// @Success 200 {object} models.AuctionConfig
// @Failure 400 {object} services.ErrorResponse
// @Failure 422 {object} services.ErrorResponse
// @Router /auction/configs [post]
func (h *AuctionHandler) SaveConfig(w http.ResponseWriter, r *http.Request) {
	var req services.AuctionConfigRequest
	if !decodeBody(w, r, h.validator, &req) {
		return
	}
	companyID, ok := ownedCompany(w, r, h.catalog, req.CompanyID)
	if !ok {
		return
	}

	cfg, err := h.auctions.UpsertConfig(r.Context(), companyID, req)
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, cfg)
}

// UpdateConfig changes the bidding settings of a config
// @Summary Update auction config
// @Tags auction
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Config ID"
// @Param request body services.AuctionConfigRequest true "Auction config"
// @Success 200 {object} models.AuctionConfig
// @Failure 404 {object} services.ErrorResponse
// @Router /auction/configs/{id} [put]
func (h *AuctionHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	configID, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	var req services.AuctionConfigRequest
	if !decodeBody(w, r, h.validator, &req) {
		return
	}
	companyID, ok := ownedCompany(w, r, h.catalog, req.CompanyID)
	if !ok {
		return
	}

	cfg, err := h.auctions.UpdateConfig(r.Context(), companyID, configID, req)
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, cfg)
}

// Pause stops a config from bidding
// @Summary Pause auction config
// @Tags auction
// @Produce json
// @Security BearerAuth
// @Param id path int true "Config ID"
// @Success 200 {object} models.AuctionConfig
// @Router /auction/configs/{id}/pause [post]
func (h *AuctionHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

// Resume lets a paused config bid again
// @Summary Resume auction config
// @Tags auction
// @Produce json
// @Security BearerAuth
// @Param id path int true "Config ID"
// @Success 200 {object} models.AuctionConfig
// @Router /auction/configs/{id}/resume [post]
func (h *AuctionHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

func (h *AuctionHandler) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	configID, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	companyID, ok := ownedCompany(w, r, h.catalog, 0)
	if !ok {
		return
	}

	cfg, err := h.auctions.SetActive(r.Context(), companyID, configID, active)
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, cfg)
}

// Preview runs the auction without charging anyone
// @Summary Preview auction
// @Description Projected placements and charges for a city and niche
// @Tags auction
// @Produce json
// @Security BearerAuth
// @Param city_id query int true "City ID"
// @Param niche_id query int true "Niche ID"
// @Success 200 {object} services.AuctionPreview
// @Failure 400 {object} services.ErrorResponse
// @Router /auction/preview [get]
func (h *AuctionHandler) Preview(w http.ResponseWriter, r *http.Request) {
	if _, ok := currentUser(w, r); !ok {
		return
	}
	cityID, ok := queryInt(w, r, "city_id")
	if !ok {
		return
	}
	nicheID, ok := queryInt(w, r, "niche_id")
	if !ok {
		return
	}
	if cityID == 0 || nicheID == 0 {
		services.SendErrorResponse(w, "city_id and niche_id are required", http.StatusBadRequest, nil)
		return
	}

	preview, err := h.auctions.Preview(r.Context(), cityID, nicheID)
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, preview)
}
