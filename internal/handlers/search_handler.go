package handlers

import (
	"net/http"
	"strings"

	"github.com/buscai/backend/internal/models"
	"github.com/buscai/backend/internal/services"
)

type SearchHandler struct {
	search    *services.SearchService
	catalog   *services.CatalogService
	offers    *services.OfferService
	validator *services.ValidationHelper
}

func NewSearchHandler(search *services.SearchService, catalog *services.CatalogService, offers *services.OfferService) *SearchHandler {
	return &SearchHandler{
		search:    search,
		catalog:   catalog,
		offers:    offers,
		validator: services.NewValidationHelper(),
	}
}

// Search returns sponsored and organic companies for a city and niche
// @Summary Search companies
// @Description City and niche are given by id or slug, or resolved from q
// @Tags search
// @Produce json
// @Param city_id query int false "City ID"
// @Param city query string false "City slug"
// @Param niche_id query int false "Niche ID"
// @Param niche query string false "Niche slug"
// @Param q query string false "Free text"
// @Param page query int false "Page (1-based)"
// @Success 200 {object} models.SearchResponse
// @Failure 400 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /search [get]
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	req := services.SearchRequest{
		Query:   strings.TrimSpace(query.Get("q")),
		Channel: models.ChannelWeb,
	}

	var ok bool
	if req.CityID, ok = queryInt(w, r, "city_id"); !ok {
		return
	}
	if req.NicheID, ok = queryInt(w, r, "niche_id"); !ok {
		return
	}
	if req.Page, ok = queryInt(w, r, "page"); !ok {
		return
	}

	if slug := query.Get("city"); req.CityID == 0 && slug != "" {
		city, err := h.catalog.CityBySlug(r.Context(), slug)
		if err != nil {
			services.SendAppError(w, err)
			return
		}
		req.CityID = city.ID
	}
	if slug := query.Get("niche"); req.NicheID == 0 && slug != "" {
		niche, err := h.catalog.NicheBySlug(r.Context(), slug)
		if err != nil {
			services.SendAppError(w, err)
			return
		}
		req.NicheID = niche.ID
	}

	resp, err := h.search.Search(r.Context(), req)
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, resp)
}

// Click records a click on a sponsored result
// @Summary Record click
// @Tags search
// @Accept json
// @Param request body services.ClickRequest true "Click"
// @Success 204
// @Failure 404 {object} services.ErrorResponse
// @Router /search/clicks [post]
func (h *SearchHandler) Click(w http.ResponseWriter, r *http.Request) {
	var req services.ClickRequest
	if !decodeBody(w, r, h.validator, &req) {
		return
	}

	if err := h.search.RecordClick(r.Context(), req.ImpressionID); err != nil {
		services.SendAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Offers searches fresh product offers
// @Summary Search offers
// @Description Active offers refreshed in the last 24 hours, cheapest first
// @Tags search
// @Produce json
// @Param q query string false "Text in title or description"
// @Param city_id query int false "City ID"
// @Success 200 {array} services.OfferResult
// @Router /search/offers [get]
func (h *SearchHandler) Offers(w http.ResponseWriter, r *http.Request) {
	cityID, ok := queryInt(w, r, "city_id")
	if !ok {
		return
	}

	offers, err := h.offers.SearchOffers(r.Context(), strings.TrimSpace(r.URL.Query().Get("q")), cityID)
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, offers)
}
