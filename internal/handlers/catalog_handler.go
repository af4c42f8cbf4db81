package handlers

import (
	"net/http"

	"github.com/buscai/backend/internal/services"
	"github.com/go-chi/chi/v5"
)

type CatalogHandler struct {
	catalog *services.CatalogService
}

func NewCatalogHandler(catalog *services.CatalogService) *CatalogHandler {
	return &CatalogHandler{catalog: catalog}
}

// Cities lists the served cities
// @Summary List cities
// @Tags catalog
// @Produce json
// @Success 200 {array} models.City
// @Router /cities [get]
func (h *CatalogHandler) Cities(w http.ResponseWriter, r *http.Request) {
	cities, err := h.catalog.ListCities(r.Context())
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, cities)
}

// Niches lists the service niches
// @Summary List niches
// @Tags catalog
// @Produce json
// @Success 200 {array} models.Niche
// @Router /niches [get]
func (h *CatalogHandler) Niches(w http.ResponseWriter, r *http.Request) {
	niches, err := h.catalog.ListNiches(r.Context())
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, niches)
}

// Company returns a public company page
// @Summary Get company
// @Tags catalog
// @Produce json
// @Param idOrSlug path string true "Company ID or slug"
// @Success 200 {object} models.Company
// @Failure 404 {object} services.ErrorResponse
// @Router /companies/{idOrSlug} [get]
func (h *CatalogHandler) Company(w http.ResponseWriter, r *http.Request) {
	company, err := h.catalog.GetCompany(r.Context(), chi.URLParam(r, "idOrSlug"))
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, company)
}
