package handlers

import (
	"net/http"

	"github.com/buscai/backend/internal/services"
)

type SubscriptionHandler struct {
	subscriptions *services.SubscriptionService
	offers        *services.OfferService
	catalog       *services.CatalogService
	validator     *services.ValidationHelper
}

func NewSubscriptionHandler(subscriptions *services.SubscriptionService, offers *services.OfferService, catalog *services.CatalogService) *SubscriptionHandler {
	return &SubscriptionHandler{
		subscriptions: subscriptions,
		offers:        offers,
		catalog:       catalog,
		validator:     services.NewValidationHelper(),
	}
}

// Plans lists the subscription plans
// @Summary List plans
// @Tags subscriptions
// @Produce json
// @Success 200 {array} models.Plan
// @Router /plans [get]
func (h *SubscriptionHandler) Plans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.subscriptions.ListPlans(r.Context())
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, plans)
}

// Current returns the active subscription
// @Summary Current subscription
// @Tags subscriptions
// @Produce json
// @Security BearerAuth
// @Param company_id query int false "Company acted for"
// @Success 200 {object} services.CurrentSubscription
// @Router /subscriptions/current [get]
func (h *SubscriptionHandler) Current(w http.ResponseWriter, r *http.Request) {
	companyID, ok := ownedCompany(w, r, h.catalog, 0)
	if !ok {
		return
	}

	current, err := h.subscriptions.Current(r.Context(), companyID)
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, current)
}

// ChangePlan subscribes the company to a plan
// @Summary Change plan
// @Description Requesting the active plan again is a no-op answered with changed=false
// @Tags subscriptions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body services.ChangePlanRequest true "Plan change"
// @Success 200 {object} services.ChangePlanResult
// @Success 201 {object} services.ChangePlanResult
// @Failure 402 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /subscriptions [post]
func (h *SubscriptionHandler) ChangePlan(w http.ResponseWriter, r *http.Request) {
	var req services.ChangePlanRequest
	if !decodeBody(w, r, h.validator, &req) {
		return
	}
	companyID, ok := ownedCompany(w, r, h.catalog, req.CompanyID)
	if !ok {
		return
	}

	result, err := h.subscriptions.ChangePlan(r.Context(), companyID, req)
	if err != nil {
		services.SendAppError(w, err)
		return
	}

	status := http.StatusOK
	if result.Changed {
		status = http.StatusCreated
	}
	services.SendJSON(w, status, result)
}

// CreateOffer publishes a product offer
// @Summary Create offer
// @Tags offers
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body services.OfferRequest true "Offer"
// @Success 201 {object} models.ProductOffer
// @Failure 402 {object} services.ErrorResponse "No active subscription"
// @Failure 409 {object} services.ErrorResponse "Plan limit reached"
// @Router /offers [post]
func (h *SubscriptionHandler) CreateOffer(w http.ResponseWriter, r *http.Request) {
	var req services.OfferRequest
	if !decodeBody(w, r, h.validator, &req) {
		return
	}
	companyID, ok := ownedCompany(w, r, h.catalog, req.CompanyID)
	if !ok {
		return
	}

	offer, err := h.offers.Create(r.Context(), companyID, req)
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	services.SendJSON(w, http.StatusCreated, offer)
}

// ListOffers lists the company's offers, inactive ones included
// @Summary List offers
// @Tags offers
// @Produce json
// @Security BearerAuth
// @Param company_id query int false "Company acted for"
// @Success 200 {array} models.ProductOffer
// @Router /offers [get]
func (h *SubscriptionHandler) ListOffers(w http.ResponseWriter, r *http.Request) {
	companyID, ok := ownedCompany(w, r, h.catalog, 0)
	if !ok {
		return
	}

	offers, err := h.offers.List(r.Context(), companyID)
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, offers)
}

// DeactivateOffer
// @Summary Deactivate offer
// @Tags offers
// @Produce json
// @Security BearerAuth
// @Param id path int true "Offer ID"
// @Success 200 {object} models.ProductOffer
// @Failure 404 {object} services.ErrorResponse
// @Router /offers/{id}/deactivate [post]
func (h *SubscriptionHandler) DeactivateOffer(w http.ResponseWriter, r *http.Request) {
	offerID, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	companyID, ok := ownedCompany(w, r, h.catalog, 0)
	if !ok {
		return
	}

	offer, err := h.offers.Deactivate(r.Context(), companyID, offerID)
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, offer)
}

// RefreshOffer
// @Summary Refresh offer
// @Description Keeps the offer in offer search for another 24 hours
// @Tags offers
// @Produce json
// @Security BearerAuth
// @Param id path int true "Offer ID"
// @Success 200 {object} models.ProductOffer
// @Failure 404 {object} services.ErrorResponse
// @Router /offers/{id}/refresh [post]
func (h *SubscriptionHandler) RefreshOffer(w http.ResponseWriter, r *http.Request) {
	offerID, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	companyID, ok := ownedCompany(w, r, h.catalog, 0)
	if !ok {
		return
	}

	offer, err := h.offers.Refresh(r.Context(), companyID, offerID)
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, offer)
}
