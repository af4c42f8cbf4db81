package handlers

import (
	"net/http"
	"strings"

	"github.com/buscai/backend/internal/models"
	"github.com/buscai/backend/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const maxLogoBytes = 5 << 20

type AdminHandler struct {
	admin     *services.AdminService
	serpapi   *services.SerpAPIService
	validator *services.ValidationHelper
}

func NewAdminHandler(admin *services.AdminService, serpapi *services.SerpAPIService) *AdminHandler {
	return &AdminHandler{
		admin:     admin,
		serpapi:   serpapi,
		validator: services.NewValidationHelper(),
	}
}

// ListCompanies
// @Summary List companies (admin)
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param status query string false "active, inactive or pending_review"
// @Param city_id query int false "City ID"
// @Param q query string false "Name, slug or phone fragment"
// @Param page query int false "Page (1-based)"
// @Success 200 {object} services.CompanyPage
// @Router /admin/companies [get]
func (h *AdminHandler) ListCompanies(w http.ResponseWriter, r *http.Request) {
	filter := services.CompanyFilter{
		Status: r.URL.Query().Get("status"),
		Query:  r.URL.Query().Get("q"),
	}
	switch filter.Status {
	case "", models.CompanyStatusActive, models.CompanyStatusInactive, models.CompanyStatusPendingReview:
	default:
		services.SendErrorResponse(w, "Invalid status", http.StatusBadRequest, nil)
		return
	}

	var ok bool
	if filter.CityID, ok = queryInt(w, r, "city_id"); !ok {
		return
	}
	if filter.Page, ok = queryInt(w, r, "page"); !ok {
		return
	}

	page, err := h.admin.ListCompanies(r.Context(), filter)
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, page)
}

// CreateCompany
// @Summary Create company (admin)
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body services.CompanyRequest true "Company"
// @Success 201 {object} models.Company
// @Failure 400 {object} services.ErrorResponse
// @Router /admin/companies [post]
func (h *AdminHandler) CreateCompany(w http.ResponseWriter, r *http.Request) {
	var req services.CompanyRequest
	if !decodeBody(w, r, h.validator, &req) {
		return
	}

	company, err := h.admin.CreateCompany(r.Context(), req)
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	services.SendJSON(w, http.StatusCreated, company)
}

// UpdateCompany
// @Summary Update company (admin)
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Company ID"
// @Param request body services.CompanyRequest true "Company"
// @Success 200 {object} models.Company
// @Failure 404 {object} services.ErrorResponse
// @Router /admin/companies/{id} [put]
func (h *AdminHandler) UpdateCompany(w http.ResponseWriter, r *http.Request) {
	companyID, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	var req services.CompanyRequest
	if !decodeBody(w, r, h.validator, &req) {
		return
	}

	company, err := h.admin.UpdateCompany(r.Context(), companyID, req)
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, company)
}

// SetStatus
// @Summary Change company status (admin)
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Company ID"
// @Param request body services.CompanyStatusRequest true "Status"
// @Success 200 {object} models.Company
// @Router /admin/companies/{id}/status [post]
func (h *AdminHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	companyID, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	var req services.CompanyStatusRequest
	if !decodeBody(w, r, h.validator, &req) {
		return
	}

	company, err := h.admin.SetStatus(r.Context(), companyID, req.Status)
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, company)
}

// UploadLogo
// @Summary Upload company logo (admin)
// @Description Multipart form with the image in the "logo" field, up to 5 MB
// @Tags admin
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param id path int true "Company ID"
// @Param logo formData file true "Logo image"
// @Success 200 {object} object{logo_url=string}
// @Failure 400 {object} services.ErrorResponse
// @Failure 503 {object} services.ErrorResponse
// @Router /admin/companies/{id}/logo [post]
func (h *AdminHandler) UploadLogo(w http.ResponseWriter, r *http.Request) {
	companyID, ok := pathInt(w, r, "id")
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxLogoBytes+maxBodyBytes)
	if err := r.ParseMultipartForm(maxLogoBytes); err != nil {
		services.SendErrorResponse(w, "Invalid multipart form", http.StatusBadRequest, nil)
		return
	}
	file, header, err := r.FormFile("logo")
	if err != nil {
		services.SendErrorResponse(w, "Missing logo file", http.StatusBadRequest, nil)
		return
	}
	defer file.Close()

	if header.Size > maxLogoBytes {
		services.SendErrorResponse(w, "Logo is larger than 5 MB", http.StatusRequestEntityTooLarge, nil)
		return
	}
	if ct := header.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "image/") {
		services.SendErrorResponse(w, "Logo must be an image", http.StatusBadRequest, nil)
		return
	}

	url, err := h.admin.UploadLogo(r.Context(), companyID, file)
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, map[string]string{"logo_url": url})
}

// CreditWallet
// @Summary Credit company wallet (admin)
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Company ID"
// @Param request body services.CreditRequest true "Credit"
// @Success 201 {object} models.Transaction
// @Failure 404 {object} services.ErrorResponse
// @Router /admin/companies/{id}/credit [post]
func (h *AdminHandler) CreditWallet(w http.ResponseWriter, r *http.Request) {
	adminID, ok := currentUser(w, r)
	if !ok {
		return
	}
	companyID, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	var req services.CreditRequest
	if !decodeBody(w, r, h.validator, &req) {
		return
	}

	txn, err := h.admin.CreditWallet(r.Context(), adminID, companyID, req)
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	services.SendJSON(w, http.StatusCreated, txn)
}

// Dashboard
// @Summary Back office totals (admin)
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} services.DashboardStats
// @Router /admin/dashboard [get]
func (h *AdminHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	stats, err := h.admin.Dashboard(r.Context())
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, stats)
}

// StartRun
// @Summary Start a SerpAPI import (admin)
// @Description The import runs in the background; progress is pushed on the admin event feed
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body services.StartRunRequest true "Run"
// @Success 202 {object} models.SerpAPIRun
// @Failure 503 {object} services.ErrorResponse
// @Router /admin/serpapi/runs [post]
func (h *AdminHandler) StartRun(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req services.StartRunRequest
	if !decodeBody(w, r, h.validator, &req) {
		return
	}

	run, err := h.serpapi.StartRun(r.Context(), userID, req)
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	services.SendJSON(w, http.StatusAccepted, run)
}

// ListRuns
// @Summary List SerpAPI imports (admin)
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.SerpAPIRun
// @Router /admin/serpapi/runs [get]
func (h *AdminHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.serpapi.ListRuns(r.Context())
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, runs)
}

// ListCandidates
// @Summary List import candidates (admin)
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param id path string true "Run ID"
// @Param status query string false "pending, approved, rejected or duplicate"
// @Success 200 {array} models.SerpAPICandidate
// @Failure 404 {object} services.ErrorResponse
// @Router /admin/serpapi/runs/{id}/candidates [get]
func (h *AdminHandler) ListCandidates(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		services.SendErrorResponse(w, "Invalid id", http.StatusBadRequest, nil)
		return
	}
	status := r.URL.Query().Get("status")
	switch status {
	case "", models.CandidatePending, models.CandidateApproved, models.CandidateRejected, models.CandidateDuplicate:
	default:
		services.SendErrorResponse(w, "Invalid status", http.StatusBadRequest, nil)
		return
	}

	candidates, err := h.serpapi.ListCandidates(r.Context(), runID, status)
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, candidates)
}

// ApproveCandidate
// @Summary Approve import candidate (admin)
// @Description Lists the place as an active company of the run's city and niche
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param id path int true "Candidate ID"
// @Success 200 {object} models.SerpAPICandidate
// @Failure 409 {object} services.ErrorResponse
// @Router /admin/serpapi/candidates/{id}/approve [post]
func (h *AdminHandler) ApproveCandidate(w http.ResponseWriter, r *http.Request) {
	candidateID, ok := pathInt(w, r, "id")
	if !ok {
		return
	}

	candidate, err := h.serpapi.Approve(r.Context(), candidateID)
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, candidate)
}

// RejectCandidate
// @Summary Reject import candidate (admin)
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param id path int true "Candidate ID"
// @Success 200 {object} models.SerpAPICandidate
// @Failure 409 {object} services.ErrorResponse
// @Router /admin/serpapi/candidates/{id}/reject [post]
func (h *AdminHandler) RejectCandidate(w http.ResponseWriter, r *http.Request) {
	candidateID, ok := pathInt(w, r, "id")
	if !ok {
		return
	}

	candidate, err := h.serpapi.Reject(r.Context(), candidateID)
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, candidate)
}
