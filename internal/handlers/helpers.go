package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/buscai/backend/internal/middleware"
	"github.com/buscai/backend/internal/services"
	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 1_048_576

// decodeBody reads a single JSON object into dst and validates it. It writes
// the error response itself and reports whether the handler may continue.
func decodeBody(w http.ResponseWriter, r *http.Request, v *services.ValidationHelper, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}

	if err := v.ValidateStruct(dst); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return false
	}
	return true
}

func pathInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil || id <= 0 {
		services.SendErrorResponse(w, "Invalid "+name, http.StatusBadRequest, nil)
		return 0, false
	}
	return id, true
}

// queryInt parses an optional non-negative integer query parameter.
func queryInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		services.SendErrorResponse(w, "Invalid "+name, http.StatusBadRequest, nil)
		return 0, false
	}
	return n, true
}

func currentUser(w http.ResponseWriter, r *http.Request) (int, bool) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok || userID == 0 {
		services.SendAppError(w, services.ErrUnauthorized)
		return 0, false
	}
	return userID, true
}

// ownedCompany resolves the company the caller acts for. requested comes from
// the body; when zero the company_id query parameter is used.
func ownedCompany(w http.ResponseWriter, r *http.Request, catalog *services.CatalogService, requested int) (int, bool) {
	userID, ok := currentUser(w, r)
	if !ok {
		return 0, false
	}
	if requested == 0 {
		if requested, ok = queryInt(w, r, "company_id"); !ok {
			return 0, false
		}
	}

	companyID, err := catalog.ResolveOwnedCompany(r.Context(), userID, requested)
	if err != nil {
		services.SendAppError(w, err)
		return 0, false
	}
	return companyID, true
}
