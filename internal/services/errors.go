package services

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/lib/pq"
	log "github.com/sirupsen/logrus"
)

// AppError is a business error with the HTTP status and machine code it is
// rendered with.
type AppError struct {
	Status  int
	Code    string
	Message string
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewAppError(status int, code, message string) *AppError {
	return &AppError{Status: status, Code: code, Message: message}
}

var (
	ErrUnauthorized    = NewAppError(http.StatusUnauthorized, "unauthorized", "Unauthorized")
	ErrForbidden       = NewAppError(http.StatusForbidden, "forbidden", "Forbidden")
	ErrCompanyNotOwned = NewAppError(http.StatusForbidden, "company_not_owned", "Company is not owned by the caller")
	ErrNoCompany       = NewAppError(http.StatusForbidden, "no_company", "Caller does not own any company")
	ErrConflict        = NewAppError(http.StatusConflict, "conflict", "Resource already exists")

	ErrCompanyNotFound = NewAppError(http.StatusNotFound, "company_not_found", "Company not found")
	ErrCityNotFound    = NewAppError(http.StatusNotFound, "city_not_found", "City not found")
	ErrNicheNotFound   = NewAppError(http.StatusNotFound, "niche_not_found", "Niche not found")

	ErrInsufficientBalance  = NewAppError(http.StatusPaymentRequired, "insufficient_balance", "Insufficient wallet balance")
	ErrInvalidAmount        = NewAppError(http.StatusBadRequest, "invalid_amount", "Amount is out of the allowed range")
	ErrRechargeNotFound     = NewAppError(http.StatusNotFound, "recharge_not_found", "Recharge not found")
	ErrRechargeNotPending   = NewAppError(http.StatusConflict, "recharge_not_pending", "Recharge is no longer pending")
	ErrAmountMismatch       = NewAppError(http.StatusBadRequest, "amount_mismatch", "Paid amount does not match the recharge")
	ErrInvalidSignature     = NewAppError(http.StatusUnauthorized, "invalid_signature", "Invalid webhook signature")
	ErrHoldNotFound         = NewAppError(http.StatusNotFound, "impression_not_found", "Impression not found")
	ErrAuctionNotFound      = NewAppError(http.StatusNotFound, "auction_config_not_found", "Auction config not found")
	ErrInvalidAuctionConfig = NewAppError(http.StatusUnprocessableEntity, "invalid_auction_config", "Invalid auction config")

	ErrSubscriptionRequired = NewAppError(http.StatusPaymentRequired, "subscription_required", "An active subscription is required")
	ErrProductLimitReached  = NewAppError(http.StatusConflict, "product_limit_reached", "Plan product limit reached")
	ErrPlanNotFound         = NewAppError(http.StatusNotFound, "plan_not_found", "Plan not found")
	ErrPaymentRequired      = NewAppError(http.StatusPaymentRequired, "payment_required", "Paid plans must be paid with the wallet")
	ErrOfferNotFound        = NewAppError(http.StatusNotFound, "offer_not_found", "Offer not found")

	ErrClaimNotFound         = NewAppError(http.StatusNotFound, "claim_not_found", "Claim not found")
	ErrClaimNotPending       = NewAppError(http.StatusConflict, "claim_not_pending", "Claim is not pending")
	ErrClaimAlreadyPending   = NewAppError(http.StatusConflict, "claim_already_pending", "A pending claim already exists for this company")
	ErrCompanyAlreadyClaimed = NewAppError(http.StatusConflict, "company_already_claimed", "Company already has an owner")
	ErrCompanyNoWhatsApp     = NewAppError(http.StatusUnprocessableEntity, "company_without_whatsapp", "Company has no WhatsApp number")
	ErrCNPJMismatch          = NewAppError(http.StatusBadRequest, "cnpj_mismatch", "CNPJ does not match the company")
	ErrOTPExpired            = NewAppError(http.StatusGone, "otp_expired", "Verification code expired")
	ErrInvalidOTP            = NewAppError(http.StatusBadRequest, "invalid_otp", "Invalid verification code")
	ErrTooManyAttempts       = NewAppError(http.StatusLocked, "too_many_attempts", "Too many wrong codes, claim rejected")

	ErrRunNotFound          = NewAppError(http.StatusNotFound, "run_not_found", "Import run not found")
	ErrCandidateNotFound    = NewAppError(http.StatusNotFound, "candidate_not_found", "Candidate not found")
	ErrCandidateNotPending  = NewAppError(http.StatusConflict, "candidate_not_pending", "Candidate was already reviewed")
	ErrSerpAPINotConfigured = NewAppError(http.StatusServiceUnavailable, "serpapi_not_configured", "SerpAPI is not configured")
	ErrUploadNotConfigured  = NewAppError(http.StatusServiceUnavailable, "upload_not_configured", "Logo upload is not configured")
)

const pqUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}

// SendAppError renders any error returned by a service.
func SendAppError(w http.ResponseWriter, err error) {
	var appErr *AppError
	var validationErrs validator.ValidationErrors

	switch {
	case errors.As(err, &appErr):
		sendCodedError(w, appErr.Message, appErr.Code, appErr.Status, nil)
	case errors.As(err, &validationErrs):
		sendCodedError(w, "Validation failed", "validation_failed", http.StatusBadRequest, validationErrs)
	case isUniqueViolation(err):
		sendCodedError(w, ErrConflict.Message, ErrConflict.Code, ErrConflict.Status, nil)
	default:
		log.Printf("[HTTP] Unhandled error: %v", err)
		sendCodedError(w, "An Internal Error Occurred", "internal_error", http.StatusInternalServerError, nil)
	}
}
