package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// ErrorResponse represents error response structure
type ErrorResponse struct {
	Error   string            `json:"error"`             // Error message
	Code    string            `json:"code,omitempty"`    // Machine readable code
	Details map[string]string `json:"details,omitempty"` // Validation details
}

// ValidationHelper provides shared validation functionality
type ValidationHelper struct {
	validator *validator.Validate
}

// NewValidationHelper creates a new validation helper
func NewValidationHelper() *ValidationHelper {
	return &ValidationHelper{
		validator: newValidator(),
	}
}

// newValidator lets numeric tags (gt, gte, lte) apply to decimal fields and
// registers the auction mode rule.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if dec, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := dec.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	v.RegisterStructValidation(auctionConfigStructLevel, AuctionConfigRequest{})
	return v
}

func auctionConfigStructLevel(sl validator.StructLevel) {
	req := sl.Current().Interface().(AuctionConfigRequest)
	switch req.Mode {
	case "manual":
		if req.TargetPosition != nil {
			sl.ReportError(req.TargetPosition, "TargetPosition", "target_position", "excluded_with_manual", "")
		}
		if req.BidAmount == nil || !req.BidAmount.IsPositive() {
			sl.ReportError(req.BidAmount, "BidAmount", "bid_amount", "required_with_manual", "")
		}
	case "auto", "smart":
		if req.TargetPosition == nil {
			sl.ReportError(req.TargetPosition, "TargetPosition", "target_position", "required_with_target_mode", "")
		}
	}
}

// ValidateStruct validates a struct and returns validation errors
func (vh *ValidationHelper) ValidateStruct(s any) error {
	return vh.validator.Struct(s)
}

// SendErrorResponse sends a JSON error response
func SendErrorResponse(w http.ResponseWriter, message string, statusCode int, validationErr error) {
	sendCodedError(w, message, "", statusCode, validationErr)
}

func sendCodedError(w http.ResponseWriter, message, code string, statusCode int, validationErr error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResp := ErrorResponse{Error: message, Code: code}
	var fieldErrs validator.ValidationErrors
	if validationErr != nil && errors.As(validationErr, &fieldErrs) {
		errorResp.Details = make(map[string]string)
		for _, err := range fieldErrs {
			errorResp.Details[err.Field()] = fmt.Sprintf("Field Validation Failed on '%s' tag", err.Tag())
		}
	}

	json.NewEncoder(w).Encode(errorResp)
}

// SendJSON writes v with the given status.
func SendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
