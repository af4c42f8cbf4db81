package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationHelper_ValidateStruct(t *testing.T) {
	vh := NewValidationHelper()

	t.Run("valid registration", func(t *testing.T) {
		err := vh.ValidateStruct(&RegisterRequest{Email: "maria@example.com", Password: "password123", Name: "Maria"})
		assert.NoError(t, err)
	})

	t.Run("invalid registration", func(t *testing.T) {
		err := vh.ValidateStruct(&RegisterRequest{Email: "invalid-email", Password: "short", Name: "M"})

		var validationErrors validator.ValidationErrors
		require.True(t, errors.As(err, &validationErrors))
		assert.Len(t, validationErrors, 3)
	})

	t.Run("decimal bounds", func(t *testing.T) {
		err := vh.ValidateStruct(&AuctionConfigRequest{
			CityID: 1, NicheID: 1, Mode: "auto", TargetPosition: intPtr(1), DailyBudget: decimal.NewFromInt(-1),
		})

		var validationErrors validator.ValidationErrors
		require.True(t, errors.As(err, &validationErrors))
		assert.Equal(t, "DailyBudget", validationErrors[0].Field())
		assert.Equal(t, "gte", validationErrors[0].Tag())
	})
}

func TestAuctionConfigStructLevel(t *testing.T) {
	vh := NewValidationHelper()
	bid := decimal.RequireFromString("1.20")

	tests := []struct {
		name    string
		req     AuctionConfigRequest
		wantTag string
	}{
		{"manual with bid", AuctionConfigRequest{CityID: 1, NicheID: 1, Mode: "manual", BidAmount: &bid}, ""},
		{"manual with target", AuctionConfigRequest{CityID: 1, NicheID: 1, Mode: "manual", BidAmount: &bid, TargetPosition: intPtr(2)}, "excluded_with_manual"},
		{"manual without bid", AuctionConfigRequest{CityID: 1, NicheID: 1, Mode: "manual"}, "required_with_manual"},
		{"auto with target", AuctionConfigRequest{CityID: 1, NicheID: 1, Mode: "auto", TargetPosition: intPtr(1)}, ""},
		{"smart without target", AuctionConfigRequest{CityID: 1, NicheID: 1, Mode: "smart"}, "required_with_target_mode"},
		{"unknown mode", AuctionConfigRequest{CityID: 1, NicheID: 1, Mode: "random"}, "oneof"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := vh.ValidateStruct(&tt.req)
			if tt.wantTag == "" {
				assert.NoError(t, err)
				return
			}
			var validationErrors validator.ValidationErrors
			require.True(t, errors.As(err, &validationErrors))
			assert.Equal(t, tt.wantTag, validationErrors[0].Tag())
		})
	}
}

func TestSendErrorResponse(t *testing.T) {
	t.Run("error response without validation errors", func(t *testing.T) {
		w := httptest.NewRecorder()

		SendErrorResponse(w, "Something went wrong", http.StatusInternalServerError, nil)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var response ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, "Something went wrong", response.Error)
		assert.Nil(t, response.Details)
	})

	t.Run("error response with validation errors", func(t *testing.T) {
		validationErr := NewValidationHelper().ValidateStruct(&LoginRequest{Email: "nope"})

		w := httptest.NewRecorder()
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, validationErr)

		var response ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Contains(t, response.Details, "Email")
		assert.Contains(t, response.Details, "Password")
	})
}

func TestSendAppError(t *testing.T) {
	validationErr := NewValidationHelper().ValidateStruct(&LoginRequest{})

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"app error", ErrSubscriptionRequired, http.StatusPaymentRequired, "subscription_required"},
		{"wrapped app error", fmt.Errorf("create offer: %w", ErrProductLimitReached), http.StatusConflict, "product_limit_reached"},
		{"validation", validationErr, http.StatusBadRequest, "validation_failed"},
		{"unique violation", &pq.Error{Code: "23505"}, http.StatusConflict, "conflict"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()

			SendAppError(w, tt.err)

			assert.Equal(t, tt.wantStatus, w.Code)
			var response ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
			assert.Equal(t, tt.wantCode, response.Code)
		})
	}
}
