package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/shopcore/storefront/internal/cart"
	"github.com/shopcore/storefront/internal/order"
	"github.com/shopcore/storefront/internal/product"
)

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal JSON response")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"kind":"internal_error","message":"failed to encode response"}}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(response); err != nil {
		log.Error().Err(err).Msg("Failed to write JSON response")
	}
}

func respondWithError(w http.ResponseWriter, code int, kind, message string) {
	respondWithJSON(w, code, errorResponse{Error: errorBody{Kind: kind, Message: message}})
}

// respondWithServiceError translates the domain error taxonomy into a
// status code and a machine-readable kind. Business failures carry
// their own message; unexpected failures answer with a generic one.
func respondWithServiceError(w http.ResponseWriter, err error) {
	var stockErr *product.InsufficientStockError

	switch {
	case errors.As(err, &stockErr):
		respondWithError(w, http.StatusBadRequest, "insufficient_stock", stockErr.Error())
	case errors.Is(err, order.ErrValidation):
		respondWithError(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, order.ErrInvalidTransition):
		respondWithError(w, http.StatusBadRequest, "invalid_transition", err.Error())
	case errors.Is(err, order.ErrUnauthorized):
		respondWithError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
	case errors.Is(err, order.ErrOrderNotFound):
		respondWithError(w, http.StatusNotFound, "not_found", "order not found")
	case errors.Is(err, product.ErrProductNotFound):
		respondWithError(w, http.StatusNotFound, "not_found", "product not found")
	case errors.Is(err, cart.ErrItemNotFound):
		respondWithError(w, http.StatusNotFound, "not_found", "cart item not found")
	case errors.Is(err, order.ErrTransient):
		respondWithError(w, http.StatusServiceUnavailable, "transient_error", "temporary storage failure, please retry")
	case errors.Is(err, product.ErrStockIntegrity):
		log.Error().Err(err).Msg("Stock integrity violation")
		respondWithError(w, http.StatusInternalServerError, "integrity_error", "internal inventory inconsistency")
	default:
		log.Error().Err(err).Msg("Unhandled service error")
		respondWithError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func respondWithValidationError(w http.ResponseWriter, err error) {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		details := make([]string, 0, len(validationErrors))
		for _, fieldErr := range validationErrors {
			details = append(details, fieldErr.Field()+" failed on "+fieldErr.Tag())
		}
		respondWithJSON(w, http.StatusBadRequest, map[string]any{
			"error":   errorBody{Kind: "validation_error", Message: "request validation failed"},
			"details": details,
		})
		return
	}
	log.Error().Err(err).Type("validation_error_type", err).Msg("Unexpected error type during validation")
	respondWithError(w, http.StatusInternalServerError, "internal_error", "internal validation error")
}
