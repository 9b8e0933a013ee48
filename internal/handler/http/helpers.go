package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/food-ordering/internal/order"
)

const (
	kindValidation        = "validation_error"
	kindEmptyCart         = "empty_cart"
	kindDishNotFound      = "dish_not_found"
	kindInvalidQuantity   = "invalid_quantity"
	kindNotFound          = "not_found"
	kindForbidden         = "forbidden"
	kindInvalidTransition = "invalid_transition"
	kindConflict          = "conflict"
	kindExpiredForReorder = "expired_for_reorder"
	kindUnauthorized      = "unauthorized"
	kindInternal          = "internal_error"
)

type ErrorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// respondWithError writes the JSON error envelope.
func respondWithError(w http.ResponseWriter, code int, kind, message string) {
	respondWithJSON(w, code, ErrorResponse{Error: kind, Message: message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal_error","message":"Failed to marshal JSON response"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(response); err != nil {
		log.Error().Err(err).Msg("Failed to write JSON response")
	}
}

// respondWithServiceError translates an order service error into the JSON error envelope.
// Internal failures are reported without their cause.
func respondWithServiceError(w http.ResponseWriter, err error) {
	code := mapErrorToStatusCode(err)
	body := ErrorResponse{Error: errorKind(err), Message: err.Error()}

	var transitionErr *order.TransitionError
	if errors.As(err, &transitionErr) {
		body.Details = map[string]string{
			"current":   transitionErr.Current.String(),
			"attempted": transitionErr.Target.String(),
		}
	}

	if code == http.StatusInternalServerError {
		body.Message = "Internal server error"
	}
	respondWithJSON(w, code, body)
}

func mapErrorToStatusCode(err error) int {
	switch {
	case order.IsValidation(err),
		errors.Is(err, order.ErrInvalidTransition),
		errors.Is(err, order.ErrExpiredForReorder):
		return http.StatusBadRequest
	case errors.Is(err, order.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, order.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, order.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, order.ErrEmptyCart):
		return kindEmptyCart
	case errors.Is(err, order.ErrDishNotFound):
		return kindDishNotFound
	case errors.Is(err, order.ErrInvalidQuantity):
		return kindInvalidQuantity
	case errors.Is(err, order.ErrValidation):
		return kindValidation
	case errors.Is(err, order.ErrOrderNotFound):
		return kindNotFound
	case errors.Is(err, order.ErrForbidden):
		return kindForbidden
	case errors.Is(err, order.ErrInvalidTransition):
		return kindInvalidTransition
	case errors.Is(err, order.ErrConflict):
		return kindConflict
	case errors.Is(err, order.ErrExpiredForReorder):
		return kindExpiredForReorder
	default:
		return kindInternal
	}
}

func formatValidationErrors(errs validator.ValidationErrors) map[string]string {
	details := make(map[string]string, len(errs))
	for _, fe := range errs {
		field := fe.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}
		switch fe.Tag() {
		case "required":
			details[field] = "is required"
		case "max":
			if fe.Kind() == reflect.String {
				details[field] = "must be at most " + fe.Param() + " characters"
			} else {
				details[field] = "must be at most " + fe.Param()
			}
		default:
			details[field] = "failed on " + fe.Tag()
		}
	}
	return details
}
