package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/efreitasn/tradesim/internal/domain"
)

const timeFormat = "2006-01-02T15:04:05Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

// WriteJSON writes a JSON response with the given status code and data.
// Sets Content-Type to application/json before writing the status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data) // Write error intentionally ignored in response helper
}

// errorResponse is the standard error response format.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WriteError writes a standard error response with the given status code,
// error code, and human-readable message.
func WriteError(w http.ResponseWriter, status int, errorCode, message string) {
	WriteJSON(w, status, errorResponse{
		Error:   errorCode,
		Message: message,
	})
}

// ParseJSON decodes the request body as JSON into v.
// It validates that the Content-Type header is application/json and
// returns an error for missing/incorrect content type or malformed JSON.
func ParseJSON(r *http.Request, v any) error {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(ct, "application/json") {
		return fmt.Errorf("Request body must be valid JSON with Content-Type: application/json")
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("Request body must be valid JSON with Content-Type: application/json")
	}

	return nil
}

var notFound = []error{
	domain.ErrSimulationNotFound,
	domain.ErrTeamNotFound,
	domain.ErrStockNotFound,
	domain.ErrOrderNotFound,
	domain.ErrWebhookNotFound,
	domain.ErrPricePathNotFound,
}

var conflicts = []error{
	domain.ErrAlreadyInitialized,
	domain.ErrMarketClosed,
	domain.ErrInvalidStateTransition,
	domain.ErrInsufficientBalance,
	domain.ErrPriceOutOfBand,
	domain.ErrClockRegression,
}

// writeServiceError maps domain errors to HTTP responses. The error code
// is the sentinel's own snake_case text.
func writeServiceError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		WriteError(w, http.StatusBadRequest, "validation_error", validationErr.Message)
		return
	}
	for _, target := range notFound {
		if errors.Is(err, target) {
			WriteError(w, http.StatusNotFound, target.Error(), err.Error())
			return
		}
	}
	for _, target := range conflicts {
		if errors.Is(err, target) {
			WriteError(w, http.StatusConflict, target.Error(), err.Error())
			return
		}
	}
	if errors.Is(err, domain.ErrStalePriceSeed) {
		WriteError(w, http.StatusServiceUnavailable, domain.ErrStalePriceSeed.Error(), err.Error())
		return
	}
	WriteError(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
}
