package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/and161185/rewardvault/internal/errs"
)

type apiError struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeSuccess(w http.ResponseWriter, statusCode int, data any) {
	writeJSON(w, statusCode, map[string]any{
		"status": "success",
		"data":   data,
	})
}

func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	writeJSON(w, statusCode, apiError{
		Status:  "error",
		Code:    code,
		Message: message,
	})
}

// mapDomainError picks the response for an error returned by an adapter or service.
func mapDomainError(err error) (int, string, string) {
	switch {
	case errors.Is(err, errs.ErrInvalidSignature):
		return http.StatusBadRequest, "INVALID_SIGNATURE", "signature verification failed"
	case errors.Is(err, errs.ErrValidation):
		return http.StatusBadRequest, "INVALID_REQUEST", err.Error()
	case errors.Is(err, errs.ErrUnauthorized):
		return http.StatusUnauthorized, "UNAUTHORIZED", "authentication required"
	case errors.Is(err, errs.ErrForbidden):
		return http.StatusForbidden, "FORBIDDEN", "not allowed"
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "not found"
	case errors.Is(err, errs.ErrProcessorUnavailable), errors.Is(err, errs.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "UNAVAILABLE", "temporarily unavailable"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error"
	}
}

func writeDomainError(w http.ResponseWriter, err error) {
	status, code, msg := mapDomainError(err)
	writeError(w, status, code, msg)
}
