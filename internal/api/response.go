// internal/api/response.go
package api

import (
	"encoding/json"
	"net/http"

	apperrors "placement-broker/internal/common/errors"

	"github.com/go-chi/chi/v5/middleware"
)

type successResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

type errorPayload struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"requestId,omitempty"`
}

type errorResponse struct {
	Status string       `json:"status"`
	Error  errorPayload `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeSuccess(w http.ResponseWriter, status int, message string, data interface{}) {
	writeJSON(w, status, successResponse{Status: "success", Message: message, Data: data})
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	stdErr := apperrors.Normalize(err)
	writeJSON(w, statusFor(stdErr.Code), errorResponse{
		Status: "error",
		Error: errorPayload{
			Code:      string(stdErr.Code),
			Message:   stdErr.Message,
			Details:   stdErr.Metadata,
			RequestID: middleware.GetReqID(r.Context()),
		},
	})
}

func statusFor(code apperrors.ErrorCode) int {
	switch code {
	case apperrors.ErrCodeValidationFailed, apperrors.ErrCodeUnknownCountry:
		return http.StatusBadRequest
	case apperrors.ErrCodeNotFound:
		return http.StatusNotFound
	case apperrors.ErrCodeInsufficientBalance:
		return http.StatusPaymentRequired
	case apperrors.ErrCodeCandidateUnavailable, apperrors.ErrCodeInvalidStateTransition,
		apperrors.ErrCodeAlreadyResolved, apperrors.ErrCodeConcurrencyConflict:
		return http.StatusConflict
	case apperrors.ErrCodeExternalStore, apperrors.ErrCodeExternalService, apperrors.ErrCodeTimeout:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
