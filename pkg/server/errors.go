package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/zen-systems/querygate/pkg/dataset"
	"github.com/zen-systems/querygate/pkg/orchestrator"
)

// Error codes.
const (
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeUnknownProfile = "UNKNOWN_PROFILE"
	CodeTimeout        = "TIMEOUT"
	CodeRateLimited    = "RATE_LIMITED"
	CodeInternal       = "INTERNAL_ERROR"
)

// ErrorResponse represents an HTTP error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// MapErrorToStatus maps an error to its status code and error code.
func MapErrorToStatus(err error) (int, string) {
	var verr *orchestrator.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, CodeInvalidRequest
	case errors.Is(err, dataset.ErrUnknownProfile):
		return http.StatusNotFound, CodeUnknownProfile
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, CodeTimeout
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// WriteError writes a JSON error body.
func WriteError(w http.ResponseWriter, err error, code string, status int) {
	WriteJSON(w, ErrorResponse{Error: err.Error(), Code: code}, status)
}

// WriteMappedError writes err with its mapped status.
func WriteMappedError(w http.ResponseWriter, err error) {
	status, code := MapErrorToStatus(err)
	WriteError(w, err, code, status)
}

// WriteJSON writes a JSON response.
func WriteJSON(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// BadRequest writes a 400 response.
func BadRequest(w http.ResponseWriter, message string) {
	WriteError(w, errors.New(message), CodeInvalidRequest, http.StatusBadRequest)
}
