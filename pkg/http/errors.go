package http

import (
	"encoding/json"
	"net/http"

	"github.com/BradenHooton/medauth/internal/models"
)

// ErrorResponse is the body written for failures outside the auth result shape
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WriteJSON writes v with the given status code
func WriteJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes a JSON error response with the given status code
func WriteError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	WriteJSON(w, statusCode, ErrorResponse{
		Success: false,
		Error:   errorCode,
		Message: message,
	})
}

// StatusForKind maps an AuthResult kind to an HTTP status
func StatusForKind(kind string) int {
	switch kind {
	case "":
		return http.StatusOK
	case "validation_error":
		return http.StatusBadRequest
	case "unauthorized":
		return http.StatusUnauthorized
	case "not_found":
		return http.StatusNotFound
	case "conflict":
		return http.StatusConflict
	case "expired_token":
		return http.StatusGone
	case "locked":
		return http.StatusLocked
	case "email_dispatch_failed":
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// WriteResult writes an auth result, deriving the status from its kind
func WriteResult(w http.ResponseWriter, successStatus int, result *models.AuthResult) {
	status := successStatus
	if !result.Success {
		status = StatusForKind(result.Kind)
	}
	WriteJSON(w, status, result)
}

func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, "internal_error", message)
}
