package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/msgvis/msgvis/pkg/apperrors"
)

// ApiResponse wraps successful payloads.
type ApiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// writeData writes a successful ApiResponse.
func writeData(w http.ResponseWriter, data any, logger *zap.Logger) {
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: data}); err != nil {
		logger.Error("Failed to write response", zap.Error(err))
	}
}

// writeServiceError maps service errors to status codes. Not-found errors
// become 404 with the given code prefix; anything else is logged and
// reported as 500 without internal detail.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, resource string, logger *zap.Logger) {
	status, code, message := http.StatusInternalServerError, "internal_error", "Internal server error"
	if errors.Is(err, apperrors.ErrNotFound) {
		status, code, message = http.StatusNotFound, resource+"_not_found", resource+" not found"
	} else {
		logger.Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}

	if err := ErrorResponse(w, status, code, message); err != nil {
		logger.Error("Failed to write error response", zap.Error(err))
	}
}
