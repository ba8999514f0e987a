package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"
)

// ParseDatasetID extracts and validates the dataset ID from the request path.
// Returns false after writing a 400 response when it is not a positive integer.
// Expects path parameter: id
func ParseDatasetID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (int64, bool) {
	return parseID(w, r, "id", "invalid_dataset_id", "Invalid dataset ID", logger)
}

// ParseMessageID extracts and validates the message ID from the request path.
// Expects path parameter: id
func ParseMessageID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (int64, bool) {
	return parseID(w, r, "id", "invalid_message_id", "Invalid message ID", logger)
}

func parseID(w http.ResponseWriter, r *http.Request, pathParam, errorCode, errorMessage string, logger *zap.Logger) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(pathParam), 10, 64)
	if err != nil || id <= 0 {
		if err := ErrorResponse(w, http.StatusBadRequest, errorCode, errorMessage); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return 0, false
	}
	return id, true
}

// queryInt reads an optional non-negative integer query parameter.
// Missing values return def; malformed values write a 400 response.
func queryInt(w http.ResponseWriter, r *http.Request, name string, def int, logger *zap.Logger) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_"+name, "Invalid "+name+" parameter"); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return 0, false
	}
	return v, true
}

// queryInt64 reads an optional positive id query parameter; missing returns nil.
func queryInt64(w http.ResponseWriter, r *http.Request, name string, logger *zap.Logger) (*int64, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, true
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_"+name, "Invalid "+name+" parameter"); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return nil, false
	}
	return &v, true
}
