package handlers

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/msgvis/msgvis/pkg/models"
	"github.com/msgvis/msgvis/pkg/services"
)

// ExplorerHandler serves the read-only corpus API.
type ExplorerHandler struct {
	explorer services.ExplorerService
	logger   *zap.Logger
}

// NewExplorerHandler creates a new ExplorerHandler.
func NewExplorerHandler(explorer services.ExplorerService, logger *zap.Logger) *ExplorerHandler {
	return &ExplorerHandler{explorer: explorer, logger: logger}
}

// RegisterRoutes registers the explorer routes. Every route needs a
// database-scoped request context, supplied by scope.
func (h *ExplorerHandler) RegisterRoutes(mux *http.ServeMux, scope func(http.Handler) http.Handler) {
	handle := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, scope(fn))
	}

	handle("GET /api/datasets", h.ListDatasets)
	handle("GET /api/datasets/{id}", h.GetDataset)
	handle("GET /api/datasets/{id}/messages", h.ListMessages)
	handle("GET /api/datasets/{id}/people", h.ListPeople)
	handle("GET /api/datasets/{id}/dimensions/{dimension}", h.Distribution)
	handle("GET /api/messages/{id}", h.GetMessage)
}

// ListDatasets handles GET /api/datasets
func (h *ExplorerHandler) ListDatasets(w http.ResponseWriter, r *http.Request) {
	datasets, err := h.explorer.ListDatasets(r.Context())
	if err != nil {
		writeServiceError(w, r, err, "dataset", h.logger)
		return
	}
	writeData(w, datasets, h.logger)
}

// GetDataset handles GET /api/datasets/{id}
func (h *ExplorerHandler) GetDataset(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseDatasetID(w, r, h.logger)
	if !ok {
		return
	}

	dataset, err := h.explorer.GetDataset(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err, "dataset", h.logger)
		return
	}
	writeData(w, dataset, h.logger)
}

// ListMessages handles GET /api/datasets/{id}/messages?limit&offset&q&sender&hashtag&language
func (h *ExplorerHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseDatasetID(w, r, h.logger)
	if !ok {
		return
	}

	limit, ok := queryInt(w, r, "limit", 0, h.logger)
	if !ok {
		return
	}
	offset, ok := queryInt(w, r, "offset", 0, h.logger)
	if !ok {
		return
	}
	sender, ok := queryInt64(w, r, "sender", h.logger)
	if !ok {
		return
	}

	q := r.URL.Query()
	filter := models.MessageFilter{
		DatasetID: id,
		Query:     strings.TrimSpace(q.Get("q")),
		SenderID:  sender,
		Hashtag:   strings.ToLower(strings.TrimPrefix(strings.TrimSpace(q.Get("hashtag")), "#")),
		Language:  strings.ToLower(strings.TrimSpace(q.Get("language"))),
		Limit:     limit,
		Offset:    offset,
	}

	page, err := h.explorer.ListMessages(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, err, "dataset", h.logger)
		return
	}
	writeData(w, page, h.logger)
}

// ListPeople handles GET /api/datasets/{id}/people?limit&offset
func (h *ExplorerHandler) ListPeople(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseDatasetID(w, r, h.logger)
	if !ok {
		return
	}
	limit, ok := queryInt(w, r, "limit", 0, h.logger)
	if !ok {
		return
	}
	offset, ok := queryInt(w, r, "offset", 0, h.logger)
	if !ok {
		return
	}

	page, err := h.explorer.ListPeople(r.Context(), id, limit, offset)
	if err != nil {
		writeServiceError(w, r, err, "dataset", h.logger)
		return
	}
	writeData(w, page, h.logger)
}

// GetMessage handles GET /api/messages/{id}
func (h *ExplorerHandler) GetMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseMessageID(w, r, h.logger)
	if !ok {
		return
	}

	detail, err := h.explorer.GetMessage(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err, "message", h.logger)
		return
	}
	writeData(w, detail, h.logger)
}

// Distribution handles GET /api/datasets/{id}/dimensions/{dimension}
func (h *ExplorerHandler) Distribution(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseDatasetID(w, r, h.logger)
	if !ok {
		return
	}

	dim, err := models.ParseDimension(r.PathValue("dimension"))
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_dimension", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	dist, err := h.explorer.Distribution(r.Context(), id, dim)
	if err != nil {
		writeServiceError(w, r, err, "dataset", h.logger)
		return
	}
	writeData(w, dist, h.logger)
}
