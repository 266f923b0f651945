package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/goran-ethernal/EntityIndexor/internal/lineage"
	"github.com/goran-ethernal/EntityIndexor/internal/logger"
	"github.com/goran-ethernal/EntityIndexor/pkg/reader"
	"github.com/goran-ethernal/EntityIndexor/pkg/serde"
)

const defaultPageSize = 100

// ReaderSource returns a reader bound to the latest processed block. It is
// called once per request so that every response reflects one block.
type ReaderSource func() reader.Reader

// Handler handles HTTP requests for the API.
type Handler struct {
	readers     ReaderSource
	maxPageSize int
	log         *logger.Logger
}

// NewHandler creates a new API handler.
func NewHandler(readers ReaderSource, maxPageSize int, log *logger.Logger) *Handler {
	if maxPageSize <= 0 {
		maxPageSize = defaultPageSize
	}

	return &Handler{
		readers:     readers,
		maxPageSize: maxPageSize,
		log:         log,
	}
}

// Health returns the health status of the API.
// @Summary Health check
// @Description Check the health status of the API and report the latest processed block
// @Tags Health
// @Produce json
// @Success 200 {object} HealthResponse "API health status"
// @Router /health [get]
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	block := toBlockResponse(h.readers().LatestBlock())

	respondJSON(w, http.StatusOK, HealthResponse{
		Status:      "ok",
		Timestamp:   time.Now(),
		LatestBlock: &block,
	})
}

// GetLatestBlock returns the block queries are answered from.
// @Summary Latest block
// @Tags Blocks
// @Produce json
// @Success 200 {object} BlockResponse "Latest block"
// @Router /block [get]
func (h *Handler) GetLatestBlock(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, toBlockResponse(h.readers().LatestBlock()))
}

// GetEntity returns one entity.
// @Summary Get an entity
// @Tags Entities
// @Produce json
// @Param type path string true "Entity type"
// @Param id path string true "Entity id"
// @Success 200 {object} EntityResponse "Entity"
// @Failure 404 {object} ErrorResponse "Unknown type or entity"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /entities/{type}/{id} [get]
func (h *Handler) GetEntity(w http.ResponseWriter, r *http.Request) {
	entityType, id := r.PathValue("type"), r.PathValue("id")

	value, found, err := h.readers().GetEntity(r.Context(), entityType, id)
	if err != nil {
		h.respondReadError(w, err)
		return
	}
	if !found {
		respondError(w, http.StatusNotFound, fmt.Sprintf("entity %s/%s not found", entityType, id))
		return
	}

	respondJSON(w, http.StatusOK, EntityResponse{Type: entityType, ID: id, Value: value})
}

// QueryIndex returns one page of a secondary index.
// @Summary Query a secondary index
// @Description Range queries start at starting_key (inclusive); pass next_starting_key to get the next page.
// @Tags Entities
// @Produce json
// @Param type path string true "Entity type"
// @Param index path string true "Index name"
// @Param exact_key query string false "Encoded index key to match exactly"
// @Param starting_key query string false "First key of the page"
// @Param limit query int false "Page size" default(100)
// @Success 200 {object} IndexQueryResponse "One page of results"
// @Failure 400 {object} ErrorResponse "Invalid parameters"
// @Failure 404 {object} ErrorResponse "Unknown type or index"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /entities/{type}/indexes/{index} [get]
func (h *Handler) QueryIndex(w http.ResponseWriter, r *http.Request) {
	entityType, index := r.PathValue("type"), r.PathValue("index")

	query, limit, err := h.parseIndexQuery(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid query parameters: %v", err))
		return
	}

	rd := h.readers()
	it, err := rd.GetEntitiesByIndex(r.Context(), entityType, index, query)
	if err != nil {
		h.respondReadError(w, err)
		return
	}

	// one extra value tells whether another page exists
	values, err := reader.Collect(r.Context(), it, limit+1)
	if err != nil {
		h.respondReadError(w, err)
		return
	}

	response := IndexQueryResponse{
		Items: make([]IndexedEntity, 0, min(len(values), limit)),
		Block: toBlockResponse(rd.LatestBlock()),
	}
	if len(values) > limit {
		response.HasMore = true
		if query.ExactKey == nil {
			next := values[limit].StartingKey()
			response.NextStartingKey = &next
		}
		values = values[:limit]
	}

	for _, v := range values {
		response.Items = append(response.Items, IndexedEntity{ID: v.EntityID, IndexKey: v.IndexKey, Value: v.Value})
	}

	respondJSON(w, http.StatusOK, response)
}

func (h *Handler) parseIndexQuery(r *http.Request) (reader.IndexQuery, int, error) {
	params := r.URL.Query()
	limit := defaultPageSize

	if limitStr := params.Get("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil || l < 1 || l > h.maxPageSize {
			return reader.IndexQuery{}, 0, fmt.Errorf("invalid limit: must be between 1 and %d", h.maxPageSize)
		}
		limit = l
	}
	limit = min(limit, h.maxPageSize)

	startingKey := params.Get("starting_key")
	if params.Has("exact_key") {
		if startingKey != "" {
			return reader.IndexQuery{}, 0, errors.New("exact_key and starting_key are mutually exclusive")
		}
		return reader.Exact(params.Get("exact_key")), limit, nil
	}

	return reader.From(startingKey), limit, nil
}

func (h *Handler) respondReadError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, serde.ErrUnknownEntity), errors.Is(err, serde.ErrUnknownIndex):
		respondError(w, http.StatusNotFound, err.Error())
	default:
		h.log.Errorf("failed to read entities: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to read entities")
	}
}

func toBlockResponse(b lineage.BlockIdentifier) BlockResponse {
	return BlockResponse{Number: b.Number, Hash: b.Hash.Hex()}
}

// respondJSON sends a JSON response. The body is encoded before the status
// is written so that an encoding failure can still become a 500.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")

	encoded, err := json.Marshal(data)
	if err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(status)
	_, _ = w.Write(encoded)
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Code:    status,
	})
}
