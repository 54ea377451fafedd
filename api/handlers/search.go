package handlers

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/searchflow/api"
	"github.com/BaSui01/searchflow/rag"
	"github.com/BaSui01/searchflow/types"
)

var errCorpusEmpty = errors.New("corpus is empty")

// Searcher runs searches; *rag.Engine satisfies it.
type Searcher interface {
	Search(ctx context.Context, req rag.SearchRequest) (*rag.SearchResponse, error)
	Stats() rag.EngineStats
}

// =============================================================================
// 🔍 Search handler
// =============================================================================

// SearchHandler serves the query API.
type SearchHandler struct {
	searcher Searcher
	logger   *zap.Logger
}

// NewSearchHandler creates a handler over searcher.
func NewSearchHandler(searcher Searcher, logger *zap.Logger) *SearchHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SearchHandler{
		searcher: searcher,
		logger:   logger.With(zap.String("handler", "search")),
	}
}

// HandleSearch serves POST /api/v1/search.
func (h *SearchHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var body api.SearchRequest
	if err := DecodeJSONBody(w, r, &body, h.logger); err != nil {
		return
	}
	if body.TopK < 0 {
		WriteError(w, types.NewInvalidRequestError("top_k must not be negative"), h.logger)
		return
	}

	resp, err := h.searcher.Search(r.Context(), body.ToEngineRequest())
	if err != nil {
		h.writeSearchError(w, r, err)
		return
	}
	WriteSuccess(w, resp)
}

func (h *SearchHandler) writeSearchError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, context.Canceled) && r.Context().Err() != nil:
		// The client is gone; nothing useful can be written.
		h.logger.Debug("search cancelled by client")
	case errors.Is(err, context.DeadlineExceeded):
		WriteError(w, types.NewError(types.ErrUpstreamTimeout, "search timed out").WithCause(err), h.logger)
	default:
		WriteAnyError(w, err, h.logger)
	}
}

// HandleStats serves GET /api/v1/search/stats.
func (h *SearchHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, h.searcher.Stats())
}
