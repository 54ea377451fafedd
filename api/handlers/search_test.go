package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/searchflow/rag"
	"github.com/BaSui01/searchflow/types"
)

// =============================================================================
// 🧪 Test doubles
// =============================================================================

type fakeSearcher struct {
	got   rag.SearchRequest
	calls int
	resp  *rag.SearchResponse
	err   error
	stats rag.EngineStats
}

func (f *fakeSearcher) Search(ctx context.Context, req rag.SearchRequest) (*rag.SearchResponse, error) {
	f.calls++
	f.got = req
	return f.resp, f.err
}

func (f *fakeSearcher) Stats() rag.EngineStats { return f.stats }

func postSearch(h *SearchHandler, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/search", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	h.HandleSearch(w, r)
	return w
}

// =============================================================================
// 🧪 SearchHandler
// =============================================================================

func TestSearchHandler_HandleSearch(t *testing.T) {
	rationale := "covers hooks"
	searcher := &fakeSearcher{resp: &rag.SearchResponse{
		Items: []rag.ResultItem{{ID: "1", Score: 0.9, Content: "Use hooks", Source: "react-docs", Rationale: &rationale, Origin: rag.OriginMerged}},
		Total: 1,
	}}
	h := NewSearchHandler(searcher, zap.NewNop())

	w := postSearch(h, `{"query":"react hooks","top_k":5,"filters":{"category":"framework"},"module":"ui"}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "react hooks", searcher.got.Query)
	assert.Equal(t, 5, searcher.got.TopK)
	assert.Equal(t, rag.Filters{"category": {"framework"}}, searcher.got.Filters)
	assert.True(t, searcher.got.IncludeRationale)
	assert.Equal(t, "ui", searcher.got.Module)

	var resp struct {
		Success bool               `json:"success"`
		Data    rag.SearchResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Success)
	require.Len(t, resp.Data.Items, 1)
	assert.Equal(t, "react-docs", resp.Data.Items[0].Source)
	require.NotNil(t, resp.Data.Items[0].Rationale)
	assert.Equal(t, rationale, *resp.Data.Items[0].Rationale)
}

func TestSearchHandler_QueryResponseIsEnvelopeData(t *testing.T) {
	searcher := &fakeSearcher{resp: &rag.SearchResponse{
		Items: []rag.ResultItem{{ID: "1", Score: 0.9, Content: "Use hooks", Source: "react-docs"}},
		Total: 1,
	}}
	w := postSearch(NewSearchHandler(searcher, zap.NewNop()), `{"query":"react hooks"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var raw map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(w.Body).Decode(&raw))
	assert.Contains(t, raw, "success")
	assert.Contains(t, raw, "timestamp")
	assert.NotContains(t, raw, "items", "query fields live under data")

	var data map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw["data"], &data))
	for _, key := range []string{"items", "total", "search_time_ms", "cached", "search_stats"} {
		assert.Contains(t, data, key)
	}

	var stats map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data["search_stats"], &stats))
	assert.Contains(t, stats, "vector_results")
	assert.Contains(t, stats, "text_results")
	assert.Contains(t, stats, "access_control")
}

func TestSearchHandler_RationaleOptOut(t *testing.T) {
	searcher := &fakeSearcher{resp: &rag.SearchResponse{}}
	h := NewSearchHandler(searcher, zap.NewNop())

	w := postSearch(h, `{"query":"docker","include_rationale":false}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, searcher.got.IncludeRationale)
}

func TestSearchHandler_RejectsBadRequests(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		contentType string
		wantCode    string
	}{
		{name: "wrong content type", body: `{"query":"x"}`, contentType: "text/plain", wantCode: string(types.ErrInvalidRequest)},
		{name: "malformed json", body: `{"query":`, contentType: "application/json", wantCode: string(types.ErrInvalidRequest)},
		{name: "unknown field", body: `{"query":"x","limit":3}`, contentType: "application/json", wantCode: string(types.ErrInvalidRequest)},
		{name: "negative top_k", body: `{"query":"x","top_k":-1}`, contentType: "application/json", wantCode: string(types.ErrInvalidRequest)},
		{name: "bad filter value", body: `{"query":"x","filters":{"category":1}}`, contentType: "application/json", wantCode: string(types.ErrInvalidRequest)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			searcher := &fakeSearcher{}
			h := NewSearchHandler(searcher, zap.NewNop())

			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/api/v1/search", strings.NewReader(tt.body))
			r.Header.Set("Content-Type", tt.contentType)
			h.HandleSearch(w, r)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			var resp Response
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.Equal(t, tt.wantCode, resp.Error.Code)
			assert.Zero(t, searcher.calls)
		})
	}
}

func TestSearchHandler_EngineErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   types.ErrorCode
	}{
		{name: "empty query", err: types.NewEmptyQueryError(), wantStatus: http.StatusBadRequest, wantCode: types.ErrEmptyQuery},
		{name: "deadline", err: context.DeadlineExceeded, wantStatus: http.StatusGatewayTimeout, wantCode: types.ErrUpstreamTimeout},
		{name: "internal", err: assert.AnError, wantStatus: http.StatusInternalServerError, wantCode: types.ErrInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewSearchHandler(&fakeSearcher{err: tt.err}, zap.NewNop())

			w := postSearch(h, `{"query":"   "}`)

			assert.Equal(t, tt.wantStatus, w.Code)
			var resp Response
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.Equal(t, string(tt.wantCode), resp.Error.Code)
		})
	}
}

func TestSearchHandler_ClientCancelled(t *testing.T) {
	h := NewSearchHandler(&fakeSearcher{err: context.Canceled}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/search", strings.NewReader(`{"query":"x"}`)).WithContext(ctx)
	r.Header.Set("Content-Type", "application/json")
	h.HandleSearch(w, r)

	assert.Zero(t, w.Body.Len())
}

func TestSearchHandler_HandleStats(t *testing.T) {
	searcher := &fakeSearcher{stats: rag.EngineStats{
		TotalSearches: 4,
		CacheHits:     1,
		CacheHitRate:  0.25,
		TopQueries:    []rag.QueryCount{{Query: "react hooks", Count: 3}},
	}}
	h := NewSearchHandler(searcher, zap.NewNop())

	w := httptest.NewRecorder()
	h.HandleStats(w, httptest.NewRequest(http.MethodGet, "/api/v1/search/stats", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data rag.EngineStats `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, int64(4), resp.Data.TotalSearches)
	assert.Equal(t, 0.25, resp.Data.CacheHitRate)
	require.Len(t, resp.Data.TopQueries, 1)
	assert.Equal(t, "react hooks", resp.Data.TopQueries[0].Query)
}
