package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/searchflow/api"
	"github.com/BaSui01/searchflow/types"
)

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

// =============================================================================
// 🧪 Envelope
// =============================================================================

func TestWriteSuccess_Envelope(t *testing.T) {
	w := httptest.NewRecorder()
	w.Header().Set("X-Request-ID", "req-42")

	WriteSuccess(w, map[string]int{"total_searches": 7})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))

	resp := decodeEnvelope(t, w)
	assert.True(t, resp.Success)
	assert.Nil(t, resp.Error)
	assert.Equal(t, "req-42", resp.RequestID)
	assert.False(t, resp.Timestamp.IsZero())
	assert.Equal(t, map[string]any{"total_searches": float64(7)}, resp.Data)
}

func TestWriteError_StatusFromErrorOrCode(t *testing.T) {
	tests := []struct {
		name       string
		err        *types.Error
		wantStatus int
		retryable  bool
	}{
		{"empty query carries 400", types.NewEmptyQueryError(), http.StatusBadRequest, false},
		{"explicit status wins", types.NewError(types.ErrNotFound, "no snapshot").WithHTTPStatus(http.StatusConflict), http.StatusConflict, false},
		{"retriever outage", types.NewRetrieverUnavailableError("vector", assert.AnError), http.StatusServiceUnavailable, true},
		{"judge timeout", types.NewError(types.ErrUpstreamTimeout, "judge timed out"), http.StatusGatewayTimeout, false},
		{"rate limited", types.NewError(types.ErrRateLimited, "slow down"), http.StatusTooManyRequests, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, tt.err, zap.NewNop())

			assert.Equal(t, tt.wantStatus, w.Code)
			resp := decodeEnvelope(t, w)
			assert.False(t, resp.Success)
			assert.Nil(t, resp.Data)
			require.NotNil(t, resp.Error)
			assert.Equal(t, string(tt.err.Code), resp.Error.Code)
			assert.Equal(t, tt.retryable, resp.Error.Retryable)
		})
	}
}

func TestWriteError_CauseStaysInLogs(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, types.NewCacheUnavailableError(assert.AnError), nil)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.NotContains(t, w.Body.String(), assert.AnError.Error())
}

func TestWriteAnyError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteAnyError(w, types.NewInvalidRequestError("top_k must be positive"), zap.NewNop())
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "top_k must be positive", decodeEnvelope(t, w).Error.Message)

	w = httptest.NewRecorder()
	WriteAnyError(w, assert.AnError, zap.NewNop())
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, string(types.ErrInternalError), decodeEnvelope(t, w).Error.Code)
}

func TestMapErrorCodeToHTTPStatus(t *testing.T) {
	tests := map[types.ErrorCode]int{
		types.ErrInvalidRequest:       http.StatusBadRequest,
		types.ErrEmptyQuery:           http.StatusBadRequest,
		types.ErrUnauthorized:         http.StatusUnauthorized,
		types.ErrForbidden:            http.StatusForbidden,
		types.ErrNotFound:             http.StatusNotFound,
		types.ErrRateLimited:          http.StatusTooManyRequests,
		types.ErrUpstreamTimeout:      http.StatusGatewayTimeout,
		types.ErrUpstreamError:        http.StatusBadGateway,
		types.ErrRetrieverUnavailable: http.StatusServiceUnavailable,
		types.ErrJudgmentUnavailable:  http.StatusServiceUnavailable,
		types.ErrCacheUnavailable:     http.StatusServiceUnavailable,
		types.ErrServiceUnavailable:   http.StatusServiceUnavailable,
		types.ErrInternalError:        http.StatusInternalServerError,
		"SOMETHING_NEW":               http.StatusInternalServerError,
	}
	for code, want := range tests {
		assert.Equal(t, want, mapErrorCodeToHTTPStatus(code), code)
	}
}

// =============================================================================
// 🧪 Request validation
// =============================================================================

func TestDecodeJSONBody_SearchRequest(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{name: "valid", body: `{"query":"react hooks","top_k":3,"filters":{"category":["react","nextjs"]}}`},
		{name: "malformed", body: `{"query":"react",}`, wantErr: "invalid JSON body"},
		{name: "unknown field", body: `{"query":"react","limit":3}`, wantErr: "invalid JSON body"},
		{name: "empty", body: "", wantErr: "request body is empty"},
		{name: "too large", body: `{"query":"` + strings.Repeat("x", 2<<20) + `"}`, wantErr: "request body too large"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/api/v1/search", nil)
			if tt.body != "" {
				r = httptest.NewRequest(http.MethodPost, "/api/v1/search", strings.NewReader(tt.body))
			}

			var req api.SearchRequest
			err := DecodeJSONBody(w, r, &req, zap.NewNop())

			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.Equal(t, "react hooks", req.Query)
				assert.Equal(t, 3, req.TopK)
				return
			}
			require.Error(t, err)
			assert.True(t, types.IsValidation(err))
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.wantErr, decodeEnvelope(t, w).Error.Message)
		})
	}
}

func TestValidateContentType(t *testing.T) {
	tests := map[string]bool{
		"application/json":                true,
		"application/json; charset=utf-8": true,
		"application/json; charset=UTF-8": true,
		"text/plain":                      false,
		"multipart/form-data":             false,
		"":                                false,
	}
	for ct, want := range tests {
		r := httptest.NewRequest(http.MethodPost, "/api/v1/search", nil)
		r.Header.Set("Content-Type", ct)
		w := httptest.NewRecorder()

		assert.Equal(t, want, ValidateContentType(w, r, nil), ct)
		if !want {
			assert.Equal(t, http.StatusBadRequest, w.Code)
		}
	}
}

// =============================================================================
// 🧪 ResponseWriter
// =============================================================================

func TestResponseWriter_FirstStatusWins(t *testing.T) {
	rw := NewResponseWriter(httptest.NewRecorder())
	assert.Equal(t, http.StatusOK, rw.StatusCode)

	rw.WriteHeader(http.StatusAccepted)
	rw.WriteHeader(http.StatusBadRequest)
	assert.Equal(t, http.StatusAccepted, rw.StatusCode)

	n, err := rw.Write([]byte("ok"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestResponseWriter_ImplicitOK(t *testing.T) {
	rw := NewResponseWriter(httptest.NewRecorder())
	_, _ = rw.Write([]byte("body"))
	assert.True(t, rw.Written)
	assert.Equal(t, http.StatusOK, rw.StatusCode)
}
